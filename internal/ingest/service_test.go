package ingest

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klee/careerfly/internal/db"
	"github.com/klee/careerfly/internal/models"
	"github.com/klee/careerfly/internal/notify"
)

// 2024-06-12 is a Wednesday.
var wednesday = time.Date(2024, 6, 12, 15, 30, 0, 0, time.UTC)

func setupService(t *testing.T) (*Service, *db.Repository, *notify.Hub) {
	t.Helper()
	database, err := db.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.NewMigrator(database.DB).Up())

	repo := db.NewRepository(database.DB)
	hub := notify.NewHub()
	svc := NewService(repo, hub, nil).WithClock(func() time.Time { return wednesday })
	return svc, repo, hub
}

func docContent(text string) models.Content {
	body := fmt.Sprintf(`{"type":"doc","content":[{"type":"paragraph","content":[{"type":"text","text":%s}]}]}`,
		mustJSON(text))
	return models.Content{Format: models.FormatTiptapJSON, Body: json.RawMessage(body)}
}

func mustJSON(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func TestIngestFullPipeline(t *testing.T) {
	svc, repo, _ := setupService(t)

	entry, err := svc.Ingest(Request{
		UserID:     "guest",
		Content:    docContent("Yesterday: fixed the build #ci PROJ-9 @quality"),
		Impact:     models.ImpactHigh,
		IsMajorWin: true,
	})
	require.NoError(t, err)

	assert.Equal(t, "2024-06-11", entry.DateISO.Format("2006-01-02"))
	assert.ElementsMatch(t, []string{"ci"}, entry.Tags)
	assert.Equal(t, []string{"Quality"}, entry.Metadata.PerformanceCategories)
	assert.Equal(t, models.ImpactHigh, entry.Metadata.Impact)
	assert.True(t, entry.Metadata.IsMajorWin)
	assert.False(t, entry.SyncState.IsSynced)
	assert.Equal(t, "fixed the build #ci PROJ-9 @quality", entry.Content.PlainTextSnippet)

	require.Len(t, entry.ExternalTickets, 1)
	ticket, err := repo.GetTicketByKey("guest", "PROJ-9")
	require.NoError(t, err)
	assert.Equal(t, int64(1), ticket.TotalLogCount)
	assert.Equal(t, "2024-06-11", ticket.LastWorkedOn.Format("2006-01-02"))

	tag, err := repo.GetTagByLabel("guest", "ci")
	require.NoError(t, err)
	assert.Equal(t, int64(1), tag.UsageCount)
}

func TestIngestExplicitDateBeatsDirective(t *testing.T) {
	svc, _, _ := setupService(t)

	chosen := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	entry, err := svc.Ingest(Request{
		UserID:       "guest",
		Content:      docContent("Yesterday: backdated by hand"),
		ExplicitDate: &chosen,
	})
	require.NoError(t, err)
	assert.Equal(t, "2024-05-01", entry.DateISO.Format("2006-01-02"))
}

func TestIngestDefaultsImpactToMedium(t *testing.T) {
	svc, _, _ := setupService(t)

	entry, err := svc.Ingest(Request{
		UserID:  "guest",
		Content: docContent("no impact chosen"),
	})
	require.NoError(t, err)
	assert.Equal(t, models.ImpactMedium, entry.Metadata.Impact)
	assert.Equal(t, wednesday, entry.DateISO)
}

func TestIngestRejectsInvalidImpact(t *testing.T) {
	svc, _, _ := setupService(t)

	_, err := svc.Ingest(Request{
		UserID:  "guest",
		Content: docContent("x"),
		Impact:  models.Impact("critical"),
	})
	assert.Error(t, err)
}

func TestIngestPublishesChange(t *testing.T) {
	svc, _, hub := setupService(t)

	var changes []notify.Change
	unsubscribe := hub.Subscribe(func(c notify.Change) { changes = append(changes, c) })
	defer unsubscribe()

	entry, err := svc.Ingest(Request{UserID: "guest", Content: docContent("hello")})
	require.NoError(t, err)

	require.Len(t, changes, 1)
	assert.Equal(t, notify.OpCreated, changes[0].Op)
	assert.Equal(t, string(entry.ID), changes[0].ID)
	assert.Equal(t, "logs", changes[0].Collection)
}

func TestDeletePublishesChange(t *testing.T) {
	svc, repo, hub := setupService(t)

	entry, err := svc.Ingest(Request{UserID: "guest", Content: docContent("to delete")})
	require.NoError(t, err)

	var deleted []notify.Change
	unsubscribe := hub.Subscribe(func(c notify.Change) { deleted = append(deleted, c) })
	defer unsubscribe()

	require.NoError(t, svc.Delete("guest", entry.ID))
	require.Len(t, deleted, 1)
	assert.Equal(t, notify.OpDeleted, deleted[0].Op)

	logs, err := repo.ListLogs("guest")
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestToggleStar(t *testing.T) {
	svc, repo, _ := setupService(t)

	entry, err := svc.Ingest(Request{UserID: "guest", Content: docContent("win")})
	require.NoError(t, err)

	require.NoError(t, svc.ToggleStar("guest", entry.ID, true))
	got, err := repo.GetLog(entry.ID)
	require.NoError(t, err)
	assert.True(t, got.Metadata.IsStarred)
	assert.False(t, got.SyncState.IsSynced)
}

func TestUpdateContentDoesNotReextract(t *testing.T) {
	svc, repo, _ := setupService(t)

	entry, err := svc.Ingest(Request{UserID: "guest", Content: docContent("first #original")})
	require.NoError(t, err)

	require.NoError(t, svc.UpdateContent("guest", entry.ID, docContent("rewritten #newtag ZZZ-1")))

	got, err := repo.GetLog(entry.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"original"}, got.Tags)
	assert.Empty(t, got.ExternalTickets)
	assert.Contains(t, string(got.Content.Body), "rewritten")
}
