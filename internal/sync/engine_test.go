package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klee/careerfly/internal/db"
	"github.com/klee/careerfly/internal/models"
	"github.com/klee/careerfly/internal/notify"
)

// fakeRemote is an in-memory RemoteStore with a controllable feed.
type fakeRemote struct {
	mu      sync.Mutex
	docs    map[string]RemoteLog
	feed    chan RemoteLog
	failPut bool
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		docs: make(map[string]RemoteLog),
		feed: make(chan RemoteLog, 16),
	}
}

func (f *fakeRemote) FetchAll(ctx context.Context, userID string) ([]RemoteLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]RemoteLog, 0, len(f.docs))
	for _, doc := range f.docs {
		out = append(out, doc)
	}
	return out, nil
}

func (f *fakeRemote) Put(ctx context.Context, userID string, doc RemoteLog) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPut {
		return 0, errors.New("remote unavailable")
	}
	f.docs[string(doc.Log.ID)] = doc
	return doc.UpdatedAt, nil
}

func (f *fakeRemote) Watch(ctx context.Context, userID string) (<-chan RemoteLog, error) {
	return f.feed, nil
}

// echo re-delivers a stored doc through the feed, as the changes listener
// would after our own push.
func (f *fakeRemote) echo(id string) {
	f.mu.Lock()
	doc := f.docs[id]
	f.mu.Unlock()
	f.feed <- doc
}

func setupEngine(t *testing.T) (*Engine, *db.Repository, *fakeRemote) {
	t.Helper()
	database, err := db.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.NewMigrator(database.DB).Up())

	repo := db.NewRepository(database.DB)
	remote := newFakeRemote()
	engine := NewEngine(repo, remote, notify.NewHub(), "guest", time.Second)
	t.Cleanup(engine.Stop)
	return engine, repo, remote
}

func seedLog(t *testing.T, repo *db.Repository, modified time.Time) *models.LogEntry {
	t.Helper()
	entry := &models.LogEntry{
		ID:      models.UUID("11111111-1111-4111-8111-111111111111"),
		UserID:  "guest",
		DateISO: modified,
		Content: models.Content{
			Format:           models.FormatTiptapJSON,
			Body:             json.RawMessage(`{"type":"doc","content":[]}`),
			PlainTextSnippet: "seed",
		},
		Tags: []string{},
		Metadata: models.Metadata{
			Impact:                models.ImpactMedium,
			PerformanceCategories: []string{},
		},
		SyncState: models.SyncState{LastModified: modified.UnixMilli()},
		CreatedAt: modified,
	}
	require.NoError(t, repo.CreateLogEntry(entry, nil))
	return entry
}

func TestStartPushesUnsynced(t *testing.T) {
	engine, repo, remote := setupEngine(t)
	entry := seedLog(t, repo, time.Date(2024, 6, 12, 10, 0, 0, 0, time.UTC))

	require.NoError(t, engine.Start(context.Background()))
	assert.Equal(t, StateRunning, engine.State())

	remote.mu.Lock()
	_, pushed := remote.docs[string(entry.ID)]
	remote.mu.Unlock()
	assert.True(t, pushed, "unsynced log should be pushed at session start")

	got, err := repo.GetLog(entry.ID)
	require.NoError(t, err)
	assert.True(t, got.SyncState.IsSynced)
}

func TestStartIsIdempotent(t *testing.T) {
	engine, _, _ := setupEngine(t)

	require.NoError(t, engine.Start(context.Background()))
	require.NoError(t, engine.Start(context.Background()))
	assert.Equal(t, StateRunning, engine.State())

	engine.Stop()
	assert.Equal(t, StateStopped, engine.State())
	engine.Stop()
	assert.Equal(t, StateStopped, engine.State())
}

func TestConcurrentStartsLeaveSingleStoppableSession(t *testing.T) {
	engine, repo, remote := setupEngine(t)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, engine.Start(context.Background()))
		}()
	}
	wg.Wait()
	assert.Equal(t, StateRunning, engine.State())

	engine.Stop()
	assert.Equal(t, StateStopped, engine.State())
	assert.Equal(t, StatusIdle, engine.Status())

	// No listener may survive the Stop: a document arriving on the feed
	// must not reach the local store.
	orphan := models.LogEntry{
		ID:     models.UUID("33333333-3333-4333-8333-333333333333"),
		UserID: "guest",
		Content: models.Content{
			Format: models.FormatTiptapJSON,
			Body:   json.RawMessage(`{"type":"doc","content":[]}`),
		},
		Tags: []string{},
		Metadata: models.Metadata{
			Impact:                models.ImpactLow,
			PerformanceCategories: []string{},
		},
	}
	remote.feed <- RemoteLog{Log: orphan, UpdatedAt: 1717200000000}
	assert.Never(t, func() bool {
		_, err := repo.GetLog(orphan.ID)
		return err == nil
	}, 200*time.Millisecond, 20*time.Millisecond, "stopped engine must not merge feed documents")
}

func TestPushEchoRoundTripIsIdempotent(t *testing.T) {
	engine, repo, remote := setupEngine(t)
	entry := seedLog(t, repo, time.Date(2024, 6, 12, 10, 0, 0, 0, time.UTC))

	require.NoError(t, engine.Start(context.Background()))

	before, err := repo.GetLog(entry.ID)
	require.NoError(t, err)
	require.True(t, before.SyncState.IsSynced)

	// Simulate the remote listener delivering our own write back.
	remote.echo(string(entry.ID))
	require.Eventually(t, func() bool {
		after, err := repo.GetLog(entry.ID)
		return err == nil && after.SyncState.IsSynced
	}, time.Second, 10*time.Millisecond)

	after, err := repo.GetLog(entry.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after, "echo merge must not change the stored record")
}

func TestMergeRemoteNewerWins(t *testing.T) {
	engine, repo, _ := setupEngine(t)
	entry := seedLog(t, repo, time.Date(2024, 6, 12, 10, 0, 0, 0, time.UTC))

	newer := *entry
	newer.Content.PlainTextSnippet = "edited elsewhere"
	doc := RemoteLog{Log: newer, UpdatedAt: entry.SyncState.LastModified + 5000}

	require.NoError(t, engine.Merge(doc))

	got, err := repo.GetLog(entry.ID)
	require.NoError(t, err)
	assert.Equal(t, "edited elsewhere", got.Content.PlainTextSnippet)
	assert.True(t, got.SyncState.IsSynced)
	assert.Equal(t, doc.UpdatedAt, got.SyncState.LastModified)
}

func TestMergeLocalNewerKeepsLocal(t *testing.T) {
	engine, repo, _ := setupEngine(t)
	entry := seedLog(t, repo, time.Date(2024, 6, 12, 10, 0, 0, 0, time.UTC))

	stale := *entry
	stale.Content.PlainTextSnippet = "old remote copy"
	doc := RemoteLog{Log: stale, UpdatedAt: entry.SyncState.LastModified - 5000}

	require.NoError(t, engine.Merge(doc))

	got, err := repo.GetLog(entry.ID)
	require.NoError(t, err)
	assert.Equal(t, "seed", got.Content.PlainTextSnippet)
	assert.False(t, got.SyncState.IsSynced, "losing remote must leave the local record queued for push")
}

func TestMergeMissingLocalInserts(t *testing.T) {
	engine, repo, _ := setupEngine(t)

	incoming := models.LogEntry{
		ID:      models.UUID("22222222-2222-4222-8222-222222222222"),
		UserID:  "guest",
		DateISO: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		Content: models.Content{
			Format:           models.FormatTiptapJSON,
			Body:             json.RawMessage(`{"type":"doc","content":[]}`),
			PlainTextSnippet: "from another device",
		},
		Tags: []string{},
		Metadata: models.Metadata{
			Impact:                models.ImpactLow,
			PerformanceCategories: []string{},
		},
		CreatedAt: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, engine.Merge(RemoteLog{Log: incoming, UpdatedAt: 1717200000000}))

	got, err := repo.GetLog(incoming.ID)
	require.NoError(t, err)
	assert.True(t, got.SyncState.IsSynced)
	assert.Equal(t, "from another device", got.Content.PlainTextSnippet)
}

// A star toggle stamped strictly newer than an in-flight remote merge must
// survive the merge no matter how the two interleave.
func TestMergeRacingStarToggleKeepsNewerLocal(t *testing.T) {
	engine, repo, _ := setupEngine(t)
	base := time.Date(2024, 6, 12, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 20; i++ {
		entry := testMergeEntry(i, base)
		require.NoError(t, repo.CreateLogEntry(entry, nil))

		stale := *entry
		stale.Content.PlainTextSnippet = "remote copy"
		doc := RemoteLog{Log: stale, UpdatedAt: base.UnixMilli() + 1000}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, engine.Merge(doc))
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, repo.SetStarred(entry.ID, true, base.Add(5*time.Second)))
		}()
		wg.Wait()

		got, err := repo.GetLog(entry.ID)
		require.NoError(t, err)
		assert.True(t, got.Metadata.IsStarred, "newer star toggle must not be lost to the merge")
		assert.False(t, got.SyncState.IsSynced, "winning local record must stay queued for push")
		assert.Equal(t, base.Add(5*time.Second).UnixMilli(), got.SyncState.LastModified)
	}
}

func testMergeEntry(i int, modified time.Time) *models.LogEntry {
	id := models.UUID(fmt.Sprintf("44444444-4444-4444-8444-%012d", i))
	return &models.LogEntry{
		ID:      id,
		UserID:  "guest",
		DateISO: modified,
		Content: models.Content{
			Format:           models.FormatTiptapJSON,
			Body:             json.RawMessage(`{"type":"doc","content":[]}`),
			PlainTextSnippet: "seed",
		},
		Tags: []string{},
		Metadata: models.Metadata{
			Impact:                models.ImpactMedium,
			PerformanceCategories: []string{},
		},
		SyncState: models.SyncState{LastModified: modified.UnixMilli()},
		CreatedAt: modified,
	}
}

func TestPushFailureLeavesRecordUnsynced(t *testing.T) {
	engine, repo, remote := setupEngine(t)
	require.NoError(t, engine.Start(context.Background()))

	entry := seedLog(t, repo, time.Date(2024, 6, 12, 10, 0, 0, 0, time.UTC))
	remote.mu.Lock()
	remote.failPut = true
	remote.mu.Unlock()

	err := engine.PushLog(context.Background(), entry)
	assert.Error(t, err)
	assert.Equal(t, StatusError, engine.Status())

	got, err := repo.GetLog(entry.ID)
	require.NoError(t, err)
	assert.False(t, got.SyncState.IsSynced)
}

func TestPushRequiresRunningSession(t *testing.T) {
	engine, repo, _ := setupEngine(t)
	entry := seedLog(t, repo, time.Date(2024, 6, 12, 10, 0, 0, 0, time.UTC))

	err := engine.PushLog(context.Background(), entry)
	assert.Error(t, err)
}
