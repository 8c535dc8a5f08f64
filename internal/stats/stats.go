// Package stats derives dashboard aggregations from the log collection.
package stats

import (
	"sort"
	"strings"
	"sync"

	"github.com/klee/careerfly/internal/db"
	"github.com/klee/careerfly/internal/models"
	"github.com/klee/careerfly/internal/notify"
)

// TopSkillCount bounds the ranked skill list.
const TopSkillCount = 5

// managerModeExcluded names tags whose entries are hidden when preparing
// numbers to share upward.
var managerModeExcluded = map[string]bool{
	"private": true,
	"venting": true,
}

// SkillCount is one ranked tag.
type SkillCount struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// Snapshot is one consistent view of the dashboard numbers.
type Snapshot struct {
	TotalLogs          int                      `json:"totalLogs"`
	MajorWins          int                      `json:"majorWins"`
	TagCounts          map[string]int           `json:"tagCounts"`
	TopSkills          []SkillCount             `json:"topSkills"`
	CategoryCounts     map[string]int           `json:"categoryCounts"`
	ImpactDistribution map[models.Impact]float64 `json:"impactDistribution"`
	// ActivityHeatmap counts entries per effective date, keyed YYYY-MM-DD.
	ActivityHeatmap map[string]int           `json:"activityHeatmap"`
	ActiveTickets   []*models.ExternalTicket `json:"activeTickets"`
}

// Engine computes snapshots lazily and caches them until a store change
// invalidates the cache via the hub.
type Engine struct {
	repo *db.Repository

	mu    sync.Mutex
	cache map[cacheKey]*Snapshot

	unsubscribe func()
}

type cacheKey struct {
	userID      string
	managerMode bool
}

// NewEngine creates an aggregation engine subscribed to the change hub.
func NewEngine(repo *db.Repository, hub *notify.Hub) *Engine {
	e := &Engine{
		repo:  repo,
		cache: make(map[cacheKey]*Snapshot),
	}
	e.unsubscribe = hub.Subscribe(func(change notify.Change) {
		e.Invalidate(change.UserID)
	})
	return e
}

// Close detaches the engine from the change hub.
func (e *Engine) Close() {
	if e.unsubscribe != nil {
		e.unsubscribe()
	}
}

// Invalidate drops any cached snapshots for the user. The next read
// recomputes from the store.
func (e *Engine) Invalidate(userID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.cache, cacheKey{userID: userID, managerMode: false})
	delete(e.cache, cacheKey{userID: userID, managerMode: true})
}

// Snapshot returns the user's dashboard numbers, recomputing only when the
// collection changed since the last read. managerMode drops entries tagged
// private or venting before aggregating.
func (e *Engine) Snapshot(userID string, managerMode bool) (*Snapshot, error) {
	key := cacheKey{userID: userID, managerMode: managerMode}

	e.mu.Lock()
	if snap, ok := e.cache[key]; ok {
		e.mu.Unlock()
		return snap, nil
	}
	e.mu.Unlock()

	logs, err := e.repo.ListLogs(userID)
	if err != nil {
		return nil, err
	}
	tickets, err := e.repo.ActiveTickets(userID)
	if err != nil {
		return nil, err
	}

	snap := Compute(logs, tickets, managerMode)

	e.mu.Lock()
	e.cache[key] = snap
	e.mu.Unlock()
	return snap, nil
}

// Compute aggregates a snapshot from loaded records. Pure; exposed for
// direct testing.
func Compute(logs []*models.LogEntry, tickets []*models.ExternalTicket, managerMode bool) *Snapshot {
	if managerMode {
		logs = filterShareable(logs)
	}

	snap := &Snapshot{
		TotalLogs:      len(logs),
		TagCounts:      make(map[string]int),
		CategoryCounts: make(map[string]int),
		ImpactDistribution: map[models.Impact]float64{
			models.ImpactLow:    0,
			models.ImpactMedium: 0,
			models.ImpactHigh:   0,
		},
		ActivityHeatmap: make(map[string]int),
		ActiveTickets:   tickets,
	}

	impactCounts := make(map[models.Impact]int)
	for _, log := range logs {
		if log.Metadata.IsMajorWin {
			snap.MajorWins++
		}
		for _, tag := range log.Tags {
			snap.TagCounts[tag]++
		}
		for _, category := range log.Metadata.PerformanceCategories {
			snap.CategoryCounts[category]++
		}
		impactCounts[log.Metadata.Impact]++
		snap.ActivityHeatmap[log.DateISO.UTC().Format("2006-01-02")]++
	}

	if len(logs) > 0 {
		total := float64(len(logs))
		for impact, count := range impactCounts {
			snap.ImpactDistribution[impact] = float64(count) / total
		}
	}

	snap.TopSkills = rankSkills(snap.TagCounts)
	return snap
}

func filterShareable(logs []*models.LogEntry) []*models.LogEntry {
	shareable := make([]*models.LogEntry, 0, len(logs))
	for _, log := range logs {
		if !hasExcludedTag(log) {
			shareable = append(shareable, log)
		}
	}
	return shareable
}

func hasExcludedTag(log *models.LogEntry) bool {
	for _, tag := range log.Tags {
		if managerModeExcluded[strings.ToLower(tag)] {
			return true
		}
	}
	return false
}

// rankSkills orders tags by count descending, label ascending on ties for a
// deterministic dashboard, and keeps the top five.
func rankSkills(counts map[string]int) []SkillCount {
	ranked := make([]SkillCount, 0, len(counts))
	for label, count := range counts {
		ranked = append(ranked, SkillCount{Label: label, Count: count})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].Label < ranked[j].Label
	})
	if len(ranked) > TopSkillCount {
		ranked = ranked[:TopSkillCount]
	}
	return ranked
}
