package sync

import (
	"context"
	"sync"
	"time"

	"github.com/klee/careerfly/internal/db"
	apperrors "github.com/klee/careerfly/internal/errors"
	"github.com/klee/careerfly/internal/logging"
	"github.com/klee/careerfly/internal/models"
	"github.com/klee/careerfly/internal/notify"
)

// State is the engine lifecycle. Transient sync failures never move the
// state machine; they only change the advisory Status.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
)

// Status is the advisory indicator shown to the user. It never blocks
// local operations.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusSyncing Status = "syncing"
	StatusError   Status = "error"
	StatusOffline Status = "offline"
)

// DefaultPushTimeout bounds a single push when no timeout is configured.
const DefaultPushTimeout = 10 * time.Second

// Engine is a per-user sync session over a RemoteStore.
type Engine struct {
	repo        *db.Repository
	remote      RemoteStore
	hub         *notify.Hub
	userID      string
	pushTimeout time.Duration
	logger      *logging.Logger

	// lifecycle serializes whole Start/Stop sequences so two callers can
	// never interleave teardown and setup of a session.
	lifecycle sync.Mutex

	mu     sync.Mutex
	state  State
	status Status
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine creates a stopped engine for one user's collection.
func NewEngine(repo *db.Repository, remote RemoteStore, hub *notify.Hub, userID string, pushTimeout time.Duration) *Engine {
	if pushTimeout <= 0 {
		pushTimeout = DefaultPushTimeout
	}
	return &Engine{
		repo:        repo,
		remote:      remote,
		hub:         hub,
		userID:      userID,
		pushTimeout: pushTimeout,
		logger:      logging.Get(),
		state:       StateStopped,
		status:      StatusIdle,
	}
}

// State returns the lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Status returns the advisory sync status.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Running reports whether a session is active.
func (e *Engine) Running() bool {
	return e.State() == StateRunning
}

func (e *Engine) setStatus(status Status) {
	e.mu.Lock()
	e.status = status
	e.mu.Unlock()
}

// Start brings up a session: an initial pull/merge of the whole remote
// collection, a push of everything unsynced, then a listener on the remote
// changes feed. Calling Start on a running engine restarts it cleanly;
// there is never a duplicate listener.
func (e *Engine) Start(ctx context.Context) error {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()
	e.stopSession()

	e.mu.Lock()
	e.state = StateStarting
	sessionCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.mu.Unlock()

	e.setStatus(StatusSyncing)
	if err := e.pullAll(sessionCtx); err != nil {
		e.setStatus(StatusOffline)
		e.mu.Lock()
		e.state = StateStopped
		e.cancel = nil
		e.mu.Unlock()
		cancel()
		return apperrors.Wrap(apperrors.ErrSyncPull, "initial pull failed", err)
	}
	e.pushUnsynced(sessionCtx)

	feed, err := e.remote.Watch(sessionCtx, e.userID)
	if err != nil {
		e.setStatus(StatusOffline)
		e.mu.Lock()
		e.state = StateStopped
		e.cancel = nil
		e.mu.Unlock()
		cancel()
		return apperrors.Wrap(apperrors.ErrSyncPull, "remote listener failed", err)
	}

	e.mu.Lock()
	e.state = StateRunning
	e.mu.Unlock()
	e.setStatus(StatusIdle)

	e.wg.Add(1)
	go e.listen(sessionCtx, feed)

	e.logger.Info("sync session started", map[string]interface{}{"user_id": e.userID})
	return nil
}

// Stop detaches the listener and releases session resources. Safe to call
// on a stopped engine.
func (e *Engine) Stop() {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()
	e.stopSession()
}

// stopSession tears down the current session. Callers hold e.lifecycle.
func (e *Engine) stopSession() {
	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.state = StateStopped
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.wg.Wait()
	e.setStatus(StatusIdle)
}

// RetrySync restarts the session and re-pushes everything unsynced. This
// is the manual recovery path after an error status.
func (e *Engine) RetrySync(ctx context.Context) error {
	if err := e.Start(ctx); err != nil {
		return err
	}
	e.pushUnsynced(ctx)
	return nil
}

// listen consumes the remote feed until the session ends. A dropped feed
// flips the status to offline but leaves local data fully usable.
func (e *Engine) listen(ctx context.Context, feed <-chan RemoteLog) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case doc, ok := <-feed:
			if !ok {
				if ctx.Err() == nil {
					e.setStatus(StatusOffline)
					e.logger.Warn("remote feed dropped", map[string]interface{}{"user_id": e.userID})
				}
				return
			}
			if err := e.Merge(doc); err != nil {
				e.setStatus(StatusError)
				e.logger.Error("merge failed", err, map[string]interface{}{"log_id": string(doc.Log.ID)})
			}
		}
	}
}

// Merge reconciles one remote-origin document into the local store.
//
// Policy: compare modification stamps; the strictly newer side wins, and
// the remote side wins an exact tie. A losing remote document changes
// nothing locally, and a local record that won stays unsynced so the next
// push sends it. Merging an unchanged echo of a pushed record is a no-op
// apart from rewriting identical values. The stamp compare and the write
// happen in one store transaction, so a local edit or star toggle racing
// the merge keeps its win.
func (e *Engine) Merge(doc RemoteLog) error {
	merged := doc.Log
	merged.SyncState.IsSynced = true
	merged.SyncState.LastModified = doc.UpdatedAt

	applied, existed, err := e.repo.MergeLog(&merged, doc.UpdatedAt)
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}

	op := notify.OpUpdated
	if !existed {
		op = notify.OpCreated
	}
	e.hub.Publish(notify.Change{
		Collection: "logs",
		Op:         op,
		ID:         string(merged.ID),
		UserID:     merged.UserID,
	})
	return nil
}

// PushLog sends one local record to the remote collection within the
// configured timeout and marks it synced on success. On failure the record
// stays unsynced and usable; the error is reported, not retried.
func (e *Engine) PushLog(ctx context.Context, log *models.LogEntry) error {
	if !e.Running() {
		return apperrors.New(apperrors.ErrSyncNotRunning, "no active sync session")
	}

	pushCtx, cancel := context.WithTimeout(ctx, e.pushTimeout)
	defer cancel()

	e.setStatus(StatusSyncing)
	doc := RemoteLog{Log: *log, UpdatedAt: log.SyncState.LastModified}
	if _, err := e.remote.Put(pushCtx, e.userID, doc); err != nil {
		e.setStatus(StatusError)
		return apperrors.Wrap(apperrors.ErrSyncPush, "push failed", err)
	}

	if err := e.repo.MarkLogSynced(log.ID, true); err != nil {
		e.setStatus(StatusError)
		return apperrors.Wrap(apperrors.ErrStoreOp, "failed to record push", err)
	}
	e.setStatus(StatusIdle)
	return nil
}

// PushAsync pushes without blocking the caller. Failures are logged; the
// record simply stays queued for the next retry. The goroutine registers
// under the state lock, so it can never race a Stop already waiting on the
// session to drain; once the state is stopped the push is skipped.
func (e *Engine) PushAsync(log *models.LogEntry) {
	e.mu.Lock()
	if e.state != StateRunning {
		e.mu.Unlock()
		return
	}
	e.wg.Add(1)
	e.mu.Unlock()

	entry := *log
	go func() {
		defer e.wg.Done()
		if err := e.PushLog(context.Background(), &entry); err != nil {
			e.logger.Warn("async push failed", map[string]interface{}{
				"log_id": string(entry.ID),
				"error":  err.Error(),
			})
		}
	}()
}

// pushUnsynced pushes every record still flagged local-only. Failures are
// logged per record and do not abort the sweep.
func (e *Engine) pushUnsynced(ctx context.Context) {
	logs, err := e.repo.UnsyncedLogs(e.userID)
	if err != nil {
		e.logger.Error("failed to load unsynced logs", err)
		return
	}
	for _, entry := range logs {
		pushCtx, cancel := context.WithTimeout(ctx, e.pushTimeout)
		doc := RemoteLog{Log: *entry, UpdatedAt: entry.SyncState.LastModified}
		if _, err := e.remote.Put(pushCtx, e.userID, doc); err != nil {
			cancel()
			e.logger.Warn("push failed, record stays unsynced", map[string]interface{}{
				"log_id": string(entry.ID),
				"error":  err.Error(),
			})
			continue
		}
		cancel()
		if err := e.repo.MarkLogSynced(entry.ID, true); err != nil {
			e.logger.Error("failed to record push", err, map[string]interface{}{"log_id": string(entry.ID)})
		}
	}
}

// pullAll merges the entire remote collection, used once at session start.
func (e *Engine) pullAll(ctx context.Context) error {
	docs, err := e.remote.FetchAll(ctx, e.userID)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		if err := e.Merge(doc); err != nil {
			return err
		}
	}
	return nil
}
