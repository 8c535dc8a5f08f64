// Package main provides the CareerFly core server for desktop platforms.
// Desktop clients communicate via REST/WebSocket on localhost.
package main

import (
	"context"
	"log"
	"net/http"
	"os"

	"github.com/klee/careerfly/internal/config"
	"github.com/klee/careerfly/internal/db"
	"github.com/klee/careerfly/internal/export"
	"github.com/klee/careerfly/internal/ingest"
	"github.com/klee/careerfly/internal/logging"
	"github.com/klee/careerfly/internal/notify"
	"github.com/klee/careerfly/internal/stats"
	syncengine "github.com/klee/careerfly/internal/sync"
	"github.com/klee/careerfly/internal/sync/couch"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logging.Init(os.Stdout, logging.ParseLevel(cfg.LogLevel))
	logger := logging.Get()

	database, err := db.Open(cfg.DataDir)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close()

	if err := db.NewMigrator(database.DB).Up(); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	repo := db.NewRepository(database.DB)
	hub := notify.NewHub()
	statsEngine := stats.NewEngine(repo, hub)
	defer statsEngine.Close()

	var engine *syncengine.Engine
	if cfg.SyncEnabled {
		remote, err := couch.NewStore(cfg.RemoteURL)
		if err != nil {
			log.Fatalf("Failed to connect to remote store: %v", err)
		}
		engine = syncengine.NewEngine(repo, remote, hub, cfg.UserID, cfg.SyncPushTimeout)
		if err := engine.Start(context.Background()); err != nil {
			// Sync is advisory; the app stays fully usable offline.
			logger.Warn("sync session failed to start", map[string]interface{}{"error": err.Error()})
		} else {
			defer engine.Stop()
		}
	}

	var pusher ingest.Pusher
	if engine != nil {
		pusher = engine
	}
	ingestSvc := ingest.NewService(repo, hub, pusher)
	exportSvc := export.NewService(repo)

	wsHub := NewWSHub()
	bridgeStoreEvents(hub, wsHub)

	server := &Server{
		cfg:    cfg,
		repo:   repo,
		ingest: ingestSvc,
		stats:  statsEngine,
		export: exportSvc,
		engine: engine,
		wsHub:  wsHub,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", server.handleHealth)
	mux.HandleFunc("/api/logs", server.handleLogs)
	mux.HandleFunc("/api/logs/", server.handleLogByID)
	mux.HandleFunc("/api/stats", server.handleStats)
	mux.HandleFunc("/api/export", server.handleExport)
	mux.HandleFunc("/api/sync/status", server.handleSyncStatus)
	mux.HandleFunc("/api/sync/retry", server.handleSyncRetry)
	mux.HandleFunc("/api/reset", server.handleReset)
	mux.HandleFunc("/ws", HandleWebSocket(wsHub))

	logger.Info("CareerFly desktop server starting", map[string]interface{}{"addr": cfg.BridgeAddr})
	log.Fatal(http.ListenAndServe(cfg.BridgeAddr, mux))
}

// bridgeStoreEvents relays change-hub notifications onto the WebSocket hub
// so desktop clients can refresh without polling.
func bridgeStoreEvents(hub *notify.Hub, wsHub *WSHub) {
	hub.Subscribe(func(change notify.Change) {
		var event string
		switch change.Op {
		case notify.OpCreated:
			event = EventLogCreated
		case notify.OpDeleted:
			event = EventLogDeleted
		default:
			event = EventLogUpdated
		}
		wsHub.Broadcast(event, map[string]interface{}{
			"collection": change.Collection,
			"id":         change.ID,
		})
	})
}
