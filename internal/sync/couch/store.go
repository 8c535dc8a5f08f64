// Package couch implements the remote log collection on CouchDB.
package couch

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"

	"github.com/go-kivik/kivik/v4"
	_ "github.com/go-kivik/kivik/v4/couchdb"

	"github.com/klee/careerfly/internal/logging"
	"github.com/klee/careerfly/internal/models"
	"github.com/klee/careerfly/internal/sync"
)

// document is the CouchDB shape of one log. The id of the document is the
// log id, so a push is always an upsert of the same document.
type document struct {
	ID        string          `json:"_id"`
	Rev       string          `json:"_rev,omitempty"`
	Log       models.LogEntry `json:"log"`
	UpdatedAt int64           `json:"updatedAt"`
}

// Store is a sync.RemoteStore backed by one CouchDB database per user.
type Store struct {
	client *kivik.Client
	logger *logging.Logger
}

// NewStore connects to a CouchDB server.
func NewStore(url string) (*Store, error) {
	client, err := kivik.New("couch", url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to couchdb: %w", err)
	}
	return &Store{client: client, logger: logging.Get()}, nil
}

// dbName maps a user id onto a valid CouchDB database name. Hex encoding
// sidesteps the restricted character set for database names.
func dbName(userID string) string {
	return "userdb-" + hex.EncodeToString([]byte(userID))
}

// db returns the user's database, creating it on first use.
func (s *Store) db(ctx context.Context, userID string) (*kivik.DB, error) {
	name := dbName(userID)
	exists, err := s.client.DBExists(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to check database %s: %w", name, err)
	}
	if !exists {
		if err := s.client.CreateDB(ctx, name); err != nil {
			return nil, fmt.Errorf("failed to create database %s: %w", name, err)
		}
	}
	return s.client.DB(name), nil
}

// FetchAll returns every log document in the user's collection.
func (s *Store) FetchAll(ctx context.Context, userID string) ([]sync.RemoteLog, error) {
	db, err := s.db(ctx, userID)
	if err != nil {
		return nil, err
	}

	rows := db.AllDocs(ctx, kivik.Param("include_docs", true))
	defer rows.Close()

	var docs []sync.RemoteLog
	for rows.Next() {
		var doc document
		if err := rows.ScanDoc(&doc); err != nil {
			s.logger.Warn("skipping unreadable document", map[string]interface{}{"error": err.Error()})
			continue
		}
		docs = append(docs, sync.RemoteLog{Log: doc.Log, UpdatedAt: doc.UpdatedAt})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to fetch documents: %w", err)
	}
	return docs, nil
}

// Put upserts one log document as a full-document replace. The current
// revision, if any, is fetched first so the write supersedes it instead of
// conflicting. The modification stamp travels with the document rather than
// being derived from the CouchDB revision: revisions order writes to one
// document but carry no cross-device clock, while a writer-assigned stamp
// lets the pushing device recognize its own echo as a tie.
func (s *Store) Put(ctx context.Context, userID string, remote sync.RemoteLog) (int64, error) {
	db, err := s.db(ctx, userID)
	if err != nil {
		return 0, err
	}

	docID := string(remote.Log.ID)
	doc := document{
		ID:        docID,
		Log:       remote.Log,
		UpdatedAt: remote.UpdatedAt,
	}

	var existing document
	row := db.Get(ctx, docID)
	if err := row.ScanDoc(&existing); err == nil {
		doc.Rev = existing.Rev
	} else if kivik.HTTPStatus(err) != http.StatusNotFound {
		return 0, fmt.Errorf("failed to fetch current revision: %w", err)
	}

	if _, err := db.Put(ctx, docID, doc); err != nil {
		return 0, fmt.Errorf("failed to put document: %w", err)
	}
	return doc.UpdatedAt, nil
}

// Watch streams added and modified documents from the continuous changes
// feed. The channel closes when ctx ends or the feed drops.
func (s *Store) Watch(ctx context.Context, userID string) (<-chan sync.RemoteLog, error) {
	db, err := s.db(ctx, userID)
	if err != nil {
		return nil, err
	}

	changes := db.Changes(ctx,
		kivik.Param("feed", "continuous"),
		kivik.Param("include_docs", true),
		kivik.Param("since", "now"),
	)

	out := make(chan sync.RemoteLog)
	go func() {
		defer close(out)
		defer changes.Close()
		for changes.Next() {
			var doc document
			if err := changes.ScanDoc(&doc); err != nil {
				s.logger.Warn("skipping unreadable change", map[string]interface{}{"error": err.Error()})
				continue
			}
			select {
			case out <- sync.RemoteLog{Log: doc.Log, UpdatedAt: doc.UpdatedAt}:
			case <-ctx.Done():
				return
			}
		}
		if err := changes.Err(); err != nil && ctx.Err() == nil {
			s.logger.Warn("changes feed ended", map[string]interface{}{"error": err.Error()})
		}
	}()
	return out, nil
}
