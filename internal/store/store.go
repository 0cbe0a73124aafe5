// Package store is the storage collaborator of the materialization engine.
// It exposes exactly the four operations the engine needs: bulk existence
// lookup by natural key, bulk insert returning store-assigned ids, explicit
// commit, and rollback. The engine treats everything behind this interface
// as an opaque transactional service.
package store

import (
	"context"

	"github.com/agentic-research/strata/api"
)

// Row is one materialized row handed to the store. Identifier fields are
// always real store ids by the time a Row reaches the store; provisional
// identifiers never cross this boundary.
type Row struct {
	Family      api.Family
	OwnerID     string
	NaturalKey  string
	DocumentID  int64 // owning document, 0 only for document rows
	SectionID   int64 // owning section for block rows, 0 when none
	ParentID    int64 // same-table parent, 0 when none
	Code        string
	Kind        string
	Seq         int
	Title       string
	Body        string
	ContentHash string
	Attrs       map[string]string
}

// Edge is one resolved hierarchy edge. Both endpoints are real ids.
type Edge struct {
	Kind     string
	ParentID int64
	ChildID  int64
	Seq      int
}

// SectionScope is the owner scope of one persisted section row.
type SectionScope struct {
	OwnerID    string
	NaturalKey string
	DocumentID int64
}

// EdgePair keys edge existence lookups.
type EdgePair struct {
	ParentID int64
	ChildID  int64
}

// Store is the transactional row store. All reads observe rows inserted
// earlier in the same pending transaction; other connections observe
// nothing until Commit.
type Store interface {
	// LookupKeys returns the real id for every given natural key that
	// already has a row in the family's table, scoped to one owner.
	LookupKeys(ctx context.Context, family api.Family, ownerID string, keys []string) (map[string]int64, error)
	// InsertRows bulk-inserts rows and returns their store-assigned real
	// ids, index-aligned with the input.
	InsertRows(ctx context.Context, family api.Family, rows []Row) ([]int64, error)
	// LookupEdges reports which (parent, child) pairs already have an
	// edge of the given kind.
	LookupEdges(ctx context.Context, kind string, pairs []EdgePair) (map[EdgePair]bool, error)
	// InsertEdges bulk-inserts hierarchy edges.
	InsertEdges(ctx context.Context, edges []Edge) error
	// GetSection fetches the owner scope of a persisted section, used by
	// the narrow per-family materialization entry point.
	GetSection(ctx context.Context, id int64) (SectionScope, error)
	// GetRef looks up a shared reference entity by natural key.
	GetRef(ctx context.Context, kind, key string) (int64, bool, error)
	// UpsertRef creates-or-reuses a shared reference entity and returns
	// its id. The store's uniqueness constraint is the backstop against
	// concurrent pipelines racing on the same key.
	UpsertRef(ctx context.Context, kind, key, label string) (int64, error)
	// Commit durably publishes the pending transaction and opens a new
	// one.
	Commit(ctx context.Context) error
	// Rollback discards the pending transaction and opens a new one.
	Rollback() error
	Close() error
}
