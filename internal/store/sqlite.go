package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/agentic-research/strata/api"
)

// Options tune the sqlite store.
type Options struct {
	// LookupChunk bounds how many natural keys a single existence query
	// carries before it is split.
	LookupChunk int
	Logger      *zap.Logger
}

// SQLite implements Store on a single sqlite database. All writes go
// through one pending transaction; Commit is the only point where rows
// become visible to other connections.
type SQLite struct {
	db    *sql.DB
	tx    *sql.Tx
	chunk int
	log   *zap.Logger
}

var _ Store = (*SQLite)(nil)

// Open opens (creating if needed) the database at path and starts the
// first pending transaction.
func Open(path string, opts Options) (*SQLite, error) {
	if opts.LookupChunk <= 0 {
		opts.LookupChunk = 500
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// Single writer connection; the pending tx owns it.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(DDL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	s := &SQLite{db: db, chunk: opts.LookupChunk, log: opts.Logger}
	if err := s.begin(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) begin() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	s.tx = tx
	return nil
}

func tableFor(family api.Family) string {
	switch family {
	case api.FamilyDocument:
		return "documents"
	case api.FamilySection:
		return "sections"
	default:
		return "blocks"
	}
}

// LookupKeys implements Store.
func (s *SQLite) LookupKeys(ctx context.Context, family api.Family, ownerID string, keys []string) (map[string]int64, error) {
	out := make(map[string]int64, len(keys))
	table := tableFor(family)

	for start := 0; start < len(keys); start += s.chunk {
		end := start + s.chunk
		if end > len(keys) {
			end = len(keys)
		}
		chunk := keys[start:end]

		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		query := fmt.Sprintf(
			"SELECT natural_key, id FROM %s WHERE owner_id = ? AND natural_key IN (%s)",
			table, placeholders,
		)
		args := make([]any, 0, len(chunk)+1)
		args = append(args, ownerID)
		for _, k := range chunk {
			args = append(args, k)
		}

		rows, err := s.tx.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("lookup %s keys: %w", table, err)
		}
		for rows.Next() {
			var key string
			var id int64
			if err := rows.Scan(&key, &id); err != nil {
				_ = rows.Close()
				return nil, fmt.Errorf("scan %s key: %w", table, err)
			}
			out[key] = id
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("lookup %s keys: %w", table, err)
		}
		_ = rows.Close()
	}
	return out, nil
}

// InsertRows implements Store.
func (s *SQLite) InsertRows(ctx context.Context, family api.Family, rws []Row) ([]int64, error) {
	if len(rws) == 0 {
		return nil, nil
	}

	var query string
	switch tableFor(family) {
	case "documents":
		query = `INSERT INTO documents (owner_id, natural_key, code, title)
			VALUES (?, ?, ?, ?) RETURNING id`
	case "sections":
		query = `INSERT INTO sections (owner_id, document_id, parent_id, natural_key, code, kind, seq, title)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`
	default:
		query = `INSERT INTO blocks (owner_id, document_id, section_id, parent_id, natural_key, family, kind, seq, content_hash, body, attrs)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`
	}

	stmt, err := s.tx.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("prepare %s insert: %w", family, err)
	}
	defer func() { _ = stmt.Close() }()

	ids := make([]int64, 0, len(rws))
	for i := range rws {
		r := &rws[i]
		var args []any
		switch tableFor(family) {
		case "documents":
			args = []any{r.OwnerID, r.NaturalKey, r.Code, r.Title}
		case "sections":
			args = []any{r.OwnerID, r.DocumentID, nullID(r.ParentID), r.NaturalKey, r.Code, r.Kind, r.Seq, r.Title}
		default:
			args = []any{r.OwnerID, r.DocumentID, nullID(r.SectionID), nullID(r.ParentID),
				r.NaturalKey, string(family), nullStr(r.Kind), r.Seq, nullStr(r.ContentHash), r.Body, marshalAttrs(r.Attrs)}
		}

		var id int64
		if err := stmt.QueryRowContext(ctx, args...).Scan(&id); err != nil {
			return nil, fmt.Errorf("insert %s row %s: %w", family, r.NaturalKey, err)
		}
		ids = append(ids, id)
	}

	s.log.Debug("inserted rows", zap.String("family", string(family)), zap.Int("count", len(ids)))
	return ids, nil
}

// LookupEdges implements Store.
func (s *SQLite) LookupEdges(ctx context.Context, kind string, pairs []EdgePair) (map[EdgePair]bool, error) {
	out := make(map[EdgePair]bool, len(pairs))

	for start := 0; start < len(pairs); start += s.chunk {
		end := start + s.chunk
		if end > len(pairs) {
			end = len(pairs)
		}
		chunk := pairs[start:end]

		conds := make([]string, len(chunk))
		args := make([]any, 0, len(chunk)*2+1)
		args = append(args, kind)
		for i, p := range chunk {
			conds[i] = "(parent_id = ? AND child_id = ?)"
			args = append(args, p.ParentID, p.ChildID)
		}
		query := fmt.Sprintf(
			"SELECT parent_id, child_id FROM hierarchy_edges WHERE kind = ? AND (%s)",
			strings.Join(conds, " OR "),
		)

		rows, err := s.tx.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("lookup edges: %w", err)
		}
		for rows.Next() {
			var p EdgePair
			if err := rows.Scan(&p.ParentID, &p.ChildID); err != nil {
				_ = rows.Close()
				return nil, fmt.Errorf("scan edge: %w", err)
			}
			out[p] = true
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("lookup edges: %w", err)
		}
		_ = rows.Close()
	}
	return out, nil
}

// InsertEdges implements Store. INSERT OR IGNORE backs up the engine-side
// edge dedup against overlapping batches.
func (s *SQLite) InsertEdges(ctx context.Context, edges []Edge) error {
	if len(edges) == 0 {
		return nil
	}
	stmt, err := s.tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO hierarchy_edges (kind, parent_id, child_id, seq) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare edge insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, e := range edges {
		if _, err := stmt.ExecContext(ctx, e.Kind, e.ParentID, e.ChildID, e.Seq); err != nil {
			return fmt.Errorf("insert edge %s %d->%d: %w", e.Kind, e.ParentID, e.ChildID, err)
		}
	}
	return nil
}

// GetSection implements Store.
func (s *SQLite) GetSection(ctx context.Context, id int64) (SectionScope, error) {
	var sc SectionScope
	err := s.tx.QueryRowContext(ctx,
		"SELECT owner_id, natural_key, document_id FROM sections WHERE id = ?", id).
		Scan(&sc.OwnerID, &sc.NaturalKey, &sc.DocumentID)
	if err == sql.ErrNoRows {
		return SectionScope{}, fmt.Errorf("section %d not found", id)
	}
	if err != nil {
		return SectionScope{}, fmt.Errorf("lookup section %d: %w", id, err)
	}
	return sc, nil
}

// GetRef implements Store.
func (s *SQLite) GetRef(ctx context.Context, kind, key string) (int64, bool, error) {
	var id int64
	err := s.tx.QueryRowContext(ctx,
		"SELECT id FROM ref_entities WHERE kind = ? AND natural_key = ?", kind, key).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("lookup ref %s/%s: %w", kind, key, err)
	}
	return id, true, nil
}

// UpsertRef implements Store.
func (s *SQLite) UpsertRef(ctx context.Context, kind, key, label string) (int64, error) {
	var id int64
	err := s.tx.QueryRowContext(ctx, `
		INSERT INTO ref_entities (kind, natural_key, label) VALUES (?, ?, ?)
		ON CONFLICT (kind, natural_key) DO UPDATE SET label = excluded.label
		RETURNING id`, kind, key, label).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert ref %s/%s: %w", kind, key, err)
	}
	return id, nil
}

// Commit implements Store.
func (s *SQLite) Commit(ctx context.Context) error {
	if err := s.tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return s.begin()
}

// Rollback implements Store.
func (s *SQLite) Rollback() error {
	if err := s.tx.Rollback(); err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	return s.begin()
}

// Close discards any pending transaction and closes the database.
func (s *SQLite) Close() error {
	if s.tx != nil {
		_ = s.tx.Rollback()
	}
	return s.db.Close()
}

func nullID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func marshalAttrs(attrs map[string]string) any {
	if len(attrs) == 0 {
		return nil
	}
	b, err := json.Marshal(attrs)
	if err != nil {
		return nil
	}
	return string(b)
}
