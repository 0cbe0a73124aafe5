package engine

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/agentic-research/strata/internal/doctree"
	"github.com/agentic-research/strata/internal/store"
)

func mustDoc(t *testing.T, src string) doctree.Node {
	t.Helper()
	root, err := doctree.ParseJSON([]byte(src))
	require.NoError(t, err)
	return root
}

func newTestStore(t *testing.T) (*store.SQLite, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "strata.db")
	st, err := store.Open(path, store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st, path
}

// countTable counts committed rows through an independent connection.
func countTable(t *testing.T, path, table string) int {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

// queryInt runs a single-value query through an independent connection.
func queryInt(t *testing.T, path, query string, args ...any) int64 {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	var v int64
	require.NoError(t, db.QueryRow(query, args...).Scan(&v))
	return v
}
