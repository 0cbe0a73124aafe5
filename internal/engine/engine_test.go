package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/strata/api"
	"github.com/agentic-research/strata/internal/refdata"
	"github.com/agentic-research/strata/internal/store"
)

func newPipeline(t *testing.T, policy FlushPolicy) (*Pipeline, *store.SQLite, string) {
	t.Helper()
	st, path := newTestStore(t)
	refs, err := refdata.NewResolver(st, 16, nil)
	require.NoError(t, err)
	return New(st, refs, policy, nil, nil), st, path
}

const simpleDoc = `{
  "tag": "document", "attrs": {"code": "DOC-A", "title": "Simple"},
  "children": [{"tag": "section", "attrs": {"code": "S1", "title": "Only"}, "children": [
    {"tag": "text", "text": "a paragraph"},
    {"tag": "list", "children": [
      {"tag": "item", "text": "one"},
      {"tag": "item", "text": "two"},
      {"tag": "item", "text": "three"}
    ]}
  ]}]
}`

func TestMaterializeSimpleDocument(t *testing.T) {
	p, _, path := newPipeline(t, FlushEager)
	owner := api.OwnerContext{OwnerID: "acme", DocCode: "DOC-A"}

	res, err := p.Materialize(context.Background(), mustDoc(t, simpleDoc), owner)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Empty(t, res.Warnings)

	assert.Equal(t, 1, res.Created[api.FamilyDocument])
	assert.Equal(t, 1, res.Created[api.FamilySection])
	assert.Equal(t, 1, res.Created[api.FamilyText])
	assert.Equal(t, 1, res.Created[api.FamilyList])
	assert.Equal(t, 3, res.Created[api.FamilyListItem])
	assert.Zero(t, res.Created[api.FamilyEdge])

	assert.Equal(t, 1, countTable(t, path, "documents"))
	assert.Equal(t, 1, countTable(t, path, "sections"))
	assert.Equal(t, 5, countTable(t, path, "blocks"))

	// List items reference their list row, not the section directly.
	listID := queryInt(t, path, "SELECT id FROM blocks WHERE family = ?", "list")
	items := queryInt(t, path, "SELECT COUNT(*) FROM blocks WHERE parent_id = ?", listID)
	assert.Equal(t, int64(3), items)
}

func TestMaterializeIsIdempotent(t *testing.T) {
	p, _, path := newPipeline(t, FlushEager)
	owner := api.OwnerContext{OwnerID: "acme", DocCode: "DOC-A"}
	ctx := context.Background()

	first, err := p.Materialize(ctx, mustDoc(t, simpleDoc), owner)
	require.NoError(t, err)
	require.True(t, first.Success)

	second, err := p.Materialize(ctx, mustDoc(t, simpleDoc), owner)
	require.NoError(t, err)
	assert.True(t, second.Success)
	assert.Zero(t, second.TotalCreated())
	assert.Equal(t, first.TotalCreated(),
		second.Reused[api.FamilyDocument]+second.Reused[api.FamilySection]+
			second.Reused[api.FamilyText]+second.Reused[api.FamilyList]+
			second.Reused[api.FamilyListItem])

	assert.Equal(t, 5, countTable(t, path, "blocks"))
}

func TestMaterializeChangedContentReusesStructure(t *testing.T) {
	p, _, path := newPipeline(t, FlushEager)
	owner := api.OwnerContext{OwnerID: "acme", DocCode: "DOC-B"}
	ctx := context.Background()

	doc := func(body string) string {
		return `{
		  "tag": "document", "attrs": {"code": "DOC-B"},
		  "children": [{"tag": "section", "attrs": {"code": "SA"}, "children": [
		    {"tag": "section", "attrs": {"code": "SB"}, "children": [
		      {"tag": "text", "text": "` + body + `"}
		    ]}
		  ]}]
		}`
	}

	first, err := p.Materialize(ctx, mustDoc(t, doc("original words")), owner)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Created[api.FamilySection])
	assert.Equal(t, 1, first.Created[api.FamilyEdge])

	// Same structure, revised text: sections and their edge are reused,
	// only the changed text becomes a new row.
	second, err := p.Materialize(ctx, mustDoc(t, doc("revised words")), owner)
	require.NoError(t, err)
	assert.True(t, second.Success)
	assert.Equal(t, 1, second.Created[api.FamilyText])
	assert.Zero(t, second.Created[api.FamilySection])
	assert.Equal(t, 2, second.Reused[api.FamilySection])
	assert.Equal(t, 1, second.Reused[api.FamilyEdge])
	assert.Zero(t, second.Created[api.FamilyEdge])

	assert.Equal(t, 2, countTable(t, path, "sections"))
	assert.Equal(t, 2, countTable(t, path, "blocks"))
	assert.Equal(t, 1, countTable(t, path, "hierarchy_edges"))
}

func TestMaterializePartialSuccess(t *testing.T) {
	p, _, path := newPipeline(t, FlushEager)
	owner := api.OwnerContext{OwnerID: "acme", DocCode: "DOC-C"}

	res, err := p.Materialize(context.Background(), mustDoc(t, `{
	  "tag": "document", "attrs": {"code": "DOC-C"},
	  "children": [{"tag": "section", "attrs": {"code": "S1"}, "children": [
	    {"tag": "list", "children": [
	      {"tag": "item", "text": "kept"},
	      {"tag": "item", "text": ""}
	    ]}
	  ]}]
	}`), owner)
	require.NoError(t, err)

	// The malformed item is skipped with a warning; the run still commits.
	assert.True(t, res.Success)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, api.WarnValidation, res.Warnings[0].Code)
	assert.Equal(t, 1, res.Created[api.FamilyListItem])
	assert.Equal(t, 2, countTable(t, path, "blocks"))
}

func TestMaterializeDeferredMatchesEager(t *testing.T) {
	eager, _, eagerPath := newPipeline(t, FlushEager)
	deferred, _, deferredPath := newPipeline(t, FlushDeferred)
	owner := api.OwnerContext{OwnerID: "acme", DocCode: "DOC-B"}
	ctx := context.Background()

	doc := `{
	  "tag": "document", "attrs": {"code": "DOC-B"},
	  "children": [
	    {"tag": "section", "attrs": {"code": "SA"}, "children": [
	      {"tag": "section", "attrs": {"code": "SB"}, "children": [
	        {"tag": "text", "text": "nested body"}
	      ]}
	    ]},
	    {"tag": "lot", "attrs": {"number": "L100-01"}},
	    {"tag": "lot", "attrs": {"number": "L200"}}
	  ]
	}`

	eagerRes, err := eager.Materialize(ctx, mustDoc(t, doc), owner)
	require.NoError(t, err)
	deferredRes, err := deferred.Materialize(ctx, mustDoc(t, doc), owner)
	require.NoError(t, err)

	// Same rows either way; the policies only move the commit point.
	assert.Equal(t, eagerRes.Created, deferredRes.Created)
	for _, table := range []string{"documents", "sections", "blocks", "hierarchy_edges"} {
		assert.Equal(t, countTable(t, eagerPath, table), countTable(t, deferredPath, table), table)
	}

	// Nested section rows carry their parent's real id in both modes.
	for _, path := range []string{eagerPath, deferredPath} {
		parent := queryInt(t, path, "SELECT id FROM sections WHERE code = ?", "SA")
		child := queryInt(t, path, "SELECT parent_id FROM sections WHERE code = ?", "SB")
		assert.Equal(t, parent, child)
	}
}

func TestMaterializeResolvesReferences(t *testing.T) {
	p, _, path := newPipeline(t, FlushEager)
	owner := api.OwnerContext{OwnerID: "acme", DocCode: "DOC-R"}
	ctx := context.Background()

	doc := `{
	  "tag": "document", "attrs": {"code": "DOC-R"},
	  "children": [{"tag": "section", "attrs": {"code": "S1"}, "children": [
	    {"tag": "substance", "attrs": {"code": "ASP-1", "name": "Aspirin"}}
	  ]}]
	}`

	first, err := p.Materialize(ctx, mustDoc(t, doc), owner)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Created[api.FamilyReference])

	second, err := p.Materialize(ctx, mustDoc(t, doc), owner)
	require.NoError(t, err)
	assert.Zero(t, second.Created[api.FamilyReference])
	assert.Equal(t, 1, second.Reused[api.FamilyReference])
	assert.Equal(t, 1, countTable(t, path, "ref_entities"))
}

func TestMaterializeRejectsBadRoot(t *testing.T) {
	p, _, _ := newPipeline(t, FlushEager)

	res, err := p.Materialize(context.Background(), mustDoc(t, `{"tag": "report"}`),
		api.OwnerContext{OwnerID: "acme"})
	require.Error(t, err)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Fatal)
}

func TestMaterializeAllContinuesPastFailure(t *testing.T) {
	p, _, _ := newPipeline(t, FlushEager)

	results := p.MaterializeAll(context.Background(), []DocSource{
		{Root: mustDoc(t, `{"tag": "report"}`), Owner: api.OwnerContext{OwnerID: "acme", DocCode: "BAD"}},
		{Root: mustDoc(t, simpleDoc), Owner: api.OwnerContext{OwnerID: "acme", DocCode: "DOC-A"}},
	})
	require.Len(t, results, 2)
	assert.False(t, results[0].Success)
	assert.True(t, results[1].Success)
}

// failingStore injects a write failure into one family's first inserts.
type failingStore struct {
	store.Store
	family api.Family
	fails  int
}

func (f *failingStore) InsertRows(ctx context.Context, family api.Family, rows []store.Row) ([]int64, error) {
	if family == f.family && f.fails > 0 {
		f.fails--
		return nil, errors.New("simulated write failure")
	}
	return f.Store.InsertRows(ctx, family, rows)
}

func TestMaterializeFlushFailureIsFatal(t *testing.T) {
	st, path := newTestStore(t)
	fake := &failingStore{Store: st, family: api.FamilySection, fails: 1}
	p := New(fake, nil, FlushEager, nil, nil)

	res, err := p.Materialize(context.Background(), mustDoc(t, simpleDoc),
		api.OwnerContext{OwnerID: "acme", DocCode: "DOC-A"})
	require.Error(t, err)
	var pe *PersistenceError
	assert.ErrorAs(t, err, &pe)

	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Fatal)
	// The document wave committed before the failure; the partial counts
	// report it and the eager policy keeps it as partial progress.
	assert.Equal(t, 1, res.Created[api.FamilyDocument])
	assert.Zero(t, res.Created[api.FamilySection])
	assert.Equal(t, 1, countTable(t, path, "documents"))
	assert.Equal(t, 0, countTable(t, path, "sections"))
	assert.Equal(t, 0, countTable(t, path, "blocks"))
}

func TestMaterializeFlushFailureSparesSiblings(t *testing.T) {
	st, path := newTestStore(t)
	fake := &failingStore{Store: st, family: api.FamilySection, fails: 1}
	p := New(fake, nil, FlushEager, nil, nil)

	results := p.MaterializeAll(context.Background(), []DocSource{
		{Root: mustDoc(t, simpleDoc), Owner: api.OwnerContext{OwnerID: "acme", DocCode: "DOC-A"}},
		{Root: mustDoc(t, simpleDoc), Owner: api.OwnerContext{OwnerID: "acme", DocCode: "DOC-A"}},
	})
	require.Len(t, results, 2)
	assert.False(t, results[0].Success)
	assert.NotEmpty(t, results[0].Fatal)

	// The sibling run is unaffected and converges on the document row the
	// failed run left behind.
	assert.True(t, results[1].Success)
	assert.Empty(t, results[1].Fatal)
	assert.Equal(t, 1, results[1].Reused[api.FamilyDocument])
	assert.Equal(t, 1, results[1].Created[api.FamilySection])
	assert.Equal(t, 1, countTable(t, path, "sections"))
	assert.Equal(t, 5, countTable(t, path, "blocks"))
}

func TestMaterializeContentFor(t *testing.T) {
	p, _, path := newPipeline(t, FlushEager)
	owner := api.OwnerContext{OwnerID: "acme", DocCode: "DOC-A"}
	ctx := context.Background()

	_, err := p.Materialize(ctx, mustDoc(t, simpleDoc), owner)
	require.NoError(t, err)
	sectionID := queryInt(t, path, "SELECT id FROM sections WHERE code = ?", "S1")

	sub := mustDoc(t, `{"tag": "section", "children": [
	  {"tag": "text", "text": "late addition"}
	]}`)

	res, err := p.MaterializeContentFor(ctx, sectionID, sub)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.Created[api.FamilyText])

	// The new block hangs off the same section as the full run's rows.
	got := queryInt(t, path, "SELECT section_id FROM blocks WHERE body = ?", "late addition")
	assert.Equal(t, sectionID, got)

	// Idempotent: the same subtree creates nothing the second time.
	again, err := p.MaterializeContentFor(ctx, sectionID, sub)
	require.NoError(t, err)
	assert.Zero(t, again.TotalCreated())
	assert.Equal(t, 1, again.Reused[api.FamilyText])

	_, err = p.MaterializeContentFor(ctx, 99999, sub)
	assert.Error(t, err)
}
