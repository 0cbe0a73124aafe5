package engine

import (
	"github.com/agentic-research/strata/internal/store"
)

// PendingChangeSet tracks rows and edges staged in the current batch that
// are not yet durably committed. It is what the in-batch half of the
// deduplicator consults, and it is discarded wholesale when a run aborts.
type PendingChangeSet struct {
	rows  map[string]*RowCandidate
	edges map[string]map[store.EdgePair]bool
}

func NewPendingChangeSet() *PendingChangeSet {
	return &PendingChangeSet{
		rows:  make(map[string]*RowCandidate),
		edges: make(map[string]map[store.EdgePair]bool),
	}
}

// AddRow records a staged candidate by natural key.
func (p *PendingChangeSet) AddRow(c *RowCandidate) {
	p.rows[c.Node.NaturalKey] = c
}

// Row returns the staged candidate for a natural key, if any.
func (p *PendingChangeSet) Row(key string) (*RowCandidate, bool) {
	c, ok := p.rows[key]
	return c, ok
}

// RowCount returns the number of staged rows.
func (p *PendingChangeSet) RowCount() int { return len(p.rows) }

// AddEdge records a staged hierarchy edge.
func (p *PendingChangeSet) AddEdge(kind string, pair store.EdgePair) {
	m, ok := p.edges[kind]
	if !ok {
		m = make(map[store.EdgePair]bool)
		p.edges[kind] = m
	}
	m[pair] = true
}

// HasEdge reports whether an equivalent edge is already staged.
func (p *PendingChangeSet) HasEdge(kind string, pair store.EdgePair) bool {
	return p.edges[kind][pair]
}
