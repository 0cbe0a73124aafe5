package engine

import (
	"strconv"
	"strings"

	"github.com/zeebo/xxh3"

	"github.com/agentic-research/strata/api"
	"github.com/agentic-research/strata/internal/doctree"
)

// ContentNode is one discovered unit of the source tree. Nodes are created
// during discovery and never mutated afterwards; resolution always produces
// a new RowCandidate instead of writing back into the node.
type ContentNode struct {
	Family api.Family
	// Kind is the family-specific subtype ("ordered" for a list, ...).
	Kind string
	// Seq orders the node among same-family siblings under one parent,
	// 1-based.
	Seq int
	// Depth is the node's nesting level within its family pipeline.
	Depth int
	// ParentKey is the natural key of the same-table parent, "" for none.
	ParentKey string
	// SectionKey is the natural key of the owning section, "" for
	// document, section and document-level nodes.
	SectionKey string
	NaturalKey string
	// Code is the external identifier of documents and sections.
	Code  string
	Title string
	Body  string
	// ContentHash is set for text-bearing nodes and folded into the
	// natural key, so siblings with equal structure but different text
	// stay distinct rows.
	ContentHash string
	Attrs       map[string]string
	// Source points back into the caller-owned tree. Read-only.
	Source doctree.Node
}

// EdgeCandidate is a hierarchy edge in natural-key form, produced by
// discovery before either endpoint has an identifier.
type EdgeCandidate struct {
	Kind      string
	ParentKey string
	ChildKey  string
	Seq       int
}

// RefMention is a discovered reference-entity mention (substance,
// organization), resolved through the shared refdata resolver.
type RefMention struct {
	Kind  string
	Key   string
	Label string
	// NodeKey names the discovered node the mention came from.
	NodeKey string
}

const keySep = "|"

// documentKey builds the natural key of a document row.
func documentKey(ownerID, code string) string {
	return strings.Join([]string{ownerID, string(api.FamilyDocument), code}, keySep)
}

// sectionNaturalKey builds the natural key of a section row. Sections are
// keyed by their external code, so a re-run with changed content reuses the
// same section row.
func sectionNaturalKey(ownerID, code string) string {
	return strings.Join([]string{ownerID, string(api.FamilySection), code}, keySep)
}

// blockKey builds the natural key of a block row from its owner scope,
// family, structural parent reference, sequence and (for text-bearing
// kinds) content hash.
func blockKey(ownerID string, family api.Family, parentRef string, seq int, hash string) string {
	parts := []string{ownerID, string(family), parentRef, strconv.Itoa(seq)}
	if hash != "" {
		parts = append(parts, hash)
	}
	return strings.Join(parts, keySep)
}

// lotKey builds the natural key of a lot row. Lots are keyed by number,
// not position, so the same lot mentioned twice is one row.
func lotKey(ownerID, number string) string {
	return strings.Join([]string{ownerID, string(api.FamilyLot), number}, keySep)
}

// contentHash normalizes and hashes text for natural keys.
func contentHash(text string) string {
	norm := strings.Join(strings.Fields(text), " ")
	return strconv.FormatUint(xxh3.HashString(norm), 16)
}
