package engine

// RowCandidate pairs a discovered node with its provisional identifier and
// resolved references. Candidates are immutable snapshots: resolution never
// writes back into the ContentNode, so a node shared across call sites can
// never pick up a stale parent reference.
type RowCandidate struct {
	Node ContentNode
	// ProvID is the candidate's own provisional identifier.
	ProvID int64
	// ParentID is the resolved same-table parent: real (> 0),
	// provisional (< 0), or 0 for none.
	ParentID int64
	// SectionID is the resolved owning section, same encoding.
	SectionID int64
	// RealID is filled in at flush.
	RealID int64
}

// Stager converts one dependency level of discovered nodes into row
// candidates. Nodes whose parent reference cannot be resolved yet are
// returned as deferred instead of being created with a broken reference.
type Stager struct {
	alloc *Allocator
	res   *ResolutionMap
}

func NewStager(alloc *Allocator, res *ResolutionMap) *Stager {
	return &Stager{alloc: alloc, res: res}
}

// Stage resolves parent references and allocates provisional identifiers.
// The input order is preserved in both return slices.
func (s *Stager) Stage(nodes []ContentNode) (ready []RowCandidate, deferred []ContentNode) {
	for _, n := range nodes {
		var parentID, sectionID int64

		if n.ParentKey != "" {
			id, ok := s.res.Resolve(n.ParentKey)
			if !ok {
				deferred = append(deferred, n)
				continue
			}
			parentID = id
		}
		if n.SectionKey != "" {
			id, ok := s.res.Resolve(n.SectionKey)
			if !ok {
				deferred = append(deferred, n)
				continue
			}
			sectionID = id
		}

		ready = append(ready, RowCandidate{
			Node:      n,
			ProvID:    s.alloc.Next(),
			ParentID:  parentID,
			SectionID: sectionID,
		})
	}
	return ready, deferred
}
