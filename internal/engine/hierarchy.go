package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/agentic-research/strata/api"
	"github.com/agentic-research/strata/internal/store"
)

// HierarchyBuilder turns natural-key edge candidates into persisted edges
// once both endpoints have real identifiers. Runs after every row wave has
// been inserted, so an unresolved endpoint means its node was discarded;
// such edges are dropped with a warning, never persisted half-resolved.
type HierarchyBuilder struct {
	store   store.Store
	res     *ResolutionMap
	pending *PendingChangeSet
	log     *zap.Logger
	result  *api.Result
}

func NewHierarchyBuilder(st store.Store, res *ResolutionMap, pending *PendingChangeSet,
	logger *zap.Logger, result *api.Result,
) *HierarchyBuilder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HierarchyBuilder{store: st, res: res, pending: pending, log: logger, result: result}
}

// Build resolves, deduplicates and inserts the given edge candidates.
func (h *HierarchyBuilder) Build(ctx context.Context, cands []EdgeCandidate) error {
	if len(cands) == 0 {
		return nil
	}

	// Resolve endpoints first; only fully-real edges go further.
	type resolved struct {
		cand EdgeCandidate
		edge store.Edge
	}
	byKind := make(map[string][]resolved)
	var kinds []string

	for _, c := range cands {
		parentID, ok := h.res.ResolveReal(c.ParentKey)
		if !ok {
			h.dropEdge(c, fmt.Sprintf("parent %s never resolved", c.ParentKey))
			continue
		}
		childID, ok := h.res.ResolveReal(c.ChildKey)
		if !ok {
			h.dropEdge(c, fmt.Sprintf("child %s never resolved", c.ChildKey))
			continue
		}
		if parentID == childID {
			h.dropEdge(c, "edge endpoints are the same row")
			continue
		}
		if !h.res.IsFlushed(parentID) || !h.res.IsFlushed(childID) {
			h.dropEdge(c, "edge endpoint is not a persisted row")
			continue
		}

		if _, seen := byKind[c.Kind]; !seen {
			kinds = append(kinds, c.Kind)
		}
		byKind[c.Kind] = append(byKind[c.Kind], resolved{
			cand: c,
			edge: store.Edge{Kind: c.Kind, ParentID: parentID, ChildID: childID, Seq: c.Seq},
		})
	}

	for _, kind := range kinds {
		group := byKind[kind]
		pairs := make([]store.EdgePair, 0, len(group))
		for _, r := range group {
			pairs = append(pairs, store.EdgePair{ParentID: r.edge.ParentID, ChildID: r.edge.ChildID})
		}
		existing, err := h.store.LookupEdges(ctx, kind, pairs)
		if err != nil {
			return &PersistenceError{Op: "lookup edges", Err: err}
		}

		var toInsert []store.Edge
		for _, r := range group {
			pair := store.EdgePair{ParentID: r.edge.ParentID, ChildID: r.edge.ChildID}
			if existing[pair] || h.pending.HasEdge(kind, pair) {
				h.result.Reused[api.FamilyEdge]++
				continue
			}
			h.pending.AddEdge(kind, pair)
			toInsert = append(toInsert, r.edge)
		}
		if len(toInsert) == 0 {
			continue
		}
		if err := h.store.InsertEdges(ctx, toInsert); err != nil {
			return &PersistenceError{Op: "insert edges", Err: err}
		}
		h.result.Created[api.FamilyEdge] += len(toInsert)
		h.log.Debug("flushed edges", zap.String("kind", kind), zap.Int("count", len(toInsert)))
	}
	return nil
}

func (h *HierarchyBuilder) dropEdge(c EdgeCandidate, reason string) {
	node := c.ParentKey + "->" + c.ChildKey
	h.log.Warn("dropping hierarchy edge", zap.String("edge", node), zap.String("reason", reason))
	h.result.Warn(api.WarnDanglingEdge, node, reason)
}
