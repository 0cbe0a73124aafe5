package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/agentic-research/strata/api"
)

// familyPipeline describes one content family's internal dependency
// levels. Every level is flushed as one wave; a node at level k may only
// reference parents at level k-1 or above. Per-node lifecycle:
// Discovered -> Staged -> Deduplicated -> Flushed | Discarded(duplicate) |
// Discarded(malformed).
type familyPipeline struct {
	name   string
	levels [][]api.Family
}

var familyPipelines = []familyPipeline{
	{name: "text", levels: [][]api.Family{{api.FamilyText}}},
	{name: "list", levels: [][]api.Family{{api.FamilyList}, {api.FamilyListItem}}},
	{name: "table", levels: [][]api.Family{
		{api.FamilyTable},
		{api.FamilyTableColumn, api.FamilyTableRow},
		{api.FamilyTableCell},
	}},
	{name: "highlight", levels: [][]api.Family{{api.FamilyExcerpt}, {api.FamilyHighlight}}},
	{name: "lot", levels: [][]api.Family{{api.FamilyLot}}},
}

// processFamily drives one family's stage -> dedup -> flush cycle over its
// dependency levels. Idempotent: re-running over the same source subtree
// finds every row by natural key and creates nothing.
func processFamily(ctx context.Context, fp familyPipeline, blocks map[api.Family][]ContentNode,
	stager *Stager, coord *Coordinator, result *api.Result, log *zap.Logger,
) error {
	for _, level := range fp.levels {
		var nodes []ContentNode
		for _, fam := range level {
			nodes = append(nodes, blocks[fam]...)
		}
		if err := submitLevel(ctx, nodes, stager, coord, result, log); err != nil {
			return err
		}
	}
	return nil
}

// submitLevel stages and submits one dependency level, re-staging deferred
// nodes until no progress is made. Nodes still deferred at that point have
// a parent that was discarded; they are dropped with a warning and their
// own descendants defer out the same way.
func submitLevel(ctx context.Context, nodes []ContentNode,
	stager *Stager, coord *Coordinator, result *api.Result, log *zap.Logger,
) error {
	for len(nodes) > 0 {
		ready, deferred := stager.Stage(nodes)
		if len(ready) == 0 {
			for _, n := range deferred {
				err := &RefIntegrityError{Node: n.NaturalKey, Parent: parentRef(n)}
				log.Warn("discarding candidate", zap.String("key", n.NaturalKey), zap.Error(err))
				result.Warn(api.WarnRefIntegrity, n.NaturalKey, err.Error())
			}
			return nil
		}
		if err := coord.Submit(ctx, ready); err != nil {
			return err
		}
		nodes = deferred
	}
	return nil
}

func parentRef(n ContentNode) string {
	if n.ParentKey != "" {
		return n.ParentKey
	}
	return n.SectionKey
}
