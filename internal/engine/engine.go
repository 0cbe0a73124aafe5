// Package engine is the staged bulk materialization engine: it walks a
// source document tree once, stages row candidates with provisional
// identifiers, deduplicates them against persisted and in-batch rows, and
// flushes them in dependency-ordered waves so every child row is written
// with a real parent identifier. Store round trips scale with nesting
// depth, not node count.
package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentic-research/strata/api"
	"github.com/agentic-research/strata/internal/doctree"
	"github.com/agentic-research/strata/internal/profile"
	"github.com/agentic-research/strata/internal/refdata"
	"github.com/agentic-research/strata/internal/store"
)

// Pipeline materializes documents. One Pipeline may run many documents,
// but each run owns its own resolution map and pending change set;
// pipelines sharing a store must not run concurrently on one connection.
type Pipeline struct {
	store  store.Store
	refs   *refdata.Resolver
	policy FlushPolicy
	prof   *profile.Profile
	log    *zap.Logger
}

// DocSource pairs one source tree with its owner scope.
type DocSource struct {
	Root  doctree.Node
	Owner api.OwnerContext
}

// New builds a pipeline. The flush policy is explicit here and nowhere
// else; nothing reads it from ambient state.
func New(st store.Store, refs *refdata.Resolver, policy FlushPolicy, prof *profile.Profile, logger *zap.Logger) *Pipeline {
	if prof == nil {
		prof = profile.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{store: st, refs: refs, policy: policy, prof: prof, log: logger}
}

// Materialize runs the full pipeline for one document: discovery, staged
// waves for the document and its sections, reference resolution, the
// content families, hierarchy edges, final commit. Recoverable conditions
// surface as warnings on the result; only a failed store round trip
// returns an error.
func (p *Pipeline) Materialize(ctx context.Context, root doctree.Node, owner api.OwnerContext) (*api.Result, error) {
	runID := uuid.NewString()
	result := api.NewResult(runID, owner)
	log := p.log.With(zap.String("run_id", runID), zap.String("doc", owner.DocCode))

	out, err := NewDiscovery(owner, log).Run(root)
	if err != nil {
		result.Fatal = err.Error()
		return result, fmt.Errorf("discovery: %w", err)
	}
	result.Warnings = append(result.Warnings, out.Warnings...)

	rmap := NewResolutionMap()
	stager := NewStager(NewAllocator(), rmap)
	pending := NewPendingChangeSet()
	dedup := NewDeduplicator(p.store, rmap, pending)
	coord := NewCoordinator(p.store, rmap, dedup, pending, p.policy, owner.OwnerID, log, result)

	fail := func(err error) (*api.Result, error) {
		if rbErr := p.store.Rollback(); rbErr != nil {
			log.Warn("rollback after fatal error failed", zap.Error(rbErr))
		}
		if p.refs != nil {
			p.refs.Discarded()
		}
		result.Fatal = err.Error()
		result.Success = false
		return result, err
	}

	// Wave 0: the document row itself.
	docReady, _ := stager.Stage([]ContentNode{out.Document})
	if err := coord.Submit(ctx, docReady); err != nil {
		return fail(err)
	}
	docID, ok := rmap.Resolve(out.Document.NaturalKey)
	if !ok {
		return fail(fmt.Errorf("document row was not staged"))
	}
	coord.SetDocumentID(docID)

	// Section waves, one per nesting depth.
	for _, depthGroup := range out.Sections {
		if err := submitLevel(ctx, depthGroup, stager, coord, result, log); err != nil {
			return fail(err)
		}
	}

	if err := p.resolveRefs(ctx, out.Refs, result, log); err != nil {
		return fail(err)
	}

	for _, fp := range familyPipelines {
		if !p.prof.WantsFamily(fp.name) {
			continue
		}
		if err := processFamily(ctx, fp, out.Blocks, stager, coord, result, log); err != nil {
			return fail(err)
		}
	}

	if err := coord.FlushRows(ctx); err != nil {
		return fail(err)
	}

	hb := NewHierarchyBuilder(p.store, rmap, pending, log, result)
	if err := hb.Build(ctx, out.Edges); err != nil {
		return fail(err)
	}

	if err := coord.Commit(ctx); err != nil {
		return fail(err)
	}
	if p.refs != nil {
		p.refs.Committed()
	}

	result.Success = true
	log.Info("materialized document",
		zap.Int("created", result.TotalCreated()),
		zap.Int("warnings", len(result.Warnings)),
		zap.String("policy", p.policy.String()))
	return result, nil
}

// MaterializeAll runs independent documents sequentially. A fatal error in
// one document does not stop its siblings; each result carries its own
// outcome.
func (p *Pipeline) MaterializeAll(ctx context.Context, docs []DocSource) []*api.Result {
	results := make([]*api.Result, 0, len(docs))
	for _, d := range docs {
		res, err := p.Materialize(ctx, d.Root, d.Owner)
		if err != nil {
			p.log.Error("document materialization failed",
				zap.String("doc", d.Owner.DocCode), zap.Error(err))
		}
		results = append(results, res)
	}
	return results
}

// MaterializeContentFor materializes only the content families under one
// already-persisted section, identified by its real id. The section's
// owner scope is read back from the store so natural keys match what the
// full pipeline would produce, keeping the narrow entry point idempotent.
func (p *Pipeline) MaterializeContentFor(ctx context.Context, sectionID int64, sub doctree.Node) (*api.Result, error) {
	scope, err := p.store.GetSection(ctx, sectionID)
	if err != nil {
		return nil, fmt.Errorf("resolve parent section: %w", err)
	}

	runID := uuid.NewString()
	owner := api.OwnerContext{OwnerID: scope.OwnerID}
	result := api.NewResult(runID, owner)
	log := p.log.With(zap.String("run_id", runID), zap.Int64("section_id", sectionID))

	out := &DiscoveryOutput{Blocks: make(map[api.Family][]ContentNode)}
	d := NewDiscovery(owner, log)
	d.discoverContent(out, sub, scope.NaturalKey)
	result.Warnings = append(result.Warnings, out.Warnings...)

	rmap := NewResolutionMap()
	rmap.RecordReal(scope.NaturalKey, sectionID)
	stager := NewStager(NewAllocator(), rmap)
	pending := NewPendingChangeSet()
	dedup := NewDeduplicator(p.store, rmap, pending)
	coord := NewCoordinator(p.store, rmap, dedup, pending, p.policy, scope.OwnerID, log, result)
	coord.SetDocumentID(scope.DocumentID)

	fail := func(err error) (*api.Result, error) {
		if rbErr := p.store.Rollback(); rbErr != nil {
			log.Warn("rollback after fatal error failed", zap.Error(rbErr))
		}
		if p.refs != nil {
			p.refs.Discarded()
		}
		result.Fatal = err.Error()
		return result, err
	}

	if err := p.resolveRefs(ctx, out.Refs, result, log); err != nil {
		return fail(err)
	}
	for _, fp := range familyPipelines {
		if !p.prof.WantsFamily(fp.name) {
			continue
		}
		if err := processFamily(ctx, fp, out.Blocks, stager, coord, result, log); err != nil {
			return fail(err)
		}
	}
	if err := coord.FlushRows(ctx); err != nil {
		return fail(err)
	}
	if err := coord.Commit(ctx); err != nil {
		return fail(err)
	}
	if p.refs != nil {
		p.refs.Committed()
	}

	result.Success = true
	return result, nil
}

// resolveRefs materializes shared reference entities through the refdata
// resolver. A missing resolver only matters when the document actually
// mentions references.
func (p *Pipeline) resolveRefs(ctx context.Context, refs []RefMention, result *api.Result, log *zap.Logger) error {
	if len(refs) == 0 {
		return nil
	}
	if p.refs == nil {
		return fmt.Errorf("document mentions reference entities but no resolver is configured")
	}
	for _, m := range refs {
		_, created, err := p.refs.Resolve(ctx, m.Kind, m.Key, m.Label)
		if err != nil {
			return &PersistenceError{Op: fmt.Sprintf("resolve %s %s", m.Kind, m.Key), Err: err}
		}
		if created {
			result.Created[api.FamilyReference]++
		} else {
			result.Reused[api.FamilyReference]++
		}
	}
	return nil
}
