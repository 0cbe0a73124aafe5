package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/agentic-research/strata/api"
	"github.com/agentic-research/strata/internal/store"
)

// FlushPolicy decides when waves reach durable storage. It is always an
// explicit constructor argument, never ambient state.
type FlushPolicy int

const (
	// FlushEager commits every wave as soon as it is deduplicated, so
	// provisional identifiers only live within one wave. Already-flushed
	// waves of an abandoned run stay persisted as partial progress; the
	// natural-key dedup makes a retry converge on the same rows.
	FlushEager FlushPolicy = iota
	// FlushDeferred accumulates all waves and writes them in one batch
	// at the end of the run; provisional identifiers survive across
	// waves and are reconciled during the final flush.
	FlushDeferred
)

func (p FlushPolicy) String() string {
	if p == FlushDeferred {
		return "deferred"
	}
	return "eager"
}

// ParsePolicy maps the profile's policy name.
func ParsePolicy(name string) (FlushPolicy, error) {
	switch name {
	case "eager", "":
		return FlushEager, nil
	case "deferred":
		return FlushDeferred, nil
	default:
		return FlushEager, fmt.Errorf("unknown flush policy %q", name)
	}
}

// Coordinator owns the wave loop of one run: it deduplicates each
// submitted wave, flushes the survivors in dependency order, and feeds
// store-assigned identifiers back into the resolution map before the next
// wave stages. Cross-wave ordering is the submit order; sibling order
// within a wave is not significant.
type Coordinator struct {
	store   store.Store
	res     *ResolutionMap
	dedup   *Deduplicator
	pending *PendingChangeSet
	policy  FlushPolicy
	ownerID string
	docID   int64
	log     *zap.Logger
	result  *api.Result

	waves [][]RowCandidate // deferred waves awaiting insertion
}

func NewCoordinator(st store.Store, res *ResolutionMap, dedup *Deduplicator, pending *PendingChangeSet,
	policy FlushPolicy, ownerID string, logger *zap.Logger, result *api.Result,
) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		store:   st,
		res:     res,
		dedup:   dedup,
		pending: pending,
		policy:  policy,
		ownerID: ownerID,
		log:     logger,
		result:  result,
	}
}

// SetDocumentID fixes the owning document id (real or provisional) stamped
// onto every subsequent row.
func (c *Coordinator) SetDocumentID(id int64) { c.docID = id }

// Submit runs the dedup pass over one staged wave and, under the eager
// policy, flushes and commits it immediately. Under the deferred policy
// the wave is queued for the final flush.
func (c *Coordinator) Submit(ctx context.Context, cands []RowCandidate) error {
	if len(cands) == 0 {
		return nil
	}

	fresh, dup, err := c.dedup.Check(ctx, c.ownerID, cands)
	if err != nil {
		return err
	}
	for i := range dup {
		c.result.Reused[dup[i].Node.Family]++
	}
	if len(fresh) == 0 {
		return nil
	}

	if c.policy == FlushDeferred {
		c.waves = append(c.waves, fresh)
		return nil
	}

	if err := c.insertWave(ctx, fresh); err != nil {
		return err
	}
	if err := c.store.Commit(ctx); err != nil {
		return &PersistenceError{Op: "commit wave", Err: err}
	}
	return nil
}

// FlushRows writes all queued waves, in submit order, substituting real
// identifiers for provisional parent references just before each wave's
// insert. It does not commit. Under the eager policy it is a no-op.
func (c *Coordinator) FlushRows(ctx context.Context) error {
	for _, wave := range c.waves {
		if err := c.insertWave(ctx, wave); err != nil {
			return err
		}
	}
	c.waves = nil
	return nil
}

// Commit finalizes the batch.
func (c *Coordinator) Commit(ctx context.Context) error {
	if err := c.store.Commit(ctx); err != nil {
		return &PersistenceError{Op: "final commit", Err: err}
	}
	return nil
}

// insertWave bulk-inserts one wave, grouped per family, and promotes every
// flushed candidate's provisional identifier.
func (c *Coordinator) insertWave(ctx context.Context, wave []RowCandidate) error {
	byFamily := make(map[api.Family][]RowCandidate)
	var order []api.Family
	for _, cand := range wave {
		fam := cand.Node.Family
		if _, seen := byFamily[fam]; !seen {
			order = append(order, fam)
		}
		byFamily[fam] = append(byFamily[fam], cand)
	}

	for _, fam := range order {
		group := byFamily[fam]
		rows := make([]store.Row, 0, len(group))
		insertable := make([]RowCandidate, 0, len(group))

		for _, cand := range group {
			row, err := c.rowFor(cand)
			if err != nil {
				// The parent never resolved; drop the candidate
				// rather than persist a broken reference.
				c.log.Warn("dropping candidate with unresolved parent",
					zap.String("key", cand.Node.NaturalKey), zap.Error(err))
				c.result.Warn(api.WarnRefIntegrity, cand.Node.NaturalKey, err.Error())
				continue
			}
			rows = append(rows, row)
			insertable = append(insertable, cand)
		}
		if len(rows) == 0 {
			continue
		}

		ids, err := c.store.InsertRows(ctx, fam, rows)
		if err != nil {
			return &PersistenceError{Op: fmt.Sprintf("insert %s wave", fam), Err: err}
		}
		if len(ids) != len(insertable) {
			return &PersistenceError{Op: fmt.Sprintf("insert %s wave", fam),
				Err: fmt.Errorf("store returned %d ids for %d rows", len(ids), len(insertable))}
		}

		for i := range insertable {
			cand := insertable[i]
			c.res.Promote(cand.ProvID, ids[i])
			c.res.RecordReal(cand.Node.NaturalKey, ids[i])
			c.result.Created[fam]++
		}
		c.log.Debug("flushed wave",
			zap.String("family", string(fam)), zap.Int("rows", len(ids)))
	}
	return nil
}

// rowFor builds the store row for a candidate, substituting real
// identifiers for every provisional reference.
func (c *Coordinator) rowFor(cand RowCandidate) (store.Row, error) {
	parentID, err := c.res.RealOf(cand.ParentID)
	if err != nil {
		return store.Row{}, &RefIntegrityError{Node: cand.Node.NaturalKey, Parent: cand.Node.ParentKey}
	}
	sectionID, err := c.res.RealOf(cand.SectionID)
	if err != nil {
		return store.Row{}, &RefIntegrityError{Node: cand.Node.NaturalKey, Parent: cand.Node.SectionKey}
	}

	var docID int64
	if cand.Node.Family != api.FamilyDocument {
		docID, err = c.res.RealOf(c.docID)
		if err != nil {
			return store.Row{}, &RefIntegrityError{Node: cand.Node.NaturalKey, Parent: "document"}
		}
	}

	n := cand.Node
	return store.Row{
		Family:      n.Family,
		OwnerID:     c.ownerID,
		NaturalKey:  n.NaturalKey,
		DocumentID:  docID,
		SectionID:   sectionID,
		ParentID:    parentID,
		Code:        n.Code,
		Kind:        n.Kind,
		Seq:         n.Seq,
		Title:       n.Title,
		Body:        n.Body,
		ContentHash: n.ContentHash,
		Attrs:       n.Attrs,
	}, nil
}
