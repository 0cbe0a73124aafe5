package engine

import (
	"context"
	"fmt"

	"github.com/agentic-research/strata/api"
	"github.com/agentic-research/strata/internal/store"
)

// Deduplicator checks a wave of candidates against already-persisted rows
// and against rows pending in the current batch. One bulk existence query
// per family present in the wave; no per-candidate round trips.
type Deduplicator struct {
	store   store.Store
	res     *ResolutionMap
	pending *PendingChangeSet
}

func NewDeduplicator(st store.Store, res *ResolutionMap, pending *PendingChangeSet) *Deduplicator {
	return &Deduplicator{store: st, res: res, pending: pending}
}

// Check splits a wave into fresh candidates (which proceed to flush) and
// duplicates (discarded, their existing identifier recorded in the
// resolution map). Store-persisted matches take precedence over in-batch
// matches, so overlapping batches cannot double-insert.
func (d *Deduplicator) Check(ctx context.Context, ownerID string, cands []RowCandidate) (fresh, dup []RowCandidate, err error) {
	if len(cands) == 0 {
		return nil, nil, nil
	}

	keysByFamily := make(map[api.Family][]string)
	for i := range cands {
		fam := cands[i].Node.Family
		keysByFamily[fam] = append(keysByFamily[fam], cands[i].Node.NaturalKey)
	}

	existing := make(map[string]int64)
	for fam, keys := range keysByFamily {
		found, lerr := d.store.LookupKeys(ctx, fam, ownerID, keys)
		if lerr != nil {
			return nil, nil, &PersistenceError{Op: fmt.Sprintf("lookup %s keys", fam), Err: lerr}
		}
		for k, id := range found {
			existing[k] = id
		}
	}

	for i := range cands {
		c := cands[i]
		key := c.Node.NaturalKey

		if realID, ok := existing[key]; ok {
			// Already persisted: reuse the real id, promote the
			// candidate's provisional id so dependents resolve.
			d.res.RecordReal(key, realID)
			d.res.Promote(c.ProvID, realID)
			c.RealID = realID
			dup = append(dup, c)
			continue
		}
		if _, ok := d.pending.Row(key); ok {
			// Equivalent row staged earlier in this batch; the key is
			// already bound to that row's identifier.
			dup = append(dup, c)
			continue
		}

		d.res.Bind(key, c.ProvID)
		d.pending.AddRow(&cands[i])
		fresh = append(fresh, c)
	}
	return fresh, dup, nil
}
