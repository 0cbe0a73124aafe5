package engine

import (
	"github.com/RoaringBitmap/roaring/roaring64"
)

// Provisional identifiers are negative, so they can never collide with a
// store-assigned rowid and can never be mistaken for one if they leak.
func IsProvisional(id int64) bool { return id < 0 }

// Allocator issues session-scoped provisional identifiers. One allocator
// per pipeline run; never shared across documents.
type Allocator struct {
	next int64
}

func NewAllocator() *Allocator {
	return &Allocator{next: -1}
}

// Next returns a fresh provisional identifier.
func (a *Allocator) Next() int64 {
	id := a.next
	a.next--
	return id
}

// ResolutionMap is the bidirectional natural-key / provisional / real
// identifier map of one materialization run. It is populated incrementally
// as waves flush and discarded with the run.
type ResolutionMap struct {
	byKey      map[string]int64
	provToReal map[int64]int64
	realToProv map[int64]int64
	flushed    *roaring64.Bitmap
}

func NewResolutionMap() *ResolutionMap {
	return &ResolutionMap{
		byKey:      make(map[string]int64),
		provToReal: make(map[int64]int64),
		realToProv: make(map[int64]int64),
		flushed:    roaring64.New(),
	}
}

// Bind associates a natural key with an identifier, provisional or real.
func (m *ResolutionMap) Bind(key string, id int64) {
	m.byKey[key] = id
}

// RecordReal binds a natural key directly to a store-assigned id and marks
// the id flushed.
func (m *ResolutionMap) RecordReal(key string, id int64) {
	m.byKey[key] = id
	m.flushed.Add(uint64(id))
}

// Promote records that a provisional identifier now has a real one.
func (m *ResolutionMap) Promote(prov, real int64) {
	if !IsProvisional(prov) {
		return
	}
	m.provToReal[prov] = real
	m.realToProv[real] = prov
	m.flushed.Add(uint64(real))
}

// Resolve returns the current identifier for a natural key: the real id
// when the row has flushed, the provisional one otherwise.
func (m *ResolutionMap) Resolve(key string) (int64, bool) {
	id, ok := m.byKey[key]
	if !ok {
		return 0, false
	}
	if IsProvisional(id) {
		if real, done := m.provToReal[id]; done {
			return real, true
		}
	}
	return id, true
}

// ResolveReal returns the real identifier for a natural key, failing when
// the key is unknown or still provisional.
func (m *ResolutionMap) ResolveReal(key string) (int64, bool) {
	id, ok := m.Resolve(key)
	if !ok || IsProvisional(id) {
		return 0, false
	}
	return id, true
}

// RealOf substitutes a provisional identifier with its real one. Real ids
// pass through unchanged.
func (m *ResolutionMap) RealOf(id int64) (int64, error) {
	if !IsProvisional(id) {
		return id, nil
	}
	real, ok := m.provToReal[id]
	if !ok {
		return 0, ErrUnknownProvisional
	}
	return real, nil
}

// ProvisionalOf returns the provisional identifier a real id was promoted
// from, if any.
func (m *ResolutionMap) ProvisionalOf(real int64) (int64, bool) {
	prov, ok := m.realToProv[real]
	return prov, ok
}

// IsFlushed reports whether a real identifier belongs to a row this run
// has seen durably persisted (or found persisted during dedup).
func (m *ResolutionMap) IsFlushed(real int64) bool {
	if IsProvisional(real) {
		return false
	}
	return m.flushed.Contains(uint64(real))
}
