// Package profile loads the operator-facing materialization profile.
// A profile only carries tuning knobs; it never decides semantics, and the
// flush policy it names is passed explicitly into the engine rather than
// read from any ambient state.
package profile

import (
	"fmt"

	"github.com/hashicorp/hcl/v2/hclsimple"
)

// Profile is the decoded HCL profile.
type Profile struct {
	// FlushPolicy is "eager" (commit per wave) or "deferred" (single
	// commit at the end of the run).
	FlushPolicy string `hcl:"flush_policy,optional"`
	// LookupChunk bounds how many natural keys one existence query may
	// carry before it is split.
	LookupChunk int `hcl:"lookup_chunk,optional"`
	// RefCacheSize sizes the shared reference-entity LRU cache.
	RefCacheSize int `hcl:"ref_cache_size,optional"`
	// Families limits which content families are materialized. Empty
	// means all.
	Families []string `hcl:"families,optional"`
}

// Default returns the profile used when no file is given.
func Default() *Profile {
	return &Profile{
		FlushPolicy:  "eager",
		LookupChunk:  500,
		RefCacheSize: 1024,
	}
}

// Load reads and validates a profile file. Knobs left out of the file keep
// their defaults.
func Load(path string) (*Profile, error) {
	var p Profile
	if err := hclsimple.DecodeFile(path, nil, &p); err != nil {
		return nil, fmt.Errorf("load profile %s: %w", path, err)
	}
	d := Default()
	if p.FlushPolicy == "" {
		p.FlushPolicy = d.FlushPolicy
	}
	if p.LookupChunk == 0 {
		p.LookupChunk = d.LookupChunk
	}
	if p.RefCacheSize == 0 {
		p.RefCacheSize = d.RefCacheSize
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("profile %s: %w", path, err)
	}
	return &p, nil
}

// Validate checks knob ranges.
func (p *Profile) Validate() error {
	switch p.FlushPolicy {
	case "eager", "deferred":
	default:
		return fmt.Errorf("flush_policy must be eager or deferred, got %q", p.FlushPolicy)
	}
	if p.LookupChunk <= 0 {
		return fmt.Errorf("lookup_chunk must be positive, got %d", p.LookupChunk)
	}
	if p.RefCacheSize <= 0 {
		return fmt.Errorf("ref_cache_size must be positive, got %d", p.RefCacheSize)
	}
	return nil
}

// WantsFamily reports whether the profile enables the named family.
func (p *Profile) WantsFamily(name string) bool {
	if len(p.Families) == 0 {
		return true
	}
	for _, f := range p.Families {
		if f == name {
			return true
		}
	}
	return false
}
