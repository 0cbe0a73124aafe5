package profile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProfile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "strata.hcl")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeProfile(t, `
flush_policy = "deferred"
lookup_chunk = 100
families     = ["text", "list"]
`)
	p, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "deferred", p.FlushPolicy)
	assert.Equal(t, 100, p.LookupChunk)
	// Unset knobs keep their defaults.
	assert.Equal(t, Default().RefCacheSize, p.RefCacheSize)

	assert.True(t, p.WantsFamily("text"))
	assert.False(t, p.WantsFamily("table"))
}

func TestLoadEmptyUsesDefaults(t *testing.T) {
	p, err := Load(writeProfile(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), p)
	assert.True(t, p.WantsFamily("anything"))
}

func TestLoadRejectsBadPolicy(t *testing.T) {
	_, err := Load(writeProfile(t, `flush_policy = "sometimes"`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flush_policy")
}

func TestValidateRanges(t *testing.T) {
	p := Default()
	p.LookupChunk = 0
	assert.Error(t, p.Validate())

	p = Default()
	p.RefCacheSize = -1
	assert.Error(t, p.Validate())
}
