package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate())
}

func TestLoadFillsInDefaultsForUnsetFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ffs.yaml")
	contents := `
cluster:
  node_id: mgmtd-1
  bootstrap_peers:
    - 10.0.0.1:8000
    - 10.0.0.2:8000
data_dir: /var/lib/ffs
`
	require.NoError(t, writeFile(path, contents))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "mgmtd-1", cfg.Cluster.NodeID)
	assert.Equal(t, []string{"10.0.0.1:8000", "10.0.0.2:8000"}, cfg.Cluster.BootstrapPeers)
	assert.Equal(t, "/var/lib/ffs", cfg.DataDir)

	// Fields the file didn't set fall back to Default()'s values.
	assert.Equal(t, Default().Timeouts.NodeTimeout, cfg.Timeouts.NodeTimeout)
	assert.Equal(t, Default().Layout.ChunkSize, cfg.Layout.ChunkSize)
	assert.Equal(t, Default().ListenAddr, cfg.ListenAddr)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.Error(t, err)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, writeFile(path, "layout:\n  chunk_size: 3\n"))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateRejectsNonPowerOfTwoChunkSize(t *testing.T) {
	cfg := Default()
	cfg.Layout.ChunkSize = 100
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsZeroStripeSize(t *testing.T) {
	cfg := Default()
	cfg.Layout.StripeSize = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsMissingNodeID(t *testing.T) {
	cfg := Default()
	cfg.Cluster.NodeID = ""
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsRetryMaxBelowInitial(t *testing.T) {
	cfg := Default()
	cfg.Timeouts.RetryInitial = cfg.Timeouts.RetryMax + 1
	assert.Error(t, cfg.Validate())
}

func writeFile(path, contents string) error {
	return os.WriteFile(path, []byte(contents), 0o644)
}
