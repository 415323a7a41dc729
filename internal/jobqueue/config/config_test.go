package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_ParsesTopology(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "queues.yaml")
	contents := `
queues:
  - name: ingest
    backend:
      kind: memory
    limiter:
      kind: concurrency
      max_concurrent: 4
      window_n: 10
      window_period: 1s
  - name: export
    backend:
      kind: sqlite
      dsn: "file::memory:?cache=shared"
    limiter:
      kind: concurrency
      max_concurrent: 1
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	topo, err := Load(path)
	require.NoError(t, err)
	require.Len(t, topo.Queues, 2)
	require.Equal(t, "ingest", topo.Queues[0].Name)
	require.Equal(t, "memory", topo.Queues[0].Backend.Kind)
	require.Equal(t, 4, topo.Queues[0].Limiter.MaxConcurrent)
	require.Equal(t, "export", topo.Queues[1].Name)
	require.Equal(t, "sqlite", topo.Queues[1].Backend.Kind)
}

func TestLoad_RejectsMissingName(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "queues.yaml")
	require.NoError(t, os.WriteFile(path, []byte("queues:\n  - backend:\n      kind: memory\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}
