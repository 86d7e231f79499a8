package pluginregistry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePlugin(t *testing.T, dir, name, body string) {
	t.Helper()
	pdir := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(pdir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(pdir, "plugin.yaml"), []byte(body), 0o644))
}

func TestLoadMissingDirIsNotAnError(t *testing.T) {
	reg, errs := Load(filepath.Join(t.TempDir(), "nope"))
	assert.Empty(t, errs)
	assert.Empty(t, reg.Names())
}

func TestLoadRegistersRoutesAndTools(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, dir, "stir-extra", `
name: stir-extra
routes:
  - method: GET
    path: /contrib/stir-extra/status
    kind: static-metadata
    surface: leader
    metadata:
      ok: true
tools:
  - name: stir-extra
    job_name: stir_extra
`)

	reg, errs := Load(dir)
	require.Empty(t, errs)
	assert.Equal(t, []string{"stir-extra"}, reg.Names())
	assert.Len(t, reg.RoutesFor("leader"), 1)
	assert.Empty(t, reg.RoutesFor("worker"))
	assert.Len(t, reg.Tools(), 1)
}

func TestLoadSkipsMalformedManifestButKeepsOthers(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, dir, "broken", "not: [valid yaml")
	writePlugin(t, dir, "good", "name: good\n")

	reg, errs := Load(dir)
	require.Len(t, errs, 1)
	assert.Equal(t, []string{"good"}, reg.Names())
}
