package workerapi

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pioreactor/cluster-core/pkg/taskqueue"
)

func newTestSystemManager(t *testing.T) (*SystemManager, string) {
	t.Helper()
	dataDir := t.TempDir()
	q := taskqueue.New(1, 0)
	t.Cleanup(q.Stop)
	return NewSystemManager(dataDir, "unit1", "leader", "1.0.0", false, q), dataDir
}

func TestBrowsePathListsDirectory(t *testing.T) {
	sm, dataDir := newTestSystemManager(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dataDir, "configs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "configs", "a.ini"), []byte("x"), 0o644))

	entry, isFile, _, err := sm.BrowsePath("configs")
	require.NoError(t, err)
	assert.False(t, isFile)
	assert.Contains(t, entry.Files, "a.ini")
}

func TestBrowsePathRejectsTraversal(t *testing.T) {
	sm, _ := newTestSystemManager(t)
	_, _, _, err := sm.BrowsePath("../../etc/passwd")
	require.Error(t, err)
}

func TestBrowsePathRejectsSqliteDownload(t *testing.T) {
	sm, dataDir := newTestSystemManager(t)
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "cluster.sqlite"), []byte("x"), 0o644))

	_, _, _, err := sm.BrowsePath("cluster.sqlite")
	require.Error(t, err)
}

func TestBrowsePathBlockedBySentinel(t *testing.T) {
	sm, dataDir := newTestSystemManager(t)
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, DisallowFileSystemSentinel), []byte(""), 0o644))

	_, _, _, err := sm.BrowsePath("")
	require.Error(t, err)
}

func TestRemoveFileSchedulesTask(t *testing.T) {
	sm, dataDir := newTestSystemManager(t)
	target := filepath.Join(dataDir, "junk.txt")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o644))

	task, err := sm.RemoveFile("junk.txt")
	require.NoError(t, err)
	require.NotNil(t, task)
}

func TestRemoveFileBlockedBySentinel(t *testing.T) {
	sm, dataDir := newTestSystemManager(t)
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, DisallowFileSystemSentinel), []byte(""), 0o644))

	_, err := sm.RemoveFile("junk.txt")
	require.Error(t, err)
}

func TestZipDotPioreactorProducesArchiveWithMetadata(t *testing.T) {
	sm, dataDir := newTestSystemManager(t)
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "config.ini"), []byte("[cluster.topology]"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "cluster.sqlite"), []byte("db"), 0o644))

	dest := filepath.Join(t.TempDir(), "archive.zip")
	require.NoError(t, sm.ZipDotPioreactor(dest))

	zr, err := zip.OpenReader(dest)
	require.NoError(t, err)
	defer zr.Close()

	names := make(map[string]bool, len(zr.File))
	for _, f := range zr.File {
		names[f.Name] = true
	}
	assert.True(t, names[ArchiveMetadataFilename], "metadata entry present")
	assert.True(t, names["config.ini"])
	assert.False(t, names["cluster.sqlite"], "database files excluded")
}

func buildZip(t *testing.T, entries map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "upload.zip")
	out, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(out)
	for name, body := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, out.Close())
	return path
}

func TestExtractZipEntryRejectsTraversalAndAbsolutePaths(t *testing.T) {
	archive := buildZip(t, map[string]string{
		"../../evil.txt":  "escape",
		"/etc/evil.txt":   "absolute",
		"nested/safe.ini": "ok",
	})
	zr, err := zip.OpenReader(archive)
	require.NoError(t, err)
	defer zr.Close()

	destDir := t.TempDir()
	for _, f := range zr.File {
		err := extractZipEntry(f, destDir)
		switch f.Name {
		case "nested/safe.ini":
			require.NoError(t, err)
		default:
			require.Error(t, err, f.Name)
			assert.Contains(t, err.Error(), "escapes the data directory")
		}
	}

	_, statErr := os.Stat(filepath.Join(destDir, "nested", "safe.ini"))
	require.NoError(t, statErr)
	_, statErr = os.Stat(filepath.Join(filepath.Dir(destDir), "evil.txt"))
	assert.True(t, os.IsNotExist(statErr))
}
