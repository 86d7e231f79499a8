package workerapi

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pioreactor/cluster-core/pkg/apierror"
	"github.com/pioreactor/cluster-core/pkg/taskqueue"
	"github.com/pioreactor/cluster-core/pkg/types"
)

// DisallowFileSystemSentinel, when present at the data directory root,
// disables every /system/path and /system/remove_file operation.
const DisallowFileSystemSentinel = "DISALLOW_UI_FILE_SYSTEM"

// DisallowInstallsSentinel, when present, disables /plugins/install and
// /plugins/uninstall.
const DisallowInstallsSentinel = "DISALLOW_UI_INSTALLS"

var blockedFileSuffixes = []string{".sqlite", ".sqlite.backup", ".sqlite-shm", ".sqlite-wal"}

// Lock names shared with taskqueue.Queue.Submit for the operations this
// file schedules.
const (
	LockUpdate      = "update-lock"
	LockPower       = "power-lock"
	LockClock       = "clock-lock"
	LockWebRestart  = "web-restart-lock"
	LockImportDotPr = "import-dot-pioreactor-lock"
)

// ArchiveMetadata is embedded in every zipped_dot_pioreactor archive.
type ArchiveMetadata struct {
	MetadataVersion int       `json:"metadata_version" yaml:"metadata_version"`
	Name            string    `json:"name" yaml:"name"`
	LeaderHostname  string    `json:"leader_hostname" yaml:"leader_hostname"`
	IsLeader        bool      `json:"is_leader" yaml:"is_leader"`
	AppVersion      string    `json:"app_version" yaml:"app_version"`
	ExportedAtUTC   time.Time `json:"exported_at_utc" yaml:"exported_at_utc"`
}

// SystemManager implements the worker's filesystem-browsing, power, and
// clock-sync endpoints. File removal, reboot, shutdown, update and clock
// operations are scheduled on the shared taskqueue.Queue rather than
// performed inline on the request goroutine; all but file removal run
// under a named lock. WriteUnitConfig writes inline.
type SystemManager struct {
	dataDir        string
	tasks          *taskqueue.Queue
	leaderHostname string
	unitName       string
	isLeader       bool
	appVersion     string
}

// NewSystemManager returns a SystemManager rooted at dataDir.
func NewSystemManager(dataDir, unitName, leaderHostname, appVersion string, isLeader bool, tasks *taskqueue.Queue) *SystemManager {
	return &SystemManager{
		dataDir:        dataDir,
		tasks:          tasks,
		unitName:       unitName,
		leaderHostname: leaderHostname,
		isLeader:       isLeader,
		appVersion:     appVersion,
	}
}

func (s *SystemManager) sentinelPresent(name string) bool {
	_, err := os.Stat(filepath.Join(s.dataDir, name))
	return err == nil
}

// PathEntry describes one directory listing returned by BrowsePath.
type PathEntry struct {
	Current string   `json:"current"`
	Dirs    []string `json:"dirs"`
	Files   []string `json:"files"`
}

// BrowsePath lists a directory, or reports that reqPath names a file the
// caller should stream directly (isFile true, safePath set).
func (s *SystemManager) BrowsePath(reqPath string) (entry *PathEntry, isFile bool, safePath string, err error) {
	if s.sentinelPresent(DisallowFileSystemSentinel) {
		return nil, false, "", apierror.Policyf("%s is present", DisallowFileSystemSentinel)
	}

	safe, err := s.safeJoin(reqPath)
	if err != nil {
		return nil, false, "", err
	}

	info, statErr := os.Stat(safe)
	if os.IsNotExist(statErr) {
		return nil, false, "", apierror.NotFoundf("path not found: %s", reqPath)
	}
	if statErr != nil {
		return nil, false, "", apierror.Internal(statErr, "stat path")
	}

	if info.IsDir() {
		entries, err := os.ReadDir(safe)
		if err != nil {
			return nil, false, "", apierror.Internal(err, "read directory")
		}
		out := &PathEntry{Current: safe}
		for _, e := range entries {
			if e.Name() == "__pycache__" {
				continue
			}
			if e.IsDir() {
				out.Dirs = append(out.Dirs, e.Name())
			} else {
				out.Files = append(out.Files, e.Name())
			}
		}
		return out, false, "", nil
	}

	for _, suffix := range blockedFileSuffixes {
		if strings.HasSuffix(safe, suffix) {
			return nil, false, "", apierror.Policyf("access to downloading sqlite files is restricted")
		}
	}
	return nil, true, safe, nil
}

// safeJoin resolves reqPath against dataDir and rejects anything that
// would escape it.
func (s *SystemManager) safeJoin(reqPath string) (string, error) {
	base, err := filepath.Abs(s.dataDir)
	if err != nil {
		return "", apierror.Internal(err, "resolve data directory")
	}
	candidate := filepath.Join(base, filepath.Clean("/"+reqPath))
	rel, err := filepath.Rel(base, candidate)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", apierror.Policyf("access to this path is not allowed")
	}
	return candidate, nil
}

// WriteUnitConfig persists a config document pushed by the leader as
// this unit's unit_config.ini.
func (s *SystemManager) WriteUnitConfig(data string) error {
	dest := filepath.Join(s.dataDir, "unit_config.ini")
	if err := os.WriteFile(dest, []byte(data), 0o644); err != nil {
		return apierror.Internal(err, "write unit config")
	}
	return nil
}

// RemoveFile schedules deletion of the file at reqPath.
func (s *SystemManager) RemoveFile(reqPath string) (*types.Task, error) {
	if s.sentinelPresent(DisallowFileSystemSentinel) {
		return nil, apierror.Policyf("%s is present", DisallowFileSystemSentinel)
	}
	safe, err := s.safeJoin(reqPath)
	if err != nil {
		return nil, err
	}
	return s.tasks.Submit("remove_file", "", func(ctx context.Context) (any, error) {
		if err := os.Remove(safe); err != nil {
			return nil, fmt.Errorf("remove %s: %w", reqPath, err)
		}
		return map[string]string{"removed": reqPath}, nil
	}), nil
}

// Reboot schedules a unit reboot under power-lock.
func (s *SystemManager) Reboot(reboot func(ctx context.Context) error) *types.Task {
	return s.tasks.Submit("reboot", LockPower, func(ctx context.Context) (any, error) {
		return nil, reboot(ctx)
	})
}

// Shutdown schedules a unit shutdown under power-lock.
func (s *SystemManager) Shutdown(shutdown func(ctx context.Context) error) *types.Task {
	return s.tasks.Submit("shutdown", LockPower, func(ctx context.Context) (any, error) {
		return nil, shutdown(ctx)
	})
}

// Update schedules an app update under update-lock; target is the
// optional /system/update/<target> path segment (e.g. app or ui).
func (s *SystemManager) Update(target string, update func(ctx context.Context, target string) error) *types.Task {
	return s.tasks.Submit("update", LockUpdate, func(ctx context.Context) (any, error) {
		return nil, update(ctx, target)
	})
}

// SetUTCClock schedules writing the system clock to newTime, scheduled
// under clock-lock. Workers that are not the leader instead sync
// against the leader via chrony (syncLeader).
func (s *SystemManager) SetUTCClock(newTime time.Time, setClock func(ctx context.Context, t time.Time) error, syncLeader func(ctx context.Context) error) *types.Task {
	if s.isLeader {
		return s.tasks.Submit("update_clock", LockClock, func(ctx context.Context) (any, error) {
			return nil, setClock(ctx, newTime)
		})
	}
	return s.tasks.Submit("sync_clock", LockClock, func(ctx context.Context) (any, error) {
		return nil, syncLeader(ctx)
	})
}

// ZipDotPioreactor archives the data directory (excluding every file
// whose path contains ".sqlite": the databases and their backup, -shm
// and -wal files) into destPath, embedding ArchiveMetadata at the
// archive root.
func (s *SystemManager) ZipDotPioreactor(destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return apierror.Internal(err, "create archive directory")
	}
	out, err := os.Create(destPath)
	if err != nil {
		return apierror.Internal(err, "create archive")
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	defer zw.Close()

	meta := ArchiveMetadata{
		MetadataVersion: 1,
		Name:            s.unitName,
		LeaderHostname:  s.leaderHostname,
		IsLeader:        s.isLeader,
		AppVersion:      s.appVersion,
		ExportedAtUTC:   time.Now().UTC(),
	}
	if err := writeMetadataEntry(zw, meta); err != nil {
		return err
	}

	return filepath.Walk(s.dataDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if isDatabaseBackupFile(path) {
			return nil
		}
		rel, err := filepath.Rel(s.dataDir, path)
		if err != nil {
			return err
		}
		return copyFileIntoZip(zw, path, rel)
	})
}

func isDatabaseBackupFile(path string) bool {
	return strings.Contains(path, ".sqlite")
}

// ArchiveMetadataFilename sits at the root of every exported archive.
const ArchiveMetadataFilename = "pioreactor_export_metadata.json"

func writeMetadataEntry(zw *zip.Writer, meta ArchiveMetadata) error {
	w, err := zw.Create(ArchiveMetadataFilename)
	if err != nil {
		return apierror.Internal(err, "create archive metadata entry")
	}
	return json.NewEncoder(w).Encode(meta)
}

func copyFileIntoZip(zw *zip.Writer, srcPath, archiveName string) error {
	f, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer f.Close()

	w, err := zw.Create(archiveName)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, f)
	return err
}

// ImportDotPioreactor schedules extraction of an uploaded archive under
// import-dot-pioreactor-lock, validating its metadata entry if present.
func (s *SystemManager) ImportDotPioreactor(file multipart.File, header *multipart.FileHeader) *types.Task {
	return s.tasks.Submit("import_dot_pioreactor", LockImportDotPr, func(ctx context.Context) (any, error) {
		defer file.Close()

		tmp, err := os.CreateTemp("", "import-*.zip")
		if err != nil {
			return nil, err
		}
		defer os.Remove(tmp.Name())
		defer tmp.Close()

		if _, err := io.Copy(tmp, file); err != nil {
			return nil, err
		}

		zr, err := zip.OpenReader(tmp.Name())
		if err != nil {
			return nil, fmt.Errorf("open uploaded archive: %w", err)
		}
		defer zr.Close()

		for _, f := range zr.File {
			if f.Name == ArchiveMetadataFilename {
				rc, err := f.Open()
				if err != nil {
					return nil, err
				}
				var meta ArchiveMetadata
				decErr := json.NewDecoder(rc).Decode(&meta)
				rc.Close()
				if decErr != nil {
					return nil, fmt.Errorf("invalid archive metadata: %w", decErr)
				}
				if meta.MetadataVersion > 1 {
					return nil, fmt.Errorf("archive metadata version %d is newer than this app understands", meta.MetadataVersion)
				}
				break
			}
		}

		for _, f := range zr.File {
			if f.Name == ArchiveMetadataFilename || f.FileInfo().IsDir() {
				continue
			}
			if err := extractZipEntry(f, s.dataDir); err != nil {
				return nil, err
			}
		}
		return map[string]string{"imported_from": header.Filename}, nil
	})
}

func extractZipEntry(f *zip.File, destDir string) error {
	// Same safe-join discipline as BrowsePath/RemoveFile: an archive
	// entry naming an absolute or traversal path must not escape destDir.
	if filepath.IsAbs(f.Name) {
		return fmt.Errorf("archive entry %q escapes the data directory", f.Name)
	}
	destPath := filepath.Join(destDir, f.Name)
	rel, err := filepath.Rel(destDir, destPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("archive entry %q escapes the data directory", f.Name)
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, rc)
	return err
}
