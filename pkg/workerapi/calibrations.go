package workerapi

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pioreactor/cluster-core/pkg/apierror"
	"github.com/pioreactor/cluster-core/pkg/localstore"
	"github.com/pioreactor/cluster-core/pkg/types"
)

// DocumentStore is the shape shared by calibrations and estimators: one
// YAML document per name under a device namespace on disk, with the
// active name for each device tracked separately in the worker's local
// KV store.
type DocumentStore struct {
	baseDir string
	local   *localstore.Store
	kind    string // "calibrations" or "estimators", used in error messages
}

func newDocumentStore(dataDir, subdir, kind string, local *localstore.Store) *DocumentStore {
	return &DocumentStore{baseDir: filepath.Join(dataDir, subdir), local: local, kind: kind}
}

// NewCalibrationStore returns a DocumentStore rooted at dataDir/calibrations.
func NewCalibrationStore(dataDir string, local *localstore.Store) *DocumentStore {
	return newDocumentStore(dataDir, "calibrations", "calibration", local)
}

func (d *DocumentStore) deviceDir(device string) (string, error) {
	if device == "" || filepath.Base(device) != device {
		return "", apierror.Validationf("invalid device name %q", device)
	}
	return filepath.Join(d.baseDir, device), nil
}

func (d *DocumentStore) docPath(device, name string) (string, error) {
	if name == "" || filepath.Base(name) != name {
		return "", apierror.Validationf("invalid %s name %q", d.kind, name)
	}
	dir, err := d.deviceDir(device)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name+".yaml"), nil
}

// Devices lists every device namespace with at least one document.
func (d *DocumentStore) Devices() ([]string, error) {
	entries, err := os.ReadDir(d.baseDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, apierror.Internal(err, "list "+d.kind+" devices")
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

// List returns every document name stored for device.
func (d *DocumentStore) List(device string) ([]string, error) {
	dir, err := d.deviceDir(device)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, apierror.Internal(err, "list "+d.kind+"s")
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".yaml" {
			out = append(out, e.Name()[:len(e.Name())-len(".yaml")])
		}
	}
	return out, nil
}

// Get reads and parses the document for device/name into data.
func (d *DocumentStore) Get(device, name string, data any) error {
	path, err := d.docPath(device, name)
	if err != nil {
		return err
	}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return apierror.NotFoundf("no %s %q for device %q", d.kind, name, device)
	}
	if err != nil {
		return apierror.Internal(err, "read "+d.kind)
	}
	if err := yaml.Unmarshal(raw, data); err != nil {
		return apierror.Internal(err, "parse "+d.kind+" document")
	}
	return nil
}

// Put writes doc as device/name.yaml, creating the device directory if
// needed. It does not change which document is active.
func (d *DocumentStore) Put(device, name string, doc any) error {
	path, err := d.docPath(device, name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return apierror.Internal(err, "create "+d.kind+" directory")
	}
	raw, err := yaml.Marshal(doc)
	if err != nil {
		return apierror.Internal(err, "encode "+d.kind+" document")
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return apierror.Internal(err, "write "+d.kind+" document")
	}
	return nil
}

// Delete removes device/name's document. If it was the active document
// for device, the active marker is cleared.
func (d *DocumentStore) Delete(device, name string) error {
	path, err := d.docPath(device, name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return apierror.NotFoundf("no %s %q for device %q", d.kind, name, device)
		}
		return apierror.Internal(err, "delete "+d.kind)
	}

	active, err := d.activeName(device)
	if err == nil && active == name {
		_ = d.clearActive(device)
	}
	return nil
}

func (d *DocumentStore) activeName(device string) (string, error) {
	if d.kind == "calibration" {
		return d.local.ActiveCalibration(device)
	}
	return d.local.ActiveEstimator(device)
}

func (d *DocumentStore) setActive(device, name string) error {
	if d.kind == "calibration" {
		return d.local.SetActiveCalibration(device, name)
	}
	return d.local.SetActiveEstimator(device, name)
}

func (d *DocumentStore) clearActive(device string) error {
	if d.kind == "calibration" {
		return d.local.ClearActiveCalibration(device)
	}
	return d.local.ClearActiveEstimator(device)
}

// SetActive marks device/name as the active document for device,
// failing if no such document exists.
func (d *DocumentStore) SetActive(device, name string) error {
	path, err := d.docPath(device, name)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		return apierror.NotFoundf("no %s %q for device %q", d.kind, name, device)
	}
	if err := d.setActive(device, name); err != nil {
		return apierror.Internal(err, "set active "+d.kind)
	}
	return nil
}

// Active returns the name and parsed document currently active for
// device, or apierror KindNotFound if nothing is marked active.
func (d *DocumentStore) Active(device string, data any) (string, error) {
	name, err := d.activeName(device)
	if err == localstore.ErrNoActive {
		return "", apierror.NotFoundf("no active %s for device %q", d.kind, device)
	}
	if err != nil {
		return "", apierror.Internal(err, "read active "+d.kind)
	}
	if err := d.Get(device, name, data); err != nil {
		return "", err
	}
	return name, nil
}

// ClearActive removes the active marker for device without deleting
// any document.
func (d *DocumentStore) ClearActive(device string) error {
	if err := d.clearActive(device); err != nil {
		return apierror.Internal(err, "clear active "+d.kind)
	}
	return nil
}

// NewCalibrationDoc builds a CalibrationDoc stamped with the current time.
func NewCalibrationDoc(device, name string, data map[string]any) *types.CalibrationDoc {
	return &types.CalibrationDoc{
		Device:    device,
		Name:      name,
		CreatedAt: time.Now().UTC(),
		Data:      data,
	}
}

// ZipArchivePath returns the path a zipped listing of every device's
// documents is written to by WriteZipArchive.
func (d *DocumentStore) ZipArchivePath(uploadsDir string) string {
	return filepath.Join(uploadsDir, fmt.Sprintf("%ss.zip", d.kind))
}

// WriteZipArchive bundles every device/name document under baseDir into
// a single zip at ZipArchivePath(uploadsDir), serving GET
// /zipped_calibrations and /zipped_estimators.
func (d *DocumentStore) WriteZipArchive(uploadsDir string) (string, error) {
	if err := os.MkdirAll(uploadsDir, 0o755); err != nil {
		return "", apierror.Internal(err, "create uploads directory")
	}
	dest := d.ZipArchivePath(uploadsDir)

	out, err := os.Create(dest)
	if err != nil {
		return "", apierror.Internal(err, "create "+d.kind+" archive")
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	defer zw.Close()

	err = filepath.Walk(d.baseDir, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if info.IsDir() || filepath.Ext(path) != ".yaml" {
			return nil
		}
		rel, err := filepath.Rel(d.baseDir, path)
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		w, err := zw.Create(rel)
		if err != nil {
			return err
		}
		_, err = io.Copy(w, f)
		return err
	})
	if err != nil {
		return "", apierror.Internal(err, "write "+d.kind+" archive")
	}
	return dest, nil
}
