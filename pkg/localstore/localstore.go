package localstore

import (
	"errors"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketActiveCalibrations = []byte("active_calibrations")
	bucketActiveEstimators   = []byte("active_estimators")
)

// ErrNoActive is returned by ActiveCalibration/ActiveEstimator when no
// document is marked active for the given device namespace.
var ErrNoActive = errors.New("no active document for device")

// Store is the worker-local key/value store.
type Store struct {
	db *bolt.DB
}

// Open creates (if absent) and opens worker.db under dataDir.
func Open(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "worker.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open worker-local store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketActiveCalibrations, bucketActiveEstimators} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) setActive(bucket []byte, device, name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put([]byte(device), []byte(name))
	})
}

func (s *Store) getActive(bucket []byte, device string) (string, error) {
	var name string
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucket).Get([]byte(device))
		if v == nil {
			return ErrNoActive
		}
		name = string(v)
		return nil
	})
	return name, err
}

func (s *Store) clearActive(bucket []byte, device string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Delete([]byte(device))
	})
}

// SetActiveCalibration marks name as the active calibration for device.
// Idempotent: calling it again with the same name is a no-op in effect.
func (s *Store) SetActiveCalibration(device, name string) error {
	return s.setActive(bucketActiveCalibrations, device, name)
}

// ActiveCalibration returns the active calibration name for device, or
// ErrNoActive if none is set.
func (s *Store) ActiveCalibration(device string) (string, error) {
	return s.getActive(bucketActiveCalibrations, device)
}

// ClearActiveCalibration removes the active marker for device.
// Idempotent: clearing an already-clear device succeeds.
func (s *Store) ClearActiveCalibration(device string) error {
	return s.clearActive(bucketActiveCalibrations, device)
}

// SetActiveEstimator marks name as the active estimator for device.
func (s *Store) SetActiveEstimator(device, name string) error {
	return s.setActive(bucketActiveEstimators, device, name)
}

// ActiveEstimator returns the active estimator name for device, or
// ErrNoActive if none is set.
func (s *Store) ActiveEstimator(device string) (string, error) {
	return s.getActive(bucketActiveEstimators, device)
}

// ClearActiveEstimator removes the active marker for device.
func (s *Store) ClearActiveEstimator(device string) error {
	return s.clearActive(bucketActiveEstimators, device)
}

// AllActiveCalibrations returns the full device -> active-name map.
func (s *Store) AllActiveCalibrations() (map[string]string, error) {
	return s.all(bucketActiveCalibrations)
}

// AllActiveEstimators returns the full device -> active-name map.
func (s *Store) AllActiveEstimators() (map[string]string, error) {
	return s.all(bucketActiveEstimators)
}

func (s *Store) all(bucket []byte) (map[string]string, error) {
	out := make(map[string]string)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).ForEach(func(k, v []byte) error {
			out[string(k)] = string(v)
			return nil
		})
	})
	return out, err
}
