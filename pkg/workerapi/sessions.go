package workerapi

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pioreactor/cluster-core/pkg/apierror"
)

// SessionStep is one prompt/response round of a calibration wizard.
type SessionStep struct {
	Name    string         `json:"name"`
	Prompt  string         `json:"prompt"`
	Reading map[string]any `json:"reading,omitempty"`
}

// CalibrationSession is one in-flight interactive calibration wizard for
// a device, keyed by a generated id. Applying a step's reading via
// Advance either returns the next step's prompt or, once every step has
// been collected, the finished document the caller should persist
// through a DocumentStore.
//
// In-memory and per-process: one command at a time under a single
// mutex, no persistence. A calibration wizard never outlives the
// process running it.
type CalibrationSession struct {
	ID        string           `json:"id"`
	Device    string           `json:"device"`
	Name      string           `json:"calibration_name"`
	Steps     []string         `json:"steps"`
	Cursor    int              `json:"cursor"`
	Readings  []SessionStep    `json:"readings"`
	Done      bool             `json:"done"`
	Aborted   bool             `json:"aborted"`
	createdAt time.Time
}

// SessionRegistry holds every in-flight CalibrationSession, keyed by id.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*CalibrationSession
}

// NewSessionRegistry returns an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]*CalibrationSession)}
}

// Start creates a new session for device/name walking through steps in
// order (e.g. ["blank", "standard_1", "standard_2"] for an OD
// calibration using standards).
func (r *SessionRegistry) Start(device, name string, steps []string) *CalibrationSession {
	s := &CalibrationSession{
		ID:        uuid.New().String(),
		Device:    device,
		Name:      name,
		Steps:     steps,
		createdAt: time.Now(),
	}
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
	return s
}

// Get returns the session for id, or apierror KindNotFound.
func (r *SessionRegistry) Get(id string) (*CalibrationSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, apierror.NotFoundf("no calibration session %q", id)
	}
	return s, nil
}

// Advance records reading as the current step's collected data and
// moves the cursor forward. It returns the session; callers check
// session.Done to know whether to read the next prompt (Steps[Cursor])
// or persist the finished document built from Readings.
func (r *SessionRegistry) Advance(id string, reading map[string]any) (*CalibrationSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, apierror.NotFoundf("no calibration session %q", id)
	}
	if s.Done || s.Aborted {
		return nil, apierror.Conflictf("calibration session %q is no longer active", id)
	}
	if s.Cursor >= len(s.Steps) {
		return nil, apierror.Internal(nil, "calibration session cursor out of range")
	}

	s.Readings = append(s.Readings, SessionStep{Name: s.Steps[s.Cursor], Reading: reading})
	s.Cursor++
	if s.Cursor == len(s.Steps) {
		s.Done = true
	}
	return s, nil
}

// Abort ends the session without producing a document.
func (r *SessionRegistry) Abort(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return apierror.NotFoundf("no calibration session %q", id)
	}
	s.Aborted = true
	return nil
}

// NextPrompt returns the prompt for the session's current step, or ""
// if the session is finished or aborted.
func (s *CalibrationSession) NextPrompt() string {
	if s.Done || s.Aborted || s.Cursor >= len(s.Steps) {
		return ""
	}
	return s.Steps[s.Cursor]
}

// Document collapses every collected reading into the map to hand to
// NewCalibrationDoc once Done is true.
func (s *CalibrationSession) Document() map[string]any {
	data := make(map[string]any, len(s.Readings))
	for _, step := range s.Readings {
		data[step.Name] = step.Reading
	}
	return data
}
