package leaderapi

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"gopkg.in/yaml.v3"

	"github.com/pioreactor/cluster-core/pkg/apierror"
	"github.com/pioreactor/cluster-core/pkg/types"
)

// ProfilesSubdir is where experiment profile YAML documents live under
// the leader's data directory.
const ProfilesSubdir = "experiment_profiles"

// Profile is the fixed schema every experiment profile document must
// validate against: metadata plus an ordered list of stages, each stage
// an ordered list of job actions.
type Profile struct {
	ExperimentProfileName string          `yaml:"experiment_profile_name" json:"experiment_profile_name"`
	Metadata              ProfileMetadata `yaml:"metadata,omitempty" json:"metadata,omitempty"`
	Stages                []ProfileStage  `yaml:"stages" json:"stages"`
}

type ProfileMetadata struct {
	Author      string `yaml:"author,omitempty" json:"author,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

type ProfileStage struct {
	Name         string          `yaml:"name,omitempty" json:"name,omitempty"`
	DelaySeconds float64         `yaml:"delay_seconds,omitempty" json:"delay_seconds,omitempty"`
	Actions      []ProfileAction `yaml:"actions" json:"actions"`
}

type ProfileAction struct {
	Type    string            `yaml:"type" json:"type"` // start | stop | update
	Job     string            `yaml:"job" json:"job"`
	Unit    string            `yaml:"unit,omitempty" json:"unit,omitempty"` // defaults to $broadcast
	Options map[string]any    `yaml:"options,omitempty" json:"options,omitempty"`
	Settings map[string]string `yaml:"settings,omitempty" json:"settings,omitempty"`
}

// validatePortableFilename accepts ASCII letters, digits, ._-, and
// single spaces; no leading . or -; not . or ..; at most 255 bytes.
func validatePortableFilename(name string) error {
	if name == "" || name == "." || name == ".." {
		return apierror.Validationf("invalid filename")
	}
	if len(name) > 255 {
		return apierror.Validationf("filename exceeds 255 bytes")
	}
	if name[0] == '.' || name[0] == '-' {
		return apierror.Validationf("filename may not start with %q", string(name[0]))
	}
	prevSpace := false
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '.', c == '_', c == '-':
			prevSpace = false
		case c == ' ':
			if prevSpace {
				return apierror.Validationf("filename may not contain consecutive spaces")
			}
			prevSpace = true
		default:
			return apierror.Validationf("filename contains disallowed character %q", string(c))
		}
	}
	return nil
}

func validateProfileFilename(name string) error {
	if err := validatePortableFilename(name); err != nil {
		return err
	}
	if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
		return apierror.Validationf("profile filename must end in .yaml or .yml")
	}
	return nil
}

// parseProfile validates raw against the Profile schema.
func parseProfile(raw []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, apierror.Validationf("invalid profile YAML: %v", err)
	}
	if p.ExperimentProfileName == "" {
		return nil, apierror.Validationf("experiment_profile_name is required")
	}
	for i, stage := range p.Stages {
		if len(stage.Actions) == 0 {
			return nil, apierror.Validationf("stage %d has no actions", i)
		}
		for j, a := range stage.Actions {
			switch a.Type {
			case "start", "stop", "update":
			default:
				return nil, apierror.Validationf("stage %d action %d has invalid type %q", i, j, a.Type)
			}
			if a.Job == "" {
				return nil, apierror.Validationf("stage %d action %d is missing job", i, j)
			}
		}
	}
	return &p, nil
}

func (s *Server) profilesDir() string {
	return filepath.Join(s.DataDir, ProfilesSubdir)
}

func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	entries, err := os.ReadDir(s.profilesDir())
	if os.IsNotExist(err) {
		writeJSON(w, http.StatusOK, []string{})
		return
	}
	if err != nil {
		apierror.WriteJSON(w, apierror.Internal(err, "list profiles"))
		return
	}
	names := []string{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), ".yaml") || strings.HasSuffix(e.Name(), ".yml") {
			names = append(names, e.Name())
		}
	}
	writeJSON(w, http.StatusOK, names)
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	filename := mux.Vars(r)["filename"]
	if err := validateProfileFilename(filename); err != nil {
		apierror.WriteJSON(w, err)
		return
	}
	raw, err := os.ReadFile(filepath.Join(s.profilesDir(), filename))
	if os.IsNotExist(err) {
		apierror.WriteJSON(w, apierror.NotFoundf("profile %q not found", filename))
		return
	}
	if err != nil {
		apierror.WriteJSON(w, apierror.Internal(err, "read profile"))
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

func (s *Server) handleCreateProfile(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Filename string `json:"filename"`
		Body     string `json:"body"`
	}
	if err := decodeJSON(r, &body); err != nil {
		apierror.WriteJSON(w, err)
		return
	}
	s.saveProfile(w, body.Filename, body.Body, true)
}

func (s *Server) handlePutProfile(w http.ResponseWriter, r *http.Request) {
	filename := mux.Vars(r)["filename"]
	var body struct {
		Body string `json:"body"`
	}
	if err := decodeJSON(r, &body); err != nil {
		apierror.WriteJSON(w, err)
		return
	}
	s.saveProfile(w, filename, body.Body, false)
}

func (s *Server) saveProfile(w http.ResponseWriter, filename, body string, mustNotExist bool) {
	if err := validateProfileFilename(filename); err != nil {
		apierror.WriteJSON(w, err)
		return
	}
	if _, err := parseProfile([]byte(body)); err != nil {
		apierror.WriteJSON(w, err)
		return
	}
	dest := filepath.Join(s.profilesDir(), filename)
	if mustNotExist {
		if _, err := os.Stat(dest); err == nil {
			apierror.WriteJSON(w, apierror.Conflictf("profile %q already exists", filename))
			return
		}
	}
	if err := os.MkdirAll(s.profilesDir(), 0o755); err != nil {
		apierror.WriteJSON(w, apierror.Internal(err, "create profiles directory"))
		return
	}
	if err := os.WriteFile(dest, []byte(body), 0o644); err != nil {
		apierror.WriteJSON(w, apierror.Internal(err, "write profile"))
		return
	}
	status := http.StatusOK
	if mustNotExist {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]string{"filename": filename})
}

func (s *Server) handleDeleteProfile(w http.ResponseWriter, r *http.Request) {
	filename := mux.Vars(r)["filename"]
	if err := validateProfileFilename(filename); err != nil {
		apierror.WriteJSON(w, err)
		return
	}
	err := os.Remove(filepath.Join(s.profilesDir(), filename))
	if os.IsNotExist(err) {
		apierror.WriteJSON(w, apierror.NotFoundf("profile %q not found", filename))
		return
	}
	if err != nil {
		apierror.WriteJSON(w, apierror.Internal(err, "delete profile"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleExecuteProfile runs a stored profile as a background task: each
// stage's actions are translated, in declared order, into the same
// run/stop/update paths the direct job endpoints use. Profiles run under
// no named lock; several may run concurrently.
func (s *Server) handleExecuteProfile(w http.ResponseWriter, r *http.Request) {
	filename := mux.Vars(r)["filename"]
	if err := validateProfileFilename(filename); err != nil {
		apierror.WriteJSON(w, err)
		return
	}
	var body struct {
		Experiment string `json:"experiment"`
	}
	if err := decodeJSON(r, &body); err != nil {
		apierror.WriteJSON(w, err)
		return
	}
	if body.Experiment == "" {
		apierror.WriteJSON(w, apierror.Validationf("experiment field is required"))
		return
	}

	raw, err := os.ReadFile(filepath.Join(s.profilesDir(), filename))
	if os.IsNotExist(err) {
		apierror.WriteJSON(w, apierror.NotFoundf("profile %q not found", filename))
		return
	}
	if err != nil {
		apierror.WriteJSON(w, apierror.Internal(err, "read profile"))
		return
	}
	profile, err := parseProfile(raw)
	if err != nil {
		apierror.WriteJSON(w, err)
		return
	}

	experiment := body.Experiment
	task := s.Tasks.Submit("execute_profile", "", func(ctx context.Context) (any, error) {
		executed := 0
		for _, stage := range profile.Stages {
			if stage.DelaySeconds > 0 {
				select {
				case <-time.After(time.Duration(stage.DelaySeconds * float64(time.Second))):
				case <-ctx.Done():
					return map[string]int{"actions_executed": executed}, ctx.Err()
				}
			}
			for _, a := range stage.Actions {
				unit := a.Unit
				if unit == "" {
					unit = types.BroadcastUnit
				}
				var err error
				switch a.Type {
				case "start":
					_, err = s.Orchestrator.RunJob(ctx, unit, a.Job, experiment, types.RunJobPayload{Options: a.Options})
				case "stop":
					_, err = s.Orchestrator.StopJob(ctx, unit, a.Job, experiment)
				case "update":
					_, err = s.Orchestrator.UpdateJobSettings(ctx, unit, a.Job, experiment, a.Settings)
				}
				if err != nil {
					return map[string]int{"actions_executed": executed}, err
				}
				executed++
			}
		}
		return map[string]int{"actions_executed": executed}, nil
	})
	writeTask(w, task)
}
