/*
Package pluginregistry loads third-party route and background-tool
manifests at startup (the "dynamic plugin discovery" redesign
cue) so the leader and worker HTTP servers can register them through
their normal router calls — never via import side effects.

A plugin ships a single plugin.yaml under <data-dir>/plugins/<name>/
naming zero or more HTTP routes and zero or more background tool
definitions. Routes select among a small, fixed set of generic handler
kinds (no arbitrary compiled code ships inside a plugin): a plugin that
needs real behavior reaches it through proxy-to-bus (publish a fixed
topic template) or static-metadata (serve a canned JSON/YAML document),
or contrib-listing (fold its tool/automation metadata into an existing
/api/contrib/* listing).
*/
package pluginregistry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// HandlerKind selects which generic handler a RouteManifest's route is
// served by; plugins never ship their own compiled handler code.
type HandlerKind string

const (
	HandlerProxyToBus     HandlerKind = "proxy-to-bus"
	HandlerStaticMetadata HandlerKind = "static-metadata"
	HandlerContribListing HandlerKind = "contrib-listing"
)

// Route is one HTTP route a plugin asks to have registered.
type Route struct {
	Method string      `yaml:"method"`
	Path   string      `yaml:"path"`
	Kind   HandlerKind `yaml:"kind"`
	// Topic is the MQTT topic template for HandlerProxyToBus routes.
	Topic string `yaml:"topic,omitempty"`
	// Metadata is the canned document served by HandlerStaticMetadata
	// and folded into listings by HandlerContribListing.
	Metadata map[string]any `yaml:"metadata,omitempty"`
	// Surface is "leader" or "worker"; a route is only registered on
	// the server whose surface matches.
	Surface string `yaml:"surface"`
}

// Tool is a background tool definition surfaced through
// /api/contrib/jobs and /unit_api/capabilities.
type Tool struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
	JobName     string `yaml:"job_name"`
}

// Manifest is one plugin.yaml's contents.
type Manifest struct {
	Name    string  `yaml:"name"`
	Version string  `yaml:"version,omitempty"`
	Routes  []Route `yaml:"routes,omitempty"`
	Tools   []Tool  `yaml:"tools,omitempty"`
}

// Registry is the set of manifests loaded at startup, indexed for the
// two things callers need: routes to register on a given surface, and
// tools to list in contrib metadata.
type Registry struct {
	manifests []Manifest
}

// Load reads every <dir>/<plugin>/plugin.yaml and returns a Registry.
// A missing dir is not an error (no plugins installed); a malformed
// manifest is skipped with its error returned in the errs slice so one
// bad plugin cannot prevent the rest, or the whole process, from
// starting.
func Load(dir string) (*Registry, []error) {
	reg := &Registry{}

	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return reg, nil
	}
	if err != nil {
		return reg, []error{fmt.Errorf("pluginregistry: read %s: %w", dir, err)}
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		path := filepath.Join(dir, name, "plugin.yaml")
		raw, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("pluginregistry: read %s: %w", path, err))
			continue
		}
		var m Manifest
		if err := yaml.Unmarshal(raw, &m); err != nil {
			errs = append(errs, fmt.Errorf("pluginregistry: parse %s: %w", path, err))
			continue
		}
		if m.Name == "" {
			m.Name = name
		}
		reg.manifests = append(reg.manifests, m)
	}
	return reg, errs
}

// RoutesFor returns every route registered for surface ("leader" or
// "worker"), in manifest-load order.
func (r *Registry) RoutesFor(surface string) []Route {
	var out []Route
	for _, m := range r.manifests {
		for _, rt := range m.Routes {
			if rt.Surface == surface {
				out = append(out, rt)
			}
		}
	}
	return out
}

// Tools returns every background tool across all loaded plugins.
func (r *Registry) Tools() []Tool {
	var out []Tool
	for _, m := range r.manifests {
		out = append(out, m.Tools...)
	}
	return out
}

// Names returns the loaded plugin names, for GET /plugins/installed-style
// introspection.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.manifests))
	for _, m := range r.manifests {
		out = append(out, m.Name)
	}
	return out
}
