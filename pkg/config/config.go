/*
Package config parses and validates the cluster's config.ini documents
(the shared config.ini and per-unit config_<unit>.ini), and separately
the process-level Settings a leader or worker binary boots from.

Cluster configuration (what this file validates) is cluster *data*: it
lives in pkg/store's config_history table, is edited through the
LeaderAPI, and is pushed out to workers. It is not to be confused with
the Settings struct below, which is populated once at process startup
from flags and never touches the store.
*/
package config

import (
	"fmt"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/pioreactor/cluster-core/pkg/apierror"
)

// RequiredKeys are the (section, key) pairs every accepted config.ini
// revision must define.
var RequiredKeys = [][2]string{
	{"cluster.topology", "leader_hostname"},
	{"cluster.topology", "leader_address"},
}

// RequiredSections beyond the individually-keyed requirements above.
var RequiredSections = []string{"mqtt"}

// dashNormalizations maps Unicode en/em dashes to a hyphen-minus, applied
// to every value before validation and storage.
var dashNormalizations = []string{
	"–", "-", // en dash
	"—", "-", // em dash
}

// Validate parses raw as strict INI (rejecting duplicate sections or
// keys), normalizes dashes in every value, checks the required
// sections/keys, and rejects any address value that looks like a URL.
// It returns the normalized document bytes ready to persist.
func Validate(raw string) (string, error) {
	normalized := normalizeDashes(raw)

	file, err := ini.LoadSources(ini.LoadOptions{
		AllowNonUniqueSections: false,
		AllowDuplicateShadowValues: false,
	}, []byte(normalized))
	if err != nil {
		return "", apierror.Validationf("invalid INI syntax: %v", err)
	}

	if err := rejectDuplicates(normalized); err != nil {
		return "", err
	}

	var missing []string
	for _, sec := range RequiredSections {
		if !file.HasSection(sec) {
			missing = append(missing, fmt.Sprintf("[%s]", sec))
		}
	}
	for _, rk := range RequiredKeys {
		sec, key := rk[0], rk[1]
		s, err := file.GetSection(sec)
		if err != nil || !s.HasKey(key) || s.Key(key).String() == "" {
			missing = append(missing, fmt.Sprintf("%s.%s", sec, key))
		}
	}
	if len(missing) > 0 {
		return "", apierror.Validationf("missing required field(s): %s", strings.Join(missing, ", "))
	}

	for _, sec := range file.Sections() {
		for _, key := range sec.Keys() {
			v := key.String()
			if looksLikeAddress(sec.Name(), key.Name()) && isURL(v) {
				return "", apierror.Validationf("%s.%s must be a bare host[:port], not a URL: %q", sec.Name(), key.Name(), v)
			}
		}
	}

	return normalized, nil
}

func normalizeDashes(raw string) string {
	out := raw
	for i := 0; i < len(dashNormalizations); i += 2 {
		out = strings.ReplaceAll(out, dashNormalizations[i], dashNormalizations[i+1])
	}
	return out
}

func isURL(v string) bool {
	lower := strings.ToLower(strings.TrimSpace(v))
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func looksLikeAddress(section, key string) bool {
	key = strings.ToLower(key)
	return strings.Contains(key, "address") || strings.Contains(key, "hostname") || section == "network.peers"
}

// rejectDuplicates performs a second, line-oriented pass because
// gopkg.in/ini.v1's default loader silently keeps the last occurrence of
// a duplicate section or key; the update must be rejected
// outright instead.
func rejectDuplicates(raw string) error {
	seenSections := map[string]bool{}
	seenKeys := map[string]bool{}
	currentSection := ini.DefaultSection

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, ";") || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			name := strings.TrimSpace(line[1 : len(line)-1])
			if seenSections[name] {
				return apierror.Validationf("duplicate section [%s]", name)
			}
			seenSections[name] = true
			currentSection = name
			continue
		}
		idx := strings.IndexAny(line, "=:")
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		full := currentSection + "." + key
		if seenKeys[full] {
			return apierror.Validationf("duplicate key %q in section [%s]", key, currentSection)
		}
		seenKeys[full] = true
	}
	return nil
}

// Settings is process-level configuration for a leader or worker binary,
// populated once from cobra/pflag flags at startup. It is distinct from
// the config.ini documents validated above.
type Settings struct {
	DataDir    string
	BindAddr   string
	BrokerURL  string
	LogLevel   string
	LogJSON    bool
	UnitName   string
	AppVersion string
}
