package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const DefaultMaxRunSeconds = 900

// Sanitizers the build and run collaborators understand.
var knownSanitizers = map[string]bool{
	"address":   true,
	"undefined": true,
	"memory":    true,
}

// ConfigError marks any problem with the target declarations: an unreadable
// or malformed resource, a missing field, a duplicate name, or an empty
// enabled set. It is fatal and aborts the run before any build starts.
type ConfigError struct {
	msg string
}

func (e *ConfigError) Error() string { return e.msg }

func configErrorf(format string, args ...any) *ConfigError {
	return &ConfigError{msg: fmt.Sprintf(format, args...)}
}

// ErrNoEnabledTargets is returned when filtering by `enabled` leaves nothing to do.
var ErrNoEnabledTargets = &ConfigError{msg: "no enabled targets found in configuration"}

// Binary is one run variant of a target.
type Binary struct {
	Args          []string `yaml:"args"`
	MaxRunSeconds int      `yaml:"max_run_seconds"`
}

// TargetSpec is one declared fuzz target.
type TargetSpec struct {
	Name        string            `yaml:"name"`
	Project     string            `yaml:"project"`
	FuzzTarget  string            `yaml:"fuzz_target"`
	Sanitizer   string            `yaml:"sanitizer"`
	Dictionary  string            `yaml:"dictionary"`
	Environment map[string]string `yaml:"environment"`
	Binaries    []Binary          `yaml:"binaries"`
	Enabled     *bool             `yaml:"enabled"`
}

// IsEnabled treats an absent `enabled` field as true.
func (t *TargetSpec) IsEnabled() bool {
	return t.Enabled == nil || *t.Enabled
}

// TargetSet is the validated set of enabled targets, in declaration order.
type TargetSet struct {
	Targets []TargetSpec
	byName  map[string]*TargetSpec
}

// ByName returns the target with the given name, or nil.
func (s *TargetSet) ByName(name string) *TargetSpec {
	return s.byName[name]
}

type targetsFile struct {
	Targets []TargetSpec `yaml:"targets"`
}

// LoadTargets reads the declaration file, validates it, and returns the
// enabled targets. Every failure is a *ConfigError.
func LoadTargets(path string) (*TargetSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, configErrorf("read targets config %s: %v", path, err)
	}
	return ParseTargets(data)
}

// ParseTargets parses and validates raw YAML target declarations.
func ParseTargets(data []byte) (*TargetSet, error) {
	var file targetsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, configErrorf("malformed targets config: %v", err)
	}

	seen := make(map[string]bool, len(file.Targets))
	set := &TargetSet{byName: make(map[string]*TargetSpec)}
	for i := range file.Targets {
		t := &file.Targets[i]
		if err := normalize(t); err != nil {
			return nil, err
		}
		if seen[t.Name] {
			return nil, configErrorf("duplicate target name %q", t.Name)
		}
		seen[t.Name] = true
		if !t.IsEnabled() {
			continue
		}
		set.Targets = append(set.Targets, *t)
	}
	for i := range set.Targets {
		set.byName[set.Targets[i].Name] = &set.Targets[i]
	}

	if len(set.Targets) == 0 {
		return nil, ErrNoEnabledTargets
	}
	return set, nil
}

func normalize(t *TargetSpec) error {
	if t.Name == "" {
		return configErrorf("target with project %q is missing a name", t.Project)
	}
	if t.Project == "" {
		return configErrorf("target %q is missing a project", t.Name)
	}
	if t.FuzzTarget == "" {
		return configErrorf("target %q is missing a fuzz_target", t.Name)
	}
	if t.Sanitizer == "" {
		t.Sanitizer = "address"
	}
	if !knownSanitizers[t.Sanitizer] {
		return configErrorf("target %q has unknown sanitizer %q", t.Name, t.Sanitizer)
	}
	if len(t.Binaries) == 0 {
		t.Binaries = []Binary{{MaxRunSeconds: DefaultMaxRunSeconds}}
	}
	for i := range t.Binaries {
		if t.Binaries[i].MaxRunSeconds == 0 {
			t.Binaries[i].MaxRunSeconds = DefaultMaxRunSeconds
		}
		if t.Binaries[i].MaxRunSeconds < 0 {
			return configErrorf("target %q binary %d has negative max_run_seconds", t.Name, i)
		}
	}
	return nil
}
