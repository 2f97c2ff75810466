package dumping

import (
	_ "embed"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var configSchemaCUE string

// Mode selects how the engine treats pre-existing output.
type Mode string

const (
	// ModeNormal creates missing output and updates stale output in place.
	ModeNormal Mode = "normal"

	// ModeOverwrite additionally recreates leaf directories whose safeguard
	// marker is missing, treating them as the engine's own prior output.
	ModeOverwrite Mode = "overwrite"

	// ModeDryRun performs detection only: no filesystem mutation, no tracker
	// mutation, a tabular change report as the sole output.
	ModeDryRun Mode = "dry-run"
)

// ParseMode converts a string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeNormal, ModeOverwrite, ModeDryRun:
		return Mode(s), nil
	default:
		return "", NewConfigError(fmt.Sprintf("invalid mode %q: must be one of normal, overwrite, dry-run", s))
	}
}

// Config holds the recognized dump options. The zero value is not usable;
// construct via DefaultConfig and override.
type Config struct {
	Mode Mode `yaml:"mode"`

	// Metadata content options.
	IncludeAttributes bool `yaml:"include_attributes"`
	IncludeExtras     bool `yaml:"include_extras"`

	// Calculation I/O content options.
	IncludeInputs  bool `yaml:"include_inputs"`
	IncludeOutputs bool `yaml:"include_outputs"`
	FlatLayout     bool `yaml:"flat_layout"`

	// Tree layout options.
	OrganizeByGroups  bool `yaml:"organize_by_groups"`
	SymlinkCalcs      bool `yaml:"symlink_calcs"`
	OnlyTopLevelCalcs bool `yaml:"only_top_level_calcs"`
	AlsoUngrouped     bool `yaml:"also_ungrouped"`

	// Lifecycle options.
	DeleteMissing bool `yaml:"delete_missing"`
	RelabelGroups bool `yaml:"relabel_groups"`

	// Profile scope: dump every group, or only the listed ones.
	AllEntries bool     `yaml:"all_entries"`
	Groups     []string `yaml:"groups,omitempty"`
}

// DefaultConfig returns the options used when no config file or flags
// override them.
func DefaultConfig() Config {
	return Config{
		Mode:              ModeNormal,
		IncludeAttributes: true,
		IncludeExtras:     true,
		IncludeInputs:     true,
		IncludeOutputs:    false,
		FlatLayout:        false,
		OrganizeByGroups:  true,
		SymlinkCalcs:      false,
		OnlyTopLevelCalcs: true,
		AlsoUngrouped:     false,
		DeleteMissing:     true,
		RelabelGroups:     true,
		AllEntries:        true,
	}
}

// Validate checks internal consistency of the options.
func (c Config) Validate() error {
	if _, err := ParseMode(string(c.Mode)); err != nil {
		return err
	}
	if len(c.Groups) > 0 && c.AllEntries {
		return NewConfigError("groups and all_entries are mutually exclusive")
	}
	return nil
}

// LoadConfigFile reads a YAML config file, validates it against the embedded
// CUE schema, and applies it on top of base. A missing file is not an error:
// base is returned unchanged.
func LoadConfigFile(path string, base Config) (Config, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return base, nil
	}
	if err != nil {
		return base, fmt.Errorf("read config file %s: %w", path, err)
	}

	if err := validateConfigYAML(raw); err != nil {
		return base, &DumpError{Code: ErrCodeConfig, Message: fmt.Sprintf("config file %s does not conform to schema", path), Err: err}
	}

	cfg := base
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return base, fmt.Errorf("decode config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return base, err
	}
	return cfg, nil
}

// validateConfigYAML unifies the decoded YAML document with the #Config
// schema definition and reports any conformance error.
func validateConfigYAML(raw []byte) error {
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	if doc == nil {
		return nil
	}

	cuectx := cuecontext.New()
	schema := cuectx.CompileString(configSchemaCUE).LookupPath(configPath())
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	value := cuectx.Encode(doc)
	if err := value.Err(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	unified := schema.Unify(value)
	if err := unified.Err(); err != nil {
		return err
	}
	return unified.Validate()
}

func configPath() cue.Path {
	return cue.ParsePath("#Config")
}

// SaveConfigFile writes the config as YAML, so a later run against the same
// tree can detect conflicting options.
func SaveConfigFile(path string, cfg Config) error {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write config file %s: %w", path, err)
	}
	return nil
}
