package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the daemon.
// Zero values mean "unspecified" and will be replaced by defaults in main.
type Config struct {
	Addr      string `json:"addr" yaml:"addr" toml:"addr"`
	ModelsDir string `json:"models_dir" yaml:"models_dir" toml:"models_dir"`

	// TotalMemoryMB caps the memory budget; 0 uses physical RAM.
	TotalMemoryMB int `json:"total_memory_mb" yaml:"total_memory_mb" toml:"total_memory_mb"`

	// Pressure thresholds as used-memory percentages.
	WarningPct   float64 `json:"warning_pct" yaml:"warning_pct" toml:"warning_pct"`
	CriticalPct  float64 `json:"critical_pct" yaml:"critical_pct" toml:"critical_pct"`
	EmergencyPct float64 `json:"emergency_pct" yaml:"emergency_pct" toml:"emergency_pct"`

	// CalmSamples is how many consecutive calm samples precede one
	// de-escalation step.
	CalmSamples int `json:"calm_samples" yaml:"calm_samples" toml:"calm_samples"`
	// SampleIntervalMS between memory samples.
	SampleIntervalMS int `json:"sample_interval_ms" yaml:"sample_interval_ms" toml:"sample_interval_ms"`

	// Resource tracker tunables.
	DefaultTTLSec  int            `json:"default_ttl_sec" yaml:"default_ttl_sec" toml:"default_ttl_sec"`
	TTLByTypeSec   map[string]int `json:"ttl_by_type_sec" yaml:"ttl_by_type_sec" toml:"ttl_by_type_sec"`
	GraceWindowSec int            `json:"grace_window_sec" yaml:"grace_window_sec" toml:"grace_window_sec"`

	// Checkpoint persistence.
	CheckpointDir         string `json:"checkpoint_dir" yaml:"checkpoint_dir" toml:"checkpoint_dir"`
	CheckpointIntervalSec int    `json:"checkpoint_interval_sec" yaml:"checkpoint_interval_sec" toml:"checkpoint_interval_sec"`

	// QualityFloor for warning-level degradation.
	QualityFloor int `json:"quality_floor" yaml:"quality_floor" toml:"quality_floor"`

	// Backend parameters.
	ContextSize int `json:"context_size" yaml:"context_size" toml:"context_size"`
	Threads     int `json:"threads" yaml:"threads" toml:"threads"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects threshold orderings the monitor cannot classify with.
// Unset thresholds (all zero) are fine; defaults apply later.
func (c Config) Validate() error {
	if c.WarningPct == 0 && c.CriticalPct == 0 && c.EmergencyPct == 0 {
		return nil
	}
	if c.WarningPct <= 0 || c.CriticalPct <= 0 || c.EmergencyPct <= 0 {
		return fmt.Errorf("thresholds must all be set together (warning=%v critical=%v emergency=%v)", c.WarningPct, c.CriticalPct, c.EmergencyPct)
	}
	if !(c.WarningPct < c.CriticalPct && c.CriticalPct < c.EmergencyPct) {
		return fmt.Errorf("thresholds must satisfy warning < critical < emergency (got %v, %v, %v)", c.WarningPct, c.CriticalPct, c.EmergencyPct)
	}
	if c.EmergencyPct > 100 {
		return fmt.Errorf("emergency threshold above 100%%: %v", c.EmergencyPct)
	}
	return nil
}
