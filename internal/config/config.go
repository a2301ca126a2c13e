// Package config loads the daemon configuration. Fields are pointers so a
// partial JSON file is safe: anything omitted falls back to the defaults
// supplied by the Get* accessors.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hearthgrid/hearthd/internal/tuning"
)

// ZoneConfig declares one heating zone: its identity, emitter class and the
// physics-derived baseline gains supplied at initialization.
type ZoneConfig struct {
	ID          string  `json:"id"`
	HeatingType string  `json:"heating_type"`
	Kp          float64 `json:"kp"`
	Ki          float64 `json:"ki"`
	Kd          float64 `json:"kd"`
	Ke          float64 `json:"ke"`
	AutoApply   *bool   `json:"auto_apply,omitempty"`
}

// Baseline returns the zone's physics-derived ParameterSet.
func (z ZoneConfig) Baseline() tuning.ParameterSet {
	return tuning.ParameterSet{Kp: z.Kp, Ki: z.Ki, Kd: z.Kd, Ke: z.Ke}
}

// GetAutoApply returns the auto_apply flag or the default (enabled).
func (z ZoneConfig) GetAutoApply() bool {
	if z.AutoApply == nil {
		return true
	}
	return *z.AutoApply
}

// Config is the root configuration.
type Config struct {
	Listen     *string `json:"listen,omitempty"`
	DBPath     *string `json:"db_path,omitempty"`
	SerialPort *string `json:"serial_port,omitempty"`

	KafkaBrokers []string `json:"kafka_brokers,omitempty"`
	KafkaTopic   *string  `json:"kafka_topic,omitempty"`

	Zones []ZoneConfig `json:"zones"`

	// cycle segmentation overrides
	ToleranceC        *float64 `json:"tolerance_c,omitempty"`
	SettleConfirm     *string  `json:"settle_confirm,omitempty"` // duration string like "10m"
	MinSetpointDeltaC *float64 `json:"min_setpoint_delta_c,omitempty"`
	MaxPause          *string  `json:"max_pause,omitempty"` // duration string like "15m"
	MaxCycle          *string  `json:"max_cycle,omitempty"` // duration string like "4h"

	// learning window bounds
	LearningWindowDays *int `json:"learning_window_days,omitempty"`
	LearningWindowMax  *int `json:"learning_window_max,omitempty"`

	// cycle diagnostics retention
	CycleRetentionDays *int `json:"cycle_retention_days,omitempty"`
}

// Load reads and validates a config file.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate rejects configs that cannot run: zero zones, unknown heating
// types, invalid baselines or unparseable durations.
func (c *Config) Validate() error {
	if len(c.Zones) == 0 {
		return fmt.Errorf("at least one zone is required")
	}
	seen := make(map[string]bool, len(c.Zones))
	for _, z := range c.Zones {
		if z.ID == "" {
			return fmt.Errorf("zone with empty id")
		}
		if seen[z.ID] {
			return fmt.Errorf("duplicate zone id %q", z.ID)
		}
		seen[z.ID] = true
		if _, err := tuning.ParseHeatingType(z.HeatingType); err != nil {
			return fmt.Errorf("zone %q: %w", z.ID, err)
		}
		if err := z.Baseline().Validate(); err != nil {
			return fmt.Errorf("zone %q baseline: %w", z.ID, err)
		}
	}
	for name, v := range map[string]*string{
		"settle_confirm": c.SettleConfirm,
		"max_pause":      c.MaxPause,
		"max_cycle":      c.MaxCycle,
	} {
		if v != nil && *v != "" {
			if _, err := time.ParseDuration(*v); err != nil {
				return fmt.Errorf("invalid %s %q: %w", name, *v, err)
			}
		}
	}
	if c.ToleranceC != nil && *c.ToleranceC <= 0 {
		return fmt.Errorf("tolerance_c must be positive, got %g", *c.ToleranceC)
	}
	return nil
}

// GetListen returns the HTTP listen address or the default.
func (c *Config) GetListen() string {
	if c.Listen == nil || *c.Listen == "" {
		return ":8080"
	}
	return *c.Listen
}

// GetDBPath returns the sqlite path or the default.
func (c *Config) GetDBPath() string {
	if c.DBPath == nil || *c.DBPath == "" {
		return "hearthd.db"
	}
	return *c.DBPath
}

// GetSerialPort returns the serial device or "" (dev replay mode).
func (c *Config) GetSerialPort() string {
	if c.SerialPort == nil {
		return ""
	}
	return *c.SerialPort
}

// GetKafkaTopic returns the event topic or the default.
func (c *Config) GetKafkaTopic() string {
	if c.KafkaTopic == nil || *c.KafkaTopic == "" {
		return "hearthd.tuning.events"
	}
	return *c.KafkaTopic
}

// TrackerConfig assembles the segmentation config from defaults plus
// overrides.
func (c *Config) TrackerConfig() tuning.TrackerConfig {
	cfg := tuning.DefaultTrackerConfig()
	if c.ToleranceC != nil {
		cfg.Tolerance = *c.ToleranceC
	}
	if c.MinSetpointDeltaC != nil {
		cfg.MinSetpointDelta = *c.MinSetpointDeltaC
	}
	if d := parseDuration(c.SettleConfirm); d > 0 {
		cfg.SettleConfirm = d
	}
	if d := parseDuration(c.MaxPause); d > 0 {
		cfg.MaxPause = d
	}
	if d := parseDuration(c.MaxCycle); d > 0 {
		cfg.MaxCycle = d
	}
	return cfg
}

// GetLearningWindow returns the learning window bounds (max age, max count).
func (c *Config) GetLearningWindow() (time.Duration, int) {
	days := 14
	if c.LearningWindowDays != nil && *c.LearningWindowDays > 0 {
		days = *c.LearningWindowDays
	}
	count := 50
	if c.LearningWindowMax != nil && *c.LearningWindowMax > 0 {
		count = *c.LearningWindowMax
	}
	return time.Duration(days) * 24 * time.Hour, count
}

// GetCycleRetention returns how long closed-cycle diagnostics are kept.
func (c *Config) GetCycleRetention() time.Duration {
	days := 90
	if c.CycleRetentionDays != nil && *c.CycleRetentionDays > 0 {
		days = *c.CycleRetentionDays
	}
	return time.Duration(days) * 24 * time.Hour
}

func parseDuration(s *string) time.Duration {
	if s == nil || *s == "" {
		return 0
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return 0
	}
	return d
}
