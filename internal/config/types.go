package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the full process configuration.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Telegram TelegramConfig `json:"telegram"`
	Dispatch DispatchConfig `json:"dispatch"`
	Tenants  []TenantConfig `json:"tenants"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./shopbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// TelegramConfig lists the outbound credential slots. Each token is one
// interchangeable sender identity; sends rotate across them.
type TelegramConfig struct {
	Tokens []string `json:"tokens"`
	// SendTimeout bounds each outbound API call.
	SendTimeout string `json:"send_timeout,omitempty"`
}

// DispatchConfig controls the campaign dispatch engine.
//
// Defaults (when fields are omitted/zero):
//   - schedule: "@every 1m"
//   - tolerance: "2m"
//   - credential_spacing: "1s"
//   - rate_per_minute: 20
//   - rate_per_hour: 250
//   - base_delay: "2s"
type DispatchConfig struct {
	Enabled bool `json:"enabled"`
	// Schedule is the tick trigger: a cron expression or "@every ..." spec.
	Schedule string `json:"schedule,omitempty"`
	// Timezone for the trigger (IANA name, e.g. "Asia/Jakarta").
	Timezone string `json:"timezone,omitempty"`

	Tolerance         string `json:"tolerance,omitempty"`
	SendTimeout       string `json:"send_timeout,omitempty"`
	CredentialSpacing string `json:"credential_spacing,omitempty"`

	RatePerMinute int    `json:"rate_per_minute,omitempty"`
	RatePerHour   int    `json:"rate_per_hour,omitempty"`
	BaseDelay     string `json:"base_delay,omitempty"`
}

// TenantConfig names one tenant scope served by this process.
type TenantConfig struct {
	Name string `json:"name"`
}

// Validate performs the structural checks that don't need component context.
// Duration fields are checked here so a reload can be rejected atomically.
func (c *Config) Validate() error {
	seen := map[string]bool{}
	for i, t := range c.Tenants {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			return fmt.Errorf("tenants[%d]: name is empty", i)
		}
		if seen[name] {
			return fmt.Errorf("tenants[%d]: duplicate tenant %q", i, name)
		}
		seen[name] = true
	}
	if c.Dispatch.Enabled && len(c.Tenants) == 0 {
		return fmt.Errorf("dispatch.enabled requires at least one tenant")
	}
	if c.Dispatch.Enabled && len(c.Telegram.Tokens) == 0 {
		return fmt.Errorf("dispatch.enabled requires at least one telegram token")
	}
	for _, f := range []struct{ path, raw string }{
		{"storage.busy_timeout", c.Storage.BusyTimeout},
		{"telegram.send_timeout", c.Telegram.SendTimeout},
		{"dispatch.tolerance", c.Dispatch.Tolerance},
		{"dispatch.send_timeout", c.Dispatch.SendTimeout},
		{"dispatch.credential_spacing", c.Dispatch.CredentialSpacing},
		{"dispatch.base_delay", c.Dispatch.BaseDelay},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	return nil
}

// ParseDurationField parses an optional duration string; empty means 0.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with a fallback for zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
