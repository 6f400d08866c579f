// ════════════════════════════════════════════════════════════════════════════════════════════════
// Runtime Configuration Loader
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Project: Fiber Runtime Core
// Component: JSON Configuration Loading
//
// Description:
//   Loads the small set of knobs that vary per deployment (core count, per-core slot
//   capacity, ring sizes, default syscall timeout, diagnostics database path) from an
//   optional JSON file, falling back to constants package defaults for anything absent.
// ════════════════════════════════════════════════════════════════════════════════════════════════

package config

import (
	"os"

	"github.com/sugawarayuuta/sonnet"

	"quantumfiber/constants"
)

// Config holds runtime tunables read at process start. Zero value is
// meaningless; use Load or Default.
type Config struct {
	Cores             int    `json:"cores"`
	SlotCapacity      int    `json:"slot_capacity"`
	WakeRingCapacity  int    `json:"wake_ring_capacity"`
	SpawnRingCapacity int    `json:"spawn_ring_capacity"`
	DiagRingCapacity  int    `json:"diag_ring_capacity"`
	DefaultTimeoutMs  uint64 `json:"default_timeout_ms"`
	DiagDBPath        string `json:"diag_db_path"`
}

// Default returns a Config populated entirely from constants package
// defaults, with no diagnostics sink configured.
func Default() Config {
	return Config{
		Cores:             1,
		SlotCapacity:      constants.SlotCapacity,
		WakeRingCapacity:  constants.WakeRingCapacity,
		SpawnRingCapacity: constants.SpawnRingCapacity,
		DiagRingCapacity:  constants.DiagRingCapacity,
		DefaultTimeoutMs:  constants.NoTimeoutMs,
		DiagDBPath:        "",
	}
}

// Load reads a JSON config file at path and overlays it onto Default().
// A missing file is not an error — Load returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := sonnet.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	cfg.normalize()
	return cfg, nil
}

// normalize fills in any zero-valued field left untouched by the JSON
// document with its constants-package default.
func (c *Config) normalize() {
	def := Default()
	if c.Cores <= 0 {
		c.Cores = def.Cores
	}
	if c.SlotCapacity <= 0 {
		c.SlotCapacity = def.SlotCapacity
	}
	if c.WakeRingCapacity <= 0 {
		c.WakeRingCapacity = def.WakeRingCapacity
	}
	if c.SpawnRingCapacity <= 0 {
		c.SpawnRingCapacity = def.SpawnRingCapacity
	}
	if c.DiagRingCapacity <= 0 {
		c.DiagRingCapacity = def.DiagRingCapacity
	}
	if c.DefaultTimeoutMs == 0 {
		c.DefaultTimeoutMs = def.DefaultTimeoutMs
	}
}
