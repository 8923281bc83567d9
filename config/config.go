// Package config loads and validates the engine's Configuration
// record (spec.md §6): warm-up duration, snap duration/count, master
// seed, and the run/validate-only flag.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"math"

	"github.com/signalsfoundry/desengine/clock"
	"github.com/signalsfoundry/desengine/errs"
)

// Config is the typed configuration record supplied to the run
// controller.
type Config struct {
	WarmUpDuration clock.Duration
	SnapDuration   clock.Duration
	SnapCount      int
	MasterSeed     int64
	RunModel       bool
}

// configJSON is the on-disk shape, kept unexported so the JSON layout
// is free to evolve independently of the in-memory record, the way
// the teacher's scenario loader separates networkScenarioJSON from
// NetworkScenario.
type configJSON struct {
	WarmUpDuration float64 `json:"warm_up_duration"`
	SnapDuration   float64 `json:"snap_duration"`
	SnapCount      int     `json:"snap_count"`
	MasterSeed     int64   `json:"master_seed"`
	RunModel       *bool   `json:"run_model"`
}

// Load decodes a Config from JSON and validates it eagerly — fields
// are never computed lazily on first access (spec.md §9's re-architecture
// of "lazy configuration evaluation": fail fast on bad config is a
// stronger contract than deferred failure).
func Load(r io.Reader) (*Config, error) {
	var payload configJSON
	dec := json.NewDecoder(r)
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("config: decode failed: %w", err)
	}

	runModel := true
	if payload.RunModel != nil {
		runModel = *payload.RunModel
	}

	cfg := &Config{
		WarmUpDuration: clock.Duration(payload.WarmUpDuration),
		SnapDuration:   clock.Duration(payload.SnapDuration),
		SnapCount:      payload.SnapCount,
		MasterSeed:     payload.MasterSeed,
		RunModel:       runModel,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the constraints from spec.md §6: both durations
// must be strictly positive, snapCount strictly positive, and the
// measurement horizon warmUpDuration + snapDuration*snapCount must not
// overflow the time representation — the spec requires refusing such
// configurations as ConfigInvalid rather than leaving the behavior
// unspecified (spec.md §9, Open Questions).
func (c *Config) Validate() error {
	if c.WarmUpDuration <= 0 {
		return fmt.Errorf("%w: warm_up_duration must be > 0, got %v", errs.ConfigInvalid, c.WarmUpDuration)
	}
	if c.SnapDuration <= 0 {
		return fmt.Errorf("%w: snap_duration must be > 0, got %v", errs.ConfigInvalid, c.SnapDuration)
	}
	if c.SnapCount <= 0 {
		return fmt.Errorf("%w: snap_count must be > 0, got %d", errs.ConfigInvalid, c.SnapCount)
	}

	measurement := float64(c.SnapDuration) * float64(c.SnapCount)
	if math.IsInf(measurement, 0) || math.IsNaN(measurement) {
		return fmt.Errorf("%w: snap_duration * snap_count overflows", errs.ConfigInvalid)
	}
	horizon := float64(c.WarmUpDuration) + measurement
	if math.IsInf(horizon, 0) || math.IsNaN(horizon) {
		return fmt.Errorf("%w: warm_up_duration + snap_duration*snap_count overflows", errs.ConfigInvalid)
	}
	return nil
}

// Horizon returns the total simulated duration of the run:
// warmUpDuration + snapDuration*snapCount.
func (c *Config) Horizon() clock.Duration {
	return c.WarmUpDuration + clock.Duration(float64(c.SnapDuration)*float64(c.SnapCount))
}
