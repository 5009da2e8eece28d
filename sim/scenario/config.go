// Package scenario loads simulation scenarios from YAML, validates them and
// assembles the components of a run.
package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/inference-sim/coalescence-sim/sim/decomposition"
	"github.com/inference-sim/coalescence-sim/sim/dedup"
	"github.com/inference-sim/coalescence-sim/sim/scheduler"
)

// Strategy names an active lineage sampler.
type Strategy string

const (
	StrategyClassical   Strategy = "classical"
	StrategyGillespie   Strategy = "gillespie"
	StrategyIndependent Strategy = "independent"
)

// validStrategies maps accepted strategy names.
var validStrategies = map[Strategy]bool{
	StrategyClassical:   true,
	StrategyGillespie:   true,
	StrategyIndependent: true,
	"":                  true, // empty defaults to gillespie
}

// IsValidStrategy returns true if s names a known strategy.
func IsValidStrategy(s string) bool {
	return validStrategies[Strategy(s)]
}

// Dispersal kernel names.
const (
	DispersalNonSpatial       = "non-spatial"
	DispersalNormal           = "normal"
	DispersalMatrix           = "matrix"
	DispersalMatrixCumulative = "matrix-cumulative"
	DispersalSeparable        = "separable"
)

// validDispersalKinds maps accepted dispersal kernel names.
var validDispersalKinds = map[string]bool{
	DispersalNonSpatial:       true,
	DispersalNormal:           true,
	DispersalMatrix:           true,
	DispersalMatrixCumulative: true,
	DispersalSeparable:        true,
}

// Defaults applied to unset fields.
const (
	DefaultTurnoverRate = 1.0
	DefaultDeltaT       = 1.0
	DefaultEventTime    = scheduler.EventTimePoisson
)

// Config is a simulation scenario.
// Nil pointer fields mean "not set in YAML" and are filled by ApplyDefaults.
type Config struct {
	Seed                  uint64             `yaml:"seed" json:"seed"`
	Strategy              Strategy           `yaml:"strategy" json:"strategy"`
	Habitat               HabitatConfig      `yaml:"habitat" json:"habitat"`
	TurnoverRate          RateConfig         `yaml:"turnover_rate" json:"turnover_rate"`
	SpeciationProbability RateConfig         `yaml:"speciation_probability" json:"speciation_probability"`
	Dispersal             DispersalConfig    `yaml:"dispersal" json:"dispersal"`
	AllowSelfDispersal    *bool              `yaml:"allow_self_dispersal" json:"allow_self_dispersal,omitempty"`
	SamplePercentage      *float64           `yaml:"sample_percentage" json:"sample_percentage,omitempty"`
	Gillespie             GillespieConfig    `yaml:"gillespie" json:"gillespie"`
	Independent           IndependentConfig  `yaml:"independent" json:"independent"`
	Partitioning          PartitioningConfig `yaml:"partitioning" json:"partitioning"`
	PauseBefore           *float64           `yaml:"pause_before" json:"pause_before,omitempty"`
}

// HabitatConfig is either a uniform width x height extent or an explicit
// capacity grid indexed [y][x].
type HabitatConfig struct {
	Width    uint32     `yaml:"width" json:"width,omitempty"`
	Height   uint32     `yaml:"height" json:"height,omitempty"`
	Capacity uint32     `yaml:"capacity" json:"capacity,omitempty"`
	Grid     [][]uint32 `yaml:"grid" json:"grid,omitempty"`
}

// RateConfig is a per-location scalar: one value everywhere or a grid indexed
// [y][x]. In YAML a bare number is shorthand for {value: number}.
type RateConfig struct {
	Value *float64    `yaml:"value" json:"value,omitempty"`
	Grid  [][]float64 `yaml:"grid" json:"grid,omitempty"`
}

// UnmarshalYAML accepts a bare number or a mapping.
func (r *RateConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var v float64
		if err := node.Decode(&v); err != nil {
			return err
		}
		r.Value = &v
		return nil
	}
	type plain RateConfig
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*r = RateConfig(p)
	return nil
}

func (r RateConfig) isSet() bool { return r.Value != nil || r.Grid != nil }

// DispersalConfig selects the dispersal kernel.
type DispersalConfig struct {
	Kind   string      `yaml:"kind" json:"kind"`
	Sigma  float64     `yaml:"sigma" json:"sigma,omitempty"`
	Matrix [][]float64 `yaml:"matrix" json:"matrix,omitempty"`
}

// Event samplers of the Gillespie strategy.
const (
	EventSamplerUnconditional = "unconditional"
	EventSamplerConditional   = "conditional"
)

// GillespieConfig tunes the Gillespie strategy. The conditional event sampler
// skips self-dispersals that do not coalesce and needs a separable dispersal.
type GillespieConfig struct {
	EventSampler string `yaml:"event_sampler" json:"event_sampler,omitempty"`
}

// IndependentConfig tunes the independent strategy.
type IndependentConfig struct {
	DeltaT     *float64      `yaml:"delta_t" json:"delta_t,omitempty"`
	StepSlice  *int          `yaml:"step_slice" json:"step_slice,omitempty"`
	EventTime  string        `yaml:"event_time" json:"event_time,omitempty"`
	DedupCache *dedup.Policy `yaml:"dedup_cache" json:"dedup_cache,omitempty"`
}

// PartitioningConfig splits the habitat across partitions.
type PartitioningConfig struct {
	Partitions    int    `yaml:"partitions" json:"partitions,omitempty"`
	Decomposition string `yaml:"decomposition" json:"decomposition,omitempty"`
}

// Load reads and parses a YAML scenario file.
// Uses strict parsing: unrecognized keys (typos) are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing scenario %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a YAML scenario strictly and applies defaults. It does not
// validate.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Strategy == "" {
		c.Strategy = StrategyGillespie
	}
	if !c.TurnoverRate.isSet() {
		v := DefaultTurnoverRate
		c.TurnoverRate.Value = &v
	}
	if c.Dispersal.Kind == "" {
		c.Dispersal.Kind = DispersalNormal
	}
	if c.AllowSelfDispersal == nil {
		allow := true
		c.AllowSelfDispersal = &allow
	}
	if c.SamplePercentage == nil {
		p := 1.0
		c.SamplePercentage = &p
	}
	if c.Gillespie.EventSampler == "" {
		c.Gillespie.EventSampler = EventSamplerUnconditional
	}
	if c.Independent.DeltaT == nil {
		dt := DefaultDeltaT
		c.Independent.DeltaT = &dt
	}
	if c.Independent.StepSlice == nil {
		slice := scheduler.DefaultStepSlice
		c.Independent.StepSlice = &slice
	}
	if c.Independent.EventTime == "" {
		c.Independent.EventTime = string(DefaultEventTime)
	}
	if c.Independent.DedupCache == nil {
		p := dedup.DefaultPolicy()
		c.Independent.DedupCache = &p
	}
	if c.Partitioning.Partitions == 0 {
		c.Partitioning.Partitions = 1
	}
}

// Validate checks names and parameter ranges. Component construction in
// NewModel performs the checks that need the habitat.
func (c *Config) Validate() error {
	if !IsValidStrategy(string(c.Strategy)) {
		return fmt.Errorf("unknown strategy %q", c.Strategy)
	}
	if c.Habitat.Grid == nil && (c.Habitat.Width == 0 || c.Habitat.Height == 0) {
		return errors.New("habitat needs a grid or a positive width and height")
	}
	if c.Habitat.Grid != nil && (c.Habitat.Width != 0 || c.Habitat.Height != 0 || c.Habitat.Capacity != 0) {
		return errors.New("habitat grid cannot be combined with width, height or capacity")
	}
	if err := validateRate("turnover_rate", c.TurnoverRate); err != nil {
		return err
	}
	if !c.SpeciationProbability.isSet() {
		return errors.New("speciation_probability is required")
	}
	if err := validateRate("speciation_probability", c.SpeciationProbability); err != nil {
		return err
	}
	if !validDispersalKinds[c.Dispersal.Kind] {
		return fmt.Errorf("unknown dispersal kind %q", c.Dispersal.Kind)
	}
	if !(c.Dispersal.Sigma >= 0) || math.IsInf(c.Dispersal.Sigma, 1) {
		return fmt.Errorf("dispersal sigma must be non-negative and finite, got %g", c.Dispersal.Sigma)
	}
	switch c.Dispersal.Kind {
	case DispersalMatrix, DispersalMatrixCumulative, DispersalSeparable:
		if c.Dispersal.Matrix == nil {
			return fmt.Errorf("dispersal kind %q needs a matrix", c.Dispersal.Kind)
		}
	}
	if p := *c.SamplePercentage; !(p >= 0 && p <= 1) {
		return fmt.Errorf("sample_percentage must be in [0, 1], got %g", p)
	}
	if es := c.Gillespie.EventSampler; es != EventSamplerUnconditional && es != EventSamplerConditional {
		return fmt.Errorf("unknown gillespie event sampler %q", es)
	}
	if dt := *c.Independent.DeltaT; !(dt > 0) || math.IsInf(dt, 1) {
		return fmt.Errorf("delta_t must be positive and finite, got %g", dt)
	}
	if *c.Independent.StepSlice < 1 {
		return fmt.Errorf("step_slice must be at least 1, got %d", *c.Independent.StepSlice)
	}
	if !scheduler.IsValidEventTimeKind(c.Independent.EventTime) {
		return fmt.Errorf("unknown event time distribution %q", c.Independent.EventTime)
	}
	if err := c.Independent.DedupCache.Validate(); err != nil {
		return err
	}
	if c.Partitioning.Partitions < 1 {
		return fmt.Errorf("partitions must be at least 1, got %d", c.Partitioning.Partitions)
	}
	if !decomposition.IsValidKind(c.Partitioning.Decomposition) {
		return fmt.Errorf("unknown decomposition %q", c.Partitioning.Decomposition)
	}
	if c.PauseBefore != nil {
		if math.IsNaN(*c.PauseBefore) || *c.PauseBefore < 0 {
			return fmt.Errorf("pause_before must be a non-negative time, got %g", *c.PauseBefore)
		}
		if c.Partitioning.Partitions > 1 {
			return errors.New("pause_before is only supported for single-partition runs")
		}
	}
	return nil
}

func validateRate(name string, r RateConfig) error {
	if r.Value != nil && r.Grid != nil {
		return fmt.Errorf("%s cannot have both a value and a grid", name)
	}
	if r.Value != nil && (math.IsNaN(*r.Value) || math.IsInf(*r.Value, 0) || *r.Value < 0) {
		return fmt.Errorf("%s must be non-negative and finite, got %g", name, *r.Value)
	}
	return nil
}
