package scenario

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/coalescence-sim/sim"
	"github.com/inference-sim/coalescence-sim/sim/dedup"
	"github.com/inference-sim/coalescence-sim/sim/scheduler"
)

func TestMain(m *testing.M) {
	// Suppress verbose simulation logs during tests to speed up CI
	// Set DEBUG_TESTS=1 to see full logs: DEBUG_TESTS=1 go test ./sim/... -v
	if os.Getenv("DEBUG_TESTS") == "" {
		logrus.SetLevel(logrus.WarnLevel)
	}
	os.Exit(m.Run())
}

func mustParse(t *testing.T, yml string) *Config {
	t.Helper()
	cfg, err := Parse([]byte(yml))
	require.NoError(t, err)
	return cfg
}

func TestParse_AppliesDefaults(t *testing.T) {
	// GIVEN a minimal scenario
	cfg := mustParse(t, `
habitat: {width: 4, height: 3}
speciation_probability: 0.1
`)

	// THEN every unset field has its default
	assert.Equal(t, StrategyGillespie, cfg.Strategy)
	assert.Equal(t, DefaultTurnoverRate, *cfg.TurnoverRate.Value)
	assert.Equal(t, 0.1, *cfg.SpeciationProbability.Value)
	assert.Equal(t, DispersalNormal, cfg.Dispersal.Kind)
	assert.True(t, *cfg.AllowSelfDispersal)
	assert.Equal(t, 1.0, *cfg.SamplePercentage)
	assert.Equal(t, DefaultDeltaT, *cfg.Independent.DeltaT)
	assert.Equal(t, scheduler.DefaultStepSlice, *cfg.Independent.StepSlice)
	assert.Equal(t, string(scheduler.EventTimePoisson), cfg.Independent.EventTime)
	assert.Equal(t, dedup.DefaultPolicy(), *cfg.Independent.DedupCache)
	assert.Equal(t, EventSamplerUnconditional, cfg.Gillespie.EventSampler)
	assert.Equal(t, 1, cfg.Partitioning.Partitions)
	assert.Nil(t, cfg.PauseBefore)
	assert.NoError(t, cfg.Validate())
}

func TestParse_FullScenario(t *testing.T) {
	cfg := mustParse(t, `
seed: 7
strategy: independent
habitat:
  grid:
    - [1, 2]
    - [0, 3]
turnover_rate:
  grid:
    - [1.0, 0.5]
    - [0.0, 2.0]
speciation_probability: {value: 0.25}
dispersal: {kind: non-spatial}
allow_self_dispersal: false
sample_percentage: 0.5
independent:
  delta_t: 2.0
  step_slice: 3
  event_time: geometric
  dedup_cache: {policy: absolute, capacity: 16, eviction: direct-mapped}
partitioning: {partitions: 2, decomposition: equal-area}
`)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, uint64(7), cfg.Seed)
	assert.Equal(t, [][]uint32{{1, 2}, {0, 3}}, cfg.Habitat.Grid)
	assert.Equal(t, 0.5, cfg.TurnoverRate.Grid[0][1])
	assert.False(t, *cfg.AllowSelfDispersal)
	assert.Equal(t, 3, *cfg.Independent.StepSlice)
	assert.Equal(t, dedup.Policy{Mode: dedup.ModeAbsolute, Capacity: 16, Eviction: dedup.EvictionDirectMapped}, *cfg.Independent.DedupCache)
	assert.Equal(t, "equal-area", cfg.Partitioning.Decomposition)

	model, err := NewModel(cfg)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), model.Habitat.TotalHabitat())
	assert.Equal(t, 2.0, model.MaxTurnover)
}

func TestParse_UnknownKey_Rejected(t *testing.T) {
	_, err := Parse([]byte(`
habitat: {width: 4, height: 3}
speciation_probabilty: 0.1
`))
	assert.Error(t, err)
}

func TestLoad_ReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte("habitat: {width: 2, height: 2}\nspeciation_probability: 0.5\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), cfg.Habitat.Width)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate_RejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		yml  string
		want string
	}{
		{"unknown strategy", "strategy: fastest\n", "unknown strategy"},
		{"missing speciation", "# speciation_probability omitted\n", "speciation_probability is required"},
		{"negative turnover", "turnover_rate: -1\n", "turnover_rate must be non-negative"},
		{"unknown dispersal", "dispersal: {kind: teleport}\n", "unknown dispersal kind"},
		{"matrix without matrix", "dispersal: {kind: matrix}\n", "needs a matrix"},
		{"sample percentage", "sample_percentage: 1.5\n", "sample_percentage"},
		{"delta_t", "independent: {delta_t: 0}\n", "delta_t"},
		{"step_slice", "independent: {step_slice: 0}\n", "step_slice"},
		{"event time", "independent: {event_time: uniform}\n", "unknown event time"},
		{"event sampler", "gillespie: {event_sampler: lazy}\n", "unknown gillespie event sampler"},
		{"dedup policy", "independent: {dedup_cache: {policy: always}}\n", "unknown dedup cache policy"},
		{"decomposition", "partitioning: {partitions: 2, decomposition: hexagonal}\n", "unknown decomposition"},
		{"partitioned pause", "partitioning: {partitions: 2}\npause_before: 1.0\n", "single-partition"},
		{"negative pause", "pause_before: -1\n", "pause_before"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			base := "habitat: {width: 2, height: 2}\n"
			if !strings.Contains(tc.yml, "speciation_probability") {
				base += "speciation_probability: 0.1\n"
			}
			cfg := mustParse(t, base+tc.yml)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestNewModel_MatrixErrorsAreDistinguishable(t *testing.T) {
	// GIVEN a 2x1 habitat whose second cell is not habitable
	base := "habitat: {grid: [[1, 0]]}\nspeciation_probability: 0.1\n"

	// WHEN the dispersal matrix has the wrong shape
	_, err := NewModel(mustParse(t, base+"dispersal: {kind: matrix, matrix: [[1]]}\n"))

	// THEN a dimension mismatch is reported
	var dim *sim.DimensionMismatchError
	require.True(t, errors.As(err, &dim), "got %v", err)

	// WHEN the matrix disperses into the uninhabitable cell
	_, err = NewModel(mustParse(t, base+"dispersal: {kind: matrix-cumulative, matrix: [[0.5, 0.5], [0, 0]]}\n"))

	// THEN a non-habitat dispersal is reported
	var nonHabitat *sim.NonHabitatDispersalError
	require.True(t, errors.As(err, &nonHabitat), "got %v", err)
	assert.False(t, errors.As(err, &dim))
}

func TestNewModel_ForbiddenSelfDispersal(t *testing.T) {
	// GIVEN an identity matrix that only allows self-dispersal
	cfg := mustParse(t, `
habitat: {width: 2, height: 1}
speciation_probability: 0.1
dispersal: {kind: separable, matrix: [[1, 0], [0, 1]]}
allow_self_dispersal: false
`)

	// WHEN the model is built
	_, err := NewModel(cfg)

	// THEN self-dispersal is reported as impossible to avoid
	assert.ErrorIs(t, err, sim.ErrSelfDispersal)
}

func TestNewModel_ConditionalNeedsSeparableDispersal(t *testing.T) {
	// GIVEN a normal kernel that may stay put without a known probability
	cfg := mustParse(t, `
habitat: {width: 4, height: 4}
speciation_probability: 0.1
dispersal: {kind: normal, sigma: 1}
gillespie: {event_sampler: conditional}
`)

	// WHEN the model is built
	_, err := NewModel(cfg)

	// THEN the conditional sampler is refused
	require.Error(t, err)
	assert.Contains(t, err.Error(), "conditional event sampler")
}

func TestNewModel_ClassicalNeedsUniformTurnover(t *testing.T) {
	cfg := mustParse(t, `
strategy: classical
habitat: {width: 2, height: 1}
turnover_rate: {grid: [[1, 2]]}
speciation_probability: 0.1
`)
	_, err := NewModel(cfg)
	assert.Error(t, err)
}

func TestSampleOrigins_RowMajorUniqueReferences(t *testing.T) {
	// GIVEN a 3x2 habitat of capacity 2
	cfg := mustParse(t, "habitat: {width: 3, height: 2, capacity: 2}\nspeciation_probability: 0.1\n")
	model, err := NewModel(cfg)
	require.NoError(t, err)

	// WHEN every individual is sampled
	origins := SampleOrigins(model.Habitat, 1, sim.NewWyRand(1))

	// THEN references are injective+1 in row-major order
	require.Len(t, origins, 12)
	seen := make(map[sim.GlobalReference]bool)
	for i, l := range origins {
		assert.Equal(t, sim.GlobalReference(i+1), l.GlobalReference)
		assert.False(t, seen[l.GlobalReference])
		seen[l.GlobalReference] = true
	}
	assert.Equal(t, sim.IndexedLocation{Location: sim.Location{X: 1, Y: 0}, Index: 1}, origins[3].IndexedLocation)

	// WHEN half of the individuals are sampled
	half := SampleOrigins(model.Habitat, 0.5, sim.NewWyRand(1))

	// THEN a deterministic subset is drawn
	assert.Equal(t, half, SampleOrigins(model.Habitat, 0.5, sim.NewWyRand(1)))
	assert.Less(t, len(half), 12)
	assert.Empty(t, SampleOrigins(model.Habitat, 0, sim.NewWyRand(1)))
}
