package sim

import (
	"errors"
	"fmt"
)

// Configuration errors are detected when components are constructed. They are
// fatal to a run and never retried.

// ErrSelfDispersal is returned when a scenario forbids self-dispersal but the
// configured dispersal cannot leave some location.
var ErrSelfDispersal = errors.New("self-dispersal is not permitted by the scenario")

// DimensionMismatchError reports a matrix or grid whose shape does not match
// the habitat extent.
type DimensionMismatchError struct {
	Component string
	Expected  [2]uint64
	Actual    [2]uint64
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("%s: matrix is %dx%d, habitat requires %dx%d",
		e.Component, e.Actual[0], e.Actual[1], e.Expected[0], e.Expected[1])
}

// NonHabitatDispersalError reports a dispersal matrix that routes probability
// into a location without habitat.
type NonHabitatDispersalError struct {
	From        Location
	To          Location
	Probability float64
}

func (e *NonHabitatDispersalError) Error() string {
	return fmt.Sprintf("dispersal from %s to non-habitat %s has probability %g", e.From, e.To, e.Probability)
}

// NoDispersalError reports a habitable location from which dispersal is impossible.
type NoDispersalError struct {
	From Location
}

func (e *NoDispersalError) Error() string {
	return fmt.Sprintf("habitable location %s has no outgoing dispersal", e.From)
}

// ProbabilityRangeError reports a probability or weight outside its valid range.
type ProbabilityRangeError struct {
	Component string
	Value     float64
}

func (e *ProbabilityRangeError) Error() string {
	return fmt.Sprintf("%s: %g is not a valid probability", e.Component, e.Value)
}

// LowAcceptanceError reports a rejection sampler that would almost never
// accept a draw at some location.
type LowAcceptanceError struct {
	Component   string
	From        Location
	Probability float64
}

func (e *LowAcceptanceError) Error() string {
	return fmt.Sprintf("%s: draws from %s are accepted with probability %g", e.Component, e.From, e.Probability)
}

// HabitatError reports a malformed habitat.
type HabitatError struct {
	Reason string
}

func (e *HabitatError) Error() string {
	return "invalid habitat: " + e.Reason
}

// ValidateProbability returns a ProbabilityRangeError unless 0 <= p <= 1.
func ValidateProbability(component string, p float64) error {
	if !(p >= 0 && p <= 1) {
		return &ProbabilityRangeError{Component: component, Value: p}
	}
	return nil
}
