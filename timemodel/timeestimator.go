// Package timemodel provides a performance model for the time of execution
// of simulated training operations.
package timemodel

import (
	"time"

	"github.com/pkg/errors"
	"github.com/sarchlab/hybridsim"
)

// A TimeEstimatorInput represents the input of a time estimator.
type TimeEstimatorInput struct {
	Kind hybridsim.EventKind

	// Index is the micro-batch ID for forward and backward passes, and the
	// step index for all-reduce steps.
	Index   int
	Stage   int
	Replica int
}

// A TimeEstimatorOutput represents the output of a time estimator.
type TimeEstimatorOutput struct {
	// The estimated execution time.
	Time time.Duration
}

// TimeEstimator estimates the execution time of a simulated operation.
type TimeEstimator interface {
	// Estimate estimates the execution time of a simulated operation.
	Estimate(input TimeEstimatorInput) (TimeEstimatorOutput, error)
}

// A FixedTimeEstimator returns an injected fixed duration per operation
// kind, keeping the simulated timeline deterministic.
type FixedTimeEstimator struct {
	ForwardTime       time.Duration
	BackwardTime      time.Duration
	AllReduceStepTime time.Duration
}

// Estimate returns the fixed duration configured for the operation kind.
func (e *FixedTimeEstimator) Estimate(
	input TimeEstimatorInput,
) (TimeEstimatorOutput, error) {
	switch input.Kind {
	case hybridsim.EventForward:
		return TimeEstimatorOutput{Time: e.ForwardTime}, nil
	case hybridsim.EventBackward:
		return TimeEstimatorOutput{Time: e.BackwardTime}, nil
	case hybridsim.EventAllReduceStep:
		return TimeEstimatorOutput{Time: e.AllReduceStepTime}, nil
	}

	return TimeEstimatorOutput{}, errors.Errorf("unknown operation kind %d", input.Kind)
}

// An AlwaysOneTimeEstimator always returns 1 second as the estimated
// execution time.
type AlwaysOneTimeEstimator struct{}

// Estimate always returns 1 second as the estimated execution time.
func (e *AlwaysOneTimeEstimator) Estimate(
	input TimeEstimatorInput,
) (TimeEstimatorOutput, error) {
	return TimeEstimatorOutput{
		Time: time.Second,
	}, nil
}
