package hybridsim

import "fmt"

// A ConfigurationError reports a topology or cost configuration that cannot
// describe a runnable simulation. It is always raised before any device
// starts.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "invalid configuration: " + e.Reason
}

// A Direction identifies which way a dependency channel carries artifacts
// between adjacent pipeline stages.
type Direction int

// Direction constants
const (
	// ActivationForward conveys activations from a stage to the next one.
	ActivationForward Direction = iota
	// GradientBackward conveys gradients from a stage to the previous one.
	GradientBackward
)

func (d Direction) String() string {
	if d == GradientBackward {
		return "gradient"
	}
	return "activation"
}

// A DependencyViolationError reports a dependency wait that was never
// resolved within its bound. The run cannot continue: either the schedule
// or the topology is malformed.
type DependencyViolationError struct {
	Rank         int
	MicroBatchID int
	Direction    Direction
}

func (e *DependencyViolationError) Error() string {
	return fmt.Sprintf("rank %d: %s dependency for micro-batch %d was not signaled",
		e.Rank, e.Direction, e.MicroBatchID)
}
