package hybridsim

import (
	"fmt"
	"time"
)

// DefaultDependencyTimeout bounds dependency waits when the configuration
// does not set one. The simulation is closed, so a wait that does not
// resolve within the bound can only mean a malformed schedule or topology.
const DefaultDependencyTimeout = 10 * time.Second

// A Config describes one simulated training run.
type Config struct {
	PipelineDepth    int
	DataParallelSize int
	MicroBatchCount  int

	ForwardCost       time.Duration
	BackwardCost      time.Duration
	AllReduceStepCost time.Duration

	// DependencyTimeout bounds every wait on a dependency channel and at
	// the all-reduce entry barrier. Zero selects DefaultDependencyTimeout.
	DependencyTimeout time.Duration
}

// Validate reports a ConfigurationError if the topology or the costs
// cannot describe a runnable simulation.
func (c Config) Validate() error {
	if c.PipelineDepth < 1 {
		return &ConfigurationError{
			Reason: fmt.Sprintf("pipeline depth %d, must be at least 1", c.PipelineDepth),
		}
	}

	if c.DataParallelSize < 1 {
		return &ConfigurationError{
			Reason: fmt.Sprintf("data-parallel size %d, must be at least 1", c.DataParallelSize),
		}
	}

	if c.MicroBatchCount < 1 {
		return &ConfigurationError{
			Reason: fmt.Sprintf("micro-batch count %d, must be at least 1", c.MicroBatchCount),
		}
	}

	if c.ForwardCost <= 0 {
		return &ConfigurationError{
			Reason: fmt.Sprintf("forward cost %v, must be positive", c.ForwardCost),
		}
	}

	if c.BackwardCost <= 0 {
		return &ConfigurationError{
			Reason: fmt.Sprintf("backward cost %v, must be positive", c.BackwardCost),
		}
	}

	if c.AllReduceStepCost <= 0 {
		return &ConfigurationError{
			Reason: fmt.Sprintf("all-reduce step cost %v, must be positive", c.AllReduceStepCost),
		}
	}

	if c.DependencyTimeout < 0 {
		return &ConfigurationError{
			Reason: fmt.Sprintf("dependency timeout %v, must not be negative", c.DependencyTimeout),
		}
	}

	return nil
}

// WorldSize returns the total number of devices in the grid.
func (c Config) WorldSize() int {
	return c.PipelineDepth * c.DataParallelSize
}

// Rank returns the globally unique rank of the device at the given
// coordinates. Ranks number the pipeline of replica 0 first, then the
// pipeline of replica 1, and so on.
func (c Config) Rank(stage, replica int) int {
	return replica*c.PipelineDepth + stage
}
