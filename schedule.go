package hybridsim

import "fmt"

// An InstructionKind represents the kind of work an instruction requests.
type InstructionKind int

// InstructionKind constants
const (
	Forward InstructionKind = iota
	Backward
)

func (k InstructionKind) String() string {
	if k == Backward {
		return "Backward"
	}
	return "Forward"
}

// An Instruction tells a device to run the forward or backward pass of one
// micro-batch. A device consumes its instruction sequence strictly in order,
// with no reordering and no skipping.
type Instruction struct {
	Kind         InstructionKind
	MicroBatchID int
}

func (i Instruction) String() string {
	return fmt.Sprintf("%s(%d)", i.Kind, i.MicroBatchID)
}

// A ScheduleGenerator produces the 1F1B instruction sequence of each
// pipeline stage: a forward-only warmup, a steady state alternating one
// forward and one backward, and a backward-only cooldown.
type ScheduleGenerator struct {
	PipelineDepth   int
	MicroBatchCount int
}

// Generate returns the ordered instruction sequence of one stage. The
// sequence always holds one Forward and one Backward per micro-batch, and
// the Backward of a micro-batch is always positioned after its Forward.
func (g ScheduleGenerator) Generate(stage int) ([]Instruction, error) {
	if g.PipelineDepth < 1 {
		return nil, &ConfigurationError{
			Reason: fmt.Sprintf("pipeline depth %d, must be at least 1", g.PipelineDepth),
		}
	}

	if g.MicroBatchCount < 1 {
		return nil, &ConfigurationError{
			Reason: fmt.Sprintf("micro-batch count %d, must be at least 1", g.MicroBatchCount),
		}
	}

	if stage < 0 || stage >= g.PipelineDepth {
		return nil, &ConfigurationError{
			Reason: fmt.Sprintf("stage %d out of range for pipeline depth %d",
				stage, g.PipelineDepth),
		}
	}

	warmup := g.PipelineDepth - stage - 1
	if warmup > g.MicroBatchCount {
		// Fewer micro-batches than the pipeline is deep: the stage drains
		// straight from warmup into cooldown.
		warmup = g.MicroBatchCount
	}

	schedule := make([]Instruction, 0, 2*g.MicroBatchCount)
	nextForward := 0
	nextBackward := 0

	for ; nextForward < warmup; nextForward++ {
		schedule = append(schedule, Instruction{Kind: Forward, MicroBatchID: nextForward})
	}

	for nextForward < g.MicroBatchCount {
		schedule = append(schedule, Instruction{Kind: Forward, MicroBatchID: nextForward})
		nextForward++
		schedule = append(schedule, Instruction{Kind: Backward, MicroBatchID: nextBackward})
		nextBackward++
	}

	for ; nextBackward < g.MicroBatchCount; nextBackward++ {
		schedule = append(schedule, Instruction{Kind: Backward, MicroBatchID: nextBackward})
	}

	return schedule, nil
}
