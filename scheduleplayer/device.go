package scheduleplayer

import (
	"time"

	"github.com/pkg/errors"
	"github.com/sarchlab/hybridsim"
	"github.com/sarchlab/hybridsim/timemodel"
	"github.com/sirupsen/logrus"
)

// activationCost is the memory-estimate delta of holding one micro-batch's
// activations. Every forward adds it and the matching backward releases it,
// so the estimate returns to zero after the cooldown.
const activationCost = 10

// A Device owns one pipeline stage and data-parallel replica slot. It
// executes its instruction sequence in order on a private virtual clock,
// blocking on dependency channels where the schedule requires an artifact
// from a neighboring stage, and records every operation on its own log.
type Device struct {
	stage         int
	replica       int
	rank          int
	pipelineDepth int

	timeEstimator timemodel.TimeEstimator

	activationIn  *DependencyChannel
	activationOut *DependencyChannel
	gradientIn    *DependencyChannel
	gradientOut   *DependencyChannel
	allReduce     *RingAllReduce

	clock          time.Duration
	memoryEstimate int
	log            *hybridsim.EventLog
	logger         *logrus.Entry
}

// NewDevice creates the device of the given stage and replica slot.
func NewDevice(
	stage int,
	replica int,
	pipelineDepth int,
	timeEstimator timemodel.TimeEstimator,
) *Device {
	rank := replica*pipelineDepth + stage

	return &Device{
		stage:         stage,
		replica:       replica,
		rank:          rank,
		pipelineDepth: pipelineDepth,
		timeEstimator: timeEstimator,
		log:           &hybridsim.EventLog{},
		logger: logrus.WithFields(logrus.Fields{
			"rank":    rank,
			"stage":   stage,
			"replica": replica,
		}),
	}
}

// ConnectUpstream attaches the channels shared with stage-1: inbound
// activations and outbound gradients.
func (d *Device) ConnectUpstream(activationIn, gradientOut *DependencyChannel) {
	d.activationIn = activationIn
	d.gradientOut = gradientOut
}

// ConnectDownstream attaches the channels shared with stage+1: outbound
// activations and inbound gradients.
func (d *Device) ConnectDownstream(activationOut, gradientIn *DependencyChannel) {
	d.activationOut = activationOut
	d.gradientIn = gradientIn
}

// SetAllReduce assigns the ring collective the device participates in
// after its last instruction.
func (d *Device) SetAllReduce(allReduce *RingAllReduce) {
	d.allReduce = allReduce
}

// Rank returns the device's globally unique rank.
func (d *Device) Rank() int {
	return d.rank
}

// Stage returns the device's pipeline stage.
func (d *Device) Stage() int {
	return d.stage
}

// Replica returns the device's data-parallel replica slot.
func (d *Device) Replica() int {
	return d.replica
}

// MemoryEstimate returns the signed activation-memory accumulator.
func (d *Device) MemoryEstimate() int {
	return d.memoryEstimate
}

// Log returns the device's event log.
func (d *Device) Log() *hybridsim.EventLog {
	return d.log
}

// Run executes the instruction sequence in order, participates in the
// group's ring all-reduce, and returns the device's event log.
func (d *Device) Run(schedule []hybridsim.Instruction) (*hybridsim.EventLog, error) {
	for _, inst := range schedule {
		var err error
		switch inst.Kind {
		case hybridsim.Forward:
			err = d.forward(inst.MicroBatchID)
		case hybridsim.Backward:
			err = d.backward(inst.MicroBatchID)
		}
		if err != nil {
			return nil, err
		}
	}

	if d.allReduce != nil {
		if err := d.allReduce.Run(d); err != nil {
			return nil, err
		}
	}

	return d.log, nil
}

func (d *Device) forward(microBatchID int) error {
	if d.stage > 0 {
		if d.activationIn == nil {
			// Topology bug: there is no link to ever deliver the activation.
			return &hybridsim.DependencyViolationError{
				Rank:         d.rank,
				MicroBatchID: microBatchID,
				Direction:    hybridsim.ActivationForward,
			}
		}

		readyAt, err := d.activationIn.Wait(d.rank, microBatchID)
		if err != nil {
			return err
		}
		d.advanceTo(readyAt)
	}

	d.logger.Debugf("starting forward on micro-batch %d", microBatchID)
	if err := d.execute(hybridsim.EventForward, microBatchID); err != nil {
		return err
	}
	d.memoryEstimate += activationCost
	d.logger.Debugf("finished forward on micro-batch %d", microBatchID)

	if d.stage < d.pipelineDepth-1 && d.activationOut != nil {
		d.activationOut.Signal(microBatchID, d.clock)
	}

	return nil
}

func (d *Device) backward(microBatchID int) error {
	if d.stage < d.pipelineDepth-1 {
		if d.gradientIn == nil {
			return &hybridsim.DependencyViolationError{
				Rank:         d.rank,
				MicroBatchID: microBatchID,
				Direction:    hybridsim.GradientBackward,
			}
		}

		readyAt, err := d.gradientIn.Wait(d.rank, microBatchID)
		if err != nil {
			return err
		}
		d.advanceTo(readyAt)
	}

	d.logger.Debugf("starting backward on micro-batch %d", microBatchID)
	if err := d.execute(hybridsim.EventBackward, microBatchID); err != nil {
		return err
	}
	d.memoryEstimate -= activationCost
	d.logger.Debugf("finished backward on micro-batch %d", microBatchID)

	if d.stage > 0 && d.gradientOut != nil {
		d.gradientOut.Signal(microBatchID, d.clock)
	}

	return nil
}

// execute estimates the operation's duration, records it at the current
// virtual time, and advances the clock past it.
func (d *Device) execute(kind hybridsim.EventKind, index int) error {
	out, err := d.timeEstimator.Estimate(timemodel.TimeEstimatorInput{
		Kind:    kind,
		Index:   index,
		Stage:   d.stage,
		Replica: d.replica,
	})
	if err != nil {
		return errors.Wrapf(err, "rank %d: estimating %s time", d.rank, kind)
	}

	d.record(kind, index, out.Time)

	return nil
}

func (d *Device) record(kind hybridsim.EventKind, index int, duration time.Duration) {
	d.log.Append(hybridsim.Event{
		Rank:     d.rank,
		Kind:     kind,
		Index:    index,
		Start:    d.clock,
		Duration: duration,
	})
	d.clock += duration
}

// advanceTo moves the clock to the dependency's ready time if the device
// was idle waiting for it. A clock already past the ready time means the
// artifact arrived while the device was busy.
func (d *Device) advanceTo(readyAt time.Duration) {
	if readyAt > d.clock {
		d.clock = readyAt
	}
}
