package scheduleplayer

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/sarchlab/hybridsim"
	"github.com/sarchlab/hybridsim/timemodel"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// An Orchestrator builds the pipeline × data-parallel device grid, runs
// every device concurrently, and reconstructs the merged timeline.
type Orchestrator struct {
	config    hybridsim.Config
	generator hybridsim.ScheduleGenerator
	devices   []*Device
}

// NewOrchestrator validates the configuration and wires the device grid:
// one pair of dependency channels per adjacent-stage link per replica, and
// one data-parallel group per pipeline stage.
func NewOrchestrator(
	config hybridsim.Config,
	timeEstimator timemodel.TimeEstimator,
) (*Orchestrator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.DependencyTimeout == 0 {
		config.DependencyTimeout = hybridsim.DefaultDependencyTimeout
	}

	o := &Orchestrator{
		config: config,
		generator: hybridsim.ScheduleGenerator{
			PipelineDepth:   config.PipelineDepth,
			MicroBatchCount: config.MicroBatchCount,
		},
		devices: make([]*Device, config.WorldSize()),
	}

	for replica := 0; replica < config.DataParallelSize; replica++ {
		for stage := 0; stage < config.PipelineDepth; stage++ {
			d := NewDevice(stage, replica, config.PipelineDepth, timeEstimator)
			rank := config.Rank(stage, replica)
			if rank != d.Rank() || o.devices[rank] != nil {
				return nil, &hybridsim.ConfigurationError{
					Reason: fmt.Sprintf("device grid is inconsistent at stage %d, replica %d",
						stage, replica),
				}
			}
			o.devices[rank] = d
		}
	}

	o.connectPipelines()
	o.formDataParallelGroups()

	return o, nil
}

// connectPipelines wires each replica's chain of stages with one
// activation channel and one gradient channel per adjacent link.
func (o *Orchestrator) connectPipelines() {
	for replica := 0; replica < o.config.DataParallelSize; replica++ {
		for stage := 0; stage < o.config.PipelineDepth-1; stage++ {
			activation := NewDependencyChannel(
				hybridsim.ActivationForward,
				o.config.MicroBatchCount,
				o.config.DependencyTimeout,
			)
			gradient := NewDependencyChannel(
				hybridsim.GradientBackward,
				o.config.MicroBatchCount,
				o.config.DependencyTimeout,
			)

			upper := o.devices[o.config.Rank(stage, replica)]
			lower := o.devices[o.config.Rank(stage+1, replica)]
			upper.ConnectDownstream(activation, gradient)
			lower.ConnectUpstream(activation, gradient)
		}
	}
}

// formDataParallelGroups assigns each stage's replicas to one ring
// all-reduce group.
func (o *Orchestrator) formDataParallelGroups() {
	for stage := 0; stage < o.config.PipelineDepth; stage++ {
		group := NewDataParallelGroup(
			o.config.DataParallelSize,
			o.config.DependencyTimeout,
		)
		for replica := 0; replica < o.config.DataParallelSize; replica++ {
			o.devices[o.config.Rank(stage, replica)].SetAllReduce(NewRingAllReduce(group))
		}
	}
}

// Devices returns the device grid in rank order.
func (o *Orchestrator) Devices() []*Device {
	return o.devices
}

// Run starts every device concurrently, waits for all of them to finish,
// and returns the merged, normalized timeline. The first device error
// fails the whole run; a partial 1F1B trace is not a meaningful result.
func (o *Orchestrator) Run() (Timeline, error) {
	logrus.WithFields(logrus.Fields{
		"pipelineDepth":    o.config.PipelineDepth,
		"dataParallelSize": o.config.DataParallelSize,
		"microBatchCount":  o.config.MicroBatchCount,
	}).Info("starting simulation")

	var g errgroup.Group
	for _, d := range o.devices {
		d := d
		schedule, err := o.generator.Generate(d.Stage())
		if err != nil {
			return nil, err
		}

		g.Go(func() error {
			_, err := d.Run(schedule)
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return nil, errors.Wrap(err, "simulation failed")
	}

	logs := make([]*hybridsim.EventLog, len(o.devices))
	for i, d := range o.devices {
		logs[i] = d.Log()
	}

	timeline := BuildTimeline(logs)
	logrus.WithField("totalTime", timeline.TotalTime()).Info("simulation finished")

	return timeline, nil
}
