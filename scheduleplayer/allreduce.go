package scheduleplayer

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sarchlab/hybridsim"
	"github.com/sarchlab/hybridsim/timemodel"
)

// A DataParallelGroup is the set of devices holding the same pipeline stage
// across replicas. Membership is fixed for the lifetime of the run; the
// group is used only for the ring collective.
type DataParallelGroup struct {
	size    int
	timeout time.Duration

	mu       sync.Mutex
	arrived  int
	latest   time.Duration
	released chan struct{}
}

// NewDataParallelGroup creates a group of the given size. The timeout
// bounds how long a member waits at the entry barrier for the others.
func NewDataParallelGroup(size int, timeout time.Duration) *DataParallelGroup {
	return &DataParallelGroup{
		size:     size,
		timeout:  timeout,
		released: make(chan struct{}),
	}
}

// Size returns the number of members.
func (g *DataParallelGroup) Size() int {
	return g.size
}

// Steps returns the number of communication steps of one ring all-reduce
// across the group.
func (g *DataParallelGroup) Steps() int {
	if g.size <= 1 {
		return 0
	}
	return 2 * (g.size - 1)
}

// enter blocks until every member has entered the collective and returns
// the virtual time at which it starts: the latest member's entry time.
func (g *DataParallelGroup) enter(rank int, at time.Duration) (time.Duration, error) {
	g.mu.Lock()
	if at > g.latest {
		g.latest = at
	}
	g.arrived++
	last := g.arrived == g.size
	if last {
		close(g.released)
	}
	g.mu.Unlock()

	if !last {
		select {
		case <-g.released:
		case <-time.After(g.timeout):
			return 0, errors.Errorf(
				"rank %d: all-reduce entry barrier timed out with %d of %d members present",
				rank, g.arrived, g.size)
		}
	}

	g.mu.Lock()
	start := g.latest
	g.mu.Unlock()

	return start, nil
}

// A RingAllReduce synchronizes the gradients of one data-parallel group
// with a ring collective of 2*(N-1) uniform fixed-cost steps.
type RingAllReduce struct {
	group *DataParallelGroup
}

// NewRingAllReduce creates a ring all-reduce over the given group.
func NewRingAllReduce(group *DataParallelGroup) *RingAllReduce {
	return &RingAllReduce{group: group}
}

// Group returns the data-parallel group the collective runs over.
func (r *RingAllReduce) Group() *DataParallelGroup {
	return r.group
}

// Run performs the collective for one member device. The member is held at
// the entry barrier until the whole group has arrived, then records every
// step on its own log. A group of one is a no-op with no barrier.
func (r *RingAllReduce) Run(d *Device) error {
	if r.group.Size() <= 1 {
		return nil
	}

	d.logger.Debug("entering ring all-reduce")
	start, err := r.group.enter(d.Rank(), d.clock)
	if err != nil {
		return err
	}
	d.clock = start

	for step := 0; step < r.group.Steps(); step++ {
		out, err := d.timeEstimator.Estimate(timemodel.TimeEstimatorInput{
			Kind:    hybridsim.EventAllReduceStep,
			Index:   step,
			Stage:   d.Stage(),
			Replica: d.Replica(),
		})
		if err != nil {
			return errors.Wrapf(err, "rank %d: estimating all-reduce step time", d.Rank())
		}

		d.record(hybridsim.EventAllReduceStep, step, out.Time)
	}
	d.logger.Debug("finished ring all-reduce")

	return nil
}
