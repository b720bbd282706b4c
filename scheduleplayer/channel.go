// Package scheduleplayer executes generated 1F1B schedules on a grid of
// simulated devices and reconstructs the globally ordered timeline.
package scheduleplayer

import (
	"fmt"
	"time"

	"github.com/sarchlab/hybridsim"
)

// A readySignal conveys that the artifact of one micro-batch is ready,
// stamped with the producer's virtual completion time.
type readySignal struct {
	microBatchID int
	readyAt      time.Duration
}

// A DependencyChannel carries per-micro-batch readiness between two
// adjacent pipeline stages in one direction. It is single-producer,
// single-consumer, and signals are consumed exactly in the order they are
// sent, which is the micro-batch order of a well-formed 1F1B schedule.
type DependencyChannel struct {
	direction hybridsim.Direction
	timeout   time.Duration
	signals   chan readySignal
}

// NewDependencyChannel creates a channel for one adjacent-stage link. The
// capacity bounds how far the producer can run ahead of the consumer; the
// micro-batch count of the run is always enough.
func NewDependencyChannel(
	direction hybridsim.Direction,
	capacity int,
	timeout time.Duration,
) *DependencyChannel {
	return &DependencyChannel{
		direction: direction,
		timeout:   timeout,
		signals:   make(chan readySignal, capacity),
	}
}

// Direction returns which way the channel carries artifacts.
func (c *DependencyChannel) Direction() hybridsim.Direction {
	return c.direction
}

// Signal marks the micro-batch's artifact ready at the given virtual time.
// The producer never blocks; overflowing the capacity means the producer
// issued more signals than the schedule has micro-batches.
func (c *DependencyChannel) Signal(microBatchID int, readyAt time.Duration) {
	select {
	case c.signals <- readySignal{microBatchID: microBatchID, readyAt: readyAt}:
	default:
		panic(fmt.Sprintf(
			"%s channel overflow signaling micro-batch %d", c.direction, microBatchID))
	}
}

// Wait blocks until the micro-batch is signaled and returns the virtual
// time its artifact became ready. A signal for a different micro-batch, or
// no signal within the bound, is a dependency violation.
func (c *DependencyChannel) Wait(rank int, microBatchID int) (time.Duration, error) {
	select {
	case s := <-c.signals:
		if s.microBatchID != microBatchID {
			return 0, &hybridsim.DependencyViolationError{
				Rank:         rank,
				MicroBatchID: microBatchID,
				Direction:    c.direction,
			}
		}
		return s.readyAt, nil
	case <-time.After(c.timeout):
		return 0, &hybridsim.DependencyViolationError{
			Rank:         rank,
			MicroBatchID: microBatchID,
			Direction:    c.direction,
		}
	}
}
