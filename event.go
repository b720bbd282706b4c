// Package hybridsim provides a simulator that models the execution schedule
// of hybrid-parallel distributed training.
package hybridsim

import (
	"fmt"
	"sync"
	"time"
)

// An EventKind represents the kind of work an event records.
type EventKind int

// EventKind constants
const (
	EventForward EventKind = iota
	EventBackward
	EventAllReduceStep
)

func (k EventKind) String() string {
	switch k {
	case EventForward:
		return "Forward"
	case EventBackward:
		return "Backward"
	case EventAllReduceStep:
		return "All-Reduce Step"
	}
	return "Unknown"
}

// An Event records one timed unit of simulated work on a device. We do not
// carry any payload since the execution schedule is data independent. Events
// are immutable once appended to a log.
type Event struct {
	Rank int
	Kind EventKind

	// Index is the micro-batch ID for Forward and Backward events, and the
	// step index for All-Reduce steps.
	Index int

	Start    time.Duration
	Duration time.Duration
}

// End returns the virtual time at which the event stops occupying its device.
func (e Event) End() time.Duration {
	return e.Start + e.Duration
}

func (e Event) String() string {
	if e.Kind == EventAllReduceStep {
		return fmt.Sprintf("%s %d", e.Kind, e.Index+1)
	}
	return fmt.Sprintf("%s MB %d", e.Kind, e.Index)
}

// An EventLog is the append-only record of one device's events. Each device
// writes only its own log, but the log is safe for concurrent use so that
// readers never race with a late append.
type EventLog struct {
	mu     sync.Mutex
	events []Event
}

// Append adds an event to the log. Start times must be non-decreasing
// within one log; a regression means the device's clock went backwards,
// which is a bug in the caller.
func (l *EventLog) Append(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n := len(l.events); n > 0 && e.Start < l.events[n-1].Start {
		panic(fmt.Sprintf(
			"event log of rank %d: start time %v is before the previous event at %v",
			e.Rank, e.Start, l.events[n-1].Start))
	}

	l.events = append(l.events, e)
}

// Events returns a copy of the logged events in append order.
func (l *EventLog) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	events := make([]Event, len(l.events))
	copy(events, l.events)

	return events
}

// Len returns the number of logged events.
func (l *EventLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.events)
}
