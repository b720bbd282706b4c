package scheduleplayer

import (
	"sort"
	"time"

	"github.com/sarchlab/hybridsim"
)

// A Timeline is the globally ordered view of every device's events, with
// virtual time normalized so the earliest event starts at zero. It is a
// read-only result; rendering is up to the caller.
type Timeline []hybridsim.Event

// BuildTimeline merges the given event logs into one sequence ordered by
// start time ascending, ties broken by ascending rank, and normalizes all
// start times against the earliest event.
func BuildTimeline(logs []*hybridsim.EventLog) Timeline {
	var merged Timeline
	for _, log := range logs {
		if log == nil {
			continue
		}
		merged = append(merged, log.Events()...)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Start != merged[j].Start {
			return merged[i].Start < merged[j].Start
		}
		return merged[i].Rank < merged[j].Rank
	})

	if len(merged) == 0 {
		return merged
	}

	base := merged[0].Start
	for i := range merged {
		merged[i].Start -= base
	}

	return merged
}

// TotalTime returns the virtual time at which the last event ends.
func (t Timeline) TotalTime() time.Duration {
	var end time.Duration
	for _, e := range t {
		if e.End() > end {
			end = e.End()
		}
	}
	return end
}

// ForRank returns the events of one device, preserving order.
func (t Timeline) ForRank(rank int) []hybridsim.Event {
	var events []hybridsim.Event
	for _, e := range t {
		if e.Rank == rank {
			events = append(events, e)
		}
	}
	return events
}
