package scheduleplayer

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/hybridsim"
	"github.com/sarchlab/hybridsim/timemodel"
)

func countKind(events []hybridsim.Event, kind hybridsim.EventKind) int {
	n := 0
	for _, e := range events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func eventTime(
	events []hybridsim.Event,
	kind hybridsim.EventKind,
	index int,
) (start, end time.Duration) {
	for _, e := range events {
		if e.Kind == kind && e.Index == index {
			return e.Start, e.End()
		}
	}
	Fail("event not found")
	return 0, 0
}

var _ = Describe("Orchestrator", func() {
	var (
		config hybridsim.Config
		te     timemodel.TimeEstimator
	)

	BeforeEach(func() {
		config = hybridsim.Config{
			PipelineDepth:     2,
			DataParallelSize:  2,
			MicroBatchCount:   8,
			ForwardCost:       50 * time.Millisecond,
			BackwardCost:      80 * time.Millisecond,
			AllReduceStepCost: 20 * time.Millisecond,
			DependencyTimeout: 2 * time.Second,
		}
		te = &timemodel.FixedTimeEstimator{
			ForwardTime:       50 * time.Millisecond,
			BackwardTime:      80 * time.Millisecond,
			AllReduceStepTime: 20 * time.Millisecond,
		}
	})

	It("should reject an invalid configuration before any device starts", func() {
		config.PipelineDepth = 0

		_, err := NewOrchestrator(config, te)

		Expect(err).To(BeAssignableToTypeOf(&hybridsim.ConfigurationError{}))
	})

	It("should build the device grid with every stage/replica pair exactly once", func() {
		orchestrator, err := NewOrchestrator(config, te)

		Expect(err).NotTo(HaveOccurred())
		devices := orchestrator.Devices()
		Expect(devices).To(HaveLen(4))
		for rank, d := range devices {
			Expect(d.Rank()).To(Equal(rank))
			Expect(d.Rank()).To(Equal(config.Rank(d.Stage(), d.Replica())))
		}
	})

	Context("on the 2-stage, 2-replica, 8-micro-batch topology", func() {
		var timeline Timeline

		BeforeEach(func() {
			orchestrator, err := NewOrchestrator(config, te)
			Expect(err).NotTo(HaveOccurred())

			timeline, err = orchestrator.Run()
			Expect(err).NotTo(HaveOccurred())
		})

		It("should record every micro-batch and all-reduce step on every rank", func() {
			Expect(timeline).To(HaveLen(4*16 + 4*2))

			for rank := 0; rank < 4; rank++ {
				events := timeline.ForRank(rank)
				Expect(countKind(events, hybridsim.EventForward)).To(Equal(8))
				Expect(countKind(events, hybridsim.EventBackward)).To(Equal(8))
				Expect(countKind(events, hybridsim.EventAllReduceStep)).To(Equal(2))
			}
		})

		It("should start at virtual time zero and stay ordered", func() {
			Expect(timeline[0].Start).To(Equal(time.Duration(0)))
			for i := 1; i < len(timeline); i++ {
				Expect(timeline[i].Start).
					To(BeNumerically(">=", timeline[i-1].Start))
			}
		})

		It("should respect the cross-stage dependencies in both replicas", func() {
			for replica := 0; replica < 2; replica++ {
				upper := timeline.ForRank(config.Rank(0, replica))
				lower := timeline.ForRank(config.Rank(1, replica))

				for mb := 0; mb < 8; mb++ {
					lowerStart, _ := eventTime(lower, hybridsim.EventForward, mb)
					_, upperEnd := eventTime(upper, hybridsim.EventForward, mb)
					Expect(lowerStart).To(BeNumerically(">=", upperEnd))

					upperStart, _ := eventTime(upper, hybridsim.EventBackward, mb)
					_, lowerEnd := eventTime(lower, hybridsim.EventBackward, mb)
					Expect(upperStart).To(BeNumerically(">=", lowerEnd))
				}
			}
		})
	})

	It("should return every device's memory estimate to zero", func() {
		orchestrator, err := NewOrchestrator(config, te)
		Expect(err).NotTo(HaveOccurred())

		_, err = orchestrator.Run()
		Expect(err).NotTo(HaveOccurred())

		for _, d := range orchestrator.Devices() {
			Expect(d.MemoryEstimate()).To(Equal(0))
		}
	})

	It("should produce identical timelines on identical runs", func() {
		first, err := NewOrchestrator(config, te)
		Expect(err).NotTo(HaveOccurred())
		second, err := NewOrchestrator(config, te)
		Expect(err).NotTo(HaveOccurred())

		firstTimeline, err := first.Run()
		Expect(err).NotTo(HaveOccurred())
		secondTimeline, err := second.Run()
		Expect(err).NotTo(HaveOccurred())

		Expect(firstTimeline).To(Equal(secondTimeline))
	})

	It("should run the degenerate case with fewer micro-batches than stages", func() {
		config.PipelineDepth = 4
		config.DataParallelSize = 1
		config.MicroBatchCount = 2

		orchestrator, err := NewOrchestrator(config, te)
		Expect(err).NotTo(HaveOccurred())

		timeline, err := orchestrator.Run()
		Expect(err).NotTo(HaveOccurred())

		// No collective for a single replica, just the pipeline work.
		Expect(timeline).To(HaveLen(4 * 4))
		for rank := 0; rank < 4; rank++ {
			events := timeline.ForRank(rank)
			Expect(countKind(events, hybridsim.EventForward)).To(Equal(2))
			Expect(countKind(events, hybridsim.EventBackward)).To(Equal(2))
			Expect(countKind(events, hybridsim.EventAllReduceStep)).To(Equal(0))
		}
	})

	It("should run a data-parallel-only grid with 2*(N-1) steps per rank", func() {
		config.PipelineDepth = 1
		config.DataParallelSize = 3
		config.MicroBatchCount = 2

		orchestrator, err := NewOrchestrator(config, te)
		Expect(err).NotTo(HaveOccurred())

		timeline, err := orchestrator.Run()
		Expect(err).NotTo(HaveOccurred())

		for rank := 0; rank < 3; rank++ {
			events := timeline.ForRank(rank)
			Expect(countKind(events, hybridsim.EventAllReduceStep)).To(Equal(4))
		}
	})
})
