package scheduleplayer

import (
	"sync"
	"time"

	gomock "github.com/golang/mock/gomock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/hybridsim"
	"github.com/sarchlab/hybridsim/timemodel"
)

var _ = Describe("RingAllReduce", func() {
	var (
		mockCtrl *gomock.Controller
		te       *MockTimeEstimator
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		te = NewMockTimeEstimator(mockCtrl)
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should schedule 2*(N-1) steps", func() {
		Expect(NewDataParallelGroup(1, time.Second).Steps()).To(Equal(0))
		Expect(NewDataParallelGroup(2, time.Second).Steps()).To(Equal(2))
		Expect(NewDataParallelGroup(3, time.Second).Steps()).To(Equal(4))
		Expect(NewDataParallelGroup(4, time.Second).Steps()).To(Equal(6))
	})

	It("should be a no-op for a group of one", func() {
		group := NewDataParallelGroup(1, 50*time.Millisecond)
		d := NewDevice(0, 0, 1, te)
		d.clock = 30 * time.Millisecond

		err := NewRingAllReduce(group).Run(d)

		Expect(err).NotTo(HaveOccurred())
		Expect(d.Log().Len()).To(Equal(0))
		Expect(d.clock).To(Equal(30 * time.Millisecond))
	})

	It("should hold every member at the entry barrier until the last one arrives", func() {
		te.EXPECT().
			Estimate(gomock.Any()).
			Return(timemodel.TimeEstimatorOutput{Time: 20 * time.Millisecond}, nil).
			AnyTimes()

		group := NewDataParallelGroup(2, time.Second)
		first := NewDevice(0, 0, 1, te)
		second := NewDevice(0, 1, 1, te)
		first.clock = 100 * time.Millisecond
		second.clock = 300 * time.Millisecond

		var wg sync.WaitGroup
		for _, d := range []*Device{first, second} {
			d := d
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				Expect(NewRingAllReduce(group).Run(d)).To(Succeed())
			}()
		}
		wg.Wait()

		for _, d := range []*Device{first, second} {
			events := d.Log().Events()
			Expect(events).To(HaveLen(2))
			Expect(events[0].Kind).To(Equal(hybridsim.EventAllReduceStep))
			Expect(events[0].Index).To(Equal(0))
			Expect(events[0].Start).To(Equal(300 * time.Millisecond))
			Expect(events[1].Index).To(Equal(1))
			Expect(events[1].Start).To(Equal(320 * time.Millisecond))
		}
	})

	It("should fail within the bound when a member never arrives", func() {
		group := NewDataParallelGroup(2, 50*time.Millisecond)
		d := NewDevice(0, 0, 1, te)

		start := time.Now()
		err := NewRingAllReduce(group).Run(d)

		Expect(time.Since(start)).To(BeNumerically("<", time.Second))
		Expect(err).To(HaveOccurred())
	})
})
