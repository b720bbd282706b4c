package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/sarchlab/hybridsim"
	"github.com/sarchlab/hybridsim/scheduleplayer"
	"github.com/sarchlab/hybridsim/timemodel"
)

var (
	pipelineDepth     int
	dataParallelSize  int
	microBatchCount   int
	forwardCost       time.Duration
	backwardCost      time.Duration
	allReduceStepCost time.Duration
	logLevel          string
)

var rootCmd = &cobra.Command{
	Use:          "hybridsim",
	Short:        "Simulate the 1F1B schedule of a hybrid-parallel training run",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		logrus.SetLevel(level)

		config := hybridsim.Config{
			PipelineDepth:     pipelineDepth,
			DataParallelSize:  dataParallelSize,
			MicroBatchCount:   microBatchCount,
			ForwardCost:       forwardCost,
			BackwardCost:      backwardCost,
			AllReduceStepCost: allReduceStepCost,
		}
		timeEstimator := &timemodel.FixedTimeEstimator{
			ForwardTime:       config.ForwardCost,
			BackwardTime:      config.BackwardCost,
			AllReduceStepTime: config.AllReduceStepCost,
		}

		orchestrator, err := scheduleplayer.NewOrchestrator(config, timeEstimator)
		if err != nil {
			return err
		}

		timeline, err := orchestrator.Run()
		if err != nil {
			return err
		}

		fmt.Printf("Total training time: %v\n", timeline.TotalTime())
		printTimeline(timeline, config)

		return nil
	},
}

// printTimeline renders the merged trace as one column per rank, each row
// holding the event that starts at that virtual time.
func printTimeline(timeline scheduleplayer.Timeline, config hybridsim.Config) {
	const colWidth = 25

	fmt.Println("\n--- Timeline Execution Log ---")

	header := fmt.Sprintf("%-10s", "Time (s)")
	for replica := 0; replica < config.DataParallelSize; replica++ {
		for stage := 0; stage < config.PipelineDepth; stage++ {
			rank := config.Rank(stage, replica)
			header += fmt.Sprintf(" | %-*s", colWidth,
				fmt.Sprintf("Rank %d (Stage %d)", rank, stage))
		}
	}
	fmt.Println(header)
	fmt.Println(strings.Repeat("-", len(header)))

	for _, e := range timeline {
		row := fmt.Sprintf("%-10.3f", e.Start.Seconds())
		for rank := 0; rank < config.WorldSize(); rank++ {
			cell := ""
			if rank == e.Rank {
				cell = e.String()
			}
			row += fmt.Sprintf(" | %-*s", colWidth, cell)
		}
		fmt.Println(row)
	}
}

func init() {
	rootCmd.Flags().IntVar(&pipelineDepth, "pipeline-depth", 2,
		"The number of pipeline stages.")
	rootCmd.Flags().IntVar(&dataParallelSize, "data-parallel-size", 2,
		"The number of data-parallel replicas per stage.")
	rootCmd.Flags().IntVar(&microBatchCount, "micro-batches", 8,
		"The number of micro-batches per global batch.")
	rootCmd.Flags().DurationVar(&forwardCost, "forward-cost", 50*time.Millisecond,
		"The simulated cost of one forward pass.")
	rootCmd.Flags().DurationVar(&backwardCost, "backward-cost", 80*time.Millisecond,
		"The simulated cost of one backward pass.")
	rootCmd.Flags().DurationVar(&allReduceStepCost, "allreduce-step-cost", 20*time.Millisecond,
		"The simulated cost of one ring all-reduce step.")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info",
		"Log verbosity level.")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logrus.Error(err)
		atexit.Exit(1)
	}
	atexit.Exit(0)
}
