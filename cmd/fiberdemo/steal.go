package main

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gottingen/fiberrt/fiber"
	"github.com/spf13/cobra"
)

func newStealCmd() *cobra.Command {
	var tasks int
	cmd := &cobra.Command{
		Use:   "steal",
		Short: "Floods one tag with short fibers to show idle workers stealing from busy ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSteal(tasks)
		},
	}
	cmd.Flags().IntVar(&tasks, "tasks", 100000, "number of fibers to run")
	return cmd
}

func runSteal(tasks int) error {
	log := buildLogger()
	rt, err := fiber.New(fiber.Options{Tags: cfg.Tags, Concurrency: cfg.ConcurrencyPerTag})
	if err != nil {
		return err
	}
	defer rt.StopWorld()

	var completed int64
	ids := make([]fiber.ID, tasks)
	start := time.Now()
	for i := 0; i < tasks; i++ {
		id, err := rt.StartBackground(func(self *fiber.Fiber) {
			atomic.AddInt64(&completed, 1)
		}, fiber.Attr{})
		if err != nil {
			return err
		}
		ids[i] = id
	}
	for _, id := range ids {
		rt.Join(id)
	}
	elapsed := time.Since(start)

	scheduled, stolen, signaled := rt.Counters()
	log.Info("steal run complete", map[string]any{
		"tasks": tasks, "elapsed": elapsed.String(),
		"scheduled": scheduled, "stolen": stolen, "signaled": signaled,
	})
	fmt.Printf("ran %d fibers in %s (scheduled=%d stolen=%d signaled=%d, completed=%d)\n",
		tasks, elapsed, scheduled, stolen, signaled, atomic.LoadInt64(&completed))
	return nil
}
