package main

import (
	"fmt"
	"time"

	"github.com/gottingen/fiberrt/fiber"
	"github.com/spf13/cobra"
)

func newBroadcastCmd() *cobra.Command {
	var waiters int
	cmd := &cobra.Command{
		Use:   "broadcast",
		Short: "Many fibers block on a condition variable until one broadcast releases all of them",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBroadcast(waiters)
		},
	}
	cmd.Flags().IntVar(&waiters, "waiters", 100, "number of fibers waiting on the broadcast")
	return cmd
}

func runBroadcast(waiters int) error {
	log := buildLogger()
	rt, err := fiber.New(fiber.Options{Tags: cfg.Tags, Concurrency: cfg.ConcurrencyPerTag})
	if err != nil {
		return err
	}
	defer rt.StopWorld()

	m := rt.NewMutex()
	cv := rt.NewConditionVariable()
	ready := false
	woken := rt.NewCountdownEvent(int32(waiters))

	for i := 0; i < waiters; i++ {
		rt.StartBackground(func(self *fiber.Fiber) {
			m.Lock(self)
			for !ready {
				cv.Wait(self, m)
			}
			m.Unlock()
			woken.Signal(1)
		}, fiber.Attr{})
	}

	// Give every waiter a chance to reach cv.Wait before broadcasting.
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	// The broadcasting goroutine is the program's main goroutine, not a
	// fiber this Runtime drives, so it passes nil self and blocks its OS
	// thread the way Control.Join documents for non-fiber callers.
	m.Lock(nil)
	ready = true
	cv.Broadcast(m)
	m.Unlock()

	woken.Wait(nil)
	elapsed := time.Since(start)

	scheduled, stolen, _ := rt.Counters()
	log.Info("broadcast complete", map[string]any{
		"waiters": waiters, "elapsed": elapsed.String(), "scheduled": scheduled, "stolen": stolen,
	})
	fmt.Printf("%d waiters woken in %s\n", waiters, elapsed)
	return nil
}
