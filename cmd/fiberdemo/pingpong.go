package main

import (
	"fmt"
	"time"

	"github.com/gottingen/fiberrt/fiber"
	"github.com/spf13/cobra"
)

func newPingPongCmd() *cobra.Command {
	var rounds int
	cmd := &cobra.Command{
		Use:   "pingpong",
		Short: "Two fibers hand a turn back and forth over a mutex and condition variable",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPingPong(rounds)
		},
	}
	cmd.Flags().IntVar(&rounds, "rounds", 10000, "number of hand-offs")
	return cmd
}

func runPingPong(rounds int) error {
	log := buildLogger()
	rt, err := fiber.New(fiber.Options{Tags: cfg.Tags, Concurrency: cfg.ConcurrencyPerTag})
	if err != nil {
		return err
	}
	defer rt.StopWorld()

	m := rt.NewMutex()
	cv := rt.NewConditionVariable()
	turn := 0 // 0 = ping's turn, 1 = pong's turn
	done := make(chan struct{})

	start := time.Now()
	rt.StartBackground(func(self *fiber.Fiber) {
		for i := 0; i < rounds; i++ {
			m.Lock(self)
			for turn != 0 {
				cv.Wait(self, m)
			}
			turn = 1
			cv.Broadcast(m)
			m.Unlock()
		}
	}, fiber.Attr{})

	rt.StartBackground(func(self *fiber.Fiber) {
		for i := 0; i < rounds; i++ {
			m.Lock(self)
			for turn != 1 {
				cv.Wait(self, m)
			}
			turn = 0
			cv.Broadcast(m)
			m.Unlock()
		}
		close(done)
	}, fiber.Attr{})

	<-done
	elapsed := time.Since(start)
	log.Info("pingpong complete", map[string]any{"rounds": rounds, "elapsed": elapsed.String()})
	fmt.Printf("completed %d round-trips in %s\n", rounds, elapsed)
	return nil
}
