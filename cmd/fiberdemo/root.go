package main

import (
	"github.com/gottingen/fiberrt/rtconfig"
	"github.com/gottingen/fiberrt/rtlog"
	"github.com/spf13/cobra"
)

var cfg = rtconfig.Default()
var logFormat string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "fiberdemo",
		Short: "Exercises the fiberrt scheduler from outside the module",
	}
	flags := root.PersistentFlags()
	flags.IntVar(&cfg.ConcurrencyPerTag, "concurrency", cfg.ConcurrencyPerTag, "workers to start on tag 0")
	flags.IntVar(&cfg.Tags, "tags", cfg.Tags, "number of scheduling tags")
	flags.StringVar(&logFormat, "log-format", "text", "log format: text or json")

	root.AddCommand(newPingPongCmd())
	root.AddCommand(newBroadcastCmd())
	root.AddCommand(newStealCmd())
	return root
}

func buildLogger() rtlog.Logger {
	opts := cfg.Log
	if logFormat == "json" {
		opts.Format = rtlog.JSON
	}
	return rtlog.New(opts)
}
