// Command fiberdemo exercises the runtime from the outside, the way a
// real embedder would: it never imports internal/..., only the public
// fiber, rtconfig, and rtlog packages. Each subcommand reproduces
// one of the scheduling scenarios the runtime is built to handle
// correctly under concurrency (ping-pong hand-off, broadcast wakeup,
// work-stealing under load).
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
