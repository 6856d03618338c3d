package main

import (
	"os"

	"github.com/utopia-dart/utopia-loadbalancer/pkg/handshake"
)

func main() {
	// Workers are respawns of this same executable. The handshake
	// decides the role exactly once, before any command parsing, so a
	// child can never re-enter supervisor mode.
	if info := handshake.FromEnv(); info.Complete() {
		runWorker(info)
		return
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
