package main

import (
	"os"

	"github.com/FranksOps/primp/internal/cli"
)

// Main is exported so tests can drive the binary entry point.
func Main() int {
	if err := cli.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(Main())
}
