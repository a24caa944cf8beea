package main

import (
	"os"

	"github.com/G-Research/fluxbench/cmd/fluxbench/cmd"
	"github.com/G-Research/fluxbench/internal/common/logging"
)

func main() {
	logging.ConfigureCliLogging()
	err := cmd.RootCmd().Execute()
	if err != nil {
		os.Exit(1)
	}
}
