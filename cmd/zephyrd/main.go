package main

import (
	"fmt"
	"os"

	"github.com/zephyr-ci/zephyr/internal/logger"
)

func main() {
	appLogger, err := logger.New(logger.Options{Level: "info", HumanReadable: true, Component: "cli"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}

	rootCmd := newRootCmd(appLogger)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
