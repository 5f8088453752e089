package main

import (
	"fmt"
	"os"
	"time"

	"github.com/tphakala/dualverify/cmd"
	"github.com/tphakala/dualverify/internal/conf"
	"github.com/tphakala/dualverify/internal/telemetry"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	os.Exit(mainWithExitCode())
}

func mainWithExitCode() int {
	settings, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		return 1
	}
	settings.Version = version

	// Flush after Execute so errors reported during shutdown are delivered.
	defer telemetry.Flush(2 * time.Second)

	rootCmd := cmd.RootCommand(settings)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Command execution error: %v\n", err)
		return 1
	}

	return 0
}
