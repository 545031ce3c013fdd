// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command infinitune controls the local playback daemon. Most subcommands are
// thin IPC calls; "daemon run" hosts the daemon itself.
package main

import (
	"fmt"
	"os"

	"github.com/beastyrabbit/infinitune-sub001/internal/cli"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	args := os.Args[1:]
	if len(args) > 0 && (args[0] == "version" || args[0] == "-version" || args[0] == "--version") {
		fmt.Printf("infinitune %s (commit: %s, built: %s)\n", version, commit, buildDate)
		return
	}
	os.Exit(cli.Run(args))
}
