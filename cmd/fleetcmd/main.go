// Package main is the entry point for the fleetcmd binary.
//
// fleetcmd is a web service for running shell commands across fleets of
// servers over SSH. A batch of hosts and commands is submitted over HTTP; the
// caller then subscribes to a websocket room and receives per-command results
// as they complete.
//
// Usage:
//
//	fleetcmd            # start the server
//	fleetcmd --addr :9000 --db /var/lib/fleetcmd/fleetcmd.db
//	fleetcmd version    # print the version
//
// All wiring lives in internal/cli. This file handles top-level error
// reporting only.
package main

import (
	"fmt"
	"os"

	"github.com/treykane/fleetcmd/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()

	// Any error returned by a RunE handler is printed to stderr and the
	// process exits with a non-zero status code.
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
