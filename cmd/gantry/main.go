// Copyright (C) The Gantry Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Gantry launches and supervises fleets of inference servers on a
// PBS-scheduled HPC cluster.
package main

import (
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/gantry-hpc/gantry/lib/cmd"
)

var (
	version = "dev"

	handler = cmd.Multi(map[string]cmd.RunFunc{
		"version":   versionCommand,
		"-version":  versionCommand,
		"--version": versionCommand,

		"submit":   runSubmit,
		"launch":   runLaunch,
		"registry": registryCommand,
		"bench":    runBench,
		"cancel":   runCancel,
	})
)

func versionCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fmt.Fprintf(stdout, "%s %s (%s)\n", prog, version, runtime.Version())
	return 0
}

func main() {
	os.Exit(handler(os.Args[0], os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}
