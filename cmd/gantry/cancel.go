// Copyright (C) The Gantry Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"flag"
	"fmt"
	"io"

	"github.com/gantry-hpc/gantry/lib/cmd"
	"github.com/gantry-hpc/gantry/lib/ctxlog"
)

// runCancel deletes a submitted job, locally or over an SSH session.
func runCancel(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	logger := ctxlog.New(stderr, "text", "info")

	flags := flag.NewFlagSet(prog, flag.ContinueOnError)
	remote := flags.String("remote", "", "cancel via SSH on a remote login node (`user@host`)")
	sshKey := flags.String("ssh-key", "", "private key `file` for the remote session (default: ssh-agent)")
	if !cmd.ParseFlags(flags, prog, args, "job-id", stderr) {
		return 2
	}
	if flags.NArg() != 1 {
		fmt.Fprintf(stderr, "usage: %s [options] job-id\n", prog)
		return 2
	}
	jobID := flags.Arg(0)

	sched, _, cleanup, err := schedulerFor(*remote, *sshKey, "", logger)
	if err != nil {
		logger.Error(err)
		return 1
	}
	defer cleanup()

	if err := sched.Cancel(jobID); err != nil {
		logger.Error(err)
		return 1
	}
	logger.WithField("job", jobID).Info("job cancelled")
	return 0
}
