// Copyright (C) The Gantry Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/gantry-hpc/gantry/lib/cmd"
	"github.com/gantry-hpc/gantry/lib/config"
	"github.com/gantry-hpc/gantry/lib/ctxlog"
	"github.com/gantry-hpc/gantry/lib/pbs"
	"github.com/gantry-hpc/gantry/lib/sshexecutor"
	"github.com/sirupsen/logrus"
)

// runSubmit renders a batch script for the configured fleet and hands
// it to the scheduler, locally or over an SSH session to a remote
// submission host.
func runSubmit(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	logger := ctxlog.New(stderr, "text", "info")
	ctx := ctxlog.Context(context.Background(), logger)

	flags := flag.NewFlagSet(prog, flag.ContinueOnError)
	cfgFlags := config.NewFlags(flags)
	dryRun := flags.Bool("dry-run", false, "print the generated batch script without submitting")
	wait := flags.Bool("wait", false, "block until instances are healthy and the endpoints artifact is written")
	remote := flags.String("remote", "", "submit via SSH to a remote login node (`user@host`)")
	sshKey := flags.String("ssh-key", "", "private key `file` for the remote session (default: ssh-agent)")
	if !cmd.ParseFlags(flags, prog, args, "", stderr) {
		return 2
	}
	cfg, err := cfgFlags.Load()
	if err != nil {
		logger.Error(err)
		return 1
	}
	if err := cfg.Validate(); err != nil {
		logger.Error(err)
		return 1
	}
	if cfg.Account == "" {
		logger.Error("an account is required (use -account or set account in the config file)")
		return 1
	}

	script, err := renderJobScript(cfg, cfg.ResolveHFToken())
	if err != nil {
		logger.Errorf("error rendering batch script: %s", err)
		return 1
	}
	if *dryRun {
		fmt.Fprint(stdout, script)
		return 0
	}

	sched, src, cleanup, err := schedulerFor(*remote, *sshKey, cfg.EndpointsFile, logger)
	if err != nil {
		logger.Error(err)
		return 1
	}
	defer cleanup()

	if *wait {
		// A stale artifact from an earlier run would satisfy
		// the wait immediately.
		if err := src.Remove(); err != nil {
			logger.Errorf("error removing stale endpoints artifact: %s", err)
			return 1
		}
	}

	jobID, err := sched.Submit(script)
	if err != nil {
		logger.Error(err)
		return 1
	}
	logger.WithField("job", jobID).Info("job submitted")

	if !*wait {
		fmt.Fprintln(stdout, jobID)
		return 0
	}

	aw := &pbs.Awaiter{
		Scheduler:    sched,
		Source:       src,
		PollInterval: 15 * time.Second,
		Progress:     stderr,
	}
	endpoints, err := aw.Await(ctx, jobID)
	if err != nil {
		logger.Error(err)
		return 1
	}
	for _, ep := range endpoints {
		fmt.Fprintln(stdout, ep)
	}
	return 0
}

// schedulerFor returns the scheduler and endpoints-artifact source
// for the given remote target ("" means local), plus a cleanup
// function closing the SSH session if one was opened.
func schedulerFor(remote, sshKey, endpointsFile string, logger logrus.FieldLogger) (pbs.Scheduler, pbs.EndpointsSource, func(), error) {
	if remote == "" {
		return &pbs.CLI{Logger: logger}, pbs.LocalEndpoints{Path: endpointsFile}, func() {}, nil
	}
	executor := sshexecutor.New(remote)
	if sshKey != "" {
		if err := executor.LoadKeyFile(sshKey); err != nil {
			executor.Close()
			return nil, nil, nil, fmt.Errorf("error loading ssh key: %s", err)
		}
	}
	sched := &pbs.Remote{Executor: executor, Logger: logger}
	src := pbs.RemoteEndpoints{Executor: executor, Path: endpointsFile}
	return sched, src, func() { executor.Close() }, nil
}
