// Copyright (C) The Gantry Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/gantry-hpc/gantry/lib/cmd"
	"github.com/gantry-hpc/gantry/lib/config"
	"github.com/gantry-hpc/gantry/lib/ctxlog"
	"github.com/gantry-hpc/gantry/lib/launcher"
)

// runLaunch runs inside a batch allocation: it stages weights, spawns
// the instance process groups, and supervises them until the job
// ends.
func runLaunch(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	logger := ctxlog.New(stderr, "text", "info")
	ctx, cancel := context.WithCancel(ctxlog.Context(context.Background(), logger))
	defer cancel()

	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigch)
	go func() {
		if sig, ok := <-sigch; ok {
			logger.WithField("signal", sig).Info("shutting down")
			cancel()
		}
	}()

	flags := flag.NewFlagSet(prog, flag.ContinueOnError)
	cfgFlags := config.NewFlags(flags)
	skipStaging := flags.Bool("skip-staging", false, "skip conda env and weight staging")
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

	l := &launcher.Launcher{Config: cfg, Render: vllmRenderer{}}
	if *skipStaging {
		logger.Info("skipping conda env and weight staging")
	} else if err := l.Stage(ctx); err != nil {
		logger.Error(err)
		return 1
	}
	if err := l.Launch(ctx); err != nil {
		logger.Error(err)
		return 1
	}
	return 0
}
