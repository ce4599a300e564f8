// Copyright (C) The Gantry Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/gantry-hpc/gantry/lib/bench"
	"github.com/gantry-hpc/gantry/lib/cmd"
	"github.com/gantry-hpc/gantry/lib/ctxlog"
	"github.com/gantry-hpc/gantry/lib/endpointsfile"
	"github.com/gantry-hpc/gantry/lib/registry"
)

// runBench benchmarks a launched fleet: endpoints come from the
// endpoints artifact, or from the registry query service when
// -registry-host is given.
func runBench(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	logger := ctxlog.New(stderr, "text", "info")
	ctx := ctxlog.Context(context.Background(), logger)

	flags := flag.NewFlagSet(prog, flag.ContinueOnError)
	model := flags.String("model", "", "model `name` passed to the benchmark tool")
	numPrompts := flags.Int("num-prompts", 1000, "prompts per endpoint")
	endpointsFile := flags.String("endpoints-file", "gantry-endpoints.txt", "endpoints artifact `path`")
	registryHost := flags.String("registry-host", "", "resolve endpoints from the registry at this `host` instead of the artifact")
	registryPort := flags.Int("registry-port", 8471, "registry query `port`")
	condaEnv := flags.String("conda-env", "", "conda environment `path` to activate on each rank")
	output := flags.String("output", "", "CSV output `path` (default stdout)")
	if !cmd.ParseFlags(flags, prog, args, "[-- extra benchmark args]", stderr) {
		return 2
	}
	if *model == "" {
		fmt.Fprintln(stderr, "a model is required (use -model)")
		return 2
	}

	var endpoints []string
	if *registryHost != "" {
		services, err := registry.NewClient(*registryHost, *registryPort).HealthyServices("", 0)
		if err != nil {
			logger.Error(err)
			return 1
		}
		for _, svc := range services {
			endpoints = append(endpoints, fmt.Sprintf("%s:%d", svc.Host, svc.Port))
		}
		if len(endpoints) == 0 {
			logger.Error("no healthy endpoints found in registry")
			return 1
		}
	} else {
		var err error
		endpoints, err = endpointsfile.Read(*endpointsFile)
		if err != nil {
			logger.Error(err)
			return 1
		}
		if len(endpoints) == 0 {
			logger.Errorf("no endpoints found in %s", *endpointsFile)
			return 1
		}
	}

	d := &bench.Dispatcher{
		Model:      *model,
		NumPrompts: *numPrompts,
		ExtraArgs:  flags.Args(),
		CondaEnv:   *condaEnv,
		HFToken:    os.Getenv("HF_TOKEN"),
		Output:     *output,
	}
	if err := d.Run(ctx, endpoints); err != nil {
		logger.Error(err)
		return 1
	}
	if *output != "" {
		logger.WithField("path", *output).Info("results written")
	}
	return 0
}
