// Copyright (C) The Gantry Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package bench drives a parallel benchmark run against the launched
// fleet: it regroups the discovered endpoints into mpiexec program
// segments, runs one rank per endpoint, and aggregates the per-rank
// result files.
package bench

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"

	"github.com/gantry-hpc/gantry/lib/ctxlog"
	"github.com/sirupsen/logrus"
)

// A Segment is one program in the mpiexec composition: the set of
// hosts whose endpoints share a port, benchmarked with a single
// base-URL pattern (SPMD). Distinct ports become distinct segments
// (MPMD).
type Segment struct {
	Port  int
	Hosts []string
}

// GroupEndpoints groups host:port endpoints by port. Hosts within a
// segment are sorted, and segments are ordered by port, so the
// composed command is deterministic for any input order.
func GroupEndpoints(endpoints []string) ([]Segment, error) {
	hostsByPort := map[int][]string{}
	for _, ep := range endpoints {
		i := strings.LastIndex(ep, ":")
		if i < 1 || i == len(ep)-1 {
			return nil, fmt.Errorf("malformed endpoint %q (want host:port)", ep)
		}
		port, err := strconv.Atoi(ep[i+1:])
		if err != nil {
			return nil, fmt.Errorf("malformed endpoint %q: bad port: %s", ep, err)
		}
		hostsByPort[port] = append(hostsByPort[port], ep[:i])
	}
	var segments []Segment
	for port, hosts := range hostsByPort {
		sort.Strings(hosts)
		segments = append(segments, Segment{Port: port, Hosts: hosts})
	}
	sort.Slice(segments, func(i, j int) bool { return segments[i].Port < segments[j].Port })
	return segments, nil
}

// A Dispatcher composes and runs one mpiexec invocation benchmarking
// every endpoint concurrently.
type Dispatcher struct {
	// Model name passed to the benchmark tool.
	Model string
	// Prompts per endpoint.
	NumPrompts int
	// Extra arguments appended to each rank's benchmark command.
	ExtraArgs []string
	// Conda environment to activate on each rank, if any.
	CondaEnv string
	// HuggingFace token forwarded to the ranks, if any.
	HFToken string
	// CSV destination. Empty writes to stdout.
	Output string
	// Command construction hook for tests. Default exec.Command.
	Command func(name string, args ...string) *exec.Cmd
}

// Compose builds the mpiexec argument vector for the given segments.
// Each segment runs one rank per host; the rank command targets the
// segment's port on localhost (every rank lands on a head node
// serving that port) and writes its results to a file keyed by the
// launcher-assigned rank id, so post-processing finds one file per
// endpoint without collisions.
func (d *Dispatcher) Compose(segments []Segment, resultDir string) []string {
	argv := []string{"mpiexec"}
	for i, seg := range segments {
		if i > 0 {
			argv = append(argv, ":")
		}
		benchArgs := []string{
			"vllm", "bench", "serve",
			"--model", d.Model,
			"--num-prompts", strconv.Itoa(d.NumPrompts),
			"--base-url", fmt.Sprintf("http://localhost:%d/v1", seg.Port),
			"--save-result",
			"--result-dir", resultDir,
			"--result-filename", fmt.Sprintf("port%d_rank${PALS_RANKID:-0}.json", seg.Port),
		}
		benchArgs = append(benchArgs, d.ExtraArgs...)

		// The rank id expansion and any environment activation
		// need a shell.
		var parts []string
		if d.CondaEnv != "" {
			parts = append(parts, "source "+d.CondaEnv+"/bin/activate")
		}
		if d.HFToken != "" {
			parts = append(parts, "export HF_TOKEN="+shellQuote(d.HFToken))
		}
		parts = append(parts, strings.Join(benchArgs, " "))
		rankCmd := []string{"bash", "-c", strings.Join(parts, " && ")}

		argv = append(argv, "-n", strconv.Itoa(len(seg.Hosts)), "-hosts", strings.Join(seg.Hosts, ","))
		argv = append(argv, rankCmd...)
	}
	return argv
}

// Run benchmarks the endpoints and writes the aggregated CSV. The
// temp result directory is removed whether or not mpiexec succeeds.
func (d *Dispatcher) Run(ctx context.Context, endpoints []string) error {
	logger := ctxlog.FromContext(ctx)
	segments, err := GroupEndpoints(endpoints)
	if err != nil {
		return err
	}
	resultDir, err := os.MkdirTemp("", "gantry_bench_")
	if err != nil {
		return err
	}
	defer os.RemoveAll(resultDir)

	argv := d.Compose(segments, resultDir)
	logger.WithFields(logrus.Fields{
		"endpoints": len(endpoints),
		"segments":  len(segments),
	}).Info("launching benchmarks")

	cmd := d.cmd(argv[0], argv[1:]...)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("benchmark run failed: %s", err)
	}

	results, err := ParseResults(resultDir)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		return fmt.Errorf("benchmark run produced no result files in %s", resultDir)
	}

	out := os.Stdout
	if d.Output != "" {
		f, err := os.Create(d.Output)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	return WriteCSV(out, results)
}

func (d *Dispatcher) cmd(name string, args ...string) *exec.Cmd {
	if d.Command != nil {
		return d.Command(name, args...)
	}
	return exec.Command(name, args...)
}

func shellQuote(s string) string {
	return "'" + strings.Replace(s, "'", `'\''`, -1) + "'"
}
