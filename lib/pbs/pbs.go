// Copyright (C) The Gantry Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package pbs submits and supervises jobs on a PBS batch scheduler,
// either by running the scheduler's CLI tools locally or by relaying
// them over a persistent SSH session to a remote submission host.
package pbs

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/gantry-hpc/gantry/lib/sshexecutor"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// JobState is a PBS job's scheduling state, as reported by qstat.
type JobState string

const (
	StateQueued    JobState = "queued"
	StateRunning   JobState = "running"
	StateHeld      JobState = "held"
	StateExiting   JobState = "exiting"
	StateMoving    JobState = "moving"
	StateWaiting   JobState = "waiting"
	StateSuspended JobState = "suspended"
	// StateUntracked means the scheduler no longer reports the
	// job (completed, failed, or evicted). Terminal for polling
	// purposes.
	StateUntracked JobState = "untracked"
)

var stateForCode = map[string]JobState{
	"Q": StateQueued,
	"R": StateRunning,
	"H": StateHeld,
	"E": StateExiting,
	"T": StateMoving,
	"W": StateWaiting,
	"S": StateSuspended,
}

// stateFromCode maps a qstat job_state code to a JobState. Codes this
// package doesn't know pass through as raw labels so operators still
// see what the scheduler said.
func stateFromCode(code string) JobState {
	if state, ok := stateForCode[code]; ok {
		return state
	}
	return JobState(code)
}

// A Scheduler submits, inspects, and cancels batch jobs. Exactly one
// implementation is in play per invocation: the local CLI, or the
// same CLI relayed over an SSH session.
type Scheduler interface {
	// Submit hands the job script to the scheduler and returns
	// the new job's id.
	Submit(script string) (string, error)
	// State returns the job's current scheduling state.
	// StateUntracked (with a nil error) means the scheduler no
	// longer knows the job.
	State(jobID string) (JobState, error)
	// Cancel asks the scheduler to delete the job.
	Cancel(jobID string) error
}

// CLI runs the PBS tools as local subprocesses.
type CLI struct {
	// Extra arguments inserted before the script path on the qsub
	// command line.
	SubmitArgs []string
	Logger     logrus.FieldLogger
}

// Submit writes script to a temp file, runs qsub on it, and returns
// the job id printed by qsub.
func (cli *CLI) Submit(script string) (string, error) {
	f, err := os.CreateTemp("", "gantry_*.pbs")
	if err != nil {
		return "", err
	}
	defer os.Remove(f.Name())
	if _, err := io.WriteString(f, script); err != nil {
		f.Close()
		return "", err
	}
	f.Close()

	if cli.Logger != nil {
		cli.Logger.WithField("script", f.Name()).Info("submitting batch job")
	}
	args := append(append([]string(nil), cli.SubmitArgs...), f.Name())
	cmd := exec.Command("qsub", args...)
	var stdout, stderr strings.Builder
	cmd.Stdout, cmd.Stderr = &stdout, &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("qsub failed: %s (%q)", err, strings.TrimSpace(stderr.String()))
	}
	return parseSubmitOutput(stdout.String())
}

// State runs qstat and scans its output for the job_state field. A
// qstat failure means the scheduler no longer tracks the job.
func (cli *CLI) State(jobID string) (JobState, error) {
	out, err := exec.Command("qstat", "-f", jobID).Output()
	if err != nil {
		return StateUntracked, nil
	}
	code, ok := parseJobState(string(out))
	if !ok {
		return StateUntracked, nil
	}
	return stateFromCode(code), nil
}

// Cancel runs qdel on the job.
func (cli *CLI) Cancel(jobID string) error {
	out, err := exec.Command("qdel", jobID).CombinedOutput()
	if err != nil {
		return fmt.Errorf("qdel %s: %s (%q)", jobID, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Remote relays the PBS tools over a persistent SSH session to a
// remote submission host. Each command runs in a login shell so the
// submission host's profile (module loads, PATH) is in effect.
type Remote struct {
	Executor *sshexecutor.Executor
	Logger   logrus.FieldLogger
}

// Submit uploads script to a throwaway file in the remote home
// directory, submits it, and removes it. The remote file is removed
// on failure too, best effort.
func (r *Remote) Submit(script string) (string, error) {
	remotePath := fmt.Sprintf(".gantry-%s.pbs", uuid.NewString()[:8])
	if err := r.Executor.Upload(remotePath, strings.NewReader(script)); err != nil {
		return "", err
	}
	if r.Logger != nil {
		r.Logger.WithFields(logrus.Fields{
			"target": r.Executor.Target(),
			"script": remotePath,
		}).Info("submitting batch job via remote session")
	}
	stdout, stderr, err := r.run(fmt.Sprintf("qsub %s && rm -f %s", remotePath, remotePath))
	if err != nil {
		r.run("rm -f " + remotePath)
		return "", fmt.Errorf("remote qsub failed: %s (%q)", err, strings.TrimSpace(string(stderr)))
	}
	return parseSubmitOutput(string(stdout))
}

// State runs qstat on the remote host.
func (r *Remote) State(jobID string) (JobState, error) {
	stdout, _, err := r.run("qstat -f " + jobID)
	if err != nil {
		return StateUntracked, nil
	}
	code, ok := parseJobState(string(stdout))
	if !ok {
		return StateUntracked, nil
	}
	return stateFromCode(code), nil
}

// Cancel runs qdel on the remote host.
func (r *Remote) Cancel(jobID string) error {
	_, stderr, err := r.run("qdel " + jobID)
	if err != nil {
		return fmt.Errorf("remote qdel %s: %s (%q)", jobID, err, strings.TrimSpace(string(stderr)))
	}
	return nil
}

func (r *Remote) run(command string) ([]byte, []byte, error) {
	return r.Executor.Execute(nil, "bash -l -c "+shellQuote(command), nil)
}

func shellQuote(s string) string {
	return "'" + strings.Replace(s, "'", `'\''`, -1) + "'"
}
