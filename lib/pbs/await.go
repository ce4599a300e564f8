// Copyright (C) The Gantry Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package pbs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/gantry-hpc/gantry/lib/endpointsfile"
	"github.com/gantry-hpc/gantry/lib/sshexecutor"
)

// ErrJobVanished is wrapped by AwaitEndpoints errors reporting that
// the scheduler stopped tracking the job before the endpoints
// artifact appeared.
var ErrJobVanished = errors.New("job no longer tracked by scheduler")

// An EndpointsSource polls for the endpoints artifact. Read returns a
// nil slice, and no error, while the artifact has not appeared.
type EndpointsSource interface {
	Read() ([]string, error)
	// CopyLocal copies the artifact to a local file so the caller
	// has it on disk. A no-op when the artifact is already local.
	CopyLocal() error
	// Remove deletes a stale artifact so a fresh poll doesn't
	// find the previous run's file.
	Remove() error
}

// LocalEndpoints reads the artifact from the local (shared)
// filesystem.
type LocalEndpoints struct {
	Path string
}

func (src LocalEndpoints) Read() ([]string, error) { return endpointsfile.Read(src.Path) }
func (src LocalEndpoints) CopyLocal() error        { return nil }
func (src LocalEndpoints) Remove() error {
	err := os.Remove(src.Path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// RemoteEndpoints reads the artifact from the submission host's
// filesystem over the SSH session.
type RemoteEndpoints struct {
	Executor *sshexecutor.Executor
	Path     string
}

func (src RemoteEndpoints) Read() ([]string, error) {
	stdout, _, err := src.Executor.Execute(nil, fmt.Sprintf("test -s %s && cat %s", src.Path, src.Path), nil)
	if err != nil {
		// Not readable yet (or a transient session error): stay
		// pending and let the next cycle retry.
		return nil, nil
	}
	return endpointsfile.Parse(stdout), nil
}

func (src RemoteEndpoints) CopyLocal() error {
	data, err := src.Executor.Download(src.Path)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Base(src.Path), data, 0644)
}

func (src RemoteEndpoints) Remove() error {
	_, _, err := src.Executor.Execute(nil, "rm -f "+src.Path, nil)
	return err
}

// An Awaiter polls for the endpoints artifact while watching the
// batch job's scheduler state, racing one against the other.
type Awaiter struct {
	Scheduler Scheduler
	Source    EndpointsSource
	// Time between polls. Default 15s.
	PollInterval time.Duration
	// Progress receives the human-readable state labels and
	// progress dots. Default io.Discard.
	Progress io.Writer
}

// Await blocks until the endpoints artifact appears (returning its
// contents, after copying remote artifacts local), the job leaves the
// scheduler's tracking (ErrJobVanished, naming the job id), or ctx is
// cancelled. Consecutive polls in the same state print a single
// progress dot; state transitions print the new state and elapsed
// time on their own line.
func (aw *Awaiter) Await(ctx context.Context, jobID string) ([]string, error) {
	interval := aw.PollInterval
	if interval == 0 {
		interval = 15 * time.Second
	}
	progress := aw.Progress
	if progress == nil {
		progress = io.Discard
	}

	start := time.Now()
	var lastState JobState
	for {
		endpoints, err := aw.Source.Read()
		if err != nil {
			return nil, err
		}
		if len(endpoints) > 0 {
			fmt.Fprintf(progress, "\n")
			if err := aw.Source.CopyLocal(); err != nil {
				return nil, fmt.Errorf("error copying endpoints artifact: %w", err)
			}
			return endpoints, nil
		}

		state, err := aw.Scheduler.State(jobID)
		if err != nil {
			return nil, err
		}
		if state == StateUntracked {
			fmt.Fprintf(progress, "\n")
			return nil, fmt.Errorf("job %s: %w, and no endpoints artifact was written", jobID, ErrJobVanished)
		}

		elapsed := time.Since(start).Round(time.Second)
		if state != lastState {
			fmt.Fprintf(progress, "\n  job is %s (%dm%02ds elapsed)", state, int(elapsed.Minutes()), int(elapsed.Seconds())%60)
			lastState = state
		} else {
			fmt.Fprintf(progress, ".")
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
}
