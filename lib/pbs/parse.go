// Copyright (C) The Gantry Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package pbs

import (
	"errors"
	"strings"
)

// parseSubmitOutput extracts the job id from qsub output: the first
// non-empty line. The exact text format is an external contract owned
// by the scheduler, so it is isolated here and pinned by tests.
func parseSubmitOutput(out string) (string, error) {
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line, nil
		}
	}
	return "", errors.New("qsub printed no job id")
}

// parseJobState scans `qstat -f` output for the job_state field
// ("    job_state = R") and returns its code. ok is false when the
// field is absent.
func parseJobState(out string) (code string, ok bool) {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "job_state") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		return strings.TrimSpace(parts[1]), true
	}
	return "", false
}
