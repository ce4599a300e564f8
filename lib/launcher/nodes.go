// Copyright (C) The Gantry Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package launcher

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrNoNodeFile is wrapped by AllocatedNodes errors: the process is
// not running inside a batch allocation, or the node file is missing
// or empty.
var ErrNoNodeFile = errors.New("PBS_NODEFILE not usable")

// AllocatedNodes returns the allocation's node names from
// $PBS_NODEFILE, de-duplicated (the scheduler lists one line per
// rank) with first-appearance order preserved.
func AllocatedNodes() ([]string, error) {
	nodefile := os.Getenv("PBS_NODEFILE")
	if nodefile == "" {
		return nil, fmt.Errorf("%w: PBS_NODEFILE not set -- are you inside a batch allocation?", ErrNoNodeFile)
	}
	data, err := os.ReadFile(nodefile)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNoNodeFile, err)
	}
	seen := map[string]bool{}
	var nodes []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || seen[line] {
			continue
		}
		seen[line] = true
		nodes = append(nodes, line)
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("%w: %s lists no nodes", ErrNoNodeFile, nodefile)
	}
	return nodes, nil
}

// sharedWorkDir returns a directory visible to all allocated nodes.
// The scheduler points TMPDIR at node-local storage, so per-instance
// scripts and hostfiles go in the submission working directory
// instead.
func sharedWorkDir() string {
	if dir := os.Getenv("PBS_O_WORKDIR"); dir != "" {
		return dir
	}
	return "."
}
