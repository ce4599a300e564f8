// Copyright (C) The Gantry Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package endpointsfile reads and writes the endpoints artifact: the
// plain-text file, one host:port per line, whose appearance on the
// shared filesystem signals that launched instances are healthy and
// reachable.
package endpointsfile

import (
	"fmt"
	"os"
	"strings"
)

// Parse extracts endpoints from artifact text. Blank lines and
// #-prefixed comment lines are ignored.
func Parse(data []byte) []string {
	var endpoints []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		endpoints = append(endpoints, line)
	}
	return endpoints
}

// Read returns the endpoints in the file at path. It returns a nil
// slice, and no error, if the file does not exist yet or contains no
// endpoints: absence is the "not ready" state, not an error.
func Read(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return Parse(data), nil
}

// Write writes the endpoints to path. The caller writes this only
// after the readiness barrier has completed: downstream pollers treat
// the file's presence as the launch-success signal.
func Write(path string, endpoints []string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# %d endpoint(s), one host:port per line\n", len(endpoints))
	for _, ep := range endpoints {
		b.WriteString(ep)
		b.WriteString("\n")
	}
	return os.WriteFile(path, []byte(b.String()), 0644)
}
