// Copyright (C) The Gantry Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package registry

import "fmt"

// Status indicates the last observed health of a registered service,
// as reported by the heartbeat monitor.
type Status int

const (
	StatusUnknown Status = iota
	StatusStarting
	StatusHealthy
	StatusUnhealthy
	StatusStopping
)

var statusString = map[Status]string{
	StatusUnknown:   "unknown",
	StatusStarting:  "starting",
	StatusHealthy:   "healthy",
	StatusUnhealthy: "unhealthy",
	StatusStopping:  "stopping",
}

// String implements fmt.Stringer.
func (s Status) String() string {
	return statusString[s]
}

// MarshalText implements encoding.TextMarshaler so a JSON encoding of
// a Record uses the status's string representation.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(statusString[s]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	for st, str := range statusString {
		if str == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("invalid service status %q", text)
}

// ParseStatus converts the wire form of a status to a Status.
func ParseStatus(text string) (Status, error) {
	var s Status
	err := s.UnmarshalText([]byte(text))
	return s, err
}
