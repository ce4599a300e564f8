// Copyright (C) The Gantry Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package heartbeat polls each launched instance's health endpoint
// and records the results in the service registry.
package heartbeat

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gantry-hpc/gantry/lib/ctxlog"
	"github.com/gantry-hpc/gantry/lib/registry"
	"github.com/sirupsen/logrus"
)

// A Monitor owns one registry Store and supervises one process's set
// of instances. It is the sole authority for status transitions in
// the Store; liveness (staleness) is derived lazily by the Store's
// Healthy query from the LastSeen timestamps this loop refreshes.
type Monitor struct {
	Store   *registry.Store
	Targets []registry.Record
	// Health-check path. Default "/health".
	Path string
	// Time between polling cycles. Default 30s.
	Interval time.Duration
	// Per-probe timeout. Default 10s.
	ProbeTimeout time.Duration
	// HTTP client used for probes. Default http.DefaultClient.
	Client *http.Client

	lastStatus map[string]registry.Status
}

// Run registers every target with status starting, then polls
// forever: each cycle probes every target sequentially and calls
// UpdateHealth unconditionally -- even when the status is unchanged,
// the update refreshes LastSeen, which the TTL-based healthy query
// depends on. Only status transitions are logged. Run returns only
// when ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	logger := ctxlog.FromContext(ctx)
	interval := m.Interval
	if interval == 0 {
		interval = 30 * time.Second
	}
	m.lastStatus = map[string]registry.Status{}
	for i := range m.Targets {
		rec := m.Targets[i]
		rec.Status = registry.StatusStarting
		if rec.ServiceID == "" {
			rec.ServiceID = registry.ServiceID(rec.ServiceType, rec.Host, rec.Port)
		}
		m.Store.Register(rec)
		m.Targets[i] = rec
		m.lastStatus[rec.ServiceID] = registry.StatusStarting
	}
	for {
		m.pollOnce(ctx, logger)
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

func (m *Monitor) pollOnce(ctx context.Context, logger logrus.FieldLogger) {
	for _, rec := range m.Targets {
		status := registry.StatusUnhealthy
		if m.probe(ctx, rec) {
			status = registry.StatusHealthy
		}
		if last := m.lastStatus[rec.ServiceID]; status != last {
			logger.WithFields(logrus.Fields{
				"service":    rec.ServiceID,
				"lastStatus": last.String(),
				"status":     status.String(),
			}).Info("health status changed")
			m.lastStatus[rec.ServiceID] = status
		}
		m.Store.UpdateHealth(rec.ServiceID, status, nil)
	}
}

func (m *Monitor) probe(ctx context.Context, rec registry.Record) bool {
	timeout := m.ProbeTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	path := m.Path
	if path == "" {
		path = "/health"
	}
	client := m.Client
	if client == nil {
		client = http.DefaultClient
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	url := fmt.Sprintf("http://%s:%d%s", rec.Host, rec.Port, path)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
