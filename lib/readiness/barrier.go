// Copyright (C) The Gantry Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package readiness implements a bounded wait for a set of HTTP
// health endpoints to start answering 200.
package readiness

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gantry-hpc/gantry/lib/ctxlog"
)

// An Endpoint identifies one instance's head node and health port.
type Endpoint struct {
	Host string
	Port int
}

func (ep Endpoint) String() string {
	return fmt.Sprintf("%s:%d", ep.Host, ep.Port)
}

// A Barrier polls a set of endpoints until all have answered HTTP 200
// at least once, or a deadline passes. It is level-triggered and
// best-effort: an endpoint that is not listening yet (connection
// refused) is indistinguishable from one that is listening but
// unhealthy, and both simply stay pending until the next cycle.
type Barrier struct {
	// Health-check path requested on each endpoint. Default
	// "/health".
	Path string
	// Time between polling cycles. Default 5s.
	PollInterval time.Duration
	// Overall deadline. Default 10m.
	Timeout time.Duration
	// Per-probe timeout, bounding how long one unresponsive
	// endpoint can stall a cycle. Default 5s.
	ProbeTimeout time.Duration
	// HTTP client used for probes. Default http.DefaultClient.
	Client *http.Client
}

// Await polls until every endpoint has become ready or the timeout
// elapses, and returns the subset that became ready, preserving input
// order. An endpoint once ready is never re-polled, so the returned
// set only grows across cycles. Callers decide whether a partial set
// is acceptable.
func (b *Barrier) Await(ctx context.Context, endpoints []Endpoint) []Endpoint {
	logger := ctxlog.FromContext(ctx)
	path := b.Path
	if path == "" {
		path = "/health"
	}
	interval := b.PollInterval
	if interval == 0 {
		interval = 5 * time.Second
	}
	timeout := b.Timeout
	if timeout == 0 {
		timeout = 10 * time.Minute
	}
	probeTimeout := b.ProbeTimeout
	if probeTimeout == 0 {
		probeTimeout = 5 * time.Second
	}
	client := b.Client
	if client == nil {
		client = http.DefaultClient
	}

	deadline := time.Now().Add(timeout)
	ready := make([]bool, len(endpoints))
	nReady := 0
	for {
		var mtx sync.Mutex
		var wg sync.WaitGroup
		for i, ep := range endpoints {
			if ready[i] {
				continue
			}
			wg.Add(1)
			go func(i int, ep Endpoint) {
				defer wg.Done()
				if !probe(ctx, client, ep, path, probeTimeout) {
					logger.WithField("endpoint", ep.String()).Debug("not ready yet")
					return
				}
				mtx.Lock()
				defer mtx.Unlock()
				ready[i] = true
				nReady++
				logger.WithField("endpoint", ep.String()).Info("endpoint ready")
			}(i, ep)
		}
		wg.Wait()
		if nReady == len(endpoints) {
			break
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			for i, ep := range endpoints {
				if !ready[i] {
					logger.WithField("endpoint", ep.String()).Warn("endpoint did not become ready before timeout")
				}
			}
			break
		}
		select {
		case <-ctx.Done():
		case <-time.After(interval):
		}
	}

	var out []Endpoint
	for i, ep := range endpoints {
		if ready[i] {
			out = append(out, ep)
		}
	}
	return out
}

func probe(ctx context.Context, client *http.Client, ep Endpoint, path string, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	url := fmt.Sprintf("http://%s%s", ep.String(), path)
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
