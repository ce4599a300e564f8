// Copyright (C) The Gantry Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"encoding/json"
	"net/http/httptest"
	"net/url"
	"strconv"
	"time"

	"github.com/gantry-hpc/gantry/lib/ctxlog"
	. "gopkg.in/check.v1"
)

var _ = Suite(&ServiceSuite{})

type ServiceSuite struct {
	store  *Store
	server *httptest.Server
	client *Client
	now    time.Time
}

func (s *ServiceSuite) SetUpTest(c *C) {
	s.now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s.store = NewStore()
	s.store.Now = func() time.Time { return s.now }
	logger, _ := ctxlog.LogBuf()
	s.server = httptest.NewServer(NewHandler(s.store, logger))

	u, err := url.Parse(s.server.URL)
	c.Assert(err, IsNil)
	port, err := strconv.Atoi(u.Port())
	c.Assert(err, IsNil)
	s.client = NewClient(u.Hostname(), port)
}

func (s *ServiceSuite) TearDownTest(c *C) {
	s.server.Close()
}

func (s *ServiceSuite) TestListAndFilters(c *C) {
	s.store.Register(Record{Host: "node1", Port: 8000, ServiceType: "vllm", Status: StatusHealthy})
	s.store.Register(Record{Host: "node2", Port: 8000, ServiceType: "vllm", Status: StatusStarting})

	recs, err := s.client.ListServices("", "")
	c.Assert(err, IsNil)
	c.Check(len(recs), Equals, 2)

	recs, err = s.client.ListServices("vllm", "starting")
	c.Assert(err, IsNil)
	c.Assert(len(recs), Equals, 1)
	c.Check(recs[0].Host, Equals, "node2")
	c.Check(recs[0].Status, Equals, StatusStarting)
}

func (s *ServiceSuite) TestListEmptyIsArray(c *C) {
	resp, err := s.server.Client().Get(s.server.URL + "/services")
	c.Assert(err, IsNil)
	defer resp.Body.Close()
	var body []json.RawMessage
	c.Check(json.NewDecoder(resp.Body).Decode(&body), IsNil)
	c.Check(len(body), Equals, 0)
}

func (s *ServiceSuite) TestGetNotFound(c *C) {
	_, found, err := s.client.GetService("vllm-ghost-1234")
	c.Check(err, IsNil)
	c.Check(found, Equals, false)
}

func (s *ServiceSuite) TestGet(c *C) {
	s.store.Register(Record{Host: "node1", Port: 8000, ServiceType: "vllm", Status: StatusHealthy})
	rec, found, err := s.client.GetService("vllm-node1-8000")
	c.Assert(err, IsNil)
	c.Assert(found, Equals, true)
	c.Check(rec.Host, Equals, "node1")
	c.Check(rec.Port, Equals, 8000)
	c.Check(rec.Status, Equals, StatusHealthy)
}

func (s *ServiceSuite) TestHealthyQueryTTL(c *C) {
	s.store.Register(Record{Host: "node1", Port: 8000, ServiceType: "vllm"})
	s.store.UpdateHealth("vllm-node1-8000", StatusHealthy, nil)

	recs, err := s.client.HealthyServices("vllm", 30)
	c.Assert(err, IsNil)
	c.Check(len(recs), Equals, 1)

	s.now = s.now.Add(31 * time.Second)
	recs, err = s.client.HealthyServices("vllm", 30)
	c.Assert(err, IsNil)
	c.Check(len(recs), Equals, 0)
}

func (s *ServiceSuite) TestCount(c *C) {
	s.store.Register(Record{Host: "node1", Port: 8000, ServiceType: "vllm"})
	s.store.Register(Record{Host: "node2", Port: 8000, ServiceType: "vllm"})
	n, err := s.client.ServiceCount("vllm")
	c.Assert(err, IsNil)
	c.Check(n, Equals, 2)
	n, err = s.client.ServiceCount("other")
	c.Assert(err, IsNil)
	c.Check(n, Equals, 0)
}

func (s *ServiceSuite) TestBadStatusParam(c *C) {
	resp, err := s.server.Client().Get(s.server.URL + "/services?status=bogus")
	c.Assert(err, IsNil)
	resp.Body.Close()
	c.Check(resp.StatusCode, Equals, 400)
}

func (s *ServiceSuite) TestMetricsEndpoint(c *C) {
	s.store.Register(Record{Host: "node1", Port: 8000, ServiceType: "vllm"})
	resp, err := s.server.Client().Get(s.server.URL + "/metrics")
	c.Assert(err, IsNil)
	resp.Body.Close()
	c.Check(resp.StatusCode, Equals, 200)
}
