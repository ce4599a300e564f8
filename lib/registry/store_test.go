// Copyright (C) The Gantry Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"time"

	. "gopkg.in/check.v1"
)

var _ = Suite(&StoreSuite{})

type StoreSuite struct {
	store *Store
	now   time.Time
}

func (s *StoreSuite) SetUpTest(c *C) {
	s.now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s.store = NewStore()
	s.store.Now = func() time.Time { return s.now }
}

func (s *StoreSuite) register(host string, port int) string {
	s.store.Register(Record{
		Host:        host,
		Port:        port,
		ServiceType: "vllm",
		Status:      StatusStarting,
	})
	return ServiceID("vllm", host, port)
}

func (s *StoreSuite) TestRegisterIdempotent(c *C) {
	id := s.register("node1", 8000)
	c.Check(id, Equals, "vllm-node1-8000")

	// Same (type, host, port) again: still exactly one record,
	// with the latest fields.
	s.store.Register(Record{
		Host:        "node1",
		Port:        8000,
		ServiceType: "vllm",
		Status:      StatusHealthy,
		Metadata:    map[string]string{"model": "llama"},
	})
	c.Check(s.store.Count(""), Equals, 1)
	rec, ok := s.store.Get(id)
	c.Assert(ok, Equals, true)
	c.Check(rec.Status, Equals, StatusHealthy)
	c.Check(rec.Metadata["model"], Equals, "llama")
}

func (s *StoreSuite) TestUpdateHealthUnknownID(c *C) {
	c.Check(s.store.UpdateHealth("nonexistent", StatusHealthy, nil), Equals, false)
}

func (s *StoreSuite) TestUpdateHealthRefreshesLastSeen(c *C) {
	id := s.register("node1", 8000)
	s.now = s.now.Add(42 * time.Second)
	c.Check(s.store.UpdateHealth(id, StatusHealthy, map[string]string{"gpu": "4"}), Equals, true)
	rec, ok := s.store.Get(id)
	c.Assert(ok, Equals, true)
	c.Check(rec.Status, Equals, StatusHealthy)
	c.Check(rec.LastSeen, Equals, s.now)
	c.Check(rec.Metadata["gpu"], Equals, "4")
}

func (s *StoreSuite) TestMetadataMerge(c *C) {
	id := s.register("node1", 8000)
	s.store.UpdateHealth(id, StatusHealthy, map[string]string{"a": "1", "b": "2"})
	s.store.UpdateHealth(id, StatusHealthy, map[string]string{"b": "3"})
	rec, _ := s.store.Get(id)
	c.Check(rec.Metadata, DeepEquals, map[string]string{"a": "1", "b": "3"})
}

func (s *StoreSuite) TestListFilters(c *C) {
	s.register("node1", 8000)
	s.register("node2", 8000)
	s.store.Register(Record{Host: "node3", Port: 9000, ServiceType: "registry", Status: StatusHealthy})

	c.Check(len(s.store.List("", nil)), Equals, 3)
	c.Check(len(s.store.List("vllm", nil)), Equals, 2)
	healthy := StatusHealthy
	recs := s.store.List("", &healthy)
	c.Assert(len(recs), Equals, 1)
	c.Check(recs[0].Host, Equals, "node3")
	c.Check(len(s.store.List("nosuchtype", nil)), Equals, 0)
}

func (s *StoreSuite) TestHealthyTTL(c *C) {
	id := s.register("node1", 8000)
	s.store.UpdateHealth(id, StatusHealthy, nil)

	c.Check(len(s.store.Healthy("", 30*time.Second)), Equals, 1)

	// 31s with no further heartbeats: the record silently ages
	// out of the healthy query, but its stored status does not
	// change.
	s.now = s.now.Add(31 * time.Second)
	c.Check(len(s.store.Healthy("", 30*time.Second)), Equals, 0)
	rec, _ := s.store.Get(id)
	c.Check(rec.Status, Equals, StatusHealthy)

	// A fresh heartbeat brings it back.
	s.store.UpdateHealth(id, StatusHealthy, nil)
	c.Check(len(s.store.Healthy("", 30*time.Second)), Equals, 1)
}

func (s *StoreSuite) TestHealthyExcludesNonHealthyStatus(c *C) {
	id := s.register("node1", 8000)
	s.store.UpdateHealth(id, StatusUnhealthy, nil)
	c.Check(len(s.store.Healthy("", 30*time.Second)), Equals, 0)
}

func (s *StoreSuite) TestDeregister(c *C) {
	id := s.register("node1", 8000)
	c.Check(s.store.Deregister(id), Equals, true)
	c.Check(s.store.Deregister(id), Equals, false)
	c.Check(s.store.Count(""), Equals, 0)
	c.Check(s.store.Count("vllm"), Equals, 0)
}

func (s *StoreSuite) TestCountByType(c *C) {
	s.register("node1", 8000)
	s.register("node2", 8000)
	s.store.Register(Record{Host: "node3", Port: 9000, ServiceType: "registry"})
	c.Check(s.store.Count(""), Equals, 3)
	c.Check(s.store.Count("vllm"), Equals, 2)
	c.Check(s.store.Count("registry"), Equals, 1)
}

func (s *StoreSuite) TestSnapshotIsolation(c *C) {
	id := s.register("node1", 8000)
	rec, _ := s.store.Get(id)
	rec.Metadata["mutated"] = "yes"
	rec.Status = StatusStopping

	fresh, _ := s.store.Get(id)
	c.Check(fresh.Metadata["mutated"], Equals, "")
	c.Check(fresh.Status, Equals, StatusStarting)
}

func (s *StoreSuite) TestConcurrentAccess(c *C) {
	id := s.register("node1", 8000)
	done := make(chan bool)
	go func() {
		for i := 0; i < 1000; i++ {
			s.store.UpdateHealth(id, StatusHealthy, map[string]string{"i": "x"})
		}
		done <- true
	}()
	for i := 0; i < 1000; i++ {
		s.store.List("", nil)
		s.store.Healthy("vllm", 30*time.Second)
		s.store.Count("vllm")
	}
	<-done
}

func (s *StoreSuite) TestStatusWireFormat(c *C) {
	for st, want := range map[Status]string{
		StatusStarting:  "starting",
		StatusHealthy:   "healthy",
		StatusUnhealthy: "unhealthy",
		StatusStopping:  "stopping",
		StatusUnknown:   "unknown",
	} {
		c.Check(st.String(), Equals, want)
		parsed, err := ParseStatus(want)
		c.Check(err, IsNil)
		c.Check(parsed, Equals, st)
	}
	_, err := ParseStatus("bogus")
	c.Check(err, NotNil)
}
