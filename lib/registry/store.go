// Copyright (C) The Gantry Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package registry implements an in-process service registry: a
// concurrency-safe table of service records owned by the supervising
// process, exposed to other processes through a read-only HTTP query
// API.
package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// A Record describes one registered service instance.
//
// Records are owned by the Store: callers mutate them only through
// Register and UpdateHealth, never by writing fields of a Record
// obtained from a query.
type Record struct {
	ServiceID   string            `json:"service_id"`
	Host        string            `json:"host"`
	Port        int               `json:"port"`
	ServiceType string            `json:"service_type"`
	Status      Status            `json:"status"`
	LastSeen    time.Time         `json:"last_seen"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// ServiceID returns the deterministic identifier for a service of the
// given type at host:port. Registering the same (type, host, port)
// twice therefore updates the existing record instead of adding a
// second one.
func ServiceID(serviceType, host string, port int) string {
	return fmt.Sprintf("%s-%s-%d", serviceType, host, port)
}

// A Store is a concurrency-safe in-memory table of service records,
// with a secondary index by service type. Every exported method is a
// single critical section: concurrent callers never observe a
// partially applied update.
type Store struct {
	mtx      sync.Mutex
	services map[string]*Record
	types    map[string]map[string]bool // service type -> set of service ids

	// Now is the clock used for LastSeen timestamps and TTL
	// checks. Tests replace it; otherwise time.Now is used.
	Now func() time.Time
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		services: map[string]*Record{},
		types:    map[string]map[string]bool{},
		Now:      time.Now,
	}
}

// Register inserts rec, or overwrites the existing record with the
// same ServiceID. If rec.ServiceID is empty it is derived from
// (ServiceType, Host, Port). If rec.LastSeen is zero it is set to the
// current time.
func (st *Store) Register(rec Record) {
	st.mtx.Lock()
	defer st.mtx.Unlock()
	if rec.ServiceID == "" {
		rec.ServiceID = ServiceID(rec.ServiceType, rec.Host, rec.Port)
	}
	if rec.LastSeen.IsZero() {
		rec.LastSeen = st.Now()
	}
	if rec.Metadata == nil {
		rec.Metadata = map[string]string{}
	}
	if old, ok := st.services[rec.ServiceID]; ok && old.ServiceType != rec.ServiceType {
		delete(st.types[old.ServiceType], rec.ServiceID)
	}
	st.services[rec.ServiceID] = &rec
	typeSet, ok := st.types[rec.ServiceType]
	if !ok {
		typeSet = map[string]bool{}
		st.types[rec.ServiceType] = typeSet
	}
	typeSet[rec.ServiceID] = true
}

// Deregister removes the record with the given id from the table and
// the type index. It returns false if the id is unknown.
func (st *Store) Deregister(serviceID string) bool {
	st.mtx.Lock()
	defer st.mtx.Unlock()
	rec, ok := st.services[serviceID]
	if !ok {
		return false
	}
	delete(st.services, serviceID)
	delete(st.types[rec.ServiceType], serviceID)
	return true
}

// UpdateHealth sets the status of the identified service, refreshes
// its LastSeen timestamp, and merges metadata into the record's
// existing metadata. It returns false, changing nothing, if the id is
// unknown.
func (st *Store) UpdateHealth(serviceID string, status Status, metadata map[string]string) bool {
	st.mtx.Lock()
	defer st.mtx.Unlock()
	rec, ok := st.services[serviceID]
	if !ok {
		return false
	}
	rec.Status = status
	rec.LastSeen = st.Now()
	for k, v := range metadata {
		rec.Metadata[k] = v
	}
	return true
}

// Get returns a snapshot of the identified record. The second return
// value is false if the id is unknown.
func (st *Store) Get(serviceID string) (Record, bool) {
	st.mtx.Lock()
	defer st.mtx.Unlock()
	rec, ok := st.services[serviceID]
	if !ok {
		return Record{}, false
	}
	return snapshot(rec), true
}

// List returns snapshots of all records, optionally filtered by
// service type and/or status. An empty serviceType matches all types;
// a nil status filter matches all statuses.
func (st *Store) List(serviceType string, status *Status) []Record {
	st.mtx.Lock()
	defer st.mtx.Unlock()
	var out []Record
	for _, rec := range st.listLocked(serviceType) {
		if status != nil && rec.Status != *status {
			continue
		}
		out = append(out, snapshot(rec))
	}
	sortRecords(out)
	return out
}

// Healthy returns snapshots of records whose status is healthy and
// whose last heartbeat is newer than ttl. Staleness is computed here,
// at read time: a record that stops receiving heartbeats ages out of
// this query without its stored status changing.
func (st *Store) Healthy(serviceType string, ttl time.Duration) []Record {
	st.mtx.Lock()
	defer st.mtx.Unlock()
	now := st.Now()
	var out []Record
	for _, rec := range st.listLocked(serviceType) {
		if rec.Status != StatusHealthy {
			continue
		}
		if now.Sub(rec.LastSeen) >= ttl {
			continue
		}
		out = append(out, snapshot(rec))
	}
	sortRecords(out)
	return out
}

// Count returns the number of registered services, optionally limited
// to one service type.
func (st *Store) Count(serviceType string) int {
	st.mtx.Lock()
	defer st.mtx.Unlock()
	if serviceType == "" {
		return len(st.services)
	}
	return len(st.types[serviceType])
}

// caller must have lock.
func (st *Store) listLocked(serviceType string) []*Record {
	var out []*Record
	if serviceType == "" {
		for _, rec := range st.services {
			out = append(out, rec)
		}
		return out
	}
	for id := range st.types[serviceType] {
		if rec, ok := st.services[id]; ok {
			out = append(out, rec)
		}
	}
	return out
}

func sortRecords(recs []Record) {
	sort.Slice(recs, func(i, j int) bool { return recs[i].ServiceID < recs[j].ServiceID })
}

func snapshot(rec *Record) Record {
	cp := *rec
	cp.Metadata = make(map[string]string, len(rec.Metadata))
	for k, v := range rec.Metadata {
		cp.Metadata[k] = v
	}
	return cp
}
