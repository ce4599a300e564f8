// Copyright (C) The Gantry Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gantry-hpc/gantry/lib/httpserver"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// DefaultHealthyTTL is the staleness cutoff applied by the
// /services/healthy query when the request does not name one.
const DefaultHealthyTTL = 30 * time.Second

// Handler serves the read-only query API over a Store. Queries never
// mutate registry state.
//
//	GET /services?type=&status=      -> [Record, ...]
//	GET /services/healthy?type=&timeout= -> [Record, ...]
//	GET /services/count?type=        -> {"count": n}
//	GET /services/{id}               -> Record, or 404
//	GET /metrics                     -> prometheus metrics
type Handler struct {
	Store  *Store
	Logger logrus.FieldLogger

	router   *mux.Router
	registry *prometheus.Registry
	requests *prometheus.CounterVec
}

// NewHandler returns a Handler serving queries against store.
func NewHandler(store *Store, logger logrus.FieldLogger) *Handler {
	h := &Handler{Store: store, Logger: logger}
	h.registry = prometheus.NewRegistry()
	h.requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gantry",
		Subsystem: "registry",
		Name:      "requests_total",
		Help:      "Number of query API requests handled, by endpoint.",
	}, []string{"endpoint"})
	h.registry.MustRegister(h.requests)
	h.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "gantry",
		Subsystem: "registry",
		Name:      "services",
		Help:      "Number of registered services.",
	}, func() float64 { return float64(store.Count("")) }))

	r := mux.NewRouter()
	// Fixed routes must be registered before the {id} route so
	// "healthy" and "count" are not taken as service ids.
	r.HandleFunc("/services/healthy", h.serveHealthy).Methods("GET")
	r.HandleFunc("/services/count", h.serveCount).Methods("GET")
	r.HandleFunc("/services/{id}", h.serveGet).Methods("GET")
	r.HandleFunc("/services", h.serveList).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(h.registry, promhttp.HandlerOpts{})).Methods("GET")
	h.router = r
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpserver.LogRequests(h.Logger, h.router).ServeHTTP(w, req)
}

func (h *Handler) serveList(w http.ResponseWriter, req *http.Request) {
	h.requests.WithLabelValues("list").Inc()
	var status *Status
	if s := req.FormValue("status"); s != "" {
		parsed, err := ParseStatus(s)
		if err != nil {
			httpserver.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		status = &parsed
	}
	sendJSON(w, orEmpty(h.Store.List(req.FormValue("type"), status)))
}

func (h *Handler) serveHealthy(w http.ResponseWriter, req *http.Request) {
	h.requests.WithLabelValues("healthy").Inc()
	ttl := DefaultHealthyTTL
	if s := req.FormValue("timeout"); s != "" {
		secs, err := strconv.Atoi(s)
		if err != nil || secs < 0 {
			httpserver.Error(w, "invalid timeout parameter", http.StatusBadRequest)
			return
		}
		ttl = time.Duration(secs) * time.Second
	}
	sendJSON(w, orEmpty(h.Store.Healthy(req.FormValue("type"), ttl)))
}

func (h *Handler) serveCount(w http.ResponseWriter, req *http.Request) {
	h.requests.WithLabelValues("count").Inc()
	sendJSON(w, map[string]int{"count": h.Store.Count(req.FormValue("type"))})
}

func (h *Handler) serveGet(w http.ResponseWriter, req *http.Request) {
	h.requests.WithLabelValues("get").Inc()
	rec, ok := h.Store.Get(mux.Vars(req)["id"])
	if !ok {
		httpserver.Error(w, "not found", http.StatusNotFound)
		return
	}
	sendJSON(w, rec)
}

func sendJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

// orEmpty keeps list responses as JSON arrays: a nil slice would
// otherwise encode as null.
func orEmpty(recs []Record) []Record {
	if recs == nil {
		return []Record{}
	}
	return recs
}
