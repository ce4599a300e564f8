// Copyright (C) The Gantry Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

type contextKey struct {
	name string
}

var loggerContextKey = contextKey{"logger"}

// LogRequests wraps an http.Handler, logging each request and
// response via logger.
func LogRequests(logger logrus.FieldLogger, h http.Handler) http.Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return http.HandlerFunc(func(wrapped http.ResponseWriter, req *http.Request) {
		w := &statusWriter{ResponseWriter: wrapped}
		lgr := logger.WithFields(logrus.Fields{
			"remoteAddr": req.RemoteAddr,
			"reqMethod":  req.Method,
			"reqPath":    req.URL.Path[1:],
			"reqQuery":   req.URL.RawQuery,
		})
		req = req.WithContext(context.WithValue(req.Context(), &loggerContextKey, lgr))
		t0 := time.Now()
		h.ServeHTTP(w, req)
		status := w.status
		if status == 0 {
			status = http.StatusOK
		}
		lgr.WithFields(logrus.Fields{
			"respStatusCode": status,
			"respBytes":      w.bytes,
			"timeTotal":      time.Since(t0).Seconds(),
		}).Info("response")
	})
}

// Logger returns the logger attached to the request by LogRequests,
// if any, otherwise the standard logger.
func Logger(req *http.Request) logrus.FieldLogger {
	if lgr, ok := req.Context().Value(&loggerContextKey).(logrus.FieldLogger); ok {
		return lgr
	}
	return logrus.StandardLogger()
}

type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	n, err := w.ResponseWriter.Write(p)
	w.bytes += int64(n)
	return n, err
}
