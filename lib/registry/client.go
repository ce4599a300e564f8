// Copyright (C) The Gantry Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// A Client queries a registry Handler over HTTP. The zero value is
// not usable; call NewClient.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient returns a Client for the registry query API at host:port.
func NewClient(host string, port int) *Client {
	return &Client{
		baseURL:    fmt.Sprintf("http://%s:%d", host, port),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// GetService returns the record with the given id. The second return
// value is false if the registry does not know the id.
func (c *Client) GetService(serviceID string) (Record, bool, error) {
	resp, err := c.httpClient.Get(c.baseURL + "/services/" + url.PathEscape(serviceID))
	if err != nil {
		return Record{}, false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return Record{}, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return Record{}, false, fmt.Errorf("registry: HTTP %d %s", resp.StatusCode, resp.Status)
	}
	var rec Record
	err = json.NewDecoder(resp.Body).Decode(&rec)
	return rec, err == nil, err
}

// ListServices returns all records, optionally filtered by type
// and/or status (both in wire form; empty means no filter).
func (c *Client) ListServices(serviceType, status string) ([]Record, error) {
	params := url.Values{}
	if serviceType != "" {
		params.Set("type", serviceType)
	}
	if status != "" {
		params.Set("status", status)
	}
	return c.getRecords("/services", params)
}

// HealthyServices returns records that are healthy and have
// heartbeated within ttlSeconds (0 means the server's default
// threshold).
func (c *Client) HealthyServices(serviceType string, ttlSeconds int) ([]Record, error) {
	params := url.Values{}
	if serviceType != "" {
		params.Set("type", serviceType)
	}
	if ttlSeconds > 0 {
		params.Set("timeout", fmt.Sprintf("%d", ttlSeconds))
	}
	return c.getRecords("/services/healthy", params)
}

// ServiceCount returns the number of registered services, optionally
// limited to one type.
func (c *Client) ServiceCount(serviceType string) (int, error) {
	params := url.Values{}
	if serviceType != "" {
		params.Set("type", serviceType)
	}
	resp, err := c.httpClient.Get(c.baseURL + "/services/count?" + params.Encode())
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("registry: HTTP %d %s", resp.StatusCode, resp.Status)
	}
	var body map[string]int
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, err
	}
	return body["count"], nil
}

func (c *Client) getRecords(path string, params url.Values) ([]Record, error) {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	resp, err := c.httpClient.Get(u)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("registry: HTTP %d %s", resp.StatusCode, resp.Status)
	}
	var recs []Record
	err = json.NewDecoder(resp.Body).Decode(&recs)
	return recs, err
}
