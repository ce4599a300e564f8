// Copyright (C) The Gantry Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package bench

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// metricColumns is the fixed column order for the CSV report; result
// files may carry any subset.
var metricColumns = []string{
	"request_throughput", "output_throughput_tok_s", "total_token_throughput",
	"mean_ttft_ms", "median_ttft_ms", "p99_ttft_ms",
	"mean_tpot_ms", "median_tpot_ms", "p99_tpot_ms",
	"mean_itl_ms", "median_itl_ms", "p99_itl_ms",
	"duration", "completed", "total_input_tokens", "total_output_tokens",
}

// A Result holds one endpoint's benchmark metrics.
type Result struct {
	Endpoint string
	Metrics  map[string]float64
}

// ParseResults reads every JSON result file in dir and correlates
// each back to its endpoint: the base_url field embedded by the
// benchmark tool (scheme and /v1 suffix stripped), falling back to
// the file name.
func ParseResults(dir string) ([]Result, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	var results []Result
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		var raw map[string]interface{}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("error parsing result file %s: %s", path, err)
		}
		res := Result{Metrics: map[string]float64{}}
		if baseURL, _ := raw["base_url"].(string); baseURL != "" {
			res.Endpoint = endpointFromBaseURL(baseURL)
		} else {
			res.Endpoint = strings.TrimSuffix(filepath.Base(path), ".json")
		}
		for _, key := range metricColumns {
			if v, ok := raw[key].(float64); ok {
				res.Metrics[key] = v
			}
		}
		results = append(results, res)
	}
	return results, nil
}

func endpointFromBaseURL(baseURL string) string {
	ep := strings.TrimPrefix(baseURL, "http://")
	ep = strings.TrimPrefix(ep, "https://")
	ep = strings.TrimRight(ep, "/")
	ep = strings.TrimSuffix(ep, "/v1")
	return ep
}

// WriteCSV writes one row per endpoint plus a SUMMARY row holding
// min/max/mean across endpoints for each metric.
func WriteCSV(w io.Writer, results []Result) error {
	columns := presentColumns(results)
	cw := csv.NewWriter(w)
	if err := cw.Write(append([]string{"endpoint"}, columns...)); err != nil {
		return err
	}
	for _, res := range results {
		row := []string{res.Endpoint}
		for _, col := range columns {
			if v, ok := res.Metrics[col]; ok {
				row = append(row, strconv.FormatFloat(v, 'f', -1, 64))
			} else {
				row = append(row, "")
			}
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	summary := []string{"SUMMARY"}
	for _, col := range columns {
		var vals []float64
		for _, res := range results {
			if v, ok := res.Metrics[col]; ok {
				vals = append(vals, v)
			}
		}
		if len(vals) == 0 {
			summary = append(summary, "")
			continue
		}
		mn, mx, sum := vals[0], vals[0], 0.0
		for _, v := range vals {
			if v < mn {
				mn = v
			}
			if v > mx {
				mx = v
			}
			sum += v
		}
		summary = append(summary, fmt.Sprintf("min=%.2f max=%.2f mean=%.2f", mn, mx, sum/float64(len(vals))))
	}
	if err := cw.Write(summary); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

// presentColumns returns the metric columns that appear in at least
// one result, in the fixed report order.
func presentColumns(results []Result) []string {
	var columns []string
	for _, col := range metricColumns {
		for _, res := range results {
			if _, ok := res.Metrics[col]; ok {
				columns = append(columns, col)
				break
			}
		}
	}
	return columns
}
