// Copyright (C) The Gantry Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package config loads and merges gantry configuration: defaults,
// then a YAML file, then explicitly-set command line flags, in that
// order of increasing precedence.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/gantry-hpc/gantry/lib/placement"
	"github.com/ghodss/yaml"
	"github.com/google/shlex"
)

// DefaultGPUsPerNode matches Aurora's 12 GPU tiles per node.
const DefaultGPUsPerNode = 12

// ArgList is a []string that also accepts a single shell-quoted
// string in YAML ("--max-model-len 4096 --dtype auto"), split with
// shell word rules.
type ArgList []string

func (a *ArgList) UnmarshalJSON(data []byte) error {
	var asList []string
	if err := json.Unmarshal(data, &asList); err == nil {
		*a = asList
		return nil
	}
	var asString string
	if err := json.Unmarshal(data, &asString); err != nil {
		return fmt.Errorf("expected a string or a list of strings, got %s", data)
	}
	words, err := shlex.Split(asString)
	if err != nil {
		return fmt.Errorf("bad argument string %q: %s", asString, err)
	}
	*a = words
	return nil
}

// Config is the full gantry configuration. The single-model fields
// (Model, Instances, TensorParallelSize) and the Models list are
// alternative spellings; Normalize folds the former into the latter.
type Config struct {
	Model              string              `json:"model,omitempty"`
	Instances          int                 `json:"instances,omitempty"`
	TensorParallelSize int                 `json:"tensor_parallel_size,omitempty"`
	Models             []placement.Request `json:"models,omitempty"`

	PortStart       int     `json:"port_start"`
	GPUsPerNode     int     `json:"gpus_per_node"`
	HFHome          string  `json:"hf_home"`
	HFToken         string  `json:"hf_token,omitempty"`
	ModelSource     string  `json:"model_source,omitempty"`
	DownloadWeights bool    `json:"download_weights,omitempty"`
	ExtraVLLMArgs   ArgList `json:"extra_vllm_args,omitempty"`

	Walltime    string `json:"walltime"`
	Queue       string `json:"queue,omitempty"`
	Account     string `json:"account"`
	Filesystems string `json:"filesystems"`

	CondaEnv           string `json:"conda_env,omitempty"`
	RegistryPort       int    `json:"registry_port"`
	StartupTimeoutSecs int    `json:"startup_timeout"`
	EndpointsFile      string `json:"endpoints_file"`
}

// Default returns a Config with all defaults filled in.
func Default() Config {
	return Config{
		Instances:          1,
		TensorParallelSize: 1,
		PortStart:          8000,
		GPUsPerNode:        DefaultGPUsPerNode,
		HFHome:             "/tmp/hf_home",
		Walltime:           "01:00:00",
		Filesystems:        "flare:home",
		RegistryPort:       8471,
		StartupTimeoutSecs: 600,
		EndpointsFile:      "gantry-endpoints.txt",
	}
}

// Load reads a YAML config file over the defaults. An empty path
// returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("error reading config file: %s", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("error parsing config file %s: %s", path, err)
	}
	return cfg, nil
}

// Normalize folds the single-model shorthand fields into the Models
// list and fills per-model defaults. Idempotent.
func (cfg *Config) Normalize() {
	if len(cfg.Models) == 0 && cfg.Model != "" {
		cfg.Models = []placement.Request{{
			Model:           cfg.Model,
			Instances:       cfg.Instances,
			Parallelism:     cfg.TensorParallelSize,
			Source:          cfg.ModelSource,
			DownloadWeights: cfg.DownloadWeights,
		}}
	}
	for i := range cfg.Models {
		req := &cfg.Models[i]
		if req.Instances == 0 {
			req.Instances = 1
		}
		if req.Parallelism == 0 {
			req.Parallelism = 1
		}
		if req.Source == "" {
			req.Source = cfg.ModelSource
		}
		if len(req.ExtraArgs) == 0 {
			req.ExtraArgs = cfg.ExtraVLLMArgs
		}
	}
	if cfg.GPUsPerNode <= 0 {
		cfg.GPUsPerNode = DefaultGPUsPerNode
	}
}

// Validate reports configuration problems that would otherwise only
// surface after a job was submitted. Call after Normalize.
func (cfg *Config) Validate() error {
	if len(cfg.Models) == 0 {
		return errors.New("no model specified (use --model or a models list in the config file)")
	}
	for _, req := range cfg.Models {
		if req.Model == "" {
			return errors.New("models list contains an entry with no model name")
		}
		if req.Instances < 1 || req.Parallelism < 1 {
			return fmt.Errorf("model %s: instances and tensor_parallel_size must be positive", req.Model)
		}
	}
	return nil
}

// NodesNeeded returns the total node count the configured models
// require.
func (cfg *Config) NodesNeeded() int {
	total := 0
	for _, req := range cfg.Models {
		total += req.Instances * req.NodesPerInstance(cfg.GPUsPerNode)
	}
	return total
}

// ResolveHFToken returns the HuggingFace token from the config or,
// failing that, the HF_TOKEN environment variable.
func (cfg *Config) ResolveHFToken() string {
	if cfg.HFToken != "" {
		return cfg.HFToken
	}
	return os.Getenv("HF_TOKEN")
}
