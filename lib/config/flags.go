// Copyright (C) The Gantry Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"flag"
	"fmt"

	"github.com/google/shlex"
)

// Flags binds the shared gantry config flags to a flag.FlagSet. After
// parsing, Load returns the merged configuration: defaults, then the
// --config file, then any flags the user actually set.
type Flags struct {
	fs  *flag.FlagSet
	cfg Config

	configPath string
	extraArgs  string
}

// NewFlags registers the config flags on fs.
func NewFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{fs: fs, cfg: Default()}
	fs.StringVar(&f.configPath, "config", "", "path to YAML config `file`")
	fs.StringVar(&f.cfg.Model, "model", "", "HuggingFace model `name`")
	fs.IntVar(&f.cfg.Instances, "instances", 1, "number of inference-server instances to launch")
	fs.IntVar(&f.cfg.TensorParallelSize, "tensor-parallel-size", 1, "number of GPUs per instance")
	fs.IntVar(&f.cfg.PortStart, "port-start", 8000, "base service `port`")
	fs.IntVar(&f.cfg.GPUsPerNode, "gpus-per-node", DefaultGPUsPerNode, "GPU capacity per node")
	fs.StringVar(&f.cfg.HFHome, "hf-home", "", "`path` to model weights cache")
	fs.StringVar(&f.cfg.HFToken, "hf-token", "", "HuggingFace access token")
	fs.StringVar(&f.cfg.ModelSource, "model-source", "", "source `path` for bcast weight staging")
	fs.BoolVar(&f.cfg.DownloadWeights, "download-weights", false, "download model weights before staging")
	fs.StringVar(&f.extraArgs, "extra-vllm-args", "", "additional `arguments` passed to the inference server (one shell-quoted string)")
	fs.StringVar(&f.cfg.Walltime, "walltime", "", "batch job walltime")
	fs.StringVar(&f.cfg.Queue, "queue", "", "batch queue name")
	fs.StringVar(&f.cfg.Account, "account", "", "batch account/project")
	fs.StringVar(&f.cfg.Filesystems, "filesystems", "", "batch filesystems directive")
	fs.StringVar(&f.cfg.CondaEnv, "conda-env", "", "`path` to a conda-pack tarball to distribute and activate on all nodes")
	fs.IntVar(&f.cfg.RegistryPort, "registry-port", 8471, "service registry query `port`")
	fs.IntVar(&f.cfg.StartupTimeoutSecs, "startup-timeout", 600, "`seconds` to wait for instances to become healthy")
	fs.StringVar(&f.cfg.EndpointsFile, "endpoints-file", "", "output `path` for the endpoints artifact")
	return f
}

// Load returns the merged, normalized configuration. Call after the
// flag set has been parsed.
func (f *Flags) Load() (Config, error) {
	cfg, err := Load(f.configPath)
	if err != nil {
		return cfg, err
	}
	var flagErr error
	f.fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "model":
			cfg.Model = f.cfg.Model
			// An explicit --model overrides a configured
			// models list, not just the shorthand fields.
			cfg.Models = nil
		case "instances":
			cfg.Instances = f.cfg.Instances
		case "tensor-parallel-size":
			cfg.TensorParallelSize = f.cfg.TensorParallelSize
		case "port-start":
			cfg.PortStart = f.cfg.PortStart
		case "gpus-per-node":
			cfg.GPUsPerNode = f.cfg.GPUsPerNode
		case "hf-home":
			cfg.HFHome = f.cfg.HFHome
		case "hf-token":
			cfg.HFToken = f.cfg.HFToken
		case "model-source":
			cfg.ModelSource = f.cfg.ModelSource
		case "download-weights":
			cfg.DownloadWeights = f.cfg.DownloadWeights
		case "extra-vllm-args":
			words, err := shlex.Split(f.extraArgs)
			if err != nil {
				flagErr = fmt.Errorf("bad -extra-vllm-args value %q: %s", f.extraArgs, err)
				return
			}
			cfg.ExtraVLLMArgs = words
		case "walltime":
			cfg.Walltime = f.cfg.Walltime
		case "queue":
			cfg.Queue = f.cfg.Queue
		case "account":
			cfg.Account = f.cfg.Account
		case "filesystems":
			cfg.Filesystems = f.cfg.Filesystems
		case "conda-env":
			cfg.CondaEnv = f.cfg.CondaEnv
		case "registry-port":
			cfg.RegistryPort = f.cfg.RegistryPort
		case "startup-timeout":
			cfg.StartupTimeoutSecs = f.cfg.StartupTimeoutSecs
		case "endpoints-file":
			cfg.EndpointsFile = f.cfg.EndpointsFile
		}
	})
	if flagErr != nil {
		return cfg, flagErr
	}
	cfg.Normalize()
	return cfg, nil
}
