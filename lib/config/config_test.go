// Copyright (C) The Gantry Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"flag"
	"io"
	"os"
	"path/filepath"

	"github.com/gantry-hpc/gantry/lib/placement"
	check "gopkg.in/check.v1"
)

var _ = check.Suite(&ConfigSuite{})

type ConfigSuite struct{}

func (s *ConfigSuite) writeConfig(c *check.C, content string) string {
	path := filepath.Join(c.MkDir(), "gantry.yaml")
	c.Assert(os.WriteFile(path, []byte(content), 0644), check.IsNil)
	return path
}

func (s *ConfigSuite) TestDefaults(c *check.C) {
	cfg, err := Load("")
	c.Assert(err, check.IsNil)
	c.Check(cfg.PortStart, check.Equals, 8000)
	c.Check(cfg.GPUsPerNode, check.Equals, 12)
	c.Check(cfg.Walltime, check.Equals, "01:00:00")
	c.Check(cfg.Filesystems, check.Equals, "flare:home")
	c.Check(cfg.RegistryPort, check.Equals, 8471)
	c.Check(cfg.StartupTimeoutSecs, check.Equals, 600)
	c.Check(cfg.EndpointsFile, check.Equals, "gantry-endpoints.txt")
}

func (s *ConfigSuite) TestLoadYAML(c *check.C) {
	path := s.writeConfig(c, `
model: meta-llama/Llama-3.1-8B-Instruct
instances: 4
tensor_parallel_size: 2
account: InferenceProd
queue: prod
walltime: "02:00:00"
extra_vllm_args: "--max-model-len 4096 --dtype auto"
`)
	cfg, err := Load(path)
	c.Assert(err, check.IsNil)
	c.Check(cfg.Model, check.Equals, "meta-llama/Llama-3.1-8B-Instruct")
	c.Check(cfg.Instances, check.Equals, 4)
	c.Check(cfg.TensorParallelSize, check.Equals, 2)
	c.Check(cfg.Account, check.Equals, "InferenceProd")
	c.Check(cfg.Queue, check.Equals, "prod")
	c.Check(cfg.Walltime, check.Equals, "02:00:00")
	// String-form extra args split with shell word rules.
	c.Check([]string(cfg.ExtraVLLMArgs), check.DeepEquals, []string{"--max-model-len", "4096", "--dtype", "auto"})
	// Unset keys keep their defaults.
	c.Check(cfg.PortStart, check.Equals, 8000)
}

func (s *ConfigSuite) TestExtraArgsAsList(c *check.C) {
	path := s.writeConfig(c, `
model: m
extra_vllm_args:
  - --max-model-len
  - "4096"
`)
	cfg, err := Load(path)
	c.Assert(err, check.IsNil)
	c.Check([]string(cfg.ExtraVLLMArgs), check.DeepEquals, []string{"--max-model-len", "4096"})
}

func (s *ConfigSuite) TestNormalizeShorthand(c *check.C) {
	cfg := Default()
	cfg.Model = "m"
	cfg.Instances = 2
	cfg.TensorParallelSize = 8
	cfg.ModelSource = "/flare/weights/m"
	cfg.ExtraVLLMArgs = ArgList{"--dtype", "auto"}
	cfg.Normalize()
	c.Assert(cfg.Models, check.HasLen, 1)
	c.Check(cfg.Models[0], check.DeepEquals, placement.Request{
		Model:       "m",
		Instances:   2,
		Parallelism: 8,
		Source:      "/flare/weights/m",
		ExtraArgs:   []string{"--dtype", "auto"},
	})
	// Idempotent.
	cfg.Normalize()
	c.Check(cfg.Models, check.HasLen, 1)
}

func (s *ConfigSuite) TestNormalizeModelsList(c *check.C) {
	path := s.writeConfig(c, `
model_source: /flare/weights
models:
  - model: a
    instances: 2
  - model: b
    tensor_parallel_size: 24
    model_source: /flare/weights/b
`)
	cfg, err := Load(path)
	c.Assert(err, check.IsNil)
	cfg.Normalize()
	c.Assert(cfg.Models, check.HasLen, 2)
	c.Check(cfg.Models[0].Parallelism, check.Equals, 1)
	c.Check(cfg.Models[0].Source, check.Equals, "/flare/weights")
	c.Check(cfg.Models[1].Instances, check.Equals, 1)
	c.Check(cfg.Models[1].Source, check.Equals, "/flare/weights/b")
}

func (s *ConfigSuite) TestValidate(c *check.C) {
	cfg := Default()
	cfg.Normalize()
	c.Check(cfg.Validate(), check.ErrorMatches, `no model specified.*`)

	cfg.Models = []placement.Request{{Model: "m", Instances: 1, Parallelism: 0}}
	c.Check(cfg.Validate(), check.ErrorMatches, `model m: instances and tensor_parallel_size must be positive`)

	cfg.Models[0].Parallelism = 4
	c.Check(cfg.Validate(), check.IsNil)
}

func (s *ConfigSuite) TestNodesNeeded(c *check.C) {
	cfg := Default()
	cfg.Models = []placement.Request{
		{Model: "a", Instances: 2, Parallelism: 12},
		{Model: "b", Instances: 1, Parallelism: 24},
	}
	c.Check(cfg.NodesNeeded(), check.Equals, 4)
}

func (s *ConfigSuite) TestFlagOverlay(c *check.C) {
	path := s.writeConfig(c, `
model: from-file
instances: 4
account: InferenceProd
`)
	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	flags := NewFlags(fs)
	c.Assert(fs.Parse([]string{
		"-config", path,
		"-instances", "2",
		"-extra-vllm-args", "--dtype auto",
	}), check.IsNil)
	cfg, err := flags.Load()
	c.Assert(err, check.IsNil)
	// Flag wins when set; file value survives otherwise.
	c.Check(cfg.Account, check.Equals, "InferenceProd")
	c.Assert(cfg.Models, check.HasLen, 1)
	c.Check(cfg.Models[0].Model, check.Equals, "from-file")
	c.Check(cfg.Models[0].Instances, check.Equals, 2)
	c.Check(cfg.Models[0].ExtraArgs, check.DeepEquals, []string{"--dtype", "auto"})
}

func (s *ConfigSuite) TestFlagModelOverridesModelsList(c *check.C) {
	path := s.writeConfig(c, `
models:
  - model: a
  - model: b
`)
	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	flags := NewFlags(fs)
	c.Assert(fs.Parse([]string{"-config", path, "-model", "override"}), check.IsNil)
	cfg, err := flags.Load()
	c.Assert(err, check.IsNil)
	c.Assert(cfg.Models, check.HasLen, 1)
	c.Check(cfg.Models[0].Model, check.Equals, "override")
}

func (s *ConfigSuite) TestResolveHFToken(c *check.C) {
	cfg := Default()
	os.Setenv("HF_TOKEN", "from-env")
	defer os.Unsetenv("HF_TOKEN")
	c.Check(cfg.ResolveHFToken(), check.Equals, "from-env")
	cfg.HFToken = "from-config"
	c.Check(cfg.ResolveHFToken(), check.Equals, "from-config")
}
