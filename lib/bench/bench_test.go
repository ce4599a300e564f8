// Copyright (C) The Gantry Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package bench

import (
	"strings"

	check "gopkg.in/check.v1"
)

var _ = check.Suite(&BenchSuite{})

type BenchSuite struct{}

func (s *BenchSuite) TestGroupEndpoints(c *check.C) {
	segments, err := GroupEndpoints([]string{"a:8000", "b:8000", "c:8001"})
	c.Assert(err, check.IsNil)
	c.Check(segments, check.DeepEquals, []Segment{
		{Port: 8000, Hosts: []string{"a", "b"}},
		{Port: 8001, Hosts: []string{"c"}},
	})
}

func (s *BenchSuite) TestGroupEndpointsDeterministic(c *check.C) {
	// Same endpoints, different input order: identical grouping.
	segments, err := GroupEndpoints([]string{"c:8001", "b:8000", "a:8000"})
	c.Assert(err, check.IsNil)
	c.Check(segments, check.DeepEquals, []Segment{
		{Port: 8000, Hosts: []string{"a", "b"}},
		{Port: 8001, Hosts: []string{"c"}},
	})
}

func (s *BenchSuite) TestGroupEndpointsMalformed(c *check.C) {
	for _, ep := range []string{"nocolon", "host:", ":8000", "host:notaport"} {
		_, err := GroupEndpoints([]string{ep})
		c.Check(err, check.NotNil, check.Commentf("endpoint %q", ep))
	}
}

func (s *BenchSuite) TestCompose(c *check.C) {
	d := &Dispatcher{Model: "m", NumPrompts: 100}
	segments, err := GroupEndpoints([]string{"a:8000", "b:8000", "c:8001"})
	c.Assert(err, check.IsNil)
	argv := d.Compose(segments, "/tmp/results")

	c.Check(argv[0], check.Equals, "mpiexec")
	joined := strings.Join(argv, " ")
	// One MPMD separator between the two segments.
	c.Check(strings.Count(joined, " : "), check.Equals, 1)
	// Rank counts equal host counts.
	c.Check(joined, check.Matches, `.*-n 2 -hosts a,b.*`)
	c.Check(joined, check.Matches, `.*-n 1 -hosts c.*`)
	// Each segment targets its own port.
	c.Check(joined, check.Matches, `.*--base-url http://localhost:8000/v1.*`)
	c.Check(joined, check.Matches, `.*--base-url http://localhost:8001/v1.*`)
	// Every rank writes a distinct result file.
	c.Check(joined, check.Matches, `.*--result-filename port8000_rank\$\{PALS_RANKID:-0\}\.json.*`)
}

func (s *BenchSuite) TestComposeCondaEnvAndToken(c *check.C) {
	d := &Dispatcher{
		Model:      "m",
		NumPrompts: 10,
		CondaEnv:   "/soft/envs/bench",
		HFToken:    "hf_secret",
		ExtraArgs:  []string{"--dataset-name", "random"},
	}
	segments, err := GroupEndpoints([]string{"a:8000"})
	c.Assert(err, check.IsNil)
	argv := d.Compose(segments, "/tmp/results")
	// The rank command runs in a shell that activates the env and
	// exports the token before benchmarking.
	script := argv[len(argv)-1]
	c.Check(argv[len(argv)-3], check.Equals, "bash")
	c.Check(script, check.Matches, `source /soft/envs/bench/bin/activate && export HF_TOKEN='hf_secret' && vllm bench serve .*--dataset-name random.*`)
}
