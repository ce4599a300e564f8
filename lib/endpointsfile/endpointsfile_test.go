// Copyright (C) The Gantry Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package endpointsfile

import (
	"os"
	"path/filepath"

	check "gopkg.in/check.v1"
)

var _ = check.Suite(&Suite{})

type Suite struct{}

func (s *Suite) TestParse(c *check.C) {
	data := []byte(`# 3 endpoint(s), one host:port per line
n0:8000

  n1:8001
# trailing comment
n2:8002
`)
	c.Check(Parse(data), check.DeepEquals, []string{"n0:8000", "n1:8001", "n2:8002"})
	c.Check(Parse([]byte("")), check.IsNil)
	c.Check(Parse([]byte("# only comments\n\n")), check.IsNil)
}

func (s *Suite) TestReadMissingFile(c *check.C) {
	endpoints, err := Read(filepath.Join(c.MkDir(), "nonexistent"))
	c.Check(err, check.IsNil)
	c.Check(endpoints, check.IsNil)
}

func (s *Suite) TestWriteReadRoundTrip(c *check.C) {
	path := filepath.Join(c.MkDir(), "gantry-endpoints.txt")
	c.Assert(Write(path, []string{"n0:8000", "n1:8001"}), check.IsNil)

	data, err := os.ReadFile(path)
	c.Assert(err, check.IsNil)
	c.Check(string(data), check.Equals, "# 2 endpoint(s), one host:port per line\nn0:8000\nn1:8001\n")

	endpoints, err := Read(path)
	c.Check(err, check.IsNil)
	c.Check(endpoints, check.DeepEquals, []string{"n0:8000", "n1:8001"})
}
