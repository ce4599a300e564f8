// Copyright (C) The Gantry Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package launcher

import (
	"errors"
	"os"
	"path/filepath"

	check "gopkg.in/check.v1"
)

var _ = check.Suite(&NodesSuite{})

type NodesSuite struct{}

func (s *NodesSuite) SetUpTest(c *check.C) {
	os.Unsetenv("PBS_NODEFILE")
}

func (s *NodesSuite) TestAllocatedNodesDeduplicates(c *check.C) {
	// One line per rank: every node appears once per local rank.
	path := filepath.Join(c.MkDir(), "nodefile")
	c.Assert(os.WriteFile(path, []byte("n0\nn0\nn1\nn1\nn2\n\n"), 0644), check.IsNil)
	os.Setenv("PBS_NODEFILE", path)
	defer os.Unsetenv("PBS_NODEFILE")

	nodes, err := AllocatedNodes()
	c.Assert(err, check.IsNil)
	c.Check(nodes, check.DeepEquals, []string{"n0", "n1", "n2"})
}

func (s *NodesSuite) TestAllocatedNodesUnset(c *check.C) {
	_, err := AllocatedNodes()
	c.Check(errors.Is(err, ErrNoNodeFile), check.Equals, true)
	c.Check(err, check.ErrorMatches, `.*PBS_NODEFILE not set.*`)
}

func (s *NodesSuite) TestAllocatedNodesMissingFile(c *check.C) {
	os.Setenv("PBS_NODEFILE", filepath.Join(c.MkDir(), "nonexistent"))
	defer os.Unsetenv("PBS_NODEFILE")
	_, err := AllocatedNodes()
	c.Check(errors.Is(err, ErrNoNodeFile), check.Equals, true)
}

func (s *NodesSuite) TestAllocatedNodesEmptyFile(c *check.C) {
	path := filepath.Join(c.MkDir(), "nodefile")
	c.Assert(os.WriteFile(path, []byte("\n \n"), 0644), check.IsNil)
	os.Setenv("PBS_NODEFILE", path)
	defer os.Unsetenv("PBS_NODEFILE")
	_, err := AllocatedNodes()
	c.Check(errors.Is(err, ErrNoNodeFile), check.Equals, true)
}
