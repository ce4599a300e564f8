// Copyright (C) The Gantry Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package pbs

import (
	check "gopkg.in/check.v1"
)

var _ = check.Suite(&ParseSuite{})

type ParseSuite struct{}

func (s *ParseSuite) TestParseSubmitOutput(c *check.C) {
	id, err := parseSubmitOutput("1234567.aurora-pbs-0001.hostmgmt.cm.aurora.alcf.anl.gov\n")
	c.Check(err, check.IsNil)
	c.Check(id, check.Equals, "1234567.aurora-pbs-0001.hostmgmt.cm.aurora.alcf.anl.gov")

	id, err = parseSubmitOutput("\n\n42.pbsserver\n")
	c.Check(err, check.IsNil)
	c.Check(id, check.Equals, "42.pbsserver")

	_, err = parseSubmitOutput("\n \n")
	c.Check(err, check.ErrorMatches, `qsub printed no job id`)
}

func (s *ParseSuite) TestParseJobState(c *check.C) {
	out := `Job Id: 1234567.aurora-pbs-0001
    Job_Name = gantry_launch
    Job_Owner = user@aurora
    job_state = R
    queue = prod
    Resource_List.walltime = 01:00:00
`
	code, ok := parseJobState(out)
	c.Check(ok, check.Equals, true)
	c.Check(code, check.Equals, "R")

	_, ok = parseJobState("Job Id: 1234567\n    queue = prod\n")
	c.Check(ok, check.Equals, false)
}

func (s *ParseSuite) TestStateFromCode(c *check.C) {
	c.Check(stateFromCode("Q"), check.Equals, StateQueued)
	c.Check(stateFromCode("R"), check.Equals, StateRunning)
	c.Check(stateFromCode("H"), check.Equals, StateHeld)
	// Unknown codes pass through so operators still see what the
	// scheduler said.
	c.Check(stateFromCode("X"), check.Equals, JobState("X"))
}
