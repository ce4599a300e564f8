// Copyright (C) The Gantry Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package placement maps a declarative set of model/instance requests
// onto a fixed pool of allocated nodes.
package placement

import (
	"errors"
	"fmt"
)

// ErrInsufficientNodes is wrapped by Plan errors reporting that the
// allocation is too small for the requested instances.
var ErrInsufficientNodes = errors.New("insufficient nodes")

// A Request asks for some number of identical inference-server
// instances of one model, each spanning Parallelism GPUs.
type Request struct {
	Model           string   `json:"model"`
	Instances       int      `json:"instances"`
	Parallelism     int      `json:"tensor_parallel_size"`
	Source          string   `json:"model_source,omitempty"`
	DownloadWeights bool     `json:"download_weights,omitempty"`
	ExtraArgs       []string `json:"extra_args,omitempty"`
}

// NodesPerInstance returns the number of whole nodes one instance of
// this request spans, given the per-node GPU capacity.
func (req Request) NodesPerInstance(gpusPerNode int) int {
	return (req.Parallelism + gpusPerNode - 1) / gpusPerNode
}

// An Instance describes where one inference server runs: its node
// slice (the first node is the head node, i.e., the addressable
// host), its service port, and its position within the plan.
type Instance struct {
	Model string
	Nodes []string
	Port  int
	Index int
}

// Head returns the instance's head node.
func (inst Instance) Head() string {
	return inst.Nodes[0]
}

// Endpoint returns the instance's host:port address.
func (inst Instance) Endpoint() string {
	return fmt.Sprintf("%s:%d", inst.Head(), inst.Port)
}

// A Plan is an ordered list of instance placements. Node slices are
// contiguous, non-overlapping ranges of the allocated-node sequence,
// consumed in request-declaration order, then instance order within a
// request.
type Plan struct {
	Instances []Instance
}

// Endpoints returns the host:port list for every instance, in plan
// order.
func (p Plan) Endpoints() []string {
	out := make([]string, len(p.Instances))
	for i, inst := range p.Instances {
		out[i] = inst.Endpoint()
	}
	return out
}

// PortPolicy selects how instance ports are assigned.
type PortPolicy string

const (
	// PortPolicyGlobal assigns BasePort + the instance's global
	// index. Safe only while no two instances share a head node.
	PortPolicyGlobal PortPolicy = "global"
	// PortPolicyPerNode assigns BasePort + the number of
	// instances already headed on the same node, so instances
	// sharing a node get distinct ports.
	PortPolicyPerNode PortPolicy = "per-node"
)

// A Planner computes instance placements. Plan is a pure function:
// identical inputs always produce identical output, because the
// endpoints file and downstream supervision depend on stable
// host:port pairs.
type Planner struct {
	// GPU capacity of each allocated node.
	GPUsPerNode int
	// First port assigned.
	BasePort int
	// Port assignment scheme. Default PortPolicyGlobal.
	PortPolicy PortPolicy
	// Pack allows multiple single-node instances to share a node
	// until its GPU capacity is exhausted. Requires
	// PortPolicyPerNode.
	Pack bool
}

// Plan maps reqs onto nodes, or fails without side effects if the
// allocation is too small.
func (pl *Planner) Plan(reqs []Request, nodes []string) (Plan, error) {
	if pl.GPUsPerNode < 1 {
		return Plan{}, errors.New("planner: GPUsPerNode must be positive")
	}
	policy := pl.PortPolicy
	if policy == "" {
		policy = PortPolicyGlobal
	}
	if policy != PortPolicyGlobal && policy != PortPolicyPerNode {
		return Plan{}, fmt.Errorf("planner: unknown port policy %q", policy)
	}
	if pl.Pack && policy != PortPolicyPerNode {
		return Plan{}, errors.New("planner: packed placement requires the per-node port policy")
	}
	if len(reqs) == 0 {
		return Plan{}, errors.New("planner: no models requested")
	}
	for _, req := range reqs {
		if req.Model == "" {
			return Plan{}, errors.New("planner: request with empty model name")
		}
		if req.Instances < 1 || req.Parallelism < 1 {
			return Plan{}, fmt.Errorf("planner: model %s: instances and parallelism must be positive", req.Model)
		}
	}

	// Walk the requests assigning node index ranges as if the pool
	// were unbounded, then compare consumption against the actual
	// pool so the error can name the exact shortfall.
	type pending struct {
		req     Request
		from, n int
		port    int
		planIdx int
	}
	var places []pending
	nodeIdx := 0  // next unconsumed node
	gpusUsed := 0 // GPUs consumed on nodes[nodeIdx-1] by packed instances
	headCount := map[int]int{}
	planIdx := 0
	for _, req := range reqs {
		span := req.NodesPerInstance(pl.GPUsPerNode)
		for i := 0; i < req.Instances; i++ {
			var from int
			if pl.Pack && span == 1 && gpusUsed > 0 && gpusUsed+req.Parallelism <= pl.GPUsPerNode {
				// Share the most recently consumed node.
				from = nodeIdx - 1
				gpusUsed += req.Parallelism
			} else {
				from = nodeIdx
				nodeIdx += span
				if pl.Pack && span == 1 {
					gpusUsed = req.Parallelism
				} else {
					gpusUsed = 0
				}
			}
			var port int
			switch policy {
			case PortPolicyGlobal:
				port = pl.BasePort + planIdx
			case PortPolicyPerNode:
				port = pl.BasePort + headCount[from]
				headCount[from]++
			}
			places = append(places, pending{req: req, from: from, n: span, port: port, planIdx: planIdx})
			planIdx++
		}
	}
	if need := nodeIdx; need > len(nodes) {
		return Plan{}, fmt.Errorf("%w: need %d, have %d", ErrInsufficientNodes, need, len(nodes))
	}

	var plan Plan
	for _, p := range places {
		plan.Instances = append(plan.Instances, Instance{
			Model: p.req.Model,
			Nodes: nodes[p.from : p.from+p.n],
			Port:  p.port,
			Index: p.planIdx,
		})
	}
	return plan, nil
}
