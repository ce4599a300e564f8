// Copyright (C) The Gantry Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package launcher runs inside the batch allocation: it places the
// configured instances onto the allocated nodes, spawns one parallel
// process group per instance, supervises their health, and publishes
// the endpoints artifact once the fleet is up.
package launcher

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/gantry-hpc/gantry/lib/config"
	"github.com/gantry-hpc/gantry/lib/ctxlog"
	"github.com/gantry-hpc/gantry/lib/endpointsfile"
	"github.com/gantry-hpc/gantry/lib/heartbeat"
	"github.com/gantry-hpc/gantry/lib/httpserver"
	"github.com/gantry-hpc/gantry/lib/placement"
	"github.com/gantry-hpc/gantry/lib/readiness"
	"github.com/gantry-hpc/gantry/lib/registry"
	"github.com/sirupsen/logrus"
)

// A ScriptRenderer produces the shell script one instance's process
// group runs on each of its nodes. The script text itself (environment
// activation, server invocation) is the caller's business.
type ScriptRenderer interface {
	RenderInstance(cfg config.Config, inst placement.Instance) (string, error)
}

// A Launcher launches and supervises the instance fleet described by
// Config.
type Launcher struct {
	Config config.Config
	Render ScriptRenderer
	// Directory for per-instance scripts and hostfiles. Default:
	// the submission working directory (shared filesystem).
	WorkDir string
	// Command construction hook for tests. Default exec.Command.
	Command func(name string, args ...string) *exec.Cmd
	// Nodes overrides allocated-node discovery in tests. Default:
	// read $PBS_NODEFILE.
	Nodes []string
	// Barrier overrides the default readiness barrier (whose
	// timeout comes from Config.StartupTimeoutSecs).
	Barrier *readiness.Barrier
}

func (l *Launcher) workDir() string {
	if l.WorkDir != "" {
		return l.WorkDir
	}
	return sharedWorkDir()
}

// Launch plans placement, spawns every instance's process group,
// starts the heartbeat monitor and the registry query service, waits
// for the readiness barrier, writes the endpoints artifact, and then
// blocks until all process groups exit (or ctx is cancelled, which
// kills them). Zero ready endpoints is fatal.
func (l *Launcher) Launch(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)

	nodes := l.Nodes
	if nodes == nil {
		var err error
		nodes, err = AllocatedNodes()
		if err != nil {
			return err
		}
	}

	planner := placement.Planner{
		GPUsPerNode: l.Config.GPUsPerNode,
		BasePort:    l.Config.PortStart,
	}
	plan, err := planner.Plan(l.Config.Models, nodes)
	if err != nil {
		return err
	}

	cmds, err := l.spawn(logger, plan)
	if err != nil {
		return err
	}
	// A cancelled ctx tears the fleet down.
	go func() {
		<-ctx.Done()
		for _, cmd := range cmds {
			if cmd.Process != nil {
				cmd.Process.Kill()
			}
		}
	}()

	store := registry.NewStore()
	targets := make([]registry.Record, len(plan.Instances))
	for i, inst := range plan.Instances {
		targets[i] = registry.Record{
			Host:        inst.Head(),
			Port:        inst.Port,
			ServiceType: inst.Model,
		}
	}
	mon := &heartbeat.Monitor{Store: store, Targets: targets}
	monCtx, stopMon := context.WithCancel(ctx)
	defer stopMon()
	go mon.Run(monCtx)

	srv := &httpserver.Server{
		Addr: fmt.Sprintf(":%d", l.Config.RegistryPort),
	}
	srv.Handler = registry.NewHandler(store, logger)
	if err := srv.Start(); err != nil {
		return fmt.Errorf("error starting registry query service: %s", err)
	}
	defer srv.Close()
	logger.WithField("addr", srv.Addr).Info("registry query service listening")

	endpoints := make([]readiness.Endpoint, len(plan.Instances))
	for i, inst := range plan.Instances {
		endpoints[i] = readiness.Endpoint{Host: inst.Head(), Port: inst.Port}
	}
	barrier := l.Barrier
	if barrier == nil {
		barrier = &readiness.Barrier{
			Timeout: time.Duration(l.Config.StartupTimeoutSecs) * time.Second,
		}
	}
	ready := barrier.Await(ctx, endpoints)
	if len(ready) == 0 {
		for _, cmd := range cmds {
			if cmd.Process != nil {
				cmd.Process.Kill()
			}
		}
		return fmt.Errorf("no instances became ready within %ds", l.Config.StartupTimeoutSecs)
	}

	readyAddrs := make([]string, len(ready))
	for i, ep := range ready {
		readyAddrs[i] = ep.String()
	}
	artifact := l.Config.EndpointsFile
	if err := endpointsfile.Write(artifact, readyAddrs); err != nil {
		return fmt.Errorf("error writing endpoints artifact: %s", err)
	}
	logger.WithFields(logrus.Fields{
		"path":  artifact,
		"ready": len(ready),
		"total": len(plan.Instances),
	}).Info("endpoints artifact written")

	for _, cmd := range cmds {
		cmd.Wait()
	}
	return ctx.Err()
}

// spawn renders and writes each instance's script and hostfile to the
// shared workdir and starts its mpiexec process group.
func (l *Launcher) spawn(logger logrus.FieldLogger, plan placement.Plan) ([]*exec.Cmd, error) {
	workdir := l.workDir()
	var cmds []*exec.Cmd
	for _, inst := range plan.Instances {
		script, err := l.Render.RenderInstance(l.Config, inst)
		if err != nil {
			return nil, fmt.Errorf("error rendering script for instance %d: %s", inst.Index, err)
		}
		scriptPath := filepath.Join(workdir, fmt.Sprintf("gantry_instance_%d.sh", inst.Index))
		if err := os.WriteFile(scriptPath, []byte(script), 0755); err != nil {
			return nil, err
		}
		hostfilePath := filepath.Join(workdir, fmt.Sprintf("gantry_hosts_%d", inst.Index))
		hosts := ""
		for _, node := range inst.Nodes {
			hosts += node + "\n"
		}
		if err := os.WriteFile(hostfilePath, []byte(hosts), 0644); err != nil {
			return nil, err
		}

		cmd := l.cmd("mpiexec",
			"-ppn", "1",
			"--hostfile", hostfilePath,
			"-o", fmt.Sprintf("%d/%%h/out.%%R", inst.Index),
			scriptPath)
		cmd.Stdout = os.Stderr
		cmd.Stderr = os.Stderr
		if err := cmd.Start(); err != nil {
			for _, running := range cmds {
				running.Process.Kill()
			}
			return nil, fmt.Errorf("error launching instance %d: %s", inst.Index, err)
		}
		logger.WithFields(logrus.Fields{
			"instance": inst.Index,
			"model":    inst.Model,
			"nodes":    inst.Nodes,
			"port":     inst.Port,
		}).Info("instance process group launched")
		cmds = append(cmds, cmd)
	}
	return cmds, nil
}
