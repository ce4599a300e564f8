// Copyright (C) The Gantry Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package launcher

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/gantry-hpc/gantry/lib/ctxlog"
	"github.com/sirupsen/logrus"
)

// bcastEnv tunes MPI collective bandwidth for the broadcast; the
// values come from Aurora's multi-NIC fabric guidance.
var bcastEnv = []string{
	"MPIR_CVAR_CH4_OFI_ENABLE_MULTI_NIC_STRIPING=1",
	"MPIR_CVAR_CH4_OFI_MAX_NICS=4",
}

// Stage distributes the conda environment tarball (if configured) and
// each model's weights to every allocated node with the bcast MPI
// broadcast tool. Weight staging copies each distinct source once,
// into $HF_HOME/hub. Any non-zero bcast exit is fatal.
func (l *Launcher) Stage(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	if l.Config.CondaEnv != "" {
		logger.WithField("tarball", l.Config.CondaEnv).Info("staging conda environment")
		if err := l.bcast(ctx, l.Config.CondaEnv, "/tmp"); err != nil {
			return fmt.Errorf("conda environment staging failed: %s", err)
		}
	}
	staged := map[string]bool{}
	for _, req := range l.Config.Models {
		if req.Source == "" || staged[req.Source] {
			continue
		}
		staged[req.Source] = true
		dest := l.Config.HFHome + "/hub"
		logger.WithFields(logrus.Fields{
			"source": req.Source,
			"dest":   dest,
		}).Info("staging model weights")
		if err := l.bcast(ctx, req.Source, dest); err != nil {
			return fmt.Errorf("weight staging for %s failed: %s", req.Model, err)
		}
	}
	return nil
}

// bcast runs one mpiexec broadcast of src to dest on every node,
// building the bcast tool first if it is not already present.
func (l *Launcher) bcast(ctx context.Context, src, dest string) error {
	bin, err := l.bcastBin(ctx)
	if err != nil {
		return err
	}
	cmd := l.cmd("mpiexec", "-ppn", "1", "--cpu-bind", "numa", bin, src, dest)
	cmd.Env = append(os.Environ(), bcastEnv...)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func (l *Launcher) bcastBin(ctx context.Context) (string, error) {
	toolsDir := filepath.Join(l.workDir(), "tools")
	bin := filepath.Join(toolsDir, "bcast")
	if _, err := os.Stat(bin); err == nil {
		return bin, nil
	}
	ctxlog.FromContext(ctx).Info("compiling bcast")
	cmd := l.cmd("make", "bcast")
	cmd.Dir = toolsDir
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("error building bcast: %s", err)
	}
	return bin, nil
}

func (l *Launcher) cmd(name string, args ...string) *exec.Cmd {
	if l.Command != nil {
		return l.Command(name, args...)
	}
	return exec.Command(name, args...)
}
