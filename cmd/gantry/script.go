// Copyright (C) The Gantry Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/gantry-hpc/gantry/lib/config"
	"github.com/gantry-hpc/gantry/lib/placement"
	"github.com/ghodss/yaml"
)

// jobScriptTmpl is the batch script handed to qsub. The merged
// configuration travels inside the script as a heredoc, so the inner
// `gantry launch` runs with exactly the settings the submitter saw.
var jobScriptTmpl = template.Must(template.New("job").Parse(`#!/bin/bash
#PBS -N gantry_launch
#PBS -l select={{.Nodes}}
#PBS -l walltime={{.Config.Walltime}}
#PBS -l filesystems={{.Config.Filesystems}}
#PBS -A {{.Config.Account}}
{{if .Config.Queue}}#PBS -q {{.Config.Queue}}
{{end}}#PBS -j oe

cd "$PBS_O_WORKDIR"

cat > gantry_job_config.yaml <<'GANTRY_EOF'
{{.ConfigYAML}}GANTRY_EOF

{{if .HFToken}}export HF_TOKEN={{.HFToken}}
{{end}}exec gantry launch -config gantry_job_config.yaml
`))

// renderJobScript renders the qsub script for cfg. hfToken, when
// non-empty, is embedded so the job inherits credentials the
// submitting shell had.
func renderJobScript(cfg config.Config, hfToken string) (string, error) {
	configYAML, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	err = jobScriptTmpl.Execute(&buf, map[string]interface{}{
		"Config":     cfg,
		"ConfigYAML": string(configYAML),
		"Nodes":      cfg.NodesNeeded(),
		"HFToken":    hfToken,
	})
	return buf.String(), err
}

// instanceScriptTmpl runs on every node of one instance's process
// group. Only rank 0 (the head node) serves traffic; the remaining
// ranks join it as tensor-parallel workers.
var instanceScriptTmpl = template.Must(template.New("instance").Parse(`#!/bin/bash
{{if .Config.CondaEnv}}source /tmp/{{.CondaEnvName}}/bin/activate
{{end}}export HF_HOME={{.Config.HFHome}}
exec vllm serve {{.Instance.Model}} \
    --tensor-parallel-size {{.Parallelism}} \
    --host 0.0.0.0 \
    --port {{.Instance.Port}}{{range .ExtraArgs}} \
    {{.}}{{end}}
`))

// vllmRenderer is the default ScriptRenderer: each instance runs a
// vLLM server.
type vllmRenderer struct{}

func (vllmRenderer) RenderInstance(cfg config.Config, inst placement.Instance) (string, error) {
	parallelism := 0
	var extraArgs []string
	for _, req := range cfg.Models {
		if req.Model == inst.Model {
			parallelism = req.Parallelism
			extraArgs = req.ExtraArgs
			break
		}
	}
	condaEnvName := strings.TrimSuffix(strings.TrimSuffix(filepath.Base(cfg.CondaEnv), ".gz"), ".tar")
	var buf bytes.Buffer
	err := instanceScriptTmpl.Execute(&buf, map[string]interface{}{
		"Config":       cfg,
		"Instance":     inst,
		"Parallelism":  parallelism,
		"ExtraArgs":    extraArgs,
		"CondaEnvName": condaEnvName,
	})
	return buf.String(), err
}
