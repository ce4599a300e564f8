// Copyright (C) The Gantry Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/gantry-hpc/gantry/lib/cmd"
	"github.com/gantry-hpc/gantry/lib/ctxlog"
	"github.com/gantry-hpc/gantry/lib/httpserver"
	"github.com/gantry-hpc/gantry/lib/registry"
)

var registryCommand = cmd.Multi(map[string]cmd.RunFunc{
	"list":         runRegistryList,
	"get":          runRegistryGet,
	"list-healthy": runRegistryListHealthy,
	"count":        runRegistryCount,
	"serve":        runRegistryServe,
})

// registryFlags are the connection and output flags shared by the
// registry query subcommands.
type registryFlags struct {
	host   string
	port   int
	format string
}

func (rf *registryFlags) setup(flags *flag.FlagSet) {
	flags.StringVar(&rf.host, "registry-host", "localhost", "registry server `host`, typically the job's first node")
	flags.IntVar(&rf.port, "registry-port", 8471, "registry query `port`")
	flags.StringVar(&rf.format, "format", "text", "output format: text or json")
}

func (rf *registryFlags) client() *registry.Client {
	return registry.NewClient(rf.host, rf.port)
}

func (rf *registryFlags) printServices(stdout io.Writer, services []registry.Record) error {
	if rf.format == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(services)
	}
	if len(services) == 0 {
		fmt.Fprintln(stdout, "(no services)")
		return nil
	}
	for _, svc := range services {
		fmt.Fprintf(stdout, "%s  %s:%d  %s  last_seen=%s\n",
			svc.ServiceID, svc.Host, svc.Port, svc.Status,
			svc.LastSeen.Format(time.RFC3339))
	}
	return nil
}

func runRegistryList(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet(prog, flag.ContinueOnError)
	var rf registryFlags
	rf.setup(flags)
	serviceType := flags.String("type", "", "only list services of this `type`")
	status := flags.String("status", "", "only list services with this `status`")
	if !cmd.ParseFlags(flags, prog, args, "", stderr) {
		return 2
	}
	services, err := rf.client().ListServices(*serviceType, *status)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if err := rf.printServices(stdout, services); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	return 0
}

func runRegistryGet(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet(prog, flag.ContinueOnError)
	var rf registryFlags
	rf.setup(flags)
	if !cmd.ParseFlags(flags, prog, args, "service-id", stderr) {
		return 2
	}
	if flags.NArg() != 1 {
		fmt.Fprintf(stderr, "usage: %s [options] service-id\n", prog)
		return 2
	}
	serviceID := flags.Arg(0)
	svc, found, err := rf.client().GetService(serviceID)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if !found {
		fmt.Fprintf(stderr, "service %q not found\n", serviceID)
		return 1
	}
	if err := rf.printServices(stdout, []registry.Record{svc}); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	return 0
}

func runRegistryListHealthy(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet(prog, flag.ContinueOnError)
	var rf registryFlags
	rf.setup(flags)
	serviceType := flags.String("type", "", "only list services of this `type`")
	timeout := flags.Int("timeout", 30, "staleness threshold in `seconds`")
	if !cmd.ParseFlags(flags, prog, args, "", stderr) {
		return 2
	}
	services, err := rf.client().HealthyServices(*serviceType, *timeout)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if err := rf.printServices(stdout, services); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	return 0
}

func runRegistryCount(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet(prog, flag.ContinueOnError)
	var rf registryFlags
	rf.setup(flags)
	serviceType := flags.String("type", "", "only count services of this `type`")
	if !cmd.ParseFlags(flags, prog, args, "", stderr) {
		return 2
	}
	count, err := rf.client().ServiceCount(*serviceType)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	fmt.Fprintln(stdout, count)
	return 0
}

// runRegistryServe runs a standalone query service over an empty
// store, mostly useful for exercising downstream tooling without an
// allocation.
func runRegistryServe(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	logger := ctxlog.New(stderr, "text", "info")
	flags := flag.NewFlagSet(prog, flag.ContinueOnError)
	port := flags.Int("registry-port", 8471, "`port` to listen on")
	if !cmd.ParseFlags(flags, prog, args, "", stderr) {
		return 2
	}
	srv := &httpserver.Server{Addr: fmt.Sprintf(":%d", *port)}
	srv.Handler = registry.NewHandler(registry.NewStore(), logger)
	if err := srv.Start(); err != nil {
		logger.Error(err)
		return 1
	}
	logger.WithField("addr", srv.Addr).Info("registry query service listening")
	if err := srv.Wait(); err != nil {
		logger.Error(err)
		return 1
	}
	return 0
}
