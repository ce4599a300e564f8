// Copyright (C) The Gantry Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package cmd defines a RunFunc type, representing a process that can
// be invoked from a command line.
package cmd

import (
	"flag"
	"fmt"
	"io"
	"sort"
	"strings"
)

// A RunFunc runs a command with the given args, and returns an exit
// code.
type RunFunc func(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int

// Multi returns a RunFunc that looks up its first argument in m, and
// invokes the resulting RunFunc with the remaining args.
func Multi(m map[string]RunFunc) RunFunc {
	return func(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
		if len(args) < 1 {
			fmt.Fprintf(stderr, "usage: %s command [args]\n", prog)
			multiUsage(stderr, m)
			return 2
		}
		cmd, ok := m[args[0]]
		if !ok {
			fmt.Fprintf(stderr, "unrecognized command %q\n", args[0])
			multiUsage(stderr, m)
			return 2
		}
		return cmd(prog+" "+args[0], args[1:], stdin, stdout, stderr)
	}
}

func multiUsage(stderr io.Writer, m map[string]RunFunc) {
	var subcommands []string
	for sc := range m {
		if strings.HasPrefix(sc, "-") {
			// Alternate spellings like "--version" would
			// clutter the subcommand summary.
			continue
		}
		subcommands = append(subcommands, sc)
	}
	sort.Strings(subcommands)
	fmt.Fprintf(stderr, "\nAvailable commands:\n")
	for _, sc := range subcommands {
		fmt.Fprintf(stderr, "    %s\n", sc)
	}
}

// ParseFlags parses args with f, writing a usage message to stderr if
// parsing fails or -help is requested. It returns false when the
// caller should exit without running the command.
func ParseFlags(f *flag.FlagSet, prog string, args []string, positional string, stderr io.Writer) bool {
	f.SetOutput(io.Discard)
	err := f.Parse(args)
	switch err {
	case nil:
		return true
	case flag.ErrHelp:
		fmt.Fprintf(stderr, "Usage: %s [options] %s\n\nOptions:\n", prog, positional)
		f.SetOutput(stderr)
		f.PrintDefaults()
		return false
	default:
		fmt.Fprintf(stderr, "error parsing command line arguments: %s (try -help)\n", err)
		return false
	}
}
