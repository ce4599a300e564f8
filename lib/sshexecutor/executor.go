// Copyright (C) The Gantry Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package sshexecutor provides a long-lived multiplexed SSH session
// to a remote submission host. One Executor is opened per CLI
// invocation, reused for any number of command executions and file
// transfers, and torn down exactly once.
package sshexecutor

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

var ErrNoAddress = errors.New("remote target has no address")

// New returns a new Executor for the given target ("host",
// "user@host", or "user@host:port").
func New(target string) *Executor {
	exr := &Executor{}
	exr.SetTarget(target)
	return exr
}

// An Executor uses a multiplexed SSH connection to execute shell
// commands on a remote target. It connects lazily on first use and
// reconnects automatically after errors.
//
// Commands from one invocation are issued sequentially over the
// shared connection; the Executor serializes connection setup but not
// command execution, matching the single-channel usage of its
// callers.
//
// A zero Executor must not be used before calling SetTarget.
//
// An Executor must not be copied.
type Executor struct {
	targetHost string
	targetPort string
	targetUser string
	signers    []ssh.Signer
	mtx        sync.RWMutex // controls access to target fields after creation

	client      *ssh.Client
	clientErr   error
	clientOnce  sync.Once // initialized private state
	clientSetup chan bool // len>0 while client setup is in progress
}

// SetSigners updates the set of private keys that will be offered to
// the target next time the Executor sets up a new connection.
func (exr *Executor) SetSigners(signers ...ssh.Signer) {
	exr.mtx.Lock()
	defer exr.mtx.Unlock()
	exr.signers = signers
}

// LoadKeyFile parses the (unencrypted) private key at path and adds
// it to the signers offered on the next connection.
func (exr *Executor) LoadKeyFile(path string) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	signer, err := ssh.ParsePrivateKey(buf)
	if err != nil {
		return fmt.Errorf("error parsing private key %s: %w", path, err)
	}
	exr.mtx.Lock()
	defer exr.mtx.Unlock()
	exr.signers = append(exr.signers, signer)
	return nil
}

// SetTarget sets the current target. The new target will be used next
// time a new connection is set up; until then, the Executor will
// continue to use the existing connection.
func (exr *Executor) SetTarget(target string) {
	user := ""
	if i := strings.Index(target, "@"); i >= 0 {
		user, target = target[:i], target[i+1:]
	}
	host, port, err := net.SplitHostPort(target)
	if err != nil || port == "" {
		host, port = target, "22"
	}
	exr.mtx.Lock()
	defer exr.mtx.Unlock()
	exr.targetUser = user
	exr.targetHost = host
	exr.targetPort = port
}

// Target returns the current target in user@host:port form.
func (exr *Executor) Target() string {
	exr.mtx.RLock()
	defer exr.mtx.RUnlock()
	addr := net.JoinHostPort(exr.targetHost, exr.targetPort)
	if exr.targetUser == "" {
		return addr
	}
	return exr.targetUser + "@" + addr
}

// Execute runs cmd on the target. If an existing connection is not
// usable, it sets up a new connection to the current target.
func (exr *Executor) Execute(env map[string]string, cmd string, stdin io.Reader) ([]byte, []byte, error) {
	session, err := exr.newSession()
	if err != nil {
		return nil, nil, err
	}
	defer session.Close()
	for k, v := range env {
		err = session.Setenv(k, v)
		if err != nil {
			return nil, nil, err
		}
	}
	var stdout, stderr bytes.Buffer
	session.Stdin = stdin
	session.Stdout = &stdout
	session.Stderr = &stderr
	err = session.Run(cmd)
	return stdout.Bytes(), stderr.Bytes(), err
}

// Upload writes data to the given path on the remote host.
func (exr *Executor) Upload(remotePath string, data io.Reader) error {
	_, stderr, err := exr.Execute(nil, "cat > "+shellQuote(remotePath), data)
	if err != nil {
		return fmt.Errorf("error writing %s on %s: %w (%q)", remotePath, exr.Target(), err, stderr)
	}
	return nil
}

// Download returns the contents of the given path on the remote host.
func (exr *Executor) Download(remotePath string) ([]byte, error) {
	stdout, stderr, err := exr.Execute(nil, "cat "+shellQuote(remotePath), nil)
	if err != nil {
		return nil, fmt.Errorf("error reading %s on %s: %w (%q)", remotePath, exr.Target(), err, stderr)
	}
	return stdout, nil
}

// Close shuts down any active connection. It is safe to call Close
// multiple times, and on an Executor that never connected.
func (exr *Executor) Close() {
	// Ensure exr is initialized
	exr.sshClient(false)

	exr.clientSetup <- true
	if exr.client != nil {
		defer exr.client.Close()
	}
	exr.client, exr.clientErr = nil, errors.New("closed")
	<-exr.clientSetup
}

// Create a new SSH session. If session setup fails or the SSH client
// hasn't been setup yet, setup a new SSH client and try again.
func (exr *Executor) newSession() (*ssh.Session, error) {
	try := func(create bool) (*ssh.Session, error) {
		client, err := exr.sshClient(create)
		if err != nil {
			return nil, err
		}
		return client.NewSession()
	}
	session, err := try(false)
	if err != nil {
		session, err = try(true)
	}
	return session, err
}

// Get the latest SSH client. If another goroutine is in the process
// of setting one up, wait for it to finish and return its result (or
// the last successfully set up client, if it fails).
func (exr *Executor) sshClient(create bool) (*ssh.Client, error) {
	exr.clientOnce.Do(func() {
		exr.clientSetup = make(chan bool, 1)
		exr.clientErr = errors.New("client not yet created")
	})
	defer func() { <-exr.clientSetup }()
	select {
	case exr.clientSetup <- true:
		if create {
			client, err := exr.setupSSHClient()
			if err == nil || exr.client == nil {
				if exr.client != nil {
					// Hang up the previous
					// (non-working) client
					go exr.client.Close()
				}
				exr.client, exr.clientErr = client, err
			}
			if err != nil {
				return nil, err
			}
		}
	default:
		// Another goroutine is doing the above case. Wait for
		// it to finish and return whatever it leaves in
		// exr.client.
		exr.clientSetup <- true
	}
	return exr.client, exr.clientErr
}

// Create a new SSH client.
func (exr *Executor) setupSSHClient() (*ssh.Client, error) {
	exr.mtx.RLock()
	addr := net.JoinHostPort(exr.targetHost, exr.targetPort)
	user := exr.targetUser
	auth := exr.authMethods()
	exr.mtx.RUnlock()
	if exr.targetHost == "" {
		return nil, ErrNoAddress
	}
	if user == "" {
		user = os.Getenv("USER")
	}
	return ssh.Dial("tcp", addr, &ssh.ClientConfig{
		User: user,
		Auth: auth,
		// The login node's key is taken on trust, like the
		// first-connect behavior of the ssh CLI.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         time.Minute,
	})
}

// caller must have lock.
func (exr *Executor) authMethods() []ssh.AuthMethod {
	var methods []ssh.AuthMethod
	if len(exr.signers) > 0 {
		methods = append(methods, ssh.PublicKeys(exr.signers...))
	}
	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		}
	}
	return methods
}

func shellQuote(s string) string {
	return "'" + strings.Replace(s, "'", `'\''`, -1) + "'"
}
