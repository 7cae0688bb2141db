/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

// Package proxy supervises the local signed-command proxy process. The
// proxy terminates TLS locally and signs vehicle commands with the private
// key; modern vehicles reject unsigned commands, so the reconciler and the
// planner bring the proxy up around every command batch and tear it down
// afterwards.
package proxy

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"github.com/avast/retry-go"
	"k8s.io/klog/v2"

	"github.com/mac923/offpeak-controller/pkg/config"
	commonerrors "github.com/mac923/offpeak-controller/pkg/errors"
	"github.com/mac923/offpeak-controller/pkg/utils/httpclient"
)

const (
	healthPollInterval = time.Second
	stopGracePeriod    = 10 * time.Second
)

// command is the message type of the owner goroutine. All state mutation
// happens on that goroutine; callers communicate through requests.
type command struct {
	kind  string
	reply chan error
}

const (
	cmdEnsure = "ensure"
	cmdStop   = "stop"
	cmdProbe  = "probe"
)

// Supervisor manages the proxy child process and implements the signing
// capability the vehicle gateway consumes.
type Supervisor struct {
	http     httpclient.Interface
	requests chan command
	done     chan struct{}

	// owner-goroutine state, never touched elsewhere
	child   *exec.Cmd
	tlsDir  string
	running bool

	// runCommand is swapped in tests to avoid spawning a real binary.
	runCommand func(tlsDir string) (*exec.Cmd, error)
}

// NewSupervisor creates the supervisor and starts its owner goroutine.
func NewSupervisor() *Supervisor {
	s := &Supervisor{
		http:     httpclient.NewHttpClient(),
		requests: make(chan command),
		done:     make(chan struct{}),
	}
	s.runCommand = s.spawn
	go s.loop()
	return s
}

// loop serializes every lifecycle mutation. Concurrent EnsureUp calls
// coalesce here: whoever arrives while the proxy is already up gets an
// immediate success.
func (s *Supervisor) loop() {
	for {
		select {
		case req := <-s.requests:
			switch req.kind {
			case cmdEnsure:
				req.reply <- s.ensure()
			case cmdStop:
				req.reply <- s.stop()
			case cmdProbe:
				req.reply <- s.probe()
			}
		case <-s.done:
			_ = s.stop()
			return
		}
	}
}

// Close stops the proxy and terminates the owner goroutine.
func (s *Supervisor) Close() {
	close(s.done)
}

func (s *Supervisor) send(ctx context.Context, kind string) error {
	req := command{kind: kind, reply: make(chan error, 1)}
	select {
	case s.requests <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EnsureUp implements fleet.Signer: checks the private key, generates TLS
// material, spawns the proxy and waits for it to answer. Idempotent while
// the proxy is healthy.
func (s *Supervisor) EnsureUp(ctx context.Context) error {
	return s.send(ctx, cmdEnsure)
}

// Stop terminates the proxy process and removes its TLS material.
func (s *Supervisor) Stop(ctx context.Context) error {
	return s.send(ctx, cmdStop)
}

// Probe reports whether a supervised proxy currently answers its health
// endpoint.
func (s *Supervisor) Probe(ctx context.Context) error {
	return s.send(ctx, cmdProbe)
}

// Up reports the supervisor's view without touching the process.
func (s *Supervisor) Up() bool {
	err := s.send(context.Background(), cmdProbe)
	return err == nil
}

// Url returns the local proxy endpoint.
func (s *Supervisor) Url() string {
	return "https://" + config.GetProxyHost() + ":" + strconv.Itoa(config.GetProxyPort())
}

func (s *Supervisor) ensure() error {
	if s.running && s.probe() == nil {
		return nil
	}
	if s.running {
		// stale child, restart from scratch
		_ = s.stop()
	}

	keyPath := config.GetPrivateKeyPath()
	if info, err := os.Stat(keyPath); err != nil || info.Size() == 0 {
		return commonerrors.NewPrivateKeyNotReady(fmt.Sprintf("signing key %s missing or empty", keyPath))
	}

	tlsDir, err := generateTlsMaterial(config.GetProxyTlsDir(), config.GetProxyHost())
	if err != nil {
		return commonerrors.NewInternalError("proxy TLS material generation failed").WithError(err)
	}
	s.tlsDir = tlsDir

	child, err := s.runCommand(tlsDir)
	if err != nil {
		s.cleanupTls()
		return commonerrors.NewInternalError("proxy process start failed").WithError(err)
	}
	s.child = child
	s.running = true

	if err := s.waitHealthy(); err != nil {
		klog.Warningf("signed-command proxy did not become healthy: %v", err)
		_ = s.stop()
		return err
	}
	klog.Infof("signed-command proxy up at %s", s.Url())
	return nil
}

// spawn starts the configured proxy binary pointing at the generated TLS
// material and the signing key.
func (s *Supervisor) spawn(tlsDir string) (*exec.Cmd, error) {
	cmd := exec.Command(config.GetProxyCommand(),
		"-tls-key", certKeyPath(tlsDir),
		"-cert", certPath(tlsDir),
		"-key-file", config.GetPrivateKeyPath(),
		"-host", config.GetProxyHost(),
		"-port", strconv.Itoa(config.GetProxyPort()),
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return cmd, nil
}

// waitHealthy polls the proxy's vehicle listing until it answers. 401/403
// still prove the listener is up; the token is not the proxy's problem.
func (s *Supervisor) waitHealthy() error {
	timeout := config.GetProxyStartupTimeout()
	attempts := uint(timeout / healthPollInterval)
	if attempts == 0 {
		attempts = 1
	}
	err := retry.Do(
		func() error {
			ctx, cancel := context.WithTimeout(context.Background(), healthPollInterval)
			defer cancel()
			return s.healthCheck(ctx)
		},
		retry.Attempts(attempts),
		retry.Delay(healthPollInterval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return commonerrors.NewProxyRequired("proxy failed health check within startup timeout").WithError(err)
	}
	return nil
}

func (s *Supervisor) healthCheck(ctx context.Context) error {
	result, err := s.http.Get(ctx, s.Url()+"/api/1/vehicles")
	if err != nil {
		return err
	}
	switch result.StatusCode {
	case 200, 401, 403:
		return nil
	}
	return fmt.Errorf("proxy health check: %s", result.String())
}

func (s *Supervisor) probe() error {
	if !s.running {
		return commonerrors.NewProxyRequired("signed-command proxy not running")
	}
	ctx, cancel := context.WithTimeout(context.Background(), healthPollInterval)
	defer cancel()
	if err := s.healthCheck(ctx); err != nil {
		return commonerrors.NewProxyRequired("signed-command proxy unresponsive").WithError(err)
	}
	return nil
}

// stop terminates the child with a grace period, then kills its process
// group, and always removes the TLS material.
func (s *Supervisor) stop() error {
	defer s.cleanupTls()
	if s.child == nil || s.child.Process == nil {
		s.running = false
		return nil
	}
	child := s.child
	s.child = nil
	s.running = false

	_ = child.Process.Signal(syscall.SIGTERM)
	waited := make(chan error, 1)
	go func() { waited <- child.Wait() }()
	select {
	case <-waited:
	case <-time.After(stopGracePeriod):
		klog.Warningf("signed-command proxy ignored SIGTERM, killing process group")
		_ = syscall.Kill(-child.Process.Pid, syscall.SIGKILL)
		<-waited
	}
	klog.Infof("signed-command proxy stopped")
	return nil
}

func (s *Supervisor) cleanupTls() {
	if s.tlsDir == "" {
		return
	}
	if err := os.RemoveAll(s.tlsDir); err != nil {
		klog.Warningf("failed to remove proxy TLS material: %v", err)
	}
	s.tlsDir = ""
}
