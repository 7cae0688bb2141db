/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package proxy

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"gotest.tools/assert"

	"github.com/mac923/offpeak-controller/pkg/config"
	commonerrors "github.com/mac923/offpeak-controller/pkg/errors"
	"github.com/mac923/offpeak-controller/pkg/utils/httpclient"
)

type fakeProxyHttp struct {
	code int
	err  error
}

func (f *fakeProxyHttp) Get(ctx context.Context, url string, headers ...string) (*httpclient.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &httpclient.Result{StatusCode: f.code}, nil
}

func (f *fakeProxyHttp) Post(ctx context.Context, url string, body interface{}, headers ...string) (*httpclient.Result, error) {
	return f.Get(ctx, url)
}

func (f *fakeProxyHttp) Put(ctx context.Context, url string, body interface{}, headers ...string) (*httpclient.Result, error) {
	return f.Get(ctx, url)
}

func (f *fakeProxyHttp) Delete(ctx context.Context, url string, headers ...string) (*httpclient.Result, error) {
	return f.Get(ctx, url)
}

func (f *fakeProxyHttp) Do(req *http.Request) (*httpclient.Result, error) {
	return f.Get(req.Context(), req.URL.String())
}

func newTestSupervisor(t *testing.T, code int) (*Supervisor, *fakeProxyHttp) {
	t.Helper()
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "private-key.pem")
	assert.NilError(t, os.WriteFile(keyPath, []byte("key"), 0o600))
	config.SetValue("proxy.private_key_path", keyPath)
	config.SetValue("proxy.tls_dir", filepath.Join(dir, "tls"))
	config.SetValue("proxy.startup_timeout_seconds", 2)

	http := &fakeProxyHttp{code: code}
	s := NewSupervisor()
	s.http = http
	s.runCommand = func(tlsDir string) (*exec.Cmd, error) {
		// a real child is unnecessary: health is judged over HTTP
		return exec.Command("sleep", "60"), nil
	}
	t.Cleanup(s.Close)
	return s, http
}

func TestEnsureUpHealthy(t *testing.T) {
	s, _ := newTestSupervisor(t, 200)
	ctx := context.Background()

	assert.NilError(t, s.EnsureUp(ctx))
	assert.NilError(t, s.Probe(ctx))

	// idempotent while healthy
	assert.NilError(t, s.EnsureUp(ctx))
	assert.NilError(t, s.Stop(ctx))
	assert.Assert(t, s.Probe(ctx) != nil)
}

func TestEnsureUpAcceptsAuthErrors(t *testing.T) {
	// 401 proves the listener answers even with a bad token
	s, _ := newTestSupervisor(t, 401)
	assert.NilError(t, s.EnsureUp(context.Background()))
}

func TestEnsureUpMissingPrivateKey(t *testing.T) {
	s, _ := newTestSupervisor(t, 200)
	config.SetValue("proxy.private_key_path", filepath.Join(t.TempDir(), "absent.pem"))

	err := s.EnsureUp(context.Background())
	assert.Equal(t, commonerrors.IsPrivateKeyNotReady(err), true)
}

func TestEnsureUpEmptyPrivateKey(t *testing.T) {
	s, _ := newTestSupervisor(t, 200)
	keyPath := filepath.Join(t.TempDir(), "empty.pem")
	assert.NilError(t, os.WriteFile(keyPath, nil, 0o600))
	config.SetValue("proxy.private_key_path", keyPath)

	err := s.EnsureUp(context.Background())
	assert.Equal(t, commonerrors.IsPrivateKeyNotReady(err), true)
}

func TestEnsureUpUnhealthyProxy(t *testing.T) {
	s, _ := newTestSupervisor(t, 500)
	err := s.EnsureUp(context.Background())
	assert.Equal(t, commonerrors.IsProxyRequired(err), true)
}

func TestStopRemovesTlsMaterial(t *testing.T) {
	s, _ := newTestSupervisor(t, 200)
	ctx := context.Background()

	assert.NilError(t, s.EnsureUp(ctx))
	tlsDir := config.GetProxyTlsDir()
	_, err := os.Stat(certPath(tlsDir))
	assert.NilError(t, err)

	assert.NilError(t, s.Stop(ctx))
	_, err = os.Stat(tlsDir)
	assert.Equal(t, os.IsNotExist(err), true)
}

func TestGenerateTlsMaterial(t *testing.T) {
	dir, err := generateTlsMaterial(filepath.Join(t.TempDir(), "tls"), "localhost")
	assert.NilError(t, err)

	raw, err := os.ReadFile(certPath(dir))
	assert.NilError(t, err)
	block, _ := pem.Decode(raw)
	assert.Assert(t, block != nil)
	cert, err := x509.ParseCertificate(block.Bytes)
	assert.NilError(t, err)
	assert.NilError(t, cert.VerifyHostname("localhost"))
	assert.NilError(t, cert.VerifyHostname("127.0.0.1"))

	_, err = os.Stat(certKeyPath(dir))
	assert.NilError(t, err)
}
