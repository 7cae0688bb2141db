/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package token

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"gotest.tools/assert"

	"github.com/mac923/offpeak-controller/pkg/config"
	commonerrors "github.com/mac923/offpeak-controller/pkg/errors"
	"github.com/mac923/offpeak-controller/pkg/store"
)

// tokenEndpoint stands in for the vendor's OAuth token endpoint.
type tokenEndpoint struct {
	accessToken  string
	refreshToken string
	code         int
	calls        int
}

func (e *tokenEndpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	e.calls++
	if e.code != 0 && e.code != http.StatusOK {
		w.WriteHeader(e.code)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"access_token":  e.accessToken,
		"refresh_token": e.refreshToken,
		"expires_in":    3600,
		"token_type":    "Bearer",
	})
}

func newTestManager(t *testing.T, writer bool) (*Manager, *store.Memory, *tokenEndpoint) {
	t.Helper()
	endpoint := &tokenEndpoint{accessToken: "at-new", refreshToken: "rt-new"}
	srv := httptest.NewServer(endpoint)
	t.Cleanup(srv.Close)

	config.SetValue("fleet.token_url", srv.URL)
	config.SetValue("fleet.client_id", "offpeak-test")
	config.SetValue("fleet.token_cache_path", filepath.Join(t.TempDir(), "tokens.json"))

	secrets := store.NewMemory()
	m := NewManager(secrets, writer)
	return m, secrets, endpoint
}

func seedCanonical(t *testing.T, secrets *store.Memory, state *State) {
	t.Helper()
	payload, err := json.Marshal(state)
	assert.NilError(t, err)
	assert.NilError(t, secrets.SetSecret(context.Background(), config.GetCanonicalSecretName(), payload))
}

func TestLoadPrefersCanonicalOverLegacy(t *testing.T) {
	m, secrets, _ := newTestManager(t, true)
	ctx := context.Background()

	assert.NilError(t, secrets.SetSecret(ctx, config.GetLegacySecretName(), []byte(`{"refresh_token":"rt-legacy"}`)))
	seedCanonical(t, secrets, &State{AccessToken: "at", RefreshToken: "rt-canonical",
		ExpiresAt: time.Now().UTC().Add(time.Hour)})

	assert.NilError(t, m.Load(ctx))
	assert.Equal(t, m.LoadedFrom(), "canonical")
	current, err := m.Current(ctx)
	assert.NilError(t, err)
	assert.Equal(t, current.RefreshToken, "rt-canonical")
}

func TestLoadFallsBackToLegacy(t *testing.T) {
	m, secrets, _ := newTestManager(t, true)
	ctx := context.Background()

	assert.NilError(t, secrets.SetSecret(ctx, config.GetLegacySecretName(), []byte(`{"refresh_token":"rt-legacy"}`)))
	assert.NilError(t, m.Load(ctx))
	assert.Equal(t, m.LoadedFrom(), "legacy")
}

func TestLoadWithNothingAvailable(t *testing.T) {
	m, _, _ := newTestManager(t, true)
	err := m.Load(context.Background())
	assert.Assert(t, err != nil)
}

func TestEnsureValidSkipsRefreshWhenFarFromExpiry(t *testing.T) {
	m, secrets, endpoint := newTestManager(t, true)
	ctx := context.Background()

	seedCanonical(t, secrets, &State{AccessToken: "at", RefreshToken: "rt",
		ExpiresAt: time.Now().UTC().Add(time.Hour)})
	assert.NilError(t, m.EnsureValid(ctx))
	assert.Equal(t, endpoint.calls, 0)
}

func TestEnsureValidRefreshesNearExpiry(t *testing.T) {
	m, secrets, endpoint := newTestManager(t, true)
	ctx := context.Background()

	// inside the 5 minute skew
	seedCanonical(t, secrets, &State{AccessToken: "at-old", RefreshToken: "rt",
		ExpiresAt: time.Now().UTC().Add(2 * time.Minute)})
	assert.NilError(t, m.EnsureValid(ctx))
	assert.Equal(t, endpoint.calls, 1)

	token, err := m.AccessToken(ctx)
	assert.NilError(t, err)
	assert.Equal(t, token, "at-new")

	// expiry comes from the grant's expires_in accounting
	current, err := m.Current(ctx)
	assert.NilError(t, err)
	remaining := current.ExpiresAt.Sub(time.Now().UTC())
	assert.Assert(t, remaining > 55*time.Minute && remaining <= time.Hour)
}

func TestReaderNeverRefreshes(t *testing.T) {
	m, secrets, endpoint := newTestManager(t, false)
	ctx := context.Background()

	seedCanonical(t, secrets, &State{AccessToken: "at-old", RefreshToken: "rt",
		ExpiresAt: time.Now().UTC().Add(time.Minute)})
	err := m.EnsureValid(ctx)
	assert.Equal(t, commonerrors.IsAuthExpired(err), true)
	assert.Equal(t, endpoint.calls, 0)
}

func TestCanonicalWrittenOnlyOnRotation(t *testing.T) {
	m, secrets, endpoint := newTestManager(t, true)
	ctx := context.Background()

	seedCanonical(t, secrets, &State{AccessToken: "at", RefreshToken: "rt-new",
		ExpiresAt: time.Now().UTC().Add(time.Minute)})
	assert.NilError(t, m.Load(ctx))

	// endpoint echoes the same refresh token: no canonical write
	endpoint.refreshToken = "rt-new"
	assert.NilError(t, m.ForceRefresh(ctx))
	payload, err := secrets.Secret(ctx, config.GetCanonicalSecretName())
	assert.NilError(t, err)
	persisted := &State{}
	assert.NilError(t, json.Unmarshal(payload, persisted))
	assert.Equal(t, persisted.AccessToken, "at")

	// rotation: the canonical secret picks up the new material
	endpoint.refreshToken = "rt-rotated"
	assert.NilError(t, m.ForceRefresh(ctx))
	payload, err = secrets.Secret(ctx, config.GetCanonicalSecretName())
	assert.NilError(t, err)
	assert.NilError(t, json.Unmarshal(payload, persisted))
	assert.Equal(t, persisted.RefreshToken, "rt-rotated")
	assert.Equal(t, persisted.AccessToken, "at-new")
}

func TestForceRefreshBypassesValidity(t *testing.T) {
	m, secrets, endpoint := newTestManager(t, true)
	ctx := context.Background()

	seedCanonical(t, secrets, &State{AccessToken: "at", RefreshToken: "rt",
		ExpiresAt: time.Now().UTC().Add(2 * time.Hour)})
	assert.NilError(t, m.Refresh(ctx))
	assert.Equal(t, endpoint.calls, 0)
	assert.NilError(t, m.ForceRefresh(ctx))
	assert.Equal(t, endpoint.calls, 1)
}

func TestRefreshRejectedSurfacesAuthForbidden(t *testing.T) {
	m, secrets, endpoint := newTestManager(t, true)
	ctx := context.Background()
	endpoint.code = http.StatusUnauthorized

	seedCanonical(t, secrets, &State{AccessToken: "at", RefreshToken: "rt",
		ExpiresAt: time.Now().UTC().Add(time.Minute)})
	err := m.ForceRefresh(ctx)
	assert.Equal(t, commonerrors.IsAuthForbidden(err), true)
}

func TestMigrateFromLegacy(t *testing.T) {
	m, secrets, endpoint := newTestManager(t, true)
	ctx := context.Background()

	assert.NilError(t, secrets.SetSecret(ctx, config.GetLegacySecretName(), []byte(`{"refresh_token":"rt-legacy"}`)))
	migrated, err := m.MigrateFromLegacy(ctx)
	assert.NilError(t, err)
	assert.Equal(t, migrated, true)
	assert.Equal(t, endpoint.calls, 1)

	payload, err := secrets.Secret(ctx, config.GetCanonicalSecretName())
	assert.NilError(t, err)
	persisted := &State{}
	assert.NilError(t, json.Unmarshal(payload, persisted))
	assert.Equal(t, persisted.RefreshToken, "rt-new")

	// second run is a no-op once the canonical secret exists
	migrated, err = m.MigrateFromLegacy(ctx)
	assert.NilError(t, err)
	assert.Equal(t, migrated, false)
	assert.Equal(t, endpoint.calls, 1)
}

func TestRemainingMinutes(t *testing.T) {
	now := time.Now().UTC()
	state := &State{AccessToken: "at", ExpiresAt: now.Add(30 * time.Minute)}
	assert.Assert(t, state.RemainingMinutes(now) >= 29)
	assert.Equal(t, (&State{}).RemainingMinutes(now), 0)
	expired := &State{AccessToken: "at", ExpiresAt: now.Add(-time.Minute)}
	assert.Equal(t, expired.RemainingMinutes(now), 0)
}
