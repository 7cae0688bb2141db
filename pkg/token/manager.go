/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

// Package token owns the vehicle API credential lifecycle: loading from the
// canonical secret, the legacy secret, or the local file cache; refreshing
// on demand; and publishing refreshed tokens back. Only the Worker tier
// writes the canonical secret, which removes the refresh-token-rotation
// race between Scout and Worker.
package token

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"k8s.io/klog/v2"

	"github.com/mac923/offpeak-controller/pkg/config"
	commonerrors "github.com/mac923/offpeak-controller/pkg/errors"
	"github.com/mac923/offpeak-controller/pkg/metrics"
)

// Tokens are treated as invalid when closer than this to expiry.
const expirySkew = 5 * time.Minute

// SecretStore is the named-secret capability the manager persists through.
type SecretStore interface {
	Secret(ctx context.Context, name string) ([]byte, error)
	SetSecret(ctx context.Context, name string, payload []byte) error
}

// State is the persisted token material. ExpiresAt is UTC.
type State struct {
	AccessToken           string    `json:"access_token"`
	RefreshToken          string    `json:"refresh_token"`
	ExpiresAt             time.Time `json:"expires_at"`
	RefreshTokenCreatedAt time.Time `json:"refresh_token_created_at"`
}

// Valid reports whether the access token exists and is not near expiry.
func (s *State) Valid(now time.Time) bool {
	return s != nil && s.AccessToken != "" && s.ExpiresAt.Sub(now) >= expirySkew
}

// RemainingMinutes returns how long the access token is still usable.
func (s *State) RemainingMinutes(now time.Time) int {
	if s == nil || s.AccessToken == "" {
		return 0
	}
	remaining := int(s.ExpiresAt.Sub(now).Minutes())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// legacyState is the old secret layout kept only for migration.
type legacyState struct {
	RefreshToken string `json:"refresh_token"`
}

// Manager implements the token lifecycle. A writer (Worker) may refresh and
// persist; a reader (Scout) only loads, and surfaces AuthExpired so its
// caller can fall back to the Worker RPC.
type Manager struct {
	secrets SecretStore
	writer  bool
	http    *http.Client

	mu                        sync.Mutex
	current                   *State
	lastPersistedRefreshToken string
	loadedFrom                string
}

// NewManager creates a token manager. writer must be true only in the
// Worker tier.
func NewManager(secrets SecretStore, writer bool) *Manager {
	return &Manager{
		secrets: secrets,
		writer:  writer,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Load reads token material: canonical secret first, then the legacy secret,
// then the local file cache.
func (m *Manager) Load(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadLocked(ctx)
}

func (m *Manager) loadLocked(ctx context.Context) error {
	if payload, err := m.secrets.Secret(ctx, config.GetCanonicalSecretName()); err == nil {
		state := &State{}
		if err := json.Unmarshal(payload, state); err == nil && state.RefreshToken != "" {
			m.current = state
			m.lastPersistedRefreshToken = state.RefreshToken
			m.loadedFrom = "canonical"
			return nil
		}
	}
	if payload, err := m.secrets.Secret(ctx, config.GetLegacySecretName()); err == nil {
		legacy := &legacyState{}
		if err := json.Unmarshal(payload, legacy); err == nil && legacy.RefreshToken != "" {
			m.current = &State{RefreshToken: legacy.RefreshToken}
			m.loadedFrom = "legacy"
			return nil
		}
	}
	if payload, err := os.ReadFile(config.GetTokenCachePath()); err == nil {
		state := &State{}
		if err := json.Unmarshal(payload, state); err == nil && state.RefreshToken != "" {
			m.current = state
			m.loadedFrom = "file"
			return nil
		}
	}
	return commonerrors.NewTokenUnavailable("no token material in canonical, legacy or file store")
}

// ClearCache drops the in-memory state so the next read reloads from the
// stores. Scout calls this before re-reading after a Worker refresh.
func (m *Manager) ClearCache() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = nil
	m.loadedFrom = ""
}

// LoadedFrom names the source of the current state, for diagnostics.
func (m *Manager) LoadedFrom() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadedFrom
}

// Current returns a copy of the in-memory state, loading it if needed.
func (m *Manager) Current(ctx context.Context) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		if err := m.loadLocked(ctx); err != nil {
			return nil, err
		}
	}
	copied := *m.current
	return &copied, nil
}

// EnsureValid returns once a usable access token exists. A writer refreshes
// when the token is missing or near expiry; a reader surfaces AuthExpired
// instead, and never refreshes.
func (m *Manager) EnsureValid(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		if err := m.loadLocked(ctx); err != nil {
			return err
		}
	}
	if m.current.Valid(time.Now().UTC()) {
		return nil
	}
	if !m.writer {
		return commonerrors.NewAuthExpired("access token missing or near expiry")
	}
	return m.refreshLocked(ctx, false)
}

// Refresh exchanges the refresh token unless the access token is still far
// from expiry.
func (m *Manager) Refresh(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshLocked(ctx, false)
}

// ForceRefresh exchanges the refresh token regardless of remaining validity.
func (m *Manager) ForceRefresh(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		if err := m.loadLocked(ctx); err != nil {
			return err
		}
	}
	return m.refreshLocked(ctx, true)
}

// AccessToken implements the fleet.TokenProvider read path.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	if err := m.EnsureValid(ctx); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current.AccessToken, nil
}

func (m *Manager) refreshLocked(ctx context.Context, force bool) error {
	if !m.writer {
		return commonerrors.NewForbidden("token refresh attempted by a read-only tier")
	}
	if m.current == nil || m.current.RefreshToken == "" {
		return commonerrors.NewTokenUnavailable("no refresh token to exchange")
	}
	if !force && m.current.Valid(time.Now().UTC()) {
		return nil
	}

	refreshed, err := m.exchange(ctx, m.current.RefreshToken)
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues("failure").Inc()
		return err
	}
	metrics.TokenRefreshes.WithLabelValues("success").Inc()
	rotated := refreshed.RefreshToken != "" && refreshed.RefreshToken != m.current.RefreshToken
	if refreshed.RefreshToken == "" {
		// vendor did not rotate: keep what we have
		refreshed.RefreshToken = m.current.RefreshToken
		refreshed.RefreshTokenCreatedAt = m.current.RefreshTokenCreatedAt
	}
	m.current = refreshed

	// The canonical secret is written only when the refresh token value
	// actually changed; unconditional writes are costly and the vendor may
	// or may not rotate.
	if rotated || m.lastPersistedRefreshToken != refreshed.RefreshToken {
		payload, err := json.Marshal(refreshed)
		if err != nil {
			return commonerrors.NewInternalError("token marshal failed").WithError(err)
		}
		if err := m.secrets.SetSecret(ctx, config.GetCanonicalSecretName(), payload); err != nil {
			return err
		}
		m.lastPersistedRefreshToken = refreshed.RefreshToken
		klog.Infof("canonical token secret updated, refresh token rotated: %v", rotated)
	}
	m.writeCacheLocked()
	return nil
}

// MigrateFromLegacy performs the one-time legacy-to-canonical migration: if
// the canonical store is empty but legacy refresh-token material exists,
// one refresh is performed and the result written canonically.
func (m *Manager) MigrateFromLegacy(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if payload, err := m.secrets.Secret(ctx, config.GetCanonicalSecretName()); err == nil {
		state := &State{}
		if json.Unmarshal(payload, state) == nil && state.RefreshToken != "" {
			return false, nil
		}
	}
	legacyPayload, err := m.secrets.Secret(ctx, config.GetLegacySecretName())
	if err != nil {
		return false, commonerrors.NewTokenUnavailable("no legacy token material to migrate")
	}
	legacy := &legacyState{}
	if err := json.Unmarshal(legacyPayload, legacy); err != nil || legacy.RefreshToken == "" {
		return false, commonerrors.NewTokenUnavailable("legacy token material unreadable")
	}
	m.current = &State{RefreshToken: legacy.RefreshToken}
	if err := m.refreshLocked(ctx, true); err != nil {
		return false, err
	}
	klog.Infof("migrated legacy refresh token into canonical secret")
	return true, nil
}

// exchange performs the refresh-token grant through x/oauth2: the library
// owns the wire format and the expiry accounting, we only map its result
// onto State. The vehicle vendor takes the client id in the form body, so
// AuthStyleInParams is forced instead of letting oauth2 probe.
func (m *Manager) exchange(ctx context.Context, refreshToken string) (*State, error) {
	conf := &oauth2.Config{
		ClientID: config.GetFleetClientId(),
		Endpoint: oauth2.Endpoint{
			TokenURL:  config.GetFleetTokenUrl(),
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.http)
	token, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil &&
			(retrieveErr.Response.StatusCode == 401 || retrieveErr.Response.StatusCode == 403) {
			return nil, commonerrors.NewAuthForbidden("refresh token rejected: " + string(retrieveErr.Body))
		}
		return nil, commonerrors.NewTokenUnavailable("token exchange failed").WithError(err)
	}
	if token.AccessToken == "" {
		return nil, commonerrors.NewTokenUnavailable("token endpoint returned no access token")
	}

	state := &State{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry.UTC(),
	}
	if state.RefreshToken != "" && state.RefreshToken != refreshToken {
		state.RefreshTokenCreatedAt = time.Now().UTC()
	}
	return state, nil
}

// writeCacheLocked always rewrites the local file cache after a refresh.
func (m *Manager) writeCacheLocked() {
	payload, err := json.Marshal(m.current)
	if err != nil {
		return
	}
	if err := os.WriteFile(config.GetTokenCachePath(), payload, 0o600); err != nil {
		klog.Warningf("failed to write local token cache: %v", err)
	}
}
