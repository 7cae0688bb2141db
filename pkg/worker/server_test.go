/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"gotest.tools/assert"

	"github.com/mac923/offpeak-controller/pkg/config"
	commonerrors "github.com/mac923/offpeak-controller/pkg/errors"
	"github.com/mac923/offpeak-controller/pkg/fleet"
	"github.com/mac923/offpeak-controller/pkg/planner"
	"github.com/mac923/offpeak-controller/pkg/store"
	"github.com/mac923/offpeak-controller/pkg/token"
)

type fakeTokenWriter struct {
	state     *token.State
	ensureErr error
	forced    int
}

func (f *fakeTokenWriter) EnsureValid(ctx context.Context) error { return f.ensureErr }

func (f *fakeTokenWriter) ForceRefresh(ctx context.Context) error {
	f.forced++
	return nil
}

func (f *fakeTokenWriter) Current(ctx context.Context) (*token.State, error) {
	if f.state == nil {
		return nil, commonerrors.NewTokenUnavailable("no token")
	}
	return f.state, nil
}

func (f *fakeTokenWriter) MigrateFromLegacy(ctx context.Context) (bool, error) { return true, nil }

func (f *fakeTokenWriter) LoadedFrom() string { return "canonical" }

type fakeSupervisor struct {
	up bool
}

func (f *fakeSupervisor) EnsureUp(ctx context.Context) error { f.up = true; return nil }
func (f *fakeSupervisor) Stop(ctx context.Context) error     { f.up = false; return nil }
func (f *fakeSupervisor) Up() bool                           { return f.up }

type fakeSpecial struct {
	applied []string
	cleaned []string
}

func (f *fakeSpecial) DailyCheck(ctx context.Context) *planner.CheckResult {
	return &planner.CheckResult{ActiveNeeds: 1, CreatedSessions: 1, Errors: []string{}}
}

func (f *fakeSpecial) ApplySession(ctx context.Context, sessionId string) error {
	f.applied = append(f.applied, sessionId)
	return nil
}

func (f *fakeSpecial) Cleanup(ctx context.Context, sessionId string) (*planner.CleanupResult, error) {
	f.cleaned = append(f.cleaned, sessionId)
	return &planner.CleanupResult{SessionId: sessionId, Cleaned: true, CleanupJobDeleted: true}, nil
}

func (f *fakeSpecial) ApplyImmediate(ctx context.Context, targetPercent int) (string, error) {
	return "special_0_20250314_0800", nil
}

func newTestServer(t *testing.T) (*Server, *fakeTokenWriter, *fakeSpecial) {
	t.Helper()
	keyPath := filepath.Join(t.TempDir(), "private-key.pem")
	assert.NilError(t, os.WriteFile(keyPath, []byte("key material"), 0o600))

	config.SetValue("fleet.vin", cycleVin)
	config.SetValue("home.latitude", 52.23)
	config.SetValue("home.longitude", 21.01)
	config.SetValue("home.radius", 0.001)
	config.SetValue("proxy.private_key_path", keyPath)
	config.SetValue("proxy.private_key_ready", true)
	config.SetValue("worker.auth_token", "")

	tokens := &fakeTokenWriter{state: &token.State{
		AccessToken: "at-1",
		ExpiresAt:   time.Now().UTC().Add(time.Hour),
	}}
	special := &fakeSpecial{}
	state := store.NewMemory()
	vehicles := &fakeCycleVehicles{obs: homeObservation(fleet.StateOnline, true)}
	runner := NewRunner(vehicles, state, &fakeReconciler{}, &fakeCycleProxy{})
	server := NewServer(runner, tokens, state, &fakeSupervisor{}, special)
	return server, tokens, special
}

func doRequest(t *testing.T, s *Server, method, path string, body interface{}, headers ...string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		assert.NilError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	recorder := httptest.NewRecorder()
	s.router.ServeHTTP(recorder, req)

	parsed := map[string]interface{}{}
	if recorder.Body.Len() > 0 {
		assert.NilError(t, json.Unmarshal(recorder.Body.Bytes(), &parsed))
	}
	return recorder, parsed
}

func TestHealthEndpoint(t *testing.T) {
	server, _, _ := newTestServer(t)
	recorder, body := doRequest(t, server, http.MethodGet, "/health", nil)
	assert.Equal(t, recorder.Code, http.StatusOK)
	assert.Equal(t, body["status"], "healthy")
	assert.Equal(t, body["service"], "offpeak-worker")
}

func TestAuthFilter(t *testing.T) {
	server, _, _ := newTestServer(t)
	config.SetValue("worker.auth_token", "sekret")
	defer config.SetValue("worker.auth_token", "")

	recorder, body := doRequest(t, server, http.MethodGet, "/worker-status", nil)
	assert.Equal(t, recorder.Code, http.StatusUnauthorized)
	assert.Equal(t, body["errorCode"], commonerrors.Unauthorized)

	recorder, _ = doRequest(t, server, http.MethodGet, "/worker-status", nil,
		"Authorization", "Bearer sekret")
	assert.Equal(t, recorder.Code, http.StatusOK)

	// liveness stays open
	recorder, _ = doRequest(t, server, http.MethodGet, "/health", nil)
	assert.Equal(t, recorder.Code, http.StatusOK)
}

func TestGetToken(t *testing.T) {
	server, _, _ := newTestServer(t)
	recorder, body := doRequest(t, server, http.MethodGet, "/get-token", nil)
	assert.Equal(t, recorder.Code, http.StatusOK)
	assert.Equal(t, body["access_token"], "at-1")
	assert.Assert(t, body["remaining_minutes"].(float64) > 0)
}

func TestRunCycleEndpoint(t *testing.T) {
	server, _, _ := newTestServer(t)
	recorder, body := doRequest(t, server, http.MethodPost, "/run-cycle",
		map[string]string{"trigger": "cron"})
	assert.Equal(t, recorder.Code, http.StatusOK)
	assert.Equal(t, body["status"], "completed")
	cycle := body["cycle"].(map[string]interface{})
	assert.Equal(t, cycle["reconciled"], true)
	assert.Equal(t, cycle["trigger"], "cron")
	_, hasTime := body["execution_time_seconds"]
	assert.Equal(t, hasTime, true)
}

func TestScoutTriggerEndpoint(t *testing.T) {
	server, _, _ := newTestServer(t)
	recorder, body := doRequest(t, server, http.MethodPost, "/scout-trigger",
		map[string]interface{}{"reason": "first_init"})
	assert.Equal(t, recorder.Code, http.StatusOK)
	cycle := body["cycle"].(map[string]interface{})
	assert.Equal(t, cycle["trigger"], "first_init")
}

func TestReadinessGateTokenUnavailable(t *testing.T) {
	server, tokens, _ := newTestServer(t)
	tokens.ensureErr = commonerrors.NewAuthExpired("expired")

	recorder, body := doRequest(t, server, http.MethodPost, "/run-cycle", nil)
	assert.Equal(t, recorder.Code, http.StatusInternalServerError)
	assert.Equal(t, body["errorCode"], commonerrors.TokenUnavailable)
}

func TestReadinessGatePrivateKeyMissing(t *testing.T) {
	server, _, _ := newTestServer(t)
	config.SetValue("proxy.private_key_path", filepath.Join(t.TempDir(), "absent.pem"))

	recorder, body := doRequest(t, server, http.MethodPost, "/run-cycle", nil)
	assert.Equal(t, recorder.Code, http.StatusInternalServerError)
	assert.Equal(t, body["errorCode"], commonerrors.PrivateKeyNotReady)
}

func TestRefreshTokensEndpoint(t *testing.T) {
	server, tokens, _ := newTestServer(t)
	recorder, body := doRequest(t, server, http.MethodPost, "/refresh-tokens",
		map[string]interface{}{"reason": "scout detected expiry", "requested_by": "scout", "attempt_count": 1})
	assert.Equal(t, recorder.Code, http.StatusOK)
	assert.Equal(t, body["status"], "refreshed")
	assert.Equal(t, tokens.forced, 1)
}

func TestSyncTokensEndpoint(t *testing.T) {
	server, _, _ := newTestServer(t)
	recorder, body := doRequest(t, server, http.MethodPost, "/sync-tokens", nil)
	assert.Equal(t, recorder.Code, http.StatusOK)
	assert.Equal(t, body["migrated"], true)
	assert.Equal(t, body["source"], "canonical")
}

func TestSendSpecialRequiresSessionId(t *testing.T) {
	server, _, special := newTestServer(t)
	recorder, body := doRequest(t, server, http.MethodPost, "/send-special-schedule",
		map[string]string{})
	assert.Equal(t, recorder.Code, http.StatusBadRequest)
	assert.Equal(t, body["errorCode"], commonerrors.BadRequest)
	assert.Equal(t, len(special.applied), 0)
}

func TestSendSpecialEndpoint(t *testing.T) {
	server, _, special := newTestServer(t)
	recorder, body := doRequest(t, server, http.MethodPost, "/send-special-schedule",
		map[string]string{"session_id": "special_3_20250314_0800"})
	assert.Equal(t, recorder.Code, http.StatusOK)
	assert.Equal(t, body["success"], true)
	assert.Equal(t, body["session_id"], "special_3_20250314_0800")
	assert.Equal(t, body["vin_last4"], "...0001")
	assert.Equal(t, special.applied[0], "special_3_20250314_0800")
}

func TestCleanupSessionEndpoint(t *testing.T) {
	server, _, special := newTestServer(t)
	recorder, body := doRequest(t, server, http.MethodPost, "/cleanup-single-session",
		map[string]string{"session_id": "special_3_20250314_0800"})
	assert.Equal(t, recorder.Code, http.StatusOK)
	assert.Equal(t, body["cleaned"], true)
	assert.Equal(t, body["cleanup_job_deleted"], true)
	assert.Equal(t, special.cleaned[0], "special_3_20250314_0800")
}

func TestDailyCheckEndpoint(t *testing.T) {
	server, _, _ := newTestServer(t)
	recorder, body := doRequest(t, server, http.MethodPost, "/daily-special-charging-check",
		map[string]string{})
	assert.Equal(t, recorder.Code, http.StatusOK)
	assert.Equal(t, body["active_needs"], float64(1))
	assert.Equal(t, body["created_sessions"], float64(1))
}

func TestResetEndpoint(t *testing.T) {
	server, _, _ := newTestServer(t)
	ctx := context.Background()
	assert.NilError(t, server.state.UpsertLastKnown(ctx, &store.LastKnownState{Vin: cycleVin}))

	recorder, body := doRequest(t, server, http.MethodGet, "/reset", nil)
	assert.Equal(t, recorder.Code, http.StatusOK)
	purged := body["purged"].(map[string]interface{})
	assert.Equal(t, purged["last_known_states"], float64(1))

	_, err := server.state.LastKnown(ctx, cycleVin)
	assert.Assert(t, commonerrors.IsNotFound(err))
}

func TestSchedulerCadence(t *testing.T) {
	day, err := cron.ParseStandard(daytimeCycleSpec)
	assert.NilError(t, err)
	night, err := cron.ParseStandard(overnightCycleSpec)
	assert.NilError(t, err)

	noon := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, day.Next(noon), noon.Add(15*time.Minute))
	// overnight the cycle runs hourly, not every 15 minutes
	lateEvening := time.Date(2025, 3, 14, 23, 10, 0, 0, time.UTC)
	assert.Equal(t, day.Next(lateEvening).Hour(), 6)
	assert.Equal(t, night.Next(lateEvening), time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC))
	earlyMorning := time.Date(2025, 3, 14, 3, 0, 1, 0, time.UTC)
	assert.Equal(t, night.Next(earlyMorning), time.Date(2025, 3, 14, 4, 0, 0, 0, time.UTC))
}

func TestWorkerStatusEndpoint(t *testing.T) {
	server, _, _ := newTestServer(t)
	recorder, body := doRequest(t, server, http.MethodGet, "/worker-status", nil)
	assert.Equal(t, recorder.Code, http.StatusOK)
	tokenStatus := body["token"].(map[string]interface{})
	assert.Equal(t, tokenStatus["source"], "canonical")
	assert.Equal(t, body["token_waiting"], false)
	_, hasStore := body["store"]
	assert.Equal(t, hasStore, true)
}
