/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package store

import (
	"context"
	"testing"
	"time"

	"gotest.tools/assert"

	commonerrors "github.com/mac923/offpeak-controller/pkg/errors"
	"github.com/mac923/offpeak-controller/pkg/fleet"
)

const testVin = "5YJ3E1EA7KF000316"

func TestLastKnownUpsert(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, err := m.LastKnown(ctx, testVin)
	assert.Equal(t, commonerrors.IsNotFound(err), true)

	state := &LastKnownState{
		Vin:           testVin,
		Observation:   fleet.VehicleObservation{Vin: testVin, State: fleet.StateOnline},
		AtHome:        true,
		ChargingReady: true,
	}
	assert.NilError(t, m.UpsertLastKnown(ctx, state))

	got, err := m.LastKnown(ctx, testVin)
	assert.NilError(t, err)
	assert.Equal(t, got.AtHome, true)
	assert.Equal(t, got.Observation.State, fleet.StateOnline)

	// last writer wins
	state.ChargingReady = false
	assert.NilError(t, m.UpsertLastKnown(ctx, state))
	got, err = m.LastKnown(ctx, testVin)
	assert.NilError(t, err)
	assert.Equal(t, got.ChargingReady, false)
}

func TestMonitoringCaseLifecycle(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	mc := &MonitoringCase{CaseId: "case-1", Vin: testVin, State: CaseWaitingForOffline, StartTime: time.Now()}
	assert.NilError(t, m.UpsertMonitoringCase(ctx, mc))

	// keyed by vin: a second upsert replaces, never duplicates
	mc2 := &MonitoringCase{CaseId: "case-2", Vin: testVin, State: CaseVehicleAwoken, StartTime: time.Now()}
	assert.NilError(t, m.UpsertMonitoringCase(ctx, mc2))

	stats, err := m.Stats(ctx)
	assert.NilError(t, err)
	assert.Equal(t, stats.MonitoringCases, 1)

	got, err := m.MonitoringCase(ctx, testVin)
	assert.NilError(t, err)
	assert.Equal(t, got.CaseId, "case-2")

	assert.NilError(t, m.DeleteMonitoringCase(ctx, testVin))
	_, err = m.MonitoringCase(ctx, testVin)
	assert.Equal(t, commonerrors.IsNotFound(err), true)
}

func TestSessionTransitions(t *testing.T) {
	session := &SpecialSession{SessionId: "special_3_20250314_0800", Status: SessionScheduled}

	assert.NilError(t, session.Advance(SessionActive))
	assert.Equal(t, session.Status, SessionActive)
	assert.NilError(t, session.Advance(SessionCompleted))

	// no regressions along SCHEDULED -> ACTIVE -> COMPLETED
	assert.Assert(t, session.Advance(SessionActive) != nil)
	assert.Assert(t, session.Advance(SessionCompleted) != nil)
	assert.Assert(t, session.Advance("RUNNING") != nil)

	skip := &SpecialSession{Status: SessionScheduled}
	// skipping ACTIVE is legal in the forward direction
	assert.NilError(t, skip.Advance(SessionCompleted))
}

func TestActiveSessionForVin(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	got, err := m.ActiveSessionForVin(ctx, testVin)
	assert.NilError(t, err)
	assert.Assert(t, got == nil)

	assert.NilError(t, m.UpsertSession(ctx, &SpecialSession{
		SessionId: "special_2_20250314_0800", Vin: testVin, Status: SessionScheduled}))
	got, err = m.ActiveSessionForVin(ctx, testVin)
	assert.NilError(t, err)
	assert.Assert(t, got == nil)

	assert.NilError(t, m.UpsertSession(ctx, &SpecialSession{
		SessionId: "special_3_20250315_0900", Vin: testVin, Status: SessionActive}))
	got, err = m.ActiveSessionForVin(ctx, testVin)
	assert.NilError(t, err)
	assert.Assert(t, got != nil)
	assert.Equal(t, got.SessionId, "special_3_20250315_0900")
}

func TestPlanHash(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	hash, err := m.PlanHash(ctx, testVin)
	assert.NilError(t, err)
	assert.Equal(t, hash, "")

	assert.NilError(t, m.SetPlanHash(ctx, testVin, "deadbeef"))
	hash, err = m.PlanHash(ctx, testVin)
	assert.NilError(t, err)
	assert.Equal(t, hash, "deadbeef")
}

func TestResetKeepsSessionsAndSecrets(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	assert.NilError(t, m.UpsertLastKnown(ctx, &LastKnownState{Vin: testVin}))
	assert.NilError(t, m.SetPlanHash(ctx, testVin, "deadbeef"))
	assert.NilError(t, m.UpsertSession(ctx, &SpecialSession{SessionId: "s", Vin: testVin, Status: SessionActive}))
	assert.NilError(t, m.SetSecret(ctx, "fleet-tokens", []byte(`{}`)))

	before, err := m.Reset(ctx)
	assert.NilError(t, err)
	assert.Equal(t, before.LastKnownStates, 1)
	assert.Equal(t, before.PlanHashes, 1)

	after, err := m.Stats(ctx)
	assert.NilError(t, err)
	assert.Equal(t, after.LastKnownStates, 0)
	assert.Equal(t, after.Sessions, 1)
	_, err = m.Secret(ctx, "fleet-tokens")
	assert.NilError(t, err)
}

func TestSessionName(t *testing.T) {
	target := time.Date(2025, 3, 14, 8, 0, 0, 0, time.UTC)
	assert.Equal(t, SessionName(3, target), "special_3_20250314_0800")
}
