/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package store

import (
	"context"
	"sync"
	"time"

	commonerrors "github.com/mac923/offpeak-controller/pkg/errors"
)

// Memory is an in-process store with the same per-key upsert semantics as
// the Postgres client. It backs tests and local runs without a database.
type Memory struct {
	mu         sync.RWMutex
	lastKnown  map[string]LastKnownState
	cases      map[string]MonitoringCase
	sessions   map[string]SpecialSession
	planHashes map[string]string
	secrets    map[string][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		lastKnown:  map[string]LastKnownState{},
		cases:      map[string]MonitoringCase{},
		sessions:   map[string]SpecialSession{},
		planHashes: map[string]string{},
		secrets:    map[string][]byte{},
	}
}

func (m *Memory) LastKnown(_ context.Context, vin string) (*LastKnownState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.lastKnown[vin]
	if !ok {
		return nil, commonerrors.NewNotFound("no last known state for vin")
	}
	return &state, nil
}

func (m *Memory) UpsertLastKnown(_ context.Context, state *LastKnownState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	state.UpdatedAt = time.Now().UTC()
	m.lastKnown[state.Vin] = *state
	return nil
}

func (m *Memory) MonitoringCase(_ context.Context, vin string) (*MonitoringCase, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mc, ok := m.cases[vin]
	if !ok {
		return nil, commonerrors.NewNotFound("no monitoring case for vin")
	}
	return &mc, nil
}

func (m *Memory) UpsertMonitoringCase(_ context.Context, mc *MonitoringCase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cases[mc.Vin] = *mc
	return nil
}

func (m *Memory) DeleteMonitoringCase(_ context.Context, vin string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cases, vin)
	return nil
}

func (m *Memory) Session(_ context.Context, sessionId string) (*SpecialSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[sessionId]
	if !ok {
		return nil, commonerrors.NewSessionNotFound(sessionId)
	}
	return &session, nil
}

func (m *Memory) UpsertSession(_ context.Context, session *SpecialSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.SessionId] = *session
	return nil
}

func (m *Memory) SessionsByStatus(_ context.Context, status string) ([]*SpecialSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*SpecialSession
	for _, session := range m.sessions {
		if session.Status == status {
			copied := session
			result = append(result, &copied)
		}
	}
	return result, nil
}

func (m *Memory) ActiveSessionForVin(_ context.Context, vin string) (*SpecialSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, session := range m.sessions {
		if session.Vin == vin && session.Status == SessionActive {
			copied := session
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *Memory) PlanHash(_ context.Context, vin string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.planHashes[vin], nil
}

func (m *Memory) SetPlanHash(_ context.Context, vin, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.planHashes[vin] = hash
	return nil
}

func (m *Memory) Secret(_ context.Context, name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	payload, ok := m.secrets[name]
	if !ok {
		return nil, commonerrors.NewNotFound("secret not found")
	}
	return payload, nil
}

func (m *Memory) SetSecret(_ context.Context, name string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secrets[name] = payload
	return nil
}

func (m *Memory) Reset(ctx context.Context) (*Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	before := m.statsLocked()
	m.lastKnown = map[string]LastKnownState{}
	m.cases = map[string]MonitoringCase{}
	m.planHashes = map[string]string{}
	return before, nil
}

func (m *Memory) Stats(_ context.Context) (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.statsLocked(), nil
}

func (m *Memory) statsLocked() *Stats {
	stats := &Stats{
		LastKnownStates: len(m.lastKnown),
		MonitoringCases: len(m.cases),
		Sessions:        len(m.sessions),
		PlanHashes:      len(m.planHashes),
	}
	for _, session := range m.sessions {
		if session.Status == SessionActive {
			stats.ActiveSessions++
		}
	}
	return stats
}
