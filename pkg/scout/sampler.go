/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

// Package scout is the cheap, frequently invoked tier: it samples vehicle
// state, compares against the stored last-known state and decides whether
// the expensive Worker needs to run. Scout never wakes a vehicle and never
// writes tokens.
package scout

import (
	"context"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"k8s.io/klog/v2"

	"github.com/mac923/offpeak-controller/pkg/config"
	commonerrors "github.com/mac923/offpeak-controller/pkg/errors"
	"github.com/mac923/offpeak-controller/pkg/fleet"
	"github.com/mac923/offpeak-controller/pkg/metrics"
	"github.com/mac923/offpeak-controller/pkg/store"
	"github.com/mac923/offpeak-controller/pkg/utils/httpclient"
	"github.com/mac923/offpeak-controller/pkg/utils/json"
)

const refreshGateKey = "worker-refresh"

// VehicleReader is the observation slice of the vehicle gateway the sampler
// needs.
type VehicleReader interface {
	ReadState(ctx context.Context, vin string) (*fleet.VehicleObservation, error)
	ReadFull(ctx context.Context, vin string) (*fleet.VehicleObservation, error)
}

// TokenSource is the read-only token capability: it can validate and drop
// its cache, never refresh.
type TokenSource interface {
	EnsureValid(ctx context.Context) error
	ClearCache()
}

// StateChange is the decision part of a sample response.
type StateChange struct {
	Detected        bool   `json:"detected"`
	Reason          string `json:"reason"`
	WorkerTriggered bool   `json:"worker_triggered"`
}

// SampleResult is the user-visible outcome of one sample.
type SampleResult struct {
	Vehicle     *fleet.VehicleObservation `json:"vehicle"`
	StateChange StateChange               `json:"state_change"`
}

// Sampler runs one observation-decide-act pass per invocation. It is
// stateless across invocations beyond the state store; concurrent samplers
// for the same VIN only race on an idempotent last-writer-wins upsert.
type Sampler struct {
	vehicles VehicleReader
	state    store.Interface
	tokens   TokenSource
	http     httpclient.Interface

	// refreshGate rate-limits Worker refresh RPCs across samples in the
	// same process.
	refreshGate *gocache.Cache
}

// NewSampler wires a sampler against the given collaborators.
func NewSampler(vehicles VehicleReader, state store.Interface, tokens TokenSource) *Sampler {
	rateLimit := config.GetScoutRefreshRateLimit()
	return &Sampler{
		vehicles:    vehicles,
		state:       state,
		tokens:      tokens,
		http:        httpclient.NewHttpClient(),
		refreshGate: gocache.New(rateLimit, rateLimit),
	}
}

// Sample performs one full Scout pass for the configured VIN.
func (s *Sampler) Sample(ctx context.Context) (*SampleResult, error) {
	vin := config.GetVin()

	if err := s.ensureToken(ctx); err != nil {
		return nil, err
	}

	obs, err := s.vehicles.ReadState(ctx, vin)
	if err != nil {
		return nil, err
	}
	if obs.State == fleet.StateOnline {
		if full, err := s.vehicles.ReadFull(ctx, vin); err == nil {
			obs = full
		} else {
			klog.Warningf("full read failed after state read, continuing with state only: %v", err)
		}
	}

	last, err := s.state.LastKnown(ctx, vin)
	if err != nil && !commonerrors.IsNotFound(err) {
		return nil, err
	}
	caseOpen := false
	if _, err := s.state.MonitoringCase(ctx, vin); err == nil {
		caseOpen = true
	}
	active, err := s.state.ActiveSessionForVin(ctx, vin)
	if err != nil {
		return nil, err
	}

	atHome := obs.AtHome(config.GetHomeLatitude(), config.GetHomeLongitude(), config.GetHomeRadius())
	effectiveAtHome := EffectiveAtHome(atHome, obs.HasLocation(), last)
	decision := Evaluate(Input{
		Observation:   obs,
		AtHome:        atHome,
		ChargingReady: obs.ChargingReady(),
		HasLocation:   obs.HasLocation(),
		Last:          last,
		CaseOpen:      caseOpen,
		ActiveSession: active != nil,
	})
	klog.Infof("sample verdict for %s: %s (%s)", commonerrors.LastFour(vin), decision.Verdict, decision.Reason)
	metrics.ScoutSamples.WithLabelValues(string(decision.Verdict)).Inc()

	triggered := false
	if decision.TriggerWorker {
		if err := s.triggerWorker(ctx, decision, obs); err != nil {
			klog.Errorf("worker trigger failed: %v", err)
		} else {
			triggered = true
			metrics.WorkerTriggers.WithLabelValues(string(decision.Verdict)).Inc()
		}
	}
	if decision.Verdict == VerdictOpenCase && !caseOpen {
		if err := s.openMonitoringCase(ctx, obs); err != nil {
			klog.Errorf("failed to open monitoring case: %v", err)
		}
	}

	if err := s.persist(ctx, obs, last, effectiveAtHome); err != nil {
		return nil, err
	}

	return &SampleResult{
		Vehicle: obs,
		StateChange: StateChange{
			Detected:        decision.Verdict != VerdictSteady,
			Reason:          decision.Reason,
			WorkerTriggered: triggered,
		},
	}, nil
}

// ensureToken validates the read-only token and, on expiry, asks the Worker
// to refresh. At most one refresh RPC is sent per rate-limit window.
func (s *Sampler) ensureToken(ctx context.Context) error {
	err := s.tokens.EnsureValid(ctx)
	if err == nil {
		return nil
	}
	if !commonerrors.IsAuthExpired(err) && !commonerrors.IsCharge(err) {
		return err
	}
	if _, recent := s.refreshGate.Get(refreshGateKey); recent {
		klog.Warningf("token invalid but refresh was requested recently, skipping")
		return err
	}
	s.refreshGate.SetDefault(refreshGateKey, time.Now())

	klog.Infof("token invalid, asking worker for a refresh")
	rpcCtx, cancel := context.WithTimeout(ctx, config.GetScoutRefreshWait())
	defer cancel()
	body := map[string]interface{}{
		"reason":        "scout detected expiry",
		"requested_by":  "scout",
		"attempt_count": 1,
	}
	result, rpcErr := s.http.Post(rpcCtx, config.GetWorkerServiceUrl()+"/refresh-tokens",
		json.MarshalSilently(body), "Content-Type", "application/json")
	if rpcErr != nil {
		return commonerrors.NewTokenUnavailable("worker refresh request failed").WithError(rpcErr)
	}
	if !result.IsSuccess() {
		return commonerrors.NewTokenUnavailable("worker refresh rejected: " + result.String())
	}

	s.tokens.ClearCache()
	return s.tokens.EnsureValid(ctx)
}

func (s *Sampler) triggerWorker(ctx context.Context, decision Decision, obs *fleet.VehicleObservation) error {
	payload := map[string]interface{}{
		"reason":      string(decision.Verdict),
		"observation": obs,
	}
	result, err := s.http.Post(ctx, config.GetWorkerServiceUrl()+"/scout-trigger",
		json.MarshalSilently(payload), "Content-Type", "application/json")
	if err != nil {
		return err
	}
	if !result.IsSuccess() {
		return commonerrors.NewInternalError("scout trigger rejected: " + result.String())
	}
	return nil
}

func (s *Sampler) openMonitoringCase(ctx context.Context, obs *fleet.VehicleObservation) error {
	now := time.Now().UTC()
	mc := &store.MonitoringCase{
		CaseId:             uuid.NewString(),
		Vin:                obs.Vin,
		StartTime:          now,
		State:              store.CaseWaitingForOffline,
		LastBatteryPercent: obs.BatteryPercent,
		LastCheckTime:      &now,
	}
	return s.state.UpsertMonitoringCase(ctx, mc)
}

// persist applies the write rules: online samples overwrite fully; the first
// non-online sample after an online one records the transition; every other
// idle sample writes nothing.
func (s *Sampler) persist(ctx context.Context, obs *fleet.VehicleObservation, last *store.LastKnownState, atHome bool) error {
	if obs.State == fleet.StateOnline {
		return s.state.UpsertLastKnown(ctx, &store.LastKnownState{
			Vin:           obs.Vin,
			Observation:   *obs,
			AtHome:        atHome,
			ChargingReady: obs.ChargingReady(),
			HasLocation:   obs.HasLocation(),
		})
	}
	if last != nil && last.Observation.State == fleet.StateOnline {
		snapshot := *last
		snapshot.Observation = fleet.VehicleObservation{
			Vin:        obs.Vin,
			State:      obs.State,
			ObservedAt: obs.ObservedAt,
		}
		return s.state.UpsertLastKnown(ctx, &snapshot)
	}
	return nil
}
