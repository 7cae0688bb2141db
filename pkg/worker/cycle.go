/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

// Package worker is the heavyweight tier: it owns the canonical token,
// wakes vehicles, converges schedules and serves the dispatcher HTTP
// surface that Scout, the external cron and the one-shot job invoker call.
package worker

import (
	"context"
	"time"

	"k8s.io/klog/v2"

	"github.com/mac923/offpeak-controller/pkg/config"
	commonerrors "github.com/mac923/offpeak-controller/pkg/errors"
	"github.com/mac923/offpeak-controller/pkg/fleet"
	"github.com/mac923/offpeak-controller/pkg/reconciler"
	"github.com/mac923/offpeak-controller/pkg/store"
	"github.com/mac923/offpeak-controller/pkg/utils/backoff"
)

const (
	vehicleReadTimeout = 90 * time.Second
	cycleTimeout       = 5 * time.Minute
	wakePollTotal      = 30
	wakePollSeconds    = time.Second
)

// VehicleGateway is the vehicle slice the cycle drives directly; schedule
// writes go through the reconciler.
type VehicleGateway interface {
	ReadState(ctx context.Context, vin string) (*fleet.VehicleObservation, error)
	ReadFull(ctx context.Context, vin string) (*fleet.VehicleObservation, error)
	Wake(ctx context.Context, vin string, useSigned bool) error
	ListSchedules(ctx context.Context, vin string) ([]*fleet.ChargeSchedule, error)
	RemoveSchedule(ctx context.Context, vin string, id uint64) error
}

// CycleReconciler converges the vehicle's HOME schedules onto the current
// off-peak plan.
type CycleReconciler interface {
	Reconcile(ctx context.Context, vin string, batteryPercent int) (*reconciler.Result, error)
}

// ProxyControl brackets signed-command batches.
type ProxyControl interface {
	EnsureUp(ctx context.Context) error
	Stop(ctx context.Context) error
}

// CycleResult reports one monitoring cycle.
type CycleResult struct {
	Trigger       string             `json:"trigger,omitempty"`
	VehicleState  string             `json:"vehicle_state"`
	AtHome        bool               `json:"at_home"`
	ChargingReady bool               `json:"charging_ready"`
	WokeVehicle   bool               `json:"woke_vehicle"`
	CaseClosed    bool               `json:"case_closed"`
	Reconciled    bool               `json:"reconciled"`
	Reconcile     *reconciler.Result `json:"reconcile,omitempty"`
}

// MidnightResult reports the nightly wake-and-read.
type MidnightResult struct {
	WokeVehicle    bool   `json:"woke_vehicle"`
	VehicleState   string `json:"vehicle_state"`
	BatteryPercent *int   `json:"battery_percent,omitempty"`
}

// ResetSchedulesResult reports the HOME-schedule purge.
type ResetSchedulesResult struct {
	SchedulesFound     int `json:"schedules_found"`
	SchedulesRemoved   int `json:"schedules_removed"`
	SchedulesFailed    int `json:"schedules_failed"`
	RemainingSchedules int `json:"remaining_schedules"`
}

// Runner executes the Worker's vehicle-facing operations. Serialization
// across cycle-like operations happens one layer up, in the server.
type Runner struct {
	vehicles   VehicleGateway
	state      store.Interface
	reconciler CycleReconciler
	proxy      ProxyControl
}

// NewRunner wires the cycle runner against its collaborators.
func NewRunner(vehicles VehicleGateway, state store.Interface, rec CycleReconciler, proxy ProxyControl) *Runner {
	return &Runner{
		vehicles:   vehicles,
		state:      state,
		reconciler: rec,
		proxy:      proxy,
	}
}

// RunCycle is one full monitoring pass: observe, wake if a monitoring case
// demands it, and reconcile schedules when the vehicle is charging-ready at
// home with no special session in flight.
func (r *Runner) RunCycle(ctx context.Context, trigger string) (*CycleResult, error) {
	ctx, cancel := context.WithTimeout(ctx, cycleTimeout)
	defer cancel()

	vin := config.GetVin()
	result := &CycleResult{Trigger: trigger}

	obs, err := r.readState(ctx, vin)
	if err != nil {
		return nil, r.cycleError(ctx, err)
	}

	caseOpen := false
	if _, err := r.state.MonitoringCase(ctx, vin); err == nil {
		caseOpen = true
	}

	if obs.State != fleet.StateOnline && caseOpen {
		// the case watched the vehicle go offline: wake it and re-observe
		if err := r.wakeAndWait(ctx, vin); err != nil {
			return nil, r.cycleError(ctx, err)
		}
		result.WokeVehicle = true
		if obs, err = r.readState(ctx, vin); err != nil {
			return nil, r.cycleError(ctx, err)
		}
	}
	result.VehicleState = string(obs.State)

	if obs.State != fleet.StateOnline {
		klog.Infof("vehicle %s is %s, cycle has nothing to do", commonerrors.LastFour(vin), obs.State)
		return result, nil
	}

	full, err := r.readFull(ctx, vin)
	if err != nil {
		return nil, r.cycleError(ctx, err)
	}
	obs = full

	atHome := obs.AtHome(config.GetHomeLatitude(), config.GetHomeLongitude(), config.GetHomeRadius())
	ready := obs.ChargingReady()
	result.AtHome, result.ChargingReady = atHome, ready

	if err := r.persist(ctx, obs, atHome); err != nil {
		return nil, err
	}

	// a served case closes on the first post-wake observation, ready or not
	if caseOpen && (result.WokeVehicle || (atHome && ready)) {
		if err := r.state.DeleteMonitoringCase(ctx, vin); err != nil {
			klog.Warningf("failed to close monitoring case for %s: %v", commonerrors.LastFour(vin), err)
		} else {
			result.CaseClosed = true
		}
	}

	if !atHome || !ready {
		return result, nil
	}

	active, err := r.state.ActiveSessionForVin(ctx, vin)
	if err != nil {
		return nil, err
	}
	if active != nil {
		klog.Infof("session %s is active, off-peak reconcile suppressed", active.SessionId)
		return result, nil
	}

	battery := 0
	if obs.BatteryPercent != nil {
		battery = *obs.BatteryPercent
	}
	rec, err := r.reconciler.Reconcile(ctx, vin, battery)
	if err != nil {
		return nil, r.cycleError(ctx, err)
	}
	result.Reconciled = true
	result.Reconcile = rec
	return result, nil
}

// MidnightWake is the nightly wake-and-read: ensure the vehicle is online,
// take a full observation and persist it.
func (r *Runner) MidnightWake(ctx context.Context) (*MidnightResult, error) {
	ctx, cancel := context.WithTimeout(ctx, cycleTimeout)
	defer cancel()

	vin := config.GetVin()
	result := &MidnightResult{}

	obs, err := r.readState(ctx, vin)
	if err != nil {
		return nil, r.cycleError(ctx, err)
	}
	if obs.State != fleet.StateOnline {
		if err := r.wakeAndWait(ctx, vin); err != nil {
			return nil, r.cycleError(ctx, err)
		}
		result.WokeVehicle = true
	}

	full, err := r.readFull(ctx, vin)
	if err != nil {
		return nil, r.cycleError(ctx, err)
	}
	result.VehicleState = string(full.State)
	result.BatteryPercent = full.BatteryPercent

	atHome := full.AtHome(config.GetHomeLatitude(), config.GetHomeLongitude(), config.GetHomeRadius())
	if err := r.persist(ctx, full, atHome); err != nil {
		return nil, err
	}
	return result, nil
}

// ResetSchedules removes every HOME schedule from the vehicle.
func (r *Runner) ResetSchedules(ctx context.Context) (*ResetSchedulesResult, error) {
	vin := config.GetVin()
	result := &ResetSchedulesResult{}

	home, err := r.homeSchedules(ctx, vin)
	if err != nil {
		return nil, err
	}
	result.SchedulesFound = len(home)
	if len(home) == 0 {
		return result, nil
	}

	if err := r.proxy.EnsureUp(ctx); err != nil {
		return nil, err
	}
	defer func() {
		if err := r.proxy.Stop(ctx); err != nil {
			klog.Warningf("proxy stop failed: %v", err)
		}
	}()

	for _, schedule := range home {
		if schedule.Id == 0 {
			continue
		}
		if err := r.vehicles.RemoveSchedule(ctx, vin, schedule.Id); err != nil {
			klog.Warningf("failed to remove schedule %d: %v", schedule.Id, err)
			result.SchedulesFailed++
			continue
		}
		result.SchedulesRemoved++
	}

	remaining, err := r.homeSchedules(ctx, vin)
	if err != nil {
		return nil, err
	}
	result.RemainingSchedules = len(remaining)
	return result, nil
}

func (r *Runner) homeSchedules(ctx context.Context, vin string) ([]*fleet.ChargeSchedule, error) {
	all, err := r.vehicles.ListSchedules(ctx, vin)
	if err != nil {
		return nil, err
	}
	return fleet.FilterHome(all, config.GetHomeLatitude(), config.GetHomeLongitude(), config.GetHomeRadius()), nil
}

func (r *Runner) persist(ctx context.Context, obs *fleet.VehicleObservation, atHome bool) error {
	return r.state.UpsertLastKnown(ctx, &store.LastKnownState{
		Vin:           obs.Vin,
		Observation:   *obs,
		AtHome:        atHome,
		ChargingReady: obs.ChargingReady(),
		HasLocation:   obs.HasLocation(),
	})
}

// wakeAndWait issues a wake and polls until the vehicle reports online.
func (r *Runner) wakeAndWait(ctx context.Context, vin string) error {
	if err := r.vehicles.Wake(ctx, vin, true); err != nil {
		return err
	}
	return backoff.RetryOn(func() error {
		obs, err := r.vehicles.ReadState(ctx, vin)
		if err != nil {
			return err
		}
		if obs.State != fleet.StateOnline {
			return commonerrors.NewVehicleAsleep(vin)
		}
		return nil
	}, func(err error) bool {
		return commonerrors.IsVehicleAsleep(err) || commonerrors.IsVehicleOffline(err)
	}, wakePollTotal, wakePollSeconds)
}

func (r *Runner) readState(ctx context.Context, vin string) (*fleet.VehicleObservation, error) {
	readCtx, cancel := context.WithTimeout(ctx, vehicleReadTimeout)
	defer cancel()
	return r.vehicles.ReadState(readCtx, vin)
}

func (r *Runner) readFull(ctx context.Context, vin string) (*fleet.VehicleObservation, error) {
	readCtx, cancel := context.WithTimeout(ctx, vehicleReadTimeout)
	defer cancel()
	return r.vehicles.ReadFull(readCtx, vin)
}

// cycleError converts a failure after the cycle deadline passed into the
// abandonment error; everything persisted before it stands.
func (r *Runner) cycleError(ctx context.Context, err error) error {
	if ctx.Err() == context.DeadlineExceeded {
		return commonerrors.NewCycleTimeout("cycle abandoned after " + cycleTimeout.String()).WithError(err)
	}
	return err
}
