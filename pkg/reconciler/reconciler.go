/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

// Package reconciler converges the vehicle's HOME charge schedules onto the
// cheapest plan the pricing API offers. It runs on condition A: the vehicle
// became charging-ready at home.
package reconciler

import (
	"context"
	"time"

	"github.com/samber/lo"
	"k8s.io/klog/v2"

	"github.com/mac923/offpeak-controller/pkg/config"
	commonerrors "github.com/mac923/offpeak-controller/pkg/errors"
	"github.com/mac923/offpeak-controller/pkg/fleet"
	"github.com/mac923/offpeak-controller/pkg/metrics"
	"github.com/mac923/offpeak-controller/pkg/plan"
	"github.com/mac923/offpeak-controller/pkg/store"
	"github.com/mac923/offpeak-controller/pkg/utils/timeutil"
)

const defaultAddPacing = 3 * time.Second

// presenceSlot keeps the HOME schedule list non-empty when the planner
// returns nothing: one minute at 23:59.
var presenceSlot = plan.Slot{StartMinutes: 1439, EndMinutes: 1440}

// ScheduleGateway is the vehicle-command slice the reconciler uses.
type ScheduleGateway interface {
	AddSchedule(ctx context.Context, vin string, schedule *fleet.ChargeSchedule) error
	RemoveSchedule(ctx context.Context, vin string, id uint64) error
	ListSchedules(ctx context.Context, vin string) ([]*fleet.ChargeSchedule, error)
	ChargeStart(ctx context.Context, vin string) error
}

// ProxyControl brackets a batch of signed commands.
type ProxyControl interface {
	EnsureUp(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Planner yields an off-peak plan for the current battery level.
type Planner interface {
	Fetch(ctx context.Context, batteryPercent int) (*plan.Plan, error)
}

// Result summarizes one reconcile pass.
type Result struct {
	PlanHash         string `json:"plan_hash"`
	HashUnchanged    bool   `json:"hash_unchanged"`
	UsedFallback     bool   `json:"used_fallback"`
	SlotsAccepted    int    `json:"slots_accepted"`
	SchedulesAdded   int    `json:"schedules_added"`
	SchedulesRemoved int    `json:"schedules_removed"`
	ChargeStarted    bool   `json:"charge_started"`
}

// Reconciler owns the condition-A cycle.
type Reconciler struct {
	planner  Planner
	vehicles ScheduleGateway
	proxy    ProxyControl
	state    store.Interface

	addPacing time.Duration
	now       func() time.Time
}

// NewReconciler wires the cycle against its collaborators.
func NewReconciler(planner Planner, vehicles ScheduleGateway, proxy ProxyControl, state store.Interface) *Reconciler {
	return &Reconciler{
		planner:   planner,
		vehicles:  vehicles,
		proxy:     proxy,
		state:     state,
		addPacing: defaultAddPacing,
		now:       time.Now,
	}
}

// Reconcile runs one plan-diff-apply pass for the VIN. The plan hash gates
// vehicle writes: an unchanged plan performs the planner query and nothing
// else. The hash is committed only after a fully successful apply, so a
// failed cycle retries on the next trigger.
func (r *Reconciler) Reconcile(ctx context.Context, vin string, batteryPercent int) (*Result, error) {
	result := &Result{}

	offPeak, err := r.planner.Fetch(ctx, batteryPercent)
	if err != nil {
		klog.Warningf("planner unavailable, synthesizing fallback plan: %v", err)
		offPeak = FallbackPlan()
		result.UsedFallback = true
		metrics.PlannerFallbacks.Inc()
	}

	hash, err := offPeak.Hash()
	if err != nil {
		return nil, commonerrors.NewInternalError("plan hash failed").WithError(err)
	}
	result.PlanHash = hash
	previous, err := r.state.PlanHash(ctx, vin)
	if err != nil {
		return nil, err
	}
	if previous == hash {
		klog.Infof("plan unchanged for %s, nothing to apply", commonerrors.LastFour(vin))
		result.HashUnchanged = true
		return result, nil
	}

	accepted := AcceptSlots(offPeak.Slots)
	result.SlotsAccepted = len(accepted)
	schedules := lo.Map(accepted, func(slot plan.Slot, _ int) *fleet.ChargeSchedule {
		return ScheduleForSlot(slot)
	})

	if err := r.proxy.EnsureUp(ctx); err != nil {
		return nil, err
	}
	defer func() {
		if err := r.proxy.Stop(ctx); err != nil {
			klog.Warningf("proxy stop failed: %v", err)
		}
	}()

	// snapshot the old HOME schedules before adding, so the new ones are
	// never candidates for removal
	old, err := r.homeSchedules(ctx, vin)
	if err != nil {
		return nil, err
	}

	for i, schedule := range schedules {
		if i > 0 {
			r.sleep(ctx, r.addPacing)
		}
		if err := r.vehicles.AddSchedule(ctx, vin, schedule); err != nil {
			return nil, err
		}
		result.SchedulesAdded++
		metrics.SchedulesAdded.Inc()
	}
	if err := r.verifyApplied(ctx, vin, accepted); err != nil {
		return nil, err
	}

	// removal strictly after all adds succeeded
	for _, schedule := range old {
		if schedule.Id == 0 {
			continue
		}
		if err := r.vehicles.RemoveSchedule(ctx, vin, schedule.Id); err != nil {
			klog.Warningf("failed to remove old schedule %d: %v", schedule.Id, err)
			continue
		}
		result.SchedulesRemoved++
		metrics.SchedulesRemoved.Inc()
	}

	if err := r.state.SetPlanHash(ctx, vin, hash); err != nil {
		return nil, err
	}

	if config.IsChargeNowEnabled() {
		nowMin := timeutil.MinutesOfDay(r.now().In(config.GetHomeLocation()))
		for _, slot := range accepted {
			if timeutil.ContainsMinute(slot.Window(), nowMin) {
				if err := r.vehicles.ChargeStart(ctx, vin); err != nil {
					klog.Warningf("charge-now failed: %v", err)
				} else {
					result.ChargeStarted = true
				}
				break
			}
		}
	}

	klog.Infof("reconciled %s: %d added, %d removed, hash %s",
		commonerrors.LastFour(vin), result.SchedulesAdded, result.SchedulesRemoved, hash)
	return result, nil
}

// AcceptSlots resolves overlaps by priority: plan order is authoritative,
// and a slot is accepted iff it does not overlap any already-accepted slot
// under midnight-unwrap.
func AcceptSlots(slots []plan.Slot) []plan.Slot {
	var accepted []plan.Slot
	if len(slots) == 0 || totalEnergy(slots) == 0 {
		return []plan.Slot{presenceSlot}
	}
	for _, candidate := range slots {
		conflict := false
		for _, kept := range accepted {
			if timeutil.Overlaps(candidate.Window(), kept.Window()) {
				conflict = true
				break
			}
		}
		if conflict {
			klog.Infof("dropping overlapping slot %s", timeutil.FormatClock(candidate.StartMinutes))
			continue
		}
		accepted = append(accepted, candidate)
	}
	return accepted
}

func totalEnergy(slots []plan.Slot) float64 {
	return lo.SumBy(slots, func(slot plan.Slot) float64 { return slot.EnergyKwh })
}

// ScheduleForSlot encodes a plan slot as a HOME charge schedule: home
// coordinates, every day, recurring.
func ScheduleForSlot(slot plan.Slot) *fleet.ChargeSchedule {
	start, end := slot.StartMinutes, slot.EndMinutes
	return &fleet.ChargeSchedule{
		Enabled:      true,
		StartMinutes: &start,
		EndMinutes:   &end,
		StartEnabled: true,
		EndEnabled:   true,
		DaysOfWeek:   "All",
		Latitude:     config.GetHomeLatitude(),
		Longitude:    config.GetHomeLongitude(),
		OneTime:      false,
	}
}

func (r *Reconciler) homeSchedules(ctx context.Context, vin string) ([]*fleet.ChargeSchedule, error) {
	all, err := r.vehicles.ListSchedules(ctx, vin)
	if err != nil {
		return nil, err
	}
	return fleet.FilterHome(all, config.GetHomeLatitude(), config.GetHomeLongitude(), config.GetHomeRadius()), nil
}

// verifyApplied re-lists HOME schedules once after all adds and checks every
// accepted slot landed.
func (r *Reconciler) verifyApplied(ctx context.Context, vin string, accepted []plan.Slot) error {
	current, err := r.homeSchedules(ctx, vin)
	if err != nil {
		return err
	}
	for _, slot := range accepted {
		wantStart := slot.StartMinutes % timeutil.MinutesPerDay
		wantEnd := slot.EndMinutes
		if wantEnd > timeutil.MinutesPerDay {
			wantEnd = wantEnd % timeutil.MinutesPerDay
		}
		found := lo.ContainsBy(current, func(schedule *fleet.ChargeSchedule) bool {
			return schedule.StartMinutes != nil && schedule.EndMinutes != nil &&
				*schedule.StartMinutes == wantStart && *schedule.EndMinutes == wantEnd
		})
		if !found {
			return commonerrors.NewInternalError("added schedule not visible on readback")
		}
	}
	return nil
}

func (r *Reconciler) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}
