/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

// Package planner turns user-declared battery targets from the spreadsheet
// into timed charging sessions: the daily check computes a window per need,
// one-shot jobs dispatch the session at the right moment, and a cleanup job
// restores the vehicle afterwards.
package planner

import (
	"context"
	"fmt"
	"time"

	"k8s.io/klog/v2"

	"github.com/mac923/offpeak-controller/pkg/config"
	commonerrors "github.com/mac923/offpeak-controller/pkg/errors"
	"github.com/mac923/offpeak-controller/pkg/fleet"
	"github.com/mac923/offpeak-controller/pkg/metrics"
	"github.com/mac923/offpeak-controller/pkg/plan"
	"github.com/mac923/offpeak-controller/pkg/reconciler"
	"github.com/mac923/offpeak-controller/pkg/store"
	"github.com/mac923/offpeak-controller/pkg/utils/backoff"
	"github.com/mac923/offpeak-controller/pkg/utils/timeutil"
)

const (
	zombieGrace     = 2 * time.Hour
	cleanupLag      = 30 * time.Minute
	limitSettle     = 3 * time.Second
	defaultPacing   = 3 * time.Second
	wakePollTotal   = 30
	wakePollSeconds = time.Second
)

// VehicleGateway is the vehicle capability the planner needs: observation,
// wake, charge limit and schedule management.
type VehicleGateway interface {
	ReadState(ctx context.Context, vin string) (*fleet.VehicleObservation, error)
	ReadFull(ctx context.Context, vin string) (*fleet.VehicleObservation, error)
	ReadChargeLimit(ctx context.Context, vin string) (int, error)
	Wake(ctx context.Context, vin string, useSigned bool) error
	SetChargeLimit(ctx context.Context, vin string, percent int) error
	AddSchedule(ctx context.Context, vin string, schedule *fleet.ChargeSchedule) error
	ListSchedules(ctx context.Context, vin string) ([]*fleet.ChargeSchedule, error)
}

// JobRegistrar schedules one-shot callbacks into the Worker.
type JobRegistrar interface {
	Register(ctx context.Context, name string, triggerAt time.Time, endpoint string, payload interface{}) error
	Delete(ctx context.Context, name string) error
}

// ProxyControl brackets signed-command batches.
type ProxyControl interface {
	EnsureUp(ctx context.Context) error
	Stop(ctx context.Context) error
}

// CheckResult is the daily-check report.
type CheckResult struct {
	ActiveNeeds           int      `json:"active_needs"`
	ProcessedNeeds        int      `json:"processed_needs"`
	SentSchedules         int      `json:"sent_schedules"`
	CreatedSessions       int      `json:"created_sessions"`
	CleanedZombieSessions int      `json:"cleaned_zombie_sessions"`
	Errors                []string `json:"errors"`
}

// CleanupResult reports one session cleanup.
type CleanupResult struct {
	SessionId         string `json:"session_id"`
	Cleaned           bool   `json:"cleaned"`
	CleanupJobDeleted bool   `json:"cleanup_job_deleted"`
}

// Planner owns the special-charging lifecycle.
type Planner struct {
	sheet    SheetSource
	vehicles VehicleGateway
	proxy    ProxyControl
	state    store.Interface
	jobs     JobRegistrar

	addPacing time.Duration
	now       func() time.Time
}

// NewPlanner wires the planner against its collaborators.
func NewPlanner(sheet SheetSource, vehicles VehicleGateway, proxy ProxyControl,
	state store.Interface, jobs JobRegistrar) *Planner {
	return &Planner{
		sheet:     sheet,
		vehicles:  vehicles,
		proxy:     proxy,
		state:     state,
		jobs:      jobs,
		addPacing: defaultPacing,
		now:       time.Now,
	}
}

func dispatchJobName(sessionId string) string { return "special-charging-" + sessionId }
func cleanupJobName(sessionId string) string  { return "special-cleanup-" + sessionId }

// DailyCheck runs the §-per-day pass: expire zombie sessions, fetch the
// declared needs and materialize each one. Per-need failures land in
// Errors and never abort the whole check.
func (p *Planner) DailyCheck(ctx context.Context) *CheckResult {
	result := &CheckResult{Errors: []string{}}
	now := p.now().In(config.GetHomeLocation())

	result.CleanedZombieSessions = p.sweepZombies(ctx, now, result)

	needs, err := p.sheet.FetchNeeds(ctx)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("sheet fetch: %v", err))
		return result
	}
	result.ActiveNeeds = len(needs)

	for _, need := range needs {
		if err := p.processNeed(ctx, need, now, result); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("row %d: %v", need.Row, err))
			continue
		}
		result.ProcessedNeeds++
	}
	return result
}

// sweepZombies force-completes ACTIVE sessions whose charging window ended
// more than the grace period ago.
func (p *Planner) sweepZombies(ctx context.Context, now time.Time, result *CheckResult) int {
	active, err := p.state.SessionsByStatus(ctx, store.SessionActive)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("zombie sweep: %v", err))
		return 0
	}
	cleaned := 0
	for _, session := range active {
		deadline := session.ChargingEnd.Add(zombieGrace)
		if now.Before(deadline) {
			continue
		}
		overrun := now.Sub(session.ChargingEnd).Hours()
		klog.Warningf("session %s overran its window by %.1f h, expiring", session.SessionId, overrun)
		if err := session.Advance(store.SessionCompleted); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("expire %s: %v", session.SessionId, err))
			continue
		}
		session.CompletedReason = "auto_expired"
		if err := p.state.UpsertSession(ctx, session); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("expire %s: %v", session.SessionId, err))
			continue
		}
		if err := p.jobs.Delete(ctx, cleanupJobName(session.SessionId)); err != nil {
			klog.Warningf("failed to delete cleanup job for %s: %v", session.SessionId, err)
		}
		cleaned++
		metrics.SpecialSessions.WithLabelValues("auto_expired").Inc()
	}
	return cleaned
}

func (p *Planner) processNeed(ctx context.Context, need Need, now time.Time, result *CheckResult) error {
	vin := config.GetVin()
	sessionId := store.SessionName(need.Row, need.Deadline)
	if _, err := p.state.Session(ctx, sessionId); err == nil {
		klog.Infof("session %s already exists, skipping", sessionId)
		return nil
	}

	current, err := p.currentBattery(ctx, vin)
	if err != nil {
		return err
	}
	chargingPlan, err := ComputePlan(need, current, now)
	if err != nil {
		return err
	}
	if chargingPlan == nil {
		klog.Infof("row %d target %d%% already met at %d%%", need.Row, need.TargetPercent, current)
		return nil
	}

	session := p.buildSession(sessionId, vin, need, current, chargingPlan)
	if err := p.state.UpsertSession(ctx, session); err != nil {
		return err
	}

	if !now.Before(chargingPlan.SendScheduleAt) {
		if err := p.ApplySession(ctx, sessionId); err != nil {
			return err
		}
		// the session is live without a dispatch job, but its limit must
		// still be restored afterwards
		if err := p.jobs.Register(ctx, cleanupJobName(sessionId), chargingPlan.ChargingEnd.Add(cleanupLag),
			"/cleanup-single-session", map[string]string{"session_id": sessionId}); err != nil {
			klog.Warningf("failed to register cleanup for %s: %v", sessionId, err)
		}
		result.SentSchedules++
		return nil
	}

	if err := p.jobs.Register(ctx, dispatchJobName(sessionId), chargingPlan.SendScheduleAt,
		"/send-special-schedule", map[string]string{"session_id": sessionId}); err != nil {
		return err
	}
	if err := p.jobs.Register(ctx, cleanupJobName(sessionId), chargingPlan.ChargingEnd.Add(cleanupLag),
		"/cleanup-single-session", map[string]string{"session_id": sessionId}); err != nil {
		return err
	}
	result.CreatedSessions++
	metrics.SpecialSessions.WithLabelValues("scheduled").Inc()
	klog.Infof("session %s scheduled, dispatch at %s", sessionId,
		chargingPlan.SendScheduleAt.Format("2006-01-02 15:04"))
	return nil
}

func (p *Planner) buildSession(sessionId, vin string, need Need, current int, cp *ChargingPlan) *store.SpecialSession {
	delta := float64(need.TargetPercent-current) / 100.0
	startMin := timeutil.MinutesOfDay(cp.ChargingStart)
	return &store.SpecialSession{
		SessionId:      sessionId,
		Vin:            vin,
		Status:         store.SessionScheduled,
		TargetPercent:  need.TargetPercent,
		TargetTime:     need.Deadline,
		ChargingStart:  cp.ChargingStart,
		ChargingEnd:    cp.ChargingEnd,
		SendScheduleAt: cp.SendScheduleAt,
		SheetRow:       need.Row,
		CreatedAt:      p.now().UTC(),
		ChargingPlan: plan.Plan{Slots: []plan.Slot{{
			StartMinutes: startMin,
			EndMinutes:   startMin + int(cp.ChargingEnd.Sub(cp.ChargingStart).Minutes()),
			EnergyKwh:    delta * config.GetBatteryCapacityKwh(),
		}}},
	}
}

// ApplySession dispatches a SCHEDULED session onto the vehicle: wake, raise
// the charge limit if needed, push the schedules, mark ACTIVE.
func (p *Planner) ApplySession(ctx context.Context, sessionId string) error {
	session, err := p.state.Session(ctx, sessionId)
	if err != nil {
		return err
	}
	if session.Status != store.SessionScheduled {
		return commonerrors.NewSessionInvalidState(
			fmt.Sprintf("session %s is %s, not %s", sessionId, session.Status, store.SessionScheduled))
	}
	vin := session.Vin

	if err := p.wakeAndWait(ctx, vin); err != nil {
		return err
	}
	if err := p.proxy.EnsureUp(ctx); err != nil {
		return err
	}
	defer func() {
		if err := p.proxy.Stop(ctx); err != nil {
			klog.Warningf("proxy stop failed: %v", err)
		}
	}()

	limit, err := p.vehicles.ReadChargeLimit(ctx, vin)
	if err != nil {
		return err
	}
	if limit < session.TargetPercent {
		if err := p.vehicles.SetChargeLimit(ctx, vin, session.TargetPercent); err != nil {
			return err
		}
		session.OriginalChargeLimit = &limit
		p.sleep(ctx, limitSettle)
	}

	accepted := reconciler.AcceptSlots(session.ChargingPlan.Slots)
	for i, slot := range accepted {
		if i > 0 {
			p.sleep(ctx, p.addPacing)
		}
		if err := p.vehicles.AddSchedule(ctx, vin, reconciler.ScheduleForSlot(slot)); err != nil {
			return err
		}
	}

	if err := session.Advance(store.SessionActive); err != nil {
		return err
	}
	if err := p.state.UpsertSession(ctx, session); err != nil {
		return err
	}
	metrics.SpecialSessions.WithLabelValues("active").Inc()
	klog.Infof("session %s active on vehicle %s", sessionId, commonerrors.LastFour(vin))
	return nil
}

// Cleanup finishes a session: restore the original charge limit, record the
// final battery level and delete the one-shot cleanup job.
func (p *Planner) Cleanup(ctx context.Context, sessionId string) (*CleanupResult, error) {
	result := &CleanupResult{SessionId: sessionId}
	session, err := p.state.Session(ctx, sessionId)
	if err != nil || session.Status != store.SessionActive {
		// nothing to restore; drop the job so it stops firing
		if jobErr := p.jobs.Delete(ctx, cleanupJobName(sessionId)); jobErr == nil {
			result.CleanupJobDeleted = true
		}
		return result, nil
	}
	vin := session.Vin

	if session.OriginalChargeLimit != nil {
		if err := p.proxy.EnsureUp(ctx); err != nil {
			return result, err
		}
		defer func() {
			if err := p.proxy.Stop(ctx); err != nil {
				klog.Warningf("proxy stop failed: %v", err)
			}
		}()
		current, err := p.vehicles.ReadChargeLimit(ctx, vin)
		if err == nil && current != *session.OriginalChargeLimit {
			if err := p.vehicles.SetChargeLimit(ctx, vin, *session.OriginalChargeLimit); err != nil {
				klog.Warningf("failed to restore charge limit for %s: %v", sessionId, err)
			}
		}
	}

	if obs, err := p.vehicles.ReadFull(ctx, vin); err == nil && obs.BatteryPercent != nil {
		session.FinalBatteryLevel = obs.BatteryPercent
	}
	if err := session.Advance(store.SessionCompleted); err != nil {
		return result, err
	}
	session.CompletedReason = "completed"
	if err := p.state.UpsertSession(ctx, session); err != nil {
		return result, err
	}
	result.Cleaned = true
	metrics.SpecialSessions.WithLabelValues("completed").Inc()

	if err := p.jobs.Delete(ctx, cleanupJobName(sessionId)); err != nil {
		klog.Warningf("failed to delete cleanup job for %s: %v", sessionId, err)
	} else {
		result.CleanupJobDeleted = true
	}
	return result, nil
}

// ApplyImmediate is the test hook behind /send-special-schedule-immediate:
// synthesize a session starting now and apply it at once.
func (p *Planner) ApplyImmediate(ctx context.Context, targetPercent int) (string, error) {
	vin := config.GetVin()
	now := p.now().In(config.GetHomeLocation())
	if targetPercent == 0 {
		targetPercent = config.GetOptimalThresholdPercent()
	}

	current, err := p.currentBattery(ctx, vin)
	if err != nil {
		return "", err
	}
	h := RequiredHours(current, targetPercent)
	if h == 0 {
		return "", commonerrors.NewBadRequest(
			fmt.Sprintf("target %d%% already met at %d%%", targetPercent, current))
	}

	start := now.Truncate(time.Minute)
	cp := &ChargingPlan{
		ChargingStart:  start,
		ChargingEnd:    start.Add(time.Duration(h * float64(time.Hour))),
		SendScheduleAt: start,
		RequiredHours:  h,
	}
	need := Need{Row: 0, TargetPercent: targetPercent, Deadline: cp.ChargingEnd}
	sessionId := store.SessionName(0, cp.ChargingEnd)
	session := p.buildSession(sessionId, vin, need, current, cp)
	if err := p.state.UpsertSession(ctx, session); err != nil {
		return "", err
	}
	if err := p.ApplySession(ctx, sessionId); err != nil {
		return sessionId, err
	}
	if err := p.jobs.Register(ctx, cleanupJobName(sessionId), cp.ChargingEnd.Add(cleanupLag),
		"/cleanup-single-session", map[string]string{"session_id": sessionId}); err != nil {
		klog.Warningf("failed to register cleanup for %s: %v", sessionId, err)
	}
	return sessionId, nil
}

// wakeAndWait issues a wake and polls until the vehicle reports online.
func (p *Planner) wakeAndWait(ctx context.Context, vin string) error {
	obs, err := p.vehicles.ReadState(ctx, vin)
	if err == nil && obs.State == fleet.StateOnline {
		return nil
	}
	if err := p.vehicles.Wake(ctx, vin, true); err != nil {
		return err
	}
	return backoff.RetryOn(func() error {
		obs, err := p.vehicles.ReadState(ctx, vin)
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

func (p *Planner) currentBattery(ctx context.Context, vin string) (int, error) {
	if last, err := p.state.LastKnown(ctx, vin); err == nil && last.Observation.BatteryPercent != nil {
		return *last.Observation.BatteryPercent, nil
	}
	obs, err := p.vehicles.ReadFull(ctx, vin)
	if err != nil {
		return 0, err
	}
	if obs.BatteryPercent == nil {
		return 0, commonerrors.NewInternalError("vehicle reported no battery level")
	}
	return *obs.BatteryPercent, nil
}

func (p *Planner) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}
