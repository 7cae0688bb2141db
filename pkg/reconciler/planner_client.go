/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package reconciler

import (
	"context"
	"time"

	"k8s.io/klog/v2"

	"github.com/mac923/offpeak-controller/pkg/config"
	commonerrors "github.com/mac923/offpeak-controller/pkg/errors"
	"github.com/mac923/offpeak-controller/pkg/plan"
	"github.com/mac923/offpeak-controller/pkg/utils/httpclient"
	"github.com/mac923/offpeak-controller/pkg/utils/json"
	"github.com/mac923/offpeak-controller/pkg/utils/timeutil"
)

const plannerTimeout = 30 * time.Second

// plannerRequest is the fixed request shape of the external pricing API.
type plannerRequest struct {
	BatteryLevel        int     `json:"battery_level"`
	BatteryCapacityKwh  float64 `json:"battery_capacity_kwh"`
	DailyConsumptionKwh float64 `json:"daily_consumption_kwh"`
	ChargingRateKw      float64 `json:"charging_rate_kw"`
	OptimalThreshold    int     `json:"optimal_threshold_percent"`
	EmergencyThreshold  int     `json:"emergency_threshold_percent"`
}

// plannerResponse mirrors the pricing API answer.
type plannerResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Summary struct {
			ScheduledSlots int     `json:"scheduledSlots"`
			TotalEnergy    float64 `json:"totalEnergy"`
			TotalCost      float64 `json:"totalCost"`
			AveragePrice   float64 `json:"averagePrice"`
		} `json:"summary"`
		ChargingSchedule []plannerSlot `json:"chargingSchedule"`
	} `json:"data"`
}

type plannerSlot struct {
	StartTime    string  `json:"start_time"`
	EndTime      string  `json:"end_time"`
	ChargeAmount float64 `json:"charge_amount"`
	Cost         float64 `json:"cost"`
}

// PlannerClient queries the external pricing/optimization API.
type PlannerClient struct {
	http httpclient.Interface
}

// NewPlannerClient builds a client against the configured planner URL.
func NewPlannerClient() *PlannerClient {
	return &PlannerClient{http: httpclient.NewHttpClient()}
}

// Fetch asks the planner for an off-peak plan. Slot times arrive as UTC
// ISO-8601 instants and are converted to local minutes-of-day; a window
// whose local end precedes its start wraps midnight and is encoded with
// end = start + duration.
func (p *PlannerClient) Fetch(ctx context.Context, batteryPercent int) (*plan.Plan, error) {
	req := &plannerRequest{
		BatteryLevel:        batteryPercent,
		BatteryCapacityKwh:  config.GetBatteryCapacityKwh(),
		DailyConsumptionKwh: config.GetDailyConsumptionKwh(),
		ChargingRateKw:      config.GetChargingRateKw(),
		OptimalThreshold:    config.GetOptimalThresholdPercent(),
		EmergencyThreshold:  config.GetEmergencyThresholdPercent(),
	}

	callCtx, cancel := context.WithTimeout(ctx, plannerTimeout)
	defer cancel()
	result, err := p.http.Post(callCtx, config.GetPlannerUrl(), json.MarshalSilently(req),
		"Content-Type", "application/json")
	if err != nil {
		return nil, commonerrors.NewPlannerUnavailable("planner unreachable").WithError(err)
	}
	if !result.IsSuccess() {
		return nil, commonerrors.NewPlannerUnavailable("planner error: " + result.String())
	}
	rsp := &plannerResponse{}
	if err := json.Unmarshal(result.Body, rsp); err != nil {
		return nil, commonerrors.NewPlannerUnavailable("planner answer unreadable").WithError(err)
	}
	if !rsp.Success {
		return nil, commonerrors.NewPlannerUnavailable("planner reported failure")
	}

	loc := config.GetHomeLocation()
	out := &plan.Plan{}
	for _, slot := range rsp.Data.ChargingSchedule {
		converted, err := convertSlot(slot, loc)
		if err != nil {
			klog.Warningf("dropping unreadable planner slot: %v", err)
			continue
		}
		out.Slots = append(out.Slots, *converted)
	}
	klog.Infof("planner returned %d slots, %.1f kWh total", len(out.Slots), out.TotalEnergyKwh())
	return out, nil
}

func convertSlot(slot plannerSlot, loc *time.Location) (*plan.Slot, error) {
	start, err := time.Parse(time.RFC3339, slot.StartTime)
	if err != nil {
		return nil, err
	}
	end, err := time.Parse(time.RFC3339, slot.EndTime)
	if err != nil {
		return nil, err
	}
	startMin := timeutil.MinutesOfDay(start.In(loc))
	endMin := timeutil.MinutesOfDay(end.In(loc))
	if endMin < startMin {
		// wraps local midnight: keep the duration explicit
		endMin = startMin + int(end.Sub(start).Minutes())
	}
	return &plan.Slot{
		StartMinutes: startMin,
		EndMinutes:   endMin,
		EnergyKwh:    slot.ChargeAmount,
		Cost:         slot.Cost,
	}, nil
}

// FallbackPlan synthesizes the configured single-slot plan used whenever the
// planner is unavailable, so the vehicle always ends up with some schedule.
func FallbackPlan() *plan.Plan {
	start, err := timeutil.ParseClock(config.GetFallbackStart())
	if err != nil {
		start = 13 * 60
	}
	end, err := timeutil.ParseClock(config.GetFallbackEnd())
	if err != nil {
		end = 15 * 60
	}
	return &plan.Plan{Slots: []plan.Slot{{
		StartMinutes: start,
		EndMinutes:   end,
		EnergyKwh:    config.GetFallbackEnergyKwh(),
	}}}
}
