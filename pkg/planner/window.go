/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package planner

import (
	"time"

	"k8s.io/klog/v2"

	"github.com/mac923/offpeak-controller/pkg/config"
	"github.com/mac923/offpeak-controller/pkg/utils/timeutil"
)

// ChargingPlan is the computed window for one special-charging need.
type ChargingPlan struct {
	ChargingStart  time.Time `json:"charging_start"`
	ChargingEnd    time.Time `json:"charging_end"`
	SendScheduleAt time.Time `json:"send_schedule_at"`
	RequiredHours  float64   `json:"required_hours"`
	Strategy       int       `json:"strategy"`
}

// RequiredHours computes the charging hours needed to lift the battery from
// current to target percent at the configured rate.
func RequiredHours(currentPercent, targetPercent int) float64 {
	if targetPercent <= currentPercent {
		return 0
	}
	delta := float64(targetPercent-currentPercent) / 100.0
	return delta * config.GetBatteryCapacityKwh() / config.GetChargingRateKw()
}

// peakWindows parses the configured peak-hour windows.
func peakWindows() []timeutil.Window {
	var peaks []timeutil.Window
	for _, raw := range config.GetPeakHours() {
		w, err := timeutil.ParseWindow(raw)
		if err != nil {
			klog.Warningf("ignoring bad peak window %q: %v", raw, err)
			continue
		}
		peaks = append(peaks, w)
	}
	return peaks
}

// peakOverlapMinutes totals the peak minutes a charging window touches.
func peakOverlapMinutes(start time.Time, durationMin int, peaks []timeutil.Window) int {
	w := timeutil.Window{
		Start: timeutil.MinutesOfDay(start),
		End:   timeutil.MinutesOfDay(start) + durationMin,
	}
	total := 0
	for _, peak := range peaks {
		total += timeutil.OverlapMinutes(w, peak)
	}
	return total
}

// ComputePlan searches for a charging window that fills the need before its
// deadline while avoiding peak hours. Strategies are tried in order of
// decreasing comfort; the final fallback always yields a plan. A nil plan
// with nil error means the target is already met.
func ComputePlan(need Need, currentPercent int, now time.Time) (*ChargingPlan, error) {
	h := RequiredHours(currentPercent, need.TargetPercent)
	if h == 0 {
		return nil, nil
	}
	durationMin := int(h * 60)
	charge := time.Duration(durationMin) * time.Minute
	safety := time.Duration(config.GetSafetyBufferHours() * float64(time.Hour))
	peaks := peakWindows()
	deadline := need.Deadline

	accept := func(start time.Time, sendLead time.Duration, strategy int) *ChargingPlan {
		return &ChargingPlan{
			ChargingStart:  start,
			ChargingEnd:    start.Add(charge),
			SendScheduleAt: start.Add(-sendLead),
			RequiredHours:  h,
			Strategy:       strategy,
		}
	}
	viable := func(start time.Time, sendLead time.Duration) bool {
		return peakOverlapMinutes(start, durationMin, peaks) == 0 &&
			start.Add(-sendLead).After(now)
	}

	// standard lead: latest start that leaves the safety buffer, floored to
	// the hour
	latestStart := timeutil.FloorToHour(deadline.Add(-charge - safety))
	if viable(latestStart, 2*time.Hour) {
		return accept(latestStart, 2*time.Hour, 1), nil
	}

	// earlier starts, plus the morning and previous-evening anchors
	maxLead := int(config.GetMaxAdvanceHours())
	candidates := make([]time.Time, 0, maxLead+2)
	for k := 1; k <= maxLead; k++ {
		candidates = append(candidates,
			timeutil.FloorToHour(deadline.Add(-charge-time.Duration(k)*time.Hour)))
	}
	// the "end at 06:00" and "previous evening 22:00" anchors
	candidates = append(candidates,
		timeutil.AtClock(deadline, 6*60).Add(-charge),
		timeutil.AtClock(deadline.AddDate(0, 0, -1), 22*60))
	for _, start := range candidates {
		if start.Add(charge).After(deadline) {
			continue
		}
		if viable(start, 2*time.Hour) {
			return accept(start, 2*time.Hour, 2), nil
		}
	}

	// minimal collision: shift around the standard window, tolerate up to
	// half the charge time inside peaks
	bestOverlap := durationMin
	var bestStart time.Time
	for offset := -3; offset <= 1; offset++ {
		start := latestStart.Add(time.Duration(offset) * time.Hour)
		if !start.Add(-2 * time.Hour).After(now) {
			continue
		}
		overlap := peakOverlapMinutes(start, durationMin, peaks)
		if overlap*2 <= durationMin && overlap < bestOverlap {
			bestOverlap = overlap
			bestStart = start
		}
	}
	if !bestStart.IsZero() {
		return accept(bestStart, 2*time.Hour, 3), nil
	}

	// unconditional fallback with a reduced buffer
	start := deadline.Add(-charge - 30*time.Minute).Truncate(time.Minute)
	klog.Warningf("no peak-free charging window before %s, falling back to %s despite peaks",
		deadline.Format("2006-01-02 15:04"), start.Format("15:04"))
	return accept(start, time.Hour, 4), nil
}
