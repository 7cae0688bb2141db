/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package fleet

import (
	"github.com/mac923/offpeak-controller/pkg/utils/timeutil"
)

// scheduleWire is the charge-schedule shape on the vehicle wire.
// start_time/end_time are minutes of local day, days_of_week is a bitmask
// with bit i <-> weekday i (Sunday = 0).
type scheduleWire struct {
	Id           uint64  `json:"id,omitempty"`
	Enabled      bool    `json:"enabled"`
	StartTime    *int    `json:"start_time,omitempty"`
	EndTime      *int    `json:"end_time,omitempty"`
	StartEnabled bool    `json:"start_enabled"`
	EndEnabled   bool    `json:"end_enabled"`
	DaysOfWeek   uint8   `json:"days_of_week"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	OneTime      bool    `json:"one_time"`
}

// toWire converts a ChargeSchedule to the vehicle encoding. An end time that
// was unwrapped past one day (overlap math allows end > 1440) is folded back;
// end < start then carries the wrap implicitly. end == 1440 is kept as-is,
// meaning next midnight.
func toWire(s *ChargeSchedule) *scheduleWire {
	w := &scheduleWire{
		Id:           s.Id,
		Enabled:      s.Enabled,
		StartEnabled: s.StartEnabled,
		EndEnabled:   s.EndEnabled,
		DaysOfWeek:   daysMaskForLabel(s.DaysOfWeek),
		Latitude:     s.Latitude,
		Longitude:    s.Longitude,
		OneTime:      s.OneTime,
	}
	if s.StartMinutes != nil {
		start := *s.StartMinutes % timeutil.MinutesPerDay
		w.StartTime = &start
	}
	if s.EndMinutes != nil {
		end := *s.EndMinutes
		if end > timeutil.MinutesPerDay {
			end = end % timeutil.MinutesPerDay
		}
		w.EndTime = &end
	}
	return w
}

// fromWire converts a vehicle-side schedule back to the domain type.
func fromWire(w *scheduleWire) *ChargeSchedule {
	return &ChargeSchedule{
		Id:           w.Id,
		Enabled:      w.Enabled,
		StartMinutes: w.StartTime,
		EndMinutes:   w.EndTime,
		StartEnabled: w.StartEnabled,
		EndEnabled:   w.EndEnabled,
		DaysOfWeek:   labelForDaysMask(w.DaysOfWeek),
		Latitude:     w.Latitude,
		Longitude:    w.Longitude,
		OneTime:      w.OneTime,
	}
}

// FilterHome returns the schedules whose coordinates lie within radius of
// home. Only these are subject to off-peak reconciliation.
func FilterHome(schedules []*ChargeSchedule, homeLat, homeLon, radius float64) []*ChargeSchedule {
	var result []*ChargeSchedule
	for _, s := range schedules {
		if s.IsHome(homeLat, homeLon, radius) {
			result = append(result, s)
		}
	}
	return result
}
