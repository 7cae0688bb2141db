/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package fleet

import (
	"math"
	"strings"
	"time"

	"github.com/mac923/offpeak-controller/pkg/utils/timeutil"
)

// VehicleState is the coarse availability of a vehicle as reported by the
// cloud API.
type VehicleState string

const (
	StateOnline  VehicleState = "online"
	StateAsleep  VehicleState = "asleep"
	StateOffline VehicleState = "offline"
)

// VehicleObservation is a single sample of vehicle state. Only Vin, State and
// ObservedAt are meaningful unless State is online; the optional fields stay
// nil otherwise.
type VehicleObservation struct {
	Vin            string       `json:"vin"`
	State          VehicleState `json:"state"`
	BatteryPercent *int         `json:"battery_percent,omitempty"`
	ChargingState  *string      `json:"charging_state,omitempty"`
	ConnCable      *string      `json:"conn_cable,omitempty"`
	Latitude       *float64     `json:"lat,omitempty"`
	Longitude      *float64     `json:"lon,omitempty"`
	ObservedAt     time.Time    `json:"observed_at"`
}

// AtHome evaluates the home predicate against the configured coordinates.
// Returns false when the observation has no location.
func (o *VehicleObservation) AtHome(homeLat, homeLon, radius float64) bool {
	if o.Latitude == nil || o.Longitude == nil {
		return false
	}
	dLat := *o.Latitude - homeLat
	dLon := *o.Longitude - homeLon
	return math.Sqrt(dLat*dLat+dLon*dLon) <= radius
}

// HasLocation reports whether the observation carries GPS data. Location can
// be withheld by privacy-restricted telemetry even while online.
func (o *VehicleObservation) HasLocation() bool {
	return o.Latitude != nil && o.Longitude != nil
}

// ChargingReady reports whether the vehicle could charge right now: either it
// is already charging (or done), or a cable is plugged in.
func (o *VehicleObservation) ChargingReady() bool {
	if o.ChargingState != nil {
		switch *o.ChargingState {
		case "Charging", "Complete":
			return true
		}
	}
	if o.ConnCable == nil {
		return false
	}
	switch *o.ConnCable {
	case "", "Unknown", "<invalid>":
		return false
	}
	return true
}

// Days-of-week labels accepted on a ChargeSchedule.
const (
	DaysAll      = "All"
	DaysWeekdays = "Weekdays"
)

// ChargeSchedule is a vehicle-side charging window. Start/End are minutes of
// local day; End may be MinutesPerDay meaning next midnight, and End < Start
// encodes a window wrapping past midnight.
type ChargeSchedule struct {
	Id           uint64  `json:"id,omitempty"`
	Enabled      bool    `json:"enabled"`
	StartMinutes *int    `json:"start_minutes_of_day,omitempty"`
	EndMinutes   *int    `json:"end_minutes_of_day,omitempty"`
	StartEnabled bool    `json:"start_enabled"`
	EndEnabled   bool    `json:"end_enabled"`
	DaysOfWeek   string  `json:"days_of_week"`
	Latitude     float64 `json:"lat"`
	Longitude    float64 `json:"lon"`
	OneTime      bool    `json:"one_time"`
}

// Window returns the schedule's charging window in minutes of day. The wire
// normalization keeps End within [0, MinutesPerDay]; wrap is implicit in
// End < Start.
func (s *ChargeSchedule) Window() timeutil.Window {
	w := timeutil.Window{}
	if s.StartMinutes != nil {
		w.Start = *s.StartMinutes
	}
	if s.EndMinutes != nil {
		w.End = *s.EndMinutes
	}
	return w
}

// IsHome reports whether the schedule's coordinates lie within radius of the
// given home location.
func (s *ChargeSchedule) IsHome(homeLat, homeLon, radius float64) bool {
	dLat := s.Latitude - homeLat
	dLon := s.Longitude - homeLon
	return math.Sqrt(dLat*dLat+dLon*dLon) <= radius
}

// daysMaskForLabel converts a days-of-week label ("All", "Weekdays", or a
// comma list of day names) to the wire bitmask, bit i <-> weekday i with
// Sunday = 0.
func daysMaskForLabel(label string) uint8 {
	switch label {
	case DaysAll, "":
		return 0x7f
	case DaysWeekdays:
		return 0x3e // Monday..Friday
	}
	var mask uint8
	for _, name := range strings.Split(label, ",") {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "sunday":
			mask |= 1 << 0
		case "monday":
			mask |= 1 << 1
		case "tuesday":
			mask |= 1 << 2
		case "wednesday":
			mask |= 1 << 3
		case "thursday":
			mask |= 1 << 4
		case "friday":
			mask |= 1 << 5
		case "saturday":
			mask |= 1 << 6
		}
	}
	if mask == 0 {
		mask = 0x7f
	}
	return mask
}

// labelForDaysMask is the inverse of daysMaskForLabel for the two canonical
// masks; anything else is rendered as a comma list.
func labelForDaysMask(mask uint8) string {
	switch mask & 0x7f {
	case 0x7f, 0:
		return DaysAll
	case 0x3e:
		return DaysWeekdays
	}
	names := []string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}
	var picked []string
	for i, name := range names {
		if mask&(1<<uint(i)) != 0 {
			picked = append(picked, name)
		}
	}
	return strings.Join(picked, ",")
}
