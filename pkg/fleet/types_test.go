/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package fleet

import (
	"testing"

	"gotest.tools/assert"
)

func strPtr(s string) *string { return &s }

func floatPtr(f float64) *float64 { return &f }

func intPtr(i int) *int { return &i }

func TestChargingReady(t *testing.T) {
	tests := []struct {
		name  string
		obs   VehicleObservation
		ready bool
	}{
		{"charging", VehicleObservation{ChargingState: strPtr("Charging")}, true},
		{"complete", VehicleObservation{ChargingState: strPtr("Complete")}, true},
		{"stopped with cable", VehicleObservation{ChargingState: strPtr("Stopped"), ConnCable: strPtr("IEC")}, true},
		{"cable only", VehicleObservation{ConnCable: strPtr("SAE")}, true},
		{"disconnected", VehicleObservation{ChargingState: strPtr("Disconnected"), ConnCable: strPtr("")}, false},
		{"unknown cable", VehicleObservation{ConnCable: strPtr("Unknown")}, false},
		{"invalid cable", VehicleObservation{ConnCable: strPtr("<invalid>")}, false},
		{"nothing", VehicleObservation{}, false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.obs.ChargingReady(), test.ready)
		})
	}
}

func TestAtHome(t *testing.T) {
	homeLat, homeLon, radius := 52.2297, 21.0122, 0.002
	obs := VehicleObservation{Latitude: floatPtr(52.2300), Longitude: floatPtr(21.0120)}
	assert.Equal(t, obs.AtHome(homeLat, homeLon, radius), true)

	away := VehicleObservation{Latitude: floatPtr(52.4000), Longitude: floatPtr(21.0120)}
	assert.Equal(t, away.AtHome(homeLat, homeLon, radius), false)

	noGps := VehicleObservation{}
	assert.Equal(t, noGps.AtHome(homeLat, homeLon, radius), false)
	assert.Equal(t, noGps.HasLocation(), false)
}

func TestDaysMask(t *testing.T) {
	assert.Equal(t, daysMaskForLabel(DaysAll), uint8(0x7f))
	assert.Equal(t, daysMaskForLabel(DaysWeekdays), uint8(0x3e))
	assert.Equal(t, daysMaskForLabel("Sunday,Saturday"), uint8(0x41))
	assert.Equal(t, labelForDaysMask(0x7f), DaysAll)
	assert.Equal(t, labelForDaysMask(0x3e), DaysWeekdays)
	assert.Equal(t, labelForDaysMask(0x41), "Sunday,Saturday")
}

func TestScheduleWireRoundTrip(t *testing.T) {
	s := &ChargeSchedule{
		Enabled:      true,
		StartMinutes: intPtr(1410),
		EndMinutes:   intPtr(1530), // unwrapped 01:30 next day
		StartEnabled: true,
		EndEnabled:   true,
		DaysOfWeek:   DaysAll,
		Latitude:     52.2297,
		Longitude:    21.0122,
	}
	w := toWire(s)
	// normalized back onto the wire: end < start carries the wrap
	assert.Equal(t, *w.StartTime, 1410)
	assert.Equal(t, *w.EndTime, 90)

	back := fromWire(w)
	assert.Equal(t, *back.StartMinutes, 1410)
	assert.Equal(t, *back.EndMinutes, 90)
	assert.Equal(t, back.DaysOfWeek, DaysAll)
}

func TestScheduleWireNextMidnight(t *testing.T) {
	s := &ChargeSchedule{StartMinutes: intPtr(1439), EndMinutes: intPtr(1440)}
	w := toWire(s)
	// end = 1440 is legal and means "00:00 next day"
	assert.Equal(t, *w.EndTime, 1440)
}

func TestFilterHome(t *testing.T) {
	home := &ChargeSchedule{Latitude: 52.2297, Longitude: 21.0122}
	away := &ChargeSchedule{Latitude: 50.0614, Longitude: 19.9366}
	got := FilterHome([]*ChargeSchedule{home, away}, 52.2297, 21.0122, 0.002)
	assert.Equal(t, len(got), 1)
	assert.Equal(t, got[0], home)
}
