/*
 * Copyright (C) 2025-2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package timeutil

import (
	"testing"
	"time"

	"gotest.tools/assert"
)

func TestParseClockRoundTrip(t *testing.T) {
	for _, m := range []int{0, 1, 59, 60, 719, 720, 1439} {
		parsed, err := ParseClock(FormatClock(m))
		assert.NilError(t, err)
		assert.Equal(t, parsed, m)
	}
}

func TestParseClockInvalid(t *testing.T) {
	for _, s := range []string{"", "25:00", "12:60", "12", "ab:cd"} {
		_, err := ParseClock(s)
		assert.Assert(t, err != nil, "expected error for %q", s)
	}
}

func TestParseWindow(t *testing.T) {
	w, err := ParseWindow("06:00-10:00")
	assert.NilError(t, err)
	assert.Equal(t, w, Window{Start: 360, End: 600})

	_, err = ParseWindow("06:00")
	assert.Assert(t, err != nil)
}

func TestUnwrap(t *testing.T) {
	// 23:30-00:30 wraps to [1410, 1470)
	assert.Equal(t, Unwrap(Window{Start: 1410, End: 30}), Window{Start: 1410, End: 1470})
	// end=1440 means next midnight and is already unwrapped
	assert.Equal(t, Unwrap(Window{Start: 1439, End: 1440}), Window{Start: 1439, End: 1440})
	assert.Equal(t, Unwrap(Window{Start: 360, End: 600}), Window{Start: 360, End: 600})
}

func TestDuration(t *testing.T) {
	assert.Equal(t, Duration(Window{Start: 1410, End: 90}), 120)
	assert.Equal(t, Duration(Window{Start: 1439, End: 1440}), 1)
	assert.Equal(t, Duration(Window{Start: 780, End: 900}), 120)
}

func TestOverlaps(t *testing.T) {
	tests := []struct {
		name string
		a, b Window
		want bool
	}{
		{"disjoint", Window{720, 794}, Window{1200, 1260}, false},
		{"contained", Window{720, 794}, Window{660, 900}, true},
		{"touching edges", Window{720, 794}, Window{794, 840}, false},
		{"wrapped vs early morning", Window{1410, 90}, Window{0, 60}, true},
		{"wrapped vs late evening", Window{1410, 90}, Window{1380, 1430}, true},
		{"wrapped vs midday", Window{1410, 90}, Window{720, 780}, false},
		{"both wrapped", Window{1410, 90}, Window{1380, 30}, true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, Overlaps(test.a, test.b), test.want)
			assert.Equal(t, Overlaps(test.b, test.a), test.want)
		})
	}
}

func TestOverlapMinutes(t *testing.T) {
	assert.Equal(t, OverlapMinutes(Window{1410, 90}, Window{0, 60}), 60)
	assert.Equal(t, OverlapMinutes(Window{360, 600}, Window{480, 720}), 120)
	assert.Equal(t, OverlapMinutes(Window{360, 600}, Window{600, 720}), 0)
}

func TestContainsMinute(t *testing.T) {
	assert.Equal(t, ContainsMinute(Window{1410, 90}, 1420), true)
	assert.Equal(t, ContainsMinute(Window{1410, 90}, 30), true)
	assert.Equal(t, ContainsMinute(Window{1410, 90}, 90), false)
	assert.Equal(t, ContainsMinute(Window{360, 600}, 360), true)
	assert.Equal(t, ContainsMinute(Window{360, 600}, 600), false)
}

func TestCronSingleFire(t *testing.T) {
	at := time.Date(2025, 3, 14, 1, 0, 0, 0, time.UTC)
	spec, err := CronSingleFire(at)
	assert.NilError(t, err)
	assert.Equal(t, spec, "0 1 14 3 *")
}

func TestAtClock(t *testing.T) {
	day := time.Date(2025, 3, 14, 17, 22, 5, 0, time.UTC)
	got := AtClock(day, 1410)
	assert.Equal(t, got, time.Date(2025, 3, 14, 23, 30, 0, 0, time.UTC))
	assert.Equal(t, MinutesOfDay(got), 1410)
}
