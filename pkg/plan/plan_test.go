/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package plan

import (
	"testing"

	"gotest.tools/assert"
)

func TestHashStableUnderOrder(t *testing.T) {
	a := &Plan{Slots: []Slot{
		{StartMinutes: 720, EndMinutes: 794, EnergyKwh: 10, Cost: 4.2},
		{StartMinutes: 1200, EndMinutes: 1260, EnergyKwh: 5, Cost: 1.1},
	}}
	b := &Plan{Slots: []Slot{
		{StartMinutes: 1200, EndMinutes: 1260, EnergyKwh: 5, Cost: 9.9},
		{StartMinutes: 720, EndMinutes: 794, EnergyKwh: 10, Cost: 0},
	}}
	ha, err := a.Hash()
	assert.NilError(t, err)
	hb, err := b.Hash()
	assert.NilError(t, err)
	// same sorted (start, end, energy) triples: same hash, cost ignored
	assert.Equal(t, ha, hb)
}

func TestHashChangesWithContent(t *testing.T) {
	a := &Plan{Slots: []Slot{{StartMinutes: 720, EndMinutes: 794, EnergyKwh: 10}}}
	b := &Plan{Slots: []Slot{{StartMinutes: 720, EndMinutes: 794, EnergyKwh: 11}}}
	c := &Plan{Slots: []Slot{{StartMinutes: 721, EndMinutes: 794, EnergyKwh: 10}}}
	ha, _ := a.Hash()
	hb, _ := b.Hash()
	hc, _ := c.Hash()
	assert.Assert(t, ha != hb)
	assert.Assert(t, ha != hc)
}

func TestIsEmpty(t *testing.T) {
	assert.Equal(t, (&Plan{}).IsEmpty(), true)
	assert.Equal(t, (&Plan{Slots: []Slot{{StartMinutes: 0, EndMinutes: 60, EnergyKwh: 0}}}).IsEmpty(), true)
	assert.Equal(t, (&Plan{Slots: []Slot{{StartMinutes: 0, EndMinutes: 60, EnergyKwh: 3}}}).IsEmpty(), false)
}
