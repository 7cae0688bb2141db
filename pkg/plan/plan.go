/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

// Package plan holds the charging-plan value types shared by the off-peak
// reconciler and the special-charging planner.
package plan

import (
	"fmt"
	"sort"

	"github.com/mitchellh/hashstructure/v2"

	"github.com/mac923/offpeak-controller/pkg/utils/timeutil"
)

// Slot is one charging window of a plan, in local minutes of day.
// EndMinutes may exceed one day when the window wraps midnight; the vehicle
// gateway folds it back onto the wire. Slot order inside a Plan is the
// plan's authoritative priority.
type Slot struct {
	StartMinutes int     `json:"start_minutes"`
	EndMinutes   int     `json:"end_minutes"`
	EnergyKwh    float64 `json:"energy_kwh"`
	Cost         float64 `json:"cost"`
}

// Window returns the slot as an interval for overlap math.
func (s Slot) Window() timeutil.Window {
	return timeutil.Window{Start: s.StartMinutes, End: s.EndMinutes}
}

// Plan is an ordered list of charging slots. Earlier slots dominate later
// slots on conflict.
type Plan struct {
	Slots []Slot `json:"slots"`
}

// TotalEnergyKwh sums the energy across all slots.
func (p *Plan) TotalEnergyKwh() float64 {
	var total float64
	for _, s := range p.Slots {
		total += s.EnergyKwh
	}
	return total
}

// IsEmpty reports whether the plan carries no usable charging work.
func (p *Plan) IsEmpty() bool {
	return len(p.Slots) == 0 || p.TotalEnergyKwh() == 0
}

// hashTriple is the canonical content of a slot for hashing purposes. Cost
// deliberately excluded: two plans that charge the same windows with the
// same energy are the same plan.
type hashTriple struct {
	Start  int
	End    int
	Energy float64
}

// Hash returns a content hash of the plan: slots sorted by start time,
// fields start/end/energy. Two plans hash equal iff their sorted triples
// are equal.
func (p *Plan) Hash() (string, error) {
	triples := make([]hashTriple, 0, len(p.Slots))
	for _, s := range p.Slots {
		triples = append(triples, hashTriple{Start: s.StartMinutes, End: s.EndMinutes, Energy: s.EnergyKwh})
	}
	sort.Slice(triples, func(i, j int) bool {
		if triples[i].Start != triples[j].Start {
			return triples[i].Start < triples[j].Start
		}
		return triples[i].End < triples[j].End
	})
	sum, err := hashstructure.Hash(triples, hashstructure.FormatV2, nil)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%016x", sum), nil
}
