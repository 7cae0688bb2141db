/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package scout

import (
	"fmt"

	"github.com/mac923/offpeak-controller/pkg/fleet"
	"github.com/mac923/offpeak-controller/pkg/store"
)

// Verdict is the closed set of outcomes a sample can produce. Every input
// tuple maps to exactly one verdict; the sampler acts on the verdict, never
// on the raw fields.
type Verdict string

const (
	// VerdictFirstInit fires when no last-known state exists yet.
	VerdictFirstInit Verdict = "first_init"
	// VerdictOffPeak fires on entry into (online, home, charging-ready).
	VerdictOffPeak Verdict = "offpeak_entry"
	// VerdictSteady means nothing changed that anyone needs to act on.
	VerdictSteady Verdict = "steady"
	// VerdictOpenCase marks the plugged-out transition that opens a
	// monitoring case.
	VerdictOpenCase Verdict = "open_monitoring_case"
	// VerdictWake fires when a monitored vehicle went offline.
	VerdictWake Verdict = "wake_offline"
	// VerdictArrival logs a return home without further action.
	VerdictArrival Verdict = "arrival"
	// VerdictDeparture logs leaving home without further action.
	VerdictDeparture Verdict = "departure"
	// VerdictLocationUnknown means GPS dropped out while home; the location
	// is treated as unchanged.
	VerdictLocationUnknown Verdict = "location_unknown"
)

// Decision is the evaluator output: the verdict, whether the Worker must be
// invoked, and a log-ready reason.
type Decision struct {
	Verdict       Verdict
	TriggerWorker bool
	Reason        string
}

// Input is the full tuple the evaluator judges: the current observation with
// its derived predicates, the stored previous state (nil on first boot),
// whether a monitoring case is open, and whether an ACTIVE special session
// exists for the VIN.
type Input struct {
	Observation   *fleet.VehicleObservation
	AtHome        bool
	ChargingReady bool
	HasLocation   bool
	Last          *store.LastKnownState
	CaseOpen      bool
	ActiveSession bool
}

// wasReadyAtHome reports whether the previous sample was the steady
// (online, home, charging-ready) tuple.
func wasReadyAtHome(last *store.LastKnownState) bool {
	return last != nil && last.Observation.State == fleet.StateOnline &&
		last.AtHome && last.ChargingReady
}

// EffectiveAtHome applies the location-unknown rule: when an online sample
// carries no GPS fix, the previous at-home value carries forward. Both the
// verdict and the persisted state must use this value, otherwise one
// GPS-dropout sample would silently turn a home vehicle into an away one.
func EffectiveAtHome(atHome, hasLocation bool, last *store.LastKnownState) bool {
	if !hasLocation && last != nil {
		return last.AtHome
	}
	return atHome
}

// Evaluate maps one sample tuple to its decision. Non-online observations
// carry no fields beyond vin/state/time, and none are consulted here.
func Evaluate(in Input) Decision {
	if in.Last == nil {
		return Decision{Verdict: VerdictFirstInit, TriggerWorker: true,
			Reason: "no last known state, initializing"}
	}

	if in.Observation.State != fleet.StateOnline {
		if in.CaseOpen && in.Observation.State == fleet.StateOffline &&
			in.Last.Observation.State == fleet.StateOnline && in.Last.AtHome && !in.Last.ChargingReady {
			return Decision{Verdict: VerdictWake, TriggerWorker: true,
				Reason: "monitored vehicle went offline, wake needed"}
		}
		return Decision{Verdict: VerdictSteady,
			Reason: fmt.Sprintf("vehicle %s, nothing to do", in.Observation.State)}
	}

	// GPS dropout while home: treat the location as unchanged.
	atHome := EffectiveAtHome(in.AtHome, in.HasLocation, in.Last)
	locationLost := !in.HasLocation && in.Last.AtHome

	switch {
	case atHome && in.ChargingReady:
		if wasReadyAtHome(in.Last) {
			return Decision{Verdict: VerdictSteady, Reason: "steady at home and charging-ready"}
		}
		if in.ActiveSession {
			// a special session owns the vehicle right now
			return Decision{Verdict: VerdictSteady,
				Reason: "charging-ready at home but an active special session exists"}
		}
		return Decision{Verdict: VerdictOffPeak, TriggerWorker: true,
			Reason: "became charging-ready at home"}

	case atHome && !in.ChargingReady:
		if !in.Last.AtHome {
			return Decision{Verdict: VerdictArrival, Reason: "arrived home, cable not connected"}
		}
		if wasReadyAtHome(in.Last) {
			return Decision{Verdict: VerdictOpenCase,
				Reason: "cable disconnected at home, monitoring for offline"}
		}
		if locationLost {
			return Decision{Verdict: VerdictLocationUnknown,
				Reason: "no GPS fix, keeping last known location"}
		}
		return Decision{Verdict: VerdictSteady, Reason: "at home, not charging-ready, no transition"}

	default: // not at home
		if in.Last.AtHome {
			return Decision{Verdict: VerdictDeparture, Reason: "left home"}
		}
		return Decision{Verdict: VerdictSteady, Reason: "away from home, no transition"}
	}
}
