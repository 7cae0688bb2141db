/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package store

import (
	"fmt"
	"time"

	"github.com/mac923/offpeak-controller/pkg/fleet"
	"github.com/mac923/offpeak-controller/pkg/plan"
)

// LastKnownState is the most recent observation per VIN plus the derived
// predicates the condition evaluator compares against. The previously stored
// record is the "previous" side of every transition check.
type LastKnownState struct {
	Vin           string                   `json:"vin"`
	Observation   fleet.VehicleObservation `json:"observation"`
	AtHome        bool                     `json:"at_home"`
	ChargingReady bool                     `json:"charging_ready"`
	HasLocation   bool                     `json:"has_location"`
	UpdatedAt     time.Time                `json:"updated_at"`
}

// MonitoringCase states.
const (
	CaseIdle              = "IDLE"
	CaseWaitingForOffline = "WAITING_FOR_OFFLINE"
	CaseVehicleAwoken     = "VEHICLE_AWOKEN"
)

// MonitoringCase tracks a vehicle that is home and plugged-out: opened on
// condition-B entry, closed when condition A obtains or after the vehicle
// went offline and was awoken. At most one case exists per VIN.
type MonitoringCase struct {
	CaseId             string     `json:"case_id"`
	Vin                string     `json:"vin"`
	StartTime          time.Time  `json:"start_time"`
	State              string     `json:"state"`
	LastBatteryPercent *int       `json:"last_battery_percent,omitempty"`
	LastCheckTime      *time.Time `json:"last_check_time,omitempty"`
}

// SpecialChargingSession statuses.
const (
	SessionScheduled = "SCHEDULED"
	SessionActive    = "ACTIVE"
	SessionCompleted = "COMPLETED"
)

// SpecialSession is a user-declared "reach X% by time T" request
// materialized with a scheduled dispatch and cleanup.
type SpecialSession struct {
	SessionId           string    `json:"session_id"`
	Vin                 string    `json:"vin"`
	Status              string    `json:"status"`
	TargetPercent       int       `json:"target_percent"`
	TargetTime          time.Time `json:"target_datetime"`
	ChargingStart       time.Time `json:"charging_start"`
	ChargingEnd         time.Time `json:"charging_end"`
	SendScheduleAt      time.Time `json:"send_schedule_at"`
	SheetRow            int       `json:"sheets_row"`
	OriginalChargeLimit *int      `json:"original_charge_limit,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	ChargingPlan        plan.Plan `json:"charging_plan"`
	CompletedReason     string    `json:"completed_reason,omitempty"`
	FinalBatteryLevel   *int      `json:"final_battery_level,omitempty"`
}

// sessionRank orders statuses along the only legal direction.
func sessionRank(status string) int {
	switch status {
	case SessionScheduled:
		return 0
	case SessionActive:
		return 1
	case SessionCompleted:
		return 2
	}
	return -1
}

// Advance moves the session to the given status, refusing regressions:
// SCHEDULED -> ACTIVE -> COMPLETED only.
func (s *SpecialSession) Advance(status string) error {
	from, to := sessionRank(s.Status), sessionRank(status)
	if to < 0 {
		return fmt.Errorf("unknown session status %q", status)
	}
	if to <= from {
		return fmt.Errorf("illegal session transition %s -> %s", s.Status, status)
	}
	s.Status = status
	return nil
}

// SessionName derives the deterministic session id from the sheet row and
// the target time: "special_{row}_{YYYYMMDD_HHMM}".
func SessionName(row int, target time.Time) string {
	return fmt.Sprintf("special_%d_%s", row, target.Format("20060102_1504"))
}

// Stats is the read-side summary served by /worker-status and /reset.
type Stats struct {
	LastKnownStates int `json:"last_known_states"`
	MonitoringCases int `json:"monitoring_cases"`
	Sessions        int `json:"sessions"`
	ActiveSessions  int `json:"active_sessions"`
	PlanHashes      int `json:"plan_hashes"`
}
