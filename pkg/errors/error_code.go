/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

const ChargePrefix = "Charge."

/*
   5-digit Error Code Convention: [xx][yyy]
   [xx] Business ID (00–99), used to distinguish errors from different components.
   00: General errors
   01: Vehicle-related errors
   02: Token-related errors
   03: Signing-proxy errors
   04: Planner-related errors
   05: Session-related errors
   06: One-shot-job errors
   [yyy] Error code range (000–999)
*/

// public: 00xxx
const (
	InternalError         = ChargePrefix + "00001"
	BadRequest            = ChargePrefix + "00002"
	Forbidden             = ChargePrefix + "00003"
	AlreadyExist          = ChargePrefix + "00004"
	NotFound              = ChargePrefix + "00005"
	RequestEntityTooLarge = ChargePrefix + "00006"
	Unauthorized          = ChargePrefix + "00007"
	CycleTimeout          = ChargePrefix + "00008"
)

// vehicle: 01xxx
const (
	VehicleOffline = ChargePrefix + "01001"
	VehicleAsleep  = ChargePrefix + "01002"
	VehicleTimeout = ChargePrefix + "01003"
)

// token: 02xxx
const (
	AuthExpired      = ChargePrefix + "02001"
	AuthForbidden    = ChargePrefix + "02002"
	TokenUnavailable = ChargePrefix + "02003"
)

// proxy: 03xxx
const (
	ProxyRequired      = ChargePrefix + "03001"
	PrivateKeyNotReady = ChargePrefix + "03002"
)

// planner: 04xxx
const (
	PlannerUnavailable = ChargePrefix + "04001"
	SheetRowMalformed  = ChargePrefix + "04002"
	OverlapConflict    = ChargePrefix + "04003"
)

// session: 05xxx
const (
	SessionNotFound     = ChargePrefix + "05001"
	SessionInvalidState = ChargePrefix + "05002"
)

// jobs: 06xxx
const (
	JobAlreadyExists = ChargePrefix + "06001"
	JobNotFound      = ChargePrefix + "06002"
)

// IsCharge returns true if the specified error carries a Charge error code.
func IsCharge(err error) bool {
	if err == nil {
		return false
	}
	return strings.HasPrefix(CodeForError(err), ChargePrefix)
}

// CodeForError returns the error code of err, or "" if err carries none.
func CodeForError(err error) string {
	var apiErr *ApiError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode
	}
	return ""
}

func IsInternal(err error) bool {
	return CodeForError(err) == InternalError
}

func IsBadRequest(err error) bool {
	return CodeForError(err) == BadRequest
}

func IsNotFound(err error) bool {
	code := CodeForError(err)
	return code == NotFound || code == SessionNotFound || code == JobNotFound
}

func IsAlreadyExist(err error) bool {
	code := CodeForError(err)
	return code == AlreadyExist || code == JobAlreadyExists
}

func IsAuthExpired(err error) bool {
	return CodeForError(err) == AuthExpired
}

func IsAuthForbidden(err error) bool {
	return CodeForError(err) == AuthForbidden
}

func IsVehicleOffline(err error) bool {
	return CodeForError(err) == VehicleOffline
}

func IsVehicleAsleep(err error) bool {
	return CodeForError(err) == VehicleAsleep
}

func IsProxyRequired(err error) bool {
	return CodeForError(err) == ProxyRequired
}

func IsPrivateKeyNotReady(err error) bool {
	return CodeForError(err) == PrivateKeyNotReady
}

func IsPlannerUnavailable(err error) bool {
	return CodeForError(err) == PlannerUnavailable
}

func IsCycleTimeout(err error) bool {
	return CodeForError(err) == CycleTimeout
}

func IgnoreFound(err error) error {
	if err == nil || IsNotFound(err) {
		return nil
	}
	return err
}

func NewInternalError(message string) *ApiError {
	return newApiError(http.StatusInternalServerError, InternalError,
		fmt.Sprintf("Internal error. %s", message))
}

func NewBadRequest(message string) *ApiError {
	return newApiError(http.StatusBadRequest, BadRequest,
		fmt.Sprintf("Bad request. %s", message))
}

func NewForbidden(message string) *ApiError {
	return newApiError(http.StatusForbidden, Forbidden, message)
}

func NewAlreadyExist(message string) *ApiError {
	return newApiError(http.StatusConflict, AlreadyExist, message)
}

func NewNotFound(message string) *ApiError {
	return newApiError(http.StatusNotFound, NotFound, message)
}

func NewRequestEntityTooLargeError(message string) *ApiError {
	return newApiError(http.StatusRequestEntityTooLarge, RequestEntityTooLarge, message)
}

func NewUnauthorized(message string) *ApiError {
	return newApiError(http.StatusUnauthorized, Unauthorized, message)
}

func NewCycleTimeout(message string) *ApiError {
	return newApiError(http.StatusGatewayTimeout, CycleTimeout, message)
}

func NewVehicleOffline(vin string) *ApiError {
	return newApiError(http.StatusConflict, VehicleOffline, vehicleRef(vin)+" is offline")
}

func NewVehicleAsleep(vin string) *ApiError {
	return newApiError(http.StatusConflict, VehicleAsleep, vehicleRef(vin)+" is asleep")
}

func NewVehicleTimeout(vin string) *ApiError {
	return newApiError(http.StatusGatewayTimeout, VehicleTimeout, vehicleRef(vin)+" did not answer in time")
}

func vehicleRef(vin string) string {
	if vin == "" {
		return "vehicle"
	}
	return fmt.Sprintf("vehicle %s", LastFour(vin))
}

func NewAuthExpired(message string) *ApiError {
	return newApiError(http.StatusUnauthorized, AuthExpired, message)
}

func NewAuthForbidden(message string) *ApiError {
	return newApiError(http.StatusForbidden, AuthForbidden, message)
}

func NewTokenUnavailable(message string) *ApiError {
	return newApiError(http.StatusInternalServerError, TokenUnavailable, message)
}

func NewProxyRequired(message string) *ApiError {
	return newApiError(http.StatusServiceUnavailable, ProxyRequired, message)
}

func NewPrivateKeyNotReady(message string) *ApiError {
	return newApiError(http.StatusInternalServerError, PrivateKeyNotReady, message)
}

func NewPlannerUnavailable(message string) *ApiError {
	return newApiError(http.StatusBadGateway, PlannerUnavailable, message)
}

func NewSheetRowMalformed(message string) *ApiError {
	return newApiError(http.StatusUnprocessableEntity, SheetRowMalformed, message)
}

func NewOverlapConflict(message string) *ApiError {
	return newApiError(http.StatusConflict, OverlapConflict, message)
}

func NewSessionNotFound(sessionId string) *ApiError {
	return newApiError(http.StatusNotFound, SessionNotFound,
		fmt.Sprintf("session %s not found", sessionId))
}

func NewSessionInvalidState(message string) *ApiError {
	return newApiError(http.StatusConflict, SessionInvalidState, message)
}

func NewJobAlreadyExists(name string) *ApiError {
	return newApiError(http.StatusConflict, JobAlreadyExists,
		fmt.Sprintf("job %s already exists", name))
}

func NewJobNotFound(name string) *ApiError {
	return newApiError(http.StatusNotFound, JobNotFound,
		fmt.Sprintf("job %s not found", name))
}

// LastFour keeps log and error output free of full VINs.
func LastFour(vin string) string {
	if len(vin) <= 4 {
		return vin
	}
	return "..." + vin[len(vin)-4:]
}
