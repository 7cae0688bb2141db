/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package errors

import "fmt"

// ApiError is the unified error envelope for the whole control plane,
// carrying the HTTP status to answer with, a Charge.xxxxx error code,
// and a human-readable message. It is also what the gin layer serializes
// on failure responses.
type ApiError struct {
	HttpCode     int    `json:"-"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
	innerError   error
}

// Error implements the error interface.
func (e *ApiError) Error() string {
	if e.innerError == nil {
		return fmt.Sprintf("code %s. %s", e.ErrorCode, e.ErrorMessage)
	}
	return fmt.Sprintf("code %s. %s: %s", e.ErrorCode, e.ErrorMessage, e.innerError.Error())
}

// Unwrap exposes the wrapped error to errors.Is / errors.As chains.
func (e *ApiError) Unwrap() error {
	return e.innerError
}

// WithError wraps an underlying error and returns the instance for chaining.
func (e *ApiError) WithError(err error) *ApiError {
	e.innerError = err
	return e
}

func newApiError(httpCode int, errorCode, message string) *ApiError {
	return &ApiError{
		HttpCode:     httpCode,
		ErrorCode:    errorCode,
		ErrorMessage: message,
	}
}
