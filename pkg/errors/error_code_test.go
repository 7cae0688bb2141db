/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsAuthExpired(t *testing.T) {
	err := NewAuthExpired("access token expired")
	assert.Equal(t, true, IsAuthExpired(err))
	err2 := fmt.Errorf("test")
	assert.Equal(t, false, IsAuthExpired(err2))
	err3 := NewInternalError("test")
	assert.Equal(t, false, IsAuthExpired(err3))
}

func TestIsNotFound(t *testing.T) {
	assert.Equal(t, true, IsNotFound(NewNotFound("test")))
	assert.Equal(t, true, IsNotFound(NewSessionNotFound("special_3_20250314_0800")))
	assert.Equal(t, true, IsNotFound(NewJobNotFound("special-charging-x")))
	assert.Equal(t, false, IsNotFound(NewBadRequest("test")))
	assert.NoError(t, IgnoreFound(NewNotFound("gone")))
	assert.Error(t, IgnoreFound(NewInternalError("boom")))
}

func TestWrappedError(t *testing.T) {
	inner := fmt.Errorf("connection refused")
	err := NewProxyRequired("signed command without proxy").WithError(inner)
	assert.Equal(t, true, IsProxyRequired(err))
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, http.StatusServiceUnavailable, err.HttpCode)
}

func TestCodeForError(t *testing.T) {
	assert.Equal(t, VehicleOffline, CodeForError(NewVehicleOffline("5YJ3E1EA7KF000316")))
	assert.Equal(t, "", CodeForError(fmt.Errorf("plain")))
	assert.Equal(t, false, IsCharge(nil))
}

func TestLastFour(t *testing.T) {
	assert.Equal(t, "...0316", LastFour("5YJ3E1EA7KF000316"))
	assert.Equal(t, "316", LastFour("316"))
}
