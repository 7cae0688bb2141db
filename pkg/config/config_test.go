/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package config

import (
	"slices"
	"testing"

	"gotest.tools/assert"
)

func load() error {
	path := "./test.yaml"
	if err := LoadConfig(path); err != nil {
		return err
	}
	return nil
}

func TestConfig(t *testing.T) {
	err := load()
	assert.NilError(t, err)

	assert.Equal(t, getFloat(homeLatitude, 0), 52.2297)
	assert.Equal(t, getFloat(homeLongitude, 0), 21.0122)
	assert.Equal(t, getFloat(homeRadius, 0), 0.002)
	assert.Equal(t, getString(homeTimezone, ""), "Europe/Warsaw")

	assert.Equal(t, getString(workerServiceUrl, ""), "http://worker.internal:8080")
	assert.Equal(t, getInt(workerPort, 0), 8080)
	assert.Equal(t, getBool(continuousMode, false), true)

	assert.Equal(t, getFloat(batteryCapacityKwh, 0), 75.0)
	assert.Equal(t, getFloat(chargingRateKw, 0), 11.0)
	assert.Equal(t, slices.Equal(getStrings(peakHours),
		[]string{"06:00-10:00", "19:00-22:00"}), true)

	assert.Equal(t, getBool(privateKeyReady, true), false)
	assert.Equal(t, getInt(dbRequestTimeoutSecond, 0), 20)
}

func TestDefaults(t *testing.T) {
	err := load()
	assert.NilError(t, err)

	// keys absent from test.yaml fall back to defaults
	assert.Equal(t, GetChargingRateKw(), 11.0)
	assert.Equal(t, GetSafetyBufferHours(), 1.5)
	assert.Equal(t, GetFallbackStart(), "13:00")
	assert.Equal(t, GetFallbackEnd(), "15:00")
	assert.Equal(t, GetFallbackEnergyKwh(), 22.0)
	assert.Equal(t, IsChargeNowEnabled(), false)
	assert.Equal(t, GetCanonicalSecretName(), "fleet-tokens")
	assert.Equal(t, GetHomeLocation().String(), "Europe/Warsaw")
}
