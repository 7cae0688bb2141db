/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package config

const (
	// home
	homePrefix    = "home."
	homeLatitude  = homePrefix + "latitude"
	homeLongitude = homePrefix + "longitude"
	homeRadius    = homePrefix + "radius"
	homeTimezone  = homePrefix + "timezone"

	// worker
	workerPrefix     = "worker."
	workerServiceUrl = workerPrefix + "service_url"
	workerPort       = workerPrefix + "port"
	workerAuthToken  = workerPrefix + "auth_token"
	continuousMode   = workerPrefix + "continuous_mode"

	// scout
	scoutPrefix           = "scout."
	scoutPort             = scoutPrefix + "port"
	scoutRefreshWait      = scoutPrefix + "refresh_wait_seconds"
	scoutRefreshRateLimit = scoutPrefix + "refresh_rate_limit_seconds"

	// planner
	plannerPrefix         = "planner."
	plannerUrl            = plannerPrefix + "url"
	peakHours             = plannerPrefix + "peak_hours"
	batteryCapacityKwh    = plannerPrefix + "battery_capacity_kwh"
	chargingRateKw        = plannerPrefix + "charging_rate_kw"
	dailyConsumptionKwh   = plannerPrefix + "daily_consumption_kwh"
	optimalThreshold      = plannerPrefix + "optimal_threshold_percent"
	emergencyThreshold    = plannerPrefix + "emergency_threshold_percent"
	minAdvanceHours       = plannerPrefix + "min_advance_hours"
	maxAdvanceHours       = plannerPrefix + "max_advance_hours"
	safetyBufferHours     = plannerPrefix + "safety_buffer_hours"
	plannerFallbackStart  = plannerPrefix + "fallback_start"
	plannerFallbackEnd    = plannerPrefix + "fallback_end"
	plannerFallbackEnergy = plannerPrefix + "fallback_energy_kwh"

	// reconciler
	reconcilerPrefix = "reconciler."
	enableChargeNow  = reconcilerPrefix + "enable_charge_now"

	// proxy
	proxyPrefix        = "proxy."
	smartProxyMode     = proxyPrefix + "smart_proxy_mode"
	proxyAvailable     = proxyPrefix + "available"
	proxyHost          = proxyPrefix + "host"
	proxyPort          = proxyPrefix + "port"
	proxyCommand       = proxyPrefix + "command"
	privateKeyPath     = proxyPrefix + "private_key_path"
	privateKeyReady    = proxyPrefix + "private_key_ready"
	proxyTlsMaterial   = proxyPrefix + "tls_dir"
	proxyStartupSecond = proxyPrefix + "startup_timeout_seconds"

	// fleet
	fleetPrefix       = "fleet."
	fleetBaseUrl      = fleetPrefix + "base_url"
	fleetClientId     = fleetPrefix + "client_id"
	fleetTokenUrl     = fleetPrefix + "token_url"
	fleetVin          = fleetPrefix + "vin"
	tokenLocalCache   = fleetPrefix + "token_cache_path"
	canonicalSecret   = fleetPrefix + "canonical_secret_name"
	legacySecret      = fleetPrefix + "legacy_secret_name"

	// sheet
	sheetPrefix  = "sheet."
	sheetUrl     = sheetPrefix + "url"
	sheetTabName = sheetPrefix + "tab"

	// scheduler (one-shot job invoker)
	schedulerPrefix   = "scheduler."
	schedulerUrl      = schedulerPrefix + "url"
	schedulerLocation = schedulerPrefix + "location"

	// database
	databasePrefix           = "database."
	dbName                   = databasePrefix + "name"
	dbUser                   = databasePrefix + "user"
	dbPassword               = databasePrefix + "password"
	dbHost                   = databasePrefix + "host"
	dbPort                   = databasePrefix + "port"
	dbSslMode                = databasePrefix + "ssl_mode"
	dbMaxOpenConns           = databasePrefix + "max_open_conns"
	dbMaxIdleConns           = databasePrefix + "max_idle_conns"
	dbConnectTimeoutSecond   = databasePrefix + "connect_timeout_second"
	dbRequestTimeoutSecond   = databasePrefix + "request_timeout_second"
)
