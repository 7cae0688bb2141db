/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// SetValue sets a configuration value for the specified key.
func SetValue(key string, value interface{}) {
	viper.Set(key, value)
}

// LoadConfig loads configuration from the specified file path.
func LoadConfig(path string) error {
	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")
	return viper.ReadInConfig()
}

func getString(key, defaultValue string) string {
	if !viper.IsSet(key) {
		return defaultValue
	}
	return viper.GetString(key)
}

func getBool(key string, defaultValue bool) bool {
	if !viper.IsSet(key) {
		return defaultValue
	}
	return viper.GetBool(key)
}

func getInt(key string, defaultValue int) int {
	if !viper.IsSet(key) {
		return defaultValue
	}
	return viper.GetInt(key)
}

func getFloat(key string, defaultValue float64) float64 {
	if !viper.IsSet(key) {
		return defaultValue
	}
	return viper.GetFloat64(key)
}

func getStrings(key string) []string {
	val := viper.GetString(key)
	return removeBlank(strings.Split(val, ","))
}

func removeBlank(slice []string) []string {
	var result []string
	for _, val := range slice {
		if trim := strings.TrimSpace(val); trim != "" {
			result = append(result, trim)
		}
	}
	return result
}

// GetHomeLatitude returns the latitude of the home charging location.
func GetHomeLatitude() float64 {
	return getFloat(homeLatitude, 0)
}

// GetHomeLongitude returns the longitude of the home charging location.
func GetHomeLongitude() float64 {
	return getFloat(homeLongitude, 0)
}

// GetHomeRadius returns the radius, in coordinate degrees, within which a
// vehicle counts as being at home.
func GetHomeRadius() float64 {
	return getFloat(homeRadius, 0.001)
}

// GetHomeTimezone returns the IANA timezone name used for all local-time
// arithmetic. Token expiry stays UTC.
func GetHomeTimezone() string {
	return getString(homeTimezone, "Europe/Warsaw")
}

// GetHomeLocation resolves the configured home timezone.
// Falls back to UTC if the name does not resolve.
func GetHomeLocation() *time.Location {
	loc, err := time.LoadLocation(GetHomeTimezone())
	if err != nil {
		return time.UTC
	}
	return loc
}

// GetWorkerServiceUrl returns the Scout-to-Worker base URL.
func GetWorkerServiceUrl() string {
	return getString(workerServiceUrl, "http://localhost:8080")
}

// GetWorkerPort returns the Worker HTTP listen port.
func GetWorkerPort() int {
	return getInt(workerPort, 8080)
}

// GetWorkerAuthToken returns the shared bearer token expected on inbound
// Worker calls. Empty disables the check.
func GetWorkerAuthToken() string {
	return getString(workerAuthToken, "")
}

// IsContinuousMode returns whether the Worker runs its own internal scheduler
// instead of being driven by the external cron invoker.
func IsContinuousMode() bool {
	return getBool(continuousMode, false)
}

// GetScoutPort returns the Scout HTTP listen port.
func GetScoutPort() int {
	return getInt(scoutPort, 8081)
}

// GetScoutRefreshWait returns how long Scout waits for the Worker to publish
// a fresh token after requesting a refresh.
func GetScoutRefreshWait() time.Duration {
	return time.Duration(getInt(scoutRefreshWait, 45)) * time.Second
}

// GetScoutRefreshRateLimit returns the minimum spacing between Scout-issued
// refresh requests.
func GetScoutRefreshRateLimit() time.Duration {
	return time.Duration(getInt(scoutRefreshRateLimit, 60)) * time.Second
}

// GetPlannerUrl returns the pricing/plan API base URL.
func GetPlannerUrl() string {
	return getString(plannerUrl, "")
}

// GetPeakHours returns the local peak windows as "HH:MM-HH:MM" items.
func GetPeakHours() []string {
	vals := getStrings(peakHours)
	if len(vals) == 0 {
		return []string{"06:00-10:00", "19:00-22:00"}
	}
	return vals
}

// GetBatteryCapacityKwh returns the usable pack capacity.
func GetBatteryCapacityKwh() float64 {
	return getFloat(batteryCapacityKwh, 75)
}

// GetChargingRateKw returns the home charging rate.
func GetChargingRateKw() float64 {
	return getFloat(chargingRateKw, 11)
}

// GetDailyConsumptionKwh returns the assumed daily consumption sent to the
// pricing API.
func GetDailyConsumptionKwh() float64 {
	return getFloat(dailyConsumptionKwh, 12)
}

// GetOptimalThresholdPercent returns the target battery level the pricing
// API optimizes toward.
func GetOptimalThresholdPercent() int {
	return getInt(optimalThreshold, 80)
}

// GetEmergencyThresholdPercent returns the battery level under which the
// pricing API plans an immediate top-up.
func GetEmergencyThresholdPercent() int {
	return getInt(emergencyThreshold, 20)
}

// GetMinAdvanceHours returns the minimum lead for a special-charging window.
func GetMinAdvanceHours() float64 {
	return getFloat(minAdvanceHours, 6)
}

// GetMaxAdvanceHours returns the maximum lead for a special-charging window.
func GetMaxAdvanceHours() float64 {
	return getFloat(maxAdvanceHours, 24)
}

// GetSafetyBufferHours returns the slack added between charging end and the
// user deadline.
func GetSafetyBufferHours() float64 {
	return getFloat(safetyBufferHours, 1.5)
}

// GetFallbackStart returns the local "HH:MM" start of the fallback plan slot
// used when the pricing API is unavailable.
func GetFallbackStart() string {
	return getString(plannerFallbackStart, "13:00")
}

// GetFallbackEnd returns the local "HH:MM" end of the fallback plan slot.
func GetFallbackEnd() string {
	return getString(plannerFallbackEnd, "15:00")
}

// GetFallbackEnergyKwh returns the energy assigned to the fallback slot.
func GetFallbackEnergyKwh() float64 {
	return getFloat(plannerFallbackEnergy, 22)
}

// IsChargeNowEnabled gates the best-effort charge_start when an accepted
// slot contains the current local time. Off by default; see DESIGN.md.
func IsChargeNowEnabled() bool {
	return getBool(enableChargeNow, false)
}

// IsSmartProxyMode returns whether the signing proxy is started on demand
// and stopped after the cycle, rather than assumed to be running.
func IsSmartProxyMode() bool {
	return getBool(smartProxyMode, true)
}

// IsProxyAvailable returns whether a signing proxy is usable at all in this
// deployment. When false, signed commands degrade per caller policy.
func IsProxyAvailable() bool {
	return getBool(proxyAvailable, true)
}

// GetProxyHost returns the local signing proxy host.
func GetProxyHost() string {
	return getString(proxyHost, "localhost")
}

// GetProxyPort returns the local signing proxy port.
func GetProxyPort() int {
	return getInt(proxyPort, 4443)
}

// GetProxyCommand returns the executable used to spawn the signing proxy.
func GetProxyCommand() string {
	return getString(proxyCommand, "tesla-http-proxy")
}

// GetPrivateKeyPath returns the path of the command-signing private key.
func GetPrivateKeyPath() string {
	return getString(privateKeyPath, "/data/keys/private-key.pem")
}

// IsPrivateKeyReady gates proxy startup during deployments where the key has
// not been provisioned yet.
func IsPrivateKeyReady() bool {
	return getBool(privateKeyReady, true)
}

// GetProxyTlsDir returns the directory holding the proxy's ephemeral TLS
// key/cert pair.
func GetProxyTlsDir() string {
	return getString(proxyTlsMaterial, "/tmp/offpeak-proxy-tls")
}

// GetProxyStartupTimeout returns the total time budget for the proxy health
// poll after spawn.
func GetProxyStartupTimeout() time.Duration {
	return time.Duration(getInt(proxyStartupSecond, 10)) * time.Second
}

// GetFleetBaseUrl returns the vehicle cloud API base URL.
func GetFleetBaseUrl() string {
	return getString(fleetBaseUrl, "https://fleet-api.prd.eu.vn.cloud.tesla.com")
}

// GetFleetClientId returns the OAuth client id used for token refresh.
func GetFleetClientId() string {
	return getString(fleetClientId, "")
}

// GetFleetTokenUrl returns the OAuth token endpoint.
func GetFleetTokenUrl() string {
	return getString(fleetTokenUrl, "https://auth.tesla.com/oauth2/v3/token")
}

// GetVin returns the VIN of the managed vehicle.
func GetVin() string {
	return getString(fleetVin, "")
}

// GetTokenCachePath returns the local token cache file path.
func GetTokenCachePath() string {
	return getString(tokenLocalCache, "/tmp/fleet-tokens.json")
}

// GetCanonicalSecretName returns the name of the canonical token secret.
func GetCanonicalSecretName() string {
	return getString(canonicalSecret, "fleet-tokens")
}

// GetLegacySecretName returns the name of the legacy token secret kept for
// migration.
func GetLegacySecretName() string {
	return getString(legacySecret, "tesla-refresh-token")
}

// GetSheetUrl returns the spreadsheet collaborator base URL.
func GetSheetUrl() string {
	return getString(sheetUrl, "")
}

// GetSheetTab returns the tab holding special-charging requests.
func GetSheetTab() string {
	return getString(sheetTabName, "Special")
}

// GetSchedulerUrl returns the external cron invoker base URL.
func GetSchedulerUrl() string {
	return getString(schedulerUrl, "")
}

// GetSchedulerLocation returns the invoker location/namespace jobs are
// created under.
func GetSchedulerLocation() string {
	return getString(schedulerLocation, "default")
}

// GetDBName returns the database name.
func GetDBName() string {
	return getString(dbName, "")
}

// GetDBUser returns the database user.
func GetDBUser() string {
	return getString(dbUser, "")
}

// GetDBPassword returns the database password.
func GetDBPassword() string {
	return getString(dbPassword, "")
}

// GetDBHost returns the database host.
func GetDBHost() string {
	return getString(dbHost, "")
}

// GetDBPort returns the database port.
func GetDBPort() int {
	return getInt(dbPort, 5432)
}

// GetDBSslMode returns the database SSL mode.
func GetDBSslMode() string {
	return getString(dbSslMode, "disable")
}

// GetDBMaxOpenConns returns the maximum open database connections.
func GetDBMaxOpenConns() int {
	return getInt(dbMaxOpenConns, 16)
}

// GetDBMaxIdleConns returns the maximum idle database connections.
func GetDBMaxIdleConns() int {
	return getInt(dbMaxIdleConns, 4)
}

// GetDBConnectTimeoutSecond returns the database connect timeout in seconds.
func GetDBConnectTimeoutSecond() int {
	return getInt(dbConnectTimeoutSecond, 10)
}

// GetDBRequestTimeoutSecond returns the database request timeout in seconds.
func GetDBRequestTimeoutSecond() int {
	return getInt(dbRequestTimeoutSecond, 20)
}
