/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package fleet

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"k8s.io/klog/v2"

	commonerrors "github.com/mac923/offpeak-controller/pkg/errors"
	"github.com/mac923/offpeak-controller/pkg/utils/httpclient"
)

const (
	// Per-call budget for vehicle reads and writes.
	commandTimeout = 30 * time.Second

	vehicleListTTL = 30 * time.Second
)

// TokenProvider supplies the access token for outbound Fleet API calls and a
// force-refresh hook for the one-retry-after-401 policy.
type TokenProvider interface {
	AccessToken(ctx context.Context) (string, error)
	ForceRefresh(ctx context.Context) error
}

// Signer is the signed-command capability. The supervisor behind it owns the
// local signing proxy; Url is only meaningful after EnsureUp succeeded.
type Signer interface {
	EnsureUp(ctx context.Context) error
	Url() string
	Up() bool
}

// Client is the gateway to the vehicle cloud API. It knows which operations
// must travel the signed-command path and routes those through the signing
// proxy. It never wakes a vehicle implicitly.
type Client struct {
	baseUrl string
	http    httpclient.Interface
	tokens  TokenProvider
	signer  Signer

	// AllowUnsigned degrades signed operations to the plain path when no
	// proxy is available. Off unless the deployment explicitly opts in.
	AllowUnsigned bool

	vehicleCache *gocache.Cache
}

// NewClient creates a vehicle gateway against the given base URL.
// signer may be nil in deployments without a signing proxy.
func NewClient(baseUrl string, tokens TokenProvider, signer Signer) *Client {
	return &Client{
		baseUrl:      baseUrl,
		http:         httpclient.NewHttpClient(),
		tokens:       tokens,
		signer:       signer,
		vehicleCache: gocache.New(vehicleListTTL, time.Minute),
	}
}

type vehicleWire struct {
	Vin   string `json:"vin"`
	State string `json:"state"`
}

type vehicleListResponse struct {
	Response []vehicleWire `json:"response"`
}

type chargeStateWire struct {
	BatteryLevel    *int    `json:"battery_level"`
	ChargingState   *string `json:"charging_state"`
	ConnChargeCable *string `json:"conn_charge_cable"`
	ChargeLimitSoc  *int    `json:"charge_limit_soc"`
}

type driveStateWire struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

type vehicleDataWire struct {
	Vin                string           `json:"vin"`
	State              string           `json:"state"`
	ChargeState        *chargeStateWire `json:"charge_state"`
	DriveState         *driveStateWire  `json:"drive_state"`
	ChargeScheduleData *struct {
		ChargeSchedules []scheduleWire `json:"charge_schedules"`
	} `json:"charge_schedule_data"`
}

type vehicleDataResponse struct {
	Response *vehicleDataWire `json:"response"`
}

type commandResponse struct {
	Response *struct {
		Result bool   `json:"result"`
		Reason string `json:"reason"`
	} `json:"response"`
}

// ListVehicles returns all vehicles of the account, with a short-lived cache
// so Scout's state+location reads within one invocation hit the API once.
func (c *Client) ListVehicles(ctx context.Context) ([]vehicleWire, error) {
	if cached, ok := c.vehicleCache.Get("vehicles"); ok {
		return cached.([]vehicleWire), nil
	}
	var rsp vehicleListResponse
	if err := c.getJSON(ctx, c.baseUrl+"/api/1/vehicles", &rsp); err != nil {
		return nil, err
	}
	c.vehicleCache.SetDefault("vehicles", rsp.Response)
	return rsp.Response, nil
}

// ReadState returns a cheap observation: vin, state, timestamp. It is the
// only vehicle call Scout makes against sleeping vehicles.
func (c *Client) ReadState(ctx context.Context, vin string) (*VehicleObservation, error) {
	vehicles, err := c.ListVehicles(ctx)
	if err != nil {
		return nil, err
	}
	for _, v := range vehicles {
		if v.Vin == vin {
			return &VehicleObservation{
				Vin:        vin,
				State:      VehicleState(v.State),
				ObservedAt: time.Now().UTC(),
			}, nil
		}
	}
	return nil, commonerrors.NewNotFound(fmt.Sprintf("vehicle %s not in account", commonerrors.LastFour(vin)))
}

// ReadFull returns an observation with battery, charge and location fields
// filled. It fails with VehicleOffline for any non-online vehicle instead of
// waking it.
func (c *Client) ReadFull(ctx context.Context, vin string) (*VehicleObservation, error) {
	obs, err := c.ReadState(ctx, vin)
	if err != nil {
		return nil, err
	}
	if obs.State != StateOnline {
		return nil, commonerrors.NewVehicleOffline(vin)
	}
	data, err := c.vehicleData(ctx, vin, "charge_state;drive_state")
	if err != nil {
		return nil, err
	}
	obs.ObservedAt = time.Now().UTC()
	if data.ChargeState != nil {
		obs.BatteryPercent = data.ChargeState.BatteryLevel
		obs.ChargingState = data.ChargeState.ChargingState
		obs.ConnCable = data.ChargeState.ConnChargeCable
	}
	if data.DriveState != nil {
		obs.Latitude = data.DriveState.Latitude
		obs.Longitude = data.DriveState.Longitude
	}
	return obs, nil
}

// ReadChargeLimit returns the vehicle's current charge limit percent.
func (c *Client) ReadChargeLimit(ctx context.Context, vin string) (int, error) {
	data, err := c.vehicleData(ctx, vin, "charge_state")
	if err != nil {
		return 0, err
	}
	if data.ChargeState == nil || data.ChargeState.ChargeLimitSoc == nil {
		return 0, commonerrors.NewInternalError("charge limit missing from vehicle data")
	}
	return *data.ChargeState.ChargeLimitSoc, nil
}

// Wake asks the vehicle to come online. This is the only operation allowed to
// wake and only Worker calls it.
func (c *Client) Wake(ctx context.Context, vin string, useSigned bool) error {
	base := c.baseUrl
	if useSigned {
		var err error
		if base, err = c.signedBase(ctx); err != nil {
			if !c.AllowUnsigned {
				return err
			}
			base = c.baseUrl
		}
	}
	url := fmt.Sprintf("%s/api/1/vehicles/%s/wake_up", base, vin)
	return c.postCommand(ctx, url, nil)
}

// SetChargeLimit sets the charge limit percent. Signed.
func (c *Client) SetChargeLimit(ctx context.Context, vin string, percent int) error {
	base, err := c.signedBase(ctx)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/api/1/vehicles/%s/command/set_charge_limit", base, vin)
	return c.postCommand(ctx, url, map[string]interface{}{"percent": percent})
}

// ChargeStart starts charging immediately. Signed. Used only by the
// charge-now optimisation.
func (c *Client) ChargeStart(ctx context.Context, vin string) error {
	base, err := c.signedBase(ctx)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/api/1/vehicles/%s/command/charge_start", base, vin)
	return c.postCommand(ctx, url, nil)
}

// AddSchedule creates a charge schedule on the vehicle. Signed. An unwrapped
// end past one day is normalized back onto the wire encoding (end < start
// implies wrap).
func (c *Client) AddSchedule(ctx context.Context, vin string, schedule *ChargeSchedule) error {
	base, err := c.signedBase(ctx)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/api/1/vehicles/%s/command/add_charge_schedule", base, vin)
	return c.postCommand(ctx, url, toWire(schedule))
}

// RemoveSchedule deletes a charge schedule by id. Signed.
func (c *Client) RemoveSchedule(ctx context.Context, vin string, id uint64) error {
	base, err := c.signedBase(ctx)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/api/1/vehicles/%s/command/remove_charge_schedule", base, vin)
	return c.postCommand(ctx, url, map[string]interface{}{"id": id})
}

// ListSchedules returns all charge schedules on the vehicle.
func (c *Client) ListSchedules(ctx context.Context, vin string) ([]*ChargeSchedule, error) {
	data, err := c.vehicleData(ctx, vin, "charge_schedule_data")
	if err != nil {
		return nil, err
	}
	if data.ChargeScheduleData == nil {
		return nil, nil
	}
	result := make([]*ChargeSchedule, 0, len(data.ChargeScheduleData.ChargeSchedules))
	for i := range data.ChargeScheduleData.ChargeSchedules {
		result = append(result, fromWire(&data.ChargeScheduleData.ChargeSchedules[i]))
	}
	return result, nil
}

func (c *Client) vehicleData(ctx context.Context, vin, endpoints string) (*vehicleDataWire, error) {
	url := fmt.Sprintf("%s/api/1/vehicles/%s/vehicle_data?endpoints=%s", c.baseUrl, vin, endpoints)
	var rsp vehicleDataResponse
	if err := c.getJSON(ctx, url, &rsp); err != nil {
		return nil, err
	}
	if rsp.Response == nil {
		return nil, commonerrors.NewInternalError("empty vehicle data response")
	}
	return rsp.Response, nil
}

// signedBase resolves the base URL for a signed command via the proxy
// supervisor, starting the proxy if needed.
func (c *Client) signedBase(ctx context.Context) (string, error) {
	if c.signer == nil {
		if c.AllowUnsigned {
			return c.baseUrl, nil
		}
		return "", commonerrors.NewProxyRequired("no signing proxy configured")
	}
	if err := c.signer.EnsureUp(ctx); err != nil {
		if c.AllowUnsigned {
			klog.Warningf("signing proxy unavailable, degrading to unsigned path: %v", err)
			return c.baseUrl, nil
		}
		return "", err
	}
	return c.signer.Url(), nil
}

func (c *Client) getJSON(ctx context.Context, url string, out interface{}) error {
	return c.withAuthRetry(ctx, func(ctx context.Context, token string) error {
		result, err := c.http.Get(ctx, url, "Authorization", "Bearer "+token)
		if err != nil {
			return commonerrors.NewInternalError("vehicle api request failed").WithError(err)
		}
		if err := checkStatus(result); err != nil {
			return err
		}
		return json.Unmarshal(result.Body, out)
	})
}

func (c *Client) postCommand(ctx context.Context, url string, body interface{}) error {
	return c.withAuthRetry(ctx, func(ctx context.Context, token string) error {
		result, err := c.http.Post(ctx, url, body, "Authorization", "Bearer "+token)
		if err != nil {
			return commonerrors.NewInternalError("vehicle command failed").WithError(err)
		}
		if err := checkStatus(result); err != nil {
			return err
		}
		var rsp commandResponse
		if err := json.Unmarshal(result.Body, &rsp); err != nil {
			return nil // commands without a result envelope
		}
		if rsp.Response != nil && !rsp.Response.Result && rsp.Response.Reason != "" {
			return commonerrors.NewInternalError("vehicle refused command: " + rsp.Response.Reason)
		}
		return nil
	})
}

// withAuthRetry runs a vehicle call once, and once more after a forced token
// refresh when the first attempt failed with AuthExpired.
func (c *Client) withAuthRetry(ctx context.Context, fn func(ctx context.Context, token string) error) error {
	callCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	token, err := c.tokens.AccessToken(callCtx)
	if err != nil {
		return err
	}
	err = fn(callCtx, token)
	if !commonerrors.IsAuthExpired(err) {
		return err
	}
	klog.Warningf("vehicle call got auth-expired, forcing token refresh and retrying once")
	if refreshErr := c.tokens.ForceRefresh(callCtx); refreshErr != nil {
		return refreshErr
	}
	if token, err = c.tokens.AccessToken(callCtx); err != nil {
		return err
	}
	return fn(callCtx, token)
}

func checkStatus(result *httpclient.Result) error {
	switch {
	case result.IsSuccess():
		return nil
	case result.StatusCode == http.StatusUnauthorized:
		return commonerrors.NewAuthExpired("vehicle api returned 401")
	case result.StatusCode == http.StatusForbidden:
		return commonerrors.NewAuthForbidden("vehicle api returned 403")
	case result.StatusCode == http.StatusRequestTimeout:
		return commonerrors.NewVehicleAsleep("")
	case result.StatusCode == http.StatusNotFound:
		return commonerrors.NewNotFound("vehicle api returned 404")
	default:
		return commonerrors.NewInternalError(result.String())
	}
}
