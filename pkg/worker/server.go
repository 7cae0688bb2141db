/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package worker

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"k8s.io/klog/v2"

	"github.com/mac923/offpeak-controller/pkg/apiutils"
	"github.com/mac923/offpeak-controller/pkg/config"
	commonerrors "github.com/mac923/offpeak-controller/pkg/errors"
	"github.com/mac923/offpeak-controller/pkg/metrics"
	"github.com/mac923/offpeak-controller/pkg/planner"
	"github.com/mac923/offpeak-controller/pkg/store"
	"github.com/mac923/offpeak-controller/pkg/token"
)

// tokenRetryInterval spaces the hourly recovery attempts of the continuous
// mode's waiting state.
const tokenRetryInterval = time.Hour

// Continuous mode mirrors the external cron: every 15 minutes during the
// day, hourly overnight, and the wake pass at local midnight.
const (
	daytimeCycleSpec   = "*/15 6-22 * * *"
	overnightCycleSpec = "0 0-5,23 * * *"
	midnightWakeSpec   = "0 0 * * *"
)

// TokenWriter is the canonical-token capability of the Worker tier: the only
// component allowed to refresh.
type TokenWriter interface {
	EnsureValid(ctx context.Context) error
	ForceRefresh(ctx context.Context) error
	Current(ctx context.Context) (*token.State, error)
	MigrateFromLegacy(ctx context.Context) (bool, error)
	LoadedFrom() string
}

// ProxySupervisor is the proxy slice the server reports on and brackets.
type ProxySupervisor interface {
	EnsureUp(ctx context.Context) error
	Stop(ctx context.Context) error
	Up() bool
}

// SpecialPlanner is the special-charging lifecycle surface.
type SpecialPlanner interface {
	DailyCheck(ctx context.Context) *planner.CheckResult
	ApplySession(ctx context.Context, sessionId string) error
	Cleanup(ctx context.Context, sessionId string) (*planner.CleanupResult, error)
	ApplyImmediate(ctx context.Context, targetPercent int) (string, error)
}

// Server is the Worker dispatcher: every endpoint of the control plane's
// mutating surface lives here, behind the readiness gate and a per-VIN lock.
type Server struct {
	router  *gin.Engine
	httpSrv *http.Server

	runner  *Runner
	tokens  TokenWriter
	state   store.Interface
	proxy   ProxySupervisor
	special SpecialPlanner

	cron      *cron.Cron
	startedAt time.Time

	// one mutex per VIN serializes cycle-like endpoints
	locks sync.Map

	// continuous-mode token waiting state
	mu             sync.Mutex
	tokenWaitSince time.Time
	tokenRetryAt   time.Time
}

// NewServer assembles the dispatcher and registers its routes.
func NewServer(runner *Runner, tokens TokenWriter, state store.Interface,
	proxy ProxySupervisor, special SpecialPlanner) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		router:    gin.New(),
		runner:    runner,
		tokens:    tokens,
		state:     state,
		proxy:     proxy,
		special:   special,
		startedAt: time.Now(),
	}
	s.router.Use(gin.Recovery(), s.authFilter)

	s.router.GET("/health", func(c *gin.Context) { handle(c, s.handleHealth) })
	s.router.GET("/metrics", metrics.Handler())
	s.router.GET("/worker-status", func(c *gin.Context) { handle(c, s.handleWorkerStatus) })
	s.router.GET("/get-token", func(c *gin.Context) { handle(c, s.handleGetToken) })
	s.router.POST("/run-cycle", func(c *gin.Context) { handle(c, s.handleRunCycle) })
	s.router.POST("/run-midnight-wake", func(c *gin.Context) { handle(c, s.handleMidnightWake) })
	s.router.POST("/scout-trigger", func(c *gin.Context) { handle(c, s.handleScoutTrigger) })
	s.router.POST("/refresh-tokens", func(c *gin.Context) { handle(c, s.handleRefreshTokens) })
	s.router.POST("/sync-tokens", func(c *gin.Context) { handle(c, s.handleSyncTokens) })
	s.router.POST("/daily-special-charging-check", func(c *gin.Context) { handle(c, s.handleDailyCheck) })
	s.router.POST("/send-special-schedule", func(c *gin.Context) { handle(c, s.handleSendSpecial) })
	s.router.POST("/send-special-schedule-immediate", func(c *gin.Context) { handle(c, s.handleSendSpecialImmediate) })
	s.router.POST("/cleanup-single-session", func(c *gin.Context) { handle(c, s.handleCleanupSession) })
	s.router.GET("/reset", func(c *gin.Context) { handle(c, s.handleReset) })
	s.router.GET("/reset-tesla-schedules", func(c *gin.Context) { handle(c, s.handleResetSchedules) })
	return s
}

// Start serves until the listener fails or Stop is called. In continuous
// mode the internal scheduler is started first.
func (s *Server) Start() error {
	if config.IsContinuousMode() {
		s.startScheduler()
	}
	s.httpSrv = &http.Server{
		Addr:    ":" + strconv.Itoa(config.GetWorkerPort()),
		Handler: s.router,
	}
	klog.Infof("worker listening on %s, continuous_mode: %v", s.httpSrv.Addr, config.IsContinuousMode())
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop halts the scheduler, drains in-flight requests and stops the proxy.
func (s *Server) Stop(ctx context.Context) error {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	if err := s.proxy.Stop(ctx); err != nil {
		klog.Warningf("proxy stop during shutdown failed: %v", err)
	}
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// authFilter enforces the shared bearer token when one is configured. The
// liveness and metrics surfaces stay open.
func (s *Server) authFilter(c *gin.Context) {
	expected := config.GetWorkerAuthToken()
	path := c.Request.URL.Path
	if expected == "" || path == "/health" || path == "/metrics" {
		c.Next()
		return
	}
	header := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	if header != expected && c.GetHeader("X-Auth-Token") != expected {
		apiutils.AbortWithApiError(c, commonerrors.NewUnauthorized("missing or invalid auth token"))
		return
	}
	c.Next()
}

// readiness gates every mutating endpoint: a usable token and a provisioned
// command-signing key. The proxy itself is brought up and down by the
// component that issues signed commands.
func (s *Server) readiness(ctx context.Context) error {
	if err := s.tokens.EnsureValid(ctx); err != nil {
		return commonerrors.NewTokenUnavailable("token not usable").WithError(err)
	}
	if !config.IsPrivateKeyReady() {
		return commonerrors.NewPrivateKeyNotReady("private key marked not provisioned")
	}
	info, err := os.Stat(config.GetPrivateKeyPath())
	if err != nil || info.Size() == 0 {
		return commonerrors.NewPrivateKeyNotReady("private key file missing or empty: " + config.GetPrivateKeyPath())
	}
	return nil
}

func (s *Server) lockVin(vin string) func() {
	actual, _ := s.locks.LoadOrStore(vin, &sync.Mutex{})
	mu := actual.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (s *Server) handleHealth(c *gin.Context) (interface{}, error) {
	return gin.H{
		"status":    "healthy",
		"service":   "offpeak-worker",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}, nil
}

func (s *Server) handleWorkerStatus(c *gin.Context) (interface{}, error) {
	ctx := c.Request.Context()
	status := gin.H{
		"service":         "offpeak-worker",
		"continuous_mode": config.IsContinuousMode(),
		"uptime_seconds":  time.Since(s.startedAt).Seconds(),
		"proxy":           gin.H{"up": s.proxy.Up()},
		"token_waiting":   s.inTokenWait(),
	}
	tokenStatus := gin.H{"source": s.tokens.LoadedFrom()}
	if state, err := s.tokens.Current(ctx); err == nil {
		tokenStatus["remaining_minutes"] = state.RemainingMinutes(time.Now().UTC())
	} else {
		tokenStatus["error"] = err.Error()
	}
	status["token"] = tokenStatus
	if stats, err := s.state.Stats(ctx); err == nil {
		status["store"] = stats
	} else {
		status["store_error"] = err.Error()
	}
	return status, nil
}

func (s *Server) handleGetToken(c *gin.Context) (interface{}, error) {
	state, err := s.tokens.Current(c.Request.Context())
	if err != nil {
		return nil, commonerrors.NewTokenUnavailable("no cached token").WithError(err)
	}
	return gin.H{
		"access_token":      state.AccessToken,
		"remaining_minutes": state.RemainingMinutes(time.Now().UTC()),
	}, nil
}

func (s *Server) handleRunCycle(c *gin.Context) (interface{}, error) {
	body := struct {
		Trigger string `json:"trigger"`
	}{}
	_ = c.ShouldBindJSON(&body)
	if body.Trigger == "" {
		body.Trigger = "manual"
	}
	return s.runCycle(c.Request.Context(), body.Trigger)
}

func (s *Server) handleScoutTrigger(c *gin.Context) (interface{}, error) {
	body := struct {
		Reason string `json:"reason"`
	}{}
	_ = c.ShouldBindJSON(&body)
	if body.Reason == "" {
		body.Reason = "scout"
	}
	return s.runCycle(c.Request.Context(), body.Reason)
}

// runCycle is the shared cycle entry: readiness gate, per-VIN lock, run,
// outcome accounting.
func (s *Server) runCycle(ctx context.Context, trigger string) (interface{}, error) {
	start := time.Now()
	if err := s.readiness(ctx); err != nil {
		return nil, err
	}
	unlock := s.lockVin(config.GetVin())
	defer unlock()

	result, err := s.runner.RunCycle(ctx, trigger)
	if err != nil {
		metrics.WorkerCycles.WithLabelValues("error").Inc()
		return nil, err
	}
	outcome := "noop"
	if result.Reconciled {
		outcome = "reconciled"
	}
	metrics.WorkerCycles.WithLabelValues(outcome).Inc()
	return gin.H{
		"status":                 "completed",
		"execution_time_seconds": time.Since(start).Seconds(),
		"cycle":                  result,
	}, nil
}

func (s *Server) handleMidnightWake(c *gin.Context) (interface{}, error) {
	start := time.Now()
	ctx := c.Request.Context()
	if err := s.readiness(ctx); err != nil {
		return nil, err
	}
	unlock := s.lockVin(config.GetVin())
	defer unlock()

	result, err := s.runner.MidnightWake(ctx)
	if err != nil {
		return nil, err
	}
	return gin.H{
		"status":                 "completed",
		"execution_time_seconds": time.Since(start).Seconds(),
		"midnight":               result,
	}, nil
}

func (s *Server) handleRefreshTokens(c *gin.Context) (interface{}, error) {
	body := struct {
		Reason       string `json:"reason"`
		RequestedBy  string `json:"requested_by"`
		AttemptCount int    `json:"attempt_count"`
	}{}
	_ = c.ShouldBindJSON(&body)
	klog.Infof("token refresh requested by %q: %s", body.RequestedBy, body.Reason)

	if err := s.tokens.ForceRefresh(c.Request.Context()); err != nil {
		return nil, err
	}
	remaining := 0
	if state, err := s.tokens.Current(c.Request.Context()); err == nil {
		remaining = state.RemainingMinutes(time.Now().UTC())
	}
	return gin.H{"status": "refreshed", "remaining_minutes": remaining}, nil
}

func (s *Server) handleSyncTokens(c *gin.Context) (interface{}, error) {
	migrated, err := s.tokens.MigrateFromLegacy(c.Request.Context())
	if err != nil {
		return nil, err
	}
	return gin.H{"migrated": migrated, "source": s.tokens.LoadedFrom()}, nil
}

func (s *Server) handleDailyCheck(c *gin.Context) (interface{}, error) {
	ctx := c.Request.Context()
	if err := s.readiness(ctx); err != nil {
		return nil, err
	}
	unlock := s.lockVin(config.GetVin())
	defer unlock()
	return s.special.DailyCheck(ctx), nil
}

func (s *Server) handleSendSpecial(c *gin.Context) (interface{}, error) {
	body := struct {
		SessionId string `json:"session_id"`
	}{}
	if err := c.ShouldBindJSON(&body); err != nil || body.SessionId == "" {
		return nil, commonerrors.NewBadRequest("session_id is required")
	}
	ctx := c.Request.Context()
	if err := s.readiness(ctx); err != nil {
		return nil, err
	}
	unlock := s.lockVin(config.GetVin())
	defer unlock()

	if err := s.special.ApplySession(ctx, body.SessionId); err != nil {
		return nil, err
	}
	return gin.H{
		"success":    true,
		"session_id": body.SessionId,
		"vin_last4":  commonerrors.LastFour(config.GetVin()),
	}, nil
}

func (s *Server) handleSendSpecialImmediate(c *gin.Context) (interface{}, error) {
	body := struct {
		TargetPercent int    `json:"target_percent"`
		Reason        string `json:"reason"`
	}{}
	_ = c.ShouldBindJSON(&body)
	ctx := c.Request.Context()
	if err := s.readiness(ctx); err != nil {
		return nil, err
	}
	unlock := s.lockVin(config.GetVin())
	defer unlock()

	sessionId, err := s.special.ApplyImmediate(ctx, body.TargetPercent)
	if err != nil {
		return nil, err
	}
	return gin.H{"status": "applied", "details": gin.H{"session_id": sessionId}}, nil
}

func (s *Server) handleCleanupSession(c *gin.Context) (interface{}, error) {
	body := struct {
		SessionId string `json:"session_id"`
	}{}
	if err := c.ShouldBindJSON(&body); err != nil || body.SessionId == "" {
		return nil, commonerrors.NewBadRequest("session_id is required")
	}
	unlock := s.lockVin(config.GetVin())
	defer unlock()
	return s.special.Cleanup(c.Request.Context(), body.SessionId)
}

func (s *Server) handleReset(c *gin.Context) (interface{}, error) {
	stats, err := s.state.Reset(c.Request.Context())
	if err != nil {
		return nil, err
	}
	return gin.H{"status": "reset", "purged": stats}, nil
}

func (s *Server) handleResetSchedules(c *gin.Context) (interface{}, error) {
	ctx := c.Request.Context()
	if err := s.readiness(ctx); err != nil {
		return nil, err
	}
	unlock := s.lockVin(config.GetVin())
	defer unlock()
	return s.runner.ResetSchedules(ctx)
}

// startScheduler runs the continuous mode: the regular cycle cadence plus
// the nightly wake, in the home time zone.
func (s *Server) startScheduler() {
	s.cron = cron.New(cron.WithLocation(config.GetHomeLocation()))
	_, _ = s.cron.AddFunc(daytimeCycleSpec, s.scheduledCycle)
	_, _ = s.cron.AddFunc(overnightCycleSpec, s.scheduledCycle)
	_, _ = s.cron.AddFunc(midnightWakeSpec, s.scheduledMidnight)
	s.cron.Start()
	klog.Infof("internal scheduler started")
}

func (s *Server) scheduledCycle() {
	ctx, cancel := context.WithTimeout(context.Background(), cycleTimeout)
	defer cancel()
	if !s.tokenReady(ctx) {
		return
	}
	if _, err := s.runCycle(ctx, "schedule"); err != nil {
		klog.Errorf("scheduled cycle failed: %v", err)
		if commonerrors.IsAuthExpired(err) ||
			commonerrors.CodeForError(err) == commonerrors.TokenUnavailable {
			s.enterTokenWait()
		}
	}
}

func (s *Server) scheduledMidnight() {
	ctx, cancel := context.WithTimeout(context.Background(), cycleTimeout)
	defer cancel()
	if !s.tokenReady(ctx) {
		return
	}
	if err := s.readiness(ctx); err != nil {
		klog.Errorf("midnight wake skipped: %v", err)
		return
	}
	unlock := s.lockVin(config.GetVin())
	defer unlock()
	if _, err := s.runner.MidnightWake(ctx); err != nil {
		klog.Errorf("midnight wake failed: %v", err)
	}
}

func (s *Server) inTokenWait() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.tokenWaitSince.IsZero()
}

func (s *Server) enterTokenWait() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tokenWaitSince.IsZero() {
		s.tokenWaitSince = time.Now()
		s.tokenRetryAt = time.Now()
		klog.Warningf("entering token waiting state, retrying hourly")
	}
}

// tokenReady implements the waiting state: while waiting, one recovery
// attempt per retry interval instead of a full cycle.
func (s *Server) tokenReady(ctx context.Context) bool {
	s.mu.Lock()
	waitingSince := s.tokenWaitSince
	retryAt := s.tokenRetryAt
	s.mu.Unlock()
	if waitingSince.IsZero() {
		return true
	}
	if time.Since(retryAt) < tokenRetryInterval {
		return false
	}
	s.mu.Lock()
	s.tokenRetryAt = time.Now()
	s.mu.Unlock()

	if err := s.tokens.EnsureValid(ctx); err != nil {
		klog.Warningf("token still unavailable, staying in waiting state: %v", err)
		return false
	}
	s.mu.Lock()
	s.tokenWaitSince = time.Time{}
	s.mu.Unlock()
	klog.Infof("token recovered after %s, resuming cycles", time.Since(waitingSince).Round(time.Second))
	return true
}
