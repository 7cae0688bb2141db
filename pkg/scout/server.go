/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package scout

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"k8s.io/klog/v2"

	"github.com/mac923/offpeak-controller/pkg/apiutils"
	"github.com/mac923/offpeak-controller/pkg/config"
	"github.com/mac923/offpeak-controller/pkg/token"
)

// Server is the Scout HTTP entrypoint: any POST runs one sample, a GET with
// action=cache-stats reports the local token cache.
type Server struct {
	router  *gin.Engine
	httpSrv *http.Server
	sampler *Sampler
	tokens  *token.Manager
}

// NewServer builds the scout surface around a sampler.
func NewServer(sampler *Sampler, tokens *token.Manager) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		router:  gin.New(),
		sampler: sampler,
		tokens:  tokens,
	}
	s.router.Use(gin.Recovery())
	s.router.POST("/*path", s.handleSample)
	s.router.GET("/", s.handleGet)
	return s
}

// Start serves until the listener fails or Stop is called.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:    ":" + strconv.Itoa(config.GetScoutPort()),
		Handler: s.router,
	}
	klog.Infof("scout listening on %s", s.httpSrv.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop drains in-flight requests.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleSample(c *gin.Context) {
	start := time.Now()
	result, err := s.sampler.Sample(c.Request.Context())
	if err != nil {
		apiutils.AbortWithApiError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"vehicle":                result.Vehicle,
		"state_change":           result.StateChange,
		"execution_time_seconds": time.Since(start).Seconds(),
	})
}

func (s *Server) handleGet(c *gin.Context) {
	if c.Query("action") == "cache-stats" {
		stats := gin.H{"token_source": s.tokens.LoadedFrom()}
		if state, err := s.tokens.Current(c.Request.Context()); err == nil {
			stats["remaining_minutes"] = state.RemainingMinutes(time.Now().UTC())
		}
		c.JSON(http.StatusOK, stats)
		return
	}
	s.handleSample(c)
}
