/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

// Package metrics exposes the control-plane counters on /metrics.
package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ScoutSamples = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "offpeak",
		Subsystem: "scout",
		Name:      "samples_total",
		Help:      "Scout sampling cycles, partitioned by verdict.",
	}, []string{"verdict"})

	WorkerTriggers = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "offpeak",
		Subsystem: "scout",
		Name:      "worker_triggers_total",
		Help:      "Worker wake-ups requested by the Scout.",
	}, []string{"reason"})

	WorkerCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "offpeak",
		Subsystem: "worker",
		Name:      "cycles_total",
		Help:      "Worker reconciliation cycles, partitioned by outcome.",
	}, []string{"outcome"})

	SchedulesAdded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "offpeak",
		Subsystem: "worker",
		Name:      "schedules_added_total",
		Help:      "Charge schedules written to the vehicle.",
	})

	SchedulesRemoved = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "offpeak",
		Subsystem: "worker",
		Name:      "schedules_removed_total",
		Help:      "Charge schedules removed from the vehicle.",
	})

	TokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "offpeak",
		Subsystem: "token",
		Name:      "refreshes_total",
		Help:      "OAuth refresh exchanges, partitioned by result.",
	}, []string{"result"})

	SpecialSessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "offpeak",
		Subsystem: "planner",
		Name:      "special_sessions_total",
		Help:      "Special-charging session transitions, partitioned by status.",
	}, []string{"status"})

	PlannerFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "offpeak",
		Subsystem: "worker",
		Name:      "planner_fallbacks_total",
		Help:      "Reconciliations that applied the static fallback plan.",
	})
)

// Handler adapts the prometheus exposition handler to gin.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
