/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"k8s.io/klog/v2"

	"github.com/mac923/offpeak-controller/pkg/config"
	"github.com/mac923/offpeak-controller/pkg/fleet"
	"github.com/mac923/offpeak-controller/pkg/jobs"
	logutil "github.com/mac923/offpeak-controller/pkg/klog"
	"github.com/mac923/offpeak-controller/pkg/planner"
	"github.com/mac923/offpeak-controller/pkg/proxy"
	"github.com/mac923/offpeak-controller/pkg/reconciler"
	"github.com/mac923/offpeak-controller/pkg/store"
	"github.com/mac923/offpeak-controller/pkg/token"
	"github.com/mac923/offpeak-controller/pkg/worker"
)

var (
	configPath = flag.String("config", "/etc/offpeak/config.yaml", "configuration file path")
	logFile    = flag.String("log-file", "/var/log/offpeak/worker.log", "log file path")
)

func main() {
	flag.Parse()
	if err := logutil.Init(*logFile, 500); err != nil {
		klog.ErrorS(err, "failed to init logging")
		os.Exit(-1)
	}
	if err := config.LoadConfig(*configPath); err != nil {
		klog.ErrorS(err, "failed to load configuration", "path", *configPath)
		os.Exit(-1)
	}

	state := store.NewClient()
	if state == nil {
		klog.Errorf("state store unavailable")
		os.Exit(-1)
	}

	tokens := token.NewManager(state, true)
	if err := tokens.Load(context.Background()); err != nil {
		klog.Warningf("no token material at startup: %v", err)
	}

	supervisor := proxy.NewSupervisor()
	vehicles := fleet.NewClient(config.GetFleetBaseUrl(), tokens, supervisor)
	rec := reconciler.NewReconciler(reconciler.NewPlannerClient(), vehicles, supervisor, state)
	special := planner.NewPlanner(planner.NewSheetClient(), vehicles, supervisor, state, jobs.NewRegistrar())
	runner := worker.NewRunner(vehicles, state, rec, supervisor)
	server := worker.NewServer(runner, tokens, state, supervisor, special)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		klog.Infof("signal received, shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Stop(ctx); err != nil {
			klog.ErrorS(err, "shutdown failed")
		}
		supervisor.Close()
	}()

	if err := server.Start(); err != nil {
		klog.ErrorS(err, "worker server failed")
		os.Exit(-1)
	}
}
