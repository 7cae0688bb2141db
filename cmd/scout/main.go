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
	logutil "github.com/mac923/offpeak-controller/pkg/klog"
	"github.com/mac923/offpeak-controller/pkg/scout"
	"github.com/mac923/offpeak-controller/pkg/store"
	"github.com/mac923/offpeak-controller/pkg/token"
)

var (
	configPath = flag.String("config", "/etc/offpeak/config.yaml", "configuration file path")
	logFile    = flag.String("log-file", "/var/log/offpeak/scout.log", "log file path")
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

	// Scout is a pure reader: it never refreshes the canonical token and
	// never issues signed commands, so it carries no signer.
	tokens := token.NewManager(state, false)
	if err := tokens.Load(context.Background()); err != nil {
		klog.Warningf("no token material at startup: %v", err)
	}

	vehicles := fleet.NewClient(config.GetFleetBaseUrl(), tokens, nil)
	sampler := scout.NewSampler(vehicles, state, tokens)
	server := scout.NewServer(sampler, tokens)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		klog.Infof("signal received, shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Stop(ctx); err != nil {
			klog.ErrorS(err, "shutdown failed")
		}
	}()

	if err := server.Start(); err != nil {
		klog.ErrorS(err, "scout server failed")
		os.Exit(-1)
	}
}
