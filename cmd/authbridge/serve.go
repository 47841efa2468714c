// Copyright 2025 Kagenti Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	extprocv3 "github.com/envoyproxy/go-control-plane/envoy/service/ext_proc/v3"
	"google.golang.org/grpc"

	"github.com/kagenti/authbridge/pkg/auth"
	"github.com/kagenti/authbridge/pkg/config"
	"github.com/kagenti/authbridge/pkg/observability"
	"github.com/kagenti/authbridge/pkg/processor"
	"github.com/kagenti/authbridge/pkg/server"
)

// ServeCmd starts the ext_proc server.
type ServeCmd struct {
	Listen string `help:"ext_proc gRPC listen address (overrides config)."`
	Admin  string `help:"Admin HTTP listen address (overrides config)."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutting down...")
		cancel()
	}()

	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	if c.Listen != "" {
		cfg.Server.ListenAddress = c.Listen
	}
	if c.Admin != "" {
		cfg.Server.AdminAddress = c.Admin
	}

	// Credential files are mounted by an init container and may lag
	// behind process start.
	store := config.NewStore(cfg.Identity)
	if cfg.Identity.TokenURL != "" {
		if err := store.WaitForCredentials(ctx, cfg.Identity.CredentialWait); err != nil {
			slog.Warn("Proceeding without client credentials, token exchange disabled", "error", err)
		}
	}
	go func() {
		if err := store.Watch(ctx); err != nil && ctx.Err() == nil {
			slog.Error("Credential watch error", "error", err)
		}
	}()

	_, shutdownTracing, err := observability.InitTracer(ctx, observability.TracerOptions{
		Enabled:       cfg.Tracing.TracingEnabled(),
		Endpoint:      cfg.Tracing.Endpoint,
		ServiceName:   cfg.Tracing.ServiceName,
		AgentName:     cfg.Agent.Name,
		AgentVersion:  cfg.Agent.Version,
		AgentProvider: cfg.Agent.Provider,
	})
	if err != nil {
		// Tracing is best-effort: the sidecar keeps authenticating and
		// proxying even when the collector is misconfigured.
		slog.Error("Failed to initialize tracing, continuing without it", "error", err)
	}
	if shutdownTracing != nil {
		defer func() {
			flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer flushCancel()
			_ = shutdownTracing(flushCtx)
		}()
	}

	var spans *observability.Manager
	if cfg.Tracing.TracingEnabled() {
		spans = observability.NewManager(observability.ManagerOptions{
			AgentName:     cfg.Agent.Name,
			AgentVersion:  cfg.Agent.Version,
			AgentProvider: cfg.Agent.Provider,
		})
	}

	var metrics observability.Metrics = observability.NoopMetrics{}
	var metricsHandler http.Handler
	if cfg.Metrics.MetricsEnabled() {
		prom, err := observability.NewPromMetrics()
		if err != nil {
			return fmt.Errorf("failed to initialize metrics: %w", err)
		}
		metrics = prom
		metricsHandler = prom.Handler()
	}

	var validator *auth.Validator
	if cfg.Identity.Issuer != "" {
		validator, err = auth.NewValidator(ctx, cfg.Identity.JWKSURL, cfg.Identity.Issuer, cfg.Identity.ExpectedAudience)
		if err != nil {
			return fmt.Errorf("failed to initialize JWT validation: %w", err)
		}
		slog.Info("Inbound JWT validation enabled", "issuer", cfg.Identity.Issuer, "jwks_url", cfg.Identity.JWKSURL)
	} else {
		slog.Warn("Inbound JWT validation disabled, no issuer configured")
	}

	var exchanger *auth.Exchanger
	if cfg.Identity.TokenURL != "" && cfg.Identity.TargetAudience != "" {
		exchanger = auth.NewExchanger(cfg.Identity.TokenURL, cfg.Identity.ExchangeTimeout)
		slog.Info("Outbound token exchange enabled", "audience", cfg.Identity.TargetAudience)
	}

	proc := processor.New(processor.Options{
		Logger:         slog.Default(),
		Validator:      validator,
		Exchanger:      exchanger,
		Credentials:    store,
		Spans:          spans,
		Metrics:        metrics,
		TargetAudience: cfg.Identity.TargetAudience,
		TargetScopes:   cfg.Identity.TargetScopes,
	})

	lis, err := net.Listen("tcp", cfg.Server.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Server.ListenAddress, err)
	}
	grpcServer := grpc.NewServer()
	extprocv3.RegisterExternalProcessorServer(grpcServer, proc)

	admin := server.NewAdmin(cfg.Server.AdminAddress, cfg.Metrics.Path, metricsHandler, slog.Default())
	go func() {
		if err := admin.Start(); err != nil {
			slog.Error("Admin server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		_ = admin.Stop(stopCtx)
		grpcServer.GracefulStop()
	}()

	slog.Info("ext_proc server listening",
		"address", cfg.Server.ListenAddress,
		"agent", cfg.Agent.Name,
		"tracing", cfg.Tracing.TracingEnabled(),
	)
	return grpcServer.Serve(lis)
}
