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

// Package server hosts the admin HTTP endpoint that sits next to the
// ext_proc gRPC service: liveness probing and metrics scraping.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Admin is the sidecar's out-of-band HTTP surface. It never sees
// proxied traffic; Envoy health checks and Prometheus talk to it
// directly.
type Admin struct {
	addr    string
	log     *slog.Logger
	httpSrv *http.Server
}

// NewAdmin builds the admin server. metricsHandler may be nil when
// metrics are disabled; the route is simply not mounted.
func NewAdmin(addr, metricsPath string, metricsHandler http.Handler, log *slog.Logger) *Admin {
	if log == nil {
		log = slog.Default()
	}
	if metricsPath == "" {
		metricsPath = "/metrics"
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", handleHealth)
	if metricsHandler != nil {
		r.Method(http.MethodGet, metricsPath, metricsHandler)
	}

	return &Admin{
		addr: addr,
		log:  log,
		httpSrv: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start serves until Stop is called. Blocks.
func (a *Admin) Start() error {
	a.log.Info("Admin server listening", "address", a.addr)
	if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the server down gracefully.
func (a *Admin) Stop(ctx context.Context) error {
	return a.httpSrv.Shutdown(ctx)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
