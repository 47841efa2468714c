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

package observability

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"go.opentelemetry.io/otel/attribute"
)

// Metrics records what the processor did with each stream. All methods
// are safe for concurrent use.
type Metrics interface {
	// RecordRequest counts an inbound request and its outcome
	// ("allowed" or "denied").
	RecordRequest(ctx context.Context, outcome string)

	// RecordDenial counts a rejected credential by reason.
	RecordDenial(ctx context.Context, reason string)

	// RecordExchange counts a token-exchange attempt.
	RecordExchange(ctx context.Context, success bool)

	// RecordSpan counts a synthesized request span and how it closed
	// ("ok" or "error").
	RecordSpan(ctx context.Context, outcome string)

	// RecordEvent counts a classified stream event by kind.
	RecordEvent(ctx context.Context, kind string)

	// RecordParseFallback counts a response body that needed the
	// trailing-object scan instead of a structured parse.
	RecordParseFallback(ctx context.Context)
}

// PromMetrics implements Metrics on an OTEL meter backed by a
// Prometheus registry, served by Handler.
type PromMetrics struct {
	registry *prometheus.Registry

	requests      metric.Int64Counter
	denials       metric.Int64Counter
	exchanges     metric.Int64Counter
	spans         metric.Int64Counter
	events        metric.Int64Counter
	parseFallback metric.Int64Counter
}

// NewPromMetrics builds the metric instruments and the registry they
// report into.
func NewPromMetrics() (*PromMetrics, error) {
	registry := prometheus.NewRegistry()

	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter("authbridge")

	m := &PromMetrics{registry: registry}

	if m.requests, err = meter.Int64Counter("authbridge_requests",
		metric.WithDescription("Inbound requests by outcome")); err != nil {
		return nil, err
	}
	if m.denials, err = meter.Int64Counter("authbridge_auth_denials",
		metric.WithDescription("Rejected credentials by reason")); err != nil {
		return nil, err
	}
	if m.exchanges, err = meter.Int64Counter("authbridge_token_exchanges",
		metric.WithDescription("Token-exchange attempts by result")); err != nil {
		return nil, err
	}
	if m.spans, err = meter.Int64Counter("authbridge_spans",
		metric.WithDescription("Synthesized request spans by close status")); err != nil {
		return nil, err
	}
	if m.events, err = meter.Int64Counter("authbridge_stream_events",
		metric.WithDescription("Classified stream events by kind")); err != nil {
		return nil, err
	}
	if m.parseFallback, err = meter.Int64Counter("authbridge_output_parse_fallbacks",
		metric.WithDescription("Response bodies that fell back to the trailing-object scan")); err != nil {
		return nil, err
	}

	return m, nil
}

// Handler serves the registry in Prometheus exposition format.
func (m *PromMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *PromMetrics) RecordRequest(ctx context.Context, outcome string) {
	m.requests.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *PromMetrics) RecordDenial(ctx context.Context, reason string) {
	m.denials.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *PromMetrics) RecordExchange(ctx context.Context, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.exchanges.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func (m *PromMetrics) RecordSpan(ctx context.Context, outcome string) {
	m.spans.Add(ctx, 1, metric.WithAttributes(attribute.String("status", outcome)))
}

func (m *PromMetrics) RecordEvent(ctx context.Context, kind string) {
	m.events.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *PromMetrics) RecordParseFallback(ctx context.Context) {
	m.parseFallback.Add(ctx, 1)
}

// NoopMetrics discards everything. Used when metrics are disabled and
// in tests that do not assert on counters.
type NoopMetrics struct{}

func (NoopMetrics) RecordRequest(context.Context, string)  {}
func (NoopMetrics) RecordDenial(context.Context, string)   {}
func (NoopMetrics) RecordExchange(context.Context, bool)   {}
func (NoopMetrics) RecordSpan(context.Context, string)     {}
func (NoopMetrics) RecordEvent(context.Context, string)    {}
func (NoopMetrics) RecordParseFallback(context.Context)    {}
