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

// Package config provides configuration types and loading for the
// authbridge processor.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config is the process-wide configuration. It is assembled once at
// startup from an optional YAML file plus environment variables; only
// the credential material inside Store is ever reloaded afterwards.
type Config struct {
	// Server configures the ext_proc gRPC listener and the admin
	// HTTP listener.
	Server ServerConfig `yaml:"server,omitempty"`

	// Identity configures inbound JWT validation and outbound token
	// exchange.
	Identity IdentityConfig `yaml:"identity,omitempty"`

	// Agent describes the fronted agent workload. It is attached to
	// every exported span as resource-level metadata.
	Agent AgentConfig `yaml:"agent,omitempty"`

	// Tracing configures OTLP span export.
	Tracing TracingConfig `yaml:"tracing,omitempty"`

	// Metrics configures the Prometheus metrics endpoint.
	Metrics MetricsConfig `yaml:"metrics,omitempty"`
}

// ServerConfig configures listeners.
type ServerConfig struct {
	// ListenAddress is the ext_proc gRPC listen address.
	// Default: ":9090"
	ListenAddress string `yaml:"listen_address,omitempty"`

	// AdminAddress is the HTTP listen address for /health and /metrics.
	// Default: ":8081"
	AdminAddress string `yaml:"admin_address,omitempty"`
}

// IdentityConfig configures the identity provider integration.
type IdentityConfig struct {
	// TokenURL is the OAuth2 token endpoint used for token exchange.
	TokenURL string `yaml:"token_url,omitempty"`

	// JWKSURL is the key-set endpoint for inbound validation.
	// Default: derived from TokenURL (Keycloak layout: /token -> /certs).
	JWKSURL string `yaml:"jwks_url,omitempty"`

	// Issuer is the expected `iss` claim of inbound tokens. Inbound
	// validation is disabled when empty.
	Issuer string `yaml:"issuer,omitempty"`

	// ExpectedAudience, when set, must appear in the inbound token's
	// `aud` claim set.
	ExpectedAudience string `yaml:"expected_audience,omitempty"`

	// TargetAudience is the audience requested during token exchange.
	TargetAudience string `yaml:"target_audience,omitempty"`

	// TargetScopes is the space-separated scope list requested during
	// token exchange.
	TargetScopes string `yaml:"target_scopes,omitempty"`

	// ClientIDFile / ClientSecretFile are the mounted credential files.
	// Defaults: /shared/client-id.txt, /shared/client-secret.txt
	ClientIDFile     string `yaml:"client_id_file,omitempty"`
	ClientSecretFile string `yaml:"client_secret_file,omitempty"`

	// ClientID / ClientSecret are fallbacks for when no files are
	// mounted. File contents win over these.
	ClientID     string `yaml:"client_id,omitempty"`
	ClientSecret string `yaml:"client_secret,omitempty"`

	// CredentialWait bounds the startup wait for credential files.
	// Default: 60s
	CredentialWait time.Duration `yaml:"credential_wait,omitempty"`

	// ExchangeTimeout bounds a single token-exchange call.
	// Default: 10s
	ExchangeTimeout time.Duration `yaml:"exchange_timeout,omitempty"`
}

// AgentConfig identifies the fronted agent.
type AgentConfig struct {
	// Name of the agent. Default: "agent"
	Name string `yaml:"name,omitempty"`

	// Version of the agent. Default: "0.0.0"
	Version string `yaml:"version,omitempty"`

	// Provider is the orchestration framework the agent is built on
	// (e.g. "langgraph"). Default: "langgraph"
	Provider string `yaml:"provider,omitempty"`
}

// TracingConfig configures OTLP-over-HTTP span export.
type TracingConfig struct {
	// Enabled turns span creation on. When false the processor runs
	// in pure auth/proxy mode and creates no spans at all.
	// Default: true
	Enabled *bool `yaml:"enabled,omitempty"`

	// Endpoint is the OTLP collector endpoint. A scheme prefix is
	// tolerated and stripped.
	Endpoint string `yaml:"endpoint,omitempty"`

	// ServiceName identifies this processor in traces.
	// Default: the agent name
	ServiceName string `yaml:"service_name,omitempty"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Enabled turns metrics collection on. Default: true
	Enabled *bool `yaml:"enabled,omitempty"`

	// Path to expose metrics on. Default: "/metrics"
	Path string `yaml:"path,omitempty"`
}

// TracingEnabled reports the effective tracing toggle.
func (c *TracingConfig) TracingEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// MetricsEnabled reports the effective metrics toggle.
func (c *MetricsConfig) MetricsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// SetDefaults applies default values to the configuration.
func (c *Config) SetDefaults() {
	if c.Server.ListenAddress == "" {
		c.Server.ListenAddress = ":9090"
	}
	if c.Server.AdminAddress == "" {
		c.Server.AdminAddress = ":8081"
	}
	if c.Identity.ClientIDFile == "" {
		c.Identity.ClientIDFile = "/shared/client-id.txt"
	}
	if c.Identity.ClientSecretFile == "" {
		c.Identity.ClientSecretFile = "/shared/client-secret.txt"
	}
	if c.Identity.JWKSURL == "" && c.Identity.TokenURL != "" {
		c.Identity.JWKSURL = DeriveJWKSURL(c.Identity.TokenURL)
	}
	if c.Identity.CredentialWait == 0 {
		c.Identity.CredentialWait = 60 * time.Second
	}
	if c.Identity.ExchangeTimeout == 0 {
		c.Identity.ExchangeTimeout = 10 * time.Second
	}
	if c.Agent.Name == "" {
		c.Agent.Name = "agent"
	}
	if c.Agent.Version == "" {
		c.Agent.Version = "0.0.0"
	}
	if c.Agent.Provider == "" {
		c.Agent.Provider = "langgraph"
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = c.Agent.Name
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Identity.TokenURL != "" {
		if _, err := url.Parse(c.Identity.TokenURL); err != nil {
			return fmt.Errorf("identity.token_url: %w", err)
		}
	}
	if c.Identity.Issuer != "" && c.Identity.JWKSURL == "" {
		return fmt.Errorf("identity.jwks_url is required when identity.issuer is set")
	}
	if c.Tracing.TracingEnabled() && c.Tracing.Endpoint == "" {
		return fmt.Errorf("tracing.endpoint is required when tracing is enabled")
	}
	return nil
}

// DeriveJWKSURL maps a Keycloak-style token endpoint to its JWKS
// endpoint (".../token" -> ".../certs").
func DeriveJWKSURL(tokenURL string) string {
	return strings.TrimSuffix(tokenURL, "/token") + "/certs"
}
