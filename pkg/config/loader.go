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

package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPatterns = struct {
	withDefault *regexp.Regexp // ${VAR:-default}
	braced      *regexp.Regexp // ${VAR}
}{
	withDefault: regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*):-(.*?)\}`),
	braced:      regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*)\}`),
}

// expandEnvVars expands ${VAR} and ${VAR:-default} references in a
// string. The defaulted form is processed first so its default text is
// never mistaken for a bare reference.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "$") {
		return s
	}

	s = envVarPatterns.withDefault.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarPatterns.withDefault.FindStringSubmatch(match)
		if len(parts) == 3 {
			if val := os.Getenv(parts[1]); val != "" {
				return val
			}
			return parts[2]
		}
		return match
	})

	s = envVarPatterns.braced.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarPatterns.braced.FindStringSubmatch(match)
		if len(parts) == 2 {
			return os.Getenv(parts[1])
		}
		return match
	})

	return s
}

// Load reads the optional YAML config file, expands environment
// references in it, applies environment variable overrides, then
// defaults and validation. An empty path skips the file entirely.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		expanded := expandEnvVars(string(raw))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnv overrides file values with the environment variables the
// deployment manifests set. Environment always wins over the file.
func (c *Config) applyEnv() {
	setString := func(dst *string, keys ...string) {
		for _, key := range keys {
			if v := os.Getenv(key); v != "" {
				*dst = v
				return
			}
		}
	}

	setString(&c.Identity.TokenURL, "TOKEN_URL")
	setString(&c.Identity.TargetAudience, "TARGET_AUDIENCE")
	setString(&c.Identity.TargetScopes, "TARGET_SCOPES")
	setString(&c.Identity.ClientIDFile, "CLIENT_ID_FILE")
	setString(&c.Identity.ClientSecretFile, "CLIENT_SECRET_FILE")
	setString(&c.Identity.ClientID, "CLIENT_ID")
	setString(&c.Identity.ClientSecret, "CLIENT_SECRET")
	setString(&c.Identity.Issuer, "ISSUER")
	setString(&c.Identity.ExpectedAudience, "EXPECTED_AUDIENCE")
	setString(&c.Identity.JWKSURL, "JWKS_URL")

	setString(&c.Agent.Name, "AGENT_NAME")
	setString(&c.Agent.Version, "AGENT_VERSION")
	setString(&c.Agent.Provider, "AGENT_PROVIDER")

	setString(&c.Tracing.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&c.Tracing.ServiceName, "OTEL_SERVICE_NAME")
	if v := os.Getenv("OTEL_TRACING_ENABLED"); v != "" {
		enabled := strings.EqualFold(v, "true")
		c.Tracing.Enabled = &enabled
	}

	setString(&c.Server.ListenAddress, "LISTEN_ADDRESS")
	setString(&c.Server.AdminAddress, "ADMIN_ADDRESS")
}
