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

// Package auth provides inbound bearer-token validation and outbound
// OAuth2 token exchange for the processor.
package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// Validator validates inbound JWTs against the identity provider's
// published key set. The JWKS is fetched lazily and cached; jwk.Cache
// collapses concurrent fetches for the same URL into one request.
type Validator struct {
	jwksURL  string
	cache    *jwk.Cache
	issuer   string
	audience string
}

// NewValidator creates a validator for the given JWKS URL. The key set
// is auto-refreshed (at most every 15 minutes) to handle key rotation.
// No fetch happens here: the identity provider may come up after the
// processor does, so the first validation call triggers the fetch.
func NewValidator(ctx context.Context, jwksURL, issuer, audience string) (*Validator, error) {
	cache := jwk.NewCache(ctx)
	if err := cache.Register(jwksURL, jwk.WithMinRefreshInterval(15*time.Minute)); err != nil {
		return nil, fmt.Errorf("failed to register JWKS URL: %w", err)
	}

	return &Validator{
		jwksURL:  jwksURL,
		cache:    cache,
		issuer:   issuer,
		audience: audience,
	}, nil
}

// BearerToken extracts the bearer token from an Authorization header
// value. Distinguishes a missing header from a malformed one.
func BearerToken(headerValue string) (string, error) {
	if headerValue == "" {
		return "", ErrMissingAuthHeader
	}
	token := strings.TrimPrefix(headerValue, "Bearer ")
	token = strings.TrimPrefix(token, "bearer ")
	if token == headerValue {
		return "", ErrMalformedAuthHeader
	}
	return token, nil
}

// Validate verifies the token's signature against the cached JWKS and
// checks expiry, issuer, and (when configured) audience. The returned
// error wraps the sentinel for whichever check failed first.
//
// Issuer and audience are checked explicitly rather than through jwt
// parse options so the failure reason survives into the 401 body.
func (v *Validator) Validate(ctx context.Context, tokenString string) error {
	keyset, err := v.cache.Get(ctx, v.jwksURL)
	if err != nil {
		return fmt.Errorf("failed to fetch JWKS: %w", err)
	}

	token, err := jwt.Parse([]byte(tokenString), jwt.WithKeySet(keyset), jwt.WithValidate(true))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if token.Issuer() != v.issuer {
		return fmt.Errorf("%w: expected %s, got %s", ErrWrongIssuer, v.issuer, token.Issuer())
	}

	if v.audience != "" {
		found := false
		for _, aud := range token.Audience() {
			if aud == v.audience {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: expected %s, got %v", ErrWrongAudience, v.audience, token.Audience())
		}
	}

	return nil
}
