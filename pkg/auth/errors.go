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

package auth

import "errors"

// Inbound validation errors. Each check failure maps to its own
// sentinel so callers (and the 401 body) can say which check failed.
var (
	// ErrMissingAuthHeader is returned when no Authorization header is present.
	ErrMissingAuthHeader = errors.New("missing Authorization header")

	// ErrMalformedAuthHeader is returned when the Authorization header
	// does not carry a Bearer token.
	ErrMalformedAuthHeader = errors.New("invalid Authorization header format")

	// ErrInvalidToken is returned when a token fails signature or
	// time-based validation.
	ErrInvalidToken = errors.New("invalid token")

	// ErrWrongIssuer is returned when the token's iss claim does not
	// match the configured issuer.
	ErrWrongIssuer = errors.New("invalid issuer")

	// ErrWrongAudience is returned when the configured audience is not
	// in the token's aud claim set.
	ErrWrongAudience = errors.New("invalid audience")

	// ErrExchangeFailed is returned when the token-exchange grant is
	// rejected by the identity provider.
	ErrExchangeFailed = errors.New("token exchange failed")
)
