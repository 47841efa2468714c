package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

const testKeyID = "test-key-id"

// newSigningKey generates an RSA key pair and the JWKS publishing its
// public half.
func newSigningKey(t *testing.T) (*rsa.PrivateKey, jwk.Set) {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key pair: %v", err)
	}

	pub, err := jwk.FromRaw(&privateKey.PublicKey)
	if err != nil {
		t.Fatalf("failed to build JWK: %v", err)
	}
	if err := pub.Set(jwk.KeyIDKey, testKeyID); err != nil {
		t.Fatalf("failed to set kid: %v", err)
	}
	if err := pub.Set(jwk.AlgorithmKey, jwa.RS256); err != nil {
		t.Fatalf("failed to set alg: %v", err)
	}

	keyset := jwk.NewSet()
	if err := keyset.AddKey(pub); err != nil {
		t.Fatalf("failed to add key: %v", err)
	}
	return privateKey, keyset
}

// newJWKSServer serves the key set over HTTP the way the identity
// provider's certs endpoint would.
func newJWKSServer(t *testing.T, keyset jwk.Set) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload, err := json.Marshal(keyset)
		if err != nil {
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(payload)
	}))
	t.Cleanup(server.Close)
	return server
}

// signToken signs a token with the given claims.
func signToken(t *testing.T, privateKey *rsa.PrivateKey, issuer, audience, subject string) string {
	t.Helper()

	token := jwt.New()
	for key, value := range map[string]interface{}{
		jwt.IssuerKey:     issuer,
		jwt.AudienceKey:   audience,
		jwt.SubjectKey:    subject,
		jwt.IssuedAtKey:   time.Now(),
		jwt.ExpirationKey: time.Now().Add(time.Hour),
	} {
		if err := token.Set(key, value); err != nil {
			t.Fatalf("failed to set claim %s: %v", key, err)
		}
	}

	key, err := jwk.FromRaw(privateKey)
	if err != nil {
		t.Fatalf("failed to build signing key: %v", err)
	}
	if err := key.Set(jwk.KeyIDKey, testKeyID); err != nil {
		t.Fatalf("failed to set kid: %v", err)
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.RS256, key))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return string(signed)
}
