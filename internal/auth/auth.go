// Package auth provides API-key and JWT authentication for the HTTP surface.
//
// The deployment configures one static API key (hashed at startup with
// Argon2id); clients either present it directly or exchange it for a
// short-lived HMAC-signed JWT. No key at all disables authentication — the
// embedded single-node mode.
package auth

import (
	"crypto/rand"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims extends jwt.RegisteredClaims with the calling agent's id.
type Claims struct {
	jwt.RegisteredClaims
	AgentID string `json:"agent_id,omitempty"`
}

// JWTManager issues and validates HMAC-signed tokens.
type JWTManager struct {
	secret     []byte
	expiration time.Duration
}

// NewJWTManager creates a manager. An empty secret generates an ephemeral
// one, which invalidates outstanding tokens on restart.
func NewJWTManager(secret string, expiration time.Duration) (*JWTManager, error) {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("auth: generate ephemeral secret: %w", err)
		}
	}
	if expiration <= 0 {
		expiration = 24 * time.Hour
	}
	return &JWTManager{secret: key, expiration: expiration}, nil
}

// IssueToken creates a signed JWT for the given agent id.
func (m *JWTManager) IssueToken(agentID string) (string, time.Time, error) {
	now := time.Now().UTC()
	exp := now.Add(m.expiration)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   agentID,
			Issuer:    "kioku",
			Audience:  jwt.ClaimStrings{"kioku"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.New().String(),
		},
		AgentID: agentID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, exp, nil
}

// ValidateToken parses and validates a JWT, returning the claims.
func (m *JWTManager) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&Claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return m.secret, nil
		},
		jwt.WithAudience("kioku"),
		jwt.WithIssuer("kioku"),
	)
	if err != nil {
		return nil, fmt.Errorf("auth: validate token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("auth: invalid token claims")
	}
	return claims, nil
}

// Authenticator guards the HTTP surface. A zero-value (no API key) passes
// every request through.
type Authenticator struct {
	apiKeyHash string
	jwt        *JWTManager
}

// NewAuthenticator hashes the configured API key once at startup. apiKey may
// be empty to disable authentication.
func NewAuthenticator(apiKey string, jwtMgr *JWTManager) (*Authenticator, error) {
	a := &Authenticator{jwt: jwtMgr}
	if apiKey != "" {
		h, err := HashAPIKey(apiKey)
		if err != nil {
			return nil, err
		}
		a.apiKeyHash = h
	}
	return a, nil
}

// Enabled reports whether requests must authenticate.
func (a *Authenticator) Enabled() bool { return a.apiKeyHash != "" }

// CheckAPIKey verifies a presented key against the configured hash.
func (a *Authenticator) CheckAPIKey(key string) bool {
	if a.apiKeyHash == "" {
		return false
	}
	if key == "" {
		DummyVerify()
		return false
	}
	ok, err := VerifyAPIKey(key, a.apiKeyHash)
	return err == nil && ok
}

// Exchange validates an API key and issues a JWT for agentID.
func (a *Authenticator) Exchange(key, agentID string) (string, time.Time, error) {
	if !a.CheckAPIKey(key) {
		return "", time.Time{}, fmt.Errorf("auth: invalid api key")
	}
	if a.jwt == nil {
		return "", time.Time{}, fmt.Errorf("auth: no jwt manager configured")
	}
	return a.jwt.IssueToken(agentID)
}

// Middleware enforces authentication: either X-API-Key or a Bearer JWT.
// Disabled authenticators pass everything through.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		if key := r.Header.Get("X-API-Key"); key != "" {
			if a.CheckAPIKey(key) {
				next.ServeHTTP(w, r)
				return
			}
			unauthorized(w)
			return
		}

		if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
			if a.jwt != nil {
				if _, err := a.jwt.ValidateToken(strings.TrimPrefix(header, "Bearer ")); err == nil {
					next.ServeHTTP(w, r)
					return
				}
			}
		}

		unauthorized(w)
	})
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":{"code":"unauthorized","message":"missing or invalid credentials"}}`))
}
