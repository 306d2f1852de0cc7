// Package auth verifies identity provider tokens and carries the resulting
// principal through request contexts.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/PaulBabatuyi/petmarket-gRPC/internal/data"
	"github.com/PaulBabatuyi/petmarket-gRPC/internal/normalize"
)

// defaultKid names the key of a manager built from a single secret.
const defaultKid = "default"

// JWTManager signs and validates JWT tokens used by the API.
type JWTManager struct {
	keys      map[string][]byte // HMAC secrets by key id; older keys stay for verification
	activeKid string            // key id used to sign new tokens
	duration  time.Duration     // how long issued tokens are valid
}

// Claims is the JWT payload describing the signed-in user.
type Claims struct {
	UserID               string `json:"user_id"`
	Email                string `json:"email"`
	Name                 string `json:"name,omitempty"`
	Picture              string `json:"picture,omitempty"`
	jwt.RegisteredClaims        // ExpiresAt, IssuedAt, ...
}

// Principal converts the claims into the authenticated principal.
func (c *Claims) Principal() data.Principal {
	return data.Principal{
		ID:          c.UserID,
		Email:       normalize.Email(c.Email),
		DisplayName: c.Name,
		AvatarURL:   c.Picture,
	}
}

// NewJWTManager returns a manager with a single secret.
func NewJWTManager(secretKey string, duration time.Duration) *JWTManager {
	return NewJWTManagerFromKeys(map[string]string{defaultKid: secretKey}, defaultKid, duration)
}

// NewJWTManagerFromKeys returns a manager that signs with activeKid and
// verifies tokens signed by any key in keys.
func NewJWTManagerFromKeys(keys map[string]string, activeKid string, duration time.Duration) *JWTManager {
	m := &JWTManager{
		keys:      make(map[string][]byte, len(keys)),
		activeKid: activeKid,
		duration:  duration,
	}
	for kid, secret := range keys {
		m.keys[kid] = []byte(secret)
	}
	return m
}

// GenerateToken issues a signed token for p. The identity provider issues
// tokens in production; this is used by tooling and tests.
func (m *JWTManager) GenerateToken(p data.Principal) (string, time.Time, error) {
	secret, ok := m.keys[m.activeKid]
	if !ok {
		return "", time.Time{}, fmt.Errorf("no signing key for kid %q", m.activeKid)
	}

	now := time.Now()
	expiresAt := now.Add(m.duration)
	claims := &Claims{
		UserID:  p.ID,
		Email:   p.NormalizedEmail(), // stored normalized so comparisons are stable
		Name:    p.DisplayName,
		Picture: p.AvatarURL,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = m.activeKid

	tokenString, err := token.SignedString(secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return tokenString, expiresAt, nil
}

// VerifyToken parses and validates a token and returns its claims.
func (m *JWTManager) VerifyToken(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		// only HMAC; an asymmetric alg here would be a forgery attempt
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		// tokens without kid predate rotation and use the active key
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			kid = m.activeKid
		}
		secret, ok := m.keys[kid]
		if !ok {
			return nil, fmt.Errorf("unknown key id %q", kid)
		}
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	claims.Email = normalize.Email(claims.Email)
	return claims, nil
}
