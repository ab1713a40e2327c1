// Package auth provides a caller-authentication boundary hook for
// front-door surfaces that sit in front of the workflow manager (HTTP
// submission endpoints, RPC listeners) and a credential store for
// provider-held secrets (API keys, tokens) backed by the OS keychain.
package auth

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTConfig configures JWT validation and issuance. Exactly one signing
// mode is used at a time: HS256 via Secret, or EdDSA via the ed25519 key
// pair. ClockSkew is passed to the parser as allowed leeway on exp/nbf.
type JWTConfig struct {
	Secret     []byte
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
	Issuer     string
	Audience   string
	ClockSkew  time.Duration
}

// Claims is the principal carried by a Gleitzeit-issued token: a caller
// identity plus the workflow-manager scopes (e.g. "workflows:submit",
// "workflows:cancel") it is authorized for.
type Claims struct {
	jwt.RegisteredClaims
	CallerID string   `json:"caller_id"`
	Scopes   []string `json:"scopes,omitempty"`
}

// HasScope reports whether the claims grant scope.
func (c *Claims) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

var errUnsupportedSigningMethod = errors.New("auth: unsupported JWT signing method")

// ValidateJWT parses and verifies tokenString against cfg, checking the
// signature, expiry (with cfg.ClockSkew leeway), and issuer/audience.
func ValidateJWT(tokenString string, cfg JWTConfig) (*Claims, error) {
	claims := &Claims{}
	parser := jwt.NewParser(jwt.WithLeeway(cfg.ClockSkew))

	token, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		switch token.Method.Alg() {
		case "HS256":
			if cfg.Secret == nil {
				return nil, errUnsupportedSigningMethod
			}
			return cfg.Secret, nil
		case "EdDSA":
			if cfg.PublicKey == nil {
				return nil, errUnsupportedSigningMethod
			}
			return cfg.PublicKey, nil
		default:
			return nil, fmt.Errorf("%w: %s", errUnsupportedSigningMethod, token.Method.Alg())
		}
	})
	if err != nil {
		return nil, fmt.Errorf("auth: validate token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("auth: invalid token")
	}

	if cfg.Issuer != "" && claims.Issuer != cfg.Issuer {
		return nil, fmt.Errorf("auth: unexpected issuer %q", claims.Issuer)
	}
	if cfg.Audience != "" {
		found := false
		for _, aud := range claims.Audience {
			if aud == cfg.Audience {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("auth: token not valid for audience %q", cfg.Audience)
		}
	}

	return claims, nil
}

// GenerateJWT signs claims under cfg, defaulting ExpiresAt to 24h from now
// when unset. It signs with EdDSA if cfg.PrivateKey is set, else HS256
// with cfg.Secret.
func GenerateJWT(claims Claims, cfg JWTConfig) (string, error) {
	if claims.ExpiresAt == nil {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(24 * time.Hour))
	}
	if claims.IssuedAt == nil {
		claims.IssuedAt = jwt.NewNumericDate(time.Now())
	}
	if cfg.Issuer != "" && claims.Issuer == "" {
		claims.Issuer = cfg.Issuer
	}
	if cfg.Audience != "" && len(claims.Audience) == 0 {
		claims.Audience = jwt.ClaimStrings{cfg.Audience}
	}

	switch {
	case cfg.PrivateKey != nil:
		token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
		return token.SignedString(cfg.PrivateKey)
	case cfg.Secret != nil:
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
		return token.SignedString(cfg.Secret)
	default:
		return "", errors.New("auth: JWTConfig needs either PrivateKey or Secret")
	}
}
