package auth_test

import (
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/gleitzeit/gleitzeit/pkg/provider/auth"
)

func TestGenerateAndValidateJWTWithHS256(t *testing.T) {
	cfg := auth.JWTConfig{Secret: []byte("top-secret"), Issuer: "gleitzeit", Audience: "workflow-manager"}

	token, err := auth.GenerateJWT(auth.Claims{CallerID: "alice", Scopes: []string{"workflows:submit"}}, cfg)
	require.NoError(t, err)

	claims, err := auth.ValidateJWT(token, cfg)
	require.NoError(t, err)
	require.Equal(t, "alice", claims.CallerID)
	require.True(t, claims.HasScope("workflows:submit"))
	require.False(t, claims.HasScope("workflows:cancel"))
}

func TestGenerateAndValidateJWTWithEdDSA(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	cfg := auth.JWTConfig{PrivateKey: priv, PublicKey: pub}

	token, err := auth.GenerateJWT(auth.Claims{CallerID: "bob"}, cfg)
	require.NoError(t, err)

	claims, err := auth.ValidateJWT(token, cfg)
	require.NoError(t, err)
	require.Equal(t, "bob", claims.CallerID)
}

func TestValidateJWTRejectsWrongIssuer(t *testing.T) {
	cfg := auth.JWTConfig{Secret: []byte("s"), Issuer: "gleitzeit"}
	token, err := auth.GenerateJWT(auth.Claims{CallerID: "alice", RegisteredClaims: jwt.RegisteredClaims{Issuer: "someone-else"}}, cfg)
	require.NoError(t, err)

	_, err = auth.ValidateJWT(token, auth.JWTConfig{Secret: []byte("s"), Issuer: "gleitzeit"})
	require.Error(t, err)
}

func TestValidateJWTRejectsExpiredToken(t *testing.T) {
	cfg := auth.JWTConfig{Secret: []byte("s")}
	claims := auth.Claims{
		CallerID:         "alice",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour))},
	}
	token, err := auth.GenerateJWT(claims, cfg)
	require.NoError(t, err)

	_, err = auth.ValidateJWT(token, cfg)
	require.Error(t, err)
}

func TestValidateJWTRejectsUnknownSigningMethod(t *testing.T) {
	cfg := auth.JWTConfig{Secret: []byte("s")}
	token, err := auth.GenerateJWT(auth.Claims{CallerID: "alice"}, cfg)
	require.NoError(t, err)

	_, err = auth.ValidateJWT(token, auth.JWTConfig{})
	require.Error(t, err)
}

func TestGenerateJWTRequiresASigningKey(t *testing.T) {
	_, err := auth.GenerateJWT(auth.Claims{CallerID: "alice"}, auth.JWTConfig{})
	require.Error(t, err)
}
