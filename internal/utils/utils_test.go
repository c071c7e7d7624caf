package utils

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndParse(t *testing.T) {
	tok, err := SignJWT("secret", "u-1", "youth", 5)
	require.NoError(t, err)

	var c Claims
	require.NoError(t, ParseHS256("secret", tok, &c))
	assert.Equal(t, "u-1", c.UserID)
	assert.Equal(t, "youth", c.Role)
}

func TestParseRejectsWrongSecret(t *testing.T) {
	tok, err := SignJWT("secret", "u-1", "youth", 5)
	require.NoError(t, err)

	var c Claims
	err = ParseHS256("other", tok, &c)
	assert.True(t, errors.Is(err, jwt.ErrTokenSignatureInvalid))
}

func TestParseRejectsExpired(t *testing.T) {
	tok, err := SignJWT("secret", "u-1", "youth", -1)
	require.NoError(t, err)

	var c Claims
	err = ParseHS256("secret", tok, &c)
	assert.True(t, errors.Is(err, jwt.ErrTokenExpired))
}

func TestParseRejectsNoneAlg(t *testing.T) {
	claims := Claims{UserID: "u-1", RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	var c Claims
	assert.Error(t, ParseHS256("secret", tok, &c))
}

func TestPassword(t *testing.T) {
	h, err := HashPassword("hunter22")
	require.NoError(t, err)
	assert.True(t, CheckPassword(h, "hunter22"))
	assert.False(t, CheckPassword(h, "hunter23"))
	assert.False(t, CheckPassword("", "hunter22"))
}
