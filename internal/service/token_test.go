package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/marketplace-settlement/internal/models"
)

const testSecret = "test-secret-that-is-long-enough-for-hs256"

func TestTokenManager_RoundTrip(t *testing.T) {
	m := NewTokenManager(testSecret, time.Minute)
	user := uuid.New()

	token, exp, err := m.GenerateAccess(user, models.RoleVendor)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Minute), exp, 5*time.Second)

	gotID, gotRole, err := m.ParseAccess(token)
	require.NoError(t, err)
	assert.Equal(t, user, gotID)
	assert.Equal(t, models.RoleVendor, gotRole)
}

func TestTokenManager_RejectsUnknownRole(t *testing.T) {
	m := NewTokenManager(testSecret, time.Minute)

	_, _, err := m.GenerateAccess(uuid.New(), models.RoleSystem)

	assert.Error(t, err)
}

func TestTokenManager_RejectsExpiredToken(t *testing.T) {
	m := NewTokenManager(testSecret, -time.Minute)
	token, _, err := m.GenerateAccess(uuid.New(), models.RoleBuyer)
	require.NoError(t, err)

	_, _, err = m.ParseAccess(token)

	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestTokenManager_RejectsForeignSignature(t *testing.T) {
	token, _, err := NewTokenManager("another-secret-value-of-enough-length", time.Minute).
		GenerateAccess(uuid.New(), models.RoleAdmin)
	require.NoError(t, err)

	_, _, err = NewTokenManager(testSecret, time.Minute).ParseAccess(token)

	assert.Error(t, err)
}

func TestTokenManager_RejectsNoneAlgorithm(t *testing.T) {
	claims := jwt.MapClaims{"sub": uuid.NewString(), "role": models.RoleAdmin, "exp": time.Now().Add(time.Minute).Unix()}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, _, err = NewTokenManager(testSecret, time.Minute).ParseAccess(token)

	assert.Error(t, err)
}

func TestTokenManager_RejectsTokenWithoutRole(t *testing.T) {
	claims := jwt.MapClaims{"sub": uuid.NewString(), "exp": time.Now().Add(time.Minute).Unix()}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, _, err = NewTokenManager(testSecret, time.Minute).ParseAccess(token)

	assert.ErrorIs(t, err, jwt.ErrTokenInvalidClaims)
}
