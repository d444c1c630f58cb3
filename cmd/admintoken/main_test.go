package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"giftcard-ledger/internal/core/ports"
	"giftcard-ledger/internal/service"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "admintoken-test-secret-0123456789"

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out, &errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return strings.TrimSpace(out.String()), errOut.String(), err
}

func TestAdminToken(t *testing.T) {
	t.Setenv("GCL_JWT_SECRET", testSecret)

	token, info, err := run(t, "--config", "")
	require.NoError(t, err)
	assert.Contains(t, info, "admin token")

	claims, err := service.NewJWTTokenService(testSecret, "giftcard-ledger").Validate(token)
	require.NoError(t, err)
	assert.Equal(t, ports.RoleAdmin, claims.Role)
	assert.Equal(t, uuid.Nil, claims.MerchantID)
}

func TestMerchantToken(t *testing.T) {
	t.Setenv("GCL_JWT_SECRET", testSecret)
	merchantID := uuid.New()

	token, _, err := run(t, "--config", "", "--merchant", merchantID.String(), "--ttl", "1h")
	require.NoError(t, err)

	claims, err := service.NewJWTTokenService(testSecret, "giftcard-ledger").Validate(token)
	require.NoError(t, err)
	assert.Equal(t, ports.RoleMerchant, claims.Role)
	assert.Equal(t, merchantID, claims.MerchantID)
}

func TestAdminToken_Errors(t *testing.T) {
	t.Run("missing secret", func(t *testing.T) {
		t.Setenv("GCL_JWT_SECRET", "")
		_, _, err := run(t, "--config", "")
		assert.ErrorContains(t, err, "jwt.secret is required")
	})
	t.Run("bad merchant id", func(t *testing.T) {
		t.Setenv("GCL_JWT_SECRET", testSecret)
		_, _, err := run(t, "--config", "", "--merchant", "nope")
		assert.ErrorContains(t, err, "invalid merchant id")
	})
	t.Run("stray argument", func(t *testing.T) {
		t.Setenv("GCL_JWT_SECRET", testSecret)
		_, _, err := run(t, "--config", "", "extra")
		assert.Error(t, err)
	})
}

func TestDefaultTTLComesFromConfig(t *testing.T) {
	t.Setenv("GCL_JWT_SECRET", testSecret)
	t.Setenv("GCL_JWT_EXPIRY", "2h")

	_, info, err := run(t, "--config", "")
	require.NoError(t, err)

	stamp := strings.TrimSpace(info[strings.LastIndex(info, " ")+1:])
	expiresAt, err := time.Parse(time.RFC3339, stamp)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(2*time.Hour), expiresAt, time.Minute)
}
