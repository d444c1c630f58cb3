package ports

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EncryptionService handles AES-256-GCM encryption of small secrets.
type EncryptionService interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// TokenService handles JWT bearer tokens.
type TokenService interface {
	Generate(merchantID uuid.UUID, role string, ttl time.Duration) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	MerchantID uuid.UUID
	Role       string
}

// Roles carried in the token's role claim.
const (
	RoleMerchant = "merchant"
	RoleAdmin    = "admin"
)

// IdempotencyCache is the fast-path marker store for applied webhook events.
// The database remains authoritative.
type IdempotencyCache interface {
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string, ttl time.Duration) error
}

// DispatchLocker guards a payout against concurrent dispatch.
type DispatchLocker interface {
	// Acquire returns ok=false when another holder owns key.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, ok bool, err error)
}

// RateLimiter counts requests per key in fixed windows.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (*RateLimitResult, error)
}

// RateLimitResult holds the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	ResetAt   int64 // Unix timestamp
}

// Clock abstracts time for services that stamp records.
type Clock func() time.Time
