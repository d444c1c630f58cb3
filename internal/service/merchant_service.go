package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"giftcard-ledger/internal/core/domain"
	"giftcard-ledger/internal/core/ports"
	"giftcard-ledger/pkg/apperror"
	"giftcard-ledger/pkg/money"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// MerchantServiceImpl implements ports.MerchantService.
type MerchantServiceImpl struct {
	merchants  ports.MerchantRepository
	gateways   ports.GatewayRepository
	encSvc     ports.EncryptionService
	tokenSvc   ports.TokenService
	transactor ports.DBTransactor
	tokenTTL   time.Duration
	now        ports.Clock
	log        zerolog.Logger
}

// NewMerchantService creates a new MerchantServiceImpl. tokenTTL is the
// lifetime of the bearer token issued with a new merchant.
func NewMerchantService(
	merchants ports.MerchantRepository,
	gateways ports.GatewayRepository,
	encSvc ports.EncryptionService,
	tokenSvc ports.TokenService,
	transactor ports.DBTransactor,
	tokenTTL time.Duration,
	log zerolog.Logger,
) *MerchantServiceImpl {
	return &MerchantServiceImpl{
		merchants:  merchants,
		gateways:   gateways,
		encSvc:     encSvc,
		tokenSvc:   tokenSvc,
		transactor: transactor,
		tokenTTL:   tokenTTL,
		now:        func() time.Time { return time.Now().UTC() },
		log:        log,
	}
}

// CreateMerchant provisions an ACTIVE merchant with a zero balance and
// returns a merchant-role token for it.
func (s *MerchantServiceImpl) CreateMerchant(ctx context.Context, name, currency string) (*domain.Merchant, string, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 255 {
		return nil, "", apperror.Validation("name must be between 1 and 255 characters")
	}
	currency = money.Normalize(currency)
	if !money.ValidCurrency(currency) {
		return nil, "", apperror.Validation("currency must be a 3-letter ISO-4217 code")
	}

	now := s.now()
	m := &domain.Merchant{
		ID:        uuid.New(),
		Name:      name,
		Balance:   decimal.Zero,
		Currency:  currency,
		Status:    domain.MerchantStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.merchants.Create(ctx, m); err != nil {
		return nil, "", apperror.InternalError(fmt.Errorf("create merchant: %w", err))
	}

	token, _, err := s.tokenSvc.Generate(m.ID, ports.RoleMerchant, s.tokenTTL)
	if err != nil {
		return nil, "", apperror.InternalError(fmt.Errorf("generate token: %w", err))
	}

	s.log.Info().Str("merchant_id", m.ID.String()).Str("currency", currency).Msg("merchant created")
	return m, token, nil
}

func (s *MerchantServiceImpl) GetMerchant(ctx context.Context, id uuid.UUID) (*domain.Merchant, error) {
	m, err := s.merchants.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get merchant: %w", err))
	}
	if m == nil {
		return nil, apperror.ErrNotFound("merchant")
	}
	return m, nil
}

func (s *MerchantServiceImpl) ListGateways(ctx context.Context, merchantID uuid.UUID) ([]domain.MerchantGateway, error) {
	gws, err := s.gateways.ListByMerchant(ctx, merchantID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("list gateways: %w", err))
	}
	if gws == nil {
		gws = []domain.MerchantGateway{}
	}
	return gws, nil
}

// PutGateway encrypts and stores credentials for one provider. New or changed
// credentials go back to PENDING until the account is verified again.
func (s *MerchantServiceImpl) PutGateway(ctx context.Context, in ports.GatewayCredentialsInput) (*domain.MerchantGateway, error) {
	if !in.Provider.Valid() {
		return nil, apperror.Validation("provider must be STRIPE, PAYPAL or RAZORPAY")
	}
	if in.Credentials.SecretKey == "" {
		return nil, apperror.Validation("secret_key is required")
	}
	switch in.Provider {
	case domain.ProviderPayPal:
		if in.Credentials.KeyID == "" || in.Credentials.WebhookID == "" {
			return nil, apperror.Validation("key_id and webhook_id are required for PayPal")
		}
	case domain.ProviderRazorpay:
		if in.Credentials.KeyID == "" || in.Credentials.WebhookSecret == "" {
			return nil, apperror.Validation("key_id and webhook_secret are required for Razorpay")
		}
	case domain.ProviderStripe:
		if in.Credentials.WebhookSecret == "" {
			return nil, apperror.Validation("webhook_secret is required for Stripe")
		}
	}
	if _, err := s.GetMerchant(ctx, in.MerchantID); err != nil {
		return nil, err
	}

	sealed, err := sealCredentials(s.encSvc, in.Credentials)
	if err != nil {
		return nil, apperror.ErrEncryptionFailure(err)
	}

	now := s.now()
	gw := &domain.MerchantGateway{
		ID:                   uuid.New(),
		MerchantID:           in.MerchantID,
		Provider:             in.Provider,
		AccountID:            in.AccountID,
		EncryptedCredentials: sealed,
		VerificationStatus:   domain.VerificationPending,
		IsActive:             true,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := s.gateways.Upsert(ctx, gw); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("upsert gateway: %w", err))
	}

	s.log.Info().
		Str("merchant_id", in.MerchantID.String()).
		Str("gateway_id", gw.ID.String()).
		Str("provider", string(in.Provider)).
		Msg("gateway credentials stored")
	return gw, nil
}

// SetGatewayStatus records an operator verification decision.
func (s *MerchantServiceImpl) SetGatewayStatus(ctx context.Context, gatewayID uuid.UUID, status domain.VerificationStatus, active bool) (*domain.MerchantGateway, error) {
	if !status.Valid() {
		return nil, apperror.Validation("verification status must be PENDING, VERIFIED or FAILED")
	}
	gw, err := s.gateways.GetByID(ctx, gatewayID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get gateway: %w", err))
	}
	if gw == nil {
		return nil, apperror.ErrNotFound("gateway")
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	if err := s.gateways.UpdateStatus(ctx, dbTx, gatewayID, status, active); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("update gateway status: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	gw.VerificationStatus = status
	gw.IsActive = active
	gw.UpdatedAt = s.now()
	s.log.Info().
		Str("gateway_id", gw.ID.String()).
		Str("status", string(status)).
		Bool("active", active).
		Msg("gateway status updated")
	return gw, nil
}
