package service

import (
	"context"
	"encoding/json"
	"fmt"

	"giftcard-ledger/internal/core/domain"
	"giftcard-ledger/internal/core/ports"
	"giftcard-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// GatewayRegistry implements ports.GatewayResolver over the provider adapters
// and the merchants' encrypted credential rows.
type GatewayRegistry struct {
	adapters map[domain.Provider]ports.Gateway
	gateways ports.GatewayRepository
	encSvc   ports.EncryptionService
	log      zerolog.Logger
}

// NewGatewayRegistry creates a registry serving the given adapters.
func NewGatewayRegistry(gateways ports.GatewayRepository, encSvc ports.EncryptionService, log zerolog.Logger, adapters ...ports.Gateway) *GatewayRegistry {
	r := &GatewayRegistry{
		adapters: make(map[domain.Provider]ports.Gateway, len(adapters)),
		gateways: gateways,
		encSvc:   encSvc,
		log:      log,
	}
	for _, a := range adapters {
		r.adapters[a.Provider()] = a
	}
	return r
}

// Resolve returns the adapter and credentials for a merchant's verified,
// active gateway.
func (r *GatewayRegistry) Resolve(ctx context.Context, merchantID uuid.UUID, provider domain.Provider) (*ports.ResolvedGateway, error) {
	adapter, ok := r.adapters[provider]
	if !ok {
		return nil, apperror.ErrGatewayNotConfigured(string(provider))
	}
	rec, err := r.gateways.GetByMerchantProvider(ctx, merchantID, provider)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get merchant gateway: %w", err))
	}
	if rec == nil || !rec.Usable() {
		return nil, apperror.ErrGatewayNotConfigured(string(provider))
	}
	return r.resolved(adapter, rec)
}

// ResolveForWebhook only requires the credentials to decrypt, so events for a
// gateway still under verification can be authenticated.
func (r *GatewayRegistry) ResolveForWebhook(ctx context.Context, gatewayID uuid.UUID, provider domain.Provider) (*ports.ResolvedGateway, error) {
	adapter, ok := r.adapters[provider]
	if !ok {
		return nil, apperror.ErrGatewayNotConfigured(string(provider))
	}
	rec, err := r.gateways.GetByID(ctx, gatewayID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get merchant gateway: %w", err))
	}
	if rec == nil || rec.Provider != provider {
		return nil, apperror.ErrGatewayNotConfigured(string(provider))
	}
	return r.resolved(adapter, rec)
}

func (r *GatewayRegistry) resolved(adapter ports.Gateway, rec *domain.MerchantGateway) (*ports.ResolvedGateway, error) {
	creds, err := r.decrypt(rec)
	if err != nil {
		r.log.Error().Err(err).
			Str("gateway_id", rec.ID.String()).
			Str("provider", string(rec.Provider)).
			Msg("gateway credentials unusable")
		return nil, apperror.ErrGatewayNotConfigured(string(rec.Provider))
	}
	return &ports.ResolvedGateway{Gateway: adapter, Credentials: creds, Record: rec}, nil
}

func (r *GatewayRegistry) decrypt(rec *domain.MerchantGateway) (ports.Credentials, error) {
	var creds ports.Credentials
	if rec.EncryptedCredentials == "" {
		return creds, fmt.Errorf("no credentials stored")
	}
	plain, err := r.encSvc.Decrypt(rec.EncryptedCredentials)
	if err != nil {
		return creds, fmt.Errorf("decrypt credentials: %w", err)
	}
	if err := json.Unmarshal([]byte(plain), &creds); err != nil {
		return creds, fmt.Errorf("decode credentials: %w", err)
	}
	if creds.AccountID == "" {
		creds.AccountID = rec.AccountID
	}
	return creds, nil
}

// sealCredentials is the inverse of decrypt, used when credentials are stored.
func sealCredentials(encSvc ports.EncryptionService, creds ports.Credentials) (string, error) {
	raw, err := json.Marshal(creds)
	if err != nil {
		return "", fmt.Errorf("encode credentials: %w", err)
	}
	return encSvc.Encrypt(string(raw))
}
