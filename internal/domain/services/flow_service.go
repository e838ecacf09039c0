package services

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/devilmonastery/oauthlink/internal/auth/provider"
	"github.com/devilmonastery/oauthlink/internal/config"
	"github.com/devilmonastery/oauthlink/internal/domain/entities"
	"github.com/devilmonastery/oauthlink/internal/pkg/logger"
	"github.com/devilmonastery/oauthlink/internal/pkg/metrics"
	"github.com/devilmonastery/oauthlink/internal/session"
)

// SessionStore is the request-scoped key/value store holding flow state
type SessionStore interface {
	Get(key string) (string, bool)
	Put(key, value string) error
	Clear(keys ...string) error
}

// ProviderClients builds provider clients, see provider.Registry
type ProviderClients interface {
	NewClient(ctx context.Context, identifier string, audience entities.Audience, redirectURL string) (provider.Client, error)
}

// NonceLedger records consumed flow nonces, see session.NonceLedger
type NonceLedger interface {
	Consume(ctx context.Context, nonce string, ttl time.Duration) (bool, error)
}

const stateBytes = 32

// FlowService runs the authorization-code flow between a browser and a provider
type FlowService struct {
	providers ProviderClients
	ledger    NonceLedger
	timeout   time.Duration
	stateTTL  time.Duration
}

// NewFlowService creates a new flow service. Every outbound provider call is
// bounded by cfg.Timeout and never retried.
func NewFlowService(providers ProviderClients, ledger NonceLedger, cfg config.FlowConfig) *FlowService {
	if cfg.Timeout <= 0 {
		cfg.Timeout = provider.DefaultHTTPTimeout
	}
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = 15 * time.Minute
	}
	return &FlowService{
		providers: providers,
		ledger:    ledger,
		timeout:   cfg.Timeout,
		stateTTL:  cfg.StateTTL,
	}
}

// Start stores a fresh state nonce in store and returns the provider
// authorization URL carrying it
func (s *FlowService) Start(ctx context.Context, store SessionStore, providerID string, audience entities.Audience, callbackURL string) (string, error) {
	log := logger.WithFlow(logger.FromContext(ctx), string(audience), providerID)

	client, err := s.newClient(ctx, providerID, audience, callbackURL)
	if err != nil {
		log.Warn("flow start rejected", slog.String("error", err.Error()))
		return "", &FlowError{Audience: audience, Provider: providerID, Reached: StateInit, Err: err}
	}

	state, err := generateState()
	if err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	if err := store.Put(session.StateKey(audience, providerID), state); err != nil {
		return "", &FlowError{Audience: audience, Provider: providerID, Reached: StateInit, Err: failure(ErrPersistence, err)}
	}

	log.Debug("flow started")
	return client.AuthCodeURL(state), nil
}

// Complete verifies the callback state and resolves the remote identity.
// The stored state is cleared before anything else happens, whatever the
// outcome, and a state is accepted at most once.
func (s *FlowService) Complete(ctx context.Context, store SessionStore, state, code, providerID string, audience entities.Audience, callbackURL string) (*entities.ResolvedIdentity, error) {
	log := logger.WithFlow(logger.FromContext(ctx), string(audience), providerID)
	providerLabel := "unknown"

	fail := func(reached FlowState, err error) (*entities.ResolvedIdentity, error) {
		ferr := &FlowError{Audience: audience, Provider: providerID, Reached: reached, Err: err}
		metrics.FlowOutcomes.WithLabelValues(string(audience), providerLabel, ferr.Reason()).Inc()
		log.Warn("flow failed",
			slog.String("state", string(StateFailed)),
			slog.String("reached", string(reached)),
			slog.String("reason", ferr.Reason()),
			slog.String("error", err.Error()))
		return nil, ferr
	}

	key := session.StateKey(audience, providerID)
	stored, _ := store.Get(key)
	if err := store.Clear(key); err != nil {
		return fail(StateAwaitingCallback, failure(ErrPersistence, err))
	}
	if !statesEqual(stored, state) {
		return fail(StateAwaitingCallback, ErrStateMismatch)
	}

	first, err := s.ledger.Consume(ctx, state, s.stateTTL)
	if err != nil {
		return fail(StateAwaitingCallback, failure(ErrPersistence, err))
	}
	if !first {
		return fail(StateAwaitingCallback, failure(ErrStateMismatch, errors.New("state already used")))
	}

	client, err := s.newClient(ctx, providerID, audience, callbackURL)
	if err != nil {
		return fail(StateVerified, err)
	}
	providerLabel = providerID

	exchangeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	start := time.Now()
	token, err := client.Exchange(exchangeCtx, code)
	cancel()
	metrics.RecordFlowStep(providerID, "exchange", time.Since(start))
	if err != nil {
		return fail(StateVerified, failure(ErrTokenExchangeFailed, err))
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.timeout)
	start = time.Now()
	owner, err := client.ResourceOwner(fetchCtx, token)
	cancel()
	metrics.RecordFlowStep(providerID, "identity", time.Since(start))
	if err != nil {
		return fail(StateExchanged, failure(ErrIdentityFetchFailed, err))
	}

	metrics.FlowOutcomes.WithLabelValues(string(audience), providerLabel, "resolved").Inc()
	log.Info("flow resolved identity", slog.String("state", string(StateResolved)), slog.String("remote_id", owner.ID))

	return &entities.ResolvedIdentity{
		ProviderID:  providerID,
		RemoteID:    owner.ID,
		AccessToken: token.AccessToken,
		TokenType:   token.Type(),
		Expiry:      token.Expiry,
		RawProfile:  owner.Profile,
	}, nil
}

func (s *FlowService) newClient(ctx context.Context, providerID string, audience entities.Audience, callbackURL string) (provider.Client, error) {
	buildCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	client, err := s.providers.NewClient(buildCtx, providerID, audience, callbackURL)
	if err != nil {
		return nil, failure(ErrUnknownProvider, err)
	}
	return client, nil
}

// statesEqual compares in constant time. An empty stored state never matches.
func statesEqual(stored, presented string) bool {
	if stored == "" || len(stored) != len(presented) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) == 1
}

func generateState() (string, error) {
	b := make([]byte, stateBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
