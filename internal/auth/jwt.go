package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/devilmonastery/oauthlink/internal/domain/entities"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

const issuer = "oauthlink"

// Claims represents the JWT claims of a host session
type Claims struct {
	AccountID       string            `json:"account_id"`
	AccountAudience entities.Audience `json:"account_audience"`
	Username        string            `json:"username"`
	StorageScope    *int64            `json:"storage_scope,omitempty"`
	Provider        string            `json:"provider"`
	jwt.RegisteredClaims
}

// JWTManager handles host session token creation and validation
type JWTManager struct {
	secretKey     []byte
	tokenDuration time.Duration
}

// NewJWTManager creates a new JWT manager
func NewJWTManager(secretKey string, tokenDuration time.Duration) *JWTManager {
	return &JWTManager{
		secretKey:     []byte(secretKey),
		tokenDuration: tokenDuration,
	}
}

// Issue signs a host session for an account that logged in through provider
func (m *JWTManager) Issue(account *entities.Account, provider string) (*entities.HostSession, error) {
	if account == nil || account.ID == 0 {
		return nil, fmt.Errorf("cannot issue a session without an account")
	}

	now := time.Now()
	expiresAt := now.Add(m.tokenDuration)

	claims := Claims{
		AccountID:       entities.FormatID(account.ID),
		AccountAudience: account.Audience,
		Username:        account.Username,
		StorageScope:    account.StorageScope,
		Provider:        provider,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   entities.FormatID(account.ID),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(m.secretKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return &entities.HostSession{
		Token:        tokenString,
		AccountID:    account.ID,
		Audience:     account.Audience,
		Username:     account.Username,
		StorageScope: account.StorageScope,
		Provider:     provider,
		ExpiresAt:    expiresAt,
	}, nil
}

// Validate checks a token and returns the host session it carries
func (m *JWTManager) Validate(tokenString string) (*entities.HostSession, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secretKey, nil
	}, jwt.WithIssuer(issuer), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if !claims.AccountAudience.Valid() {
		return nil, fmt.Errorf("%w: unknown audience %q", ErrInvalidToken, claims.AccountAudience)
	}

	accountID, err := strconv.ParseInt(claims.AccountID, 10, 64)
	if err != nil || accountID == 0 {
		return nil, fmt.Errorf("%w: bad account id", ErrInvalidToken)
	}

	return &entities.HostSession{
		Token:        tokenString,
		AccountID:    accountID,
		Audience:     claims.AccountAudience,
		Username:     claims.Username,
		StorageScope: claims.StorageScope,
		Provider:     claims.Provider,
		ExpiresAt:    claims.ExpiresAt.Time,
	}, nil
}
