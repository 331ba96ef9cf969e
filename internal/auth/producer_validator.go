package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingProducerSigningKey = errors.New("producer validator: signing key required")
	ErrMissingProducerIssuer     = errors.New("producer validator: issuer required")
	ErrMissingProducerAudience   = errors.New("producer validator: audience required")
	ErrMissingProducerToken      = errors.New("producer validator: token required")
	ErrInvalidProducerToken      = errors.New("producer validator: invalid token")
	ErrExpiredProducerToken      = errors.New("producer validator: token expired")
	ErrMissingProducerSubject    = errors.New("producer validator: subject required")
)

// ProducerValidatorConfig describes how to validate producer JWTs.
type ProducerValidatorConfig struct {
	SigningSecret []byte
	Issuer        string
	Audience      string
	Clock         func() time.Time
}

// ProducerValidator validates HS256 JWTs minted by TokenIssuer.
type ProducerValidator struct {
	signingSecret []byte
	issuer        string
	audience      string
	clock         func() time.Time
}

// NewProducerValidator constructs a validator with the provided configuration.
func NewProducerValidator(cfg ProducerValidatorConfig) (*ProducerValidator, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingProducerSigningKey
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		return nil, ErrMissingProducerIssuer
	}
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		return nil, ErrMissingProducerAudience
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &ProducerValidator{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        issuer,
		audience:      audience,
		clock:         clock,
	}, nil
}

// ValidateToken validates the supplied JWT string and returns the parsed claims.
func (v *ProducerValidator) ValidateToken(tokenString string) (ProducerClaims, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return ProducerClaims{}, ErrMissingProducerToken
	}

	claims := &ProducerClaims{}
	parsed, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			return v.signingSecret, nil
		},
		jwt.WithTimeFunc(v.clock),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ProducerClaims{}, ErrExpiredProducerToken
		}
		return ProducerClaims{}, fmt.Errorf("%w: %v", ErrInvalidProducerToken, err)
	}
	if parsed == nil || !parsed.Valid {
		return ProducerClaims{}, ErrInvalidProducerToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return ProducerClaims{}, ErrMissingProducerSubject
	}
	return *claims, nil
}
