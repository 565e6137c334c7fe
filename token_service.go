package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"
)

// DefaultSessionWindow is the sliding lifetime of a session credential
const DefaultSessionWindow = 30 * 24 * time.Hour

// SessionCredential is the client held signed session token
type SessionCredential struct {
	Token       string    `json:"token"`
	PrincipalID string    `json:"principalId"`
	Email       string    `json:"email"`
	IssuedAt    time.Time `json:"issuedAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Expired reports whether the credential is past its expiry at now
func (c *SessionCredential) Expired(now time.Time) bool {
	return c == nil || !now.Before(c.ExpiresAt)
}

// TokenService issues and validates session credentials
type TokenService interface {
	Issue(principalID, email string) (*SessionCredential, error)
	Validate(token string) (*SessionClaims, error)
}

// TokenServiceOption customizes the token service
type TokenServiceOption func(*TokenServiceImpl)

// WithTokenClock injects a custom clock (useful for tests).
func WithTokenClock(clock func() time.Time) TokenServiceOption {
	return func(ts *TokenServiceImpl) {
		if clock != nil {
			ts.now = clock
		}
	}
}

// TokenServiceImpl implements the TokenService interface
type TokenServiceImpl struct {
	signingKey []byte
	window     time.Duration
	issuer     string
	audience   jwt.ClaimStrings
	logger     Logger
	now        func() time.Time
}

// NewTokenService creates a new TokenService instance. A non positive window
// falls back to DefaultSessionWindow.
func NewTokenService(signingKey []byte, window time.Duration, issuer string, audience jwt.ClaimStrings, logger Logger, opts ...TokenServiceOption) TokenService {
	if window <= 0 {
		window = DefaultSessionWindow
	}
	ts := &TokenServiceImpl{
		signingKey: signingKey,
		window:     window,
		issuer:     issuer,
		audience:   audience,
		logger:     normalizeLogger(logger),
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ts)
		}
	}
	return ts
}

// NewTokenServiceFromConfig wires a TokenService from Config
func NewTokenServiceFromConfig(cfg Config, logger Logger, opts ...TokenServiceOption) TokenService {
	return NewTokenService(
		[]byte(cfg.GetSigningKey()),
		cfg.GetSessionWindow(),
		cfg.GetIssuer(),
		jwt.ClaimStrings(cfg.GetAudience()),
		logger,
		opts...,
	)
}

// Issue mints a credential expiring window after now. Every call slides the
// expiry forward.
func (ts *TokenServiceImpl) Issue(principalID, email string) (*SessionCredential, error) {
	if principalID == "" {
		return nil, errors.New("principal id is required", errors.CategoryBadInput)
	}

	now := ts.now().UTC().Truncate(time.Second)
	expiresAt := now.Add(ts.window)

	claims := &SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ts.issuer,
			Subject:   principalID,
			Audience:  ts.audience,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		UID:   principalID,
		Email: email,
	}
	ensureTokenID(&claims.RegisteredClaims)

	token, err := ts.SignClaims(claims)
	if err != nil {
		return nil, err
	}

	return &SessionCredential{
		Token:       token,
		PrincipalID: principalID,
		Email:       email,
		IssuedAt:    now,
		ExpiresAt:   expiresAt,
	}, nil
}

// SignClaims signs arbitrary session claims using the configured signing key.
func (ts *TokenServiceImpl) SignClaims(claims *SessionClaims) (string, error) {
	if claims == nil {
		return "", errors.New("claims must not be nil", errors.CategoryInternal)
	}

	if len(ts.signingKey) == 0 {
		ts.logger.Error("TokenService refused to sign: empty signing key")
		return "", ErrSigningKeyMissing
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signedString, err := token.SignedString(ts.signingKey)
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to sign JWT")
	}

	return signedString, nil
}

// Validate parses and validates a token string, returning structured claims
func (ts *TokenServiceImpl) Validate(tokenString string) (*SessionClaims, error) {
	parserOptions := []jwt.ParserOption{
		jwt.WithTimeFunc(ts.now),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	}
	if ts.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(ts.issuer))
	}
	if len(ts.audience) > 0 {
		parserOptions = append(parserOptions, jwt.WithAudience(ts.audience...))
	}

	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			ts.logger.Error("TokenService validate encountered unexpected signing method %v", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ts.signingKey, nil
	}, parserOptions...)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		ts.logger.Debug("TokenService validate failed: %v", err)
		return nil, ErrTokenMalformed
	}

	if claims, ok := token.Claims.(*SessionClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, ErrTokenMalformed
}
