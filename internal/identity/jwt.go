// Package identity verifies bearer tokens and resolves them to users.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nfrund/chaats/internal/domain"
)

// Claims is the data carried inside a chat token.
type Claims struct {
	UserID domain.UserID `json:"user_id"`
	jwt.RegisteredClaims
}

// JWTProvider validates HS256 tokens and looks the user up in the profile store.
type JWTProvider struct {
	key      []byte
	issuer   string
	profiles domain.ProfileStore
	parser   *jwt.Parser
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a JWTProvider.
type Option func(*JWTProvider)

// WithIssuer requires the iss claim to equal issuer. Tokens issued by this
// provider carry it too.
func WithIssuer(issuer string) Option {
	return func(p *JWTProvider) { p.issuer = issuer }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *JWTProvider) { p.logger = l }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *JWTProvider) { p.now = now }
}

// NewJWTProvider creates a provider signing and verifying with secret.
func NewJWTProvider(secret string, profiles domain.ProfileStore, opts ...Option) *JWTProvider {
	p := &JWTProvider{
		key:      []byte(secret),
		profiles: profiles,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	}
	if p.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(p.issuer))
	}
	p.parser = jwt.NewParser(parserOpts...)
	p.logger = p.logger.With("component", "identity")
	return p
}

// Verify implements domain.IdentityProvider.
func (p *JWTProvider) Verify(ctx context.Context, credential string) (domain.UserIdentity, error) {
	if credential == "" {
		return domain.UserIdentity{}, fmt.Errorf("%w: missing token", domain.ErrAuth)
	}

	var claims Claims
	_, err := p.parser.ParseWithClaims(credential, &claims, func(*jwt.Token) (any, error) {
		return p.key, nil
	})
	if err != nil {
		return domain.UserIdentity{}, fmt.Errorf("%w: %w", domain.ErrAuth, err)
	}
	if claims.UserID <= 0 {
		return domain.UserIdentity{}, fmt.Errorf("%w: token has no user_id", domain.ErrAuth)
	}

	profile, err := p.profiles.Get(ctx, claims.UserID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return domain.UserIdentity{}, fmt.Errorf("%w: unknown user %s", domain.ErrAuth, claims.UserID)
	case err != nil:
		p.logger.ErrorContext(ctx, "Profile lookup failed during authentication", "user_id", claims.UserID, "error", err)
		return domain.UserIdentity{}, fmt.Errorf("%w: %w", domain.ErrAuth, err)
	}

	return domain.UserIdentity{ID: profile.ID, DisplayName: profile.DisplayName()}, nil
}

// Issue signs a token for id that expires after ttl.
func (p *JWTProvider) Issue(id domain.UserID, ttl time.Duration) (string, error) {
	now := p.now()
	claims := Claims{
		UserID: id,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.String(),
			Issuer:    p.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.key)
}
