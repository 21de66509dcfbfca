// Package auth implements the session provider on top of signed JWTs.
package auth

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"

	"github.com/xenking/kart-storefront/internal/domain/session"
)

var _ session.Provider = (*JWTProvider)(nil)

// Claims is the token payload. The subject is the identity id.
type Claims struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// JWTProvider issues and verifies HS256 session tokens and dispatches login
// transitions to registered listeners.
type JWTProvider struct {
	*session.Dispatcher

	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewJWTProvider creates a provider signing with secret. Tokens are valid
// for ttl.
func NewJWTProvider(secret []byte, issuer string, ttl time.Duration) (*JWTProvider, error) {
	if len(secret) < 16 {
		return nil, errors.New("jwt secret must be at least 16 bytes")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &JWTProvider{
		Dispatcher: session.NewDispatcher(),
		secret:     secret,
		issuer:     issuer,
		ttl:        ttl,
		now:        time.Now,
	}, nil
}

// Issue signs a token for id.
func (p *JWTProvider) Issue(id session.Identity) (string, error) {
	if id.ID == "" {
		return "", errors.New("identity id is required")
	}
	now := p.now()
	claims := Claims{
		Email: id.Email,
		Name:  id.Name,
		Role:  id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.ID,
			Issuer:    p.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return "", errors.Wrap(err, "sign token")
	}
	return signed, nil
}

// Identify verifies token and returns its identity.
func (p *JWTProvider) Identify(_ context.Context, token string) (*session.Identity, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return nil, session.ErrUnauthenticated
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return p.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(p.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		return nil, errors.Wrapf(session.ErrUnauthenticated, "parse token: %v", err)
	}
	if claims.Subject == "" {
		return nil, errors.Wrap(session.ErrUnauthenticated, "token has no subject")
	}

	return &session.Identity{
		ID:    claims.Subject,
		Email: claims.Email,
		Name:  claims.Name,
		Role:  claims.Role,
	}, nil
}

// SignIn identifies token and reports the transition from guestID to the
// resulting identity. Listener failures are returned; the identity is
// returned in either case.
func (p *JWTProvider) SignIn(ctx context.Context, token, guestID string) (*session.Identity, error) {
	id, err := p.Identify(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := p.Dispatch(ctx, session.Acquired{Identity: *id, GuestID: guestID}); err != nil {
		return id, err
	}
	return id, nil
}
