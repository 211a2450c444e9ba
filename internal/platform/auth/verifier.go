package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

var (
	// ErrTokenExpired signals that the provided access token has expired.
	ErrTokenExpired = errors.New("auth: access token expired")
	// ErrTokenInvalid signals that the provided access token is invalid for other reasons.
	ErrTokenInvalid = errors.New("auth: access token invalid")
)

// TokenVerifier verifies bearer tokens and returns the embedded identity.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// accessClaims mirrors the payload minted by the account service.
type accessClaims struct {
	Email string   `json:"email,omitempty"`
	Role  string   `json:"role,omitempty"`
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// Valid is a no-op. Temporal claims are checked explicitly in Verify so the
// verifier can honour configured clock skew and injected clocks.
func (accessClaims) Valid() error { return nil }

// JWTVerifierConfig configures the HS256 verifier.
type JWTVerifierConfig struct {
	Secret    string
	Issuer    string
	ClockSkew time.Duration
	Clock     func() time.Time
}

// JWTVerifier validates HS256 signed access tokens issued by the shop's
// account service.
type JWTVerifier struct {
	secret    []byte
	issuer    string
	clockSkew time.Duration
	clock     func() time.Time
	parser    *jwt.Parser
}

// NewJWTVerifier constructs a JWTVerifier from the supplied configuration.
func NewJWTVerifier(cfg JWTVerifierConfig) (*JWTVerifier, error) {
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, errors.New("auth: jwt secret is required")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &JWTVerifier{
		secret:    []byte(secret),
		issuer:    strings.TrimSpace(cfg.Issuer),
		clockSkew: cfg.ClockSkew,
		clock:     clock,
		parser:    jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}, nil
}

// Verify parses and validates the token, returning the identity it carries.
func (v *JWTVerifier) Verify(_ context.Context, tokenStr string) (*Identity, error) {
	if v == nil {
		return nil, ErrTokenInvalid
	}
	tokenStr = strings.TrimSpace(tokenStr)
	if tokenStr == "" {
		return nil, ErrTokenInvalid
	}

	claims := &accessClaims{}
	token, err := v.parser.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !token.Valid {
		return nil, ErrTokenInvalid
	}

	now := v.clock().UTC()
	if claims.ExpiresAt != nil && now.After(claims.ExpiresAt.Time.Add(v.clockSkew)) {
		return nil, ErrTokenExpired
	}
	if claims.NotBefore != nil && now.Add(v.clockSkew).Before(claims.NotBefore.Time) {
		return nil, fmt.Errorf("%w: token not yet valid", ErrTokenInvalid)
	}
	if v.issuer != "" && claims.Issuer != v.issuer {
		return nil, fmt.Errorf("%w: unexpected issuer", ErrTokenInvalid)
	}

	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}

	roles := make([]string, 0, len(claims.Roles)+1)
	seen := make(map[string]struct{}, len(claims.Roles)+1)
	appendRole := func(raw string) {
		role := normaliseRole(raw)
		if role == "" {
			return
		}
		if _, ok := seen[role]; ok {
			return
		}
		seen[role] = struct{}{}
		roles = append(roles, role)
	}
	appendRole(claims.Role)
	for _, role := range claims.Roles {
		appendRole(role)
	}

	return &Identity{
		UID:    subject,
		Email:  strings.TrimSpace(claims.Email),
		Roles:  roles,
		Issuer: claims.Issuer,
	}, nil
}
