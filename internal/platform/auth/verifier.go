package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v4"
)

var (
	// ErrTokenExpired signals that the provided bearer token has expired.
	ErrTokenExpired = errors.New("auth: bearer token expired")
	// ErrTokenInvalid signals that the provided bearer token is invalid for other reasons.
	ErrTokenInvalid = errors.New("auth: bearer token invalid")
)

// TokenVerifier verifies bearer tokens and returns the raw claim set.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (jwt.MapClaims, error)
}

// JWTVerifier validates HMAC-signed JWTs issued by the identity service.
type JWTVerifier struct {
	secret   []byte
	issuer   string
	audience string
	parser   *jwt.Parser
}

// JWTOption customises JWTVerifier behaviour.
type JWTOption func(*JWTVerifier)

// WithIssuer requires the iss claim to match.
func WithIssuer(issuer string) JWTOption {
	return func(v *JWTVerifier) {
		v.issuer = strings.TrimSpace(issuer)
	}
}

// WithAudience requires the aud claim to contain the value.
func WithAudience(audience string) JWTOption {
	return func(v *JWTVerifier) {
		v.audience = strings.TrimSpace(audience)
	}
}

// NewJWTVerifier constructs a verifier for HS256-signed tokens.
func NewJWTVerifier(secret []byte, opts ...JWTOption) (*JWTVerifier, error) {
	if len(secret) == 0 {
		return nil, errors.New("auth: signing secret is required")
	}
	v := &JWTVerifier{
		secret: secret,
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v, nil
}

// VerifyToken parses and validates the token, returning its claims.
func (v *JWTVerifier) VerifyToken(ctx context.Context, tokenStr string) (jwt.MapClaims, error) {
	if v == nil {
		return nil, ErrTokenInvalid
	}

	claims := jwt.MapClaims{}
	_, err := v.parser.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	if v.issuer != "" && !claims.VerifyIssuer(v.issuer, true) {
		return nil, fmt.Errorf("%w: issuer mismatch", ErrTokenInvalid)
	}
	if v.audience != "" && !claims.VerifyAudience(v.audience, true) {
		return nil, fmt.Errorf("%w: audience mismatch", ErrTokenInvalid)
	}

	return claims, nil
}
