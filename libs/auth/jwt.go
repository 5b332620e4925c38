package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims are the access-token claims issued by the identity provider.
type Claims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

func SignHS256(claims Claims, secret string) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func ParseAndVerifyHS256(token, secret string) (*Claims, error) {
	return parse(token, []string{jwt.SigningMethodHS256.Alg()}, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	})
}

func VerifyRS256(token string, pubKey *rsa.PublicKey) (*Claims, error) {
	return parse(token, []string{jwt.SigningMethodRS256.Alg()}, func(*jwt.Token) (any, error) {
		return pubKey, nil
	})
}

func parse(token string, methods []string, keyFunc jwt.Keyfunc, extra ...jwt.ParserOption) (*Claims, error) {
	claims := &Claims{}
	opts := append([]jwt.ParserOption{
		jwt.WithValidMethods(methods),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(30 * time.Second),
	}, extra...)
	if _, err := jwt.ParseWithClaims(token, claims, keyFunc, opts...); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims, nil
}

// VerifierConfig selects how tokens are checked. Secret enables HS256, JWKS
// enables RS256; both may be set. Issuer and Audience are optional.
type VerifierConfig struct {
	Secret   string
	JWKS     *JWKSClient
	Issuer   string
	Audience string
}

type Verifier struct {
	cfg     VerifierConfig
	methods []string
}

func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	var methods []string
	if cfg.Secret != "" {
		methods = append(methods, jwt.SigningMethodHS256.Alg())
	}
	if cfg.JWKS != nil {
		methods = append(methods, jwt.SigningMethodRS256.Alg())
	}
	if len(methods) == 0 {
		return nil, errors.New("auth: a JWT secret or a JWKS url is required")
	}
	return &Verifier{cfg: cfg, methods: methods}, nil
}

func (v *Verifier) Verify(ctx context.Context, token string) (*Claims, error) {
	var extra []jwt.ParserOption
	if v.cfg.Issuer != "" {
		extra = append(extra, jwt.WithIssuer(v.cfg.Issuer))
	}
	if v.cfg.Audience != "" {
		extra = append(extra, jwt.WithAudience(v.cfg.Audience))
	}
	return parse(token, v.methods, func(t *jwt.Token) (any, error) {
		switch t.Method.Alg() {
		case jwt.SigningMethodHS256.Alg():
			return []byte(v.cfg.Secret), nil
		case jwt.SigningMethodRS256.Alg():
			kid, _ := t.Header["kid"].(string)
			if kid == "" {
				return nil, errors.New("missing kid")
			}
			return v.cfg.JWKS.Get(ctx, kid)
		default:
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
	}, extra...)
}
