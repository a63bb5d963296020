package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	PurposeSession = "session"
	PurposeFlash   = "flash"
	PurposeCSRF    = "csrf"
)

var ErrInvalidSignedValue = errors.New("invalid signed cookie value")

type signedClaims struct {
	Purpose string `json:"purpose"`
	Value   string `json:"v"`
	jwt.RegisteredClaims
}

// CookieSigner produces tamper-evident cookie values bound to a purpose so a
// value minted for one cookie cannot be replayed as another.
type CookieSigner struct {
	issuer string
	secret []byte
	now    func() time.Time
}

func NewCookieSigner(issuer, secret string, now func() time.Time) *CookieSigner {
	if now == nil {
		now = time.Now
	}
	return &CookieSigner{issuer: issuer, secret: []byte(secret), now: now}
}

func (s *CookieSigner) Sign(purpose, value string, ttl time.Duration) (string, error) {
	now := s.now()
	claims := signedClaims{
		Purpose: purpose,
		Value:   value,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	out, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign %s cookie: %w", purpose, err)
	}
	return out, nil
}

func (s *CookieSigner) Verify(purpose, raw string) (string, error) {
	if raw == "" {
		return "", ErrInvalidSignedValue
	}
	claims := &signedClaims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing algorithm")
		}
		return s.secret, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSignedValue, err)
	}
	if !tok.Valid {
		return "", ErrInvalidSignedValue
	}
	if claims.Purpose != purpose {
		return "", fmt.Errorf("%w: unexpected purpose %q", ErrInvalidSignedValue, claims.Purpose)
	}
	return claims.Value, nil
}
