// Package auth issues and checks the HS256 bearer tokens of scanners and operators.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Roles carried in the role claim.
const (
	RoleScanner = "scanner"
	RoleAdmin   = "admin"
)

// Token types carried in the typ claim. Only access tokens open the API.
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

var ErrInvalidToken = errors.New("invalid token")

// TokenPair holds access and refresh tokens.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	AccessExp    time.Time
	RefreshExp   time.Time
}

// Claims represents JWT payload.
type Claims struct {
	Role string `json:"role"`
	Type string `json:"typ"`
	jwt.RegisteredClaims
}

// Signer issues and parses tokens for one issuer and key.
type Signer struct {
	Issuer string
	Key    []byte
	now    func() time.Time
}

// NewSigner creates a signer. An empty issuer disables the issuer check.
func NewSigner(issuer, key string) *Signer {
	return &Signer{Issuer: issuer, Key: []byte(key), now: time.Now}
}

// sign stamps every token with a fresh jti, so two pairs issued in the same
// second never collide.
func (s *Signer) sign(subject, role, typ string, issued, exp time.Time) (string, error) {
	claims := Claims{
		Role: role,
		Type: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.Issuer,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(issued),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.Key)
}

// Issue issues signed access and refresh tokens.
func (s *Signer) Issue(subject, role string, accessTTL, refreshTTL time.Duration) (TokenPair, error) {
	now := s.now()
	pair := TokenPair{AccessExp: now.Add(accessTTL), RefreshExp: now.Add(refreshTTL)}

	var err error
	if pair.AccessToken, err = s.sign(subject, role, TypeAccess, now, pair.AccessExp); err != nil {
		return TokenPair{}, err
	}
	if pair.RefreshToken, err = s.sign(subject, role, TypeRefresh, now, pair.RefreshExp); err != nil {
		return TokenPair{}, err
	}
	return pair, nil
}

// Parse validates a token and returns claims.
func (s *Signer) Parse(tokenStr string) (Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if s.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.Issuer))
	}
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return s.Key, nil
	}, opts...)
	if err != nil {
		return Claims{}, errors.Join(ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, ErrInvalidToken
	}
	return *claims, nil
}

// ParseAs validates a token and requires its typ claim to be typ.
func (s *Signer) ParseAs(tokenStr, typ string) (Claims, error) {
	claims, err := s.Parse(tokenStr)
	if err != nil {
		return Claims{}, err
	}
	if claims.Type != typ {
		return Claims{}, fmt.Errorf("%w: %s token used as %s", ErrInvalidToken, claims.Type, typ)
	}
	return claims, nil
}
