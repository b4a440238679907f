package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthorized is returned for missing, malformed, expired or forged credentials
var ErrUnauthorized = errors.New("unauthorized")

// Resolver turns a bearer credential into a user ID
type Resolver interface {
	Resolve(token string) (string, error)
}

// Issuer creates bearer credentials for authenticated users
type Issuer interface {
	IssueToken(userID string) (string, error)
}

// Ensure JWTResolver implements Resolver and Issuer interfaces
var (
	_ Resolver = (*JWTResolver)(nil)
	_ Issuer   = (*JWTResolver)(nil)
)

// JWTResolver issues and validates HS256 tokens whose subject is the user ID
type JWTResolver struct {
	secret     []byte
	expiration time.Duration
	now        func() time.Time
}

// NewJWTResolver creates a resolver signing with secret; tokens live for expiration
func NewJWTResolver(secret string, expiration time.Duration) *JWTResolver {
	return &JWTResolver{
		secret:     []byte(secret),
		expiration: expiration,
		now:        time.Now,
	}
}

// IssueToken signs a token for userID
func (j *JWTResolver) IssueToken(userID string) (string, error) {
	now := j.now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(j.expiration)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(j.secret)
	if err != nil {
		return "", fmt.Errorf("error signing token: %w", err)
	}
	return signed, nil
}

// Resolve validates token and returns its subject
func (j *JWTResolver) Resolve(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return j.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	if !token.Valid || claims.Subject == "" {
		return "", fmt.Errorf("%w: token has no subject", ErrUnauthorized)
	}
	return claims.Subject, nil
}
