package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/4xmen/kelasyar/internal/models"
	"github.com/golang-jwt/jwt/v5"
)

var ErrExpired = errors.New("token expired")

type Claims struct {
	UserID    int         `json:"user_id"`
	Role      models.Role `json:"role"`
	FirstName string      `json:"first_name,omitempty"`
	LastName  string      `json:"last_name,omitempty"`
	jwt.RegisteredClaims
}

// User returns the identity carried by the claims.
func (c *Claims) User() models.User {
	return models.User{
		ID:        c.UserID,
		FirstName: c.FirstName,
		LastName:  c.LastName,
		Role:      c.Role,
	}
}

// ParseUnverified reads the claims of a bearer token without checking its
// signature. The client never holds the signing key; the backend verifies
// every request.
func ParseUnverified(tokenString string, now time.Time) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if claims.UserID <= 0 {
		return nil, fmt.Errorf("failed to parse token: missing user_id")
	}
	if claims.ExpiresAt != nil && !now.Before(claims.ExpiresAt.Time) {
		return nil, ErrExpired
	}
	return claims, nil
}

// Issuer signs and validates HS256 tokens for the sandbox backend.
type Issuer struct {
	secret   []byte
	tokenTTL time.Duration
}

func NewIssuer(secret string) *Issuer {
	return NewIssuerWithTTL(secret, 24*time.Hour)
}

func NewIssuerWithTTL(secret string, tokenTTL time.Duration) *Issuer {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &Issuer{secret: []byte(secret), tokenTTL: tokenTTL}
}

func (i *Issuer) Issue(user models.User) (string, error) {
	claims := Claims{
		UserID:    user.ID,
		Role:      user.Role,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(i.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

func (i *Issuer) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}
