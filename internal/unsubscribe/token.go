// Package unsubscribe issues and verifies the signed tokens embedded in
// email unsubscribe links.
package unsubscribe

import (
	"fmt"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/edulane/notify-service/internal/model"
)

// Claims bind a token to one user and one notification type, so a leaked
// link can only mute the thing it was issued for.
type Claims struct {
	UserID           string `json:"uid"`
	NotificationType string `json:"ntype"`
	jwt.RegisteredClaims
}

// TokenService signs and verifies unsubscribe tokens with an HMAC secret.
type TokenService struct {
	secret  []byte
	baseURL string
	ttl     time.Duration
}

func NewTokenService(secret, baseURL string, ttl time.Duration) (*TokenService, error) {
	if secret == "" {
		return nil, fmt.Errorf("unsubscribe secret is required")
	}
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &TokenService{secret: []byte(secret), baseURL: baseURL, ttl: ttl}, nil
}

// Issue returns a signed token for the user and notification type.
func (s *TokenService) Issue(userID uuid.UUID, typ model.NotificationType) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:           userID.String(),
		NotificationType: string(typ),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign unsubscribe token: %w", err)
	}
	return signed, nil
}

// Link returns the full unsubscribe URL for embedding in an email body.
func (s *TokenService) Link(userID uuid.UUID, typ model.NotificationType) (string, error) {
	token, err := s.Issue(userID, typ)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/unsubscribe?token=%s", s.baseURL, url.QueryEscape(token)), nil
}

// Verify parses the token and returns the bound user id and type. The
// surface that serves unsubscribe clicks consumes this.
func (s *TokenService) Verify(tokenStr string) (uuid.UUID, model.NotificationType, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("invalid unsubscribe token: %w", err)
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("invalid user id in token: %w", err)
	}
	return userID, model.NotificationType(claims.NotificationType), nil
}
