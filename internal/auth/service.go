// Package auth validates the bearer tokens issued by the identity service.
// Registration, login and sessions live outside this service; all it needs
// from a token is who the caller is.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/tasklink/backend/internal/models"
)

var ErrInvalidToken = errors.New("invalid token")

type Service interface {
	ValidateToken(ctx context.Context, token string) (models.Actor, error)
}

type claims struct {
	jwt.RegisteredClaims
	Name string `json:"name"`
}

type TokenService struct {
	secret []byte
	ttl    time.Duration
}

func NewTokenService(secret string) *TokenService {
	return &TokenService{secret: []byte(secret), ttl: 24 * time.Hour}
}

var _ Service = (*TokenService)(nil)

// IssueToken signs an HS256 token for actor. Used by tooling and tests.
func (s *TokenService) IssueToken(actor models.Actor) (string, error) {
	now := time.Now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Name: actor.Name,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(s.secret)
}

// ValidateToken returns the actor named by the token. Role claims, if any,
// are ignored: permissions are decided against the offer or job parties.
func (s *TokenService) ValidateToken(ctx context.Context, token string) (models.Actor, error) {
	tok, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return models.Actor{}, errors.Join(ErrInvalidToken, err)
	}
	c, ok := tok.Claims.(*claims)
	if !ok || !tok.Valid {
		return models.Actor{}, ErrInvalidToken
	}
	id, err := uuid.Parse(c.Subject)
	if err != nil || id == uuid.Nil || id == models.SystemActorID {
		return models.Actor{}, ErrInvalidToken
	}
	name := strings.TrimSpace(c.Name)
	if name == "" {
		name = id.String()
	}
	return models.Actor{ID: id, Name: name}, nil
}
