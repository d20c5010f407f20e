package service

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"energy-trading-api/internal/config"
	"energy-trading-api/internal/models"
	apperrors "energy-trading-api/pkg/errors"
)

// Claims carried by access tokens
type Claims struct {
	FactoryID string `json:"factory_id"`
	Email     string `json:"email"`
	jwt.RegisteredClaims
}

type TokenService interface {
	GenerateAccessToken(factory *models.Factory) (string, time.Duration, error)
	ValidateAccessToken(tokenString string) (*Claims, error)
}

type tokenService struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

func NewTokenService(cfg config.AuthConfig) TokenService {
	return &tokenService{
		secret: []byte(cfg.JWTSecret),
		ttl:    cfg.JWTExpiry,
		issuer: cfg.JWTIssuer,
		now:    time.Now,
	}
}

func (s *tokenService) GenerateAccessToken(factory *models.Factory) (string, time.Duration, error) {
	now := s.now()
	claims := &Claims{
		FactoryID: factory.ID,
		Email:     factory.EmailAddress(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			Subject:   factory.ID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", 0, apperrors.NewInternalError("failed to sign access token", err)
	}
	return signed, s.ttl, nil
}

func (s *tokenService) ValidateAccessToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindUnauthorized, "invalid token", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.FactoryID == "" {
		return nil, apperrors.NewUnauthorizedError("invalid token claims")
	}
	return claims, nil
}
