package services

import (
	"errors"
	"time"

	"roomcast/internal/core/domain"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// AuthService issues and checks the participant tokens the relay accepts.
type AuthService interface {
	GenerateToken(participant domain.Participant) (string, error)
	ValidateToken(tokenString string) (*Claims, error)
}

// Claims carries the participant identity: sub is the participant id.
type Claims struct {
	Name string      `json:"name"`
	Role domain.Role `json:"role"`
	jwt.RegisteredClaims
}

// Participant returns the identity described by the claims.
func (c *Claims) Participant() domain.Participant {
	return domain.Participant{
		ID:   domain.ParticipantID(c.Subject),
		Name: c.Name,
		Role: c.Role,
	}
}

type authService struct {
	jwtSecret      []byte
	accessTokenTTL time.Duration
}

// NewAuthService creates a new auth service
func NewAuthService(jwtSecret string, accessTokenTTL time.Duration) AuthService {
	return &authService{
		jwtSecret:      []byte(jwtSecret),
		accessTokenTTL: accessTokenTTL,
	}
}

func (s *authService) GenerateToken(participant domain.Participant) (string, error) {
	if participant.ID == "" || !participant.Role.Valid() {
		return "", ErrInvalidToken
	}

	now := time.Now()
	claims := &Claims{
		Name: participant.Name,
		Role: participant.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(participant.ID),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *authService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" || !claims.Role.Valid() {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
