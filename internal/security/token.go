package security

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrExpiredToken  = errors.New("token has expired")
	ErrInvalidAPIKey = errors.New("invalid api key")
)

type Role string

const (
	RoleClient Role = "client"
	RoleAdmin  Role = "admin"
)

// Claims identifies the caller of the HTTP API. Subject carries the client id for
// client tokens and the operator login for admin tokens.
type Claims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}

// ClientID returns the subject of a client token
func (c *Claims) ClientID() string {
	if c.Role != RoleClient {
		return ""
	}
	return c.Subject
}

type TokenManager interface {
	GenerateClientToken(clientID string) (string, error)
	GenerateAdminToken(operator string) (string, error)
	ValidateToken(tokenString string) (*Claims, error)
}

type tokenManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenManager(secret string, ttl time.Duration) TokenManager {
	return &tokenManager{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

func (m *tokenManager) GenerateClientToken(clientID string) (string, error) {
	return m.sign(clientID, RoleClient)
}

func (m *tokenManager) GenerateAdminToken(operator string) (string, error) {
	return m.sign(operator, RoleAdmin)
}

func (m *tokenManager) sign(subject string, role Role) (string, error) {
	now := m.now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "bikefleet-backend",
			Audience:  jwt.ClaimStrings{"bikefleet-api"},
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

func (m *tokenManager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return m.secret, nil
	}, jwt.WithAudience("bikefleet-api"), jwt.WithTimeFunc(m.now))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	if claims.Role != RoleClient && claims.Role != RoleAdmin {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// APIKeyVerifier checks the back-office API key against its bcrypt hash.
type APIKeyVerifier struct {
	hash []byte
}

func NewAPIKeyVerifier(hash string) *APIKeyVerifier {
	return &APIKeyVerifier{hash: []byte(hash)}
}

// Verify reports ErrInvalidAPIKey for a wrong key or when no key is configured
func (v *APIKeyVerifier) Verify(key string) error {
	if len(v.hash) == 0 || key == "" {
		return ErrInvalidAPIKey
	}
	if err := bcrypt.CompareHashAndPassword(v.hash, []byte(key)); err != nil {
		return ErrInvalidAPIKey
	}
	return nil
}

// HashAPIKey produces the value for admin.api_key_hash
func HashAPIKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
