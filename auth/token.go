package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CustomClaims defines the identity carried by a session token. The token
// itself is issued by the external authentication service; this side only
// validates it.
type CustomClaims struct {
	UserID string   `json:"user_id"`
	Roles  []string `json:"roles"`
	jwt.RegisteredClaims
}

// TokenManager validates session tokens against a shared HS256 secret.
// The secret is injected explicitly; nothing here reads ambient state.
type TokenManager struct {
	secret   []byte
	issuer   string
	duration time.Duration
}

func NewTokenManager(secret []byte, issuer string, duration time.Duration) *TokenManager {
	return &TokenManager{secret: secret, issuer: issuer, duration: duration}
}

// Generate creates a signed token for a user. Used by tests and the
// operator tooling; production tokens come from the auth service.
func (m *TokenManager) Generate(userID string, roles []string) (string, error) {
	claims := &CustomClaims{
		UserID: userID,
		Roles:  roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(m.duration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    m.issuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// Validate parses and checks the signature and expiration of a token string.
func (m *TokenManager) Validate(tokenString string) (*CustomClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*CustomClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, jwt.ErrSignatureInvalid
}
