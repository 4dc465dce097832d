// jwt.go validates first-party HS256 tokens against the configured shared
// secret. GenerateToken exists for the session issuer and for tests; the API
// itself only ever verifies.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const minSecretLen = 32

var ErrSecretTooShort = errors.New("jwt secret must be at least 32 bytes")

// Claims is the first-party token claim set
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	Name   string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier validates HS256 tokens with a shared secret
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a verifier. Short secrets are rejected outright
// rather than warned about; a guessable HMAC key authenticates anyone.
func NewJWTVerifier(secret string) (*JWTVerifier, error) {
	if len(secret) < minSecretLen {
		return nil, ErrSecretTooShort
	}
	return &JWTVerifier{secret: []byte(secret)}, nil
}

// Verify parses and validates a token and extracts the principal. The subject
// claim is the fallback user id for tokens minted without the custom claim.
func (v *JWTVerifier) Verify(tokenString string) (*Principal, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	userID := claims.UserID
	if userID == "" {
		userID = claims.Subject
	}
	if userID == "" {
		return nil, ErrInvalidToken
	}
	return &Principal{UserID: userID, Email: claims.Email, Name: claims.Name}, nil
}

// GenerateToken mints a signed HS256 token for a principal
func (v *JWTVerifier) GenerateToken(p *Principal, expiresIn time.Duration) (string, error) {
	if expiresIn == 0 {
		expiresIn = time.Hour
	}
	claims := &Claims{
		UserID: p.UserID,
		Email:  p.Email,
		Name:   p.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "devflowfix",
			Subject:   p.UserID,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
