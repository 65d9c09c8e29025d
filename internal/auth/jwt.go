// Package auth validates operator bearer tokens on the REST surface. Tokens
// are HS256 JWTs issued by the daemon's token command or an external
// identity service sharing the secret.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/KevinKickass/OpenMotionCore/internal/config"
)

type JWTClaims struct {
	OperatorID uuid.UUID `json:"oid"`
	Operator   string    `json:"operator"`
	Role       string    `json:"role"`
	jwt.RegisteredClaims
}

type JWTHandler struct {
	secretKey []byte
	issuer    string
	tokenTTL  time.Duration
}

func NewJWTHandler(secretKey, issuer string, ttl time.Duration) *JWTHandler {
	return &JWTHandler{
		secretKey: []byte(secretKey),
		issuer:    issuer,
		tokenTTL:  ttl,
	}
}

// NewJWTHandlerFromConfig reads the secret from the environment variable
// named in cfg.
func NewJWTHandlerFromConfig(cfg config.AuthConfig) *JWTHandler {
	return NewJWTHandler(cfg.GetJWTSecret(), cfg.Issuer, cfg.TokenTTL)
}

// GenerateToken signs a token for an operator.
func (j *JWTHandler) GenerateToken(operatorID uuid.UUID, operator, role string) (string, error) {
	if _, ok := rolePermissions[role]; !ok {
		return "", fmt.Errorf("unknown role %q", role)
	}
	now := time.Now()
	claims := JWTClaims{
		OperatorID: operatorID,
		Operator:   operator,
		Role:       role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   operatorID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.tokenTTL)),
			Issuer:    j.issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.secretKey)
}

// ValidateToken validates and parses a token.
func (j *JWTHandler) ValidateToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.secretKey, nil
	}, jwt.WithIssuer(j.issuer))

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if claims, ok := token.Claims.(*JWTClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, fmt.Errorf("invalid token")
}
