package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultTokenDuration is the lifetime of engine capability tokens
const DefaultTokenDuration = 1 * time.Hour

// CapabilityDecide allows posting approval decisions
const CapabilityDecide = "workflow:decide"

// CapabilityReadRuns allows reading run and instance history
const CapabilityReadRuns = "runs:read"

// TokenVerifier handles capability token operations. The engine does not
// own identity; it only checks that the caller presents a token carrying
// the required capability. Tokens are minted by the admin module.
type TokenVerifier struct {
	secretKey []byte
	tokenTTL  time.Duration
}

// Claims represents the claims in a capability token
type Claims struct {
	UserID       uuid.UUID `json:"user_id"`
	Role         string    `json:"role"`
	Capabilities []string  `json:"capabilities"`
	jwt.RegisteredClaims
}

// NewTokenVerifier creates a new token verifier
func NewTokenVerifier(secretKey string) *TokenVerifier {
	return &TokenVerifier{
		secretKey: []byte(secretKey),
		tokenTTL:  DefaultTokenDuration,
	}
}

// GenerateToken mints a capability token. Used by tests and the CLI; in
// production the admin module signs with the shared secret.
func (v *TokenVerifier) GenerateToken(userID uuid.UUID, role string, capabilities []string) (string, error) {
	now := time.Now()

	claims := &Claims{
		UserID:       userID,
		Role:         role,
		Capabilities: capabilities,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(v.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "automation-engine",
			Subject:   userID.String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secretKey)
}

// ValidateToken validates and parses a capability token
func (v *TokenVerifier) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secretKey, nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	return claims, nil
}

// HasCapability reports whether the claims carry the given capability
func (c *Claims) HasCapability(capability string) bool {
	for _, cap := range c.Capabilities {
		if cap == capability {
			return true
		}
	}
	return false
}
