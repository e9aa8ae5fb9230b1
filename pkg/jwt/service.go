package jwt

import (
	"time"
)

// Service is a wrapper for JWT operations
type Service struct {
	secretKey string
	expiry    time.Duration
}

// NewService creates a new JWT service
func NewService(secretKey string, expiry time.Duration) *Service {
	if secretKey == "" {
		secretKey = getSecretKey()
	}

	if expiry == 0 {
		expiry = 12 * time.Hour // Default to the maximum session lifetime
	}

	return &Service{
		secretKey: secretKey,
		expiry:    expiry,
	}
}

// GenerateToken generates a join token for a session, signed with the
// service's key
func (s *Service) GenerateToken(sessionID string, role Role) (string, error) {
	return generateTokenWithKey(s.secretKey, sessionID, role, s.expiry)
}

// ValidateToken validates a join token against the service's key and
// returns the claims
func (s *Service) ValidateToken(tokenString string) (*JWTClaims, error) {
	return validateTokenWithKey(s.secretKey, tokenString)
}
