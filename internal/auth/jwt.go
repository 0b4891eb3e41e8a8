package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token roles
const (
	RoleDevice = "device"
	RoleAdmin  = "admin"
)

// JWTClaims represents the claims in our JWT token
type JWTClaims struct {
	DeviceID string `json:"device_id"`
	Role     string `json:"role"` // "device" or "admin"
	jwt.RegisteredClaims
}

// JWTManager signs and validates device tokens with a shared secret.
type JWTManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewJWTManager creates a manager. ttl is the lifetime of issued tokens.
func NewJWTManager(secret string, ttl time.Duration) (*JWTManager, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &JWTManager{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// TTL returns the lifetime of issued tokens.
func (m *JWTManager) TTL() time.Duration {
	return m.ttl
}

// GenerateDeviceToken generates a JWT token for device authentication
func (m *JWTManager) GenerateDeviceToken(deviceID string) (string, time.Time, error) {
	return m.generate(deviceID, RoleDevice)
}

// GenerateAdminToken generates a token for the session listing API.
func (m *JWTManager) GenerateAdminToken(subject string) (string, time.Time, error) {
	return m.generate(subject, RoleAdmin)
}

func (m *JWTManager) generate(subject, role string) (string, time.Time, error) {
	now := m.now()
	expiresAt := now.Add(m.ttl)
	claims := &JWTClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	if role == RoleDevice {
		claims.DeviceID = subject
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ValidateToken validates a JWT token and returns the claims
func (m *JWTManager) ValidateToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*JWTClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, jwt.ErrInvalidKey
}
