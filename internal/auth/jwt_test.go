package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestJWTManager_DeviceToken(t *testing.T) {
	m, err := NewJWTManager("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("NewJWTManager() error = %v", err)
	}

	token, expiresAt, err := m.GenerateDeviceToken("device-42")
	if err != nil {
		t.Fatalf("GenerateDeviceToken() error = %v", err)
	}
	if time.Until(expiresAt) > time.Hour || time.Until(expiresAt) < 59*time.Minute {
		t.Errorf("unexpected expiry %s", expiresAt)
	}

	claims, err := m.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if claims.DeviceID != "device-42" || claims.Role != RoleDevice {
		t.Errorf("unexpected claims %+v", claims)
	}
}

func TestJWTManager_RejectsForeignSecret(t *testing.T) {
	issuer, _ := NewJWTManager("secret-a", time.Hour)
	verifier, _ := NewJWTManager("secret-b", time.Hour)

	token, _, err := issuer.GenerateDeviceToken("device-1")
	if err != nil {
		t.Fatalf("GenerateDeviceToken() error = %v", err)
	}
	if _, err := verifier.ValidateToken(token); err == nil {
		t.Error("expected validation to fail with a different secret")
	}
}

func TestJWTManager_RejectsExpired(t *testing.T) {
	m, _ := NewJWTManager("test-secret", time.Minute)
	m.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	token, _, err := m.GenerateDeviceToken("device-1")
	if err != nil {
		t.Fatalf("GenerateDeviceToken() error = %v", err)
	}
	if _, err := m.ValidateToken(token); err == nil {
		t.Error("expected expired token to be rejected")
	}
}

func TestJWTManager_AdminToken(t *testing.T) {
	m, _ := NewJWTManager("test-secret", time.Hour)

	token, _, err := m.GenerateAdminToken("ops")
	if err != nil {
		t.Fatalf("GenerateAdminToken() error = %v", err)
	}
	claims, err := m.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if claims.Role != RoleAdmin || claims.DeviceID != "" {
		t.Errorf("unexpected claims %+v", claims)
	}
}

func TestNewJWTManager_RequiresSecret(t *testing.T) {
	if _, err := NewJWTManager("", time.Hour); err == nil {
		t.Error("expected error for empty secret")
	}
	// Unsigned tokens never validate.
	m, _ := NewJWTManager("x", time.Hour)
	unsigned, _ := jwt.NewWithClaims(jwt.SigningMethodNone, &JWTClaims{Role: RoleDevice}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if _, err := m.ValidateToken(unsigned); err == nil {
		t.Error("expected unsigned token to be rejected")
	}
}
