package api

import (
	"time"

	"github.com/satriahrh/voicectl/server/internal/websocket"
)

// DeviceAuthRequest represents the request payload for device authentication
type DeviceAuthRequest struct {
	SerialNumber string `json:"serial_number"`
	SecretKey    string `json:"secret_key"`
}

// DeviceAuthResponse represents the response payload for device authentication
type DeviceAuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	DeviceID  string    `json:"device_id"`
}

// DeviceBindRequest claims a device with its spoken bind code.
type DeviceBindRequest struct {
	SerialNumber string `json:"serial_number"`
	BindCode     string `json:"bind_code"`
	OwnerID      string `json:"owner_id"`
}

// DeviceBindResponse describes a freshly bound device.
type DeviceBindResponse struct {
	DeviceID     string `json:"device_id"`
	SerialNumber string `json:"serial_number"`
	OwnerID      string `json:"owner_id"`
}

// AdminAuthRequest exchanges the configured admin key for a token.
type AdminAuthRequest struct {
	AdminKey string `json:"admin_key"`
}

// AdminAuthResponse carries an admin token.
type AdminAuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionsResponse lists connected device sessions.
type SessionsResponse struct {
	Count    int                     `json:"count"`
	Sessions []websocket.SessionInfo `json:"sessions"`
}

// HealthResponse is the health check payload.
type HealthResponse struct {
	Status   string `json:"status"`
	Service  string `json:"service"`
	Sessions int    `json:"sessions"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
