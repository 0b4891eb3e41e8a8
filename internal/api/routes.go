package api

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/satriahrh/voicectl/server/domain/repositories"
	"github.com/satriahrh/voicectl/server/internal/auth"
	"github.com/satriahrh/voicectl/server/internal/config"
	"github.com/satriahrh/voicectl/server/internal/websocket"
)

const serviceName = "voicectl-server"

// claimsKey is where authenticated claims are kept on the echo context.
const claimsKey = "claims"

// Deps are the collaborators behind the HTTP routes.
type Deps struct {
	Hub     *websocket.Hub
	Devices repositories.DeviceRepository
	JWT     *auth.JWTManager
	Config  *config.Manager
	// Gatherer backs /metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer
}

type handler struct {
	Deps
	logger *zap.Logger
}

// InitRoutes initializes all API routes
func InitRoutes(e *echo.Echo, deps Deps, logger *zap.Logger) {
	h := &handler{Deps: deps, logger: logger}

	e.GET("/health", h.health)

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	// API v1 routes
	v1 := e.Group("/api/v1")
	v1.POST("/device/auth", h.deviceAuth)
	v1.POST("/admin/auth", h.adminAuth)
	v1.GET("/sessions", h.listSessions, h.requireRole(auth.RoleAdmin))
	v1.POST("/devices/bind", h.bindDevice, h.requireRole(auth.RoleAdmin))

	// WebSocket endpoint with JWT validation
	e.GET("/ws", h.websocketWithAuth, h.requireRole(auth.RoleDevice))
}

func (h *handler) health(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:   "ok",
		Service:  serviceName,
		Sessions: h.Hub.ActiveSessions(),
	})
}

func (h *handler) deviceAuth(c echo.Context) error {
	var req DeviceAuthRequest
	if err := c.Bind(&req); err != nil {
		h.logger.Warn("Failed to bind device auth request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}

	if req.SerialNumber == "" || req.SecretKey == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "Serial number and secret key are required",
		})
	}

	device, err := h.Devices.ValidateDevice(req.SerialNumber, req.SecretKey)
	if err != nil {
		h.logger.Warn("Device authentication failed",
			zap.String("serialNumber", req.SerialNumber),
			zap.Bool("unknown", errors.Is(err, repositories.ErrNotFound)),
			zap.Error(err))
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "authentication_failed",
			Message: "Invalid device credentials",
		})
	}

	token, expiresAt, err := h.JWT.GenerateDeviceToken(device.ID)
	if err != nil {
		h.logger.Error("Failed to generate device token",
			zap.String("deviceID", device.ID),
			zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "token_generation_failed",
			Message: "Failed to generate authentication token",
		})
	}

	h.logger.Info("Device authenticated successfully",
		zap.String("deviceID", device.ID),
		zap.String("serialNumber", device.SerialNumber))

	return c.JSON(http.StatusOK, DeviceAuthResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		DeviceID:  device.ID,
	})
}

func (h *handler) adminAuth(c echo.Context) error {
	adminKey := h.Config.Get().Auth.AdminKey
	if adminKey == "" {
		return c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "admin_disabled",
			Message: "Admin login is not configured",
		})
	}

	var req AdminAuthRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}
	if subtle.ConstantTimeCompare([]byte(req.AdminKey), []byte(adminKey)) != 1 {
		h.logger.Warn("Admin authentication failed", zap.String("remoteIP", c.RealIP()))
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "authentication_failed",
			Message: "Invalid admin key",
		})
	}

	token, expiresAt, err := h.JWT.GenerateAdminToken("admin")
	if err != nil {
		h.logger.Error("Failed to generate admin token", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "token_generation_failed",
			Message: "Failed to generate authentication token",
		})
	}
	return c.JSON(http.StatusOK, AdminAuthResponse{Token: token, ExpiresAt: expiresAt})
}

func (h *handler) listSessions(c echo.Context) error {
	sessions := h.Hub.Sessions()
	return c.JSON(http.StatusOK, SessionsResponse{
		Count:    len(sessions),
		Sessions: sessions,
	})
}

// bindDevice claims a device for an owner with the code the device speaks.
func (h *handler) bindDevice(c echo.Context) error {
	var req DeviceBindRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}
	if req.SerialNumber == "" || req.BindCode == "" || req.OwnerID == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "Serial number, bind code and owner are required",
		})
	}

	ctx := c.Request().Context()
	device, err := h.Devices.GetBySerialNumber(ctx, req.SerialNumber)
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		return c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "device_not_found",
			Message: "No device with this serial number",
		})
	case err != nil:
		h.logger.Error("Device lookup failed", zap.String("serialNumber", req.SerialNumber), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "lookup_failed"})
	case device.IsBound():
		return c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "already_bound",
			Message: "Device already has an owner",
		})
	}
	if subtle.ConstantTimeCompare([]byte(req.BindCode), []byte(device.BindCode)) != 1 {
		h.logger.Warn("Device bind rejected", zap.String("deviceID", device.ID))
		return c.JSON(http.StatusForbidden, ErrorResponse{
			Error:   "invalid_bind_code",
			Message: "Bind code does not match",
		})
	}

	owner := req.OwnerID
	device.OwnerID = &owner
	if err := h.Devices.Update(ctx, device); err != nil {
		h.logger.Error("Failed to bind device", zap.String("deviceID", device.ID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "bind_failed"})
	}
	h.logger.Info("Device bound",
		zap.String("deviceID", device.ID),
		zap.String("ownerID", owner))
	return c.JSON(http.StatusOK, DeviceBindResponse{
		DeviceID:     device.ID,
		SerialNumber: device.SerialNumber,
		OwnerID:      owner,
	})
}

// websocketWithAuth upgrades an authenticated device connection.
func (h *handler) websocketWithAuth(c echo.Context) error {
	claims := c.Get(claimsKey).(*auth.JWTClaims)
	if claims.DeviceID == "" {
		h.logger.Error("WebSocket connection rejected: missing device ID in token")
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_token_claims",
			Message: "Device ID not found in token",
		})
	}

	h.logger.Info("WebSocket connection authenticated",
		zap.String("deviceID", claims.DeviceID))

	return websocket.HandleWebSocketWithAuth(h.Hub, c, claims.DeviceID, h.logger)
}

// requireRole validates the bearer token and checks its role.
func (h *handler) requireRole(role string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := bearerToken(c.Request())
			if token == "" {
				h.logger.Warn("Request rejected: missing token", zap.String("path", c.Path()))
				return c.JSON(http.StatusUnauthorized, ErrorResponse{
					Error:   "missing_token",
					Message: "JWT token is required in Authorization header",
				})
			}

			claims, err := h.JWT.ValidateToken(token)
			if err != nil {
				h.logger.Warn("Request rejected: invalid token", zap.String("path", c.Path()), zap.Error(err))
				return c.JSON(http.StatusUnauthorized, ErrorResponse{
					Error:   "invalid_token",
					Message: "Invalid or expired JWT token",
				})
			}

			if claims.Role != role {
				h.logger.Warn("Request rejected: invalid role",
					zap.String("path", c.Path()),
					zap.String("role", claims.Role))
				return c.JSON(http.StatusForbidden, ErrorResponse{
					Error:   "invalid_role",
					Message: "Token role " + claims.Role + " cannot access this endpoint",
				})
			}

			c.Set(claimsKey, claims)
			return next(c)
		}
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}
