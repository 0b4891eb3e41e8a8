package adapters

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/satriahrh/voicectl/server/domain/entities"
	"github.com/satriahrh/voicectl/server/domain/repositories"
	"github.com/satriahrh/voicectl/server/internal/config"
)

var (
	// ErrInvalidCredentials is returned when a serial number and secret do not match.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrDuplicateSerial is returned when a serial number is already registered.
	ErrDuplicateSerial = errors.New("device with this serial number already exists")
)

// MemoryDeviceRepository keeps devices in process memory. Devices are
// seeded from configuration at startup.
type MemoryDeviceRepository struct {
	mu      sync.RWMutex
	devices map[string]*entities.Device // id -> device mapping
	serials map[string]*entities.Device // serial_number -> device mapping
	now     func() time.Time
}

var _ repositories.DeviceRepository = (*MemoryDeviceRepository)(nil)

// NewMemoryDeviceRepository creates a new in-memory device repository
func NewMemoryDeviceRepository() *MemoryDeviceRepository {
	return &MemoryDeviceRepository{
		devices: make(map[string]*entities.Device),
		serials: make(map[string]*entities.Device),
		now:     time.Now,
	}
}

// Seed registers the configured devices. Unbound devices get a bind code.
func (m *MemoryDeviceRepository) Seed(ctx context.Context, seeds []config.DeviceSeed) error {
	for _, s := range seeds {
		device := &entities.Device{
			SerialNumber: s.SerialNumber,
			SecretKey:    s.SecretKey,
			Model:        s.Model,
		}
		if device.Model == "" {
			device.Model = "generic"
		}
		if s.OwnerID != "" {
			owner := s.OwnerID
			device.OwnerID = &owner
		}
		if err := m.Create(ctx, device); err != nil {
			return fmt.Errorf("seed device %s: %w", s.SerialNumber, err)
		}
	}
	return nil
}

// ValidateDevice validates device credentials (serial number + secret)
func (m *MemoryDeviceRepository) ValidateDevice(serialNumber, secret string) (*entities.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	device, exists := m.serials[serialNumber]
	if !exists {
		return nil, repositories.ErrNotFound
	}
	if subtle.ConstantTimeCompare([]byte(device.SecretKey), []byte(secret)) != 1 {
		return nil, ErrInvalidCredentials
	}

	deviceCopy := *device
	return &deviceCopy, nil
}

// Create implements DeviceRepository interface
func (m *MemoryDeviceRepository) Create(ctx context.Context, device *entities.Device) error {
	if device == nil {
		return errors.New("device cannot be nil")
	}
	if err := device.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.serials[device.SerialNumber]; exists {
		return ErrDuplicateSerial
	}

	if device.ID == "" {
		device.ID = uuid.New().String()
	}
	if !device.IsBound() && device.BindCode == "" {
		code, err := newBindCode()
		if err != nil {
			return err
		}
		device.BindCode = code
	}

	now := m.now()
	device.CreatedAt = now
	device.UpdatedAt = now

	deviceCopy := *device
	m.devices[device.ID] = &deviceCopy
	m.serials[device.SerialNumber] = &deviceCopy
	return nil
}

// GetByID implements DeviceRepository interface
func (m *MemoryDeviceRepository) GetByID(ctx context.Context, id string) (*entities.Device, error) {
	if id == "" {
		return nil, errors.New("device ID cannot be empty")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	device, exists := m.devices[id]
	if !exists {
		return nil, repositories.ErrNotFound
	}

	// Return a copy to prevent external modifications
	deviceCopy := *device
	return &deviceCopy, nil
}

// GetBySerialNumber implements DeviceRepository interface
func (m *MemoryDeviceRepository) GetBySerialNumber(ctx context.Context, serialNumber string) (*entities.Device, error) {
	if serialNumber == "" {
		return nil, errors.New("serial number cannot be empty")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	device, exists := m.serials[serialNumber]
	if !exists {
		return nil, repositories.ErrNotFound
	}

	deviceCopy := *device
	return &deviceCopy, nil
}

// Update implements DeviceRepository interface. Binding a device clears
// its bind code.
func (m *MemoryDeviceRepository) Update(ctx context.Context, device *entities.Device) error {
	if device == nil {
		return errors.New("device cannot be nil")
	}
	if device.ID == "" {
		return errors.New("device ID cannot be empty")
	}
	if err := device.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, exists := m.devices[device.ID]
	if !exists {
		return repositories.ErrNotFound
	}
	if existing.SerialNumber != device.SerialNumber {
		if _, taken := m.serials[device.SerialNumber]; taken {
			return ErrDuplicateSerial
		}
	}

	device.UpdatedAt = m.now()
	device.CreatedAt = existing.CreatedAt
	if device.IsBound() {
		device.BindCode = ""
	}

	delete(m.serials, existing.SerialNumber)
	deviceCopy := *device
	m.devices[device.ID] = &deviceCopy
	m.serials[device.SerialNumber] = &deviceCopy
	return nil
}

// Len returns the number of registered devices.
func (m *MemoryDeviceRepository) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.devices)
}

// newBindCode returns six random decimal digits.
func newBindCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("generate bind code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
