package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/satriahrh/voicectl/server/domain/entities"
)

// ErrNotFound is returned by lookups that match nothing.
var ErrNotFound = errors.New("not found")

// DeviceRepository defines data access methods for devices
type DeviceRepository interface {
	Create(ctx context.Context, device *entities.Device) error
	GetByID(ctx context.Context, id string) (*entities.Device, error)
	GetBySerialNumber(ctx context.Context, serialNumber string) (*entities.Device, error)
	Update(ctx context.Context, device *entities.Device) error
	// ValidateDevice validates device credentials for authentication
	ValidateDevice(serialNumber, secret string) (*entities.Device, error)
}

// ReportRepository persists usage reports.
type ReportRepository interface {
	Save(ctx context.Context, report *entities.Report) error
}

// MeetingSummaryRepository looks up summaries of past meetings.
type MeetingSummaryRepository interface {
	Save(ctx context.Context, summary *entities.MeetingSummary) error
	GetByID(ctx context.Context, meetingID string) (*entities.MeetingSummary, error)
	FindByTheme(ctx context.Context, theme string) (*entities.MeetingSummary, error)
	List(ctx context.Context) ([]*entities.MeetingSummary, error)
}

// OutputLimiter tracks assistant output per device per day.
type OutputLimiter interface {
	// Exceeded reports whether the device has used its quota for day.
	Exceeded(ctx context.Context, deviceID string, limit int, day time.Time) (bool, error)
	// Add counts n output characters against the device for day.
	Add(ctx context.Context, deviceID string, n int, day time.Time) error
}
