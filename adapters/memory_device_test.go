package adapters

import (
	"context"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satriahrh/voicectl/server/domain/entities"
	"github.com/satriahrh/voicectl/server/domain/repositories"
	"github.com/satriahrh/voicectl/server/internal/config"
)

func TestMemoryDeviceRepository_Seed(t *testing.T) {
	repo := NewMemoryDeviceRepository()
	ctx := context.Background()

	err := repo.Seed(ctx, []config.DeviceSeed{
		{SerialNumber: "SN-001", SecretKey: "s1", OwnerID: "owner-1"},
		{SerialNumber: "SN-002", SecretKey: "s2", Model: "box"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, repo.Len())

	bound, err := repo.GetBySerialNumber(ctx, "SN-001")
	require.NoError(t, err)
	assert.True(t, bound.IsBound())
	assert.Empty(t, bound.BindCode)
	assert.Equal(t, "generic", bound.Model)

	unbound, err := repo.GetBySerialNumber(ctx, "SN-002")
	require.NoError(t, err)
	assert.False(t, unbound.IsBound())
	assert.Regexp(t, regexp.MustCompile(`^\d{6}$`), unbound.BindCode)

	err = repo.Seed(ctx, []config.DeviceSeed{{SerialNumber: "SN-001", SecretKey: "x"}})
	assert.ErrorIs(t, err, ErrDuplicateSerial)
}

func TestMemoryDeviceRepository_ValidateDevice(t *testing.T) {
	repo := NewMemoryDeviceRepository()
	require.NoError(t, repo.Create(context.Background(), &entities.Device{
		SerialNumber: "SN-001",
		SecretKey:    "secret",
		Model:        "box",
	}))

	device, err := repo.ValidateDevice("SN-001", "secret")
	require.NoError(t, err)
	assert.NotEmpty(t, device.ID)

	_, err = repo.ValidateDevice("SN-001", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = repo.ValidateDevice("SN-404", "secret")
	assert.ErrorIs(t, err, repositories.ErrNotFound)
}

func TestMemoryDeviceRepository_UpdateBindsDevice(t *testing.T) {
	repo := NewMemoryDeviceRepository()
	ctx := context.Background()
	device := &entities.Device{SerialNumber: "SN-001", SecretKey: "s", Model: "box"}
	require.NoError(t, repo.Create(ctx, device))

	stored, err := repo.GetByID(ctx, device.ID)
	require.NoError(t, err)
	owner := "owner-1"
	stored.OwnerID = &owner
	require.NoError(t, repo.Update(ctx, stored))

	got, err := repo.GetByID(ctx, device.ID)
	require.NoError(t, err)
	assert.True(t, got.IsBound())
	assert.Empty(t, got.BindCode)

	// Copies are returned, not the stored value.
	got.Model = "changed"
	again, err := repo.GetByID(ctx, device.ID)
	require.NoError(t, err)
	assert.Equal(t, "box", again.Model)

	_, err = repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, repositories.ErrNotFound)
	assert.ErrorIs(t, repo.Update(ctx, &entities.Device{ID: "missing", SerialNumber: "x", Model: "m"}), repositories.ErrNotFound)
}
