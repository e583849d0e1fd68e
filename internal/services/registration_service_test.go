package services

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/passhub/server/internal/models"
	"github.com/passhub/server/internal/repository"
)

type registrationFixture struct {
	service       *RegistrationService
	devices       *repository.DeviceRepository
	passes        *repository.PassRepository
	registrations *repository.RegistrationRepository
	artifacts     *ArtifactStore
	db            *sql.DB
}

func setupRegistrationService(t *testing.T) *registrationFixture {
	db, err := repository.NewSQLiteDB(":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	artifacts, err := NewArtifactStore(t.TempDir())
	require.NoError(t, err)

	devices := repository.NewDeviceRepository(db)
	passes := repository.NewPassRepository(db)
	registrations := repository.NewRegistrationRepository(db)

	return &registrationFixture{
		service:       NewRegistrationService(devices, passes, registrations, artifacts),
		devices:       devices,
		passes:        passes,
		registrations: registrations,
		artifacts:     artifacts,
		db:            db,
	}
}

func (f *registrationFixture) issuePass(t *testing.T, passTypeID, serial, token string) *models.Pass {
	pass, err := models.NewPass(passTypeID, serial, "tmpl-1", token)
	require.NoError(t, err)
	created, err := f.passes.Add(context.Background(), pass)
	require.NoError(t, err)
	require.True(t, created)
	return pass
}

func TestRegistrationService_Register(t *testing.T) {
	ctx := context.Background()

	t.Run("first registration is created, repeat is existing", func(t *testing.T) {
		f := setupRegistrationService(t)
		f.issuePass(t, "pass.com.example", "SN-1", "secret")

		status, err := f.service.Register(ctx, "dev-1", "pass.com.example", "SN-1", "push-a", "secret")
		require.NoError(t, err)
		assert.Equal(t, RegisterCreated, status)

		status, err = f.service.Register(ctx, "dev-1", "pass.com.example", "SN-1", "push-b", "secret")
		require.NoError(t, err)
		assert.Equal(t, RegisterExisting, status)

		// The repeat refreshed the push token.
		device, err := f.devices.Get(ctx, "dev-1")
		require.NoError(t, err)
		require.NotNil(t, device)
		assert.Equal(t, "push-b", device.PushToken)
	})

	t.Run("wrong token writes nothing", func(t *testing.T) {
		f := setupRegistrationService(t)
		f.issuePass(t, "pass.com.example", "SN-1", "secret")

		_, err := f.service.Register(ctx, "dev-1", "pass.com.example", "SN-1", "push-a", "WRONG")
		assert.ErrorIs(t, err, models.ErrUnauthorized)

		device, err := f.devices.Get(ctx, "dev-1")
		require.NoError(t, err)
		assert.Nil(t, device)
	})

	t.Run("unknown pass reads as unauthorized", func(t *testing.T) {
		f := setupRegistrationService(t)

		_, err := f.service.Register(ctx, "dev-1", "pass.com.example", "missing", "push-a", "secret")
		assert.ErrorIs(t, err, models.ErrUnauthorized)
	})

	t.Run("missing push token is rejected", func(t *testing.T) {
		f := setupRegistrationService(t)
		f.issuePass(t, "pass.com.example", "SN-1", "secret")

		_, err := f.service.Register(ctx, "dev-1", "pass.com.example", "SN-1", "  ", "secret")
		assert.ErrorIs(t, err, models.ErrEmptyPushToken)
	})
}

func TestRegistrationService_Unregister(t *testing.T) {
	ctx := context.Background()

	t.Run("removes registration and orphaned device", func(t *testing.T) {
		f := setupRegistrationService(t)
		f.issuePass(t, "pass.com.example", "SN-1", "secret")

		_, err := f.service.Register(ctx, "dev-1", "pass.com.example", "SN-1", "push-a", "secret")
		require.NoError(t, err)

		err = f.service.Unregister(ctx, "dev-1", "pass.com.example", "SN-1", "secret")
		require.NoError(t, err)

		// The device's last registration went away, so the device and its
		// push token are gone too.
		device, err := f.devices.Get(ctx, "dev-1")
		require.NoError(t, err)
		assert.Nil(t, device)
	})

	t.Run("keeps device while other registrations remain", func(t *testing.T) {
		f := setupRegistrationService(t)
		f.issuePass(t, "pass.com.example", "SN-1", "secret1")
		f.issuePass(t, "pass.com.example", "SN-2", "secret2")

		_, err := f.service.Register(ctx, "dev-1", "pass.com.example", "SN-1", "push-a", "secret1")
		require.NoError(t, err)
		_, err = f.service.Register(ctx, "dev-1", "pass.com.example", "SN-2", "push-a", "secret2")
		require.NoError(t, err)

		err = f.service.Unregister(ctx, "dev-1", "pass.com.example", "SN-1", "secret1")
		require.NoError(t, err)

		device, err := f.devices.Get(ctx, "dev-1")
		require.NoError(t, err)
		assert.NotNil(t, device)
	})

	t.Run("unregistering an unregistered pair is not an error", func(t *testing.T) {
		f := setupRegistrationService(t)
		f.issuePass(t, "pass.com.example", "SN-1", "secret")

		err := f.service.Unregister(ctx, "dev-never-seen", "pass.com.example", "SN-1", "secret")
		assert.NoError(t, err)
	})

	t.Run("wrong token is rejected before any lookup", func(t *testing.T) {
		f := setupRegistrationService(t)
		f.issuePass(t, "pass.com.example", "SN-1", "secret")

		_, err := f.service.Register(ctx, "dev-1", "pass.com.example", "SN-1", "push-a", "secret")
		require.NoError(t, err)

		err = f.service.Unregister(ctx, "dev-1", "pass.com.example", "SN-1", "WRONG")
		assert.ErrorIs(t, err, models.ErrUnauthorized)

		// Registration is still there.
		count, err := f.registrations.CountForDevice(ctx, "dev-1")
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})
}

func TestRegistrationService_ListUpdatable(t *testing.T) {
	ctx := context.Background()

	t.Run("filters by update tag", func(t *testing.T) {
		f := setupRegistrationService(t)
		p1 := f.issuePass(t, "pass.com.example", "SN-1", "secret1")
		f.issuePass(t, "pass.com.example", "SN-2", "secret2")

		_, err := f.service.Register(ctx, "dev-1", "pass.com.example", "SN-1", "push-a", "secret1")
		require.NoError(t, err)
		_, err = f.service.Register(ctx, "dev-1", "pass.com.example", "SN-2", "push-a", "secret2")
		require.NoError(t, err)

		// Bump only SN-2.
		newTag, err := f.passes.BumpUpdateTag(ctx, "pass.com.example", "SN-2")
		require.NoError(t, err)

		// Everything since the dawn of time.
		resp, err := f.service.ListUpdatable(ctx, "dev-1", "pass.com.example", -1, "secret1")
		require.NoError(t, err)
		require.NotNil(t, resp)
		assert.ElementsMatch(t, []string{"SN-1", "SN-2"}, resp.SerialNumbers)
		assert.Equal(t, models.FormatUpdateTag(newTag), resp.LastUpdated)

		// Only the bumped pass is newer than SN-1's tag.
		resp, err = f.service.ListUpdatable(ctx, "dev-1", "pass.com.example", p1.UpdateTag, "secret1")
		require.NoError(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, []string{"SN-2"}, resp.SerialNumbers)

		// A tag equal to the newest means nothing changed.
		resp, err = f.service.ListUpdatable(ctx, "dev-1", "pass.com.example", newTag, "secret1")
		require.NoError(t, err)
		assert.Nil(t, resp)
	})

	t.Run("token of any registered pass authenticates", func(t *testing.T) {
		f := setupRegistrationService(t)
		f.issuePass(t, "pass.com.example", "SN-1", "secret1")
		f.issuePass(t, "pass.com.example", "SN-2", "secret2")

		_, err := f.service.Register(ctx, "dev-1", "pass.com.example", "SN-1", "push-a", "secret1")
		require.NoError(t, err)
		_, err = f.service.Register(ctx, "dev-1", "pass.com.example", "SN-2", "push-a", "secret2")
		require.NoError(t, err)

		resp, err := f.service.ListUpdatable(ctx, "dev-1", "pass.com.example", -1, "secret2")
		require.NoError(t, err)
		require.NotNil(t, resp)
		assert.Len(t, resp.SerialNumbers, 2)
	})

	t.Run("unknown device cannot authenticate", func(t *testing.T) {
		f := setupRegistrationService(t)
		f.issuePass(t, "pass.com.example", "SN-1", "secret1")

		_, err := f.service.ListUpdatable(ctx, "dev-unknown", "pass.com.example", -1, "secret1")
		assert.ErrorIs(t, err, models.ErrUnauthorized)
	})

	t.Run("wrong token is rejected", func(t *testing.T) {
		f := setupRegistrationService(t)
		f.issuePass(t, "pass.com.example", "SN-1", "secret1")

		_, err := f.service.Register(ctx, "dev-1", "pass.com.example", "SN-1", "push-a", "secret1")
		require.NoError(t, err)

		_, err = f.service.ListUpdatable(ctx, "dev-1", "pass.com.example", -1, "WRONG")
		assert.ErrorIs(t, err, models.ErrUnauthorized)
	})
}

func TestRegistrationService_Artifact(t *testing.T) {
	ctx := context.Background()

	t.Run("returns blob and tag", func(t *testing.T) {
		f := setupRegistrationService(t)
		pass := f.issuePass(t, "pass.com.example", "SN-1", "secret")
		require.NoError(t, f.artifacts.Store("pass.com.example", "SN-1", []byte("pkpass-bytes")))

		blob, tag, err := f.service.Artifact(ctx, "pass.com.example", "SN-1", "secret")
		require.NoError(t, err)
		assert.Equal(t, []byte("pkpass-bytes"), blob)
		assert.Equal(t, pass.UpdateTag, tag)
	})

	t.Run("missing artifact", func(t *testing.T) {
		f := setupRegistrationService(t)
		f.issuePass(t, "pass.com.example", "SN-1", "secret")

		_, _, err := f.service.Artifact(ctx, "pass.com.example", "SN-1", "secret")
		assert.ErrorIs(t, err, models.ErrArtifactNotFound)
	})

	t.Run("wrong token", func(t *testing.T) {
		f := setupRegistrationService(t)
		f.issuePass(t, "pass.com.example", "SN-1", "secret")

		_, _, err := f.service.Artifact(ctx, "pass.com.example", "SN-1", "WRONG")
		assert.ErrorIs(t, err, models.ErrUnauthorized)
	})

	t.Run("unknown pass is not found, not unauthorized", func(t *testing.T) {
		f := setupRegistrationService(t)

		_, _, err := f.service.Artifact(ctx, "pass.com.example", "missing", "secret")
		assert.ErrorIs(t, err, models.ErrPassNotFound)
	})
}
