package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/passhub/server/internal/models"
	"github.com/passhub/server/internal/repository"
)

// scriptedNotifier returns a scripted sequence of results per push token,
// repeating the last one once the script runs out.
type scriptedNotifier struct {
	mu      sync.Mutex
	scripts map[string][]PushResult
	calls   map[string]int
}

func newScriptedNotifier() *scriptedNotifier {
	return &scriptedNotifier{
		scripts: make(map[string][]PushResult),
		calls:   make(map[string]int),
	}
}

func (n *scriptedNotifier) script(pushToken string, results ...PushResult) {
	n.scripts[pushToken] = results
}

func (n *scriptedNotifier) Notify(ctx context.Context, pushToken, topic string) PushResult {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.calls[pushToken]++
	script := n.scripts[pushToken]
	if len(script) == 0 {
		return PushResult{Status: PushDelivered}
	}
	idx := n.calls[pushToken] - 1
	if idx >= len(script) {
		idx = len(script) - 1
	}
	return script[idx]
}

func (n *scriptedNotifier) callCount(pushToken string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[pushToken]
}

type updateFixture struct {
	devices       *repository.DeviceRepository
	passes        *repository.PassRepository
	registrations *repository.RegistrationRepository
	notifier      *scriptedNotifier
	service       *UpdateService
}

func setupUpdateService(t *testing.T, maxAttempts int) *updateFixture {
	db, err := repository.NewSQLiteDB(":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	f := &updateFixture{
		devices:       repository.NewDeviceRepository(db),
		passes:        repository.NewPassRepository(db),
		registrations: repository.NewRegistrationRepository(db),
		notifier:      newScriptedNotifier(),
	}
	f.service = NewUpdateService(
		f.passes, f.devices, f.registrations,
		f.notifier, nil, nil,
		4, maxAttempts, time.Millisecond,
	)
	return f
}

func (f *updateFixture) register(t *testing.T, libraryID, pushToken, passTypeID, serial string) {
	ctx := context.Background()
	device, err := models.NewDevice(libraryID, pushToken)
	require.NoError(t, err)
	_, err = f.devices.Upsert(ctx, device)
	require.NoError(t, err)
	_, err = f.registrations.Add(ctx, models.NewRegistration(libraryID, passTypeID, serial))
	require.NoError(t, err)
}

func (f *updateFixture) issuePass(t *testing.T, passTypeID, serial string) *models.Pass {
	pass, err := models.NewPass(passTypeID, serial, "tmpl-1", "secret")
	require.NoError(t, err)
	_, err = f.passes.Add(context.Background(), pass)
	require.NoError(t, err)
	return pass
}

func TestUpdateService_PassContentChanged(t *testing.T) {
	ctx := context.Background()

	t.Run("bumps tag even with no registrations", func(t *testing.T) {
		f := setupUpdateService(t, 3)
		pass := f.issuePass(t, "pass.com.example", "SN-1")

		summary, err := f.service.PassContentChanged(ctx, "pass.com.example", "SN-1")
		require.NoError(t, err)
		assert.Greater(t, summary.Tag, pass.UpdateTag)
		assert.Equal(t, 0, summary.Devices)
	})

	t.Run("unknown pass", func(t *testing.T) {
		f := setupUpdateService(t, 3)
		_, err := f.service.PassContentChanged(ctx, "pass.com.example", "missing")
		assert.ErrorIs(t, err, models.ErrPassNotFound)
	})

	t.Run("notifies every registered device", func(t *testing.T) {
		f := setupUpdateService(t, 3)
		f.issuePass(t, "pass.com.example", "SN-1")
		f.register(t, "dev-1", "push-1", "pass.com.example", "SN-1")
		f.register(t, "dev-2", "push-2", "pass.com.example", "SN-1")

		summary, err := f.service.PassContentChanged(ctx, "pass.com.example", "SN-1")
		require.NoError(t, err)
		assert.Equal(t, 2, summary.Devices)
		assert.Equal(t, 2, summary.Notified)
		assert.Zero(t, summary.Dropped)
		assert.Zero(t, summary.Removed)
	})

	t.Run("retries transient failures then succeeds", func(t *testing.T) {
		f := setupUpdateService(t, 3)
		f.issuePass(t, "pass.com.example", "SN-1")
		f.register(t, "dev-1", "push-1", "pass.com.example", "SN-1")

		f.notifier.script("push-1",
			PushResult{Status: PushTimeout},
			PushResult{Status: PushTransportError},
			PushResult{Status: PushDelivered},
		)

		summary, err := f.service.PassContentChanged(ctx, "pass.com.example", "SN-1")
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Notified)
		assert.Equal(t, 3, f.notifier.callCount("push-1"))
	})

	t.Run("drops after exhausting attempts", func(t *testing.T) {
		f := setupUpdateService(t, 2)
		f.issuePass(t, "pass.com.example", "SN-1")
		f.register(t, "dev-1", "push-1", "pass.com.example", "SN-1")

		f.notifier.script("push-1", PushResult{Status: PushTimeout})

		summary, err := f.service.PassContentChanged(ctx, "pass.com.example", "SN-1")
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Dropped)
		assert.Equal(t, 2, f.notifier.callCount("push-1"))

		// The registration stays; the failure was transient.
		devices, err := f.registrations.DevicesForPass(ctx, "pass.com.example", "SN-1")
		require.NoError(t, err)
		assert.Len(t, devices, 1)
	})

	t.Run("dead token removes registration and orphaned device", func(t *testing.T) {
		f := setupUpdateService(t, 3)
		f.issuePass(t, "pass.com.example", "SN-1")
		f.register(t, "dev-1", "push-1", "pass.com.example", "SN-1")
		f.register(t, "dev-2", "push-2", "pass.com.example", "SN-1")

		f.notifier.script("push-1", PushResult{Status: PushDeadToken, Reason: "Unregistered"})

		summary, err := f.service.PassContentChanged(ctx, "pass.com.example", "SN-1")
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Notified)
		assert.Equal(t, 1, summary.Removed)

		// Dead token was not retried.
		assert.Equal(t, 1, f.notifier.callCount("push-1"))

		devices, err := f.registrations.DevicesForPass(ctx, "pass.com.example", "SN-1")
		require.NoError(t, err)
		require.Len(t, devices, 1)
		assert.Equal(t, "dev-2", devices[0].LibraryID)

		gone, err := f.devices.Get(ctx, "dev-1")
		require.NoError(t, err)
		assert.Nil(t, gone)
	})

	t.Run("dead token keeps device registered to other passes", func(t *testing.T) {
		f := setupUpdateService(t, 3)
		f.issuePass(t, "pass.com.example", "SN-1")
		f.issuePass(t, "pass.com.example", "SN-2")
		f.register(t, "dev-1", "push-1", "pass.com.example", "SN-1")
		f.register(t, "dev-1", "push-1", "pass.com.example", "SN-2")

		f.notifier.script("push-1", PushResult{Status: PushDeadToken, Reason: "Unregistered"})

		_, err := f.service.PassContentChanged(ctx, "pass.com.example", "SN-1")
		require.NoError(t, err)

		// Still registered for SN-2, so the device row survives.
		device, err := f.devices.Get(ctx, "dev-1")
		require.NoError(t, err)
		assert.NotNil(t, device)
	})

	t.Run("expired provider token is retried", func(t *testing.T) {
		f := setupUpdateService(t, 3)
		f.issuePass(t, "pass.com.example", "SN-1")
		f.register(t, "dev-1", "push-1", "pass.com.example", "SN-1")

		f.notifier.script("push-1",
			PushResult{Status: PushRejected, Reason: "ExpiredProviderToken"},
			PushResult{Status: PushDelivered},
		)

		summary, err := f.service.PassContentChanged(ctx, "pass.com.example", "SN-1")
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Notified)
		assert.Equal(t, 2, f.notifier.callCount("push-1"))
	})

	t.Run("hard rejection is not retried", func(t *testing.T) {
		f := setupUpdateService(t, 3)
		f.issuePass(t, "pass.com.example", "SN-1")
		f.register(t, "dev-1", "push-1", "pass.com.example", "SN-1")

		f.notifier.script("push-1", PushResult{Status: PushRejected, Reason: "TopicDisallowed"})

		summary, err := f.service.PassContentChanged(ctx, "pass.com.example", "SN-1")
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Dropped)
		assert.Equal(t, 1, f.notifier.callCount("push-1"))
	})
}
