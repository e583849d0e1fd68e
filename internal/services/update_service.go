package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/passhub/server/internal/models"
	"github.com/passhub/server/internal/observability"
	"github.com/passhub/server/internal/repository"
)

// Notifier delivers one background push to one device
type Notifier interface {
	Notify(ctx context.Context, pushToken, topic string) PushResult
}

// DeliverySummary reports what a content-change fan-out did. Devices is
// the number of registrations at the time of the change; every one of
// them ends up in exactly one of the other three buckets.
type DeliverySummary struct {
	Tag      int64
	Devices  int
	Notified int
	Dropped  int
	Removed  int
}

// UpdateService orchestrates a pass content change: it advances the
// update tag, then tells every registered device to poll, with bounded
// retries for transient failures and cleanup of registrations whose push
// tokens the gateway reports as dead.
type UpdateService struct {
	passes        repository.PassRepo
	devices       repository.DeviceRepo
	registrations repository.RegistrationRepo
	notifier      Notifier
	hub           *EventHub
	metrics       *observability.WalletMetrics

	workers     int
	maxAttempts int
	backoffBase time.Duration
}

// NewUpdateService creates a new UpdateService. The hub and metrics may be
// nil; delivery then proceeds without events or instrumentation.
func NewUpdateService(passes repository.PassRepo, devices repository.DeviceRepo, registrations repository.RegistrationRepo, notifier Notifier, hub *EventHub, metrics *observability.WalletMetrics, workers, maxAttempts int, backoffBase time.Duration) *UpdateService {
	if workers < 1 {
		workers = 1
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &UpdateService{
		passes:        passes,
		devices:       devices,
		registrations: registrations,
		notifier:      notifier,
		hub:           hub,
		metrics:       metrics,
		workers:       workers,
		maxAttempts:   maxAttempts,
		backoffBase:   backoffBase,
	}
}

// PassContentChanged records that the pass's content changed and notifies
// every registered device. The tag is advanced before the first push goes
// out, so a device that polls immediately already sees the new tag.
func (s *UpdateService) PassContentChanged(ctx context.Context, passTypeID, serialNumber string) (*DeliverySummary, error) {
	ctx, span := observability.StartServiceSpan(ctx, "UpdateService", "PassContentChanged")
	defer span.End()

	tag, err := s.passes.BumpUpdateTag(ctx, passTypeID, serialNumber)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}

	devices, err := s.registrations.DevicesForPass(ctx, passTypeID, serialNumber)
	if err != nil {
		observability.RecordError(span, err)
		return nil, fmt.Errorf("failed to list registered devices: %w", err)
	}

	summary := &DeliverySummary{Tag: tag, Devices: len(devices)}
	if len(devices) == 0 {
		return summary, nil
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, s.workers)

	for _, device := range devices {
		wg.Add(1)
		sem <- struct{}{}
		go func(device *models.Device) {
			defer wg.Done()
			defer func() { <-sem }()

			outcome, attempts := s.notifyDevice(ctx, device, passTypeID, serialNumber)

			mu.Lock()
			switch outcome {
			case outcomeNotified:
				summary.Notified++
			case outcomeRemoved:
				summary.Removed++
			default:
				summary.Dropped++
			}
			mu.Unlock()

			if s.hub != nil {
				s.hub.BroadcastUpdate(PassUpdateEvent{
					PassTypeID:      passTypeID,
					SerialNumber:    serialNumber,
					DeviceLibraryID: device.LibraryID,
					Outcome:         outcome,
					Attempts:        attempts,
					Tag:             models.FormatUpdateTag(tag),
				})
			}
		}(device)
	}
	wg.Wait()

	observability.WithContext(ctx).WithFields(map[string]interface{}{
		"pass_type_id": passTypeID,
		"serial":       serialNumber,
		"devices":      summary.Devices,
		"notified":     summary.Notified,
		"dropped":      summary.Dropped,
		"removed":      summary.Removed,
	}).Info("Pass update fan-out complete")

	if s.metrics != nil {
		s.metrics.RecordFanout(ctx, passTypeID, summary.Devices, summary.Notified, summary.Dropped, summary.Removed)
	}

	return summary, nil
}

const (
	outcomeNotified = "notified"
	outcomeDropped  = "dropped"
	outcomeRemoved  = "removed"
)

// notifyDevice pushes to one device, retrying transient failures with
// exponential backoff. A dead token removes the registration and, when it
// was the device's last one, the device itself.
func (s *UpdateService) notifyDevice(ctx context.Context, device *models.Device, passTypeID, serialNumber string) (string, int) {
	var result PushResult
	attempt := 0

	for attempt < s.maxAttempts {
		start := time.Now()
		result = s.notifier.Notify(ctx, device.PushToken, passTypeID)
		attempt++

		if s.metrics != nil {
			s.metrics.RecordPush(ctx, result.Status.String(), time.Since(start))
		}

		if result.Status == PushDelivered {
			return outcomeNotified, attempt
		}

		// An expired provider token is retryable once the cache has been
		// invalidated, which the notifier does before reporting it.
		retryable := result.Retryable() ||
			(result.Status == PushRejected && result.Reason == "ExpiredProviderToken")
		if !retryable {
			break
		}

		if attempt < s.maxAttempts {
			if !sleepContext(ctx, s.backoffBase<<(attempt-1)) {
				break
			}
		}
	}

	log := observability.WithContext(ctx).WithFields(map[string]interface{}{
		"device":       device.LibraryID,
		"pass_type_id": passTypeID,
		"serial":       serialNumber,
		"attempts":     attempt,
		"status":       result.Status.String(),
	})

	if result.Status == PushDeadToken {
		if _, err := s.registrations.Delete(ctx, device.LibraryID, passTypeID, serialNumber); err != nil {
			log.Errorf("Failed to remove dead registration: %v", err)
			return outcomeDropped, attempt
		}
		if _, err := s.devices.DeleteIfUnregistered(ctx, device.LibraryID); err != nil {
			log.Errorf("Failed to clean up device: %v", err)
		}
		log.Info("Removed registration for dead push token")
		return outcomeRemoved, attempt
	}

	if result.Err != nil {
		log.Warnf("Dropping push notification: %v", result.Err)
	} else {
		log.WithField("reason", result.Reason).Warn("Dropping push notification")
	}
	return outcomeDropped, attempt
}

// sleepContext waits for d unless the context ends first.
func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
