package service

import (
	"context"
	"fmt"
	"time"

	"guildmirror/internal/metrics"
	"guildmirror/internal/models"

	"github.com/sirupsen/logrus"
)

// AccessStore is the persistence surface for per-channel failure state.
type AccessStore interface {
	GetAccessFailure(ctx context.Context, sourceChannelID string) (*models.AccessFailureState, error)
	SaveAccessFailure(ctx context.Context, s *models.AccessFailureState) error
	ClearAccessFailure(ctx context.Context, sourceChannelID string) error
	SweepExpiredBlacklists(ctx context.Context, now time.Time) (int64, error)
}

// AccessFailureTracker counts consecutive access-denied probes per source
// channel and blacklists a channel once the threshold is reached. Blacklisted
// channels are skipped entirely until the next daily cutoff; failures during
// that window do not extend the suppression.
type AccessFailureTracker struct {
	store       AccessStore
	logger      *logrus.Logger
	metrics     *metrics.Registry
	maxFailures int
	cutoffHour  int
	now         func() time.Time
}

func NewAccessFailureTracker(store AccessStore, logger *logrus.Logger, registry *metrics.Registry, maxFailures, cutoffHourUTC int) *AccessFailureTracker {
	return &AccessFailureTracker{
		store:       store,
		logger:      logger,
		metrics:     registry,
		maxFailures: maxFailures,
		cutoffHour:  cutoffHourUTC,
		now:         time.Now,
	}
}

// IsBlacklisted reports whether the channel is currently suppressed.
func (t *AccessFailureTracker) IsBlacklisted(ctx context.Context, sourceChannelID string) (bool, error) {
	state, err := t.store.GetAccessFailure(ctx, sourceChannelID)
	if err != nil {
		return false, fmt.Errorf("failed to load access failure state: %w", err)
	}
	return state.Blacklisted(t.now()), nil
}

// RecordFailure registers one access-denied probe. Reaching the failure
// threshold blacklists the channel until the next cutoff. Failures recorded
// while already blacklisted are dropped without touching the stored state.
func (t *AccessFailureTracker) RecordFailure(ctx context.Context, sourceChannelID string) error {
	now := t.now()

	state, err := t.store.GetAccessFailure(ctx, sourceChannelID)
	if err != nil {
		return fmt.Errorf("failed to load access failure state: %w", err)
	}
	if state.Blacklisted(now) {
		return nil
	}
	if state == nil {
		state = &models.AccessFailureState{SourceChannelID: sourceChannelID}
	}

	state.FailedAttempts++
	state.LastFailedAt = now

	if state.FailedAttempts >= t.maxFailures {
		until := t.nextCutoff(now)
		state.BlacklistedUntil = &until
		t.metrics.Inc(metrics.ChannelsBlacklisted)
		t.logger.WithFields(logrus.Fields{
			"channel_id": sourceChannelID,
			"failures":   state.FailedAttempts,
			"until":      until.Format(time.RFC3339),
		}).Warn("Channel blacklisted after repeated access failures")
	} else {
		t.logger.WithFields(logrus.Fields{
			"channel_id": sourceChannelID,
			"failures":   state.FailedAttempts,
		}).Debug("Recorded channel access failure")
	}

	if err := t.store.SaveAccessFailure(ctx, state); err != nil {
		return fmt.Errorf("failed to save access failure state: %w", err)
	}
	return nil
}

// RecordSuccess clears accumulated failures after a successful access.
func (t *AccessFailureTracker) RecordSuccess(ctx context.Context, sourceChannelID string) error {
	state, err := t.store.GetAccessFailure(ctx, sourceChannelID)
	if err != nil {
		return fmt.Errorf("failed to load access failure state: %w", err)
	}
	if state == nil {
		return nil
	}
	if err := t.store.ClearAccessFailure(ctx, sourceChannelID); err != nil {
		return fmt.Errorf("failed to clear access failure state: %w", err)
	}
	return nil
}

// Sweep lifts every blacklist whose cutoff has passed. Channels whose mirror
// counterpart was manually deleted stay suppressed; the store enforces that.
func (t *AccessFailureTracker) Sweep(ctx context.Context) (int64, error) {
	lifted, err := t.store.SweepExpiredBlacklists(ctx, t.now())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired blacklists: %w", err)
	}
	if lifted > 0 {
		t.logger.WithField("channels", lifted).Info("Lifted expired channel blacklists")
	}
	return lifted, nil
}

// nextCutoff returns the next occurrence of the configured UTC hour strictly
// after now.
func (t *AccessFailureTracker) nextCutoff(now time.Time) time.Time {
	now = now.UTC()
	cutoff := time.Date(now.Year(), now.Month(), now.Day(), t.cutoffHour, 0, 0, 0, time.UTC)
	if !cutoff.After(now) {
		cutoff = cutoff.Add(24 * time.Hour)
	}
	return cutoff
}
