package service

import (
	"context"
	"testing"
	"time"

	"guildmirror/internal/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker(store *memAccessStore, now time.Time) *AccessFailureTracker {
	tracker := NewAccessFailureTracker(store, testLogger(), metrics.NewRegistry(), 2, 4)
	tracker.now = func() time.Time { return now }
	return tracker
}

func TestTrackerBlacklistsAfterThreshold(t *testing.T) {
	store := newMemAccessStore()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	tracker := newTestTracker(store, now)
	ctx := context.Background()

	require.NoError(t, tracker.RecordFailure(ctx, "chan-1"))
	blacklisted, err := tracker.IsBlacklisted(ctx, "chan-1")
	require.NoError(t, err)
	assert.False(t, blacklisted, "one failure is below the threshold")

	require.NoError(t, tracker.RecordFailure(ctx, "chan-1"))
	blacklisted, err = tracker.IsBlacklisted(ctx, "chan-1")
	require.NoError(t, err)
	assert.True(t, blacklisted)

	state, err := store.GetAccessFailure(ctx, "chan-1")
	require.NoError(t, err)
	require.NotNil(t, state.BlacklistedUntil)
	// Noon on the 10th blacklists until 04:00 UTC on the 11th.
	assert.Equal(t, time.Date(2026, 3, 11, 4, 0, 0, 0, time.UTC), *state.BlacklistedUntil)
}

func TestTrackerFailureWhileBlacklistedIsNoOp(t *testing.T) {
	store := newMemAccessStore()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	tracker := newTestTracker(store, now)
	ctx := context.Background()

	require.NoError(t, tracker.RecordFailure(ctx, "chan-1"))
	require.NoError(t, tracker.RecordFailure(ctx, "chan-1"))
	require.NoError(t, tracker.RecordFailure(ctx, "chan-1"))

	state, err := store.GetAccessFailure(ctx, "chan-1")
	require.NoError(t, err)
	assert.Equal(t, 2, state.FailedAttempts, "failures during suppression must not accumulate")
}

func TestTrackerSuccessClearsFailures(t *testing.T) {
	store := newMemAccessStore()
	tracker := newTestTracker(store, time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	ctx := context.Background()

	require.NoError(t, tracker.RecordFailure(ctx, "chan-1"))
	require.NoError(t, tracker.RecordSuccess(ctx, "chan-1"))

	state, err := store.GetAccessFailure(ctx, "chan-1")
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestTrackerCutoffBeforeSameDayHour(t *testing.T) {
	store := newMemAccessStore()
	// 02:00 UTC: the next cutoff is 04:00 the same day.
	now := time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC)
	tracker := newTestTracker(store, now)
	ctx := context.Background()

	require.NoError(t, tracker.RecordFailure(ctx, "chan-1"))
	require.NoError(t, tracker.RecordFailure(ctx, "chan-1"))

	state, err := store.GetAccessFailure(ctx, "chan-1")
	require.NoError(t, err)
	require.NotNil(t, state.BlacklistedUntil)
	assert.Equal(t, time.Date(2026, 3, 10, 4, 0, 0, 0, time.UTC), *state.BlacklistedUntil)
}

func TestTrackerSweepLiftsExpired(t *testing.T) {
	store := newMemAccessStore()
	before := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	tracker := newTestTracker(store, before)
	ctx := context.Background()

	require.NoError(t, tracker.RecordFailure(ctx, "chan-1"))
	require.NoError(t, tracker.RecordFailure(ctx, "chan-1"))

	// Move past the cutoff and sweep.
	tracker.now = func() time.Time { return time.Date(2026, 3, 11, 4, 0, 1, 0, time.UTC) }
	lifted, err := tracker.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), lifted)

	blacklisted, err := tracker.IsBlacklisted(ctx, "chan-1")
	require.NoError(t, err)
	assert.False(t, blacklisted)
}
