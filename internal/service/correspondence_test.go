package service

import (
	"context"
	"testing"

	"guildmirror/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestCorrespondenceResolveColdAndWarm(t *testing.T) {
	store := newMemMappingStore()
	cs := NewCorrespondenceStore(store, testLogger())
	ctx := context.Background()

	err := cs.Register(ctx, &models.Mapping{
		Kind: models.MappingKindChannel, SourceID: "src-1", SourceGuildID: "guild-1",
		Name: "general", MirrorID: "mir-1", Active: true,
	})
	require.NoError(t, err)

	// Warm hit from the register-primed cache.
	warm, err := cs.Resolve(ctx, models.MappingKindChannel, "src-1", "guild-1", "general")
	require.NoError(t, err)
	require.NotNil(t, warm)

	// Cold hit after eviction must agree with the warm one.
	cs.Invalidate(models.MappingKindChannel, "src-1", "guild-1")
	cold, err := cs.Resolve(ctx, models.MappingKindChannel, "src-1", "guild-1", "general")
	require.NoError(t, err)
	require.NotNil(t, cold)
	assert.Equal(t, warm.MirrorID, cold.MirrorID)
	assert.Equal(t, warm.Name, cold.Name)
}

func TestCorrespondenceResolveAbsent(t *testing.T) {
	cs := NewCorrespondenceStore(newMemMappingStore(), testLogger())

	mapping, err := cs.Resolve(context.Background(), models.MappingKindChannel, "nope", "guild-1", "")
	require.NoError(t, err)
	assert.Nil(t, mapping)
}

func TestCorrespondenceBackfillsLegacyRowByName(t *testing.T) {
	store := newMemMappingStore()
	cs := NewCorrespondenceStore(store, testLogger())
	ctx := context.Background()

	// A legacy row recorded before source ids were tracked.
	require.NoError(t, store.SaveMapping(ctx, &models.Mapping{
		Kind: models.MappingKindChannel, SourceID: "", SourceGuildID: "guild-1",
		Name: "general", MirrorID: "mir-1", Active: true,
	}))

	mapping, err := cs.Resolve(ctx, models.MappingKindChannel, "new-id", "guild-1", "general")
	require.NoError(t, err)
	require.NotNil(t, mapping)
	assert.Equal(t, "new-id", mapping.SourceID)
	assert.Equal(t, "mir-1", mapping.MirrorID)

	// The backfill is durable.
	persisted, err := store.GetMappingBySourceID(ctx, models.MappingKindChannel, "new-id", "guild-1")
	require.NoError(t, err)
	require.NotNil(t, persisted)
}

func TestCorrespondenceNameCollisionDoesNotRebindLiveMapping(t *testing.T) {
	store := newMemMappingStore()
	cs := NewCorrespondenceStore(store, testLogger())
	ctx := context.Background()

	require.NoError(t, cs.Register(ctx, &models.Mapping{
		Kind: models.MappingKindChannel, SourceID: "src-1", SourceGuildID: "guild-1",
		Name: "general", MirrorID: "mir-1", Active: true,
	}))

	// A different channel sharing the display name must not adopt the
	// existing correspondence.
	stolen, err := cs.Resolve(ctx, models.MappingKindChannel, "src-2", "guild-1", "general")
	require.NoError(t, err)
	assert.Nil(t, stolen)

	kept, err := store.GetMappingBySourceID(ctx, models.MappingKindChannel, "src-1", "guild-1")
	require.NoError(t, err)
	require.NotNil(t, kept)
	assert.Equal(t, "mir-1", kept.MirrorID)
}

func TestCorrespondenceRenameUpdatesCache(t *testing.T) {
	cs := NewCorrespondenceStore(newMemMappingStore(), testLogger())
	ctx := context.Background()

	require.NoError(t, cs.Register(ctx, &models.Mapping{
		Kind: models.MappingKindChannel, SourceID: "src-1", SourceGuildID: "guild-1",
		Name: "old-name", MirrorID: "mir-1", Active: true,
	}))
	require.NoError(t, cs.Rename(ctx, models.MappingKindChannel, "src-1", "guild-1", "new-name"))

	mapping, err := cs.Resolve(ctx, models.MappingKindChannel, "src-1", "guild-1", "")
	require.NoError(t, err)
	require.NotNil(t, mapping)
	assert.Equal(t, "new-name", mapping.Name)
}

func TestCorrespondenceWarm(t *testing.T) {
	store := newMemMappingStore()
	ctx := context.Background()
	require.NoError(t, store.SaveMapping(ctx, &models.Mapping{
		Kind: models.MappingKindChannel, SourceID: "src-1", SourceGuildID: "guild-1",
		Name: "general", MirrorID: "mir-1", Active: true,
	}))
	require.NoError(t, store.SaveMapping(ctx, &models.Mapping{
		Kind: models.MappingKindRole, SourceID: "role-1", SourceGuildID: "guild-1",
		Name: "mods", MirrorID: "mir-r1", Active: true,
	}))

	cs := NewCorrespondenceStore(store, testLogger())
	require.NoError(t, cs.Warm(ctx, "guild-1"))

	cs.mu.RLock()
	defer cs.mu.RUnlock()
	assert.Len(t, cs.cache, 2)
}
