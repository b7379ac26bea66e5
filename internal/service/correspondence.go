package service

import (
	"context"
	"fmt"
	"sync"

	"guildmirror/internal/models"

	"github.com/sirupsen/logrus"
)

// MappingStore is the persistence surface the correspondence cache sits on.
type MappingStore interface {
	SaveMapping(ctx context.Context, m *models.Mapping) error
	GetMappingBySourceID(ctx context.Context, kind models.MappingKind, sourceID, sourceGuildID string) (*models.Mapping, error)
	GetMappingByName(ctx context.Context, kind models.MappingKind, sourceGuildID, name string) (*models.Mapping, error)
	RepairMappingSourceID(ctx context.Context, id int64, sourceID string) error
	UpdateMappingName(ctx context.Context, kind models.MappingKind, sourceID, sourceGuildID, name string) error
	SetManuallyDeleted(ctx context.Context, kind models.MappingKind, sourceID, sourceGuildID string, deleted bool) error
	DeleteMappingByMirrorID(ctx context.Context, kind models.MappingKind, mirrorID string) error
	ListMappings(ctx context.Context, kind models.MappingKind, sourceGuildID string) ([]*models.Mapping, error)
	ListManuallyDeleted(ctx context.Context, kind models.MappingKind, sourceGuildID string) (map[string]bool, error)
}

// CorrespondenceStore resolves source entities to their mirror counterparts.
// It fronts the database with an in-memory cache; lookups that miss by source
// id fall back to a name lookup over legacy rows recorded without one and
// backfill the missing id.
type CorrespondenceStore struct {
	store  MappingStore
	logger *logrus.Logger

	mu    sync.RWMutex
	cache map[string]*models.Mapping
}

func NewCorrespondenceStore(store MappingStore, logger *logrus.Logger) *CorrespondenceStore {
	return &CorrespondenceStore{
		store:  store,
		logger: logger,
		cache:  make(map[string]*models.Mapping),
	}
}

func cacheKey(kind models.MappingKind, sourceID, sourceGuildID string) string {
	return string(kind) + ":" + sourceGuildID + ":" + sourceID
}

// Resolve returns the mapping for a source entity, or (nil, nil) when no
// correspondence exists. name enables the self-healing fallback; pass "" to
// skip it.
func (s *CorrespondenceStore) Resolve(ctx context.Context, kind models.MappingKind, sourceID, sourceGuildID, name string) (*models.Mapping, error) {
	key := cacheKey(kind, sourceID, sourceGuildID)

	s.mu.RLock()
	cached, ok := s.cache[key]
	s.mu.RUnlock()
	if ok {
		return cached, nil
	}

	mapping, err := s.store.GetMappingBySourceID(ctx, kind, sourceID, sourceGuildID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up mapping: %w", err)
	}
	if mapping == nil && name != "" {
		mapping, err = s.repairByName(ctx, kind, sourceID, sourceGuildID, name)
		if err != nil {
			return nil, err
		}
	}
	if mapping == nil {
		return nil, nil
	}

	s.mu.Lock()
	s.cache[key] = mapping
	s.mu.Unlock()
	return mapping, nil
}

// repairByName adopts a legacy mapping recorded without a source id, keyed by
// guild and display name, and backfills the current id. Rows that already
// carry a source id are never touched here: the id is immutable once set, and
// a name collision with a live mapping must not rebind its mirror entity.
func (s *CorrespondenceStore) repairByName(ctx context.Context, kind models.MappingKind, sourceID, sourceGuildID, name string) (*models.Mapping, error) {
	mapping, err := s.store.GetMappingByName(ctx, kind, sourceGuildID, name)
	if err != nil {
		return nil, fmt.Errorf("failed to look up mapping by name: %w", err)
	}
	if mapping == nil || mapping.SourceID != "" {
		return nil, nil
	}

	if err := s.store.RepairMappingSourceID(ctx, mapping.ID, sourceID); err != nil {
		return nil, fmt.Errorf("failed to repair mapping source id: %w", err)
	}
	s.logger.WithFields(logrus.Fields{
		"kind":      kind,
		"name":      name,
		"old_id":    mapping.SourceID,
		"new_id":    sourceID,
		"mirror_id": mapping.MirrorID,
	}).Info("Repaired mapping source id by name match")

	s.mu.Lock()
	delete(s.cache, cacheKey(kind, mapping.SourceID, sourceGuildID))
	s.mu.Unlock()

	mapping.SourceID = sourceID
	return mapping, nil
}

// Register persists a new correspondence and primes the cache.
func (s *CorrespondenceStore) Register(ctx context.Context, m *models.Mapping) error {
	if err := s.store.SaveMapping(ctx, m); err != nil {
		return fmt.Errorf("failed to save mapping: %w", err)
	}
	s.mu.Lock()
	s.cache[cacheKey(m.Kind, m.SourceID, m.SourceGuildID)] = m
	s.mu.Unlock()
	return nil
}

// Rename updates the stored display name after a source-side rename.
func (s *CorrespondenceStore) Rename(ctx context.Context, kind models.MappingKind, sourceID, sourceGuildID, name string) error {
	if err := s.store.UpdateMappingName(ctx, kind, sourceID, sourceGuildID, name); err != nil {
		return fmt.Errorf("failed to update mapping name: %w", err)
	}
	s.mu.Lock()
	if m, ok := s.cache[cacheKey(kind, sourceID, sourceGuildID)]; ok {
		m.Name = name
	}
	s.mu.Unlock()
	return nil
}

// MarkManuallyDeleted flags a correspondence whose mirror entity the operator
// removed by hand, suppressing recreation on later diff passes.
func (s *CorrespondenceStore) MarkManuallyDeleted(ctx context.Context, kind models.MappingKind, sourceID, sourceGuildID string) error {
	if err := s.store.SetManuallyDeleted(ctx, kind, sourceID, sourceGuildID, true); err != nil {
		return fmt.Errorf("failed to flag manual deletion: %w", err)
	}
	s.Invalidate(kind, sourceID, sourceGuildID)
	return nil
}

// Remove drops a correspondence after its source entity disappeared and the
// mirror entity was deleted.
func (s *CorrespondenceStore) Remove(ctx context.Context, kind models.MappingKind, mirrorID string) error {
	if err := s.store.DeleteMappingByMirrorID(ctx, kind, mirrorID); err != nil {
		return fmt.Errorf("failed to delete mapping: %w", err)
	}
	s.mu.Lock()
	for key, m := range s.cache {
		if m.Kind == kind && m.MirrorID == mirrorID {
			delete(s.cache, key)
		}
	}
	s.mu.Unlock()
	return nil
}

// Invalidate evicts one cache entry so the next Resolve hits the database.
func (s *CorrespondenceStore) Invalidate(kind models.MappingKind, sourceID, sourceGuildID string) {
	s.mu.Lock()
	delete(s.cache, cacheKey(kind, sourceID, sourceGuildID))
	s.mu.Unlock()
}

// InvalidateAll drops the whole cache.
func (s *CorrespondenceStore) InvalidateAll() {
	s.mu.Lock()
	s.cache = make(map[string]*models.Mapping)
	s.mu.Unlock()
}

// Warm loads every mapping for a guild into the cache in one query; the
// orchestrator calls it once at startup before the event stream opens.
func (s *CorrespondenceStore) Warm(ctx context.Context, sourceGuildID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, kind := range []models.MappingKind{models.MappingKindChannel, models.MappingKindRole} {
		mappings, err := s.store.ListMappings(ctx, kind, sourceGuildID)
		if err != nil {
			return fmt.Errorf("failed to warm %s mappings: %w", kind, err)
		}
		for _, m := range mappings {
			s.cache[cacheKey(m.Kind, m.SourceID, m.SourceGuildID)] = m
		}
	}
	return nil
}
