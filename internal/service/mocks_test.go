package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"guildmirror/internal/models"
	mirrortypes "guildmirror/pkg/mirror/types"
	sourcetypes "guildmirror/pkg/source/types"
)

// memMappingStore is an in-memory MappingStore for service tests.
type memMappingStore struct {
	mu       sync.Mutex
	nextID   int64
	mappings map[int64]*models.Mapping
}

func newMemMappingStore() *memMappingStore {
	return &memMappingStore{mappings: make(map[int64]*models.Mapping)}
}

func (s *memMappingStore) SaveMapping(ctx context.Context, m *models.Mapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.mappings {
		if existing.Kind == m.Kind && existing.SourceID == m.SourceID && existing.SourceGuildID == m.SourceGuildID {
			existing.Name = m.Name
			existing.Category = m.Category
			existing.Active = m.Active
			existing.ManuallyDeleted = m.ManuallyDeleted
			m.ID = existing.ID
			return nil
		}
	}
	s.nextID++
	m.ID = s.nextID
	clone := *m
	s.mappings[m.ID] = &clone
	return nil
}

func (s *memMappingStore) GetMappingBySourceID(ctx context.Context, kind models.MappingKind, sourceID, sourceGuildID string) (*models.Mapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.mappings {
		if m.Kind == kind && m.SourceID == sourceID && m.SourceGuildID == sourceGuildID {
			clone := *m
			return &clone, nil
		}
	}
	return nil, nil
}

func (s *memMappingStore) GetMappingByName(ctx context.Context, kind models.MappingKind, sourceGuildID, name string) (*models.Mapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.mappings {
		if m.Kind == kind && m.SourceGuildID == sourceGuildID && m.Name == name {
			clone := *m
			return &clone, nil
		}
	}
	return nil, nil
}

func (s *memMappingStore) RepairMappingSourceID(ctx context.Context, id int64, sourceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.mappings[id]; ok {
		m.SourceID = sourceID
	}
	return nil
}

func (s *memMappingStore) UpdateMappingName(ctx context.Context, kind models.MappingKind, sourceID, sourceGuildID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.mappings {
		if m.Kind == kind && m.SourceID == sourceID && m.SourceGuildID == sourceGuildID {
			m.Name = name
		}
	}
	return nil
}

func (s *memMappingStore) SetManuallyDeleted(ctx context.Context, kind models.MappingKind, sourceID, sourceGuildID string, deleted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.mappings {
		if m.Kind == kind && m.SourceID == sourceID && m.SourceGuildID == sourceGuildID {
			m.ManuallyDeleted = deleted
		}
	}
	return nil
}

func (s *memMappingStore) DeleteMappingByMirrorID(ctx context.Context, kind models.MappingKind, mirrorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, m := range s.mappings {
		if m.Kind == kind && m.MirrorID == mirrorID {
			delete(s.mappings, id)
		}
	}
	return nil
}

func (s *memMappingStore) ListMappings(ctx context.Context, kind models.MappingKind, sourceGuildID string) ([]*models.Mapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Mapping
	for _, m := range s.mappings {
		if m.Kind == kind && m.SourceGuildID == sourceGuildID {
			clone := *m
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (s *memMappingStore) ListManuallyDeleted(ctx context.Context, kind models.MappingKind, sourceGuildID string) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]bool)
	for _, m := range s.mappings {
		if m.Kind == kind && m.SourceGuildID == sourceGuildID && m.ManuallyDeleted {
			out[m.SourceID] = true
			out[m.Name] = true
		}
	}
	return out, nil
}

// memAccessStore is an in-memory AccessStore for service tests.
type memAccessStore struct {
	mu     sync.Mutex
	states map[string]*models.AccessFailureState
}

func newMemAccessStore() *memAccessStore {
	return &memAccessStore{states: make(map[string]*models.AccessFailureState)}
}

func (s *memAccessStore) GetAccessFailure(ctx context.Context, sourceChannelID string) (*models.AccessFailureState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok := s.states[sourceChannelID]; ok {
		clone := *state
		return &clone, nil
	}
	return nil, nil
}

func (s *memAccessStore) SaveAccessFailure(ctx context.Context, state *models.AccessFailureState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *state
	s.states[state.SourceChannelID] = &clone
	return nil
}

func (s *memAccessStore) ClearAccessFailure(ctx context.Context, sourceChannelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, sourceChannelID)
	return nil
}

func (s *memAccessStore) SweepExpiredBlacklists(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var lifted int64
	for id, state := range s.states {
		if state.BlacklistedUntil != nil && !now.Before(*state.BlacklistedUntil) {
			delete(s.states, id)
			lifted++
		}
	}
	return lifted, nil
}

// memHistoryStore is an in-memory HistoryStore for service tests.
type memHistoryStore struct {
	mu      sync.Mutex
	records map[string]*models.DispatchRecord
}

func newMemHistoryStore() *memHistoryStore {
	return &memHistoryStore{records: make(map[string]*models.DispatchRecord)}
}

func (s *memHistoryStore) SaveDispatchRecord(ctx context.Context, r *models.DispatchRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *r
	s.records[r.SourceMessageID] = &clone
	return nil
}

func (s *memHistoryStore) GetDispatchRecord(ctx context.Context, sourceMessageID string) (*models.DispatchRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.records[sourceMessageID]; ok {
		clone := *r
		return &clone, nil
	}
	return nil, nil
}

// mockSourceClient implements the source connector with overridable hooks.
type mockSourceClient struct {
	events       chan sourcetypes.Event
	snapshot     *models.StructuralSnapshot
	snapshotErr  error
	probeErr     map[string]error
	fetched      map[string]*models.RelayEnvelope
	fetchErr     error
	roleNames    map[string]string
	channelNames map[string]string
}

func newMockSourceClient() *mockSourceClient {
	return &mockSourceClient{
		events:       make(chan sourcetypes.Event, 16),
		probeErr:     make(map[string]error),
		fetched:      make(map[string]*models.RelayEnvelope),
		roleNames:    make(map[string]string),
		channelNames: make(map[string]string),
	}
}

func (m *mockSourceClient) Connect(ctx context.Context) error { return nil }
func (m *mockSourceClient) Close() error                      { return nil }
func (m *mockSourceClient) Events() <-chan sourcetypes.Event  { return m.events }

func (m *mockSourceClient) Snapshot(ctx context.Context, guildID string) (*models.StructuralSnapshot, error) {
	if m.snapshotErr != nil {
		return nil, m.snapshotErr
	}
	return m.snapshot, nil
}

func (m *mockSourceClient) FetchMessage(ctx context.Context, channelID, messageID string) (*models.RelayEnvelope, error) {
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	if env, ok := m.fetched[messageID]; ok {
		return env, nil
	}
	return nil, m.fetchErr
}

func (m *mockSourceClient) ProbeChannelAccess(ctx context.Context, channelID string) error {
	return m.probeErr[channelID]
}

func (m *mockSourceClient) RoleName(guildID, roleID string) (string, bool) {
	name, ok := m.roleNames[roleID]
	return name, ok
}

func (m *mockSourceClient) ChannelName(channelID string) (string, bool) {
	name, ok := m.channelNames[channelID]
	return name, ok
}

// dispatchCall records one Dispatch invocation on the mock mirror.
type dispatchCall struct {
	ChannelID string
	Payload   mirrortypes.DispatchPayload
}

// mockMirrorClient implements the mirror connector, recording mutations and
// returning generated ids.
type mockMirrorClient struct {
	mu sync.Mutex

	snapshot    *models.StructuralSnapshot
	snapshotErr error

	nextID int

	createdCategories []string
	createdChannels   []mirrortypes.CreateChannelParams
	createdThreads    []string
	renamed           map[string]string
	deletedChannels   []string
	repositioned      [][]mirrortypes.EntityPosition
	createdRoles      []mirrortypes.RoleParams
	updatedRoles      map[string]mirrortypes.RoleParams
	deletedRoles      []string

	dispatches  []dispatchCall
	dispatchErr []error
	reactions   []string
	reactionErr error
	emoji       map[string]string
}

func newMockMirrorClient() *mockMirrorClient {
	return &mockMirrorClient{
		snapshot:     &models.StructuralSnapshot{},
		renamed:      make(map[string]string),
		updatedRoles: make(map[string]mirrortypes.RoleParams),
		emoji:        make(map[string]string),
	}
}

func (m *mockMirrorClient) genID(prefix string) string {
	m.nextID++
	return fmt.Sprintf("%s-%d", prefix, m.nextID)
}

func (m *mockMirrorClient) Connect(ctx context.Context) error { return nil }
func (m *mockMirrorClient) Close() error                      { return nil }

func (m *mockMirrorClient) Snapshot(ctx context.Context, guildID string) (*models.StructuralSnapshot, error) {
	if m.snapshotErr != nil {
		return nil, m.snapshotErr
	}
	return m.snapshot, nil
}

func (m *mockMirrorClient) CreateCategory(ctx context.Context, guildID, name string, position int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.genID("cat")
	m.createdCategories = append(m.createdCategories, name)
	m.snapshot.Categories = append(m.snapshot.Categories, models.SnapshotCategory{ID: id, Name: name, Position: position})
	return id, nil
}

func (m *mockMirrorClient) CreateChannel(ctx context.Context, guildID string, params mirrortypes.CreateChannelParams) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.genID("chan")
	m.createdChannels = append(m.createdChannels, params)
	m.snapshot.Channels = append(m.snapshot.Channels, models.SnapshotChannel{
		ID: id, Name: params.Name, Kind: params.Kind, ParentID: params.ParentID, Topic: params.Topic, NSFW: params.NSFW,
	})
	return id, nil
}

func (m *mockMirrorClient) CreateThread(ctx context.Context, parentChannelID, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.genID("thr")
	m.createdThreads = append(m.createdThreads, name)
	m.snapshot.Channels = append(m.snapshot.Channels, models.SnapshotChannel{
		ID: id, Name: name, Kind: models.ChannelThread, ParentID: parentChannelID,
	})
	return id, nil
}

func (m *mockMirrorClient) RenameChannel(ctx context.Context, channelID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.renamed[channelID] = name
	for i := range m.snapshot.Channels {
		if m.snapshot.Channels[i].ID == channelID {
			m.snapshot.Channels[i].Name = name
		}
	}
	return nil
}

func (m *mockMirrorClient) DeleteChannel(ctx context.Context, channelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletedChannels = append(m.deletedChannels, channelID)
	var remaining []models.SnapshotChannel
	for _, ch := range m.snapshot.Channels {
		if ch.ID != channelID {
			remaining = append(remaining, ch)
		}
	}
	m.snapshot.Channels = remaining
	return nil
}

func (m *mockMirrorClient) RepositionChannels(ctx context.Context, guildID string, positions []mirrortypes.EntityPosition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.repositioned = append(m.repositioned, positions)
	for _, p := range positions {
		for i := range m.snapshot.Categories {
			if m.snapshot.Categories[i].ID == p.ID {
				m.snapshot.Categories[i].Position = p.Position
			}
		}
		for i := range m.snapshot.Channels {
			if m.snapshot.Channels[i].ID == p.ID {
				m.snapshot.Channels[i].Position = p.Position
			}
		}
	}
	return nil
}

func (m *mockMirrorClient) CreateRole(ctx context.Context, guildID string, params mirrortypes.RoleParams) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.genID("role")
	m.createdRoles = append(m.createdRoles, params)
	m.snapshot.Roles = append(m.snapshot.Roles, models.SnapshotRole{
		ID: id, Name: params.Name, Permissions: params.Permissions,
		Color: params.Color, Hoist: params.Hoist, Mentionable: params.Mentionable,
	})
	return id, nil
}

func (m *mockMirrorClient) UpdateRole(ctx context.Context, guildID, roleID string, params mirrortypes.RoleParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updatedRoles[roleID] = params
	for i := range m.snapshot.Roles {
		if m.snapshot.Roles[i].ID == roleID {
			m.snapshot.Roles[i] = models.SnapshotRole{
				ID: roleID, Name: params.Name, Permissions: params.Permissions,
				Color: params.Color, Hoist: params.Hoist, Mentionable: params.Mentionable,
			}
		}
	}
	return nil
}

func (m *mockMirrorClient) DeleteRole(ctx context.Context, guildID, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletedRoles = append(m.deletedRoles, roleID)
	var remaining []models.SnapshotRole
	for _, r := range m.snapshot.Roles {
		if r.ID != roleID {
			remaining = append(remaining, r)
		}
	}
	m.snapshot.Roles = remaining
	return nil
}

func (m *mockMirrorClient) Dispatch(ctx context.Context, channelID string, payload mirrortypes.DispatchPayload) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dispatches = append(m.dispatches, dispatchCall{ChannelID: channelID, Payload: payload})
	if len(m.dispatchErr) > 0 {
		err := m.dispatchErr[0]
		m.dispatchErr = m.dispatchErr[1:]
		if err != nil {
			return "", err
		}
	}
	return m.genID("msg"), nil
}

func (m *mockMirrorClient) AddReaction(ctx context.Context, channelID, messageID, emoji string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reactionErr != nil {
		return m.reactionErr
	}
	m.reactions = append(m.reactions, emoji)
	return nil
}

func (m *mockMirrorClient) GuildEmoji(ctx context.Context, guildID string) (map[string]string, error) {
	return m.emoji, nil
}

// mockDownloader serves canned bytes for any URL.
type mockDownloader struct {
	data map[string][]byte
	err  error
}

func (d *mockDownloader) Download(ctx context.Context, url string) (io.ReadCloser, error) {
	if d.err != nil {
		return nil, d.err
	}
	if body, ok := d.data[url]; ok {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	return io.NopCloser(bytes.NewReader(nil)), nil
}

// mockNotifier records role mention notices.
type mockNotifier struct {
	mu      sync.Mutex
	notices []string
}

func (n *mockNotifier) NotifyRoleMention(ctx context.Context, roleName, channelName string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, roleName+"@"+channelName)
}
