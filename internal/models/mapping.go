package models

import "time"

// MappingKind distinguishes the two mapped entity spaces.
type MappingKind string

const (
	MappingKindChannel MappingKind = "channel"
	MappingKindRole    MappingKind = "role"
)

// Mapping is the durable correspondence between a source-space entity and its
// mirror-space counterpart. SourceID, SourceGuildID and Kind are immutable
// once set; only display attributes (Name, Category) and flags mutate.
// At most one mapping exists per (kind, source id, source guild id).
type Mapping struct {
	ID              int64
	Kind            MappingKind
	SourceID        string
	SourceGuildID   string
	Name            string
	MirrorID        string
	Category        string
	Active          bool
	ManuallyDeleted bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// DispatchRecord links one relayed source message to its mirror counterpart.
// Rows feed reference resolution for later replies and nothing else.
type DispatchRecord struct {
	SourceMessageID string
	MirrorMessageID string
	MirrorChannelID string
	RecordedAt      time.Time
}

// AccessFailureState tracks consecutive access-denied failures for one source
// channel. It is created lazily on first failure and cleared on success or
// when the blacklist cutoff passes.
type AccessFailureState struct {
	SourceChannelID  string
	FailedAttempts   int
	LastFailedAt     time.Time
	BlacklistedUntil *time.Time
}

// Blacklisted reports whether the channel is suppressed at the given instant.
func (s *AccessFailureState) Blacklisted(now time.Time) bool {
	return s != nil && s.BlacklistedUntil != nil && now.Before(*s.BlacklistedUntil)
}
