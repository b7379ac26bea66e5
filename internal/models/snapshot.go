package models

// ChannelKind is the platform-independent channel type.
type ChannelKind string

const (
	ChannelText         ChannelKind = "text"
	ChannelVoice        ChannelKind = "voice"
	ChannelForum        ChannelKind = "forum"
	ChannelAnnouncement ChannelKind = "announcement"
	ChannelStage        ChannelKind = "stage"
	ChannelThread       ChannelKind = "thread"
)

// SupportedOnMirror reports whether the mirror side can create this kind
// natively. Unsupported kinds fall back to plain text channels.
func (k ChannelKind) SupportedOnMirror() bool {
	switch k {
	case ChannelForum, ChannelAnnouncement, ChannelStage:
		return false
	default:
		return true
	}
}

// StructuralSnapshot is an immutable listing of one guild's categories,
// channels and roles with parent linkage. It is scoped to a single diff pass
// and discarded afterwards.
type StructuralSnapshot struct {
	GuildID    string
	Categories []SnapshotCategory
	Channels   []SnapshotChannel
	Roles      []SnapshotRole
}

// SnapshotCategory is one channel category.
type SnapshotCategory struct {
	ID       string
	Name     string
	Position int
}

// SnapshotChannel is one channel. For threads, ParentID names the parent
// channel rather than a category.
type SnapshotChannel struct {
	ID       string
	Name     string
	Kind     ChannelKind
	ParentID string
	Topic    string
	Position int
	NSFW     bool
}

// IsThread reports whether the channel is a thread under a parent channel.
func (c SnapshotChannel) IsThread() bool {
	return c.Kind == ChannelThread
}

// SnapshotRole is one role. Managed roles belong to integrations and are
// never mirrored.
type SnapshotRole struct {
	ID          string
	Name        string
	Position    int
	Permissions int64
	Color       int
	Hoist       bool
	Mentionable bool
	Managed     bool
}

// CategoryByName returns the category with the given name, if present.
func (s *StructuralSnapshot) CategoryByName(name string) (SnapshotCategory, bool) {
	for _, c := range s.Categories {
		if c.Name == name {
			return c, true
		}
	}
	return SnapshotCategory{}, false
}

// ChannelByName returns the channel with the given name, if present.
func (s *StructuralSnapshot) ChannelByName(name string) (SnapshotChannel, bool) {
	for _, c := range s.Channels {
		if c.Name == name {
			return c, true
		}
	}
	return SnapshotChannel{}, false
}

// RoleByName returns the role with the given name, if present.
func (s *StructuralSnapshot) RoleByName(name string) (SnapshotRole, bool) {
	for _, r := range s.Roles {
		if r.Name == name {
			return r, true
		}
	}
	return SnapshotRole{}, false
}
