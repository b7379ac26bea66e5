package types

import (
	"io"

	"guildmirror/internal/models"
)

// CreateChannelParams describes a channel to create on the mirror guild.
type CreateChannelParams struct {
	Name     string
	Kind     models.ChannelKind
	ParentID string
	Topic    string
	NSFW     bool
}

// RoleParams describes a role create or update. Permissions are expected to
// have passed the sanitizer already.
type RoleParams struct {
	Name        string
	Permissions int64
	Color       int
	Hoist       bool
	Mentionable bool
}

// EntityPosition orders one entity during batch repositioning.
type EntityPosition struct {
	ID       string
	Position int
}

// File is one native attachment to upload with a dispatch.
type File struct {
	Name        string
	ContentType string
	Reader      io.Reader
}

// DispatchPayload is the impersonation dispatch primitive: content, embeds
// and files sent under an arbitrary display name and avatar.
type DispatchPayload struct {
	Username  string
	AvatarURL string
	Content   string
	Embeds    []models.Embed
	Files     []File
}

// Empty reports whether the payload has nothing to render. The transport
// rejects wholly empty payloads, so dispatch must never be attempted on one.
func (p DispatchPayload) Empty() bool {
	return p.Content == "" && len(p.Embeds) == 0 && len(p.Files) == 0
}
