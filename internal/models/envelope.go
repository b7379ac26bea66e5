package models

import "time"

// MessageKind is the tagged variant over source message shapes. Each kind has
// one handler in the relay pipeline; classification happens once at ingest.
type MessageKind int

const (
	KindDefault MessageKind = iota
	KindReply
	KindStickerOnly
	KindCommand
	KindSystem
)

func (k MessageKind) String() string {
	switch k {
	case KindReply:
		return "reply"
	case KindStickerOnly:
		return "sticker"
	case KindCommand:
		return "command"
	case KindSystem:
		return "system"
	default:
		return "default"
	}
}

// RelayEnvelope is the normalized, transport-agnostic representation of one
// source message event moving through the relay pipeline. It is transient;
// after successful dispatch only a DispatchRecord survives.
type RelayEnvelope struct {
	SourceMessageID string
	SourceChannelID string
	SourceGuildID   string
	AuthorName      string
	AuthorAvatarURL string
	Content         string
	Embeds          []Embed
	Attachments     []Attachment
	Reactions       []Reaction
	Reference       *MessageReference
	Kind            MessageKind
	StickerNames    []string
	MentionedUsers  map[string]string
	MentionedRoles  []string
	Timestamp       time.Time
}

// Embed mirrors the platform embed shape field-for-field.
type Embed struct {
	Title        string
	Description  string
	URL          string
	Color        int
	AuthorName   string
	AuthorURL    string
	FooterText   string
	ImageURL     string
	ThumbnailURL string
	Fields       []EmbedField
	Timestamp    string
}

// EmbedField is one titled value inside an embed.
type EmbedField struct {
	Name   string
	Value  string
	Inline bool
}

// HasVisibleField reports whether anything of the embed would render.
func (e *Embed) HasVisibleField() bool {
	if e.Title != "" || e.Description != "" || e.AuthorName != "" || e.FooterText != "" ||
		e.ImageURL != "" || e.ThumbnailURL != "" {
		return true
	}
	for _, f := range e.Fields {
		if f.Name != "" || f.Value != "" {
			return true
		}
	}
	return false
}

// Attachment is one file attached to a source message.
type Attachment struct {
	ID          string
	Filename    string
	URL         string
	Size        int64
	ContentType string
}

// Reaction is one emoji reaction on a source message. EmojiID is empty for
// unicode emoji and set for guild-custom emoji.
type Reaction struct {
	EmojiName string
	EmojiID   string
	Count     int
}

// CustomEmoji reports whether the reaction uses a guild-scoped emoji that may
// not exist on the mirror side.
func (r Reaction) CustomEmoji() bool {
	return r.EmojiID != ""
}

// MessageReference points at the message this envelope replies to.
type MessageReference struct {
	MessageID string
	ChannelID string
	GuildID   string
}
