package source

import (
	"testing"

	"guildmirror/internal/models"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseMessage() *discordgo.Message {
	return &discordgo.Message{
		ID:        "msg1",
		ChannelID: "chan1",
		GuildID:   "guild1",
		Content:   "hello",
		Type:      discordgo.MessageTypeDefault,
		Author:    &discordgo.User{ID: "u1", Username: "alice"},
	}
}

func TestBuildEnvelopeBasics(t *testing.T) {
	env := BuildEnvelope(baseMessage())

	assert.Equal(t, "msg1", env.SourceMessageID)
	assert.Equal(t, "chan1", env.SourceChannelID)
	assert.Equal(t, "alice", env.AuthorName)
	assert.Equal(t, "hello", env.Content)
	assert.Equal(t, models.KindDefault, env.Kind)
}

func TestBuildEnvelopeKindClassification(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*discordgo.Message)
		want   models.MessageKind
	}{
		{
			name: "reply",
			mutate: func(m *discordgo.Message) {
				m.Type = discordgo.MessageTypeReply
				m.MessageReference = &discordgo.MessageReference{MessageID: "ref1", ChannelID: "chan1"}
			},
			want: models.KindReply,
		},
		{
			name: "command interaction",
			mutate: func(m *discordgo.Message) {
				m.Interaction = &discordgo.MessageInteraction{Name: "ping"}
			},
			want: models.KindCommand,
		},
		{
			name: "system pin",
			mutate: func(m *discordgo.Message) {
				m.Type = discordgo.MessageTypeChannelPinnedMessage
			},
			want: models.KindSystem,
		},
		{
			name: "sticker only",
			mutate: func(m *discordgo.Message) {
				m.Content = ""
				m.StickerItems = []*discordgo.StickerItem{{Name: "wave"}}
			},
			want: models.KindStickerOnly,
		},
		{
			name:   "plain default",
			mutate: func(m *discordgo.Message) {},
			want:   models.KindDefault,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := baseMessage()
			tt.mutate(m)
			assert.Equal(t, tt.want, BuildEnvelope(m).Kind)
		})
	}
}

func TestBuildEnvelopeCollections(t *testing.T) {
	m := baseMessage()
	m.Embeds = []*discordgo.MessageEmbed{{
		Title:       "title",
		Description: "desc",
		Footer:      &discordgo.MessageEmbedFooter{Text: "foot"},
		Fields: []*discordgo.MessageEmbedField{
			{Name: "k", Value: "v", Inline: true},
		},
	}}
	m.Attachments = []*discordgo.MessageAttachment{{
		ID: "a1", Filename: "pic.png", URL: "https://cdn.example/pic.png", Size: 1024,
	}}
	m.Reactions = []*discordgo.MessageReactions{
		{Count: 2, Emoji: &discordgo.Emoji{Name: "👍"}},
		{Count: 1, Emoji: &discordgo.Emoji{ID: "e1", Name: "custom"}},
	}
	m.Mentions = []*discordgo.User{{ID: "u2", Username: "bob"}}
	m.MentionRoles = []string{"r1"}

	env := BuildEnvelope(m)

	require.Len(t, env.Embeds, 1)
	assert.Equal(t, "title", env.Embeds[0].Title)
	assert.Equal(t, "foot", env.Embeds[0].FooterText)
	require.Len(t, env.Embeds[0].Fields, 1)

	require.Len(t, env.Attachments, 1)
	assert.Equal(t, int64(1024), env.Attachments[0].Size)

	require.Len(t, env.Reactions, 2)
	assert.False(t, env.Reactions[0].CustomEmoji())
	assert.True(t, env.Reactions[1].CustomEmoji())

	assert.Equal(t, "bob", env.MentionedUsers["u2"])
	assert.Equal(t, []string{"r1"}, env.MentionedRoles)
}
