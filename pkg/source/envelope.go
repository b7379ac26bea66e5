package source

import (
	"guildmirror/internal/models"

	"github.com/bwmarrin/discordgo"
)

// BuildEnvelope normalizes one gateway message into the transport-agnostic
// relay envelope, classifying its kind exactly once.
func BuildEnvelope(m *discordgo.Message) *models.RelayEnvelope {
	env := &models.RelayEnvelope{
		SourceMessageID: m.ID,
		SourceChannelID: m.ChannelID,
		SourceGuildID:   m.GuildID,
		Content:         m.Content,
		Kind:            classifyKind(m),
		Timestamp:       m.Timestamp,
	}

	if m.Author != nil {
		env.AuthorName = m.Author.Username
		env.AuthorAvatarURL = m.Author.AvatarURL("")
	}

	if ref := m.MessageReference; ref != nil {
		env.Reference = &models.MessageReference{
			MessageID: ref.MessageID,
			ChannelID: ref.ChannelID,
			GuildID:   ref.GuildID,
		}
	}

	for _, e := range m.Embeds {
		env.Embeds = append(env.Embeds, convertEmbed(e))
	}

	for _, a := range m.Attachments {
		env.Attachments = append(env.Attachments, models.Attachment{
			ID:          a.ID,
			Filename:    a.Filename,
			URL:         a.URL,
			Size:        int64(a.Size),
			ContentType: a.ContentType,
		})
	}

	for _, r := range m.Reactions {
		if r.Emoji == nil {
			continue
		}
		env.Reactions = append(env.Reactions, models.Reaction{
			EmojiName: r.Emoji.Name,
			EmojiID:   r.Emoji.ID,
			Count:     r.Count,
		})
	}

	for _, s := range m.StickerItems {
		env.StickerNames = append(env.StickerNames, s.Name)
	}

	if len(m.Mentions) > 0 {
		env.MentionedUsers = make(map[string]string, len(m.Mentions))
		for _, u := range m.Mentions {
			env.MentionedUsers[u.ID] = u.Username
		}
	}
	env.MentionedRoles = append(env.MentionedRoles, m.MentionRoles...)

	return env
}

func classifyKind(m *discordgo.Message) models.MessageKind {
	switch {
	case m.Type == discordgo.MessageTypeReply && m.MessageReference != nil:
		return models.KindReply
	case m.Interaction != nil || m.Type == discordgo.MessageTypeChatInputCommand:
		return models.KindCommand
	case m.Type != discordgo.MessageTypeDefault:
		return models.KindSystem
	case m.Content == "" && len(m.Attachments) == 0 && len(m.Embeds) == 0 && len(m.StickerItems) > 0:
		return models.KindStickerOnly
	default:
		return models.KindDefault
	}
}

func convertEmbed(e *discordgo.MessageEmbed) models.Embed {
	embed := models.Embed{
		Title:       e.Title,
		Description: e.Description,
		URL:         e.URL,
		Color:       e.Color,
		Timestamp:   e.Timestamp,
	}
	if e.Author != nil {
		embed.AuthorName = e.Author.Name
		embed.AuthorURL = e.Author.URL
	}
	if e.Footer != nil {
		embed.FooterText = e.Footer.Text
	}
	if e.Image != nil {
		embed.ImageURL = e.Image.URL
	}
	if e.Thumbnail != nil {
		embed.ThumbnailURL = e.Thumbnail.URL
	}
	for _, f := range e.Fields {
		embed.Fields = append(embed.Fields, models.EmbedField{
			Name:   f.Name,
			Value:  f.Value,
			Inline: f.Inline,
		})
	}
	return embed
}
