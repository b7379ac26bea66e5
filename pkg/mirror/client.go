package mirror

import (
	"context"
	"fmt"
	"sync"

	"guildmirror/internal/models"
	"guildmirror/pkg/discord"
	"guildmirror/pkg/mirror/types"

	"github.com/bwmarrin/discordgo"
	"github.com/sirupsen/logrus"
)

const webhookName = "guildmirror relay"

// Client mutates the operator-controlled mirror guild and delivers
// impersonated dispatches through per-channel webhooks.
type Client struct {
	session *discordgo.Session
	logger  *logrus.Logger

	mu       sync.Mutex
	webhooks map[string]*discordgo.Webhook
}

func NewClient(token string, logger *logrus.Logger) (*Client, error) {
	session, err := discordgo.New(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create mirror session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds

	return &Client{
		session:  session,
		logger:   logger,
		webhooks: make(map[string]*discordgo.Webhook),
	}, nil
}

func (c *Client) Connect(ctx context.Context) error {
	if err := c.session.Open(); err != nil {
		return fmt.Errorf("failed to open mirror gateway: %w", err)
	}
	return nil
}

func (c *Client) Close() error {
	return c.session.Close()
}

func (c *Client) Snapshot(ctx context.Context, guildID string) (*models.StructuralSnapshot, error) {
	channels, err := c.session.GuildChannels(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, discord.Classify(err)
	}
	roles, err := c.session.GuildRoles(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, discord.Classify(err)
	}

	snapshot := &models.StructuralSnapshot{GuildID: guildID}
	for _, ch := range channels {
		if ch.Type == discordgo.ChannelTypeGuildCategory {
			snapshot.Categories = append(snapshot.Categories, models.SnapshotCategory{
				ID: ch.ID, Name: ch.Name, Position: ch.Position,
			})
			continue
		}
		snapshot.Channels = append(snapshot.Channels, models.SnapshotChannel{
			ID:       ch.ID,
			Name:     ch.Name,
			Kind:     mirrorChannelKind(ch.Type),
			ParentID: ch.ParentID,
			Topic:    ch.Topic,
			Position: ch.Position,
			NSFW:     ch.NSFW,
		})
	}
	for _, r := range roles {
		snapshot.Roles = append(snapshot.Roles, models.SnapshotRole{
			ID:          r.ID,
			Name:        r.Name,
			Position:    r.Position,
			Permissions: r.Permissions,
			Color:       r.Color,
			Hoist:       r.Hoist,
			Mentionable: r.Mentionable,
			Managed:     r.Managed,
		})
	}
	return snapshot, nil
}

func (c *Client) CreateCategory(ctx context.Context, guildID, name string, position int) (string, error) {
	ch, err := c.session.GuildChannelCreateComplex(guildID, discordgo.GuildChannelCreateData{
		Name:     name,
		Type:     discordgo.ChannelTypeGuildCategory,
		Position: position,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", discord.Classify(err)
	}
	return ch.ID, nil
}

func (c *Client) CreateChannel(ctx context.Context, guildID string, params types.CreateChannelParams) (string, error) {
	ch, err := c.session.GuildChannelCreateComplex(guildID, discordgo.GuildChannelCreateData{
		Name:     params.Name,
		Type:     mirrorChannelType(params.Kind),
		Topic:    params.Topic,
		NSFW:     params.NSFW,
		ParentID: params.ParentID,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", discord.Classify(err)
	}
	return ch.ID, nil
}

func (c *Client) CreateThread(ctx context.Context, parentChannelID, name string) (string, error) {
	th, err := c.session.ThreadStartComplex(parentChannelID, &discordgo.ThreadStart{
		Name:                name,
		Type:                discordgo.ChannelTypeGuildPublicThread,
		AutoArchiveDuration: 10080,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", discord.Classify(err)
	}
	return th.ID, nil
}

func (c *Client) RenameChannel(ctx context.Context, channelID, name string) error {
	_, err := c.session.ChannelEditComplex(channelID, &discordgo.ChannelEdit{
		Name: name,
	}, discordgo.WithContext(ctx))
	return discord.Classify(err)
}

func (c *Client) DeleteChannel(ctx context.Context, channelID string) error {
	_, err := c.session.ChannelDelete(channelID, discordgo.WithContext(ctx))
	c.mu.Lock()
	delete(c.webhooks, channelID)
	c.mu.Unlock()
	return discord.Classify(err)
}

func (c *Client) RepositionChannels(ctx context.Context, guildID string, positions []types.EntityPosition) error {
	if len(positions) == 0 {
		return nil
	}
	channels := make([]*discordgo.Channel, 0, len(positions))
	for _, p := range positions {
		channels = append(channels, &discordgo.Channel{ID: p.ID, Position: p.Position})
	}
	err := c.session.GuildChannelsReorder(guildID, channels, discordgo.WithContext(ctx))
	return discord.Classify(err)
}

func (c *Client) CreateRole(ctx context.Context, guildID string, params types.RoleParams) (string, error) {
	role, err := c.session.GuildRoleCreate(guildID, roleParams(params), discordgo.WithContext(ctx))
	if err != nil {
		return "", discord.Classify(err)
	}
	return role.ID, nil
}

func (c *Client) UpdateRole(ctx context.Context, guildID, roleID string, params types.RoleParams) error {
	_, err := c.session.GuildRoleEdit(guildID, roleID, roleParams(params), discordgo.WithContext(ctx))
	return discord.Classify(err)
}

func (c *Client) DeleteRole(ctx context.Context, guildID, roleID string) error {
	err := c.session.GuildRoleDelete(guildID, roleID, discordgo.WithContext(ctx))
	return discord.Classify(err)
}

// Dispatch executes the channel's relay webhook under the payload's display
// identity and waits for the created message so the id can be recorded.
func (c *Client) Dispatch(ctx context.Context, channelID string, payload types.DispatchPayload) (string, error) {
	webhook, err := c.channelWebhook(ctx, channelID)
	if err != nil {
		return "", err
	}

	params := &discordgo.WebhookParams{
		Content:   payload.Content,
		Username:  payload.Username,
		AvatarURL: payload.AvatarURL,
	}
	for i := range payload.Embeds {
		params.Embeds = append(params.Embeds, mirrorEmbed(&payload.Embeds[i]))
	}
	for _, f := range payload.Files {
		params.Files = append(params.Files, &discordgo.File{
			Name:        f.Name,
			ContentType: f.ContentType,
			Reader:      f.Reader,
		})
	}

	msg, err := c.session.WebhookExecute(webhook.ID, webhook.Token, true, params, discordgo.WithContext(ctx))
	if err != nil {
		return "", discord.Classify(err)
	}
	return msg.ID, nil
}

func (c *Client) AddReaction(ctx context.Context, channelID, messageID, emoji string) error {
	err := c.session.MessageReactionAdd(channelID, messageID, emoji, discordgo.WithContext(ctx))
	return discord.Classify(err)
}

func (c *Client) GuildEmoji(ctx context.Context, guildID string) (map[string]string, error) {
	emoji, err := c.session.GuildEmojis(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, discord.Classify(err)
	}
	byName := make(map[string]string, len(emoji))
	for _, e := range emoji {
		byName[e.Name] = e.ID
	}
	return byName, nil
}

// channelWebhook returns the channel's relay webhook, reusing an existing one
// where possible so channels do not accumulate webhooks across restarts.
func (c *Client) channelWebhook(ctx context.Context, channelID string) (*discordgo.Webhook, error) {
	c.mu.Lock()
	cached, ok := c.webhooks[channelID]
	c.mu.Unlock()
	if ok {
		return cached, nil
	}

	existing, err := c.session.ChannelWebhooks(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, discord.Classify(err)
	}
	var webhook *discordgo.Webhook
	for _, w := range existing {
		if w.Name == webhookName && w.Token != "" {
			webhook = w
			break
		}
	}
	if webhook == nil {
		webhook, err = c.session.WebhookCreate(channelID, webhookName, "", discordgo.WithContext(ctx))
		if err != nil {
			return nil, discord.Classify(err)
		}
	}

	c.mu.Lock()
	c.webhooks[channelID] = webhook
	c.mu.Unlock()
	return webhook, nil
}

func roleParams(p types.RoleParams) *discordgo.RoleParams {
	perms := p.Permissions
	color := p.Color
	hoist := p.Hoist
	mentionable := p.Mentionable
	return &discordgo.RoleParams{
		Name:        p.Name,
		Permissions: &perms,
		Color:       &color,
		Hoist:       &hoist,
		Mentionable: &mentionable,
	}
}

func mirrorEmbed(e *models.Embed) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       e.Title,
		Description: e.Description,
		URL:         e.URL,
		Color:       e.Color,
		Timestamp:   e.Timestamp,
	}
	if e.AuthorName != "" {
		embed.Author = &discordgo.MessageEmbedAuthor{Name: e.AuthorName, URL: e.AuthorURL}
	}
	if e.FooterText != "" {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: e.FooterText}
	}
	if e.ImageURL != "" {
		embed.Image = &discordgo.MessageEmbedImage{URL: e.ImageURL}
	}
	if e.ThumbnailURL != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: e.ThumbnailURL}
	}
	for _, f := range e.Fields {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   f.Name,
			Value:  f.Value,
			Inline: f.Inline,
		})
	}
	return embed
}

// mirrorChannelType maps the platform-independent kind onto a type the
// mirror can create. Unsupported kinds fall back to plain text; the diff
// engine annotates the fallback in the channel topic.
func mirrorChannelType(kind models.ChannelKind) discordgo.ChannelType {
	switch kind {
	case models.ChannelVoice:
		return discordgo.ChannelTypeGuildVoice
	default:
		return discordgo.ChannelTypeGuildText
	}
}

func mirrorChannelKind(t discordgo.ChannelType) models.ChannelKind {
	switch t {
	case discordgo.ChannelTypeGuildVoice:
		return models.ChannelVoice
	case discordgo.ChannelTypeGuildNews:
		return models.ChannelAnnouncement
	case discordgo.ChannelTypeGuildForum:
		return models.ChannelForum
	case discordgo.ChannelTypeGuildStageVoice:
		return models.ChannelStage
	case discordgo.ChannelTypeGuildNewsThread,
		discordgo.ChannelTypeGuildPublicThread,
		discordgo.ChannelTypeGuildPrivateThread:
		return models.ChannelThread
	default:
		return models.ChannelText
	}
}
