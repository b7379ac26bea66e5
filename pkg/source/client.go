package source

import (
	"context"
	"fmt"

	"guildmirror/internal/models"
	"guildmirror/pkg/discord"
	"guildmirror/pkg/source/types"

	"github.com/bwmarrin/discordgo"
	"github.com/sirupsen/logrus"
)

const eventBufferSize = 256

// Client streams events from the observed guild over the Discord gateway.
// The token is used as supplied; session bootstrap concerns live with the
// operator.
type Client struct {
	session *discordgo.Session
	guildID string
	events  chan types.Event
	logger  *logrus.Logger
}

func NewClient(token, guildID string, logger *logrus.Logger) (*Client, error) {
	session, err := discordgo.New(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create source session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentMessageContent

	return &Client{
		session: session,
		guildID: guildID,
		events:  make(chan types.Event, eventBufferSize),
		logger:  logger,
	}, nil
}

func (c *Client) Connect(ctx context.Context) error {
	c.session.AddHandler(c.onMessageCreate)
	c.session.AddHandler(c.onChannelCreate)
	c.session.AddHandler(c.onChannelUpdate)
	c.session.AddHandler(c.onChannelDelete)
	c.session.AddHandler(c.onThreadCreate)
	c.session.AddHandler(c.onRoleCreate)
	c.session.AddHandler(c.onRoleUpdate)
	c.session.AddHandler(c.onRoleDelete)

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("failed to open source gateway: %w", err)
	}
	return nil
}

func (c *Client) Close() error {
	return c.session.Close()
}

func (c *Client) Events() <-chan types.Event {
	return c.events
}

// Snapshot lists the guild's categories, channels (active threads included)
// and roles via REST.
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
		appendChannel(snapshot, ch)
	}

	threads, err := c.session.GuildThreadsActive(guildID, discordgo.WithContext(ctx))
	if err != nil {
		c.logger.WithError(err).Warn("Failed to list active threads, snapshot excludes them")
	} else {
		for _, th := range threads.Threads {
			appendChannel(snapshot, th)
		}
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

func (c *Client) FetchMessage(ctx context.Context, channelID, messageID string) (*models.RelayEnvelope, error) {
	msg, err := c.session.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, discord.Classify(err)
	}
	return BuildEnvelope(msg), nil
}

// ProbeChannelAccess reads the most recent message of the channel. The probe
// fails with an access-denied class exactly when the source identity cannot
// see the channel.
func (c *Client) ProbeChannelAccess(ctx context.Context, channelID string) error {
	_, err := c.session.ChannelMessages(channelID, 1, "", "", "", discordgo.WithContext(ctx))
	return discord.Classify(err)
}

func (c *Client) RoleName(guildID, roleID string) (string, bool) {
	role, err := c.session.State.Role(guildID, roleID)
	if err != nil || role == nil {
		return "", false
	}
	return role.Name, true
}

func (c *Client) ChannelName(channelID string) (string, bool) {
	ch, err := c.session.State.Channel(channelID)
	if err != nil || ch == nil {
		return "", false
	}
	return ch.Name, true
}

func (c *Client) onMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.GuildID != c.guildID || m.Author == nil {
		return
	}
	c.emit(types.Event{
		Kind:     types.EventMessage,
		GuildID:  m.GuildID,
		Envelope: BuildEnvelope(m.Message),
	})
}

func (c *Client) onChannelCreate(_ *discordgo.Session, e *discordgo.ChannelCreate) {
	c.emitStructure(e.GuildID)
}

func (c *Client) onChannelUpdate(_ *discordgo.Session, e *discordgo.ChannelUpdate) {
	c.emitStructure(e.GuildID)
}

func (c *Client) onChannelDelete(_ *discordgo.Session, e *discordgo.ChannelDelete) {
	c.emitStructure(e.GuildID)
}

func (c *Client) onThreadCreate(_ *discordgo.Session, e *discordgo.ThreadCreate) {
	c.emitStructure(e.GuildID)
}

func (c *Client) onRoleCreate(_ *discordgo.Session, e *discordgo.GuildRoleCreate) {
	c.emitStructure(e.GuildID)
}

func (c *Client) onRoleUpdate(_ *discordgo.Session, e *discordgo.GuildRoleUpdate) {
	c.emitStructure(e.GuildID)
}

func (c *Client) onRoleDelete(_ *discordgo.Session, e *discordgo.GuildRoleDelete) {
	c.emitStructure(e.GuildID)
}

func (c *Client) emitStructure(guildID string) {
	if guildID != c.guildID {
		return
	}
	c.emit(types.Event{Kind: types.EventStructureChanged, GuildID: guildID})
}

// emit never blocks the gateway handler. A full buffer drops the event: the
// next reconciliation pass recovers dropped structure events, but a dropped
// message event is lost for good.
func (c *Client) emit(event types.Event) {
	select {
	case c.events <- event:
	default:
		c.logger.WithField("kind", event.Kind).Warn("Source event buffer full, dropping event")
	}
}

func appendChannel(snapshot *models.StructuralSnapshot, ch *discordgo.Channel) {
	if ch.Type == discordgo.ChannelTypeGuildCategory {
		snapshot.Categories = append(snapshot.Categories, models.SnapshotCategory{
			ID:       ch.ID,
			Name:     ch.Name,
			Position: ch.Position,
		})
		return
	}
	snapshot.Channels = append(snapshot.Channels, models.SnapshotChannel{
		ID:       ch.ID,
		Name:     ch.Name,
		Kind:     channelKind(ch.Type),
		ParentID: ch.ParentID,
		Topic:    ch.Topic,
		Position: ch.Position,
		NSFW:     ch.NSFW,
	})
}

func channelKind(t discordgo.ChannelType) models.ChannelKind {
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
