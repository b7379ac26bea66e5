package types

import (
	"context"

	"guildmirror/internal/models"
)

// Client is the source-side connector. It streams structural and message
// events from the observed guild and exposes on-demand fetches.
type Client interface {
	// Connect opens the gateway connection and starts the event stream.
	Connect(ctx context.Context) error
	Close() error

	// Events returns the stream of normalized source events. The channel is
	// buffered; consumers must drain it promptly enough to avoid drops.
	Events() <-chan Event

	// Snapshot fetches the current structural listing of the guild.
	Snapshot(ctx context.Context, guildID string) (*models.StructuralSnapshot, error)

	// FetchMessage fetches one message on demand, for reference resolution.
	FetchMessage(ctx context.Context, channelID, messageID string) (*models.RelayEnvelope, error)

	// ProbeChannelAccess verifies the source identity can read the channel.
	// Failures are classified; access-denied drives the blacklist.
	ProbeChannelAccess(ctx context.Context, channelID string) error

	// RoleName resolves a source role id to its display name.
	RoleName(guildID, roleID string) (string, bool)

	// ChannelName resolves a source channel id to its display name.
	ChannelName(channelID string) (string, bool)
}
