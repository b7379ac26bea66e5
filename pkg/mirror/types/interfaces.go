package types

import (
	"context"

	"guildmirror/internal/models"
)

// Client is the mirror-side connector: structural mutation of the
// operator-controlled guild plus the impersonation dispatch primitive.
type Client interface {
	Connect(ctx context.Context) error
	Close() error

	// Snapshot fetches the current structural listing of the mirror guild.
	Snapshot(ctx context.Context, guildID string) (*models.StructuralSnapshot, error)

	CreateCategory(ctx context.Context, guildID, name string, position int) (string, error)
	CreateChannel(ctx context.Context, guildID string, params CreateChannelParams) (string, error)
	CreateThread(ctx context.Context, parentChannelID, name string) (string, error)
	RenameChannel(ctx context.Context, channelID, name string) error
	DeleteChannel(ctx context.Context, channelID string) error
	RepositionChannels(ctx context.Context, guildID string, positions []EntityPosition) error

	CreateRole(ctx context.Context, guildID string, params RoleParams) (string, error)
	UpdateRole(ctx context.Context, guildID, roleID string, params RoleParams) error
	DeleteRole(ctx context.Context, guildID, roleID string) error

	// Dispatch delivers one payload to a channel under the payload's display
	// identity and returns the created mirror message id.
	Dispatch(ctx context.Context, channelID string, payload DispatchPayload) (string, error)

	AddReaction(ctx context.Context, channelID, messageID, emoji string) error

	// GuildEmoji maps custom emoji names to their mirror-side ids.
	GuildEmoji(ctx context.Context, guildID string) (map[string]string, error)
}
