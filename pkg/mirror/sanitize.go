package mirror

import "github.com/bwmarrin/discordgo"

// adminEquivalent covers every permission that would let a mirrored role
// take over the mirror guild: outright administration, guild/role/channel
// management, webhook control and moderation powers.
const adminEquivalent = discordgo.PermissionAdministrator |
	discordgo.PermissionManageServer |
	discordgo.PermissionManageRoles |
	discordgo.PermissionManageChannels |
	discordgo.PermissionManageWebhooks |
	discordgo.PermissionBanMembers |
	discordgo.PermissionKickMembers |
	discordgo.PermissionModerateMembers |
	discordgo.PermissionMentionEveryone

// Sanitizer strips administrator-equivalent power from role permission sets
// before they reach the mirror guild.
type Sanitizer struct{}

func NewSanitizer() *Sanitizer {
	return &Sanitizer{}
}

// Sanitize returns the permission set with every admin-equivalent bit cleared.
func (s *Sanitizer) Sanitize(permissions int64) int64 {
	return permissions &^ adminEquivalent
}
