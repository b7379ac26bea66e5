package mirror

import (
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
)

func TestSanitizeStripsAdministrator(t *testing.T) {
	s := NewSanitizer()

	perms := int64(discordgo.PermissionAdministrator | discordgo.PermissionSendMessages)
	got := s.Sanitize(perms)

	assert.Zero(t, got&discordgo.PermissionAdministrator, "administrator must never survive")
	assert.NotZero(t, got&discordgo.PermissionSendMessages, "benign permissions survive")
}

func TestSanitizeStripsAdminEquivalents(t *testing.T) {
	s := NewSanitizer()

	dangerous := []int64{
		discordgo.PermissionManageServer,
		discordgo.PermissionManageRoles,
		discordgo.PermissionManageChannels,
		discordgo.PermissionManageWebhooks,
		discordgo.PermissionBanMembers,
		discordgo.PermissionKickMembers,
		discordgo.PermissionMentionEveryone,
	}

	for _, p := range dangerous {
		assert.Zero(t, s.Sanitize(p), "permission bit %d must be stripped", p)
	}
}

func TestSanitizePreservesBenignSet(t *testing.T) {
	s := NewSanitizer()

	benign := int64(discordgo.PermissionViewChannel |
		discordgo.PermissionSendMessages |
		discordgo.PermissionAttachFiles |
		discordgo.PermissionAddReactions)

	assert.Equal(t, benign, s.Sanitize(benign))
}
