package service

import (
	"context"
	"regexp"
	"strings"

	"guildmirror/internal/models"
)

var mentionPattern = regexp.MustCompile(`<(@[!&]?|#)(\d+)>`)

// resolveMentions rewrites raw mention tokens, whose source-side ids mean
// nothing on the mirror guild. Role and channel mentions resolve through the
// correspondence store into live mirror mentions when a mapping exists, then
// degrade to literal names, then to placeholders. Role mention names are
// collected so the pipeline can report them.
func (p *RelayPipeline) resolveMentions(ctx context.Context, content string, env *models.RelayEnvelope) (string, []string) {
	var roleNames []string
	rewritten := mentionPattern.ReplaceAllStringFunc(content, func(token string) string {
		groups := mentionPattern.FindStringSubmatch(token)
		sigil, id := groups[1], groups[2]
		switch sigil {
		case "@&":
			name, known := p.source.RoleName(env.SourceGuildID, id)
			if known {
				roleNames = append(roleNames, name)
			}
			if mapping, err := p.correspondence.Resolve(ctx, models.MappingKindRole, id, env.SourceGuildID, name); err == nil && mapping != nil {
				return "<@&" + mapping.MirrorID + ">"
			}
			if known {
				return "@" + name
			}
			return "@role"
		case "#":
			name, known := p.source.ChannelName(id)
			if mapping, err := p.correspondence.Resolve(ctx, models.MappingKindChannel, id, env.SourceGuildID, name); err == nil && mapping != nil && !mapping.ManuallyDeleted {
				return "<#" + mapping.MirrorID + ">"
			}
			if known {
				return "#" + name
			}
			return "#channel"
		default: // @ or @!
			if name, ok := env.MentionedUsers[id]; ok {
				return "@" + name
			}
			return "@user"
		}
	})

	// @everyone and @here must not ping on the mirror side.
	rewritten = strings.ReplaceAll(rewritten, "@everyone", "@​everyone")
	rewritten = strings.ReplaceAll(rewritten, "@here", "@​here")
	return rewritten, roleNames
}
