package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"guildmirror/internal/constants"
	syncerrors "guildmirror/internal/errors"
	"guildmirror/internal/metrics"
	"guildmirror/internal/models"
	"guildmirror/internal/retry"
	"guildmirror/internal/tracing"
	mirrortypes "guildmirror/pkg/mirror/types"
	sourcetypes "guildmirror/pkg/source/types"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// HistoryStore is the persistence surface for dispatched-message records.
type HistoryStore interface {
	SaveDispatchRecord(ctx context.Context, r *models.DispatchRecord) error
	GetDispatchRecord(ctx context.Context, sourceMessageID string) (*models.DispatchRecord, error)
}

// Notifier receives out-of-band notice of interesting relay events. A nil
// notifier disables notifications.
type Notifier interface {
	NotifyRoleMention(ctx context.Context, roleName, channelName string)
}

// RelayPipeline turns one source message envelope into one mirror dispatch.
// Stages run in a fixed order: destination resolution, mention rewriting,
// reply resolution, embed reconstruction, attachment planning, the emptiness
// guard, then staged dispatch with degradation on payload rejection.
type RelayPipeline struct {
	source         sourcetypes.Client
	mirror         mirrortypes.Client
	correspondence *CorrespondenceStore
	tracker        *AccessFailureTracker
	history        HistoryStore
	downloader     Downloader
	throttle       *Throttle
	backoff        *retry.Backoff
	notifier       Notifier
	logger         *logrus.Logger
	metrics        *metrics.Registry

	mirrorGuildID   string
	maxFileBytes    int64
	maxBatchBytes   int64
	dispatchTimeout time.Duration

	emojiOnce sync.Once
	emoji     map[string]string
}

type RelayPipelineOptions struct {
	MirrorGuildID   string
	MaxFileBytes    int64
	MaxBatchBytes   int64
	DispatchTimeout time.Duration
	Notifier        Notifier
}

func NewRelayPipeline(
	source sourcetypes.Client,
	mirrorClient mirrortypes.Client,
	correspondence *CorrespondenceStore,
	tracker *AccessFailureTracker,
	history HistoryStore,
	downloader Downloader,
	throttle *Throttle,
	backoff *retry.Backoff,
	logger *logrus.Logger,
	registry *metrics.Registry,
	opts RelayPipelineOptions,
) *RelayPipeline {
	return &RelayPipeline{
		source:          source,
		mirror:          mirrorClient,
		correspondence:  correspondence,
		tracker:         tracker,
		history:         history,
		downloader:      downloader,
		throttle:        throttle,
		backoff:         backoff,
		notifier:        opts.Notifier,
		logger:          logger,
		metrics:         registry,
		mirrorGuildID:   opts.MirrorGuildID,
		maxFileBytes:    opts.MaxFileBytes,
		maxBatchBytes:   opts.MaxBatchBytes,
		dispatchTimeout: opts.DispatchTimeout,
	}
}

// Relay processes one envelope end to end. Messages for unmapped, suppressed
// or blacklisted channels are dropped silently; that is the normal state for
// channels the operator chose not to mirror.
func (p *RelayPipeline) Relay(ctx context.Context, env *models.RelayEnvelope) (err error) {
	ctx, span := tracing.StartSpan(ctx, "relay.message",
		attribute.String("source_channel_id", env.SourceChannelID),
		attribute.String("kind", env.Kind.String()))
	defer func() { tracing.EndSpan(span, err) }()

	mapping, err := p.correspondence.Resolve(ctx, models.MappingKindChannel, env.SourceChannelID, env.SourceGuildID, "")
	if err != nil {
		return fmt.Errorf("failed to resolve relay destination: %w", err)
	}
	if mapping == nil || mapping.ManuallyDeleted || !mapping.Active {
		p.logger.WithField("channel_id", env.SourceChannelID).Debug("Dropping message for unmapped channel")
		return nil
	}
	blacklisted, err := p.tracker.IsBlacklisted(ctx, env.SourceChannelID)
	if err != nil {
		return fmt.Errorf("failed to check blacklist state: %w", err)
	}
	if blacklisted {
		return nil
	}

	content, roleMentions := p.resolveMentions(ctx, env.Content, env)

	if env.Kind == models.KindReply {
		if line := p.referenceLine(ctx, env); line != "" {
			content = line + "\n" + content
		}
	}

	embeds, embedRoleMentions := p.rebuildEmbeds(ctx, env)
	roleMentions = append(roleMentions, embedRoleMentions...)

	plan, err := planAttachments(ctx, env.Attachments, p.downloader, p.maxFileBytes, p.maxBatchBytes)
	if err != nil {
		return fmt.Errorf("failed to plan attachments: %w", err)
	}
	p.metrics.Add(metrics.AttachmentsLinked, int64(len(plan.links)))

	payload := mirrortypes.DispatchPayload{
		Username:  env.AuthorName,
		AvatarURL: env.AuthorAvatarURL,
		Content:   appendLinks(content, plan.links),
		Embeds:    embeds,
		Files:     plan.files,
	}
	if payload.Empty() {
		payload.Content = placeholderFor(env)
	}
	payload.Content = truncate(payload.Content, constants.MaxContentLength)

	mirrorMessageID, err := p.dispatch(ctx, mapping.MirrorID, payload, content, env)
	if err != nil {
		p.metrics.Inc(metrics.MessagesFailed)
		return err
	}
	p.metrics.Inc(metrics.MessagesRelayed)

	if err := p.history.SaveDispatchRecord(ctx, &models.DispatchRecord{
		SourceMessageID: env.SourceMessageID,
		MirrorMessageID: mirrorMessageID,
		MirrorChannelID: mapping.MirrorID,
		RecordedAt:      env.Timestamp,
	}); err != nil {
		// The message already reached the mirror; losing the record only
		// degrades later reply resolution.
		p.logger.WithError(err).WithField("message_id", env.SourceMessageID).Error("Failed to record dispatch")
	}

	p.mirrorReactions(ctx, mapping.MirrorID, mirrorMessageID, env.Reactions)

	if p.notifier != nil {
		for _, role := range roleMentions {
			p.notifier.NotifyRoleMention(ctx, role, mapping.Name)
		}
		for _, role := range env.MentionedRoles {
			if name, ok := p.source.RoleName(env.SourceGuildID, role); ok {
				p.notifier.NotifyRoleMention(ctx, name, mapping.Name)
			}
		}
	}
	return nil
}

// dispatch delivers the payload with staged degradation. A payload-too-large
// rejection retries with every attachment demoted to a link; a second
// rejection falls back to a bare diagnostic under the author's identity so
// the message's existence is still visible on the mirror.
func (p *RelayPipeline) dispatch(ctx context.Context, channelID string, payload mirrortypes.DispatchPayload, baseContent string, env *models.RelayEnvelope) (string, error) {
	messageID, err := p.execute(ctx, channelID, payload)
	if err == nil {
		return messageID, nil
	}
	if !syncerrors.IsPayloadTooLarge(err) {
		return "", p.annotate(err, env, payload)
	}

	degraded := payload
	degraded.Files = nil
	degraded.Content = truncate(appendLinks(baseContent, allLinks(env.Attachments)), constants.MaxContentLength)
	if degraded.Empty() {
		degraded.Content = placeholderFor(env)
	}
	messageID, err = p.execute(ctx, channelID, degraded)
	if err == nil {
		p.metrics.Inc(metrics.MessagesDegraded)
		p.logger.WithField("message_id", env.SourceMessageID).Warn("Relayed message with attachments degraded to links")
		return messageID, nil
	}
	if !syncerrors.IsPayloadTooLarge(err) {
		return "", p.annotate(err, env, degraded)
	}

	diagnostic := mirrortypes.DispatchPayload{
		Username:  payload.Username,
		AvatarURL: payload.AvatarURL,
		Content:   "[message too large to relay]",
	}
	messageID, err = p.execute(ctx, channelID, diagnostic)
	if err != nil {
		return "", p.annotate(err, env, payload)
	}
	p.metrics.Inc(metrics.MessagesDegraded)
	return messageID, nil
}

// execute performs one throttled, retried dispatch attempt.
func (p *RelayPipeline) execute(ctx context.Context, channelID string, payload mirrortypes.DispatchPayload) (string, error) {
	var messageID string
	err := p.backoff.RetryClassified(ctx, func() error {
		if err := p.throttle.Wait(ctx); err != nil {
			return err
		}
		attemptCtx := ctx
		if p.dispatchTimeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, p.dispatchTimeout)
			defer cancel()
		}
		id, err := p.mirror.Dispatch(attemptCtx, channelID, payload)
		if err != nil {
			if hint, ok := syncerrors.RetryAfterHint(err); ok {
				p.throttle.Backoff(hint)
			}
			return err
		}
		messageID = id
		return nil
	})
	return messageID, err
}

func (p *RelayPipeline) annotate(err error, env *models.RelayEnvelope, payload mirrortypes.DispatchPayload) error {
	var attachmentBytes int64
	for _, att := range env.Attachments {
		attachmentBytes += att.Size
	}
	return syncerrors.Wrap(err, syncerrors.GetClass(err), "dispatch failed").
		WithContext("author", env.AuthorName).
		WithContext("source_channel_id", env.SourceChannelID).
		WithContext("source_message_id", env.SourceMessageID).
		WithContext("content_length", len(payload.Content)).
		WithContext("attachment_bytes", attachmentBytes)
}

// referenceLine builds the reply prefix. Preference order: a jump link to the
// already-relayed mirror counterpart, then a quoted excerpt fetched from the
// source, then a generic marker.
func (p *RelayPipeline) referenceLine(ctx context.Context, env *models.RelayEnvelope) string {
	ref := env.Reference
	if ref == nil {
		return ""
	}

	record, err := p.history.GetDispatchRecord(ctx, ref.MessageID)
	if err != nil {
		p.logger.WithError(err).WithField("message_id", ref.MessageID).Warn("Failed to look up reply target")
	}
	if record != nil {
		return fmt.Sprintf("↪️ [Reply](https://discord.com/channels/%s/%s/%s)",
			p.mirrorGuildID, record.MirrorChannelID, record.MirrorMessageID)
	}

	original, err := p.source.FetchMessage(ctx, ref.ChannelID, ref.MessageID)
	if err == nil && original != nil {
		excerpt := truncate(strings.ReplaceAll(original.Content, "\n", " "), constants.MaxReplyExcerptLength)
		if excerpt == "" {
			excerpt = "[no text]"
		}
		return fmt.Sprintf("↪ replying to %s: “%s”", original.AuthorName, excerpt)
	}
	return "↪ replying to an earlier message"
}

// mirrorReactions re-applies the envelope's reactions on the mirror message.
// Custom emoji that do not exist on the mirror guild are skipped; reaction
// failures never fail the already-delivered message.
func (p *RelayPipeline) mirrorReactions(ctx context.Context, channelID, messageID string, reactions []models.Reaction) {
	if len(reactions) == 0 {
		return
	}
	for _, reaction := range reactions {
		emoji := reaction.EmojiName
		if reaction.CustomEmoji() {
			id, ok := p.mirrorEmoji(ctx)[reaction.EmojiName]
			if !ok {
				continue
			}
			emoji = reaction.EmojiName + ":" + id
		}
		if err := p.throttle.Wait(ctx); err != nil {
			return
		}
		if err := p.mirror.AddReaction(ctx, channelID, messageID, emoji); err != nil {
			p.logger.WithError(err).WithField("emoji", reaction.EmojiName).Debug("Failed to mirror reaction")
			continue
		}
		p.metrics.Inc(metrics.ReactionsMirrored)
	}
}

func (p *RelayPipeline) mirrorEmoji(ctx context.Context) map[string]string {
	p.emojiOnce.Do(func() {
		emoji, err := p.mirror.GuildEmoji(ctx, p.mirrorGuildID)
		if err != nil {
			p.logger.WithError(err).Warn("Failed to list mirror guild emoji")
			emoji = map[string]string{}
		}
		p.emoji = emoji
	})
	return p.emoji
}

// placeholderFor yields the per-kind synthetic body for messages that would
// otherwise render empty. Dispatch on a wholly empty payload is rejected by
// the transport, so every kind has a fallback.
func placeholderFor(env *models.RelayEnvelope) string {
	switch env.Kind {
	case models.KindStickerOnly:
		if len(env.StickerNames) > 0 {
			return "[sticker: " + strings.Join(env.StickerNames, ", ") + "]"
		}
		return "[sticker]"
	case models.KindCommand:
		return "[used a command]"
	case models.KindSystem:
		return "[system message]"
	default:
		return "[message had no relayable content]"
	}
}

func appendLinks(content string, links []string) string {
	if len(links) == 0 {
		return content
	}
	if content != "" {
		content += "\n"
	}
	return content + strings.Join(links, "\n")
}

// rebuildEmbeds resolves mention tokens inside every embed text field, trims
// each field to the transport's limits, drops embeds with nothing visible,
// and caps the batch. Role names mentioned inside embeds are returned so the
// caller can report them alongside content mentions.
func (p *RelayPipeline) rebuildEmbeds(ctx context.Context, env *models.RelayEnvelope) ([]models.Embed, []string) {
	var roleNames []string
	resolve := func(s string) string {
		if s == "" {
			return s
		}
		resolved, roles := p.resolveMentions(ctx, s, env)
		roleNames = append(roleNames, roles...)
		return resolved
	}

	var rebuilt []models.Embed
	for i := range env.Embeds {
		if len(rebuilt) == constants.MaxEmbedsPerMessage {
			break
		}
		e := env.Embeds[i]
		if !e.HasVisibleField() {
			continue
		}
		e.Title = truncate(resolve(e.Title), constants.MaxEmbedTitleLength)
		e.Description = truncate(resolve(e.Description), constants.MaxEmbedDescriptionLength)
		e.AuthorName = truncate(e.AuthorName, constants.MaxEmbedAuthorLength)
		e.FooterText = truncate(resolve(e.FooterText), constants.MaxEmbedFooterLength)
		fields := make([]models.EmbedField, len(e.Fields))
		for j, f := range e.Fields {
			fields[j] = models.EmbedField{
				Name:   truncate(resolve(f.Name), constants.MaxEmbedFieldNameLength),
				Value:  truncate(resolve(f.Value), constants.MaxEmbedFieldValueLength),
				Inline: f.Inline,
			}
		}
		e.Fields = fields
		rebuilt = append(rebuilt, e)
	}
	return rebuilt, roleNames
}

// truncate cuts s to at most max runes, appending the truncation marker when
// anything was removed.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	marker := []rune(constants.TruncationMarker)
	return string(runes[:max-len(marker)]) + constants.TruncationMarker
}
