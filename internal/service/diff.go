package service

import (
	"context"
	"fmt"
	"sort"

	syncerrors "guildmirror/internal/errors"
	"guildmirror/internal/metrics"
	"guildmirror/internal/models"
	"guildmirror/internal/tracing"
	"guildmirror/pkg/mirror"
	mirrortypes "guildmirror/pkg/mirror/types"
	sourcetypes "guildmirror/pkg/source/types"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// DiffResult summarizes what one reconciliation pass changed. A pass over an
// already-converged pair of guilds reports zero mutations.
type DiffResult struct {
	CategoriesCreated int
	ChannelsCreated   int
	ThreadsCreated    int
	ChannelsRenamed   int
	ChannelsDeleted   int
	ChannelsSkipped   int
	RolesCreated      int
	RolesUpdated      int
	RolesDeleted      int
	Repositioned      int
	Errors            int
}

// Mutations returns the total number of mirror-side writes the pass issued.
func (r *DiffResult) Mutations() int {
	return r.CategoriesCreated + r.ChannelsCreated + r.ThreadsCreated +
		r.ChannelsRenamed + r.ChannelsDeleted +
		r.RolesCreated + r.RolesUpdated + r.RolesDeleted + r.Repositioned
}

// DiffEngine reconciles the mirror guild's structure against the source
// guild's. It is snapshot-driven: both sides are listed once per pass, the
// difference is computed, and only the computed mutations are applied, so
// repeated passes converge to no-ops.
type DiffEngine struct {
	source         sourcetypes.Client
	mirror         mirrortypes.Client
	correspondence *CorrespondenceStore
	tracker        *AccessFailureTracker
	sanitizer      *mirror.Sanitizer
	logger         *logrus.Logger
	metrics        *metrics.Registry

	sourceGuildID string
	mirrorGuildID string
	protected     map[string]bool
}

func NewDiffEngine(
	source sourcetypes.Client,
	mirrorClient mirrortypes.Client,
	correspondence *CorrespondenceStore,
	tracker *AccessFailureTracker,
	logger *logrus.Logger,
	registry *metrics.Registry,
	sourceGuildID, mirrorGuildID string,
	protectedChannels []string,
) *DiffEngine {
	protected := make(map[string]bool, len(protectedChannels))
	for _, name := range protectedChannels {
		protected[name] = true
	}
	return &DiffEngine{
		source:         source,
		mirror:         mirrorClient,
		correspondence: correspondence,
		tracker:        tracker,
		sanitizer:      mirror.NewSanitizer(),
		logger:         logger,
		metrics:        registry,
		sourceGuildID:  sourceGuildID,
		mirrorGuildID:  mirrorGuildID,
		protected:      protected,
	}
}

// Run executes one full reconciliation pass: categories, channels, threads,
// deletions, roles, then ordering. Per-entity failures are logged and counted
// but do not abort the pass.
func (e *DiffEngine) Run(ctx context.Context) (result *DiffResult, err error) {
	ctx, span := tracing.StartSpan(ctx, "diff.run",
		attribute.String("source_guild_id", e.sourceGuildID))
	defer func() { tracing.EndSpan(span, err) }()

	src, err := e.source.Snapshot(ctx, e.sourceGuildID)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot source guild: %w", err)
	}
	mir, err := e.mirror.Snapshot(ctx, e.mirrorGuildID)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot mirror guild: %w", err)
	}

	result = &DiffResult{}
	e.metrics.Inc(metrics.DiffPasses)

	categoryIDs := e.syncCategories(ctx, src, mir, result)
	e.syncChannels(ctx, src, mir, categoryIDs, result)
	e.syncThreads(ctx, src, result)
	e.pruneChannels(ctx, src, mir, result)
	e.syncRoles(ctx, src, mir, result)
	e.reorder(ctx, src, mir, categoryIDs, result)

	e.metrics.Add(metrics.DiffMutations, int64(result.Mutations()))
	e.logger.WithFields(logrus.Fields{
		"mutations": result.Mutations(),
		"skipped":   result.ChannelsSkipped,
		"errors":    result.Errors,
	}).Info("Completed structural reconciliation pass")
	return result, nil
}

// syncCategories ensures every source category exists on the mirror by name
// and returns the source-category-id to mirror-category-id correspondence for
// parenting channels. Categories carry no durable mapping; name identity is
// enough because a guild cannot hold two categories with the same name in
// practice for mirroring purposes.
func (e *DiffEngine) syncCategories(ctx context.Context, src, mir *models.StructuralSnapshot, result *DiffResult) map[string]string {
	byName := make(map[string]string, len(mir.Categories))
	for _, c := range mir.Categories {
		byName[c.Name] = c.ID
	}

	categoryIDs := make(map[string]string, len(src.Categories))
	for _, cat := range src.Categories {
		if mirrorID, ok := byName[cat.Name]; ok {
			categoryIDs[cat.ID] = mirrorID
			continue
		}
		mirrorID, err := e.mirror.CreateCategory(ctx, e.mirrorGuildID, cat.Name, cat.Position)
		if err != nil {
			e.logger.WithError(err).WithField("category", cat.Name).Error("Failed to create category")
			result.Errors++
			continue
		}
		byName[cat.Name] = mirrorID
		categoryIDs[cat.ID] = mirrorID
		result.CategoriesCreated++
	}
	return categoryIDs
}

func (e *DiffEngine) syncChannels(ctx context.Context, src, mir *models.StructuralSnapshot, categoryIDs map[string]string, result *DiffResult) {
	suppressed, err := e.correspondence.store.ListManuallyDeleted(ctx, models.MappingKindChannel, e.sourceGuildID)
	if err != nil {
		e.logger.WithError(err).Error("Failed to list manually deleted channels")
		result.Errors++
		suppressed = map[string]bool{}
	}

	mirrorExists := make(map[string]bool, len(mir.Channels))
	for _, c := range mir.Channels {
		mirrorExists[c.ID] = true
	}

	for _, ch := range src.Channels {
		if ch.IsThread() {
			continue
		}
		if suppressed[ch.ID] || suppressed[ch.Name] {
			result.ChannelsSkipped++
			continue
		}
		if skip := e.checkAccess(ctx, ch, result); skip {
			continue
		}

		mapping, err := e.correspondence.Resolve(ctx, models.MappingKindChannel, ch.ID, e.sourceGuildID, ch.Name)
		if err != nil {
			e.logger.WithError(err).WithField("channel", ch.Name).Error("Failed to resolve channel mapping")
			result.Errors++
			continue
		}

		if mapping != nil {
			e.updateChannel(ctx, ch, mapping, mirrorExists, result)
			continue
		}
		e.createChannel(ctx, ch, src, categoryIDs, result)
	}
}

// checkAccess probes readability of the source channel and feeds the failure
// tracker. It returns true when the channel must be skipped this pass.
func (e *DiffEngine) checkAccess(ctx context.Context, ch models.SnapshotChannel, result *DiffResult) bool {
	blacklisted, err := e.tracker.IsBlacklisted(ctx, ch.ID)
	if err != nil {
		e.logger.WithError(err).WithField("channel", ch.Name).Error("Failed to check blacklist state")
		result.Errors++
		return true
	}
	if blacklisted {
		result.ChannelsSkipped++
		return true
	}

	if err := e.source.ProbeChannelAccess(ctx, ch.ID); err != nil {
		if syncerrors.IsAccessDenied(err) {
			if trackErr := e.tracker.RecordFailure(ctx, ch.ID); trackErr != nil {
				e.logger.WithError(trackErr).WithField("channel", ch.Name).Error("Failed to record access failure")
			}
			result.ChannelsSkipped++
			return true
		}
		e.logger.WithError(err).WithField("channel", ch.Name).Warn("Channel access probe failed")
		result.Errors++
		return true
	}

	if err := e.tracker.RecordSuccess(ctx, ch.ID); err != nil {
		e.logger.WithError(err).WithField("channel", ch.Name).Error("Failed to clear access failures")
	}
	return false
}

// updateChannel handles a channel that already has a correspondence: renames
// in place when the source name moved, and detects operator-side deletion of
// the mirror entity so it is not recreated on the next pass.
func (e *DiffEngine) updateChannel(ctx context.Context, ch models.SnapshotChannel, mapping *models.Mapping, mirrorExists map[string]bool, result *DiffResult) {
	if !mirrorExists[mapping.MirrorID] {
		e.logger.WithFields(logrus.Fields{
			"channel":   ch.Name,
			"mirror_id": mapping.MirrorID,
		}).Info("Mirror channel removed by operator; suppressing recreation")
		if err := e.correspondence.MarkManuallyDeleted(ctx, models.MappingKindChannel, ch.ID, e.sourceGuildID); err != nil {
			e.logger.WithError(err).WithField("channel", ch.Name).Error("Failed to flag manual deletion")
			result.Errors++
		}
		return
	}

	if mapping.Name == ch.Name {
		return
	}
	if err := e.mirror.RenameChannel(ctx, mapping.MirrorID, ch.Name); err != nil {
		e.logger.WithError(err).WithField("channel", ch.Name).Error("Failed to rename mirror channel")
		result.Errors++
		return
	}
	if err := e.correspondence.Rename(ctx, models.MappingKindChannel, ch.ID, e.sourceGuildID, ch.Name); err != nil {
		e.logger.WithError(err).WithField("channel", ch.Name).Error("Failed to record channel rename")
		result.Errors++
		return
	}
	result.ChannelsRenamed++
}

func (e *DiffEngine) createChannel(ctx context.Context, ch models.SnapshotChannel, src *models.StructuralSnapshot, categoryIDs map[string]string, result *DiffResult) {
	params := mirrortypes.CreateChannelParams{
		Name:     ch.Name,
		Kind:     ch.Kind,
		Topic:    ch.Topic,
		NSFW:     ch.NSFW,
		ParentID: categoryIDs[ch.ParentID],
	}
	if !ch.Kind.SupportedOnMirror() {
		// The fallback is visible in the topic so readers know the mirror
		// channel downgraded a richer source type.
		params.Kind = models.ChannelText
		annotation := fmt.Sprintf("[mirrored %s channel]", ch.Kind)
		if params.Topic != "" {
			params.Topic = annotation + " " + params.Topic
		} else {
			params.Topic = annotation
		}
	}

	mirrorID, err := e.mirror.CreateChannel(ctx, e.mirrorGuildID, params)
	if err != nil {
		e.logger.WithError(err).WithField("channel", ch.Name).Error("Failed to create mirror channel")
		result.Errors++
		return
	}

	categoryName := ""
	for _, cat := range src.Categories {
		if cat.ID == ch.ParentID {
			categoryName = cat.Name
			break
		}
	}
	mapping := &models.Mapping{
		Kind:          models.MappingKindChannel,
		SourceID:      ch.ID,
		SourceGuildID: e.sourceGuildID,
		Name:          ch.Name,
		MirrorID:      mirrorID,
		Category:      categoryName,
		Active:        true,
	}
	if err := e.correspondence.Register(ctx, mapping); err != nil {
		e.logger.WithError(err).WithField("channel", ch.Name).Error("Failed to register channel mapping")
		result.Errors++
		return
	}
	result.ChannelsCreated++
}

// syncThreads creates mirror threads for source threads whose parent channel
// already has a correspondence. Threads under unmapped or suppressed parents
// wait for a later pass.
func (e *DiffEngine) syncThreads(ctx context.Context, src *models.StructuralSnapshot, result *DiffResult) {
	for _, ch := range src.Channels {
		if !ch.IsThread() {
			continue
		}
		parent, err := e.correspondence.Resolve(ctx, models.MappingKindChannel, ch.ParentID, e.sourceGuildID, "")
		if err != nil {
			e.logger.WithError(err).WithField("thread", ch.Name).Error("Failed to resolve thread parent mapping")
			result.Errors++
			continue
		}
		if parent == nil {
			result.ChannelsSkipped++
			continue
		}

		mapping, err := e.correspondence.Resolve(ctx, models.MappingKindChannel, ch.ID, e.sourceGuildID, ch.Name)
		if err != nil {
			e.logger.WithError(err).WithField("thread", ch.Name).Error("Failed to resolve thread mapping")
			result.Errors++
			continue
		}
		if mapping != nil {
			continue
		}

		mirrorID, err := e.mirror.CreateThread(ctx, parent.MirrorID, ch.Name)
		if err != nil {
			e.logger.WithError(err).WithField("thread", ch.Name).Error("Failed to create mirror thread")
			result.Errors++
			continue
		}
		if err := e.correspondence.Register(ctx, &models.Mapping{
			Kind:          models.MappingKindChannel,
			SourceID:      ch.ID,
			SourceGuildID: e.sourceGuildID,
			Name:          ch.Name,
			MirrorID:      mirrorID,
			Category:      parent.Name,
			Active:        true,
		}); err != nil {
			e.logger.WithError(err).WithField("thread", ch.Name).Error("Failed to register thread mapping")
			result.Errors++
			continue
		}
		result.ThreadsCreated++
	}
}

// pruneChannels deletes mirror channels without a source counterpart: mapped
// channels whose source entity disappeared, and unmapped mirror channels
// created out-of-band that no source channel matches by name. Protected
// channels and manually deleted mappings are left alone.
func (e *DiffEngine) pruneChannels(ctx context.Context, src, mir *models.StructuralSnapshot, result *DiffResult) {
	sourceIDs := make(map[string]bool, len(src.Channels))
	sourceNames := make(map[string]bool, len(src.Channels))
	for _, ch := range src.Channels {
		sourceIDs[ch.ID] = true
		sourceNames[ch.Name] = true
	}

	mappings, err := e.correspondence.store.ListMappings(ctx, models.MappingKindChannel, e.sourceGuildID)
	if err != nil {
		e.logger.WithError(err).Error("Failed to list channel mappings for pruning")
		result.Errors++
		return
	}
	mapped := make(map[string]bool, len(mappings))
	for _, m := range mappings {
		mapped[m.MirrorID] = true
	}

	for _, m := range mappings {
		if sourceIDs[m.SourceID] || m.ManuallyDeleted || e.protected[m.Name] {
			continue
		}
		if err := e.mirror.DeleteChannel(ctx, m.MirrorID); err != nil {
			if !syncerrors.IsNotFound(err) {
				e.logger.WithError(err).WithField("channel", m.Name).Error("Failed to delete orphaned mirror channel")
				result.Errors++
				continue
			}
		}
		if err := e.correspondence.Remove(ctx, models.MappingKindChannel, m.MirrorID); err != nil {
			e.logger.WithError(err).WithField("channel", m.Name).Error("Failed to remove channel mapping")
			result.Errors++
			continue
		}
		result.ChannelsDeleted++
	}

	for _, ch := range mir.Channels {
		if mapped[ch.ID] || e.protected[ch.Name] || sourceNames[ch.Name] {
			continue
		}
		if err := e.mirror.DeleteChannel(ctx, ch.ID); err != nil {
			if !syncerrors.IsNotFound(err) {
				e.logger.WithError(err).WithField("channel", ch.Name).Error("Failed to delete unmatched mirror channel")
				result.Errors++
			}
			continue
		}
		result.ChannelsDeleted++
	}
}

func (e *DiffEngine) syncRoles(ctx context.Context, src, mir *models.StructuralSnapshot, result *DiffResult) {
	mirrorRoles := make(map[string]models.SnapshotRole, len(mir.Roles))
	for _, r := range mir.Roles {
		mirrorRoles[r.ID] = r
	}

	sourceIDs := make(map[string]bool, len(src.Roles))
	for _, role := range src.Roles {
		if role.Managed || role.Name == "@everyone" {
			continue
		}
		sourceIDs[role.ID] = true

		params := mirrortypes.RoleParams{
			Name:        role.Name,
			Permissions: e.sanitizer.Sanitize(role.Permissions),
			Color:       role.Color,
			Hoist:       role.Hoist,
			Mentionable: role.Mentionable,
		}

		mapping, err := e.correspondence.Resolve(ctx, models.MappingKindRole, role.ID, e.sourceGuildID, role.Name)
		if err != nil {
			e.logger.WithError(err).WithField("role", role.Name).Error("Failed to resolve role mapping")
			result.Errors++
			continue
		}

		if mapping == nil {
			e.createRole(ctx, role, params, result)
			continue
		}

		existing, ok := mirrorRoles[mapping.MirrorID]
		if ok && rolesEqual(existing, params) {
			continue
		}
		if err := e.mirror.UpdateRole(ctx, e.mirrorGuildID, mapping.MirrorID, params); err != nil {
			e.logger.WithError(err).WithField("role", role.Name).Error("Failed to update mirror role")
			result.Errors++
			continue
		}
		if mapping.Name != role.Name {
			if err := e.correspondence.Rename(ctx, models.MappingKindRole, role.ID, e.sourceGuildID, role.Name); err != nil {
				e.logger.WithError(err).WithField("role", role.Name).Error("Failed to record role rename")
				result.Errors++
			}
		}
		result.RolesUpdated++
	}

	mappings, err := e.correspondence.store.ListMappings(ctx, models.MappingKindRole, e.sourceGuildID)
	if err != nil {
		e.logger.WithError(err).Error("Failed to list role mappings for pruning")
		result.Errors++
		return
	}
	mapped := make(map[string]bool, len(mappings))
	for _, m := range mappings {
		mapped[m.MirrorID] = true
	}

	for _, m := range mappings {
		if sourceIDs[m.SourceID] || m.ManuallyDeleted {
			continue
		}
		if err := e.mirror.DeleteRole(ctx, e.mirrorGuildID, m.MirrorID); err != nil {
			if !syncerrors.IsNotFound(err) {
				e.logger.WithError(err).WithField("role", m.Name).Error("Failed to delete orphaned mirror role")
				result.Errors++
				continue
			}
		}
		if err := e.correspondence.Remove(ctx, models.MappingKindRole, m.MirrorID); err != nil {
			e.logger.WithError(err).WithField("role", m.Name).Error("Failed to remove role mapping")
			result.Errors++
			continue
		}
		result.RolesDeleted++
	}

	sourceNames := make(map[string]bool, len(src.Roles))
	for _, role := range src.Roles {
		sourceNames[role.Name] = true
	}
	for _, r := range mir.Roles {
		if r.Managed || r.Name == "@everyone" || mapped[r.ID] || sourceNames[r.Name] {
			continue
		}
		if err := e.mirror.DeleteRole(ctx, e.mirrorGuildID, r.ID); err != nil {
			if !syncerrors.IsNotFound(err) {
				e.logger.WithError(err).WithField("role", r.Name).Error("Failed to delete unmatched mirror role")
				result.Errors++
			}
			continue
		}
		result.RolesDeleted++
	}
}

func (e *DiffEngine) createRole(ctx context.Context, role models.SnapshotRole, params mirrortypes.RoleParams, result *DiffResult) {
	mirrorID, err := e.mirror.CreateRole(ctx, e.mirrorGuildID, params)
	if err != nil {
		e.logger.WithError(err).WithField("role", role.Name).Error("Failed to create mirror role")
		result.Errors++
		return
	}
	if err := e.correspondence.Register(ctx, &models.Mapping{
		Kind:          models.MappingKindRole,
		SourceID:      role.ID,
		SourceGuildID: e.sourceGuildID,
		Name:          role.Name,
		MirrorID:      mirrorID,
		Active:        true,
	}); err != nil {
		e.logger.WithError(err).WithField("role", role.Name).Error("Failed to register role mapping")
		result.Errors++
		return
	}
	result.RolesCreated++
}

func rolesEqual(existing models.SnapshotRole, want mirrortypes.RoleParams) bool {
	return existing.Name == want.Name &&
		existing.Permissions == want.Permissions &&
		existing.Color == want.Color &&
		existing.Hoist == want.Hoist &&
		existing.Mentionable == want.Mentionable
}

// reorder mirrors the source ordering, categories first so channel positions
// land inside already-settled category blocks. Only entities whose mirror
// position differs from the source position are submitted.
func (e *DiffEngine) reorder(ctx context.Context, src, mir *models.StructuralSnapshot, categoryIDs map[string]string, result *DiffResult) {
	mirrorPositions := make(map[string]int, len(mir.Categories)+len(mir.Channels))
	for _, c := range mir.Categories {
		mirrorPositions[c.ID] = c.Position
	}
	for _, c := range mir.Channels {
		mirrorPositions[c.ID] = c.Position
	}

	var categories []mirrortypes.EntityPosition
	for _, cat := range src.Categories {
		mirrorID, ok := categoryIDs[cat.ID]
		if !ok {
			if existing, found := mir.CategoryByName(cat.Name); found {
				mirrorID = existing.ID
			} else {
				continue
			}
		}
		if pos, known := mirrorPositions[mirrorID]; known && pos == cat.Position {
			continue
		}
		categories = append(categories, mirrortypes.EntityPosition{ID: mirrorID, Position: cat.Position})
	}

	var channels []mirrortypes.EntityPosition
	for _, ch := range src.Channels {
		if ch.IsThread() {
			continue
		}
		mapping, err := e.correspondence.Resolve(ctx, models.MappingKindChannel, ch.ID, e.sourceGuildID, "")
		if err != nil || mapping == nil {
			continue
		}
		if pos, known := mirrorPositions[mapping.MirrorID]; known && pos == ch.Position {
			continue
		}
		channels = append(channels, mirrortypes.EntityPosition{ID: mapping.MirrorID, Position: ch.Position})
	}

	for _, batch := range [][]mirrortypes.EntityPosition{categories, channels} {
		if len(batch) == 0 {
			continue
		}
		sort.Slice(batch, func(i, j int) bool { return batch[i].Position < batch[j].Position })
		if err := e.mirror.RepositionChannels(ctx, e.mirrorGuildID, batch); err != nil {
			e.logger.WithError(err).Error("Failed to reposition mirror channels")
			result.Errors++
			continue
		}
		result.Repositioned += len(batch)
	}
}
