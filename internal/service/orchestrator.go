package service

import (
	"context"
	"sync"
	"time"

	sourcetypes "guildmirror/pkg/source/types"

	"github.com/sirupsen/logrus"
)

// debounce window for structural change bursts; bulk channel edits arrive as
// many gateway events within a second or two.
const structureDebounce = 3 * time.Second

// HistoryCleaner prunes aged dispatch records; the database satisfies it.
type HistoryCleaner interface {
	CleanupDispatchHistory(retentionDays, maxRows int) error
}

// Orchestrator owns the runtime: it drains the source event stream, fans
// message envelopes out to per-channel serial queues, and serializes
// structural reconciliation so at most one diff pass runs at a time.
type Orchestrator struct {
	source   sourcetypes.Client
	pipeline *RelayPipeline
	diff     *DiffEngine
	tracker  *AccessFailureTracker
	cleaner  HistoryCleaner
	logger   *logrus.Logger

	queue *KeyQueue

	diffMu        sync.Mutex
	structureSeen chan struct{}

	retentionDays int
	maxRows       int
}

func NewOrchestrator(
	source sourcetypes.Client,
	pipeline *RelayPipeline,
	diff *DiffEngine,
	tracker *AccessFailureTracker,
	cleaner HistoryCleaner,
	logger *logrus.Logger,
	retentionDays, maxRows int,
) *Orchestrator {
	return &Orchestrator{
		source:        source,
		pipeline:      pipeline,
		diff:          diff,
		tracker:       tracker,
		cleaner:       cleaner,
		logger:        logger,
		queue:         NewKeyQueue(),
		structureSeen: make(chan struct{}, 1),
		retentionDays: retentionDays,
		maxRows:       maxRows,
	}
}

// Run drains events until the context is canceled or the source stream
// closes. It blocks; callers run it on its own goroutine.
func (o *Orchestrator) Run(ctx context.Context) {
	go o.structureLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			o.queue.Close()
			return
		case event, ok := <-o.source.Events():
			if !ok {
				o.queue.Close()
				return
			}
			o.handle(ctx, event)
		}
	}
}

func (o *Orchestrator) handle(ctx context.Context, event sourcetypes.Event) {
	switch event.Kind {
	case sourcetypes.EventMessage:
		env := event.Envelope
		if env == nil {
			return
		}
		o.queue.Submit(env.SourceChannelID, func() {
			if err := o.pipeline.Relay(ctx, env); err != nil {
				o.logger.WithError(err).WithFields(logrus.Fields{
					"channel_id": env.SourceChannelID,
					"message_id": env.SourceMessageID,
				}).Error("Failed to relay message")
			}
		})
	case sourcetypes.EventStructureChanged:
		select {
		case o.structureSeen <- struct{}{}:
		default:
		}
	}
}

// structureLoop coalesces bursts of structural change signals into single
// debounced diff passes.
func (o *Orchestrator) structureLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.structureSeen:
		}

		timer := time.NewTimer(structureDebounce)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		o.Reconcile(ctx)
	}
}

// Reconcile runs one structural diff pass. Concurrent calls serialize; the
// scheduler and the event loop share this entry point.
func (o *Orchestrator) Reconcile(ctx context.Context) {
	o.diffMu.Lock()
	defer o.diffMu.Unlock()

	result, err := o.diff.Run(ctx)
	if err != nil {
		o.logger.WithError(err).Error("Structural reconciliation failed")
		return
	}
	if result.Mutations() == 0 {
		o.logger.Debug("Structural reconciliation found nothing to change")
	}
}

// SweepBlacklists lifts expired channel blacklists; the scheduler calls it at
// the daily cutoff.
func (o *Orchestrator) SweepBlacklists(ctx context.Context) {
	if _, err := o.tracker.Sweep(ctx); err != nil {
		o.logger.WithError(err).Error("Blacklist sweep failed")
	}
}

// CleanupHistory prunes aged dispatch records.
func (o *Orchestrator) CleanupHistory() {
	if err := o.cleaner.CleanupDispatchHistory(o.retentionDays, o.maxRows); err != nil {
		o.logger.WithError(err).Error("Dispatch history cleanup failed")
	}
}
