package metrics

import (
	"sync"
	"time"
)

// Well-known counter names used across the services.
const (
	MessagesRelayed     = "messages_relayed_total"
	MessagesDegraded    = "messages_degraded_total"
	MessagesFailed      = "messages_failed_total"
	AttachmentsLinked   = "attachments_linked_total"
	DiffMutations       = "diff_mutations_total"
	DiffPasses          = "diff_passes_total"
	ChannelsBlacklisted = "channels_blacklisted_total"
	ReactionsMirrored   = "reactions_mirrored_total"
)

// Registry is a small in-memory metrics store exposed by the ops server.
type Registry struct {
	mu        sync.RWMutex
	counters  map[string]int64
	gauges    map[string]float64
	startTime time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		counters:  make(map[string]int64),
		gauges:    make(map[string]float64),
		startTime: time.Now(),
	}
}

// Inc increments a counter by one.
func (r *Registry) Inc(name string) {
	r.Add(name, 1)
}

// Add adds a value to a counter.
func (r *Registry) Add(name string, delta int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[name] += delta
}

// SetGauge records the current value of a gauge.
func (r *Registry) SetGauge(name string, value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gauges[name] = value
}

// Counter returns the current value of a counter.
func (r *Registry) Counter(name string) int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.counters[name]
}

// Snapshot returns a serializable view of every metric.
func (r *Registry) Snapshot() map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counters := make(map[string]int64, len(r.counters))
	for k, v := range r.counters {
		counters[k] = v
	}
	gauges := make(map[string]float64, len(r.gauges))
	for k, v := range r.gauges {
		gauges[k] = v
	}

	return map[string]interface{}{
		"uptime_seconds": time.Since(r.startTime).Seconds(),
		"counters":       counters,
		"gauges":         gauges,
	}
}
