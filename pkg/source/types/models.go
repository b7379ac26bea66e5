package types

import "guildmirror/internal/models"

// EventKind separates message traffic from structural change notifications.
type EventKind int

const (
	// EventMessage carries one normalized message envelope to relay.
	EventMessage EventKind = iota
	// EventStructureChanged signals that the guild hierarchy changed and a
	// diff pass should run.
	EventStructureChanged
)

// Event is one item on the source event stream.
type Event struct {
	Kind     EventKind
	GuildID  string
	Envelope *models.RelayEnvelope
}
