// Package events defines event types and enumerations for the Paceline event system.
package events

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Relay lifecycle events
	EventRelayConnected    EventType = "relay_connected"
	EventRelayDisconnected EventType = "relay_disconnected"

	// Reconciliation events
	EventParticipantJoined  EventType = "participant_joined"
	EventParticipantUpdated EventType = "participant_updated"
	EventCorrectionIssued   EventType = "correction_issued"
	EventAnchorChanged      EventType = "anchor_changed"

	// Inbound relay notices. reset_ordered also fires when an operator
	// orders a reset; the payload is then the target id, not a notice.
	EventResetOrdered       EventType = "reset_ordered"
	EventServerNotice       EventType = "server_notice"
	EventSaveStateRequested EventType = "save_state_requested"
	EventSaveStatePushed    EventType = "save_state_pushed"

	// System events
	EventConfigChanged EventType = "config_changed"
	EventShutdown      EventType = "shutdown"
)

// CorrectionReason identifies which consistency rule triggered a
// SERVER_MESSAGE/RESET pair.
type CorrectionReason string

const (
	CorrectionSaveLoaded   CorrectionReason = "save_loaded"
	CorrectionSeedMismatch CorrectionReason = "seed_mismatch"
)

// Event represents a single event in the system.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// RelayConnectedPayload is emitted when the relay session reaches OPEN.
type RelayConnectedPayload struct {
	Host string
	Port int
	Room string
}

// RelayDisconnectedPayload is emitted when the relay session closes.
type RelayDisconnectedPayload struct {
	Reason string
}

// ParticipantPayload describes one participant's snapshot after an accepted
// update. Joined is true the first time an identifier enters the registry.
type ParticipantPayload struct {
	ParticipantID int
	FileNum       int
	Seed          string
	Joined        bool
}

// CorrectionPayload is emitted when the engine orders a participant to reset.
type CorrectionPayload struct {
	ParticipantID int
	Reason        CorrectionReason
	Message       string
}

// NoticePayload carries an inbound SERVER_MESSAGE or RESET addressed to
// this endpoint.
type NoticePayload struct {
	From    int
	Message string
}

// AnchorPayload is emitted when the endpoint's synchronization role flips.
// Remote is true when the change was ordered by the relay rather than an
// operator.
type AnchorPayload struct {
	Enabled bool
	Remote  bool
}

// SaveStatePayload carries a save-state transfer notice; the payload
// itself is opaque at this layer.
type SaveStatePayload struct {
	From int
}

// ConfigChangedPayload is emitted when configuration changes occur.
type ConfigChangedPayload struct {
	Section string
	Key     string
	Value   interface{}
}
