// Package protocol implements the wire protocol spoken between Paceline
// and the race relay: newline-delimited UTF-8 JSON packets. Each packet is
// one JSON object followed by exactly one line-feed byte; there is no
// length prefix, checksum, or compression.
package protocol

// PacketType is the discriminant carried in the "type" field of every packet.
type PacketType string

// Packet types exchanged with the relay.
const (
	TypeUpdateClientData PacketType = "UPDATE_CLIENT_DATA" // Full state snapshot for one participant
	TypeReset            PacketType = "RESET"              // Instruct a participant to discard state and restart
	TypeAllClientData    PacketType = "ALL_CLIENT_DATA"    // Broadcast snapshot of all known participants
	TypeServerMessage    PacketType = "SERVER_MESSAGE"     // Human-readable notice for a participant
	TypeDisableAnchor    PacketType = "DISABLE_ANCHOR"     // Disable this endpoint's synchronization role
	TypeRequestSaveState PacketType = "REQUEST_SAVE_STATE" // Ask a participant for its save state
	TypePushSaveState    PacketType = "PUSH_SAVE_STATE"    // Deliver save state to a participant
)

// Known reports whether t is one of the packet types this build understands.
// Unknown types still decode (forward compatibility); the session drops them
// after logging.
func (t PacketType) Known() bool {
	switch t {
	case TypeUpdateClientData, TypeReset, TypeAllClientData, TypeServerMessage,
		TypeDisableAnchor, TypeRequestSaveState, TypePushSaveState:
		return true
	}
	return false
}

// FileNumNoSave is the fileNum sentinel meaning "no save file loaded".
const FileNumNoSave = 255

// ClientData is one participant's state snapshot. The relay treats it as an
// opaque object and preserves fields it does not understand; only fileNum
// and seed are read during reconciliation.
type ClientData map[string]any

// FileNum returns the snapshot's fileNum, coerced to FileNumNoSave when the
// field is missing or not a number.
func (d ClientData) FileNum() int {
	switch v := d["fileNum"].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return FileNumNoSave
}

// Seed returns the snapshot's seed, or "" when the field is missing or not
// a string.
func (d ClientData) Seed() string {
	s, _ := d["seed"].(string)
	return s
}

// Clone returns a shallow copy of the snapshot.
func (d ClientData) Clone() ClientData {
	if d == nil {
		return nil
	}
	c := make(ClientData, len(d))
	for k, v := range d {
		c[k] = v
	}
	return c
}

// Packet is the envelope shared by every packet variant plus the
// per-variant payload fields. Which payload fields are meaningful depends
// on Type; the rest stay at their zero value and are omitted on the wire.
type Packet struct {
	Type           PacketType   `json:"type"`
	ClientID       int          `json:"clientId,omitempty"`
	RoomID         string       `json:"roomId,omitempty"`
	Quiet          bool         `json:"quiet,omitempty"`
	TargetClientID int          `json:"targetClientId,omitempty"`
	Data           ClientData   `json:"data,omitempty"`
	Clients        []ClientData `json:"clients,omitempty"`
	Message        string       `json:"message,omitempty"`
}

// ---- Packet constructors ----

// NewClientUpdate creates an UPDATE_CLIENT_DATA packet carrying a full
// state snapshot.
func NewClientUpdate(data ClientData) *Packet {
	return &Packet{Type: TypeUpdateClientData, Data: data}
}

// NewReset creates a RESET packet addressed to one participant.
func NewReset(targetID int) *Packet {
	return &Packet{Type: TypeReset, TargetClientID: targetID}
}

// NewServerMessage creates a SERVER_MESSAGE packet addressed to one
// participant.
func NewServerMessage(targetID int, message string) *Packet {
	return &Packet{Type: TypeServerMessage, TargetClientID: targetID, Message: message}
}

// NewDisableAnchor creates a DISABLE_ANCHOR packet.
func NewDisableAnchor() *Packet {
	return &Packet{Type: TypeDisableAnchor}
}

// NewRequestSaveState creates a REQUEST_SAVE_STATE packet addressed to one
// participant.
func NewRequestSaveState(targetID int) *Packet {
	return &Packet{Type: TypeRequestSaveState, TargetClientID: targetID}
}

// NewPushSaveState creates a PUSH_SAVE_STATE packet addressed to one
// participant.
func NewPushSaveState(targetID int) *Packet {
	return &Packet{Type: TypePushSaveState, TargetClientID: targetID}
}
