// Package anchor implements the reconciliation engine: the per-participant
// state registry and the consistency rules every inbound update is checked
// against. The engine enforces two properties across participants sharing
// one race seed: nobody joins mid-race with unrelated save progress, and
// nobody drifts onto the wrong seed. Violations are corrected by telling
// the offending participant to reset, never by rolling anything back
// locally.
package anchor

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/paceline-project/paceline/internal/events"
	"github.com/paceline-project/paceline/internal/metrics"
	"github.com/paceline-project/paceline/internal/protocol"
	"github.com/paceline-project/paceline/internal/util"
)

// Notice texts sent ahead of a corrective RESET.
const (
	MsgSaveLoaded = "Can't connect with save loaded, resetting"
	MsgWrongSeed  = "Wrong seed loaded, resetting"
)

// Sender delivers outbound packets to the relay. Implemented by the relay
// session; a send failure is logged by the engine and never retried.
type Sender interface {
	Send(pkt *protocol.Packet) error
}

// Engine owns the participant registry and applies the packet-type-specific
// reconciliation rules. All packets from one session are handled on the
// session's read goroutine, strictly in arrival order; the internal lock
// only guards against concurrent read access from the CLI and API.
type Engine struct {
	mu       sync.RWMutex
	registry map[int]protocol.ClientData
	anchored bool

	seed   string
	sender Sender
	bus    *events.EventBus
	logger zerolog.Logger
}

// NewEngine creates an engine for a race with the given configured seed.
func NewEngine(seed string, bus *events.EventBus) *Engine {
	return &Engine{
		registry: make(map[int]protocol.ClientData),
		anchored: true,
		seed:     seed,
		bus:      bus,
		logger:   util.ComponentLogger("anchor_engine"),
	}
}

// AttachSender wires the outbound side. Until a sender is attached the
// engine observes and records but cannot issue corrections.
func (e *Engine) AttachSender(s Sender) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sender = s
}

// HandlePacket applies one decoded inbound packet. Registry mutations only
// happen for UPDATE_CLIENT_DATA and ALL_CLIENT_DATA; every other type is
// observed, logged, and surfaced on the event bus for collaborators.
func (e *Engine) HandlePacket(ctx context.Context, pkt *protocol.Packet) {
	switch pkt.Type {
	case protocol.TypeUpdateClientData:
		e.OnClientUpdate(ctx, pkt.ClientID, pkt.Data)

	case protocol.TypeAllClientData:
		e.OnAllClientData(ctx, pkt.Clients)

	case protocol.TypeReset:
		e.logger.Info().Int("from", pkt.ClientID).Msg("reset ordered by relay")
		e.bus.Emit(ctx, events.Event{
			Type:    events.EventResetOrdered,
			Source:  "anchor_engine",
			Payload: events.NoticePayload{From: pkt.ClientID},
		})

	case protocol.TypeServerMessage:
		e.logger.Info().Int("from", pkt.ClientID).Str("message", pkt.Message).Msg("server message")
		e.bus.Emit(ctx, events.Event{
			Type:    events.EventServerNotice,
			Source:  "anchor_engine",
			Payload: events.NoticePayload{From: pkt.ClientID, Message: pkt.Message},
		})

	case protocol.TypeDisableAnchor:
		e.setAnchored(ctx, false, true)

	case protocol.TypeRequestSaveState:
		e.bus.Emit(ctx, events.Event{
			Type:    events.EventSaveStateRequested,
			Source:  "anchor_engine",
			Payload: events.SaveStatePayload{From: pkt.ClientID},
		})

	case protocol.TypePushSaveState:
		e.bus.Emit(ctx, events.Event{
			Type:    events.EventSaveStatePushed,
			Source:  "anchor_engine",
			Payload: events.SaveStatePayload{From: pkt.ClientID},
		})

	default:
		e.logger.Debug().Str("type", string(pkt.Type)).Msg("ignoring unhandled packet type")
	}
}

// OnClientUpdate processes a full state snapshot for one participant.
// A participant is "new" iff its identifier has no registry key; a new
// participant with a save file loaded, or a known participant whose loaded
// save carries the wrong seed, is told to reset. The snapshot is recorded
// unconditionally afterwards, replacing any prior one in full.
func (e *Engine) OnClientUpdate(ctx context.Context, participantID int, data protocol.ClientData) {
	e.mu.RLock()
	_, known := e.registry[participantID]
	anchored := e.anchored
	e.mu.RUnlock()

	fileNum := data.FileNum()
	saveLoaded := fileNum != protocol.FileNumNoSave

	if anchored {
		switch {
		case !known && saveLoaded:
			e.correct(ctx, participantID, events.CorrectionSaveLoaded, MsgSaveLoaded)
		case known && saveLoaded && data.Seed() != e.seed:
			e.correct(ctx, participantID, events.CorrectionSeedMismatch, MsgWrongSeed)
		}
	}

	e.mu.Lock()
	e.registry[participantID] = data
	count := len(e.registry)
	e.mu.Unlock()
	metrics.Participants.Set(float64(count))

	if !known {
		e.logger.Info().Int("participant", participantID).Int("fileNum", fileNum).Msg("participant joined")
	}
	e.bus.Emit(ctx, events.Event{
		Type:   events.EventParticipantUpdated,
		Source: "anchor_engine",
		Payload: events.ParticipantPayload{
			ParticipantID: participantID,
			FileNum:       fileNum,
			Seed:          data.Seed(),
			Joined:        !known,
		},
	})
	if !known {
		e.bus.Emit(ctx, events.Event{
			Type:   events.EventParticipantJoined,
			Source: "anchor_engine",
			Payload: events.ParticipantPayload{
				ParticipantID: participantID,
				FileNum:       fileNum,
				Seed:          data.Seed(),
				Joined:        true,
			},
		})
	}
}

// OnAllClientData merges a broadcast snapshot of all known participants.
// Each entry carries its own clientId; entries for participants already in
// the registry replace their snapshots, entries for unknown participants
// are dropped so a broadcast can never create a registry key.
func (e *Engine) OnAllClientData(ctx context.Context, entries []protocol.ClientData) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, entry := range entries {
		id, ok := entryClientID(entry)
		if !ok {
			e.logger.Debug().Msg("broadcast entry without clientId dropped")
			continue
		}
		if _, known := e.registry[id]; !known {
			continue
		}
		snapshot := entry.Clone()
		delete(snapshot, "clientId")
		e.registry[id] = snapshot
	}
}

// correct sends the SERVER_MESSAGE/RESET pair to one participant. The
// notice is best effort; the RESET is attempted even when the notice send
// fails.
func (e *Engine) correct(ctx context.Context, participantID int, reason events.CorrectionReason, message string) {
	e.mu.RLock()
	sender := e.sender
	e.mu.RUnlock()

	e.logger.Warn().
		Int("participant", participantID).
		Str("reason", string(reason)).
		Msg("ordering participant reset")

	if sender == nil {
		e.logger.Error().Int("participant", participantID).Msg("no sender attached, reset not delivered")
		return
	}

	if err := sender.Send(protocol.NewServerMessage(participantID, message)); err != nil {
		e.logger.Error().Err(err).Int("participant", participantID).Msg("failed to send reset notice")
	}
	if err := sender.Send(protocol.NewReset(participantID)); err != nil {
		e.logger.Error().Err(err).Int("participant", participantID).Msg("failed to send reset")
	}
	metrics.ResetsIssued.Inc()

	e.bus.Emit(ctx, events.Event{
		Type:   events.EventCorrectionIssued,
		Source: "anchor_engine",
		Payload: events.CorrectionPayload{
			ParticipantID: participantID,
			Reason:        reason,
			Message:       message,
		},
	})
}

// SetAnchored flips the endpoint's synchronization role on operator
// request. While disabled the engine keeps recording snapshots but stops
// issuing corrections.
func (e *Engine) SetAnchored(ctx context.Context, enabled bool) {
	e.setAnchored(ctx, enabled, false)
}

func (e *Engine) setAnchored(ctx context.Context, enabled, remote bool) {
	e.mu.Lock()
	changed := e.anchored != enabled
	e.anchored = enabled
	e.mu.Unlock()

	if !changed {
		return
	}
	e.logger.Info().Bool("enabled", enabled).Bool("remote", remote).Msg("anchor role changed")
	e.bus.Emit(ctx, events.Event{
		Type:    events.EventAnchorChanged,
		Source:  "anchor_engine",
		Payload: events.AnchorPayload{Enabled: enabled, Remote: remote},
	})
}

// Anchored reports whether the endpoint currently enforces the
// consistency rules.
func (e *Engine) Anchored() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.anchored
}

// Participant returns a copy of one participant's last-known snapshot.
func (e *Engine) Participant(participantID int) (protocol.ClientData, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	data, ok := e.registry[participantID]
	if !ok {
		return nil, false
	}
	return data.Clone(), true
}

// Participants returns a copy of the registry keyed by participant
// identifier.
func (e *Engine) Participants() map[int]protocol.ClientData {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[int]protocol.ClientData, len(e.registry))
	for id, data := range e.registry {
		out[id] = data.Clone()
	}
	return out
}

// Count returns the number of tracked participants.
func (e *Engine) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.registry)
}

// Seed returns the configured race seed the engine verifies against.
func (e *Engine) Seed() string {
	return e.seed
}

// Clear discards all participant state. Called when the relay session
// ends; snapshots never survive across sessions.
func (e *Engine) Clear() {
	e.mu.Lock()
	e.registry = make(map[int]protocol.ClientData)
	e.mu.Unlock()
	metrics.Participants.Set(0)
}

// entryClientID extracts the participant identifier from a broadcast
// entry, tolerating the numeric types JSON decoding can produce.
func entryClientID(entry protocol.ClientData) (int, bool) {
	switch v := entry["clientId"].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	}
	return 0, false
}
