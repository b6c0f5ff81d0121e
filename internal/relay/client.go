package relay

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/paceline-project/paceline/internal/anchor"
	"github.com/paceline-project/paceline/internal/config"
	"github.com/paceline-project/paceline/internal/events"
	"github.com/paceline-project/paceline/internal/protocol"
	"github.com/paceline-project/paceline/internal/util"
)

// Client runs the single relay session for this process: it dials the
// configured relay, announces the client's cvar set, feeds the
// reconciliation engine, and reports lifecycle changes on the event bus.
// There is no reconnect; once the session ends the client is finished and
// the process decides what happens next.
type Client struct {
	cfg    *config.Config
	engine *anchor.Engine
	bus    *events.EventBus

	mu      sync.Mutex
	session *Session

	logger zerolog.Logger
}

// NewClient creates a relay client.
func NewClient(cfg *config.Config, engine *anchor.Engine, bus *events.EventBus) *Client {
	return &Client{
		cfg:    cfg,
		engine: engine,
		bus:    bus,
		logger: util.ComponentLogger("relay_client"),
	}
}

// Run connects to the relay and serves the session until it closes.
// Returns an error only when the connection could not be established;
// a session that opened and later ended returns nil.
func (c *Client) Run(ctx context.Context) error {
	relayCfg := c.cfg.GetRelayData()

	sess := NewSession(relayCfg.Addr(), relayCfg.PeerClientID, relayCfg.Room, c.engine)
	c.mu.Lock()
	c.session = sess
	c.mu.Unlock()
	c.engine.AttachSender(sess)

	if err := sess.Connect(ctx); err != nil {
		return err
	}

	c.bus.Emit(ctx, events.Event{
		Type:   events.EventRelayConnected,
		Source: "relay_client",
		Payload: events.RelayConnectedPayload{
			Host: relayCfg.Hostname,
			Port: relayCfg.Port,
			Room: relayCfg.Room,
		},
	})

	if err := c.announce(); err != nil {
		// A failed announce already closed the session; Run below returns
		// immediately and tears the rest down.
		c.logger.Error().Err(err).Msg("failed to announce to relay")
	}

	sess.Run(ctx)

	// Participant state never outlives the session it was collected in.
	c.engine.Clear()
	c.bus.Emit(ctx, events.Event{
		Type:    events.EventRelayDisconnected,
		Source:  "relay_client",
		Payload: events.RelayDisconnectedPayload{Reason: sess.CloseReason()},
	})
	c.logger.Info().Str("reason", sess.CloseReason()).Msg("relay session ended")
	return nil
}

// announce sends the initial UPDATE_CLIENT_DATA carrying the static cvar
// set under data.config, so the relay sees this client's configuration the
// moment it joins.
func (c *Client) announce() error {
	return c.Send(protocol.NewClientUpdate(protocol.ClientData{
		"config": c.cfg.GetCVars(),
	}))
}

// Send forwards a packet to the current session. Used by the CLI and API
// for operator-initiated packets.
func (c *Client) Send(pkt *protocol.Packet) error {
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()
	if sess == nil {
		return ErrClosed
	}
	return sess.Send(pkt)
}

// State reports the current session state.
func (c *Client) State() SessionState {
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()
	if sess == nil {
		return StateConnecting
	}
	return sess.State()
}

// Close tears down the current session, if any.
func (c *Client) Close() {
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()
	if sess != nil {
		sess.Close()
	}
}
