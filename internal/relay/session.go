// Package relay manages the TCP session with the race relay: dialing,
// the framed read loop, outbound packet writes, and disconnect handling.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/paceline-project/paceline/internal/metrics"
	"github.com/paceline-project/paceline/internal/protocol"
	"github.com/paceline-project/paceline/internal/util"
)

const relayConnectTimeout = 30 * time.Second

// ErrClosed is returned by Send once the session has left the OPEN state.
var ErrClosed = errors.New("relay session closed")

// SessionState is the lifecycle state of a relay session.
type SessionState int

const (
	StateConnecting SessionState = iota
	StateOpen
	StateClosed
)

// String returns the state name, upper-cased like the rest of the wire
// vocabulary.
func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosed:
		return "CLOSED"
	}
	return "UNKNOWN"
}

// PacketHandler receives each decoded inbound packet, in stream order.
type PacketHandler interface {
	HandlePacket(ctx context.Context, pkt *protocol.Packet)
}

// Session owns one connection to the relay. It moves CONNECTING → OPEN →
// CLOSED and never leaves CLOSED: there is no automatic reconnect, a dead
// session stays dead until the process builds a new one. Reads, decode
// errors, and writes are all funneled through here so transport failures
// have exactly one place to end the session.
type Session struct {
	mu    sync.Mutex
	conn  net.Conn
	state SessionState

	addr    string
	peerID  int
	room    string
	handler PacketHandler
	decoder *protocol.FrameDecoder

	closeReason string
	done        chan struct{}
	logger      zerolog.Logger
}

// NewSession prepares a session in the CONNECTING state. peerID is the
// identity stamped onto every inbound packet; room is stamped onto every
// outbound one.
func NewSession(addr string, peerID int, room string, handler PacketHandler) *Session {
	return &Session{
		state:   StateConnecting,
		addr:    addr,
		peerID:  peerID,
		room:    room,
		handler: handler,
		decoder: protocol.NewFrameDecoder(),
		done:    make(chan struct{}),
		logger:  util.ComponentLogger("relay_session"),
	}
}

// Connect dials the relay and moves the session to OPEN. A dial failure
// closes the session; it cannot be retried on the same Session value.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateConnecting {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("cannot connect in state %s", state)
	}
	s.mu.Unlock()

	s.logger.Info().Str("addr", s.addr).Msg("connecting to relay")
	dialer := net.Dialer{Timeout: relayConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		s.close("connect failed")
		return fmt.Errorf("failed to connect to relay at %s: %w", s.addr, err)
	}

	s.mu.Lock()
	if s.state == StateClosed {
		// Closed while the dial was in flight.
		s.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	s.conn = conn
	s.state = StateOpen
	s.mu.Unlock()

	metrics.SessionOpen.Set(1)
	s.logger.Info().Str("addr", s.addr).Int("peer", s.peerID).Msg("connected to relay")
	return nil
}

// Run drives the read loop until the session closes: raw bytes feed the
// frame decoder, each completed payload is decoded and handed to the
// packet handler synchronously, so packets reach it strictly in stream
// order. Blocks until the session is CLOSED.
func (s *Session) Run(ctx context.Context) {
	s.mu.Lock()
	conn := s.conn
	state := s.state
	s.mu.Unlock()
	if state != StateOpen || conn == nil {
		return
	}

	// Close the socket when the surrounding process shuts down, which
	// unblocks the pending read below.
	go func() {
		select {
		case <-ctx.Done():
			s.close("shutdown")
		case <-s.done:
		}
	}()

	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			for _, payload := range s.decoder.Feed(buf[:n]) {
				s.dispatch(ctx, payload)
			}
		}
		if err != nil {
			if s.State() == StateClosed {
				// Local close already tore the socket down.
				return
			}
			if errors.Is(err, io.EOF) {
				s.logger.Info().Msg("relay closed connection")
				s.close("remote closed")
			} else {
				s.logger.Error().Err(err).Msg("error reading from relay")
				s.close("read error")
			}
			return
		}
	}
}

// dispatch decodes one framed payload and hands it to the handler.
// Payloads that fail to decode are logged and dropped; the session stays
// open, only transport errors are fatal.
func (s *Session) dispatch(ctx context.Context, payload []byte) {
	metrics.FramesDecoded.Inc()

	pkt, err := protocol.Decode(payload)
	if err != nil {
		metrics.DecodeErrors.Inc()
		s.logger.Warn().Err(err).Msg("dropping undecodable payload")
		return
	}

	// Inbound identity comes from the connection, never from the wire.
	pkt.ClientID = s.peerID

	if !pkt.Type.Known() {
		metrics.PacketsReceived.WithLabelValues("unrecognized").Inc()
		s.logger.Warn().Str("type", string(pkt.Type)).Msg("dropping packet with unrecognized type")
		return
	}
	metrics.PacketsReceived.WithLabelValues(string(pkt.Type)).Inc()

	if !pkt.Quiet {
		s.logger.Debug().Str("type", string(pkt.Type)).Msg("packet received")
	}
	s.handler.HandlePacket(ctx, pkt)
}

// Send serializes a packet, stamps the configured room onto it, appends
// the frame delimiter, and writes it in one call. A write failure closes
// the session.
func (s *Session) Send(pkt *protocol.Packet) error {
	out := *pkt
	if s.room != "" {
		out.RoomID = s.room
	}

	data, err := protocol.Encode(&out)
	if err != nil {
		return err
	}
	frame := append(data, protocol.FrameDelimiter)

	s.mu.Lock()
	if s.state != StateOpen || s.conn == nil {
		s.mu.Unlock()
		return ErrClosed
	}
	_, werr := s.conn.Write(frame)
	s.mu.Unlock()

	if werr != nil {
		s.logger.Error().Err(werr).Str("type", string(pkt.Type)).Msg("failed to write to relay")
		s.close("write error")
		return fmt.Errorf("failed to send %s packet: %w", pkt.Type, werr)
	}

	metrics.PacketsSent.WithLabelValues(string(pkt.Type)).Inc()
	if !pkt.Quiet {
		s.logger.Debug().Str("type", string(pkt.Type)).Msg("packet sent")
	}
	return nil
}

// Close requests a local disconnect. Safe to call from any goroutine and
// from error paths re-entrantly.
func (s *Session) Close() {
	s.close("local disconnect")
}

// close moves the session to CLOSED. The transition happens at most once;
// later calls return immediately, so the socket close runs exactly once.
func (s *Session) close(reason string) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	s.closeReason = reason
	conn := s.conn
	s.conn = nil
	close(s.done)
	s.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("error closing relay socket")
		}
	}
	metrics.SessionOpen.Set(0)
	s.logger.Info().Str("reason", reason).Msg("session closed")
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done returns a channel closed when the session reaches CLOSED.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// CloseReason returns why the session closed, or "" while it is still
// connecting or open.
func (s *Session) CloseReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeReason
}

// PeerID returns the participant identity bound to this connection.
func (s *Session) PeerID() int {
	return s.peerID
}
