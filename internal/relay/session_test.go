package relay

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/paceline-project/paceline/internal/protocol"
)

// chanHandler funnels dispatched packets into a channel so tests can
// assert on arrival order.
type chanHandler struct {
	ch chan *protocol.Packet
}

func newChanHandler() *chanHandler {
	return &chanHandler{ch: make(chan *protocol.Packet, 32)}
}

func (h *chanHandler) HandlePacket(ctx context.Context, pkt *protocol.Packet) {
	h.ch <- pkt
}

func (h *chanHandler) next(t *testing.T) *protocol.Packet {
	t.Helper()
	select {
	case pkt := <-h.ch:
		return pkt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for packet")
		return nil
	}
}

func (h *chanHandler) expectNone(t *testing.T) {
	t.Helper()
	select {
	case pkt := <-h.ch:
		t.Fatalf("unexpected packet dispatched: %+v", pkt)
	case <-time.After(100 * time.Millisecond):
	}
}

// startRelay listens on loopback and returns the listener plus a channel
// yielding the accepted server-side connection.
func startRelay(t *testing.T) (net.Listener, <-chan net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		accepted <- conn
	}()
	return ln, accepted
}

func openSession(t *testing.T, handler PacketHandler, peerID int, room string) (*Session, net.Conn) {
	t.Helper()
	ln, accepted := startRelay(t)

	sess := NewSession(ln.Addr().String(), peerID, room, handler)
	if sess.State() != StateConnecting {
		t.Fatalf("initial state = %s", sess.State())
	}
	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if sess.State() != StateOpen {
		t.Fatalf("state after connect = %s", sess.State())
	}
	t.Cleanup(sess.Close)

	var server net.Conn
	select {
	case server = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("relay never accepted the connection")
	}
	t.Cleanup(func() { server.Close() })
	return sess, server
}

func TestSessionDeliversSplitFramesInOrder(t *testing.T) {
	handler := newChanHandler()
	sess, server := openSession(t, handler, 1, "weekly")
	go sess.Run(context.Background())

	// First packet arrives split mid-payload, second in the same write as
	// the first one's delimiter.
	server.Write([]byte(`{"type":"UPDATE_CLIENT_DATA","data":{"file`))
	server.Write([]byte("Num\":255}}\n{\"type\":\"RESET\"}\n"))

	first := handler.next(t)
	if first.Type != protocol.TypeUpdateClientData {
		t.Errorf("first packet type = %q", first.Type)
	}
	if first.Data.FileNum() != protocol.FileNumNoSave {
		t.Errorf("fileNum = %d", first.Data.FileNum())
	}
	second := handler.next(t)
	if second.Type != protocol.TypeReset {
		t.Errorf("second packet type = %q", second.Type)
	}
}

func TestSessionStampsInboundIdentity(t *testing.T) {
	handler := newChanHandler()
	sess, server := openSession(t, handler, 9, "")
	go sess.Run(context.Background())

	// The wire claims clientId 42; the connection identity wins.
	server.Write([]byte(`{"type":"UPDATE_CLIENT_DATA","clientId":42,"data":{"fileNum":255}}` + "\n"))

	pkt := handler.next(t)
	if pkt.ClientID != 9 {
		t.Errorf("clientId = %d, want connection identity 9", pkt.ClientID)
	}
}

func TestSendFramesAndStampsRoom(t *testing.T) {
	handler := newChanHandler()
	sess, server := openSession(t, handler, 1, "weekly")

	if err := sess.Send(protocol.NewReset(4)); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := sess.Send(protocol.NewServerMessage(4, "be right back")); err != nil {
		t.Fatalf("send: %v", err)
	}

	server.SetReadDeadline(time.Now().Add(2 * time.Second))
	scanner := bufio.NewScanner(server)
	for i, wantType := range []protocol.PacketType{protocol.TypeReset, protocol.TypeServerMessage} {
		if !scanner.Scan() {
			t.Fatalf("missing frame %d: %v", i, scanner.Err())
		}
		var pkt protocol.Packet
		if err := json.Unmarshal(scanner.Bytes(), &pkt); err != nil {
			t.Fatalf("frame %d not valid JSON: %v", i, err)
		}
		if pkt.Type != wantType {
			t.Errorf("frame %d type = %q, want %q", i, pkt.Type, wantType)
		}
		if pkt.RoomID != "weekly" {
			t.Errorf("frame %d roomId = %q, want stamped room", i, pkt.RoomID)
		}
	}
}

func TestUndecodablePayloadIsDroppedNotFatal(t *testing.T) {
	handler := newChanHandler()
	sess, server := openSession(t, handler, 1, "")
	go sess.Run(context.Background())

	server.Write([]byte("this is not json\n"))
	server.Write([]byte(`{"clientId":5}` + "\n"))          // type-less
	server.Write([]byte(`{"type":"WHAT_IS_THIS"}` + "\n")) // unrecognized
	server.Write([]byte(`{"type":"RESET"}` + "\n"))

	pkt := handler.next(t)
	if pkt.Type != protocol.TypeReset {
		t.Errorf("dispatched type = %q, want only the RESET", pkt.Type)
	}
	handler.expectNone(t)
	if sess.State() != StateOpen {
		t.Errorf("decode errors closed the session: %s", sess.State())
	}
}

func TestRemoteCloseEndsSession(t *testing.T) {
	handler := newChanHandler()
	sess, server := openSession(t, handler, 1, "")

	runDone := make(chan struct{})
	go func() {
		sess.Run(context.Background())
		close(runDone)
	}()

	server.Close()

	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatal("read loop did not exit on remote close")
	}
	if sess.State() != StateClosed {
		t.Errorf("state = %s, want closed", sess.State())
	}
	if err := sess.Send(protocol.NewReset(1)); err != ErrClosed {
		t.Errorf("send after remote close = %v, want ErrClosed", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	handler := newChanHandler()
	sess, _ := openSession(t, handler, 1, "")

	sess.Close()
	sess.Close() // re-entrant close must be a no-op
	if sess.State() != StateClosed {
		t.Fatalf("state = %s", sess.State())
	}

	select {
	case <-sess.Done():
	default:
		t.Error("done channel not closed")
	}
	if err := sess.Send(protocol.NewReset(1)); err != ErrClosed {
		t.Errorf("send after close = %v, want ErrClosed", err)
	}
}

func TestContextCancelClosesSession(t *testing.T) {
	handler := newChanHandler()
	sess, _ := openSession(t, handler, 1, "")

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		sess.Run(ctx)
		close(runDone)
	}()

	cancel()

	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatal("read loop did not exit on context cancel")
	}
	if sess.State() != StateClosed {
		t.Errorf("state = %s, want closed", sess.State())
	}
}

func TestConnectFailureClosesSession(t *testing.T) {
	ln, _ := startRelay(t)
	addr := ln.Addr().String()
	ln.Close() // nothing listening anymore

	sess := NewSession(addr, 1, "", newChanHandler())
	if err := sess.Connect(context.Background()); err == nil {
		t.Fatal("connect to dead address succeeded")
	}
	if sess.State() != StateClosed {
		t.Errorf("state after failed connect = %s, want closed", sess.State())
	}
}
