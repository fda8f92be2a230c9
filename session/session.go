package session

import (
	"bytes"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/go-log/log"
)

// Target is the parsed SOCKS5 CONNECT destination.
type Target struct {
	Host string
	Port uint16
}

func (t Target) String() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(int(t.Port)))
}

// connEndpoint adapts a net.Conn to the Endpoint interface transports use.
type connEndpoint struct {
	conn net.Conn
}

func (e connEndpoint) Write(p []byte) (int, error) { return e.conn.Write(p) }

// Session is the composition object described in §3: an inbound
// (Tor-facing) endpoint, an outbound (bridge-facing) endpoint, a
// Transport, and the relay loop that connects them once ESTABLISHED.
//
// Ownership follows §9's handle/arena redesign: a Session never holds a
// reference back to its Registry, only the Registry holds the Session,
// keyed by an opaque ID. A Session that is finished just returns from
// Run or Relay; the connection handler that inserted it then calls
// Registry.Remove with its ID.
type Session struct {
	id        uint64
	inbound   net.Conn
	outbound  net.Conn
	transport Transport
	target    Target
	params    Params

	mu     sync.Mutex
	state  State
	closed bool
}

// New constructs a Session in state INIT. Dial has not been attempted yet.
func New(id uint64, inbound net.Conn, target Target, params Params, t Transport) *Session {
	return &Session{
		id:        id,
		inbound:   inbound,
		target:    target,
		params:    params,
		transport: t,
		state:     StateInit,
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Run dials the outbound bridge connection, drives the transport
// handshake, and calls onEstablished the instant the transport reaches
// ESTABLISHED — before any post-handshake bytes the transport coalesced
// into that same read are ever written to the inbound (Tor-facing)
// connection. onEstablished is the caller's hook for writing the SOCKS5
// CONNECT success reply, so Tor never sees relayed payload ahead of it.
// It returns the SOCKS5 reply code that should be sent to Tor (0x00 on
// success) and the error, if any, that caused a non-zero reply.
//
// Run closes both endpoints itself on any failure (dial, handshake, or
// onEstablished). On success it leaves both endpoints open: the caller
// owns their lifetime from there and must call Relay, which closes them
// once the relay finishes.
func (s *Session) Run(dial func(addr string) (net.Conn, error), onEstablished func() error) (byte, error) {
	s.setState(StateConnecting)
	outbound, err := dial(s.target.String())
	if err != nil {
		s.Close()
		return 0x04, NewKindedError(ErrKindUnreachable, "dial: "+err.Error())
	}
	s.outbound = outbound

	s.setState(StateHandshaking)
	if err := s.handshake(onEstablished); err != nil {
		s.Close()
		return ReplyCodeFor(err), err
	}

	s.setState(StateEstablished)
	return 0x00, nil
}

// handshake drives OnOutboundConnected then alternates delivering
// outbound bytes to the transport until Established() is true or the
// deadline expires. Bytes the transport writes toward the inbound
// connection during handshake are captured in a buffer rather than
// written straight through, so the establishing call's leftover forward
// (e.g. obfs2's decryptAndForward of post-handshake payload) never
// reaches Tor before onEstablished has had a chance to send the SOCKS5
// reply first.
func (s *Session) handshake(onEstablished func() error) error {
	out := connEndpoint{s.outbound}
	var buffered bytes.Buffer

	if err := s.transport.OnOutboundConnected(out); err != nil {
		return err
	}
	if s.transport.Established() {
		return s.notifyEstablished(onEstablished, nil)
	}

	deadline := time.Now().Add(HandshakeTimeout)
	if err := s.outbound.SetReadDeadline(deadline); err != nil {
		log.Log("[session] SetReadDeadline:", err)
	}

	buf := make([]byte, 4096)
	for !s.transport.Established() {
		n, err := s.outbound.Read(buf)
		if err != nil {
			if isTimeout(err) {
				return s.timeoutErr()
			}
			return NewKindedError(ErrKindUnreachable, "handshake read: "+err.Error())
		}
		buffered.Reset()
		if err := s.transport.OnOutboundData(buf[:n], &buffered); err != nil {
			return err
		}
		if s.transport.Established() {
			return s.notifyEstablished(onEstablished, buffered.Bytes())
		}
	}
	return nil
}

// notifyEstablished clears the handshake read deadline, invokes the
// caller's ESTABLISHED hook, and only then flushes any post-handshake
// bytes the transport already produced onto the real inbound connection.
func (s *Session) notifyEstablished(onEstablished func() error, leftover []byte) error {
	if err := s.outbound.SetReadDeadline(time.Time{}); err != nil {
		log.Log("[session] SetReadDeadline:", err)
	}
	if onEstablished != nil {
		if err := onEstablished(); err != nil {
			return NewKindedError(ErrKindUnreachable, "session: establish notify: "+err.Error())
		}
	}
	if len(leftover) > 0 {
		if _, err := s.inbound.Write(leftover); err != nil {
			return NewKindedError(ErrKindUnreachable, "session: flush post-handshake data: "+err.Error())
		}
	}
	return nil
}

func (s *Session) timeoutErr() error {
	if err := s.transport.OnTimeout(); err != nil {
		return err
	}
	return NewKindedError(ErrKindTimeout, "handshake timed out")
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	t, ok := err.(timeouter)
	return ok && t.Timeout()
}

// Relay pumps bytes in both directions once ESTABLISHED, applying the
// transport's per-direction transform. Each direction runs on its own
// goroutine (grounded on gost's transport() copy-pair idiom); back-
// pressure is delegated to net.Conn.Write's blocking semantics, which
// suspends the paired Read until the destination accepts bytes, matching
// §4.3's high/low-watermark suspend-and-resume behavior without a
// separate buffering layer. Relay owns closing the session: once either
// direction ends, it closes both endpoints itself, which unblocks the
// other direction's pending Read, then waits for it to finish before
// returning.
func (s *Session) Relay() {
	in := connEndpoint{s.inbound}
	out := connEndpoint{s.outbound}

	errc := make(chan error, 2)
	go func() { errc <- s.pump(s.inbound, out, s.transport.OnInboundData) }()
	go func() { errc <- s.pump(s.outbound, in, s.transport.OnOutboundData) }()
	<-errc

	s.setState(StateFlushingClose)
	s.Close()
	<-errc
}

type transformFunc func(data []byte, dst Endpoint) error

func (s *Session) pump(src net.Conn, dst Endpoint, transform transformFunc) error {
	buf := make([]byte, HighWatermark)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if terr := transform(buf[:n], dst); terr != nil {
				return terr
			}
		}
		if err != nil {
			return err
		}
	}
}

// Close tears down both endpoints and scrubs the transport's key
// material. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.state = StateClosed
	s.mu.Unlock()

	s.transport.Teardown()
	if s.inbound != nil {
		s.inbound.Close()
	}
	if s.outbound != nil {
		s.outbound.Close()
	}
}

// ID returns the Session's registry handle.
func (s *Session) ID() uint64 { return s.id }
