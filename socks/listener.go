// Package socks implements the SOCKS5-only, CONNECT-only front-end the
// dispatcher exposes to Tor. Negotiation is delegated to gosocks5; this
// package supplies the server-side Selector that captures per-method
// parameters and defers all validation to the CONNECT reply (§4.2).
package socks

import (
	"errors"
	"net"

	"github.com/ginuerzh/gosocks5"
	"github.com/go-log/log"

	"github.com/torbridge/ptbridge/session"
)

// ErrBadCommand is returned when the peer requests anything other than
// CONNECT (§4.2: "Only CMD=1 supported; other commands yield 0x07").
var ErrBadCommand = errors.New("socks: unsupported command")

// Negotiated is the result of a completed SOCKS5 negotiation: the raw
// connection (already past method selection), the CONNECT target, and
// any parameters captured from the USERNAME/PASSWORD auth phase.
type Negotiated struct {
	Conn   net.Conn
	Target session.Target
	Raw    string // concatenated UNAME||PASSWD, undecoded
}

// Listener wraps a bound loopback TCP listener for one PT method.
type Listener struct {
	Method string
	ln     net.Listener
}

// Listen binds a loopback TCP port chosen by the OS (§4.2).
func Listen(method string) (*Listener, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	return &Listener{Method: method, ln: ln}, nil
}

// Addr returns the bound address, for the CMETHOD line.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Close stops accepting new connections; sessions already accepted are
// unaffected (§5: first SIGINT closes listeners, not sessions).
func (l *Listener) Close() error { return l.ln.Close() }

// Accept blocks for the next inbound connection and returns it, already
// past net.Listener.Accept but before SOCKS5 negotiation.
func (l *Listener) Accept() (net.Conn, error) {
	return l.ln.Accept()
}

// Negotiate runs the SOCKS5 client-negotiation sub-state-machine (§4.2)
// on an accepted connection for the given transport method, which
// determines whether NO_AUTH or USERNAME/PASSWORD is offered. On any
// protocol violation it writes the appropriate short error reply itself
// and returns an error; on success it returns a Negotiated ready to be
// handed to a Session. It never writes the final CONNECT reply — that
// belongs to the Session once the transport handshake resolves.
func Negotiate(conn net.Conn, method string) (*Negotiated, error) {
	sel := newCaptureSelector(method)
	sc := gosocks5.ServerConn(conn, sel)

	req, err := gosocks5.ReadRequest(sc)
	if err != nil {
		if sel.badMethod {
			log.Log("[socks5] no acceptable method")
		}
		return nil, err
	}

	if req.Cmd != gosocks5.CmdConnect {
		rep := gosocks5.NewReply(gosocks5.CmdUnsupported, nil)
		rep.Write(sc)
		return nil, ErrBadCommand
	}

	target, err := targetFromAddr(req.Addr)
	if err != nil {
		rep := gosocks5.NewReply(gosocks5.AddrUnsupported, nil)
		rep.Write(sc)
		return nil, err
	}

	return &Negotiated{Conn: sc, Target: target, Raw: sel.raw}, nil
}

func targetFromAddr(addr *gosocks5.Addr) (session.Target, error) {
	if addr == nil {
		return session.Target{}, errors.New("socks: missing address")
	}
	return session.Target{Host: addr.Host, Port: addr.Port}, nil
}
