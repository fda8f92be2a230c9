// Command ptbridge is a Tor client-side pluggable transport dispatcher.
// Tor launches it as a managed proxy, telling it (via TOR_PT_* environment
// variables) which of obfs2, obfs3, and scramblesuit to expose as SOCKS5
// listeners; each accepted connection is negotiated, dialed to the bridge
// address Tor supplies, handshaked under the requested transport, and
// relayed until either side closes.
package main

import (
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"syscall"

	golog "log"

	"github.com/go-log/log"

	"github.com/torbridge/ptbridge/ptconfig"
	"github.com/torbridge/ptbridge/session"
	"github.com/torbridge/ptbridge/socks"
	"github.com/torbridge/ptbridge/transport/obfs2"
	"github.com/torbridge/ptbridge/transport/obfs3"
	"github.com/torbridge/ptbridge/transport/scramblesuit"

	"github.com/ginuerzh/gosocks5"
)

// Version is the ptbridge release string.
const Version = "1.0.0"

var (
	flagVersion        = flag.Bool("version", false, "print version and exit")
	flagDebug          = flag.Bool("debug", false, "enable debug logging")
	flagUnsafeLogs     = flag.Bool("unsafe-logs", false, "log connection addresses (unsafe)")
	flagWaitForDebugger = flag.Bool("wait-for-debugger", false, "block after startup for a debugger to attach")
)

// unsafeLogs mirrors --unsafe-logs so transports/handlers can decide
// whether to include remote addresses in log lines.
var unsafeLogs atomic.Bool

// logger adapts the standard library's log.Logger to go-log/log's
// Logger interface, the same shape gost's own LogLogger uses.
type logger struct {
	l *golog.Logger
}

func (g *logger) Log(v ...interface{})                 { g.l.Println(v...) }
func (g *logger) Logf(format string, v ...interface{}) { g.l.Printf(format, v...) }

func main() {
	flag.Parse()

	if *flagVersion {
		fmt.Fprintf(os.Stderr, "ptbridge %s (%s)\n", Version, runtime.Version())
		os.Exit(0)
	}
	if *flagWaitForDebugger {
		fmt.Fprintln(os.Stderr, "ptbridge: waiting for debugger, send SIGCONT to continue")
		syscall.Kill(os.Getpid(), syscall.SIGSTOP)
	}
	unsafeLogs.Store(*flagUnsafeLogs)

	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "ptbridge:", err)
		ptconfig.LogError(err.Error())
		os.Exit(1)
	}
}

func run() error {
	stateDir, err := ptconfig.StateDir()
	if err != nil {
		return err
	}
	if err := setupLogging(stateDir); err != nil {
		return err
	}
	log.Log("[main] ptbridge", Version, "starting, pid", os.Getpid())

	cfg, err := ptconfig.Load()
	if err != nil {
		return err
	}
	if cfg.ProxyUnsupported() {
		ptconfig.AnnounceProxyError("proxy " + cfg.ProxyURL() + " is not supported")
		return fmt.Errorf("unsupported upstream proxy %s", cfg.ProxyURL())
	}

	registry := session.NewRegistry()
	var listeners []*socks.Listener

	for _, method := range cfg.Methods() {
		if !supportedMethod(method) {
			ptconfig.AnnounceMethodError(method, "no such method")
			continue
		}
		ln, err := socks.Listen(method)
		if err != nil {
			ptconfig.AnnounceMethodError(method, err.Error())
			ptconfig.LogError("bind " + method + ": " + err.Error())
			continue
		}
		listeners = append(listeners, ln)
		ptconfig.AnnounceMethod(method, ln.Addr())
		go acceptLoop(ln, registry)
	}
	ptconfig.Done()

	if len(listeners) == 0 {
		log.Log("[main] no supported transports found, exiting")
		return nil
	}

	// Mirrors the reference client's signal(SIGPIPE, SIG_IGN): a blocking
	// Write past a closed socket returns EPIPE, not a signal, on every
	// platform Go supports, but the ignore is kept here as a defensive
	// backstop for any transitive C library that installs its own handler.
	signal.Ignore(syscall.SIGPIPE)

	waitForShutdown(listeners, registry)
	return nil
}

func supportedMethod(name string) bool {
	switch name {
	case "obfs2", "obfs3", "scramblesuit":
		return true
	default:
		return false
	}
}

// waitForShutdown blocks until Tor asks ptbridge to exit. The first
// SIGINT stops accepting new connections; the second tears down every
// live session and returns.
func waitForShutdown(listeners []*socks.Listener, registry *session.Registry) {
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt)

	<-sigc
	log.Log("[main] closing all listeners")
	for _, ln := range listeners {
		ln.Close()
	}

	<-sigc
	log.Log("[main] closing all sessions")
	registry.CloseAll()
}

func acceptLoop(ln *socks.Listener, registry *session.Registry) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Temporary() {
				continue
			}
			return
		}
		go handle(ln.Method, conn, registry)
	}
}

func handle(method string, conn net.Conn, registry *session.Registry) {
	negotiated, err := socks.Negotiate(conn, method)
	if err != nil {
		log.Log("[socks5]", method, "negotiate:", err)
		conn.Close()
		return
	}

	params, err := session.ParseParams(negotiated.Raw)
	if err != nil {
		log.Log("[socks5]", method, "bad parameters:", err)
		writeReply(negotiated.Conn, gosocks5.Failure)
		negotiated.Conn.Close()
		return
	}

	transport, err := newTransport(method, params)
	if err != nil {
		log.Log("[socks5]", method, "transport init:", err)
		writeReply(negotiated.Conn, gosocks5.Failure)
		negotiated.Conn.Close()
		return
	}

	id := registry.NextID()
	sess := session.New(id, negotiated.Conn, negotiated.Target, params, transport)
	registry.Insert(sess)
	defer registry.Remove(id)

	// onEstablished fires the instant the transport reaches ESTABLISHED,
	// before Run ever flushes any post-handshake bytes the transport
	// coalesced into the same read — the SOCKS5 success reply must reach
	// Tor first, or relayed payload would arrive ahead of it.
	onEstablished := func() error {
		return writeReplyErr(negotiated.Conn, gosocks5.Succeeded)
	}

	code, err := sess.Run(func(addr string) (net.Conn, error) {
		return net.Dial("tcp", addr)
	}, onEstablished)
	if err != nil {
		if unsafeLogs.Load() {
			log.Log("[socks5]", method, negotiated.Target, "handshake failed:", err)
		} else {
			log.Log("[socks5]", method, "handshake failed:", err)
		}
		writeReply(negotiated.Conn, code)
		return
	}

	sess.Relay()
}

func writeReply(conn net.Conn, code byte) {
	if err := writeReplyErr(conn, code); err != nil {
		log.Log("[socks5] reply write:", err)
	}
}

func writeReplyErr(conn net.Conn, code byte) error {
	return gosocks5.NewReply(code, nil).Write(conn)
}

func newTransport(method string, params session.Params) (session.Transport, error) {
	switch method {
	case "obfs2":
		return obfs2.New(), nil
	case "obfs3":
		return obfs3.New(), nil
	case "scramblesuit":
		return scramblesuit.New(params)
	default:
		return nil, fmt.Errorf("unsupported method %q", method)
	}
}

func setupLogging(stateDir string) error {
	f, err := os.OpenFile(filepath.Join(stateDir, "obfsclient.log"), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		return err
	}
	var w io.Writer = f
	flags := golog.LstdFlags
	if *flagDebug {
		flags |= golog.Lshortfile
	}
	log.DefaultLogger = &logger{l: golog.New(w, "", flags)}
	return nil
}
