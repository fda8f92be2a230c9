// Package ptconfig adapts the real goptlib pluggable-transports package
// to this bridge: it reads the Tor-managed-proxy environment, announces
// listening client methods back to Tor, and resolves the state directory
// used for the log file.
package ptconfig

import (
	"net"

	pt "git.torproject.org/pluggable-transports/goptlib.git"
)

// Config wraps the client-side environment goptlib parses from
// TOR_PT_* variables: which transport methods Tor wants, and (rarely)
// an upstream proxy URL this bridge doesn't support.
type Config struct {
	info pt.ClientInfo
}

// Load reads the Tor-managed-proxy client environment. Call once at
// startup, before announcing any method.
func Load() (*Config, error) {
	info, err := pt.ClientSetup(nil)
	if err != nil {
		return nil, err
	}
	return &Config{info: info}, nil
}

// Methods returns the transport method names Tor asked this bridge to
// support (TOR_PT_CLIENT_TRANSPORTS).
func (c *Config) Methods() []string {
	return c.info.MethodNames
}

// ProxyUnsupported reports whether Tor configured an upstream proxy
// (TOR_PT_PROXY); this bridge has no proxy-chaining support.
func (c *Config) ProxyUnsupported() bool {
	return c.info.ProxyURL != nil
}

// ProxyURL returns the raw upstream proxy URL string, for inclusion in a
// PROXY-ERROR message.
func (c *Config) ProxyURL() string {
	if c.info.ProxyURL == nil {
		return ""
	}
	return c.info.ProxyURL.String()
}

// StateDir resolves TOR_PT_STATE_LOCATION, creating the directory if
// needed. Used for the log file; ScrambleSuit session tickets are not
// persisted there or anywhere else.
func StateDir() (string, error) {
	return pt.MakeStateDir()
}

// AnnounceMethod emits a CMETHOD line for a successfully bound listener.
func AnnounceMethod(name string, addr net.Addr) {
	pt.Cmethod(name, "socks5", addr)
}

// AnnounceMethodError emits a CMETHOD-ERROR line for a method this
// bridge could not start.
func AnnounceMethodError(name, reason string) {
	pt.CmethodError(name, reason)
}

// AnnounceProxyError emits a PROXY-ERROR line; call instead of
// AnnounceMethod* when ProxyUnsupported is true.
func AnnounceProxyError(reason string) {
	pt.ProxyError(reason)
}

// Done emits CMETHODS DONE, signaling Tor that every requested method has
// been announced (successfully or not).
func Done() {
	pt.CmethodsDone()
}

// LogError emits a LOG message at error severity on the control channel,
// distinct from the on-disk obfsclient.log: this is the line Tor itself
// surfaces to its own log, reserved for failures Tor's operator should see
// without having to open the state directory.
func LogError(message string) {
	pt.Log(pt.LogSeverityError, message)
}
