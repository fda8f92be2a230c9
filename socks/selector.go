package socks

import (
	"net"

	"github.com/ginuerzh/gosocks5"
	"github.com/go-log/log"
)

// captureSelector implements gosocks5.Selector for the server side. Which
// method it offers/selects is tied to the transport (§4.2 step 1):
// ScrambleSuit carries its password/sessticket parameters in the
// USERNAME/PASSWORD auth fields and so requires that method; obfs2 and
// obfs3 take no parameters and use NO_AUTH. When USERNAME/PASSWORD is in
// effect, it captures UNAME||PASSWD verbatim rather than validating it —
// validation is the transport's job, surfaced later on the CONNECT reply
// (§4.2 step 2).
type captureSelector struct {
	method    string
	raw       string
	badMethod bool
}

func newCaptureSelector(method string) *captureSelector {
	return &captureSelector{method: method}
}

func (s *captureSelector) wantMethod() uint8 {
	if s.method == "scramblesuit" {
		return gosocks5.MethodUserPass
	}
	return gosocks5.MethodNoAuth
}

func (s *captureSelector) Methods() []uint8 {
	return []uint8{s.wantMethod()}
}

func (s *captureSelector) Select(methods ...uint8) uint8 {
	want := s.wantMethod()
	for _, m := range methods {
		if m == want {
			return want
		}
	}
	s.badMethod = true
	return gosocks5.MethodNoAcceptable
}

func (s *captureSelector) OnSelected(method uint8, conn net.Conn) (net.Conn, error) {
	switch method {
	case gosocks5.MethodUserPass:
		req, err := gosocks5.ReadUserPassRequest(conn)
		if err != nil {
			log.Log("[socks5] auth read:", err)
			return nil, err
		}
		s.raw = req.Username + req.Password

		// Always succeed here (§4.2 step 2): the SOCKS5 layer cannot
		// know whether parameters are valid; errors surface on CONNECT.
		resp := gosocks5.NewUserPassResponse(gosocks5.UserPassVer, gosocks5.Succeeded)
		if err := resp.Write(conn); err != nil {
			return nil, err
		}
	case gosocks5.MethodNoAcceptable:
		return nil, gosocks5.ErrBadMethod
	}
	return conn, nil
}
