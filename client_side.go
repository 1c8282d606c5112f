package proxyproto

import (
	"net"
	"sync"

	"github.com/pkg/errors"
)

// ClientConn wraps the upstream side of a proxied connection: the header
// is written once, ahead of the first payload write.
type ClientConn struct {
	net.Conn

	header         []byte
	writeOnce      sync.Once
	writeHeaderErr error
}

// NewClientConn sends the given on-wire header before the payload. An
// empty header turns the wrapper into a plain passthrough.
func NewClientConn(conn net.Conn, header []byte) *ClientConn {
	return &ClientConn{Conn: conn, header: header}
}

// NewClientProxyConn sends a v2 PROXY-command header carrying the given
// addresses before the payload.
func NewClientProxyConn(conn net.Conn, tp TransportProtocol, addresses V2Addresses) *ClientConn {
	header, _ := BuilderWithAddresses(VersionCommand(Version2, CMD_PROXY), tp, addresses).Build()
	return NewClientConn(conn, header)
}

// LocalV2Header the on-wire v2 LOCAL header: a health check carrying no
// client identity.
func LocalV2Header() []byte {
	header, _ := NewBuilder(VersionCommand(Version2, CMD_LOCAL), FamilyProtocol(AF_UNSPEC, SOCK_UNSPEC)).Build()
	return header
}

// WriteHeader sends the header now instead of on the first Write.
func (c *ClientConn) WriteHeader() error {
	c.writeHeader()
	return c.writeHeaderErr
}

// Write implements net.Conn, in order to send the header first.
func (c *ClientConn) Write(p []byte) (int, error) {
	c.writeHeader()
	if c.writeHeaderErr != nil {
		return 0, c.writeHeaderErr
	}
	return c.Conn.Write(p)
}

func (c *ClientConn) writeHeader() {
	c.writeOnce.Do(func() {
		if len(c.header) == 0 {
			return
		}
		if _, err := c.Conn.Write(c.header); err != nil {
			c.writeHeaderErr = errors.Wrap(err, "write proxy protocol header")
		}
	})
}
