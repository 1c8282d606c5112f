package proxyproto

import (
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
)

const defaultReadBufferSize = 512

// PostReadHeader will be called after reading the Proxy Protocol header.
// err is the read error, if any; parse failures travel inside result.
type PostReadHeader func(result HeaderResult, err error)

// Conn wraps a net.Conn behind a proxy, reading the Proxy Protocol header
// ahead of the application bytes.
//
// The header is read lazily, at most once, through a fixed read buffer:
// the connection is read into the buffer and the unified parser is retried
// until it stops reporting incomplete. Bytes past the header are served by
// Read before the underlying connection.
type Conn struct {
	net.Conn

	result    HeaderResult
	hasHeader bool
	rest      []byte

	readHeaderOnce    sync.Once
	readHeaderTimeout time.Duration // maximum time spent reading the header
	readBufferSize    int
	originalDeadline  time.Time // use to reset deadline after reading the header
	readHeaderErr     error

	disableProxyProtocol bool
	postFunc             PostReadHeader
}

func NewConn(conn net.Conn, opts ...Option) *Conn {
	c := &Conn{Conn: conn}

	for _, o := range opts {
		o(c)
	}
	return c
}

// Read implements net.Conn, in order to read the Proxy Protocol header.
func (c *Conn) Read(p []byte) (int, error) {
	c.readHeader()
	if c.readHeaderErr != nil {
		return 0, c.readHeaderErr
	}
	if len(c.rest) > 0 {
		n := copy(p, c.rest)
		c.rest = c.rest[n:]
		return n, nil
	}
	return c.Conn.Read(p)
}

// LocalAddr implements net.Conn, in order to read the Proxy Protocol header.
func (c *Conn) LocalAddr() net.Addr {
	c.readHeader()
	if _, dst := c.headerAddrs(); dst != nil {
		return dst
	}
	return c.Conn.LocalAddr()
}

// RemoteAddr implements net.Conn, in order to read the Proxy Protocol header.
func (c *Conn) RemoteAddr() net.Addr {
	c.readHeader()
	if src, _ := c.headerAddrs(); src != nil {
		return src
	}
	return c.Conn.RemoteAddr()
}

// SetDeadline implements net.Conn, in order to catch the deadline.
func (c *Conn) SetDeadline(t time.Time) error {
	c.originalDeadline = t
	return c.Conn.SetDeadline(t)
}

// SetReadDeadline implements net.Conn, in order to catch the deadline.
func (c *Conn) SetReadDeadline(t time.Time) error {
	c.originalDeadline = t
	return c.Conn.SetReadDeadline(t)
}

// HeaderResult the parsed header, reading it first if needed. It is zero
// when no header was parsed: disabled, passed through, or on an error.
func (c *Conn) HeaderResult() HeaderResult {
	c.readHeader()
	return c.result
}

// RawHeader the on-wire bytes of the header, nil when there is none.
func (c *Conn) RawHeader() []byte {
	c.readHeader()
	if !c.hasHeader {
		return nil
	}
	if c.result.Version() == Version2 {
		header, _ := c.result.V2()
		return header.Raw
	}
	header, _ := c.result.V1()
	return header.Raw
}

// TLVs a cursor over the v2 TLV region, empty for v1 or no header.
func (c *Conn) TLVs() TLVs {
	c.readHeader()
	if c.hasHeader && c.result.Version() == Version2 {
		header, _ := c.result.V2()
		return header.TLVs()
	}
	return TLVs{}
}

// Err the header read error.
func (c *Conn) Err() error {
	c.readHeader()
	return c.readHeaderErr
}

// ZapFields header fields for zap.
func (c *Conn) ZapFields() []zap.Field {
	c.readHeader()
	if !c.hasHeader {
		return nil
	}
	if c.result.Version() == Version2 {
		header, _ := c.result.V2()
		return header.ZapFields()
	}
	header, _ := c.result.V1()
	return header.ZapFields()
}

// LogrusFields header fields for logrus.
func (c *Conn) LogrusFields() logrus.Fields {
	c.readHeader()
	if !c.hasHeader {
		return nil
	}
	if c.result.Version() == Version2 {
		header, _ := c.result.V2()
		return header.LogrusFields()
	}
	header, _ := c.result.V1()
	return header.LogrusFields()
}

func (c *Conn) headerAddrs() (src, dst net.Addr) {
	if !c.hasHeader {
		return nil, nil
	}
	if c.result.Version() == Version2 {
		header, _ := c.result.V2()
		if header.Command == CMD_LOCAL {
			return nil, nil
		}
		return netAddrs(header.Addresses, header.TransportProtocol)
	}
	header, _ := c.result.V1()
	return v1NetAddrs(header.Addresses)
}

// readHeader reads the Proxy Protocol header only once.
func (c *Conn) readHeader() {
	c.readHeaderOnce.Do(func() {
		if c.disableProxyProtocol {
			return
		}

		if c.readHeaderTimeout > 0 {
			originalDeadline := c.originalDeadline
			c.SetReadDeadline(time.Now().Add(c.readHeaderTimeout))
			defer c.SetReadDeadline(originalDeadline)
		}

		size := c.readBufferSize
		if size <= 0 {
			size = defaultReadBufferSize
		}
		buf := make([]byte, 0, size)

		var result HeaderResult
		var readErr error
		for {
			n, err := c.Conn.Read(buf[len(buf):cap(buf)])
			buf = buf[:len(buf)+n]
			if n > 0 {
				result = Parse(buf)
				if !result.IsIncomplete() {
					break
				}
			}
			if err != nil {
				readErr = err
				break
			}
			if len(buf) == cap(buf) {
				readErr = errors.Errorf("header did not fit the %d byte read buffer", cap(buf))
				break
			}
		}

		if c.postFunc != nil {
			c.postFunc(result, readErr)
		}

		if readErr != nil {
			c.rest = buf
			c.readHeaderErr = errors.Wrap(readErr, "read proxy protocol header")
			return
		}

		if err := result.Err(); err != nil {
			c.rest = buf
			// it is not a pp1 or pp2 header: serve the bytes untouched
			if parseErr, ok := err.(*V1ParseError); ok && parseErr.Kind == V1InvalidPrefix {
				return
			}
			c.readHeaderErr = err
			return
		}

		c.result = result
		c.hasHeader = true
		c.rest = buf[result.Len():]
	})
}
