package proxyproto

import "time"

type Option func(*Conn)

// WithReadHeaderTimeout read the header with a timeout
func WithReadHeaderTimeout(duration time.Duration) Option {
	return func(c *Conn) {
		c.readHeaderTimeout = duration
	}
}

// WithDisableProxyProto the header is not read
func WithDisableProxyProto(disable bool) Option {
	return func(c *Conn) {
		c.disableProxyProtocol = disable
	}
}

// WithPostReadHeader want to do after reading the header, such as logging
func WithPostReadHeader(fn PostReadHeader) Option {
	return func(c *Conn) {
		c.postFunc = fn
	}
}

// WithReadBufferSize the read buffer the header must fit in, 512 by default
func WithReadBufferSize(size int) Option {
	return func(c *Conn) {
		c.readBufferSize = size
	}
}
