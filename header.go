package proxyproto

import (
	"bytes"
	"errors"

	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
)

type (
	Version           byte // Version 1 or 2
	Command           byte // Local or Proxy
	AddressFamily     byte // Unspec, IPv4, IPv6 or Unix
	TransportProtocol byte // Unspec, Stream or Datagram
)

const (
	Version1 Version = 0x1 // Version 1
	Version2 Version = 0x2 // Version 2

	CMD_LOCAL Command = 0x0 // Local
	CMD_PROXY Command = 0x1 // Proxy

	AF_UNSPEC AddressFamily = 0x0 // Unspec
	AF_INET   AddressFamily = 0x1 // IPv4
	AF_INET6  AddressFamily = 0x2 // IPv6
	AF_UNIX   AddressFamily = 0x3 // Unix

	SOCK_UNSPEC TransportProtocol = 0x0 // Unspec
	SOCK_STREAM TransportProtocol = 0x1 // Stream
	SOCK_DGRAM  TransportProtocol = 0x2 // Datagram
)

// canonical protocol tokens of a v1 line
const (
	TCP4    = "TCP4"
	TCP6    = "TCP6"
	UNKNOWN = "UNKNOWN"
)

var (
	v1Prefix = []byte("PROXY ")
	// v2 signature: \x0D\x0A\x0D\x0A\x00\x0D\x0A\x51\x55\x49\x54\x0A
	v2Signature = []byte("\r\n\r\n\x00\r\nQUIT\n")
)

// VersionCommand packs a version and a command into the 13th byte of a v2 header.
func VersionCommand(v Version, c Command) byte {
	return byte(v)<<4 | byte(c)
}

// FamilyProtocol packs an address family and a transport protocol into the
// 14th byte of a v2 header.
func FamilyProtocol(af AddressFamily, tp TransportProtocol) byte {
	return byte(af)<<4 | byte(tp)
}

// HeaderResult is the outcome of the unified Parse entry: the grammar the
// input committed to, and either a parsed header or that grammar's error.
type HeaderResult struct {
	version Version
	v1      V1Header
	v2      V2Header
	err     error
}

// Parse recognizes a PROXY protocol header at the front of input.
//
// Input beginning with the v2 signature, or a short input that is still a
// prefix of it, is parsed as v2; anything else is parsed as v1. The caller
// owns input: on an incomplete result it reads more bytes and calls Parse
// again with the grown buffer, and on success it advances past Len bytes.
func Parse(input []byte) HeaderResult {
	if hasV2Prefix(input) {
		header, err := ParseV2(input)
		return HeaderResult{version: Version2, v2: header, err: err}
	}

	header, err := ParseV1(input)
	return HeaderResult{version: Version1, v1: header, err: err}
}

func hasV2Prefix(input []byte) bool {
	if len(input) >= len(v2Signature) {
		return bytes.Equal(input[:len(v2Signature)], v2Signature)
	}
	return bytes.HasPrefix(v2Signature, input)
}

// Version reports which grammar the input committed to.
func (r HeaderResult) Version() Version {
	return r.version
}

// V1 returns the parsed v1 header, or the v1 parse error.
func (r HeaderResult) V1() (V1Header, error) {
	if r.version != Version1 {
		return V1Header{}, errors.New("header is not version 1")
	}
	return r.v1, r.err
}

// V2 returns the parsed v2 header, or the v2 parse error.
func (r HeaderResult) V2() (V2Header, error) {
	if r.version != Version2 {
		return V2Header{}, errors.New("header is not version 2")
	}
	return r.v2, r.err
}

// Err returns the parse error of the chosen grammar, if any.
func (r HeaderResult) Err() error {
	return r.err
}

// Len is the byte count of the recognized header, zero unless the parse
// succeeded.
func (r HeaderResult) Len() int {
	if r.err != nil {
		return 0
	}
	if r.version == Version2 {
		return r.v2.Len()
	}
	return r.v1.Len()
}

func (r HeaderResult) IsComplete() bool {
	return !r.IsIncomplete()
}

// IsIncomplete reports whether the caller should retry with more bytes.
func (r HeaderResult) IsIncomplete() bool {
	return IsIncomplete(r.err)
}

// IsIncomplete lifts the partiality predicate over errors: nil means the
// parse succeeded and is complete, a partial error means read more bytes,
// and any other error is a terminal verdict.
func IsIncomplete(err error) bool {
	var partial interface{ IsIncomplete() bool }
	if errors.As(err, &partial) {
		return partial.IsIncomplete()
	}
	return false
}

func (h V1Header) ZapFields() []zap.Field {
	var srcAddr, dstAddr string
	if src, dst := v1NetAddrs(h.Addresses); src != nil && dst != nil {
		srcAddr, dstAddr = src.String(), dst.String()
	}

	return []zap.Field{
		zap.String("version", Version1.String()),
		zap.String("protocol", h.Protocol()),
		zap.String("source_address", srcAddr),
		zap.String("destination_address", dstAddr),
	}
}

func (h V1Header) LogrusFields() logrus.Fields {
	var srcAddr, dstAddr string
	if src, dst := v1NetAddrs(h.Addresses); src != nil && dst != nil {
		srcAddr, dstAddr = src.String(), dst.String()
	}

	return logrus.Fields{
		"version":             Version1.String(),
		"protocol":            h.Protocol(),
		"source_address":      srcAddr,
		"destination_address": dstAddr,
	}
}

func (h V2Header) ZapFields() []zap.Field {
	var srcAddr, dstAddr string
	if src, dst := netAddrs(h.Addresses, h.TransportProtocol); src != nil && dst != nil {
		srcAddr, dstAddr = src.String(), dst.String()
	}

	fields := make([]zap.Field, 0, 7)
	fields = append(fields,
		zap.String("version", h.Version.String()),
		zap.String("command", h.Command.String()),
		zap.String("address_family", h.AddressFamily().String()),
		zap.String("transport_protocol", h.TransportProtocol.String()),
		zap.String("source_address", srcAddr),
		zap.String("destination_address", dstAddr),
	)
	if len(h.TLVBytes()) > 0 {
		fields = append(fields, zap.String("tlv_groups", h.TLVs().String()))
	}
	return fields
}

func (h V2Header) LogrusFields() logrus.Fields {
	var srcAddr, dstAddr string
	if src, dst := netAddrs(h.Addresses, h.TransportProtocol); src != nil && dst != nil {
		srcAddr, dstAddr = src.String(), dst.String()
	}

	fields := make(logrus.Fields, 7)
	fields["version"] = h.Version.String()
	fields["command"] = h.Command.String()
	fields["address_family"] = h.AddressFamily().String()
	fields["transport_protocol"] = h.TransportProtocol.String()
	fields["source_address"] = srcAddr
	fields["destination_address"] = dstAddr
	if len(h.TLVBytes()) > 0 {
		fields["tlv_groups"] = h.TLVs().String()
	}
	return fields
}

func (v Version) String() string {
	switch v {
	case Version1:
		return "V1"
	case Version2:
		return "V2"
	}
	return "Unknown"
}

func (c Command) String() string {
	switch c {
	case CMD_LOCAL:
		return "Local"
	case CMD_PROXY:
		return "Proxy"
	}
	return "Unknown"
}

func (af AddressFamily) String() string {
	switch af {
	case AF_UNSPEC:
		return "Unspec"
	case AF_INET:
		return "IPv4"
	case AF_INET6:
		return "IPv6"
	case AF_UNIX:
		return "Unix"
	}
	return "Unknown"
}

func (tp TransportProtocol) String() string {
	switch tp {
	case SOCK_UNSPEC:
		return "Unspec"
	case SOCK_STREAM:
		return "Stream"
	case SOCK_DGRAM:
		return "Datagram"
	}
	return "Unknown"
}
