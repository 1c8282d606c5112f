package proxyproto

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	v2SignatureLength = 12
	// v2MinimumLength signature(12) + ver_cmd(1) + fam_proto(1) + length(2).
	v2MinimumLength = 16
	v2LengthOffset  = 14

	nibbleMask = 0x0F
)

// V2ErrorKind classifies a v2 parse failure.
type V2ErrorKind int

const (
	V2Incomplete V2ErrorKind = iota
	V2Partial
	V2Prefix
	V2Version
	V2Command
	V2AddressFamily
	V2Protocol
	V2InvalidAddresses
	V2InvalidTLV
	V2Leftovers
)

// V2ParseError is a v2 parse failure. The context fields are populated per
// kind: Value is the offending nibble or TLV type, Declared the length a
// field claimed, and Actual the bytes seen, required or left over.
type V2ParseError struct {
	Kind     V2ErrorKind
	Value    byte
	Declared int
	Actual   int
}

func (e *V2ParseError) Error() string {
	switch e.Kind {
	case V2Incomplete:
		return fmt.Sprintf("pp2 header needs at least %d bytes, got %d", v2MinimumLength, e.Actual)
	case V2Partial:
		return fmt.Sprintf("pp2 header declares %d payload bytes, got %d", e.Declared, e.Actual)
	case V2Prefix:
		return "pp2 header must start with the v2 signature"
	case V2Version:
		return fmt.Sprintf("pp2 header has an unknown version %#x", e.Value)
	case V2Command:
		return fmt.Sprintf("pp2 header has an unknown command %#x", e.Value)
	case V2AddressFamily:
		return fmt.Sprintf("pp2 header has an unknown address family %#x", e.Value)
	case V2Protocol:
		return fmt.Sprintf("pp2 header has an unknown transport protocol %#x", e.Value)
	case V2InvalidAddresses:
		return fmt.Sprintf("pp2 header declares %d payload bytes, the address family requires %d", e.Declared, e.Actual)
	case V2InvalidTLV:
		return fmt.Sprintf("pp2 TLV of type %#x declares %d value bytes beyond the payload", e.Value, e.Declared)
	case V2Leftovers:
		return fmt.Sprintf("pp2 payload ends with %d bytes short of a TLV", e.Actual)
	}
	return "pp2 header is invalid"
}

// IsIncomplete reports whether a retry with more bytes may succeed.
func (e *V2ParseError) IsIncomplete() bool {
	return e.Kind == V2Incomplete || e.Kind == V2Partial
}

// V2Header is a parsed binary header. Raw aliases the caller's input
// buffer, spans the full frame, and must not outlive that buffer.
type V2Header struct {
	Raw               []byte
	Version           Version
	Command           Command
	TransportProtocol TransportProtocol
	Addresses         V2Addresses
}

// ParseV2 parses a binary header from the front of input. The returned
// header aliases input; bytes beyond the declared length belong to the
// caller and are never consumed.
func ParseV2(input []byte) (V2Header, error) {
	if len(input) < v2MinimumLength {
		return V2Header{}, &V2ParseError{Kind: V2Incomplete, Actual: len(input)}
	}
	if !bytes.Equal(input[:v2SignatureLength], v2Signature) {
		return V2Header{}, &V2ParseError{Kind: V2Prefix}
	}

	verCmd := input[v2SignatureLength]
	if Version(verCmd>>4) != Version2 {
		return V2Header{}, &V2ParseError{Kind: V2Version, Value: verCmd >> 4}
	}
	command := Command(verCmd & nibbleMask)
	if command != CMD_LOCAL && command != CMD_PROXY {
		return V2Header{}, &V2ParseError{Kind: V2Command, Value: byte(command)}
	}

	famProto := input[v2SignatureLength+1]
	family := AddressFamily(famProto >> 4)
	if family > AF_UNIX {
		return V2Header{}, &V2ParseError{Kind: V2AddressFamily, Value: byte(family)}
	}
	protocol := TransportProtocol(famProto & nibbleMask)
	if protocol > SOCK_DGRAM {
		return V2Header{}, &V2ParseError{Kind: V2Protocol, Value: byte(protocol)}
	}

	declared := int(binary.BigEndian.Uint16(input[v2LengthOffset:v2MinimumLength]))
	if required := family.addressBytes(); declared < required {
		return V2Header{}, &V2ParseError{Kind: V2InvalidAddresses, Declared: declared, Actual: required}
	}
	if len(input) < v2MinimumLength+declared {
		return V2Header{}, &V2ParseError{Kind: V2Partial, Declared: declared, Actual: len(input) - v2MinimumLength}
	}

	frame := input[:v2MinimumLength+declared]
	return V2Header{
		Raw:               frame,
		Version:           Version2,
		Command:           command,
		TransportProtocol: protocol,
		Addresses:         parseV2Addresses(family, frame[v2MinimumLength:]),
	}, nil
}

func parseV2Addresses(family AddressFamily, payload []byte) V2Addresses {
	switch family {
	case AF_INET:
		var a IPv4
		copy(a.SourceAddress[:], payload[0:4])
		copy(a.DestinationAddress[:], payload[4:8])
		a.SourcePort = binary.BigEndian.Uint16(payload[8:10])
		a.DestinationPort = binary.BigEndian.Uint16(payload[10:addressLengthIPv4])
		return a

	case AF_INET6:
		var a IPv6
		copy(a.SourceAddress[:], payload[0:16])
		copy(a.DestinationAddress[:], payload[16:32])
		a.SourcePort = binary.BigEndian.Uint16(payload[32:34])
		a.DestinationPort = binary.BigEndian.Uint16(payload[34:addressLengthIPv6])
		return a

	case AF_UNIX:
		var a Unix
		copy(a.Source[:], payload[:unixPathLength])
		copy(a.Destination[:], payload[unixPathLength:addressLengthUnix])
		return a
	}
	return Unspec{}
}

// AddressFamily of the parsed address block.
func (h V2Header) AddressFamily() AddressFamily {
	if h.Addresses == nil {
		return AF_UNSPEC
	}
	return h.Addresses.AddressFamily()
}

// Length is the declared payload byte count.
func (h V2Header) Length() int {
	if len(h.Raw) < v2MinimumLength {
		return 0
	}
	return len(h.Raw) - v2MinimumLength
}

// Len is the total byte count of the frame.
func (h V2Header) Len() int {
	return len(h.Raw)
}

// Bytes is the full frame, aliasing the parsed input.
func (h V2Header) Bytes() []byte {
	return h.Raw
}

// addressBytesEnd is the frame offset one past the address block. For the
// unspecified family the whole payload counts as address bytes.
func (h V2Header) addressBytesEnd() int {
	n := h.AddressFamily().addressBytes()
	if h.AddressFamily() == AF_UNSPEC || n > h.Length() {
		n = h.Length()
	}
	return v2MinimumLength + n
}

// AddressBytes is the raw address block of the payload.
func (h V2Header) AddressBytes() []byte {
	if len(h.Raw) < v2MinimumLength {
		return nil
	}
	return h.Raw[v2MinimumLength:h.addressBytesEnd()]
}

// TLVBytes is the raw TLV region of the payload.
func (h V2Header) TLVBytes() []byte {
	if len(h.Raw) < v2MinimumLength {
		return nil
	}
	return h.Raw[h.addressBytesEnd():]
}

// TLVs returns a fresh cursor over the TLV region. Each call restarts at
// the front; the underlying header is immutable.
func (h V2Header) TLVs() TLVs {
	return TLVs{rest: h.TLVBytes()}
}
