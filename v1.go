package proxyproto

import (
	"bytes"
	"fmt"
	"net/netip"
	"strconv"
	"unicode/utf8"

	"github.com/pkg/errors"
)

const (
	// worst case (optional fields set to 0xff):
	// "PROXY UNKNOWN ffff:f...f:ffff ffff:f...f:ffff 65535 65535\r\n"
	// => 5 + 1 + 7 + 1 + 39 + 1 + 39 + 1 + 5 + 1 + 5 + 2 = 107 chars
	v1HeaderMaxLength = 107

	// prefix, protocol, two addresses, two ports, and an optional trailer
	v1MaxParts = 7
)

var (
	crlf        = []byte("\r\n")
	v1Separator = []byte(" ")

	errNotIPv4 = errors.New("not an IPv4 address")
	errNotIPv6 = errors.New("not an IPv6 address")
)

// V1ErrorKind classifies a v1 parse failure.
type V1ErrorKind int

const (
	V1InvalidPrefix V1ErrorKind = iota
	V1MissingNewLine
	V1HeaderTooLong
	V1MissingProtocol
	V1InvalidProtocol
	V1MissingSourceAddress
	V1MissingDestinationAddress
	V1MissingSourcePort
	V1MissingDestinationPort
	V1InvalidSourceAddress
	V1InvalidDestinationAddress
	V1InvalidSourcePort
	V1InvalidDestinationPort
	V1UnexpectedCharacters
	V1Partial
	V1InvalidUtf8
)

// V1ParseError is a v1 parse failure. Cause carries the underlying address,
// port or encoding error when the failure was delegated to a lower-level
// parser; it is nil otherwise.
type V1ParseError struct {
	Kind  V1ErrorKind
	Cause error
}

func v1Error(kind V1ErrorKind) *V1ParseError {
	return &V1ParseError{Kind: kind}
}

func v1CauseError(kind V1ErrorKind, cause error) *V1ParseError {
	return &V1ParseError{Kind: kind, Cause: cause}
}

func (k V1ErrorKind) message() string {
	switch k {
	case V1InvalidPrefix:
		return "pp1 header must start with 'PROXY'"
	case V1MissingNewLine:
		return "pp1 header must end with '\\r\\n'"
	case V1HeaderTooLong:
		return "pp1 header exceeds 107 bytes"
	case V1MissingProtocol:
		return "pp1 header is missing a protocol"
	case V1InvalidProtocol:
		return "pp1 header has an invalid protocol"
	case V1MissingSourceAddress:
		return "pp1 header is missing a source address"
	case V1MissingDestinationAddress:
		return "pp1 header is missing a destination address"
	case V1MissingSourcePort:
		return "pp1 header is missing a source port"
	case V1MissingDestinationPort:
		return "pp1 header is missing a destination port"
	case V1InvalidSourceAddress:
		return "pp1 header has an invalid source address"
	case V1InvalidDestinationAddress:
		return "pp1 header has an invalid destination address"
	case V1InvalidSourcePort:
		return "pp1 header has an invalid source port"
	case V1InvalidDestinationPort:
		return "pp1 header has an invalid destination port"
	case V1UnexpectedCharacters:
		return "pp1 header has unexpected characters after the destination port"
	case V1Partial:
		return "pp1 header is only partially present"
	case V1InvalidUtf8:
		return "pp1 header is not valid UTF-8"
	}
	return "pp1 header is invalid"
}

func (e *V1ParseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Kind.message(), e.Cause)
	}
	return e.Kind.message()
}

func (e *V1ParseError) Unwrap() error {
	return e.Cause
}

// IsIncomplete reports whether a retry with more bytes may succeed.
func (e *V1ParseError) IsIncomplete() bool {
	return e.Kind == V1MissingNewLine || e.Kind == V1Partial
}

// V1Header is a parsed text header. Raw aliases the caller's input buffer,
// spans the full line including the trailing CRLF, and must not outlive
// that buffer.
type V1Header struct {
	Raw       []byte
	Addresses Addresses
}

func (h V1Header) Len() int {
	return len(h.Raw)
}

// Protocol is the canonical protocol token of the line.
func (h V1Header) Protocol() string {
	return h.Addresses.Protocol()
}

// AddressBytes is the portion of the line between the protocol token and
// the CRLF, without copying. Empty when the line carries no addresses.
func (h V1Header) AddressBytes() []byte {
	end := len(h.Raw) - len(crlf)
	skip := len(v1Prefix) + len(h.Protocol())
	if skip+1 <= end {
		skip++ // separator after the protocol token
	}
	if skip > end {
		skip = end
	}
	return h.Raw[skip:end]
}

// ParseV1 parses a text header from the front of input. The returned header
// aliases input; bytes beyond the CRLF are left to the caller.
func ParseV1(input []byte) (V1Header, error) {
	end := bytes.Index(input, crlf)
	if end < 0 {
		if len(input) >= v1HeaderMaxLength {
			return V1Header{}, v1Error(V1HeaderTooLong)
		}
		return V1Header{}, v1Error(V1MissingNewLine)
	}

	frame := input[:end+len(crlf)]
	if len(frame) > v1HeaderMaxLength {
		return V1Header{}, v1Error(V1HeaderTooLong)
	}
	if !utf8.Valid(frame) {
		return V1Header{}, v1Error(V1InvalidUtf8)
	}

	addresses, err := parseV1Line(input[:end])
	if err != nil {
		return V1Header{}, err
	}
	return V1Header{Raw: frame, Addresses: addresses}, nil
}

// ParseV1String is the string form of ParseV1.
func ParseV1String(input string) (V1Header, error) {
	return ParseV1([]byte(input))
}

func parseV1Line(line []byte) (Addresses, error) {
	parts := bytes.SplitN(line, v1Separator, v1MaxParts)
	if !bytes.Equal(parts[0], v1Prefix[:len(v1Prefix)-1]) {
		return nil, v1Error(V1InvalidPrefix)
	}
	if len(parts) < 2 {
		return nil, v1Error(V1MissingProtocol)
	}

	switch string(parts[1]) {
	case TCP4:
		return parseV1Tcp4(parts)
	case TCP6:
		return parseV1Tcp6(parts)
	case UNKNOWN:
		// the rest of the line is consumed without interpretation
		return Unknown{}, nil
	case "":
		return nil, v1Error(V1MissingProtocol)
	}
	return nil, v1Error(V1InvalidProtocol)
}

func parseV1Tcp4(parts [][]byte) (Addresses, error) {
	if err := checkV1Parts(parts); err != nil {
		return nil, err
	}

	src, err := parseV1IPv4(parts[2])
	if err != nil {
		return nil, v1CauseError(V1InvalidSourceAddress, err)
	}
	dst, err := parseV1IPv4(parts[3])
	if err != nil {
		return nil, v1CauseError(V1InvalidDestinationAddress, err)
	}

	srcPort, dstPort, err := parseV1Ports(parts[4], parts[5])
	if err != nil {
		return nil, err
	}
	if len(parts) > 6 {
		return nil, v1Error(V1UnexpectedCharacters)
	}
	return NewIPv4(src, dst, srcPort, dstPort), nil
}

func parseV1Tcp6(parts [][]byte) (Addresses, error) {
	if err := checkV1Parts(parts); err != nil {
		return nil, err
	}

	src, err := parseV1IPv6(parts[2])
	if err != nil {
		return nil, v1CauseError(V1InvalidSourceAddress, err)
	}
	dst, err := parseV1IPv6(parts[3])
	if err != nil {
		return nil, v1CauseError(V1InvalidDestinationAddress, err)
	}

	srcPort, dstPort, err := parseV1Ports(parts[4], parts[5])
	if err != nil {
		return nil, err
	}
	if len(parts) > 6 {
		return nil, v1Error(V1UnexpectedCharacters)
	}
	return NewIPv6(src, dst, srcPort, dstPort), nil
}

func checkV1Parts(parts [][]byte) error {
	switch len(parts) {
	case 2:
		return v1Error(V1MissingSourceAddress)
	case 3:
		return v1Error(V1MissingDestinationAddress)
	case 4:
		return v1Error(V1MissingSourcePort)
	case 5:
		return v1Error(V1MissingDestinationPort)
	}
	return nil
}

func parseV1IPv4(field []byte) ([4]byte, error) {
	addr, err := netip.ParseAddr(string(field))
	if err != nil {
		return [4]byte{}, err
	}
	if !addr.Is4() {
		return [4]byte{}, errNotIPv4
	}
	return addr.As4(), nil
}

func parseV1IPv6(field []byte) ([16]byte, error) {
	addr, err := netip.ParseAddr(string(field))
	if err != nil {
		return [16]byte{}, err
	}
	if !addr.Is6() || addr.Zone() != "" {
		return [16]byte{}, errNotIPv6
	}
	return addr.As16(), nil
}

func parseV1Ports(srcField, dstField []byte) (uint16, uint16, error) {
	srcPort, cause, ok := parseV1Port(srcField)
	if !ok {
		return 0, 0, v1CauseError(V1InvalidSourcePort, cause)
	}
	dstPort, cause, ok := parseV1Port(dstField)
	if !ok {
		return 0, 0, v1CauseError(V1InvalidDestinationPort, cause)
	}
	return srcPort, dstPort, nil
}

// parseV1Port rejects leading zeros: a non-zero port must not begin with
// '0', a bare "0" is allowed. The returned cause is nil for the
// leading-zero case.
func parseV1Port(field []byte) (port uint16, cause error, ok bool) {
	if len(field) > 1 && field[0] == '0' {
		return 0, nil, false
	}

	value, err := strconv.ParseUint(string(field), 10, 16)
	if err != nil {
		return 0, err, false
	}
	return uint16(value), nil, true
}

// FormatV1 renders the canonical v1 line for the given addresses, CRLF
// included. Parsing the printed form yields the same addresses.
func FormatV1(addresses Addresses) []byte {
	buf := make([]byte, 0, v1HeaderMaxLength)
	buf = append(buf, v1Prefix...)
	buf = addresses.appendV1(buf)
	return append(buf, crlf...)
}

func (a IPv4) appendV1(buf []byte) []byte {
	buf = append(buf, TCP4...)
	buf = append(buf, ' ')
	buf = append(buf, netip.AddrFrom4(a.SourceAddress).String()...)
	buf = append(buf, ' ')
	buf = append(buf, netip.AddrFrom4(a.DestinationAddress).String()...)
	return appendV1Ports(buf, a.SourcePort, a.DestinationPort)
}

func (a IPv6) appendV1(buf []byte) []byte {
	buf = append(buf, TCP6...)
	buf = append(buf, ' ')
	buf = append(buf, netip.AddrFrom16(a.SourceAddress).String()...)
	buf = append(buf, ' ')
	buf = append(buf, netip.AddrFrom16(a.DestinationAddress).String()...)
	return appendV1Ports(buf, a.SourcePort, a.DestinationPort)
}

func (a Unknown) appendV1(buf []byte) []byte {
	return append(buf, UNKNOWN...)
}

func appendV1Ports(buf []byte, srcPort, dstPort uint16) []byte {
	buf = append(buf, ' ')
	buf = strconv.AppendUint(buf, uint64(srcPort), 10)
	buf = append(buf, ' ')
	return strconv.AppendUint(buf, uint64(dstPort), 10)
}
