package proxyproto

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// ErrExceedPayloadLength a payload's length exceeds uint16 (65535).
var ErrExceedPayloadLength = errors.New("pp2 payload length exceeds uint16 (65535)")

// HeaderWriter is any value that knows how to serialize itself into a
// Builder: address blocks, TLV records, a TLV cursor, raw bytes, the type
// tag byte, and the fixed-width integers below.
type HeaderWriter interface {
	WriteToHeader(b *Builder) error
}

// Builder assembles a v2 header. The 16-byte prolog is emitted on the
// first write; the two length bytes are back-patched by Build unless
// SetLength fixed them.
type Builder struct {
	header    []byte
	verCmd    byte
	famProto  byte
	length    *uint16
	prologued bool
}

// NewBuilder starts a header from the version/command and address
// family/protocol bytes, OR'd from the typed constants.
func NewBuilder(versionCommand, familyProtocol byte) *Builder {
	return &Builder{verCmd: versionCommand, famProto: familyProtocol}
}

// BuilderWithAddresses starts a header with the family inferred from the
// addresses, which are appended right after the prolog.
func BuilderWithAddresses(versionCommand byte, tp TransportProtocol, addresses V2Addresses) *Builder {
	b := NewBuilder(versionCommand, FamilyProtocol(addresses.AddressFamily(), tp))
	// address blocks are at most 216 bytes and cannot fail
	_ = b.WritePayload(addresses)
	return b
}

// ReserveCapacity grows the internal buffer reservation so that n more
// bytes can be written without reallocating.
func (b *Builder) ReserveCapacity(n int) *Builder {
	if cap(b.header)-len(b.header) < n {
		grown := make([]byte, len(b.header), len(b.header)+n)
		copy(grown, b.header)
		b.header = grown
	}
	return b
}

// SetLength fixes the two length bytes verbatim; Build will not
// back-patch them.
func (b *Builder) SetLength(length uint16) *Builder {
	b.length = &length
	if b.prologued {
		binary.BigEndian.PutUint16(b.header[v2LengthOffset:], length)
	}
	return b
}

func (b *Builder) writeProlog() {
	if b.prologued {
		return
	}

	b.ReserveCapacity(v2MinimumLength)
	b.header = append(b.header, v2Signature...)
	b.header = append(b.header, b.verCmd, b.famProto)

	var length uint16
	if b.length != nil {
		length = *b.length
	}
	b.header = append(b.header, byte(length>>8), byte(length))
	b.prologued = true
}

// writeBytes is the sink of every HeaderWriter.
func (b *Builder) writeBytes(payload []byte) error {
	if len(payload) > math.MaxUint16 {
		return ErrExceedPayloadLength
	}
	b.writeProlog()
	b.header = append(b.header, payload...)
	return nil
}

// WritePayload appends the serialized form of payload. A single payload
// longer than 65535 bytes is rejected at write time.
func (b *Builder) WritePayload(payload HeaderWriter) error {
	b.writeProlog()
	return payload.WriteToHeader(b)
}

// WriteTLV appends a single TLV record.
func (b *Builder) WriteTLV(kind PP2Type, value []byte) error {
	return b.WritePayload(TypeLengthValue{Type: kind, Value: value})
}

// Build finishes the header and returns the on-wire bytes. Unless
// SetLength was used, the length bytes are back-patched from the final
// payload byte count, failing when it does not fit in uint16.
func (b *Builder) Build() ([]byte, error) {
	b.writeProlog()
	if b.length == nil {
		payload := len(b.header) - v2MinimumLength
		if payload > math.MaxUint16 {
			return nil, ErrExceedPayloadLength
		}
		binary.BigEndian.PutUint16(b.header[v2LengthOffset:], uint16(payload))
	}
	return b.header, nil
}

func (a IPv4) WriteToHeader(b *Builder) error {
	var block [addressLengthIPv4]byte
	copy(block[0:4], a.SourceAddress[:])
	copy(block[4:8], a.DestinationAddress[:])
	binary.BigEndian.PutUint16(block[8:10], a.SourcePort)
	binary.BigEndian.PutUint16(block[10:12], a.DestinationPort)
	return b.writeBytes(block[:])
}

func (a IPv6) WriteToHeader(b *Builder) error {
	var block [addressLengthIPv6]byte
	copy(block[0:16], a.SourceAddress[:])
	copy(block[16:32], a.DestinationAddress[:])
	binary.BigEndian.PutUint16(block[32:34], a.SourcePort)
	binary.BigEndian.PutUint16(block[34:36], a.DestinationPort)
	return b.writeBytes(block[:])
}

func (a Unix) WriteToHeader(b *Builder) error {
	if err := b.writeBytes(a.Source[:]); err != nil {
		return err
	}
	return b.writeBytes(a.Destination[:])
}

func (a Unspec) WriteToHeader(b *Builder) error {
	b.writeProlog()
	return nil
}

func (t TypeLengthValue) WriteToHeader(b *Builder) error {
	if len(t.Value) > math.MaxUint16 {
		return ErrExceedPayloadLength
	}

	var prefix [tlvMinimumLength]byte
	prefix[0] = byte(t.Type)
	binary.BigEndian.PutUint16(prefix[1:], uint16(len(t.Value)))
	if err := b.writeBytes(prefix[:]); err != nil {
		return err
	}
	return b.writeBytes(t.Value)
}

// WriteToHeader copies the cursor's remaining records, wire order
// preserved, after checking that the region is well formed.
func (s TLVs) WriteToHeader(b *Builder) error {
	walk := s
	for walk.Next() {
	}
	if err := walk.Err(); err != nil {
		return err
	}
	return b.writeBytes(s.rest)
}

func (t PP2Type) WriteToHeader(b *Builder) error {
	return b.writeBytes([]byte{byte(t)})
}

// Bytes is a raw byte slice payload.
type Bytes []byte

func (p Bytes) WriteToHeader(b *Builder) error {
	return b.writeBytes(p)
}

// Fixed-width integer payloads, written big-endian at natural width.
type (
	Uint8  uint8
	Uint16 uint16
	Uint32 uint32
	Uint64 uint64
	Int8   int8
	Int16  int16
	Int32  int32
	Int64  int64
)

func (v Uint8) WriteToHeader(b *Builder) error {
	return b.writeBytes([]byte{byte(v)})
}

func (v Uint16) WriteToHeader(b *Builder) error {
	var p [2]byte
	binary.BigEndian.PutUint16(p[:], uint16(v))
	return b.writeBytes(p[:])
}

func (v Uint32) WriteToHeader(b *Builder) error {
	var p [4]byte
	binary.BigEndian.PutUint32(p[:], uint32(v))
	return b.writeBytes(p[:])
}

func (v Uint64) WriteToHeader(b *Builder) error {
	var p [8]byte
	binary.BigEndian.PutUint64(p[:], uint64(v))
	return b.writeBytes(p[:])
}

func (v Int8) WriteToHeader(b *Builder) error {
	return Uint8(v).WriteToHeader(b)
}

func (v Int16) WriteToHeader(b *Builder) error {
	return Uint16(v).WriteToHeader(b)
}

func (v Int32) WriteToHeader(b *Builder) error {
	return Uint32(v).WriteToHeader(b)
}

func (v Int64) WriteToHeader(b *Builder) error {
	return Uint64(v).WriteToHeader(b)
}
