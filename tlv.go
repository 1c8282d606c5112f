package proxyproto

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// PP2Type is the type tag of a v2 TLV record.
type PP2Type byte

// The following types have already been registered for the <type> field.
// They are byte constants only: values are framed, never interpreted.
const (
	PP2_TYPE_ALPN           PP2Type = 0x01
	PP2_TYPE_AUTHORITY      PP2Type = 0x02
	PP2_TYPE_CRC32C         PP2Type = 0x03
	PP2_TYPE_NOOP           PP2Type = 0x04
	PP2_TYPE_UNIQUE_ID      PP2Type = 0x05
	PP2_TYPE_SSL            PP2Type = 0x20
	PP2_SUBTYPE_SSL_VERSION PP2Type = 0x21
	PP2_SUBTYPE_SSL_CN      PP2Type = 0x22
	PP2_SUBTYPE_SSL_CIPHER  PP2Type = 0x23
	PP2_SUBTYPE_SSL_SIG_ALG PP2Type = 0x24
	PP2_SUBTYPE_SSL_KEY_ALG PP2Type = 0x25
	PP2_TYPE_NETNS          PP2Type = 0x30
)

// tlvMinimumLength type(1) + length(2).
const tlvMinimumLength = 3

// TypeLengthValue is a single TLV record. Value aliases the header frame
// when yielded by a cursor.
type TypeLengthValue struct {
	Type  PP2Type
	Value []byte
}

func (t TypeLengthValue) Length() int {
	return len(t.Value)
}

// IsRegistered true if the type has already been registered.
func (t TypeLengthValue) IsRegistered() bool {
	switch t.Type {
	case PP2_TYPE_ALPN,
		PP2_TYPE_AUTHORITY,
		PP2_TYPE_CRC32C,
		PP2_TYPE_NOOP,
		PP2_TYPE_UNIQUE_ID,
		PP2_TYPE_SSL,
		PP2_SUBTYPE_SSL_VERSION,
		PP2_SUBTYPE_SSL_CN,
		PP2_SUBTYPE_SSL_CIPHER,
		PP2_SUBTYPE_SSL_SIG_ALG,
		PP2_SUBTYPE_SSL_KEY_ALG,
		PP2_TYPE_NETNS:

		return true
	}
	return false
}

func (t TypeLengthValue) String() string {
	return fmt.Sprintf("[type:%d,length:%d,value:%q]", t.Type, t.Length(), t.Value)
}

// TLVs is a lazy cursor over the TLV region of a v2 header, in the
// bufio.Scanner shape:
//
//	tlvs := header.TLVs()
//	for tlvs.Next() {
//		use(tlvs.TLV())
//	}
//	if err := tlvs.Err(); err != nil { ... }
//
// Records are yielded in wire order without copying. A malformed record
// stops the cursor: a record whose declared length overruns the region
// yields an InvalidTLV error, and a 1- or 2-byte tail short of a TLV
// header yields a Leftovers error carrying the tail byte count.
type TLVs struct {
	rest []byte
	tlv  TypeLengthValue
	err  error
}

// Next advances to the next record, reporting false at the end of the
// region or on the first malformed record.
func (s *TLVs) Next() bool {
	if s.err != nil || len(s.rest) == 0 {
		return false
	}
	if len(s.rest) < tlvMinimumLength {
		s.err = &V2ParseError{Kind: V2Leftovers, Actual: len(s.rest)}
		return false
	}

	length := int(binary.BigEndian.Uint16(s.rest[1:tlvMinimumLength]))
	if len(s.rest) < tlvMinimumLength+length {
		s.err = &V2ParseError{Kind: V2InvalidTLV, Value: s.rest[0], Declared: length}
		return false
	}

	s.tlv = TypeLengthValue{
		Type:  PP2Type(s.rest[0]),
		Value: s.rest[tlvMinimumLength : tlvMinimumLength+length],
	}
	s.rest = s.rest[tlvMinimumLength+length:]
	return true
}

// TLV is the record yielded by the last successful Next.
func (s *TLVs) TLV() TypeLengthValue {
	return s.tlv
}

// Err is the malformed-record error that stopped the cursor, if any.
func (s *TLVs) Err() error {
	return s.err
}

func (s TLVs) String() string {
	var fields []string
	for s.Next() {
		fields = append(fields, s.TLV().String())
	}
	return strings.Join(fields, ",")
}
