package proxyproto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_TLVs_cursor(t *testing.T) {
	region := []byte("\xEA\x00\x22vcpe-abcdefg-hijklmn-opqrst-uvwxyz" + // type:234, length:34
		"\x04\x00\x08\x00\x00\x00\x00\x00\x00\x00\x00") // type:NOOP, length:8

	payload := make([]byte, 0, addressLengthIPv4+len(region))
	payload = append(payload, 127, 0, 0, 1, 127, 0, 0, 2, 0, 80, 1, 187)
	payload = append(payload, region...)
	header, err := ParseV2(v2Frame(0x21, 0x11, uint16(len(payload)), payload...))
	require.NoError(t, err)

	want := []TypeLengthValue{
		{Type: 234, Value: []byte("vcpe-abcdefg-hijklmn-opqrst-uvwxyz")},
		{Type: PP2_TYPE_NOOP, Value: []byte("\x00\x00\x00\x00\x00\x00\x00\x00")},
	}

	var got []TypeLengthValue
	tlvs := header.TLVs()
	for tlvs.Next() {
		got = append(got, tlvs.TLV())
	}
	require.NoError(t, tlvs.Err())
	require.Equal(t, want, got)

	// each call to TLVs restarts at the front of the region
	restarted := header.TLVs()
	require.True(t, restarted.Next())
	require.Equal(t, want[0], restarted.TLV())

	// values alias the header frame rather than copies of it
	require.Same(t, &header.TLVBytes()[3], &got[0].Value[0])
}

func Test_TLVs_leftovers(t *testing.T) {
	payload := []byte{127, 0, 0, 1, 127, 0, 0, 2, 0, 80, 1, 187, 0x01, 0x00}
	header, err := ParseV2(v2Frame(0x21, 0x11, uint16(len(payload)), payload...))
	require.NoError(t, err)

	tlvs := header.TLVs()
	require.False(t, tlvs.Next())
	require.Equal(t, &V2ParseError{Kind: V2Leftovers, Actual: 2}, tlvs.Err())
	require.False(t, IsIncomplete(tlvs.Err()))
}

func Test_TLVs_invalid_record(t *testing.T) {
	// a record declaring five value bytes with only one present
	payload := []byte{127, 0, 0, 1, 127, 0, 0, 2, 0, 80, 1, 187, 0x05, 0x00, 0x05, 0xAA}
	header, err := ParseV2(v2Frame(0x21, 0x11, uint16(len(payload)), payload...))
	require.NoError(t, err)

	tlvs := header.TLVs()
	require.False(t, tlvs.Next())
	require.Equal(t, &V2ParseError{Kind: V2InvalidTLV, Value: 0x05, Declared: 5}, tlvs.Err())
}

func Test_TLVs_error_after_valid_records(t *testing.T) {
	payload := []byte{127, 0, 0, 1, 127, 0, 0, 2, 0, 80, 1, 187,
		0x01, 0x00, 0x01, 0x05, // valid
		0x02, 0x00} // two-byte tail
	header, err := ParseV2(v2Frame(0x21, 0x11, uint16(len(payload)), payload...))
	require.NoError(t, err)

	tlvs := header.TLVs()
	require.True(t, tlvs.Next())
	require.Equal(t, TypeLengthValue{Type: PP2_TYPE_ALPN, Value: []byte{5}}, tlvs.TLV())
	require.False(t, tlvs.Next())
	require.Equal(t, &V2ParseError{Kind: V2Leftovers, Actual: 2}, tlvs.Err())
	// the cursor stays stopped
	require.False(t, tlvs.Next())
}

func Test_TypeLengthValue_IsRegistered(t *testing.T) {
	require.True(t, TypeLengthValue{Type: PP2_TYPE_CRC32C}.IsRegistered())
	require.True(t, TypeLengthValue{Type: PP2_SUBTYPE_SSL_CN}.IsRegistered())
	require.False(t, TypeLengthValue{Type: 234}.IsRegistered())
}

func Test_TLVs_String(t *testing.T) {
	payload := []byte{127, 0, 0, 1, 127, 0, 0, 2, 0, 80, 1, 187,
		0x01, 0x00, 0x01, 'h',
		0x02, 0x00, 0x02, 'h', 'i'}
	header, err := ParseV2(v2Frame(0x21, 0x11, uint16(len(payload)), payload...))
	require.NoError(t, err)

	require.Equal(t, `[type:1,length:1,value:"h"],[type:2,length:2,value:"hi"]`, header.TLVs().String())
}
