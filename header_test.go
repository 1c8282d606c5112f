package proxyproto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_Parse_dispatch(t *testing.T) {
	t.Run("v1", func(t *testing.T) {
		result := Parse([]byte("PROXY TCP4 127.0.0.1 127.0.0.2 80 443\r\n"))
		require.Equal(t, Version1, result.Version())
		require.True(t, result.IsComplete())

		header, err := result.V1()
		require.NoError(t, err)
		require.Equal(t, NewIPv4([4]byte{127, 0, 0, 1}, [4]byte{127, 0, 0, 2}, 80, 443), header.Addresses)
		require.Equal(t, header.Len(), result.Len())

		_, err = result.V2()
		require.Error(t, err)
	})

	t.Run("v2", func(t *testing.T) {
		result := Parse(v2Frame(0x21, 0x11, 12, 127, 0, 0, 1, 127, 0, 0, 2, 0, 80, 1, 187))
		require.Equal(t, Version2, result.Version())
		require.True(t, result.IsComplete())
		require.NoError(t, result.Err())
		require.Equal(t, 28, result.Len())

		header, err := result.V2()
		require.NoError(t, err)
		require.Equal(t, CMD_PROXY, header.Command)

		_, err = result.V1()
		require.Error(t, err)
	})

	t.Run("empty-input-may-become-either", func(t *testing.T) {
		result := Parse(nil)
		require.True(t, result.IsIncomplete())
		require.Equal(t, 0, result.Len())
	})

	t.Run("short-signature-prefix-is-v2", func(t *testing.T) {
		result := Parse([]byte("\r\n\r\n\x00"))
		require.Equal(t, Version2, result.Version())
		require.True(t, result.IsIncomplete())
	})

	t.Run("anything-else-is-v1", func(t *testing.T) {
		result := Parse([]byte("PROX"))
		require.Equal(t, Version1, result.Version())
		require.True(t, result.IsIncomplete())

		result = Parse([]byte("PROX\r\n"))
		require.Equal(t, Version1, result.Version())
		require.False(t, result.IsIncomplete())
		require.Error(t, result.Err())
	})
}

func Test_IsIncomplete(t *testing.T) {
	require.False(t, IsIncomplete(nil))
	require.True(t, IsIncomplete(&V1ParseError{Kind: V1MissingNewLine}))
	require.True(t, IsIncomplete(&V1ParseError{Kind: V1Partial}))
	require.False(t, IsIncomplete(&V1ParseError{Kind: V1HeaderTooLong}))
	require.True(t, IsIncomplete(&V2ParseError{Kind: V2Incomplete}))
	require.True(t, IsIncomplete(&V2ParseError{Kind: V2Partial}))
	require.False(t, IsIncomplete(&V2ParseError{Kind: V2Prefix}))
	require.False(t, IsIncomplete(ErrExceedPayloadLength))
}

// Feeding a parser ever longer prefixes of a valid header must stay
// incomplete until the header is whole, and never turn fatal.
func Test_Parse_partiality_monotonicity(t *testing.T) {
	payload := make([]byte, 0, 45)
	payload = append(payload, v2SourceIPv6[:]...)
	payload = append(payload, v2DestIPv6[:]...)
	payload = append(payload, 0, 80, 1, 187)
	payload = append(payload, 1, 0, 1, 5)
	payload = append(payload, 2, 0, 2, 5, 5)

	inputs := map[string][]byte{
		"v1": []byte("PROXY TCP6 ::1 ffff::1 65535 443\r\n"),
		"v2": v2Frame(0x21, 0x21, 45, payload...),
	}

	for name, input := range inputs {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < len(input); i++ {
				result := Parse(input[:i])
				require.True(t, result.IsIncomplete(), "prefix of %d bytes", i)
				require.Error(t, result.Err())
			}

			result := Parse(input)
			require.True(t, result.IsComplete())
			require.NoError(t, result.Err())
			require.Equal(t, len(input), result.Len())
		})
	}
}
