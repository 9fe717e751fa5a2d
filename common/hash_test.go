package common

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlake2Hash(t *testing.T) {
	h1 := Blake2Hash([]byte("block at 0x1000"))
	h2 := Blake2Hash([]byte("block at 0x1000"))
	require.Equal(t, h1, h2)

	h3 := Blake2Hash([]byte("block at 0x1004"))
	require.NotEqual(t, h1, h3)
	require.Len(t, h1.Bytes(), 32)
}

func TestUintRoundTrips(t *testing.T) {
	require.Equal(t, uint64(0xdeadbeefcafe), BytesToUint64(Uint64ToBytes(0xdeadbeefcafe)))
	require.Equal(t, uint32(0x12345678), BytesToUint32(Uint32ToBytes(0x12345678)))
	require.Equal(t, uint16(0xbeef), BytesToUint16(Uint16ToBytes(0xbeef)))
}
