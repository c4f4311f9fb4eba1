package gitwire

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPktLine_RoundTrip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	require.NoError(t, writePktString(&buf, "want deadbeef\n"))
	require.NoError(t, writeFlush(&buf))

	assert.Equal(t, "0012want deadbeef\n0000", buf.String())

	payload, flush, err := readPkt(&buf)
	require.NoError(t, err)
	assert.False(t, flush)
	assert.Equal(t, "want deadbeef\n", string(payload))

	_, flush, err = readPkt(&buf)
	require.NoError(t, err)
	assert.True(t, flush)
}

func TestPktLine_EmptyPayload(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	require.NoError(t, writePkt(&buf, nil))
	assert.Equal(t, "0004", buf.String())

	payload, flush, err := readPkt(&buf)
	require.NoError(t, err)
	assert.False(t, flush)
	assert.Empty(t, payload)
}

func TestWritePkt_TooLong(t *testing.T) {
	t.Parallel()

	err := writePkt(&bytes.Buffer{}, make([]byte, MaxPktPayload+1))
	require.ErrorIs(t, err, ErrPktTooLong)
}

func TestReadPkt_MalformedPrefix(t *testing.T) {
	t.Parallel()

	_, _, err := readPkt(strings.NewReader("zzzzpayload"))
	require.ErrorIs(t, err, ErrMalformedPkt)
}

func TestReadPkt_UndersizedLength(t *testing.T) {
	t.Parallel()

	// Lengths 1-3 cannot even cover their own prefix.
	_, _, err := readPkt(strings.NewReader("0003"))
	require.ErrorIs(t, err, ErrMalformedPkt)
}

func TestReadPkt_DeclaredLengthOverMax(t *testing.T) {
	t.Parallel()

	_, _, err := readPkt(strings.NewReader("fff5"))
	require.ErrorIs(t, err, ErrPktTooLong)
}
