package slquic

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/gordian-engine/sharelatest/internal/sltest"
	"github.com/stretchr/testify/require"
)

func TestHeader(t *testing.T) {
	t.Parallel()

	t.Run("round trip", func(t *testing.T) {
		t.Parallel()

		flags, topic, err := readHeader(bytes.NewReader(appendHeader(nil, flagSnappy, "prices/usd")))
		require.NoError(t, err)
		require.Equal(t, flagSnappy, flags)
		require.Equal(t, "prices/usd", topic)
	})

	t.Run("wrong protocol", func(t *testing.T) {
		t.Parallel()

		h := appendHeader(nil, 0, "x")
		h[0]++
		_, _, err := readHeader(bytes.NewReader(h))
		require.ErrorContains(t, err, "unexpected protocol ID")
	})

	t.Run("truncated topic", func(t *testing.T) {
		t.Parallel()

		h := appendHeader(nil, 0, "prices")
		_, _, err := readHeader(bytes.NewReader(h[:len(h)-1]))
		require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})

	t.Run("oversized topic panics", func(t *testing.T) {
		t.Parallel()

		require.Panics(t, func() {
			_ = appendHeader(nil, 0, string(make([]byte, maxTopicLen+1)))
		})
	})
}

func TestFrame(t *testing.T) {
	t.Parallel()

	t.Run("sequence then clean end", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		require.NoError(t, writeFrame(&buf, valueFrameID, []byte("one")))
		require.NoError(t, writeFrame(&buf, valueFrameID, nil))
		require.NoError(t, writeFrame(&buf, errorFrameID, []byte("bad")))

		id, p, err := readFrame(&buf, 16)
		require.NoError(t, err)
		require.Equal(t, valueFrameID, id)
		require.Equal(t, "one", string(p))

		id, p, err = readFrame(&buf, 16)
		require.NoError(t, err)
		require.Equal(t, valueFrameID, id)
		require.Empty(t, p)

		id, p, err = readFrame(&buf, 16)
		require.NoError(t, err)
		require.Equal(t, errorFrameID, id)
		require.Equal(t, "bad", string(p))

		_, _, err = readFrame(&buf, 16)
		require.Equal(t, io.EOF, err)
	})

	t.Run("truncated metadata", func(t *testing.T) {
		t.Parallel()

		_, _, err := readFrame(bytes.NewReader([]byte{valueFrameID, 0}), 16)
		require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})

	t.Run("truncated payload", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		require.NoError(t, writeFrame(&buf, valueFrameID, []byte("abcdef")))
		b := buf.Bytes()

		_, _, err := readFrame(bytes.NewReader(b[:len(b)-2]), 16)
		require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})

	t.Run("too large", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		require.NoError(t, writeFrame(&buf, valueFrameID, []byte("abcdef")))

		_, _, err := readFrame(&buf, 5)
		require.ErrorIs(t, err, ErrFrameTooLarge)
	})
}

func TestValueFrame_compression(t *testing.T) {
	t.Parallel()

	compressible := []byte(strings.Repeat("latest value ", 64))

	t.Run("compressed when smaller", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		require.NoError(t, writeValueFrame(&buf, true, compressible))

		id, p, err := readFrame(&buf, DefaultMaxFrameSize)
		require.NoError(t, err)
		require.Equal(t, snappyValueFrameID, id)
		require.Less(t, len(p), len(compressible))

		out, err := decodeSnappyPayload(p, DefaultMaxFrameSize)
		require.NoError(t, err)
		require.Equal(t, compressible, out)
	})

	t.Run("raw when not requested", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		require.NoError(t, writeValueFrame(&buf, false, compressible))

		id, p, err := readFrame(&buf, DefaultMaxFrameSize)
		require.NoError(t, err)
		require.Equal(t, valueFrameID, id)
		require.Equal(t, compressible, p)
	})

	t.Run("raw when compression does not help", func(t *testing.T) {
		t.Parallel()

		noise := sltest.RandomDataForTest(t, 512)

		var buf bytes.Buffer
		require.NoError(t, writeValueFrame(&buf, true, noise))

		id, p, err := readFrame(&buf, DefaultMaxFrameSize)
		require.NoError(t, err)
		require.Equal(t, valueFrameID, id)
		require.Equal(t, noise, p)
	})

	t.Run("decompression limit", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		require.NoError(t, writeValueFrame(&buf, true, compressible))

		_, p, err := readFrame(&buf, DefaultMaxFrameSize)
		require.NoError(t, err)

		_, err = decodeSnappyPayload(p, uint32(len(compressible)-1))
		require.ErrorIs(t, err, ErrFrameTooLarge)
	})
}
