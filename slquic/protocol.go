package slquic

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/golang/snappy"
)

// ProtocolID is the first byte of every stream opened by a [Source].
const ProtocolID byte = 0x5c

const (
	// A frame carrying one encoded value.
	valueFrameID byte = 0x01

	// A frame carrying the producer's error message.
	// It is always the last frame on the stream.
	errorFrameID byte = 0x02

	// Like valueFrameID, but the payload is snappy-encoded.
	// Only sent when the header requested compression.
	snappyValueFrameID byte = 0x03
)

// Header flags.
const (
	// The subscriber accepts snappy value frames.
	flagSnappy byte = 1 << 0
)

// Constants for stream cancellation error codes.
const (
	// The subscribing side no longer wants values.
	UnsubscribedErrorCode StreamErrorCode = 0x5101

	// Either side hit a protocol or I/O failure,
	// or the publisher is shutting down.
	InterruptedErrorCode StreamErrorCode = 0x5102
)

// DefaultMaxFrameSize is the payload limit used when
// a [SourceConfig] does not set one.
const DefaultMaxFrameSize = 1 << 20

// maxTopicLen is the largest topic that fits in the header's length field.
const maxTopicLen = (1 << 16) - 1

// ErrFrameTooLarge is returned when a frame's declared size
// exceeds the reader's limit.
var ErrFrameTooLarge = errors.New("frame too large")

// RemoteError is the error a [Source] run returns
// when the publisher reports that its producer failed.
type RemoteError struct {
	Topic   string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote producer for topic %q failed: %s", e.Topic, e.Message)
}

// appendHeader appends the stream header for topic to dst:
// the protocol ID, the flags byte,
// the big-endian uint16 topic length, and the topic.
func appendHeader(dst []byte, flags byte, topic string) []byte {
	if len(topic) > maxTopicLen {
		panic(fmt.Errorf(
			"BUG: topic is limited to %d bytes (got %d)",
			maxTopicLen, len(topic),
		))
	}

	dst = append(dst, ProtocolID, flags)
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(topic)))
	return append(dst, topic...)
}

// readHeader reads a stream header written by appendHeader.
func readHeader(r io.Reader) (flags byte, topic string, err error) {
	var meta [4]byte
	if _, err := io.ReadFull(r, meta[:]); err != nil {
		return 0, "", fmt.Errorf("failed to read header: %w", err)
	}

	if meta[0] != ProtocolID {
		return 0, "", fmt.Errorf("unexpected protocol ID 0x%x", meta[0])
	}

	b := make([]byte, binary.BigEndian.Uint16(meta[2:]))
	if _, err := io.ReadFull(r, b); err != nil {
		return 0, "", fmt.Errorf("failed to read topic: %w", err)
	}

	return meta[1], string(b), nil
}

// writeFrame writes one frame:
// the frame ID, the big-endian uint32 payload size, and the payload.
func writeFrame(w io.Writer, id byte, payload []byte) error {
	if uint64(len(payload)) > (1<<32)-1 {
		panic(fmt.Errorf(
			"BUG: frame payload must fit in uint32 (got length %d)",
			len(payload),
		))
	}

	buf := make([]byte, 0, 5+len(payload))
	buf = append(buf, id)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(payload)))
	buf = append(buf, payload...)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// readFrame reads one frame written by writeFrame.
//
// A stream that ends cleanly between frames yields [io.EOF] unwrapped,
// so callers can distinguish it from a truncated frame.
func readFrame(r io.Reader, maxSize uint32) (id byte, payload []byte, err error) {
	var meta [5]byte
	if _, err := io.ReadFull(r, meta[:]); err != nil {
		if err == io.EOF {
			return 0, nil, io.EOF
		}
		return 0, nil, fmt.Errorf("failed to read frame metadata: %w", err)
	}

	sz := binary.BigEndian.Uint32(meta[1:])
	if sz > maxSize {
		return 0, nil, fmt.Errorf(
			"%w: declared %d bytes, limit is %d", ErrFrameTooLarge, sz, maxSize,
		)
	}

	payload = make([]byte, sz)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, fmt.Errorf("failed to read frame payload: %w", err)
	}

	return meta[0], payload, nil
}

// writeValueFrame writes payload as a value frame.
// If compress is set and the snappy encoding is smaller,
// the encoded form is written as a snappy value frame instead.
func writeValueFrame(w io.Writer, compress bool, payload []byte) error {
	if compress {
		enc := snappy.Encode(nil, payload)
		if len(enc) < len(payload) {
			return writeFrame(w, snappyValueFrameID, enc)
		}
	}
	return writeFrame(w, valueFrameID, payload)
}

// decodeSnappyPayload decodes a snappy value frame's payload,
// refusing to expand it past maxSize.
func decodeSnappyPayload(payload []byte, maxSize uint32) ([]byte, error) {
	n, err := snappy.DecodedLen(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to read snappy length: %w", err)
	}
	if uint64(n) > uint64(maxSize) {
		return nil, fmt.Errorf(
			"%w: decompresses to %d bytes, limit is %d", ErrFrameTooLarge, n, maxSize,
		)
	}

	out, err := snappy.Decode(nil, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode snappy payload: %w", err)
	}
	return out, nil
}
