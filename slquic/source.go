package slquic

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/gordian-engine/sharelatest"
)

// SourceConfig is the configuration for [NewSource].
type SourceConfig[T any] struct {
	// Connection to the publisher.
	Conn Conn

	// Topic requested in each stream's header.
	Topic string

	// Decodes one value frame's payload.
	Decode func([]byte) (T, error)

	// Limits for opening the stream and sending its header.
	OpenStreamTimeout time.Duration
	SendHeaderTimeout time.Duration

	// Largest accepted frame payload, after decompression.
	// Zero means [DefaultMaxFrameSize].
	MaxFrameSize uint32

	// Ask the publisher to snappy-compress values
	// whenever that makes them smaller.
	Compress bool
}

func (c SourceConfig[T]) validate() {
	var err error

	if c.Conn == nil {
		err = errors.Join(err, errors.New("Conn must not be nil"))
	}
	if c.Decode == nil {
		err = errors.Join(err, errors.New("Decode must not be nil"))
	}
	if len(c.Topic) > maxTopicLen {
		err = errors.Join(err, fmt.Errorf(
			"Topic must be at most %d bytes (got %d)", maxTopicLen, len(c.Topic),
		))
	}
	if c.OpenStreamTimeout <= 0 {
		err = errors.Join(err, errors.New("OpenStreamTimeout must be positive"))
	}
	if c.SendHeaderTimeout <= 0 {
		err = errors.Join(err, errors.New("SendHeaderTimeout must be positive"))
	}

	if err != nil {
		panic(fmt.Errorf("invalid SourceConfig: %w", err))
	}
}

// Source is a [sharelatest.Upstream] backed by a remote [Publisher].
// Every run opens a new stream for the configured topic.
type Source[T any] struct {
	log *slog.Logger
	cfg SourceConfig[T]
}

var _ sharelatest.Upstream[int] = (*Source[int])(nil)

// NewSource returns a new Source.
// It panics if cfg is invalid.
func NewSource[T any](log *slog.Logger, cfg SourceConfig[T]) *Source[T] {
	cfg.validate()

	if cfg.MaxFrameSize == 0 {
		cfg.MaxFrameSize = DefaultMaxFrameSize
	}

	return &Source[T]{
		log: log,
		cfg: cfg,
	}
}

// Run implements [sharelatest.Upstream].
//
// It returns nil when the publisher closes the stream cleanly,
// a [*RemoteError] when the publisher reports a failure,
// and the context's cause when ctx is canceled.
func (s *Source[T]) Run(ctx context.Context, emit func(T)) error {
	openCtx, cancelOpen := context.WithTimeout(ctx, s.cfg.OpenStreamTimeout)
	st, err := s.cfg.Conn.OpenStreamSync(openCtx)
	cancelOpen()
	if err != nil {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		return fmt.Errorf("failed to open stream: %w", err)
	}

	if err := st.SetWriteDeadline(time.Now().Add(s.cfg.SendHeaderTimeout)); err != nil {
		cancel(st, InterruptedErrorCode)
		return fmt.Errorf("failed to set write deadline for header: %w", err)
	}
	var flags byte
	if s.cfg.Compress {
		flags |= flagSnappy
	}
	if _, err := st.Write(appendHeader(nil, flags, s.cfg.Topic)); err != nil {
		cancel(st, InterruptedErrorCode)
		return fmt.Errorf("failed to write header: %w", err)
	}

	// The write side stays open after the header.
	// Closing or canceling it is how the publisher learns we are gone.

	stop := context.AfterFunc(ctx, func() {
		cancel(st, UnsubscribedErrorCode)
	})
	defer stop()

	for {
		id, payload, err := readFrame(st, s.cfg.MaxFrameSize)
		if err != nil {
			if ctx.Err() != nil {
				return context.Cause(ctx)
			}
			if err == io.EOF {
				_ = st.Close()
				return nil
			}

			s.log.Debug("Failed to read frame", "topic", s.cfg.Topic, "err", err)
			cancel(st, InterruptedErrorCode)
			return err
		}

		switch id {
		case snappyValueFrameID:
			if !s.cfg.Compress {
				cancel(st, InterruptedErrorCode)
				return errors.New("received compressed frame without requesting compression")
			}
			payload, err = decodeSnappyPayload(payload, s.cfg.MaxFrameSize)
			if err != nil {
				s.log.Debug("Failed to decompress value frame", "topic", s.cfg.Topic, "err", err)
				cancel(st, InterruptedErrorCode)
				return err
			}
			fallthrough

		case valueFrameID:
			v, err := s.cfg.Decode(payload)
			if err != nil {
				s.log.Debug("Failed to decode value", "topic", s.cfg.Topic, "err", err)
				cancel(st, InterruptedErrorCode)
				return fmt.Errorf("failed to decode value: %w", err)
			}
			emit(v)

		case errorFrameID:
			s.log.Debug("Publisher reported failure", "topic", s.cfg.Topic, "message", string(payload))
			_ = st.Close()
			return &RemoteError{Topic: s.cfg.Topic, Message: string(payload)}

		default:
			s.log.Debug("Received unknown frame", "topic", s.cfg.Topic, "id", id)
			cancel(st, InterruptedErrorCode)
			return fmt.Errorf("unknown frame ID 0x%x", id)
		}
	}
}
