package slquic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Producer writes the values for one stream of a topic.
//
// send writes a single encoded value;
// it returns an error once the stream can no longer be written.
// ctx is canceled when the subscriber goes away
// or the publisher stops.
//
// Returning nil completes the stream.
// Returning an error sends its message to the subscriber as a [*RemoteError].
type Producer func(ctx context.Context, send func([]byte) error) error

// PublisherConfig is the configuration for [NewPublisher].
type PublisherConfig struct {
	Conn Conn

	// Producers by topic name.
	// Streams requesting any other topic are rejected with an error frame.
	Topics map[string]Producer

	ReceiveHeaderTimeout time.Duration

	// Limit for writing one frame.
	SendTimeout time.Duration
}

func (c PublisherConfig) validate() {
	var err error

	if c.Conn == nil {
		err = errors.Join(err, errors.New("Conn must not be nil"))
	}
	if len(c.Topics) == 0 {
		err = errors.Join(err, errors.New("Topics must not be empty"))
	}
	for name, p := range c.Topics {
		if p == nil {
			err = errors.Join(err, fmt.Errorf("Topics[%q] must not be nil", name))
		}
	}
	if c.ReceiveHeaderTimeout <= 0 {
		err = errors.Join(err, errors.New("ReceiveHeaderTimeout must be positive"))
	}
	if c.SendTimeout <= 0 {
		err = errors.Join(err, errors.New("SendTimeout must be positive"))
	}

	if err != nil {
		panic(fmt.Errorf("invalid PublisherConfig: %w", err))
	}
}

// Publisher serves the topics in its config
// to every stream accepted on its connection.
type Publisher struct {
	log *slog.Logger
	cfg PublisherConfig

	wg   sync.WaitGroup
	done chan struct{}
}

// NewPublisher returns a new Publisher
// and starts accepting streams in the background.
// Cancel ctx to stop the publisher,
// and then call [*Publisher.Wait] to wait for its goroutines.
func NewPublisher(ctx context.Context, log *slog.Logger, cfg PublisherConfig) *Publisher {
	cfg.validate()

	p := &Publisher{
		log: log.With("remote_addr", cfg.Conn.RemoteAddr().String()),
		cfg: cfg,

		done: make(chan struct{}),
	}

	go p.acceptLoop(ctx)

	return p
}

// Wait blocks until the publisher has stopped accepting streams
// and every stream it was serving has finished.
func (p *Publisher) Wait() {
	<-p.done
	p.wg.Wait()
}

func (p *Publisher) acceptLoop(ctx context.Context) {
	defer close(p.done)

	for {
		st, err := p.cfg.Conn.AcceptStream(ctx)
		if err != nil {
			if ctx.Err() != nil {
				p.log.Info(
					"Stopping due to context cancellation",
					"cause", context.Cause(ctx),
				)
			} else {
				p.log.Info("Stopped accepting streams", "err", err)
			}
			return
		}

		p.wg.Add(1)
		go p.serve(ctx, st)
	}
}

var errUnexpectedData = errors.New("subscriber wrote past the header")

func (p *Publisher) serve(ctx context.Context, st Stream) {
	defer p.wg.Done()

	if err := st.SetReadDeadline(time.Now().Add(p.cfg.ReceiveHeaderTimeout)); err != nil {
		cancel(st, InterruptedErrorCode)
		p.log.Debug("Failed to set read deadline for header", "err", err)
		return
	}
	flags, topic, err := readHeader(st)
	if err != nil {
		cancel(st, InterruptedErrorCode)
		p.log.Debug("Failed to receive stream header", "err", err)
		return
	}
	if err := st.SetReadDeadline(time.Time{}); err != nil {
		cancel(st, InterruptedErrorCode)
		p.log.Debug("Failed to clear read deadline", "err", err)
		return
	}

	log := p.log.With("topic", topic)

	produce, ok := p.cfg.Topics[topic]
	if !ok {
		log.Debug("Rejecting stream for unknown topic")
		_ = st.SetWriteDeadline(time.Now().Add(p.cfg.SendTimeout))
		if err := writeFrame(st, errorFrameID, []byte("unknown topic")); err != nil {
			cancel(st, InterruptedErrorCode)
			return
		}
		_ = st.Close()
		return
	}

	runCtx, cancelRun := context.WithCancelCause(ctx)
	defer cancelRun(nil)

	// The subscriber sends nothing after the header,
	// so any read result means it has closed or canceled its side.
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		var b [1]byte
		_, err := st.Read(b[:])
		if err == nil {
			err = errUnexpectedData
		}
		cancelRun(fmt.Errorf("subscriber left: %w", err))
	}()

	compress := flags&flagSnappy != 0
	send := func(b []byte) error {
		if err := st.SetWriteDeadline(time.Now().Add(p.cfg.SendTimeout)); err != nil {
			return fmt.Errorf("failed to set write deadline: %w", err)
		}
		return writeValueFrame(st, compress, b)
	}

	err = produce(runCtx, send)

	switch {
	case runCtx.Err() != nil:
		log.Debug("Stream ended early", "cause", context.Cause(runCtx))
		cancel(st, InterruptedErrorCode)

	case err != nil:
		log.Debug("Producer failed", "err", err)
		_ = st.SetWriteDeadline(time.Now().Add(p.cfg.SendTimeout))
		if werr := writeFrame(st, errorFrameID, []byte(err.Error())); werr != nil {
			cancel(st, InterruptedErrorCode)
			return
		}
		_ = st.Close()

	default:
		_ = st.Close()
	}
}
