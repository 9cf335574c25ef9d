package slquic_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gordian-engine/sharelatest"
	"github.com/gordian-engine/sharelatest/internal/sltest"
	"github.com/gordian-engine/sharelatest/sharelatesttest"
	"github.com/gordian-engine/sharelatest/slquic"
	"github.com/gordian-engine/sharelatest/slquic/slquictest"
	"github.com/stretchr/testify/require"
)

func decodeString(b []byte) (string, error) {
	return string(b), nil
}

func encodeString(s string) ([]byte, error) {
	return []byte(s), nil
}

func startPublisher(
	t *testing.T, ctx context.Context, conn slquic.Conn, topics map[string]slquic.Producer,
) {
	t.Helper()

	ctx, cancel := context.WithCancel(ctx)
	p := slquic.NewPublisher(ctx, sltest.NewLogger(t), slquic.PublisherConfig{
		Conn:   conn,
		Topics: topics,

		ReceiveHeaderTimeout: time.Second,
		SendTimeout:          time.Second,
	})
	t.Cleanup(func() {
		cancel()
		p.Wait()
	})
}

func newRemoteShare(
	t *testing.T, ctx context.Context, conn slquic.Conn, cfg slquic.SourceConfig[string],
) *sharelatest.Share[string] {
	t.Helper()

	cfg.Conn = conn
	cfg.Decode = decodeString
	cfg.OpenStreamTimeout = time.Second
	cfg.SendHeaderTimeout = time.Second

	log := sltest.NewLogger(t)
	src := slquic.NewSource(log.With("sys", "source"), cfg)

	ctx, cancel := context.WithCancel(ctx)
	s := sharelatest.New[string](ctx, log.With("sys", "share"), sharelatest.Config{}, src)
	t.Cleanup(func() {
		cancel()
		s.Wait()
	})
	return s
}

// chanProducer sends every string it receives on vals
// until its context is canceled.
type chanProducer struct {
	vals  chan string
	calls atomic.Int32

	stopped chan struct{}
}

func newChanProducer() *chanProducer {
	return &chanProducer{
		vals:    make(chan string),
		stopped: make(chan struct{}, 8),
	}
}

func (p *chanProducer) Produce(ctx context.Context, send func([]byte) error) error {
	p.calls.Add(1)
	defer func() { p.stopped <- struct{}{} }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case v := <-p.vals:
			if err := send([]byte(v)); err != nil {
				return err
			}
		}
	}
}

func TestSource_manySubscribersOneStream(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, server := slquictest.NewPair(t, ctx)

	prod := newChanProducer()
	startPublisher(t, ctx, server, map[string]slquic.Producer{
		"prices": prod.Produce,
	})

	s := newRemoteShare(t, ctx, client, slquic.SourceConfig[string]{Topic: "prices"})

	recs := make([]*sharelatesttest.Recorder[string], 3)
	for i := range recs {
		recs[i] = sharelatesttest.NewRecorder[string]()
		s.Subscribe(ctx, recs[i].Observer())
	}

	sltest.SendSoon(t, prod.vals, "a")
	sltest.SendSoon(t, prod.vals, "b")

	for _, r := range recs {
		require.Equal(t, []string{"a", "b"}, r.WaitForValues(t, 2))
	}
	require.Equal(t, int32(1), prod.calls.Load())

	// A late subscriber is served from the local cache.
	v, err := sharelatest.First(ctx, s)
	require.NoError(t, err)
	require.Equal(t, "b", v)
	require.Equal(t, int32(1), prod.calls.Load())
}

func TestSource_unsubscribeStopsProducer(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, server := slquictest.NewPair(t, ctx)

	prod := newChanProducer()
	startPublisher(t, ctx, server, map[string]slquic.Producer{
		"prices": prod.Produce,
	})

	s := newRemoteShare(t, ctx, client, slquic.SourceConfig[string]{Topic: "prices"})

	r := sharelatesttest.NewRecorder[string]()
	sub := s.Subscribe(ctx, r.Observer())
	sltest.SendSoon(t, prod.vals, "a")
	r.WaitForValues(t, 1)

	sub.Unsubscribe()
	_ = sltest.ReceiveSoon(t, prod.stopped)

	// Subscribing again replays, then opens a new stream.
	r2 := sharelatesttest.NewRecorder[string]()
	s.Subscribe(ctx, r2.Observer())
	require.Eventually(t, func() bool {
		return prod.calls.Load() == 2
	}, time.Second, time.Millisecond)

	sltest.SendSoon(t, prod.vals, "b")
	require.Equal(t, []string{"a", "b"}, r2.WaitForValues(t, 2))
}

func TestSource_completion(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, server := slquictest.NewPair(t, ctx)

	startPublisher(t, ctx, server, map[string]slquic.Producer{
		"once": func(_ context.Context, send func([]byte) error) error {
			if err := send([]byte("x")); err != nil {
				return err
			}
			return send([]byte("y"))
		},
	})

	s := newRemoteShare(t, ctx, client, slquic.SourceConfig[string]{Topic: "once"})

	vals, err := sharelatest.Collect(ctx, s)
	require.NoError(t, err)
	require.Equal(t, []string{"x", "y"}, vals)
}

func TestSource_remoteError(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, server := slquictest.NewPair(t, ctx)

	startPublisher(t, ctx, server, map[string]slquic.Producer{
		"broken": func(_ context.Context, send func([]byte) error) error {
			if err := send([]byte("partial")); err != nil {
				return err
			}
			return errors.New("database unavailable")
		},
	})

	s := newRemoteShare(t, ctx, client, slquic.SourceConfig[string]{Topic: "broken"})

	vals, err := sharelatest.Collect(ctx, s)
	require.Equal(t, []string{"partial"}, vals)

	var remote *slquic.RemoteError
	require.ErrorAs(t, err, &remote)
	require.Equal(t, "broken", remote.Topic)
	require.Equal(t, "database unavailable", remote.Message)

	var uerr *sharelatest.UpstreamError
	require.ErrorAs(t, err, &uerr)
}

// logBuffer collects text log output from concurrent goroutines.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *logBuffer) Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(b, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestSource_logsRemoteFailure(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, server := slquictest.NewPair(t, ctx)

	startPublisher(t, ctx, server, map[string]slquic.Producer{
		"broken": func(context.Context, func([]byte) error) error {
			return errors.New("database unavailable")
		},
	})

	var logs logBuffer
	src := slquic.NewSource(logs.Logger(), slquic.SourceConfig[string]{
		Conn:   client,
		Topic:  "broken",
		Decode: decodeString,

		OpenStreamTimeout: time.Second,
		SendHeaderTimeout: time.Second,
	})

	err := src.Run(ctx, func(string) {})
	var remote *slquic.RemoteError
	require.ErrorAs(t, err, &remote)

	out := logs.String()
	require.Contains(t, out, "Publisher reported failure")
	require.Contains(t, out, "topic=broken")
	require.Contains(t, out, `message="database unavailable"`)
}

func TestPublisher_logsRemoteAddr(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, server := slquictest.NewPair(t, ctx)

	var logs logBuffer
	pctx, pcancel := context.WithCancel(ctx)
	p := slquic.NewPublisher(pctx, logs.Logger(), slquic.PublisherConfig{
		Conn:   server,
		Topics: map[string]slquic.Producer{"prices": newChanProducer().Produce},

		ReceiveHeaderTimeout: time.Second,
		SendTimeout:          time.Second,
	})
	pcancel()
	p.Wait()

	out := logs.String()
	require.Contains(t, out, "Stopping due to context cancellation")
	require.Contains(t, out, "remote_addr="+server.RemoteAddr().String())
}

func TestSource_unknownTopic(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, server := slquictest.NewPair(t, ctx)

	startPublisher(t, ctx, server, map[string]slquic.Producer{
		"known": newChanProducer().Produce,
	})

	s := newRemoteShare(t, ctx, client, slquic.SourceConfig[string]{Topic: "unknown"})

	_, err := sharelatest.First(ctx, s)

	var remote *slquic.RemoteError
	require.ErrorAs(t, err, &remote)
	require.Equal(t, "unknown topic", remote.Message)
}

func TestSource_frameTooLarge(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, server := slquictest.NewPair(t, ctx)

	prod := newChanProducer()
	startPublisher(t, ctx, server, map[string]slquic.Producer{
		"big": prod.Produce,
	})

	s := newRemoteShare(t, ctx, client, slquic.SourceConfig[string]{
		Topic:        "big",
		MaxFrameSize: 4,
	})

	r := sharelatesttest.NewRecorder[string]()
	s.Subscribe(ctx, r.Observer())

	sltest.SendSoon(t, prod.vals, "ok")
	sltest.SendSoon(t, prod.vals, "too large")

	err := r.WaitForErr(t)
	require.ErrorIs(t, err, slquic.ErrFrameTooLarge)
	require.Equal(t, []string{"ok"}, r.Values())
}

func TestSource_compressed(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, server := slquictest.NewPair(t, ctx)

	big := strings.Repeat("abc", 1000)
	startPublisher(t, ctx, server, map[string]slquic.Producer{
		"big": func(_ context.Context, send func([]byte) error) error {
			if err := send([]byte(big)); err != nil {
				return err
			}
			return send([]byte("z"))
		},
	})

	// The frame limit applies to the decompressed size.
	s := newRemoteShare(t, ctx, client, slquic.SourceConfig[string]{
		Topic:        "big",
		Compress:     true,
		MaxFrameSize: uint32(len(big)),
	})

	vals, err := sharelatest.Collect(ctx, s)
	require.NoError(t, err)
	require.Equal(t, []string{big, "z"}, vals)
}

func TestShareProducer_relay(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The origin share, with a local upstream.
	origin := sharelatesttest.NewUpstream[string]()
	originCtx, originCancel := context.WithCancel(ctx)
	originShare := sharelatest.New[string](
		originCtx, sltest.NewLogger(t), sharelatest.Config{}, origin,
	)
	t.Cleanup(func() {
		originCancel()
		originShare.Wait()
	})

	client, server := slquictest.NewPair(t, ctx)
	startPublisher(t, ctx, server, map[string]slquic.Producer{
		"relay": slquic.ShareProducer(originShare, encodeString),
	})

	// Two independent remote shares means two streams.
	a := newRemoteShare(t, ctx, client, slquic.SourceConfig[string]{Topic: "relay"})
	b := newRemoteShare(t, ctx, client, slquic.SourceConfig[string]{Topic: "relay"})

	ra := sharelatesttest.NewRecorder[string]()
	a.Subscribe(ctx, ra.Observer())

	origin.WaitForLive(t, 1)
	require.True(t, origin.Emit("v1"))
	require.Equal(t, []string{"v1"}, ra.WaitForValues(t, 1))

	// The second stream joins late and receives the origin's replay.
	rb := sharelatesttest.NewRecorder[string]()
	b.Subscribe(ctx, rb.Observer())
	require.Equal(t, []string{"v1"}, rb.WaitForValues(t, 1))

	require.True(t, origin.Emit("v2"))
	require.Equal(t, []string{"v1", "v2"}, ra.WaitForValues(t, 2))
	require.Equal(t, []string{"v1", "v2"}, rb.WaitForValues(t, 2))

	require.Equal(t, 1, origin.Runs())
	require.Equal(t, 1, origin.MaxLive())

	// Completion at the origin completes the remote subscribers.
	require.True(t, origin.Complete())
	ra.WaitForCompletion(t)
	rb.WaitForCompletion(t)
}

func TestNewSource_invalidConfig(t *testing.T) {
	t.Parallel()

	require.Panics(t, func() {
		_ = slquic.NewSource(sltest.NewLogger(t), slquic.SourceConfig[string]{})
	})
}
