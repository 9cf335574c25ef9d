package slquic

import (
	"context"
	"fmt"

	"github.com/gordian-engine/sharelatest"
	"github.com/gordian-engine/sharelatest/slpubsub"
)

// relayItem is either a value or the end of the relayed stream.
type relayItem[T any] struct {
	val T

	done bool
	err  error
}

// ShareProducer returns a [Producer] that relays s.
// Each remote stream subscribes to s,
// so the latest value is replayed to every new remote subscriber
// and all of them share s's single upstream run.
func ShareProducer[T any](s *sharelatest.Share[T], encode func(T) ([]byte, error)) Producer {
	return func(ctx context.Context, send func([]byte) error) error {
		// Observer callbacks must not block,
		// so they only append to the pubsub stream.
		items := slpubsub.NewPublisher[relayItem[T]]()
		next := items.Stream()

		sub := s.Subscribe(ctx, sharelatest.Observer[T]{
			OnValue: func(v T) {
				items.Publish(relayItem[T]{val: v})
			},
			OnComplete: func() {
				items.Publish(relayItem[T]{done: true})
			},
			OnError: func(err error) {
				items.Publish(relayItem[T]{done: true, err: err})
			},
		})
		defer sub.Unsubscribe()

		for {
			select {
			case <-ctx.Done():
				return context.Cause(ctx)
			case <-next.Ready:
			}

			item := next.Val
			next = next.Next

			if item.done {
				return item.err
			}

			b, err := encode(item.val)
			if err != nil {
				return fmt.Errorf("failed to encode value: %w", err)
			}
			if err := send(b); err != nil {
				return fmt.Errorf("failed to send value: %w", err)
			}
		}
	}
}
