package relay

import (
	"context"
	"fmt"

	"github.com/nbd-wtf/go-nostr"
)

// Conn is a connection to a single relay.
type Conn interface {
	URL() string
	Publish(ctx context.Context, event nostr.Event) error
	QuerySync(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error)
	// Subscribe streams matching events until ctx is done.
	Subscribe(ctx context.Context, filter nostr.Filter) (<-chan *nostr.Event, error)
	Close() error
}

// Dialer opens relay connections.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, url string) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, url string) (Conn, error) {
	return f(ctx, url)
}

// PoolDialer opens connections through a go-nostr SimplePool, so repeated
// dials of one url share a websocket.
type PoolDialer struct {
	pool *nostr.SimplePool
}

func NewPoolDialer(ctx context.Context) *PoolDialer {
	return &PoolDialer{pool: nostr.NewSimplePool(ctx)}
}

// Dial waits for the pool to connect to url or for ctx to end, whichever
// happens first.
func (d *PoolDialer) Dial(ctx context.Context, url string) (Conn, error) {
	type result struct {
		relay *nostr.Relay
		err   error
	}
	done := make(chan result, 1)
	go func() {
		relay, err := d.pool.EnsureRelay(url)
		done <- result{relay: relay, err: err}
	}()
	select {
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("failed to ensure relay %s: %w", url, res.err)
		}
		return &poolConn{relay: res.relay}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type poolConn struct {
	relay *nostr.Relay
}

func (c *poolConn) URL() string {
	return c.relay.URL
}

func (c *poolConn) Publish(ctx context.Context, event nostr.Event) error {
	return c.relay.Publish(ctx, event)
}

func (c *poolConn) QuerySync(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error) {
	return c.relay.QuerySync(ctx, filter)
}

func (c *poolConn) Subscribe(ctx context.Context, filter nostr.Filter) (<-chan *nostr.Event, error) {
	sub, err := c.relay.Subscribe(ctx, nostr.Filters{filter})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", c.relay.URL, err)
	}
	out := make(chan *nostr.Event)
	go func() {
		defer close(out)
		defer sub.Unsub()
		for {
			select {
			case event, ok := <-sub.Events:
				if !ok {
					return
				}
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (c *poolConn) Close() error {
	return c.relay.Close()
}
