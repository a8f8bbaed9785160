package cupid

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/require"
	"github.com/youcupid/youcupid/protocol"
	"github.com/youcupid/youcupid/relay"
)

const memRelayURL = "wss://mem.example"

// memRelay keeps events in memory and feeds live subscribers.
type memRelay struct {
	mu     sync.Mutex
	events []*nostr.Event
	subs   []memSub
	// hangPublish makes Publish block until ctx ends
	hangPublish bool
	// dropPublished acknowledges events without storing them
	dropPublished bool
}

type memSub struct {
	filter nostr.Filter
	ch     chan *nostr.Event
}

func (r *memRelay) add(event nostr.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, &event)
	for _, sub := range r.subs {
		if sub.filter.Matches(&event) {
			sub.ch <- &event
		}
	}
}

func (r *memRelay) byKind(kind int) []*nostr.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*nostr.Event
	for _, event := range r.events {
		if event.Kind == kind {
			out = append(out, event)
		}
	}
	return out
}

type memConn struct {
	relay *memRelay
}

func (c *memConn) URL() string { return memRelayURL }

func (c *memConn) Publish(ctx context.Context, event nostr.Event) error {
	c.relay.mu.Lock()
	hang, drop := c.relay.hangPublish, c.relay.dropPublished
	c.relay.mu.Unlock()
	if hang {
		<-ctx.Done()
		return ctx.Err()
	}
	if !drop {
		c.relay.add(event)
	}
	return nil
}

func (c *memConn) QuerySync(_ context.Context, filter nostr.Filter) ([]*nostr.Event, error) {
	c.relay.mu.Lock()
	defer c.relay.mu.Unlock()
	var out []*nostr.Event
	for _, event := range c.relay.events {
		if filter.Matches(event) {
			out = append(out, event)
		}
	}
	return out, nil
}

func (c *memConn) Subscribe(ctx context.Context, filter nostr.Filter) (<-chan *nostr.Event, error) {
	in := make(chan *nostr.Event, 64)
	c.relay.mu.Lock()
	c.relay.subs = append(c.relay.subs, memSub{filter: filter, ch: in})
	c.relay.mu.Unlock()
	out := make(chan *nostr.Event)
	go func() {
		defer close(out)
		for {
			select {
			case event := <-in:
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

func (c *memConn) Close() error { return nil }

type testEnv struct {
	client *Client
	relay  *memRelay
	me     *protocol.EventSigner
}

func newSigner(t *testing.T) *protocol.EventSigner {
	t.Helper()
	signer, err := protocol.NewEventSigner(nostr.GeneratePrivateKey())
	require.NoError(t, err)
	return signer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mem := &memRelay{}
	set := relay.NewSet(relay.Options{
		Relays:         []string{memRelayURL},
		MaxAttempts:    1,
		ConnectTimeout: time.Second,
		Dialer: relay.DialerFunc(func(context.Context, string) (relay.Conn, error) {
			return &memConn{relay: mem}, nil
		}),
	})
	me := newSigner(t)
	client := New(Options{
		Relays:         set,
		Signer:         me,
		PublishTimeout: 100 * time.Millisecond,
	})
	t.Cleanup(client.Close)
	return &testEnv{client: client, relay: mem, me: me}
}

func (e *testEnv) login(t *testing.T) {
	t.Helper()
	_, err := e.client.Login(context.Background())
	require.NoError(t, err)
}

// seed signs event with signer and stores it on the relay.
func (e *testEnv) seed(t *testing.T, signer *protocol.EventSigner, event nostr.Event) nostr.Event {
	t.Helper()
	require.NoError(t, signer.SignEvent(context.Background(), &event))
	e.relay.add(event)
	return event
}

func (e *testEnv) seedProfile(t *testing.T, signer *protocol.EventSigner, name string) {
	t.Helper()
	e.seedProfileAt(t, signer, name, nostr.Now())
}

func (e *testEnv) seedProfileAt(t *testing.T, signer *protocol.EventSigner, name string, at nostr.Timestamp) {
	t.Helper()
	event, err := protocol.NewProfileEvent(protocol.Profile{Name: name})
	require.NoError(t, err)
	event.CreatedAt = at
	e.seed(t, signer, event)
}
