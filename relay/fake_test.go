package relay

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/nbd-wtf/go-nostr"
)

var errRefused = errors.New("connection refused")

// fakeRelay is an in-memory relay shared by every fakeConn dialed to its url.
type fakeRelay struct {
	mu         sync.Mutex
	events     []*nostr.Event
	publishErr error
	queryErr   error
	live       chan *nostr.Event
}

func (r *fakeRelay) published() []*nostr.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*nostr.Event(nil), r.events...)
}

type fakeConn struct {
	url    string
	relay  *fakeRelay
	closed atomic.Bool
}

func (c *fakeConn) URL() string { return c.url }

func (c *fakeConn) Publish(_ context.Context, event nostr.Event) error {
	c.relay.mu.Lock()
	defer c.relay.mu.Unlock()
	if c.relay.publishErr != nil {
		return c.relay.publishErr
	}
	c.relay.events = append(c.relay.events, &event)
	return nil
}

func (c *fakeConn) QuerySync(_ context.Context, filter nostr.Filter) ([]*nostr.Event, error) {
	c.relay.mu.Lock()
	defer c.relay.mu.Unlock()
	if c.relay.queryErr != nil {
		return nil, c.relay.queryErr
	}
	var out []*nostr.Event
	for _, event := range c.relay.events {
		if filter.Matches(event) {
			out = append(out, event)
		}
	}
	return out, nil
}

func (c *fakeConn) Subscribe(ctx context.Context, filter nostr.Filter) (<-chan *nostr.Event, error) {
	out := make(chan *nostr.Event)
	go func() {
		defer close(out)
		for {
			select {
			case event := <-c.relay.live:
				if !filter.Matches(event) {
					continue
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

func (c *fakeConn) Close() error {
	c.closed.Store(true)
	return nil
}

// fakeDialer connects to the relays it knows and refuses every other url.
type fakeDialer struct {
	mu     sync.Mutex
	relays map[string]*fakeRelay
	// block makes Dial wait for ctx on these urls
	block map[string]bool
	dials map[string]int
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{
		relays: map[string]*fakeRelay{},
		block:  map[string]bool{},
		dials:  map[string]int{},
	}
}

func (d *fakeDialer) add(url string) *fakeRelay {
	d.mu.Lock()
	defer d.mu.Unlock()
	r := &fakeRelay{live: make(chan *nostr.Event, 16)}
	d.relays[url] = r
	return r
}

func (d *fakeDialer) dialCount(url string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials[url]
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	d.dials[url]++
	relay, ok := d.relays[url]
	block := d.block[url]
	d.mu.Unlock()
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if !ok {
		return nil, errRefused
	}
	return &fakeConn{url: url, relay: relay}, nil
}
