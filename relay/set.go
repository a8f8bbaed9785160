package relay

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

var (
	ErrNoRelays      = errors.New("no relay acknowledged the connection")
	ErrNotConnected  = errors.New("relay set is not connected")
	ErrPublishFailed = errors.New("no relay accepted the event")
	ErrNotFound      = errors.New("event not found")
)

const (
	defaultMaxAttempts    = 3
	defaultConnectTimeout = 5 * time.Second
)

// Options configures a Set.
type Options struct {
	// Relays are dialed on the first attempt.
	Relays []string
	// Fallback relays are added once an attempt ends with no relay connected.
	Fallback       []string
	MaxAttempts    int
	ConnectTimeout time.Duration
	RetryDelay     time.Duration
	// FetchTimeout bounds Fetch when the caller context has no deadline.
	FetchTimeout  time.Duration
	Dialer        Dialer
	OnStateChange func(State)
}

// PublishResult reports the outcome of publishing to one relay.
type PublishResult struct {
	URL   string `json:"url"`
	Error string `json:"error,omitempty"`
}

// Set is the group of relays the application talks to. It owns the
// connection bootstrap and fans reads and writes out to every connected relay.
type Set struct {
	opts Options

	// connectMu serialises bootstrap runs.
	connectMu sync.Mutex

	mu      sync.RWMutex
	urls    []string
	state   State
	changed chan struct{}

	conns *xsync.MapOf[string, Conn]
}

// NewSet creates a disconnected Set. Invalid relay urls are dropped with a warning.
func NewSet(opts Options) *Set {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}
	if opts.Dialer == nil {
		opts.Dialer = NewPoolDialer(context.Background())
	}
	opts.Fallback = normalizeAll(opts.Fallback)
	return &Set{
		opts:    opts,
		urls:    normalizeAll(opts.Relays),
		state:   Disconnected,
		changed: make(chan struct{}),
		conns:   xsync.NewMapOf[string, Conn](),
	}
}

func normalizeAll(urls []string) []string {
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		normalized, err := NormalizeURL(u)
		if err != nil {
			slog.Warn("ignoring relay", "url", u, "error", err)
			continue
		}
		out = append(out, normalized)
	}
	return lo.Uniq(out)
}

func (s *Set) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Set) setState(state State) {
	s.mu.Lock()
	if s.state == state {
		s.mu.Unlock()
		return
	}
	previous := s.state
	s.state = state
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()

	slog.Debug("relay set state changed", "from", previous, "to", state)
	if s.opts.OnStateChange != nil {
		s.opts.OnStateChange(state)
	}
}

// URLs returns the configured relays.
func (s *Set) URLs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.urls)
}

// Connected returns the relays with an open connection, sorted.
func (s *Set) Connected() []string {
	urls := make([]string, 0, s.conns.Size())
	s.conns.Range(func(url string, _ Conn) bool {
		urls = append(urls, url)
		return true
	})
	slices.Sort(urls)
	return urls
}

// Connect runs the bootstrap. Each attempt dials all configured relays in
// parallel and succeeds once at least one of them acknowledged. When an
// attempt ends with zero connections the fallback relays join the list for
// the next attempt. After MaxAttempts the state is Failed.
func (s *Set) Connect(ctx context.Context) error {
	s.connectMu.Lock()
	defer s.connectMu.Unlock()

	if s.State() == Connected && s.conns.Size() > 0 {
		return nil
	}
	s.setState(Connecting)
	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		connected := s.dialAll(ctx, s.URLs())
		if err := ctx.Err(); err != nil {
			s.setState(Disconnected)
			return err
		}
		if connected > 0 {
			slog.Info("connected to relays", "count", connected, "attempt", attempt)
			s.setState(Connected)
			return nil
		}
		slog.Warn("no relay acknowledged", "attempt", attempt, "max_attempts", s.opts.MaxAttempts)
		if s.useFallback() {
			slog.Info("trying fallback relays", "relays", s.opts.Fallback)
		}
		if attempt < s.opts.MaxAttempts && s.opts.RetryDelay > 0 {
			select {
			case <-time.After(s.opts.RetryDelay):
			case <-ctx.Done():
				s.setState(Disconnected)
				return ctx.Err()
			}
		}
	}
	s.setState(Failed)
	return fmt.Errorf("%w after %d attempts", ErrNoRelays, s.opts.MaxAttempts)
}

// useFallback merges the fallback relays into the configured list and
// reports whether anything was added.
func (s *Set) useFallback() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	merged := lo.Uniq(append(slices.Clone(s.urls), s.opts.Fallback...))
	if len(merged) == len(s.urls) {
		return false
	}
	s.urls = merged
	return true
}

// dialAll dials every url that has no connection yet, each bounded by the
// connect timeout, and returns the number of open connections.
func (s *Set) dialAll(ctx context.Context, urls []string) int {
	var g errgroup.Group
	for _, url := range urls {
		if _, ok := s.conns.Load(url); ok {
			continue
		}
		g.Go(func() error {
			s.dial(ctx, url)
			return nil
		})
	}
	_ = g.Wait()
	return s.conns.Size()
}

func (s *Set) dial(ctx context.Context, url string) bool {
	dialCtx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
	defer cancel()
	conn, err := s.opts.Dialer.Dial(dialCtx, url)
	if err != nil {
		slog.Debug("could not connect to relay", "url", url, "error", err)
		return false
	}
	// the url may have been removed while dialing
	if !s.configured(url) {
		_ = conn.Close()
		return false
	}
	if previous, loaded := s.conns.LoadAndStore(url, conn); loaded && previous != conn {
		_ = previous.Close()
	}
	slog.Debug("added relay connection", "url", url)
	return true
}

func (s *Set) configured(url string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Contains(s.urls, url)
}

// WaitConnected blocks until the set is Connected or Failed, or ctx ends.
func (s *Set) WaitConnected(ctx context.Context) error {
	for {
		s.mu.RLock()
		state, changed := s.state, s.changed
		s.mu.RUnlock()
		switch state {
		case Connected:
			return nil
		case Failed:
			return ErrNoRelays
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Add configures another relay. When the set is connected the relay is
// dialed right away; a failed dial is logged and retried by the next Connect.
func (s *Set) Add(ctx context.Context, raw string) (string, error) {
	url, err := NormalizeURL(raw)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	if slices.Contains(s.urls, url) {
		s.mu.Unlock()
		return url, nil
	}
	s.urls = append(s.urls, url)
	state := s.state
	s.mu.Unlock()

	if state == Connected {
		if !s.dial(ctx, url) {
			slog.Warn("could not connect to added relay", "url", url)
		}
	}
	return url, nil
}

// Remove drops a relay and closes its connection. Removing the last
// connected relay moves a connected set back to Disconnected.
func (s *Set) Remove(raw string) {
	url, err := NormalizeURL(raw)
	if err != nil {
		url = raw
	}
	s.mu.Lock()
	s.urls = lo.Without(s.urls, url)
	s.mu.Unlock()

	if conn, ok := s.conns.LoadAndDelete(url); ok {
		if err := conn.Close(); err != nil {
			slog.Debug("could not close relay", "url", url, "error", err)
		}
	}
	if s.State() == Connected && s.conns.Size() == 0 {
		s.setState(Disconnected)
	}
}

func (s *Set) snapshot() []Conn {
	conns := make([]Conn, 0, s.conns.Size())
	s.conns.Range(func(_ string, conn Conn) bool {
		conns = append(conns, conn)
		return true
	})
	return conns
}

// Publish sends event to every connected relay. It succeeds when at least
// one relay accepted the event.
func (s *Set) Publish(ctx context.Context, event nostr.Event) ([]PublishResult, error) {
	conns := s.snapshot()
	if len(conns) == 0 {
		return nil, ErrNotConnected
	}
	results := make([]PublishResult, len(conns))
	var g errgroup.Group
	for i, conn := range conns {
		g.Go(func() error {
			results[i] = PublishResult{URL: conn.URL()}
			if err := conn.Publish(ctx, event); err != nil {
				// do not fail here, other relays may still accept the event
				slog.Warn("could not publish event", "url", conn.URL(), "event", event.ID, "error", err)
				results[i].Error = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()
	slices.SortFunc(results, func(a, b PublishResult) int { return cmp.Compare(a.URL, b.URL) })

	if lo.EveryBy(results, func(r PublishResult) bool { return r.Error != "" }) {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		return results, ErrPublishFailed
	}
	return results, nil
}

// Fetch queries every connected relay and returns the merged events,
// de-duplicated by ID and ordered newest first. A failing relay is skipped
// unless all of them fail.
func (s *Set) Fetch(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error) {
	conns := s.snapshot()
	if len(conns) == 0 {
		return nil, ErrNotConnected
	}
	if _, ok := ctx.Deadline(); !ok && s.opts.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.FetchTimeout)
		defer cancel()
	}
	seen := xsync.NewMapOf[string, *nostr.Event]()
	errs := make([]error, len(conns))
	var g errgroup.Group
	for i, conn := range conns {
		g.Go(func() error {
			events, err := conn.QuerySync(ctx, filter)
			if err != nil {
				slog.Warn("could not query relay", "url", conn.URL(), "error", err)
				errs[i] = fmt.Errorf("%s: %w", conn.URL(), err)
				return nil
			}
			for _, event := range events {
				if event != nil {
					seen.LoadOrStore(event.ID, event)
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	if lo.EveryBy(errs, func(err error) bool { return err != nil }) {
		return nil, errors.Join(errs...)
	}

	events := make([]*nostr.Event, 0, seen.Size())
	seen.Range(func(_ string, event *nostr.Event) bool {
		events = append(events, event)
		return true
	})
	slices.SortFunc(events, func(a, b *nostr.Event) int {
		if c := cmp.Compare(b.CreatedAt, a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return events, nil
}

// FetchOne returns the newest event matching filter.
func (s *Set) FetchOne(ctx context.Context, filter nostr.Filter) (*nostr.Event, error) {
	events, err := s.Fetch(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, ErrNotFound
	}
	return events[0], nil
}

// Subscribe merges the live events of every connected relay. The channel
// is closed when ctx ends or every relay subscription ended.
func (s *Set) Subscribe(ctx context.Context, filter nostr.Filter) (<-chan *nostr.Event, error) {
	conns := s.snapshot()
	if len(conns) == 0 {
		return nil, ErrNotConnected
	}
	sources := make([]<-chan *nostr.Event, 0, len(conns))
	for _, conn := range conns {
		events, err := conn.Subscribe(ctx, filter)
		if err != nil {
			slog.Warn("could not subscribe", "url", conn.URL(), "error", err)
			continue
		}
		sources = append(sources, events)
	}
	if len(sources) == 0 {
		return nil, ErrNotConnected
	}

	out := make(chan *nostr.Event)
	seen := xsync.NewMapOf[string, struct{}]()
	var g errgroup.Group
	for _, source := range sources {
		g.Go(func() error {
			for event := range source {
				if event == nil {
					continue
				}
				if _, loaded := seen.LoadOrStore(event.ID, struct{}{}); loaded {
					continue
				}
				select {
				case out <- event:
				case <-ctx.Done():
					return nil
				}
			}
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(out)
	}()
	return out, nil
}

// Close closes every connection and leaves the set Disconnected.
func (s *Set) Close() {
	s.conns.Range(func(url string, conn Conn) bool {
		if err := conn.Close(); err != nil {
			slog.Debug("could not close relay", "url", url, "error", err)
		}
		s.conns.Delete(url)
		return true
	})
	s.setState(Disconnected)
}
