package cupid

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/youcupid/youcupid/protocol"
	"github.com/youcupid/youcupid/relay"
)

var (
	ErrNoSigner       = errors.New("no signer available")
	ErrNotLoggedIn    = errors.New("not logged in")
	ErrInvalidMatch   = errors.New("invalid match")
	ErrDuplicateMatch = errors.New("these friends are already matched")
	ErrNotVerified    = errors.New("failed to verify event publication")
	ErrPublishTimeout = errors.New("publish timeout")
	ErrEmptyMessage   = errors.New("message is empty")
	ErrNotOwner       = errors.New("match was created by someone else")
)

const (
	defaultPublishTimeout = 5 * time.Second
	defaultProfileTTL     = time.Minute
	// profileConcurrency bounds parallel profile lookups.
	profileConcurrency = 8
)

// RelaySet is the part of relay.Set the client needs.
type RelaySet interface {
	Connect(ctx context.Context) error
	State() relay.State
	URLs() []string
	Connected() []string
	Add(ctx context.Context, url string) (string, error)
	Remove(url string)
	Publish(ctx context.Context, event nostr.Event) ([]relay.PublishResult, error)
	Fetch(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error)
	FetchOne(ctx context.Context, filter nostr.Filter) (*nostr.Event, error)
	Subscribe(ctx context.Context, filter nostr.Filter) (<-chan *nostr.Event, error)
	Close()
}

var _ RelaySet = (*relay.Set)(nil)

type Options struct {
	Relays RelaySet
	// Signer may be nil; Login then fails with ErrNoSigner until SetSigner is called.
	Signer           protocol.Signer
	PublishTimeout   time.Duration
	PropagationDelay time.Duration
	// ProfileTTL bounds how long Profile serves a cached lookup.
	ProfileTTL time.Duration
}

// User is the logged in account.
type User struct {
	PubKey  string           `json:"pubkey"`
	Npub    string           `json:"npub"`
	Profile protocol.Profile `json:"profile"`
}

// RelayStatus describes the relay set.
type RelayStatus struct {
	State     relay.State `json:"state"`
	Relays    []string    `json:"relays"`
	Connected []string    `json:"connected"`
}

// Client wraps the relay set and the signer with the youcupid event conventions.
type Client struct {
	relays           RelaySet
	publishTimeout   time.Duration
	propagationDelay time.Duration
	profileTTL       time.Duration

	mu      sync.RWMutex
	signer  protocol.Signer
	session *User

	profiles *xsync.MapOf[string, cachedProfile]
	pairs    *MutexMap
}

func New(opts Options) *Client {
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = defaultPublishTimeout
	}
	if opts.ProfileTTL <= 0 {
		opts.ProfileTTL = defaultProfileTTL
	}
	if opts.PropagationDelay < 0 {
		opts.PropagationDelay = 0
	}
	return &Client{
		relays:           opts.Relays,
		signer:           opts.Signer,
		publishTimeout:   opts.PublishTimeout,
		propagationDelay: opts.PropagationDelay,
		profileTTL:       opts.ProfileTTL,
		profiles:         xsync.NewMapOf[string, cachedProfile](),
		pairs:            NewMutexMap(),
	}
}

// SetSigner replaces the signer and ends the current session.
func (c *Client) SetSigner(signer protocol.Signer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.signer = signer
	c.session = nil
}

// Login connects the relay set and starts a session for the signer key.
func (c *Client) Login(ctx context.Context) (*User, error) {
	c.mu.RLock()
	signer := c.signer
	c.mu.RUnlock()
	if signer == nil {
		return nil, ErrNoSigner
	}
	if err := c.relays.Connect(ctx); err != nil {
		return nil, fmt.Errorf("could not connect to relays: %w", err)
	}
	publicKey, err := signer.GetPublicKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not get public key: %w", err)
	}
	publicKey, err = protocol.ParsePublicKey(publicKey)
	if err != nil {
		return nil, err
	}
	npub, err := nip19.EncodePublicKey(publicKey)
	if err != nil {
		return nil, fmt.Errorf("could not encode public key: %w", err)
	}
	user := &User{PubKey: publicKey, Npub: npub}
	profile, err := c.Profile(ctx, publicKey)
	switch {
	case err == nil:
		user.Profile = profile
	case errors.Is(err, relay.ErrNotFound):
		slog.Info("no profile published", "pubkey", publicKey)
	default:
		slog.Warn("could not fetch profile", "pubkey", publicKey, "error", err)
	}

	c.mu.Lock()
	c.session = user
	c.mu.Unlock()
	slog.Info("logged in", "npub", npub)
	return c.Session()
}

func (c *Client) Logout() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = nil
}

// Session returns a copy of the logged in user.
func (c *Client) Session() (*User, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return nil, ErrNotLoggedIn
	}
	user := *c.session
	return &user, nil
}

func (c *Client) current() (string, protocol.Signer, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return "", nil, ErrNotLoggedIn
	}
	if c.signer == nil {
		return "", nil, ErrNoSigner
	}
	return c.session.PubKey, c.signer, nil
}

// Relays reports the relay set state.
func (c *Client) Relays() RelayStatus {
	return RelayStatus{
		State:     c.relays.State(),
		Relays:    c.relays.URLs(),
		Connected: c.relays.Connected(),
	}
}

// AddRelay adds a relay; adding a known relay does nothing.
func (c *Client) AddRelay(ctx context.Context, url string) (string, error) {
	return c.relays.Add(ctx, url)
}

func (c *Client) RemoveRelay(url string) {
	c.relays.Remove(url)
}

// Close ends the session and closes every relay connection.
func (c *Client) Close() {
	c.Logout()
	c.relays.Close()
}

// publish signs and publishes event, bounded by the publish timeout.
func (c *Client) publish(ctx context.Context, signer protocol.Signer, event *nostr.Event) error {
	if err := signer.SignEvent(ctx, event); err != nil {
		return fmt.Errorf("could not sign event: %w", err)
	}
	publishCtx, cancel := context.WithTimeout(ctx, c.publishTimeout)
	defer cancel()
	results, err := c.relays.Publish(publishCtx, *event)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return ErrPublishTimeout
		}
		return fmt.Errorf("could not publish event: %w", err)
	}
	slog.Debug("published event", "event", event.ID, "kind", event.Kind, "relays", len(results))
	return nil
}
