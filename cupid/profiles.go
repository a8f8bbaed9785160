package cupid

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/samber/lo"
	"github.com/youcupid/youcupid/protocol"
	"github.com/youcupid/youcupid/relay"
	"golang.org/x/sync/errgroup"
)

// Friend is an entry of the users contact list.
type Friend struct {
	PubKey  string           `json:"pubkey"`
	Name    string           `json:"name"`
	Profile protocol.Profile `json:"profile"`
}

type cachedProfile struct {
	profile   protocol.Profile
	createdAt nostr.Timestamp
	fetchedAt time.Time
}

// Profile returns the newest metadata of publicKey. Lookups younger than the
// profile TTL are served from the cache.
func (c *Client) Profile(ctx context.Context, publicKey string) (protocol.Profile, error) {
	publicKey, err := protocol.ParsePublicKey(publicKey)
	if err != nil {
		return protocol.Profile{}, err
	}
	if cached, ok := c.profiles.Load(publicKey); ok && time.Since(cached.fetchedAt) < c.profileTTL {
		return cached.profile, nil
	}
	return c.fetchProfile(ctx, publicKey)
}

// fetchProfile reads the newest kind 0 of publicKey from the relays. When the
// relays fail or return something older, the cached profile is kept.
func (c *Client) fetchProfile(ctx context.Context, publicKey string) (protocol.Profile, error) {
	event, err := c.relays.FetchOne(ctx, protocol.ProfileFilter(publicKey))
	if err == nil {
		var profile protocol.Profile
		if profile, err = protocol.ParseProfile(event); err == nil {
			return c.storeProfile(publicKey, profile, event.CreatedAt), nil
		}
	}
	if cached, ok := c.profiles.Load(publicKey); ok {
		return cached.profile, nil
	}
	return protocol.Profile{}, err
}

func (c *Client) storeProfile(publicKey string, profile protocol.Profile, createdAt nostr.Timestamp) protocol.Profile {
	now := time.Now()
	cached, _ := c.profiles.Compute(publicKey, func(old cachedProfile, loaded bool) (cachedProfile, bool) {
		if loaded && old.createdAt > createdAt {
			old.fetchedAt = now
			return old, false
		}
		return cachedProfile{profile: profile, createdAt: createdAt, fetchedAt: now}, false
	})
	return cached.profile
}

// profilesOf fetches several profiles from the relays in parallel. Keys
// whose lookup failed are missing from the result.
func (c *Client) profilesOf(ctx context.Context, keys []string) map[string]protocol.Profile {
	keys = lo.Uniq(keys)
	var mu sync.Mutex
	profiles := make(map[string]protocol.Profile, len(keys))
	var g errgroup.Group
	g.SetLimit(profileConcurrency)
	for _, key := range keys {
		g.Go(func() error {
			profile, err := c.fetchProfile(ctx, key)
			if err != nil {
				if !errors.Is(err, relay.ErrNotFound) {
					slog.Warn("failed to fetch profile", "pubkey", key, "error", err)
				}
				return nil
			}
			mu.Lock()
			profiles[key] = profile
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return profiles
}

// UpdateProfile publishes new metadata for the logged in user.
func (c *Client) UpdateProfile(ctx context.Context, profile protocol.Profile) (protocol.Profile, error) {
	publicKey, signer, err := c.current()
	if err != nil {
		return protocol.Profile{}, err
	}
	event, err := protocol.NewProfileEvent(profile)
	if err != nil {
		return protocol.Profile{}, err
	}
	if err := c.publish(ctx, signer, &event); err != nil {
		return protocol.Profile{}, err
	}
	profile = c.storeProfile(publicKey, profile, event.CreatedAt)
	c.mu.Lock()
	if c.session != nil && c.session.PubKey == publicKey {
		c.session.Profile = profile
	}
	c.mu.Unlock()
	return profile, nil
}

// Friends returns the contacts of the users newest contact list with their profiles.
func (c *Client) Friends(ctx context.Context) ([]Friend, error) {
	publicKey, _, err := c.current()
	if err != nil {
		return nil, err
	}
	event, err := c.relays.FetchOne(ctx, protocol.ContactListFilter(publicKey))
	if errors.Is(err, relay.ErrNotFound) {
		return []Friend{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("could not fetch contact list: %w", err)
	}
	contacts := protocol.Contacts(event)
	profiles := c.profilesOf(ctx, contacts)
	return lo.Map(contacts, func(key string, _ int) Friend {
		profile := profiles[key]
		return Friend{PubKey: key, Name: profile.Label(key), Profile: profile}
	}), nil
}
