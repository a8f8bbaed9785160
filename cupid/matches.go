package cupid

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/samber/lo"
	"github.com/youcupid/youcupid/protocol"
	"github.com/youcupid/youcupid/relay"
)

// CreateMatch announces a match between two friends. The note is signed,
// published, and then read back from the relays to confirm it landed.
func (c *Client) CreateMatch(ctx context.Context, friend1, friend2 string) (protocol.Match, error) {
	publicKey, signer, err := c.current()
	if err != nil {
		return protocol.Match{}, err
	}
	friend1, err = protocol.ParsePublicKey(friend1)
	if err != nil {
		return protocol.Match{}, fmt.Errorf("%w: friend1: %w", ErrInvalidMatch, err)
	}
	friend2, err = protocol.ParsePublicKey(friend2)
	if err != nil {
		return protocol.Match{}, fmt.Errorf("%w: friend2: %w", ErrInvalidMatch, err)
	}
	if friend1 == friend2 {
		return protocol.Match{}, fmt.Errorf("%w: a friend cannot be matched with themselves", ErrInvalidMatch)
	}
	if friend1 == publicKey || friend2 == publicKey {
		return protocol.Match{}, fmt.Errorf("%w: you cannot match yourself", ErrInvalidMatch)
	}

	pair := protocol.PairKey(friend1, friend2)
	c.pairs.Lock(pair)
	defer c.pairs.Unlock(pair)

	existing, err := c.fetchMatches(ctx, protocol.MatchFilter(publicKey, ""))
	if err != nil {
		return protocol.Match{}, err
	}
	if lo.ContainsBy(existing, func(m protocol.Match) bool {
		return protocol.PairKey(m.Friend1, m.Friend2) == pair
	}) {
		return protocol.Match{}, ErrDuplicateMatch
	}

	profiles := c.profilesOf(ctx, []string{friend1, friend2})
	event := protocol.NewMatchEvent(publicKey, friend1, friend2,
		profiles[friend1].Label(friend1), profiles[friend2].Label(friend2))
	if err := c.publish(ctx, signer, &event); err != nil {
		return protocol.Match{}, err
	}

	// give the relays a moment before reading the note back
	select {
	case <-time.After(c.propagationDelay):
	case <-ctx.Done():
		return protocol.Match{}, ctx.Err()
	}
	_, err = c.relays.FetchOne(ctx, nostr.Filter{Kinds: []int{protocol.KindTextNote}, IDs: []string{event.ID}})
	if errors.Is(err, relay.ErrNotFound) {
		return protocol.Match{}, ErrNotVerified
	}
	if err != nil {
		return protocol.Match{}, fmt.Errorf("%w: %w", ErrNotVerified, err)
	}
	slog.Info("created match", "event", event.ID, "friend1", friend1, "friend2", friend2)
	return protocol.ParseMatch(&event)
}

// Matches returns the matches created by the logged in user, newest first.
func (c *Client) Matches(ctx context.Context) ([]protocol.Match, error) {
	publicKey, _, err := c.current()
	if err != nil {
		return nil, err
	}
	matches, err := c.fetchMatches(ctx, protocol.MatchFilter(publicKey, ""))
	if err != nil {
		return nil, err
	}
	return c.withNames(ctx, matches), nil
}

// MatchesInvolvingMe returns the match notes of other users that tag the
// logged in user in any "p" tag.
func (c *Client) MatchesInvolvingMe(ctx context.Context) ([]protocol.Match, error) {
	publicKey, _, err := c.current()
	if err != nil {
		return nil, err
	}
	matches, err := c.fetchMatches(ctx, protocol.MatchFilter("", publicKey))
	if err != nil {
		return nil, err
	}
	matches = lo.Filter(matches, func(m protocol.Match, _ int) bool {
		return m.Creator != publicKey
	})
	return c.withNames(ctx, matches), nil
}

// DeleteMatch asks the relays to delete a match the user created.
func (c *Client) DeleteMatch(ctx context.Context, id string) error {
	publicKey, signer, err := c.current()
	if err != nil {
		return err
	}
	event, err := c.relays.FetchOne(ctx, nostr.Filter{IDs: []string{id}})
	if err != nil {
		return fmt.Errorf("could not fetch match %s: %w", id, err)
	}
	match, err := protocol.ParseMatch(event)
	if err != nil {
		return err
	}
	if match.Creator != publicKey {
		return ErrNotOwner
	}
	deletion := protocol.NewDeletionEvent(match.ID, "match retracted")
	if err := c.publish(ctx, signer, &deletion); err != nil {
		return err
	}
	slog.Info("deleted match", "event", match.ID)
	return nil
}

func (c *Client) fetchMatches(ctx context.Context, filter nostr.Filter) ([]protocol.Match, error) {
	events, err := c.relays.Fetch(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("could not fetch matches: %w", err)
	}
	return lo.FilterMap(events, func(event *nostr.Event, _ int) (protocol.Match, bool) {
		match, err := protocol.ParseMatch(event)
		if err != nil {
			slog.Debug("skipping event", "event", event.ID, "error", err)
			return protocol.Match{}, false
		}
		return match, true
	}), nil
}

// withNames replaces the friend names stored in the notes with the current
// profile names and renders the content again. A friend without a profile
// keeps the name from the note.
func (c *Client) withNames(ctx context.Context, matches []protocol.Match) []protocol.Match {
	keys := lo.FlatMap(matches, func(m protocol.Match, _ int) []string {
		return []string{m.Friend1, m.Friend2}
	})
	profiles := c.profilesOf(ctx, keys)
	name := func(key, stored string) string {
		if profile, ok := profiles[key]; ok {
			return profile.Label(key)
		}
		if stored != "" {
			return stored
		}
		return protocol.ShortKey(key)
	}
	return lo.Map(matches, func(m protocol.Match, _ int) protocol.Match {
		m.Friend1Name = name(m.Friend1, m.Friend1Name)
		m.Friend2Name = name(m.Friend2, m.Friend2Name)
		m.Content = protocol.MatchContent(m.Friend1Name, m.Friend2Name)
		return m
	})
}
