package protocol

import (
	"errors"
	"fmt"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/samber/lo"
)

var ErrNotMatch = errors.New("event is not a match")

// Match is a text note in which a creator pairs two of their friends.
type Match struct {
	ID          string    `json:"id"`
	Creator     string    `json:"creator"`
	Friend1     string    `json:"friend1"`
	Friend2     string    `json:"friend2"`
	Friend1Name string    `json:"friend1_name"`
	Friend2Name string    `json:"friend2_name"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"created_at"`
}

// MatchContent renders the human readable text of a match note.
func MatchContent(friend1Name, friend2Name string) string {
	return fmt.Sprintf("Match created between %s and %s!", friend1Name, friend2Name)
}

// NewMatchEvent builds the unsigned match note for two friends.
func NewMatchEvent(creator, friend1, friend2, friend1Name, friend2Name string) nostr.Event {
	return nostr.Event{
		PubKey:    creator,
		Kind:      KindTextNote,
		CreatedAt: nostr.Now(),
		Tags: nostr.Tags{
			nostr.Tag{tagPubKey, friend1},
			nostr.Tag{tagPubKey, friend2},
			nostr.Tag{tagTopic, MatchTag},
			nostr.Tag{tagFriend1Name, friend1Name},
			nostr.Tag{tagFriend2Name, friend2Name},
		},
		Content: MatchContent(friend1Name, friend2Name),
	}
}

// ParseMatch reads a match note. Friend1 is the first "p" tag with a value,
// Friend2 the first "p" tag whose value differs from it.
func ParseMatch(event *nostr.Event) (Match, error) {
	if event == nil || event.Kind != KindTextNote || !hasTopic(event.Tags, MatchTag) {
		return Match{}, ErrNotMatch
	}
	friend1, ok := lo.Find(event.Tags, func(tag nostr.Tag) bool {
		return len(tag) > 1 && tag[0] == tagPubKey && tag[1] != ""
	})
	if !ok {
		return Match{}, fmt.Errorf("%w: no friends tagged", ErrNotMatch)
	}
	friend2, ok := lo.Find(event.Tags, func(tag nostr.Tag) bool {
		return len(tag) > 1 && tag[0] == tagPubKey && tag[1] != "" && tag[1] != friend1[1]
	})
	if !ok {
		return Match{}, fmt.Errorf("%w: one friend tagged", ErrNotMatch)
	}
	return Match{
		ID:          event.ID,
		Creator:     event.PubKey,
		Friend1:     friend1[1],
		Friend2:     friend2[1],
		Friend1Name: tagValue(event.Tags, tagFriend1Name),
		Friend2Name: tagValue(event.Tags, tagFriend2Name),
		Content:     event.Content,
		CreatedAt:   event.CreatedAt.Time(),
	}, nil
}

// PairKey identifies the unordered pair of friends.
func PairKey(friend1, friend2 string) string {
	if friend2 < friend1 {
		friend1, friend2 = friend2, friend1
	}
	return friend1 + ":" + friend2
}

// MatchFilter selects match notes. Empty arguments are left out of the filter.
func MatchFilter(author, involving string) nostr.Filter {
	filter := nostr.Filter{
		Kinds: []int{KindTextNote},
		Tags:  nostr.TagMap{tagTopic: []string{MatchTag}},
	}
	if author != "" {
		filter.Authors = []string{author}
	}
	if involving != "" {
		filter.Tags[tagPubKey] = []string{involving}
	}
	return filter
}

// NewDeletionEvent builds the unsigned kind 5 request retracting eventID.
func NewDeletionEvent(eventID, reason string) nostr.Event {
	return nostr.Event{
		CreatedAt: nostr.Now(),
		Kind:      KindDeletion,
		Tags: nostr.Tags{
			nostr.Tag{tagEvent, eventID},
		},
		Content: reason,
	}
}

func hasTopic(tags nostr.Tags, topic string) bool {
	return lo.ContainsBy(tags, func(tag nostr.Tag) bool {
		return len(tag) > 1 && tag[0] == tagTopic && tag[1] == topic
	})
}

func tagValue(tags nostr.Tags, key string) string {
	tag, ok := lo.Find(tags, func(tag nostr.Tag) bool {
		return len(tag) > 1 && tag[0] == key
	})
	if !ok {
		return ""
	}
	return tag[1]
}
