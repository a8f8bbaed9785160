package protocol

import (
	"time"

	"github.com/nbd-wtf/go-nostr"
)

// DirectMessage is a decrypted kind 4 event.
type DirectMessage struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	// Undecryptable is set when Content holds the raw ciphertext.
	Undecryptable bool `json:"undecryptable,omitempty"`
}

// NewDirectMessageEvent builds the unsigned kind 4 event carrying ciphertext.
func NewDirectMessageEvent(recipient, ciphertext string) nostr.Event {
	return nostr.Event{
		Kind:      KindEncryptedDirectMessage,
		CreatedAt: nostr.Now(),
		Tags:      nostr.Tags{nostr.Tag{tagPubKey, recipient}},
		Content:   ciphertext,
	}
}

// Recipient returns the first "p" tag of a direct message.
func Recipient(event *nostr.Event) string {
	return tagValue(event.Tags, tagPubKey)
}

// ConversationFilter selects the direct messages exchanged by a and b.
func ConversationFilter(a, b string, since *nostr.Timestamp) nostr.Filter {
	return nostr.Filter{
		Kinds:   []int{KindEncryptedDirectMessage},
		Authors: []string{a, b},
		Tags:    nostr.TagMap{tagPubKey: []string{b, a}},
		Since:   since,
	}
}

// InConversation reports whether event was sent between a and b. Relays
// match authors and "p" tags independently, so a message from a to a third
// party also satisfies ConversationFilter.
func InConversation(event *nostr.Event, a, b string) bool {
	to := Recipient(event)
	return (event.PubKey == a && to == b) || (event.PubKey == b && to == a)
}
