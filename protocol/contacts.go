package protocol

import (
	"github.com/nbd-wtf/go-nostr"
	"github.com/samber/lo"
)

// Contacts returns the valid "p" tag keys of a contact list, in order and
// without duplicates.
func Contacts(event *nostr.Event) []string {
	if event == nil || event.Kind != KindContactList {
		return nil
	}
	keys := lo.FilterMap(event.Tags, func(tag nostr.Tag, _ int) (string, bool) {
		if len(tag) < 2 || tag[0] != tagPubKey {
			return "", false
		}
		key, err := ParsePublicKey(tag[1])
		return key, err == nil
	})
	return lo.Uniq(keys)
}

// ContactListFilter selects the contact lists published by author.
func ContactListFilter(author string) nostr.Filter {
	return nostr.Filter{
		Kinds:   []int{KindContactList},
		Authors: []string{author},
	}
}

// ProfileFilter selects the metadata of the given authors.
func ProfileFilter(authors ...string) nostr.Filter {
	return nostr.Filter{
		Kinds:   []int{KindProfileMetadata},
		Authors: authors,
	}
}
