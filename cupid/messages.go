package cupid

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/nbd-wtf/go-nostr"
	"github.com/samber/lo"
	"github.com/youcupid/youcupid/protocol"
)

// SendDirectMessage encrypts content for recipient with NIP-04 and publishes it.
func (c *Client) SendDirectMessage(ctx context.Context, recipient, content string) (protocol.DirectMessage, error) {
	publicKey, signer, err := c.current()
	if err != nil {
		return protocol.DirectMessage{}, err
	}
	recipient, err = protocol.ParsePublicKey(recipient)
	if err != nil {
		return protocol.DirectMessage{}, err
	}
	if strings.TrimSpace(content) == "" {
		return protocol.DirectMessage{}, ErrEmptyMessage
	}
	ciphertext, err := signer.Encrypt(ctx, protocol.SchemeNIP04, recipient, content)
	if err != nil {
		return protocol.DirectMessage{}, fmt.Errorf("could not encrypt message: %w", err)
	}
	event := protocol.NewDirectMessageEvent(recipient, ciphertext)
	if err := c.publish(ctx, signer, &event); err != nil {
		return protocol.DirectMessage{}, err
	}
	return protocol.DirectMessage{
		ID:        event.ID,
		From:      publicKey,
		To:        recipient,
		Content:   content,
		CreatedAt: event.CreatedAt.Time(),
	}, nil
}

// Conversation returns the messages exchanged with peer, oldest first.
func (c *Client) Conversation(ctx context.Context, peer string) ([]protocol.DirectMessage, error) {
	publicKey, signer, err := c.current()
	if err != nil {
		return nil, err
	}
	peer, err = protocol.ParsePublicKey(peer)
	if err != nil {
		return nil, err
	}
	events, err := c.relays.Fetch(ctx, protocol.ConversationFilter(publicKey, peer, nil))
	if err != nil {
		return nil, fmt.Errorf("could not fetch messages: %w", err)
	}
	messages := lo.FilterMap(events, func(event *nostr.Event, _ int) (protocol.DirectMessage, bool) {
		if !protocol.InConversation(event, publicKey, peer) {
			return protocol.DirectMessage{}, false
		}
		return c.decrypt(ctx, signer, peer, event), true
	})
	slices.SortFunc(messages, func(a, b protocol.DirectMessage) int {
		if n := a.CreatedAt.Compare(b.CreatedAt); n != 0 {
			return n
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return messages, nil
}

// Subscribe streams new messages exchanged with peer until ctx ends.
func (c *Client) Subscribe(ctx context.Context, peer string) (<-chan protocol.DirectMessage, error) {
	publicKey, signer, err := c.current()
	if err != nil {
		return nil, err
	}
	peer, err = protocol.ParsePublicKey(peer)
	if err != nil {
		return nil, err
	}
	since := nostr.Now()
	events, err := c.relays.Subscribe(ctx, protocol.ConversationFilter(publicKey, peer, &since))
	if err != nil {
		return nil, fmt.Errorf("could not subscribe to messages: %w", err)
	}
	out := make(chan protocol.DirectMessage)
	go func() {
		defer close(out)
		for event := range events {
			if !protocol.InConversation(event, publicKey, peer) {
				continue
			}
			select {
			case out <- c.decrypt(ctx, signer, peer, event):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// decrypt turns a kind 4 event into a DirectMessage. NIP-04 derives the
// same secret for both directions, so peer is the counterparty either way.
func (c *Client) decrypt(ctx context.Context, signer protocol.Signer, peer string, event *nostr.Event) protocol.DirectMessage {
	message := protocol.DirectMessage{
		ID:        event.ID,
		From:      event.PubKey,
		To:        protocol.Recipient(event),
		CreatedAt: event.CreatedAt.Time(),
	}
	plaintext, err := signer.Decrypt(ctx, protocol.SchemeNIP04, peer, event.Content)
	if err != nil {
		slog.Warn("could not decrypt message", "event", event.ID, "error", err)
		message.Content = event.Content
		message.Undecryptable = true
		return message
	}
	message.Content = plaintext
	return message
}
