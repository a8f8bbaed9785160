package protocol

import (
	"context"
	"errors"
	"fmt"

	"github.com/ekzyis/nip44"
	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip04"
)

// Scheme selects the direct message encryption standard.
type Scheme string

const (
	SchemeNIP04 = Scheme("nip04")
	SchemeNIP44 = Scheme("nip44")
)

var ErrUnknownScheme = errors.New("unknown encryption scheme")

// Signer holds the users key. It signs events and encrypts or decrypts
// messages on behalf of the application, which never sees the private key.
type Signer interface {
	GetPublicKey(ctx context.Context) (string, error)
	SignEvent(ctx context.Context, event *nostr.Event) error
	Encrypt(ctx context.Context, scheme Scheme, publicKey, plaintext string) (string, error)
	Decrypt(ctx context.Context, scheme Scheme, publicKey, ciphertext string) (string, error)
}

// EventSigner is a Signer backed by a private key held in memory.
type EventSigner struct {
	PublicKey  string
	privateKey string
}

var _ Signer = (*EventSigner)(nil)

// NewEventSigner creates a new EventSigner from a hex or nsec private key.
func NewEventSigner(privateKey string) (*EventSigner, error) {
	privateKey, err := ParsePrivateKey(privateKey)
	if err != nil {
		return nil, err
	}
	myPublicKey, err := nostr.GetPublicKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("could not generate public key: %w", err)
	}
	signer := &EventSigner{
		privateKey: privateKey,
		PublicKey:  myPublicKey,
	}
	return signer, nil
}

func (s *EventSigner) GetPublicKey(context.Context) (string, error) {
	return s.PublicKey, nil
}

// SignEvent sets the public key, ID and Sig of the event.
func (s *EventSigner) SignEvent(_ context.Context, event *nostr.Event) error {
	event.PubKey = s.PublicKey
	if event.CreatedAt == 0 {
		event.CreatedAt = nostr.Now()
	}
	// calling Sign sets the event ID field and the event Sig field
	if err := event.Sign(s.privateKey); err != nil {
		return fmt.Errorf("could not sign event: %w", err)
	}
	return nil
}

func (s *EventSigner) Encrypt(_ context.Context, scheme Scheme, publicKey, plaintext string) (string, error) {
	switch scheme {
	case SchemeNIP04:
		sharedKey, err := nip04.ComputeSharedSecret(publicKey, s.privateKey)
		if err != nil {
			return "", fmt.Errorf("could not compute shared key: %w", err)
		}
		return nip04.Encrypt(plaintext, sharedKey)
	case SchemeNIP44:
		conversationKey, err := s.conversationKey(publicKey)
		if err != nil {
			return "", err
		}
		encrypted, err := nip44.Encrypt(conversationKey, plaintext, &nip44.EncryptOptions{})
		if err != nil {
			return "", fmt.Errorf("could not encrypt message: %w", err)
		}
		return encrypted, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownScheme, scheme)
}

func (s *EventSigner) Decrypt(_ context.Context, scheme Scheme, publicKey, ciphertext string) (string, error) {
	switch scheme {
	case SchemeNIP04:
		sharedKey, err := nip04.ComputeSharedSecret(publicKey, s.privateKey)
		if err != nil {
			return "", fmt.Errorf("could not compute shared key: %w", err)
		}
		return nip04.Decrypt(ciphertext, sharedKey)
	case SchemeNIP44:
		conversationKey, err := s.conversationKey(publicKey)
		if err != nil {
			return "", err
		}
		decrypted, err := nip44.Decrypt(conversationKey, ciphertext)
		if err != nil {
			return "", fmt.Errorf("could not decrypt message: %w", err)
		}
		return decrypted, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownScheme, scheme)
}

func (s *EventSigner) conversationKey(publicKey string) ([]byte, error) {
	privateKeyBytes, targetPublicKeyBytes, err := GetEncryptionKeys(s.privateKey, publicKey)
	if err != nil {
		return nil, fmt.Errorf("could not get encryption keys: %w", err)
	}
	sharedKey, err := nip44.GenerateConversationKey(privateKeyBytes, targetPublicKeyBytes)
	if err != nil {
		return nil, fmt.Errorf("could not compute shared key: %w", err)
	}
	return sharedKey, nil
}
