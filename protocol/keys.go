package protocol

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
)

const (
	padding = "02"
	// shortKeyLength is the number of characters shown when a profile has no name.
	shortKeyLength = 8
)

var (
	ErrInvalidPublicKey  = errors.New("invalid public key")
	ErrInvalidPrivateKey = errors.New("invalid private key")
)

// ParsePublicKey accepts a hex public key, an npub or an nprofile and returns
// the lowercase hex form. The key must be a valid x-only secp256k1 point.
func ParsePublicKey(s string) (string, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "npub") || strings.HasPrefix(s, "nprofile") {
		prefix, value, err := nip19.Decode(s)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrInvalidPublicKey, err)
		}
		switch prefix {
		case "npub":
			s = value.(string)
		case "nprofile":
			s = value.(nostr.ProfilePointer).PublicKey
		default:
			return "", fmt.Errorf("%w: unexpected prefix %s", ErrInvalidPublicKey, prefix)
		}
	}
	s = strings.ToLower(s)
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 32 {
		return "", fmt.Errorf("%w: %q", ErrInvalidPublicKey, s)
	}
	if _, err := schnorr.ParsePubKey(raw); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidPublicKey, err)
	}
	return s, nil
}

// ParsePrivateKey accepts a hex private key or an nsec and returns the hex form.
func ParsePrivateKey(s string) (string, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "nsec") {
		prefix, value, err := nip19.Decode(s)
		if err != nil || prefix != "nsec" {
			return "", fmt.Errorf("%w: could not decode nsec", ErrInvalidPrivateKey)
		}
		s = value.(string)
	}
	s = strings.ToLower(s)
	if raw, err := hex.DecodeString(s); err != nil || len(raw) != 32 {
		return "", ErrInvalidPrivateKey
	}
	return s, nil
}

// ShortKey returns the display prefix used when a user has no profile name.
func ShortKey(publicKey string) string {
	if len(publicKey) <= shortKeyLength {
		return publicKey
	}
	return publicKey[:shortKeyLength]
}

// GetEncryptionKeys decodes a hex private key and an x-only public key into
// the byte forms the NIP-44 conversation key derivation expects.
func GetEncryptionKeys(privateKey, publicKey string) ([]byte, []byte, error) {
	targetPublicKeyBytes, err := hex.DecodeString(padding + publicKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode public key: %w", err)
	}
	privateKeyBytes, err := hex.DecodeString(privateKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode private key: %w", err)
	}
	return privateKeyBytes, targetPublicKeyBytes, nil
}
