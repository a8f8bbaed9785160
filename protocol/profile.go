package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nbd-wtf/go-nostr"
	"github.com/samber/lo"
)

var ErrNotProfile = errors.New("event is not profile metadata")

// Profile is the JSON content of a kind 0 event.
type Profile struct {
	Name        string `json:"name,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	About       string `json:"about,omitempty"`
	Picture     string `json:"picture,omitempty"`
	Banner      string `json:"banner,omitempty"`
	Website     string `json:"website,omitempty"`
	NIP05       string `json:"nip05,omitempty"`
	LUD16       string `json:"lud16,omitempty"`
	// Extra keeps the metadata keys this type does not model, so that
	// republishing a parsed profile does not drop them.
	Extra map[string]json.RawMessage `json:"-"`
}

type profileFields Profile

var profileKeys = []string{"name", "display_name", "about", "picture", "banner", "website", "nip05", "lud16"}

func (p *Profile) UnmarshalJSON(data []byte) error {
	var fields profileFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	fields.Extra = lo.OmitByKeys(all, profileKeys)
	if len(fields.Extra) == 0 {
		fields.Extra = nil
	}
	*p = Profile(fields)
	return nil
}

func (p Profile) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(profileFields(p))
	if err != nil || len(p.Extra) == 0 {
		return known, err
	}
	merged := make(map[string]json.RawMessage, len(p.Extra)+len(profileKeys))
	if err := json.Unmarshal(known, &merged); err != nil {
		return nil, err
	}
	for key, value := range lo.OmitByKeys(p.Extra, profileKeys) {
		merged[key] = value
	}
	return json.Marshal(merged)
}

// ParseProfile decodes the metadata of a kind 0 event.
func ParseProfile(event *nostr.Event) (Profile, error) {
	var p Profile
	if event == nil || event.Kind != KindProfileMetadata {
		return p, ErrNotProfile
	}
	if err := json.Unmarshal([]byte(event.Content), &p); err != nil {
		return p, fmt.Errorf("could not unmarshal profile: %w", err)
	}
	return p, nil
}

// Label returns the name shown for the owner of publicKey.
func (p Profile) Label(publicKey string) string {
	switch {
	case p.Name != "":
		return p.Name
	case p.DisplayName != "":
		return p.DisplayName
	default:
		return ShortKey(publicKey)
	}
}

// NewProfileEvent builds the unsigned kind 0 event for p.
func NewProfileEvent(p Profile) (nostr.Event, error) {
	content, err := json.Marshal(p)
	if err != nil {
		return nostr.Event{}, fmt.Errorf("could not marshal profile: %w", err)
	}
	return nostr.Event{
		Kind:      KindProfileMetadata,
		CreatedAt: nostr.Now(),
		Tags:      nostr.Tags{},
		Content:   string(content),
	}, nil
}
