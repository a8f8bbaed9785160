package protocol

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPrivateKey = "788de536151854213cc28dff9c3042e7897f0a1d59b391ddbbc1619d7e716e78"

func newTestSigner(t *testing.T) *EventSigner {
	t.Helper()
	signer, err := NewEventSigner(nostr.GeneratePrivateKey())
	require.NoError(t, err)
	return signer
}

func TestParsePublicKey(t *testing.T) {
	pk, err := nostr.GetPublicKey(testPrivateKey)
	require.NoError(t, err)
	npub, err := nip19.EncodePublicKey(pk)
	require.NoError(t, err)
	nprofile, err := nip19.EncodeProfile(pk, []string{"wss://relay.example.com"})
	require.NoError(t, err)

	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{name: "hex", in: pk},
		{name: "upper hex", in: strings.ToUpper(pk)},
		{name: "padded", in: "  " + pk + "\n"},
		{name: "npub", in: npub},
		{name: "nprofile", in: nprofile},
		{name: "short", in: pk[:10], wantErr: true},
		{name: "not hex", in: strings.Repeat("z", 64), wantErr: true},
		{name: "bad npub", in: "npub1invalid", wantErr: true},
		{name: "empty", in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePublicKey(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPublicKey)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, pk, got)
		})
	}
}

func TestParsePrivateKey(t *testing.T) {
	nsec, err := nip19.EncodePrivateKey(testPrivateKey)
	require.NoError(t, err)

	got, err := ParsePrivateKey(nsec)
	require.NoError(t, err)
	assert.Equal(t, testPrivateKey, got)

	_, err = ParsePrivateKey("deadbeef")
	assert.ErrorIs(t, err, ErrInvalidPrivateKey)
}

func TestShortKey(t *testing.T) {
	assert.Equal(t, "abcdefgh", ShortKey("abcdefghijkl"))
	assert.Equal(t, "abc", ShortKey("abc"))
}

func TestEventSigner_SignEvent(t *testing.T) {
	signer, err := NewEventSigner(testPrivateKey)
	require.NoError(t, err)

	event := NewMatchEvent("", "a", "b", "Alice", "Bob")
	require.NoError(t, signer.SignEvent(context.Background(), &event))

	assert.Equal(t, signer.PublicKey, event.PubKey)
	assert.NotEmpty(t, event.ID)
	ok, err := event.CheckSignature()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEventSigner_SignsBuiltEvents(t *testing.T) {
	signer := newTestSigner(t)
	profile, err := NewProfileEvent(Profile{Name: "alice"})
	require.NoError(t, err)

	tests := []struct {
		name  string
		event nostr.Event
		kind  int
	}{
		{name: "profile", event: profile, kind: KindProfileMetadata},
		{name: "match", event: NewMatchEvent("", "a", "b", "A", "B"), kind: KindTextNote},
		{name: "direct message", event: NewDirectMessageEvent("a", "ciphertext"), kind: KindEncryptedDirectMessage},
		{name: "deletion", event: NewDeletionEvent("id", ""), kind: KindDeletion},
		{name: "no timestamp", event: nostr.Event{Kind: KindTextNote}, kind: KindTextNote},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := tt.event
			require.NoError(t, signer.SignEvent(context.Background(), &event))
			assert.Equal(t, tt.kind, event.Kind)
			assert.Equal(t, signer.PublicKey, event.PubKey)
			assert.NotZero(t, event.CreatedAt)
			ok, err := event.CheckSignature()
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestEventSigner_EncryptDecrypt(t *testing.T) {
	alice := newTestSigner(t)
	bob := newTestSigner(t)
	ctx := context.Background()

	for _, scheme := range []Scheme{SchemeNIP04, SchemeNIP44} {
		t.Run(string(scheme), func(t *testing.T) {
			ciphertext, err := alice.Encrypt(ctx, scheme, bob.PublicKey, "hello bob")
			require.NoError(t, err)
			assert.NotEqual(t, "hello bob", ciphertext)

			plaintext, err := bob.Decrypt(ctx, scheme, alice.PublicKey, ciphertext)
			require.NoError(t, err)
			assert.Equal(t, "hello bob", plaintext)
		})
	}

	_, err := alice.Encrypt(ctx, Scheme("rot13"), bob.PublicKey, "x")
	assert.ErrorIs(t, err, ErrUnknownScheme)
}

func TestNewMatchEvent(t *testing.T) {
	event := NewMatchEvent("creator", "f1", "f2", "Alice", "Bob")

	assert.Equal(t, KindTextNote, event.Kind)
	assert.Equal(t, "Match created between Alice and Bob!", event.Content)
	assert.Equal(t, nostr.Tags{
		{"p", "f1"},
		{"p", "f2"},
		{"t", "youcupid-match"},
		{"friend1_name", "Alice"},
		{"friend2_name", "Bob"},
	}, event.Tags)
}

func TestParseMatch(t *testing.T) {
	valid := NewMatchEvent("creator", "f1", "f2", "Alice", "Bob")
	valid.ID = "id1"

	tests := []struct {
		name    string
		event   *nostr.Event
		want    Match
		wantErr bool
	}{
		{
			name:  "valid",
			event: &valid,
			want: Match{ID: "id1", Creator: "creator", Friend1: "f1", Friend2: "f2",
				Friend1Name: "Alice", Friend2Name: "Bob", Content: valid.Content, CreatedAt: valid.CreatedAt.Time()},
		},
		{
			name: "duplicate first friend is skipped",
			event: &nostr.Event{Kind: KindTextNote, Tags: nostr.Tags{
				{"p", ""}, {"p", "f1"}, {"p", "f1"}, {"p", "f2"}, {"t", MatchTag},
			}},
			want: Match{Friend1: "f1", Friend2: "f2", CreatedAt: nostr.Timestamp(0).Time()},
		},
		{
			name:    "missing topic",
			event:   &nostr.Event{Kind: KindTextNote, Tags: nostr.Tags{{"p", "f1"}, {"p", "f2"}}},
			wantErr: true,
		},
		{
			name:    "single friend",
			event:   &nostr.Event{Kind: KindTextNote, Tags: nostr.Tags{{"p", "f1"}, {"p", "f1"}, {"t", MatchTag}}},
			wantErr: true,
		},
		{
			name:    "wrong kind",
			event:   &nostr.Event{Kind: KindContactList, Tags: valid.Tags},
			wantErr: true,
		},
		{name: "nil", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMatch(tt.event)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNotMatch)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPairKey(t *testing.T) {
	assert.Equal(t, PairKey("a", "b"), PairKey("b", "a"))
	assert.NotEqual(t, PairKey("a", "b"), PairKey("a", "c"))
}

func TestMatchFilter(t *testing.T) {
	mine := MatchFilter("me", "")
	assert.Equal(t, []string{"me"}, mine.Authors)
	assert.Equal(t, []string{MatchTag}, mine.Tags["t"])
	assert.NotContains(t, mine.Tags, "p")

	involving := MatchFilter("", "me")
	assert.Empty(t, involving.Authors)
	assert.Equal(t, []string{"me"}, involving.Tags["p"])
}

func TestContacts(t *testing.T) {
	a := newTestSigner(t).PublicKey
	b := newTestSigner(t).PublicKey
	event := &nostr.Event{
		Kind: KindContactList,
		Tags: nostr.Tags{
			{"p", a, "wss://relay.example.com", "alice"},
			{"e", "something"},
			{"p", "not-a-key"},
			{"p", b},
			{"p", a},
			{"p"},
		},
	}
	assert.Equal(t, []string{a, b}, Contacts(event))
	assert.Nil(t, Contacts(&nostr.Event{Kind: KindTextNote, Tags: event.Tags}))
}

func TestProfile(t *testing.T) {
	event, err := NewProfileEvent(Profile{Name: "alice", Picture: "https://example.com/a.png"})
	require.NoError(t, err)
	assert.Equal(t, KindProfileMetadata, event.Kind)

	p, err := ParseProfile(&event)
	require.NoError(t, err)
	assert.Equal(t, "alice", p.Name)
	assert.Equal(t, "alice", p.Label("0123456789"))
	assert.Equal(t, "Al", Profile{DisplayName: "Al"}.Label("0123456789"))
	assert.Equal(t, "01234567", Profile{}.Label("0123456789"))

	_, err = ParseProfile(&nostr.Event{Kind: KindProfileMetadata, Content: "{"})
	assert.Error(t, err)
	_, err = ParseProfile(&nostr.Event{Kind: KindTextNote})
	assert.ErrorIs(t, err, ErrNotProfile)
}

func TestProfile_KeepsUnknownKeys(t *testing.T) {
	event := nostr.Event{
		Kind:    KindProfileMetadata,
		Content: `{"name":"a","lud06":"LNURL1XYZ","bot":false,"pronouns":"x"}`,
	}
	p, err := ParseProfile(&event)
	require.NoError(t, err)
	assert.Equal(t, "a", p.Name)
	assert.Len(t, p.Extra, 3)

	p.About = "new"
	republished, err := NewProfileEvent(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"a","about":"new","lud06":"LNURL1XYZ","bot":false,"pronouns":"x"}`, republished.Content)

	// modelled fields win over a stale copy in Extra
	p.Extra["name"] = json.RawMessage(`"stale"`)
	content, err := json.Marshal(p)
	require.NoError(t, err)
	assert.Contains(t, string(content), `"name":"a"`)

	plain, err := ParseProfile(&nostr.Event{Kind: KindProfileMetadata, Content: `{"name":"b"}`})
	require.NoError(t, err)
	assert.Nil(t, plain.Extra)
}

func TestConversation(t *testing.T) {
	event := NewDirectMessageEvent("bob", "ciphertext")
	event.PubKey = "alice"
	assert.Equal(t, KindEncryptedDirectMessage, event.Kind)
	assert.Equal(t, "bob", Recipient(&event))
	assert.True(t, InConversation(&event, "alice", "bob"))
	assert.True(t, InConversation(&event, "bob", "alice"))
	assert.False(t, InConversation(&event, "alice", "carol"))

	filter := ConversationFilter("alice", "bob", nil)
	assert.ElementsMatch(t, []string{"alice", "bob"}, filter.Authors)
	assert.ElementsMatch(t, []string{"alice", "bob"}, filter.Tags["p"])
}

func TestNewDeletionEvent(t *testing.T) {
	event := NewDeletionEvent("abc", "changed my mind")
	assert.Equal(t, KindDeletion, event.Kind)
	assert.Equal(t, nostr.Tags{{"e", "abc"}}, event.Tags)
}
