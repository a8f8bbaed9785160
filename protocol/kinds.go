package protocol

// KindProfileMetadata represents the unique identifier for profile metadata events.
const KindProfileMetadata int = 0

// KindTextNote represents the unique identifier for text notes. Matches are text notes.
const KindTextNote int = 1

// KindContactList represents the unique identifier for contact list events.
const KindContactList int = 3

// KindEncryptedDirectMessage represents the unique identifier for NIP-04 direct messages.
const KindEncryptedDirectMessage int = 4

// KindDeletion represents the unique identifier for deletion requests.
const KindDeletion int = 5

// MatchTag is the value of the "t" tag every match announcement carries.
const MatchTag = "youcupid-match"

const (
	tagPubKey      = "p"
	tagEvent       = "e"
	tagTopic       = "t"
	tagFriend1Name = "friend1_name"
	tagFriend2Name = "friend2_name"
)
