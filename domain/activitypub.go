package domain

import (
	"time"

	"github.com/google/uuid"
)

// RemoteAccount represents a cached federated user. Exactly one record
// exists per actor URI; tombstoned peers keep a stale record until it is
// overwritten by a fresh fetch.
type RemoteAccount struct {
	Id             uuid.UUID
	Username       string
	Domain         string
	ActorURI       string
	DisplayName    string
	Summary        string
	ProfileURL     string
	InboxURI       string
	SharedInboxURI string
	OutboxURI      string
	PublicKeyPem   string
	AvatarURL      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// EffectiveInbox prefers the shared inbox when the remote server exposes one.
func (ra *RemoteAccount) EffectiveInbox() string {
	if ra.SharedInboxURI != "" {
		return ra.SharedInboxURI
	}
	return ra.InboxURI
}

func (ra *RemoteAccount) KeyOwner() uuid.UUID { return ra.Id }

func (ra *RemoteAccount) IsLocal() bool { return false }

// KeyPair holds the PEM halves of an actor's RSA keypair. Remote actors
// only ever have the public half cached.
type KeyPair struct {
	OwnerId       uuid.UUID
	PrivateKeyPem string
	PublicKeyPem  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Follow represents a follow relationship
type Follow struct {
	Id              uuid.UUID
	AccountId       uuid.UUID // Can be local or remote account
	TargetAccountId uuid.UUID // Can be local or remote account
	URI             string    // ActivityPub Follow activity URI
	CreatedAt       time.Time
	Accepted        bool
}

// FollowRequest is a follow from a remote actor awaiting manual approval.
// Removed on Accept, Reject or cancellation.
type FollowRequest struct {
	LocalId   uuid.UUID
	RemoteId  uuid.UUID
	URI       string // Follow activity URI, needed to address the eventual Accept
	CreatedAt time.Time
}

// Like represents a like/favorite on a note
type Like struct {
	Id        uuid.UUID
	AccountId uuid.UUID // Who liked (can be local or remote)
	NoteId    uuid.UUID // Which note was liked
	URI       string    // ActivityPub Like activity URI
	CreatedAt time.Time
}

// Activity represents an ActivityPub activity (for logging/deduplication)
type Activity struct {
	Id           uuid.UUID
	ActivityURI  string
	ActivityType string // Follow, Create, Like, Announce, Undo, etc.
	ActorURI     string
	ObjectURI    string
	RawJSON      string
	Processed    bool
	CreatedAt    time.Time
	Local        bool // true if originated from this server
}

// DeliveryQueueItem represents an item in the delivery queue. SenderId
// names the local account whose key signs the request at delivery time.
type DeliveryQueueItem struct {
	Id           uuid.UUID
	SenderId     uuid.UUID
	InboxURI     string
	ActivityJSON string // The complete activity to deliver
	Attempts     int
	NextRetryAt  time.Time
	CreatedAt    time.Time
}
