package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Note visibility scopes, derived from ActivityPub addressing.
const (
	VisibilityPublic    = "public"
	VisibilityUnlisted  = "unlisted"
	VisibilityFollowers = "followers"
	VisibilityDirect    = "direct"
)

type Note struct {
	Id        uuid.UUID
	CreatedBy string
	Message   string
	CreatedAt time.Time
	EditedAt  *time.Time // When the note was last edited (nil if never edited)
	// ActivityPub fields
	Visibility   string // "public", "unlisted", "followers", "direct"
	InReplyToURI string // URI of the note this is replying to
	ObjectURI    string // ActivityPub object URI
	Federated    bool   // Whether to federate this note
}

func (note *Note) ToString() string {
	return fmt.Sprintf("\n\tId: %s \n\tCreatedBy: %s \n\tMessage: %s \n\tCreatedAt: %s)", note.Id, note.CreatedBy, note.Message, note.CreatedAt)
}
