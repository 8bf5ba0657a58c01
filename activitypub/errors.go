package activitypub

import "errors"

var (
	// ErrNotLocalActor is returned when a private key is requested for a
	// remote actor; remote actors never have a private half in this store.
	ErrNotLocalActor = errors.New("actor is not local")

	// ErrKeyUnavailable is returned when a public key is neither cached
	// nor fetchable.
	ErrKeyUnavailable = errors.New("public key unavailable")

	// ErrNoSuchActor is returned when both cache and online resolution
	// yield nothing.
	ErrNoSuchActor = errors.New("no such actor")

	// ErrNoteWithoutContent marks a structurally valid Note this
	// implementation chooses not to accept: valid ActivityPub, soft
	// rejected rather than failed.
	ErrNoteWithoutContent = errors.New("note has no content")

	// ErrUnsupportedActivity is returned for activity types outside the
	// dispatch table.
	ErrUnsupportedActivity = errors.New("unsupported activity type")
)
