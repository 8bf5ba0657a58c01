package web

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/okapi-social/okapi/domain"
)

// GetActor renders a local account as an ActivityPub Person document.
// The account's keypair is generated lazily on first render.
func (s *Server) GetActor(ctx context.Context, username string) (error, map[string]interface{}) {
	err, acc := s.store.ReadAccByUsername(username)
	if err != nil {
		return err, nil
	}

	publicKeyPem, err := s.keys.EnsurePublicKey(ctx, acc, false)
	if err != nil {
		return err, nil
	}

	return nil, s.translator.NewPersonDoc(acc, publicKeyPem)
}

// GetNoteObject renders a local note as an ActivityPub Note object.
// Followers-only and direct notes are not served over plain GET.
func (s *Server) GetNoteObject(noteId uuid.UUID) (error, map[string]interface{}) {
	err, note := s.store.ReadNoteId(noteId)
	if err != nil {
		return err, nil
	}

	if note.Visibility != domain.VisibilityPublic && note.Visibility != domain.VisibilityUnlisted {
		return fmt.Errorf("note %s is not publicly addressable", noteId), nil
	}

	err, acc := s.store.ReadAccByUsername(note.CreatedBy)
	if err != nil {
		return err, nil
	}

	doc := s.translator.NewNoteObject(note, acc, nil)
	doc["@context"] = "https://www.w3.org/ns/activitystreams"
	return nil, doc
}
