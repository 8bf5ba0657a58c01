package web

import (
	"fmt"

	"github.com/okapi-social/okapi/domain"
)

// collectionPageSize is the number of items per OrderedCollectionPage.
const collectionPageSize = 20

// collectionIRI is the base URI of one of an actor's collections, e.g.
// https://host/users/alice/outbox.
func (s *Server) collectionIRI(username string, name string) string {
	return fmt.Sprintf("%s/users/%s/%s", s.conf.BaseURL(), username, name)
}

// newCollection renders the top-level OrderedCollection pointing at its
// first page.
func newCollection(iri string, totalItems int) map[string]interface{} {
	doc := map[string]interface{}{
		"@context":   "https://www.w3.org/ns/activitystreams",
		"id":         iri,
		"type":       "OrderedCollection",
		"totalItems": totalItems,
	}
	if totalItems > 0 {
		doc["first"] = fmt.Sprintf("%s?page=1", iri)
	}
	return doc
}

// newCollectionPage renders one OrderedCollectionPage out of the full
// item list.
func newCollectionPage(iri string, page int, items []interface{}) map[string]interface{} {
	start := (page - 1) * collectionPageSize
	if start > len(items) {
		start = len(items)
	}
	end := start + collectionPageSize
	if end > len(items) {
		end = len(items)
	}

	doc := map[string]interface{}{
		"@context":     "https://www.w3.org/ns/activitystreams",
		"id":           fmt.Sprintf("%s?page=%d", iri, page),
		"type":         "OrderedCollectionPage",
		"partOf":       iri,
		"orderedItems": items[start:end],
	}
	if end < len(items) {
		doc["next"] = fmt.Sprintf("%s?page=%d", iri, page+1)
	}
	if page > 1 {
		doc["prev"] = fmt.Sprintf("%s?page=%d", iri, page-1)
	}
	return doc
}

// GetOutbox renders an account's public notes as Create activities,
// either as the collection head or as one page of it.
func (s *Server) GetOutbox(username string, page int) (error, map[string]interface{}) {
	err, acc := s.store.ReadAccByUsername(username)
	if err != nil {
		return err, nil
	}

	// The outbox only ever exposes public and unlisted notes.
	err, notes := s.store.ReadPublicNotesByUsername(username, -1, 0)
	if err != nil {
		return err, nil
	}

	var items []interface{}
	if notes != nil {
		for i := range *notes {
			items = append(items, s.translator.NewCreateNote(&(*notes)[i], acc))
		}
	}

	iri := s.collectionIRI(username, "outbox")
	if page < 1 {
		return nil, newCollection(iri, len(items))
	}
	return nil, newCollectionPage(iri, page, items)
}

// GetFollowers renders the actor URIs of an account's accepted
// followers.
func (s *Server) GetFollowers(username string, page int) (error, map[string]interface{}) {
	err, acc := s.store.ReadAccByUsername(username)
	if err != nil {
		return err, nil
	}

	err, follows := s.store.ReadFollowersByTargetId(acc.Id)
	if err != nil {
		return err, nil
	}

	items := s.followActorURIs(follows, true)

	iri := s.collectionIRI(username, "followers")
	if page < 1 {
		return nil, newCollection(iri, len(items))
	}
	return nil, newCollectionPage(iri, page, items)
}

// GetFollowing renders the actor URIs of remote accounts this account
// follows.
func (s *Server) GetFollowing(username string, page int) (error, map[string]interface{}) {
	err, acc := s.store.ReadAccByUsername(username)
	if err != nil {
		return err, nil
	}

	err, follows := s.store.ReadFollowingByAccountId(acc.Id)
	if err != nil {
		return err, nil
	}

	items := s.followActorURIs(follows, false)

	iri := s.collectionIRI(username, "following")
	if page < 1 {
		return nil, newCollection(iri, len(items))
	}
	return nil, newCollectionPage(iri, page, items)
}

// followActorURIs maps follow rows to remote actor URIs, skipping rows
// whose remote record is gone. followerSide selects which end of the
// relationship names the remote account.
func (s *Server) followActorURIs(follows *[]domain.Follow, followerSide bool) []interface{} {
	var items []interface{}
	if follows == nil {
		return items
	}
	for _, follow := range *follows {
		if !follow.Accepted {
			continue
		}
		remoteId := follow.TargetAccountId
		if followerSide {
			remoteId = follow.AccountId
		}
		err, remote := s.store.ReadRemoteAccountById(remoteId)
		if err != nil || remote == nil {
			continue
		}
		items = append(items, remote.ActorURI)
	}
	return items
}

// GetLiked renders the object URIs of notes this account has liked.
func (s *Server) GetLiked(username string, page int) (error, map[string]interface{}) {
	err, acc := s.store.ReadAccByUsername(username)
	if err != nil {
		return err, nil
	}

	err, likes := s.store.ReadLikesByAccountId(acc.Id)
	if err != nil {
		return err, nil
	}

	var items []interface{}
	if likes != nil {
		for _, like := range *likes {
			err, note := s.store.ReadNoteId(like.NoteId)
			if err != nil || note == nil {
				continue
			}
			objectURI := note.ObjectURI
			if objectURI == "" {
				objectURI = fmt.Sprintf("%s/notes/%s", s.conf.BaseURL(), note.Id.String())
			}
			items = append(items, objectURI)
		}
	}

	iri := s.collectionIRI(username, "liked")
	if page < 1 {
		return nil, newCollection(iri, len(items))
	}
	return nil, newCollectionPage(iri, page, items)
}
