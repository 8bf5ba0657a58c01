package activitypub

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/okapi-social/okapi/domain"
	"github.com/okapi-social/okapi/util"
)

// Postman queues outbound activities for delivery on behalf of one
// local sender to a set of remote recipients. Activities are marshalled
// once and a queue row written per distinct inbox; the worker signs and
// posts them asynchronously.
type Postman struct {
	store      Store
	conf       *util.AppConfig
	translator *Translator
	sender     *domain.Account
	recipients []domain.RemoteAccount
}

func NewPostman(store Store, conf *util.AppConfig, translator *Translator, sender *domain.Account, recipients []domain.RemoteAccount) *Postman {
	return &Postman{
		store:      store,
		conf:       conf,
		translator: translator,
		sender:     sender,
		recipients: recipients,
	}
}

// ForFollowers builds a Postman addressing all accepted followers of the
// sender.
func ForFollowers(store Store, conf *util.AppConfig, translator *Translator, sender *domain.Account) (*Postman, error) {
	err, follows := store.ReadFollowersByTargetId(sender.Id)
	if err != nil {
		return nil, fmt.Errorf("failed to read followers: %w", err)
	}

	var recipients []domain.RemoteAccount
	if follows != nil {
		for _, follow := range *follows {
			if !follow.Accepted {
				continue
			}
			err, remote := store.ReadRemoteAccountById(follow.AccountId)
			if err != nil || remote == nil {
				log.Warnf("Postman: skipping follower %s, no remote record", follow.AccountId)
				continue
			}
			recipients = append(recipients, *remote)
		}
	}
	return NewPostman(store, conf, translator, sender, recipients), nil
}

// Targets returns the recipients collapsed to one per distinct inbox.
// Followers on the same server behind a shared inbox get a single
// delivery.
func (pm *Postman) Targets() []string {
	seen := make(map[string]bool)
	var targets []string
	for _, recipient := range pm.recipients {
		inbox := recipient.EffectiveInbox()
		if inbox == "" || seen[inbox] {
			continue
		}
		seen[inbox] = true
		targets = append(targets, inbox)
	}
	return targets
}

// enqueue marshals the activity once and writes one delivery row per
// target inbox.
func (pm *Postman) enqueue(doc map[string]interface{}) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal activity: %w", err)
	}

	targets := pm.Targets()
	if len(targets) == 0 {
		log.Debugf("Postman: no recipients for %v activity", doc["type"])
		return nil
	}

	for _, inbox := range targets {
		item := &domain.DeliveryQueueItem{
			Id:           uuid.New(),
			SenderId:     pm.sender.Id,
			InboxURI:     inbox,
			ActivityJSON: string(payload),
			Attempts:     0,
			NextRetryAt:  time.Now(),
			CreatedAt:    time.Now(),
		}
		if err := pm.store.EnqueueDelivery(item); err != nil {
			return fmt.Errorf("failed to enqueue delivery to %s: %w", inbox, err)
		}
	}

	log.Debugf("Postman: queued %v to %d inboxes", doc["type"], len(targets))
	return nil
}

// logActivity records an outbound activity in the local activity log.
func (pm *Postman) logActivity(doc map[string]interface{}) {
	payload, err := json.Marshal(doc)
	if err != nil {
		return
	}
	id, _ := doc["id"].(string)
	activityType, _ := doc["type"].(string)
	actor, _ := doc["actor"].(string)

	objectURI := ""
	switch obj := doc["object"].(type) {
	case string:
		objectURI = obj
	case map[string]interface{}:
		objectURI, _ = obj["id"].(string)
	}

	record := &domain.Activity{
		Id:           uuid.New(),
		ActivityURI:  id,
		ActivityType: activityType,
		ActorURI:     actor,
		ObjectURI:    objectURI,
		RawJSON:      string(payload),
		Processed:    true,
		Local:        true,
		CreatedAt:    time.Now(),
	}
	if err := pm.store.CreateActivity(record); err != nil {
		log.Warnf("Postman: failed to log activity %s: %v", id, err)
	}
}

// Follow sends a Follow to a remote actor and records the pending follow
// locally. The follow counts as accepted only once the remote Accept
// arrives.
func (pm *Postman) Follow(remote *domain.RemoteAccount) error {
	followID, doc := pm.translator.NewFollow(pm.sender, remote.ActorURI)

	follow := &domain.Follow{
		Id:              uuid.New(),
		AccountId:       pm.sender.Id,
		TargetAccountId: remote.Id,
		URI:             followID,
		Accepted:        false,
		CreatedAt:       time.Now(),
	}
	if err := pm.store.CreateFollow(follow); err != nil {
		return fmt.Errorf("failed to create follow: %w", err)
	}

	pm.logActivity(doc)
	return pm.enqueue(doc)
}

// UndoFollow retracts a previously sent Follow.
func (pm *Postman) UndoFollow(remote *domain.RemoteAccount) error {
	err, follow := pm.store.ReadFollowByAccountIds(pm.sender.Id, remote.Id)
	if err != nil || follow == nil {
		return fmt.Errorf("no follow for %s to undo", remote.ActorURI)
	}

	inner := map[string]interface{}{
		"id":     follow.URI,
		"type":   "Follow",
		"actor":  pm.translator.actorURI(pm.sender),
		"object": remote.ActorURI,
	}
	doc := pm.translator.NewUndo(pm.sender, inner)

	if err := pm.store.DeleteFollowByURI(follow.URI); err != nil {
		return fmt.Errorf("failed to delete follow: %w", err)
	}

	pm.logActivity(doc)
	return pm.enqueue(doc)
}

// AcceptFollow confirms a Follow received from a remote actor.
func (pm *Postman) AcceptFollow(remote *domain.RemoteAccount, followID string) error {
	doc := pm.translator.NewAcceptFollow(pm.sender, remote, followID)
	pm.logActivity(doc)
	return pm.enqueue(doc)
}

// ApproveFollow turns a parked follow request into an accepted follow and
// notifies the requester. Used on closed instances where follows need
// manual approval.
func (pm *Postman) ApproveFollow(remote *domain.RemoteAccount) error {
	err, request := pm.store.ReadFollowRequest(pm.sender.Id, remote.Id)
	if err != nil || request == nil {
		return fmt.Errorf("no follow request from %s", remote.ActorURI)
	}

	follow := &domain.Follow{
		Id:              uuid.New(),
		AccountId:       remote.Id,
		TargetAccountId: pm.sender.Id,
		URI:             request.URI,
		Accepted:        true,
		CreatedAt:       time.Now(),
	}
	if err := pm.store.CreateFollow(follow); err != nil {
		return fmt.Errorf("failed to create follow: %w", err)
	}
	if err := pm.store.DeleteFollowRequest(pm.sender.Id, remote.Id); err != nil {
		return fmt.Errorf("failed to delete follow request: %w", err)
	}
	return pm.AcceptFollow(remote, request.URI)
}

// RejectFollow discards a parked follow request without creating a
// follow.
func (pm *Postman) RejectFollow(remote *domain.RemoteAccount) error {
	err, request := pm.store.ReadFollowRequest(pm.sender.Id, remote.Id)
	if err != nil || request == nil {
		return fmt.Errorf("no follow request from %s", remote.ActorURI)
	}
	return pm.store.DeleteFollowRequest(pm.sender.Id, remote.Id)
}

// Like sends a Like for a remote note and records it locally when the
// note is known.
func (pm *Postman) Like(noteURI string) error {
	likeID, doc := pm.translator.NewLike(pm.sender, noteURI)

	if err, note := pm.store.ReadNoteByObjectURI(noteURI); err == nil && note != nil {
		like := &domain.Like{
			Id:        uuid.New(),
			AccountId: pm.sender.Id,
			NoteId:    note.Id,
			URI:       likeID,
			CreatedAt: time.Now(),
		}
		if err := pm.store.CreateLike(like); err != nil {
			log.Warnf("Postman: failed to record like: %v", err)
		}
	}

	pm.logActivity(doc)
	return pm.enqueue(doc)
}

// UndoLike retracts a previously sent Like by its activity URI.
func (pm *Postman) UndoLike(likeURI string, noteURI string) error {
	inner := map[string]interface{}{
		"id":     likeURI,
		"type":   "Like",
		"actor":  pm.translator.actorURI(pm.sender),
		"object": noteURI,
	}
	doc := pm.translator.NewUndo(pm.sender, inner)

	if err := pm.store.DeleteLikeByURI(likeURI); err != nil {
		log.Warnf("Postman: failed to delete like %s: %v", likeURI, err)
	}

	pm.logActivity(doc)
	return pm.enqueue(doc)
}

// Announce boosts a note to the sender's followers.
func (pm *Postman) Announce(noteURI string) error {
	_, doc := pm.translator.NewAnnounce(pm.sender, noteURI)
	pm.logActivity(doc)
	return pm.enqueue(doc)
}

// CreateNote federates a new local note.
func (pm *Postman) CreateNote(note *domain.Note) error {
	log.Debugf("Federating note: %s", note.ToString())
	doc := pm.translator.NewCreateNote(note, pm.sender)
	pm.logActivity(doc)
	return pm.enqueue(doc)
}

// CreateDirectNote federates a direct-message note to its named
// recipients only.
func (pm *Postman) CreateDirectNote(note *domain.Note) error {
	var uris []string
	for _, recipient := range pm.recipients {
		uris = append(uris, recipient.ActorURI)
	}
	doc := pm.translator.NewDirectNote(note, pm.sender, uris)
	pm.logActivity(doc)
	return pm.enqueue(doc)
}

// Delete federates the removal of a local note as a Tombstone.
func (pm *Postman) Delete(note *domain.Note) error {
	doc := pm.translator.NewDelete(note, pm.sender)
	pm.logActivity(doc)
	return pm.enqueue(doc)
}
