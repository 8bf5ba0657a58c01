package activitypub

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/okapi-social/okapi/domain"
	"github.com/okapi-social/okapi/util"
)

// InboxProcessor verifies and dispatches incoming ActivityPub activities.
type InboxProcessor struct {
	store      Store
	conf       *util.AppConfig
	keys       *KeyStore
	explorer   *Explorer
	translator *Translator
}

func NewInboxProcessor(store Store, conf *util.AppConfig, keys *KeyStore, explorer *Explorer, translator *Translator) *InboxProcessor {
	return &InboxProcessor{
		store:      store,
		conf:       conf,
		keys:       keys,
		explorer:   explorer,
		translator: translator,
	}
}

func writeInboxError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// Handle processes a signed POST to a local actor's inbox or the shared
// inbox. Redeliveries of an already seen activity URI are acknowledged
// without reprocessing.
func (p *InboxProcessor) Handle(w http.ResponseWriter, r *http.Request, username string) {
	if r.Method != http.MethodPost {
		writeInboxError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Warnf("Inbox: failed to read body: %v", err)
		writeInboxError(w, http.StatusBadRequest, "Failed to read body")
		return
	}
	defer r.Body.Close()

	env, err := DecodeEnvelope(body)
	if err != nil {
		log.Warnf("Inbox: failed to parse activity: %v", err)
		writeInboxError(w, http.StatusBadRequest, "Invalid activity")
		return
	}
	if env.Actor == "" {
		log.Warnf("Inbox: activity %s carries no actor", env.ID)
		writeInboxError(w, http.StatusBadRequest, "Missing actor")
		return
	}

	log.Debugf("Inbox: received %s from %s for %s", env.Type, env.Actor, username)

	ctx := r.Context()

	remote, err := p.explorer.GetProfileFromURL(ctx, env.Actor, true)
	if err != nil {
		log.Warnf("Inbox: failed to resolve actor %s: %v", env.Actor, err)
		writeInboxError(w, http.StatusBadRequest, "Failed to verify actor")
		return
	}

	if !p.verifySignature(ctx, r, remote, body) {
		writeInboxError(w, http.StatusBadRequest, "Invalid signature")
		return
	}

	// Shared-inbox fanout means the same activity can arrive more than
	// once; acknowledge duplicates without reprocessing.
	if err, existing := p.store.ReadActivityByURI(env.ID); err == nil && existing != nil {
		log.Debugf("Inbox: activity %s already processed, skipping", env.ID)
		p.accept(w)
		return
	}

	record := &domain.Activity{
		Id:           uuid.New(),
		ActivityURI:  env.ID,
		ActivityType: env.Type,
		ActorURI:     env.Actor,
		ObjectURI:    env.ObjectURI(),
		RawJSON:      string(body),
		Processed:    false,
		Local:        false,
		CreatedAt:    time.Now(),
	}
	if err := p.store.CreateActivity(record); err != nil {
		log.Warnf("Inbox: failed to store activity %s: %v", env.ID, err)
	}

	switch env.Kind() {
	case KindFollow:
		err = p.handleFollow(env, username, remote)
	case KindAccept:
		err = p.handleAccept(env)
	case KindCreate:
		err = p.handleCreate(ctx, env, username, remote)
	case KindUpdate:
		err = p.handleUpdate(ctx, env, body)
	case KindDelete:
		err = p.handleDelete(env, remote)
	case KindUndo:
		err = p.handleUndo(env)
	case KindLike:
		err = p.handleLike(env, remote)
	case KindAnnounce:
		err = p.handleAnnounce(env)
	default:
		log.Warnf("Inbox: unsupported activity type %q from %s", env.Type, env.Actor)
		writeInboxError(w, http.StatusBadRequest, "Unsupported activity type")
		return
	}

	if err != nil {
		log.Errorf("Inbox: failed to handle %s %s: %v", env.Type, env.ID, err)
		writeInboxError(w, http.StatusBadRequest, err.Error())
		return
	}

	record.Processed = true
	if err := p.store.UpdateActivity(record); err != nil {
		log.Warnf("Inbox: failed to mark activity %s processed: %v", env.ID, err)
	}

	p.accept(w)
}

func (p *InboxProcessor) accept(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/activity+json")
	w.WriteHeader(http.StatusAccepted)
}

// verifySignature checks the request's HTTP signature against the sender's
// cached public key. When the cached key no longer verifies, the key is
// refetched from the actor document exactly once and the check repeated,
// covering remote key rotation.
func (p *InboxProcessor) verifySignature(ctx context.Context, r *http.Request, remote *domain.RemoteAccount, body []byte) bool {
	// The Go HTTP server moves the Host header into r.Host; restore it so
	// signatures covering host can be reconstructed.
	if r.Header.Get("Host") == "" && r.Host != "" {
		r.Header.Set("Host", r.Host)
	}

	raw := r.Header.Get("Signature")
	if raw == "" {
		log.Warnf("Inbox: missing HTTP signature from %s", remote.ActorURI)
		return false
	}

	sig, err := ParseSignatureHeader(raw)
	if err != nil {
		log.Warnf("Inbox: malformed signature header from %s: %v", remote.ActorURI, err)
		return false
	}

	pem, err := p.keys.EnsurePublicKey(ctx, remote, true)
	if err != nil {
		log.Warnf("Inbox: no public key for %s: %v", remote.ActorURI, err)
		return false
	}

	result, reason := Verify(pem, sig, r.Header, r.URL.Path, body)
	if result == VerifyValid {
		return true
	}
	log.Debugf("Inbox: signature check failed for %s (%s), refetching key", remote.ActorURI, reason)

	// The cached key may be stale after a remote key rotation. Refetch
	// once and retry; a second failure is final.
	doc, err := p.explorer.GetRemoteUserActivity(ctx, remote.ActorURI)
	if err != nil {
		log.Warnf("Inbox: failed to refetch actor %s: %v", remote.ActorURI, err)
		return false
	}
	if err := p.keys.UpdatePublicKey(remote, doc.PublicKey.PublicKeyPem); err != nil {
		log.Warnf("Inbox: failed to store rotated key for %s: %v", remote.ActorURI, err)
		return false
	}

	result, reason = Verify(doc.PublicKey.PublicKeyPem, sig, r.Header, r.URL.Path, body)
	if result != VerifyValid {
		log.Warnf("Inbox: signature verification failed for %s: %s", remote.ActorURI, reason)
		return false
	}
	return true
}

func (p *InboxProcessor) handleFollow(env *Envelope, username string, remote *domain.RemoteAccount) error {
	err, local := p.store.ReadAccByUsername(username)
	if err != nil {
		return err
	}

	if p.conf.Conf.Closed {
		// Closed instance: park the follow for manual approval.
		request := &domain.FollowRequest{
			LocalId:   local.Id,
			RemoteId:  remote.Id,
			URI:       env.ID,
			CreatedAt: time.Now(),
		}
		if err := p.store.CreateFollowRequest(request); err != nil {
			return err
		}
		log.Infof("Inbox: queued follow request from %s@%s", remote.Username, remote.Domain)
		return nil
	}

	follow := &domain.Follow{
		Id:              uuid.New(),
		AccountId:       remote.Id,
		TargetAccountId: local.Id,
		URI:             env.ID,
		Accepted:        true,
		CreatedAt:       time.Now(),
	}
	if err := p.store.CreateFollow(follow); err != nil {
		return err
	}

	postman := NewPostman(p.store, p.conf, p.translator, local, []domain.RemoteAccount{*remote})
	if err := postman.AcceptFollow(remote, env.ID); err != nil {
		return err
	}

	log.Infof("Inbox: accepted follow from %s@%s", remote.Username, remote.Domain)
	return nil
}

func (p *InboxProcessor) handleAccept(env *Envelope) error {
	inner, err := env.EmbeddedObject()
	if err != nil {
		return err
	}
	if err := p.store.AcceptFollowByURI(inner.ID); err != nil {
		return err
	}
	log.Infof("Inbox: follow %s was accepted by %s", inner.ID, env.Actor)
	return nil
}

func (p *InboxProcessor) handleCreate(ctx context.Context, env *Envelope, username string, remote *domain.RemoteAccount) error {
	err, local := p.store.ReadAccByUsername(username)
	if err != nil {
		return err
	}

	// Only accept posts from actors this account follows.
	err, follow := p.store.ReadFollowByAccountIds(local.Id, remote.Id)
	if err != nil || follow == nil {
		log.Infof("Inbox: rejecting Create from %s, not following", env.Actor)
		return nil
	}

	note, err := p.translator.DecodeNote(ctx, env.Object)
	if err != nil {
		if errors.Is(err, ErrNoteWithoutContent) {
			// Acknowledged but not stored.
			log.Debugf("Inbox: note %s has no content, ignoring", env.ObjectURI())
			return nil
		}
		return err
	}

	log.Infof("Inbox: stored post %s from %s@%s (%s)", note.ObjectURI, remote.Username, remote.Domain, note.Visibility)
	return nil
}

func (p *InboxProcessor) handleUpdate(ctx context.Context, env *Envelope, body []byte) error {
	inner, err := env.EmbeddedObject()
	if err != nil {
		return err
	}

	switch inner.Kind() {
	case KindNote:
		err, existing := p.store.ReadActivityByObjectURI(inner.ID)
		if err != nil || existing == nil {
			log.Debugf("Inbox: note %s not known, ignoring update", inner.ID)
			return nil
		}
		existing.RawJSON = string(body)
		return p.store.UpdateActivity(existing)
	default:
		if inner.Type != "Person" {
			log.Debugf("Inbox: ignoring Update for %q object", inner.Type)
			return nil
		}
		// Profile update: refresh the cached actor record and key.
		doc, err := p.explorer.GetRemoteUserActivity(ctx, env.Actor)
		if err != nil {
			return err
		}
		refreshed, err := p.explorer.cacheActor(doc)
		if err != nil {
			return err
		}
		return p.keys.UpdatePublicKey(refreshed, doc.PublicKey.PublicKeyPem)
	}
}

func (p *InboxProcessor) handleDelete(env *Envelope, remote *domain.RemoteAccount) error {
	objectURI := env.ObjectURI()

	// An actor deleting itself drops its relationships. The cached record
	// stays in place until a later re-fetch overwrites it.
	if objectURI == env.Actor {
		log.Infof("Inbox: actor %s deleted itself", env.Actor)
		return p.store.DeleteFollowsByRemoteAccountId(remote.Id)
	}

	err, existing := p.store.ReadActivityByObjectURI(objectURI)
	if err != nil || existing == nil {
		log.Debugf("Inbox: object %s not known, ignoring delete", objectURI)
		return nil
	}
	log.Infof("Inbox: deleted object %s from %s", objectURI, env.Actor)
	return p.store.DeleteActivity(existing.Id)
}

func (p *InboxProcessor) handleUndo(env *Envelope) error {
	inner, err := env.EmbeddedObject()
	if err != nil {
		return err
	}

	switch inner.Kind() {
	case KindFollow:
		log.Infof("Inbox: undoing follow %s", inner.ID)
		return p.store.DeleteFollowByURI(inner.ID)
	case KindLike:
		log.Infof("Inbox: undoing like %s", inner.ID)
		return p.store.DeleteLikeByURI(inner.ID)
	default:
		log.Debugf("Inbox: ignoring Undo for %q object", inner.Type)
		return nil
	}
}

func (p *InboxProcessor) handleLike(env *Envelope, remote *domain.RemoteAccount) error {
	err, note := p.store.ReadNoteByObjectURI(env.ObjectURI())
	if err != nil || note == nil {
		log.Debugf("Inbox: like targets unknown note %s, ignoring", env.ObjectURI())
		return nil
	}

	like := &domain.Like{
		Id:        uuid.New(),
		AccountId: remote.Id,
		NoteId:    note.Id,
		URI:       env.ID,
		CreatedAt: time.Now(),
	}
	if err := p.store.CreateLike(like); err != nil {
		return err
	}
	log.Infof("Inbox: %s@%s liked note %s", remote.Username, remote.Domain, note.Id)
	return nil
}

func (p *InboxProcessor) handleAnnounce(env *Envelope) error {
	// The activity log row written before dispatch already records the
	// boost; nothing else to materialize.
	log.Infof("Inbox: %s announced %s", env.Actor, env.ObjectURI())
	return nil
}
