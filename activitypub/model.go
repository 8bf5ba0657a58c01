package activitypub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/okapi-social/okapi/domain"
	"github.com/okapi-social/okapi/util"
)

// ActivityKind is the closed set of activity/object types this core
// dispatches on. Anything else maps to KindUnknown and is rejected.
type ActivityKind int

const (
	KindUnknown ActivityKind = iota
	KindFollow
	KindAccept
	KindReject
	KindCreate
	KindUpdate
	KindDelete
	KindUndo
	KindLike
	KindAnnounce
	KindNote
	KindTombstone
)

var kindNames = map[string]ActivityKind{
	"Follow":    KindFollow,
	"Accept":    KindAccept,
	"Reject":    KindReject,
	"Create":    KindCreate,
	"Update":    KindUpdate,
	"Delete":    KindDelete,
	"Undo":      KindUndo,
	"Like":      KindLike,
	"Announce":  KindAnnounce,
	"Note":      KindNote,
	"Tombstone": KindTombstone,
}

// KindOf maps a wire type string onto the closed kind set.
func KindOf(name string) ActivityKind {
	if kind, ok := kindNames[name]; ok {
		return kind
	}
	return KindUnknown
}

// Envelope is a decoded ActivityStreams activity: the transient unit the
// inbox processor and translator operate on. Object may be a bare URI or
// an embedded object.
type Envelope struct {
	Context   interface{}     `json:"@context,omitempty"`
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Actor     string          `json:"actor"`
	Object    json.RawMessage `json:"object,omitempty"`
	To        []string        `json:"to,omitempty"`
	CC        []string        `json:"cc,omitempty"`
	Published string          `json:"published,omitempty"`
}

func (e *Envelope) Kind() ActivityKind {
	return KindOf(e.Type)
}

// ObjectURI returns the activity object's URI whether the object is a
// plain URI string or an embedded object with an id.
func (e *Envelope) ObjectURI() string {
	if len(e.Object) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(e.Object, &s); err == nil {
		return s
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(e.Object, &obj); err == nil {
		return obj.ID
	}
	return ""
}

// EmbeddedObject decodes the object field as a nested envelope.
func (e *Envelope) EmbeddedObject() (*Envelope, error) {
	if len(e.Object) == 0 {
		return nil, fmt.Errorf("activity %s has no object", e.ID)
	}
	var inner Envelope
	if err := json.Unmarshal(e.Object, &inner); err != nil {
		return nil, fmt.Errorf("failed to parse activity object: %w", err)
	}
	return &inner, nil
}

// DecodeEnvelope parses a raw activity body.
func DecodeEnvelope(body []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("invalid activity JSON: %w", err)
	}
	return &env, nil
}

// ClassifyAudience derives a visibility scope from activity addressing:
// the Public sentinel in to means fully public, only in cc means unlisted,
// in neither means followers-only.
func ClassifyAudience(to []string, cc []string) string {
	for _, uri := range to {
		if uri == PublicURI {
			return domain.VisibilityPublic
		}
	}
	for _, uri := range cc {
		if uri == PublicURI {
			return domain.VisibilityUnlisted
		}
	}
	return domain.VisibilityFollowers
}

// addressing maps a note's visibility to its to/cc lists.
func addressing(visibility string, followersURI string, recipients []string) (to []string, cc []string) {
	switch visibility {
	case domain.VisibilityPublic:
		return []string{PublicURI}, []string{followersURI}
	case domain.VisibilityUnlisted:
		return []string{followersURI}, []string{PublicURI}
	case domain.VisibilityFollowers:
		return []string{followersURI}, []string{}
	case domain.VisibilityDirect:
		return recipients, []string{}
	default:
		return []string{followersURI}, []string{PublicURI}
	}
}

// Translator encodes internal entities as ActivityStreams documents and
// decodes inbound objects back into them.
type Translator struct {
	conf     *util.AppConfig
	explorer *Explorer
	client   *http.Client
}

func NewTranslator(conf *util.AppConfig, explorer *Explorer) *Translator {
	return &Translator{
		conf:     conf,
		explorer: explorer,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *Translator) actorURI(acc *domain.Account) string {
	return acc.ActorURI(t.conf.Conf.SslDomain)
}

func (t *Translator) followersURI(acc *domain.Account) string {
	return fmt.Sprintf("%s/followers", t.actorURI(acc))
}

func (t *Translator) newActivityID() string {
	return fmt.Sprintf("%s/activities/%s", t.conf.BaseURL(), uuid.New().String())
}

// NewPersonDoc encodes a local account as an ActivityPub Person with the
// security vocabulary context and the instance shared inbox endpoint.
func (t *Translator) NewPersonDoc(acc *domain.Account, publicKeyPem string) map[string]interface{} {
	actorURI := t.actorURI(acc)

	displayName := acc.DisplayName
	if displayName == "" {
		displayName = acc.Username
	}

	doc := map[string]interface{}{
		"@context": []string{
			"https://www.w3.org/ns/activitystreams",
			"https://w3id.org/security/v1",
		},
		"id":                        actorURI,
		"type":                      "Person",
		"preferredUsername":         acc.Username,
		"name":                      displayName,
		"summary":                   acc.Summary,
		"url":                       actorURI,
		"inbox":                     fmt.Sprintf("%s/inbox", actorURI),
		"outbox":                    fmt.Sprintf("%s/outbox", actorURI),
		"followers":                 t.followersURI(acc),
		"following":                 fmt.Sprintf("%s/following", actorURI),
		"liked":                     fmt.Sprintf("%s/liked", actorURI),
		"manuallyApprovesFollowers": t.conf.Conf.Closed,
		"discoverable":              true,
		"endpoints": map[string]interface{}{
			"sharedInbox": fmt.Sprintf("%s/inbox", t.conf.BaseURL()),
		},
		"publicKey": map[string]interface{}{
			"id":           fmt.Sprintf("%s#public-key", actorURI),
			"owner":        actorURI,
			"publicKeyPem": publicKeyPem,
		},
	}

	if acc.AvatarURL != "" {
		doc["icon"] = map[string]interface{}{
			"type": "Image",
			"url":  acc.AvatarURL,
		}
	}

	return doc
}

// NewNoteObject encodes a note as an ActivityPub Note object.
func (t *Translator) NewNoteObject(note *domain.Note, acc *domain.Account, recipients []string) map[string]interface{} {
	to, cc := addressing(note.Visibility, t.followersURI(acc), recipients)

	objectURI := note.ObjectURI
	if objectURI == "" {
		objectURI = fmt.Sprintf("%s/notes/%s", t.conf.BaseURL(), note.Id.String())
	}

	obj := map[string]interface{}{
		"id":           objectURI,
		"type":         "Note",
		"attributedTo": t.actorURI(acc),
		"content":      util.NormalizeInput(note.Message),
		"published":    note.CreatedAt.UTC().Format(time.RFC3339),
		"to":           to,
		"cc":           cc,
	}

	if note.InReplyToURI != "" {
		obj["inReplyTo"] = note.InReplyToURI
	}
	if note.EditedAt != nil {
		obj["updated"] = note.EditedAt.UTC().Format(time.RFC3339)
	}

	return obj
}

// NewCreateNote wraps a note in a Create activity.
func (t *Translator) NewCreateNote(note *domain.Note, acc *domain.Account) map[string]interface{} {
	to, cc := addressing(note.Visibility, t.followersURI(acc), nil)

	return map[string]interface{}{
		"@context":  "https://www.w3.org/ns/activitystreams",
		"id":        t.newActivityID(),
		"type":      "Create",
		"actor":     t.actorURI(acc),
		"published": note.CreatedAt.UTC().Format(time.RFC3339),
		"to":        to,
		"cc":        cc,
		"object":    t.NewNoteObject(note, acc, nil),
	}
}

// NewDirectNote wraps a direct-message note in a Create addressed only to
// the named recipients.
func (t *Translator) NewDirectNote(note *domain.Note, acc *domain.Account, recipients []string) map[string]interface{} {
	return map[string]interface{}{
		"@context":  "https://www.w3.org/ns/activitystreams",
		"id":        t.newActivityID(),
		"type":      "Create",
		"actor":     t.actorURI(acc),
		"published": note.CreatedAt.UTC().Format(time.RFC3339),
		"to":        recipients,
		"cc":        []string{},
		"object":    t.NewNoteObject(note, acc, recipients),
	}
}

// NewFollow builds a Follow activity targeting a remote actor.
func (t *Translator) NewFollow(acc *domain.Account, remoteActorURI string) (string, map[string]interface{}) {
	id := t.newActivityID()
	return id, map[string]interface{}{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id":       id,
		"type":     "Follow",
		"actor":    t.actorURI(acc),
		"object":   remoteActorURI,
	}
}

// NewAcceptFollow confirms a received Follow activity.
func (t *Translator) NewAcceptFollow(acc *domain.Account, remote *domain.RemoteAccount, followID string) map[string]interface{} {
	actorURI := t.actorURI(acc)
	return map[string]interface{}{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id":       t.newActivityID(),
		"type":     "Accept",
		"actor":    actorURI,
		"object": map[string]interface{}{
			"id":     followID,
			"type":   "Follow",
			"actor":  remote.ActorURI,
			"object": actorURI,
		},
	}
}

// NewLike builds a Like activity for a note object URI.
func (t *Translator) NewLike(acc *domain.Account, noteURI string) (string, map[string]interface{}) {
	id := t.newActivityID()
	return id, map[string]interface{}{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id":       id,
		"type":     "Like",
		"actor":    t.actorURI(acc),
		"object":   noteURI,
	}
}

// NewAnnounce builds an Announce (boost) activity for a note object URI.
func (t *Translator) NewAnnounce(acc *domain.Account, noteURI string) (string, map[string]interface{}) {
	id := t.newActivityID()
	return id, map[string]interface{}{
		"@context":  "https://www.w3.org/ns/activitystreams",
		"id":        id,
		"type":      "Announce",
		"actor":     t.actorURI(acc),
		"object":    noteURI,
		"published": time.Now().UTC().Format(time.RFC3339),
		"to":        []string{PublicURI},
		"cc":        []string{t.followersURI(acc)},
	}
}

// NewUndo wraps a previously sent activity in an Undo. The inner
// activity is copied, minus its @context, leaving the argument intact.
func (t *Translator) NewUndo(acc *domain.Account, inner map[string]interface{}) map[string]interface{} {
	object := make(map[string]interface{}, len(inner))
	for k, v := range inner {
		if k == "@context" {
			continue
		}
		object[k] = v
	}
	return map[string]interface{}{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id":       t.newActivityID(),
		"type":     "Undo",
		"actor":    t.actorURI(acc),
		"object":   object,
	}
}

// NewDelete builds a Delete activity wrapping a Tombstone that keeps the
// original creation timestamp next to the deletion timestamp.
func (t *Translator) NewDelete(note *domain.Note, acc *domain.Account) map[string]interface{} {
	objectURI := note.ObjectURI
	if objectURI == "" {
		objectURI = fmt.Sprintf("%s/notes/%s", t.conf.BaseURL(), note.Id.String())
	}

	return map[string]interface{}{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id":       t.newActivityID(),
		"type":     "Delete",
		"actor":    t.actorURI(acc),
		"to":       []string{PublicURI},
		"object": map[string]interface{}{
			"id":        objectURI,
			"type":      "Tombstone",
			"published": note.CreatedAt.UTC().Format(time.RFC3339),
			"deleted":   time.Now().UTC().Format(time.RFC3339),
		},
	}
}

// IncomingNote is the decoded form of an inbound Note object.
type IncomingNote struct {
	ObjectURI    string
	URL          string
	AttributedTo string
	Content      string
	Published    time.Time
	InReplyToURI string
	Visibility   string
	Mentions     []domain.RemoteAccount
	Attachments  []IncomingAttachment
}

// IncomingAttachment is a Document attachment on an inbound note.
type IncomingAttachment struct {
	URL       string
	MediaType string
	Size      int64
	Name      string
}

// noteDoc is the wire shape of an inbound Note.
type noteDoc struct {
	ID           string   `json:"id"`
	Type         string   `json:"type"`
	URL          string   `json:"url"`
	AttributedTo string   `json:"attributedTo"`
	Content      *string  `json:"content"`
	Published    string   `json:"published"`
	InReplyTo    string   `json:"inReplyTo"`
	To           []string `json:"to"`
	CC           []string `json:"cc"`
	Tag          []struct {
		Type string `json:"type"`
		Href string `json:"href"`
		Name string `json:"name"`
	} `json:"tag"`
	Attachment []struct {
		Type      string `json:"type"`
		URL       string `json:"url"`
		MediaType string `json:"mediaType"`
		Name      string `json:"name"`
	} `json:"attachment"`
}

// DecodeNote validates and decodes an inbound Note object. A Note without
// content is valid ActivityPub but not acceptable here: it is soft
// rejected with ErrNoteWithoutContent. Per-mention and per-attachment
// failures are skipped, never fatal.
func (t *Translator) DecodeNote(ctx context.Context, raw json.RawMessage) (*IncomingNote, error) {
	var doc noteDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("invalid note JSON: %w", err)
	}

	if !isURL(doc.ID) {
		return nil, fmt.Errorf("note id %q is not a URL", doc.ID)
	}
	if doc.Type != "Note" {
		return nil, fmt.Errorf("object type %q is not a Note", doc.Type)
	}
	if doc.URL != "" && !isURL(doc.URL) {
		return nil, fmt.Errorf("note url %q is not a URL", doc.URL)
	}

	// to and cc must both be present, even if empty
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keys); err != nil {
		return nil, fmt.Errorf("invalid note JSON: %w", err)
	}
	if _, ok := keys["to"]; !ok {
		return nil, fmt.Errorf("note %s missing to field", doc.ID)
	}
	if _, ok := keys["cc"]; !ok {
		return nil, fmt.Errorf("note %s missing cc field", doc.ID)
	}

	if doc.Content == nil || *doc.Content == "" {
		return nil, ErrNoteWithoutContent
	}

	note := &IncomingNote{
		ObjectURI:    doc.ID,
		URL:          doc.URL,
		AttributedTo: doc.AttributedTo,
		Content:      *doc.Content,
		InReplyToURI: doc.InReplyTo,
		Visibility:   ClassifyAudience(doc.To, doc.CC),
	}

	if doc.Published != "" {
		if published, err := time.Parse(time.RFC3339, doc.Published); err == nil {
			note.Published = published
		}
	}

	for _, tag := range doc.Tag {
		if tag.Type != "Mention" || tag.Href == "" {
			continue
		}
		mentioned, err := t.explorer.GetProfileFromURL(ctx, tag.Href, true)
		if err != nil {
			log.Debugf("Translator: skipping unresolvable mention %s: %v", tag.Href, err)
			continue
		}
		note.Mentions = append(note.Mentions, *mentioned)
	}

	for _, att := range doc.Attachment {
		if att.Type != "Document" || att.URL == "" {
			continue
		}
		incoming := IncomingAttachment{URL: att.URL, MediaType: att.MediaType, Name: att.Name}
		if incoming.MediaType == "" {
			if mediaType, size, err := t.probeAttachment(ctx, att.URL); err == nil {
				incoming.MediaType = mediaType
				incoming.Size = size
			} else {
				log.Debugf("Translator: skipping unprobeable attachment %s: %v", att.URL, err)
				continue
			}
		}
		note.Attachments = append(note.Attachments, incoming)
	}

	return note, nil
}

// probeAttachment issues a HEAD request to learn an attachment's media
// type and length when the note did not carry them.
func (t *Translator) probeAttachment(ctx context.Context, attachmentURL string) (string, int64, error) {
	req, err := http.NewRequestWithContext(ctx, "HEAD", attachmentURL, nil)
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("User-Agent", util.UserAgent())

	resp, err := t.client.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", 0, fmt.Errorf("attachment probe returned status %d", resp.StatusCode)
	}
	return resp.Header.Get("Content-Type"), resp.ContentLength, nil
}

func isURL(s string) bool {
	parsed, err := url.Parse(s)
	return err == nil && parsed.Scheme != "" && parsed.Host != ""
}
