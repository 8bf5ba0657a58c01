package activitypub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/okapi-social/okapi/domain"
	"github.com/okapi-social/okapi/util"
)

func newTestConfig() *util.AppConfig {
	conf := &util.AppConfig{}
	conf.Conf.Host = "0.0.0.0"
	conf.Conf.HttpPort = 8080
	conf.Conf.SslDomain = "social.example"
	return conf
}

func newTestTranslator(store Store) *Translator {
	return NewTranslator(newTestConfig(), NewExplorer(store))
}

func TestKindOf(t *testing.T) {
	cases := map[string]ActivityKind{
		"Follow":     KindFollow,
		"Accept":     KindAccept,
		"Reject":     KindReject,
		"Create":     KindCreate,
		"Update":     KindUpdate,
		"Delete":     KindDelete,
		"Undo":       KindUndo,
		"Like":       KindLike,
		"Announce":   KindAnnounce,
		"Note":       KindNote,
		"Tombstone":  KindTombstone,
		"EmojiReact": KindUnknown,
		"":           KindUnknown,
	}
	for name, expected := range cases {
		if got := KindOf(name); got != expected {
			t.Errorf("KindOf(%q) = %d, expected %d", name, got, expected)
		}
	}
}

func TestClassifyAudience(t *testing.T) {
	followers := "https://social.example/users/alice/followers"

	cases := []struct {
		name     string
		to       []string
		cc       []string
		expected string
	}{
		{"public in to", []string{PublicURI}, []string{followers}, domain.VisibilityPublic},
		{"public in cc", []string{followers}, []string{PublicURI}, domain.VisibilityUnlisted},
		{"followers only", []string{followers}, []string{}, domain.VisibilityFollowers},
		{"empty addressing", nil, nil, domain.VisibilityFollowers},
		{"public in both", []string{PublicURI}, []string{PublicURI}, domain.VisibilityPublic},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyAudience(tc.to, tc.cc); got != tc.expected {
				t.Errorf("Expected %s, got %s", tc.expected, got)
			}
		})
	}
}

func TestEnvelopeObjectURI(t *testing.T) {
	plain := &Envelope{Object: json.RawMessage(`"https://remote.example/notes/1"`)}
	if plain.ObjectURI() != "https://remote.example/notes/1" {
		t.Errorf("Unexpected URI for plain object: %s", plain.ObjectURI())
	}

	embedded := &Envelope{Object: json.RawMessage(`{"id":"https://remote.example/notes/2","type":"Note"}`)}
	if embedded.ObjectURI() != "https://remote.example/notes/2" {
		t.Errorf("Unexpected URI for embedded object: %s", embedded.ObjectURI())
	}

	empty := &Envelope{}
	if empty.ObjectURI() != "" {
		t.Error("Expected empty URI for missing object")
	}
}

func TestNewCreateNoteAddressing(t *testing.T) {
	store := newFakeStore()
	translator := newTestTranslator(store)

	acc := newTestAccount("alice")
	followers := "https://social.example/users/alice/followers"

	cases := []struct {
		visibility string
		wantTo     string
		wantCC     string
	}{
		{domain.VisibilityPublic, PublicURI, followers},
		{domain.VisibilityUnlisted, followers, PublicURI},
	}

	for _, tc := range cases {
		note := &domain.Note{
			Id:         uuid.New(),
			CreatedBy:  "alice",
			Message:    "hello fediverse",
			CreatedAt:  time.Now(),
			Visibility: tc.visibility,
		}
		doc := translator.NewCreateNote(note, acc)

		to := doc["to"].([]string)
		cc := doc["cc"].([]string)
		if len(to) != 1 || to[0] != tc.wantTo {
			t.Errorf("%s: unexpected to: %v", tc.visibility, to)
		}
		if len(cc) != 1 || cc[0] != tc.wantCC {
			t.Errorf("%s: unexpected cc: %v", tc.visibility, cc)
		}
		if doc["type"] != "Create" {
			t.Errorf("Expected Create, got %v", doc["type"])
		}
	}
}

func TestNewCreateNoteFollowersOnlyExcludesPublic(t *testing.T) {
	store := newFakeStore()
	translator := newTestTranslator(store)
	acc := newTestAccount("alice")

	note := &domain.Note{
		Id:         uuid.New(),
		CreatedBy:  "alice",
		Message:    "just for followers",
		CreatedAt:  time.Now(),
		Visibility: domain.VisibilityFollowers,
	}
	doc := translator.NewCreateNote(note, acc)

	if containsPublicURI(doc["to"]) || containsPublicURI(doc["cc"]) {
		t.Error("Followers-only note must not address the public collection")
	}
}

func containsPublicURI(v interface{}) bool {
	list, ok := v.([]string)
	if !ok {
		return false
	}
	for _, uri := range list {
		if uri == PublicURI {
			return true
		}
	}
	return false
}

func TestNewNoteObjectCarriesEditTimestamp(t *testing.T) {
	store := newFakeStore()
	translator := newTestTranslator(store)
	acc := newTestAccount("alice")

	edited := time.Now().Add(-time.Hour)
	note := &domain.Note{
		Id:         uuid.New(),
		CreatedBy:  "alice",
		Message:    "edited",
		CreatedAt:  time.Now().Add(-2 * time.Hour),
		EditedAt:   &edited,
		Visibility: domain.VisibilityPublic,
	}

	doc := translator.NewNoteObject(note, acc, nil)
	if _, ok := doc["updated"]; !ok {
		t.Error("Edited note must carry an updated timestamp")
	}
}

func TestNewNoteObjectNormalizesContent(t *testing.T) {
	store := newFakeStore()
	translator := newTestTranslator(store)
	acc := newTestAccount("alice")

	note := &domain.Note{
		Id:         uuid.New(),
		CreatedBy:  "alice",
		Message:    "line one\nline two <b>bold</b>",
		CreatedAt:  time.Now(),
		Visibility: domain.VisibilityPublic,
	}

	doc := translator.NewNoteObject(note, acc, nil)
	content := doc["content"].(string)
	if content != "line one line two &lt;b&gt;bold&lt;/b&gt;" {
		t.Errorf("Unexpected content: %s", content)
	}
}

func TestNewDeleteWrapsTombstone(t *testing.T) {
	store := newFakeStore()
	translator := newTestTranslator(store)
	acc := newTestAccount("alice")

	note := &domain.Note{
		Id:         uuid.New(),
		CreatedBy:  "alice",
		Message:    "to be deleted",
		CreatedAt:  time.Now().Add(-time.Hour),
		Visibility: domain.VisibilityPublic,
	}

	doc := translator.NewDelete(note, acc)
	if doc["type"] != "Delete" {
		t.Fatalf("Expected Delete, got %v", doc["type"])
	}

	obj := doc["object"].(map[string]interface{})
	if obj["type"] != "Tombstone" {
		t.Errorf("Expected Tombstone object, got %v", obj["type"])
	}
	if obj["published"] == nil || obj["deleted"] == nil {
		t.Error("Tombstone must carry published and deleted timestamps")
	}
}

func TestNewUndoLeavesInnerIntact(t *testing.T) {
	store := newFakeStore()
	translator := newTestTranslator(store)
	acc := newTestAccount("alice")

	inner := map[string]interface{}{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id":       "https://social.example/activities/f1",
		"type":     "Follow",
		"actor":    "https://social.example/users/alice",
		"object":   "https://remote.example/users/bob",
	}

	doc := translator.NewUndo(acc, inner)

	object := doc["object"].(map[string]interface{})
	if _, ok := object["@context"]; ok {
		t.Error("Embedded object must not carry its own @context")
	}
	if object["id"] != inner["id"] || object["type"] != "Follow" {
		t.Errorf("Unexpected embedded object: %v", object)
	}
	if _, ok := inner["@context"]; !ok {
		t.Error("NewUndo must not mutate the caller's activity")
	}
}

func TestNewPersonDocShape(t *testing.T) {
	store := newFakeStore()
	translator := newTestTranslator(store)

	acc := newTestAccount("alice")
	acc.DisplayName = "Alice"

	doc := translator.NewPersonDoc(acc, "PEM")

	if doc["id"] != "https://social.example/users/alice" {
		t.Errorf("Unexpected id: %v", doc["id"])
	}
	key := doc["publicKey"].(map[string]interface{})
	if key["id"] != "https://social.example/users/alice#public-key" {
		t.Errorf("Unexpected key id: %v", key["id"])
	}
	endpoints := doc["endpoints"].(map[string]interface{})
	if endpoints["sharedInbox"] != "https://social.example/inbox" {
		t.Errorf("Unexpected shared inbox: %v", endpoints["sharedInbox"])
	}

	// Context must include the security vocabulary
	ctx := doc["@context"].([]string)
	foundSecurity := false
	for _, c := range ctx {
		if c == "https://w3id.org/security/v1" {
			foundSecurity = true
		}
	}
	if !foundSecurity {
		t.Error("Person document must declare the security context")
	}
}

func validNoteJSON(content interface{}) json.RawMessage {
	doc := map[string]interface{}{
		"id":           "https://remote.example/notes/1",
		"type":         "Note",
		"attributedTo": "https://remote.example/users/bob",
		"published":    time.Now().UTC().Format(time.RFC3339),
		"to":           []string{PublicURI},
		"cc":           []string{},
	}
	if content != nil {
		doc["content"] = content
	}
	raw, _ := json.Marshal(doc)
	return raw
}

func TestDecodeNote(t *testing.T) {
	store := newFakeStore()
	translator := newTestTranslator(store)

	note, err := translator.DecodeNote(context.Background(), validNoteJSON("<p>hello</p>"))
	if err != nil {
		t.Fatalf("DecodeNote failed: %v", err)
	}
	if note.Content != "<p>hello</p>" {
		t.Errorf("Unexpected content: %s", note.Content)
	}
	if note.Visibility != domain.VisibilityPublic {
		t.Errorf("Expected public visibility, got %s", note.Visibility)
	}
}

func TestDecodeNoteWithoutContentIsSoftRejected(t *testing.T) {
	store := newFakeStore()
	translator := newTestTranslator(store)

	_, err := translator.DecodeNote(context.Background(), validNoteJSON(nil))
	if !errors.Is(err, ErrNoteWithoutContent) {
		t.Errorf("Expected ErrNoteWithoutContent, got %v", err)
	}
}

func TestDecodeNoteValidations(t *testing.T) {
	store := newFakeStore()
	translator := newTestTranslator(store)

	cases := []struct {
		name string
		doc  map[string]interface{}
	}{
		{"id not a URL", map[string]interface{}{
			"id": "not-a-url", "type": "Note", "content": "x",
			"to": []string{}, "cc": []string{},
		}},
		{"wrong type", map[string]interface{}{
			"id": "https://remote.example/n/1", "type": "Article", "content": "x",
			"to": []string{}, "cc": []string{},
		}},
		{"missing to", map[string]interface{}{
			"id": "https://remote.example/n/1", "type": "Note", "content": "x",
			"cc": []string{},
		}},
		{"missing cc", map[string]interface{}{
			"id": "https://remote.example/n/1", "type": "Note", "content": "x",
			"to": []string{},
		}},
		{"bad url field", map[string]interface{}{
			"id": "https://remote.example/n/1", "type": "Note", "content": "x",
			"url": "::bogus::", "to": []string{}, "cc": []string{},
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw, _ := json.Marshal(tc.doc)
			if _, err := translator.DecodeNote(context.Background(), raw); err == nil {
				t.Errorf("Expected error for %s", tc.name)
			}
		})
	}
}

func TestDecodeNoteSkipsUnresolvableMentions(t *testing.T) {
	store := newFakeStore()
	translator := newTestTranslator(store)

	// A cached mention resolves, an unknown one is skipped without error
	mentioned := newTestRemote("carol", "https://remote.example/users/carol")
	store.addRemote(mentioned)

	doc := map[string]interface{}{
		"id":      "https://remote.example/notes/1",
		"type":    "Note",
		"content": "hi @carol and @ghost",
		"to":      []string{PublicURI},
		"cc":      []string{},
		"tag": []map[string]interface{}{
			{"type": "Mention", "href": "https://remote.example/users/carol", "name": "@carol"},
			{"type": "Mention", "href": "invalid://"},
			{"type": "Hashtag", "href": "https://remote.example/tags/go"},
		},
	}
	raw, _ := json.Marshal(doc)

	note, err := translator.DecodeNote(context.Background(), raw)
	if err != nil {
		t.Fatalf("DecodeNote failed: %v", err)
	}
	if len(note.Mentions) != 1 || note.Mentions[0].Username != "carol" {
		t.Errorf("Expected exactly the resolvable mention, got %v", note.Mentions)
	}
}

func TestDecodeNoteAttachmentProbe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "HEAD" {
			t.Errorf("Expected HEAD probe, got %s", r.Method)
		}
		w.Header().Set("Content-Type", "image/png")
		w.WriteHeader(200)
	}))
	defer server.Close()

	store := newFakeStore()
	translator := newTestTranslator(store)

	doc := map[string]interface{}{
		"id":      "https://remote.example/notes/1",
		"type":    "Note",
		"content": "with attachment",
		"to":      []string{PublicURI},
		"cc":      []string{},
		"attachment": []map[string]interface{}{
			{"type": "Document", "url": server.URL + "/image.png"},
			{"type": "Document", "url": fmt.Sprintf("%s/known.jpg", server.URL), "mediaType": "image/jpeg"},
		},
	}
	raw, _ := json.Marshal(doc)

	note, err := translator.DecodeNote(context.Background(), raw)
	if err != nil {
		t.Fatalf("DecodeNote failed: %v", err)
	}
	if len(note.Attachments) != 2 {
		t.Fatalf("Expected 2 attachments, got %d", len(note.Attachments))
	}
	if note.Attachments[0].MediaType != "image/png" {
		t.Errorf("Probe did not fill media type: %s", note.Attachments[0].MediaType)
	}
	if note.Attachments[1].MediaType != "image/jpeg" {
		t.Errorf("Declared media type lost: %s", note.Attachments[1].MediaType)
	}
}
