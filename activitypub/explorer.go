package activitypub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/okapi-social/okapi/domain"
	"github.com/okapi-social/okapi/util"
)

// PublicURI is the ActivityStreams sentinel for public addressing.
const PublicURI = "https://www.w3.org/ns/activitystreams#Public"

// maxCollectionPages bounds pagination over remote-supplied collections so
// a cyclic or unbounded next chain cannot drive unbounded fetching. A
// visited-URI set guards cycles independently of the cap.
const maxCollectionPages = 16

// ActorDoc is the JSON shape of a remote ActivityPub actor document.
type ActorDoc struct {
	Context           interface{} `json:"@context"`
	ID                string      `json:"id"`
	Type              string      `json:"type"`
	PreferredUsername string      `json:"preferredUsername"`
	Name              string      `json:"name"`
	Summary           string      `json:"summary"`
	URL               string      `json:"url"`
	Inbox             string      `json:"inbox"`
	Outbox            string      `json:"outbox"`
	Endpoints         struct {
		SharedInbox string `json:"sharedInbox"`
	} `json:"endpoints"`
	Icon struct {
		Type      string `json:"type"`
		MediaType string `json:"mediaType"`
		URL       string `json:"url"`
	} `json:"icon"`
	PublicKey struct {
		ID           string `json:"id"`
		Owner        string `json:"owner"`
		PublicKeyPem string `json:"publicKeyPem"`
	} `json:"publicKey"`
}

// collectionDoc covers both OrderedCollection and OrderedCollectionPage.
// first/next may be either a URL string or an embedded page object.
type collectionDoc struct {
	Type         string            `json:"type"`
	First        json.RawMessage   `json:"first"`
	Next         json.RawMessage   `json:"next"`
	OrderedItems []json.RawMessage `json:"orderedItems"`
}

// Explorer resolves URIs, WebFinger-discovered actor IDs and collection
// URLs to canonical remote actor records, caching results.
type Explorer struct {
	store      Store
	client     *http.Client
	publicURIs map[string]bool
}

func NewExplorer(store Store) *Explorer {
	return &Explorer{
		store:  store,
		client: &http.Client{Timeout: 10 * time.Second},
		publicURIs: map[string]bool{
			PublicURI:   true,
			"Public":    true,
			"as:Public": true,
		},
	}
}

// WithClient overrides the HTTP client, used by tests.
func (e *Explorer) WithClient(client *http.Client) *Explorer {
	e.client = client
	return e
}

// Lookup resolves a URI to zero or more remote actor records. The
// accumulator and visited set are scoped to this call, so concurrent
// lookups cannot corrupt each other. Known public-collection sentinels
// resolve to an empty list. An HTTP 410 means the actor is gone and also
// resolves to an empty list without error; an exhausted lookup yields
// ErrNoSuchActor.
func (e *Explorer) Lookup(ctx context.Context, uri string, allowOnline bool) ([]domain.RemoteAccount, error) {
	if e.publicURIs[uri] {
		return []domain.RemoteAccount{}, nil
	}

	var found []domain.RemoteAccount
	visited := make(map[string]bool)

	gone, err := e.explore(ctx, uri, allowOnline, &found, visited, 0)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		if gone {
			return []domain.RemoteAccount{}, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrNoSuchActor, uri)
	}
	return found, nil
}

// GetProfileFromURL resolves a URL to exactly one actor record.
func (e *Explorer) GetProfileFromURL(ctx context.Context, url string, allowOnline bool) (*domain.RemoteAccount, error) {
	found, err := e.Lookup(ctx, url, allowOnline)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchActor, url)
	}
	return &found[0], nil
}

// explore resolves one URI into the accumulator, recursing through
// collection pages. Returns whether the resource is gone (HTTP 410).
func (e *Explorer) explore(ctx context.Context, uri string, allowOnline bool, acc *[]domain.RemoteAccount, visited map[string]bool, depth int) (bool, error) {
	if visited[uri] || depth >= maxCollectionPages {
		return false, nil
	}
	visited[uri] = true

	// Cache first
	err, cached := e.store.ReadRemoteAccountByURI(uri)
	if err == nil && cached != nil {
		*acc = append(*acc, *cached)
		return false, nil
	}

	if !allowOnline {
		return false, nil
	}

	body, status, err := e.fetch(ctx, uri)
	if err != nil {
		return false, fmt.Errorf("failed to fetch %s: %w", uri, err)
	}
	if status == http.StatusGone {
		return true, nil
	}
	if status < 200 || status >= 300 {
		return false, fmt.Errorf("fetch of %s failed with status %d", uri, status)
	}

	// Collections paginate recursively; anything else decodes as an actor
	var coll collectionDoc
	if err := json.Unmarshal(body, &coll); err == nil &&
		(coll.Type == "OrderedCollection" || coll.Type == "OrderedCollectionPage" || coll.Type == "Collection" || coll.Type == "CollectionPage") {
		return false, e.exploreCollection(ctx, &coll, acc, visited, depth)
	}

	actor, err := decodeActor(body)
	if err != nil {
		return false, err
	}
	record, err := e.cacheActor(actor)
	if err != nil {
		return false, err
	}
	*acc = append(*acc, *record)
	return false, nil
}

func (e *Explorer) exploreCollection(ctx context.Context, coll *collectionDoc, acc *[]domain.RemoteAccount, visited map[string]bool, depth int) error {
	for _, raw := range coll.OrderedItems {
		var itemURI string
		if err := json.Unmarshal(raw, &itemURI); err == nil {
			if _, err := e.explore(ctx, itemURI, true, acc, visited, depth+1); err != nil {
				log.Debugf("Explorer: skipping collection item %s: %v", itemURI, err)
			}
			continue
		}
		// Embedded actor object
		actor, err := decodeActor(raw)
		if err != nil {
			continue
		}
		record, err := e.cacheActor(actor)
		if err != nil {
			continue
		}
		*acc = append(*acc, *record)
	}

	next := linkTarget(coll.Next)
	if next == "" {
		next = linkTarget(coll.First)
	}
	if next == "" {
		return nil
	}
	_, err := e.explore(ctx, next, true, acc, visited, depth+1)
	return err
}

// linkTarget extracts a page link that may be a URL string or an embedded
// object with an id.
func linkTarget(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.ID
	}
	return ""
}

// GetRemoteUserActivity fetches and minimally validates a raw actor
// profile document. Used to pick up rotated keys after a signature
// verification failure.
func (e *Explorer) GetRemoteUserActivity(ctx context.Context, uri string) (*ActorDoc, error) {
	body, status, err := e.fetch(ctx, uri)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("profile fetch of %s failed with status %d", uri, status)
	}

	var actor ActorDoc
	if err := json.Unmarshal(body, &actor); err != nil {
		return nil, fmt.Errorf("failed to parse actor JSON: %w", err)
	}
	if actor.ID == "" || actor.PreferredUsername == "" || actor.Inbox == "" || actor.PublicKey.PublicKeyPem == "" {
		return nil, fmt.Errorf("actor document %s missing required fields", uri)
	}
	return &actor, nil
}

func (e *Explorer) fetch(ctx context.Context, uri string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", uri, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("User-Agent", util.UserAgent())

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	return body, resp.StatusCode, nil
}

func decodeActor(body []byte) (*ActorDoc, error) {
	var actor ActorDoc
	if err := json.Unmarshal(body, &actor); err != nil {
		return nil, fmt.Errorf("failed to parse actor JSON: %w", err)
	}
	if actor.ID == "" || actor.Inbox == "" || actor.PublicKey.PublicKeyPem == "" {
		return nil, fmt.Errorf("actor missing required fields")
	}
	return &actor, nil
}

// cacheActor upserts a fetched actor document into the remote account
// cache and returns the stored record.
func (e *Explorer) cacheActor(actor *ActorDoc) (*domain.RemoteAccount, error) {
	domainName, err := extractDomain(actor.ID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	record := &domain.RemoteAccount{
		Id:             uuid.New(),
		Username:       actor.PreferredUsername,
		Domain:         domainName,
		ActorURI:       actor.ID,
		DisplayName:    actor.Name,
		Summary:        actor.Summary,
		ProfileURL:     actor.URL,
		InboxURI:       actor.Inbox,
		SharedInboxURI: actor.Endpoints.SharedInbox,
		OutboxURI:      actor.Outbox,
		PublicKeyPem:   actor.PublicKey.PublicKeyPem,
		AvatarURL:      actor.Icon.URL,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := e.store.UpsertRemoteAccount(record); err != nil {
		return nil, fmt.Errorf("failed to store remote account: %w", err)
	}
	return record, nil
}

// extractDomain extracts the domain from an actor URI
// Example: "https://mastodon.social/users/alice" -> "mastodon.social"
func extractDomain(actorURI string) (string, error) {
	parsed, err := url.Parse(actorURI)
	if err != nil {
		return "", fmt.Errorf("invalid actor URI: %w", err)
	}

	return parsed.Host, nil
}
