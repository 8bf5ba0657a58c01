package activitypub

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/okapi-social/okapi/domain"
)

// fakeStore is an in-memory Store used across the package tests.
type fakeStore struct {
	mu             sync.Mutex
	accounts       map[uuid.UUID]*domain.Account
	remotes        map[uuid.UUID]*domain.RemoteAccount
	keypairs       map[uuid.UUID]*domain.KeyPair
	follows        map[uuid.UUID]*domain.Follow
	followRequests map[string]*domain.FollowRequest
	likes          map[uuid.UUID]*domain.Like
	notes          map[uuid.UUID]*domain.Note
	activities     map[uuid.UUID]*domain.Activity
	deliveries     map[uuid.UUID]*domain.DeliveryQueueItem
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		accounts:       make(map[uuid.UUID]*domain.Account),
		remotes:        make(map[uuid.UUID]*domain.RemoteAccount),
		keypairs:       make(map[uuid.UUID]*domain.KeyPair),
		follows:        make(map[uuid.UUID]*domain.Follow),
		followRequests: make(map[string]*domain.FollowRequest),
		likes:          make(map[uuid.UUID]*domain.Like),
		notes:          make(map[uuid.UUID]*domain.Note),
		activities:     make(map[uuid.UUID]*domain.Activity),
		deliveries:     make(map[uuid.UUID]*domain.DeliveryQueueItem),
	}
}

func (f *fakeStore) addAccount(acc *domain.Account) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *acc
	f.accounts[acc.Id] = &copied
}

func (f *fakeStore) addRemote(remote *domain.RemoteAccount) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *remote
	f.remotes[remote.Id] = &copied
}

func (f *fakeStore) ReadAccByUsername(username string) (error, *domain.Account) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, acc := range f.accounts {
		if acc.Username == username {
			copied := *acc
			return nil, &copied
		}
	}
	return fmt.Errorf("account %s not found", username), nil
}

func (f *fakeStore) ReadAccById(id uuid.UUID) (error, *domain.Account) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if acc, ok := f.accounts[id]; ok {
		copied := *acc
		return nil, &copied
	}
	return fmt.Errorf("account %s not found", id), nil
}

func (f *fakeStore) UpsertRemoteAccount(acc *domain.RemoteAccount) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.remotes {
		if existing.ActorURI == acc.ActorURI {
			acc.Id = existing.Id
			copied := *acc
			f.remotes[existing.Id] = &copied
			return nil
		}
	}
	copied := *acc
	f.remotes[acc.Id] = &copied
	return nil
}

func (f *fakeStore) UpdateRemoteAccountKey(id uuid.UUID, publicKeyPem string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	remote, ok := f.remotes[id]
	if !ok {
		return fmt.Errorf("remote %s not found", id)
	}
	remote.PublicKeyPem = publicKeyPem
	return nil
}

func (f *fakeStore) ReadRemoteAccountByURI(uri string) (error, *domain.RemoteAccount) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, remote := range f.remotes {
		if remote.ActorURI == uri {
			copied := *remote
			return nil, &copied
		}
	}
	return fmt.Errorf("remote %s not found", uri), nil
}

func (f *fakeStore) ReadRemoteAccountById(id uuid.UUID) (error, *domain.RemoteAccount) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if remote, ok := f.remotes[id]; ok {
		copied := *remote
		return nil, &copied
	}
	return fmt.Errorf("remote %s not found", id), nil
}

func (f *fakeStore) CreateKeyPair(pair *domain.KeyPair) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *pair
	f.keypairs[pair.OwnerId] = &copied
	return nil
}

func (f *fakeStore) UpsertKeyPairPublic(owner uuid.UUID, publicKeyPem string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if pair, ok := f.keypairs[owner]; ok {
		pair.PublicKeyPem = publicKeyPem
		pair.UpdatedAt = time.Now()
		return nil
	}
	f.keypairs[owner] = &domain.KeyPair{
		OwnerId:      owner,
		PublicKeyPem: publicKeyPem,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	return nil
}

func (f *fakeStore) ReadKeyPairByOwner(owner uuid.UUID) (error, *domain.KeyPair) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if pair, ok := f.keypairs[owner]; ok {
		copied := *pair
		return nil, &copied
	}
	return fmt.Errorf("keypair for %s not found", owner), nil
}

func (f *fakeStore) CreateFollow(follow *domain.Follow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *follow
	f.follows[follow.Id] = &copied
	return nil
}

func (f *fakeStore) AcceptFollowByURI(uri string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, follow := range f.follows {
		if follow.URI == uri {
			follow.Accepted = true
			return nil
		}
	}
	return fmt.Errorf("follow %s not found", uri)
}

func (f *fakeStore) DeleteFollowByURI(uri string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, follow := range f.follows {
		if follow.URI == uri {
			delete(f.follows, id)
			return nil
		}
	}
	return nil
}

func (f *fakeStore) ReadFollowByURI(uri string) (error, *domain.Follow) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, follow := range f.follows {
		if follow.URI == uri {
			copied := *follow
			return nil, &copied
		}
	}
	return fmt.Errorf("follow %s not found", uri), nil
}

func (f *fakeStore) ReadFollowByAccountIds(accountId uuid.UUID, targetId uuid.UUID) (error, *domain.Follow) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, follow := range f.follows {
		if follow.AccountId == accountId && follow.TargetAccountId == targetId {
			copied := *follow
			return nil, &copied
		}
	}
	return fmt.Errorf("follow not found"), nil
}

func (f *fakeStore) ReadFollowersByTargetId(targetId uuid.UUID) (error, *[]domain.Follow) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []domain.Follow
	for _, follow := range f.follows {
		if follow.TargetAccountId == targetId {
			result = append(result, *follow)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return nil, &result
}

func (f *fakeStore) ReadFollowingByAccountId(accountId uuid.UUID) (error, *[]domain.Follow) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []domain.Follow
	for _, follow := range f.follows {
		if follow.AccountId == accountId {
			result = append(result, *follow)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return nil, &result
}

func (f *fakeStore) DeleteFollowsByRemoteAccountId(remoteId uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, follow := range f.follows {
		if follow.AccountId == remoteId || follow.TargetAccountId == remoteId {
			delete(f.follows, id)
		}
	}
	return nil
}

func followRequestKey(localId uuid.UUID, remoteId uuid.UUID) string {
	return localId.String() + "/" + remoteId.String()
}

func (f *fakeStore) CreateFollowRequest(req *domain.FollowRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *req
	f.followRequests[followRequestKey(req.LocalId, req.RemoteId)] = &copied
	return nil
}

func (f *fakeStore) DeleteFollowRequest(localId uuid.UUID, remoteId uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.followRequests, followRequestKey(localId, remoteId))
	return nil
}

func (f *fakeStore) ReadFollowRequest(localId uuid.UUID, remoteId uuid.UUID) (error, *domain.FollowRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if req, ok := f.followRequests[followRequestKey(localId, remoteId)]; ok {
		copied := *req
		return nil, &copied
	}
	return fmt.Errorf("follow request not found"), nil
}

func (f *fakeStore) CreateLike(like *domain.Like) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *like
	f.likes[like.Id] = &copied
	return nil
}

func (f *fakeStore) DeleteLikeByURI(uri string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, like := range f.likes {
		if like.URI == uri {
			delete(f.likes, id)
			return nil
		}
	}
	return nil
}

func (f *fakeStore) ReadLikesByAccountId(accountId uuid.UUID) (error, *[]domain.Like) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []domain.Like
	for _, like := range f.likes {
		if like.AccountId == accountId {
			result = append(result, *like)
		}
	}
	return nil, &result
}

func (f *fakeStore) CreateNote(note *domain.Note, userId uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *note
	f.notes[note.Id] = &copied
	return nil
}

func (f *fakeStore) ReadNoteId(id uuid.UUID) (error, *domain.Note) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if note, ok := f.notes[id]; ok {
		copied := *note
		return nil, &copied
	}
	return fmt.Errorf("note %s not found", id), nil
}

func (f *fakeStore) ReadNoteByObjectURI(uri string) (error, *domain.Note) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, note := range f.notes {
		if note.ObjectURI == uri {
			copied := *note
			return nil, &copied
		}
	}
	return fmt.Errorf("note %s not found", uri), nil
}

func (f *fakeStore) ReadPublicNotesByUsername(username string, limit int, offset int) (error, *[]domain.Note) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []domain.Note
	for _, note := range f.notes {
		if note.CreatedBy == username && note.Visibility == domain.VisibilityPublic {
			result = append(result, *note)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return nil, &result
}

func (f *fakeStore) DeleteNote(id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.notes, id)
	return nil
}

func (f *fakeStore) CreateActivity(activity *domain.Activity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *activity
	f.activities[activity.Id] = &copied
	return nil
}

func (f *fakeStore) UpdateActivity(activity *domain.Activity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *activity
	f.activities[activity.Id] = &copied
	return nil
}

func (f *fakeStore) DeleteActivity(id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.activities, id)
	return nil
}

func (f *fakeStore) ReadActivityByURI(uri string) (error, *domain.Activity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, activity := range f.activities {
		if activity.ActivityURI == uri {
			copied := *activity
			return nil, &copied
		}
	}
	return fmt.Errorf("activity %s not found", uri), nil
}

func (f *fakeStore) ReadActivityByObjectURI(uri string) (error, *domain.Activity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, activity := range f.activities {
		if activity.ObjectURI == uri {
			copied := *activity
			return nil, &copied
		}
	}
	return fmt.Errorf("activity for object %s not found", uri), nil
}

func (f *fakeStore) EnqueueDelivery(item *domain.DeliveryQueueItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *item
	f.deliveries[item.Id] = &copied
	return nil
}

func (f *fakeStore) ReadPendingDeliveries(limit int) (error, *[]domain.DeliveryQueueItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []domain.DeliveryQueueItem
	for _, item := range f.deliveries {
		if !item.NextRetryAt.After(time.Now()) {
			result = append(result, *item)
		}
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return nil, &result
}

func (f *fakeStore) UpdateDeliveryAttempt(id uuid.UUID, attempts int, nextRetryAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if item, ok := f.deliveries[id]; ok {
		item.Attempts = attempts
		item.NextRetryAt = nextRetryAt
	}
	return nil
}

func (f *fakeStore) DeleteDelivery(id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.deliveries, id)
	return nil
}

var _ Store = (*fakeStore)(nil)
