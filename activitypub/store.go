package activitypub

import (
	"time"

	"github.com/google/uuid"
	"github.com/okapi-social/okapi/domain"
)

// Store is the persistence collaborator the federation core depends on.
// Signatures mirror the db package so *db.DB satisfies it directly; tests
// substitute an in-memory fake.
type Store interface {
	ReadAccByUsername(username string) (error, *domain.Account)
	ReadAccById(id uuid.UUID) (error, *domain.Account)

	UpsertRemoteAccount(acc *domain.RemoteAccount) error
	UpdateRemoteAccountKey(id uuid.UUID, publicKeyPem string) error
	ReadRemoteAccountByURI(uri string) (error, *domain.RemoteAccount)
	ReadRemoteAccountById(id uuid.UUID) (error, *domain.RemoteAccount)

	CreateKeyPair(pair *domain.KeyPair) error
	UpsertKeyPairPublic(owner uuid.UUID, publicKeyPem string) error
	ReadKeyPairByOwner(owner uuid.UUID) (error, *domain.KeyPair)

	CreateFollow(follow *domain.Follow) error
	AcceptFollowByURI(uri string) error
	DeleteFollowByURI(uri string) error
	ReadFollowByURI(uri string) (error, *domain.Follow)
	ReadFollowByAccountIds(accountId uuid.UUID, targetId uuid.UUID) (error, *domain.Follow)
	ReadFollowersByTargetId(targetId uuid.UUID) (error, *[]domain.Follow)
	ReadFollowingByAccountId(accountId uuid.UUID) (error, *[]domain.Follow)
	DeleteFollowsByRemoteAccountId(remoteId uuid.UUID) error

	CreateFollowRequest(req *domain.FollowRequest) error
	DeleteFollowRequest(localId uuid.UUID, remoteId uuid.UUID) error
	ReadFollowRequest(localId uuid.UUID, remoteId uuid.UUID) (error, *domain.FollowRequest)

	CreateLike(like *domain.Like) error
	DeleteLikeByURI(uri string) error
	ReadLikesByAccountId(accountId uuid.UUID) (error, *[]domain.Like)

	CreateNote(note *domain.Note, userId uuid.UUID) error
	ReadNoteId(id uuid.UUID) (error, *domain.Note)
	ReadNoteByObjectURI(uri string) (error, *domain.Note)
	ReadPublicNotesByUsername(username string, limit int, offset int) (error, *[]domain.Note)
	DeleteNote(id uuid.UUID) error

	CreateActivity(activity *domain.Activity) error
	UpdateActivity(activity *domain.Activity) error
	DeleteActivity(id uuid.UUID) error
	ReadActivityByURI(uri string) (error, *domain.Activity)
	ReadActivityByObjectURI(uri string) (error, *domain.Activity)

	EnqueueDelivery(item *domain.DeliveryQueueItem) error
	ReadPendingDeliveries(limit int) (error, *[]domain.DeliveryQueueItem)
	UpdateDeliveryAttempt(id uuid.UUID, attempts int, nextRetryAt time.Time) error
	DeleteDelivery(id uuid.UUID) error
}
