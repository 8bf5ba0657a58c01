package db

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/okapi-social/okapi/domain"
)

// Remote account queries
const (
	sqlInsertRemoteAccount = `INSERT INTO remote_accounts(id, username, domain, actor_uri, display_name, summary, profile_url, inbox_uri, shared_inbox_uri, outbox_uri, public_key_pem, avatar_url, created_at, updated_at)
							VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlUpdateRemoteAccount = `UPDATE remote_accounts SET username = ?, domain = ?, display_name = ?, summary = ?, profile_url = ?, inbox_uri = ?, shared_inbox_uri = ?, outbox_uri = ?, public_key_pem = ?, avatar_url = ?, updated_at = ?
							WHERE actor_uri = ?`
	sqlUpdateRemoteAccountKey   = `UPDATE remote_accounts SET public_key_pem = ?, updated_at = ? WHERE id = ?`
	sqlSelectRemoteAccountCols  = `SELECT id, username, domain, actor_uri, display_name, summary, profile_url, inbox_uri, shared_inbox_uri, outbox_uri, public_key_pem, avatar_url, created_at, updated_at FROM remote_accounts`
	sqlSelectRemoteAccountByURI = sqlSelectRemoteAccountCols + ` WHERE actor_uri = ?`
	sqlSelectRemoteAccountById  = sqlSelectRemoteAccountCols + ` WHERE id = ?`
)

func (db *DB) CreateRemoteAccount(acc *domain.RemoteAccount) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertRemoteAccount,
			acc.Id.String(), acc.Username, acc.Domain, acc.ActorURI,
			acc.DisplayName, acc.Summary, acc.ProfileURL,
			acc.InboxURI, acc.SharedInboxURI, acc.OutboxURI,
			acc.PublicKeyPem, acc.AvatarURL, acc.CreatedAt, acc.UpdatedAt)
		return err
	})
}

func (db *DB) UpdateRemoteAccount(acc *domain.RemoteAccount) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateRemoteAccount,
			acc.Username, acc.Domain, acc.DisplayName, acc.Summary,
			acc.ProfileURL, acc.InboxURI, acc.SharedInboxURI, acc.OutboxURI,
			acc.PublicKeyPem, acc.AvatarURL, time.Now(), acc.ActorURI)
		return err
	})
}

// UpsertRemoteAccount creates the record on first resolution and overwrites
// it in place afterwards; actor_uri is the unique key.
func (db *DB) UpsertRemoteAccount(acc *domain.RemoteAccount) error {
	err, existing := db.ReadRemoteAccountByURI(acc.ActorURI)
	if err == nil && existing != nil {
		acc.Id = existing.Id
		return db.UpdateRemoteAccount(acc)
	}
	return db.CreateRemoteAccount(acc)
}

func (db *DB) UpdateRemoteAccountKey(id uuid.UUID, publicKeyPem string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateRemoteAccountKey, publicKeyPem, time.Now(), id.String())
		return err
	})
}

func (db *DB) ReadRemoteAccountByURI(uri string) (error, *domain.RemoteAccount) {
	row := db.db.QueryRow(sqlSelectRemoteAccountByURI, uri)
	return scanRemoteAccount(row)
}

func (db *DB) ReadRemoteAccountById(id uuid.UUID) (error, *domain.RemoteAccount) {
	row := db.db.QueryRow(sqlSelectRemoteAccountById, id.String())
	return scanRemoteAccount(row)
}

func scanRemoteAccount(row *sql.Row) (error, *domain.RemoteAccount) {
	var acc domain.RemoteAccount
	var idStr string
	err := row.Scan(&idStr, &acc.Username, &acc.Domain, &acc.ActorURI,
		&acc.DisplayName, &acc.Summary, &acc.ProfileURL,
		&acc.InboxURI, &acc.SharedInboxURI, &acc.OutboxURI,
		&acc.PublicKeyPem, &acc.AvatarURL, &acc.CreatedAt, &acc.UpdatedAt)
	if err != nil {
		return err, nil
	}
	acc.Id, _ = uuid.Parse(idStr)
	return nil, &acc
}

// Keypair queries
const (
	sqlInsertKeyPair        = `INSERT INTO keypairs(owner_id, private_key_pem, public_key_pem, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`
	sqlUpdateKeyPairPublic  = `UPDATE keypairs SET public_key_pem = ?, updated_at = ? WHERE owner_id = ?`
	sqlSelectKeyPairByOwner = `SELECT owner_id, private_key_pem, public_key_pem, created_at, updated_at FROM keypairs WHERE owner_id = ?`
)

func (db *DB) CreateKeyPair(pair *domain.KeyPair) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertKeyPair, pair.OwnerId.String(), pair.PrivateKeyPem, pair.PublicKeyPem, pair.CreatedAt, pair.UpdatedAt)
		return err
	})
}

// UpsertKeyPairPublic updates the public half if a row exists, else inserts
// a public-only row. Idempotent.
func (db *DB) UpsertKeyPairPublic(owner uuid.UUID, publicKeyPem string) error {
	err, existing := db.ReadKeyPairByOwner(owner)
	if err == nil && existing != nil {
		return db.wrapTransaction(func(tx *sql.Tx) error {
			_, err := tx.Exec(sqlUpdateKeyPairPublic, publicKeyPem, time.Now(), owner.String())
			return err
		})
	}
	now := time.Now()
	return db.CreateKeyPair(&domain.KeyPair{
		OwnerId:      owner,
		PublicKeyPem: publicKeyPem,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
}

func (db *DB) ReadKeyPairByOwner(owner uuid.UUID) (error, *domain.KeyPair) {
	row := db.db.QueryRow(sqlSelectKeyPairByOwner, owner.String())
	var pair domain.KeyPair
	var idStr string
	err := row.Scan(&idStr, &pair.PrivateKeyPem, &pair.PublicKeyPem, &pair.CreatedAt, &pair.UpdatedAt)
	if err != nil {
		return err, nil
	}
	pair.OwnerId, _ = uuid.Parse(idStr)
	return nil, &pair
}

// Follow queries
const (
	sqlInsertFollow             = `INSERT INTO follows(id, account_id, target_account_id, uri, created_at, accepted) VALUES (?, ?, ?, ?, ?, ?)`
	sqlAcceptFollowByURI        = `UPDATE follows SET accepted = 1 WHERE uri = ?`
	sqlDeleteFollowByURI        = `DELETE FROM follows WHERE uri = ?`
	sqlSelectFollowCols         = `SELECT id, account_id, target_account_id, uri, created_at, accepted FROM follows`
	sqlSelectFollowByURI        = sqlSelectFollowCols + ` WHERE uri = ?`
	sqlSelectFollowByAccountIds = sqlSelectFollowCols + ` WHERE account_id = ? AND target_account_id = ?`
	sqlSelectFollowersByTarget  = sqlSelectFollowCols + ` WHERE target_account_id = ? AND accepted = 1 ORDER BY created_at DESC`
	sqlSelectFollowingByAccount = sqlSelectFollowCols + ` WHERE account_id = ? AND accepted = 1 ORDER BY created_at DESC`
	sqlDeleteFollowsByAccount   = `DELETE FROM follows WHERE account_id = ? OR target_account_id = ?`
)

func (db *DB) CreateFollow(follow *domain.Follow) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		accepted := 0
		if follow.Accepted {
			accepted = 1
		}
		_, err := tx.Exec(sqlInsertFollow, follow.Id.String(), follow.AccountId.String(), follow.TargetAccountId.String(), follow.URI, follow.CreatedAt, accepted)
		return err
	})
}

func (db *DB) AcceptFollowByURI(uri string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlAcceptFollowByURI, uri)
		return err
	})
}

func (db *DB) DeleteFollowByURI(uri string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteFollowByURI, uri)
		return err
	})
}

func (db *DB) ReadFollowByURI(uri string) (error, *domain.Follow) {
	row := db.db.QueryRow(sqlSelectFollowByURI, uri)
	return scanFollow(row)
}

func (db *DB) ReadFollowByAccountIds(accountId uuid.UUID, targetId uuid.UUID) (error, *domain.Follow) {
	row := db.db.QueryRow(sqlSelectFollowByAccountIds, accountId.String(), targetId.String())
	return scanFollow(row)
}

// ReadFollowersByTargetId returns accepted follows pointing at the given
// account, i.e. its followers.
func (db *DB) ReadFollowersByTargetId(targetId uuid.UUID) (error, *[]domain.Follow) {
	return db.queryFollows(sqlSelectFollowersByTarget, targetId)
}

func (db *DB) ReadFollowingByAccountId(accountId uuid.UUID) (error, *[]domain.Follow) {
	return db.queryFollows(sqlSelectFollowingByAccount, accountId)
}

func (db *DB) DeleteFollowsByRemoteAccountId(remoteId uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteFollowsByAccount, remoteId.String(), remoteId.String())
		return err
	})
}

func (db *DB) queryFollows(query string, id uuid.UUID) (error, *[]domain.Follow) {
	rows, err := db.db.Query(query, id.String())
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var follows []domain.Follow

	for rows.Next() {
		var follow domain.Follow
		var idStr, accStr, targetStr string
		var accepted int
		if err := rows.Scan(&idStr, &accStr, &targetStr, &follow.URI, &follow.CreatedAt, &accepted); err != nil {
			return err, &follows
		}
		follow.Id, _ = uuid.Parse(idStr)
		follow.AccountId, _ = uuid.Parse(accStr)
		follow.TargetAccountId, _ = uuid.Parse(targetStr)
		follow.Accepted = accepted == 1
		follows = append(follows, follow)
	}
	if err = rows.Err(); err != nil {
		return err, &follows
	}

	return nil, &follows
}

func scanFollow(row *sql.Row) (error, *domain.Follow) {
	var follow domain.Follow
	var idStr, accStr, targetStr string
	var accepted int
	err := row.Scan(&idStr, &accStr, &targetStr, &follow.URI, &follow.CreatedAt, &accepted)
	if err != nil {
		return err, nil
	}
	follow.Id, _ = uuid.Parse(idStr)
	follow.AccountId, _ = uuid.Parse(accStr)
	follow.TargetAccountId, _ = uuid.Parse(targetStr)
	follow.Accepted = accepted == 1
	return nil, &follow
}

// Follow request queries (pending follows on closed instances)
const (
	sqlInsertFollowRequest  = `INSERT INTO follow_requests(local_id, remote_id, uri, created_at) VALUES (?, ?, ?, ?)`
	sqlDeleteFollowRequest  = `DELETE FROM follow_requests WHERE local_id = ? AND remote_id = ?`
	sqlSelectFollowRequest  = `SELECT local_id, remote_id, uri, created_at FROM follow_requests WHERE local_id = ? AND remote_id = ?`
	sqlSelectFollowRequests = `SELECT local_id, remote_id, uri, created_at FROM follow_requests WHERE local_id = ? ORDER BY created_at DESC`
)

func (db *DB) CreateFollowRequest(req *domain.FollowRequest) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertFollowRequest, req.LocalId.String(), req.RemoteId.String(), req.URI, req.CreatedAt)
		return err
	})
}

func (db *DB) DeleteFollowRequest(localId uuid.UUID, remoteId uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteFollowRequest, localId.String(), remoteId.String())
		return err
	})
}

func (db *DB) ReadFollowRequest(localId uuid.UUID, remoteId uuid.UUID) (error, *domain.FollowRequest) {
	row := db.db.QueryRow(sqlSelectFollowRequest, localId.String(), remoteId.String())
	var req domain.FollowRequest
	var localStr, remoteStr string
	err := row.Scan(&localStr, &remoteStr, &req.URI, &req.CreatedAt)
	if err != nil {
		return err, nil
	}
	req.LocalId, _ = uuid.Parse(localStr)
	req.RemoteId, _ = uuid.Parse(remoteStr)
	return nil, &req
}

// Like queries
const (
	sqlInsertLike           = `INSERT INTO likes(id, account_id, note_id, uri, created_at) VALUES (?, ?, ?, ?, ?)`
	sqlDeleteLikeByURI      = `DELETE FROM likes WHERE uri = ?`
	sqlSelectLikesByAccount = `SELECT id, account_id, note_id, uri, created_at FROM likes WHERE account_id = ? ORDER BY created_at DESC`
)

func (db *DB) CreateLike(like *domain.Like) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertLike, like.Id.String(), like.AccountId.String(), like.NoteId.String(), like.URI, like.CreatedAt)
		return err
	})
}

func (db *DB) DeleteLikeByURI(uri string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteLikeByURI, uri)
		return err
	})
}

func (db *DB) ReadLikesByAccountId(accountId uuid.UUID) (error, *[]domain.Like) {
	rows, err := db.db.Query(sqlSelectLikesByAccount, accountId.String())
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var likes []domain.Like

	for rows.Next() {
		var like domain.Like
		var idStr, accStr, noteStr string
		if err := rows.Scan(&idStr, &accStr, &noteStr, &like.URI, &like.CreatedAt); err != nil {
			return err, &likes
		}
		like.Id, _ = uuid.Parse(idStr)
		like.AccountId, _ = uuid.Parse(accStr)
		like.NoteId, _ = uuid.Parse(noteStr)
		likes = append(likes, like)
	}
	if err = rows.Err(); err != nil {
		return err, &likes
	}

	return nil, &likes
}

// Activity log queries
const (
	sqlInsertActivity            = `INSERT INTO activities(id, activity_uri, activity_type, actor_uri, object_uri, raw_json, processed, created_at, local) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlUpdateActivity            = `UPDATE activities SET raw_json = ?, processed = ? WHERE id = ?`
	sqlDeleteActivity            = `DELETE FROM activities WHERE id = ?`
	sqlSelectActivityCols        = `SELECT id, activity_uri, activity_type, actor_uri, object_uri, raw_json, processed, created_at, local FROM activities`
	sqlSelectActivityByURI       = sqlSelectActivityCols + ` WHERE activity_uri = ?`
	sqlSelectActivityByObjectURI = sqlSelectActivityCols + ` WHERE object_uri = ?`
)

func (db *DB) CreateActivity(activity *domain.Activity) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		processed := 0
		if activity.Processed {
			processed = 1
		}
		local := 0
		if activity.Local {
			local = 1
		}
		_, err := tx.Exec(sqlInsertActivity, activity.Id.String(), activity.ActivityURI, activity.ActivityType, activity.ActorURI, activity.ObjectURI, activity.RawJSON, processed, activity.CreatedAt, local)
		return err
	})
}

func (db *DB) UpdateActivity(activity *domain.Activity) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		processed := 0
		if activity.Processed {
			processed = 1
		}
		_, err := tx.Exec(sqlUpdateActivity, activity.RawJSON, processed, activity.Id.String())
		return err
	})
}

func (db *DB) DeleteActivity(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteActivity, id.String())
		return err
	})
}

func (db *DB) ReadActivityByURI(uri string) (error, *domain.Activity) {
	row := db.db.QueryRow(sqlSelectActivityByURI, uri)
	return scanActivity(row)
}

func (db *DB) ReadActivityByObjectURI(uri string) (error, *domain.Activity) {
	row := db.db.QueryRow(sqlSelectActivityByObjectURI, uri)
	return scanActivity(row)
}

func scanActivity(row *sql.Row) (error, *domain.Activity) {
	var activity domain.Activity
	var idStr string
	var processed, local int
	err := row.Scan(&idStr, &activity.ActivityURI, &activity.ActivityType, &activity.ActorURI, &activity.ObjectURI, &activity.RawJSON, &processed, &activity.CreatedAt, &local)
	if err != nil {
		return err, nil
	}
	activity.Id, _ = uuid.Parse(idStr)
	activity.Processed = processed == 1
	activity.Local = local == 1
	return nil, &activity
}

// Delivery queue queries
const (
	sqlInsertDelivery          = `INSERT INTO delivery_queue(id, sender_id, inbox_uri, activity_json, attempts, next_retry_at, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	sqlSelectPendingDeliveries = `SELECT id, sender_id, inbox_uri, activity_json, attempts, next_retry_at, created_at FROM delivery_queue WHERE next_retry_at <= ? ORDER BY next_retry_at ASC LIMIT ?`
	sqlUpdateDeliveryAttempt   = `UPDATE delivery_queue SET attempts = ?, next_retry_at = ? WHERE id = ?`
	sqlDeleteDelivery          = `DELETE FROM delivery_queue WHERE id = ?`
)

func (db *DB) EnqueueDelivery(item *domain.DeliveryQueueItem) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertDelivery, item.Id.String(), item.SenderId.String(), item.InboxURI, item.ActivityJSON, item.Attempts, item.NextRetryAt, item.CreatedAt)
		return err
	})
}

func (db *DB) ReadPendingDeliveries(limit int) (error, *[]domain.DeliveryQueueItem) {
	rows, err := db.db.Query(sqlSelectPendingDeliveries, time.Now(), limit)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var items []domain.DeliveryQueueItem

	for rows.Next() {
		var item domain.DeliveryQueueItem
		var idStr, senderStr string
		if err := rows.Scan(&idStr, &senderStr, &item.InboxURI, &item.ActivityJSON, &item.Attempts, &item.NextRetryAt, &item.CreatedAt); err != nil {
			return err, &items
		}
		item.Id, _ = uuid.Parse(idStr)
		item.SenderId, _ = uuid.Parse(senderStr)
		items = append(items, item)
	}
	if err = rows.Err(); err != nil {
		return err, &items
	}

	return nil, &items
}

func (db *DB) UpdateDeliveryAttempt(id uuid.UUID, attempts int, nextRetryAt time.Time) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateDeliveryAttempt, attempts, nextRetryAt, id.String())
		return err
	})
}

func (db *DB) DeleteDelivery(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteDelivery, id.String())
		return err
	})
}
