package db

import (
	"database/sql"
)

// Schema for the federation core tables
const (
	sqlCreateAccountsTable = `CREATE TABLE IF NOT EXISTS accounts(
		id uuid NOT NULL PRIMARY KEY,
		username varchar(100) UNIQUE NOT NULL,
		display_name varchar(255),
		summary text,
		avatar_url text,
		created_at timestamp default current_timestamp
	)`

	sqlCreateNotesTable = `CREATE TABLE IF NOT EXISTS notes(
		id uuid NOT NULL PRIMARY KEY,
		user_id uuid NOT NULL,
		message varchar(1000),
		created_at timestamp default current_timestamp,
		edited_at timestamp,
		visibility varchar(20) default 'public',
		in_reply_to_uri varchar(500),
		object_uri varchar(500),
		federated int default 1
	)`

	// Remote actor cache. actor_uri is the unique key: exactly one record
	// per remote identity, overwritten in place on refresh.
	sqlCreateRemoteAccountsTable = `CREATE TABLE IF NOT EXISTS remote_accounts(
		id uuid NOT NULL PRIMARY KEY,
		username varchar(100) NOT NULL,
		domain varchar(255) NOT NULL,
		actor_uri varchar(500) UNIQUE NOT NULL,
		display_name varchar(255),
		summary text,
		profile_url varchar(500),
		inbox_uri varchar(500) NOT NULL,
		shared_inbox_uri varchar(500),
		outbox_uri varchar(500),
		public_key_pem text,
		avatar_url varchar(500),
		created_at timestamp default current_timestamp,
		updated_at timestamp default current_timestamp
	)`

	sqlCreateRemoteAccountsIndices = `
		CREATE INDEX IF NOT EXISTS idx_remote_accounts_actor_uri ON remote_accounts(actor_uri);
		CREATE INDEX IF NOT EXISTS idx_remote_accounts_domain ON remote_accounts(domain);
	`

	// One keypair row per owner; private_key_pem stays empty for remote actors.
	sqlCreateKeyPairsTable = `CREATE TABLE IF NOT EXISTS keypairs(
		owner_id uuid NOT NULL PRIMARY KEY,
		private_key_pem text,
		public_key_pem text NOT NULL,
		created_at timestamp default current_timestamp,
		updated_at timestamp default current_timestamp
	)`

	sqlCreateFollowsTable = `CREATE TABLE IF NOT EXISTS follows(
		id uuid NOT NULL PRIMARY KEY,
		account_id uuid NOT NULL,
		target_account_id uuid NOT NULL,
		uri varchar(500),
		created_at timestamp default current_timestamp,
		accepted int default 0,
		UNIQUE(account_id, target_account_id)
	)`

	sqlCreateFollowsIndices = `
		CREATE INDEX IF NOT EXISTS idx_follows_account_id ON follows(account_id);
		CREATE INDEX IF NOT EXISTS idx_follows_target_account_id ON follows(target_account_id);
		CREATE INDEX IF NOT EXISTS idx_follows_uri ON follows(uri);
	`

	// Pending follows awaiting manual approval on closed instances
	sqlCreateFollowRequestsTable = `CREATE TABLE IF NOT EXISTS follow_requests(
		local_id uuid NOT NULL,
		remote_id uuid NOT NULL,
		uri varchar(500) NOT NULL,
		created_at timestamp default current_timestamp,
		PRIMARY KEY(local_id, remote_id)
	)`

	sqlCreateLikesTable = `CREATE TABLE IF NOT EXISTS likes(
		id uuid NOT NULL PRIMARY KEY,
		account_id uuid NOT NULL,
		note_id uuid NOT NULL,
		uri varchar(500),
		created_at timestamp default current_timestamp,
		UNIQUE(account_id, note_id)
	)`

	sqlCreateLikesIndices = `
		CREATE INDEX IF NOT EXISTS idx_likes_note_id ON likes(note_id);
		CREATE INDEX IF NOT EXISTS idx_likes_account_id ON likes(account_id);
	`

	// Activities log table (for deduplication & debugging)
	sqlCreateActivitiesTable = `CREATE TABLE IF NOT EXISTS activities(
		id uuid NOT NULL PRIMARY KEY,
		activity_uri varchar(500) UNIQUE NOT NULL,
		activity_type varchar(50) NOT NULL,
		actor_uri varchar(500) NOT NULL,
		object_uri varchar(500),
		raw_json text NOT NULL,
		processed int default 0,
		created_at timestamp default current_timestamp,
		local int default 0
	)`

	sqlCreateActivitiesIndices = `
		CREATE INDEX IF NOT EXISTS idx_activities_uri ON activities(activity_uri);
		CREATE INDEX IF NOT EXISTS idx_activities_object_uri ON activities(object_uri);
		CREATE INDEX IF NOT EXISTS idx_activities_type ON activities(activity_type);
	`

	sqlCreateDeliveryQueueTable = `CREATE TABLE IF NOT EXISTS delivery_queue(
		id uuid NOT NULL PRIMARY KEY,
		sender_id uuid NOT NULL,
		inbox_uri varchar(500) NOT NULL,
		activity_json text NOT NULL,
		attempts int default 0,
		next_retry_at timestamp default current_timestamp,
		created_at timestamp default current_timestamp
	)`

	sqlCreateDeliveryQueueIndices = `
		CREATE INDEX IF NOT EXISTS idx_delivery_queue_next_retry ON delivery_queue(next_retry_at);
	`
)

// RunMigrations creates all tables and indices, idempotently.
func (db *DB) RunMigrations() error {
	statements := []string{
		sqlCreateAccountsTable,
		sqlCreateNotesTable,
		sqlCreateRemoteAccountsTable,
		sqlCreateRemoteAccountsIndices,
		sqlCreateKeyPairsTable,
		sqlCreateFollowsTable,
		sqlCreateFollowsIndices,
		sqlCreateFollowRequestsTable,
		sqlCreateLikesTable,
		sqlCreateLikesIndices,
		sqlCreateActivitiesTable,
		sqlCreateActivitiesIndices,
		sqlCreateDeliveryQueueTable,
		sqlCreateDeliveryQueueIndices,
	}

	return db.wrapTransaction(func(tx *sql.Tx) error {
		for _, stmt := range statements {
			if _, err := tx.Exec(stmt); err != nil {
				return err
			}
		}
		return nil
	})
}
