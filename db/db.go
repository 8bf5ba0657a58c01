package db

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/okapi-social/okapi/domain"
	"github.com/okapi-social/okapi/util"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

// DB is the database struct.
type DB struct {
	db *sql.DB
}

var (
	dbInstance *DB
	dbOnce     sync.Once
)

const (
	//Accounts
	sqlInsertAccount           = `INSERT INTO accounts(id, username, display_name, summary, avatar_url, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	sqlSelectAccountById       = `SELECT id, username, display_name, summary, avatar_url, created_at FROM accounts WHERE id = ?`
	sqlSelectAccountByUsername = `SELECT id, username, display_name, summary, avatar_url, created_at FROM accounts WHERE username = ?`

	//Notes
	sqlInsertNote = `INSERT INTO notes(id, user_id, message, created_at, visibility, in_reply_to_uri, object_uri, federated) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	sqlSelectNoteById = `SELECT notes.id, accounts.username, notes.message, notes.created_at, notes.edited_at, notes.visibility, notes.in_reply_to_uri, notes.object_uri, notes.federated FROM notes
							INNER JOIN accounts ON accounts.id = notes.user_id
							WHERE notes.id = ?`
	sqlSelectNoteByObjectURI = `SELECT notes.id, accounts.username, notes.message, notes.created_at, notes.edited_at, notes.visibility, notes.in_reply_to_uri, notes.object_uri, notes.federated FROM notes
							INNER JOIN accounts ON accounts.id = notes.user_id
							WHERE notes.object_uri = ?`
	sqlSelectPublicNotesByUsername = `SELECT notes.id, accounts.username, notes.message, notes.created_at, notes.edited_at, notes.visibility, notes.in_reply_to_uri, notes.object_uri, notes.federated FROM notes
							INNER JOIN accounts ON accounts.id = notes.user_id
							WHERE accounts.username = ? AND notes.visibility = 'public'
							ORDER BY notes.created_at DESC
							LIMIT ? OFFSET ?`
	sqlDeleteNote = `DELETE FROM notes WHERE id = ?`
)

// Open opens a database at the given path and runs the migrations.
// Tests use ":memory:".
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	if path == ":memory:" {
		// Every pool connection would otherwise see its own empty database.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	var journalMode string
	if err := sqlDB.QueryRow("PRAGMA journal_mode=WAL").Scan(&journalMode); err != nil {
		log.Warnf("Failed to enable WAL mode: %v", err)
	} else {
		log.Debugf("Database journal mode: %s", journalMode)
	}

	// Tuned for the concurrent federation workload
	sqlDB.Exec("PRAGMA synchronous = NORMAL")
	sqlDB.Exec("PRAGMA cache_size = -64000")
	sqlDB.Exec("PRAGMA temp_store = MEMORY")
	sqlDB.Exec("PRAGMA busy_timeout = 5000")
	sqlDB.Exec("PRAGMA foreign_keys = ON")

	db := &DB{db: sqlDB}
	if err := db.RunMigrations(); err != nil {
		return nil, err
	}
	return db, nil
}

func GetDB() *DB {
	dbOnce.Do(func() {
		db, err := Open(util.ResolveFilePath("database.db"))
		if err != nil {
			panic(err)
		}
		dbInstance = db
	})

	return dbInstance
}

// wrapTransaction runs the given function within a transaction.
func (db *DB) wrapTransaction(f func(tx *sql.Tx) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		log.Errorf("error starting transaction: %s", err)
		return err
	}
	for {
		err = f(tx)
		if err != nil {
			serr, ok := err.(*sqlite.Error)
			if ok && serr.Code() == sqlitelib.SQLITE_BUSY {
				continue
			}
			tx.Rollback()
			return err
		}
		err = tx.Commit()
		if err != nil {
			log.Errorf("error committing transaction: %s", err)
			return err
		}
		break
	}
	return nil
}

func (db *DB) CreateAccount(acc *domain.Account) error {
	log.Debugf("Creating account: %s", acc.ToString())
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertAccount, acc.Id.String(), acc.Username, acc.DisplayName, acc.Summary, acc.AvatarURL, acc.CreatedAt)
		return err
	})
}

func (db *DB) ReadAccByUsername(username string) (error, *domain.Account) {
	row := db.db.QueryRow(sqlSelectAccountByUsername, username)
	return scanAccount(row)
}

func (db *DB) ReadAccById(id uuid.UUID) (error, *domain.Account) {
	row := db.db.QueryRow(sqlSelectAccountById, id.String())
	return scanAccount(row)
}

func scanAccount(row *sql.Row) (error, *domain.Account) {
	var acc domain.Account
	var idStr string
	err := row.Scan(&idStr, &acc.Username, &acc.DisplayName, &acc.Summary, &acc.AvatarURL, &acc.CreatedAt)
	if err != nil {
		return err, nil
	}
	acc.Id, _ = uuid.Parse(idStr)
	return nil, &acc
}

func (db *DB) CreateNote(note *domain.Note, userId uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		federated := 0
		if note.Federated {
			federated = 1
		}
		_, err := tx.Exec(sqlInsertNote, note.Id.String(), userId.String(), note.Message, note.CreatedAt, note.Visibility, note.InReplyToURI, note.ObjectURI, federated)
		return err
	})
}

func (db *DB) ReadNoteId(id uuid.UUID) (error, *domain.Note) {
	row := db.db.QueryRow(sqlSelectNoteById, id.String())
	return scanNote(row)
}

func (db *DB) ReadNoteByObjectURI(uri string) (error, *domain.Note) {
	row := db.db.QueryRow(sqlSelectNoteByObjectURI, uri)
	return scanNote(row)
}

func (db *DB) ReadPublicNotesByUsername(username string, limit int, offset int) (error, *[]domain.Note) {
	rows, err := db.db.Query(sqlSelectPublicNotesByUsername, username, limit, offset)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var notes []domain.Note

	for rows.Next() {
		var note domain.Note
		var idStr string
		var federated int
		var editedAt sql.NullTime
		if err := rows.Scan(&idStr, &note.CreatedBy, &note.Message, &note.CreatedAt, &editedAt, &note.Visibility, &note.InReplyToURI, &note.ObjectURI, &federated); err != nil {
			return err, &notes
		}
		note.Id, _ = uuid.Parse(idStr)
		note.Federated = federated == 1
		if editedAt.Valid {
			t := editedAt.Time
			note.EditedAt = &t
		}
		notes = append(notes, note)
	}
	if err = rows.Err(); err != nil {
		return err, &notes
	}

	return nil, &notes
}

func (db *DB) DeleteNote(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteNote, id.String())
		return err
	})
}

func scanNote(row *sql.Row) (error, *domain.Note) {
	var note domain.Note
	var idStr string
	var federated int
	var editedAt sql.NullTime
	err := row.Scan(&idStr, &note.CreatedBy, &note.Message, &note.CreatedAt, &editedAt, &note.Visibility, &note.InReplyToURI, &note.ObjectURI, &federated)
	if err != nil {
		return err, nil
	}
	note.Id, _ = uuid.Parse(idStr)
	note.Federated = federated == 1
	if editedAt.Valid {
		t := editedAt.Time
		note.EditedAt = &t
	}
	return nil, &note
}
