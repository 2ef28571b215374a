package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"wpsync/internal/database/migrations"
	"wpsync/internal/flux"
	"wpsync/internal/model"
	"wpsync/internal/wp"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteDatabase implements wp.Database using SQLite. Account tokens are
// sealed before they are written and opened when they are read.
type SQLiteDatabase struct {
	flux.Emitter

	db     *sql.DB
	sealer wp.TokenSealer
	logger wp.Logger
	path   string
}

var _ wp.Database = (*SQLiteDatabase)(nil)

// NewSQLiteDatabase creates a new SQLite database connection.
// path can be a file path or ":memory:" for in-memory database.
func NewSQLiteDatabase(path string, sealer wp.TokenSealer, logger wp.Logger) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	s := NewSQLiteDatabaseFromDB(db, sealer, logger)
	s.path = path
	return s, nil
}

// NewSQLiteDatabaseFromDB wraps an existing database connection.
// The caller is responsible for ensuring the connection is properly configured.
func NewSQLiteDatabaseFromDB(db *sql.DB, sealer wp.TokenSealer, logger wp.Logger) *SQLiteDatabase {
	if logger == nil {
		logger = wp.NewNopLogger()
	}
	return &SQLiteDatabase{db: db, sealer: sealer, logger: logger}
}

// OpenConnection opens and configures a SQLite database connection with appropriate PRAGMAs.
// path can be a file path or ":memory:" for in-memory database.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every connection to ":memory:" is a separate database, and SQLite
	// serializes writers anyway.
	db.SetMaxOpenConns(1)

	// Enable foreign key constraints (SQLite default is OFF for backward compatibility)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// Account operations

const accountColumns = "id, uuid, username, token, created_at, updated_at"

func (s *SQLiteDatabase) ListAccounts() ([]*model.Account, error) {
	rows, err := s.db.Query("SELECT " + accountColumns + " FROM accounts ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*model.Account
	for rows.Next() {
		a, err := s.scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("listing accounts: %w", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	return accounts, nil
}

func (s *SQLiteDatabase) FindAccountByID(id int64) (*model.Account, error) {
	row := s.db.QueryRow("SELECT "+accountColumns+" FROM accounts WHERE id = ?", id)
	a, err := s.scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding account %d: %w", id, err)
	}
	return a, nil
}

func (s *SQLiteDatabase) SaveAccount(account *model.Account) error {
	sealed, err := s.seal(account.Token)
	if err != nil {
		return fmt.Errorf("sealing token for account %d: %w", account.ID, err)
	}

	_, err = s.db.Exec(`
		INSERT INTO accounts (id, uuid, username, token, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			uuid = excluded.uuid,
			username = excluded.username,
			token = excluded.token,
			updated_at = excluded.updated_at`,
		account.ID, account.UUID, account.Username, sealed, account.CreatedAt.UTC(), account.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("saving account %d: %w", account.ID, err)
	}

	s.logger.Debug("account saved", "account", account.ID)
	s.EmitChange()
	return nil
}

func (s *SQLiteDatabase) DeleteAccount(id int64) error {
	if _, err := s.db.Exec("DELETE FROM accounts WHERE id = ?", id); err != nil {
		return fmt.Errorf("deleting account %d: %w", id, err)
	}
	s.logger.Debug("account deleted", "account", id)
	s.EmitChange()
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteDatabase) scanAccount(row scanner) (*model.Account, error) {
	var a model.Account
	var sealed []byte
	if err := row.Scan(&a.ID, &a.UUID, &a.Username, &sealed, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	token, err := s.open(sealed)
	if err != nil {
		return nil, fmt.Errorf("opening token for account %d: %w", a.ID, err)
	}
	a.Token = token
	return &a, nil
}

func (s *SQLiteDatabase) seal(token string) ([]byte, error) {
	if s.sealer == nil {
		return []byte(token), nil
	}
	return s.sealer.Seal(token)
}

func (s *SQLiteDatabase) open(sealed []byte) (string, error) {
	if s.sealer == nil {
		return string(sealed), nil
	}
	return s.sealer.Open(sealed)
}

// Preference operations

func (s *SQLiteDatabase) GetPreference(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM preferences WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading preference %q: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLiteDatabase) SetPreference(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO preferences (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("writing preference %q: %w", key, err)
	}
	s.EmitChange()
	return nil
}

func (s *SQLiteDatabase) DeletePreference(key string) error {
	if _, err := s.db.Exec("DELETE FROM preferences WHERE key = ?", key); err != nil {
		return fmt.Errorf("deleting preference %q: %w", key, err)
	}
	s.EmitChange()
	return nil
}

// Activity operations

const activityColumns = `id, site_id, activity_id, type, action_trigger, jetpack_version, action,
	activity_group, name, published_at, actor_name, actor_avatar_url, actor_role, objects, synced_at`

func (s *SQLiteDatabase) FindActivity(siteID, activityID int64) (*model.Activity, error) {
	row := s.db.QueryRow("SELECT "+activityColumns+" FROM activities WHERE site_id = ? AND activity_id = ?", siteID, activityID)
	a, err := scanActivity(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding activity %d of site %d: %w", activityID, siteID, err)
	}
	return a, nil
}

func (s *SQLiteDatabase) MergeActivities(siteID int64, activities []*model.Activity) (int, int, error) {
	ctx := context.Background()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	var inserted, updated int
	for _, a := range activities {
		objects, err := json.Marshal(a.Objects)
		if err != nil {
			return 0, 0, fmt.Errorf("encoding objects of activity %d: %w", a.ActivityID, err)
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE activities SET
				type = ?, action_trigger = ?, jetpack_version = ?, action = ?, activity_group = ?,
				name = ?, published_at = ?, actor_name = ?, actor_avatar_url = ?, actor_role = ?,
				objects = ?, synced_at = ?
			WHERE site_id = ? AND activity_id = ?`,
			a.Type, a.ActionTrigger, a.JetpackVersion, a.Action, a.Group,
			a.Name, a.Timestamp.UTC(), a.Actor.DisplayName, a.Actor.AvatarURL, a.Actor.Role,
			string(objects), a.SyncedAt.UTC(),
			siteID, a.ActivityID)
		if err != nil {
			return 0, 0, fmt.Errorf("updating activity %d: %w", a.ActivityID, err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return 0, 0, fmt.Errorf("updating activity %d: %w", a.ActivityID, err)
		} else if n > 0 {
			updated++
			continue
		}

		_, err = tx.ExecContext(ctx, "INSERT INTO activities ("+activityColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
			a.ID, siteID, a.ActivityID, a.Type, a.ActionTrigger, a.JetpackVersion, a.Action,
			a.Group, a.Name, a.Timestamp.UTC(), a.Actor.DisplayName, a.Actor.AvatarURL, a.Actor.Role,
			string(objects), a.SyncedAt.UTC())
		if err != nil {
			return 0, 0, fmt.Errorf("inserting activity %d: %w", a.ActivityID, err)
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("committing transaction: %w", err)
	}
	return inserted, updated, nil
}

func (s *SQLiteDatabase) ListActivities(siteID int64, limit int) ([]*model.Activity, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.Query("SELECT "+activityColumns+" FROM activities WHERE site_id = ? ORDER BY activity_id DESC LIMIT ?", siteID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing activities of site %d: %w", siteID, err)
	}
	defer rows.Close()

	var activities []*model.Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("listing activities of site %d: %w", siteID, err)
		}
		activities = append(activities, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing activities of site %d: %w", siteID, err)
	}
	return activities, nil
}

func scanActivity(row scanner) (*model.Activity, error) {
	var a model.Activity
	var objects string
	err := row.Scan(&a.ID, &a.SiteID, &a.ActivityID, &a.Type, &a.ActionTrigger, &a.JetpackVersion, &a.Action,
		&a.Group, &a.Name, &a.Timestamp, &a.Actor.DisplayName, &a.Actor.AvatarURL, &a.Actor.Role, &objects, &a.SyncedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(objects), &a.Objects); err != nil {
		return nil, fmt.Errorf("decoding objects of activity %d: %w", a.ActivityID, err)
	}
	return &a, nil
}

// Path returns the database file path, empty for databases wrapped with
// NewSQLiteDatabaseFromDB.
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// Migrate brings the schema to the latest version.
func (s *SQLiteDatabase) Migrate() error {
	return migrations.MigrateUp(s.db)
}

// CheckMigrations verifies the schema is at the latest version.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	return s.db.Close()
}
