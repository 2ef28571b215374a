package wp

import (
	"wpsync/internal/flux"
	"wpsync/internal/model"
)

// Database provides the persistent object store behind accounts, preferences
// and synced activities. Implementations notify listeners after every
// committed change to accounts or preferences.
type Database interface {
	// Account operations

	// ListAccounts returns every stored account ordered by ID, with tokens in plaintext.
	ListAccounts() ([]*model.Account, error)

	// FindAccountByID returns the account with the given ID, or nil if there is none.
	FindAccountByID(id int64) (*model.Account, error)

	// SaveAccount inserts the account or replaces the stored account with the same ID.
	SaveAccount(account *model.Account) error

	// DeleteAccount removes an account. Deleting a missing account is not an error.
	DeleteAccount(id int64) error

	// Preference operations

	// GetPreference returns the value stored under key and whether it exists.
	GetPreference(key string) (string, bool, error)

	// SetPreference stores value under key.
	SetPreference(key, value string) error

	// DeletePreference removes key.
	DeletePreference(key string) error

	// Activity operations

	// FindActivity returns a stored activity of a site, or nil if there is none.
	FindActivity(siteID, activityID int64) (*model.Activity, error)

	// MergeActivities upserts activities of one site keyed by activity ID in a
	// single transaction, returning how many rows were inserted and updated.
	MergeActivities(siteID int64, activities []*model.Activity) (inserted int, updated int, err error)

	// ListActivities returns a site's activities newest first. limit <= 0 means no limit.
	ListActivities(siteID int64, limit int) ([]*model.Activity, error)

	// Change notification

	OnChange(callback func()) flux.ListenerHandle
	RemoveListener(handle flux.ListenerHandle)

	// CheckMigrations verifies the schema is at the latest version.
	CheckMigrations() error

	// Close closes the database connection.
	Close() error
}

// TokenSealer protects account tokens at rest.
type TokenSealer interface {
	Seal(plaintext string) ([]byte, error)
	Open(sealed []byte) (string, error)
}
