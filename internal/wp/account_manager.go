package wp

import (
	"fmt"

	"wpsync/internal/model"
)

// AccountManager changes the stored accounts. The registry picks the changes
// up through the database's change notifications.
type AccountManager struct {
	db     Database
	clock  Clock
	ids    IDGenerator
	logger Logger
}

func NewAccountManager(db Database, clock Clock, ids IDGenerator, logger Logger) *AccountManager {
	return &AccountManager{db: db, clock: clock, ids: ids, logger: loggerOrNop(logger)}
}

// AddAccount stores an account, replacing the token and username of an
// existing account with the same ID. The first account stored becomes the
// current one.
func (m *AccountManager) AddAccount(id int64, username, token string) (*model.Account, error) {
	existing, err := m.db.FindAccountByID(id)
	if err != nil {
		return nil, fmt.Errorf("looking up account %d: %w", id, err)
	}

	now := m.clock.Now()
	account := existing
	if account == nil {
		account = &model.Account{ID: id, UUID: m.ids.New(), CreatedAt: now}
	}
	account.Username = username
	account.Token = token
	account.UpdatedAt = now

	if err := m.db.SaveAccount(account); err != nil {
		return nil, fmt.Errorf("saving account %d: %w", id, err)
	}

	if _, ok, err := m.db.GetPreference(CurrentAccountKey); err != nil {
		return nil, fmt.Errorf("reading current account: %w", err)
	} else if !ok {
		if err := m.db.SetPreference(CurrentAccountKey, account.UUID); err != nil {
			return nil, fmt.Errorf("setting current account: %w", err)
		}
	}

	m.logger.Info("account saved", "account", id, "username", username, "new", existing == nil)
	return account, nil
}

// UseAccount makes the account with the given ID the current one.
func (m *AccountManager) UseAccount(id int64) error {
	account, err := m.db.FindAccountByID(id)
	if err != nil {
		return fmt.Errorf("looking up account %d: %w", id, err)
	}
	if account == nil {
		return fmt.Errorf("using account %d: %w", id, ErrAccountNotFound)
	}
	if err := m.db.SetPreference(CurrentAccountKey, account.UUID); err != nil {
		return fmt.Errorf("setting current account: %w", err)
	}
	m.logger.Info("current account changed", "account", id)
	return nil
}

// RemoveAccount deletes the account with the given ID. Removing the current
// account clears the current-account preference.
func (m *AccountManager) RemoveAccount(id int64) error {
	account, err := m.db.FindAccountByID(id)
	if err != nil {
		return fmt.Errorf("looking up account %d: %w", id, err)
	}
	if account == nil {
		return fmt.Errorf("removing account %d: %w", id, ErrAccountNotFound)
	}

	current, ok, err := m.db.GetPreference(CurrentAccountKey)
	if err != nil {
		return fmt.Errorf("reading current account: %w", err)
	}
	if ok && current == account.UUID {
		if err := m.db.DeletePreference(CurrentAccountKey); err != nil {
			return fmt.Errorf("clearing current account: %w", err)
		}
	}

	if err := m.db.DeleteAccount(id); err != nil {
		return fmt.Errorf("deleting account %d: %w", id, err)
	}
	m.logger.Info("account removed", "account", id)
	return nil
}
