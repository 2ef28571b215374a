package wp

import (
	"sync"
	"sync/atomic"

	"wpsync/internal/flux"
	"wpsync/internal/model"
)

// CurrentAccountKey is the preference holding the UUID of the current account.
const CurrentAccountKey = "current_account_uuid"

// Account is an immutable snapshot of a stored account.
type Account struct {
	ID       int64
	UUID     string
	Username string
	Token    string
}

func accountFromModel(a *model.Account) Account {
	return Account{ID: a.ID, UUID: a.UUID, Username: a.Username, Token: a.Token}
}

// AccountSource is the read side of the account registry that stores depend on.
type AccountSource interface {
	Account(id int64) (Account, bool)
	All() []Account
	OnChange(callback func()) flux.ListenerHandle
	RemoveListener(handle flux.ListenerHandle)
}

type accountState struct {
	current   *Account
	secondary []Account
}

// AccountRegistry tracks the current account and the secondary accounts,
// derived from the stored accounts and the current-account preference.
// The snapshot is rebuilt and listeners notified whenever the database
// reports a change, even when nothing visible changed.
type AccountRegistry struct {
	flux.Emitter

	db       Database
	logger   Logger
	state    atomic.Pointer[accountState]
	dbHandle flux.ListenerHandle

	// refreshMu orders read-then-store, so a slow read never replaces a
	// snapshot taken after it.
	refreshMu sync.Mutex
}

var _ AccountSource = (*AccountRegistry)(nil)

// NewAccountRegistry loads the initial snapshot and subscribes to db changes.
// A failing initial load leaves the registry empty; it is not retried until
// the next change notification.
func NewAccountRegistry(db Database, logger Logger) *AccountRegistry {
	r := &AccountRegistry{db: db, logger: loggerOrNop(logger)}
	r.state.Store(&accountState{})
	r.dbHandle = db.OnChange(r.Refresh)
	r.Refresh()
	return r
}

// Current returns the current account, if one is set and stored.
func (r *AccountRegistry) Current() (Account, bool) {
	s := r.state.Load()
	if s.current == nil {
		return Account{}, false
	}
	return *s.current, true
}

// Account returns the account with the given ID.
func (r *AccountRegistry) Account(id int64) (Account, bool) {
	s := r.state.Load()
	if s.current != nil && s.current.ID == id {
		return *s.current, true
	}
	for _, a := range s.secondary {
		if a.ID == id {
			return a, true
		}
	}
	return Account{}, false
}

// Secondary returns every known account except the current one.
func (r *AccountRegistry) Secondary() []Account {
	s := r.state.Load()
	return append([]Account(nil), s.secondary...)
}

// All returns the current account first, followed by the secondary accounts.
func (r *AccountRegistry) All() []Account {
	s := r.state.Load()
	all := make([]Account, 0, len(s.secondary)+1)
	if s.current != nil {
		all = append(all, *s.current)
	}
	return append(all, s.secondary...)
}

// Refresh rebuilds the snapshot from the database and emits a change.
// On a read error the previous snapshot is kept and nothing is emitted.
func (r *AccountRegistry) Refresh() {
	if !r.refresh() {
		return
	}
	r.EmitChange()
}

func (r *AccountRegistry) refresh() bool {
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()

	accounts, err := r.db.ListAccounts()
	if err != nil {
		r.logger.Error("error fetching accounts", "error", err)
		return false
	}

	currentUUID, ok, err := r.db.GetPreference(CurrentAccountKey)
	if err != nil {
		r.logger.Error("error reading current account", "error", err)
		return false
	}

	next := &accountState{secondary: make([]Account, 0, len(accounts))}
	for _, a := range accounts {
		if ok && next.current == nil && a.UUID == currentUUID {
			current := accountFromModel(a)
			next.current = &current
			continue
		}
		next.secondary = append(next.secondary, accountFromModel(a))
	}

	r.state.Store(next)
	r.logger.Debug("accounts refreshed", "count", len(accounts), "has_current", next.current != nil)
	return true
}

// Close stops following database changes.
func (r *AccountRegistry) Close() {
	r.db.RemoveListener(r.dbHandle)
}
