package wp

import (
	"context"
	"slices"
	"sync"

	"wpsync/internal/flux"
)

// PluginStore caches the plugin list of every site that has been read and
// applies plugin changes optimistically.
//
// Reads never block: a miss starts a fetch and returns false, and listeners
// are notified once the result arrives. Changes are applied to the cache
// first and undone if the remote rejects them. All cache access is serialized
// by mu; listeners are always notified with mu released.
type PluginStore struct {
	*flux.StoreBase

	accounts AccountSource
	remotes  RemoteProvider
	logger   Logger

	mu              sync.Mutex
	plugins         *flux.Cache[SiteRef, SitePlugins]
	fetchErrors     map[SiteRef]error
	mutationErrors  map[SiteRef][]*MutationError
	releaseWhenIdle bool

	accountsHandle flux.ListenerHandle
	ctx            context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup
}

// NewPluginStore creates a store registered with d (Default when nil) that
// resolves credentials through accounts.
func NewPluginStore(d *flux.Dispatcher[flux.Action], accounts AccountSource, remotes RemoteProvider, logger Logger) *PluginStore {
	ctx, cancel := context.WithCancel(context.Background())
	s := &PluginStore{
		accounts:       accounts,
		remotes:        remotes,
		logger:         loggerOrNop(logger),
		plugins:        flux.NewCache[SiteRef, SitePlugins](),
		fetchErrors:    make(map[SiteRef]error),
		mutationErrors: make(map[SiteRef][]*MutationError),
		ctx:            ctx,
		cancel:         cancel,
	}
	s.StoreBase = flux.NewStoreBase(d, s.onDispatch)
	s.accountsHandle = accounts.OnChange(s.invalidatePluginsForMissingAccounts)
	return s
}

// SetReleaseWhenIdle controls whether cached plugin lists are dropped when the
// last listener is removed.
func (s *PluginStore) SetReleaseWhenIdle(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseWhenIdle = enabled
}

// OnChange registers a change listener.
func (s *PluginStore) OnChange(callback func()) flux.ListenerHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.StoreBase.OnChange(callback)
}

// RemoveListener unregisters a change listener. Subscribing is serialized
// with the idle check, so a listener added concurrently keeps the cache.
func (s *PluginStore) RemoveListener(handle flux.ListenerHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.StoreBase.RemoveListener(handle)
	if s.releaseWhenIdle && s.ListenerCount() == 0 {
		s.plugins.Release()
		s.logger.Debug("released plugin cache, no listeners left")
	}
}

// GetPlugins returns the cached plugins of site. On a miss it starts a fetch,
// unless one is already running, and returns false.
func (s *PluginStore) GetPlugins(site SiteRef) (SitePlugins, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if plugins, ok := s.plugins.Get(site); ok {
		return plugins.Clone(), true
	}
	s.fetchPlugins(site)
	return SitePlugins{}, false
}

// GetPlugin returns one cached plugin of site, fetching the list on a miss.
func (s *PluginStore) GetPlugin(id string, site SiteRef) (PluginState, bool) {
	plugins, ok := s.GetPlugins(site)
	if !ok {
		return PluginState{}, false
	}
	return plugins.Plugin(id)
}

// FetchState returns the cache state of site.
func (s *PluginStore) FetchState(site SiteRef) flux.EntryState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.plugins.State(site)
}

// FetchError returns the error of the last failed fetch for site, cleared by
// the next successful one.
func (s *PluginStore) FetchError(site SiteRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetchErrors[site]
}

// MutationErrors returns the rejected changes recorded for site.
func (s *PluginStore) MutationErrors(site SiteRef) []*MutationError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.mutationErrors[site])
}

// ClearMutationErrors forgets the rejected changes recorded for site.
func (s *PluginStore) ClearMutationErrors(site SiteRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.mutationErrors, site)
}

// Wait blocks until every remote call started so far has completed and its
// result has been applied.
func (s *PluginStore) Wait() {
	s.wg.Wait()
}

// Close detaches the store from its dispatcher and the account registry and
// cancels outstanding remote calls.
func (s *PluginStore) Close() {
	s.Unregister()
	s.accounts.RemoveListener(s.accountsHandle)
	s.cancel()
	s.wg.Wait()
}

func (s *PluginStore) onDispatch(_ context.Context, action flux.Action) {
	switch a := action.(type) {
	case ActivatePlugin:
		s.setFlag("activate", a.Site, a.ID, activeFlag, true, PluginRemote.ActivatePlugin)
	case DeactivatePlugin:
		s.setFlag("deactivate", a.Site, a.ID, activeFlag, false, PluginRemote.DeactivatePlugin)
	case EnablePluginAutoupdates:
		s.setFlag("enable autoupdates", a.Site, a.ID, autoupdateFlag, true, PluginRemote.EnableAutoupdates)
	case DisablePluginAutoupdates:
		s.setFlag("disable autoupdates", a.Site, a.ID, autoupdateFlag, false, PluginRemote.DisableAutoupdates)
	case RemovePlugin:
		s.removePlugin(a.Site, a.ID)
	case ReceivePlugins:
		s.receivePlugins(a.Site, a.Plugins)
	case ReceivePluginsFailed:
		s.receivePluginsFailed(a.Site, a.Err)
	}
}

func activeFlag(p *PluginState) *bool     { return &p.Active }
func autoupdateFlag(p *PluginState) *bool { return &p.Autoupdate }

type pluginCall func(r PluginRemote, ctx context.Context, pluginID string, siteID int64) error

// setFlag flips one flag optimistically and sends the change. A rejected
// change restores the flag's previous value on the current cached plugin,
// leaving its other fields alone.
func (s *PluginStore) setFlag(op string, site SiteRef, pluginID string, flag func(*PluginState) *bool, value bool, call pluginCall) {
	s.mu.Lock()
	remote := s.remote(site)
	if remote == nil {
		s.recordMutationError(site, pluginID, op, ErrAccountNotFound)
		s.mu.Unlock()
		s.EmitChange()
		return
	}
	previous, found := s.modifyPlugin(site, pluginID, func(p *PluginState) bool {
		old := *flag(p)
		*flag(p) = value
		return old
	})
	if !found {
		s.recordMutationError(site, pluginID, op, ErrPluginNotFound)
		s.mu.Unlock()
		s.EmitChange()
		return
	}
	// Started before listeners run; a listener may panic.
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := call(remote, s.ctx, pluginID, site.SiteID)
		if err == nil {
			return
		}

		s.logger.Warn("plugin change rejected, rolling back", "op", op, "plugin", pluginID, "site", site.SiteID, "error", err)
		s.mu.Lock()
		s.modifyPlugin(site, pluginID, func(p *PluginState) bool {
			*flag(p) = previous
			return previous
		})
		s.recordMutationError(site, pluginID, op, err)
		s.mu.Unlock()
		s.EmitChange()
	}()
	s.mu.Unlock()
	s.EmitChange()
}

// modifyPlugin applies change to the cached plugin and returns change's result.
// Must be called with mu held.
func (s *PluginStore) modifyPlugin(site SiteRef, pluginID string, change func(*PluginState) bool) (bool, bool) {
	var result, found bool
	s.plugins.Update(site, func(plugins *SitePlugins) bool {
		i := plugins.index(pluginID)
		if i < 0 {
			return false
		}
		found = true
		result = change(&plugins.Plugins[i])
		return true
	})
	return result, found
}

// removePlugin drops the plugin from the cache and sends the removal. A
// rejected removal is not undone in place; the site's list is fetched again.
func (s *PluginStore) removePlugin(site SiteRef, pluginID string) {
	const op = "remove"

	s.mu.Lock()
	remote := s.remote(site)
	if remote == nil {
		s.recordMutationError(site, pluginID, op, ErrAccountNotFound)
		s.mu.Unlock()
		s.EmitChange()
		return
	}
	removed := s.plugins.Update(site, func(plugins *SitePlugins) bool {
		i := plugins.index(pluginID)
		if i < 0 {
			return false
		}
		plugins.Plugins = slices.Delete(plugins.Plugins, i, i+1)
		return true
	})
	if !removed {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := remote.RemovePlugin(s.ctx, pluginID, site.SiteID)
		if err == nil {
			return
		}

		s.logger.Warn("plugin removal rejected, refetching", "plugin", pluginID, "site", site.SiteID, "error", err)
		s.mu.Lock()
		s.recordMutationError(site, pluginID, op, err)
		s.fetchPlugins(site)
		s.mu.Unlock()
		s.EmitChange()
	}()
	s.mu.Unlock()
	s.EmitChange()
}

// fetchPlugins starts a fetch for site unless one is in flight or no account
// can authenticate it. Must be called with mu held.
func (s *PluginStore) fetchPlugins(site SiteRef) {
	account, ok := s.accounts.Account(site.AccountID)
	if !ok {
		s.logger.Debug("no account for site, not fetching plugins", "site", site.SiteID, "account", site.AccountID)
		return
	}
	if !s.plugins.BeginFetch(site) {
		return
	}
	remote := s.remotes.PluginRemote(account.Token)

	s.logger.Debug("fetching plugins", "site", site.SiteID, "account", site.AccountID)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		plugins, err := remote.GetPlugins(s.ctx, site.SiteID)
		if err != nil {
			s.Dispatcher().Dispatch(s.ctx, ReceivePluginsFailed{Site: site, Err: err})
			return
		}
		s.Dispatcher().Dispatch(s.ctx, ReceivePlugins{Site: site, Plugins: plugins})
	}()
}

func (s *PluginStore) receivePlugins(site SiteRef, plugins SitePlugins) {
	s.mu.Lock()
	if _, ok := s.accounts.Account(site.AccountID); !ok {
		s.mu.Unlock()
		s.logger.Debug("dropping plugins for missing account", "site", site.SiteID, "account", site.AccountID)
		return
	}
	s.plugins.Receive(site, plugins.Clone())
	delete(s.fetchErrors, site)
	s.mu.Unlock()

	s.logger.Debug("received plugins", "site", site.SiteID, "count", len(plugins.Plugins))
	s.EmitChange()
}

func (s *PluginStore) receivePluginsFailed(site SiteRef, err error) {
	s.mu.Lock()
	s.plugins.FetchFailed(site)
	s.fetchErrors[site] = err
	s.mu.Unlock()

	s.logger.Warn("fetching plugins failed", "site", site.SiteID, "error", err)
	s.EmitChange()
}

// remote returns a remote for site's account, or nil if the account is unknown.
func (s *PluginStore) remote(site SiteRef) PluginRemote {
	account, ok := s.accounts.Account(site.AccountID)
	if !ok {
		return nil
	}
	return s.remotes.PluginRemote(account.Token)
}

// Must be called with mu held.
func (s *PluginStore) recordMutationError(site SiteRef, pluginID, op string, err error) {
	s.mutationErrors[site] = append(s.mutationErrors[site], &MutationError{
		Site:     site,
		PluginID: pluginID,
		Op:       op,
		Err:      err,
	})
}

func (s *PluginStore) invalidatePluginsForMissingAccounts() {
	valid := make(map[int64]struct{})
	for _, a := range s.accounts.All() {
		valid[a.ID] = struct{}{}
	}
	keep := func(site SiteRef) bool {
		_, ok := valid[site.AccountID]
		return ok
	}

	s.mu.Lock()
	removed := s.plugins.Purge(keep)
	for site := range s.fetchErrors {
		if !keep(site) {
			delete(s.fetchErrors, site)
		}
	}
	for site := range s.mutationErrors {
		if !keep(site) {
			delete(s.mutationErrors, site)
		}
	}
	s.mu.Unlock()

	if len(removed) > 0 {
		s.logger.Debug("invalidated plugins for missing accounts", "sites", len(removed))
		s.EmitChange()
	}
}
