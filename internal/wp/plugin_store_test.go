package wp_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wpsync/internal/flux"
	"wpsync/internal/testutil"
	"wpsync/internal/wp"
)

var (
	alice = wp.Account{ID: 5, UUID: "uuid-alice", Username: "alice", Token: "token-alice"}
	bob   = wp.Account{ID: 7, UUID: "uuid-bob", Username: "bob", Token: "token-bob"}

	site = wp.SiteRef{SiteID: 1, AccountID: alice.ID}

	akismet = wp.PluginState{ID: "akismet/akismet", Slug: "akismet", Name: "Akismet", Version: "5.3"}
	jetpack = wp.PluginState{ID: "jetpack/jetpack", Slug: "jetpack", Name: "Jetpack", Version: "13.1", Active: true, Autoupdate: true}
)

type storeFixture struct {
	dispatcher *flux.Dispatcher[flux.Action]
	accounts   *testutil.FakeAccounts
	remotes    *testutil.FakeRemoteProvider
	store      *wp.PluginStore
}

func newStoreFixture(t *testing.T) *storeFixture {
	t.Helper()

	f := &storeFixture{
		dispatcher: flux.NewDispatcher[flux.Action](),
		accounts:   testutil.NewFakeAccounts(alice, bob),
		remotes:    testutil.NewFakeRemoteProvider(),
	}
	f.remotes.Plugins.SetPlugins(site.SiteID, wp.SitePlugins{
		Plugins:      []wp.PluginState{akismet, jetpack},
		Capabilities: wp.PluginCapabilities{Modify: true, Autoupdate: true},
	})
	f.store = wp.NewPluginStore(f.dispatcher, f.accounts, f.remotes, nil)
	t.Cleanup(f.store.Close)
	return f
}

// load fetches the plugins of s and waits for them to arrive.
func (f *storeFixture) load(t *testing.T, s wp.SiteRef) wp.SitePlugins {
	t.Helper()
	f.store.GetPlugins(s)
	f.store.Wait()
	plugins, ok := f.store.GetPlugins(s)
	require.True(t, ok, "plugins not loaded for %s", s)
	return plugins
}

func (f *storeFixture) dispatch(action flux.Action) {
	f.dispatcher.Dispatch(context.Background(), action)
}

// countChanges counts change notifications from the store.
func (f *storeFixture) countChanges(t *testing.T) *atomic.Int32 {
	t.Helper()
	var n atomic.Int32
	h := f.store.OnChange(func() { n.Add(1) })
	t.Cleanup(func() { f.store.RemoveListener(h) })
	return &n
}

func TestPluginStore_ReadTriggersFetchOnce(t *testing.T) {
	f := newStoreFixture(t)
	release := f.remotes.Plugins.BlockFetches()

	_, ok := f.store.GetPlugins(site)
	assert.False(t, ok)
	_, ok = f.store.GetPlugins(site)
	assert.False(t, ok)
	assert.Equal(t, flux.Fetching, f.store.FetchState(site))

	require.Eventually(t, func() bool { return f.remotes.Plugins.Calls(testutil.OpGetPlugins) == 1 },
		time.Second, time.Millisecond)

	release()
	f.store.Wait()

	plugins, ok := f.store.GetPlugins(site)
	require.True(t, ok)
	assert.Equal(t, []wp.PluginState{akismet, jetpack}, plugins.Plugins)
	assert.True(t, plugins.Capabilities.Modify)
	assert.Equal(t, 1, f.remotes.Plugins.Calls(testutil.OpGetPlugins))
	assert.Equal(t, flux.Loaded, f.store.FetchState(site))
	assert.Equal(t, []string{alice.Token}, f.remotes.Tokens())
}

func TestPluginStore_ReceiveEmitsChange(t *testing.T) {
	f := newStoreFixture(t)
	changes := f.countChanges(t)

	f.load(t, site)

	assert.Equal(t, int32(1), changes.Load())
}

func TestPluginStore_GetPlugin(t *testing.T) {
	f := newStoreFixture(t)

	_, ok := f.store.GetPlugin(jetpack.ID, site)
	assert.False(t, ok, "nothing cached yet")
	f.store.Wait()

	p, ok := f.store.GetPlugin(jetpack.ID, site)
	require.True(t, ok)
	assert.Equal(t, jetpack, p)
	assert.Equal(t, "Active, Autoupdates on", p.StateDescription())

	_, ok = f.store.GetPlugin("missing/missing", site)
	assert.False(t, ok)
}

func TestPluginStore_ReturnedPluginsAreCopies(t *testing.T) {
	f := newStoreFixture(t)
	plugins := f.load(t, site)

	plugins.Plugins[0].Active = true

	p, ok := f.store.GetPlugin(akismet.ID, site)
	require.True(t, ok)
	assert.False(t, p.Active)
}

func TestPluginStore_UnknownAccountIsNotFetched(t *testing.T) {
	f := newStoreFixture(t)
	orphan := wp.SiteRef{SiteID: 1, AccountID: 99}

	_, ok := f.store.GetPlugins(orphan)
	f.store.Wait()

	assert.False(t, ok)
	assert.Equal(t, 0, f.remotes.Plugins.Calls(testutil.OpGetPlugins))
	assert.Equal(t, flux.Absent, f.store.FetchState(orphan))
}

func TestPluginStore_KeysAreSeparatedByAccount(t *testing.T) {
	f := newStoreFixture(t)
	asBob := wp.SiteRef{SiteID: site.SiteID, AccountID: bob.ID}

	f.load(t, site)
	_, ok := f.store.GetPlugins(asBob)

	assert.False(t, ok, "same site through another account is a different key")
	f.store.Wait()
	assert.Equal(t, 2, f.remotes.Plugins.Calls(testutil.OpGetPlugins))
	assert.Equal(t, []string{alice.Token, bob.Token}, f.remotes.Tokens())
}

func TestPluginStore_FetchFailure(t *testing.T) {
	f := newStoreFixture(t)
	changes := f.countChanges(t)
	fetchErr := errors.New("boom")
	f.remotes.Plugins.Fail(testutil.OpGetPlugins, fetchErr)

	f.store.GetPlugins(site)
	f.store.Wait()

	assert.Equal(t, flux.Absent, f.store.FetchState(site))
	assert.ErrorIs(t, f.store.FetchError(site), fetchErr)
	assert.Equal(t, int32(1), changes.Load())

	f.remotes.Plugins.Fail(testutil.OpGetPlugins, nil)
	f.load(t, site)

	assert.Equal(t, 2, f.remotes.Plugins.Calls(testutil.OpGetPlugins), "next read retries")
	assert.NoError(t, f.store.FetchError(site))
}

func TestPluginStore_OptimisticFlagChanges(t *testing.T) {
	tests := []struct {
		name   string
		action func(id string) flux.Action
		plugin wp.PluginState
		check  func(t *testing.T, p wp.PluginState)
	}{
		{
			name:   "activate",
			action: func(id string) flux.Action { return wp.ActivatePlugin{ID: id, Site: site} },
			plugin: akismet,
			check:  func(t *testing.T, p wp.PluginState) { assert.True(t, p.Active) },
		},
		{
			name:   "deactivate",
			action: func(id string) flux.Action { return wp.DeactivatePlugin{ID: id, Site: site} },
			plugin: jetpack,
			check:  func(t *testing.T, p wp.PluginState) { assert.False(t, p.Active) },
		},
		{
			name:   "enable autoupdates",
			action: func(id string) flux.Action { return wp.EnablePluginAutoupdates{ID: id, Site: site} },
			plugin: akismet,
			check:  func(t *testing.T, p wp.PluginState) { assert.True(t, p.Autoupdate) },
		},
		{
			name:   "disable autoupdates",
			action: func(id string) flux.Action { return wp.DisablePluginAutoupdates{ID: id, Site: site} },
			plugin: jetpack,
			check:  func(t *testing.T, p wp.PluginState) { assert.False(t, p.Autoupdate) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newStoreFixture(t)
			f.load(t, site)
			release := f.remotes.Plugins.BlockMutations()
			defer release()

			f.dispatch(tt.action(tt.plugin.ID))

			p, ok := f.store.GetPlugin(tt.plugin.ID, site)
			require.True(t, ok)
			tt.check(t, p)

			release()
			f.store.Wait()

			p, ok = f.store.GetPlugin(tt.plugin.ID, site)
			require.True(t, ok)
			tt.check(t, p)
			assert.Empty(t, f.store.MutationErrors(site))
		})
	}
}

func TestPluginStore_OptimisticRollback(t *testing.T) {
	f := newStoreFixture(t)
	f.load(t, site)
	changes := f.countChanges(t)
	rejected := errors.New("rejected")
	f.remotes.Plugins.Fail(testutil.OpActivate, rejected)

	f.dispatch(wp.ActivatePlugin{ID: akismet.ID, Site: site})
	f.store.Wait()

	p, ok := f.store.GetPlugin(akismet.ID, site)
	require.True(t, ok)
	assert.False(t, p.Active)
	assert.Equal(t, int32(2), changes.Load(), "one optimistic change, one rollback")

	errs := f.store.MutationErrors(site)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], rejected)
	assert.Equal(t, akismet.ID, errs[0].PluginID)
	assert.Equal(t, "activate", errs[0].Op)

	f.store.ClearMutationErrors(site)
	assert.Empty(t, f.store.MutationErrors(site))
}

func TestPluginStore_RollbackKeepsOtherFlags(t *testing.T) {
	f := newStoreFixture(t)
	f.load(t, site)
	f.remotes.Plugins.Fail(testutil.OpEnableAutoupdates, errors.New("rejected"))
	release := f.remotes.Plugins.BlockMutations()

	f.dispatch(wp.ActivatePlugin{ID: akismet.ID, Site: site})
	f.dispatch(wp.EnablePluginAutoupdates{ID: akismet.ID, Site: site})

	p, _ := f.store.GetPlugin(akismet.ID, site)
	assert.True(t, p.Active)
	assert.True(t, p.Autoupdate)

	release()
	f.store.Wait()

	p, _ = f.store.GetPlugin(akismet.ID, site)
	assert.True(t, p.Active, "successful activation survives the autoupdate rollback")
	assert.False(t, p.Autoupdate)
	assert.Len(t, f.store.MutationErrors(site), 1)
}

func TestPluginStore_ConcurrentMutations(t *testing.T) {
	f := newStoreFixture(t)
	f.load(t, site)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				f.dispatch(wp.ActivatePlugin{ID: akismet.ID, Site: site})
			} else {
				f.dispatch(wp.EnablePluginAutoupdates{ID: akismet.ID, Site: site})
			}
		}(i)
	}
	wg.Wait()
	f.store.Wait()

	p, ok := f.store.GetPlugin(akismet.ID, site)
	require.True(t, ok)
	assert.True(t, p.Active)
	assert.True(t, p.Autoupdate)
	assert.Equal(t, 10, f.remotes.Plugins.Calls(testutil.OpActivate))
	assert.Equal(t, 10, f.remotes.Plugins.Calls(testutil.OpEnableAutoupdates))
}

func TestPluginStore_MutationOnMissingPlugin(t *testing.T) {
	f := newStoreFixture(t)
	f.load(t, site)
	changes := f.countChanges(t)

	f.dispatch(wp.ActivatePlugin{ID: "missing/missing", Site: site})
	f.store.Wait()

	errs := f.store.MutationErrors(site)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], wp.ErrPluginNotFound)
	assert.Equal(t, 0, f.remotes.Plugins.Calls(testutil.OpActivate))
	assert.Equal(t, int32(1), changes.Load())
}

func TestPluginStore_MutationOnUnknownAccount(t *testing.T) {
	f := newStoreFixture(t)
	orphan := wp.SiteRef{SiteID: 1, AccountID: 99}

	f.dispatch(wp.DeactivatePlugin{ID: jetpack.ID, Site: orphan})
	f.store.Wait()

	errs := f.store.MutationErrors(orphan)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], wp.ErrAccountNotFound)
	assert.Equal(t, 0, f.remotes.Plugins.Calls(testutil.OpDeactivate))
}

func TestPluginStore_RemovePlugin(t *testing.T) {
	f := newStoreFixture(t)
	f.load(t, site)
	changes := f.countChanges(t)

	f.dispatch(wp.RemovePlugin{ID: akismet.ID, Site: site})
	_, ok := f.store.GetPlugin(akismet.ID, site)
	assert.False(t, ok, "removed optimistically")

	f.store.Wait()

	plugins, ok := f.store.GetPlugins(site)
	require.True(t, ok)
	assert.Equal(t, []wp.PluginState{jetpack}, plugins.Plugins)
	assert.Equal(t, int32(1), changes.Load())
	assert.Equal(t, 1, f.remotes.Plugins.Calls(testutil.OpGetPlugins))
}

func TestPluginStore_RemovePluginFailureRefetches(t *testing.T) {
	f := newStoreFixture(t)
	f.load(t, site)
	rejected := errors.New("rejected")
	f.remotes.Plugins.Fail(testutil.OpRemove, rejected)

	f.dispatch(wp.RemovePlugin{ID: akismet.ID, Site: site})
	f.store.Wait()

	assert.Equal(t, 2, f.remotes.Plugins.Calls(testutil.OpGetPlugins))
	p, ok := f.store.GetPlugin(akismet.ID, site)
	require.True(t, ok, "plugin restored by the refetch")
	assert.Equal(t, akismet, p)

	errs := f.store.MutationErrors(site)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], rejected)
	assert.Equal(t, "remove", errs[0].Op)
}

func TestPluginStore_InvalidatesRemovedAccounts(t *testing.T) {
	f := newStoreFixture(t)
	asBob := wp.SiteRef{SiteID: 2, AccountID: bob.ID}
	f.load(t, site)
	f.load(t, asBob)
	changes := f.countChanges(t)

	f.accounts.Set(bob)

	assert.Equal(t, flux.Absent, f.store.FetchState(site))
	assert.Equal(t, flux.Loaded, f.store.FetchState(asBob))
	assert.Equal(t, int32(1), changes.Load())

	// Reading under the removed account no longer fetches.
	_, ok := f.store.GetPlugins(site)
	assert.False(t, ok)
	f.store.Wait()
	assert.Equal(t, 2, f.remotes.Plugins.Calls(testutil.OpGetPlugins))

	// Once the account is back, the next read fetches again.
	f.accounts.Set(alice, bob)
	f.load(t, site)
	assert.Equal(t, 3, f.remotes.Plugins.Calls(testutil.OpGetPlugins))
}

func TestPluginStore_InvalidationDropsInFlightFetch(t *testing.T) {
	f := newStoreFixture(t)
	release := f.remotes.Plugins.BlockFetches()

	f.store.GetPlugins(site)
	f.accounts.Set(bob)
	assert.Equal(t, flux.Absent, f.store.FetchState(site))

	release()
	f.store.Wait()

	assert.Equal(t, flux.Absent, f.store.FetchState(site), "result for a removed account is dropped")
}

func TestPluginStore_ReleaseWhenIdle(t *testing.T) {
	t.Run("drops cache when last listener leaves", func(t *testing.T) {
		f := newStoreFixture(t)
		f.store.SetReleaseWhenIdle(true)
		h := f.store.OnChange(func() {})
		f.load(t, site)

		f.store.RemoveListener(h)

		assert.Equal(t, flux.Absent, f.store.FetchState(site))
	})

	t.Run("keeps in-flight fetches", func(t *testing.T) {
		f := newStoreFixture(t)
		f.store.SetReleaseWhenIdle(true)
		release := f.remotes.Plugins.BlockFetches()
		h := f.store.OnChange(func() {})

		f.store.GetPlugins(site)
		f.store.RemoveListener(h)
		f.store.GetPlugins(site)

		assert.Equal(t, flux.Fetching, f.store.FetchState(site))
		release()
		f.store.Wait()
		assert.Equal(t, 1, f.remotes.Plugins.Calls(testutil.OpGetPlugins))
	})

	t.Run("disabled by default", func(t *testing.T) {
		f := newStoreFixture(t)
		h := f.store.OnChange(func() {})
		f.load(t, site)

		f.store.RemoveListener(h)

		assert.Equal(t, flux.Loaded, f.store.FetchState(site))
	})
}

// returnsWithin fails the test if fn has not returned after a second.
func returnsWithin(t *testing.T, name string, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("%s did not return", name)
	}
}

func TestPluginStore_ListenerDispatchingDuringDispatchPanics(t *testing.T) {
	f := newStoreFixture(t)
	f.load(t, site)

	var once sync.Once
	h := f.store.OnChange(func() {
		once.Do(func() {
			f.dispatch(wp.EnablePluginAutoupdates{ID: akismet.ID, Site: site})
		})
	})

	assert.Panics(t, func() {
		f.dispatch(wp.ActivatePlugin{ID: akismet.ID, Site: site})
	})
	f.store.RemoveListener(h)

	returnsWithin(t, "Wait", f.store.Wait)
	p, ok := f.store.GetPlugin(akismet.ID, site)
	require.True(t, ok)
	assert.True(t, p.Active, "the change that was being dispatched still completes")
	assert.False(t, p.Autoupdate)
	assert.Equal(t, 1, f.remotes.Plugins.Calls(testutil.OpActivate))
	assert.Zero(t, f.remotes.Plugins.Calls(testutil.OpEnableAutoupdates))

	returnsWithin(t, "Dispatch", func() {
		f.dispatch(wp.DeactivatePlugin{ID: akismet.ID, Site: site})
	})
	returnsWithin(t, "Wait", f.store.Wait)
	p, _ = f.store.GetPlugin(akismet.ID, site)
	assert.False(t, p.Active)
}

func TestPluginStore_SubscriberKeepsCacheDuringRelease(t *testing.T) {
	f := newStoreFixture(t)
	f.store.SetReleaseWhenIdle(true)

	for i := 0; i < 200; i++ {
		leaving := f.store.OnChange(func() {})
		f.load(t, site)

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.store.RemoveListener(leaving)
		}()
		joining := f.store.OnChange(func() {})
		seen := f.store.FetchState(site)
		wg.Wait()

		if seen == flux.Loaded {
			require.Equal(t, flux.Loaded, f.store.FetchState(site),
				"cache released after a listener subscribed (iteration %d)", i)
		}
		f.store.RemoveListener(joining)
	}
}

func TestPluginStore_ClosedStoreIgnoresActions(t *testing.T) {
	f := newStoreFixture(t)
	f.load(t, site)
	f.store.Close()

	f.dispatch(wp.ActivatePlugin{ID: akismet.ID, Site: site})

	p, ok := f.store.GetPlugin(akismet.ID, site)
	require.True(t, ok)
	assert.False(t, p.Active)
	assert.Equal(t, 0, f.remotes.Plugins.Calls(testutil.OpActivate))
}

func TestPluginStore_ListenerMayReadDuringNotification(t *testing.T) {
	f := newStoreFixture(t)

	var seen atomic.Bool
	h := f.store.OnChange(func() {
		if _, ok := f.store.GetPlugin(jetpack.ID, site); ok {
			seen.Store(true)
		}
	})
	defer f.store.RemoveListener(h)

	f.load(t, site)

	assert.True(t, seen.Load())
}
