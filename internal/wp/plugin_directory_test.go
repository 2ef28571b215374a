package wp_test

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wpsync/internal/testutil"
	"wpsync/internal/wp"
)

func TestPluginDirectoryService_GetPluginIcon(t *testing.T) {
	remote := testutil.NewFakeDirectoryRemote()
	remote.SetInfo(wp.PluginInfo{Slug: "akismet", Name: "Akismet", IconURL: "https://ps.w.org/akismet/assets/icon-128x128.png"})
	svc := wp.NewPluginDirectoryService(remote, nil)
	defer svc.Close()

	var changes atomic.Int32
	svc.OnChange(func() { changes.Add(1) })

	_, ok := svc.GetPluginIcon("akismet", false)
	assert.False(t, ok)
	assert.Zero(t, remote.Calls("akismet"), "no lookup without download")

	_, ok = svc.GetPluginIcon("akismet", true)
	assert.False(t, ok)
	svc.Wait()

	icon, ok := svc.GetPluginIcon("akismet", true)
	require.True(t, ok)
	assert.Equal(t, "https://ps.w.org/akismet/assets/icon-128x128.png", icon)
	assert.Equal(t, int32(1), changes.Load())
	assert.Equal(t, 1, remote.Calls("akismet"))
}

func TestPluginDirectoryService_OneLookupPerSlug(t *testing.T) {
	remote := testutil.NewFakeDirectoryRemote()
	remote.SetInfo(wp.PluginInfo{Slug: "jetpack", IconURL: "https://example.test/jetpack.png"})
	release := remote.Block()
	svc := wp.NewPluginDirectoryService(remote, nil)
	defer svc.Close()

	svc.GetPluginIcon("jetpack", true)
	svc.GetPluginIcon("jetpack", true)
	require.Eventually(t, func() bool { return remote.Calls("jetpack") == 1 }, time.Second, time.Millisecond)

	release()
	svc.Wait()

	assert.Equal(t, 1, remote.Calls("jetpack"))
}

func TestPluginDirectoryService_FailureAllowsRetry(t *testing.T) {
	remote := testutil.NewFakeDirectoryRemote()
	svc := wp.NewPluginDirectoryService(remote, nil)
	defer svc.Close()

	var changes atomic.Int32
	svc.OnChange(func() { changes.Add(1) })

	unreachable := errors.New("unreachable")
	remote.Fail(unreachable)
	svc.GetPluginIcon("akismet", true)
	svc.Wait()
	assert.Zero(t, changes.Load())
	assert.ErrorIs(t, svc.LookupError("akismet"), unreachable)
	assert.NoError(t, svc.LookupError("jetpack"))

	remote.Fail(nil)
	remote.SetInfo(wp.PluginInfo{Slug: "akismet", IconURL: "https://example.test/a.png"})
	svc.GetPluginIcon("akismet", true)
	svc.Wait()

	icon, ok := svc.GetPluginIcon("akismet", false)
	require.True(t, ok)
	assert.Equal(t, "https://example.test/a.png", icon)
	assert.Equal(t, 2, remote.Calls("akismet"))
	assert.NoError(t, svc.LookupError("akismet"), "cleared by the successful lookup")
}

func TestPluginDirectoryService_NoIcon(t *testing.T) {
	remote := testutil.NewFakeDirectoryRemote()
	svc := wp.NewPluginDirectoryService(remote, nil)
	defer svc.Close()

	svc.GetPluginIcon("bare", true)
	svc.Wait()

	_, ok := svc.GetPluginIcon("bare", false)
	assert.False(t, ok)
}
