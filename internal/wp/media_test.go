package wp_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wpsync/internal/flux"
	"wpsync/internal/testutil"
	"wpsync/internal/wp"
)

var oldPhoto = wp.Media{ID: 42, URL: "https://example.files.wordpress.com/old.jpg", File: "old.jpg", MIMEType: "image/jpeg"}

type mediaFixture struct {
	dispatcher  *flux.Dispatcher[flux.Action]
	accounts    *testutil.FakeAccounts
	remotes     *testutil.FakeRemoteProvider
	coordinator *wp.MediaCoordinator
}

func newMediaFixture(t *testing.T) *mediaFixture {
	t.Helper()

	f := &mediaFixture{
		dispatcher: flux.NewDispatcher[flux.Action](),
		accounts:   testutil.NewFakeAccounts(alice, bob),
		remotes:    testutil.NewFakeRemoteProvider(),
	}
	f.remotes.Media.SetLibrary(site.SiteID, oldPhoto)
	f.coordinator = wp.NewMediaCoordinator(f.dispatcher, f.accounts, f.remotes, testutil.NewPrefixedIDGenerator("upload"), nil)
	t.Cleanup(f.coordinator.Close)
	return f
}

func localMedia(name, content string) wp.LocalMedia {
	return wp.LocalMedia{
		Filename: name,
		MIMEType: "text/plain",
		Size:     int64(len(content)),
		Open:     func() (io.ReadCloser, error) { return io.NopCloser(strings.NewReader(content)), nil },
	}
}

type eventLog struct {
	mu     sync.Mutex
	events []wp.MediaEvent
}

func (l *eventLog) record(e wp.MediaEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) all() []wp.MediaEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]wp.MediaEvent(nil), l.events...)
}

type step struct {
	State    wp.UploadState
	Progress float64
}

func steps(events []wp.MediaEvent) []step {
	out := make([]step, 0, len(events))
	for _, e := range events {
		out = append(out, step{e.State, e.Progress})
	}
	return out
}

func TestMediaCoordinator_UploadReportsProgressInOrder(t *testing.T) {
	f := newMediaFixture(t)
	var log eventLog
	f.coordinator.AddObserver(wp.AllUploads, log.record)

	id, err := f.coordinator.AddMedia(site, localMedia("notes.txt", "0123456789"))
	require.NoError(t, err)
	assert.Equal(t, "upload-1", id)
	f.coordinator.Wait()

	assert.Equal(t, []step{
		{wp.Uploading, 0},
		{wp.Uploading, 0.5},
		{wp.Uploading, 1},
		{wp.UploadEnded, 1},
	}, steps(log.all()))

	upload, ok := f.coordinator.Upload(id)
	require.True(t, ok)
	assert.Equal(t, wp.UploadEnded, upload.State)
	assert.Equal(t, "notes.txt", upload.Media.File)
	assert.NotZero(t, upload.Media.ID)

	data, ok := f.remotes.Media.Uploaded("notes.txt")
	require.True(t, ok)
	assert.Equal(t, "0123456789", string(data))
	assert.Equal(t, []string{alice.Token}, f.remotes.Tokens())
}

func TestMediaCoordinator_ObserverSeesOnlyItsUpload(t *testing.T) {
	f := newMediaFixture(t)
	release := f.remotes.Media.BlockUploads()

	first, err := f.coordinator.AddMedia(site, localMedia("a.txt", "aaaa"))
	require.NoError(t, err)
	second, err := f.coordinator.AddMedia(site, localMedia("b.txt", "bbbb"))
	require.NoError(t, err)

	var log eventLog
	f.coordinator.AddObserver(second, log.record)
	release()
	f.coordinator.Wait()

	events := log.all()
	require.NotEmpty(t, events)
	for _, e := range events {
		assert.Equal(t, second, e.ID)
	}
	assert.Equal(t, wp.UploadEnded, events[len(events)-1].State)

	uploads := f.coordinator.Uploads()
	require.Len(t, uploads, 2)
	assert.Equal(t, first, uploads[0].ID)
	assert.Equal(t, second, uploads[1].ID)
}

func TestMediaCoordinator_RemovedObserverIsNotCalled(t *testing.T) {
	f := newMediaFixture(t)
	var log eventLog
	h := f.coordinator.AddObserver(wp.AllUploads, log.record)
	f.coordinator.RemoveObserver(h)

	_, err := f.coordinator.AddMedia(site, localMedia("a.txt", "aaaa"))
	require.NoError(t, err)
	f.coordinator.Wait()

	assert.Empty(t, log.all())
}

func TestMediaCoordinator_RetryFailedUpload(t *testing.T) {
	f := newMediaFixture(t)
	boom := errors.New("boom")
	f.remotes.Media.FailUploads(boom)

	id, err := f.coordinator.AddMedia(site, localMedia("notes.txt", "hello"))
	require.NoError(t, err)
	f.coordinator.Wait()

	upload, _ := f.coordinator.Upload(id)
	assert.Equal(t, wp.UploadFailed, upload.State)
	assert.ErrorIs(t, upload.Err, boom)

	f.remotes.Media.FailUploads(nil)
	require.NoError(t, f.coordinator.RetryMedia(id))
	f.coordinator.Wait()

	upload, _ = f.coordinator.Upload(id)
	assert.Equal(t, wp.UploadEnded, upload.State)
	assert.NoError(t, upload.Err)
	assert.Equal(t, 2, upload.Attempts)
	assert.Equal(t, 2, f.remotes.Media.UploadCalls())

	data, ok := f.remotes.Media.Uploaded("notes.txt")
	require.True(t, ok)
	assert.Equal(t, "hello", string(data))
}

func TestMediaCoordinator_RetryErrors(t *testing.T) {
	f := newMediaFixture(t)

	assert.ErrorIs(t, f.coordinator.RetryMedia("upload-99"), wp.ErrUploadNotFound)

	id, err := f.coordinator.AddMedia(site, localMedia("a.txt", "aaaa"))
	require.NoError(t, err)
	f.coordinator.Wait()
	assert.ErrorIs(t, f.coordinator.RetryMedia(id), wp.ErrUploadNotFailed)
}

func TestMediaCoordinator_RetryFromFailureObserver(t *testing.T) {
	f := newMediaFixture(t)
	f.remotes.Media.FailUploads(errors.New("flaky"))

	var retryErr error
	var once sync.Once
	f.coordinator.AddObserver(wp.AllUploads, func(e wp.MediaEvent) {
		if e.State != wp.UploadFailed {
			return
		}
		once.Do(func() {
			f.remotes.Media.FailUploads(nil)
			retryErr = f.coordinator.RetryMedia(e.ID)
		})
	})

	id, err := f.coordinator.AddMedia(site, localMedia("a.txt", "aaaa"))
	require.NoError(t, err)
	returnsWithin(t, "Wait", f.coordinator.Wait)

	require.NoError(t, retryErr)
	upload, _ := f.coordinator.Upload(id)
	assert.Equal(t, wp.UploadEnded, upload.State)
}

func TestMediaCoordinator_UnknownAccount(t *testing.T) {
	f := newMediaFixture(t)

	_, err := f.coordinator.AddMedia(wp.SiteRef{SiteID: 1, AccountID: 99}, localMedia("a.txt", "aaaa"))
	assert.ErrorIs(t, err, wp.ErrAccountNotFound)
	assert.Empty(t, f.coordinator.Uploads())
	assert.Zero(t, f.remotes.Media.UploadCalls())
}

func TestMediaCoordinator_CloseFailsRunningUpload(t *testing.T) {
	f := newMediaFixture(t)
	release := f.remotes.Media.BlockUploads()
	defer release()

	id, err := f.coordinator.AddMedia(site, localMedia("a.txt", "aaaa"))
	require.NoError(t, err)
	returnsWithin(t, "Close", f.coordinator.Close)

	upload, _ := f.coordinator.Upload(id)
	assert.Equal(t, wp.UploadFailed, upload.State)
	assert.ErrorIs(t, upload.Err, context.Canceled)
}

func TestMediaCoordinator_LibraryFetchedOnceAndUpdatedByUploads(t *testing.T) {
	f := newMediaFixture(t)

	_, ok := f.coordinator.GetMediaLibrary(site)
	assert.False(t, ok)
	f.coordinator.GetMediaLibrary(site)
	f.coordinator.Wait()

	library, ok := f.coordinator.GetMediaLibrary(site)
	require.True(t, ok)
	assert.Equal(t, []wp.Media{oldPhoto}, library)
	assert.Equal(t, 1, f.remotes.Media.LibraryCalls())

	_, err := f.coordinator.AddMedia(site, localMedia("new.txt", "fresh"))
	require.NoError(t, err)
	f.coordinator.Wait()

	library, ok = f.coordinator.GetMediaLibrary(site)
	require.True(t, ok)
	require.Len(t, library, 2)
	assert.Equal(t, "new.txt", library[0].File)
	assert.Equal(t, oldPhoto, library[1])
	assert.Equal(t, 1, f.remotes.Media.LibraryCalls())
}

func TestMediaCoordinator_SyncMediaRefreshesCachedLibrary(t *testing.T) {
	f := newMediaFixture(t)
	f.coordinator.GetMediaLibrary(site)
	f.coordinator.Wait()

	newer := wp.Media{ID: 43, File: "newer.jpg"}
	f.remotes.Media.SetLibrary(site.SiteID, newer, oldPhoto)
	assert.True(t, f.coordinator.SyncMedia(site))
	f.coordinator.Wait()

	library, ok := f.coordinator.GetMediaLibrary(site)
	require.True(t, ok)
	assert.Equal(t, []wp.Media{newer, oldPhoto}, library)
	assert.Equal(t, 2, f.remotes.Media.LibraryCalls())
}

func TestMediaCoordinator_LibraryFetchFailure(t *testing.T) {
	f := newMediaFixture(t)
	offline := errors.New("offline")
	f.remotes.Media.FailLibrary(offline)

	f.coordinator.GetMediaLibrary(site)
	f.coordinator.Wait()

	assert.Equal(t, flux.Absent, f.coordinator.LibraryState(site))
	assert.ErrorIs(t, f.coordinator.LibraryError(site), offline)

	f.remotes.Media.FailLibrary(nil)
	f.coordinator.GetMediaLibrary(site)
	f.coordinator.Wait()
	assert.NoError(t, f.coordinator.LibraryError(site))
	assert.Equal(t, flux.Loaded, f.coordinator.LibraryState(site))
}

func TestMediaCoordinator_LibraryDroppedWhenAccountRemoved(t *testing.T) {
	f := newMediaFixture(t)
	f.coordinator.GetMediaLibrary(site)
	f.coordinator.Wait()
	require.Equal(t, flux.Loaded, f.coordinator.LibraryState(site))

	f.accounts.Set(bob)

	assert.Equal(t, flux.Absent, f.coordinator.LibraryState(site))
	_, ok := f.coordinator.GetMediaLibrary(site)
	assert.False(t, ok)
	f.coordinator.Wait()
	assert.Equal(t, 1, f.remotes.Media.LibraryCalls())
}

func TestLocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "photo.png")
	require.NoError(t, os.WriteFile(path, []byte("not really a png"), 0o600))

	file, err := wp.LocalFile(path)
	require.NoError(t, err)
	assert.Equal(t, "photo.png", file.Filename)
	assert.Equal(t, "image/png", file.MIMEType)
	assert.Equal(t, int64(16), file.Size)

	r, err := file.Open()
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "not really a png", string(data))

	_, err = wp.LocalFile(t.TempDir())
	assert.Error(t, err)
}
