package wp

import (
	"context"
	"slices"
	"sync"

	"wpsync/internal/flux"
)

// AllUploads subscribes an observer to every upload.
const AllUploads = ""

type mediaObserver struct {
	handle   flux.ListenerHandle
	uploadID string
	callback func(MediaEvent)
}

// MediaCoordinator uploads files to site media libraries and caches the
// libraries it has read.
//
// Upload observers receive a MediaEvent for every state and progress change
// of the uploads they watch, in order, with mu released. Change listeners
// registered with OnChange hear about the same changes and about library
// updates. Results of remote calls arrive through the dispatcher.
type MediaCoordinator struct {
	*flux.StoreBase

	accounts AccountSource
	remotes  RemoteProvider
	ids      IDGenerator
	logger   Logger

	mu            sync.Mutex
	uploads       map[string]*Upload
	order         []string
	observers     []mediaObserver
	nextObserver  flux.ListenerHandle
	library       *flux.Cache[SiteRef, []Media]
	libraryErrors map[SiteRef]error

	accountsHandle flux.ListenerHandle
	ctx            context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup
}

func NewMediaCoordinator(d *flux.Dispatcher[flux.Action], accounts AccountSource, remotes RemoteProvider, ids IDGenerator, logger Logger) *MediaCoordinator {
	ctx, cancel := context.WithCancel(context.Background())
	c := &MediaCoordinator{
		accounts:      accounts,
		remotes:       remotes,
		ids:           ids,
		logger:        loggerOrNop(logger),
		uploads:       make(map[string]*Upload),
		library:       flux.NewCache[SiteRef, []Media](),
		libraryErrors: make(map[SiteRef]error),
		ctx:           ctx,
		cancel:        cancel,
	}
	c.StoreBase = flux.NewStoreBase(d, c.onDispatch)
	c.accountsHandle = accounts.OnChange(c.invalidateLibrariesForMissingAccounts)
	return c
}

// AddMedia starts uploading file to site and returns the upload's ID.
func (c *MediaCoordinator) AddMedia(site SiteRef, file LocalMedia) (string, error) {
	c.mu.Lock()
	remote := c.remote(site)
	if remote == nil {
		c.mu.Unlock()
		return "", ErrAccountNotFound
	}
	u := &Upload{ID: c.ids.New(), Site: site, File: file, State: Uploading, Attempts: 1}
	c.uploads[u.ID] = u
	c.order = append(c.order, u.ID)
	c.logger.Info("uploading media", "upload", u.ID, "file", file.Filename, "site", site.SiteID)
	c.start(*u, remote)
	return u.ID, nil
}

// RetryMedia uploads a failed upload again from the start.
func (c *MediaCoordinator) RetryMedia(uploadID string) error {
	c.mu.Lock()
	u, ok := c.uploads[uploadID]
	if !ok {
		c.mu.Unlock()
		return ErrUploadNotFound
	}
	if u.State != UploadFailed {
		c.mu.Unlock()
		return ErrUploadNotFailed
	}
	remote := c.remote(u.Site)
	if remote == nil {
		c.mu.Unlock()
		return ErrAccountNotFound
	}
	u.State = Uploading
	u.Progress = 0
	u.Err = nil
	u.Attempts++
	c.logger.Info("retrying media upload", "upload", u.ID, "attempt", u.Attempts)
	c.start(*u, remote)
	return nil
}

// start runs the upload in the background and announces it. Must be called
// with mu held; it releases mu.
func (c *MediaCoordinator) start(u Upload, remote MediaRemote) {
	announced := make(chan struct{})
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		// Progress must not overtake the Uploading event.
		<-announced
		media, err := remote.UploadMedia(c.ctx, u.Site.SiteID, u.File, func(sent, total int64) {
			c.progress(u.ID, sent, total)
		})
		if err != nil {
			c.Dispatcher().Dispatch(c.ctx, MediaUploadFailed{UploadID: u.ID, Site: u.Site, Err: err})
			return
		}
		c.Dispatcher().Dispatch(c.ctx, MediaUploaded{UploadID: u.ID, Site: u.Site, Media: media})
	}()
	c.mu.Unlock()

	defer close(announced)
	c.publish(u)
}

// Upload returns a snapshot of the upload with id.
func (c *MediaCoordinator) Upload(id string) (Upload, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.uploads[id]
	if !ok {
		return Upload{}, false
	}
	return *u, true
}

// Uploads returns every upload in the order it was added.
func (c *MediaCoordinator) Uploads() []Upload {
	c.mu.Lock()
	defer c.mu.Unlock()
	uploads := make([]Upload, 0, len(c.order))
	for _, id := range c.order {
		uploads = append(uploads, *c.uploads[id])
	}
	return uploads
}

// AddObserver registers callback for the upload with uploadID, or for every
// upload when uploadID is AllUploads.
func (c *MediaCoordinator) AddObserver(uploadID string, callback func(MediaEvent)) flux.ListenerHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextObserver++
	c.observers = append(c.observers, mediaObserver{handle: c.nextObserver, uploadID: uploadID, callback: callback})
	return c.nextObserver
}

func (c *MediaCoordinator) RemoveObserver(handle flux.ListenerHandle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = slices.DeleteFunc(c.observers, func(o mediaObserver) bool { return o.handle == handle })
}

// GetMediaLibrary returns the cached library of site. On a miss it starts a
// fetch, unless one is already running, and returns false.
func (c *MediaCoordinator) GetMediaLibrary(site SiteRef) ([]Media, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if media, ok := c.library.Get(site); ok {
		return slices.Clone(media), true
	}
	c.fetchLibrary(site)
	return nil, false
}

// SyncMedia fetches the library of site again, keeping the cached copy until
// the new one arrives. It reports whether a fetch was started.
func (c *MediaCoordinator) SyncMedia(site SiteRef) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fetchLibrary(site)
}

func (c *MediaCoordinator) LibraryState(site SiteRef) flux.EntryState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.library.State(site)
}

// LibraryError returns the error of the last failed library fetch for site,
// cleared by the next successful one.
func (c *MediaCoordinator) LibraryError(site SiteRef) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.libraryErrors[site]
}

// Wait blocks until every upload and fetch started so far has completed and
// its result has been applied.
func (c *MediaCoordinator) Wait() {
	c.wg.Wait()
}

// Close cancels running uploads, which end up failed, and then detaches the
// coordinator from its dispatcher and the account registry.
func (c *MediaCoordinator) Close() {
	c.cancel()
	c.wg.Wait()
	c.Unregister()
	c.accounts.RemoveListener(c.accountsHandle)
}

func (c *MediaCoordinator) onDispatch(_ context.Context, action flux.Action) {
	switch a := action.(type) {
	case MediaUploaded:
		c.uploaded(a)
	case MediaUploadFailed:
		c.uploadFailed(a)
	case ReceiveMediaLibrary:
		c.receiveLibrary(a.Site, a.Media)
	case ReceiveMediaLibraryFailed:
		c.receiveLibraryFailed(a.Site, a.Err)
	}
}

func (c *MediaCoordinator) progress(id string, sent, total int64) {
	if total <= 0 {
		return
	}
	fraction := min(float64(sent)/float64(total), 1)

	c.mu.Lock()
	u, ok := c.uploads[id]
	if !ok || u.State != Uploading || fraction <= u.Progress {
		c.mu.Unlock()
		return
	}
	u.Progress = fraction
	snapshot := *u
	c.mu.Unlock()

	c.publish(snapshot)
}

func (c *MediaCoordinator) uploaded(a MediaUploaded) {
	c.mu.Lock()
	u, ok := c.uploads[a.UploadID]
	if !ok || u.State != Uploading {
		c.mu.Unlock()
		return
	}
	u.State = UploadEnded
	u.Progress = 1
	u.Media = a.Media
	snapshot := *u
	// Newest first, as the library is listed.
	c.library.Update(a.Site, func(media *[]Media) bool {
		*media = slices.Insert(*media, 0, a.Media)
		return true
	})
	c.mu.Unlock()

	c.logger.Info("media uploaded", "upload", a.UploadID, "media", a.Media.ID, "site", a.Site.SiteID)
	c.publish(snapshot)
}

func (c *MediaCoordinator) uploadFailed(a MediaUploadFailed) {
	c.mu.Lock()
	u, ok := c.uploads[a.UploadID]
	if !ok || u.State != Uploading {
		c.mu.Unlock()
		return
	}
	u.State = UploadFailed
	u.Err = a.Err
	snapshot := *u
	c.mu.Unlock()

	c.logger.Warn("media upload failed", "upload", a.UploadID, "site", a.Site.SiteID, "error", a.Err)
	c.publish(snapshot)
}

// fetchLibrary starts a library fetch for site unless one is in flight or no
// account can authenticate it. Must be called with mu held.
func (c *MediaCoordinator) fetchLibrary(site SiteRef) bool {
	remote := c.remote(site)
	if remote == nil {
		c.logger.Debug("no account for site, not fetching media", "site", site.SiteID, "account", site.AccountID)
		return false
	}
	if !c.library.BeginFetch(site) {
		return false
	}

	c.logger.Debug("fetching media library", "site", site.SiteID)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		media, err := remote.GetMediaLibrary(c.ctx, site.SiteID)
		if err != nil {
			c.Dispatcher().Dispatch(c.ctx, ReceiveMediaLibraryFailed{Site: site, Err: err})
			return
		}
		c.Dispatcher().Dispatch(c.ctx, ReceiveMediaLibrary{Site: site, Media: media})
	}()
	return true
}

func (c *MediaCoordinator) receiveLibrary(site SiteRef, media []Media) {
	c.mu.Lock()
	if _, ok := c.accounts.Account(site.AccountID); !ok {
		c.mu.Unlock()
		return
	}
	c.library.Receive(site, slices.Clone(media))
	delete(c.libraryErrors, site)
	c.mu.Unlock()

	c.logger.Debug("received media library", "site", site.SiteID, "count", len(media))
	c.EmitChange()
}

func (c *MediaCoordinator) receiveLibraryFailed(site SiteRef, err error) {
	c.mu.Lock()
	c.library.FetchFailed(site)
	c.libraryErrors[site] = err
	c.mu.Unlock()

	c.logger.Warn("fetching media library failed", "site", site.SiteID, "error", err)
	c.EmitChange()
}

// publish notifies the observers of u and then the change listeners.
func (c *MediaCoordinator) publish(u Upload) {
	c.mu.Lock()
	var callbacks []func(MediaEvent)
	for _, o := range c.observers {
		if o.uploadID == AllUploads || o.uploadID == u.ID {
			callbacks = append(callbacks, o.callback)
		}
	}
	c.mu.Unlock()

	event := MediaEvent{Upload: u}
	for _, callback := range callbacks {
		callback(event)
	}
	c.EmitChange()
}

// remote returns a remote for site's account, or nil if the account is unknown.
func (c *MediaCoordinator) remote(site SiteRef) MediaRemote {
	account, ok := c.accounts.Account(site.AccountID)
	if !ok {
		return nil
	}
	return c.remotes.MediaRemote(account.Token)
}

func (c *MediaCoordinator) invalidateLibrariesForMissingAccounts() {
	valid := make(map[int64]struct{})
	for _, a := range c.accounts.All() {
		valid[a.ID] = struct{}{}
	}
	keep := func(site SiteRef) bool {
		_, ok := valid[site.AccountID]
		return ok
	}

	c.mu.Lock()
	removed := c.library.Purge(keep)
	for site := range c.libraryErrors {
		if !keep(site) {
			delete(c.libraryErrors, site)
		}
	}
	c.mu.Unlock()

	if len(removed) > 0 {
		c.logger.Debug("invalidated media libraries for missing accounts", "sites", len(removed))
		c.EmitChange()
	}
}
