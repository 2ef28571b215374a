package testutil

import (
	"context"
	"fmt"
	"io"
	"sync"

	"wpsync/internal/flux"
	"wpsync/internal/wp"
)

// Plugin remote operation names, as counted by FakePluginRemote.Calls.
const (
	OpGetPlugins         = "GetPlugins"
	OpActivate           = "ActivatePlugin"
	OpDeactivate         = "DeactivatePlugin"
	OpEnableAutoupdates  = "EnableAutoupdates"
	OpDisableAutoupdates = "DisableAutoupdates"
	OpRemove             = "RemovePlugin"
)

// gate blocks callers until it is opened. The zero value is open.
type gate struct {
	mu sync.Mutex
	ch chan struct{}
}

func (g *gate) block() func() {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch := make(chan struct{})
	g.ch = ch
	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			if g.ch == ch {
				g.ch = nil
			}
			g.mu.Unlock()
			close(ch)
		})
	}
}

func (g *gate) wait(ctx context.Context) error {
	g.mu.Lock()
	ch := g.ch
	g.mu.Unlock()
	if ch == nil {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FakePluginRemote is an in-memory wp.PluginRemote. Successful mutations are
// applied to its own plugin lists so later fetches observe them.
type FakePluginRemote struct {
	mu       sync.Mutex
	plugins  map[int64]wp.SitePlugins
	errs     map[string]error
	calls    map[string]int
	fetches  gate
	mutation gate
}

var _ wp.PluginRemote = (*FakePluginRemote)(nil)

func NewFakePluginRemote() *FakePluginRemote {
	return &FakePluginRemote{
		plugins: make(map[int64]wp.SitePlugins),
		errs:    make(map[string]error),
		calls:   make(map[string]int),
	}
}

// SetPlugins sets the plugin list returned for siteID.
func (f *FakePluginRemote) SetPlugins(siteID int64, plugins wp.SitePlugins) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plugins[siteID] = plugins.Clone()
}

// Fail makes every later call of op return err. A nil err clears the failure.
func (f *FakePluginRemote) Fail(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errs, op)
		return
	}
	f.errs[op] = err
}

// Calls returns how many times op has been called.
func (f *FakePluginRemote) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// BlockFetches makes GetPlugins wait until the returned function is called.
func (f *FakePluginRemote) BlockFetches() (release func()) {
	return f.fetches.block()
}

// BlockMutations makes every mutation wait until the returned function is called.
func (f *FakePluginRemote) BlockMutations() (release func()) {
	return f.mutation.block()
}

func (f *FakePluginRemote) begin(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	return f.errs[op]
}

func (f *FakePluginRemote) GetPlugins(ctx context.Context, siteID int64) (wp.SitePlugins, error) {
	err := f.begin(OpGetPlugins)
	if werr := f.fetches.wait(ctx); werr != nil {
		return wp.SitePlugins{}, werr
	}
	if err != nil {
		return wp.SitePlugins{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.plugins[siteID].Clone(), nil
}

func (f *FakePluginRemote) ActivatePlugin(ctx context.Context, pluginID string, siteID int64) error {
	return f.mutate(ctx, OpActivate, pluginID, siteID, func(p *wp.PluginState) { p.Active = true })
}

func (f *FakePluginRemote) DeactivatePlugin(ctx context.Context, pluginID string, siteID int64) error {
	return f.mutate(ctx, OpDeactivate, pluginID, siteID, func(p *wp.PluginState) { p.Active = false })
}

func (f *FakePluginRemote) EnableAutoupdates(ctx context.Context, pluginID string, siteID int64) error {
	return f.mutate(ctx, OpEnableAutoupdates, pluginID, siteID, func(p *wp.PluginState) { p.Autoupdate = true })
}

func (f *FakePluginRemote) DisableAutoupdates(ctx context.Context, pluginID string, siteID int64) error {
	return f.mutate(ctx, OpDisableAutoupdates, pluginID, siteID, func(p *wp.PluginState) { p.Autoupdate = false })
}

func (f *FakePluginRemote) RemovePlugin(ctx context.Context, pluginID string, siteID int64) error {
	err := f.begin(OpRemove)
	if werr := f.mutation.wait(ctx); werr != nil {
		return werr
	}
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	site := f.plugins[siteID]
	kept := site.Plugins[:0:0]
	for _, p := range site.Plugins {
		if p.ID != pluginID {
			kept = append(kept, p)
		}
	}
	site.Plugins = kept
	f.plugins[siteID] = site
	return nil
}

func (f *FakePluginRemote) mutate(ctx context.Context, op, pluginID string, siteID int64, change func(*wp.PluginState)) error {
	err := f.begin(op)
	if werr := f.mutation.wait(ctx); werr != nil {
		return werr
	}
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	site := f.plugins[siteID].Clone()
	for i := range site.Plugins {
		if site.Plugins[i].ID == pluginID {
			change(&site.Plugins[i])
		}
	}
	f.plugins[siteID] = site
	return nil
}

// FakeActivityRemote is an in-memory wp.ActivityRemote.
type FakeActivityRemote struct {
	mu         sync.Mutex
	activities map[int64][]wp.RemoteActivity
	err        error
	calls      int
}

var _ wp.ActivityRemote = (*FakeActivityRemote)(nil)

func NewFakeActivityRemote() *FakeActivityRemote {
	return &FakeActivityRemote{activities: make(map[int64][]wp.RemoteActivity)}
}

func (f *FakeActivityRemote) SetActivities(siteID int64, activities ...wp.RemoteActivity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activities[siteID] = activities
}

func (f *FakeActivityRemote) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *FakeActivityRemote) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *FakeActivityRemote) GetActivityForSite(_ context.Context, siteID int64) ([]wp.RemoteActivity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return append([]wp.RemoteActivity(nil), f.activities[siteID]...), nil
}

// FakeMediaRemote is an in-memory wp.MediaRemote. Uploads read the whole
// file, report progress at the halfway mark and at the end, and are added
// to the front of the site's library.
type FakeMediaRemote struct {
	mu         sync.Mutex
	library    map[int64][]wp.Media
	uploaded   map[string][]byte
	uploadErr  error
	libraryErr error
	uploads    int
	fetches    int
	nextID     int64
	gate       gate
}

var _ wp.MediaRemote = (*FakeMediaRemote)(nil)

func NewFakeMediaRemote() *FakeMediaRemote {
	return &FakeMediaRemote{
		library:  make(map[int64][]wp.Media),
		uploaded: make(map[string][]byte),
		nextID:   100,
	}
}

func (f *FakeMediaRemote) SetLibrary(siteID int64, media ...wp.Media) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.library[siteID] = media
}

// FailUploads makes later uploads return err. A nil err clears the failure.
func (f *FakeMediaRemote) FailUploads(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploadErr = err
}

// FailLibrary makes later library fetches return err.
func (f *FakeMediaRemote) FailLibrary(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.libraryErr = err
}

// BlockUploads makes uploads wait after the halfway mark until the returned
// function is called.
func (f *FakeMediaRemote) BlockUploads() (release func()) {
	return f.gate.block()
}

// Uploaded returns the bytes received for filename by the last successful
// upload.
func (f *FakeMediaRemote) Uploaded(filename string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.uploaded[filename]
	return data, ok
}

func (f *FakeMediaRemote) UploadCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploads
}

func (f *FakeMediaRemote) LibraryCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

func (f *FakeMediaRemote) UploadMedia(ctx context.Context, siteID int64, file wp.LocalMedia, progress func(sent, total int64)) (wp.Media, error) {
	f.mu.Lock()
	f.uploads++
	err := f.uploadErr
	f.mu.Unlock()

	src, oerr := file.Open()
	if oerr != nil {
		return wp.Media{}, oerr
	}
	data, rerr := io.ReadAll(src)
	_ = src.Close()
	if rerr != nil {
		return wp.Media{}, rerr
	}

	total := int64(len(data))
	progress(total/2, total)
	if werr := f.gate.wait(ctx); werr != nil {
		return wp.Media{}, werr
	}
	if err != nil {
		return wp.Media{}, err
	}
	progress(total, total)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	media := wp.Media{
		ID:       f.nextID,
		URL:      "https://example.files.wordpress.com/" + file.Filename,
		File:     file.Filename,
		MIMEType: file.MIMEType,
		Title:    file.Filename,
	}
	f.uploaded[file.Filename] = data
	f.library[siteID] = append([]wp.Media{media}, f.library[siteID]...)
	return media, nil
}

func (f *FakeMediaRemote) GetMediaLibrary(_ context.Context, siteID int64) ([]wp.Media, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.libraryErr != nil {
		return nil, f.libraryErr
	}
	return append([]wp.Media(nil), f.library[siteID]...), nil
}

// FakePostRemote is an in-memory wp.PostRemote.
type FakePostRemote struct {
	mu        sync.Mutex
	posts     map[int64][]wp.Post
	autosaves []wp.Post
	queries   []wp.PostQuery
	err       error
}

var _ wp.PostRemote = (*FakePostRemote)(nil)

func NewFakePostRemote() *FakePostRemote {
	return &FakePostRemote{posts: make(map[int64][]wp.Post)}
}

func (f *FakePostRemote) SetPosts(siteID int64, posts ...wp.Post) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts[siteID] = posts
}

func (f *FakePostRemote) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// Autosaves returns every post autosaved so far, in order.
func (f *FakePostRemote) Autosaves() []wp.Post {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]wp.Post(nil), f.autosaves...)
}

// Queries returns every query GetPosts received, in order.
func (f *FakePostRemote) Queries() []wp.PostQuery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]wp.PostQuery(nil), f.queries...)
}

// GetPosts filters by type, "post" when unset, and by status when set.
func (f *FakePostRemote) GetPosts(_ context.Context, siteID int64, query wp.PostQuery) ([]wp.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	if f.err != nil {
		return nil, f.err
	}

	postType := query.Type
	if postType == "" {
		postType = "post"
	}
	var posts []wp.Post
	for _, p := range f.posts[siteID] {
		if p.Type != postType || (query.Status != "" && p.Status != query.Status) {
			continue
		}
		if query.Number > 0 && len(posts) == query.Number {
			break
		}
		posts = append(posts, p)
	}
	return posts, nil
}

func (f *FakePostRemote) Autosave(_ context.Context, siteID int64, post wp.Post) (wp.AutosaveResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return wp.AutosaveResult{}, f.err
	}
	found := false
	for _, p := range f.posts[siteID] {
		found = found || p.ID == post.ID
	}
	if !found {
		return wp.AutosaveResult{}, wp.ErrPostNotSaved
	}
	f.autosaves = append(f.autosaves, post)
	return wp.AutosaveResult{
		RevisionID: 1000 + int64(len(f.autosaves)),
		PostID:     post.ID,
		PreviewURL: fmt.Sprintf("https://example.wordpress.com/?p=%d&preview=true", post.ID),
	}, nil
}

// FakeRemoteProvider hands out the same fake remotes for every token and
// records the tokens it was asked for.
type FakeRemoteProvider struct {
	Plugins  *FakePluginRemote
	Activity *FakeActivityRemote
	Media    *FakeMediaRemote
	Posts    *FakePostRemote

	mu     sync.Mutex
	tokens []string
}

var _ wp.RemoteProvider = (*FakeRemoteProvider)(nil)

func NewFakeRemoteProvider() *FakeRemoteProvider {
	return &FakeRemoteProvider{
		Plugins:  NewFakePluginRemote(),
		Activity: NewFakeActivityRemote(),
		Media:    NewFakeMediaRemote(),
		Posts:    NewFakePostRemote(),
	}
}

func (p *FakeRemoteProvider) PluginRemote(token string) wp.PluginRemote {
	p.record(token)
	return p.Plugins
}

func (p *FakeRemoteProvider) ActivityRemote(token string) wp.ActivityRemote {
	p.record(token)
	return p.Activity
}

func (p *FakeRemoteProvider) MediaRemote(token string) wp.MediaRemote {
	p.record(token)
	return p.Media
}

func (p *FakeRemoteProvider) PostRemote(token string) wp.PostRemote {
	p.record(token)
	return p.Posts
}

// Tokens returns every token requested so far, in order.
func (p *FakeRemoteProvider) Tokens() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.tokens...)
}

func (p *FakeRemoteProvider) record(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokens = append(p.tokens, token)
}

// FakeDirectoryRemote is an in-memory wp.PluginDirectoryRemote.
type FakeDirectoryRemote struct {
	mu    sync.Mutex
	infos map[string]wp.PluginInfo
	err   error
	calls map[string]int
	gate  gate
}

var _ wp.PluginDirectoryRemote = (*FakeDirectoryRemote)(nil)

func NewFakeDirectoryRemote() *FakeDirectoryRemote {
	return &FakeDirectoryRemote{
		infos: make(map[string]wp.PluginInfo),
		calls: make(map[string]int),
	}
}

func (f *FakeDirectoryRemote) SetInfo(info wp.PluginInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.infos[info.Slug] = info
}

func (f *FakeDirectoryRemote) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *FakeDirectoryRemote) Calls(slug string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[slug]
}

// Block makes lookups wait until the returned function is called.
func (f *FakeDirectoryRemote) Block() (release func()) {
	return f.gate.block()
}

func (f *FakeDirectoryRemote) FetchPluginInfo(ctx context.Context, slug string) (wp.PluginInfo, error) {
	f.mu.Lock()
	f.calls[slug]++
	err := f.err
	f.mu.Unlock()

	if werr := f.gate.wait(ctx); werr != nil {
		return wp.PluginInfo{}, werr
	}
	if err != nil {
		return wp.PluginInfo{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.infos[slug]
	if !ok {
		return wp.PluginInfo{Slug: slug}, nil
	}
	return info, nil
}

// FakeAccounts is a wp.AccountSource whose account list is set directly.
type FakeAccounts struct {
	flux.Emitter

	mu       sync.Mutex
	accounts []wp.Account
}

var _ wp.AccountSource = (*FakeAccounts)(nil)

func NewFakeAccounts(accounts ...wp.Account) *FakeAccounts {
	return &FakeAccounts{accounts: accounts}
}

// Set replaces the account list and notifies listeners.
func (f *FakeAccounts) Set(accounts ...wp.Account) {
	f.mu.Lock()
	f.accounts = accounts
	f.mu.Unlock()
	f.EmitChange()
}

func (f *FakeAccounts) Account(id int64) (wp.Account, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.accounts {
		if a.ID == id {
			return a, true
		}
	}
	return wp.Account{}, false
}

func (f *FakeAccounts) All() []wp.Account {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]wp.Account(nil), f.accounts...)
}
