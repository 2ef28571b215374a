package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"wpsync/internal/config"
	"wpsync/internal/database"
	"wpsync/internal/encryption"
	"wpsync/internal/flux"
	"wpsync/internal/model"
	"wpsync/internal/wp"
	"wpsync/internal/wpcom"
)

// ErrNoCurrentAccount is returned when a command needs an account and none
// was given or selected.
var ErrNoCurrentAccount = errors.New("no current account (run `wpsync account add` or `wpsync account use`)")

// PluginCommand names a change that can be applied to an installed plugin.
type PluginCommand string

const (
	Activate           PluginCommand = "activate"
	Deactivate         PluginCommand = "deactivate"
	EnableAutoupdates  PluginCommand = "enable-autoupdates"
	DisableAutoupdates PluginCommand = "disable-autoupdates"
	Remove             PluginCommand = "remove"
)

func (c PluginCommand) action(pluginID string, site wp.SiteRef) (flux.Action, error) {
	switch c {
	case Activate:
		return wp.ActivatePlugin{ID: pluginID, Site: site}, nil
	case Deactivate:
		return wp.DeactivatePlugin{ID: pluginID, Site: site}, nil
	case EnableAutoupdates:
		return wp.EnablePluginAutoupdates{ID: pluginID, Site: site}, nil
	case DisableAutoupdates:
		return wp.DisablePluginAutoupdates{ID: pluginID, Site: site}, nil
	case Remove:
		return wp.RemovePlugin{ID: pluginID, Site: site}, nil
	default:
		return nil, fmt.Errorf("unknown plugin command %q", string(c))
	}
}

// identityRemote resolves the user behind a token.
type identityRemote interface {
	Me(ctx context.Context, token string) (wpcom.Me, error)
}

// remotes bundles the network-facing dependencies of an App.
type remotes struct {
	provider  wp.RemoteProvider
	directory wp.PluginDirectoryRemote
	identity  identityRemote
}

// App is the application layer between the CLI and the stores.
// It constructs all dependencies from config, exposes blocking operations on
// top of the asynchronous stores, and releases everything on Close.
type App struct {
	cfg       *config.Config
	db        *database.SQLiteDatabase
	registry  *wp.AccountRegistry
	accounts  *wp.AccountManager
	plugins   *wp.PluginStore
	directory *wp.PluginDirectoryService
	activity  *wp.ActivityService
	media     *wp.MediaCoordinator
	posts     *wp.PostService
	identity  identityRemote
	op        *Operation
	logger    *slog.Logger
	logFile   *os.File
	watch     flux.ListenerHandle
	clock     wp.Clock
	closed    bool
}

// NewApp creates a fully wired App from the given config.
// operation identifies the CLI command being run (e.g. "ListPlugins").
// The caller must call Close when done.
func NewApp(cfg *config.Config, operation string) (*App, error) {
	clock := wp.RealClock{}
	op := NewOperation(operation, clock.Now())
	logger, logFile, err := newLogger(cfg.LogDir, op.ID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	adapter := &slogAdapter{l: logger}

	provider, err := wpcom.NewProvider(wpcom.OptionsFromConfig(cfg.API, adapter))
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating api client: %w", err)
	}
	directory, err := wpcom.NewDirectoryClient(cfg.API, adapter)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating plugin directory client: %w", err)
	}

	a, err := newApp(cfg, op, logger, clock, remotes{provider: provider, directory: directory, identity: provider})
	if err != nil {
		logFile.Close()
		return nil, err
	}
	a.logFile = logFile
	return a, nil
}

func newApp(cfg *config.Config, op *Operation, logger *slog.Logger, clock wp.Clock, r remotes) (*App, error) {
	adapter := &slogAdapter{l: logger}

	sealer, err := encryption.NewSealerFromConfig(cfg.Encryption)
	if err != nil {
		return nil, fmt.Errorf("creating sealer: %w", err)
	}
	if !sealer.IsConfigured() {
		return nil, fmt.Errorf("encryption key not found at %s (run `wpsync config init`)", cfg.Encryption.KeyPath)
	}

	db, err := database.NewDatabaseFromConfig(cfg.Database, sealer, adapter)
	if err != nil {
		return nil, fmt.Errorf("creating database: %w", err)
	}
	if err := db.CheckMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database schema out of date (run `wpsync migrate`): %w", err)
	}

	registry := wp.NewAccountRegistry(db, adapter)
	store := wp.NewPluginStore(flux.NewDispatcher[flux.Action](), registry, r.provider, adapter)
	store.SetReleaseWhenIdle(cfg.Store.ReleaseCacheWhenIdle)

	a := &App{
		cfg:       cfg,
		db:        db,
		registry:  registry,
		accounts:  wp.NewAccountManager(db, clock, wp.UUIDGenerator{}, adapter),
		plugins:   store,
		directory: wp.NewPluginDirectoryService(r.directory, adapter),
		activity:  wp.NewActivityService(db, registry, r.provider, clock, wp.UUIDGenerator{}, adapter),
		media:     wp.NewMediaCoordinator(flux.NewDispatcher[flux.Action](), registry, r.provider, wp.UUIDGenerator{}, adapter),
		posts:     wp.NewPostService(registry, r.provider, adapter),
		identity:  r.identity,
		op:        op,
		logger:    logger,
		clock:     clock,
	}
	// Cached plugin lists live as long as this listener.
	a.watch = store.OnChange(func() { logger.Debug("plugin store changed") })

	logger.Info("operation started", "operation", op.Name)
	return a, nil
}

// Config returns the configuration the app was built from.
func (a *App) Config() *config.Config {
	return a.cfg
}

// Fail records err against the running operation.
func (a *App) Fail(err error) {
	a.op.Fail()
	a.logger.Error("operation failed", "operation", a.op.Name, "error", err)
}

// AddAccount resolves the user behind token and stores the account. The
// first account added becomes the current account.
func (a *App) AddAccount(ctx context.Context, token string) (*model.Account, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("token must not be empty")
	}
	me, err := a.identity.Me(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("verifying token: %w", err)
	}
	return a.accounts.AddAccount(me.ID, me.Username, token)
}

// CurrentAccount returns the current account, if any.
func (a *App) CurrentAccount() (wp.Account, bool) {
	return a.registry.Current()
}

// SecondaryAccounts returns every account except the current one.
func (a *App) SecondaryAccounts() []wp.Account {
	return a.registry.Secondary()
}

func (a *App) UseAccount(id int64) error {
	return a.accounts.UseAccount(id)
}

func (a *App) RemoveAccount(id int64) error {
	return a.accounts.RemoveAccount(id)
}

// Site builds the reference for siteID as seen through accountID, or through
// the current account when accountID is zero.
func (a *App) Site(siteID, accountID int64) (wp.SiteRef, error) {
	if accountID == 0 {
		current, ok := a.registry.Current()
		if !ok {
			return wp.SiteRef{}, ErrNoCurrentAccount
		}
		accountID = current.ID
	}
	if _, ok := a.registry.Account(accountID); !ok {
		return wp.SiteRef{}, fmt.Errorf("account %d: %w", accountID, wp.ErrAccountNotFound)
	}
	return wp.SiteRef{SiteID: siteID, AccountID: accountID}, nil
}

// Plugins returns the plugin list of site, fetching it if it is not cached.
func (a *App) Plugins(ctx context.Context, site wp.SiteRef) (wp.SitePlugins, error) {
	if plugins, ok := a.plugins.GetPlugins(site); ok {
		return plugins, nil
	}
	if err := waitIdle(ctx, a.plugins.Wait); err != nil {
		return wp.SitePlugins{}, err
	}
	// A failed fetch leaves the entry absent; reading again would refetch.
	if a.plugins.FetchState(site) == flux.Absent {
		if err := a.plugins.FetchError(site); err != nil {
			return wp.SitePlugins{}, fmt.Errorf("fetching plugins for %s: %w", site, err)
		}
	}
	if plugins, ok := a.plugins.GetPlugins(site); ok {
		return plugins, nil
	}
	return wp.SitePlugins{}, fmt.Errorf("plugins for %s unavailable", site)
}

// ApplyPluginCommand changes one plugin and waits for the remote to confirm.
// The returned error is the MutationError recorded when the remote rejected
// the change; the cached list has already been restored by then.
func (a *App) ApplyPluginCommand(ctx context.Context, site wp.SiteRef, pluginID string, command PluginCommand) (wp.SitePlugins, error) {
	action, err := command.action(pluginID, site)
	if err != nil {
		return wp.SitePlugins{}, err
	}
	plugins, err := a.Plugins(ctx, site)
	if err != nil {
		return wp.SitePlugins{}, err
	}
	if _, ok := plugins.Plugin(pluginID); !ok {
		return wp.SitePlugins{}, fmt.Errorf("%s on %s: %w", pluginID, site, wp.ErrPluginNotFound)
	}

	a.plugins.ClearMutationErrors(site)
	a.logger.Info("applying plugin command", "command", string(command), "plugin", pluginID, "site", site.SiteID)
	a.plugins.Dispatcher().Dispatch(ctx, action)
	if err := waitIdle(ctx, a.plugins.Wait); err != nil {
		return wp.SitePlugins{}, err
	}

	for _, merr := range a.plugins.MutationErrors(site) {
		if merr.PluginID == pluginID {
			return wp.SitePlugins{}, merr
		}
	}
	return a.Plugins(ctx, site)
}

// PluginIcon returns the directory icon URL for slug, looking it up if needed.
// A plugin without an icon yields false and no error.
func (a *App) PluginIcon(ctx context.Context, slug string) (string, bool, error) {
	if icon, ok := a.directory.GetPluginIcon(slug, true); ok {
		return icon, true, nil
	}
	if err := waitIdle(ctx, a.directory.Wait); err != nil {
		return "", false, err
	}
	if icon, ok := a.directory.GetPluginIcon(slug, false); ok {
		return icon, true, nil
	}
	if err := a.directory.LookupError(slug); err != nil {
		return "", false, fmt.Errorf("looking up %s in the plugin directory: %w", slug, err)
	}
	return "", false, nil
}

// SyncActivities copies the activity log of site into the database.
func (a *App) SyncActivities(ctx context.Context, site wp.SiteRef) (wp.SyncResult, error) {
	return a.activity.SyncActivities(ctx, site)
}

// Activities returns stored activities of site, newest first.
func (a *App) Activities(site wp.SiteRef, limit int) ([]*model.Activity, error) {
	return a.activity.Activities(site, limit)
}

// UploadMedia uploads files to site and waits for every upload to end or
// fail. Failed uploads are retried up to retries more times. observe, if
// non-nil, receives every upload event. The error is the last failure of
// the first upload that never succeeded.
func (a *App) UploadMedia(ctx context.Context, site wp.SiteRef, files []wp.LocalMedia, retries int, observe func(wp.MediaEvent)) ([]wp.Upload, error) {
	if observe != nil {
		h := a.media.AddObserver(wp.AllUploads, observe)
		defer a.media.RemoveObserver(h)
	}

	ids := make([]string, 0, len(files))
	for _, file := range files {
		id, err := a.media.AddMedia(site, file)
		if err != nil {
			return nil, fmt.Errorf("uploading %s to %s: %w", file.Filename, site, err)
		}
		ids = append(ids, id)
	}

	for attempt := 0; ; attempt++ {
		if err := waitIdle(ctx, a.media.Wait); err != nil {
			return nil, err
		}
		failed := 0
		for _, id := range ids {
			if u, _ := a.media.Upload(id); u.State == wp.UploadFailed {
				failed++
				if attempt < retries {
					if err := a.media.RetryMedia(id); err != nil {
						return nil, err
					}
				}
			}
		}
		if failed == 0 || attempt >= retries {
			break
		}
	}

	uploads := make([]wp.Upload, 0, len(ids))
	var firstErr error
	for _, id := range ids {
		u, _ := a.media.Upload(id)
		if u.State == wp.UploadFailed && firstErr == nil {
			firstErr = fmt.Errorf("uploading %s to %s: %w", u.File.Filename, site, u.Err)
		}
		uploads = append(uploads, u)
	}
	return uploads, firstErr
}

// MediaLibrary returns the media library of site, newest first. refresh
// fetches it again even when it is cached.
func (a *App) MediaLibrary(ctx context.Context, site wp.SiteRef, refresh bool) ([]wp.Media, error) {
	if refresh {
		a.media.SyncMedia(site)
	} else if media, ok := a.media.GetMediaLibrary(site); ok {
		return media, nil
	}
	if err := waitIdle(ctx, a.media.Wait); err != nil {
		return nil, err
	}
	// A failed refresh keeps the stale copy; report the failure instead.
	if err := a.media.LibraryError(site); err != nil && (refresh || a.media.LibraryState(site) == flux.Absent) {
		return nil, fmt.Errorf("fetching media for %s: %w", site, err)
	}
	if media, ok := a.media.GetMediaLibrary(site); ok {
		return media, nil
	}
	return nil, fmt.Errorf("media for %s unavailable", site)
}

// Posts lists the posts of site matching query.
func (a *App) Posts(ctx context.Context, site wp.SiteRef, query wp.PostQuery) ([]wp.Post, error) {
	return a.posts.Posts(ctx, site, query)
}

// Portfolio lists the portfolio projects of site.
func (a *App) Portfolio(ctx context.Context, site wp.SiteRef, number int) ([]wp.Post, error) {
	return a.posts.Portfolio(ctx, site, number)
}

// Autosave stores an autosave revision of post.
func (a *App) Autosave(ctx context.Context, site wp.SiteRef, post wp.Post) (wp.AutosaveResult, error) {
	return a.posts.Autosave(ctx, site, post)
}

// Close stops the stores, closes the database and logs how the operation ended.
// Calls after the first are no-ops.
func (a *App) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true

	var firstErr error

	a.plugins.RemoveListener(a.watch)
	a.plugins.Close()
	a.media.Close()
	a.directory.Close()
	a.registry.Close()

	if err := a.db.Close(); err != nil {
		firstErr = fmt.Errorf("closing database: %w", err)
	}

	a.logger.Info("operation finished",
		"operation", a.op.Name,
		"status", a.op.Status,
		"elapsed", a.op.Elapsed(a.clock.Now()),
	)
	if a.logFile != nil {
		a.logFile.Close()
	}

	return firstErr
}

// waitIdle runs wait in the background and returns once it returns or ctx
// is done. On cancellation the goroutine outlives the call until wait
// returns, which Close guarantees by cancelling the stores' remote calls.
func waitIdle(ctx context.Context, wait func()) error {
	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Initialize writes a new config to configPath, generates the encryption key
// and creates the database schema.
func Initialize(configPath string, cfg *config.Config) error {
	if err := config.Init(configPath, cfg); err != nil {
		return err
	}

	sealer, err := encryption.NewSealerFromConfig(cfg.Encryption)
	if err != nil {
		return fmt.Errorf("creating sealer: %w", err)
	}
	if !sealer.IsConfigured() {
		if err := sealer.Setup(); err != nil {
			return fmt.Errorf("generating encryption key: %w", err)
		}
	}

	return Migrate(cfg)
}

// Migrate brings the database schema up to date.
func Migrate(cfg *config.Config) error {
	sealer, err := encryption.NewSealerFromConfig(cfg.Encryption)
	if err != nil {
		return fmt.Errorf("creating sealer: %w", err)
	}
	db, err := database.NewDatabaseFromConfig(cfg.Database, sealer, nil)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}
	return nil
}
