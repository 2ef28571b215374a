package wp

import (
	"context"
	"time"
)

// PluginRemote talks to a site's plugin endpoints on behalf of one account.
// Each call returns exactly once with either success or an opaque error.
type PluginRemote interface {
	GetPlugins(ctx context.Context, siteID int64) (SitePlugins, error)
	ActivatePlugin(ctx context.Context, pluginID string, siteID int64) error
	DeactivatePlugin(ctx context.Context, pluginID string, siteID int64) error
	EnableAutoupdates(ctx context.Context, pluginID string, siteID int64) error
	DisableAutoupdates(ctx context.Context, pluginID string, siteID int64) error
	RemovePlugin(ctx context.Context, pluginID string, siteID int64) error
}

// ActivityRemote reads a site's activity log on behalf of one account.
type ActivityRemote interface {
	GetActivityForSite(ctx context.Context, siteID int64) ([]RemoteActivity, error)
}

// MediaRemote uploads to and lists a site's media library.
type MediaRemote interface {
	// UploadMedia sends file and reports progress as bytes of file sent so
	// far out of total. progress may be called from another goroutine.
	UploadMedia(ctx context.Context, siteID int64, file LocalMedia, progress func(sent, total int64)) (Media, error)
	GetMediaLibrary(ctx context.Context, siteID int64) ([]Media, error)
}

// PostRemote reads posts and stores autosaves.
type PostRemote interface {
	GetPosts(ctx context.Context, siteID int64, query PostQuery) ([]Post, error)
	Autosave(ctx context.Context, siteID int64, post Post) (AutosaveResult, error)
}

// RemoteProvider builds remotes authenticated with an account token.
type RemoteProvider interface {
	PluginRemote(token string) PluginRemote
	ActivityRemote(token string) ActivityRemote
	MediaRemote(token string) MediaRemote
	PostRemote(token string) PostRemote
}

// PluginDirectoryRemote looks plugins up in the public plugin directory.
type PluginDirectoryRemote interface {
	FetchPluginInfo(ctx context.Context, slug string) (PluginInfo, error)
}

// PluginInfo is a plugin directory entry.
type PluginInfo struct {
	Slug    string
	Name    string
	IconURL string // empty when the directory has no icon
}

// RemoteActivity is an activity log entry as returned by the API.
type RemoteActivity struct {
	ActivityID     int64
	SiteID         int64
	Type           string
	ActionTrigger  string
	JetpackVersion string
	Action         string
	Group          string
	Name           string
	Actor          RemoteActivityActor
	Objects        map[string]map[string]string
	Timestamp      time.Time
}

// RemoteActivityActor describes who performed a RemoteActivity.
type RemoteActivityActor struct {
	DisplayName string
	AvatarURL   string
	Role        string
}
