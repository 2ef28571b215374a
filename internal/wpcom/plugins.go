package wpcom

import (
	"context"
	"fmt"
	"net/url"

	"wpsync/internal/wp"
)

// PluginsRemote implements wp.PluginRemote on the v1.2 plugin endpoints.
type PluginsRemote struct {
	client *Client
}

var _ wp.PluginRemote = (*PluginsRemote)(nil)

func NewPluginsRemote(client *Client) *PluginsRemote {
	return &PluginsRemote{client: client}
}

type pluginJSON struct {
	ID         string `json:"id"`
	Slug       string `json:"slug"`
	Name       string `json:"name"`
	Version    string `json:"version"`
	URL        string `json:"plugin_url"`
	Active     bool   `json:"active"`
	Autoupdate bool   `json:"autoupdate"`
}

type sitePluginsJSON struct {
	Plugins      *[]pluginJSON `json:"plugins"`
	Capabilities struct {
		ModifyFiles     bool `json:"modify_files"`
		AutoupdateFiles bool `json:"autoupdate_files"`
	} `json:"file_mod_capabilities"`
}

func sitePluginsPath(siteID int64) string {
	return fmt.Sprintf("%ssites/%d/plugins", apiVersion1_2, siteID)
}

// pluginPath escapes pluginID as a single path segment; plugin IDs contain
// a slash ("akismet/akismet").
func pluginPath(pluginID string, siteID int64) string {
	return sitePluginsPath(siteID) + "/" + url.PathEscape(pluginID)
}

func (r *PluginsRemote) GetPlugins(ctx context.Context, siteID int64) (wp.SitePlugins, error) {
	var payload sitePluginsJSON
	if err := r.client.get(ctx, sitePluginsPath(siteID), nil, &payload); err != nil {
		return wp.SitePlugins{}, err
	}
	if payload.Plugins == nil {
		return wp.SitePlugins{}, fmt.Errorf("plugins of site %d: %w", siteID, ErrDecodingFailure)
	}

	plugins := make([]wp.PluginState, 0, len(*payload.Plugins))
	for _, p := range *payload.Plugins {
		plugins = append(plugins, wp.PluginState{
			ID:         p.ID,
			Slug:       p.Slug,
			Name:       p.Name,
			Version:    p.Version,
			URL:        p.URL,
			Active:     p.Active,
			Autoupdate: p.Autoupdate,
		})
	}
	return wp.SitePlugins{
		Plugins: plugins,
		Capabilities: wp.PluginCapabilities{
			Modify:     payload.Capabilities.ModifyFiles,
			Autoupdate: payload.Capabilities.AutoupdateFiles,
		},
	}, nil
}

func (r *PluginsRemote) ActivatePlugin(ctx context.Context, pluginID string, siteID int64) error {
	return r.update(ctx, pluginID, siteID, map[string]bool{"active": true})
}

func (r *PluginsRemote) DeactivatePlugin(ctx context.Context, pluginID string, siteID int64) error {
	return r.update(ctx, pluginID, siteID, map[string]bool{"active": false})
}

func (r *PluginsRemote) EnableAutoupdates(ctx context.Context, pluginID string, siteID int64) error {
	return r.update(ctx, pluginID, siteID, map[string]bool{"autoupdate": true})
}

func (r *PluginsRemote) DisableAutoupdates(ctx context.Context, pluginID string, siteID int64) error {
	return r.update(ctx, pluginID, siteID, map[string]bool{"autoupdate": false})
}

func (r *PluginsRemote) RemovePlugin(ctx context.Context, pluginID string, siteID int64) error {
	return r.client.post(ctx, pluginPath(pluginID, siteID)+"/delete", nil, nil)
}

func (r *PluginsRemote) update(ctx context.Context, pluginID string, siteID int64, fields map[string]bool) error {
	return r.client.post(ctx, pluginPath(pluginID, siteID), fields, nil)
}
