package wpcom

import (
	"context"
	"fmt"
	"net/url"

	"wpsync/internal/config"
	"wpsync/internal/wp"
)

// DirectoryClient implements wp.PluginDirectoryRemote against the public
// plugins API. It sends no credentials.
type DirectoryClient struct {
	client *Client
}

var _ wp.PluginDirectoryRemote = (*DirectoryClient)(nil)

// NewDirectoryClient returns a DirectoryClient for cfg.DirectoryURL.
func NewDirectoryClient(cfg config.APIConfig, logger wp.Logger) (*DirectoryClient, error) {
	opts := OptionsFromConfig(cfg, logger)
	opts.BaseURL = cfg.DirectoryURL
	if opts.BaseURL == "" {
		opts.BaseURL = config.DefaultDirectoryURL
	}
	client, err := NewClient(opts, "")
	if err != nil {
		return nil, err
	}
	return &DirectoryClient{client: client}, nil
}

type pluginInfoJSON struct {
	Name  *string           `json:"name"`
	Slug  *string           `json:"slug"`
	Icons map[string]string `json:"icons"`
}

func (d *DirectoryClient) FetchPluginInfo(ctx context.Context, slug string) (wp.PluginInfo, error) {
	query := url.Values{}
	query.Set("fields", "icons,-sections,-contributors,-tags")

	var payload pluginInfoJSON
	path := "plugins/info/1.0/" + url.PathEscape(slug) + ".json"
	if err := d.client.get(ctx, path, query, &payload); err != nil {
		return wp.PluginInfo{}, err
	}
	if payload.Name == nil || payload.Slug == nil {
		return wp.PluginInfo{}, fmt.Errorf("plugin info for %q: %w", slug, ErrDecodingFailure)
	}

	return wp.PluginInfo{
		Slug:    *payload.Slug,
		Name:    *payload.Name,
		IconURL: payload.Icons["1x"],
	}, nil
}
