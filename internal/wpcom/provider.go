package wpcom

import (
	"context"

	"wpsync/internal/wp"
)

// Provider builds token-scoped remotes that share one set of Options.
type Provider struct {
	opts Options
}

var _ wp.RemoteProvider = (*Provider)(nil)

func NewProvider(opts Options) (*Provider, error) {
	if _, err := NewClient(opts, ""); err != nil {
		return nil, err
	}
	return &Provider{opts: opts}, nil
}

func (p *Provider) client(token string) *Client {
	// Options were validated by NewProvider.
	c, _ := NewClient(p.opts, token)
	return c
}

func (p *Provider) PluginRemote(token string) wp.PluginRemote {
	return NewPluginsRemote(p.client(token))
}

func (p *Provider) ActivityRemote(token string) wp.ActivityRemote {
	return NewActivityRemote(p.client(token))
}

func (p *Provider) MediaRemote(token string) wp.MediaRemote {
	return NewMediaRemote(p.client(token))
}

func (p *Provider) PostRemote(token string) wp.PostRemote {
	return NewPostsRemote(p.client(token))
}

// Me fetches the user token belongs to. Used to validate new accounts.
func (p *Provider) Me(ctx context.Context, token string) (Me, error) {
	var me Me
	err := p.client(token).get(ctx, apiVersion1_1+"me", nil, &me)
	return me, err
}

// Me is the user a token belongs to.
type Me struct {
	ID       int64  `json:"ID"`
	Username string `json:"username"`
}
