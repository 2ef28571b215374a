package wp

import "slices"

// PluginState is one plugin installed on a site.
type PluginState struct {
	ID         string // e.g. "akismet/akismet"
	Slug       string
	Name       string
	Version    string
	URL        string
	Active     bool
	Autoupdate bool
}

// StateDescription summarises the plugin's flags for list rendering.
func (p PluginState) StateDescription() string {
	active := "Inactive"
	if p.Active {
		active = "Active"
	}
	autoupdate := "Autoupdates off"
	if p.Autoupdate {
		autoupdate = "Autoupdates on"
	}
	return active + ", " + autoupdate
}

// PluginCapabilities reports what the account may change on the site.
type PluginCapabilities struct {
	Modify     bool
	Autoupdate bool
}

// SitePlugins is the full plugin list of one site.
type SitePlugins struct {
	Plugins      []PluginState
	Capabilities PluginCapabilities
}

// Clone returns a copy that shares no memory with s.
func (s SitePlugins) Clone() SitePlugins {
	return SitePlugins{Plugins: slices.Clone(s.Plugins), Capabilities: s.Capabilities}
}

// Plugin returns the plugin with the given ID.
func (s SitePlugins) Plugin(id string) (PluginState, bool) {
	if i := s.index(id); i >= 0 {
		return s.Plugins[i], true
	}
	return PluginState{}, false
}

func (s SitePlugins) index(id string) int {
	return slices.IndexFunc(s.Plugins, func(p PluginState) bool { return p.ID == id })
}
