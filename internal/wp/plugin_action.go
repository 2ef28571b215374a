package wp

// Plugin actions. The first five are dispatched by callers; the last two are
// dispatched by the store itself when a fetch completes.

type ActivatePlugin struct {
	ID   string
	Site SiteRef
}

type DeactivatePlugin struct {
	ID   string
	Site SiteRef
}

type EnablePluginAutoupdates struct {
	ID   string
	Site SiteRef
}

type DisablePluginAutoupdates struct {
	ID   string
	Site SiteRef
}

type RemovePlugin struct {
	ID   string
	Site SiteRef
}

type ReceivePlugins struct {
	Site    SiteRef
	Plugins SitePlugins
}

type ReceivePluginsFailed struct {
	Site SiteRef
	Err  error
}
