package main

import (
	"fmt"

	"wpsync/internal/app"
	"wpsync/internal/wp"

	"github.com/spf13/cobra"
)

var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "Manage the plugins installed on a site",
}

// siteFromArgs resolves SITE_ID and the --account flag against the app.
func siteFromArgs(cmd *cobra.Command, a *app.App, rawSite string) (wp.SiteRef, error) {
	siteID, err := parseID("site", rawSite)
	if err != nil {
		return wp.SiteRef{}, err
	}
	accountID, _ := cmd.Flags().GetInt64("account")
	return a.Site(siteID, accountID)
}

func printPlugins(plugins wp.SitePlugins) {
	if len(plugins.Plugins) == 0 {
		fmt.Println("No plugins installed.")
		return
	}
	for _, p := range plugins.Plugins {
		fmt.Printf("%-40s %-10s %s\n", p.ID, p.Version, p.StateDescription())
	}
	if !plugins.Capabilities.Modify {
		fmt.Println("\nThis site does not allow plugin files to be modified.")
	}
}

var pluginsListCmd = &cobra.Command{
	Use:   "list SITE_ID",
	Short: "List installed plugins",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp("ListPlugins", func(a *app.App) error {
			site, err := siteFromArgs(cmd, a, args[0])
			if err != nil {
				return err
			}
			plugins, err := a.Plugins(cmd.Context(), site)
			if err != nil {
				return err
			}
			printPlugins(plugins)
			return nil
		})
	},
}

// pluginCommand builds a subcommand that applies command to one plugin.
func pluginCommand(use, short, operation string, command app.PluginCommand) *cobra.Command {
	return &cobra.Command{
		Use:   use + " SITE_ID PLUGIN_ID",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(operation, func(a *app.App) error {
				site, err := siteFromArgs(cmd, a, args[0])
				if err != nil {
					return err
				}
				plugins, err := a.ApplyPluginCommand(cmd.Context(), site, args[1], command)
				if err != nil {
					return err
				}
				if p, ok := plugins.Plugin(args[1]); ok {
					fmt.Printf("%s: %s\n", p.ID, p.StateDescription())
				} else {
					fmt.Printf("%s: removed\n", args[1])
				}
				return nil
			})
		},
	}
}

var pluginsAutoupdateCmd = &cobra.Command{
	Use:   "autoupdate",
	Short: "Turn automatic plugin updates on or off",
}

var pluginsIconCmd = &cobra.Command{
	Use:   "icon SLUG",
	Short: "Look up a plugin's icon in the plugin directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp("PluginIcon", func(a *app.App) error {
			icon, ok, err := a.PluginIcon(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				fmt.Printf("No icon for %s.\n", args[0])
				return nil
			}
			fmt.Println(icon)
			return nil
		})
	},
}

func init() {
	pluginsCmd.PersistentFlags().Int64P("account", "a", 0, "Account ID to act as (default: current account)")

	pluginsCmd.AddCommand(pluginsListCmd)
	pluginsCmd.AddCommand(pluginCommand("activate", "Activate a plugin", "ActivatePlugin", app.Activate))
	pluginsCmd.AddCommand(pluginCommand("deactivate", "Deactivate a plugin", "DeactivatePlugin", app.Deactivate))
	pluginsCmd.AddCommand(pluginCommand("remove", "Remove a plugin from the site", "RemovePlugin", app.Remove))
	pluginsCmd.AddCommand(pluginsAutoupdateCmd)
	pluginsAutoupdateCmd.AddCommand(pluginCommand("enable", "Enable automatic updates", "EnableAutoupdates", app.EnableAutoupdates))
	pluginsAutoupdateCmd.AddCommand(pluginCommand("disable", "Disable automatic updates", "DisableAutoupdates", app.DisableAutoupdates))
	pluginsCmd.AddCommand(pluginsIconCmd)
}
