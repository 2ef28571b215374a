package main

import (
	"fmt"

	"wpsync/internal/app"

	"github.com/spf13/cobra"
)

var activityCmd = &cobra.Command{
	Use:   "activity",
	Short: "Sync and view site activity logs",
}

var activitySyncCmd = &cobra.Command{
	Use:   "sync SITE_ID",
	Short: "Copy a site's activity log into the local database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp("SyncActivity", func(a *app.App) error {
			site, err := siteFromArgs(cmd, a, args[0])
			if err != nil {
				return err
			}
			result, err := a.SyncActivities(cmd.Context(), site)
			if err != nil {
				return err
			}
			fmt.Printf("Fetched %d, new %d, updated %d\n", result.Fetched, result.Inserted, result.Updated)
			return nil
		})
	},
}

var activityListCmd = &cobra.Command{
	Use:   "list SITE_ID",
	Short: "Show synced activity, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		return withApp("ListActivity", func(a *app.App) error {
			site, err := siteFromArgs(cmd, a, args[0])
			if err != nil {
				return err
			}
			activities, err := a.Activities(site, limit)
			if err != nil {
				return err
			}

			if len(activities) == 0 {
				fmt.Println("No activity synced.")
				return nil
			}

			for _, act := range activities {
				actor := act.Actor.DisplayName
				if actor == "" {
					actor = "-"
				}
				fmt.Printf("%s  %-30s  %s\n",
					act.Timestamp.Local().Format("2006-01-02 15:04:05"),
					act.Name,
					actor,
				)
			}
			return nil
		})
	},
}

func init() {
	activityCmd.PersistentFlags().Int64P("account", "a", 0, "Account ID to act as (default: current account)")

	activityCmd.AddCommand(activitySyncCmd)
	activityCmd.AddCommand(activityListCmd)
	activityListCmd.Flags().IntP("limit", "n", 50, "Maximum number of entries to show (0 for all)")
}
