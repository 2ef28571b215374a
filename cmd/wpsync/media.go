package main

import (
	"fmt"
	"os"

	"wpsync/internal/app"
	"wpsync/internal/wp"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var mediaCmd = &cobra.Command{
	Use:   "media",
	Short: "Upload to and list a site's media library",
}

// progressPrinter reports upload events on stderr, redrawing one line per
// file on a terminal and printing only state changes otherwise.
func progressPrinter() func(wp.MediaEvent) {
	interactive := term.IsTerminal(int(os.Stderr.Fd()))
	return func(e wp.MediaEvent) {
		switch {
		case e.State == wp.Uploading && interactive:
			fmt.Fprintf(os.Stderr, "\r%-40s %3.0f%%", e.File.Filename, e.Progress*100)
		case e.State == wp.Uploading && e.Progress == 0:
			fmt.Fprintf(os.Stderr, "%s: uploading (attempt %d)\n", e.File.Filename, e.Attempts)
		case e.State == wp.UploadEnded:
			if interactive {
				fmt.Fprint(os.Stderr, "\r")
			}
			fmt.Fprintf(os.Stderr, "%-40s done\n", e.File.Filename)
		case e.State == wp.UploadFailed:
			if interactive {
				fmt.Fprint(os.Stderr, "\r")
			}
			fmt.Fprintf(os.Stderr, "%-40s failed: %v\n", e.File.Filename, e.Err)
		}
	}
}

var mediaUploadCmd = &cobra.Command{
	Use:   "upload SITE_ID FILE...",
	Short: "Upload files to the media library",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		retries, _ := cmd.Flags().GetInt("retries")

		files := make([]wp.LocalMedia, 0, len(args)-1)
		for _, path := range args[1:] {
			file, err := wp.LocalFile(path)
			if err != nil {
				return err
			}
			files = append(files, file)
		}

		return withApp("UploadMedia", func(a *app.App) error {
			site, err := siteFromArgs(cmd, a, args[0])
			if err != nil {
				return err
			}
			uploads, err := a.UploadMedia(cmd.Context(), site, files, retries, progressPrinter())
			for _, u := range uploads {
				if u.State == wp.UploadEnded {
					fmt.Printf("%d\t%s\n", u.Media.ID, u.Media.URL)
				}
			}
			return err
		})
	},
}

var mediaListCmd = &cobra.Command{
	Use:   "list SITE_ID",
	Short: "List the media library, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp("ListMedia", func(a *app.App) error {
			site, err := siteFromArgs(cmd, a, args[0])
			if err != nil {
				return err
			}
			media, err := a.MediaLibrary(cmd.Context(), site, false)
			if err != nil {
				return err
			}

			if len(media) == 0 {
				fmt.Println("Media library is empty.")
				return nil
			}
			for _, m := range media {
				date := "-"
				if !m.Date.IsZero() {
					date = m.Date.Local().Format("2006-01-02")
				}
				fmt.Printf("%-8d %-10s %-24s %s\n", m.ID, date, m.MIMEType, m.File)
			}
			return nil
		})
	},
}

func init() {
	mediaCmd.PersistentFlags().Int64P("account", "a", 0, "Account ID to act as (default: current account)")

	mediaCmd.AddCommand(mediaUploadCmd)
	mediaCmd.AddCommand(mediaListCmd)
	mediaUploadCmd.Flags().Int("retries", 1, "Times to retry a failed upload")
}
