package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"wpsync/internal/app"
	"wpsync/internal/editor"
	"wpsync/internal/wp"

	"github.com/spf13/cobra"
)

var postsCmd = &cobra.Command{
	Use:   "posts",
	Short: "List posts and portfolio projects and autosave edits",
}

func printPosts(posts []wp.Post, empty string) {
	if len(posts) == 0 {
		fmt.Println(empty)
		return
	}
	for _, p := range posts {
		title := p.Title
		if title == "" {
			title = "(no title)"
		}
		fmt.Printf("%-8d %-10s %-8s %s\n", p.ID, p.Date.Local().Format("2006-01-02"), p.Status, title)
	}
}

var postsListCmd = &cobra.Command{
	Use:   "list SITE_ID",
	Short: "List posts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		postType, _ := cmd.Flags().GetString("type")
		status, _ := cmd.Flags().GetString("status")
		number, _ := cmd.Flags().GetInt("limit")

		return withApp("ListPosts", func(a *app.App) error {
			site, err := siteFromArgs(cmd, a, args[0])
			if err != nil {
				return err
			}
			posts, err := a.Posts(cmd.Context(), site, wp.PostQuery{Type: postType, Status: status, Number: number})
			if err != nil {
				return err
			}
			printPosts(posts, "No posts found.")
			return nil
		})
	},
}

var postsPortfolioCmd = &cobra.Command{
	Use:   "portfolio SITE_ID",
	Short: "List portfolio projects",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		number, _ := cmd.Flags().GetInt("limit")

		return withApp("ListPortfolio", func(a *app.App) error {
			site, err := siteFromArgs(cmd, a, args[0])
			if err != nil {
				return err
			}
			projects, err := a.Portfolio(cmd.Context(), site, number)
			if err != nil {
				return err
			}
			printPosts(projects, "No portfolio projects found.")
			return nil
		})
	},
}

var postsAutosaveCmd = &cobra.Command{
	Use:   "autosave SITE_ID POST_ID",
	Short: "Store content from stdin as an autosave of a post",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		postID, err := parseID("post", args[1])
		if err != nil {
			return err
		}
		title, _ := cmd.Flags().GetString("title")
		excerpt, _ := cmd.Flags().GetString("excerpt")
		restore, _ := cmd.Flags().GetBool("restore")

		src, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
		content := string(src)
		if restore {
			if content, err = editor.NewConverter().Restore(content, editor.Options{}); err != nil {
				return err
			}
		}

		return withApp("AutosavePost", func(a *app.App) error {
			site, err := siteFromArgs(cmd, a, args[0])
			if err != nil {
				return err
			}
			post := wp.Post{ID: postID, Title: strings.TrimSpace(title), Content: content, Excerpt: excerpt}
			result, err := a.Autosave(cmd.Context(), site, post)
			if err != nil {
				return err
			}
			fmt.Printf("Saved revision %d of post %d\n", result.RevisionID, result.PostID)
			if result.PreviewURL != "" {
				fmt.Printf("Preview: %s\n", result.PreviewURL)
			}
			return nil
		})
	},
}

func init() {
	postsCmd.PersistentFlags().Int64P("account", "a", 0, "Account ID to act as (default: current account)")

	postsCmd.AddCommand(postsListCmd)
	postsCmd.AddCommand(postsPortfolioCmd)
	postsCmd.AddCommand(postsAutosaveCmd)

	postsListCmd.Flags().String("type", "", "Post type (default: post)")
	postsListCmd.Flags().String("status", "", "Only posts with this status, e.g. draft")
	postsListCmd.Flags().IntP("limit", "n", 20, "Maximum number of posts to show")
	postsPortfolioCmd.Flags().IntP("limit", "n", 20, "Maximum number of projects to show")

	postsAutosaveCmd.Flags().String("title", "", "Post title to save with the content")
	postsAutosaveCmd.Flags().String("excerpt", "", "Post excerpt to save with the content")
	postsAutosaveCmd.Flags().Bool("restore", false, "Convert newline-delimited text to <p>/<br> HTML first")
}
