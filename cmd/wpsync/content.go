package main

import (
	"fmt"
	"io"
	"os"

	"wpsync/internal/editor"

	"github.com/spf13/cobra"
)

var contentCmd = &cobra.Command{
	Use:   "content",
	Short: "Convert post content between editor formats (stdin to stdout)",
}

// contentCommand builds a filter subcommand around one converter method.
func contentCommand(use, short string, convert func(*editor.Converter, string, editor.Options) (string, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sanitize, _ := cmd.Flags().GetBool("sanitize")

			src, err := io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("reading stdin: %w", err)
			}

			out, err := convert(editor.NewConverter(), string(src), editor.Options{Sanitize: sanitize})
			if err != nil {
				return err
			}
			_, err = io.WriteString(os.Stdout, out)
			return err
		},
	}
	cmd.Flags().Bool("sanitize", false, "Strip markup outside the user content allowlist first")
	return cmd
}

func init() {
	contentCmd.AddCommand(contentCommand("restore", "Turn newline-delimited text into <p>/<br> HTML", (*editor.Converter).Restore))
	contentCmd.AddCommand(contentCommand("calypso", "Serialize HTML back to newline-delimited text", (*editor.Converter).Calypso))
	contentCmd.AddCommand(contentCommand("markdown", "Restore paragraphs and convert the result to Markdown", (*editor.Converter).Markdown))
}
