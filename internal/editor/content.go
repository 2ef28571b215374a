package editor

import (
	"fmt"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

// Options controls the content conversions.
type Options struct {
	// Sanitize strips markup outside the user-generated-content allowlist
	// before anything else runs.
	Sanitize bool
}

// Converter runs the content conversions. It is safe for concurrent use.
type Converter struct {
	policy   *bluemonday.Policy
	markdown *converter.Converter
}

func NewConverter() *Converter {
	return &Converter{
		policy: bluemonday.UGCPolicy(),
		markdown: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

// Sanitize removes scripts, event handlers and other markup that is not
// safe to store.
func (c *Converter) Sanitize(src string) string {
	return c.policy.Sanitize(src)
}

// Restore converts newline-delimited content into paragraph/break HTML.
func (c *Converter) Restore(src string, opts Options) (string, error) {
	root, err := c.parse(src, opts)
	if err != nil {
		return "", err
	}
	RestoreParagraphs(root)
	out, err := Render(root)
	if err != nil {
		return "", fmt.Errorf("rendering restored content: %w", err)
	}
	return out, nil
}

// Calypso converts paragraph/break HTML into newline-delimited content.
func (c *Converter) Calypso(src string, opts Options) (string, error) {
	root, err := c.parse(src, opts)
	if err != nil {
		return "", err
	}
	return SerializeCalypso(root), nil
}

// Markdown restores paragraphs and converts the result to Markdown.
func (c *Converter) Markdown(src string, opts Options) (string, error) {
	restored, err := c.Restore(src, opts)
	if err != nil {
		return "", err
	}
	md, err := c.markdown.ConvertString(restored)
	if err != nil {
		return "", fmt.Errorf("converting to markdown: %w", err)
	}
	return md, nil
}

func (c *Converter) parse(src string, opts Options) (*html.Node, error) {
	if opts.Sanitize {
		src = c.Sanitize(src)
	}
	return Parse(src)
}
