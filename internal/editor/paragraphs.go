package editor

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// RestoreParagraphs rewrites newline-delimited text under root into
// paragraph and break elements, in place.
//
// Runs of adjacent text nodes are merged and split as one buffer; any other
// child ends the run. Directly under root, "\n\n" separates paragraphs and
// each closed paragraph is wrapped in <p>. The trailing unclosed group stays
// bare. Inside elements only single "\n" are turned into <br>. A buffer that
// opens its parent loses one leading "\n", which is pretty-printing rather
// than content.
//
// Raw text elements such as <pre> and <script> are left untouched.
func RestoreParagraphs(root *html.Node) {
	restoreChildren(root, true)
}

func restoreChildren(parent *html.Node, paragraphs bool) {
	children := detachChildren(parent)

	var text strings.Builder
	first := true
	flush := func() {
		if text.Len() == 0 {
			return
		}
		for _, n := range splitText(text.String(), paragraphs, first) {
			parent.AppendChild(n)
		}
		text.Reset()
	}

	for _, c := range children {
		if c.Type == html.TextNode {
			text.WriteString(c.Data)
			continue
		}

		flush()
		if c.Type == html.ElementNode && !preservesWhitespace(c) {
			restoreChildren(c, false)
		}
		parent.AppendChild(c)
		first = false
	}
	flush()
}

func splitText(text string, paragraphs, opening bool) []*html.Node {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	if opening {
		text = strings.TrimPrefix(text, "\n")
	}
	if !paragraphs {
		return splitBreaks(text)
	}

	var nodes []*html.Node
	groups := strings.Split(text, "\n\n")
	for i, group := range groups {
		lines := splitBreaks(group)
		if i == len(groups)-1 {
			nodes = append(nodes, lines...)
			break
		}
		nodes = append(nodes, newElement(atom.P, lines...))
	}
	return nodes
}

// splitBreaks turns every "\n" in text into a <br>. Empty lines produce no
// text node.
func splitBreaks(text string) []*html.Node {
	var nodes []*html.Node
	for i, line := range strings.Split(text, "\n") {
		if i > 0 {
			nodes = append(nodes, newElement(atom.Br))
		}
		if line != "" {
			nodes = append(nodes, newText(line))
		}
	}
	return nodes
}

func preservesWhitespace(n *html.Node) bool {
	switch n.DataAtom {
	case atom.Pre, atom.Textarea, atom.Script, atom.Style:
		return true
	}
	return false
}
