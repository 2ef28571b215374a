package editor

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// SerializeCalypso renders the children of root in the newline-delimited
// form the legacy web editor stores: paragraphs are separated by "\n\n",
// <br> becomes "\n" and all other markup is kept as HTML. Nothing is
// appended after the last paragraph.
//
// SerializeCalypso is the inverse of RestoreParagraphs for trees made only of
// paragraphs, breaks and inline content.
func SerializeCalypso(root *html.Node) string {
	var b strings.Builder
	serializeChildren(&b, root)
	return b.String()
}

func serializeChildren(b *strings.Builder, parent *html.Node) {
	start := b.Len()
	afterParagraph := false
	for c := parent.FirstChild; c != nil; c = c.NextSibling {
		if isElement(c, atom.P) {
			if b.Len() > start {
				b.WriteString("\n\n")
			}
			serializeChildren(b, c)
			afterParagraph = true
			continue
		}
		if afterParagraph {
			b.WriteString("\n\n")
			afterParagraph = false
		}
		serializeNode(b, c)
	}
}

func serializeNode(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(html.EscapeString(n.Data))
	case html.ElementNode:
		switch {
		case n.DataAtom == atom.Br:
			b.WriteString("\n")
		case preservesWhitespace(n):
			var buf bytes.Buffer
			if err := html.Render(&buf, n); err == nil {
				b.Write(buf.Bytes())
			}
		default:
			writeStartTag(b, n)
			if isVoid(n) {
				return
			}
			serializeChildren(b, n)
			b.WriteString("</" + n.Data + ">")
		}
	case html.CommentNode:
		b.WriteString("<!--" + n.Data + "-->")
	}
}

func writeStartTag(b *strings.Builder, n *html.Node) {
	b.WriteString("<" + n.Data)
	for _, a := range n.Attr {
		b.WriteString(" ")
		if a.Namespace != "" {
			b.WriteString(a.Namespace + ":")
		}
		b.WriteString(a.Key + `="` + html.EscapeString(a.Val) + `"`)
	}
	b.WriteString(">")
}

func isVoid(n *html.Node) bool {
	switch n.DataAtom {
	case atom.Area, atom.Base, atom.Br, atom.Col, atom.Embed, atom.Hr, atom.Img,
		atom.Input, atom.Link, atom.Meta, atom.Source, atom.Track, atom.Wbr:
		return true
	}
	return false
}
