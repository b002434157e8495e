package ingest

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"

	"github.com/attacklens/attacklens/taskerr"
)

// strippedElements never contribute text.
var strippedElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"iframe":   true,
	"svg":      true,
}

// containerPreference orders the content containers tried before falling
// back to body. Entries are (tag, id, class) predicates.
type containerRule struct {
	tag   string
	id    string
	class string
}

var containerPreference = []containerRule{
	{tag: "main"},
	{tag: "article"},
	{id: "content"},
	{id: "main"},
	{class: "content"},
	{class: "main"},
}

// extractHTML renders the main content of an HTML page as structured plain
// text: headings and paragraphs on their own lines, list items prefixed
// with "- ", table rows as pipe-joined cells. When the structured rendering
// is shorter than 200 characters the container's full text is used instead.
func extractHTML(data []byte) (*extracted, error) {
	const op = "ingest.extractHTML"

	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, taskerr.NewExtractionFailed(op, err)
	}

	container := findContainer(doc)
	if container == nil {
		container = doc
	}

	var b strings.Builder
	renderStructured(container, &b)
	text := b.String()

	if len(strings.TrimSpace(text)) < 200 {
		text = fullText(container)
	}

	return &extracted{
		text:  text,
		title: findTitle(doc),
	}, nil
}

// findContainer returns the most specific content container in preference
// order, or the body element.
func findContainer(doc *html.Node) *html.Node {
	for _, rule := range containerPreference {
		if n := findNode(doc, rule); n != nil {
			return n
		}
	}
	return findNode(doc, containerRule{tag: "body"})
}

func findNode(n *html.Node, rule containerRule) *html.Node {
	if n.Type == html.ElementNode {
		switch {
		case rule.tag != "" && n.Data == rule.tag:
			return n
		case rule.id != "" && attrValue(n, "id") == rule.id:
			return n
		case rule.class != "" && hasClass(n, rule.class):
			return n
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findNode(c, rule); found != nil {
			return found
		}
	}
	return nil
}

func attrValue(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attrValue(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

// renderStructured walks the container emitting one line per block element.
func renderStructured(n *html.Node, b *strings.Builder) {
	if n.Type == html.ElementNode {
		if strippedElements[n.Data] {
			return
		}
		switch n.Data {
		case "h1", "h2", "h3", "h4", "h5", "h6", "p":
			writeLine(b, nodeText(n))
			return
		case "li":
			if text := nodeText(n); text != "" {
				writeLine(b, "- "+text)
			}
			return
		case "tr":
			var cells []string
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.ElementNode && (c.Data == "td" || c.Data == "th") {
					if text := nodeText(c); text != "" {
						cells = append(cells, text)
					}
				}
			}
			if len(cells) > 0 {
				writeLine(b, strings.Join(cells, " | "))
			}
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		renderStructured(c, b)
	}
}

func writeLine(b *strings.Builder, line string) {
	if line == "" {
		return
	}
	if b.Len() > 0 {
		b.WriteString("\n")
	}
	b.WriteString(line)
}

// nodeText concatenates the text nodes under n, skipping stripped elements
// and collapsing whitespace.
func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteString(" ")
			return
		}
		if n.Type == html.ElementNode && strippedElements[n.Data] {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

// fullText is the fallback rendering: every text node under the container.
func fullText(n *html.Node) string {
	return nodeText(n)
}

func findTitle(doc *html.Node) string {
	if n := findNode(doc, containerRule{tag: "title"}); n != nil {
		return nodeText(n)
	}
	return ""
}
