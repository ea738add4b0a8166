// Package render turns generated reference text into HTML for the pages and
// back into plain markdown for the terminal.
package render

import (
	"bytes"
	"fmt"
	"html/template"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	htmlrenderer "github.com/yuin/goldmark/renderer/html"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	markRe      = regexp.MustCompile(`==([^=\n]+?)==`)
	underlineRe = regexp.MustCompile(`__([^_\n]+?)__`)
	cssValueRe  = regexp.MustCompile(`^[#a-zA-Z0-9 .%(),-]+$`)
)

var engine = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(
		htmlrenderer.WithHardWraps(),
		htmlrenderer.WithXHTML(),
		htmlrenderer.WithUnsafe(),
	),
)

// allowed maps each kept element to the attributes it may carry.
var allowed = map[atom.Atom][]string{
	atom.P: nil, atom.Br: nil, atom.Hr: nil,
	atom.Strong: nil, atom.B: nil, atom.Em: nil, atom.I: nil,
	atom.U: nil, atom.Mark: nil, atom.Del: nil, atom.S: nil,
	atom.Code: nil, atom.Pre: nil, atom.Blockquote: nil,
	atom.Ul: nil, atom.Ol: nil, atom.Li: nil,
	atom.H1: nil, atom.H2: nil, atom.H3: nil, atom.H4: nil, atom.H5: nil, atom.H6: nil,
	atom.Table: nil, atom.Thead: nil, atom.Tbody: nil, atom.Tr: nil, atom.Th: nil, atom.Td: nil,
	atom.Span: {"style"},
	atom.A:    {"href", "title"},
}

// dropped elements are removed together with their content.
var dropped = map[atom.Atom]bool{
	atom.Script: true, atom.Style: true, atom.Iframe: true, atom.Object: true,
	atom.Embed: true, atom.Form: true, atom.Textarea: true, atom.Select: true,
	atom.Noscript: true, atom.Template: true,
}

var cssProperties = map[string]bool{
	"background-color": true,
	"color":            true,
	"padding":          true,
	"border-radius":    true,
	"font-weight":      true,
}

// HTML renders generated markdown, including ==highlight== and __underline__
// shorthands and inline highlight spans, to sanitized HTML.
func HTML(text string) (template.HTML, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	text = markRe.ReplaceAllString(text, "<mark>$1</mark>")
	text = underlineRe.ReplaceAllString(text, "<u>$1</u>")

	var buf bytes.Buffer
	if err := engine.Convert([]byte(text), &buf); err != nil {
		return "", fmt.Errorf("rendering markdown: %w", err)
	}
	out, err := Sanitize(buf.String())
	if err != nil {
		return "", err
	}
	return template.HTML(out), nil
}

// Sanitize keeps only allowlisted elements and attributes. Unknown elements
// are unwrapped so their text survives.
func Sanitize(fragment string) (string, error) {
	ctx := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), ctx)
	if err != nil {
		return "", fmt.Errorf("parsing html: %w", err)
	}

	root := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	for _, n := range nodes {
		root.AppendChild(n)
	}
	clean(root)

	var buf bytes.Buffer
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return "", fmt.Errorf("rendering html: %w", err)
		}
	}
	return buf.String(), nil
}

func clean(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		switch c.Type {
		case html.TextNode:
		case html.ElementNode:
			if dropped[c.DataAtom] {
				n.RemoveChild(c)
				break
			}
			clean(c)
			attrs, ok := allowed[c.DataAtom]
			if !ok {
				unwrap(n, c)
				break
			}
			c.Attr = filterAttrs(c.DataAtom, c.Attr, attrs)
		default:
			n.RemoveChild(c)
		}
		c = next
	}
}

// unwrap replaces c with its children.
func unwrap(parent, c *html.Node) {
	for gc := c.FirstChild; gc != nil; {
		next := gc.NextSibling
		c.RemoveChild(gc)
		parent.InsertBefore(gc, c)
		gc = next
	}
	parent.RemoveChild(c)
}

func filterAttrs(a atom.Atom, in []html.Attribute, keep []string) []html.Attribute {
	var out []html.Attribute
	for _, attr := range in {
		if attr.Namespace != "" || !contains(keep, attr.Key) {
			continue
		}
		switch attr.Key {
		case "href":
			if !safeURL(attr.Val) {
				continue
			}
		case "style":
			attr.Val = cleanStyle(attr.Val)
			if attr.Val == "" {
				continue
			}
		}
		out = append(out, attr)
	}
	if a == atom.A && len(out) > 0 {
		out = append(out, html.Attribute{Key: "rel", Val: "noopener noreferrer"})
	}
	return out
}

func safeURL(u string) bool {
	u = strings.ToLower(strings.TrimSpace(u))
	return strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")
}

func cleanStyle(style string) string {
	var kept []string
	for _, decl := range strings.Split(style, ";") {
		prop, val, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		prop = strings.ToLower(strings.TrimSpace(prop))
		val = strings.TrimSpace(val)
		if !cssProperties[prop] || !cssValueRe.MatchString(val) || strings.Contains(strings.ToLower(val), "url(") {
			continue
		}
		kept = append(kept, prop+": "+val)
	}
	return strings.Join(kept, "; ")
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Terminal renders generated text for a terminal. Markdown is normalized
// through HTML so highlight spans and other inline markup collapse to
// readable plain markdown.
func Terminal(text string) (string, error) {
	h, err := HTML(text)
	if err != nil {
		return "", err
	}
	converter := md.NewConverter("", true, nil)
	converter.Use(plugin.GitHubFlavored())
	out, err := converter.ConvertString(string(h))
	if err != nil {
		return "", fmt.Errorf("converting to markdown: %w", err)
	}
	return strings.TrimSpace(out), nil
}
