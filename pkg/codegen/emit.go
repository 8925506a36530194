package codegen

import (
	"fmt"
	"html"
	"sort"
	"strings"
	"unicode"

	"github.com/tdewolff/minify/v2"
	mcss "github.com/tdewolff/minify/v2/css"
	mhtml "github.com/tdewolff/minify/v2/html"
	"golang.org/x/text/unicode/norm"
)

// renderDocument emits one full page for an artboard.
func renderDocument(title, stylesheetHref string, body *Node) string {
	var b strings.Builder
	b.WriteString("<!doctype html>\n")
	b.WriteString("<html lang=\"en\">\n")
	b.WriteString("<head>\n")
	b.WriteString("<meta charset=\"utf-8\">\n")
	fmt.Fprintf(&b, "<title>%s</title>\n", html.EscapeString(title))
	fmt.Fprintf(&b, "<link rel=\"stylesheet\" href=\"%s\">\n", html.EscapeString(stylesheetHref))
	b.WriteString("</head>\n")
	writeNode(&b, body, 0)
	b.WriteString("</html>\n")
	return b.String()
}

func writeNode(b *strings.Builder, n *Node, depth int) {
	indent := strings.Repeat("  ", depth)
	b.WriteString(indent)
	b.WriteByte('<')
	b.WriteString(n.Tag)
	writeAttrs(b, n)
	b.WriteByte('>')

	if n.Void {
		b.WriteByte('\n')
		return
	}

	if len(n.Children) == 0 {
		b.WriteString(html.EscapeString(n.Text))
		fmt.Fprintf(b, "</%s>\n", n.Tag)
		return
	}

	b.WriteByte('\n')
	if n.Text != "" {
		b.WriteString(strings.Repeat("  ", depth+1))
		b.WriteString(html.EscapeString(n.Text))
		b.WriteByte('\n')
	}
	for _, child := range n.Children {
		writeNode(b, child, depth+1)
	}
	b.WriteString(indent)
	fmt.Fprintf(b, "</%s>\n", n.Tag)
}

// writeAttrs emits class plus any attributes in sorted key order.
func writeAttrs(b *strings.Builder, n *Node) {
	attrs := make(map[string]string, len(n.Attrs)+1)
	for k, v := range n.Attrs {
		attrs[k] = v
	}
	if n.Class != "" {
		attrs["class"] = n.Class
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(b, " %s=\"%s\"", k, html.EscapeString(attrs[k]))
	}
}

// renderStylesheet emits the shared rules in first-seen order.
func renderStylesheet(rules []Rule) string {
	var b strings.Builder
	for i, rule := range rules {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, ".%s {\n", rule.Class)
		for _, d := range rule.Declarations {
			fmt.Fprintf(&b, "  %s: %s;\n", d.Property, d.Value)
		}
		b.WriteString("}\n")
	}
	return b.String()
}

func (g *Generator) minifyResult(res *Result) error {
	m := minify.New()
	m.AddFunc("text/html", mhtml.Minify)
	m.AddFunc("text/css", mcss.Minify)

	for i := range res.Pages {
		out, err := m.String("text/html", res.Pages[i].Markup)
		if err != nil {
			return fmt.Errorf("minify page %s: %w", res.Pages[i].ArtboardID, err)
		}
		res.Pages[i].Markup = out
	}
	out, err := m.String("text/css", res.Stylesheet)
	if err != nil {
		return fmt.Errorf("minify stylesheet: %w", err)
	}
	res.Stylesheet = out
	return nil
}

// Slug derives a stable file-name slug from an artboard name. Names are
// NFC-normalized first so visually identical names from different input
// methods slug identically; an unusable name falls back to the artboard id.
func Slug(name, fallback string) string {
	name = norm.NFC.String(name)
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(name) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastDash = false
		case !lastDash:
			b.WriteByte('-')
			lastDash = true
		}
	}
	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		return strings.ToLower(fallback)
	}
	return slug
}
