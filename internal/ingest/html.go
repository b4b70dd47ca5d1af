package ingest

import (
	"context"
	"html"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	tshtml "github.com/smacker/go-tree-sitter/html"
)

// StripHTML reduces a rich-text field to the text a person would read:
// tags dropped, script/style/comment payloads discarded, entities
// decoded, whitespace collapsed. Backend descriptions arrive as HTML
// fragments; plain strings pass through with only whitespace cleanup.
func StripHTML(s string) string {
	if s == "" {
		return ""
	}
	if !strings.Contains(s, "<") {
		return collapseSpace(html.UnescapeString(s))
	}

	src := []byte(s)
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(tshtml.GetLanguage())

	tree, err := parser.ParseCtx(context.Background(), nil, src)
	if err != nil || tree == nil {
		return collapseSpace(stripTagsFallback(s))
	}

	var parts []string
	collectText(tree.RootNode(), src, &parts)
	return collapseSpace(strings.Join(parts, " "))
}

// collectText walks the parse tree gathering human-visible text.
// Script and style payloads are markup plumbing, not description prose,
// so their subtrees are skipped whole.
func collectText(n *sitter.Node, src []byte, parts *[]string) {
	switch n.Type() {
	case "script_element", "style_element", "comment", "doctype":
		return
	case "text":
		if t := strings.TrimSpace(string(src[n.StartByte():n.EndByte()])); t != "" {
			*parts = append(*parts, t)
		}
		return
	case "entity":
		if t := strings.TrimSpace(html.UnescapeString(string(src[n.StartByte():n.EndByte()]))); t != "" {
			*parts = append(*parts, t)
		}
		return
	}
	for i := uint32(0); i < n.ChildCount(); i++ {
		if child := n.Child(int(i)); child != nil {
			collectText(child, src, parts)
		}
	}
}

// stripTagsFallback is the parse-failure path: drop everything between
// angle brackets and decode entities. Cruder than the tree walk but it
// never fails.
func stripTagsFallback(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
			b.WriteRune(' ')
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return html.UnescapeString(b.String())
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
