// Package richtext derives plain-text projections from editor content.
//
// The entry body is owned by the external editor; this package never
// rewrites it. It only walks the structure to produce the plain text the
// extractor and the snippet need.
package richtext

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/klee/careerfly/internal/models"
)

// SnippetLength is the maximum snippet size in runes.
const SnippetLength = 100

// ToPlainText flattens a content body into plain text. Unknown formats
// are an error; a malformed body of a known format is too.
func ToPlainText(content models.Content) (string, error) {
	switch content.Format {
	case models.FormatTiptapJSON:
		return docToPlainText(content.Body)
	case models.FormatMarkdown:
		var body string
		if err := json.Unmarshal(content.Body, &body); err != nil {
			// The body may be stored as a bare string rather than a
			// JSON-encoded one.
			body = string(content.Body)
		}
		return markdownToPlainText(body), nil
	default:
		return "", fmt.Errorf("unsupported content format %q", content.Format)
	}
}

// IsEmpty reports whether the content flattens to only whitespace.
// Malformed content counts as empty.
func IsEmpty(content models.Content) bool {
	plain, err := ToPlainText(content)
	if err != nil {
		return true
	}
	return strings.TrimSpace(plain) == ""
}

// Snippet truncates plain text to SnippetLength runes, never splitting a
// rune in half.
func Snippet(plain string) string {
	return Truncate(strings.TrimSpace(plain), SnippetLength)
}

// Truncate shortens s to at most max runes.
func Truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

// docNode is the recursive shape of an editor document. Every field is
// optional; anything unrecognized is skipped rather than rejected.
type docNode struct {
	Type    string    `json:"type"`
	Text    string    `json:"text"`
	Content []docNode `json:"content"`
}

// block-level node types that get a separating newline in the projection.
var blockTypes = map[string]bool{
	"paragraph":  true,
	"heading":    true,
	"blockquote": true,
	"codeBlock":  true,
	"listItem":   true,
}

func docToPlainText(body json.RawMessage) (string, error) {
	if len(body) == 0 {
		return "", nil
	}
	var root docNode
	if err := json.Unmarshal(body, &root); err != nil {
		return "", fmt.Errorf("malformed document body: %w", err)
	}
	var builder strings.Builder
	walkDoc(&builder, root)
	return strings.TrimSpace(builder.String()), nil
}

func walkDoc(builder *strings.Builder, node docNode) {
	if node.Text != "" {
		builder.WriteString(node.Text)
	}
	for _, child := range node.Content {
		walkDoc(builder, child)
	}
	if blockTypes[node.Type] && builder.Len() > 0 {
		builder.WriteString("\n")
	}
}

// markdownToPlainText parses markdown and extracts the text segments from
// the AST, so syntax like emphasis markers and link targets never leaks
// into the projection.
func markdownToPlainText(markdown string) string {
	md := goldmark.New()
	source := []byte(markdown)
	node := md.Parser().Parse(text.NewReader(source))

	var builder strings.Builder
	ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n.Kind() {
		case ast.KindText:
			segment := n.(*ast.Text).Segment
			builder.Write(segment.Value(source))
			if n.(*ast.Text).SoftLineBreak() || n.(*ast.Text).HardLineBreak() {
				builder.WriteString("\n")
			}
		case ast.KindParagraph, ast.KindHeading, ast.KindListItem:
			if builder.Len() > 0 {
				builder.WriteString("\n")
			}
		case ast.KindFencedCodeBlock, ast.KindCodeBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				segment := lines.At(i)
				builder.Write(segment.Value(source))
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(builder.String())
}
