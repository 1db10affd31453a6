package tts

import (
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var (
	// leftover markup that did not parse as a node, e.g. an unclosed ** split across segments
	strayMarkup = regexp.MustCompile("[*_~`#>|]+")
	whitespace  = regexp.MustCompile(`\s+`)
)

// Normalizer reduces model output, which is usually markdown, to text worth speaking.
type Normalizer struct {
	skipCodeBlocks bool
}

// NewNormalizer creates a normalizer that drops code blocks.
func NewNormalizer() *Normalizer {
	return &Normalizer{skipCodeBlocks: true}
}

// Normalize returns the speakable text of a segment, or "" when nothing is left.
func (n *Normalizer) Normalize(markdown string) string {
	md := goldmark.New()
	reader := text.NewReader([]byte(markdown))
	doc := md.Parser().Parse(reader)

	var buf strings.Builder
	n.walkNode(doc, reader.Source(), &buf)

	out := strayMarkup.ReplaceAllString(buf.String(), " ")
	out = whitespace.ReplaceAllString(out, " ")
	return strings.TrimSpace(out)
}

// walkNode recursively walks the AST and extracts text content.
func (n *Normalizer) walkNode(node ast.Node, source []byte, buf *strings.Builder) {
	switch v := node.(type) {
	case *ast.CodeBlock, *ast.FencedCodeBlock:
		if n.skipCodeBlocks {
			return
		}
		for i := 0; i < v.Lines().Len(); i++ {
			line := v.Lines().At(i)
			buf.Write(line.Value(source))
		}
		buf.WriteString(" ")
		return

	case *ast.HTMLBlock, *ast.RawHTML, *ast.Image:
		return

	case *ast.Text:
		buf.Write(v.Segment.Value(source))
		if v.SoftLineBreak() || v.HardLineBreak() {
			buf.WriteString(" ")
		}
		return

	case *ast.String:
		buf.Write(v.Value)
		return

	case *ast.AutoLink:
		buf.Write(v.Label(source))
		return

	case *ast.CodeSpan:
		// Inline code is read as plain words.
		for c := v.FirstChild(); c != nil; c = c.NextSibling() {
			if t, ok := c.(*ast.Text); ok {
				buf.Write(t.Segment.Value(source))
			}
		}
		return

	case *ast.Heading:
		n.walkChildren(v, source, buf)
		endSentence(buf)
		return

	case *ast.ListItem:
		n.walkChildren(v, source, buf)
		endSentence(buf)
		return

	case *ast.Paragraph, *ast.TextBlock:
		n.walkChildren(node, source, buf)
		buf.WriteString(" ")
		return

	case *ast.ThematicBreak:
		endSentence(buf)
		return
	}

	n.walkChildren(node, source, buf)
}

func (n *Normalizer) walkChildren(node ast.Node, source []byte, buf *strings.Builder) {
	for c := node.FirstChild(); c != nil; c = c.NextSibling() {
		n.walkNode(c, source, buf)
	}
}

// endSentence adds a period unless the text already ends with punctuation,
// so headings and list items get a pause.
func endSentence(buf *strings.Builder) {
	content := strings.TrimRight(buf.String(), " ")
	if content == "" {
		return
	}
	buf.Reset()
	buf.WriteString(content)
	switch content[len(content)-1] {
	case '.', '!', '?', ':', ';', ',':
		buf.WriteString(" ")
	default:
		buf.WriteString(". ")
	}
}
