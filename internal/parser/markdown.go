package parser

import (
	"os"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

func parseMarkdown(filePath string) ([]Section, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return splitMarkdown(data), nil
}

// splitMarkdown cuts a document into sections at level 1 and 2 headings.
// Fenced code keeps its fences so answers can quote it verbatim.
func splitMarkdown(source []byte) []Section {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	doc := md.Parser().Parse(text.NewReader(source))

	var (
		sections []Section
		parts    []string
		heading  string
		lang     string
	)
	flush := func() {
		if len(parts) > 0 {
			sections = append(sections, Section{
				Text:     strings.Join(parts, "\n\n"),
				Heading:  heading,
				Language: lang,
			})
		}
		parts = nil
		lang = ""
	}

	for node := doc.FirstChild(); node != nil; node = node.NextSibling() {
		switch n := node.(type) {
		case *ast.Heading:
			title := strings.TrimSpace(string(n.Text(source)))
			if n.Level <= 2 {
				flush()
				heading = title
				continue
			}
			parts = append(parts, title)
		case *ast.FencedCodeBlock:
			l := string(n.Language(source))
			if l != "" && lang == "" {
				lang = l
			}
			parts = append(parts, "```"+l+"\n"+blockLines(n, source)+"```")
		case *ast.CodeBlock:
			parts = append(parts, blockLines(n, source))
		default:
			if txt := extractText(n, source); txt != "" {
				parts = append(parts, txt)
			}
		}
	}
	flush()
	return sections
}

func blockLines(n ast.Node, source []byte) string {
	var sb strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		line := lines.At(i)
		sb.Write(line.Value(source))
	}
	return sb.String()
}

func extractText(n ast.Node, source []byte) string {
	var sb strings.Builder
	_ = ast.Walk(n, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if node.Kind() == ast.KindParagraph || node.Kind() == ast.KindListItem {
				sb.WriteString("\n")
			}
			return ast.WalkContinue, nil
		}
		switch t := node.(type) {
		case *ast.Text:
			sb.Write(t.Segment.Value(source))
			if t.SoftLineBreak() || t.HardLineBreak() {
				sb.WriteString("\n")
			}
		case *ast.String:
			sb.Write(t.Value)
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			sb.WriteString(blockLines(node, source))
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(sb.String())
}
