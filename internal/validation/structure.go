package validation

import (
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

// Markers counts the Markdown structure found in a piece of content.
type Markers struct {
	Headings   int
	ListItems  int
	Tables     int
	CodeBlocks int
	Strong     int
	Breaks     int
}

// Total is the number of structural elements found.
func (m Markers) Total() int {
	return m.Headings + m.ListItems + m.Tables + m.CodeBlocks + m.Strong + m.Breaks
}

var markdown = goldmark.New(goldmark.WithExtensions(extension.Table))

// StructuralMarkers parses content as Markdown and counts headings, list
// items, tables, code blocks, strong emphasis and thematic breaks.
func StructuralMarkers(content string) Markers {
	var m Markers
	if content == "" {
		return m
	}

	source := []byte(content)
	doc := markdown.Parser().Parse(text.NewReader(source))
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n.Kind() {
		case ast.KindHeading:
			m.Headings++
		case ast.KindListItem:
			m.ListItems++
		case ast.KindFencedCodeBlock, ast.KindCodeBlock:
			m.CodeBlocks++
		case ast.KindThematicBreak:
			m.Breaks++
		case ast.KindEmphasis:
			if e, ok := n.(*ast.Emphasis); ok && e.Level >= 2 {
				m.Strong++
			}
		case extast.KindTable:
			m.Tables++
		}
		return ast.WalkContinue, nil
	})
	return m
}
