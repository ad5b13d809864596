package tools

import (
	"bytes"
	"regexp"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var (
	md = goldmark.New(goldmark.WithExtensions(extension.GFM))

	emptyParagraphPattern = regexp.MustCompile(`<p>\s*</p>`)
	excessBlanksPattern   = regexp.MustCompile(`\n{3,}`)
	codeFencePattern      = regexp.MustCompile("(?s)^```(?:markdown)?\\s*(.*?)\\s*```\\s*$")

	headingPattern  = regexp.MustCompile(`(?m)^\s{0,3}#{1,6}\s+\S`)
	listPattern     = regexp.MustCompile(`(?m)^\s{0,3}(?:[-*+]|\d+\.)\s+\S`)
	tableRowPattern = regexp.MustCompile(`(?m)^\s*\|.+\|\s*$`)
	fencePattern    = regexp.MustCompile("(?m)^\\s*```")
)

// renderMarkdown converts markdown to the editor's HTML rendition.
func renderMarkdown(source string) string {
	var buf bytes.Buffer
	if err := md.Convert([]byte(source), &buf); err != nil {
		return source
	}
	return emptyParagraphPattern.ReplaceAllString(buf.String(), "")
}

// stripCodeFence unwraps a response the model wrapped in a markdown fence.
func stripCodeFence(s string) string {
	if m := codeFencePattern.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}

// collapseBlankLines limits runs of blank lines to one.
func collapseBlankLines(s string) string {
	return excessBlanksPattern.ReplaceAllString(s, "\n\n")
}

type markdownShape struct {
	headings, lists, tableRows, codeFences int
}

func countMarkdownStructures(text string) markdownShape {
	if text == "" {
		return markdownShape{}
	}
	return markdownShape{
		headings:   len(headingPattern.FindAllString(text, -1)),
		lists:      len(listPattern.FindAllString(text, -1)),
		tableRows:  len(tableRowPattern.FindAllString(text, -1)),
		codeFences: len(fencePattern.FindAllString(text, -1)),
	}
}

// looksLikeStructureRegression reports whether an edit collapsed a clearly
// structured note into plain text, which forces one strict retry before
// persisting.
func looksLikeStructureRegression(original, edited string) bool {
	if original == "" || edited == "" || len(original) < 160 {
		return false
	}
	before := countMarkdownStructures(original)
	after := countMarkdownStructures(edited)

	hadStructure := before.headings >= 1 || before.lists >= 3 || before.tableRows >= 2 || before.codeFences >= 2
	collapsed := after.headings == 0 && after.lists <= 1 && after.tableRows == 0 && after.codeFences == 0
	return hadStructure && collapsed
}
