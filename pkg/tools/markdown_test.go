package tools

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderMarkdown(t *testing.T) {
	html := renderMarkdown("# Title\n\nSome **bold** text.")
	assert.Contains(t, html, "<h1>Title</h1>")
	assert.Contains(t, html, "<strong>bold</strong>")
	assert.NotContains(t, html, "<p></p>")
}

func TestRenderMarkdownTables(t *testing.T) {
	html := renderMarkdown("| a | b |\n|---|---|\n| 1 | 2 |")
	assert.Contains(t, html, "<table>")
}

func TestStripCodeFence(t *testing.T) {
	assert.Equal(t, "# Title", stripCodeFence("```markdown\n# Title\n```"))
	assert.Equal(t, "# Title", stripCodeFence("```\n# Title\n```"))
	assert.Equal(t, "# Title", stripCodeFence("# Title"))
}

func TestCollapseBlankLines(t *testing.T) {
	assert.Equal(t, "a\n\nb", collapseBlankLines("a\n\n\n\n\nb"))
}

func TestLooksLikeStructureRegression(t *testing.T) {
	structured := strings.Repeat("# Heading\n\n- item one\n- item two\n- item three\n\n", 4)
	flat := "just one long paragraph of plain text with no structure at all"

	assert.True(t, looksLikeStructureRegression(structured, flat))
	assert.False(t, looksLikeStructureRegression(structured, structured))
	assert.False(t, looksLikeStructureRegression("short", flat), "short originals never trip the guard")
	assert.False(t, looksLikeStructureRegression(structured, ""))
}
