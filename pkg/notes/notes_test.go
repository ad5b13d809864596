package notes

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewNoteID(t *testing.T) {
	pattern := regexp.MustCompile(`^\d{13}-[0-9a-f]{9}$`)
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		id := NewNoteID()
		assert.Regexp(t, pattern, id)
		assert.False(t, seen[id], "ids must not repeat")
		seen[id] = true
	}
}

func TestHTMLToEditableText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"plain paragraph", "<p>hello world</p>", "hello world"},
		{"line breaks", "first<br>second<br/>third", "first\nsecond\nthird"},
		{"block elements", "<h1>Title</h1><p>body</p><li>item</li>", "Title\nbody\nitem"},
		{"entities", "<p>a &amp; b &lt;c&gt;</p>", "a & b <c>"},
		{"collapses spaces", "<p>a   \t b</p>", "a b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTMLToEditableText(tt.in))
		})
	}
}

func TestEditableTextPrefersMarkdown(t *testing.T) {
	n := &Note{
		Content:        "<h1>Title</h1><p>html body</p>",
		MarkdownSource: "# Title\n\nmarkdown body",
		PlainText:      "Title html body",
	}
	assert.Equal(t, "# Title\n\nmarkdown body", EditableText(n))

	n.MarkdownSource = ""
	assert.Equal(t, "Title\nhtml body", EditableText(n))

	n.Content = ""
	assert.Equal(t, "Title html body", EditableText(n))
}
