// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kadirpekel/origin/pkg/knowledge"
	"github.com/kadirpekel/origin/pkg/llms"
	"github.com/kadirpekel/origin/pkg/notes"
	"github.com/kadirpekel/origin/pkg/protocol"
)

// Deps are the collaborators shared by the note tools.
type Deps struct {
	Store notes.Store
	Index *knowledge.Index

	// Provider returns the active LLM provider; update_note runs an inner
	// editing completion.
	Provider func() llms.Provider
}

// RegisterNoteTools assembles the fixed toolset.
func RegisterNoteTools(r *Registry, deps *Deps) {
	r.MustRegister(&searchKnowledgeTool{deps})
	r.MustRegister(&readNoteContentTool{deps})
	r.MustRegister(&listRecentNotesTool{deps})
	r.MustRegister(&renameNoteTool{deps})
	r.MustRegister(&updateNoteTool{deps})
	r.MustRegister(&patchNoteTool{deps})
	r.MustRegister(&createNoteTool{deps})
	r.MustRegister(&deleteNoteTool{deps})
	r.MustRegister(&listCategoriesTool{deps})
	r.MustRegister(&setNoteCategoryTool{deps})
}

// ============================================================================
// READ TOOLS
// ============================================================================

type searchKnowledgeArgs struct {
	Query string `json:"query" jsonschema:"required,description=The search query."`
}

type searchKnowledgeTool struct{ deps *Deps }

func (t *searchKnowledgeTool) Name() string  { return "search_knowledge" }
func (t *searchKnowledgeTool) IsWrite() bool { return false }
func (t *searchKnowledgeTool) Description() string {
	return "Search across all user notes using semantic search. " +
		"Use this when the user asks a question about their knowledge base, " +
		"asks 'what do I have on X', or needs to find related information. " +
		"Returns note previews with content. For simple Q&A, the preview may be enough. " +
		"Only call read_note_content if you need the COMPLETE content for detailed analysis."
}
func (t *searchKnowledgeTool) Parameters() map[string]any { return schemaFor(&searchKnowledgeArgs{}) }

func (t *searchKnowledgeTool) Execute(ctx context.Context, args map[string]any) string {
	query := stringArg(args, "query")
	slog.Debug("Tool: search_knowledge", "query", query)

	results, err := t.deps.Index.Search(ctx, query, 0)
	if err != nil {
		return fmt.Sprintf("Error: knowledge search failed: %v", err)
	}
	if len(results) == 0 {
		return "No relevant notes found for this query."
	}

	formatted := make([]string, 0, len(results))
	for _, r := range results {
		preview := r.Content
		if len(preview) > 1500 {
			preview = preview[:1500] + "..."
		}
		formatted = append(formatted, fmt.Sprintf("Title: %s\nID: %s\nContent: %s", r.Title, r.ID, preview))
	}
	return strings.Join(formatted, "\n\n---\n\n") +
		"\n\n[NOTE: If content is truncated (...), use read_note_content(note_id) for full text.]"
}

type readNoteContentArgs struct {
	NoteID string `json:"note_id" jsonschema:"required,description=The ID of the note to read."`
}

type readNoteContentTool struct{ deps *Deps }

func (t *readNoteContentTool) Name() string  { return "read_note_content" }
func (t *readNoteContentTool) IsWrite() bool { return false }
func (t *readNoteContentTool) Description() string {
	return "Read the full, detailed content of a specific note by its ID. " +
		"Use this when you need the exact text of 'the current note' or a specific note found via search."
}
func (t *readNoteContentTool) Parameters() map[string]any { return schemaFor(&readNoteContentArgs{}) }

func (t *readNoteContentTool) Execute(ctx context.Context, args map[string]any) string {
	noteID := stringArg(args, "note_id")
	slog.Debug("Tool: read_note_content", "note_id", noteID)

	note, err := t.deps.Store.Get(ctx, noteID)
	if err != nil {
		return fmt.Sprintf("Error: failed to read note %s: %v", noteID, err)
	}
	if note == nil {
		return fmt.Sprintf("Error: Note with ID %s not found.", noteID)
	}

	// Prefer markdown source so the agent sees real structure.
	content := notes.EditableText(note)
	return fmt.Sprintf("Title: %s\nContent:\n%s\n\n[SYSTEM: Content retrieved successfully. DO NOT repeat this content in your response.]",
		note.Title, content)
}

type listRecentNotesArgs struct {
	Limit int `json:"limit,omitempty" jsonschema:"description=Maximum number of notes to return (default 8)."`
}

type listRecentNotesTool struct{ deps *Deps }

func (t *listRecentNotesTool) Name() string  { return "list_recent_notes" }
func (t *listRecentNotesTool) IsWrite() bool { return false }
func (t *listRecentNotesTool) Description() string {
	return "List the most recently updated or created notes. " +
		"Use this when the user asks 'what did I write recently' or 'show all my notes'."
}
func (t *listRecentNotesTool) Parameters() map[string]any { return schemaFor(&listRecentNotesArgs{}) }

func (t *listRecentNotesTool) Execute(ctx context.Context, args map[string]any) string {
	limit := intArg(args, "limit", 8)
	slog.Debug("Tool: list_recent_notes", "limit", limit)

	all, err := t.deps.Store.ListRecent(ctx, limit)
	if err != nil {
		return fmt.Sprintf("Error: failed to list notes: %v", err)
	}
	if len(all) == 0 {
		return "There are no notes in the database yet."
	}
	lines := make([]string, 0, len(all))
	for _, n := range all {
		lines = append(lines, fmt.Sprintf("- %s (ID: %s)", n.Title, n.ID))
	}
	return "Recent Notes:\n" + strings.Join(lines, "\n")
}

type listCategoriesTool struct{ deps *Deps }

func (t *listCategoriesTool) Name() string  { return "list_categories" }
func (t *listCategoriesTool) IsWrite() bool { return false }
func (t *listCategoriesTool) Description() string {
	return "List all available categories that notes can be organized into. " +
		"Use this when you need to know what categories exist, or when the user asks about their categories. " +
		"IMPORTANT: When using set_note_category, you MUST use the exact category_id returned here."
}
func (t *listCategoriesTool) Parameters() map[string]any { return schemaFor(&struct{}{}) }

func (t *listCategoriesTool) Execute(ctx context.Context, args map[string]any) string {
	slog.Debug("Tool: list_categories")
	categories, err := t.deps.Store.Categories(ctx)
	if err != nil {
		return fmt.Sprintf("Error: failed to list categories: %v", err)
	}
	if len(categories) == 0 {
		return "No categories exist yet. The user can create categories in the sidebar."
	}
	lines := make([]string, 0, len(categories))
	for _, c := range categories {
		lines = append(lines, fmt.Sprintf("- %s -> category_id: %q", c.Name, c.ID))
	}
	return "Available Categories (use the category_id value for set_note_category):\n" + strings.Join(lines, "\n")
}

// ============================================================================
// WRITE TOOLS
// ============================================================================

type renameNoteArgs struct {
	NoteID   string `json:"note_id" jsonschema:"required,description=The ID of the note to rename."`
	NewTitle string `json:"new_title" jsonschema:"required,description=The new title for the note."`
}

type renameNoteTool struct{ deps *Deps }

func (t *renameNoteTool) Name() string  { return "rename_note" }
func (t *renameNoteTool) IsWrite() bool { return true }
func (t *renameNoteTool) Description() string {
	return "Rename a note's title (NOT the content). " +
		"Use this when the user wants to change the note's name/title. " +
		"NOTE: This changes the note's TITLE, not its content. To modify content, use update_note instead."
}
func (t *renameNoteTool) Parameters() map[string]any { return schemaFor(&renameNoteArgs{}) }

func (t *renameNoteTool) Execute(ctx context.Context, args map[string]any) string {
	noteID := stringArg(args, "note_id")
	newTitle := stringArg(args, "new_title")
	slog.Debug("Tool: rename_note", "note_id", noteID, "new_title", newTitle)

	note, err := t.deps.Store.Get(ctx, noteID)
	if err != nil {
		return fmt.Sprintf("Error: failed to read note %s: %v", noteID, err)
	}
	if note == nil {
		return fmt.Sprintf("Error: Note %s not found.", noteID)
	}
	oldTitle := note.Title
	if oldTitle == "" {
		oldTitle = "Untitled"
	}
	if err := t.deps.Store.Update(ctx, noteID, &notes.UpdateRequest{Title: &newTitle}); err != nil {
		return fmt.Sprintf("Error: failed to rename note %s: %v", noteID, err)
	}
	note.Title = newTitle
	t.deps.Index.UpsertNoteAsync(note)

	return fmt.Sprintf("Successfully renamed note from '%s' to '%s'", oldTitle, newTitle)
}

type updateNoteArgs struct {
	NoteID       string `json:"note_id" jsonschema:"required,description=The ID of the note to update."`
	Instruction  string `json:"instruction" jsonschema:"required,description=Precise editing instructions (e.g. 'Add a paragraph' or 'Fix typo')."`
	ForceRewrite bool   `json:"force_rewrite,omitempty" jsonschema:"description=Set to true ONLY if the user wants to start over with a new topic."`
}

type updateNoteTool struct{ deps *Deps }

func (t *updateNoteTool) Name() string  { return "update_note" }
func (t *updateNoteTool) IsWrite() bool { return true }
func (t *updateNoteTool) Description() string {
	return "Update an existing note's content based on instructions. " +
		"When the instruction asks to format/organize/tidy up, do NOT change any original text content; " +
		"only adjust headings, bullet points, spacing, code blocks, and emphasis while preserving all " +
		"original information exactly as written."
}
func (t *updateNoteTool) Parameters() map[string]any { return schemaFor(&updateNoteArgs{}) }

const editSystemPrompt = `You are a precise text editing assistant.

RULES:
1. Output ONLY the final edited Markdown content.
2. NO explanations, greetings, or summaries.
3. If asked to clear/delete, output empty string.
4. Preserve Markdown formatting.

SPECIAL RULE FOR FORMAT/ORGANIZE REQUESTS:
If the user asks to "format", "organize", "tidy up", "整理格式", "排版", or similar:
- DO NOT change any text content (no adding, removing, or rephrasing words)
- ONLY adjust structure: headings, lists, code blocks, emphasis, spacing
- Create clear visual hierarchy
- The output must contain the EXACT same words as input
- Preserve semantic relationships between text blocks.
- For table-like data, keep row/column mapping exactly; never swap cells across rows or columns.`

const strictEditSuffix = `

STRICT OUTPUT QUALITY GATE:
- Keep Markdown structure readable and renderable.
- Preserve headings, lists, and tables when they exist in source.
- Never flatten the entire note into one plain paragraph.
- Return ONLY Markdown content, no commentary.`

func (t *updateNoteTool) Execute(ctx context.Context, args map[string]any) string {
	noteID := stringArg(args, "note_id")
	instruction := stringArg(args, "instruction")
	forceRewrite := boolArg(args, "force_rewrite")
	slog.Debug("Tool: update_note", "note_id", noteID, "instruction", instruction)

	note, err := t.deps.Store.Get(ctx, noteID)
	if err != nil {
		return fmt.Sprintf("Error: failed to read note %s: %v", noteID, err)
	}
	if note == nil {
		return fmt.Sprintf("Error: Note %s not found.", noteID)
	}

	// Markdown source is the editing baseline; plain text is
	// whitespace-collapsed and destroys structure.
	currentContent := notes.EditableText(note)

	var sysPrompt, userPrompt string
	if forceRewrite {
		sysPrompt = "You are a creative writing assistant. Output only Markdown content, no explanations."
		userPrompt = "Writing request: " + instruction
	} else {
		sysPrompt = editSystemPrompt
		userPrompt = fmt.Sprintf("Original content:\n---\n%s\n---\nEdit instruction: %s\n\nOutput the edited content directly:", currentContent, instruction)
	}

	newContent, err := t.edit(ctx, sysPrompt, userPrompt)
	if err != nil {
		return fmt.Sprintf("Error: failed to edit note %s: %v", noteID, err)
	}

	if !forceRewrite && looksLikeStructureRegression(currentContent, newContent) {
		slog.Debug("Detected markdown structure regression, retrying with stricter prompt", "note_id", noteID)
		if retry, err := t.edit(ctx, sysPrompt+strictEditSuffix, userPrompt); err == nil && retry != "" {
			newContent = retry
		}
	}

	newContent = collapseBlankLines(stripCodeFence(newContent))
	htmlContent := renderMarkdown(newContent)

	if err := t.deps.Store.Update(ctx, noteID, &notes.UpdateRequest{
		Content:        &htmlContent,
		MarkdownSource: &newContent,
	}); err != nil {
		return fmt.Sprintf("Error: failed to save note %s: %v", noteID, err)
	}
	note.MarkdownSource = newContent
	note.Content = htmlContent
	t.deps.Index.UpsertNoteAsync(note)

	return fmt.Sprintf("Successfully updated note (ID: %s). [SYSTEM: DO NOT output the note content.]", noteID)
}

func (t *updateNoteTool) edit(ctx context.Context, sysPrompt, userPrompt string) (string, error) {
	resp, err := t.deps.Provider().Invoke(ctx, []*protocol.Message{
		protocol.NewSystemMessage(sysPrompt),
		protocol.NewUserMessage(userPrompt),
	}, nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

type patchNoteArgs struct {
	NoteID  string `json:"note_id" jsonschema:"required,description=The ID of the note to patch."`
	OldText string `json:"old_text" jsonschema:"required,description=The EXACT text to find and replace."`
	NewText string `json:"new_text" jsonschema:"required,description=The replacement text."`
}

type patchNoteTool struct{ deps *Deps }

func (t *patchNoteTool) Name() string  { return "patch_note" }
func (t *patchNoteTool) IsWrite() bool { return true }
func (t *patchNoteTool) Description() string {
	return "Replace specific text in a note using search & replace (diff-style editing). " +
		"This is more efficient than update_note for small, targeted changes like fixing typos " +
		"or replacing specific words. For large rewrites or formatting changes, use update_note instead."
}
func (t *patchNoteTool) Parameters() map[string]any { return schemaFor(&patchNoteArgs{}) }

func (t *patchNoteTool) Execute(ctx context.Context, args map[string]any) string {
	noteID := stringArg(args, "note_id")
	oldText := stringArg(args, "old_text")
	newText := stringArg(args, "new_text")
	slog.Debug("Tool: patch_note", "note_id", noteID)

	note, err := t.deps.Store.Get(ctx, noteID)
	if err != nil {
		return fmt.Sprintf("Error: failed to read note %s: %v", noteID, err)
	}
	if note == nil {
		return fmt.Sprintf("Error: Note %s not found.", noteID)
	}

	preview := func(s string) string {
		if len(s) > 30 {
			return s[:30]
		}
		return s
	}

	// Best path: patch markdown source directly to preserve structure.
	if note.MarkdownSource != "" && strings.Contains(note.MarkdownSource, oldText) {
		updatedMD := strings.Replace(note.MarkdownSource, oldText, newText, 1)
		updatedHTML := renderMarkdown(updatedMD)
		if err := t.deps.Store.Update(ctx, noteID, &notes.UpdateRequest{
			Content:        &updatedHTML,
			MarkdownSource: &updatedMD,
		}); err != nil {
			return fmt.Sprintf("Error: failed to save note %s: %v", noteID, err)
		}
		note.MarkdownSource = updatedMD
		t.deps.Index.UpsertNoteAsync(note)
		return fmt.Sprintf("Successfully patched note (ID: %s). Replaced '%s...' with '%s...'", noteID, preview(oldText), preview(newText))
	}

	plainText := notes.HTMLToEditableText(note.Content)
	if plainText == "" {
		plainText = note.PlainText
	}
	if !strings.Contains(plainText, oldText) && !strings.Contains(note.Content, oldText) {
		return fmt.Sprintf("Error: Could not find the text '%s...' in the note. Make sure it matches exactly.", preview(oldText))
	}

	var updatedHTML string
	var updatedMD *string
	if strings.Contains(note.Content, oldText) {
		// Patch HTML directly; the markdown source can no longer be
		// trusted, so clear it rather than let the agent read stale text.
		updatedHTML = strings.Replace(note.Content, oldText, newText, 1)
		empty := ""
		updatedMD = &empty
	} else {
		updatedPlain := strings.Replace(plainText, oldText, newText, 1)
		var b strings.Builder
		for _, line := range strings.Split(updatedPlain, "\n") {
			if strings.TrimSpace(line) != "" {
				fmt.Fprintf(&b, "<p>%s</p>", line)
			}
		}
		updatedHTML = b.String()
		updatedMD = &updatedPlain
	}

	if err := t.deps.Store.Update(ctx, noteID, &notes.UpdateRequest{
		Content:        &updatedHTML,
		MarkdownSource: updatedMD,
	}); err != nil {
		return fmt.Sprintf("Error: failed to save note %s: %v", noteID, err)
	}
	note.Content = updatedHTML
	t.deps.Index.UpsertNoteAsync(note)
	return fmt.Sprintf("Successfully patched note (ID: %s). Replaced '%s...' with '%s...'", noteID, preview(oldText), preview(newText))
}

type createNoteArgs struct {
	Title      string `json:"title" jsonschema:"required,description=Clear concise title for the note."`
	Content    string `json:"content,omitempty" jsonschema:"description=Full note body in Markdown. Only create content the user asked for."`
	CategoryID string `json:"category_id,omitempty" jsonschema:"description=Optional category ID to assign on creation. Use list_categories first."`
}

type createNoteTool struct{ deps *Deps }

func (t *createNoteTool) Name() string  { return "create_note" }
func (t *createNoteTool) IsWrite() bool { return true }
func (t *createNoteTool) Description() string {
	return "Create a brand new note with a title and content."
}
func (t *createNoteTool) Parameters() map[string]any { return schemaFor(&createNoteArgs{}) }

func (t *createNoteTool) Execute(ctx context.Context, args map[string]any) string {
	title := stringArg(args, "title")
	content := stringArg(args, "content")
	categoryID := strings.TrimSpace(stringArg(args, "category_id"))
	slog.Debug("Tool: create_note", "title", title, "category_id", categoryID)

	if strings.TrimSpace(content) == "" {
		content = fmt.Sprintf("# %s\n\n（待补充内容）", title)
	}
	content = collapseBlankLines(content)

	var categoryName string
	if categoryID != "" {
		categories, err := t.deps.Store.Categories(ctx)
		if err != nil {
			return fmt.Sprintf("Error: failed to list categories: %v", err)
		}
		found := false
		validIDs := make([]string, 0, len(categories))
		for _, c := range categories {
			validIDs = append(validIDs, fmt.Sprintf("%q", c.ID))
			if c.ID == categoryID {
				found = true
				categoryName = c.Name
			}
		}
		if !found {
			return fmt.Sprintf("Error: Category '%s' does not exist. Use a valid category_id from list_categories. Valid IDs: %s",
				categoryID, strings.Join(validIDs, ", "))
		}
	}

	note, err := t.deps.Store.Create(ctx, title, renderMarkdown(content), content, categoryID)
	if err != nil {
		return fmt.Sprintf("Error: failed to create note: %v", err)
	}
	t.deps.Index.UpsertNoteAsync(note)

	if categoryID != "" {
		return fmt.Sprintf("Successfully created note with ID: %s and assigned category: %s", note.ID, categoryName)
	}
	return fmt.Sprintf("Successfully created note with ID: %s", note.ID)
}

type deleteNoteArgs struct {
	NoteID string `json:"note_id" jsonschema:"required,description=The ID of the note to delete."`
}

type deleteNoteTool struct{ deps *Deps }

func (t *deleteNoteTool) Name() string  { return "delete_note" }
func (t *deleteNoteTool) IsWrite() bool { return true }
func (t *deleteNoteTool) Description() string {
	return "Delete a specific note by its ID. " +
		"Use this ONLY when the user explicitly asks to 'delete', 'remove', or 'trash' a note."
}
func (t *deleteNoteTool) Parameters() map[string]any { return schemaFor(&deleteNoteArgs{}) }

func (t *deleteNoteTool) Execute(ctx context.Context, args map[string]any) string {
	noteID := stringArg(args, "note_id")
	slog.Debug("Tool: delete_note", "note_id", noteID)

	if err := t.deps.Store.Delete(ctx, noteID); err != nil {
		return fmt.Sprintf("Error: Failed to delete note %s. It might not exist.", noteID)
	}
	go func() {
		if err := t.deps.Index.RemoveNote(context.Background(), noteID); err != nil {
			slog.Warn("Failed to remove note from index", "note_id", noteID, "error", err)
		}
	}()
	return fmt.Sprintf("Successfully deleted note %s.", noteID)
}

type setNoteCategoryArgs struct {
	NoteID     string `json:"note_id" jsonschema:"required,description=The ID of the note to categorize."`
	CategoryID string `json:"category_id" jsonschema:"required,description=The exact ID of the category to assign. Pass an empty string to remove the category."`
}

type setNoteCategoryTool struct{ deps *Deps }

func (t *setNoteCategoryTool) Name() string  { return "set_note_category" }
func (t *setNoteCategoryTool) IsWrite() bool { return true }
func (t *setNoteCategoryTool) Description() string {
	return "Assign a category/tag to a note for organization. " +
		"Use the exact category_id from list_categories. " +
		"TO REMOVE A CATEGORY: pass an empty string as the category_id."
}
func (t *setNoteCategoryTool) Parameters() map[string]any { return schemaFor(&setNoteCategoryArgs{}) }

func (t *setNoteCategoryTool) Execute(ctx context.Context, args map[string]any) string {
	noteID := stringArg(args, "note_id")
	categoryID := stringArg(args, "category_id")
	slog.Debug("Tool: set_note_category", "note_id", noteID, "category_id", categoryID)

	// Clear-category intent.
	lower := strings.ToLower(categoryID)
	if categoryID == "" || lower == "none" || lower == "null" || lower == "undefined" {
		if err := t.deps.Store.SetCategory(ctx, noteID, ""); err != nil {
			return fmt.Sprintf("Error: Failed to update note %s.", noteID)
		}
		return "Successfully removed category from note (it is now Uncategorized)."
	}

	categories, err := t.deps.Store.Categories(ctx)
	if err != nil {
		return fmt.Sprintf("Error: failed to list categories: %v", err)
	}
	names := map[string]string{}
	nameToID := map[string]string{}
	valid := false
	for _, c := range categories {
		names[c.ID] = c.Name
		nameToID[c.Name] = c.ID
		if c.ID == categoryID {
			valid = true
		}
	}
	if !valid {
		// The model sometimes passes a name instead of an id.
		if id, ok := nameToID[categoryID]; ok {
			categoryID = id
		} else {
			suggestions := make([]string, 0, len(categories))
			for _, c := range categories {
				suggestions = append(suggestions, fmt.Sprintf("%q (%s)", c.ID, c.Name))
			}
			return fmt.Sprintf("Error: Category '%s' does not exist. Use a valid ID from list_categories or an empty string to remove. Valid IDs: %s",
				categoryID, strings.Join(suggestions, ", "))
		}
	}

	if err := t.deps.Store.SetCategory(ctx, noteID, categoryID); err != nil {
		return fmt.Sprintf("Error: Failed to update note %s. Note might not exist or is in trash.", noteID)
	}
	return fmt.Sprintf("Successfully assigned note to category: %s", names[categoryID])
}
