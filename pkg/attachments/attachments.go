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

// Package attachments extracts readable text from uploaded files so it can
// be injected into the turn's context. Images pass through as data URLs.
package attachments

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
)

// Attachment is one uploaded file, as received from the client.
type Attachment struct {
	Kind        string `json:"kind"` // "image" or "file"
	Name        string `json:"name"`
	MimeType    string `json:"mime_type"`
	SizeBytes   int64  `json:"size_bytes"`
	DataURL     string `json:"data_url,omitempty"`
	TextContent string `json:"text_content,omitempty"`
}

// IsImage reports whether the attachment is an inline image.
func (a *Attachment) IsImage() bool {
	return a.Kind == "image" || strings.HasPrefix(a.MimeType, "image/")
}

var xmlTagPattern = regexp.MustCompile(`<[^>]+>`)

// ExtractText returns the readable text of a non-image attachment,
// truncated to capChars per file. Returns "" for attachments with no
// extractable text.
func ExtractText(a *Attachment, capChars int) (string, error) {
	if a.IsImage() {
		return "", nil
	}

	text := a.TextContent
	if text == "" && a.DataURL != "" {
		data, err := decodeDataURL(a.DataURL)
		if err != nil {
			return "", fmt.Errorf("attachment %s: %w", a.Name, err)
		}
		switch {
		case a.MimeType == "application/pdf" || strings.HasSuffix(strings.ToLower(a.Name), ".pdf"):
			text, err = extractPDF(data)
		case strings.HasSuffix(strings.ToLower(a.Name), ".docx"):
			text, err = extractDocx(data)
		default:
			// Treat everything else as plain text (txt, md, code, csv).
			text = string(data)
		}
		if err != nil {
			return "", fmt.Errorf("attachment %s: %w", a.Name, err)
		}
	}

	text = strings.TrimSpace(text)
	if r := []rune(text); capChars > 0 && len(r) > capChars {
		text = string(r[:capChars]) + "\n...[truncated]"
	}
	return text, nil
}

func decodeDataURL(dataURL string) ([]byte, error) {
	idx := strings.Index(dataURL, ",")
	if idx < 0 || !strings.HasPrefix(dataURL, "data:") {
		return nil, fmt.Errorf("malformed data URL")
	}
	meta, payload := dataURL[:idx], dataURL[idx+1:]
	if strings.Contains(meta, ";base64") {
		return base64.StdEncoding.DecodeString(payload)
	}
	return []byte(payload), nil
}

func extractPDF(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to open pdf: %w", err)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("failed to read pdf text: %w", err)
	}
	var b strings.Builder
	if _, err := io.Copy(&b, plain); err != nil {
		return "", err
	}
	return b.String(), nil
}

func extractDocx(data []byte) (string, error) {
	doc, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to open docx: %w", err)
	}
	defer func() { _ = doc.Close() }()

	content := doc.Editable().GetContent()
	// The raw document body is XML; paragraph boundaries become newlines.
	content = strings.ReplaceAll(content, "</w:p>", "\n")
	content = xmlTagPattern.ReplaceAllString(content, "")
	return content, nil
}
