package protocol

import "regexp"

// Note identifiers come in two shapes: the editor's timestamped ids
// (millisecond epoch, dash, 9 hex chars) and UUID-like ids from imports.
var (
	timestampedIDPattern = regexp.MustCompile(`^\d{13}-[0-9a-f]{9}$`)
	uuidLikeIDPattern    = regexp.MustCompile(`^[0-9a-fA-F-]{32,36}$`)
)

// IsNoteID reports whether s matches a recognized note id shape.
func IsNoteID(s string) bool {
	return timestampedIDPattern.MatchString(s) || uuidLikeIDPattern.MatchString(s)
}
