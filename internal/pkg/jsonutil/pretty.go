package jsonutil

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Indent reformats a JSON document with two-space indentation, keeping key
// order. Anything that is not valid JSON comes back trimmed and unchanged.
func Indent(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return raw
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(raw), "", "  "); err != nil {
		return raw
	}
	return buf.String()
}
