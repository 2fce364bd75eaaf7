package search

import "fmt"

// Canonical document field names in the search index.
const (
	FieldDocID              = "doc_id"
	FieldTitle              = "title"
	FieldURL                = "url"
	FieldContent            = "content"
	FieldContentDescription = "content_description"
)

// Document is one search hit: a loose field bag as returned by the search
// server. Fields beyond the canonical ones are preserved as-is.
type Document map[string]any

// Str returns the named field rendered as a string, or "" when absent
// or null. Non-string values are formatted, matching the tolerant reading
// the search server's mixed-type fields require.
func (d Document) Str(key string) string {
	v, ok := d[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// DocID returns the stable document identifier.
func (d Document) DocID() string { return d.Str(FieldDocID) }

// Title returns the document title.
func (d Document) Title() string { return d.Str(FieldTitle) }

// URL returns the document location.
func (d Document) URL() string { return d.Str(FieldURL) }

// Content returns the full document body, when the hit carries one.
func (d Document) Content() string { return d.Str(FieldContent) }

// ContentDescription returns the short excerpt used when the full body is
// missing.
func (d Document) ContentDescription() string { return d.Str(FieldContentDescription) }
