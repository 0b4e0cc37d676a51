// Package search finds rules by a free-text or advanced query. The advanced
// mini-language is evaluated by a remote search service; when that service is
// unavailable a local substring filter answers instead.
package search

import "strings"

// RuleRecord is the searchable summary of one rule.
type RuleRecord struct {
	Filename    string   `json:"filename"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Path        string   `json:"file_path"`
	Author      string   `json:"author,omitempty"`
	Status      string   `json:"status,omitempty"`
	Level       string   `json:"level,omitempty"`
	Content     string   `json:"content,omitempty"`
}

// FilterRecords keeps the records whose title, filename, description or
// space-joined tags contain term, ignoring case. An empty or blank term keeps
// every record. Order is preserved and the input is never modified.
func FilterRecords(records []RuleRecord, term string) []RuleRecord {
	out := make([]RuleRecord, 0, len(records))
	needle := strings.ToLower(strings.TrimSpace(term))
	if needle == "" {
		return append(out, records...)
	}

	for _, r := range records {
		if matches(r, needle) {
			out = append(out, r)
		}
	}
	return out
}

func matches(r RuleRecord, needle string) bool {
	if strings.Contains(strings.ToLower(r.Title), needle) ||
		strings.Contains(strings.ToLower(r.Filename), needle) {
		return true
	}
	if strings.Contains(strings.ToLower(r.Description), needle) {
		return true
	}
	return len(r.Tags) > 0 && strings.Contains(strings.ToLower(strings.Join(r.Tags, " ")), needle)
}
