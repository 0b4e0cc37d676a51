package sigma

import (
	"errors"
	"strings"

	"sigmalens/search"
)

// Rule is the part of a SIGMA rule file the viewer needs.
type Rule struct {
	ID          string         `yaml:"id" json:"id,omitempty"`
	Title       string         `yaml:"title" json:"title"`
	Description string         `yaml:"description" json:"description,omitempty"`
	Author      string         `yaml:"author" json:"author,omitempty"`
	Date        string         `yaml:"date" json:"date,omitempty"`
	Modified    string         `yaml:"modified" json:"modified,omitempty"`
	Status      string         `yaml:"status" json:"status,omitempty"`
	Level       string         `yaml:"level" json:"level,omitempty"`
	References  []string       `yaml:"references" json:"references,omitempty"`
	Tags        []string       `yaml:"tags" json:"tags"`
	Logsource   map[string]any `yaml:"logsource" json:"logsource,omitempty"`
	Detection   map[string]any `yaml:"detection" json:"-"`

	// Path is relative to the rules directory and always uses forward slashes.
	Path string `yaml:"-" json:"file_path"`
	// Filename is the base name of Path.
	Filename string `yaml:"-" json:"filename"`
	RawYAML  string `yaml:"-" json:"-"`
}

// ErrNotARule is returned for YAML documents with neither a title nor a
// detection section.
var ErrNotARule = errors.New("document has neither title nor detection")

// Validate accepts any document that looks like a rule. Local and
// work-in-progress rules often lack an id, status or level.
func (r *Rule) Validate() error {
	if strings.TrimSpace(r.Title) == "" && len(r.Detection) == 0 {
		return ErrNotARule
	}
	return nil
}

// Record converts the rule into its searchable form.
func (r *Rule) Record() search.RuleRecord {
	tags := r.Tags
	if tags == nil {
		tags = []string{}
	}
	return search.RuleRecord{
		Filename:    r.Filename,
		Title:       r.Title,
		Description: r.Description,
		Tags:        tags,
		Path:        r.Path,
		Author:      r.Author,
		Status:      r.Status,
		Level:       r.Level,
		Content:     r.RawYAML,
	}
}
