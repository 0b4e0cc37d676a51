package sigma

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// MaxRuleSize is the largest rule file the parser reads.
const MaxRuleSize = 1 << 20

// FileError records a rule file that was skipped.
type FileError struct {
	Path string
	Err  error
}

func (e *FileError) Error() string { return e.Path + ": " + e.Err.Error() }

func (e *FileError) Unwrap() error { return e.Err }

// Parser reads SIGMA rule files.
type Parser struct {
	maxSize int64
}

// NewParser creates a parser with the default size limit.
func NewParser() *Parser {
	return &Parser{maxSize: MaxRuleSize}
}

// ParseDirectory parses every .yml and .yaml file below root. Hidden files,
// oversized files and documents that are not rules are skipped and reported
// in the second return value. Paths are relative to root.
func (p *Parser) ParseDirectory(root string) ([]*Rule, []*FileError, error) {
	var (
		rules   []*Rule
		skipped []*FileError
	)

	err := filepath.WalkDir(root, func(full string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if full != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !IsRuleFile(d.Name()) {
			return nil
		}

		rel, err := filepath.Rel(root, full)
		if err != nil {
			return err
		}
		rule, err := p.ParseFile(full)
		if err != nil {
			skipped = append(skipped, &FileError{Path: filepath.ToSlash(rel), Err: err})
			return nil
		}
		rule.Path = filepath.ToSlash(rel)
		rule.Filename = path.Base(rule.Path)
		rules = append(rules, rule)
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to walk directory: %w", err)
	}

	return rules, skipped, nil
}

// IsRuleFile reports whether name looks like a visible YAML rule file.
func IsRuleFile(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yml" || ext == ".yaml"
}

// ParseFile parses a single rule file. Path and Filename are left to the
// caller except for the base name.
func (p *Parser) ParseFile(filePath string) (*Rule, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.Size() > p.maxSize {
		return nil, fmt.Errorf("file is %d bytes, limit is %d", info.Size(), p.maxSize)
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	rule, err := p.ParseYAML(data)
	if err != nil {
		return nil, err
	}
	rule.Filename = filepath.Base(filePath)
	rule.Path = filepath.ToSlash(filePath)
	return rule, nil
}

// ParseYAML parses a rule from YAML bytes. Only the first document of a
// multi-document file is read.
func (p *Parser) ParseYAML(data []byte) (*Rule, error) {
	var rule Rule
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&rule); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	rule.RawYAML = string(data)

	if err := rule.Validate(); err != nil {
		return nil, fmt.Errorf("invalid SIGMA rule: %w", err)
	}
	return &rule, nil
}
