package sigma

import (
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"sigmalens/search"
)

// ErrRuleNotFound is returned by Lookup for an unknown path.
var ErrRuleNotFound = errors.New("rule not found")

// Catalog is the in-memory set of rules loaded from a directory.
type Catalog struct {
	dir    string
	parser *Parser
	logger *zap.SugaredLogger

	mu       sync.RWMutex
	rules    []*Rule
	byPath   map[string]*Rule
	loadedAt time.Time
	skipped  int
}

// NewCatalog creates an empty catalog over dir. Call Load to populate it.
func NewCatalog(dir string, logger *zap.SugaredLogger) *Catalog {
	return &Catalog{
		dir:    dir,
		parser: NewParser(),
		logger: logger,
		byPath: map[string]*Rule{},
	}
}

// Dir returns the rules directory.
func (c *Catalog) Dir() string { return c.dir }

// Load parses the rules directory and replaces the catalog contents. It
// returns the paths whose content changed, appeared or disappeared.
func (c *Catalog) Load() ([]string, error) {
	rules, skipped, err := c.parser.ParseDirectory(c.dir)
	if err != nil {
		return nil, err
	}
	for _, s := range skipped {
		c.logger.Debugw("Skipped rule file", "path", s.Path, "error", s.Err)
	}

	sort.Slice(rules, func(i, j int) bool { return rules[i].Path < rules[j].Path })
	byPath := make(map[string]*Rule, len(rules))
	for _, r := range rules {
		byPath[r.Path] = r
	}

	c.mu.Lock()
	changed := diffRules(c.byPath, byPath)
	c.rules = rules
	c.byPath = byPath
	c.loadedAt = time.Now()
	c.skipped = len(skipped)
	c.mu.Unlock()

	c.logger.Infow("Loaded rules",
		"dir", c.dir,
		"rules", len(rules),
		"skipped", len(skipped),
		"changed", len(changed))
	return changed, nil
}

func diffRules(old, next map[string]*Rule) []string {
	var changed []string
	for p, r := range next {
		if prev, ok := old[p]; !ok || prev.RawYAML != r.RawYAML {
			changed = append(changed, p)
		}
	}
	for p := range old {
		if _, ok := next[p]; !ok {
			changed = append(changed, p)
		}
	}
	sort.Strings(changed)
	return changed
}

// Records returns the searchable form of every rule, ordered by path.
func (c *Catalog) Records() []search.RuleRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]search.RuleRecord, len(c.rules))
	for i, r := range c.rules {
		out[i] = r.Record()
	}
	return out
}

// Lookup returns the rule at a relative path.
func (c *Catalog) Lookup(path string) (*Rule, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.byPath[path]
	if !ok {
		return nil, ErrRuleNotFound
	}
	return r, nil
}

// Len returns the number of loaded rules.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.rules)
}

// CatalogStats summarizes the last load.
type CatalogStats struct {
	Rules    int       `json:"rules"`
	Skipped  int       `json:"skipped"`
	LoadedAt time.Time `json:"loaded_at"`
}

// Stats reports the outcome of the last load.
func (c *Catalog) Stats() CatalogStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return CatalogStats{Rules: len(c.rules), Skipped: c.skipped, LoadedAt: c.loadedAt}
}
