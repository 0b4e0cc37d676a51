package sigma

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const mimikatzRule = `title: Mimikatz Detection
id: 06d71506-7beb-4f22-8888-e2e5e2ca7fd8
status: test
description: Detects mimikatz command line arguments
author: Florian Roth
tags:
  - attack.credential_access
  - attack.t1003.001
logsource:
  category: process_creation
  product: windows
detection:
  selection:
    CommandLine|contains:
      - sekurlsa::
      - lsadump::
  condition: selection
level: high
`

const localRule = `title: Benign Tool
detection:
  selection:
    Image|endswith: '\tool.exe'
  condition: selection
`

func writeFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	full := filepath.Join(dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func newRulesDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, "windows/proc_creation_win_mimikatz.yml", mimikatzRule)
	writeFile(t, dir, "custom/benign.yaml", localRule)
	writeFile(t, dir, "custom/notes.txt", "not a rule")
	writeFile(t, dir, "custom/.hidden.yml", mimikatzRule)
	writeFile(t, dir, ".git/config.yml", mimikatzRule)
	writeFile(t, dir, "broken/list.yml", "- a\n- b\n")
	writeFile(t, dir, "broken/nothing.yml", "foo: bar\n")
	return dir
}

func TestParser_ParseDirectory(t *testing.T) {
	dir := newRulesDir(t)

	rules, skipped, err := NewParser().ParseDirectory(dir)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Len(t, skipped, 2)

	byPath := map[string]*Rule{}
	for _, r := range rules {
		byPath[r.Path] = r
	}

	m := byPath["windows/proc_creation_win_mimikatz.yml"]
	require.NotNil(t, m)
	assert.Equal(t, "proc_creation_win_mimikatz.yml", m.Filename)
	assert.Equal(t, "Mimikatz Detection", m.Title)
	assert.Equal(t, []string{"attack.credential_access", "attack.t1003.001"}, m.Tags)
	assert.Equal(t, "process_creation", m.Logsource["category"])
	assert.Equal(t, mimikatzRule, m.RawYAML)

	b := byPath["custom/benign.yaml"]
	require.NotNil(t, b)
	assert.Empty(t, b.ID)
	rec := b.Record()
	assert.Equal(t, "benign.yaml", rec.Filename)
	assert.NotNil(t, rec.Tags)
}

func TestParser_RejectsOversizedFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "big.yml", "title: Big\ndescription: "+strings.Repeat("x", MaxRuleSize)+"\n")

	_, err := NewParser().ParseFile(filepath.Join(dir, "big.yml"))
	assert.Error(t, err)
}

func TestParser_ParseYAML(t *testing.T) {
	_, err := NewParser().ParseYAML([]byte("foo: bar\n"))
	assert.ErrorIs(t, err, ErrNotARule)

	r, err := NewParser().ParseYAML([]byte("detection:\n  condition: sel\n"))
	require.NoError(t, err)
	assert.Empty(t, r.Title)
}

func TestCatalog_LoadReportsChanges(t *testing.T) {
	dir := newRulesDir(t)
	c := NewCatalog(dir, zaptest.NewLogger(t).Sugar())

	changed, err := c.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"custom/benign.yaml", "windows/proc_creation_win_mimikatz.yml"}, changed)

	records := c.Records()
	require.Len(t, records, 2)
	assert.Equal(t, "custom/benign.yaml", records[0].Path)

	changed, err = c.Load()
	require.NoError(t, err)
	assert.Empty(t, changed)

	writeFile(t, dir, "custom/benign.yaml", localRule+"level: low\n")
	require.NoError(t, os.Remove(filepath.Join(dir, "windows/proc_creation_win_mimikatz.yml")))
	changed, err = c.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"custom/benign.yaml", "windows/proc_creation_win_mimikatz.yml"}, changed)

	r, err := c.Lookup("custom/benign.yaml")
	require.NoError(t, err)
	assert.Equal(t, "low", r.Level)

	_, err = c.Lookup("windows/proc_creation_win_mimikatz.yml")
	assert.ErrorIs(t, err, ErrRuleNotFound)
	assert.Equal(t, 1, c.Stats().Rules)
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	dir := newRulesDir(t)
	logger := zaptest.NewLogger(t).Sugar()
	c := NewCatalog(dir, logger)
	_, err := c.Load()
	require.NoError(t, err)

	var (
		mu   sync.Mutex
		seen []string
	)
	w, err := NewWatcher(c, 20*time.Millisecond, func(changed []string) {
		mu.Lock()
		seen = append(seen, changed...)
		mu.Unlock()
	}, logger)
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	writeFile(t, dir, "windows/new_rule.yml", localRule)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, p := range seen {
			if p == "windows/new_rule.yml" {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)

	_, err = c.Lookup("windows/new_rule.yml")
	assert.NoError(t, err)
}
