package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sigmalens/clipboard"
)

const treePayload = `{
  "type": "group",
  "operator": "AND",
  "children": [
    {"type": "condition", "field": "Image", "operator": "endswith", "value": "\\psexec.exe"},
    {"type": "group", "operator": "OR", "children": [
      {"type": "condition", "field": "CommandLine", "operator": "contains", "value": "-accepteula"},
      {"type": "condition", "field": "CommandLine", "operator": "contains", "value": "-s cmd"},
      {"type": "condition", "field": "ParentImage", "operator": "endswith", "value": "\\services.exe"},
      {"type": "condition", "field": "User", "operator": "contains", "value": "SYSTEM"}
    ]}
  ],
  "original_query": "Image:*\\psexec.exe AND (CommandLine:*-accepteula* OR CommandLine:*-s cmd*)"
}`

const psexecRule = `title: PsExec Service Start
id: 3b0b2f3e-1a35-4d1e-9a1c-0b0f6f8e3a2d
status: test
level: high
description: Detects PsExec service installation
tags:
  - attack.execution
  - attack.t1569.002
logsource:
  category: process_creation
  product: windows
detection:
  selection:
    Image|endswith: '\psexec.exe'
  condition: selection
`

// runCLI executes the root command with args and returns stdout and stderr.
func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

// cliEnv runs commands from an empty directory with a fresh viper and a
// rules directory holding one rule.
func cliEnv(t *testing.T, converterURL string) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	viper.Reset()
	t.Cleanup(viper.Reset)

	rules := filepath.Join(dir, "rules")
	require.NoError(t, os.MkdirAll(filepath.Join(rules, "windows"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(rules, "windows", "psexec.yml"), []byte(psexecRule), 0o644))

	t.Setenv("SIGMALENS_RULES_DIR", rules)
	t.Setenv("SIGMALENS_CONVERTER_URL", converterURL)
	t.Setenv("SIGMALENS_SEARCH_ENABLED", "false")
	return rules
}

func newConverter(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/convert_to_structured", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("file_path") {
		case "windows/psexec.yml":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(treePayload))
		case "windows/broken.yml":
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"Unsupported modifier 'base64offset'"}`))
		default:
			http.Error(w, "boom", http.StatusInternalServerError)
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRootCommand_Structure(t *testing.T) {
	root := NewRootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "view", "render", "search"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
	for _, flag := range []string{"json", "config", "no-color", "quiet"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(flag), "missing flag %s", flag)
	}
}

func TestRender_Tree(t *testing.T) {
	path := filepath.Join(t.TempDir(), "payload.json")
	require.NoError(t, os.WriteFile(path, []byte(treePayload), 0o644))

	out, _, err := runCLI(t, "render", path, "--no-color")
	require.NoError(t, err)
	assert.Contains(t, out, "Groups: 2")
	assert.Contains(t, out, "Conditions: 5")
	assert.Contains(t, out, "All conditions must be true")
	assert.Contains(t, out, "CommandLine")
	assert.Contains(t, out, "└── ")
}

func TestRender_CollapsedGroup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "payload.json")
	require.NoError(t, os.WriteFile(path, []byte(treePayload), 0o644))

	out, _, err := runCLI(t, "render", path, "--no-color", "--collapse", "0.1")
	require.NoError(t, err)
	assert.Contains(t, out, "collapsed, 4 hidden")
	assert.NotContains(t, out, "-accepteula")
}

func TestRender_ExportIgnoresCollapse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "payload.json")
	require.NoError(t, os.WriteFile(path, []byte(treePayload), 0o644))

	out, _, err := runCLI(t, "render", path, "--export", "--collapse", "0.1")
	require.NoError(t, err)
	assert.Contains(t, out, "AND: All conditions must be true")
	assert.Contains(t, out, "-accepteula")
}

func TestRender_JSONFromStdin(t *testing.T) {
	var stdout bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&stdout)
	root.SetIn(bytes.NewBufferString(`{"error":"Unsupported modifier"}`))
	root.SetArgs([]string{"render", "-", "--json"})
	require.NoError(t, root.Execute())

	var got renderOutput
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &got))
	assert.Equal(t, "error", got.Status)
	assert.Equal(t, "Unsupported modifier", got.Message)
	assert.Nil(t, got.View)
}

func TestRender_MissingFile(t *testing.T) {
	_, _, err := runCLI(t, "render", filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read payload")
}

func TestView_PrintsTree(t *testing.T) {
	srv := newConverter(t)
	cliEnv(t, srv.URL)

	out, _, err := runCLI(t, "view", "windows/psexec.yml", "--no-color", "--quiet")
	require.NoError(t, err)
	assert.Contains(t, out, "PsExec Service Start")
	assert.Contains(t, out, "windows/psexec.yml")
	assert.Contains(t, out, "Any condition can be true")
}

func TestView_RawJSON(t *testing.T) {
	srv := newConverter(t)
	cliEnv(t, srv.URL)

	out, _, err := runCLI(t, "view", "windows/psexec.yml", "--raw", "--json")
	require.NoError(t, err)

	var snap map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &snap))
	assert.Equal(t, "raw", snap["mode"])
	raw, ok := snap["raw"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, raw["formatted"], "\nAND ")
}

func TestView_RejectedRuleIsNotAnError(t *testing.T) {
	srv := newConverter(t)
	cliEnv(t, srv.URL)

	out, _, err := runCLI(t, "view", "windows/broken.yml", "--no-color", "--quiet")
	require.NoError(t, err)
	assert.Contains(t, out, "Unsupported modifier 'base64offset'")
	assert.Contains(t, out, "broken.yml")
}

func TestView_TransportFailure(t *testing.T) {
	srv := newConverter(t)
	cliEnv(t, srv.URL)

	_, stderr, err := runCLI(t, "view", "windows/other.yml", "--no-color", "--quiet")
	require.Error(t, err)
	assert.Contains(t, stderr, "failed to open rule")
}

func TestView_CopyUsesTerminalFallback(t *testing.T) {
	srv := newConverter(t)
	cliEnv(t, srv.URL)

	var term bytes.Buffer
	orig := newClipboard
	newClipboard = func() *clipboard.Writer { return &clipboard.Writer{Terminal: &term} }
	t.Cleanup(func() { newClipboard = orig })

	_, stderr, err := runCLI(t, "view", "windows/psexec.yml", "--no-color", "--copy")
	require.NoError(t, err)
	assert.Contains(t, stderr, "Copied to clipboard (osc52)")
	assert.Contains(t, term.String(), "\x1b]52;c;")
}

func TestView_CopyValueRejectsGroup(t *testing.T) {
	srv := newConverter(t)
	cliEnv(t, srv.URL)

	_, _, err := runCLI(t, "view", "windows/psexec.yml", "--quiet", "--copy-value", "0.1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `no condition with id "0.1"`)
}

func TestSearch_LocalFilter(t *testing.T) {
	cliEnv(t, "http://127.0.0.1:1")

	out, _, err := runCLI(t, "search", "psexec", "--no-color")
	require.NoError(t, err)
	assert.Contains(t, out, "1 rule(s) found")
	assert.Contains(t, out, "PsExec Service Start")
	assert.Contains(t, out, "local matches")
}

func TestSearch_NoMatches(t *testing.T) {
	cliEnv(t, "http://127.0.0.1:1")

	out, _, err := runCLI(t, "search", "mimikatz", "--no-color", "--quiet")
	require.NoError(t, err)
	assert.Contains(t, out, "No rules found")
}

func TestRender_Validate(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.json")
	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(good, []byte(treePayload), 0o644))
	require.NoError(t, os.WriteFile(bad, []byte(`{"type":"group","operator":"XOR","children":[]}`), 0o644))

	out, _, err := runCLI(t, "render", good, "--validate", "--no-color")
	require.NoError(t, err)
	assert.Contains(t, out, "matches the response schema")

	out, _, err = runCLI(t, "render", bad, "--validate", "--json")
	require.NoError(t, err)
	var got renderOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.NotEmpty(t, got.Violations)
}
