package loader

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleshout/pkg/cfg"
)

const loopYAML = `
entry: E
blocks:
  regular: [E, Body, C, M]
  loop_headers: [L]
jump:
  E: [L]
  L: [Body, M]
  Body: [C]
  C: [L]
merge:
  L: M
continue:
  L: C
`

const switchJSON = `{
  "entry": "S",
  "blocks": {"regular": ["A", "B", "X"], "selection_headers": ["S"], "switches": ["S"]},
  "jump": {"S": ["A", "B", "A"], "A": ["X"], "B": ["X"]},
  "merge": {"S": "X"}
}`

func TestParse(t *testing.T) {
	rel, err := Parse(strings.NewReader(loopYAML))
	require.NoError(t, err)
	want := cfg.Relations{
		Entry:       "E",
		Regular:     []string{"E", "Body", "C", "M"},
		LoopHeaders: []string{"L"},
		Jump: map[string][]string{
			"E":    {"L"},
			"L":    {"Body", "M"},
			"Body": {"C"},
			"C":    {"L"},
		},
		Merge:    map[string]string{"L": "M"},
		Continue: map[string]string{"L": "C"},
	}
	if diff := cmp.Diff(want, rel); diff != "" {
		t.Fatalf("relations mismatch (-want +got):\n%s", diff)
	}
	_, err = cfg.NewGraph(rel)
	require.NoError(t, err)
}

func TestParseJSON(t *testing.T) {
	rel, err := Parse(strings.NewReader(switchJSON))
	require.NoError(t, err)
	assert.Equal(t, "S", rel.Entry)
	assert.Equal(t, []string{"A", "B", "A"}, rel.Jump["S"])
	assert.Equal(t, []string{"S"}, rel.Switches)

	g, err := cfg.NewGraph(rel)
	require.NoError(t, err)
	assert.True(t, g.IsSwitch("S"))
}

func TestParseErrors(t *testing.T) {
	cases := []struct {
		name   string
		input  string
		errMsg string
	}{
		{"empty", "", "empty CFG description"},
		{"no_entry", "blocks:\n  regular: [A]\n", "missing entry block"},
		{"unknown_key", "entry: E\njumps:\n  E: [F]\n", "jumps"},
		{"unknown_role", "entry: E\nblocks:\n  loops: [E]\n", "loops"},
		{"bad_jump_list", "entry: E\njump:\n  E: F\n", "cannot unmarshal"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tc.input))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errMsg)
		})
	}
}

func TestWriteRoundTrip(t *testing.T) {
	rel, err := Parse(strings.NewReader(loopYAML))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, rel))
	again, err := Parse(&buf)
	require.NoError(t, err)
	assert.Equal(t, rel, again)
}

func TestFiles(t *testing.T) {
	dir := t.TempDir()
	for name, content := range map[string]string{
		"b.yaml":     loopYAML,
		"a.json":     switchJSON,
		"c.YML":      loopYAML,
		"notes.txt":  "ignored",
		"out.amber":  "ignored",
		"d.yaml.bak": "ignored",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.yaml"), 0o755))

	files, err := Files(dir)
	require.NoError(t, err)
	want := []string{
		filepath.Join(dir, "a.json"),
		filepath.Join(dir, "b.yaml"),
		filepath.Join(dir, "c.YML"),
	}
	assert.Equal(t, want, files)
	assert.Equal(t, "b", Name(files[1]))

	rel, err := Load(files[0])
	require.NoError(t, err)
	assert.Equal(t, "S", rel.Entry)

	_, err = Load(filepath.Join(dir, "notes.txt"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notes.txt")
}
