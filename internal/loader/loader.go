// Package loader reads CFG description files. JSON files are read by the same
// YAML decoder since JSON is a subset of YAML.
package loader

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"fleshout/pkg/cfg"
)

// Extensions lists the suffixes of files treated as CFG descriptions.
var Extensions = []string{".yaml", ".yml", ".json"}

type blocksFile struct {
	Regular          []string `yaml:"regular,omitempty"`
	LoopHeaders      []string `yaml:"loop_headers,omitempty"`
	SelectionHeaders []string `yaml:"selection_headers,omitempty"`
	Switches         []string `yaml:"switches,omitempty"`
}

type cfgFile struct {
	Entry    string              `yaml:"entry"`
	Blocks   blocksFile          `yaml:"blocks,omitempty"`
	Jump     map[string][]string `yaml:"jump,omitempty"`
	Merge    map[string]string   `yaml:"merge,omitempty"`
	Continue map[string]string   `yaml:"continue,omitempty"`
}

// Parse decodes one CFG description. Unknown keys are rejected.
func Parse(r io.Reader) (cfg.Relations, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var f cfgFile
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return cfg.Relations{}, errors.New("empty CFG description")
		}
		return cfg.Relations{}, err
	}
	if f.Entry == "" {
		return cfg.Relations{}, errors.New("missing entry block")
	}
	return cfg.Relations{
		Entry:            f.Entry,
		Regular:          f.Blocks.Regular,
		LoopHeaders:      f.Blocks.LoopHeaders,
		SelectionHeaders: f.Blocks.SelectionHeaders,
		Switches:         f.Blocks.Switches,
		Jump:             f.Jump,
		Merge:            f.Merge,
		Continue:         f.Continue,
	}, nil
}

// Load reads the CFG description at path.
func Load(path string) (cfg.Relations, error) {
	f, err := os.Open(path)
	if err != nil {
		return cfg.Relations{}, err
	}
	defer f.Close()
	rel, err := Parse(f)
	if err != nil {
		return cfg.Relations{}, fmt.Errorf("%s: %w", path, err)
	}
	return rel, nil
}

// Write encodes rel in the format Parse reads.
func Write(w io.Writer, rel cfg.Relations) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfgFile{
		Entry: rel.Entry,
		Blocks: blocksFile{
			Regular:          rel.Regular,
			LoopHeaders:      rel.LoopHeaders,
			SelectionHeaders: rel.SelectionHeaders,
			Switches:         rel.Switches,
		},
		Jump:     rel.Jump,
		Merge:    rel.Merge,
		Continue: rel.Continue,
	}); err != nil {
		return err
	}
	return enc.Close()
}

// IsCFGFile reports whether name has one of Extensions.
func IsCFGFile(name string) bool {
	return slices.Contains(Extensions, strings.ToLower(filepath.Ext(name)))
}

// Files returns the CFG description files directly inside dir, sorted by name.
func Files(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !IsCFGFile(e.Name()) {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	return out, nil
}

// Name is the base name of path without its extension.
func Name(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
