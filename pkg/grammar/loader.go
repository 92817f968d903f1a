/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: loader.go
Description: Ruleset loader. Reads the grammar.yaml manifest, decodes every category file
with the manifest's text encoding, groups equal-probability values into replacements and
builds the immutable Grammar. Any unreadable line is fatal: rulesets are trusted input.
*/

package grammar

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
	"gopkg.in/yaml.v3"
)

// SupportedMajorVersion is the ruleset format major version this guesser reads
const SupportedMajorVersion = "4"

// ManifestFile is the manifest name inside a ruleset directory
const ManifestFile = "grammar.yaml"

// Category describes one group of rule files in the manifest
type Category struct {
	Name       string   `yaml:"name"`
	Directory  string   `yaml:"directory"`
	Files      []string `yaml:"files"`
	Prefix     string   `yaml:"prefix"`
	Symbol     string   `yaml:"symbol"`
	Function   string   `yaml:"function"`
	IsTerminal bool     `yaml:"is_terminal"`
	ShadowOf   string   `yaml:"shadow_of"`
}

// Manifest is the parsed grammar.yaml
type Manifest struct {
	Version    string     `yaml:"version"`
	Encoding   string     `yaml:"encoding"`
	Start      string     `yaml:"start"`
	Omen       string     `yaml:"omen"`
	Categories []Category `yaml:"categories"`
}

// LoadOptions tunes ruleset loading
type LoadOptions struct {
	// DisableMarkov makes Markov probability mass unreachable instead of loading it
	DisableMarkov bool
}

// Ruleset is a loaded ruleset directory
type Ruleset struct {
	Dir      string
	Manifest Manifest
	Grammar  *Grammar
}

// OmenDir returns the directory of the n-gram sub-model, or "" when the ruleset has none
func (r *Ruleset) OmenDir() string {
	if r.Manifest.Omen == "" {
		return ""
	}
	return filepath.Join(r.Dir, r.Manifest.Omen)
}

// LoadManifest reads and validates grammar.yaml from a ruleset directory
func LoadManifest(dir string) (*Manifest, error) {
	path := filepath.Join(dir, ManifestFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Stage: StageManifest, File: path, Err: err}
	}

	var m Manifest
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&m); err != nil {
		return nil, &LoadError{Stage: StageManifest, File: path, Err: fmt.Errorf("failed to parse YAML: %w", err)}
	}

	major, _, _ := strings.Cut(m.Version, ".")
	if major != SupportedMajorVersion {
		return nil, &LoadError{
			Stage: StageVersion,
			File:  path,
			Err:   fmt.Errorf("ruleset version %q is not supported (want %s.x)", m.Version, SupportedMajorVersion),
		}
	}
	if m.Encoding == "" {
		m.Encoding = "utf-8"
	}
	if m.Start == "" {
		return nil, &LoadError{Stage: StageManifest, File: path, Err: fmt.Errorf("start symbol is required")}
	}
	if len(m.Categories) == 0 {
		return nil, &LoadError{Stage: StageManifest, File: path, Err: fmt.Errorf("no categories defined")}
	}
	return &m, nil
}

// Load reads a ruleset directory into a Grammar
func Load(dir string, opts LoadOptions) (*Ruleset, error) {
	m, err := LoadManifest(dir)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]*Category, len(m.Categories))
	for i := range m.Categories {
		byName[m.Categories[i].Name] = &m.Categories[i]
	}

	// Names first: base structures are tokenised against every known symbol
	symbols := make(map[string]bool)
	for _, c := range m.Categories {
		if c.Symbol != "" && len(c.Files) != 1 {
			return nil, &LoadError{Stage: StageManifest, Err: fmt.Errorf("category %q: symbol requires exactly one file", c.Name)}
		}
		for _, f := range c.Files {
			symbols[symbolFor(c, f)] = true
		}
	}
	tokens := newTokenizer(symbols)

	b := NewBuilder().SetVersion(m.Version)
	if opts.DisableMarkov {
		b.DisableMarkov()
	}

	for _, c := range m.Categories {
		fn, err := ParseFunction(c.Function)
		if err != nil {
			return nil, &LoadError{Stage: StageManifest, Err: fmt.Errorf("category %q: %w", c.Name, err)}
		}
		if (fn == Transparent) == c.IsTerminal {
			return nil, &LoadError{Stage: StageManifest, Err: fmt.Errorf("category %q: %s rules cannot have is_terminal=%v", c.Name, fn, c.IsTerminal)}
		}

		directory := c.Directory
		if c.ShadowOf != "" {
			src, ok := byName[c.ShadowOf]
			if !ok {
				return nil, &LoadError{Stage: StageManifest, Err: fmt.Errorf("category %q shadows unknown category %q", c.Name, c.ShadowOf)}
			}
			if directory == "" {
				directory = src.Directory
			}
		}

		for _, f := range c.Files {
			path := filepath.Join(dir, directory, f)
			name := symbolFor(c, f)
			if err := loadRuleFile(b, path, m.Encoding, name, fn, tokens); err != nil {
				return nil, err
			}
		}
	}

	g, err := b.Build(m.Start)
	if err != nil {
		return nil, &LoadError{Stage: StageBuild, Err: err}
	}
	return &Ruleset{Dir: dir, Manifest: *m, Grammar: g}, nil
}

func symbolFor(c Category, file string) string {
	if c.Symbol != "" {
		return c.Symbol
	}
	stem := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
	return c.Prefix + stem
}

type ruleLine struct {
	value       string
	probability float64
	line        int
}

func loadRuleFile(b *Builder, path, encoding, name string, fn Function, tokens *tokenizer) error {
	var lines []ruleLine
	err := ReadLines(path, encoding, func(lineNo int, line string) error {
		if line == "" {
			return nil
		}
		idx := strings.LastIndexByte(line, '\t')
		if idx < 0 {
			return &LoadError{Stage: StageRules, File: path, Line: lineNo, Err: fmt.Errorf("expected <value>\\t<probability>")}
		}
		p, err := strconv.ParseFloat(strings.TrimSpace(line[idx+1:]), 64)
		if err != nil {
			return &LoadError{Stage: StageRules, File: path, Line: lineNo, Err: fmt.Errorf("bad probability: %w", err)}
		}
		lines = append(lines, ruleLine{value: line[:idx], probability: p, line: lineNo})
		return nil
	})
	if err != nil {
		return err
	}

	for i := 0; i < len(lines); {
		j := i + 1
		if fn != Transparent {
			for j < len(lines) && lines[j].probability == lines[i].probability {
				j++
			}
		}
		group := lines[i:j]
		p := lines[i].probability

		switch fn {
		case Transparent:
			children, err := tokens.split(group[0].value)
			if err != nil {
				return &LoadError{Stage: StageRules, File: path, Line: group[0].line, Err: err}
			}
			b.AddTransparent(name, p, children...)
		case Markov:
			bands := make([]LevelRange, 0, len(group))
			for _, l := range group {
				band, err := ParseLevelRange(l.value)
				if err != nil {
					return &LoadError{Stage: StageRules, File: path, Line: l.line, Err: err}
				}
				bands = append(bands, band)
			}
			b.AddMarkov(name, p, bands...)
		default:
			values := make([]string, len(group))
			for k, l := range group {
				values[k] = l.value
			}
			b.AddValues(name, fn, p, values...)
		}
		i = j
	}
	return nil
}

// ParseLevelRange parses "L" or "min:max"
func ParseLevelRange(s string) (LevelRange, error) {
	lo, hi, found := strings.Cut(strings.TrimSpace(s), ":")
	low, err := strconv.Atoi(lo)
	if err != nil {
		return LevelRange{}, fmt.Errorf("bad level band %q: %w", s, err)
	}
	high := low
	if found {
		if high, err = strconv.Atoi(hi); err != nil {
			return LevelRange{}, fmt.Errorf("bad level band %q: %w", s, err)
		}
	}
	if low < 0 || low > high {
		return LevelRange{}, fmt.Errorf("bad level band %q", s)
	}
	return LevelRange{Min: low, Max: high}, nil
}

// ReadLines decodes a ruleset file with the named encoding and calls fn for every line
// (1-based line numbers, line terminator stripped). Lines that do not decode are fatal.
func ReadLines(path, encoding string, fn func(lineNo int, line string) error) error {
	f, err := os.Open(path)
	if err != nil {
		return &LoadError{Stage: StageRules, File: path, Err: err}
	}
	defer f.Close()

	var r io.Reader = f
	isUTF8 := true
	if name := strings.ToLower(encoding); name != "" && name != "utf-8" && name != "utf8" {
		enc, err := htmlindex.Get(encoding)
		if err != nil {
			return &LoadError{Stage: StageEncoding, File: path, Err: fmt.Errorf("unknown encoding %q: %w", encoding, err)}
		}
		r = transform.NewReader(f, enc.NewDecoder())
		isUTF8 = false
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Bytes()
		raw = bytes.TrimSuffix(raw, []byte{'\r'})
		if isUTF8 && !utf8.Valid(raw) {
			return &LoadError{Stage: StageEncoding, File: path, Line: lineNo, Err: fmt.Errorf("line is not valid UTF-8")}
		}
		// Decoders replace invalid sequences with U+FFFD, which no legacy charset encodes
		if !isUTF8 && bytes.ContainsRune(raw, utf8.RuneError) {
			return &LoadError{Stage: StageEncoding, File: path, Line: lineNo, Err: fmt.Errorf("line is not valid %s", encoding)}
		}
		if err := fn(lineNo, string(raw)); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return &LoadError{Stage: StageEncoding, File: path, Line: lineNo + 1, Err: err}
	}
	return nil
}

// tokenizer splits compact base structures such as "A3C3D2" into symbol names
// by longest match against the known symbols
type tokenizer struct {
	symbols []string
}

func newTokenizer(symbols map[string]bool) *tokenizer {
	t := &tokenizer{}
	for s := range symbols {
		t.symbols = append(t.symbols, s)
	}
	sort.Slice(t.symbols, func(i, j int) bool {
		if len(t.symbols[i]) != len(t.symbols[j]) {
			return len(t.symbols[i]) > len(t.symbols[j])
		}
		return t.symbols[i] < t.symbols[j]
	})
	return t
}

func (t *tokenizer) split(structure string) ([]string, error) {
	var out []string
	rest := structure
	for rest != "" {
		matched := ""
		for _, s := range t.symbols {
			if strings.HasPrefix(rest, s) {
				matched = s
				break
			}
		}
		if matched == "" {
			return nil, fmt.Errorf("base structure %q: no symbol matches %q", structure, rest)
		}
		out = append(out, matched)
		rest = rest[len(matched):]
	}
	return out, nil
}
