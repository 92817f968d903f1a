/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: model.go
Description: OMEN n-gram model. Holds the initial-prefix (IP), conditional transition (CP)
and length (LN) level tables over a fixed alphabet. Levels are small integer costs where
lower means more probable; a guess's level is LN + IP + the sum of its CP transitions.
Unseen n-grams and lengths are simply absent: no transition, not an error.
*/

package markov

import (
	"fmt"
	"sort"
	"unicode/utf8"
)

// Config describes the trained model
type Config struct {
	Ngram     int             `yaml:"ngram" json:"ngram"`
	Encoding  string          `yaml:"encoding" json:"encoding"`
	Optimizer OptimizerConfig `yaml:"optimizer" json:"optimizer"`
}

// DefaultConfig returns a trigram model configuration
func DefaultConfig() Config {
	return Config{
		Ngram:     3,
		Encoding:  "utf-8",
		Optimizer: DefaultOptimizerConfig(),
	}
}

// prefixEntry is one IP table row
type prefixEntry struct {
	prefix string
	level  int
}

// lengthEntry is one LN table row
type lengthEntry struct {
	length int
	level  int
}

// transition is one CP row seen from its context
type transition struct {
	char  int    // alphabet index
	level int    // transition cost
	next  string // context after appending char
}

// Model is the read-only OMEN model. Safe for concurrent cursors.
type Model struct {
	config   Config
	alphabet []string
	index    map[string]int

	prefixes    []prefixEntry
	prefixLevel map[string]int
	transitions map[string][]transition
	cpLevel     map[string]int
	lengths     []lengthEntry
	lengthLevel map[int]int
	skipped     int // LN rows too short to hold a prefix

	optimizer *Optimizer
}

// NewModel validates the level tables and indexes them for search.
// ip maps (n-1)-character prefixes, cp maps n-character n-grams and ln maps lengths to levels.
func NewModel(cfg Config, alphabet []string, ip map[string]int, cp map[string]int, ln map[int]int) (*Model, error) {
	if cfg.Ngram < 2 {
		return nil, fmt.Errorf("ngram size must be at least 2, got %d", cfg.Ngram)
	}
	if len(alphabet) == 0 {
		return nil, fmt.Errorf("alphabet is empty")
	}

	m := &Model{
		config:      cfg,
		alphabet:    append([]string(nil), alphabet...),
		index:       make(map[string]int, len(alphabet)),
		prefixLevel: make(map[string]int, len(ip)),
		transitions: make(map[string][]transition),
		cpLevel:     make(map[string]int, len(cp)),
		lengthLevel: make(map[int]int, len(ln)),
	}
	for i, ch := range alphabet {
		if utf8.RuneCountInString(ch) != 1 {
			return nil, fmt.Errorf("alphabet entry %q is not a single character", ch)
		}
		if _, dup := m.index[ch]; dup {
			return nil, fmt.Errorf("alphabet entry %q appears twice", ch)
		}
		m.index[ch] = i
	}

	for prefix, level := range ip {
		if err := m.checkGram(prefix, cfg.Ngram-1, level); err != nil {
			return nil, fmt.Errorf("IP %w", err)
		}
		m.prefixes = append(m.prefixes, prefixEntry{prefix: prefix, level: level})
		m.prefixLevel[prefix] = level
	}
	sort.Slice(m.prefixes, func(i, j int) bool {
		a, b := m.prefixes[i], m.prefixes[j]
		if a.level != b.level {
			return a.level < b.level
		}
		return a.prefix < b.prefix
	})

	for gram, level := range cp {
		if err := m.checkGram(gram, cfg.Ngram, level); err != nil {
			return nil, fmt.Errorf("CP %w", err)
		}
		runes := []rune(gram)
		ctx := string(runes[:len(runes)-1])
		last := string(runes[len(runes)-1])
		m.transitions[ctx] = append(m.transitions[ctx], transition{
			char:  m.index[last],
			level: level,
			next:  string(runes[1:]),
		})
		m.cpLevel[gram] = level
	}
	for ctx := range m.transitions {
		ts := m.transitions[ctx]
		// Highest admissible level is tried first
		sort.Slice(ts, func(i, j int) bool {
			if ts[i].level != ts[j].level {
				return ts[i].level > ts[j].level
			}
			return ts[i].char < ts[j].char
		})
	}

	for length, level := range ln {
		if level < 0 {
			return nil, fmt.Errorf("LN length %d has negative level %d", length, level)
		}
		// No guess that short can be generated
		if length < cfg.Ngram-1 {
			m.skipped++
			continue
		}
		m.lengths = append(m.lengths, lengthEntry{length: length, level: level})
		m.lengthLevel[length] = level
	}
	sort.Slice(m.lengths, func(i, j int) bool { return m.lengths[i].length < m.lengths[j].length })

	m.optimizer = NewOptimizer(cfg.Optimizer, m.transitions)
	return m, nil
}

func (m *Model) checkGram(gram string, size, level int) error {
	if level < 0 {
		return fmt.Errorf("entry %q has negative level %d", gram, level)
	}
	count := 0
	for _, r := range gram {
		if _, ok := m.index[string(r)]; !ok {
			return fmt.Errorf("entry %q uses character %q outside the alphabet", gram, r)
		}
		count++
	}
	if count != size {
		return fmt.Errorf("entry %q has %d characters, want %d", gram, count, size)
	}
	return nil
}

// Config returns the model configuration
func (m *Model) Config() Config {
	return m.config
}

// Ngram returns the n-gram size
func (m *Model) Ngram() int {
	return m.config.Ngram
}

// Alphabet returns the model's characters in index order
func (m *Model) Alphabet() []string {
	return append([]string(nil), m.alphabet...)
}

// Level computes a guess's level. It reports false when the guess cannot be produced
// by the model (unseen length, prefix or transition, or a character outside the alphabet).
func (m *Model) Level(guess string) (int, bool) {
	runes := []rune(guess)
	n := m.config.Ngram
	if len(runes) < n-1 {
		return 0, false
	}
	ln, ok := m.lengthLevel[len(runes)]
	if !ok {
		return 0, false
	}
	ip, ok := m.prefixLevel[string(runes[:n-1])]
	if !ok {
		return 0, false
	}
	level := ln + ip
	for i := n - 1; i < len(runes); i++ {
		cp, ok := m.cpLevel[string(runes[i-n+1:i+1])]
		if !ok {
			return 0, false
		}
		level += cp
	}
	return level, true
}

// Stats summarises the model for diagnostics
type Stats struct {
	Ngram       int `json:"ngram"`
	Alphabet    int `json:"alphabet"`
	Prefixes    int `json:"prefixes"`
	Transitions int `json:"transitions"`
	Lengths     int `json:"lengths"`
	Skipped     int `json:"skipped_lengths"`
	MinLength   int `json:"min_length"`
	MaxLength   int `json:"max_length"`
}

// Stats counts table entries
func (m *Model) Stats() Stats {
	s := Stats{
		Ngram:       m.config.Ngram,
		Alphabet:    len(m.alphabet),
		Prefixes:    len(m.prefixes),
		Transitions: len(m.cpLevel),
		Lengths:     len(m.lengths),
		Skipped:     m.skipped,
	}
	if len(m.lengths) > 0 {
		s.MinLength = m.lengths[0].length
		s.MaxLength = m.lengths[len(m.lengths)-1].length
	}
	return s
}

// Optimizer returns the model's completion cache
func (m *Model) Optimizer() *Optimizer {
	return m.optimizer
}
