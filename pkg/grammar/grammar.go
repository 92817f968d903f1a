/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: grammar.go
Description: Read-only probabilistic grammar model for the guesser. Non-terminals live in
an arena addressed by integer index so recursive and cyclic grammars are plain data.
Each non-terminal owns an ordered list of weighted replacements sorted by
non-increasing probability.
*/

package grammar

import (
	"fmt"
	"strings"
)

// Function tags the way a replacement turns into guess text
type Function int

const (
	// Copy writes one of the replacement's values verbatim
	Copy Function = iota
	// Shadow writes values borrowed from another category, same as Copy at expansion time
	Shadow
	// Capitalization rewrites the previous slot with an upper/lower mask
	Capitalization
	// Transparent expands into the child non-terminals listed in Pos
	Transparent
	// Markov delegates the slot to the OMEN n-gram generator
	Markov
)

var functionNames = map[Function]string{
	Copy:           "copy",
	Shadow:         "shadow",
	Capitalization: "capitalization",
	Transparent:    "transparent",
	Markov:         "markov",
}

// String returns the manifest name of the function
func (f Function) String() string {
	if name, ok := functionNames[f]; ok {
		return name
	}
	return fmt.Sprintf("function(%d)", int(f))
}

// ParseFunction maps a manifest name to a Function
func ParseFunction(name string) (Function, error) {
	lower := strings.ToLower(strings.TrimSpace(name))
	for f, n := range functionNames {
		if n == lower {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unknown replacement function %q", name)
}

// LevelRange is an inclusive band of OMEN levels
type LevelRange struct {
	Min int `json:"min" yaml:"min"`
	Max int `json:"max" yaml:"max"`
}

// String renders the band the way ruleset files spell it
func (r LevelRange) String() string {
	if r.Min == r.Max {
		return fmt.Sprintf("%d", r.Min)
	}
	return fmt.Sprintf("%d:%d", r.Min, r.Max)
}

// Replacement is one weighted rule of a non-terminal.
// Probability is the per-guess probability of every value in Values.
type Replacement struct {
	Probability float64      `json:"probability"`
	IsTerminal  bool         `json:"is_terminal"`
	Function    Function     `json:"function"`
	Values      []string     `json:"values,omitempty"`
	Bands       []LevelRange `json:"bands,omitempty"`
	Pos         []int        `json:"pos,omitempty"`
}

// Size returns how many concrete slot values this replacement can produce.
// Markov replacements report -1 since their keyspace lives in the n-gram model.
func (r *Replacement) Size() int {
	switch r.Function {
	case Markov:
		return -1
	case Transparent:
		return 0
	default:
		return len(r.Values)
	}
}

// NonTerminal is a named symbol with its ordered replacements
type NonTerminal struct {
	Name         string        `json:"name"`
	Replacements []Replacement `json:"replacements"`
}

// Grammar is the immutable model shared by every component once loaded
type Grammar struct {
	nonTerminals []NonTerminal
	names        map[string]int
	start        int
	version      string
}

// StartIndex returns the arena index of the start non-terminal
func (g *Grammar) StartIndex() int {
	return g.start
}

// Version returns the trainer version recorded in the manifest, if any
func (g *Grammar) Version() string {
	return g.version
}

// Len returns the number of non-terminals in the arena
func (g *Grammar) Len() int {
	return len(g.nonTerminals)
}

// NonTerminal returns the non-terminal at index i
func (g *Grammar) NonTerminal(i int) *NonTerminal {
	return &g.nonTerminals[i]
}

// Replacement returns replacement r of non-terminal nt
func (g *Grammar) Replacement(nt, r int) *Replacement {
	return &g.nonTerminals[nt].Replacements[r]
}

// Index looks up a non-terminal by name
func (g *Grammar) Index(name string) (int, bool) {
	i, ok := g.names[name]
	return i, ok
}

// Name returns the name of non-terminal i
func (g *Grammar) Name(i int) string {
	return g.nonTerminals[i].Name
}

// Stats summarises the grammar for diagnostics
type Stats struct {
	NonTerminals int            `json:"non_terminals"`
	Replacements int            `json:"replacements"`
	Values       int            `json:"values"`
	ByFunction   map[string]int `json:"by_function"`
}

// Stats counts non-terminals, replacements and values
func (g *Grammar) Stats() Stats {
	s := Stats{ByFunction: make(map[string]int)}
	for _, nt := range g.nonTerminals {
		if len(nt.Replacements) == 0 {
			continue
		}
		s.NonTerminals++
		for i := range nt.Replacements {
			r := &nt.Replacements[i]
			s.Replacements++
			s.Values += len(r.Values)
			s.ByFunction[r.Function.String()]++
		}
	}
	return s
}

// HasMarkov reports whether any reachable replacement uses the Markov function
func (g *Grammar) HasMarkov() bool {
	for _, nt := range g.nonTerminals {
		for i := range nt.Replacements {
			if nt.Replacements[i].Function == Markov {
				return true
			}
		}
	}
	return false
}
