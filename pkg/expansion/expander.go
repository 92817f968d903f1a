/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: expander.go
Description: Terminal expansion of one pre-terminal into its concrete guesses. Cursors
form an odometer in leaf order where the rightmost slot moves fastest; advancing a slot
resets every slot to its right, so only changed slots are rewritten between guesses.
The stream is deterministic and exhaustive for the pre-terminal.
*/

package expansion

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kleascm/akaylee-pcfg/pkg/grammar"
	"github.com/kleascm/akaylee-pcfg/pkg/markov"
)

// State is the saved position of an Expander
type State struct {
	Started bool        `json:"started"`
	Done    bool        `json:"done"`
	Slots   []SlotState `json:"slots,omitempty"`
}

// Expander streams the guesses of one pre-terminal
type Expander struct {
	cursors []slotCursor
	slots   []string
	started bool
	done    bool
}

// New builds an expander for a pre-terminal. Invalid function and value combinations
// are reported here, before any guess is produced. model may be nil when the tree has
// no Markov leaves.
func New(g *grammar.Grammar, model *markov.Model, tree *grammar.ParseTree) (*Expander, error) {
	if !g.IsTerminal(tree) {
		return nil, fmt.Errorf("tree %s is not a pre-terminal", g.Describe(tree))
	}

	leaves := tree.Leaves()
	e := &Expander{
		cursors: make([]slotCursor, len(leaves)),
		slots:   make([]string, len(leaves)),
	}

	for i, leaf := range leaves {
		r := g.Replacement(leaf.NT, leaf.Repl)
		name := g.Name(leaf.NT)
		switch r.Function {
		case grammar.Copy, grammar.Shadow:
			e.cursors[i] = &valueCursor{pos: i, values: r.Values}

		case grammar.Capitalization:
			if i == 0 {
				return nil, fmt.Errorf("%s: capitalization has no slot to rewrite", name)
			}
			prev := g.Replacement(leaves[i-1].NT, leaves[i-1].Repl)
			if prev.Function != grammar.Copy && prev.Function != grammar.Shadow {
				return nil, fmt.Errorf("%s: capitalization cannot follow a %s slot", name, prev.Function)
			}
			for _, mask := range r.Values {
				for _, v := range prev.Values {
					if utf8.RuneCountInString(v) != len(mask) {
						return nil, fmt.Errorf("%s: mask %q does not fit %q", name, mask, v)
					}
				}
			}
			e.cursors[i] = &capitalizationCursor{pos: i, masks: r.Values}

		case grammar.Markov:
			if model == nil {
				return nil, fmt.Errorf("%s: markov slot without a loaded model", name)
			}
			e.cursors[i] = &markovCursor{pos: i, model: model, bands: r.Bands}

		default:
			return nil, fmt.Errorf("%s: %s replacement cannot be expanded", name, r.Function)
		}
	}
	return e, nil
}

// Next returns the next guess, or false once the pre-terminal is exhausted
func (e *Expander) Next() (string, bool) {
	if e.done {
		return "", false
	}

	if !e.started {
		e.started = true
		if !e.resetFrom(0) {
			e.done = true
			return "", false
		}
		return e.guess(), true
	}

	for i := len(e.cursors) - 1; i >= 0; i-- {
		if e.cursors[i].advance(e.slots) {
			if !e.resetFrom(i + 1) {
				break
			}
			return e.guess(), true
		}
	}
	e.done = true
	return "", false
}

// resetFrom resets cursors left to right starting at i
func (e *Expander) resetFrom(i int) bool {
	for ; i < len(e.cursors); i++ {
		if !e.cursors[i].reset(e.slots) {
			return false
		}
	}
	return true
}

func (e *Expander) guess() string {
	return strings.Join(e.slots, "")
}

// Done reports whether the stream is exhausted
func (e *Expander) Done() bool {
	return e.done
}

// Size returns the number of guesses the pre-terminal produces, or -1 when a Markov
// slot makes the count depend on the n-gram model
func (e *Expander) Size() int64 {
	total := int64(1)
	for _, c := range e.cursors {
		n := c.size()
		if n < 0 {
			return -1
		}
		total *= int64(n)
	}
	return total
}

// State captures the odometer position
func (e *Expander) State() State {
	s := State{Started: e.started, Done: e.done}
	if e.started && !e.done {
		s.Slots = make([]SlotState, len(e.cursors))
		for i, c := range e.cursors {
			s.Slots[i] = c.state()
		}
	}
	return s
}

// Restore builds an expander positioned at a saved state. The next guess is the one
// the saved expander would have produced next.
func Restore(g *grammar.Grammar, model *markov.Model, tree *grammar.ParseTree, s State) (*Expander, error) {
	e, err := New(g, model, tree)
	if err != nil {
		return nil, err
	}
	e.started = s.Started
	e.done = s.Done
	if !e.started || e.done {
		return e, nil
	}

	if len(s.Slots) != len(e.cursors) {
		return nil, fmt.Errorf("expander state has %d slots, tree has %d", len(s.Slots), len(e.cursors))
	}
	for i, c := range e.cursors {
		if err := c.restore(s.Slots[i], e.slots); err != nil {
			return nil, err
		}
	}
	return e, nil
}
