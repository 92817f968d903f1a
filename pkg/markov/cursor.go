/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: cursor.go
Description: Resumable OMEN enumeration. A cursor walks levels from min to max; within a
level it walks candidate lengths, then initial prefixes, then a depth-first odometer over
transitions (highest admissible level first). Every string whose level falls in the band
is produced exactly once, and the state is plain data that reproduces the next guess.
*/

package markov

import (
	"fmt"
	"strings"
)

// CursorState is the serialisable position of a Cursor
type CursorState struct {
	MinLevel  int   `json:"min"`
	MaxLevel  int   `json:"max"`
	Level     int   `json:"level"`
	LengthIdx int   `json:"length_idx"`
	PrefixIdx int   `json:"prefix_idx"`
	Stack     []int `json:"stack,omitempty"`
	Started   bool  `json:"started"`
	Done      bool  `json:"done"`
}

// Cursor enumerates guesses with level in [min, max]
type Cursor struct {
	model *Model
	min   int
	max   int

	level     int
	lengthIdx int
	prefixIdx int
	stack     []int
	started   bool
	done      bool

	// derived from the position above
	total   int
	ctxs    []string
	budgets []int
}

// Cursor creates a cursor over levels min..max inclusive
func (m *Model) Cursor(min, max int) *Cursor {
	c := &Cursor{model: m, min: min, max: max}
	c.Reset()
	return c
}

// Reset rewinds the cursor to its first guess
func (c *Cursor) Reset() {
	c.level = c.min
	c.lengthIdx = 0
	c.prefixIdx = 0
	c.stack = c.stack[:0]
	c.started = false
	c.done = c.min > c.max
}

// Next returns the next guess, or false when the band is exhausted
func (c *Cursor) Next() (string, bool) {
	if c.done {
		return "", false
	}
	resume := c.started
	c.started = true

	m := c.model
	for ; c.level <= c.max; c.level++ {
		for ; c.lengthIdx < len(m.lengths); c.lengthIdx++ {
			ln := m.lengths[c.lengthIdx]
			if ln.level > c.level {
				resume = false
				c.prefixIdx = 0
				continue
			}
			for ; c.prefixIdx < len(m.prefixes); c.prefixIdx++ {
				ip := m.prefixes[c.prefixIdx]
				if ln.level+ip.level > c.level {
					break
				}
				if !resume {
					c.stack = c.stack[:0]
				}
				c.rebuild()
				if c.walk(resume) {
					return c.current(), true
				}
				resume = false
			}
			resume = false
			c.prefixIdx = 0
		}
		c.lengthIdx = 0
	}

	c.done = true
	c.stack = c.stack[:0]
	return "", false
}

// walk advances the depth-first odometer for the current level, length and prefix.
// When resume is set the stack holds the last emitted path and the search moves past it.
func (c *Cursor) walk(resume bool) bool {
	opt := c.model.optimizer
	start := 0
	if resume {
		if len(c.stack) == 0 {
			return false
		}
		start = c.stack[len(c.stack)-1] + 1
		c.pop()
	} else if !opt.CanComplete(c.ctxs[0], c.total, c.budgets[0]) {
		return false
	}

	for {
		d := len(c.stack)
		if d == c.total {
			return true
		}

		ctx, budget := c.ctxs[d], c.budgets[d]
		candidates := c.model.transitions[ctx]
		found := -1
		for i := start; i < len(candidates); i++ {
			t := candidates[i]
			if t.level > budget {
				continue
			}
			if opt.CanComplete(t.next, c.total-d-1, budget-t.level) {
				found = i
				break
			}
		}

		if found >= 0 {
			c.push(found)
			start = 0
			continue
		}
		if d == 0 {
			return false
		}
		start = c.stack[d-1] + 1
		c.pop()
	}
}

func (c *Cursor) push(i int) {
	d := len(c.stack)
	t := c.model.transitions[c.ctxs[d]][i]
	c.stack = append(c.stack, i)
	c.ctxs = append(c.ctxs[:d+1], t.next)
	c.budgets = append(c.budgets[:d+1], c.budgets[d]-t.level)
}

func (c *Cursor) pop() {
	d := len(c.stack) - 1
	c.stack = c.stack[:d]
	c.ctxs = c.ctxs[:d+1]
	c.budgets = c.budgets[:d+1]
}

// rebuild recomputes the derived search path from level, length, prefix and stack
func (c *Cursor) rebuild() {
	m := c.model
	ln := m.lengths[c.lengthIdx]
	ip := m.prefixes[c.prefixIdx]
	c.total = ln.length - (m.config.Ngram - 1)
	c.ctxs = append(c.ctxs[:0], ip.prefix)
	c.budgets = append(c.budgets[:0], c.level-ln.level-ip.level)
	for d, i := range c.stack {
		t := m.transitions[c.ctxs[d]][i]
		c.ctxs = append(c.ctxs, t.next)
		c.budgets = append(c.budgets, c.budgets[d]-t.level)
	}
}

// current renders the guess on the stack
func (c *Cursor) current() string {
	var b strings.Builder
	b.WriteString(c.ctxs[0])
	for d, i := range c.stack {
		b.WriteString(c.model.alphabet[c.model.transitions[c.ctxs[d]][i].char])
	}
	return b.String()
}

// Current returns the last guess produced, or false before the first or after the last
func (c *Cursor) Current() (string, bool) {
	if !c.started || c.done {
		return "", false
	}
	return c.current(), true
}

// Bounds returns the level band
func (c *Cursor) Bounds() (int, int) {
	return c.min, c.max
}

// State captures the cursor position
func (c *Cursor) State() CursorState {
	return CursorState{
		MinLevel:  c.min,
		MaxLevel:  c.max,
		Level:     c.level,
		LengthIdx: c.lengthIdx,
		PrefixIdx: c.prefixIdx,
		Stack:     append([]int(nil), c.stack...),
		Started:   c.started,
		Done:      c.done,
	}
}

// Restore rebuilds a cursor from a saved state. The next call to Next returns the
// same guess it would have returned had the cursor never been saved.
func (m *Model) Restore(s CursorState) (*Cursor, error) {
	c := &Cursor{
		model:     m,
		min:       s.MinLevel,
		max:       s.MaxLevel,
		level:     s.Level,
		lengthIdx: s.LengthIdx,
		prefixIdx: s.PrefixIdx,
		stack:     append([]int(nil), s.Stack...),
		started:   s.Started,
		done:      s.Done,
	}
	if !c.started || c.done {
		c.stack = c.stack[:0]
		if !c.started {
			c.Reset()
		}
		return c, nil
	}

	if c.level < c.min || c.level > c.max {
		return nil, fmt.Errorf("markov cursor level %d outside band %d:%d", c.level, c.min, c.max)
	}
	if c.lengthIdx < 0 || c.lengthIdx >= len(m.lengths) || c.prefixIdx < 0 || c.prefixIdx >= len(m.prefixes) {
		return nil, fmt.Errorf("markov cursor position (%d,%d) does not fit this model", c.lengthIdx, c.prefixIdx)
	}
	total := m.lengths[c.lengthIdx].length - (m.config.Ngram - 1)
	if len(c.stack) != total {
		return nil, fmt.Errorf("markov cursor stack depth %d, want %d", len(c.stack), total)
	}

	ctx := m.prefixes[c.prefixIdx].prefix
	for d, i := range c.stack {
		ts := m.transitions[ctx]
		if i < 0 || i >= len(ts) {
			return nil, fmt.Errorf("markov cursor stack entry %d out of range at depth %d", i, d)
		}
		ctx = ts[i].next
	}
	c.rebuild()
	if c.budgets[len(c.budgets)-1] != 0 {
		return nil, fmt.Errorf("markov cursor path does not match level %d", c.level)
	}
	return c, nil
}
