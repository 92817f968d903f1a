/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: cursors.go
Description: Per-slot cursors for terminal expansion. Each leaf of a pre-terminal gets
one cursor chosen from its replacement function when the expander is built: a value list
for Copy and Shadow, a mask cursor for Capitalization and an OMEN cursor for Markov.
*/

package expansion

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/kleascm/akaylee-pcfg/pkg/grammar"
	"github.com/kleascm/akaylee-pcfg/pkg/markov"
)

// SlotState is the saved position of one slot cursor
type SlotState struct {
	Index  int                 `json:"i"`
	Band   int                 `json:"band,omitempty"`
	Markov *markov.CursorState `json:"markov,omitempty"`
}

// slotCursor walks the values of one slot. reset and advance write the slot (and, for
// capitalization, the slot before it) and report false when there is nothing to write.
type slotCursor interface {
	reset(slots []string) bool
	advance(slots []string) bool
	state() SlotState
	restore(s SlotState, slots []string) error
	size() int
}

// valueCursor walks a Copy or Shadow value list
type valueCursor struct {
	pos    int
	values []string
	idx    int
}

func (c *valueCursor) reset(slots []string) bool {
	c.idx = 0
	slots[c.pos] = c.values[0]
	return true
}

func (c *valueCursor) advance(slots []string) bool {
	if c.idx+1 >= len(c.values) {
		return false
	}
	c.idx++
	slots[c.pos] = c.values[c.idx]
	return true
}

func (c *valueCursor) state() SlotState {
	return SlotState{Index: c.idx}
}

func (c *valueCursor) restore(s SlotState, slots []string) error {
	if s.Index < 0 || s.Index >= len(c.values) {
		return fmt.Errorf("slot %d: value index %d out of range", c.pos, s.Index)
	}
	c.idx = s.Index
	slots[c.pos] = c.values[c.idx]
	return nil
}

func (c *valueCursor) size() int {
	return len(c.values)
}

// capitalizationCursor rewrites the previous slot with each mask in turn.
// Its own slot stays empty.
type capitalizationCursor struct {
	pos   int
	masks []string
	idx   int
	base  string
}

func (c *capitalizationCursor) apply(slots []string) {
	mask := c.masks[c.idx]
	runes := []rune(c.base)
	var b strings.Builder
	b.Grow(len(c.base))
	for i, r := range runes {
		if mask[i] == 'U' {
			b.WriteRune(unicode.ToUpper(r))
		} else {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	slots[c.pos-1] = b.String()
	slots[c.pos] = ""
}

func (c *capitalizationCursor) reset(slots []string) bool {
	c.idx = 0
	c.base = slots[c.pos-1]
	c.apply(slots)
	return true
}

func (c *capitalizationCursor) advance(slots []string) bool {
	if c.idx+1 >= len(c.masks) {
		return false
	}
	c.idx++
	c.apply(slots)
	return true
}

func (c *capitalizationCursor) state() SlotState {
	return SlotState{Index: c.idx}
}

func (c *capitalizationCursor) restore(s SlotState, slots []string) error {
	if s.Index < 0 || s.Index >= len(c.masks) {
		return fmt.Errorf("slot %d: mask index %d out of range", c.pos, s.Index)
	}
	c.idx = s.Index
	c.base = slots[c.pos-1]
	c.apply(slots)
	return nil
}

func (c *capitalizationCursor) size() int {
	return len(c.masks)
}

// markovCursor walks the declared level bands in order, one OMEN cursor at a time
type markovCursor struct {
	pos    int
	model  *markov.Model
	bands  []grammar.LevelRange
	band   int
	cursor *markov.Cursor
}

// fill moves through bands until one yields a guess
func (c *markovCursor) fill(slots []string) bool {
	for c.band < len(c.bands) {
		if c.cursor == nil {
			b := c.bands[c.band]
			c.cursor = c.model.Cursor(b.Min, b.Max)
		}
		if guess, ok := c.cursor.Next(); ok {
			slots[c.pos] = guess
			return true
		}
		c.band++
		c.cursor = nil
	}
	return false
}

func (c *markovCursor) reset(slots []string) bool {
	c.band = 0
	c.cursor = nil
	return c.fill(slots)
}

func (c *markovCursor) advance(slots []string) bool {
	return c.fill(slots)
}

func (c *markovCursor) state() SlotState {
	s := SlotState{Band: c.band}
	if c.cursor != nil {
		cs := c.cursor.State()
		s.Markov = &cs
	}
	return s
}

func (c *markovCursor) restore(s SlotState, slots []string) error {
	if s.Band < 0 || s.Band >= len(c.bands) || s.Markov == nil {
		return fmt.Errorf("slot %d: markov band %d has no cursor state", c.pos, s.Band)
	}
	b := c.bands[s.Band]
	if s.Markov.MinLevel != b.Min || s.Markov.MaxLevel != b.Max {
		return fmt.Errorf("slot %d: markov cursor band %d:%d does not match %s", c.pos, s.Markov.MinLevel, s.Markov.MaxLevel, b)
	}
	cursor, err := c.model.Restore(*s.Markov)
	if err != nil {
		return fmt.Errorf("slot %d: %w", c.pos, err)
	}
	guess, ok := cursor.Current()
	if !ok {
		return fmt.Errorf("slot %d: markov cursor has no current guess", c.pos)
	}
	c.band = s.Band
	c.cursor = cursor
	slots[c.pos] = guess
	return nil
}

func (c *markovCursor) size() int {
	return -1
}
