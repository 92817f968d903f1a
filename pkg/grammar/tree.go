/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: tree.go
Description: Derivation trees over the grammar arena. Nodes hold indices only, so a tree
is plain data that can be copied, serialised and compared. Provides probability,
terminality, canonical keys and pre-order traversal used by the guess queue.
*/

package grammar

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseTree is one node of a derivation: a non-terminal, the replacement chosen for it,
// and the expanded children. Empty Children means the node is unexpanded.
type ParseTree struct {
	NT       int          `json:"nt"`
	Repl     int          `json:"r"`
	Children []*ParseTree `json:"c,omitempty"`
}

// Root returns the unexpanded start node
func (g *Grammar) Root() *ParseTree {
	return &ParseTree{NT: g.start}
}

// Copy returns a deep copy of the tree
func (t *ParseTree) Copy() *ParseTree {
	out := &ParseTree{NT: t.NT, Repl: t.Repl}
	if len(t.Children) > 0 {
		out.Children = make([]*ParseTree, len(t.Children))
		for i, c := range t.Children {
			out.Children[i] = c.Copy()
		}
	}
	return out
}

// IsLeaf reports whether the node has not been expanded
func (t *ParseTree) IsLeaf() bool {
	return len(t.Children) == 0
}

// Preorder returns every node in pre-order. Positions in this slice are the tree
// positions used for ownership tie-breaks.
func (t *ParseTree) Preorder() []*ParseTree {
	var out []*ParseTree
	var walk func(n *ParseTree)
	walk = func(n *ParseTree) {
		out = append(out, n)
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(t)
	return out
}

// Key returns a canonical encoding of the tree. Two trees have equal keys iff they
// resolve to the same (non-terminal, replacement) at every position.
func (t *ParseTree) Key() string {
	var b strings.Builder
	t.writeKey(&b)
	return b.String()
}

func (t *ParseTree) writeKey(b *strings.Builder) {
	b.WriteString(strconv.Itoa(t.NT))
	b.WriteByte('.')
	b.WriteString(strconv.Itoa(t.Repl))
	if len(t.Children) == 0 {
		return
	}
	b.WriteByte('(')
	for i, c := range t.Children {
		if i > 0 {
			b.WriteByte(',')
		}
		c.writeKey(b)
	}
	b.WriteByte(')')
}

// Probability multiplies replacement probabilities from the root to every leaf
func (g *Grammar) Probability(t *ParseTree) float64 {
	p := g.nonTerminals[t.NT].Replacements[t.Repl].Probability
	for _, c := range t.Children {
		p *= g.Probability(c)
	}
	return p
}

// IsTerminal reports whether every leaf of the tree resolves to a terminal replacement
func (g *Grammar) IsTerminal(t *ParseTree) bool {
	if len(t.Children) == 0 {
		return g.nonTerminals[t.NT].Replacements[t.Repl].IsTerminal
	}
	for _, c := range t.Children {
		if !g.IsTerminal(c) {
			return false
		}
	}
	return true
}

// Leaves returns the unexpanded nodes left to right
func (t *ParseTree) Leaves() []*ParseTree {
	var out []*ParseTree
	for _, n := range t.Preorder() {
		if n.IsLeaf() {
			out = append(out, n)
		}
	}
	return out
}

// Describe renders the leaves as "name:replacement" pairs for logs
func (g *Grammar) Describe(t *ParseTree) string {
	leaves := t.Leaves()
	parts := make([]string, len(leaves))
	for i, leaf := range leaves {
		parts[i] = g.nonTerminals[leaf.NT].Name + ":" + strconv.Itoa(leaf.Repl)
	}
	return strings.Join(parts, " ")
}

// CheckTree verifies that a tree (typically restored from a session) is consistent
// with this grammar: indices in range and children matching the Transparent rule
func (g *Grammar) CheckTree(t *ParseTree) error {
	if t == nil {
		return fmt.Errorf("nil tree node")
	}
	if t.NT < 0 || t.NT >= len(g.nonTerminals) {
		return fmt.Errorf("non-terminal index %d out of range", t.NT)
	}
	nt := &g.nonTerminals[t.NT]
	if t.Repl < 0 || t.Repl >= len(nt.Replacements) {
		return fmt.Errorf("%s: replacement index %d out of range", nt.Name, t.Repl)
	}
	if len(t.Children) == 0 {
		return nil
	}
	r := &nt.Replacements[t.Repl]
	if r.Function != Transparent {
		return fmt.Errorf("%s[%d]: %s replacement cannot have children", nt.Name, t.Repl, r.Function)
	}
	if len(r.Pos) != len(t.Children) {
		return fmt.Errorf("%s[%d]: expected %d children, got %d", nt.Name, t.Repl, len(r.Pos), len(t.Children))
	}
	for i, c := range t.Children {
		if c == nil || c.NT != r.Pos[i] {
			return fmt.Errorf("%s[%d]: child %d does not match rule", nt.Name, t.Repl, i)
		}
		if err := g.CheckTree(c); err != nil {
			return err
		}
	}
	return nil
}
