/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: deadbeat.go
Description: Deadbeat-dad child enumeration. Every derivation except the root has several
possible parents; exactly one of them, the position with the smallest probability drop
(leftmost on ties), is responsible for enqueuing it. The queue therefore never needs a
visited set. Candidates are tested on scratch copies, never by mutating the popped tree.
*/

package core

import (
	"github.com/kleascm/akaylee-pcfg/pkg/grammar"
)

// Children returns the children that tree is responsible for enqueuing
func Children(g *grammar.Grammar, tree *grammar.ParseTree) []*grammar.ParseTree {
	var out []*grammar.ParseTree
	nodes := tree.Preorder()
	for idx, node := range nodes {
		if !node.IsLeaf() {
			continue
		}
		nt := g.NonTerminal(node.NT)

		// Next replacement of the same leaf
		if node.Repl+1 < len(nt.Replacements) {
			child := tree.Copy()
			child.Preorder()[idx].Repl++
			if owner(g, child) == idx {
				out = append(out, child)
			}
		}

		// Expand a transparent leaf into its children at their first replacement
		r := &nt.Replacements[node.Repl]
		if r.Function == grammar.Transparent {
			child := tree.Copy()
			target := child.Preorder()[idx]
			target.Children = make([]*grammar.ParseTree, len(r.Pos))
			for k, pos := range r.Pos {
				target.Children[k] = &grammar.ParseTree{NT: pos}
			}
			if owner(g, child) == idx {
				out = append(out, child)
			}
		}
	}
	return out
}

// owner returns the pre-order position of the parent responsible for tree, or -1 for
// the root derivation which has no parent
func owner(g *grammar.Grammar, tree *grammar.ParseTree) int {
	best := -1
	bestDrop := 0.0
	for idx, node := range tree.Preorder() {
		drop, ok := parentDrop(g, node)
		if !ok {
			continue
		}
		if best < 0 || drop < bestDrop {
			best = idx
			bestDrop = drop
		}
	}
	return best
}

// parentDrop reports the probability drop from the parent that differs from this tree
// only at node, if such a parent exists
func parentDrop(g *grammar.Grammar, node *grammar.ParseTree) (float64, bool) {
	if node.IsLeaf() {
		if node.Repl == 0 {
			return 0, false
		}
		rs := g.NonTerminal(node.NT).Replacements
		return rs[node.Repl-1].Probability - rs[node.Repl].Probability, true
	}

	// An expanded node whose children are all fresh could have been expanded last
	product := 1.0
	for _, c := range node.Children {
		if !c.IsLeaf() || c.Repl != 0 {
			return 0, false
		}
		product *= g.NonTerminal(c.NT).Replacements[0].Probability
	}
	return 1 - product, true
}
