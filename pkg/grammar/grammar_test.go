/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: grammar_test.go
Description: Tests for the grammar arena, the builder's validation rules, Markov pruning
and derivation tree helpers.
*/

package grammar_test

import (
	"testing"

	"github.com/kleascm/akaylee-pcfg/pkg/grammar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exampleGrammar(t *testing.T) *grammar.Grammar {
	t.Helper()
	g, err := grammar.NewBuilder().
		AddTransparent("START", 0.6, "A3", "D2").
		AddTransparent("START", 0.4, "A3", "D1").
		AddValues("A3", grammar.Copy, 0.5, "cat", "dog").
		AddValues("D2", grammar.Copy, 0.7, "12").
		AddValues("D2", grammar.Copy, 0.3, "34").
		AddValues("D1", grammar.Copy, 1.0, "1").
		Build("START")
	require.NoError(t, err)
	return g
}

func TestBuildResolvesChildren(t *testing.T) {
	g := exampleGrammar(t)

	start, ok := g.Index("START")
	require.True(t, ok)
	assert.Equal(t, start, g.StartIndex())
	assert.Equal(t, 4, g.Len())

	a3, _ := g.Index("A3")
	d2, _ := g.Index("D2")
	r := g.Replacement(start, 0)
	assert.Equal(t, grammar.Transparent, r.Function)
	assert.False(t, r.IsTerminal)
	assert.Equal(t, []int{a3, d2}, r.Pos)

	stats := g.Stats()
	assert.Equal(t, 4, stats.NonTerminals)
	assert.Equal(t, 6, stats.Replacements)
	assert.Equal(t, 5, stats.Values)
	assert.Equal(t, 2, stats.ByFunction["transparent"])
	assert.False(t, g.HasMarkov())
}

func TestBuildRejectsBadRules(t *testing.T) {
	tests := []struct {
		name  string
		build func(b *grammar.Builder)
		start string
	}{
		{"missing start", func(b *grammar.Builder) { b.AddValues("A", grammar.Copy, 1, "x") }, "S"},
		{"undefined child", func(b *grammar.Builder) { b.AddTransparent("S", 1, "A") }, "S"},
		{"zero probability", func(b *grammar.Builder) { b.AddValues("S", grammar.Copy, 0, "x") }, "S"},
		{"probability above one", func(b *grammar.Builder) { b.AddValues("S", grammar.Copy, 1.5, "x") }, "S"},
		{"increasing probabilities", func(b *grammar.Builder) {
			b.AddValues("S", grammar.Copy, 0.2, "x").AddValues("S", grammar.Copy, 0.5, "y")
		}, "S"},
		{"bad mask", func(b *grammar.Builder) { b.AddValues("S", grammar.Capitalization, 1, "UxL") }, "S"},
		{"empty values", func(b *grammar.Builder) { b.AddValues("S", grammar.Copy, 1) }, "S"},
		{"inverted band", func(b *grammar.Builder) { b.AddMarkov("S", 1, grammar.LevelRange{Min: 5, Max: 2}) }, "S"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := grammar.NewBuilder()
			tt.build(b)
			_, err := b.Build(tt.start)
			assert.Error(t, err)
		})
	}
}

func TestDisableMarkovPrunesUnreachableRules(t *testing.T) {
	build := func(disable bool) *grammar.Builder {
		b := grammar.NewBuilder().
			AddTransparent("START", 0.5, "W", "D").
			AddTransparent("START", 0.3, "M").
			AddTransparent("START", 0.2, "W").
			AddValues("W", grammar.Copy, 1, "pass").
			AddValues("D", grammar.Copy, 1, "1").
			AddMarkov("M", 1, grammar.LevelRange{Min: 1, Max: 3})
		if disable {
			b.DisableMarkov()
		}
		return b
	}

	g, err := build(false).Build("START")
	require.NoError(t, err)
	assert.True(t, g.HasMarkov())
	assert.Len(t, g.NonTerminal(g.StartIndex()).Replacements, 3)

	g, err = build(true).Build("START")
	require.NoError(t, err)
	assert.False(t, g.HasMarkov())
	start := g.NonTerminal(g.StartIndex())
	require.Len(t, start.Replacements, 2)
	assert.Equal(t, 0.5, start.Replacements[0].Probability)
	assert.Equal(t, 0.2, start.Replacements[1].Probability)

	_, err = grammar.NewBuilder().
		AddTransparent("START", 1, "M").
		AddMarkov("M", 1, grammar.LevelRange{Min: 1, Max: 1}).
		DisableMarkov().
		Build("START")
	assert.Error(t, err, "a grammar with only Markov mass has nothing left to generate")
}

func TestTreeHelpers(t *testing.T) {
	g := exampleGrammar(t)
	a3, _ := g.Index("A3")
	d2, _ := g.Index("D2")

	root := g.Root()
	assert.True(t, root.IsLeaf())
	assert.False(t, g.IsTerminal(root))
	assert.InDelta(t, 0.6, g.Probability(root), 1e-12)

	root.Children = []*grammar.ParseTree{{NT: a3}, {NT: d2, Repl: 1}}
	assert.True(t, g.IsTerminal(root))
	assert.InDelta(t, 0.6*0.5*0.3, g.Probability(root), 1e-12)
	assert.Equal(t, "A3:0 D2:1", g.Describe(root))
	assert.Len(t, root.Preorder(), 3)
	assert.Len(t, root.Leaves(), 2)
	require.NoError(t, g.CheckTree(root))

	cp := root.Copy()
	assert.Equal(t, root.Key(), cp.Key())
	cp.Children[1].Repl = 0
	assert.NotEqual(t, root.Key(), cp.Key())
	assert.Equal(t, 1, root.Children[1].Repl, "copy must not share nodes")
}

func TestCheckTreeRejectsMismatchedChildren(t *testing.T) {
	g := exampleGrammar(t)
	a3, _ := g.Index("A3")

	bad := g.Root()
	bad.Children = []*grammar.ParseTree{{NT: a3}, {NT: a3}}
	assert.Error(t, g.CheckTree(bad))

	bad = g.Root()
	bad.Repl = 9
	assert.Error(t, g.CheckTree(bad))

	leafWithChildren := &grammar.ParseTree{NT: a3, Children: []*grammar.ParseTree{{NT: a3}}}
	assert.Error(t, g.CheckTree(leafWithChildren))
}

func TestFunctionNames(t *testing.T) {
	for _, fn := range []grammar.Function{grammar.Copy, grammar.Shadow, grammar.Capitalization, grammar.Transparent, grammar.Markov} {
		parsed, err := grammar.ParseFunction(fn.String())
		require.NoError(t, err)
		assert.Equal(t, fn, parsed)
	}
	_, err := grammar.ParseFunction("rot13")
	assert.Error(t, err)

	assert.Equal(t, "4", grammar.LevelRange{Min: 4, Max: 4}.String())
	assert.Equal(t, "2:6", grammar.LevelRange{Min: 2, Max: 6}.String())
}
