/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: expander_test.go
Description: Tests for terminal expansion: Cartesian completeness, capitalization masks,
Markov slots, construction-time validation and resumable state.
*/

package expansion_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/kleascm/akaylee-pcfg/pkg/expansion"
	"github.com/kleascm/akaylee-pcfg/pkg/grammar"
	"github.com/kleascm/akaylee-pcfg/pkg/markov"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// preterminal builds START -> children with the first replacement of every child
func preterminal(t *testing.T, b *grammar.Builder, children ...string) (*grammar.Grammar, *grammar.ParseTree) {
	t.Helper()
	b.AddTransparent("START", 1, children...)
	g, err := b.Build("START")
	require.NoError(t, err)

	tree := g.Root()
	for _, name := range children {
		idx, ok := g.Index(name)
		require.True(t, ok)
		tree.Children = append(tree.Children, &grammar.ParseTree{NT: idx})
	}
	return g, tree
}

func drain(e *expansion.Expander) []string {
	var out []string
	for {
		guess, ok := e.Next()
		if !ok {
			return out
		}
		out = append(out, guess)
	}
}

func TestExpanderCartesianProduct(t *testing.T) {
	g, tree := preterminal(t, grammar.NewBuilder().
		AddValues("A", grammar.Copy, 0.5, "x", "y", "z").
		AddValues("B", grammar.Shadow, 0.5, "1", "2").
		AddValues("C", grammar.Copy, 0.5, "!", "?"),
		"A", "B", "C")

	e, err := expansion.New(g, nil, tree)
	require.NoError(t, err)
	assert.Equal(t, int64(12), e.Size())

	got := drain(e)
	require.Len(t, got, 12)
	assert.Equal(t, "x1!", got[0])
	assert.Equal(t, "x1?", got[1], "rightmost slot moves fastest")
	assert.Equal(t, "z2?", got[11])

	seen := make(map[string]bool)
	for _, a := range []string{"x", "y", "z"} {
		for _, b := range []string{"1", "2"} {
			for _, c := range []string{"!", "?"} {
				seen[a+b+c] = false
			}
		}
	}
	for _, guess := range got {
		already, ok := seen[guess]
		require.True(t, ok, "unexpected guess %q", guess)
		assert.False(t, already, "duplicate guess %q", guess)
		seen[guess] = true
	}

	assert.True(t, e.Done())
	_, ok := e.Next()
	assert.False(t, ok)
}

func TestExpanderCapitalizationGolden(t *testing.T) {
	g, tree := preterminal(t, grammar.NewBuilder().
		AddValues("A3", grammar.Copy, 0.5, "cat", "dog").
		AddValues("C3", grammar.Capitalization, 0.5, "LLL", "ULL").
		AddValues("D1", grammar.Copy, 0.5, "1", "2"),
		"A3", "C3", "D1")

	e, err := expansion.New(g, nil, tree)
	require.NoError(t, err)

	got := drain(e)
	gold := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	gold.Assert(t, "capitalization", []byte(strings.Join(got, "\n")+"\n"))
}

func TestExpanderCapitalizationHandlesUnicode(t *testing.T) {
	g, tree := preterminal(t, grammar.NewBuilder().
		AddValues("A4", grammar.Copy, 1, "élan").
		AddValues("C4", grammar.Capitalization, 1, "UULL"),
		"A4", "C4")

	e, err := expansion.New(g, nil, tree)
	require.NoError(t, err)
	assert.Equal(t, []string{"ÉLan"}, drain(e))
}

func TestExpanderRejectsInvalidSlots(t *testing.T) {
	tests := []struct {
		name     string
		builder  *grammar.Builder
		children []string
	}{
		{
			name:     "capitalization first",
			builder:  grammar.NewBuilder().AddValues("C3", grammar.Capitalization, 1, "ULL").AddValues("A3", grammar.Copy, 1, "cat"),
			children: []string{"C3", "A3"},
		},
		{
			name:     "mask length mismatch",
			builder:  grammar.NewBuilder().AddValues("A3", grammar.Copy, 1, "cats").AddValues("C3", grammar.Capitalization, 1, "ULL"),
			children: []string{"A3", "C3"},
		},
		{
			name:     "markov without model",
			builder:  grammar.NewBuilder().AddMarkov("M", 1, grammar.LevelRange{Min: 1, Max: 1}),
			children: []string{"M"},
		},
		{
			name: "capitalization after markov",
			builder: grammar.NewBuilder().
				AddMarkov("M", 1, grammar.LevelRange{Min: 1, Max: 1}).
				AddValues("C3", grammar.Capitalization, 1, "ULL"),
			children: []string{"M", "C3"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, tree := preterminal(t, tt.builder, tt.children...)
			_, err := expansion.New(g, toyModel(t), tree)
			if tt.name == "markov without model" {
				_, err = expansion.New(g, nil, tree)
			}
			assert.Error(t, err)
		})
	}
}

func TestExpanderRejectsNonTerminalTree(t *testing.T) {
	g, err := grammar.NewBuilder().
		AddTransparent("START", 1, "A").
		AddValues("A", grammar.Copy, 1, "x").
		Build("START")
	require.NoError(t, err)

	_, err = expansion.New(g, nil, g.Root())
	assert.Error(t, err)
}

func toyModel(t *testing.T) *markov.Model {
	t.Helper()
	cfg := markov.DefaultConfig()
	cfg.Ngram = 2
	m, err := markov.NewModel(cfg,
		[]string{"a", "b"},
		map[string]int{"a": 0, "b": 1},
		map[string]int{"aa": 0, "ab": 1, "ba": 1, "bb": 2},
		map[int]int{2: 0, 3: 1},
	)
	require.NoError(t, err)
	return m
}

func TestExpanderMarkovSlotWalksBands(t *testing.T) {
	model := toyModel(t)
	g, tree := preterminal(t, grammar.NewBuilder().
		AddMarkov("M", 1, grammar.LevelRange{Min: 0, Max: 0}, grammar.LevelRange{Min: 1, Max: 1}).
		AddValues("D1", grammar.Copy, 1, "1", "2"),
		"M", "D1")

	e, err := expansion.New(g, model, tree)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), e.Size())

	var want []string
	for _, band := range []int{0, 1} {
		c := model.Cursor(band, band)
		for {
			m, ok := c.Next()
			if !ok {
				break
			}
			want = append(want, m+"1", m+"2")
		}
	}
	require.NotEmpty(t, want)
	assert.Equal(t, want, drain(e))
}

func TestExpanderResumesFromAnyPoint(t *testing.T) {
	model := toyModel(t)
	g, tree := preterminal(t, grammar.NewBuilder().
		AddValues("A3", grammar.Copy, 0.5, "cat", "dog").
		AddValues("C3", grammar.Capitalization, 0.5, "LLL", "ULL", "UUU").
		AddMarkov("M", 1, grammar.LevelRange{Min: 0, Max: 1}, grammar.LevelRange{Min: 2, Max: 2}),
		"A3", "C3", "M")

	full, err := expansion.New(g, model, tree)
	require.NoError(t, err)
	all := drain(full)
	require.NotEmpty(t, all)

	for stop := 0; stop <= len(all); stop++ {
		e, err := expansion.New(g, model, tree)
		require.NoError(t, err)
		for i := 0; i < stop; i++ {
			_, ok := e.Next()
			require.True(t, ok)
		}

		data, err := json.Marshal(e.State())
		require.NoError(t, err)
		var state expansion.State
		require.NoError(t, json.Unmarshal(data, &state))

		restored, err := expansion.Restore(g, model, tree, state)
		require.NoError(t, err)
		rest := drain(restored)
		if stop == len(all) {
			assert.Empty(t, rest)
		} else {
			assert.Equal(t, all[stop:], rest, "resume after %d guesses", stop)
		}
	}
}

func TestExpanderEmptyMarkovBandYieldsNothing(t *testing.T) {
	model := toyModel(t)
	g, tree := preterminal(t, grammar.NewBuilder().
		AddValues("A", grammar.Copy, 1, "x").
		AddMarkov("M", 1, grammar.LevelRange{Min: 50, Max: 60}),
		"A", "M")

	e, err := expansion.New(g, model, tree)
	require.NoError(t, err)
	assert.Empty(t, drain(e))
	assert.True(t, e.Done())
}
