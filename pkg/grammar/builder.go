/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: builder.go
Description: Builder for assembling a Grammar from named rules. Resolves child names to
arena indices, validates the sorted-replacement invariant and function/value
combinations, and prunes Markov mass when the Markov leaf is disabled.
*/

package grammar

import (
	"fmt"
	"strings"
)

type pendingRule struct {
	replacement Replacement
	children    []string
}

// Builder collects rules by non-terminal name in insertion order
type Builder struct {
	order      []string
	rules      map[string][]pendingRule
	version    string
	dropMarkov bool
}

// NewBuilder creates an empty grammar builder
func NewBuilder() *Builder {
	return &Builder{
		rules: make(map[string][]pendingRule),
	}
}

// SetVersion records the trainer version the rules came from
func (b *Builder) SetVersion(version string) *Builder {
	b.version = version
	return b
}

// DisableMarkov drops every Markov replacement at Build time.
// Transparent rules that can no longer be derived are pruned along with them.
func (b *Builder) DisableMarkov() *Builder {
	b.dropMarkov = true
	return b
}

func (b *Builder) add(name string, rule pendingRule) {
	if _, ok := b.rules[name]; !ok {
		b.order = append(b.order, name)
	}
	b.rules[name] = append(b.rules[name], rule)
}

// AddTransparent adds a rule expanding name into the listed child non-terminals
func (b *Builder) AddTransparent(name string, probability float64, children ...string) *Builder {
	b.add(name, pendingRule{
		replacement: Replacement{
			Probability: probability,
			Function:    Transparent,
		},
		children: append([]string(nil), children...),
	})
	return b
}

// AddValues adds a terminal rule whose values all share one probability
func (b *Builder) AddValues(name string, fn Function, probability float64, values ...string) *Builder {
	b.add(name, pendingRule{
		replacement: Replacement{
			Probability: probability,
			IsTerminal:  true,
			Function:    fn,
			Values:      append([]string(nil), values...),
		},
	})
	return b
}

// AddMarkov adds a terminal rule delegating to the OMEN generator for the given bands
func (b *Builder) AddMarkov(name string, probability float64, bands ...LevelRange) *Builder {
	b.add(name, pendingRule{
		replacement: Replacement{
			Probability: probability,
			IsTerminal:  true,
			Function:    Markov,
			Bands:       append([]LevelRange(nil), bands...),
		},
	})
	return b
}

// Build validates the collected rules and freezes them into a Grammar
func (b *Builder) Build(start string) (*Grammar, error) {
	if _, ok := b.rules[start]; !ok {
		return nil, fmt.Errorf("start non-terminal %q is not defined", start)
	}

	names := make(map[string]int, len(b.order))
	for i, name := range b.order {
		if name == "" {
			return nil, fmt.Errorf("non-terminal %d has an empty name", i)
		}
		names[name] = i
	}

	for _, name := range b.order {
		for i, rule := range b.rules[name] {
			if err := validateRule(name, i, rule); err != nil {
				return nil, err
			}
			for _, child := range rule.children {
				if _, ok := names[child]; !ok {
					return nil, fmt.Errorf("%s[%d]: child non-terminal %q is not defined", name, i, child)
				}
			}
		}
		if err := validateOrder(name, b.rules[name]); err != nil {
			return nil, err
		}
	}

	live := b.liveRules()

	g := &Grammar{
		nonTerminals: make([]NonTerminal, len(b.order)),
		names:        names,
		start:        names[start],
		version:      b.version,
	}
	for i, name := range b.order {
		nt := NonTerminal{Name: name}
		for _, rule := range live[name] {
			r := rule.replacement
			if r.Function == Transparent {
				r.Pos = make([]int, len(rule.children))
				for k, child := range rule.children {
					r.Pos[k] = names[child]
				}
			}
			nt.Replacements = append(nt.Replacements, r)
		}
		g.nonTerminals[i] = nt
	}

	if len(g.nonTerminals[g.start].Replacements) == 0 {
		return nil, fmt.Errorf("start non-terminal %q has no derivable replacements", start)
	}
	return g, nil
}

// liveRules drops Markov rules when disabled, then repeatedly removes Transparent
// rules that reference a non-terminal left without replacements
func (b *Builder) liveRules() map[string][]pendingRule {
	live := make(map[string][]pendingRule, len(b.rules))
	for name, rules := range b.rules {
		kept := make([]pendingRule, 0, len(rules))
		for _, rule := range rules {
			if b.dropMarkov && rule.replacement.Function == Markov {
				continue
			}
			kept = append(kept, rule)
		}
		live[name] = kept
	}
	if !b.dropMarkov {
		return live
	}

	for changed := true; changed; {
		changed = false
		for name, rules := range live {
			kept := rules[:0]
			for _, rule := range rules {
				dead := false
				for _, child := range rule.children {
					if len(live[child]) == 0 {
						dead = true
						break
					}
				}
				if dead {
					changed = true
					continue
				}
				kept = append(kept, rule)
			}
			live[name] = kept
		}
	}
	return live
}

func validateRule(name string, i int, rule pendingRule) error {
	r := rule.replacement
	if !(r.Probability > 0 && r.Probability <= 1) {
		return fmt.Errorf("%s[%d]: probability %v outside (0,1]", name, i, r.Probability)
	}
	switch r.Function {
	case Transparent:
		if len(rule.children) == 0 {
			return fmt.Errorf("%s[%d]: transparent rule has no children", name, i)
		}
	case Copy, Shadow:
		if len(r.Values) == 0 {
			return fmt.Errorf("%s[%d]: %s rule has no values", name, i, r.Function)
		}
	case Capitalization:
		if len(r.Values) == 0 {
			return fmt.Errorf("%s[%d]: capitalization rule has no masks", name, i)
		}
		for _, mask := range r.Values {
			if strings.Trim(mask, "UL") != "" {
				return fmt.Errorf("%s[%d]: capitalization mask %q must only contain U and L", name, i, mask)
			}
		}
	case Markov:
		if len(r.Bands) == 0 {
			return fmt.Errorf("%s[%d]: markov rule has no level bands", name, i)
		}
		for _, band := range r.Bands {
			if band.Min < 0 || band.Min > band.Max {
				return fmt.Errorf("%s[%d]: invalid level band %s", name, i, band)
			}
		}
	default:
		return fmt.Errorf("%s[%d]: unknown function %s", name, i, r.Function)
	}
	return nil
}

func validateOrder(name string, rules []pendingRule) error {
	for i := 1; i < len(rules); i++ {
		if rules[i].replacement.Probability > rules[i-1].replacement.Probability {
			return fmt.Errorf("%s: replacement %d (p=%v) is more probable than replacement %d (p=%v)",
				name, i, rules[i].replacement.Probability, i-1, rules[i-1].replacement.Probability)
		}
	}
	return nil
}
