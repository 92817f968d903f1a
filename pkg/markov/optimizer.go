/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: optimizer.go
Description: Time-memory trade-off cache for the OMEN search. Answers whether some run of
transitions from a context spends an exact level budget in an exact number of steps, and
memoizes answers for short remaining lengths.
*/

package markov

import (
	"sync"
)

// OptimizerConfig bounds the completion cache
type OptimizerConfig struct {
	// MaxLength is the longest remaining length whose answers are cached
	MaxLength int `yaml:"max_length" json:"max_length"`
	// MaxEntries caps the number of cached answers
	MaxEntries int `yaml:"max_entries" json:"max_entries"`
}

// DefaultOptimizerConfig returns the default cache bounds
func DefaultOptimizerConfig() OptimizerConfig {
	return OptimizerConfig{
		MaxLength:  12,
		MaxEntries: 1 << 20,
	}
}

type completionKey struct {
	ctx       string
	remaining int
	budget    int
}

// Optimizer memoizes completion feasibility
type Optimizer struct {
	config      OptimizerConfig
	transitions map[string][]transition

	mu     sync.RWMutex
	memo   map[completionKey]bool
	hits   int64
	misses int64
}

// NewOptimizer creates a cache over a model's transition table
func NewOptimizer(cfg OptimizerConfig, transitions map[string][]transition) *Optimizer {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultOptimizerConfig().MaxEntries
	}
	if cfg.MaxLength < 0 {
		cfg.MaxLength = 0
	}
	return &Optimizer{
		config:      cfg,
		transitions: transitions,
		memo:        make(map[completionKey]bool),
	}
}

// CanComplete reports whether exactly `remaining` transitions starting from ctx can
// spend exactly `budget` levels
func (o *Optimizer) CanComplete(ctx string, remaining, budget int) bool {
	if budget < 0 {
		return false
	}
	if remaining == 0 {
		return budget == 0
	}

	cacheable := remaining <= o.config.MaxLength
	key := completionKey{ctx: ctx, remaining: remaining, budget: budget}
	if cacheable {
		o.mu.RLock()
		found, ok := o.memo[key]
		o.mu.RUnlock()
		if ok {
			o.mu.Lock()
			o.hits++
			o.mu.Unlock()
			return found
		}
	}

	found := false
	for _, t := range o.transitions[ctx] {
		if t.level > budget {
			continue
		}
		if o.CanComplete(t.next, remaining-1, budget-t.level) {
			found = true
			break
		}
	}

	if cacheable {
		o.mu.Lock()
		o.misses++
		if len(o.memo) < o.config.MaxEntries {
			o.memo[key] = found
		}
		o.mu.Unlock()
	}
	return found
}

// OptimizerStats reports cache effectiveness
type OptimizerStats struct {
	Entries int   `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}

// Stats returns cache counters
func (o *Optimizer) Stats() OptimizerStats {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return OptimizerStats{Entries: len(o.memo), Hits: o.hits, Misses: o.misses}
}
