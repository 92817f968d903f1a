/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: guess_queue.go
Description: Probability-ordered enumeration of derivations. Pops the most probable tree,
pushes the children it owns, and keeps the resident heap bounded by evicting its lowest
entries below a floor. When the heap runs dry above a non-zero floor it is refilled from
overflow storage, or regenerated from the grammar root when no store is configured.
Successive pops never increase in probability.
*/

package core

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/kleascm/akaylee-pcfg/pkg/grammar"
	"github.com/sirupsen/logrus"
)

// QueueConfig bounds the resident heap
type QueueConfig struct {
	MaxQueueSize  int     `json:"max_queue_size"` // Resident heap size that triggers eviction, 0 for unbounded
	EvictFraction float64 `json:"evict_fraction"` // Share of the heap evicted per pass, clamped to [0.25, 0.5]
	VerifyUnique  bool    `json:"verify_unique"`  // Keep a set of popped keys and fail on repeats
}

// DefaultQueueConfig returns the default heap bounds
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		MaxQueueSize:  1_000_000,
		EvictFraction: 1.0 / 3.0,
	}
}

// GuessQueue enumerates derivations in non-increasing probability order.
// It is owned by one goroutine.
type GuessQueue struct {
	grammar *grammar.Grammar
	config  QueueConfig
	heap    *PriorityQueue
	store   OverflowStore
	stats   *Stats
	logger  *logrus.Logger

	floor float64 // highest probability held outside the heap
	last  float64 // probability of the previous pop
	seen  map[string]struct{}

	reporters []Reporter
}

// NewGuessQueue creates a queue seeded with the grammar root. store may be nil.
func NewGuessQueue(g *grammar.Grammar, cfg QueueConfig, store OverflowStore, stats *Stats, logger *logrus.Logger) *GuessQueue {
	q := newGuessQueue(g, cfg, store, stats, logger)
	q.heap.Put(NewQueueItem(g, g.Root()))
	return q
}

func newGuessQueue(g *grammar.Grammar, cfg QueueConfig, store OverflowStore, stats *Stats, logger *logrus.Logger) *GuessQueue {
	if cfg.EvictFraction < 0.25 {
		cfg.EvictFraction = 0.25
	}
	if cfg.EvictFraction > 0.5 {
		cfg.EvictFraction = 0.5
	}
	if stats == nil {
		stats = NewStats()
	}
	if logger == nil {
		logger = logrus.New()
	}
	q := &GuessQueue{
		grammar: g,
		config:  cfg,
		heap:    NewPriorityQueue(),
		store:   store,
		stats:   stats,
		logger:  logger,
		last:    1,
	}
	if cfg.VerifyUnique {
		q.seen = make(map[string]struct{})
	}
	return q
}

// AddReporter registers a Reporter for queue events
func (q *GuessQueue) AddReporter(r Reporter) {
	q.reporters = append(q.reporters, r)
}

// Size returns the resident heap size
func (q *GuessQueue) Size() int {
	return q.heap.Size()
}

// Floor returns the highest probability currently held outside the heap
func (q *GuessQueue) Floor() float64 {
	return q.floor
}

// Next returns the next pre-terminal, or nil once every derivation has been produced.
// Cancellation is only observed between pops, so a cancelled call never loses children.
func (q *GuessQueue) Next(ctx context.Context) (*QueueItem, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		item, err := q.Pop()
		if err != nil || item == nil {
			return nil, err
		}
		if item.IsTerminal {
			return item, nil
		}
	}
}

// Pop removes the most probable derivation and enqueues the children it owns
func (q *GuessQueue) Pop() (*QueueItem, error) {
	if q.heap.IsEmpty() && q.floor > 0 {
		if err := q.rebuild(); err != nil {
			return nil, err
		}
	}
	item := q.heap.Get()
	if item == nil {
		return nil, nil
	}
	atomic.AddInt64(&q.stats.Pops, 1)

	if item.Probability > q.last {
		return nil, &InvariantViolation{
			Code:    ErrCodeProbabilityIncrease,
			Message: "popped derivation is more probable than its predecessor",
			Details: map[string]string{
				"previous": fmt.Sprintf("%g", q.last),
				"current":  fmt.Sprintf("%g", item.Probability),
				"tree":     item.Key,
			},
		}
	}
	q.last = item.Probability
	q.stats.SetProbability(item.Probability)

	if q.seen != nil {
		if _, dup := q.seen[item.Key]; dup {
			return nil, &InvariantViolation{
				Code:    ErrCodeDuplicateChild,
				Message: "derivation popped twice",
				Details: map[string]string{"tree": item.Key},
			}
		}
		q.seen[item.Key] = struct{}{}
	}

	var overflow []*QueueItem
	for _, child := range Children(q.grammar, item.Tree) {
		ci := NewQueueItem(q.grammar, child)
		if q.floor == 0 || ci.Probability > q.floor {
			q.heap.Put(ci)
			atomic.AddInt64(&q.stats.Pushed, 1)
		} else {
			overflow = append(overflow, ci)
		}
	}
	if err := q.spill(overflow); err != nil {
		return nil, err
	}
	if err := q.maybeEvict(); err != nil {
		return nil, err
	}
	atomic.StoreInt64(&q.stats.QueueSize, int64(q.heap.Size()))
	return item, nil
}

// push adds an item and evicts if the heap grew past its bound
func (q *GuessQueue) push(item *QueueItem) error {
	q.heap.Put(item)
	atomic.AddInt64(&q.stats.Pushed, 1)
	return q.maybeEvict()
}

// spill hands items at or below the floor to overflow storage, or drops them for
// regeneration when there is no store
func (q *GuessQueue) spill(items []*QueueItem) error {
	if len(items) == 0 {
		return nil
	}
	if q.store == nil {
		atomic.AddInt64(&q.stats.Dropped, int64(len(items)))
		return nil
	}
	if err := q.store.Save(context.Background(), items); err != nil {
		return fmt.Errorf("failed to save overflow: %w", err)
	}
	atomic.AddInt64(&q.stats.Overflowed, int64(len(items)))
	return nil
}

func (q *GuessQueue) maybeEvict() error {
	if q.config.MaxQueueSize <= 0 || q.heap.Size() <= q.config.MaxQueueSize {
		return nil
	}
	return q.evict()
}

// evict sheds the lowest share of the heap. The cut is widened so every item tied at
// the boundary leaves together; if that would empty the heap the ties stay instead.
// Items tied with the last pop never leave, so a rebuild cannot repeat a popped tree.
func (q *GuessQueue) evict() error {
	items := append([]*QueueItem(nil), q.heap.Items()...)
	n := len(items)
	if n < 2 {
		return nil
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Before(items[j]) })

	keep := n - int(float64(n)*q.config.EvictFraction)
	if keep < 1 {
		keep = 1
	}
	if keep >= n {
		keep = n - 1
	}

	cut := keep
	for cut > 0 && items[cut-1].Probability == items[cut].Probability {
		cut--
	}
	if cut == 0 || items[cut].Probability >= q.last {
		cut = keep
		for cut < n && items[cut].Probability == items[cut-1].Probability {
			cut++
		}
		for cut < n && items[cut].Probability >= q.last {
			cut++
		}
	}
	if cut >= n {
		q.logger.WithFields(logrus.Fields{
			"size":        n,
			"probability": items[keep].Probability,
		}).Warn("QUEUE no clean split point, heap left over its bound")
		return nil
	}

	evicted := append([]*QueueItem(nil), items[cut:]...)
	q.floor = evicted[0].Probability
	q.stats.SetFloor(q.floor)
	for i := cut; i < n; i++ {
		items[i] = nil
	}
	// Sorted by Before, so already in heap order
	q.heap.Replace(items[:cut])

	atomic.AddInt64(&q.stats.Evictions, 1)
	if err := q.spill(evicted); err != nil {
		return err
	}
	for _, r := range q.reporters {
		r.OnEviction(len(evicted), q.floor)
	}
	return nil
}

// rebuild refills an empty heap from overflow storage or from the root
func (q *GuessQueue) rebuild() error {
	atomic.AddInt64(&q.stats.Rebuilds, 1)
	if q.store != nil {
		return q.rebuildFromStore()
	}
	return q.rebuildFromRoot()
}

func (q *GuessQueue) rebuildFromStore() error {
	batch, err := q.store.Send(context.Background())
	if err != nil {
		return fmt.Errorf("failed to fetch overflow batch: %w", err)
	}
	q.floor = 0
	if batch.Remaining > 0 {
		q.floor = batch.MaxRemaining
	}
	q.stats.SetFloor(q.floor)
	for _, item := range batch.Items {
		q.heap.Put(item)
	}
	q.logger.WithFields(logrus.Fields{
		"restored":  len(batch.Items),
		"remaining": batch.Remaining,
		"floor":     q.floor,
	}).Debug("OVERFLOW batch restored")
	for _, r := range q.reporters {
		r.OnRebuild(len(batch.Items), q.floor)
	}
	return nil
}

// rebuildFromRoot walks the ownership tree from the root and re-admits the frontier:
// derivations in (floor, ceiling] whose ancestors have all been popped. Everything above
// the ceiling has been popped; everything below a re-admitted derivation comes back when
// it is popped in turn.
func (q *GuessQueue) rebuildFromRoot() error {
	ceiling := q.floor
	q.floor = 0
	restored := 0

	stack := []*grammar.ParseTree{q.grammar.Root()}
	for len(stack) > 0 {
		tree := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		item := NewQueueItem(q.grammar, tree)
		if item.Probability <= q.floor {
			continue
		}
		if item.Probability <= ceiling {
			if err := q.push(item); err != nil {
				return err
			}
			restored++
			continue
		}
		stack = append(stack, Children(q.grammar, tree)...)
	}

	q.stats.SetFloor(q.floor)
	q.logger.WithFields(logrus.Fields{
		"restored": restored,
		"ceiling":  ceiling,
		"floor":    q.floor,
	}).Debug("QUEUE regenerated from root")
	for _, r := range q.reporters {
		r.OnRebuild(restored, q.floor)
	}
	return nil
}

// Snapshot captures the heap, floor, last probability and overflow contents
func (q *GuessQueue) Snapshot(ctx context.Context) (QueueState, error) {
	state := QueueState{Floor: q.floor, Last: q.last, Stored: q.store != nil}
	items := append([]*QueueItem(nil), q.heap.Items()...)
	sort.Slice(items, func(i, j int) bool { return items[i].Before(items[j]) })
	for _, item := range items {
		state.Heap = append(state.Heap, item.Tree)
	}
	if q.store != nil {
		stored, err := q.store.Dump(ctx)
		if err != nil {
			return state, fmt.Errorf("failed to dump overflow: %w", err)
		}
		for _, item := range stored {
			state.Overflow = append(state.Overflow, item.Tree)
		}
	}
	return state, nil
}

// RestoreGuessQueue rebuilds a queue from a saved state
func RestoreGuessQueue(ctx context.Context, g *grammar.Grammar, cfg QueueConfig, store OverflowStore, stats *Stats, logger *logrus.Logger, state QueueState) (*GuessQueue, error) {
	if state.Stored != (store != nil) {
		return nil, fmt.Errorf("session overflow mode does not match: saved with store=%v, resuming with store=%v", state.Stored, store != nil)
	}
	q := newGuessQueue(g, cfg, store, stats, logger)
	q.floor = state.Floor
	q.last = state.Last
	q.stats.SetFloor(q.floor)

	for _, tree := range state.Heap {
		if err := checkTree(g, tree); err != nil {
			return nil, err
		}
		q.heap.Put(NewQueueItem(g, tree))
	}

	if len(state.Overflow) > 0 {
		items := make([]*QueueItem, 0, len(state.Overflow))
		for _, tree := range state.Overflow {
			if err := checkTree(g, tree); err != nil {
				return nil, err
			}
			items = append(items, NewQueueItem(g, tree))
		}
		if err := store.Save(ctx, items); err != nil {
			return nil, fmt.Errorf("failed to restore overflow: %w", err)
		}
	}
	atomic.StoreInt64(&q.stats.QueueSize, int64(q.heap.Size()))
	return q, nil
}

func checkTree(g *grammar.Grammar, tree *grammar.ParseTree) error {
	if err := g.CheckTree(tree); err != nil {
		return &InvariantViolation{
			Code:    ErrCodeMalformedTree,
			Message: err.Error(),
		}
	}
	return nil
}
