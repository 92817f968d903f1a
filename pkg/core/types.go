/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: types.go
Description: Core types for guess generation. Defines queue items, the overflow and sink
contracts, run statistics and the session snapshot that lets a run resume without
skipping or repeating guesses.
*/

package core

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"github.com/kleascm/akaylee-pcfg/pkg/expansion"
	"github.com/kleascm/akaylee-pcfg/pkg/grammar"
)

// QueueItem is one derivation waiting in the guess queue
type QueueItem struct {
	Tree        *grammar.ParseTree `json:"tree"`        // Derivation, possibly partial
	Probability float64            `json:"probability"` // Cached product of replacement probabilities
	IsTerminal  bool               `json:"terminal"`    // Every leaf resolves to terminal values
	Key         string             `json:"key"`         // Canonical tree key, used to break ties
}

// NewQueueItem wraps a tree with its cached probability, terminality and key
func NewQueueItem(g *grammar.Grammar, tree *grammar.ParseTree) *QueueItem {
	return &QueueItem{
		Tree:        tree,
		Probability: g.Probability(tree),
		IsTerminal:  g.IsTerminal(tree),
		Key:         tree.Key(),
	}
}

// Before orders items by probability descending, then key ascending
func (a *QueueItem) Before(b *QueueItem) bool {
	if a.Probability != b.Probability {
		return a.Probability > b.Probability
	}
	return a.Key < b.Key
}

// OverflowBatch is the reply to an overflow Send request
type OverflowBatch struct {
	Items        []*QueueItem // Highest-probability entries, extended to include ties
	Remaining    int          // Entries left in the store
	MaxRemaining float64      // Highest probability left in the store, 0 when empty
}

// OverflowStatus is the reply to an overflow Status request
type OverflowStatus struct {
	Size           int     `json:"size"`
	MaxProbability float64 `json:"max_probability"`
	Dropped        int64   `json:"dropped"`
}

// OverflowStore holds queue items that did not fit in the resident heap
type OverflowStore interface {
	// Save merges items into the store
	Save(ctx context.Context, items []*QueueItem) error
	// Send removes and returns the highest-probability batch
	Send(ctx context.Context) (OverflowBatch, error)
	// Status reports the store size for diagnostics
	Status(ctx context.Context) (OverflowStatus, error)
	// Dump returns every stored item without removing it
	Dump(ctx context.Context) ([]*QueueItem, error)
}

// GuessSink receives generated guesses. Emit returns ErrConsumerClosed once the reader
// has gone away, and returns early with the context error when ctx is done.
type GuessSink interface {
	Emit(ctx context.Context, guess string) error
	Flush() error
}

// Stats tracks run statistics
// Uses atomic operations so the stats reporter can read while generation runs
type Stats struct {
	Guesses      int64     `json:"guesses"`       // Guesses handed to the sink
	PreTerminals int64     `json:"pre_terminals"` // Pre-terminals expanded
	Pops         int64     `json:"pops"`          // Items popped from the queue
	Pushed       int64     `json:"pushed"`        // Children pushed onto the heap
	Overflowed   int64     `json:"overflowed"`    // Items sent to overflow storage
	Dropped      int64     `json:"dropped"`       // Items dropped for later regeneration
	Evictions    int64     `json:"evictions"`     // Eviction passes
	Rebuilds     int64     `json:"rebuilds"`      // Heap rebuilds from overflow or the root
	QueueSize    int64     `json:"queue_size"`    // Resident heap size
	StartTime    time.Time `json:"start_time"`    // When generation started

	floorBits uint64
	probBits  uint64
}

// NewStats creates a stats block starting now
func NewStats() *Stats {
	return &Stats{StartTime: time.Now()}
}

// AddGuesses atomically adds to the guess counter
func (s *Stats) AddGuesses(n int64) {
	atomic.AddInt64(&s.Guesses, n)
}

// IncrementPreTerminals atomically increments the pre-terminal counter
func (s *Stats) IncrementPreTerminals() {
	atomic.AddInt64(&s.PreTerminals, 1)
}

// SetFloor records the current queue floor
func (s *Stats) SetFloor(p float64) {
	atomic.StoreUint64(&s.floorBits, math.Float64bits(p))
}

// Floor returns the current queue floor
func (s *Stats) Floor() float64 {
	return math.Float64frombits(atomic.LoadUint64(&s.floorBits))
}

// SetProbability records the probability of the last popped item
func (s *Stats) SetProbability(p float64) {
	atomic.StoreUint64(&s.probBits, math.Float64bits(p))
}

// Probability returns the probability of the last popped item
func (s *Stats) Probability() float64 {
	return math.Float64frombits(atomic.LoadUint64(&s.probBits))
}

// StatsSnapshot is a consistent copy of the counters
type StatsSnapshot struct {
	Guesses      int64         `json:"guesses"`
	PreTerminals int64         `json:"pre_terminals"`
	Pops         int64         `json:"pops"`
	Pushed       int64         `json:"pushed"`
	Overflowed   int64         `json:"overflowed"`
	Dropped      int64         `json:"dropped"`
	Evictions    int64         `json:"evictions"`
	Rebuilds     int64         `json:"rebuilds"`
	QueueSize    int64         `json:"queue_size"`
	Floor        float64       `json:"floor"`
	Probability  float64       `json:"probability"`
	Elapsed      time.Duration `json:"elapsed"`
	Rate         float64       `json:"rate"`
}

// Snapshot reads every counter
func (s *Stats) Snapshot() StatsSnapshot {
	out := StatsSnapshot{
		Guesses:      atomic.LoadInt64(&s.Guesses),
		PreTerminals: atomic.LoadInt64(&s.PreTerminals),
		Pops:         atomic.LoadInt64(&s.Pops),
		Pushed:       atomic.LoadInt64(&s.Pushed),
		Overflowed:   atomic.LoadInt64(&s.Overflowed),
		Dropped:      atomic.LoadInt64(&s.Dropped),
		Evictions:    atomic.LoadInt64(&s.Evictions),
		Rebuilds:     atomic.LoadInt64(&s.Rebuilds),
		QueueSize:    atomic.LoadInt64(&s.QueueSize),
		Floor:        s.Floor(),
		Probability:  s.Probability(),
		Elapsed:      time.Since(s.StartTime),
	}
	if secs := out.Elapsed.Seconds(); secs > 0 {
		out.Rate = float64(out.Guesses) / secs
	}
	return out
}

// SnapshotVersion is bumped whenever the snapshot layout changes
const SnapshotVersion = 1

// QueueState is the saved state of a GuessQueue
type QueueState struct {
	Heap     []*grammar.ParseTree `json:"heap"`
	Floor    float64              `json:"floor"`
	Last     float64              `json:"last"`
	Stored   bool                 `json:"stored"` // Evicted items went to an overflow store
	Overflow []*grammar.ParseTree `json:"overflow,omitempty"`
}

// CurrentState is the pre-terminal being expanded when the run stopped
type CurrentState struct {
	Tree     *grammar.ParseTree `json:"tree"`
	Expander expansion.State    `json:"expander"`
	Emitted  int64              `json:"emitted"`
	Unsent   *string            `json:"unsent,omitempty"` // Guess the sink refused, emitted first on resume
}

// Snapshot is everything needed to continue a run exactly where it stopped
type Snapshot struct {
	Version int                  `json:"version"`
	Queue   QueueState           `json:"queue"`
	Pending []*grammar.ParseTree `json:"pending,omitempty"` // Popped pre-terminals not yet expanded, in pop order
	Current *CurrentState        `json:"current,omitempty"`
	Guesses int64                `json:"guesses"`
}
