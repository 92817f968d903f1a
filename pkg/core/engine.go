/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: engine.go
Description: Main generation engine. A producer goroutine pops pre-terminals from the
guess queue and streams them over a bounded channel to a consumer goroutine that expands
each one into guesses for the sink. Any stop short of exhaustion leaves a snapshot that
continues the stream without skipping or repeating a guess.
*/

package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/kleascm/akaylee-pcfg/pkg/expansion"
	"github.com/kleascm/akaylee-pcfg/pkg/grammar"
	"github.com/kleascm/akaylee-pcfg/pkg/markov"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// StopReason says why a run ended
type StopReason string

const (
	StopExhausted      StopReason = "exhausted"
	StopConsumerClosed StopReason = "consumer_closed"
	StopLimit          StopReason = "limit"
	StopCancelled      StopReason = "cancelled"
)

// EngineConfig tunes the producer/consumer pipeline
type EngineConfig struct {
	ChannelSize int   `json:"channel_size"` // Pre-terminals buffered between producer and consumer
	Limit       int64 `json:"limit"`        // Stop after this many guesses in total, 0 for no limit
}

// DefaultEngineConfig returns the default pipeline settings
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{ChannelSize: 64}
}

// Result describes a finished run
type Result struct {
	Exhausted bool       // Every derivation was expanded
	Reason    StopReason // Why the run ended
	Guesses   int64      // Guesses emitted in total, including earlier sessions
	Snapshot  *Snapshot  // Resume point, nil when exhausted
}

// Engine drives one generation run
type Engine struct {
	grammar *grammar.Grammar
	model   *markov.Model
	queue   Scheduler
	sink    GuessSink
	config  EngineConfig
	stats   *Stats
	logger  *logrus.Logger

	reporters []Reporter

	// Resume state
	pending []*QueueItem
	current *CurrentState
	guesses int64
}

// NewEngine creates an engine over a queue and sink. model may be nil when the grammar
// has no Markov leaves.
func NewEngine(g *grammar.Grammar, model *markov.Model, queue Scheduler, sink GuessSink, cfg EngineConfig, stats *Stats, logger *logrus.Logger) *Engine {
	if cfg.ChannelSize <= 0 {
		cfg.ChannelSize = DefaultEngineConfig().ChannelSize
	}
	if stats == nil {
		stats = NewStats()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Engine{
		grammar: g,
		model:   model,
		queue:   queue,
		sink:    sink,
		config:  cfg,
		stats:   stats,
		logger:  logger,
	}
}

// AddReporter registers a Reporter for expansion events
func (e *Engine) AddReporter(reporter Reporter) {
	e.reporters = append(e.reporters, reporter)
}

// Resume loads the pending pre-terminals, in-flight expansion and guess count from a
// snapshot. The queue itself is restored separately with RestoreGuessQueue.
func (e *Engine) Resume(s *Snapshot) error {
	if s.Version != SnapshotVersion {
		return fmt.Errorf("snapshot version %d is not supported (want %d)", s.Version, SnapshotVersion)
	}
	e.pending = e.pending[:0]
	for _, tree := range s.Pending {
		if err := checkTree(e.grammar, tree); err != nil {
			return err
		}
		e.pending = append(e.pending, NewQueueItem(e.grammar, tree))
	}
	if s.Current != nil {
		if err := checkTree(e.grammar, s.Current.Tree); err != nil {
			return err
		}
	}
	e.current = s.Current
	e.guesses = s.Guesses
	e.stats.AddGuesses(s.Guesses)
	return nil
}

// Run generates until the queue is exhausted, the sink closes, the limit is reached or
// ctx is cancelled
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	if e.config.Limit > 0 && e.guesses >= e.config.Limit {
		return e.finish(StopLimit, e.pending, e.current)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	items := make(chan *QueueItem, e.config.ChannelSize)
	g, gctx := errgroup.WithContext(ctx)

	var (
		unsent    []*QueueItem
		reason    StopReason
		exhausted bool
	)

	// Producer: pending items first, then fresh pops
	g.Go(func() error {
		backlog := append([]*QueueItem(nil), e.pending...)
		for {
			if len(backlog) == 0 {
				item, err := e.queue.Next(gctx)
				if err != nil {
					if ctxErr := gctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
						unsent = backlog
						return nil
					}
					return err
				}
				if item == nil {
					close(items)
					return nil
				}
				backlog = append(backlog, item)
			}
			select {
			case items <- backlog[0]:
				backlog = backlog[1:]
			case <-gctx.Done():
				unsent = backlog
				return nil
			}
		}
	})

	// Consumer: expand each pre-terminal into the sink
	g.Go(func() error {
		if cur := e.current; cur != nil {
			e.current = nil
			item := NewQueueItem(e.grammar, cur.Tree)
			stop, err := e.expand(gctx, item, cur)
			if err != nil || stop != "" {
				reason = stop
				cancel()
				return err
			}
		}
		for {
			select {
			case <-gctx.Done():
				reason = StopCancelled
				return nil
			case item, ok := <-items:
				if !ok {
					exhausted = true
					reason = StopExhausted
					return nil
				}
				stop, err := e.expand(gctx, item, nil)
				if err != nil || stop != "" {
					reason = stop
					cancel()
					return err
				}
			}
		}
	})

	err := g.Wait()
	if flushErr := e.sink.Flush(); flushErr != nil && !IsConsumerClosed(flushErr) && err == nil {
		err = fmt.Errorf("failed to flush output: %w", flushErr)
	}
	if err != nil {
		return nil, err
	}

	if exhausted {
		return e.finish(StopExhausted, nil, nil)
	}

	// Everything the producer handed over but the consumer never started
	var pending []*QueueItem
	for {
		select {
		case item, ok := <-items:
			if ok {
				pending = append(pending, item)
				continue
			}
		default:
		}
		break
	}
	pending = append(pending, unsent...)
	if reason == "" {
		reason = StopCancelled
	}
	return e.finish(reason, pending, e.current)
}

// expand streams one pre-terminal, resuming from a saved position when resume is set.
// A non-empty stop reason means the run must end; e.current then holds the resume point.
func (e *Engine) expand(ctx context.Context, item *QueueItem, resume *CurrentState) (StopReason, error) {
	if !item.IsTerminal {
		return "", &InvariantViolation{
			Code:    ErrCodeMalformedTree,
			Message: "non-terminal derivation reached the expander",
			Details: map[string]string{"tree": item.Key},
		}
	}

	var (
		exp     *expansion.Expander
		err     error
		emitted int64
		unsent  *string
	)
	if resume != nil {
		exp, err = expansion.Restore(e.grammar, e.model, item.Tree, resume.Expander)
		emitted = resume.Emitted
		unsent = resume.Unsent
	} else {
		exp, err = expansion.New(e.grammar, e.model, item.Tree)
	}
	if err != nil {
		return "", &InvariantViolation{
			Code:    ErrCodeMalformedTree,
			Message: err.Error(),
			Details: map[string]string{"tree": e.grammar.Describe(item.Tree)},
		}
	}

	done := ctx.Done()
	saveCurrent := func(pending *string) {
		e.current = &CurrentState{Tree: item.Tree, Expander: exp.State(), Emitted: emitted, Unsent: pending}
	}

	for {
		select {
		case <-done:
			saveCurrent(unsent)
			return StopCancelled, nil
		default:
		}

		var guess string
		if unsent != nil {
			guess, unsent = *unsent, nil
		} else {
			next, ok := exp.Next()
			if !ok {
				break
			}
			guess = next
		}
		if err := e.sink.Emit(ctx, guess); err != nil {
			saveCurrent(&guess)
			if ctx.Err() != nil {
				return StopCancelled, nil
			}
			if IsConsumerClosed(err) {
				e.logger.Info("EXPAND consumer closed the output")
				return StopConsumerClosed, nil
			}
			return "", fmt.Errorf("failed to emit guess: %w", err)
		}
		emitted++
		e.guesses++
		e.stats.AddGuesses(1)

		if e.config.Limit > 0 && e.guesses >= e.config.Limit {
			saveCurrent(nil)
			e.logger.WithField("limit", e.config.Limit).Info("EXPAND guess limit reached")
			return StopLimit, nil
		}
	}

	e.stats.IncrementPreTerminals()
	for _, r := range e.reporters {
		r.OnExpanded(item, emitted)
	}
	return "", nil
}

// finish assembles the run result and, short of exhaustion, the resume snapshot
func (e *Engine) finish(reason StopReason, pending []*QueueItem, current *CurrentState) (*Result, error) {
	result := &Result{
		Exhausted: reason == StopExhausted,
		Reason:    reason,
		Guesses:   e.guesses,
	}
	if result.Exhausted {
		return result, nil
	}

	queueState, err := e.queue.Snapshot(context.Background())
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{
		Version: SnapshotVersion,
		Queue:   queueState,
		Current: current,
		Guesses: e.guesses,
	}
	for _, item := range pending {
		snap.Pending = append(snap.Pending, item.Tree)
	}
	result.Snapshot = snap
	return result, nil
}
