/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: store.go
Description: Overflow storage for queue items evicted from the resident heap. A single
goroutine owns the backend and serves requests that arrive on a request channel, answering
on a response channel. Save is fire and forget so the queue's hot path never waits on
storage I/O; Send, Status and Dump wait for their reply.
*/

package overflow

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kleascm/akaylee-pcfg/pkg/core"
	"github.com/sirupsen/logrus"
)

// ErrClosed is returned once the store goroutine has stopped
var ErrClosed = errors.New("overflow store is closed")

// Backend keeps overflow items in core.QueueItem.Before order.
// Only the store goroutine touches it.
type Backend interface {
	// Save adds items
	Save(items []*core.QueueItem) error
	// Take removes and returns the first n items, extended to every item tied with the nth
	Take(n int) ([]*core.QueueItem, error)
	// Truncate drops items after the first keep, sparing any tied with item keep-1.
	// It returns the number dropped.
	Truncate(keep int) (int, error)
	// Len returns the number of stored items
	Len() int
	// Max returns the highest stored probability, 0 when empty
	Max() (float64, error)
	// Dump returns every item in order without removing any
	Dump() ([]*core.QueueItem, error)
	// Close releases backend resources
	Close() error
}

// Config bounds the store
type Config struct {
	MaxSize   int `json:"max_size"`   // Items kept before the lowest are dropped, 0 for unbounded
	BatchSize int `json:"batch_size"` // Items returned per Send before tie extension
}

// DefaultConfig returns the default store bounds
func DefaultConfig() Config {
	return Config{
		MaxSize:   50_000_000,
		BatchSize: 100_000,
	}
}

type opCode int

const (
	opSave opCode = iota
	opSend
	opStatus
	opDump
)

type request struct {
	op    opCode
	items []*core.QueueItem
}

type response struct {
	batch  core.OverflowBatch
	status core.OverflowStatus
	items  []*core.QueueItem
	err    error
}

// Store serialises every backend operation through one goroutine. Start it with Run.
type Store struct {
	backend Backend
	config  Config
	logger  *logrus.Logger

	requests  chan request
	responses chan response
	done      chan struct{}

	// Pairs each request with its response
	callMu sync.Mutex

	// Owned by the Run goroutine
	dropped   int64
	saveError error
}

// NewStore wraps a backend. Call Run before using the store.
func NewStore(backend Backend, cfg Config, logger *logrus.Logger) *Store {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Store{
		backend:   backend,
		config:    cfg,
		logger:    logger,
		requests:  make(chan request, 256),
		responses: make(chan response, 1),
		done:      make(chan struct{}),
	}
}

// Run serves requests until ctx is cancelled. Requests already queued are served before
// it returns, so no saved item is lost on shutdown.
func (s *Store) Run(ctx context.Context) error {
	defer close(s.done)
	for {
		select {
		case req := <-s.requests:
			s.handle(req)
		case <-ctx.Done():
			for {
				select {
				case req := <-s.requests:
					s.handle(req)
				default:
					return nil
				}
			}
		}
	}
}

func (s *Store) handle(req request) {
	switch req.op {
	case opSave:
		s.save(req.items)
	case opSend:
		var resp response
		resp.batch, resp.err = s.send()
		s.responses <- resp
	case opStatus:
		var resp response
		resp.status, resp.err = s.status()
		s.responses <- resp
	case opDump:
		var resp response
		if resp.err = s.takeSaveError(); resp.err == nil {
			resp.items, resp.err = s.backend.Dump()
		}
		s.responses <- resp
	}
}

func (s *Store) save(items []*core.QueueItem) {
	if err := s.backend.Save(items); err != nil {
		s.logger.WithError(err).WithField("items", len(items)).Error("OVERFLOW save failed")
		if s.saveError == nil {
			s.saveError = err
		}
		return
	}
	if s.config.MaxSize <= 0 || s.backend.Len() <= s.config.MaxSize {
		return
	}

	dropped, err := s.backend.Truncate(s.config.MaxSize)
	if err != nil {
		s.logger.WithError(err).Error("OVERFLOW trim failed")
		if s.saveError == nil {
			s.saveError = err
		}
		return
	}
	if dropped == 0 {
		s.logger.WithFields(logrus.Fields{
			"size":     s.backend.Len(),
			"max_size": s.config.MaxSize,
		}).Warn("OVERFLOW no clean split point, store left over its bound")
		return
	}
	s.dropped += int64(dropped)
	s.logger.WithFields(logrus.Fields{
		"dropped": dropped,
		"size":    s.backend.Len(),
	}).Warn("OVERFLOW store full, lowest entries dropped")
}

func (s *Store) send() (core.OverflowBatch, error) {
	if err := s.takeSaveError(); err != nil {
		return core.OverflowBatch{}, err
	}
	items, err := s.backend.Take(s.config.BatchSize)
	if err != nil {
		return core.OverflowBatch{}, err
	}
	batch := core.OverflowBatch{Items: items, Remaining: s.backend.Len()}
	if batch.Remaining > 0 {
		if batch.MaxRemaining, err = s.backend.Max(); err != nil {
			return core.OverflowBatch{}, err
		}
	}
	return batch, nil
}

func (s *Store) status() (core.OverflowStatus, error) {
	highest, err := s.backend.Max()
	if err != nil {
		return core.OverflowStatus{}, err
	}
	return core.OverflowStatus{
		Size:           s.backend.Len(),
		MaxProbability: highest,
		Dropped:        s.dropped,
	}, nil
}

// takeSaveError reports a failed fire-and-forget save on the next reply
func (s *Store) takeSaveError() error {
	err := s.saveError
	s.saveError = nil
	if err != nil {
		return fmt.Errorf("earlier overflow save failed: %w", err)
	}
	return nil
}

// Save queues items for storage without waiting for the write
func (s *Store) Save(ctx context.Context, items []*core.QueueItem) error {
	if len(items) == 0 {
		return nil
	}
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	select {
	case s.requests <- request{op: opSave, items: items}:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send removes and returns the most probable batch
func (s *Store) Send(ctx context.Context) (core.OverflowBatch, error) {
	resp, err := s.call(ctx, opSend)
	return resp.batch, err
}

// Status reports the store size, its highest probability and how many items were dropped
func (s *Store) Status(ctx context.Context) (core.OverflowStatus, error) {
	resp, err := s.call(ctx, opStatus)
	return resp.status, err
}

// Dump returns every stored item without removing any
func (s *Store) Dump(ctx context.Context) ([]*core.QueueItem, error) {
	resp, err := s.call(ctx, opDump)
	return resp.items, err
}

// call sends one request and waits for its reply. Once the request is accepted the reply
// is always awaited, even if ctx ends, so a batch is never lost in flight.
func (s *Store) call(ctx context.Context, op opCode) (response, error) {
	s.callMu.Lock()
	defer s.callMu.Unlock()

	select {
	case <-s.done:
		return response{}, ErrClosed
	default:
	}
	select {
	case s.requests <- request{op: op}:
	case <-s.done:
		return response{}, ErrClosed
	case <-ctx.Done():
		return response{}, ctx.Err()
	}

	select {
	case resp := <-s.responses:
		return resp, resp.err
	case <-s.done:
		// Run serves queued requests before closing done
		select {
		case resp := <-s.responses:
			return resp, resp.err
		default:
			return response{}, ErrClosed
		}
	}
}

// Close releases the backend. Call it after Run has returned.
func (s *Store) Close() error {
	return s.backend.Close()
}

var _ core.OverflowStore = (*Store)(nil)
