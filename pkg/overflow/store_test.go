/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: store_test.go
Description: Tests for the overflow store goroutine and both backends. Every backend must
hand items back in queue order, keep ties together and trim only below a clean split.
*/

package overflow_test

import (
	"context"
	"testing"

	"github.com/kleascm/akaylee-pcfg/pkg/core"
	"github.com/kleascm/akaylee-pcfg/pkg/grammar"
	"github.com/kleascm/akaylee-pcfg/pkg/overflow"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func item(p float64, repl int) *core.QueueItem {
	tree := &grammar.ParseTree{NT: 0, Repl: repl}
	return &core.QueueItem{Tree: tree, Probability: p, IsTerminal: true, Key: tree.Key()}
}

func probabilities(items []*core.QueueItem) []float64 {
	out := make([]float64, len(items))
	for i, it := range items {
		out[i] = it.Probability
	}
	return out
}

type backendFactory struct {
	name string
	open func(t *testing.T) overflow.Backend
}

func backends() []backendFactory {
	return []backendFactory{
		{"memory", func(t *testing.T) overflow.Backend { return overflow.NewMemoryBackend() }},
		{"badger", func(t *testing.T) overflow.Backend {
			b, err := overflow.OpenBadger(overflow.BadgerConfig{InMemory: true}, nil)
			require.NoError(t, err)
			return b
		}},
	}
}

func startStore(t *testing.T, backend overflow.Backend, cfg overflow.Config, logger *logrus.Logger) *overflow.Store {
	t.Helper()
	store := overflow.NewStore(backend, cfg, logger)
	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		_ = store.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-finished
		_ = store.Close()
	})
	return store
}

func TestBackendOrderAndTies(t *testing.T) {
	for _, f := range backends() {
		t.Run(f.name, func(t *testing.T) {
			b := f.open(t)
			defer b.Close()

			require.NoError(t, b.Save([]*core.QueueItem{item(0.1, 1), item(0.5, 2), item(0.3, 3)}))
			require.NoError(t, b.Save([]*core.QueueItem{item(0.3, 4), item(0.3, 5), item(0.05, 6)}))
			assert.Equal(t, 6, b.Len())

			highest, err := b.Max()
			require.NoError(t, err)
			assert.Equal(t, 0.5, highest)

			// Two requested, extended over the 0.3 ties
			batch, err := b.Take(2)
			require.NoError(t, err)
			assert.Equal(t, []float64{0.5, 0.3, 0.3, 0.3}, probabilities(batch))
			assert.Equal(t, "0.3", batch[1].Key)
			assert.Equal(t, "0.4", batch[2].Key)
			assert.Equal(t, 2, b.Len())

			rest, err := b.Dump()
			require.NoError(t, err)
			assert.Equal(t, []float64{0.1, 0.05}, probabilities(rest))
			assert.Equal(t, 2, b.Len(), "dump must not remove items")

			all, err := b.Take(0)
			require.NoError(t, err)
			assert.Len(t, all, 2)
			highest, err = b.Max()
			require.NoError(t, err)
			assert.Zero(t, highest)
		})
	}
}

func TestBackendTruncateKeepsTies(t *testing.T) {
	for _, f := range backends() {
		t.Run(f.name, func(t *testing.T) {
			b := f.open(t)
			defer b.Close()

			require.NoError(t, b.Save([]*core.QueueItem{
				item(0.9, 1), item(0.4, 2), item(0.4, 3), item(0.4, 4), item(0.2, 5), item(0.1, 6),
			}))
			dropped, err := b.Truncate(2)
			require.NoError(t, err)
			assert.Equal(t, 2, dropped)

			rest, err := b.Dump()
			require.NoError(t, err)
			assert.Equal(t, []float64{0.9, 0.4, 0.4, 0.4}, probabilities(rest))

			// Everything tied, nowhere to cut
			dropped, err = b.Truncate(2)
			require.NoError(t, err)
			assert.Equal(t, 0, dropped)
		})
	}
}

func TestStoreRoundTrip(t *testing.T) {
	for _, f := range backends() {
		t.Run(f.name, func(t *testing.T) {
			store := startStore(t, f.open(t), overflow.Config{BatchSize: 2}, nil)
			ctx := context.Background()

			require.NoError(t, store.Save(ctx, []*core.QueueItem{item(0.2, 1), item(0.6, 2)}))
			require.NoError(t, store.Save(ctx, []*core.QueueItem{item(0.4, 3)}))

			status, err := store.Status(ctx)
			require.NoError(t, err)
			assert.Equal(t, 3, status.Size)
			assert.Equal(t, 0.6, status.MaxProbability)

			batch, err := store.Send(ctx)
			require.NoError(t, err)
			assert.Equal(t, []float64{0.6, 0.4}, probabilities(batch.Items))
			assert.Equal(t, 1, batch.Remaining)
			assert.Equal(t, 0.2, batch.MaxRemaining)

			batch, err = store.Send(ctx)
			require.NoError(t, err)
			assert.Equal(t, []float64{0.2}, probabilities(batch.Items))
			assert.Equal(t, 0, batch.Remaining)
			assert.Zero(t, batch.MaxRemaining)
		})
	}
}

func TestStoreTrimsToMaxSize(t *testing.T) {
	logger, hook := test.NewNullLogger()
	store := startStore(t, overflow.NewMemoryBackend(), overflow.Config{MaxSize: 3, BatchSize: 10}, logger)
	ctx := context.Background()

	var items []*core.QueueItem
	for i := 1; i <= 5; i++ {
		items = append(items, item(float64(i)/10, i))
	}
	require.NoError(t, store.Save(ctx, items))

	status, err := store.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, status.Size)
	assert.Equal(t, int64(2), status.Dropped)

	dump, err := store.Dump(ctx)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 0.4, 0.3}, probabilities(dump))

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestStoreKeepsEverythingWithoutSplitPoint(t *testing.T) {
	for _, f := range backends() {
		t.Run(f.name, func(t *testing.T) {
			logger, hook := test.NewNullLogger()
			store := startStore(t, f.open(t), overflow.Config{MaxSize: 3, BatchSize: 10}, logger)
			ctx := context.Background()

			var items []*core.QueueItem
			for i := 1; i <= 5; i++ {
				items = append(items, item(0.3, i))
			}
			require.NoError(t, store.Save(ctx, items))

			status, err := store.Status(ctx)
			require.NoError(t, err)
			assert.Equal(t, 5, status.Size)
			assert.Zero(t, status.Dropped)

			dump, err := store.Dump(ctx)
			require.NoError(t, err)
			assert.Equal(t, []float64{0.3, 0.3, 0.3, 0.3, 0.3}, probabilities(dump))

			var warned bool
			for _, entry := range hook.AllEntries() {
				if entry.Level == logrus.WarnLevel && entry.Message == "OVERFLOW no clean split point, store left over its bound" {
					warned = true
					assert.Equal(t, 3, entry.Data["max_size"])
				}
			}
			assert.True(t, warned)
		})
	}
}

func TestStoreClosed(t *testing.T) {
	store := overflow.NewStore(overflow.NewMemoryBackend(), overflow.DefaultConfig(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, store.Run(ctx))

	_, err := store.Send(context.Background())
	assert.ErrorIs(t, err, overflow.ErrClosed)
	assert.ErrorIs(t, store.Save(context.Background(), []*core.QueueItem{item(0.5, 1)}), overflow.ErrClosed)
}

func TestStoreServesQueuedSavesOnShutdown(t *testing.T) {
	backend := overflow.NewMemoryBackend()
	store := overflow.NewStore(backend, overflow.DefaultConfig(), nil)

	for i := 0; i < 10; i++ {
		require.NoError(t, store.Save(context.Background(), []*core.QueueItem{item(0.5, i)}))
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, store.Run(ctx))
	assert.Equal(t, 10, backend.Len(), "queued saves lost on shutdown")
}
