/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: engine_test.go
Description: Tests for the generation engine. Checks the guess stream of the worked
example against a golden file and verifies that a run stopped at any guess, by limit or
by the consumer closing, resumes from its snapshot without skipping or repeating.
*/

package core_test

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/kleascm/akaylee-pcfg/pkg/core"
	"github.com/kleascm/akaylee-pcfg/pkg/grammar"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collectSink records guesses and reports the consumer closed after closeAfter guesses
type collectSink struct {
	guesses    []string
	closeAfter int
	flushes    int
}

func (s *collectSink) Emit(_ context.Context, guess string) error {
	if s.closeAfter > 0 && len(s.guesses) >= s.closeAfter {
		return core.ErrConsumerClosed
	}
	s.guesses = append(s.guesses, guess)
	return nil
}

func (s *collectSink) Flush() error {
	s.flushes++
	return nil
}

// stallingSink accepts stallAfter guesses, then cancels the run and blocks until the
// context is done, like a rate-limited writer interrupted mid-wait
type stallingSink struct {
	collectSink
	stallAfter int
	cancel     context.CancelFunc
}

func (s *stallingSink) Emit(ctx context.Context, guess string) error {
	if len(s.guesses) >= s.stallAfter {
		s.cancel()
		<-ctx.Done()
		return ctx.Err()
	}
	return s.collectSink.Emit(ctx, guess)
}

func runEngine(t *testing.T, g *grammar.Grammar, q core.Scheduler, sink core.GuessSink, cfg core.EngineConfig, snap *core.Snapshot) *core.Result {
	t.Helper()
	engine := core.NewEngine(g, nil, q, sink, cfg, nil, nil)
	if snap != nil {
		require.NoError(t, engine.Resume(snap))
	}
	result, err := engine.Run(context.Background())
	require.NoError(t, err)
	return result
}

func TestWorkedExampleGuessStream(t *testing.T) {
	g := workedGrammar(t)
	sink := &collectSink{}
	result := runEngine(t, g, core.NewGuessQueue(g, core.QueueConfig{}, nil, nil, nil), sink, core.EngineConfig{}, nil)

	assert.True(t, result.Exhausted)
	assert.Equal(t, core.StopExhausted, result.Reason)
	assert.Nil(t, result.Snapshot)
	assert.Equal(t, int64(6), result.Guesses)
	assert.Equal(t, 1, sink.flushes)

	// "12" (0.7) and "34" (0.3) are separate D2 replacements, so the 0.21 pre-terminal
	// yields only cat12 and dog12; cat34 and dog34 come last from the 0.09 pre-terminal
	gold := goldie.New(t, goldie.WithFixtureDir("testdata/golden"), goldie.WithNameSuffix(".golden"))
	gold.Assert(t, "worked_example_d2_split", []byte(strings.Join(sink.guesses, "\n")+"\n"))
}

// roundTrip pushes a snapshot through JSON, the way sessions store it
func roundTrip(t *testing.T, snap *core.Snapshot) *core.Snapshot {
	t.Helper()
	data, err := json.Marshal(snap)
	require.NoError(t, err)
	var out core.Snapshot
	require.NoError(t, json.Unmarshal(data, &out))
	return &out
}

func TestEngineResumesAfterEveryGuess(t *testing.T) {
	g := tiedGrammar(t)
	ctx := context.Background()
	cfg := core.QueueConfig{MaxQueueSize: 3}

	full := &collectSink{}
	runEngine(t, g, core.NewGuessQueue(g, cfg, nil, nil, nil), full, core.EngineConfig{ChannelSize: 2}, nil)
	require.NotEmpty(t, full.guesses)

	for _, stop := range []string{"limit", "consumer_closed"} {
		for k := 1; k < len(full.guesses); k++ {
			t.Run(fmt.Sprintf("%s/%d", stop, k), func(t *testing.T) {
				first := &collectSink{}
				engineCfg := core.EngineConfig{ChannelSize: 2}
				if stop == "limit" {
					engineCfg.Limit = int64(k)
				} else {
					first.closeAfter = k
				}

				result := runEngine(t, g, core.NewGuessQueue(g, cfg, nil, nil, nil), first, engineCfg, nil)
				require.False(t, result.Exhausted)
				assert.Equal(t, core.StopReason(stop), result.Reason)
				require.NotNil(t, result.Snapshot)
				assert.Equal(t, int64(k), result.Snapshot.Guesses)

				snap := roundTrip(t, result.Snapshot)
				q, err := core.RestoreGuessQueue(ctx, g, cfg, nil, nil, nil, snap.Queue)
				require.NoError(t, err)

				second := &collectSink{}
				resumed := runEngine(t, g, q, second, core.EngineConfig{ChannelSize: 2}, snap)
				assert.True(t, resumed.Exhausted)
				assert.Equal(t, int64(len(full.guesses)), resumed.Guesses)

				assert.Equal(t, full.guesses, append(first.guesses, second.guesses...))
			})
		}
	}
}

func TestEngineResumesWithOverflowStore(t *testing.T) {
	g := tiedGrammar(t)
	ctx := context.Background()
	cfg := core.QueueConfig{MaxQueueSize: 2}

	full := &collectSink{}
	runEngine(t, g, core.NewGuessQueue(g, cfg, startStore(t), nil, nil), full, core.EngineConfig{}, nil)

	for k := 1; k < len(full.guesses); k += 3 {
		first := &collectSink{}
		result := runEngine(t, g, core.NewGuessQueue(g, cfg, startStore(t), nil, nil), first, core.EngineConfig{Limit: int64(k)}, nil)
		require.NotNil(t, result.Snapshot)
		assert.True(t, result.Snapshot.Queue.Stored)

		snap := roundTrip(t, result.Snapshot)
		q, err := core.RestoreGuessQueue(ctx, g, cfg, startStore(t), nil, nil, snap.Queue)
		require.NoError(t, err)

		second := &collectSink{}
		runEngine(t, g, q, second, core.EngineConfig{}, snap)
		assert.Equal(t, full.guesses, append(first.guesses, second.guesses...), "stopped after %d", k)
	}
}

func TestEngineStopsOnCancel(t *testing.T) {
	g := workedGrammar(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	engine := core.NewEngine(g, nil, core.NewGuessQueue(g, core.QueueConfig{}, nil, nil, nil), &collectSink{}, core.EngineConfig{}, nil, nil)
	result, err := engine.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, core.StopCancelled, result.Reason)
	require.NotNil(t, result.Snapshot)
	assert.Zero(t, result.Guesses)
}

func TestEngineCancelDuringEmitKeepsGuess(t *testing.T) {
	g := tiedGrammar(t)
	cfg := core.QueueConfig{MaxQueueSize: 3}

	full := &collectSink{}
	runEngine(t, g, core.NewGuessQueue(g, cfg, nil, nil, nil), full, core.EngineConfig{ChannelSize: 2}, nil)
	require.Greater(t, len(full.guesses), 3)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	first := &stallingSink{stallAfter: 3, cancel: cancel}
	engine := core.NewEngine(g, nil, core.NewGuessQueue(g, cfg, nil, nil, nil), first, core.EngineConfig{ChannelSize: 2}, nil, nil)
	result, err := engine.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, core.StopCancelled, result.Reason)
	assert.Equal(t, int64(3), result.Guesses)
	require.NotNil(t, result.Snapshot)
	require.NotNil(t, result.Snapshot.Current)
	require.NotNil(t, result.Snapshot.Current.Unsent)
	assert.Equal(t, full.guesses[3], *result.Snapshot.Current.Unsent)

	snap := roundTrip(t, result.Snapshot)
	q, err := core.RestoreGuessQueue(context.Background(), g, cfg, nil, nil, nil, snap.Queue)
	require.NoError(t, err)
	second := &collectSink{}
	resumed := runEngine(t, g, q, second, core.EngineConfig{ChannelSize: 2}, snap)
	assert.True(t, resumed.Exhausted)
	assert.Equal(t, full.guesses, append(first.guesses, second.guesses...))
}

func TestEngineLimitAlreadyReached(t *testing.T) {
	g := workedGrammar(t)
	first := runEngine(t, g, core.NewGuessQueue(g, core.QueueConfig{}, nil, nil, nil), &collectSink{}, core.EngineConfig{Limit: 2}, nil)
	require.NotNil(t, first.Snapshot)

	q, err := core.RestoreGuessQueue(context.Background(), g, core.QueueConfig{}, nil, nil, nil, first.Snapshot.Queue)
	require.NoError(t, err)
	sink := &collectSink{}
	again := runEngine(t, g, q, sink, core.EngineConfig{Limit: 2}, first.Snapshot)
	assert.Equal(t, core.StopLimit, again.Reason)
	assert.Empty(t, sink.guesses)
	assert.Equal(t, first.Snapshot.Current, again.Snapshot.Current)
}

func TestResumeRejectsUnknownVersion(t *testing.T) {
	g := workedGrammar(t)
	engine := core.NewEngine(g, nil, core.NewGuessQueue(g, core.QueueConfig{}, nil, nil, nil), &collectSink{}, core.EngineConfig{}, nil, nil)
	assert.Error(t, engine.Resume(&core.Snapshot{Version: core.SnapshotVersion + 1}))
}

type countingReporter struct {
	expanded int
	guesses  int64
}

func (r *countingReporter) OnExpanded(item *core.QueueItem, guesses int64) {
	r.expanded++
	r.guesses += guesses
}

func (r *countingReporter) OnEviction(int, float64) {}

func (r *countingReporter) OnRebuild(int, float64) {}

func TestEngineReportsExpansions(t *testing.T) {
	g := workedGrammar(t)
	stats := core.NewStats()
	engine := core.NewEngine(g, nil, core.NewGuessQueue(g, core.QueueConfig{}, nil, stats, nil), &collectSink{}, core.EngineConfig{}, stats, nil)
	reporter := &countingReporter{}
	engine.AddReporter(reporter)

	_, err := engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, reporter.expanded)
	assert.Equal(t, int64(6), reporter.guesses)

	snap := stats.Snapshot()
	assert.Equal(t, int64(6), snap.Guesses)
	assert.Equal(t, int64(3), snap.PreTerminals)
	assert.Equal(t, int64(5), snap.Pops)
}
