/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: store_test.go
Description: Tests for the SQLite session store: create, snapshot round trip, listing
order, name uniqueness and deletion.
*/

package session_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/kleascm/akaylee-pcfg/pkg/core"
	"github.com/kleascm/akaylee-pcfg/pkg/expansion"
	"github.com/kleascm/akaylee-pcfg/pkg/grammar"
	"github.com/kleascm/akaylee-pcfg/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) (*session.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), session.DatabaseFile)
	store, err := session.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, path
}

func TestOpenCreatesDatabase(t *testing.T) {
	_, path := openStore(t)
	_, err := os.Stat(path)
	assert.NoError(t, err)

	// Reopening applies the schema again without error
	again, err := session.Open(path)
	require.NoError(t, err)
	require.NoError(t, again.Close())
}

func TestCreateAndGet(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, "nightly", "/rules/Default", true)
	require.NoError(t, err)
	_, err = uuid.Parse(created.ID)
	assert.NoError(t, err)
	assert.Equal(t, session.StatusRunning, created.Status)

	got, err := store.Get(ctx, "nightly")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "/rules/Default", got.Ruleset)
	assert.True(t, got.NoMarkov)
	assert.Nil(t, got.Snapshot)
	assert.False(t, got.Resumable())
	assert.WithinDuration(t, created.CreatedAt, got.CreatedAt, 0)
}

func TestCreateRejectsDuplicateName(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()

	_, err := store.Create(ctx, "nightly", "/rules/Default", false)
	require.NoError(t, err)
	_, err = store.Create(ctx, "nightly", "/rules/Other", false)
	assert.ErrorIs(t, err, session.ErrExists)
}

func TestSaveRoundTripsSnapshot(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()

	sess, err := store.Create(ctx, "resume-me", "/rules/Default", false)
	require.NoError(t, err)

	unsent := "dog12"
	tree := &grammar.ParseTree{NT: 0, Repl: 0, Children: []*grammar.ParseTree{{NT: 1}, {NT: 2, Repl: 1}}}
	sess.Status = session.StatusStopped
	sess.Guesses = 42
	sess.Snapshot = &core.Snapshot{
		Version: core.SnapshotVersion,
		Queue: core.QueueState{
			Heap:  []*grammar.ParseTree{{NT: 0, Repl: 1}},
			Floor: 0.01,
			Last:  0.21,
		},
		Pending: []*grammar.ParseTree{tree},
		Current: &core.CurrentState{
			Tree:     tree,
			Expander: expansion.State{Started: true, Slots: []expansion.SlotState{{Index: 1}, {Index: 0}}},
			Emitted:  1,
			Unsent:   &unsent,
		},
		Guesses: 42,
	}
	require.NoError(t, store.Save(ctx, sess))

	got, err := store.Get(ctx, "resume-me")
	require.NoError(t, err)
	assert.Equal(t, session.StatusStopped, got.Status)
	assert.Equal(t, int64(42), got.Guesses)
	assert.True(t, got.Resumable())
	assert.Equal(t, sess.Snapshot, got.Snapshot)

	// Exhausting the run clears the snapshot
	sess.Status = session.StatusExhausted
	sess.Snapshot = nil
	require.NoError(t, store.Save(ctx, sess))
	got, err = store.Get(ctx, "resume-me")
	require.NoError(t, err)
	assert.Nil(t, got.Snapshot)
}

func TestListNewestFirst(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()

	first, err := store.Create(ctx, "first", "/rules/A", false)
	require.NoError(t, err)
	_, err = store.Create(ctx, "second", "/rules/B", false)
	require.NoError(t, err)

	first.Guesses = 10
	require.NoError(t, store.Save(ctx, first))

	sessions, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "first", sessions[0].Name)
	assert.Equal(t, int64(10), sessions[0].Guesses)
	assert.Equal(t, "second", sessions[1].Name)
}

func TestMissingSessions(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()

	_, err := store.Get(ctx, "ghost")
	assert.ErrorIs(t, err, session.ErrNotFound)
	assert.ErrorIs(t, store.Delete(ctx, "ghost"), session.ErrNotFound)
	assert.ErrorIs(t, store.Save(ctx, &session.Session{ID: "nope", Name: "ghost"}), session.ErrNotFound)

	_, err = store.Create(ctx, "real", "/rules/A", false)
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, "real"))
	_, err = store.Get(ctx, "real")
	assert.ErrorIs(t, err, session.ErrNotFound)
}
