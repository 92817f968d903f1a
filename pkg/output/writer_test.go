/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: writer_test.go
Description: Tests for the guess writer: line framing, mapping of a vanished reader onto
core.ErrConsumerClosed and the optional rate cap.
*/

package output_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/kleascm/akaylee-pcfg/pkg/core"
	"github.com/kleascm/akaylee-pcfg/pkg/output"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingWriter struct {
	err error
}

func (w failingWriter) Write([]byte) (int, error) {
	return 0, w.err
}

func TestWriterFramesGuesses(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	w := output.NewWriter(&buf, output.Config{})
	for _, g := range []string{"cat12", "", "päss"} {
		require.NoError(t, w.Emit(ctx, g))
	}
	assert.Empty(t, buf.String(), "guesses stay buffered until flush")
	require.NoError(t, w.Flush())

	assert.Equal(t, "cat12\n\npäss\n", buf.String())
	assert.Equal(t, int64(3), w.Written())
}

func TestWriterReportsClosedConsumer(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name   string
		err    error
		closed bool
	}{
		{"broken pipe", &os.PathError{Op: "write", Path: "/dev/stdout", Err: syscall.EPIPE}, true},
		{"closed pipe", io.ErrClosedPipe, true},
		{"closed file", os.ErrClosed, true},
		{"disk full", syscall.ENOSPC, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := output.NewWriter(failingWriter{err: tt.err}, output.Config{BufferSize: 16})
			require.NoError(t, w.Emit(ctx, "short"))
			err := w.Flush()
			require.Error(t, err)
			assert.Equal(t, tt.closed, core.IsConsumerClosed(err))
			assert.True(t, errors.Is(err, tt.err))
		})
	}
}

func TestWriterRateLimit(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	w := output.NewWriter(&buf, output.Config{MaxRate: 20})

	start := time.Now()
	for i := 0; i < 30; i++ {
		require.NoError(t, w.Emit(ctx, "x"))
	}
	// 20 come from the initial burst, the other 10 need half a second
	assert.GreaterOrEqual(t, time.Since(start), 400*time.Millisecond)
}

func TestWriterRateLimitStopsOnCancel(t *testing.T) {
	var buf bytes.Buffer
	w := output.NewWriter(&buf, output.Config{MaxRate: 0.1})
	require.NoError(t, w.Emit(context.Background(), "first"))

	// The next token is ten seconds away
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	err := w.Emit(ctx, "second")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, int64(1), w.Written())

	require.NoError(t, w.Flush())
	assert.Equal(t, "first\n", buf.String())
}

func TestOpenFileAppends(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "guesses.txt")

	for _, g := range []string{"first", "second"} {
		w, err := output.Open(path, output.DefaultConfig())
		require.NoError(t, err)
		require.NoError(t, w.Emit(ctx, g))
		require.NoError(t, w.Close())
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond\n", string(data))
}
