/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: writer.go
Description: Guess sink that writes one guess per line through a buffered writer.
A reader that goes away (broken pipe or closed file) is reported as core.ErrConsumerClosed
so the engine can stop cleanly and save its session. An optional token bucket caps the
guess rate.
*/

package output

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/kleascm/akaylee-pcfg/pkg/core"
	"golang.org/x/time/rate"
)

// Config tunes the output sink
type Config struct {
	BufferSize int     `json:"buffer_size"` // Bytes buffered before a write, 0 for the default
	MaxRate    float64 `json:"max_rate"`    // Guesses per second, 0 for unlimited
}

// DefaultConfig returns the default sink settings
func DefaultConfig() Config {
	return Config{BufferSize: 64 * 1024}
}

// Writer writes newline-terminated guesses
type Writer struct {
	buf     *bufio.Writer
	closer  io.Closer
	limiter *rate.Limiter
	written int64
}

// NewWriter wraps w. If w is also an io.Closer it is closed by Close.
func NewWriter(w io.Writer, cfg Config) *Writer {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	out := &Writer{buf: bufio.NewWriterSize(w, cfg.BufferSize)}
	if c, ok := w.(io.Closer); ok && w != os.Stdout {
		out.closer = c
	}
	if cfg.MaxRate > 0 {
		burst := int(cfg.MaxRate)
		if burst < 1 {
			burst = 1
		}
		out.limiter = rate.NewLimiter(rate.Limit(cfg.MaxRate), burst)
	}
	return out
}

// Open returns a writer for path, or for standard output when path is empty or "-"
func Open(path string, cfg Config) (*Writer, error) {
	if path == "" || path == "-" {
		return NewWriter(os.Stdout, cfg), nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open output file: %w", err)
	}
	return NewWriter(f, cfg), nil
}

// Emit writes one guess, waiting for the rate limiter until ctx is done
func (w *Writer) Emit(ctx context.Context, guess string) error {
	if w.limiter != nil {
		if err := w.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	if _, err := w.buf.WriteString(guess); err != nil {
		return mapError(err)
	}
	if err := w.buf.WriteByte('\n'); err != nil {
		return mapError(err)
	}
	w.written++
	return nil
}

// Flush writes any buffered guesses
func (w *Writer) Flush() error {
	return mapError(w.buf.Flush())
}

// Written returns the number of guesses accepted
func (w *Writer) Written() int64 {
	return w.written
}

// Close flushes and closes the underlying file, if any
func (w *Writer) Close() error {
	err := w.Flush()
	if w.closer != nil {
		if cerr := w.closer.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// mapError reports a vanished reader as core.ErrConsumerClosed
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, syscall.EPIPE) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("%w: %w", core.ErrConsumerClosed, err)
	}
	return err
}

var _ core.GuessSink = (*Writer)(nil)
