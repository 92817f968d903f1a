/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: memory.go
Description: In-memory overflow backend. Items are kept worst first so the most probable
batch comes off the end of the slice. Saves are buffered and merged lazily on the next read.
*/

package overflow

import (
	"sort"

	"github.com/kleascm/akaylee-pcfg/pkg/core"
)

// MemoryBackend is an overflow backend held in process memory
type MemoryBackend struct {
	items   []*core.QueueItem // worst first
	pending []*core.QueueItem // saved but not yet merged
}

// NewMemoryBackend creates an empty in-memory backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

// Save buffers items until the next read
func (m *MemoryBackend) Save(items []*core.QueueItem) error {
	m.pending = append(m.pending, items...)
	return nil
}

// merge folds pending items into the sorted slice
func (m *MemoryBackend) merge() {
	if len(m.pending) == 0 {
		return
	}
	sort.Slice(m.pending, func(i, j int) bool { return m.pending[j].Before(m.pending[i]) })

	merged := make([]*core.QueueItem, 0, len(m.items)+len(m.pending))
	i, j := 0, 0
	for i < len(m.items) && j < len(m.pending) {
		if m.pending[j].Before(m.items[i]) {
			merged = append(merged, m.items[i])
			i++
		} else {
			merged = append(merged, m.pending[j])
			j++
		}
	}
	merged = append(merged, m.items[i:]...)
	merged = append(merged, m.pending[j:]...)
	m.items = merged
	m.pending = nil
}

// Take removes the n most probable items plus any tied with the last of them
func (m *MemoryBackend) Take(n int) ([]*core.QueueItem, error) {
	m.merge()
	size := len(m.items)
	if n <= 0 || n > size {
		n = size
	}
	start := size - n
	for start > 0 && m.items[start-1].Probability == m.items[start].Probability {
		start--
	}

	out := make([]*core.QueueItem, 0, size-start)
	for i := size - 1; i >= start; i-- {
		out = append(out, m.items[i])
		m.items[i] = nil
	}
	m.items = m.items[:start]
	return out, nil
}

// Truncate drops the least probable items beyond keep
func (m *MemoryBackend) Truncate(keep int) (int, error) {
	m.merge()
	size := len(m.items)
	if keep <= 0 || keep >= size {
		return 0, nil
	}
	// Position size-keep holds the item at rank keep-1
	boundary := m.items[size-keep].Probability
	cut := size - keep
	for cut > 0 && m.items[cut-1].Probability == boundary {
		cut--
	}
	if cut == 0 {
		return 0, nil
	}
	m.items = append(m.items[:0:0], m.items[cut:]...)
	return cut, nil
}

// Len returns the number of stored items
func (m *MemoryBackend) Len() int {
	return len(m.items) + len(m.pending)
}

// Max returns the highest stored probability
func (m *MemoryBackend) Max() (float64, error) {
	m.merge()
	if len(m.items) == 0 {
		return 0, nil
	}
	return m.items[len(m.items)-1].Probability, nil
}

// Dump returns every item, most probable first
func (m *MemoryBackend) Dump() ([]*core.QueueItem, error) {
	m.merge()
	out := make([]*core.QueueItem, 0, len(m.items))
	for i := len(m.items) - 1; i >= 0; i-- {
		out = append(out, m.items[i])
	}
	return out, nil
}

// Close releases the stored items
func (m *MemoryBackend) Close() error {
	m.items = nil
	m.pending = nil
	return nil
}
