/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: queue.go
Description: Binary max-heap of queue items. Orders by probability descending with the
canonical tree key as a deterministic tie-breaker. Owned by the producer goroutine, so it
carries no lock.
*/

package core

// PriorityQueue is a binary heap of queue items
type PriorityQueue struct {
	heap []*QueueItem

	insertions int64
	removals   int64
}

// NewPriorityQueue creates an empty heap
func NewPriorityQueue() *PriorityQueue {
	return &PriorityQueue{
		heap: make([]*QueueItem, 0, 1024),
	}
}

// Put adds an item and restores heap order
func (pq *PriorityQueue) Put(item *QueueItem) {
	pq.heap = append(pq.heap, item)
	pq.insertions++
	pq.bubbleUp(len(pq.heap) - 1)
}

// Get removes and returns the highest priority item, or nil when empty
func (pq *PriorityQueue) Get() *QueueItem {
	n := len(pq.heap)
	if n == 0 {
		return nil
	}

	root := pq.heap[0]
	pq.heap[0] = pq.heap[n-1]
	pq.heap[n-1] = nil
	pq.heap = pq.heap[:n-1]
	pq.removals++

	if len(pq.heap) > 0 {
		pq.bubbleDown(0)
	}
	return root
}

// Peek returns the highest priority item without removing it
func (pq *PriorityQueue) Peek() *QueueItem {
	if len(pq.heap) == 0 {
		return nil
	}
	return pq.heap[0]
}

// Size returns the number of items
func (pq *PriorityQueue) Size() int {
	return len(pq.heap)
}

// IsEmpty returns true if the heap is empty
func (pq *PriorityQueue) IsEmpty() bool {
	return len(pq.heap) == 0
}

// Items returns the backing slice in heap order. Callers must not modify it.
func (pq *PriorityQueue) Items() []*QueueItem {
	return pq.heap
}

// Replace swaps in a new backing slice that already satisfies heap order,
// such as a slice sorted by Before
func (pq *PriorityQueue) Replace(items []*QueueItem) {
	pq.heap = items
}

// GetStats returns heap counters
func (pq *PriorityQueue) GetStats() map[string]interface{} {
	stats := make(map[string]interface{})
	stats["size"] = len(pq.heap)
	stats["capacity"] = cap(pq.heap)
	stats["insertions"] = pq.insertions
	stats["removals"] = pq.removals
	if len(pq.heap) > 0 {
		stats["max_probability"] = pq.heap[0].Probability
	}
	return stats
}

// bubbleUp moves an element up until its parent comes before it
func (pq *PriorityQueue) bubbleUp(index int) {
	for index > 0 {
		parent := (index - 1) / 2
		if pq.heap[index].Before(pq.heap[parent]) {
			pq.heap[index], pq.heap[parent] = pq.heap[parent], pq.heap[index]
			index = parent
		} else {
			break
		}
	}
}

// bubbleDown moves an element down until both children come after it
func (pq *PriorityQueue) bubbleDown(index int) {
	size := len(pq.heap)
	for {
		left := 2*index + 1
		right := 2*index + 2
		first := index

		if left < size && pq.heap[left].Before(pq.heap[first]) {
			first = left
		}
		if right < size && pq.heap[right].Before(pq.heap[first]) {
			first = right
		}

		if first != index {
			pq.heap[index], pq.heap[first] = pq.heap[first], pq.heap[index]
			index = first
		} else {
			break
		}
	}
}

// ValidateHeap checks the heap property
// Useful for debugging and testing
func (pq *PriorityQueue) ValidateHeap() bool {
	size := len(pq.heap)
	for i := 0; i < size; i++ {
		left := 2*i + 1
		right := 2*i + 2
		if left < size && pq.heap[left].Before(pq.heap[i]) {
			return false
		}
		if right < size && pq.heap[right].Before(pq.heap[i]) {
			return false
		}
	}
	return true
}
