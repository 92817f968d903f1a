/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: scheduler.go
Description: Scheduler interface between the engine and its source of pre-terminals.
GuessQueue is the production implementation.
*/

package core

import "context"

// Scheduler defines the interface the engine pulls pre-terminals from
type Scheduler interface {
	// Next returns the next pre-terminal, or nil when there are none left
	Next(ctx context.Context) (*QueueItem, error)
	// Snapshot captures enough state to resume scheduling later
	Snapshot(ctx context.Context) (QueueState, error)
}

var _ Scheduler = (*GuessQueue)(nil)
