/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: badger.go
Description: Disk-backed overflow backend on BadgerDB. Keys sort in queue order: eight
big-endian bytes of the inverted probability bits followed by the canonical tree key,
so a forward iteration yields the most probable item first. Values are JSON queue items.
*/

package overflow

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	"github.com/dgraph-io/badger/v4"
	"github.com/kleascm/akaylee-pcfg/pkg/core"
	"github.com/sirupsen/logrus"
)

// BadgerConfig configures the disk backend
type BadgerConfig struct {
	Dir      string `json:"dir"`       // Database directory, cleared on open
	InMemory bool   `json:"in_memory"` // Keep the database in memory, for tests
}

// BadgerBackend is an overflow backend stored in BadgerDB
type BadgerBackend struct {
	db    *badger.DB
	count int
}

// OpenBadger opens the database and drops anything a previous run left behind. Saved
// sessions carry their overflow contents in the snapshot, so the directory is scratch space.
func OpenBadger(cfg BadgerConfig, logger *logrus.Logger) (*BadgerBackend, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Dir == "" {
			return nil, fmt.Errorf("badger overflow needs a directory")
		}
		opts = badger.DefaultOptions(cfg.Dir)
	}
	if logger != nil {
		opts = opts.WithLogger(logger.WithField("component", "badger")).WithLoggingLevel(badger.WARNING)
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open overflow database: %w", err)
	}
	if err := db.DropAll(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to clear overflow database: %w", err)
	}
	return &BadgerBackend{db: db}, nil
}

func itemKey(item *core.QueueItem) []byte {
	key := make([]byte, 8+len(item.Key))
	binary.BigEndian.PutUint64(key, ^math.Float64bits(item.Probability))
	copy(key[8:], item.Key)
	return key
}

func keyProbability(key []byte) float64 {
	return math.Float64frombits(^binary.BigEndian.Uint64(key[:8]))
}

// Save writes items in one batch
func (b *BadgerBackend) Save(items []*core.QueueItem) error {
	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for _, item := range items {
		value, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("failed to encode overflow item: %w", err)
		}
		if err := wb.Set(itemKey(item), value); err != nil {
			return fmt.Errorf("failed to write overflow item: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("failed to flush overflow batch: %w", err)
	}
	b.count += len(items)
	return nil
}

// Take removes the n most probable items plus any tied with the last of them
func (b *BadgerBackend) Take(n int) ([]*core.QueueItem, error) {
	var (
		out  []*core.QueueItem
		keys [][]byte
	)
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			entry := it.Item()
			p := keyProbability(entry.Key())
			if n > 0 && len(out) >= n && p != out[len(out)-1].Probability {
				break
			}
			item := &core.QueueItem{}
			if err := entry.Value(func(v []byte) error { return json.Unmarshal(v, item) }); err != nil {
				return fmt.Errorf("failed to decode overflow item: %w", err)
			}
			out = append(out, item)
			keys = append(keys, entry.KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := b.delete(keys); err != nil {
		return nil, err
	}
	return out, nil
}

// Truncate drops the least probable items beyond keep
func (b *BadgerBackend) Truncate(keep int) (int, error) {
	if keep <= 0 || keep >= b.count {
		return 0, nil
	}
	var keys [][]byte
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		rank := 0
		boundary := 0.0
		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().Key()
			switch {
			case rank == keep-1:
				boundary = keyProbability(key)
			case rank >= keep && keyProbability(key) != boundary:
				keys = append(keys, it.Item().KeyCopy(nil))
			}
			rank++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if err := b.delete(keys); err != nil {
		return 0, err
	}
	return len(keys), nil
}

func (b *BadgerBackend) delete(keys [][]byte) error {
	if len(keys) == 0 {
		return nil
	}
	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range keys {
		if err := wb.Delete(key); err != nil {
			return fmt.Errorf("failed to delete overflow item: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("failed to flush overflow deletes: %w", err)
	}
	b.count -= len(keys)
	return nil
}

// Len returns the number of stored items
func (b *BadgerBackend) Len() int {
	return b.count
}

// Max returns the highest stored probability
func (b *BadgerBackend) Max() (float64, error) {
	highest := 0.0
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		it.Rewind()
		if it.Valid() {
			highest = keyProbability(it.Item().Key())
		}
		return nil
	})
	return highest, err
}

// Dump returns every item, most probable first
func (b *BadgerBackend) Dump() ([]*core.QueueItem, error) {
	out := make([]*core.QueueItem, 0, b.count)
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := &core.QueueItem{}
			if err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, item) }); err != nil {
				return fmt.Errorf("failed to decode overflow item: %w", err)
			}
			out = append(out, item)
		}
		return nil
	})
	return out, err
}

// Close closes the database
func (b *BadgerBackend) Close() error {
	return b.db.Close()
}
