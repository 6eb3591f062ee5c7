package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

var (
	// ErrNotFound indicates a missing record.
	ErrNotFound = errors.New("repair store: not found")
	// ErrWrite wraps failures to persist a snapshot.
	ErrWrite = errors.New("repair store: write failed")
)

// Record is a value that can be stored in a FileStore.
type Record[T any] interface {
	Clone() T
}

type validated interface {
	Validate() error
}

type snapshot[T any] struct {
	NextID int64       `json:"next_id"`
	Items  map[int64]T `json:"items"`
}

// FileStore keeps a map of records in a single JSON file.
// Writers are serialized by mu; every successful write replaces the cache
// before Update returns, so reads observe the latest committed state.
type FileStore[T Record[T]] struct {
	path string

	mu sync.Mutex

	cacheMu sync.RWMutex
	items   map[int64]T
	nextID  int64
}

// Open loads the store from path, creating an empty one if the file does not exist.
func Open[T Record[T]](path string) (*FileStore[T], error) {
	s := &FileStore[T]{path: path, items: make(map[int64]T), nextID: 1}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(data) == 0 {
		return s, nil
	}
	var snap snapshot[T]
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	for _, item := range snap.Items {
		if v, ok := any(item).(validated); ok {
			if err := v.Validate(); err != nil {
				return nil, fmt.Errorf("decode %s: %w", path, err)
			}
		}
	}
	if snap.Items != nil {
		s.items = snap.Items
	}
	s.nextID = snap.NextID
	for id := range s.items {
		if id >= s.nextID {
			s.nextID = id + 1
		}
	}
	if s.nextID < 1 {
		s.nextID = 1
	}
	return s, nil
}

// Path returns the backing file.
func (s *FileStore[T]) Path() string { return s.path }

// Get returns a copy of the record with id.
func (s *FileStore[T]) Get(id int64) (T, error) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	item, ok := s.items[id]
	if !ok {
		var zero T
		return zero, ErrNotFound
	}
	return item.Clone(), nil
}

// List returns copies of all records accepted by filter, ordered by id.
// A nil filter accepts everything.
func (s *FileStore[T]) List(filter func(T) bool) []T {
	s.cacheMu.RLock()
	ids := make([]int64, 0, len(s.items))
	for id, item := range s.items {
		if filter == nil || filter(item) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.items[id].Clone())
	}
	s.cacheMu.RUnlock()
	return out
}

// Tx is the mutable view handed to Update callbacks.
type Tx[T Record[T]] struct {
	items   map[int64]T
	nextID  int64
	changed bool
}

// Get returns a copy of the record with id as seen inside the transaction.
func (tx *Tx[T]) Get(id int64) (T, error) {
	item, ok := tx.items[id]
	if !ok {
		var zero T
		return zero, ErrNotFound
	}
	return item.Clone(), nil
}

// Find returns copies of records accepted by filter, ordered by id.
func (tx *Tx[T]) Find(filter func(T) bool) []T {
	ids := make([]int64, 0)
	for id, item := range tx.items {
		if filter(item) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		out = append(out, tx.items[id].Clone())
	}
	return out
}

// Put stores item under id.
func (tx *Tx[T]) Put(id int64, item T) {
	tx.items[id] = item.Clone()
	tx.changed = true
}

// Delete removes id.
func (tx *Tx[T]) Delete(id int64) {
	if _, ok := tx.items[id]; ok {
		delete(tx.items, id)
		tx.changed = true
	}
}

// NextID reserves a fresh sequential id.
func (tx *Tx[T]) NextID() int64 {
	id := tx.nextID
	tx.nextID++
	tx.changed = true
	return id
}

// Update runs fn against a copy of the current state and persists the result
// atomically. If fn returns an error nothing is written.
func (s *FileStore[T]) Update(fn func(tx *Tx[T]) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cacheMu.RLock()
	items := make(map[int64]T, len(s.items))
	for id, item := range s.items {
		items[id] = item
	}
	nextID := s.nextID
	s.cacheMu.RUnlock()

	tx := &Tx[T]{items: items, nextID: nextID}
	if err := fn(tx); err != nil {
		return err
	}
	if !tx.changed {
		return nil
	}
	if err := writeAtomic(s.path, snapshot[T]{NextID: tx.nextID, Items: tx.items}); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrWrite, filepath.Base(s.path), err)
	}

	s.cacheMu.Lock()
	s.items = tx.items
	s.nextID = tx.nextID
	s.cacheMu.Unlock()
	return nil
}

func writeAtomic(path string, payload interface{}) error {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}
