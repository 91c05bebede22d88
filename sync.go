package tinyvec

import (
	"context"
	"iter"
	"sync"

	"github.com/hupe1980/tinyvec/codec"
)

// VectorCollection is the capability set shared by Collection and
// SyncCollection.
type VectorCollection[T codec.Scalar] interface {
	Name() string
	Dimension() int
	Len() int
	Has(id string) bool
	Keys() []string
	Get(id string) ([]T, bool)
	GetBlock(ids []string) ([][]T, error)
	All() iter.Seq2[string, []T]
	AddBlock(ids []string, vectors [][]T) error
	DeleteBlock(ids []string) error
	SetBlock(ids []string, vectors [][]T) error
	Update(id string, vector []T) (bool, error)
	Search(query []T, k int) ([]SearchResult, error)
	Scores(query []T) ([]float64, error)
	Pending() map[string]Op
	Flush(ctx context.Context) (Changes, error)
}

var (
	_ VectorCollection[float32] = (*Collection[float32])(nil)
	_ VectorCollection[float32] = (*SyncCollection[float32])(nil)
)

// SyncCollection guards a Collection with a read/write lock so it can be
// shared between goroutines. Mutations and Flush take the lock exclusively;
// reads and searches share it.
type SyncCollection[T codec.Scalar] struct {
	mu sync.RWMutex
	c  *Collection[T]
}

// NewSync wraps c. The caller must stop using c directly.
//
// Collections handed out by a DB are already wrapped.
func NewSync[T codec.Scalar](c *Collection[T]) *SyncCollection[T] {
	return &SyncCollection[T]{c: c}
}

// Name returns the collection name.
func (s *SyncCollection[T]) Name() string { return s.c.Name() }

// Dimension returns the collection dimension.
func (s *SyncCollection[T]) Dimension() int { return s.c.Dimension() }

// Codec returns the row codec of the collection.
func (s *SyncCollection[T]) Codec() codec.Vector[T] { return s.c.Codec() }

func (s *SyncCollection[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.c.Len()
}

func (s *SyncCollection[T]) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.c.Has(id)
}

func (s *SyncCollection[T]) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.c.Keys()
}

func (s *SyncCollection[T]) Get(id string) ([]T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.c.Get(id)
}

func (s *SyncCollection[T]) GetBlock(ids []string) ([][]T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.c.GetBlock(ids)
}

// All iterates over a snapshot taken when iteration starts, so the loop body
// may call back into s.
func (s *SyncCollection[T]) All() iter.Seq2[string, []T] {
	return func(yield func(string, []T) bool) {
		s.mu.RLock()
		ids := s.c.Keys()
		vectors, _ := s.c.GetBlock(ids)
		s.mu.RUnlock()

		for i, id := range ids {
			if !yield(id, vectors[i]) {
				return
			}
		}
	}
}

func (s *SyncCollection[T]) AddBlock(ids []string, vectors [][]T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c.AddBlock(ids, vectors)
}

func (s *SyncCollection[T]) DeleteBlock(ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c.DeleteBlock(ids)
}

func (s *SyncCollection[T]) SetBlock(ids []string, vectors [][]T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c.SetBlock(ids, vectors)
}

func (s *SyncCollection[T]) Update(id string, vector []T) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c.Update(id, vector)
}

func (s *SyncCollection[T]) Search(query []T, k int) ([]SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.c.Search(query, k)
}

func (s *SyncCollection[T]) Scores(query []T) ([]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.c.Scores(query)
}

func (s *SyncCollection[T]) Pending() map[string]Op {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.c.Pending()
}

func (s *SyncCollection[T]) Flush(ctx context.Context) (Changes, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c.Flush(ctx)
}

func (s *SyncCollection[T]) unbind() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.c.unbind()
}
