package tinyvec

import (
	"container/heap"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/hupe1980/tinyvec/internal/kernel"
	"github.com/hupe1980/tinyvec/metric"
)

// SearchResult is one search hit.
type SearchResult struct {
	ID    string
	Score float64
}

// Search returns the k stored vectors most similar to query by cosine
// similarity, best first. Equal scores keep row order.
//
// k == -1, or any k >= Len, returns every vector; k == 0 returns none.
// A zero-magnitude query or stored vector scores 0.
func (c *Collection[T]) Search(query []T, k int) ([]SearchResult, error) {
	start := time.Now()
	res, err := c.search(query, k)
	c.metrics.RecordSearch(k, time.Since(start), err)
	return res, err
}

// Scores returns the cosine similarity of query against every stored vector,
// in row order.
func (c *Collection[T]) Scores(query []T) ([]float64, error) {
	if err := c.checkDimension(query); err != nil {
		return nil, err
	}

	qn := metric.Magnitude(query)
	out := make([]float64, len(c.ids))
	for r := range out {
		out[r] = metric.Cosine(kernel.Dot(c.row(r), query), c.norms[r], qn)
	}
	return out, nil
}

func (c *Collection[T]) search(query []T, k int) ([]SearchResult, error) {
	if err := c.checkDimension(query); err != nil {
		return nil, err
	}
	if k < -1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidK, k)
	}

	n := len(c.ids)
	if k == -1 || k > n {
		k = n
	}
	if k == 0 {
		return []SearchResult{}, nil
	}

	scores, err := c.Scores(query)
	if err != nil {
		return nil, err
	}

	var hits []hit
	if k == n {
		hits = make([]hit, n)
		for r, s := range scores {
			hits[r] = hit{row: r, score: s}
		}
	} else {
		q := &boundedQueue{items: make([]hit, 0, k)}
		for r, s := range scores {
			q.pushBounded(hit{row: r, score: s}, k)
		}
		hits = q.items
	}

	slices.SortFunc(hits, func(a, b hit) int {
		if better(a, b) {
			return -1
		}
		return 1
	})

	out := make([]SearchResult, len(hits))
	for i, h := range hits {
		out[i] = SearchResult{ID: c.ids[h.row], Score: h.score}
	}
	return out, nil
}

type hit struct {
	row   int
	score float64
}

// better orders hits by descending score, then ascending row. NaN ranks below
// every number.
func better(a, b hit) bool {
	an, bn := math.IsNaN(a.score), math.IsNaN(b.score)
	switch {
	case an && bn:
		return a.row < b.row
	case an:
		return false
	case bn:
		return true
	case a.score != b.score:
		return a.score > b.score
	default:
		return a.row < b.row
	}
}

// Compile time check to ensure boundedQueue satisfies the heap interface.
var _ heap.Interface = (*boundedQueue)(nil)

// boundedQueue keeps the best k hits seen so far with the worst on top.
type boundedQueue struct {
	items []hit
}

func (q *boundedQueue) Len() int           { return len(q.items) }
func (q *boundedQueue) Less(i, j int) bool { return better(q.items[j], q.items[i]) }
func (q *boundedQueue) Swap(i, j int)      { q.items[i], q.items[j] = q.items[j], q.items[i] }
func (q *boundedQueue) Push(x any)         { q.items = append(q.items, x.(hit)) }

func (q *boundedQueue) Pop() any {
	old := q.items
	n := len(old)
	item := old[n-1]
	q.items = old[:n-1]
	return item
}

func (q *boundedQueue) pushBounded(h hit, capacity int) {
	if len(q.items) < capacity {
		heap.Push(q, h)
		return
	}
	if better(h, q.items[0]) {
		q.items[0] = h
		heap.Fix(q, 0)
	}
}
