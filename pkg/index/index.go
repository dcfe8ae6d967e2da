package index

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/xhad/tubechat/internal/models"
)

var (
	// ErrEmptyIndex signals a search against an index with zero entries.
	// User-facing guidance (nothing indexed yet), not a bug.
	ErrEmptyIndex = errors.New("no video indexed yet")

	// ErrDimensionMismatch signals an embedding whose length does not
	// match the index's fixed dimensionality.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

type Config struct {
	VectorDim int // 0 means adopt the dimension of the first added entry
}

// Entry is the unit stored in the index: a normalized embedding plus the
// chunk it describes. The chunk is the single source of truth for text.
type Entry struct {
	Embedding []float32
	Chunk     *models.Chunk
}

type Result struct {
	Entry Entry
	Score float32
}

// Index is an in-memory, append-only vector index over normalized
// embeddings. Similarity is the inner product, which equals cosine
// similarity once every vector is normalized at insertion time. Add never
// invalidates previously added positions; reset is a swap to a fresh Index,
// never an in-place clear, so entries captured by an in-flight search stay
// valid.
type Index struct {
	mu      sync.RWMutex
	dim     int
	entries []Entry
}

func NewWithConfig(config Config) *Index {
	return &Index{dim: config.VectorDim}
}

// Add normalizes and appends entries, returning the count added. The batch
// is validated in full before anything is appended, so a failed Add leaves
// the index untouched.
func (ix *Index) Add(entries []Entry) (int, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	dim := ix.dim
	normalized := make([]Entry, len(entries))
	for i, entry := range entries {
		if dim == 0 {
			dim = len(entry.Embedding)
		}
		if len(entry.Embedding) != dim {
			return 0, fmt.Errorf("%w: got %d, index holds %d",
				ErrDimensionMismatch, len(entry.Embedding), dim)
		}

		vec, err := normalize(entry.Embedding)
		if err != nil {
			return 0, fmt.Errorf("entry %d: %v", i, err)
		}
		normalized[i] = Entry{Embedding: vec, Chunk: entry.Chunk}
	}

	ix.dim = dim
	ix.entries = append(ix.entries, normalized...)
	return len(normalized), nil
}

// Search returns the k most similar entries, highest similarity first, ties
// broken by earlier insertion order.
func (ix *Index) Search(query []float32, k int) ([]Result, error) {
	ix.mu.RLock()
	entries := ix.entries
	dim := ix.dim
	ix.mu.RUnlock()

	if len(entries) == 0 {
		return nil, ErrEmptyIndex
	}
	if len(query) != dim {
		return nil, fmt.Errorf("%w: query has %d, index holds %d",
			ErrDimensionMismatch, len(query), dim)
	}

	normalized, err := normalize(query)
	if err != nil {
		return nil, err
	}

	results := make([]Result, len(entries))
	for i, entry := range entries {
		results[i] = Result{Entry: entry, Score: dot(normalized, entry.Embedding)}
	}

	// Stable sort keeps insertion order among equal scores.
	sort.SliceStable(results, func(a, b int) bool {
		return results[a].Score > results[b].Score
	})

	if k > 0 && k < len(results) {
		results = results[:k]
	}
	return results, nil
}

func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// Reset returns a fresh empty index with the same dimensionality. The
// receiver is left untouched so still-running searches against it complete
// safely.
func (ix *Index) Reset() *Index {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return &Index{dim: ix.dim}
}

func normalize(v []float32) ([]float32, error) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return nil, errors.New("cannot normalize zero-magnitude embedding")
	}

	norm := float32(math.Sqrt(sum))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out, nil
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
