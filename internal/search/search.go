// Package search runs full-text searches and title suggestions over the
// articles of one or more archives, and caches the searchers built for
// them.
package search

import (
	"slices"
	"strings"
	"sync"
)

// Query is what the user asked for.
type Query struct {
	Pattern string
}

// Hit is one matching article.
type Hit struct {
	BookID    string
	Path      string
	Title     string
	Snippet   string
	Score     float64
	WordCount int
}

// Results is one page of hits.
type Results struct {
	// Estimated is the total number of matches, not only this page.
	Estimated uint64
	Hits      []Hit
}

// Searcher runs queries.
type Searcher interface {
	Search(q Query, start, count int) (*Results, error)
}

// Info identifies a search: the pattern and the set of books it runs over.
// The book ids are kept sorted so that equal searches share a Key.
type Info struct {
	Pattern string
	BookIDs []string
}

// NewInfo copies and sorts ids.
func NewInfo(pattern string, ids []string) Info {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	return Info{Pattern: pattern, BookIDs: slices.Compact(sorted)}
}

// Query returns the engine query of the search.
func (i Info) Query() Query { return Query{Pattern: i.Pattern} }

// BooksKey identifies the book set alone, for searcher caches.
func (i Info) BooksKey() string { return strings.Join(i.BookIDs, ",") }

// Key identifies the whole search, for result caches.
func (i Info) Key() string { return i.BooksKey() + "\x00" + i.Pattern }

// Equal reports whether both searches are the same.
func (i Info) Equal(o Info) bool {
	return i.Pattern == o.Pattern && slices.Equal(i.BookIDs, o.BookIDs)
}

// Locked serialises access to a value that is not safe for concurrent
// use.
type Locked[T any] struct {
	mu sync.Mutex
	v  T
}

// NewLocked wraps v.
func NewLocked[T any](v T) *Locked[T] {
	return &Locked[T]{v: v}
}

// Do runs fn with the lock held.
func (l *Locked[T]) Do(fn func(v T) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fn(l.v)
}
