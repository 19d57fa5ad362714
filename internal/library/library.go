// Package library implements the in-memory catalog of books.
//
// A Library is safe for concurrent use. Books are stored by id in insertion
// order; every structural change bumps a revision counter that callers use
// to detect staleness (ETags, reloads). Archives backing local books are
// opened lazily and memoised per id.
package library

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/banux/nxt-zim/internal/archive"
	"github.com/banux/nxt-zim/internal/catalog"
	"github.com/banux/nxt-zim/internal/libxml"
)

type entry struct {
	book        catalog.Book
	lastUpdated uint64
}

// Library is the authoritative set of books and bookmarks.
type Library struct {
	// mu guards every field below, including both caches, so that evicting
	// an archive is atomic with removing its book.
	mu        sync.RWMutex
	books     map[string]*entry
	order     []string
	archives  map[string]archive.Archive
	readers   map[string]*archive.Reader
	bookmarks []catalog.Bookmark
	revision  uint64

	open  archive.Opener
	opens singleflight.Group
}

// New returns an empty library. opener is used to open local archives on
// first access; nil selects archive.Open.
func New(opener archive.Opener) *Library {
	if opener == nil {
		opener = archive.Open
	}
	return &Library{
		books:    make(map[string]*entry),
		archives: make(map[string]archive.Archive),
		readers:  make(map[string]*archive.Reader),
		open:     opener,
	}
}

// AddBook inserts b, or merges it into the existing book with the same id.
// It reports whether the book is new. The revision is bumped either way and
// any cached archive for the id is dropped.
func (l *Library) AddBook(b catalog.Book) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.revision++
	l.evictLocked(b.ID)

	if e, ok := l.books[b.ID]; ok {
		e.book.Update(b.Clone())
		e.lastUpdated = l.revision
		return false
	}
	l.books[b.ID] = &entry{book: b.Clone(), lastUpdated: l.revision}
	l.order = append(l.order, b.ID)
	return true
}

// RemoveBookByID deletes the book and its cached archive. It reports
// whether the book was present.
func (l *Library) RemoveBookByID(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.removeLocked(id)
}

func (l *Library) removeLocked(id string) bool {
	if _, ok := l.books[id]; !ok {
		return false
	}
	delete(l.books, id)
	for i, oid := range l.order {
		if oid == id {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	l.evictLocked(id)
	l.revision++
	return true
}

// evictLocked drops cached handles for id. The archive is not closed:
// requests may still be reading from it, and the file handle is released
// once the last reference is gone.
func (l *Library) evictLocked(id string) {
	delete(l.archives, id)
	delete(l.readers, id)
}

// RemoveBooksNotUpdatedSince removes every book whose last update happened
// at or before rev and returns how many were removed.
func (l *Library) RemoveBooksNotUpdatedSince(rev uint64) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	var stale []string
	for _, id := range l.order {
		if l.books[id].lastUpdated <= rev {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		l.removeLocked(id)
	}
	return len(stale)
}

// Revision returns the current revision.
func (l *Library) Revision() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.revision
}

// BookByID returns a copy of the book. catalog.ErrNotFound is returned when
// the id is unknown.
func (l *Library) BookByID(id string) (catalog.Book, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.books[id]
	if !ok {
		return catalog.Book{}, fmt.Errorf("book %q: %w", id, catalog.ErrNotFound)
	}
	return e.book.Clone(), nil
}

// BookByPath returns the book stored at path.
func (l *Library) BookByPath(path string) (catalog.Book, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, id := range l.order {
		if e := l.books[id]; e.book.Path == path {
			return e.book.Clone(), nil
		}
	}
	return catalog.Book{}, fmt.Errorf("book at %q: %w", path, catalog.ErrNotFound)
}

// BookIDs returns every id in insertion order.
func (l *Library) BookIDs() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]string(nil), l.order...)
}

// BookCount counts local books (with a path) and/or remote-only books.
func (l *Library) BookCount(local, remote bool) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, e := range l.books {
		if (local && e.book.IsLocal()) || (remote && !e.book.IsLocal()) {
			n++
		}
	}
	return n
}

// Filter returns the ids of the books accepted by f, in insertion order.
func (l *Library) Filter(f *catalog.Filter) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var ids []string
	for _, id := range l.order {
		if f.Accept(&l.books[id].book) {
			ids = append(ids, id)
		}
	}
	return ids
}

// ArchiveByID returns the open archive of a local book, opening it on
// first use. Concurrent callers for the same id share one open.
func (l *Library) ArchiveByID(id string) (archive.Archive, error) {
	l.mu.RLock()
	if a, ok := l.archives[id]; ok {
		l.mu.RUnlock()
		return a, nil
	}
	e, ok := l.books[id]
	var path string
	if ok {
		path = e.book.Path
	}
	l.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("book %q: %w", id, catalog.ErrNotFound)
	}
	if path == "" {
		return nil, fmt.Errorf("book %q has no local archive: %w", id, catalog.ErrNotFound)
	}

	v, err, _ := l.opens.Do(id, func() (any, error) {
		l.mu.RLock()
		cached, ok := l.archives[id]
		l.mu.RUnlock()
		if ok {
			return cached, nil
		}

		a, err := l.open(path)
		if err != nil {
			return nil, fmt.Errorf("book %q: %w", id, err)
		}

		l.mu.Lock()
		defer l.mu.Unlock()
		if cached, ok := l.archives[id]; ok {
			a.Close()
			return cached, nil
		}
		if e, ok := l.books[id]; !ok || e.book.Path != path {
			a.Close()
			return nil, fmt.Errorf("book %q changed while opening: %w", id, catalog.ErrNotFound)
		}
		l.archives[id] = a
		return a, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(archive.Archive), nil
}

// ReaderByID returns a memoised Reader over the book's archive.
func (l *Library) ReaderByID(id string) (*archive.Reader, error) {
	l.mu.RLock()
	r, ok := l.readers[id]
	l.mu.RUnlock()
	if ok {
		return r, nil
	}

	a, err := l.ArchiveByID(id)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if r, ok := l.readers[id]; ok && r.Archive() == a {
		return r, nil
	}
	r = archive.NewReader(a)
	if l.archives[id] == a {
		l.readers[id] = r
	}
	return r, nil
}

// SortBy selects the field used by Sort.
type SortBy int

const (
	Unsorted SortBy = iota
	SortTitle
	SortSize
	SortDate
	SortCreator
	SortPublisher
)

// Sort orders ids in place by the given book field. The sort is stable;
// unknown ids sort as empty books.
func (l *Library) Sort(ids []string, by SortBy, ascending bool) {
	if by == Unsorted {
		return
	}

	l.mu.RLock()
	snapshot := make(map[string]catalog.Book, len(ids))
	for _, id := range ids {
		if e, ok := l.books[id]; ok {
			snapshot[id] = e.book
		}
	}
	l.mu.RUnlock()

	less := func(a, b catalog.Book) bool {
		switch by {
		case SortTitle:
			return a.Title < b.Title
		case SortSize:
			return a.Size < b.Size
		case SortDate:
			return a.Date < b.Date
		case SortCreator:
			return a.Creator < b.Creator
		case SortPublisher:
			return a.Publisher < b.Publisher
		}
		return false
	}
	sort.SliceStable(ids, func(i, j int) bool {
		a, b := snapshot[ids[i]], snapshot[ids[j]]
		if ascending {
			return less(a, b)
		}
		return less(b, a)
	})
}

func (l *Library) distinct(values func(b *catalog.Book) []string) []string {
	l.mu.RLock()
	set := make(map[string]struct{})
	for _, e := range l.books {
		for _, v := range values(&e.book) {
			if v != "" {
				set[v] = struct{}{}
			}
		}
	}
	l.mu.RUnlock()

	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// BooksLanguages lists the distinct languages over the whole catalog.
func (l *Library) BooksLanguages() []string {
	return l.distinct(func(b *catalog.Book) []string { return b.Languages() })
}

func (l *Library) BooksCategories() []string {
	return l.distinct(func(b *catalog.Book) []string { return []string{b.Category} })
}

func (l *Library) BooksCreators() []string {
	return l.distinct(func(b *catalog.Book) []string { return []string{b.Creator} })
}

func (l *Library) BooksPublishers() []string {
	return l.distinct(func(b *catalog.Book) []string { return []string{b.Publisher} })
}

// LanguageCount pairs a language code with the number of books using it.
type LanguageCount struct {
	Lang  string
	Count int
}

// BooksLanguagesWithCounts counts books per language, sorted by code.
func (l *Library) BooksLanguagesWithCounts() []LanguageCount {
	l.mu.RLock()
	counts := make(map[string]int)
	for _, e := range l.books {
		for _, lang := range e.book.Languages() {
			counts[lang]++
		}
	}
	l.mu.RUnlock()

	out := make([]LanguageCount, 0, len(counts))
	for lang, n := range counts {
		out = append(out, LanguageCount{Lang: lang, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Lang < out[j].Lang })
	return out
}

// AddBookmark appends a bookmark.
func (l *Library) AddBookmark(bm catalog.Bookmark) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.bookmarks = append(l.bookmarks, bm)
}

// RemoveBookmark deletes the first bookmark matching bookID and url.
func (l *Library) RemoveBookmark(bookID, url string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, bm := range l.bookmarks {
		if bm.BookID == bookID && bm.URL == url {
			l.bookmarks = append(l.bookmarks[:i], l.bookmarks[i+1:]...)
			return true
		}
	}
	return false
}

// Bookmarks returns the bookmarks, optionally only those whose book is
// still in the library.
func (l *Library) Bookmarks(onlyValid bool) []catalog.Bookmark {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]catalog.Bookmark, 0, len(l.bookmarks))
	for _, bm := range l.bookmarks {
		if onlyValid {
			if _, ok := l.books[bm.BookID]; !ok {
				continue
			}
		}
		out = append(out, bm)
	}
	return out
}

// Books returns copies of every book in insertion order.
func (l *Library) Books() []catalog.Book {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]catalog.Book, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.books[id].book.Clone())
	}
	return out
}

// WriteToFile saves the library as library.xml. Paths are written relative
// to the file's directory.
func (l *Library) WriteToFile(path string) error {
	books := l.Books()
	return writeAtomic(path, func(f *os.File) error {
		return libxml.EncodeLibrary(f, books, filepath.Dir(path))
	})
}

// WriteBookmarksToFile saves every bookmark as bookmarks.xml.
func (l *Library) WriteBookmarksToFile(path string) error {
	bookmarks := l.Bookmarks(false)
	return writeAtomic(path, func(f *os.File) error {
		return libxml.EncodeBookmarks(f, bookmarks)
	})
}

// writeAtomic writes through a temporary file renamed over path.
func writeAtomic(path string, write func(*os.File) error) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+strings.TrimPrefix(filepath.Base(path), ".")+".*")
	if err != nil {
		return fmt.Errorf("write %q: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("write %q: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write %q: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write %q: %w", path, err)
	}
	return nil
}
