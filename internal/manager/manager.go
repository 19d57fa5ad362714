// Package manager loads books into a library: library.xml and bookmark
// files, OPDS feeds from remote catalogs, single archives and directories
// of archives.
package manager

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/banux/nxt-zim/internal/archive"
	"github.com/banux/nxt-zim/internal/catalog"
	"github.com/banux/nxt-zim/internal/library"
	"github.com/banux/nxt-zim/internal/libxml"
	"github.com/banux/nxt-zim/internal/opds"
)

var (
	// ErrFileNotFound is returned when an archive cannot be opened.
	ErrFileNotFound = errors.New("file not found")

	// ErrInvalidMetadata is returned when an archive lacks a title, a
	// language or a date and metadata checking was requested.
	ErrInvalidMetadata = errors.New("invalid metadata")

	// ErrNotWritable is returned when the library cannot be modified or
	// saved.
	ErrNotWritable = errors.New("library not writable")
)

// Observer is notified of changes made through a Manipulator.
type Observer interface {
	BookWasAdded(b catalog.Book)
	BookWasUpdated(b catalog.Book)
	BooksWereRemoved(n int)
}

// LibraryManipulator is the hook every Manager mutation goes through.
type LibraryManipulator interface {
	AddBookToLibrary(b catalog.Book) bool
	AddBookmarkToLibrary(bm catalog.Bookmark)
	RemoveBooksNotUpdatedSince(rev uint64) int
	Library() *library.Library
}

// Manipulator forwards to a Library and notifies observers.
type Manipulator struct {
	lib *library.Library

	mu        sync.RWMutex
	observers []Observer
}

var _ LibraryManipulator = (*Manipulator)(nil)

// NewManipulator wraps lib.
func NewManipulator(lib *library.Library, observers ...Observer) *Manipulator {
	return &Manipulator{lib: lib, observers: observers}
}

// Observe registers o for future notifications.
func (m *Manipulator) Observe(o Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, o)
}

func (m *Manipulator) each(fn func(Observer)) {
	m.mu.RLock()
	observers := append([]Observer(nil), m.observers...)
	m.mu.RUnlock()
	for _, o := range observers {
		fn(o)
	}
}

// AddBookToLibrary adds b. Observers hear BookWasAdded for a new book and
// BookWasUpdated when b was merged into an existing one.
func (m *Manipulator) AddBookToLibrary(b catalog.Book) bool {
	added := m.lib.AddBook(b)
	if added {
		m.each(func(o Observer) { o.BookWasAdded(b) })
	} else {
		m.each(func(o Observer) { o.BookWasUpdated(b) })
	}
	return added
}

func (m *Manipulator) AddBookmarkToLibrary(bm catalog.Bookmark) {
	m.lib.AddBookmark(bm)
}

// RemoveBooksNotUpdatedSince removes stale books; observers hear about it
// only when something was removed.
func (m *Manipulator) RemoveBooksNotUpdatedSince(rev uint64) int {
	n := m.lib.RemoveBooksNotUpdatedSince(rev)
	if n > 0 {
		m.each(func(o Observer) { o.BooksWereRemoved(n) })
	}
	return n
}

func (m *Manipulator) Library() *library.Library { return m.lib }

// Options configures a Manager.
type Options struct {
	// Opener opens archives; nil selects archive.Open.
	Opener archive.Opener

	// ReadOnly refuses to add single archives to the library.
	ReadOnly bool

	Logger zerolog.Logger
}

// Manager reads external documents into a library.
type Manager struct {
	manipulator LibraryManipulator
	open        archive.Opener
	readOnly    bool
	logger      zerolog.Logger

	mu           sync.Mutex
	writablePath string

	// OpenSearch fields of the last feed read by ReadOPDS.
	TotalResults uint64
	StartIndex   uint64
	ItemsPerPage uint64
	HasResults   bool
}

// New returns a Manager feeding m.
func New(m LibraryManipulator, opts Options) *Manager {
	open := opts.Opener
	if open == nil {
		open = archive.Open
	}
	return &Manager{
		manipulator: m,
		open:        open,
		readOnly:    opts.ReadOnly,
		logger:      opts.Logger,
	}
}

// WritableLibraryPath is the library file new books are saved to. It is
// empty until a file has been read with readOnly false.
func (m *Manager) WritableLibraryPath() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writablePath
}

// ReadFile loads a library.xml file. A file read with readOnly false
// becomes the writable library path, even when it does not exist yet.
func (m *Manager) ReadFile(path string, readOnly, trustLibrary bool) error {
	if !readOnly {
		m.mu.Lock()
		m.writablePath = path
		m.mu.Unlock()
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("read library %q: %w", path, err)
	}
	defer f.Close()
	return m.ReadXML(f, readOnly, path, trustLibrary)
}

// ReadXML loads the books of a library document. Relative paths are
// resolved against the directory of libraryPath. Unless trustLibrary is
// set, every local book is re-read from its archive; a book whose archive
// fails to open is kept but marked invalid.
func (m *Manager) ReadXML(r io.Reader, readOnly bool, libraryPath string, trustLibrary bool) error {
	doc, err := libxml.DecodeLibrary(r)
	if err != nil {
		return err
	}
	baseDir := ""
	if libraryPath != "" {
		baseDir = filepath.Dir(libraryPath)
	}

	for _, node := range doc.Books {
		b := node.Book()
		b.ReadOnly = readOnly
		if b.Path != "" {
			b.Path = absolutePath(baseDir, b.Path)
			b.PathValid = fileExists(b.Path)
		}

		if !trustLibrary && b.Path != "" {
			m.readBookFromPath(&b)
		}
		m.manipulator.AddBookToLibrary(b)
	}
	return nil
}

// readBookFromPath refreshes b from its archive, marking it invalid on
// failure.
func (m *Manager) readBookFromPath(b *catalog.Book) {
	a, err := m.open(b.Path)
	if err != nil {
		m.logger.Warn().Err(err).Str("path", b.Path).Str("book", b.ID).Msg("cannot open archive")
		b.PathValid = false
		return
	}
	defer a.Close()

	readOnly := b.ReadOnly
	b.UpdateFromArchive(a)
	b.ReadOnly = readOnly
}

// ReadOPDS loads remote books from an OPDS acquisition feed. urlHost
// prefixes the thumbnail links, which are relative in catalog feeds.
func (m *Manager) ReadOPDS(r io.Reader, urlHost string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read opds: %w", err)
	}
	feed, err := opds.DecodeFeed(bytes.TrimSpace(data))
	if err != nil {
		return fmt.Errorf("decode opds: %w", err)
	}

	m.mu.Lock()
	m.TotalResults = parseUint(feed.TotalResults)
	m.StartIndex = parseUint(feed.StartIndex)
	m.ItemsPerPage = parseUint(feed.ItemsPerPage)
	m.HasResults = feed.TotalResults != ""
	m.mu.Unlock()

	for _, e := range feed.Entries {
		m.manipulator.AddBookToLibrary(bookFromEntry(e, urlHost))
	}
	return nil
}

func bookFromEntry(e opds.Entry, urlHost string) catalog.Book {
	b := catalog.Book{
		ID:           strings.TrimPrefix(strings.TrimSpace(e.ID), "urn:uuid:"),
		Title:        e.Title.Value,
		Description:  e.Summary,
		Language:     e.Language,
		Name:         e.Name,
		Flavour:      e.Flavour,
		Tags:         e.Tags,
		ArticleCount: parseUint(e.ArticleCount),
		MediaCount:   parseUint(e.MediaCount),
	}
	if raw := e.Updated.Raw; len(raw) >= 10 {
		b.Date = raw[:10]
	} else {
		b.Date = raw
	}
	if e.Author != nil {
		b.Creator = e.Author.Name
	}
	if e.Publisher != nil {
		b.Publisher = e.Publisher.Name
	}
	if e.Category != nil {
		b.Category = *e.Category
	} else {
		b.Category = b.CategoryFromTags()
	}

	for _, l := range e.Links {
		switch l.Rel {
		case opds.RelAcquisitionOpen:
			b.URL = l.Href
			b.Size = l.Length
		case opds.RelThumbnail:
			mimeType, _, _ := strings.Cut(l.Type, ";")
			b.Illustrations = []catalog.Illustration{{
				Width:    opds.DefaultIllustrationSize,
				Height:   opds.DefaultIllustrationSize,
				MimeType: mimeType,
				URL:      urlHost + l.Href,
			}}
		}
	}
	return b
}

// ReadBookmarkFile loads a bookmarks.xml file.
func (m *Manager) ReadBookmarkFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("read bookmarks %q: %w", path, err)
	}
	defer f.Close()

	doc, err := libxml.DecodeBookmarks(f)
	if err != nil {
		return err
	}
	for _, node := range doc.Bookmarks {
		m.manipulator.AddBookmarkToLibrary(node.Bookmark())
	}
	return nil
}

// AddBookFromPathAndGetID opens the archive at pathToOpen and adds it to
// the library, returning its id. The book records pathToSave (resolved
// against the writable library directory when relative) and url when they
// are set.
func (m *Manager) AddBookFromPathAndGetID(pathToOpen, pathToSave, url string, checkMetaData bool) (string, error) {
	if m.readOnly {
		return "", fmt.Errorf("add %q: %w", pathToOpen, ErrNotWritable)
	}

	abs, err := filepath.Abs(pathToOpen)
	if err != nil {
		return "", fmt.Errorf("add %q: %w", pathToOpen, ErrFileNotFound)
	}
	a, err := m.open(abs)
	if err != nil {
		return "", fmt.Errorf("add %q: %w: %v", pathToOpen, ErrFileNotFound, err)
	}
	var b catalog.Book
	b.UpdateFromArchive(a)
	a.Close()

	if pathToSave != "" && pathToSave != pathToOpen {
		base := ""
		if wp := m.WritableLibraryPath(); wp != "" {
			base = filepath.Dir(wp)
		}
		b.Path = absolutePath(base, pathToSave)
	}

	if checkMetaData && (b.Title == "" || b.Language == "" || b.Date == "") {
		return "", fmt.Errorf("add %q: %w", pathToOpen, ErrInvalidMetadata)
	}

	b.URL = url
	m.manipulator.AddBookToLibrary(b)
	return b.ID, nil
}

// Reload re-reads the given library files, then runs each loader, and
// drops every book none of them touched. Nothing is dropped when a file or
// a loader fails.
func (m *Manager) Reload(paths []string, loaders ...func() error) error {
	rev := m.manipulator.Library().Revision()
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := m.ReadFile(p, true, true); err != nil {
			return err
		}
	}
	for _, load := range loaders {
		if err := load(); err != nil {
			return err
		}
	}
	if n := m.manipulator.RemoveBooksNotUpdatedSince(rev); n > 0 {
		m.logger.Info().Int("removed", n).Msg("stale books removed")
	}
	return nil
}

// Save writes the library to the writable library path.
func (m *Manager) Save() error {
	path := m.WritableLibraryPath()
	if path == "" {
		return ErrNotWritable
	}
	return m.manipulator.Library().WriteToFile(path)
}

func absolutePath(baseDir, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	if baseDir == "" {
		if abs, err := filepath.Abs(p); err == nil {
			return abs
		}
		return p
	}
	return filepath.Join(baseDir, p)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func parseUint(s string) uint64 {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return n
}
