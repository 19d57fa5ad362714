package archive

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// maxRedirects bounds redirect chains so a cycle cannot loop forever.
const maxRedirects = 50

// ErrRedirectLoop is returned when a redirect chain does not terminate.
var ErrRedirectLoop = errors.New("redirect loop")

// Reader adds the lookups the HTTP layer needs on top of an Archive.
type Reader struct {
	archive Archive
}

// NewReader wraps an open archive.
func NewReader(a Archive) *Reader {
	return &Reader{archive: a}
}

// Archive returns the wrapped archive.
func (r *Reader) Archive() Archive { return r.archive }

// Title returns the Title metadata, falling back to the file name.
func (r *Reader) Title() string {
	if t, err := r.archive.Metadata("Title"); err == nil && strings.TrimSpace(t) != "" {
		return t
	}
	base := filepath.Base(r.archive.Filename())
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Language returns the Language metadata or "".
func (r *Reader) Language() string {
	l, _ := r.archive.Metadata("Language")
	return l
}

// MainPage resolves the main entry, following redirects.
func (r *Reader) MainPage() (Entry, error) {
	e, err := r.archive.MainEntry()
	if err != nil {
		return Entry{}, err
	}
	return r.follow(e)
}

// RandomPage returns a random article.
func (r *Reader) RandomPage() (Entry, error) {
	return r.archive.RandomEntry()
}

// EntryFromPath looks up path and follows redirects to the final entry.
func (r *Reader) EntryFromPath(path string) (Entry, error) {
	e, err := r.archive.EntryByPath(path)
	if err != nil {
		return Entry{}, err
	}
	return r.follow(e)
}

// EntryFromTitle looks up an entry by title and follows redirects.
func (r *Reader) EntryFromTitle(title string) (Entry, error) {
	e, err := r.archive.EntryByTitle(title)
	if err != nil {
		return Entry{}, err
	}
	return r.follow(e)
}

func (r *Reader) follow(e Entry) (Entry, error) {
	for i := 0; e.IsRedirect(); i++ {
		if i >= maxRedirects {
			return Entry{}, fmt.Errorf("%q: %w", e.Path, ErrRedirectLoop)
		}
		next, err := r.archive.EntryByPath(e.Redirect)
		if err != nil {
			return Entry{}, err
		}
		e = next
	}
	return e, nil
}

// HasFulltextIndex reports whether the archive can serve full-text search.
func (r *Reader) HasFulltextIndex() bool { return r.archive.HasFulltextIndex() }
