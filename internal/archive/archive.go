// Package archive defines the narrow interface through which the rest of
// nxt-zim reads content packages, plus a zip-backed implementation laid out
// like a ZIM file (metadata under M/, content under C/, service files under W/
// and X/).
package archive

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	// ErrEntryNotFound is returned when a path or title does not resolve to an entry.
	ErrEntryNotFound = errors.New("entry not found")

	// ErrMetadataNotFound is returned when a metadata key is absent.
	ErrMetadataNotFound = errors.New("metadata not found")

	// ErrUnsupportedFormat is returned by Open for unknown file extensions.
	ErrUnsupportedFormat = errors.New("unsupported archive format")
)

// Entry describes one item of an archive.
type Entry struct {
	// Path is the entry path relative to the content namespace.
	Path string

	// Title is the human readable title (defaults to the base name of Path).
	Title string

	// MimeType is the media type of the entry content.
	MimeType string

	// Redirect is the target path when the entry is a redirect, empty otherwise.
	Redirect string

	// Size is the uncompressed size of the content in bytes.
	Size int64
}

// IsRedirect reports whether the entry points to another entry.
func (e Entry) IsRedirect() bool { return e.Redirect != "" }

// IsArticle reports whether the entry is a front HTML article.
func (e Entry) IsArticle() bool {
	return !e.IsRedirect() && strings.HasPrefix(e.MimeType, "text/html")
}

// Archive is the read-only view of a content package.
type Archive interface {
	// Filename returns the path the archive was opened from.
	Filename() string

	// UUID returns the archive identifier.
	UUID() string

	// Metadata returns the value of a metadata key or ErrMetadataNotFound.
	Metadata(key string) (string, error)

	// MetadataKeys lists the available metadata keys in sorted order.
	MetadataKeys() []string

	// EntryByPath looks up an entry without following redirects.
	EntryByPath(path string) (Entry, error)

	// EntryByTitle looks up the first entry carrying the given title.
	EntryByTitle(title string) (Entry, error)

	// Entries returns every content entry in path order.
	Entries() []Entry

	// ReadEntry returns the content of a non-redirect entry.
	ReadEntry(path string) ([]byte, error)

	// MainEntry returns the entry the archive declares as its main page.
	MainEntry() (Entry, error)

	// RandomEntry picks a random article.
	RandomEntry() (Entry, error)

	// HasFulltextIndex reports whether the archive ships a full-text index.
	HasFulltextIndex() bool

	// IllustrationSizes lists the square illustration sizes available.
	IllustrationSizes() []uint

	// Illustration returns the image data and mime type for a size.
	Illustration(size uint) ([]byte, string, error)

	// ArticleCount is the number of front articles.
	ArticleCount() uint64

	// MediaCount is the number of media (non HTML) entries.
	MediaCount() uint64

	// FileSize is the on-disk size of the archive in bytes.
	FileSize() int64

	// HasChecksum reports whether Check can verify integrity.
	HasChecksum() bool

	// Check verifies the integrity of every entry.
	Check() bool

	Close() error
}

// Opener opens an archive from a filesystem path.
type Opener func(path string) (Archive, error)

// Open dispatches on the file extension. Files ending in .zim* or .zip are
// read as zip packages.
func Open(path string) (Archive, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case strings.HasPrefix(ext, ".zim"), ext == ".zip":
		return OpenZip(path)
	default:
		return nil, fmt.Errorf("open %q: %w", path, ErrUnsupportedFormat)
	}
}

// IsArchivePath reports whether Open knows how to read path.
func IsArchivePath(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return strings.HasPrefix(ext, ".zim") || ext == ".zip"
}
