// Package catalog provides the catalog data types for nxt-zim: the Book
// record describing one archive, its illustrations, bookmarks and the Filter
// predicate used to select books.
package catalog

import (
	"errors"
	"sort"
	"strings"

	"github.com/banux/nxt-zim/internal/archive"
)

// ErrNotFound is returned by lookups of absent books, names, tags or
// illustrations.
var ErrNotFound = errors.New("not found")

// Illustration is one image variant attached to a book.
type Illustration struct {
	Width    uint
	Height   uint
	MimeType string

	// URL is set for remote books whose image lives elsewhere.
	URL string

	// Data holds the image bytes for local books.
	Data []byte
}

// Book describes one archive of the library.
type Book struct {
	// ID is the archive identifier, stable across reloads.
	ID string

	// Path is the local archive location. Empty means remote-only.
	Path string

	// PathValid is true when Path resolves to an openable archive.
	PathValid bool

	// ReadOnly books come from read-only library files and resist merges
	// from writable sources.
	ReadOnly bool

	Title       string
	Description string

	// Language is a comma separated list of ISO-639-3 codes.
	Language string

	Creator   string
	Publisher string
	Date      string

	// URL is the download location. Empty means not downloadable.
	URL string

	Name     string
	Flavour  string
	Category string

	// Tags is the ";" separated tag list, including "_key:value" pseudo-tags.
	Tags string

	OrigID     string
	DownloadID string

	ArticleCount uint64
	MediaCount   uint64

	// Size is the archive size in bytes.
	Size uint64

	Illustrations []Illustration
}

// IsLocal reports whether the book has a local path.
func (b *Book) IsLocal() bool { return b.Path != "" }

// IsRemote reports whether the book can be downloaded.
func (b *Book) IsRemote() bool { return b.URL != "" }

// IsValid reports whether the local path points to an openable archive.
func (b *Book) IsValid() bool { return b.PathValid }

// Languages splits the comma separated language list.
func (b *Book) Languages() []string {
	var out []string
	for _, l := range strings.Split(b.Language, ",") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

// Update merges other into b. Incoming non-empty values replace existing
// ones, empty incoming values never erase existing data. It is a no-op
// returning false when the ids differ, or when b is read-only and other is
// not.
func (b *Book) Update(other Book) bool {
	if b.ID != other.ID {
		return false
	}
	if b.ReadOnly && !other.ReadOnly {
		return false
	}

	b.ReadOnly = b.ReadOnly || other.ReadOnly
	if other.Path != "" {
		b.Path = other.Path
		b.PathValid = other.PathValid
	} else {
		b.PathValid = b.PathValid || other.PathValid
	}

	mergeString(&b.Title, other.Title)
	mergeString(&b.Description, other.Description)
	mergeString(&b.Language, other.Language)
	mergeString(&b.Creator, other.Creator)
	mergeString(&b.Publisher, other.Publisher)
	mergeString(&b.Date, other.Date)
	mergeString(&b.URL, other.URL)
	mergeString(&b.Name, other.Name)
	mergeString(&b.Flavour, other.Flavour)
	mergeString(&b.Category, other.Category)
	mergeString(&b.Tags, other.Tags)
	mergeString(&b.OrigID, other.OrigID)
	mergeString(&b.DownloadID, other.DownloadID)

	if other.ArticleCount != 0 {
		b.ArticleCount = other.ArticleCount
	}
	if other.MediaCount != 0 {
		b.MediaCount = other.MediaCount
	}
	if other.Size != 0 {
		b.Size = other.Size
	}
	if len(other.Illustrations) > 0 {
		b.Illustrations = cloneIllustrations(other.Illustrations)
	}
	return true
}

func mergeString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// UpdateFromArchive fills every metadata field from an open archive. Absent
// metadata keys leave the field empty.
func (b *Book) UpdateFromArchive(a archive.Archive) {
	meta := func(key string) string {
		v, err := a.Metadata(key)
		if err != nil {
			return ""
		}
		return strings.TrimSpace(v)
	}

	b.Path = a.Filename()
	b.PathValid = true
	b.ID = a.UUID()
	b.Title = archive.NewReader(a).Title()
	b.Description = meta("Description")
	b.Language = meta("Language")
	b.Creator = meta("Creator")
	b.Publisher = meta("Publisher")
	b.Date = meta("Date")
	b.Name = meta("Name")
	b.Flavour = meta("Flavour")
	b.Tags = strings.Join(ConvertTags(meta("Tags")), ";")
	b.Category = b.CategoryFromTags()
	b.ArticleCount = a.ArticleCount()
	b.MediaCount = a.MediaCount()
	b.Size = uint64(a.FileSize())

	b.Illustrations = nil
	for _, size := range a.IllustrationSizes() {
		data, mimeType, err := a.Illustration(size)
		if err != nil {
			continue
		}
		b.Illustrations = append(b.Illustrations, Illustration{
			Width:    size,
			Height:   size,
			MimeType: mimeType,
			Data:     data,
		})
	}
}

// Illustration returns the variant of the given size, else the smallest
// larger one, else the largest available. ErrNotFound is returned only when
// the book has no illustration at all.
func (b *Book) Illustration(size uint) (Illustration, error) {
	if len(b.Illustrations) == 0 {
		return Illustration{}, ErrNotFound
	}
	ills := cloneIllustrations(b.Illustrations)
	sort.SliceStable(ills, func(i, j int) bool { return ills[i].Width < ills[j].Width })
	for _, ill := range ills {
		if ill.Width >= size {
			return ill, nil
		}
	}
	return ills[len(ills)-1], nil
}

// Clone returns a deep copy safe to hand out of a lock.
func (b Book) Clone() Book {
	b.Illustrations = cloneIllustrations(b.Illustrations)
	return b
}

func cloneIllustrations(in []Illustration) []Illustration {
	if in == nil {
		return nil
	}
	out := make([]Illustration, len(in))
	copy(out, in)
	return out
}
