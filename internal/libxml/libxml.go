// Package libxml reads and writes the library.xml and bookmarks.xml
// documents describing a library on disk.
package libxml

import (
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"path/filepath"
	"strconv"

	"github.com/banux/nxt-zim/internal/catalog"
)

// LibraryVersion is written in the version attribute of new documents.
const LibraryVersion = "20110515"

// faviconSize is the illustration size stored in the favicon attributes.
const faviconSize = 48

// Library is the root element of library.xml.
type Library struct {
	XMLName xml.Name   `xml:"library"`
	Version string     `xml:"version,attr,omitempty"`
	Books   []BookNode `xml:"book"`
}

// BookNode is a <book> element; every field is an attribute.
type BookNode struct {
	ID              string `xml:"id,attr"`
	Path            string `xml:"path,attr,omitempty"`
	URL             string `xml:"url,attr,omitempty"`
	Title           string `xml:"title,attr,omitempty"`
	Name            string `xml:"name,attr,omitempty"`
	Flavour         string `xml:"flavour,attr,omitempty"`
	Description     string `xml:"description,attr,omitempty"`
	Language        string `xml:"language,attr,omitempty"`
	Creator         string `xml:"creator,attr,omitempty"`
	Publisher       string `xml:"publisher,attr,omitempty"`
	Date            string `xml:"date,attr,omitempty"`
	Tags            string `xml:"tags,attr,omitempty"`
	Category        string `xml:"category,attr,omitempty"`
	OrigID          string `xml:"origId,attr,omitempty"`
	ArticleCount    string `xml:"articleCount,attr,omitempty"`
	MediaCount      string `xml:"mediaCount,attr,omitempty"`
	Size            string `xml:"size,attr,omitempty"`
	Favicon         string `xml:"favicon,attr,omitempty"`
	FaviconMimeType string `xml:"faviconMimeType,attr,omitempty"`
	FaviconURL      string `xml:"faviconUrl,attr,omitempty"`
	DownloadID      string `xml:"downloadId,attr,omitempty"`
}

// Book converts the node to a Book. Path is copied verbatim; resolving it
// against the library location is left to the caller. Size is stored in
// KiB in the document.
func (n BookNode) Book() catalog.Book {
	b := catalog.Book{
		ID:           n.ID,
		Path:         n.Path,
		URL:          n.URL,
		Title:        n.Title,
		Name:         n.Name,
		Flavour:      n.Flavour,
		Description:  n.Description,
		Language:     n.Language,
		Creator:      n.Creator,
		Publisher:    n.Publisher,
		Date:         n.Date,
		Tags:         n.Tags,
		Category:     n.Category,
		OrigID:       n.OrigID,
		DownloadID:   n.DownloadID,
		ArticleCount: parseUint(n.ArticleCount),
		MediaCount:   parseUint(n.MediaCount),
		Size:         parseUint(n.Size) << 10,
	}
	if b.Category == "" {
		b.Category = b.CategoryFromTags()
	}

	if n.Favicon != "" || n.FaviconURL != "" {
		ill := catalog.Illustration{
			Width:    faviconSize,
			Height:   faviconSize,
			MimeType: n.FaviconMimeType,
			URL:      n.FaviconURL,
		}
		if n.Favicon != "" {
			if data, err := base64.StdEncoding.DecodeString(n.Favicon); err == nil {
				ill.Data = data
			}
		}
		b.Illustrations = []catalog.Illustration{ill}
	}
	return b
}

// NodeFromBook converts a book for writing. Local paths are made relative
// to baseDir when possible.
func NodeFromBook(b catalog.Book, baseDir string) BookNode {
	n := BookNode{
		ID:          b.ID,
		URL:         b.URL,
		Title:       b.Title,
		Name:        b.Name,
		Flavour:     b.Flavour,
		Description: b.Description,
		Language:    b.Language,
		Creator:     b.Creator,
		Publisher:   b.Publisher,
		Date:        b.Date,
		Tags:        b.Tags,
		Category:    b.Category,
		OrigID:      b.OrigID,
		DownloadID:  b.DownloadID,
	}
	if b.Path != "" {
		n.Path = b.Path
		if baseDir != "" {
			if rel, err := filepath.Rel(baseDir, b.Path); err == nil {
				n.Path = rel
			}
		}
	}
	if b.ArticleCount != 0 {
		n.ArticleCount = strconv.FormatUint(b.ArticleCount, 10)
	}
	if b.MediaCount != 0 {
		n.MediaCount = strconv.FormatUint(b.MediaCount, 10)
	}
	if b.Size != 0 {
		n.Size = strconv.FormatUint(b.Size>>10, 10)
	}
	for _, ill := range b.Illustrations {
		if ill.Width != faviconSize {
			continue
		}
		n.FaviconMimeType = ill.MimeType
		n.FaviconURL = ill.URL
		if len(ill.Data) > 0 {
			n.Favicon = base64.StdEncoding.EncodeToString(ill.Data)
		}
		break
	}
	return n
}

// DecodeLibrary parses a library document.
func DecodeLibrary(r io.Reader) (*Library, error) {
	var lib Library
	if err := xml.NewDecoder(r).Decode(&lib); err != nil {
		return nil, fmt.Errorf("decode library: %w", err)
	}
	return &lib, nil
}

// EncodeLibrary writes books as a library document.
func EncodeLibrary(w io.Writer, books []catalog.Book, baseDir string) error {
	doc := Library{Version: LibraryVersion}
	for _, b := range books {
		doc.Books = append(doc.Books, NodeFromBook(b, baseDir))
	}
	return encode(w, doc)
}

// Bookmarks is the root element of bookmarks.xml.
type Bookmarks struct {
	XMLName   xml.Name       `xml:"bookmarks"`
	Bookmarks []BookmarkNode `xml:"bookmark"`
}

// BookmarkNode is a <bookmark> element.
type BookmarkNode struct {
	Book struct {
		ID       string `xml:"id"`
		Title    string `xml:"title"`
		Name     string `xml:"name,omitempty"`
		Flavour  string `xml:"flavour,omitempty"`
		Language string `xml:"language"`
		Date     string `xml:"date"`
	} `xml:"book"`
	Title string `xml:"title"`
	URL   string `xml:"url"`
}

// Bookmark converts the node.
func (n BookmarkNode) Bookmark() catalog.Bookmark {
	return catalog.Bookmark{
		BookID:      n.Book.ID,
		BookTitle:   n.Book.Title,
		BookName:    n.Book.Name,
		BookFlavour: n.Book.Flavour,
		Language:    n.Book.Language,
		Date:        n.Book.Date,
		Title:       n.Title,
		URL:         n.URL,
	}
}

// DecodeBookmarks parses a bookmarks document.
func DecodeBookmarks(r io.Reader) (*Bookmarks, error) {
	var doc Bookmarks
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode bookmarks: %w", err)
	}
	return &doc, nil
}

// EncodeBookmarks writes a bookmarks document.
func EncodeBookmarks(w io.Writer, bookmarks []catalog.Bookmark) error {
	var doc Bookmarks
	for _, bm := range bookmarks {
		var n BookmarkNode
		n.Book.ID = bm.BookID
		n.Book.Title = bm.BookTitle
		n.Book.Name = bm.BookName
		n.Book.Flavour = bm.BookFlavour
		n.Book.Language = bm.Language
		n.Book.Date = bm.Date
		n.Title = bm.Title
		n.URL = bm.URL
		doc.Bookmarks = append(doc.Bookmarks, n)
	}
	return encode(w, doc)
}

func encode(w io.Writer, doc any) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode xml: %w", err)
	}
	_, err := io.WriteString(w, "\n")
	return err
}

func parseUint(s string) uint64 {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
