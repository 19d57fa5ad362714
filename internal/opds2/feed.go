// Package opds2 renders library books as OPDS Catalog 2.0 JSON feeds.
//
// Specification: https://drafts.opds.io/opds-2.0
package opds2

import (
	"fmt"
	"io"
	"net/url"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/banux/nxt-zim/internal/catalog"
)

const (
	MIMEFeed = "application/opds+json"
	MIMEZim  = "application/x-zim"
)

// Feed is the root object of an OPDS 2.0 feed.
type Feed struct {
	Metadata     FeedMetadata  `json:"metadata"`
	Links        []Link        `json:"links"`
	Navigation   []NavItem     `json:"navigation,omitempty"`
	Publications []Publication `json:"publications,omitempty"`
}

type FeedMetadata struct {
	Title         string `json:"title"`
	NumberOfItems int    `json:"numberOfItems"`
	ItemsPerPage  int    `json:"itemsPerPage,omitempty"`
	CurrentPage   int    `json:"currentPage,omitempty"`
}

// Link is a feed or publication link. Rel holds a string or a []string.
type Link struct {
	Rel       interface{} `json:"rel,omitempty"`
	Href      string      `json:"href"`
	Type      string      `json:"type,omitempty"`
	Title     string      `json:"title,omitempty"`
	Templated bool        `json:"templated,omitempty"`
	Length    uint64      `json:"length,omitempty"`
	Width     uint        `json:"width,omitempty"`
	Height    uint        `json:"height,omitempty"`
}

type NavItem struct {
	Title string `json:"title"`
	Href  string `json:"href"`
	Type  string `json:"type,omitempty"`
	Rel   string `json:"rel,omitempty"`
}

// Publication is one book.
type Publication struct {
	Metadata PubMetadata `json:"metadata"`
	Links    []Link      `json:"links"`
	Images   []Link      `json:"images,omitempty"`
}

type PubMetadata struct {
	Type          string       `json:"@type,omitempty"`
	Identifier    string       `json:"identifier"`
	Title         string       `json:"title"`
	Author        *Contributor `json:"author,omitempty"`
	Publisher     *Contributor `json:"publisher,omitempty"`
	Language      []string     `json:"language,omitempty"`
	Description   string       `json:"description,omitempty"`
	Subject       []Subject    `json:"subject,omitempty"`
	Published     string       `json:"published,omitempty"`
	NumberOfPages uint64       `json:"numberOfPages,omitempty"`
	Name          string       `json:"name,omitempty"`
	Flavour       string       `json:"flavour,omitempty"`
	MediaCount    uint64       `json:"mediaCount,omitempty"`
}

type Contributor struct {
	Name string `json:"name"`
}

// Subject is a category or a tag.
type Subject struct {
	Name   string `json:"name"`
	Scheme string `json:"scheme,omitempty"`
}

// PublicationFromBook describes b. root prefixes every URL; contentName is
// the URL name under which a local book is served, empty when it is not.
func PublicationFromBook(b catalog.Book, root, contentName string) Publication {
	pub := Publication{
		Metadata: PubMetadata{
			Type:          "http://schema.org/Book",
			Identifier:    "urn:uuid:" + b.ID,
			Title:         b.Title,
			Language:      b.Languages(),
			Description:   b.Description,
			Published:     b.Date,
			NumberOfPages: b.ArticleCount,
			Name:          b.Name,
			Flavour:       b.Flavour,
			MediaCount:    b.MediaCount,
		},
		Links: []Link{},
	}
	if b.Creator != "" {
		pub.Metadata.Author = &Contributor{Name: b.Creator}
	}
	if b.Publisher != "" {
		pub.Metadata.Publisher = &Contributor{Name: b.Publisher}
	}
	if b.Category != "" {
		pub.Metadata.Subject = append(pub.Metadata.Subject, Subject{Name: b.Category, Scheme: "category"})
	}
	for _, tag := range catalog.ConvertTags(b.Tags) {
		pub.Metadata.Subject = append(pub.Metadata.Subject, Subject{Name: tag, Scheme: "tag"})
	}

	if contentName != "" {
		pub.Links = append(pub.Links, Link{
			Rel:  "alternate",
			Href: root + "/content/" + url.PathEscape(contentName),
			Type: "text/html",
		})
	}
	if b.URL != "" {
		pub.Links = append(pub.Links, Link{
			Rel:    "http://opds-spec.org/acquisition/open-access",
			Href:   b.URL,
			Type:   MIMEZim,
			Length: b.Size,
		})
	}
	for _, ill := range b.Illustrations {
		pub.Images = append(pub.Images, Link{
			Href:   root + "/catalog/v2/illustration/" + b.ID + "/?size=" + strconv.FormatUint(uint64(ill.Width), 10),
			Type:   ill.MimeType,
			Width:  ill.Width,
			Height: ill.Height,
		})
	}
	return pub
}

// NewFeed builds an acquisition feed. self is the URL of the feed; total
// is the number of matching books, not only those of this page.
func NewFeed(title, self string, pubs []Publication, total, start, count int) *Feed {
	f := &Feed{
		Metadata: FeedMetadata{
			Title:         title,
			NumberOfItems: total,
			ItemsPerPage:  count,
		},
		Links:        []Link{{Rel: "self", Href: self, Type: MIMEFeed}},
		Publications: pubs,
	}
	if count > 0 {
		f.Metadata.CurrentPage = start/count + 1
	}
	return f
}

// AddPaginationLinks adds first/previous/next links. pageURL renders the
// URL of the page starting at the given offset.
func (f *Feed) AddPaginationLinks(start, count, total int, pageURL func(start int) string) {
	if count <= 0 || total <= count {
		return
	}
	f.Links = append(f.Links, Link{Rel: "first", Href: pageURL(0), Type: MIMEFeed})
	if start > 0 {
		f.Links = append(f.Links, Link{Rel: "previous", Href: pageURL(max(start-count, 0)), Type: MIMEFeed})
	}
	if start+count < total {
		f.Links = append(f.Links, Link{Rel: "next", Href: pageURL(start + count), Type: MIMEFeed})
	}
}

// Encode writes f as indented JSON.
func Encode(w io.Writer, f *Feed) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(f); err != nil {
		return fmt.Errorf("encode opds2 feed: %w", err)
	}
	return nil
}

// Decode parses a feed.
func Decode(r io.Reader) (*Feed, error) {
	var f Feed
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("decode opds2 feed: %w", err)
	}
	return &f, nil
}
