// Package opds implements the Atom based OPDS catalog documents served under
// /catalog: acquisition and navigation feeds, complete entries and the
// OpenSearch description documents.
//
// Specification: https://specs.opds.io/opds-1.2
package opds

import (
	"encoding/xml"
	"strings"
	"time"
)

const (
	// Namespaces
	NSAtom       = "http://www.w3.org/2005/Atom"
	NSOPDS       = "http://opds-spec.org/2010/catalog"
	NSDC         = "http://purl.org/dc/terms/"
	NSOpenSearch = "http://a9.com/-/spec/opensearch/1.1/"
	NSThread     = "http://purl.org/syndication/thread/1.0"

	// OPDS relation types
	RelAcquisitionOpen = "http://opds-spec.org/acquisition/open-access"
	RelThumbnail       = "http://opds-spec.org/image/thumbnail"
	RelSubsection      = "subsection"
	RelAlternate       = "alternate"
	RelSelf            = "self"
	RelStart           = "start"
	RelUp              = "up"
	RelSearch          = "search"
	RelFirst           = "first"
	RelLast            = "last"
	RelNext            = "next"
	RelPrevious        = "previous"

	// MIME types
	MIMEAtom            = "application/atom+xml"
	MIMEAtomEntry       = "application/atom+xml;type=entry;profile=opds-catalog"
	MIMENavigationFeed  = "application/atom+xml;profile=opds-catalog;kind=navigation"
	MIMEAcquisitionFeed = "application/atom+xml;profile=opds-catalog;kind=acquisition"
	MIMEOpenSearchDesc  = "application/opensearchdescription+xml"
	MIMEZim             = "application/x-zim"
	MIMEHTML            = "text/html"
)

// Feed is an OPDS Atom feed (navigation or acquisition).
type Feed struct {
	XMLName   xml.Name `xml:"feed"`
	Xmlns     string   `xml:"xmlns,attr,omitempty"`
	XmlnsDC   string   `xml:"xmlns:dc,attr,omitempty"`
	XmlnsOPDS string   `xml:"xmlns:opds,attr,omitempty"`
	XmlnsThr  string   `xml:"xmlns:thr,attr,omitempty"`

	ID      string   `xml:"id"`
	Title   Text     `xml:"title"`
	Updated AtomDate `xml:"updated"`

	// OpenSearch response elements of search results.
	TotalResults string `xml:"totalResults,omitempty"`
	StartIndex   string `xml:"startIndex,omitempty"`
	ItemsPerPage string `xml:"itemsPerPage,omitempty"`

	Links   []Link  `xml:"link"`
	Entries []Entry `xml:"entry"`
}

func newFeed(id, title string, updated time.Time) *Feed {
	return &Feed{
		Xmlns:     NSAtom,
		XmlnsDC:   NSDC,
		XmlnsOPDS: NSOPDS,
		ID:        id,
		Title:     Text{Value: title},
		Updated:   AtomDate{Time: updated},
	}
}

// Text is an Atom text element with optional type attribute.
type Text struct {
	Type  string `xml:"type,attr,omitempty"`
	Value string `xml:",chardata"`
}

// Person is the author or publisher of an entry.
type Person struct {
	Name string `xml:"name"`
}

// AtomDate wraps time.Time for RFC 3339 XML serialization. Raw keeps the
// text as read, so that dates in other layouts survive decoding.
type AtomDate struct {
	Time time.Time
	Raw  string
}

func (d AtomDate) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	return e.EncodeElement(d.Time.UTC().Format(time.RFC3339), start)
}

func (d *AtomDate) UnmarshalXML(dec *xml.Decoder, start xml.StartElement) error {
	var s string
	if err := dec.DecodeElement(&s, &start); err != nil {
		return err
	}
	d.Raw = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, d.Raw); err == nil {
		d.Time = t
	}
	return nil
}

// Link is an Atom link element.
type Link struct {
	Rel    string `xml:"rel,attr,omitempty"`
	Href   string `xml:"href,attr"`
	Type   string `xml:"type,attr,omitempty"`
	Title  string `xml:"title,attr,omitempty"`
	Length uint64 `xml:"length,attr,omitempty"`
}

// Entry is one book, or one navigation item, in a feed.
type Entry struct {
	XMLName xml.Name `xml:"entry"`

	ID      string   `xml:"id"`
	Title   Text     `xml:"title"`
	Updated AtomDate `xml:"updated"`
	Summary string   `xml:"summary,omitempty"`
	Content *Text    `xml:"content,omitempty"`

	Language     string  `xml:"language,omitempty"`
	Name         string  `xml:"name,omitempty"`
	Flavour      string  `xml:"flavour,omitempty"`
	Category     *string `xml:"category,omitempty"`
	Tags         string  `xml:"tags,omitempty"`
	ArticleCount string  `xml:"articleCount,omitempty"`
	MediaCount   string  `xml:"mediaCount,omitempty"`

	Author    *Person `xml:"author,omitempty"`
	Publisher *Person `xml:"publisher,omitempty"`

	// Issued and DCLanguage are written with the dc prefix.
	Issued     string `xml:"dc:issued,omitempty"`
	DCLanguage string `xml:"dc:language,omitempty"`
	Count      int    `xml:"thr:count,omitempty"`

	Links []Link `xml:"link"`
}

// AddLink appends a link to the feed.
func (f *Feed) AddLink(rel, href, mimeType string) {
	f.Links = append(f.Links, Link{Rel: rel, Href: href, Type: mimeType})
}

// AddEntry appends an entry to the feed.
func (f *Feed) AddEntry(e Entry) {
	f.Entries = append(f.Entries, e)
}

// MarshalToXML serializes the feed with an XML declaration.
func (f *Feed) MarshalToXML() ([]byte, error) {
	return marshal(f)
}

// MarshalToXML serializes a standalone entry document.
func (e *Entry) MarshalToXML() ([]byte, error) {
	doc := struct {
		Entry
		Xmlns     string `xml:"xmlns,attr"`
		XmlnsDC   string `xml:"xmlns:dc,attr"`
		XmlnsOPDS string `xml:"xmlns:opds,attr"`
	}{Entry: *e, Xmlns: NSAtom, XmlnsDC: NSDC, XmlnsOPDS: NSOPDS}
	return marshal(doc)
}

func marshal(v any) ([]byte, error) {
	data, err := xml.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), data...), nil
}

// DecodeFeed parses an Atom feed as produced by a catalog server.
func DecodeFeed(data []byte) (*Feed, error) {
	var f Feed
	if err := xml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}
