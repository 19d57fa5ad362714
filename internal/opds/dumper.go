package opds

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/banux/nxt-zim/internal/catalog"
	"github.com/banux/nxt-zim/internal/library"
	"github.com/banux/nxt-zim/internal/namemapper"
)

// DefaultIllustrationSize is the thumbnail size linked from entries.
const DefaultIllustrationSize = 48

// SearchInfo describes the page of results a feed holds.
type SearchInfo struct {
	Total int
	Start int
	Count int
}

// Dumper renders library books as OPDS documents. Every URL it writes is
// prefixed with Root.
type Dumper struct {
	Library   *library.Library
	Mapper    namemapper.NameMapper
	Root      string
	LibraryID string

	// Now stamps the feeds; nil means time.Now.
	Now func() time.Time
}

func (d *Dumper) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// FeedID derives a stable feed id from the library id and a suffix.
func (d *Dumper) FeedID(suffix string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(d.LibraryID+suffix)).String()
}

func (d *Dumper) v2(path string) string { return d.Root + "/catalog/v2/" + path }

// bookDate turns a book date into an Atom timestamp.
func bookDate(date string) AtomDate {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return AtomDate{}
	}
	return AtomDate{Time: t}
}

// BookEntry renders the complete entry of one book.
func (d *Dumper) BookEntry(b catalog.Book) Entry {
	e := Entry{
		ID:           "urn:uuid:" + b.ID,
		Title:        Text{Value: b.Title},
		Updated:      bookDate(b.Date),
		Summary:      b.Description,
		Language:     b.Language,
		Name:         b.Name,
		Flavour:      b.Flavour,
		Category:     &b.Category,
		Tags:         b.Tags,
		ArticleCount: strconv.FormatUint(b.ArticleCount, 10),
		MediaCount:   strconv.FormatUint(b.MediaCount, 10),
		Author:       &Person{Name: b.Creator},
		Publisher:    &Person{Name: b.Publisher},
		Issued:       b.Date,
	}

	if ill, err := b.Illustration(DefaultIllustrationSize); err == nil {
		e.Links = append(e.Links, Link{
			Rel:  RelThumbnail,
			Href: fmt.Sprintf("%s?size=%d", d.v2("illustration/"+b.ID+"/"), ill.Width),
			Type: fmt.Sprintf("%s;width=%d;height=%d;scale=1", ill.MimeType, ill.Width, ill.Height),
		})
	}
	if d.Mapper != nil && b.IsLocal() && b.IsValid() {
		if name, err := d.Mapper.NameForID(b.ID); err == nil {
			e.Links = append(e.Links, Link{Type: MIMEHTML, Href: d.Root + "/content/" + name})
		}
	}
	if b.URL != "" {
		e.Links = append(e.Links, Link{
			Rel:    RelAcquisitionOpen,
			Type:   MIMEZim,
			Href:   b.URL,
			Length: b.Size,
		})
	}
	return e
}

// partialEntry links to the complete entry instead of inlining it.
func (d *Dumper) partialEntry(b catalog.Book) Entry {
	return Entry{
		ID:      "urn:uuid:" + b.ID,
		Title:   Text{Value: b.Title},
		Updated: bookDate(b.Date),
		Links: []Link{{
			Rel:  RelAlternate,
			Href: d.v2("entry/" + b.ID),
			Type: MIMEAtomEntry,
		}},
	}
}

func (d *Dumper) books(ids []string) []catalog.Book {
	books := make([]catalog.Book, 0, len(ids))
	for _, id := range ids {
		b, err := d.Library.BookByID(id)
		if err != nil {
			continue
		}
		books = append(books, b)
	}
	return books
}

func (info *SearchInfo) apply(f *Feed) {
	if info == nil {
		return
	}
	f.TotalResults = strconv.Itoa(info.Total)
	f.StartIndex = strconv.Itoa(info.Start)
	f.ItemsPerPage = strconv.Itoa(info.Count)
}

// Feed renders the version 1 acquisition feed of the given books.
func (d *Dumper) Feed(id string, ids []string, info *SearchInfo) *Feed {
	f := newFeed(id, "All zims", d.now())
	f.AddLink(RelSelf, "", MIMEAtom)
	f.AddLink(RelSearch, d.Root+"/catalog/searchdescription.xml", MIMEOpenSearchDesc)
	info.apply(f)
	for _, b := range d.books(ids) {
		f.AddEntry(d.BookEntry(b))
	}
	return f
}

// FeedV2 renders /catalog/v2/entries (or partial_entries) for the given
// books. query holds the request parameters, echoed in the feed links.
func (d *Dumper) FeedV2(ids []string, query url.Values, partial bool, info *SearchInfo) *Feed {
	endpoint := "entries"
	if partial {
		endpoint = "partial_entries"
	}
	qs := query.Encode()

	title := "All Entries"
	if qs != "" {
		title = "Filtered Entries (" + qs + ")"
	}
	self := d.v2(endpoint)
	if qs != "" {
		self += "?" + qs
	}

	f := newFeed(d.FeedID("/"+endpoint+"?"+qs), title, d.now())
	f.AddLink(RelSelf, self, MIMEAcquisitionFeed)
	f.AddLink(RelStart, d.v2("root.xml"), MIMENavigationFeed)
	f.AddLink(RelUp, d.v2("root.xml"), MIMENavigationFeed)
	info.apply(f)
	if info != nil {
		addPaginationLinks(f, d.v2(endpoint), query, info.Start, info.Count, info.Total)
	}

	for _, b := range d.books(ids) {
		if partial {
			f.AddEntry(d.partialEntry(b))
		} else {
			f.AddEntry(d.BookEntry(b))
		}
	}
	return f
}

// pageLink builds the URL of the page starting at start, keeping every
// other query parameter.
func pageLink(base string, query url.Values, start, count int) string {
	q := url.Values{}
	for k, v := range query {
		q[k] = v
	}
	q.Set("start", strconv.Itoa(start))
	q.Set("count", strconv.Itoa(count))
	return base + "?" + q.Encode()
}

// addPaginationLinks appends first/previous/next/last links when the
// results span more than one page.
func addPaginationLinks(f *Feed, base string, query url.Values, start, count, total int) {
	if total <= 0 || count <= 0 || count >= total {
		return
	}
	last := ((total - 1) / count) * count
	f.AddLink(RelFirst, pageLink(base, query, 0, count), MIMEAcquisitionFeed)
	if start > 0 {
		f.AddLink(RelPrevious, pageLink(base, query, max(start-count, 0), count), MIMEAcquisitionFeed)
	}
	if start+count < total {
		f.AddLink(RelNext, pageLink(base, query, start+count, count), MIMEAcquisitionFeed)
	}
	f.AddLink(RelLast, pageLink(base, query, last, count), MIMEAcquisitionFeed)
}

// RootV2 renders the /catalog/v2/root.xml navigation feed.
func (d *Dumper) RootV2() *Feed {
	now := d.now()
	f := newFeed(d.FeedID(""), "OPDS Catalog Root", now)
	f.AddLink(RelSelf, d.v2("root.xml"), MIMENavigationFeed)
	f.AddLink(RelStart, d.v2("root.xml"), MIMENavigationFeed)
	f.AddLink(RelSearch, d.v2("searchdescription.xml"), MIMEOpenSearchDesc)

	nav := func(title, path, suffix, kind, content string) Entry {
		return Entry{
			ID:      d.FeedID(suffix),
			Title:   Text{Value: title},
			Updated: AtomDate{Time: now},
			Content: &Text{Type: "text", Value: content},
			Links:   []Link{{Rel: RelSubsection, Href: d.v2(path), Type: kind}},
		}
	}
	f.AddEntry(nav("All entries", "entries", "/entries", MIMEAcquisitionFeed,
		"All entries from this catalog."))
	f.AddEntry(nav("All entries (partial)", "partial_entries", "/partial_entries", MIMEAcquisitionFeed,
		"All entries from this catalog in partial format."))
	f.AddEntry(nav("List of categories", "categories", "/categories", MIMENavigationFeed,
		"List of all categories in this catalog."))
	f.AddEntry(nav("List of languages", "languages", "/languages", MIMENavigationFeed,
		"List of all languages in this catalog."))
	return f
}

// Categories renders the navigation feed listing every category.
func (d *Dumper) Categories() *Feed {
	now := d.now()
	f := newFeed(d.FeedID("/categories"), "List of categories", now)
	f.AddLink(RelSelf, d.v2("categories"), MIMENavigationFeed)
	f.AddLink(RelStart, d.v2("root.xml"), MIMENavigationFeed)

	for _, c := range d.Library.BooksCategories() {
		f.AddEntry(Entry{
			ID:      d.FeedID("/categories/" + c),
			Title:   Text{Value: c},
			Updated: AtomDate{Time: now},
			Content: &Text{Type: "text", Value: "All entries with category of '" + c + "'."},
			Links: []Link{{
				Rel:  RelSubsection,
				Href: d.v2("entries") + "?" + url.Values{"category": {c}}.Encode(),
				Type: MIMEAcquisitionFeed,
			}},
		})
	}
	return f
}

// LanguageName returns the endonym of an ISO-639-3 code, or the code itself
// when it is unknown.
func LanguageName(code string) string {
	tag, err := language.Parse(code)
	if err != nil {
		return code
	}
	if name := display.Self.Name(tag); name != "" {
		return name
	}
	return code
}

// Languages renders the navigation feed listing every language with the
// number of books using it.
func (d *Dumper) Languages() *Feed {
	now := d.now()
	f := newFeed(d.FeedID("/languages"), "List of languages", now)
	f.XmlnsThr = NSThread
	f.AddLink(RelSelf, d.v2("languages"), MIMENavigationFeed)
	f.AddLink(RelStart, d.v2("root.xml"), MIMENavigationFeed)

	for _, lc := range d.Library.BooksLanguagesWithCounts() {
		f.AddEntry(Entry{
			ID:         d.FeedID("/languages/" + lc.Lang),
			Title:      Text{Value: LanguageName(lc.Lang)},
			Updated:    AtomDate{Time: now},
			DCLanguage: lc.Lang,
			Count:      lc.Count,
			Links: []Link{{
				Rel:  RelSubsection,
				Href: d.v2("entries") + "?" + url.Values{"lang": {lc.Lang}}.Encode(),
				Type: MIMEAcquisitionFeed,
			}},
		})
	}
	return f
}
