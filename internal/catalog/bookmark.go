package catalog

// Bookmark is a saved article location. It keeps a copy of the book
// metadata taken when it was saved, so it outlives the book itself.
type Bookmark struct {
	BookID      string
	BookTitle   string
	BookName    string
	BookFlavour string
	Language    string
	Date        string

	Title string
	URL   string
}

// NewBookmark snapshots b and points at url inside it.
func NewBookmark(b Book, title, url string) Bookmark {
	return Bookmark{
		BookID:      b.ID,
		BookTitle:   b.Title,
		BookName:    b.Name,
		BookFlavour: b.Flavour,
		Language:    b.Language,
		Date:        b.Date,
		Title:       title,
		URL:         url,
	}
}
