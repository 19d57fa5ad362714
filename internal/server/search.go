package server

import (
	"encoding/xml"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/banux/nxt-zim/internal/catalog"
	"github.com/banux/nxt-zim/internal/search"
)

const (
	defaultPageLength = 25
	maxPageLength     = 140
	defaultSuggest    = 10
)

// filterFromArgs reads the catalog filter parameters, each prefixed by
// prefix, on top of the valid+local base filter.
func filterFromArgs(req *RequestContext, prefix string) *catalog.Filter {
	f := catalog.NewFilter().Valid(true).Local(true)
	if q, ok := req.Arg(prefix + "q"); ok {
		f.Query(q, false)
	}
	if v, ok := req.Arg(prefix + "maxsize"); ok {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			f.MaxSize(n)
		}
	}
	if v, ok := req.Arg(prefix + "name"); ok {
		f.Name(v)
	}
	if v, ok := req.Arg(prefix + "category"); ok {
		f.Category(v)
	}
	if v, ok := req.Arg(prefix + "lang"); ok {
		f.Lang(v)
	}
	if v, ok := req.Arg(prefix + "publisher"); ok {
		f.Publisher(v)
	}
	if v, ok := req.Arg(prefix + "creator"); ok {
		f.Creator(v)
	}
	if v, ok := req.Arg(prefix + "tag"); ok {
		f.AcceptTags(strings.Split(v, ";"))
	}
	if v, ok := req.Arg(prefix + "notag"); ok {
		f.RejectTags(strings.Split(v, ";"))
	}
	return f
}

// requestedBooks applies the first selection strategy present in the
// request: content, books.id, books.name, then the books.filter.* filter.
func (s *Server) requestedBooks(req *RequestContext) ([]string, error) {
	if name, ok := req.Arg("content"); ok {
		id, err := s.knownName(name)
		if err != nil {
			return nil, err
		}
		return []string{id}, nil
	}

	if values, ok := req.Args("books.id"); ok {
		var ids []string
		for _, id := range values {
			if id == "" {
				continue
			}
			if err := s.knownID(id); err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
		if len(ids) == 0 {
			return nil, badRequest(msg("no-value-for-arg", "ARGUMENT", "books.id"))
		}
		return ids, nil
	}

	if values, ok := req.Args("books.name"); ok {
		var ids []string
		for _, name := range values {
			if name == "" {
				continue
			}
			id, err := s.knownName(name)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
		if len(ids) == 0 {
			return nil, badRequest(msg("no-value-for-arg", "ARGUMENT", "books.name"))
		}
		return ids, nil
	}

	ids := s.lib.Filter(filterFromArgs(req, "books.filter."))
	if len(ids) == 0 {
		return nil, badRequest(msg("no-book-found"))
	}
	return ids, nil
}

// knownID accepts ids the mapper serves under a name.
func (s *Server) knownID(id string) error {
	_, err := s.mapper.NameForID(id)
	if err == nil {
		_, err = s.lib.BookByID(id)
	}
	if err != nil {
		return badRequest(msg("no-such-book", "BOOK_NAME", id))
	}
	return nil
}

func (s *Server) knownName(name string) (string, error) {
	id, err := s.mapper.IDForName(name)
	if err == nil {
		_, err = s.lib.BookByID(id)
	}
	if err != nil {
		return "", badRequest(msg("no-such-book", "BOOK_NAME", name))
	}
	return id, nil
}

// selectBooks resolves the books a search runs over and rejects
// selections that are too large or mix languages.
func (s *Server) selectBooks(req *RequestContext) ([]string, error) {
	ids, err := s.requestedBooks(req)
	if err != nil {
		return nil, err
	}
	if limit := s.opts.SearchLimit; limit > 0 && len(ids) > limit {
		return nil, badRequest(msg("too-many-books",
			"NB_BOOKS", strconv.Itoa(len(ids)),
			"LIMIT", strconv.Itoa(limit)))
	}
	if len(ids) > 1 {
		langs := make(map[string]bool)
		for _, id := range ids {
			if b, err := s.lib.BookByID(id); err == nil {
				langs[b.Language] = true
			}
		}
		if len(langs) > 1 {
			return nil, badRequest(msg("confusion-of-tongues"))
		}
	}
	return ids, nil
}

type searchHit struct {
	URL       string
	Title     string
	Snippet   string
	BookTitle string
	WordCount int
}

type searchPageLink struct {
	Label   string
	URL     string
	Current bool
}

type searchPage struct {
	Root      string
	Lang      string
	Title     string
	Pattern   string
	Hits      []searchHit
	Total     uint64
	Start     int
	End       int
	Pages     []searchPageLink
	NoResults string
}

func (s *Server) handleSearch(req *RequestContext) (*Response, error) {
	ids, err := s.selectBooks(req)
	if err != nil {
		return nil, err
	}
	pattern := req.ArgOr("pattern", "")
	if strings.TrimSpace(pattern) == "" {
		return nil, badRequest(msg("no-query"))
	}

	var sources []search.Source
	for _, id := range ids {
		reader, err := s.lib.ReaderByID(id)
		if err != nil || !reader.HasFulltextIndex() {
			continue
		}
		sources = append(sources, search.Source{BookID: id, Archive: reader.Archive()})
	}
	if len(sources) == 0 {
		return nil, notFound(msg("fulltext-search-unavailable"))
	}
	indexed := make([]string, len(sources))
	for i, src := range sources {
		indexed[i] = src.BookID
	}
	info := search.NewInfo(pattern, indexed)

	start := req.IntArg("start", 0)
	pageLength := req.IntArg("pageLength", defaultPageLength)
	if pageLength == 0 {
		pageLength = defaultPageLength
	}
	pageLength = min(pageLength, maxPageLength)

	searcher, err := s.searchers.GetOrBuild(info.BooksKey(), func() (*search.Locked[*search.IndexSearcher], error) {
		idx, err := search.NewIndexSearcher(sources)
		if err != nil {
			return nil, err
		}
		return search.NewLocked(idx), nil
	})
	if err != nil {
		return nil, fmt.Errorf("build searcher: %w", err)
	}

	var results *search.Results
	err = searcher.Do(func(idx *search.IndexSearcher) error {
		var err error
		results, err = idx.Search(info.Query(), start, pageLength)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", pattern, err)
	}
	if s.opts.Verbose {
		s.logger.Info().Str("pattern", pattern).Strs("books", info.BookIDs).Uint64("matches", results.Estimated).Msg("search")
	}

	hits := s.searchHits(results)
	if req.ArgOr("format", "html") == "xml" {
		return s.searchRSS(req, pattern, results.Estimated, start, pageLength, hits)
	}

	page := searchPage{
		Root:    s.root,
		Lang:    req.UserLang,
		Title:   Translate(req.UserLang, msg("search-results-page-title", "SEARCH_PATTERN", pattern)),
		Pattern: pattern,
		Hits:    hits,
		Total:   results.Estimated,
		Start:   start + 1,
		End:     start + len(hits),
		Pages:   s.searchPages(req, results.Estimated, start, pageLength),
	}
	if len(hits) == 0 {
		page.NoResults = Translate(req.UserLang, msg("no-search-results", "SEARCH_PATTERN", pattern))
	}
	resp, err := s.render("search.html", page)
	if err != nil {
		return nil, err
	}
	if len(info.BookIDs) == 1 {
		if name, err := s.mapper.NameForID(info.BookIDs[0]); err == nil {
			b, _ := s.lib.BookByID(info.BookIDs[0])
			resp.setTaskbar(name, b.Title)
		}
	}
	return resp, nil
}

func (s *Server) searchHits(results *search.Results) []searchHit {
	hits := make([]searchHit, 0, len(results.Hits))
	for _, h := range results.Hits {
		name, err := s.mapper.NameForID(h.BookID)
		if err != nil {
			continue
		}
		b, _ := s.lib.BookByID(h.BookID)
		hits = append(hits, searchHit{
			URL:       s.contentURL(name, h.Path),
			Title:     h.Title,
			Snippet:   h.Snippet,
			BookTitle: b.Title,
			WordCount: h.WordCount,
		})
	}
	return hits
}

// searchPages links up to five pages around the current one.
func (s *Server) searchPages(req *RequestContext, total uint64, start, pageLength int) []searchPageLink {
	if total <= uint64(pageLength) {
		return nil
	}
	pages := int((total + uint64(pageLength) - 1) / uint64(pageLength))
	current := start / pageLength
	first := max(0, current-2)
	last := min(pages-1, first+4)

	q := url.Values{}
	for k, v := range req.Query() {
		q[k] = v
	}
	q.Set("pageLength", strconv.Itoa(pageLength))

	var links []searchPageLink
	for p := first; p <= last; p++ {
		q.Set("start", strconv.Itoa(p*pageLength))
		links = append(links, searchPageLink{
			Label:   strconv.Itoa(p + 1),
			URL:     s.root + "/search?" + q.Encode(),
			Current: p == current,
		})
	}
	return links
}

type rssDoc struct {
	XMLName   xml.Name   `xml:"rss"`
	Version   string     `xml:"version,attr"`
	XmlnsOS   string     `xml:"xmlns:opensearch,attr"`
	XmlnsAtom string     `xml:"xmlns:atom,attr"`
	Channel   rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title        string    `xml:"title"`
	Link         string    `xml:"link"`
	Description  string    `xml:"description"`
	TotalResults uint64    `xml:"opensearch:totalResults"`
	StartIndex   int       `xml:"opensearch:startIndex"`
	ItemsPerPage int       `xml:"opensearch:itemsPerPage"`
	Query        rssQuery  `xml:"opensearch:Query"`
	Items        []rssItem `xml:"item"`
}

type rssQuery struct {
	Role        string `xml:"role,attr"`
	SearchTerms string `xml:"searchTerms,attr"`
	StartIndex  int    `xml:"startIndex,attr"`
	Count       int    `xml:"count,attr"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description,omitempty"`
	Book        string `xml:"book>title"`
	WordCount   int    `xml:"wordCount,omitempty"`
}

func (s *Server) searchRSS(req *RequestContext, pattern string, total uint64, start, pageLength int, hits []searchHit) (*Response, error) {
	doc := rssDoc{
		Version:   "2.0",
		XmlnsOS:   "http://a9.com/-/spec/opensearch/1.1/",
		XmlnsAtom: "http://www.w3.org/2005/Atom",
		Channel: rssChannel{
			Title:        Translate(req.UserLang, msg("search-results-page-title", "SEARCH_PATTERN", pattern)),
			Link:         s.root + "/search?" + req.Query().Encode(),
			Description:  "Search result for " + pattern,
			TotalResults: total,
			StartIndex:   start + 1,
			ItemsPerPage: pageLength,
			Query: rssQuery{
				Role:        "request",
				SearchTerms: pattern,
				StartIndex:  start + 1,
				Count:       pageLength,
			},
		},
	}
	for _, h := range hits {
		doc.Channel.Items = append(doc.Channel.Items, rssItem{
			Title:       h.Title,
			Link:        h.URL,
			Description: h.Snippet,
			Book:        h.BookTitle,
			WordCount:   h.WordCount,
		})
	}
	data, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode search rss: %w", err)
	}
	return newContentResponse(append([]byte(xml.Header), data...), "application/rss+xml; charset=utf-8"), nil
}

type suggestion struct {
	Label string `json:"label"`
	Value string `json:"value"`
	Kind  string `json:"kind"`
	Path  string `json:"path,omitempty"`
	First bool   `json:"first"`
}

func (s *Server) handleSuggest(req *RequestContext) (*Response, error) {
	bookName := req.ArgOr("content", "")
	id, err := s.mapper.IDForName(bookName)
	if err != nil {
		return nil, notFound(msg("no-such-book", "BOOK_NAME", bookName))
	}
	reader, err := s.lib.ReaderByID(id)
	if err != nil {
		return nil, notFound(msg("no-such-book", "BOOK_NAME", bookName))
	}

	term := req.ArgOr("term", "")
	start := req.IntArg("start", 0)
	count := req.IntArg("count", defaultSuggest)
	if count == 0 {
		count = defaultSuggest
	}

	suggester, err := s.suggesters.GetOrBuild(id, func() (*search.Suggester, error) {
		return search.NewSuggester(reader.Archive()), nil
	})
	if err != nil {
		return nil, err
	}

	items := []suggestion{}
	for _, sg := range suggester.Suggest(term, start, count) {
		items = append(items, suggestion{
			Label: sg.Title,
			Value: sg.Title,
			Kind:  "path",
			Path:  sg.Path,
			First: len(items) == 0,
		})
	}
	if reader.HasFulltextIndex() {
		items = append(items, suggestion{
			Label: Translate(req.UserLang, msg("suggest-full-text-search", "SEARCH_TERMS", term)),
			Value: term + " ",
			Kind:  "pattern",
			First: len(items) == 0,
		})
	}

	data, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("encode suggestions: %w", err)
	}
	return newContentResponse(data, "application/json; charset=utf-8"), nil
}
