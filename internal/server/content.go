package server

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"mime"
	"net/url"
	"path"
	"strings"

	"github.com/banux/nxt-zim/internal/archive"
	"github.com/banux/nxt-zim/internal/catalog"
	"github.com/banux/nxt-zim/internal/library"
	"github.com/banux/nxt-zim/internal/opds"
)

const mimeHTML = "text/html; charset=utf-8"

var templateFuncs = template.FuncMap{
	"add": func(a, b int) int { return a + b },
}

func (s *Server) render(name string, data any) (*Response, error) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return nil, fmt.Errorf("render %s: %w", name, err)
	}
	return newContentResponse(buf.Bytes(), mimeHTML), nil
}

type homeBook struct {
	Name         string
	Title        string
	Description  string
	Language     string
	ArticleCount uint64
	Illustration string
}

type homePage struct {
	Root  string
	Lang  string
	Books []homeBook
}

func (s *Server) handleHomepage(req *RequestContext) (*Response, error) {
	if s.index != nil {
		return newContentResponse(s.index, mimeHTML), nil
	}

	ids := s.lib.Filter(catalog.NewFilter().Valid(true).Local(true))
	s.lib.Sort(ids, library.SortTitle, true)

	page := homePage{Root: s.root, Lang: req.UserLang}
	for _, id := range ids {
		b, err := s.lib.BookByID(id)
		if err != nil {
			continue
		}
		name, err := s.mapper.NameForID(id)
		if err != nil {
			continue
		}
		hb := homeBook{
			Name:         name,
			Title:        b.Title,
			Description:  b.Description,
			Language:     b.Language,
			ArticleCount: b.ArticleCount,
		}
		if ill, err := b.Illustration(opds.DefaultIllustrationSize); err == nil {
			hb.Illustration = fmt.Sprintf("%s/catalog/v2/illustration/%s/?size=%d", s.root, id, ill.Width)
		}
		page.Books = append(page.Books, hb)
	}
	return s.render("index.html", page)
}

func (s *Server) handleSkin(req *RequestContext) (*Response, error) {
	name := req.Var("path")
	data, err := fs.ReadFile(s.static, path.Join("skin", path.Clean("/" + name)))
	if err != nil {
		return nil, notFound(msg("url-not-found", "URL", req.FullURL))
	}
	mimeType := mime.TypeByExtension(path.Ext(name))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	resp := newContentResponse(data, mimeType)
	resp.setCacheable()
	return resp, nil
}

func (s *Server) handleViewerSettings(req *RequestContext) (*Response, error) {
	js := fmt.Sprintf("const viewerSettings = {\n"+
		"  root: %q,\n"+
		"  toolbarEnabled: %t,\n"+
		"  linkBlockingEnabled: %t\n"+
		"};\n", s.root, s.opts.WithTaskbar, s.opts.BlockExternalLinks)
	return newContentResponse([]byte(js), "application/javascript; charset=utf-8"), nil
}

// bookReader resolves a URL book name to its reader.
func (s *Server) bookReader(name string) (*archive.Reader, error) {
	id, err := s.mapper.IDForName(name)
	if err != nil {
		return nil, err
	}
	return s.lib.ReaderByID(id)
}

// searchSuggestion is the 404 offering a full-text search for the missing
// path.
func (s *Server) searchSuggestion(req *RequestContext, bookName string) *HTTPError {
	pattern := req.URL[strings.LastIndex(req.URL, "/")+1:]
	q := url.Values{}
	if bookName != "" {
		q.Set("content", bookName)
	}
	q.Set("pattern", pattern)

	he := notFound(msg("url-not-found", "URL", req.FullURL), msg("suggest-search", "PATTERN", pattern))
	he.Link = s.root + "/search?" + q.Encode()
	return he
}

func (s *Server) handleContent(req *RequestContext) (*Response, error) {
	bookName := req.Var("book")
	if bookName == "" {
		return newRedirectResponse(s.root + "/"), nil
	}

	reader, err := s.bookReader(bookName)
	if err != nil {
		return nil, s.searchSuggestion(req, "")
	}

	p := req.Var("path")
	if p == "" {
		main, err := reader.MainPage()
		if err != nil {
			return nil, s.searchSuggestion(req, bookName)
		}
		return newRedirectResponse(s.contentURL(bookName, main.Path)), nil
	}

	entry, err := reader.Archive().EntryByPath(p)
	if err != nil {
		return nil, s.searchSuggestion(req, bookName)
	}
	if entry.IsRedirect() {
		final, err := reader.EntryFromPath(p)
		if err != nil {
			return nil, s.searchSuggestion(req, bookName)
		}
		return newRedirectResponse(s.contentURL(bookName, final.Path)), nil
	}

	data, err := reader.Archive().ReadEntry(p)
	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", bookName, p, err)
	}
	resp := newItemResponse(req, data, entry.MimeType)
	resp.setTaskbar(bookName, reader.Title())
	if s.opts.Verbose {
		s.logger.Debug().Str("path", entry.Path).Str("mime", entry.MimeType).Msg("found entry")
	}
	return resp, nil
}

func (s *Server) handleRaw(req *RequestContext) (*Response, error) {
	bookName, kind, p := req.Var("book"), req.Var("kind"), req.Var("path")
	if kind != "meta" && kind != "content" {
		return nil, notFound(msg("invalid-raw-data-type", "DATATYPE", kind))
	}

	reader, err := s.bookReader(bookName)
	if err != nil {
		return nil, notFound(msg("no-such-book", "BOOK_NAME", bookName))
	}
	a := reader.Archive()
	missing := notFound(msg("no-entry-found", "KIND", kind, "PATH", p))

	var resp *Response
	if kind == "meta" {
		v, err := a.Metadata(p)
		if err != nil {
			return nil, missing
		}
		resp = newItemResponse(req, []byte(v), "text/plain; charset=utf-8")
	} else {
		entry, err := a.EntryByPath(p)
		if errors.Is(err, archive.ErrEntryNotFound) {
			return nil, missing
		} else if err != nil {
			return nil, err
		}
		if entry.IsRedirect() {
			final, err := reader.EntryFromPath(p)
			if err != nil {
				return nil, missing
			}
			return newRedirectResponse(s.contentURL(bookName, final.Path)), nil
		}
		data, err := a.ReadEntry(p)
		if err != nil {
			return nil, fmt.Errorf("read raw %s/%s: %w", bookName, p, err)
		}
		resp = newItemResponse(req, data, entry.MimeType)
	}
	resp.raw = true
	return resp, nil
}

func (s *Server) handleRandom(req *RequestContext) (*Response, error) {
	bookName := req.ArgOr("content", "")
	reader, err := s.bookReader(bookName)
	if err != nil {
		return nil, notFound(msg("no-such-book", "BOOK_NAME", bookName))
	}
	entry, err := reader.RandomPage()
	if err != nil {
		return nil, notFound(msg("random-article-failure"))
	}
	return newRedirectResponse(s.contentURL(bookName, entry.Path)), nil
}

type externalPage struct {
	Root   string
	Lang   string
	Source string
}

func (s *Server) handleCapturedExternal(req *RequestContext) (*Response, error) {
	source := req.ArgOr("source", "")
	if source == "" {
		return nil, notFound(msg("url-not-found", "URL", req.FullURL))
	}
	return s.render("captured_external.html", externalPage{Root: s.root, Lang: req.UserLang, Source: source})
}
