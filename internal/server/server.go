// Package server implements the HTTP server of nxt-zim: archive content,
// full-text search, suggestions and the OPDS catalog.
package server

import (
	"bytes"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/banux/nxt-zim/internal/catalog"
	"github.com/banux/nxt-zim/internal/library"
	"github.com/banux/nxt-zim/internal/manager"
	"github.com/banux/nxt-zim/internal/metrics"
	"github.com/banux/nxt-zim/internal/namemapper"
	"github.com/banux/nxt-zim/internal/opds"
	"github.com/banux/nxt-zim/internal/search"
	"github.com/banux/nxt-zim/web"
)

const (
	defaultSearcherCacheSize  = 16
	defaultSuggesterCacheSize = 64
)

// Options holds the server configuration.
type Options struct {
	// Root is the URL prefix every route lives under, e.g. "/wiki".
	Root string

	Verbose            bool
	WithTaskbar        bool
	BlockExternalLinks bool

	// SearchLimit caps the number of books one search may cover. 0 means
	// no limit.
	SearchLimit int

	// IPConnectionLimit caps concurrent requests per client address.
	IPConnectionLimit int

	// RateLimit is the global number of requests per second; RateBurst the
	// burst allowed above it. 0 disables rate limiting.
	RateLimit float64
	RateBurst int

	// CustomIndex is an HTML file served as the homepage instead of the
	// built-in book list.
	CustomIndex string

	// StaticFS holds skin/ and templates/. Nil selects the embedded assets.
	StaticFS fs.FS

	SearcherCacheSize  int
	SuggesterCacheSize int

	Logger zerolog.Logger
}

type handlerFunc func(req *RequestContext) (*Response, error)

// route is what the router resolves a URL to. Exactly one of fn and raw
// is set.
type route struct {
	name string
	fn   handlerFunc
	raw  http.Handler
}

// ServeHTTP lets mux store routes. Requests are dispatched by Server.handle,
// never through this method.
func (rt *route) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
}

// Server is the HTTP front of a library.
type Server struct {
	lib    *library.Library
	mapper namemapper.NameMapper
	opts   Options
	logger zerolog.Logger

	root      string
	serverID  string
	libraryID string

	router    *mux.Router
	handler   http.Handler
	templates *template.Template
	static    fs.FS
	index     []byte

	searchers  *search.Cache[*search.Locked[*search.IndexSearcher]]
	suggesters *search.Cache[*search.Suggester]
}

var _ manager.Observer = (*Server)(nil)

// New builds a server over lib. mapper translates book ids to URL names;
// nil serves books under their id.
func New(lib *library.Library, mapper namemapper.NameMapper, opts Options) (*Server, error) {
	if mapper == nil {
		mapper = namemapper.IDMapper{}
	}
	if opts.StaticFS == nil {
		opts.StaticFS = web.FS
	}
	if opts.SearcherCacheSize <= 0 {
		opts.SearcherCacheSize = defaultSearcherCacheSize
	}
	if opts.SuggesterCacheSize <= 0 {
		opts.SuggesterCacheSize = defaultSuggesterCacheSize
	}

	tmpl, err := template.New("").Funcs(templateFuncs).ParseFS(opts.StaticFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	s := &Server{
		lib:       lib,
		mapper:    mapper,
		opts:      opts,
		logger:    opts.Logger,
		root:      normalizeRoot(opts.Root),
		serverID:  uuid.NewString(),
		router:    mux.NewRouter(),
		templates: tmpl,
		static:    opts.StaticFS,
	}
	s.libraryID = s.serverID

	if opts.CustomIndex != "" {
		if s.index, err = os.ReadFile(opts.CustomIndex); err != nil {
			return nil, fmt.Errorf("custom index: %w", err)
		}
	}

	if s.searchers, err = search.NewCache[*search.Locked[*search.IndexSearcher]]("searcher", opts.SearcherCacheSize); err != nil {
		return nil, err
	}
	if s.suggesters, err = search.NewCache[*search.Suggester]("suggester", opts.SuggesterCacheSize); err != nil {
		return nil, err
	}

	s.registerRoutes()

	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), max(opts.RateBurst, 1))
	}
	s.handler = limitMiddleware(opts.IPConnectionLimit, limiter)(http.HandlerFunc(s.serve))
	return s, nil
}

// registerRoutes maps URLs, relative to the root, to handlers.
func (s *Server) registerRoutes() {
	r := s.router
	handle := func(path, name string, fn handlerFunc) {
		r.Handle(path, &route{name: name, fn: fn}).Name(name)
	}

	handle("/", "homepage", s.handleHomepage)
	handle("/skin/{path:.+}", "skin", s.handleSkin)
	handle("/viewer_settings.js", "viewer_settings", s.handleViewerSettings)

	handle("/content", "content", s.handleContent)
	handle("/content/", "content", s.handleContent)
	handle("/content/{book}", "content", s.handleContent)
	handle("/content/{book}/{path:.*}", "content", s.handleContent)
	handle("/raw/{book}/{kind}/{path:.*}", "raw", s.handleRaw)

	handle("/search", "search", s.handleSearch)
	handle("/suggest", "suggest", s.handleSuggest)
	handle("/random", "random", s.handleRandom)
	handle("/catch/external", "catch_external", s.handleCapturedExternal)

	handle("/catalog/root.xml", "catalog", s.handleCatalogRoot)
	handle("/catalog/searchdescription.xml", "catalog", s.handleCatalogSearchDescription)
	handle("/catalog/search", "catalog", s.handleCatalogSearch)

	handle("/catalog/v2/root.xml", "catalog_v2", s.handleCatalogV2Root)
	handle("/catalog/v2/searchdescription.xml", "catalog_v2", s.handleCatalogV2SearchDescription)
	handle("/catalog/v2/entries", "catalog_v2", s.handleCatalogV2Entries(false))
	handle("/catalog/v2/partial_entries", "catalog_v2", s.handleCatalogV2Entries(true))
	handle("/catalog/v2/entry/{id}", "catalog_v2", s.handleCatalogV2Entry)
	handle("/catalog/v2/categories", "catalog_v2", s.handleCatalogV2Categories)
	handle("/catalog/v2/languages", "catalog_v2", s.handleCatalogV2Languages)
	handle("/catalog/v2/illustration/{id}", "catalog_v2", s.handleCatalogV2Illustration)
	handle("/catalog/v2/illustration/{id}/", "catalog_v2", s.handleCatalogV2Illustration)

	r.Handle("/metrics", &route{name: "metrics", raw: promhttp.Handler()}).Name("metrics")
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	switch r.Method {
	case http.MethodGet, http.MethodPost, http.MethodHead:
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	req := newRequestContext(r, s.root)
	rt, resp := s.handle(w, r, req)
	if resp == nil {
		return
	}

	var decorate func(*Response) []byte
	if s.opts.WithTaskbar || s.opts.BlockExternalLinks {
		decorate = s.decorate
	}
	if err := resp.send(w, req, decorate); err != nil {
		s.logger.Debug().Err(err).Str("url", req.FullURL).Msg("write response")
	}

	metrics.RecordRequest(rt, resp.Status, time.Since(start))
	if s.opts.Verbose {
		s.logger.Info().
			Uint64("request", req.Index).
			Str("method", req.Method).
			Str("url", req.FullURL).
			Int("status", resp.Status).
			Dur("duration", time.Since(start)).
			Msg("request")
	}
}

// handle runs the request pipeline and returns the route name and the
// response to send. A nil response means it was already written.
func (s *Server) handle(w http.ResponseWriter, r *http.Request, req *RequestContext) (string, *Response) {
	if !req.IsValidURL() {
		return "invalid", s.errorResponse(req, notFound(msg("invalid-request", "URL", req.FullURL)), false)
	}
	if req.URL == "/" && !strings.HasSuffix(req.FullURL, "/") {
		return "root", newRedirectResponse(s.root + "/")
	}

	if needsETag(req.URL) {
		if etag := MatchETag(req.Header("If-None-Match"), s.etagBody()); !etag.IsZero() {
			return "not_modified", newNotModifiedResponse(etag)
		}
	}

	local := r.Clone(r.Context())
	local.URL.Path = req.URL
	local.URL.RawPath = ""
	var match mux.RouteMatch
	if !s.router.Match(local, &match) {
		return "implicit_content", newRedirectResponse(s.root + "/content" + escapePath(req.URL))
	}
	rt, ok := match.Handler.(*route)
	if !ok {
		return "unknown", s.errorResponse(req, notFound(msg("url-not-found", "URL", req.FullURL)), false)
	}
	if rt.raw != nil {
		rt.raw.ServeHTTP(w, r)
		return rt.name, nil
	}
	req.vars = match.Vars

	resp := s.dispatch(rt, req)
	if resp.Status == http.StatusOK && needsETag(req.URL) {
		resp.etag.SetBody(s.etagBody())
	}
	return rt.name, resp
}

// dispatch calls the handler, turning errors and panics into error pages.
func (s *Server) dispatch(rt *route, req *RequestContext) (resp *Response) {
	asXML := strings.HasPrefix(req.URL, "/catalog") || (rt.name == "search" && req.ArgOr("format", "html") == "xml")
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error().
				Interface("panic", p).
				Str("url", req.FullURL).
				Msg("unhandled error while serving request")
			resp = s.errorResponse(req, fmt.Errorf("panic: %v", p), asXML)
		}
	}()

	resp, err := rt.fn(req)
	if err != nil {
		if _, ok := err.(*HTTPError); !ok {
			s.logger.Error().Err(err).Str("url", req.FullURL).Msg("internal error")
		}
		return s.errorResponse(req, err, asXML)
	}
	return resp
}

// needsETag reports whether responses of url are validated against the
// library revision. Catalog feeds embed timestamps and the other excluded
// routes are not idempotent.
func needsETag(url string) bool {
	return !(strings.HasPrefix(url, "/catalog") ||
		url == "/search" ||
		url == "/suggest" ||
		url == "/random" ||
		url == "/catch/external" ||
		url == "/metrics")
}

func (s *Server) etagBody() string {
	return s.serverID + "." + strconv.FormatUint(s.lib.Revision(), 10)
}

func (s *Server) dumper() *opds.Dumper {
	return &opds.Dumper{
		Library:   s.lib,
		Mapper:    s.mapper,
		Root:      s.root,
		LibraryID: s.libraryID,
	}
}

// contentURL is the URL of an entry of a book.
func (s *Server) contentURL(bookName, path string) string {
	return s.root + "/content/" + url.PathEscape(bookName) + "/" + escapePath(strings.TrimPrefix(path, "/"))
}

// escapePath escapes each segment of p, keeping the slashes.
func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

var (
	bodyTagRe      = regexp.MustCompile(`(?i)<body[^>]*>`)
	externalLinkRe = regexp.MustCompile(`(?i)(<a\s[^>]*href=")(https?://[^"]+)(")`)
)

type taskbarData struct {
	Root       string
	BookName   string
	BookTitle  string
	HasContent bool
}

// decorate injects the taskbar and rewrites external links of an HTML
// page.
func (s *Server) decorate(r *Response) []byte {
	body := r.Body
	if s.opts.BlockExternalLinks {
		body = externalLinkRe.ReplaceAllFunc(body, func(m []byte) []byte {
			sub := externalLinkRe.FindSubmatch(m)
			target := s.root + "/catch/external?source=" + url.QueryEscape(string(sub[2]))
			return []byte(string(sub[1]) + template.HTMLEscapeString(target) + string(sub[3]))
		})
	}
	if s.opts.WithTaskbar {
		loc := bodyTagRe.FindIndex(body)
		if loc != nil {
			var buf bytes.Buffer
			data := taskbarData{Root: s.root, BookName: r.bookName, BookTitle: r.bookTitle, HasContent: r.bookName != ""}
			if err := s.templates.ExecuteTemplate(&buf, "taskbar.html", data); err == nil {
				out := make([]byte, 0, len(body)+buf.Len())
				out = append(out, body[:loc[1]]...)
				out = append(out, buf.Bytes()...)
				out = append(out, body[loc[1]:]...)
				body = out
			}
		}
	}
	return body
}

// BookWasAdded drops cached searchers covering the book, in case an
// earlier book with the same id left them behind.
func (s *Server) BookWasAdded(b catalog.Book) {
	s.dropCaches(func(id string) bool { return id == b.ID })
}

// BookWasUpdated drops cached searchers covering the book: the merge may
// point it at another archive.
func (s *Server) BookWasUpdated(b catalog.Book) {
	s.dropCaches(func(id string) bool { return id == b.ID })
}

// BooksWereRemoved drops cached searchers covering books that left the
// library.
func (s *Server) BooksWereRemoved(n int) {
	known := make(map[string]bool)
	for _, id := range s.lib.BookIDs() {
		known[id] = true
	}
	s.dropCaches(func(id string) bool { return !known[id] })
}

func (s *Server) dropCaches(stale func(id string) bool) {
	covers := func(key string) bool {
		for _, id := range strings.Split(key, ",") {
			if stale(id) {
				return true
			}
		}
		return false
	}
	n := s.searchers.Drop(covers) + s.suggesters.Drop(covers)
	if n > 0 {
		s.logger.Debug().Int("dropped", n).Msg("search caches invalidated")
	}
}
