package server

import (
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"

	"golang.org/x/text/language"
)

var requestIndex atomic.Uint64

// RequestContext is the parsed form of an incoming request.
type RequestContext struct {
	// FullURL is the path as received, root included.
	FullURL string

	// URL is the path relative to the server root. Empty means the request
	// lies outside the root.
	URL string

	Method     string
	Host       string
	AcceptGzip bool
	Range      ByteRange
	UserLang   string
	Index      uint64

	headers map[string]string
	args    url.Values
	vars    map[string]string
}

func newRequestContext(r *http.Request, root string) *RequestContext {
	req := &RequestContext{
		FullURL: r.URL.Path,
		URL:     localURL(r.URL.Path, root),
		Method:  r.Method,
		Host:    r.Host,
		Index:   requestIndex.Add(1) - 1,
		headers: make(map[string]string, len(r.Header)),
		args:    r.URL.Query(),
	}
	for k, v := range r.Header {
		if len(v) > 0 {
			req.headers[strings.ToLower(k)] = v[0]
		}
	}
	req.AcceptGzip = strings.Contains(req.Header("Accept-Encoding"), "gzip")
	req.Range = ParseByteRange(req.Header("Range"))
	req.UserLang = userLanguage(req)
	return req
}

// localURL strips root from fullURL.
func localURL(fullURL, root string) string {
	switch {
	case root == "":
		return fullURL
	case fullURL == root:
		return "/"
	case strings.HasPrefix(fullURL, root+"/"):
		return fullURL[len(root):]
	}
	return ""
}

// normalizeRoot trims slashes and prepends a single one. An empty root
// stays empty.
func normalizeRoot(root string) string {
	root = strings.Trim(root, "/")
	if root == "" {
		return ""
	}
	return "/" + root
}

func (r *RequestContext) IsValidURL() bool { return r.URL != "" }

// Header looks up a header case-insensitively.
func (r *RequestContext) Header(name string) string {
	return r.headers[strings.ToLower(name)]
}

// Arg returns the first value of a query parameter.
func (r *RequestContext) Arg(name string) (string, bool) {
	v, ok := r.args[name]
	if !ok || len(v) == 0 {
		return "", false
	}
	return v[0], true
}

// ArgOr returns the parameter or def when absent.
func (r *RequestContext) ArgOr(name, def string) string {
	if v, ok := r.Arg(name); ok {
		return v
	}
	return def
}

// Args returns every value of a repeated parameter.
func (r *RequestContext) Args(name string) ([]string, bool) {
	v, ok := r.args[name]
	return v, ok
}

// UintArg parses an unsigned parameter; absent or malformed values give
// def.
func (r *RequestContext) UintArg(name string, def uint64) uint64 {
	v, ok := r.Arg(name)
	if !ok {
		return def
	}
	n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return def
	}
	return n
}

// IntArg is UintArg bounded to math.MaxInt32, so offsets built from it
// never overflow.
func (r *RequestContext) IntArg(name string, def int) int {
	return int(min(r.UintArg(name, uint64(def)), math.MaxInt32))
}

// Query returns the request parameters.
func (r *RequestContext) Query() url.Values { return r.args }

// Var returns a path variable of the matched route.
func (r *RequestContext) Var(name string) string { return r.vars[name] }

var (
	supportedLangs   = []string{"en", "fr"}
	supportedMatcher = language.NewMatcher([]language.Tag{language.English, language.French})
)

// userLanguage picks, in order, the userlang parameter, the
// Accept-Language header and finally English.
func userLanguage(r *RequestContext) string {
	if v, ok := r.Arg("userlang"); ok {
		if tag, err := language.Parse(v); err == nil {
			if lang, ok := matchLanguage(tag); ok {
				return lang
			}
		}
	}
	if h := r.Header("Accept-Language"); h != "" {
		if tags, _, err := language.ParseAcceptLanguage(h); err == nil && len(tags) > 0 {
			if lang, ok := matchLanguage(tags...); ok {
				return lang
			}
		}
	}
	return "en"
}

func matchLanguage(tags ...language.Tag) (string, bool) {
	_, idx, conf := supportedMatcher.Match(tags...)
	if conf == language.No {
		return "", false
	}
	return supportedLangs[idx], true
}
