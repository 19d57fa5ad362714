package server

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"math"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

const (
	// minGzipSize is the body size below which compression is not worth it.
	minGzipSize = 100

	cacheControlPublic  = "max-age=2723040, public"
	cacheControlNoCache = "no-cache, no-store, must-revalidate"
)

// ETag options. They must stay sorted in etagOptions.
const (
	optCacheable  = 'Z'
	optCompressed = 'z'
	etagOptions   = "Zz"
)

// ETag is the cache validator "<body>/<options>". The body ties the
// response to a server instance and a library revision; the options record
// every header-affecting choice made while building it.
type ETag struct {
	body    string
	options string
}

func validETagBody(s string) bool { return s != "" && !strings.ContainsAny(s, `"/`) }

// validETagOptions reports whether s is a subsequence of etagOptions.
func validETagOptions(s string) bool {
	i := 0
	for _, c := range s {
		j := strings.IndexRune(etagOptions[i:], c)
		if j < 0 {
			return false
		}
		i += j + 1
	}
	return true
}

// NewETag returns the zero ETag when body or options are malformed.
func NewETag(body, options string) ETag {
	if !validETagBody(body) || !validETagOptions(options) {
		return ETag{}
	}
	return ETag{body: body, options: options}
}

func (e ETag) IsZero() bool { return e.body == "" }

func (e ETag) Body() string { return e.body }

func (e ETag) HasOption(opt rune) bool { return strings.ContainsRune(e.options, opt) }

// SetOption adds opt, keeping options sorted.
func (e *ETag) SetOption(opt rune) {
	if e.HasOption(opt) {
		return
	}
	opts := []rune(e.options + string(opt))
	sort.Slice(opts, func(i, j int) bool { return opts[i] < opts[j] })
	e.options = string(opts)
}

// SetBody replaces the body, ignoring invalid values.
func (e *ETag) SetBody(body string) {
	if validETagBody(body) {
		e.body = body
	}
}

// String renders the quoted header value, or "" for the zero ETag.
func (e ETag) String() string {
	if e.body == "" {
		return ""
	}
	return `"` + e.body + "/" + e.options + `"`
}

// ParseETag reads one header value. Weak validators are accepted.
func ParseETag(s string) ETag {
	s = strings.TrimPrefix(s, "W/")
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return ETag{}
	}
	s = s[1 : len(s)-1]
	body, opts, ok := strings.Cut(s, "/")
	if !ok {
		return ETag{}
	}
	return NewETag(body, opts)
}

// MatchETag finds, in an If-None-Match list, the first ETag whose body is
// body.
func MatchETag(list, body string) ETag {
	for _, s := range strings.Fields(list) {
		e := ParseETag(strings.TrimSuffix(s, ","))
		if !e.IsZero() && e.body == body {
			return e
		}
	}
	return ETag{}
}

// RangeKind is the state of a ByteRange.
type RangeKind int

const (
	RangeNone RangeKind = iota
	RangeParsed
	RangeInvalid
	RangeFull
	RangePartial
	RangeUnsatisfiable
)

// ByteRange is a Range request header, parsed then resolved against the
// size of the content. A negative First after parsing is a suffix length.
type ByteRange struct {
	Kind  RangeKind
	First int64
	Last  int64
}

var rangeRe = regexp.MustCompile(`^bytes=(?:(\d+)-(\d*)|-(\d+))$`)

// ParseByteRange accepts "bytes=a-b", "bytes=a-" and "bytes=-n". Anything
// else, including a > b, is RangeInvalid.
func ParseByteRange(header string) ByteRange {
	if header == "" {
		return ByteRange{Kind: RangeNone, Last: math.MaxInt64}
	}
	invalid := ByteRange{Kind: RangeInvalid, Last: math.MaxInt64}
	m := rangeRe.FindStringSubmatch(strings.TrimSpace(header))
	if m == nil {
		return invalid
	}
	if m[3] != "" {
		n, err := strconv.ParseInt(m[3], 10, 64)
		if err != nil || n <= 0 {
			return invalid
		}
		return ByteRange{Kind: RangeParsed, First: -n, Last: math.MaxInt64}
	}
	first, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return invalid
	}
	last := int64(math.MaxInt64)
	if m[2] != "" {
		if last, err = strconv.ParseInt(m[2], 10, 64); err != nil {
			return invalid
		}
	}
	if first > last {
		return invalid
	}
	return ByteRange{Kind: RangeParsed, First: first, Last: last}
}

// Resolve clamps the range to size bytes of content.
func (br ByteRange) Resolve(size int64) ByteRange {
	switch br.Kind {
	case RangeNone:
		return ByteRange{Kind: RangeFull, First: 0, Last: size - 1}
	case RangeInvalid:
		return ByteRange{Kind: RangeUnsatisfiable, First: 0, Last: size - 1}
	case RangeParsed:
	default:
		return br
	}
	first := br.First
	if first < 0 {
		first = max(0, size+first)
	}
	last := min(size-1, br.Last)
	if first > last {
		return ByteRange{Kind: RangeUnsatisfiable, First: 0, Last: size - 1}
	}
	return ByteRange{Kind: RangePartial, First: first, Last: last}
}

// Length is the number of bytes covered by a resolved range.
func (br ByteRange) Length() int64 { return br.Last + 1 - br.First }

func isCompressible(mimeType string) bool {
	for _, prefix := range []string{
		"text/",
		"application/javascript",
		"application/json",
		"application/atom",
		"application/opensearchdescription",
	} {
		if strings.Contains(mimeType, prefix) {
			return true
		}
	}
	return false
}

// Response is what a handler produces. It is turned into HTTP by send.
type Response struct {
	Status   int
	MimeType string
	Body     []byte
	Location string

	etag      ETag
	compress  bool
	byteRange ByteRange
	size      int64
	ranges    bool
	raw       bool

	// Range header of the request, kept so the range can be resolved
	// again once the body is decorated.
	requested ByteRange
	item      bool

	// Book shown in the taskbar of decorated HTML pages.
	bookName  string
	bookTitle string
}

func newContentResponse(body []byte, mimeType string) *Response {
	return &Response{
		Status:    http.StatusOK,
		MimeType:  mimeType,
		Body:      body,
		compress:  true,
		byteRange: ByteRange{Kind: RangeFull, Last: int64(len(body)) - 1},
		size:      int64(len(body)),
	}
}

func newRedirectResponse(location string) *Response {
	return &Response{Status: http.StatusFound, Location: location}
}

func newNotModifiedResponse(etag ETag) *Response {
	return &Response{Status: http.StatusNotModified, etag: etag}
}

// newItemResponse serves archive content, honouring the request range.
// Text-like content without a range is compressed instead.
func newItemResponse(req *RequestContext, data []byte, mimeType string) *Response {
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	r := newContentResponse(data, mimeType)
	r.setCacheable()
	r.item = true
	r.requested = req.Range
	r.resolveRange()
	return r
}

// resolveRange resolves the requested range against the current body and
// picks status and compression accordingly.
func (r *Response) resolveRange() {
	r.size = int64(len(r.Body))
	r.byteRange = r.requested.Resolve(r.size)
	r.Status = http.StatusOK
	r.compress = false
	r.ranges = true
	switch r.byteRange.Kind {
	case RangeFull:
		if isCompressible(r.MimeType) {
			r.compress = true
			r.ranges = false
		}
	case RangeUnsatisfiable:
		r.Status = http.StatusRequestedRangeNotSatisfiable
	}
}

func (r *Response) setCacheable() { r.etag.SetOption(optCacheable) }

func (r *Response) setTaskbar(bookName, bookTitle string) {
	r.bookName = bookName
	r.bookTitle = bookTitle
}

func (r *Response) decorationAllowed() bool {
	return !r.raw && strings.HasPrefix(r.MimeType, "text/html")
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// send writes the response. decorate, when not nil, rewrites HTML bodies
// before the range is applied and before compression.
func (r *Response) send(w http.ResponseWriter, req *RequestContext, decorate func(*Response) []byte) error {
	h := w.Header()

	if r.Status == http.StatusFound {
		h.Set("Location", r.Location)
		w.WriteHeader(r.Status)
		return nil
	}

	if decorate != nil && r.decorationAllowed() {
		r.Body = decorate(r)
		if r.item {
			r.resolveRange()
		}
	}
	status := r.Status
	body := r.Body

	if r.MimeType != "" {
		h.Set("Content-Type", r.MimeType)
	}
	h.Set("Access-Control-Allow-Origin", "*")
	if r.etag.HasOption(optCacheable) {
		h.Set("Cache-Control", cacheControlPublic)
	} else {
		h.Set("Cache-Control", cacheControlNoCache)
	}
	if r.ranges {
		h.Set("Accept-Ranges", "bytes")
	}

	if status == http.StatusRequestedRangeNotSatisfiable {
		h.Set("Content-Range", fmt.Sprintf("bytes */%d", r.size))
		w.WriteHeader(status)
		return nil
	}

	if r.compress && req.AcceptGzip && isCompressible(r.MimeType) && len(body) > minGzipSize {
		if zipped, err := gzipBytes(body); err == nil {
			body = zipped
			r.etag.SetOption(optCompressed)
			h.Set("Content-Encoding", "gzip")
		}
	}
	if r.etag.HasOption(optCompressed) {
		h.Set("Vary", "Accept-Encoding")
	}
	if etag := r.etag.String(); etag != "" {
		h.Set("ETag", etag)
	}

	if r.ranges && r.byteRange.Kind == RangePartial {
		if status == http.StatusOK {
			status = http.StatusPartialContent
		}
		h.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", r.byteRange.First, r.byteRange.Last, r.size))
		body = body[r.byteRange.First : r.byteRange.Last+1]
	}

	if status == http.StatusNotModified {
		w.WriteHeader(status)
		return nil
	}

	h.Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	if req.Method == http.MethodHead {
		return nil
	}
	_, err := w.Write(body)
	return err
}
