package server

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/banux/nxt-zim/internal/catalog"
)

func TestServeHTTP_RejectsUnknownMethods(t *testing.T) {
	f := newFixture(t, Options{})
	rr := f.do(http.MethodPut, "/", nil)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("PUT /: got %d, want 405", rr.Code)
	}
}

func TestServeHTTP_Root(t *testing.T) {
	f := newFixture(t, Options{Root: "wiki/"})

	rr := f.get("/wiki")
	if rr.Code != http.StatusFound {
		t.Fatalf("GET /wiki: got %d, want 302", rr.Code)
	}
	if loc := rr.Header().Get("Location"); loc != "/wiki/" {
		t.Errorf("Location: got %q, want /wiki/", loc)
	}

	rr = f.get("/elsewhere/page")
	if rr.Code != http.StatusNotFound {
		t.Errorf("GET outside root: got %d, want 404", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "is not a valid request") {
		t.Errorf("invalid URL page: %s", rr.Body.String())
	}

	rr = f.get("/wiki/")
	if rr.Code != http.StatusOK {
		t.Fatalf("GET /wiki/: got %d, want 200", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `href="/wiki/content/ray_charles"`) {
		t.Errorf("homepage does not link the book under the root: %s", rr.Body.String())
	}
}

func TestHandleHomepage_ListsLocalBooks(t *testing.T) {
	f := newFixture(t, Options{})
	rr := f.get("/")
	if rr.Code != http.StatusOK {
		t.Fatalf("got %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{"Ray Charles", "Paris", "Plain", "/catalog/v2/illustration/" + rayID} {
		if !strings.Contains(body, want) {
			t.Errorf("homepage missing %q", want)
		}
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Errorf("Content-Type: got %q", ct)
	}
}

func TestHandleHomepage_CustomIndex(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/index.html"
	if err := writeFile(path, "<html><body>custom</body></html>"); err != nil {
		t.Fatal(err)
	}
	f := newFixture(t, Options{CustomIndex: path})
	rr := f.get("/")
	if rr.Body.String() != "<html><body>custom</body></html>" {
		t.Errorf("got %q", rr.Body.String())
	}
}

func TestETag_NotModifiedUntilLibraryChanges(t *testing.T) {
	f := newFixture(t, Options{})
	const target = "/content/ray_charles/A/Piano.html"

	rr := f.get(target)
	etag := rr.Header().Get("ETag")
	if etag == "" {
		t.Fatal("content response has no ETag")
	}
	if !strings.HasPrefix(etag, `"`+f.srv.etagBody()+"/") {
		t.Errorf("ETag %q does not carry the server id and revision", etag)
	}

	rr = f.do(http.MethodGet, target, hdr("If-None-Match", `W/"other/Z", `+etag))
	if rr.Code != http.StatusNotModified {
		t.Fatalf("matching If-None-Match: got %d, want 304", rr.Code)
	}
	if rr.Body.Len() != 0 {
		t.Errorf("304 has a body")
	}

	f.lib.AddBook(catalog.Book{ID: "remote", URL: "http://example.org/remote.zim"})
	rr = f.do(http.MethodGet, target, hdr("If-None-Match", etag))
	if rr.Code != http.StatusOK {
		t.Fatalf("after a library change: got %d, want 200", rr.Code)
	}
	if rr.Header().Get("ETag") == etag {
		t.Errorf("ETag did not change with the revision")
	}
}

func TestETag_NotSetOnVolatileRoutes(t *testing.T) {
	f := newFixture(t, Options{})
	for _, target := range []string{
		"/catalog/v2/root.xml",
		"/suggest?content=ray_charles&term=pia",
		"/search?content=ray_charles&pattern=piano",
		"/catch/external?source=http%3A%2F%2Fexample.org",
	} {
		rr := f.get(target)
		if rr.Code != http.StatusOK {
			t.Errorf("%s: got %d", target, rr.Code)
			continue
		}
		if etag := rr.Header().Get("ETag"); etag != "" {
			t.Errorf("%s: unexpected ETag %q", target, etag)
		}
	}
}

func TestHandleContent_Redirects(t *testing.T) {
	f := newFixture(t, Options{})
	tests := []struct {
		target, location string
	}{
		{"/content/ray_charles", "/content/ray_charles/A/Ray_Charles.html"},
		{"/content/ray_charles/", "/content/ray_charles/A/Ray_Charles.html"},
		{"/content/ray_charles/A/Ray", "/content/ray_charles/A/Ray_Charles.html"},
		{"/content/", "/"},
		{"/ray_charles/A/Piano.html", "/content/ray_charles/A/Piano.html"},
	}
	for _, tt := range tests {
		rr := f.get(tt.target)
		if rr.Code != http.StatusFound {
			t.Errorf("%s: got %d, want 302", tt.target, rr.Code)
			continue
		}
		if loc := rr.Header().Get("Location"); loc != tt.location {
			t.Errorf("%s: Location got %q, want %q", tt.target, loc, tt.location)
		}
	}
}

func TestHandleContent_NotFound(t *testing.T) {
	f := newFixture(t, Options{})

	rr := f.get("/content/nobook/A/Thing")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unknown book: got %d, want 404", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "/search?pattern=Thing") {
		t.Errorf("unknown book page lacks a library-wide search link: %s", body)
	}
	if !strings.Contains(body, "Make a full text search for Thing") {
		t.Errorf("unknown book page lacks the suggestion text: %s", body)
	}

	rr = f.get("/content/ray_charles/A/Missing")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("missing entry: got %d, want 404", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "content=ray_charles") {
		t.Errorf("missing entry page lacks a book search link: %s", rr.Body.String())
	}
}

func TestHandleContent_ServesItems(t *testing.T) {
	f := newFixture(t, Options{})
	rr := f.get("/content/ray_charles/-/style.css")
	if rr.Code != http.StatusOK {
		t.Fatalf("got %d, want 200", rr.Code)
	}
	if rr.Body.String() != "body { color: black; }" {
		t.Errorf("body: got %q", rr.Body.String())
	}
	if !strings.HasPrefix(rr.Header().Get("Content-Type"), "text/css") {
		t.Errorf("Content-Type: got %q", rr.Header().Get("Content-Type"))
	}
	if cc := rr.Header().Get("Cache-Control"); cc != cacheControlPublic {
		t.Errorf("Cache-Control: got %q", cc)
	}
	if acao := rr.Header().Get("Access-Control-Allow-Origin"); acao != "*" {
		t.Errorf("Access-Control-Allow-Origin: got %q", acao)
	}
}

func TestHandleContent_ByteRanges(t *testing.T) {
	f := newFixture(t, Options{})
	const target = "/content/ray_charles/I/pixel.png"

	rr := f.get(target)
	if rr.Code != http.StatusOK || rr.Body.Len() != len(pixel) {
		t.Fatalf("full: got %d with %d bytes", rr.Code, rr.Body.Len())
	}
	if rr.Header().Get("Accept-Ranges") != "bytes" {
		t.Errorf("Accept-Ranges missing")
	}

	rr = f.do(http.MethodGet, target, hdr("Range", "bytes=0-9"))
	if rr.Code != http.StatusPartialContent {
		t.Fatalf("range: got %d, want 206", rr.Code)
	}
	if cr := rr.Header().Get("Content-Range"); cr != "bytes 0-9/100" {
		t.Errorf("Content-Range: got %q", cr)
	}
	if !bytes.Equal(rr.Body.Bytes(), pixel[:10]) {
		t.Errorf("range body: got %q", rr.Body.Bytes())
	}

	rr = f.do(http.MethodGet, target, hdr("Range", "bytes=-5"))
	if cr := rr.Header().Get("Content-Range"); cr != "bytes 95-99/100" {
		t.Errorf("suffix Content-Range: got %q", cr)
	}

	rr = f.do(http.MethodGet, target, hdr("Range", "bytes=200-"))
	if rr.Code != http.StatusRequestedRangeNotSatisfiable {
		t.Fatalf("past the end: got %d, want 416", rr.Code)
	}
	if cr := rr.Header().Get("Content-Range"); cr != "bytes */100" {
		t.Errorf("416 Content-Range: got %q", cr)
	}
}

func TestHandleContent_Gzip(t *testing.T) {
	f := newFixture(t, Options{})
	rr := f.do(http.MethodGet, "/content/ray_charles/A/notes.txt", hdr("Accept-Encoding", "gzip, deflate"))
	if rr.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("Content-Encoding: got %q", rr.Header().Get("Content-Encoding"))
	}
	if rr.Header().Get("Vary") != "Accept-Encoding" {
		t.Errorf("Vary: got %q", rr.Header().Get("Vary"))
	}
	if etag := rr.Header().Get("ETag"); !strings.HasSuffix(etag, `/Zz"`) {
		t.Errorf("ETag options: got %q", etag)
	}
	zr, err := gzip.NewReader(rr.Body)
	if err != nil {
		t.Fatal(err)
	}
	data, err := io.ReadAll(zr)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != longText {
		t.Errorf("decompressed body differs")
	}

	// Ranged responses are never compressed.
	rr = f.do(http.MethodGet, "/content/ray_charles/A/notes.txt", hdr("Accept-Encoding", "gzip", "Range", "bytes=0-2"))
	if rr.Header().Get("Content-Encoding") != "" || rr.Body.String() != "Ray" {
		t.Errorf("ranged: encoding %q body %q", rr.Header().Get("Content-Encoding"), rr.Body.String())
	}
}

func TestHandleContent_Head(t *testing.T) {
	f := newFixture(t, Options{})
	rr := f.do(http.MethodHead, "/content/ray_charles/-/style.css", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("got %d", rr.Code)
	}
	if rr.Body.Len() != 0 {
		t.Errorf("HEAD returned a body")
	}
	if rr.Header().Get("Content-Length") != "22" {
		t.Errorf("Content-Length: got %q", rr.Header().Get("Content-Length"))
	}
}

func TestHandleContent_Taskbar(t *testing.T) {
	f := newFixture(t, Options{WithTaskbar: true})
	body := f.get("/content/ray_charles/A/Piano.html").Body.String()
	i := strings.Index(body, `id="nxt-taskbar"`)
	if i < 0 {
		t.Fatalf("taskbar not injected: %s", body)
	}
	if i < strings.Index(body, "<body>") {
		t.Errorf("taskbar injected before <body>")
	}
	if !strings.Contains(body, `data-book="ray_charles"`) {
		t.Errorf("taskbar does not name the book")
	}

	raw := f.get("/raw/ray_charles/content/A/Piano.html").Body.String()
	if strings.Contains(raw, "nxt-taskbar") {
		t.Errorf("raw content was decorated")
	}
}

func TestHandleContent_TaskbarWithRange(t *testing.T) {
	f := newFixture(t, Options{WithTaskbar: true})
	const target = "/content/ray_charles/A/Piano.html"
	full := f.get(target).Body.Bytes()
	if !bytes.Contains(full, []byte("nxt-taskbar")) {
		t.Fatalf("taskbar not injected")
	}
	size := len(full)

	rr := f.do(http.MethodGet, target, hdr("Range", "bytes=0-"))
	if rr.Code != http.StatusPartialContent {
		t.Fatalf("got %d, want 206", rr.Code)
	}
	if cr, want := rr.Header().Get("Content-Range"), fmt.Sprintf("bytes 0-%d/%d", size-1, size); cr != want {
		t.Errorf("Content-Range: got %q, want %q", cr, want)
	}
	if !bytes.Equal(rr.Body.Bytes(), full) {
		t.Errorf("ranged body differs from the decorated page")
	}

	rr = f.do(http.MethodGet, target, hdr("Range", "bytes=-10"))
	if !bytes.Equal(rr.Body.Bytes(), full[size-10:]) {
		t.Errorf("suffix: got %q, want %q", rr.Body.Bytes(), full[size-10:])
	}

	rr = f.do(http.MethodGet, target, hdr("Range", fmt.Sprintf("bytes=%d-", size)))
	if rr.Code != http.StatusRequestedRangeNotSatisfiable {
		t.Fatalf("past the end: got %d, want 416", rr.Code)
	}
	if cr, want := rr.Header().Get("Content-Range"), fmt.Sprintf("bytes */%d", size); cr != want {
		t.Errorf("416 Content-Range: got %q, want %q", cr, want)
	}
}

func TestHandleContent_UnsatisfiableRangeHeaders(t *testing.T) {
	f := newFixture(t, Options{})
	rr := f.do(http.MethodGet, "/content/ray_charles/I/pixel.png", hdr("Range", "bytes=200-"))
	if rr.Code != http.StatusRequestedRangeNotSatisfiable {
		t.Fatalf("got %d, want 416", rr.Code)
	}
	for name, want := range map[string]string{
		"Access-Control-Allow-Origin": "*",
		"Cache-Control":               cacheControlPublic,
		"Accept-Ranges":               "bytes",
	} {
		if got := rr.Header().Get(name); got != want {
			t.Errorf("%s: got %q, want %q", name, got, want)
		}
	}
	if rr.Body.Len() != 0 {
		t.Errorf("416 carried a body")
	}
}

func TestHandleContent_BlockExternalLinks(t *testing.T) {
	f := newFixture(t, Options{BlockExternalLinks: true})
	body := f.get("/content/ray_charles/A/Ray_Charles.html").Body.String()
	want := `href="/catch/external?source=https%3A%2F%2Fen.wikipedia.org%2Fwiki%2FRay_Charles"`
	if !strings.Contains(body, want) {
		t.Errorf("external link not rewritten: %s", body)
	}
}

func TestHandleRaw(t *testing.T) {
	f := newFixture(t, Options{})

	rr := f.get("/raw/ray_charles/meta/Title")
	if rr.Code != http.StatusOK || rr.Body.String() != "Ray Charles" {
		t.Errorf("meta: got %d %q", rr.Code, rr.Body.String())
	}

	rr = f.get("/raw/ray_charles/content/A/Ray")
	if rr.Code != http.StatusFound {
		t.Fatalf("redirect entry: got %d, want 302", rr.Code)
	}
	if loc := rr.Header().Get("Location"); loc != "/content/ray_charles/A/Ray_Charles.html" {
		t.Errorf("Location: got %q", loc)
	}

	rr = f.get("/raw/ray_charles/foo/A/Ray")
	if rr.Code != http.StatusNotFound || !strings.Contains(rr.Body.String(), "foo is not a valid request for raw content.") {
		t.Errorf("bad kind: got %d %s", rr.Code, rr.Body.String())
	}

	rr = f.get("/raw/ray_charles/meta/Nope")
	if rr.Code != http.StatusNotFound || !strings.Contains(rr.Body.String(), "Cannot find meta entry Nope") {
		t.Errorf("missing meta: got %d %s", rr.Code, rr.Body.String())
	}

	rr = f.get("/raw/nobook/meta/Title")
	if rr.Code != http.StatusNotFound || !strings.Contains(rr.Body.String(), "No such book: nobook") {
		t.Errorf("missing book: got %d %s", rr.Code, rr.Body.String())
	}
}

func TestHandleRandom(t *testing.T) {
	f := newFixture(t, Options{})
	rr := f.get("/random?content=ray_charles")
	if rr.Code != http.StatusFound {
		t.Fatalf("got %d, want 302", rr.Code)
	}
	if loc := rr.Header().Get("Location"); !strings.HasPrefix(loc, "/content/ray_charles/A/") {
		t.Errorf("Location: got %q", loc)
	}

	rr = f.get("/random?content=nobook")
	if rr.Code != http.StatusNotFound {
		t.Errorf("unknown book: got %d, want 404", rr.Code)
	}
}

func TestHandleCapturedExternal(t *testing.T) {
	f := newFixture(t, Options{})
	rr := f.get("/catch/external?source=https%3A%2F%2Fexample.org%2Fpage")
	if rr.Code != http.StatusOK {
		t.Fatalf("got %d, want 200", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "https://example.org/page") {
		t.Errorf("page does not show the source: %s", rr.Body.String())
	}

	if rr := f.get("/catch/external"); rr.Code != http.StatusNotFound {
		t.Errorf("without source: got %d, want 404", rr.Code)
	}
}

func TestHandleSkin(t *testing.T) {
	f := newFixture(t, Options{})
	rr := f.get("/skin/index.css")
	if rr.Code != http.StatusOK {
		t.Fatalf("got %d", rr.Code)
	}
	if !strings.HasPrefix(rr.Header().Get("Content-Type"), "text/css") {
		t.Errorf("Content-Type: got %q", rr.Header().Get("Content-Type"))
	}
	if rr.Header().Get("Cache-Control") != cacheControlPublic {
		t.Errorf("skin is not cacheable")
	}
	if rr := f.get("/skin/missing.css"); rr.Code != http.StatusNotFound {
		t.Errorf("missing asset: got %d", rr.Code)
	}
}

func TestHandleViewerSettings(t *testing.T) {
	f := newFixture(t, Options{Root: "/kiwix", WithTaskbar: true})
	rr := f.get("/kiwix/viewer_settings.js")
	body := rr.Body.String()
	if !strings.Contains(body, `root: "/kiwix"`) || !strings.Contains(body, "toolbarEnabled: true") {
		t.Errorf("settings: %s", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, Options{})
	f.get("/")
	rr := f.get("/metrics")
	if rr.Code != http.StatusOK {
		t.Fatalf("got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "zim_http_requests_total") {
		t.Errorf("metrics output lacks request counter")
	}
}

func TestErrorPages_UserLanguage(t *testing.T) {
	f := newFixture(t, Options{})

	rr := f.do(http.MethodGet, "/content/nobook/A/x", hdr("Accept-Language", "fr-FR,fr;q=0.9"))
	if !strings.Contains(rr.Body.String(), "Contenu introuvable") {
		t.Errorf("french page expected: %s", rr.Body.String())
	}

	rr = f.do(http.MethodGet, "/content/nobook/A/x?userlang=en", hdr("Accept-Language", "fr"))
	if !strings.Contains(rr.Body.String(), "Content not found") {
		t.Errorf("userlang must win over Accept-Language: %s", rr.Body.String())
	}
}

func TestDispatch_RecoversPanics(t *testing.T) {
	f := newFixture(t, Options{})
	req := newRequestContext(mustRequest(t, "/boom"), "")
	rt := &route{name: "boom", fn: func(*RequestContext) (*Response, error) {
		panic("kaboom")
	}}
	resp := f.srv.dispatch(rt, req)
	if resp.Status != http.StatusInternalServerError {
		t.Errorf("status: got %d, want 500", resp.Status)
	}
	if !strings.Contains(string(resp.Body), "internal server error") {
		t.Errorf("body: %s", resp.Body)
	}
}
