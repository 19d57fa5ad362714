package server

import (
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/banux/nxt-zim/internal/archive"
	"github.com/banux/nxt-zim/internal/archive/archivetest"
	"github.com/banux/nxt-zim/internal/catalog"
	"github.com/banux/nxt-zim/internal/library"
	"github.com/banux/nxt-zim/internal/namemapper"
)

func testID(name string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}

var (
	rayID   = testID("ray_charles")
	parisID = testID("paris")
	plainID = testID("plain")
)

// pixel is a PNG padded to a known size, served without compression.
var pixel = append(append([]byte{}, archivetest.PNG...), []byte(strings.Repeat("x", 100-len(archivetest.PNG)))...)

var longText = strings.Repeat("Ray Charles played the piano. ", 20)

func rayPackage() archivetest.Package {
	return archivetest.Package{
		UUID: rayID,
		Metadata: map[string]string{
			"Title":       "Ray Charles",
			"Description": "Wikipedia articles about Ray Charles",
			"Language":    "eng",
			"Creator":     "Wikipedia",
			"Publisher":   "Kiwix",
			"Date":        "2020-03-31",
			"Name":        "wikipedia_en_ray_charles",
			"Tags":        "wikipedia;_category:wikipedia;_ftindex:yes",
		},
		Illustrations: map[uint][]byte{48: archivetest.PNG},
		Content: map[string]string{
			"A/Ray_Charles.html": archivetest.Article("Ray Charles",
				`<p>Ray Charles was an American singer and pianist.</p><a href="https://en.wikipedia.org/wiki/Ray_Charles">source</a>`),
			"A/Piano.html":   archivetest.Article("Piano", "<p>The piano is a keyboard instrument.</p>"),
			"A/Georgia.html": archivetest.Article("Georgia on My Mind", "<p>A song recorded by Ray Charles.</p>"),
			"A/Long.html":    archivetest.Article("Long", "<p>"+longText+"</p>"),
			"-/style.css":    "body { color: black; }",
			"I/pixel.png":    string(pixel),
			"A/notes.txt":    longText,
		},
		Redirects: []archivetest.Redirect{{From: "A/Ray", To: "A/Ray_Charles.html", Title: "Ray"}},
		MainPage:  "A/Ray_Charles.html",
		Fulltext:  true,
	}
}

func parisPackage() archivetest.Package {
	return archivetest.Package{
		UUID: parisID,
		Metadata: map[string]string{
			"Title":    "Paris",
			"Language": "fra",
			"Name":     "wikipedia_fr_paris",
			"Tags":     "wikipedia;_ftindex:yes",
		},
		Content: map[string]string{
			"A/Paris.html": archivetest.Article("Paris", "<p>Paris est la capitale de la France.</p>"),
		},
		MainPage: "A/Paris.html",
		Fulltext: true,
	}
}

func plainPackage() archivetest.Package {
	return archivetest.Package{
		UUID: plainID,
		Metadata: map[string]string{
			"Title":    "Plain",
			"Language": "eng",
			"Name":     "plain",
		},
		Content: map[string]string{
			"A/Home.html": archivetest.Article("Home", "<p>No index here, only a pianist.</p>"),
		},
	}
}

type fixture struct {
	t   *testing.T
	srv *Server
	lib *library.Library
	dir string
}

// newFixture serves ray_charles.zim, paris.zim and plain.zim.
func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	dir := t.TempDir()
	lib := library.New(nil)
	f := &fixture{t: t, lib: lib, dir: dir}
	f.addArchive("ray_charles.zim", rayPackage())
	f.addArchive("paris.zim", parisPackage())
	f.addArchive("plain.zim", plainPackage())

	opts.Logger = zerolog.Nop()
	srv, err := New(lib, namemapper.NewHumanReadable(lib, false, zerolog.Nop()), opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.srv = srv
	return f
}

func (f *fixture) addArchive(name string, p archivetest.Package) catalog.Book {
	f.t.Helper()
	path := archivetest.Write(f.t, f.dir, name, p)
	a, err := archive.Open(path)
	if err != nil {
		f.t.Fatalf("open %s: %v", name, err)
	}
	defer a.Close()
	var b catalog.Book
	b.UpdateFromArchive(a)
	f.lib.AddBook(b)
	return b
}

func (f *fixture) do(method, target string, header http.Header) *httptest.ResponseRecorder {
	f.t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rr := httptest.NewRecorder()
	f.srv.ServeHTTP(rr, req)
	return rr
}

func (f *fixture) get(target string) *httptest.ResponseRecorder {
	f.t.Helper()
	return f.do(http.MethodGet, target, nil)
}

func hdr(kv ...string) http.Header {
	h := http.Header{}
	for i := 0; i+1 < len(kv); i += 2 {
		h.Set(kv[i], kv[i+1])
	}
	return h
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}

func mustRequest(t *testing.T, target string) *http.Request {
	t.Helper()
	return httptest.NewRequest(http.MethodGet, target, nil)
}
