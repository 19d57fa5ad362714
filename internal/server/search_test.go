package server

import (
	"encoding/json"
	"math"
	"net/http"
	"strings"
	"testing"

	"github.com/banux/nxt-zim/internal/archive"
	"github.com/banux/nxt-zim/internal/archive/archivetest"
	"github.com/banux/nxt-zim/internal/catalog"
	"github.com/banux/nxt-zim/internal/manager"
)

func TestHandleSearch_HTML(t *testing.T) {
	f := newFixture(t, Options{})
	rr := f.get("/search?content=ray_charles&pattern=pianist")
	if rr.Code != http.StatusOK {
		t.Fatalf("got %d: %s", rr.Code, rr.Body.String())
	}
	body := rr.Body.String()
	if !strings.Contains(body, `href="/content/ray_charles/A/Ray_Charles.html"`) {
		t.Errorf("hit link missing: %s", body)
	}
	if !strings.Contains(body, "Search: pianist") {
		t.Errorf("page title missing: %s", body)
	}
}

func TestHandleSearch_NoResults(t *testing.T) {
	f := newFixture(t, Options{})
	rr := f.get("/search?content=ray_charles&pattern=saxophone")
	if rr.Code != http.StatusOK {
		t.Fatalf("got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "No results were found for") {
		t.Errorf("no-results text missing: %s", rr.Body.String())
	}
}

func TestHandleSearch_Pagination(t *testing.T) {
	f := newFixture(t, Options{})
	rr := f.get("/search?content=ray_charles&pattern=ray&pageLength=1")
	if rr.Code != http.StatusOK {
		t.Fatalf("got %d", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, `class="pagination"`) || !strings.Contains(body, "start=1") {
		t.Errorf("pagination links missing: %s", body)
	}
}

func TestHandleSearch_RSS(t *testing.T) {
	f := newFixture(t, Options{})
	rr := f.get("/search?content=ray_charles&pattern=pianist&format=xml&pageLength=1000")
	if rr.Code != http.StatusOK {
		t.Fatalf("got %d: %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/rss+xml") {
		t.Errorf("Content-Type: got %q", ct)
	}
	body := rr.Body.String()
	for _, want := range []string{
		"<link>/content/ray_charles/A/Ray_Charles.html</link>",
		"<opensearch:totalResults>1</opensearch:totalResults>",
		"<opensearch:itemsPerPage>140</opensearch:itemsPerPage>",
		"<title>Ray Charles</title>",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("rss missing %q:\n%s", want, body)
		}
	}
}

func TestHandleSearch_BookSelection(t *testing.T) {
	tests := []struct {
		name   string
		opts   Options
		target string
		status int
		detail string
	}{
		{
			name:   "unknown content",
			target: "/search?content=nobook&pattern=x",
			status: http.StatusBadRequest,
			detail: "No such book: nobook",
		},
		{
			name:   "empty books.id",
			target: "/search?books.id=&pattern=x",
			status: http.StatusBadRequest,
			detail: "No value provided for argument books.id",
		},
		{
			name:   "unknown books.id",
			target: "/search?books.id=missing&pattern=x",
			status: http.StatusBadRequest,
			detail: "No such book: missing",
		},
		{
			name:   "unknown books.name",
			target: "/search?books.name=ray_charles&books.name=ghost&pattern=x",
			status: http.StatusBadRequest,
			detail: "No such book: ghost",
		},
		{
			name:   "mixed languages",
			target: "/search?books.id=" + rayID + "&books.id=" + parisID + "&pattern=x",
			status: http.StatusBadRequest,
			detail: "different languages",
		},
		{
			name:   "whole library mixes languages",
			target: "/search?pattern=x",
			status: http.StatusBadRequest,
			detail: "different languages",
		},
		{
			name:   "too many books",
			opts:   Options{SearchLimit: 1},
			target: "/search?books.name=ray_charles&books.name=plain&pattern=x",
			status: http.StatusBadRequest,
			detail: "Too many books requested (2) where limit is 1",
		},
		{
			name:   "empty filter",
			target: "/search?books.filter.lang=deu&pattern=x",
			status: http.StatusBadRequest,
			detail: "No book matches selection criteria",
		},
		{
			name:   "no pattern",
			target: "/search?content=ray_charles",
			status: http.StatusBadRequest,
			detail: "No query provided.",
		},
		{
			name:   "no fulltext index",
			target: "/search?content=plain&pattern=pianist",
			status: http.StatusNotFound,
			detail: "Fulltext search unavailable",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.opts)
			rr := f.get(tt.target)
			if rr.Code != tt.status {
				t.Fatalf("status: got %d, want %d", rr.Code, tt.status)
			}
			if !strings.Contains(rr.Body.String(), tt.detail) {
				t.Errorf("body lacks %q: %s", tt.detail, rr.Body.String())
			}
		})
	}
}

func TestHandleSearch_UnmappedBookID(t *testing.T) {
	f := newFixture(t, Options{})
	f.lib.AddBook(catalog.Book{
		ID:       "remote-only",
		Title:    "Remote",
		Language: "eng",
		URL:      "https://download.example.org/remote.zim",
	})

	rr := f.get("/search?books.id=remote-only&pattern=piano")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "No such book: remote-only") {
		t.Errorf("body: %s", rr.Body.String())
	}

	if rr := f.get("/search?books.id=" + rayID + "&pattern=piano"); rr.Code != http.StatusOK {
		t.Errorf("mapped id: got %d, want 200", rr.Code)
	}
}

func TestHandleSearch_FilterSelection(t *testing.T) {
	f := newFixture(t, Options{})
	// ray_charles and plain are English; only ray_charles is indexed.
	rr := f.get("/search?books.filter.lang=eng&pattern=pianist")
	if rr.Code != http.StatusOK {
		t.Fatalf("got %d: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "/content/ray_charles/A/Ray_Charles.html") {
		t.Errorf("hit missing: %s", rr.Body.String())
	}
	if strings.Contains(rr.Body.String(), "/content/plain/") {
		t.Errorf("unindexed book returned hits")
	}
}

func TestHandleSearch_XMLErrors(t *testing.T) {
	f := newFixture(t, Options{})
	rr := f.get("/search?content=nobook&pattern=x&format=xml")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("got %d", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "<error>") || !strings.Contains(body, "<detail>No such book: nobook</detail>") {
		t.Errorf("xml error body: %s", body)
	}
}

func TestSearcherCacheIsShared(t *testing.T) {
	f := newFixture(t, Options{})
	f.get("/search?content=ray_charles&pattern=piano")
	f.get("/search?books.name=ray_charles&pattern=ray")
	if n := f.srv.searchers.Len(); n != 1 {
		t.Errorf("searchers: got %d, want 1", n)
	}
}

func TestObserverDropsStaleSearchers(t *testing.T) {
	f := newFixture(t, Options{})
	f.get("/search?content=ray_charles&pattern=piano")
	f.get("/suggest?content=ray_charles&term=pia")
	f.get("/suggest?content=paris&term=par")
	if f.srv.searchers.Len() != 1 || f.srv.suggesters.Len() != 2 {
		t.Fatalf("caches not filled: %d searchers, %d suggesters", f.srv.searchers.Len(), f.srv.suggesters.Len())
	}

	b, err := f.lib.BookByID(parisID)
	if err != nil {
		t.Fatal(err)
	}
	f.srv.BookWasAdded(b)
	if f.srv.suggesters.Len() != 1 {
		t.Errorf("suggester of the updated book kept")
	}

	f.lib.RemoveBookByID(rayID)
	f.srv.BooksWereRemoved(1)
	if f.srv.searchers.Len() != 0 || f.srv.suggesters.Len() != 0 {
		t.Errorf("caches of removed book kept: %d searchers, %d suggesters", f.srv.searchers.Len(), f.srv.suggesters.Len())
	}
}

func TestMergedBookIsSearchedAgain(t *testing.T) {
	f := newFixture(t, Options{})
	m := manager.NewManipulator(f.lib, f.srv)
	const target = "/search?content=ray_charles&pattern=zanzibar"

	if body := f.get(target).Body.String(); strings.Contains(body, "A/Zanzibar.html") {
		t.Fatalf("unexpected hit before the merge: %s", body)
	}

	p := rayPackage()
	p.Content = map[string]string{
		"A/Zanzibar.html": archivetest.Article("Zanzibar", "<p>An island town called zanzibar.</p>"),
	}
	p.Redirects = nil
	p.MainPage = "A/Zanzibar.html"
	path := archivetest.Write(t, t.TempDir(), "ray_charles.zim", p)
	a, err := archive.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	var b catalog.Book
	b.UpdateFromArchive(a)
	a.Close()

	if m.AddBookToLibrary(b) {
		t.Fatal("same id reported as a new book")
	}
	rr := f.get(target)
	if rr.Code != http.StatusOK {
		t.Fatalf("got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "/content/ray_charles/A/Zanzibar.html") {
		t.Errorf("merged archive not searched: %s", rr.Body.String())
	}
}

func TestOversizedNumericArgs(t *testing.T) {
	const huge = "18446744073709551615"
	f := newFixture(t, Options{})
	for _, target := range []string{
		"/catalog/search?start=" + huge,
		"/catalog/search?count=" + huge,
		"/catalog/v2/entries?count=" + huge,
		"/catalog/v2/entries?start=" + huge + "&count=" + huge,
		"/search?content=ray_charles&pattern=piano&start=" + huge,
		"/search?content=ray_charles&pattern=piano&pageLength=" + huge,
		"/suggest?content=ray_charles&term=pia&start=" + huge,
		"/suggest?content=ray_charles&term=pia&count=" + huge,
	} {
		if rr := f.get(target); rr.Code != http.StatusOK {
			t.Errorf("%s: got %d, want 200", target, rr.Code)
		}
	}
}

func TestRequestContext_IntArgIsBounded(t *testing.T) {
	req := newRequestContext(mustRequest(t, "/search?start=18446744073709551615&count=12"), "")
	if got := req.IntArg("start", 0); got != math.MaxInt32 {
		t.Errorf("start: got %d, want %d", got, math.MaxInt32)
	}
	if got := req.IntArg("count", 5); got != 12 {
		t.Errorf("count: got %d, want 12", got)
	}
	if got := req.IntArg("missing", 5); got != 5 {
		t.Errorf("missing: got %d, want 5", got)
	}
}

func TestHandleSuggest(t *testing.T) {
	f := newFixture(t, Options{})
	rr := f.get("/suggest?content=ray_charles&term=pia")
	if rr.Code != http.StatusOK {
		t.Fatalf("got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type: got %q", ct)
	}

	var got []suggestion
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	want := []suggestion{
		{Label: "Piano", Value: "Piano", Kind: "path", Path: "A/Piano.html", First: true},
		{Label: "containing 'pia'...", Value: "pia ", Kind: "pattern"},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d suggestions, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("suggestion %d: got %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestHandleSuggest_WithoutFulltextIndex(t *testing.T) {
	f := newFixture(t, Options{})
	var got []suggestion
	rr := f.get("/suggest?content=plain&term=home&count=0")
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(got) != 1 || got[0].Kind != "path" || got[0].Path != "A/Home.html" {
		t.Errorf("got %+v", got)
	}
}

func TestHandleSuggest_UnknownBook(t *testing.T) {
	f := newFixture(t, Options{})
	if rr := f.get("/suggest?content=nobook&term=x"); rr.Code != http.StatusNotFound {
		t.Errorf("got %d, want 404", rr.Code)
	}
}

func TestFilterFromArgs(t *testing.T) {
	req := newRequestContext(mustRequest(t, "/x?books.filter.lang=eng&books.filter.tag=wikipedia%3B_ftindex:yes&books.filter.maxsize=bad"), "")
	filter := filterFromArgs(req, "books.filter.")

	ray := catalog.Book{ID: "1", Path: "/a.zim", PathValid: true, Language: "eng", Tags: "wikipedia;_ftindex:yes"}
	if !filter.Accept(&ray) {
		t.Errorf("matching book rejected")
	}
	noTag := ray
	noTag.Tags = "wikipedia"
	if filter.Accept(&noTag) {
		t.Errorf("book without the _ftindex tag accepted")
	}
	remote := ray
	remote.Path, remote.PathValid = "", false
	if filter.Accept(&remote) {
		t.Errorf("remote book accepted by the valid+local base filter")
	}
}
