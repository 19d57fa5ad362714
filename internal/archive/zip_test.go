package archive_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/banux/nxt-zim/internal/archive"
	"github.com/banux/nxt-zim/internal/archive/archivetest"
)

func writeSample(t *testing.T) string {
	t.Helper()
	return archivetest.Write(t, t.TempDir(), "sample_2021-10.zim", archivetest.Package{
		UUID: "2b0c8b0f-8d2d-4a8d-9a3e-0a9c1b7a2f11",
		Metadata: map[string]string{
			"Title":    "Sample",
			"Language": "eng",
			"Tags":     "wikipedia;_ftindex:yes",
		},
		Illustrations: map[uint][]byte{48: archivetest.PNG},
		Content: map[string]string{
			"A/Main":    archivetest.Article("Main page", "Welcome"),
			"A/Second":  archivetest.Article("Second &amp; last", "More text"),
			"I/pic.png": string(archivetest.PNG),
		},
		Redirects: []archivetest.Redirect{{From: "A/Home", To: "A/Main", Title: "Home"}},
		MainPage:  "A/Home",
		Fulltext:  true,
	})
}

func TestOpenZip(t *testing.T) {
	a, err := archive.Open(writeSample(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer a.Close()

	if got, want := a.UUID(), "2b0c8b0f-8d2d-4a8d-9a3e-0a9c1b7a2f11"; got != want {
		t.Errorf("UUID: got %q, want %q", got, want)
	}
	if got, _ := a.Metadata("Title"); got != "Sample" {
		t.Errorf("Title: got %q, want %q", got, "Sample")
	}
	if _, err := a.Metadata("Creator"); !errors.Is(err, archive.ErrMetadataNotFound) {
		t.Errorf("missing metadata: got %v, want ErrMetadataNotFound", err)
	}
	if got := a.ArticleCount(); got != 2 {
		t.Errorf("ArticleCount: got %d, want 2", got)
	}
	if got := a.MediaCount(); got != 1 {
		t.Errorf("MediaCount: got %d, want 1", got)
	}
	if !a.HasFulltextIndex() {
		t.Error("HasFulltextIndex: got false, want true")
	}
	if sizes := a.IllustrationSizes(); len(sizes) != 1 || sizes[0] != 48 {
		t.Errorf("IllustrationSizes: got %v, want [48]", sizes)
	}
	_, mimeType, err := a.Illustration(48)
	if err != nil || mimeType != "image/png" {
		t.Errorf("Illustration: got %q, %v", mimeType, err)
	}
	if !a.Check() {
		t.Error("Check: got false, want true")
	}

	e, err := a.EntryByPath("A/Second")
	if err != nil {
		t.Fatalf("EntryByPath: %v", err)
	}
	if e.Title != "Second & last" {
		t.Errorf("entry title: got %q", e.Title)
	}
	if !strings.HasPrefix(e.MimeType, "text/html") {
		t.Errorf("entry mime: got %q", e.MimeType)
	}
}

func TestReaderFollowsRedirects(t *testing.T) {
	a, err := archive.Open(writeSample(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer a.Close()
	r := archive.NewReader(a)

	main, err := r.MainPage()
	if err != nil {
		t.Fatalf("MainPage: %v", err)
	}
	if main.Path != "A/Main" {
		t.Errorf("MainPage: got %q, want %q", main.Path, "A/Main")
	}

	raw, err := a.EntryByPath("A/Home")
	if err != nil {
		t.Fatalf("EntryByPath: %v", err)
	}
	if !raw.IsRedirect() || raw.Redirect != "A/Main" {
		t.Errorf("raw redirect: got %+v", raw)
	}

	if _, err := r.EntryFromPath("A/Missing"); !errors.Is(err, archive.ErrEntryNotFound) {
		t.Errorf("missing entry: got %v, want ErrEntryNotFound", err)
	}
	if got := r.Title(); got != "Sample" {
		t.Errorf("Title: got %q", got)
	}
}

func TestOpenUnsupported(t *testing.T) {
	if _, err := archive.Open("/tmp/book.epub"); !errors.Is(err, archive.ErrUnsupportedFormat) {
		t.Errorf("got %v, want ErrUnsupportedFormat", err)
	}
}
