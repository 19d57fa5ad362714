// Package archivetest builds small zip packages for tests.
package archivetest

import (
	"archive/zip"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

// PNG is the signature of a PNG file, enough for content sniffing.
var PNG = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x30\x00\x00\x00\x30")

// Redirect is one line of the redirect table.
type Redirect struct {
	From, To, Title string
}

// Package describes the archive to write.
type Package struct {
	UUID          string
	Metadata      map[string]string
	Illustrations map[uint][]byte
	Content       map[string]string
	Redirects     []Redirect
	MainPage      string
	Fulltext      bool
}

// Write creates dir/name and returns its path.
func Write(t testing.TB, dir, name string, p Package) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create archive: %v", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	if p.UUID != "" {
		if err := zw.SetComment(p.UUID); err != nil {
			t.Fatalf("set comment: %v", err)
		}
	}

	add := func(name string, data []byte) {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create %s: %v", name, err)
		}
		if _, err := w.Write(data); err != nil {
			t.Fatalf("zip write %s: %v", name, err)
		}
	}

	for _, k := range sortedKeys(p.Metadata) {
		add("M/"+k, []byte(p.Metadata[k]))
	}
	for size, data := range p.Illustrations {
		add(fmt.Sprintf("M/Illustration_%dx%d@1", size, size), data)
	}
	for _, k := range sortedKeys(p.Content) {
		add("C/"+k, []byte(p.Content[k]))
	}
	if p.MainPage != "" {
		add("W/mainPage", []byte(p.MainPage))
	}
	if len(p.Redirects) > 0 {
		var sb strings.Builder
		for _, r := range p.Redirects {
			fmt.Fprintf(&sb, "%s\t%s\t%s\n", r.From, r.To, r.Title)
		}
		add("X/redirects.tsv", []byte(sb.String()))
	}
	if p.Fulltext {
		add("X/fulltext/marker", []byte("1"))
	}

	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return path
}

// Article returns a minimal HTML page.
func Article(title, body string) string {
	return "<html><head><title>" + title + "</title></head><body>" + body + "</body></html>"
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
