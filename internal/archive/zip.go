package archive

import (
	"archive/zip"
	"bufio"
	"fmt"
	"html"
	"io"
	"math/rand/v2"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Namespace prefixes inside a zip package.
const (
	nsMetadata = "M/"
	nsContent  = "C/"

	mainPageFile  = "W/mainPage"
	redirectsFile = "X/redirects.tsv"
	fulltextDir   = "X/fulltext/"

	illustrationPrefix = "Illustration_"
)

// ZipArchive reads a zip file laid out like a ZIM archive.
type ZipArchive struct {
	path     string
	zr       *zip.ReadCloser
	fileSize int64
	id       string

	metadata      map[string]*zip.File
	content       map[string]*zip.File
	illustrations map[uint]*zip.File

	entries  []Entry
	byPath   map[string]int
	byTitle  map[string]int
	articles []int
	mainPath string
	fulltext bool
}

var _ Archive = (*ZipArchive)(nil)

// OpenZip opens and indexes a zip package.
func OpenZip(path string) (*ZipArchive, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open archive %q: %w", path, err)
	}

	a := &ZipArchive{
		path:          path,
		zr:            zr,
		metadata:      make(map[string]*zip.File),
		content:       make(map[string]*zip.File),
		illustrations: make(map[uint]*zip.File),
		byPath:        make(map[string]int),
		byTitle:       make(map[string]int),
	}
	if info, err := os.Stat(path); err == nil {
		a.fileSize = info.Size()
	}
	a.id = archiveID(zr.Comment, path)

	var redirects *zip.File
	for _, f := range zr.File {
		switch {
		case strings.HasPrefix(f.Name, nsMetadata):
			key := strings.TrimPrefix(f.Name, nsMetadata)
			a.metadata[key] = f
			if size, ok := illustrationSize(key); ok {
				a.illustrations[size] = f
			}
		case strings.HasPrefix(f.Name, nsContent):
			if !strings.HasSuffix(f.Name, "/") {
				a.content[strings.TrimPrefix(f.Name, nsContent)] = f
			}
		case f.Name == mainPageFile:
			data, err := readZipFile(f, 4096)
			if err == nil {
				a.mainPath = strings.TrimSpace(string(data))
			}
		case f.Name == redirectsFile:
			redirects = f
		case strings.HasPrefix(f.Name, fulltextDir):
			a.fulltext = true
		}
	}

	for p, f := range a.content {
		a.entries = append(a.entries, contentEntry(p, f))
	}
	if redirects != nil {
		if err := a.loadRedirects(redirects); err != nil {
			zr.Close()
			return nil, fmt.Errorf("archive %q redirects: %w", path, err)
		}
	}
	sort.Slice(a.entries, func(i, j int) bool { return a.entries[i].Path < a.entries[j].Path })

	for i, e := range a.entries {
		a.byPath[e.Path] = i
		if _, ok := a.byTitle[e.Title]; !ok {
			a.byTitle[e.Title] = i
		}
		if e.IsArticle() {
			a.articles = append(a.articles, i)
		}
	}
	return a, nil
}

func (a *ZipArchive) loadRedirects(f *zip.File) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	sc := bufio.NewScanner(rc)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 2 {
			continue
		}
		e := Entry{Path: fields[0], Redirect: fields[1], Title: baseTitle(fields[0])}
		if len(fields) > 2 && fields[2] != "" {
			e.Title = fields[2]
		}
		a.entries = append(a.entries, e)
	}
	return sc.Err()
}

func contentEntry(p string, f *zip.File) Entry {
	e := Entry{
		Path:     p,
		Title:    baseTitle(p),
		MimeType: mime.TypeByExtension(strings.ToLower(filepath.Ext(p))),
		Size:     int64(f.UncompressedSize64),
	}
	if e.MimeType == "" || strings.HasPrefix(e.MimeType, "text/html") {
		head, err := readZipFile(f, 16*1024)
		if err == nil {
			if e.MimeType == "" {
				e.MimeType = http.DetectContentType(head)
			}
			if strings.HasPrefix(e.MimeType, "text/html") {
				if t := findTitle(string(head)); t != "" {
					e.Title = t
				}
			}
		}
	}
	return e
}

// findTitle returns the text of the first <title> element.
func findTitle(doc string) string {
	lower := strings.ToLower(doc)
	start := strings.Index(lower, "<title")
	if start == -1 {
		return ""
	}
	open := strings.IndexByte(lower[start:], '>')
	if open == -1 {
		return ""
	}
	rest := doc[start+open+1:]
	end := strings.Index(strings.ToLower(rest), "</title>")
	if end == -1 {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(rest[:end]))
}

func baseTitle(p string) string {
	name := p
	if i := strings.LastIndexByte(name, '/'); i != -1 {
		name = name[i+1:]
	}
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// illustrationSize parses keys like "Illustration_48x48@1".
func illustrationSize(key string) (uint, bool) {
	if !strings.HasPrefix(key, illustrationPrefix) {
		return 0, false
	}
	dims := strings.TrimPrefix(key, illustrationPrefix)
	if i := strings.IndexByte(dims, '@'); i != -1 {
		dims = dims[:i]
	}
	w, h, ok := strings.Cut(dims, "x")
	if !ok || w != h {
		return 0, false
	}
	n, err := strconv.ParseUint(w, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint(n), true
}

func archiveID(comment, path string) string {
	if id, err := uuid.Parse(strings.TrimSpace(comment)); err == nil {
		return id.String()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("file://"+filepath.ToSlash(abs))).String()
}

func readZipFile(f *zip.File, limit int64) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	if limit > 0 {
		return io.ReadAll(io.LimitReader(rc, limit))
	}
	return io.ReadAll(rc)
}

func (a *ZipArchive) Filename() string { return a.path }

func (a *ZipArchive) UUID() string { return a.id }

func (a *ZipArchive) Metadata(key string) (string, error) {
	f, ok := a.metadata[key]
	if !ok {
		return "", fmt.Errorf("%s: %w", key, ErrMetadataNotFound)
	}
	data, err := readZipFile(f, 0)
	if err != nil {
		return "", fmt.Errorf("read metadata %s: %w", key, err)
	}
	return string(data), nil
}

func (a *ZipArchive) MetadataKeys() []string {
	keys := make([]string, 0, len(a.metadata))
	for k := range a.metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (a *ZipArchive) EntryByPath(path string) (Entry, error) {
	i, ok := a.byPath[path]
	if !ok {
		return Entry{}, fmt.Errorf("%q: %w", path, ErrEntryNotFound)
	}
	return a.entries[i], nil
}

func (a *ZipArchive) EntryByTitle(title string) (Entry, error) {
	i, ok := a.byTitle[title]
	if !ok {
		return Entry{}, fmt.Errorf("title %q: %w", title, ErrEntryNotFound)
	}
	return a.entries[i], nil
}

func (a *ZipArchive) Entries() []Entry {
	out := make([]Entry, len(a.entries))
	copy(out, a.entries)
	return out
}

func (a *ZipArchive) ReadEntry(path string) ([]byte, error) {
	f, ok := a.content[path]
	if !ok {
		return nil, fmt.Errorf("%q: %w", path, ErrEntryNotFound)
	}
	data, err := readZipFile(f, 0)
	if err != nil {
		return nil, fmt.Errorf("read entry %q: %w", path, err)
	}
	return data, nil
}

func (a *ZipArchive) MainEntry() (Entry, error) {
	if a.mainPath == "" {
		return Entry{}, fmt.Errorf("main page: %w", ErrEntryNotFound)
	}
	return a.EntryByPath(a.mainPath)
}

func (a *ZipArchive) RandomEntry() (Entry, error) {
	if len(a.articles) == 0 {
		return Entry{}, fmt.Errorf("random article: %w", ErrEntryNotFound)
	}
	return a.entries[a.articles[rand.IntN(len(a.articles))]], nil
}

func (a *ZipArchive) HasFulltextIndex() bool { return a.fulltext }

func (a *ZipArchive) IllustrationSizes() []uint {
	sizes := make([]uint, 0, len(a.illustrations))
	for s := range a.illustrations {
		sizes = append(sizes, s)
	}
	sort.Slice(sizes, func(i, j int) bool { return sizes[i] < sizes[j] })
	return sizes
}

func (a *ZipArchive) Illustration(size uint) ([]byte, string, error) {
	f, ok := a.illustrations[size]
	if !ok {
		return nil, "", fmt.Errorf("illustration %dx%d: %w", size, size, ErrMetadataNotFound)
	}
	data, err := readZipFile(f, 0)
	if err != nil {
		return nil, "", fmt.Errorf("read illustration: %w", err)
	}
	return data, http.DetectContentType(data), nil
}

func (a *ZipArchive) ArticleCount() uint64 { return uint64(len(a.articles)) }

func (a *ZipArchive) MediaCount() uint64 {
	var n uint64
	for _, e := range a.entries {
		if !e.IsRedirect() && !strings.HasPrefix(e.MimeType, "text/") {
			n++
		}
	}
	return n
}

func (a *ZipArchive) FileSize() int64 { return a.fileSize }

func (a *ZipArchive) HasChecksum() bool { return true }

// Check reads every member to the end so the zip reader validates its CRC.
func (a *ZipArchive) Check() bool {
	for _, f := range a.zr.File {
		rc, err := f.Open()
		if err != nil {
			return false
		}
		_, err = io.Copy(io.Discard, rc)
		rc.Close()
		if err != nil {
			return false
		}
	}
	return true
}

func (a *ZipArchive) Close() error { return a.zr.Close() }
