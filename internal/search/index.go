package search

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/banux/nxt-zim/internal/archive"
)

// Source is one book to index.
type Source struct {
	BookID  string
	Archive archive.Archive
}

type document struct {
	Book    string `json:"book"`
	Path    string `json:"path"`
	Title   string `json:"title"`
	Content string `json:"content"`
	Words   int    `json:"words"`
}

const batchSize = 256

// IndexSearcher is an in-memory full-text index over the HTML articles of
// its sources.
type IndexSearcher struct {
	index bleve.Index
}

var _ Searcher = (*IndexSearcher)(nil)

// NewIndexSearcher indexes every article of the given sources.
func NewIndexSearcher(sources []Source) (*IndexSearcher, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("create index: %w", err)
	}

	batch := idx.NewBatch()
	flush := func() error {
		if batch.Size() == 0 {
			return nil
		}
		if err := idx.Batch(batch); err != nil {
			return err
		}
		batch = idx.NewBatch()
		return nil
	}

	for _, src := range sources {
		for _, e := range src.Archive.Entries() {
			if !e.IsArticle() {
				continue
			}
			data, err := src.Archive.ReadEntry(e.Path)
			if err != nil {
				continue
			}
			text := htmlText(data)
			doc := document{
				Book:    src.BookID,
				Path:    e.Path,
				Title:   e.Title,
				Content: text,
				Words:   len(strings.Fields(text)),
			}
			if err := batch.Index(src.BookID+"/"+e.Path, doc); err != nil {
				idx.Close()
				return nil, fmt.Errorf("index %s/%s: %w", src.BookID, e.Path, err)
			}
			if batch.Size() >= batchSize {
				if err := flush(); err != nil {
					idx.Close()
					return nil, fmt.Errorf("index batch: %w", err)
				}
			}
		}
	}
	if err := flush(); err != nil {
		idx.Close()
		return nil, fmt.Errorf("index batch: %w", err)
	}
	return &IndexSearcher{index: idx}, nil
}

// Search matches the pattern against titles and contents. Title matches
// weigh more.
func (s *IndexSearcher) Search(q Query, start, count int) (*Results, error) {
	title := bleve.NewMatchQuery(q.Pattern)
	title.SetField("title")
	title.SetBoost(2)
	content := bleve.NewMatchQuery(q.Pattern)
	content.SetField("content")

	req := bleve.NewSearchRequestOptions(bleve.NewDisjunctionQuery(title, content), count, start, false)
	req.Fields = []string{"book", "path", "title", "words"}
	req.Highlight = bleve.NewHighlight()
	req.Highlight.AddField("content")

	res, err := s.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", q.Pattern, err)
	}

	out := &Results{Estimated: res.Total}
	for _, h := range res.Hits {
		hit := Hit{
			BookID: stringField(h.Fields, "book"),
			Path:   stringField(h.Fields, "path"),
			Title:  stringField(h.Fields, "title"),
			Score:  h.Score,
		}
		if w, ok := h.Fields["words"].(float64); ok {
			hit.WordCount = int(w)
		}
		if frags := h.Fragments["content"]; len(frags) > 0 {
			hit.Snippet = strings.Join(frags, "…")
		}
		out.Hits = append(out.Hits, hit)
	}
	return out, nil
}

// DocCount is the number of indexed articles.
func (s *IndexSearcher) DocCount() uint64 {
	n, err := s.index.DocCount()
	if err != nil {
		return 0
	}
	return n
}

func (s *IndexSearcher) Close() error { return s.index.Close() }

func stringField(fields map[string]interface{}, name string) string {
	s, _ := fields[name].(string)
	return s
}

// htmlText extracts the visible text of an HTML document.
func htmlText(data []byte) string {
	z := html.NewTokenizer(bytes.NewReader(data))
	var sb strings.Builder
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(sb.String()), " ")
		case html.StartTagToken:
			name, _ := z.TagName()
			if a := atom.Lookup(name); a == atom.Script || a == atom.Style || a == atom.Head {
				skip++
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if a := atom.Lookup(name); (a == atom.Script || a == atom.Style || a == atom.Head) && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip == 0 {
				sb.Write(z.Text())
				sb.WriteByte(' ')
			}
		}
	}
}
