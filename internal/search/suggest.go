package search

import (
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/banux/nxt-zim/internal/archive"
	"github.com/banux/nxt-zim/internal/catalog"
)

// Suggestion is a title proposed while the user types.
type Suggestion struct {
	Title string
	Path  string
}

// Suggester proposes article titles of one archive.
type Suggester struct {
	titles []string
	folded []string
	paths  []string
}

// NewSuggester collects the article titles of a, sorted.
func NewSuggester(a archive.Archive) *Suggester {
	var articles []archive.Entry
	for _, e := range a.Entries() {
		if e.IsArticle() {
			articles = append(articles, e)
		}
	}
	sort.SliceStable(articles, func(i, j int) bool { return articles[i].Title < articles[j].Title })

	s := &Suggester{}
	for _, e := range articles {
		s.titles = append(s.titles, e.Title)
		s.folded = append(s.folded, catalog.Fold(e.Title))
		s.paths = append(s.paths, e.Path)
	}
	return s
}

// Suggest returns up to count suggestions from start. Titles starting with
// term come first in title order, then fuzzy matches by closeness.
func (s *Suggester) Suggest(term string, start, count int) []Suggestion {
	term = strings.TrimSpace(term)
	if term == "" || count <= 0 {
		return nil
	}
	folded := catalog.Fold(term)

	var out []Suggestion
	seen := make(map[int]bool)
	for i, t := range s.folded {
		if strings.HasPrefix(t, folded) {
			out = append(out, Suggestion{Title: s.titles[i], Path: s.paths[i]})
			seen[i] = true
		}
	}

	ranks := fuzzy.RankFindNormalizedFold(term, s.titles)
	sort.Stable(ranks)
	for _, r := range ranks {
		if seen[r.OriginalIndex] {
			continue
		}
		seen[r.OriginalIndex] = true
		out = append(out, Suggestion{Title: s.titles[r.OriginalIndex], Path: s.paths[r.OriginalIndex]})
	}

	start = max(start, 0)
	if start >= len(out) {
		return nil
	}
	return out[start:][:min(count, len(out)-start)]
}
