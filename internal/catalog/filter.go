package catalog

import (
	"strings"
	"unicode"
)

type filterFlag uint32

const (
	flagLocal filterFlag = 1 << iota
	flagRemote
	flagValid
	flagAcceptTags
	flagRejectTags
	flagCategory
	flagLang
	flagPublisher
	flagCreator
	flagMaxSize
	flagQuery
	flagName
)

// Filter selects books. Each setter enables one predicate and returns the
// receiver so calls can be chained; predicates that were never set accept
// every book.
type Filter struct {
	active filterFlag

	local, remote, valid bool

	acceptTags []string
	rejectTags []string

	category  string
	lang      []string
	publisher string
	creator   string
	maxSize   uint64
	name      string

	query          string
	queryIsPartial bool
	terms          []queryTerm
}

// NewFilter returns a filter accepting every book.
func NewFilter() *Filter { return &Filter{} }

func (f *Filter) Local(v bool) *Filter {
	f.active |= flagLocal
	f.local = v
	return f
}

func (f *Filter) Remote(v bool) *Filter {
	f.active |= flagRemote
	f.remote = v
	return f
}

func (f *Filter) Valid(v bool) *Filter {
	f.active |= flagValid
	f.valid = v
	return f
}

// AcceptTags keeps books carrying every one of tags.
func (f *Filter) AcceptTags(tags []string) *Filter {
	f.active |= flagAcceptTags
	f.acceptTags = foldAll(tags)
	return f
}

// RejectTags drops books carrying any of tags.
func (f *Filter) RejectTags(tags []string) *Filter {
	f.active |= flagRejectTags
	f.rejectTags = foldAll(tags)
	return f
}

func (f *Filter) Category(c string) *Filter {
	f.active |= flagCategory
	f.category = Fold(c)
	return f
}

// Lang accepts a comma separated list; a book matches when it shares at
// least one language with it.
func (f *Filter) Lang(l string) *Filter {
	f.active |= flagLang
	f.lang = nil
	for _, code := range strings.Split(l, ",") {
		if code = strings.TrimSpace(code); code != "" {
			f.lang = append(f.lang, Fold(code))
		}
	}
	return f
}

func (f *Filter) Publisher(p string) *Filter {
	f.active |= flagPublisher
	f.publisher = Fold(p)
	return f
}

func (f *Filter) Creator(c string) *Filter {
	f.active |= flagCreator
	f.creator = Fold(c)
	return f
}

// MaxSize keeps books no larger than n bytes. Zero disables the bound.
func (f *Filter) MaxSize(n uint64) *Filter {
	f.active |= flagMaxSize
	f.maxSize = n
	return f
}

// Query sets the free-text query. With partial set, plain terms match word
// prefixes instead of whole words.
func (f *Filter) Query(q string, partial bool) *Filter {
	f.active |= flagQuery
	f.query = q
	f.queryIsPartial = partial
	f.terms = parseQuery(q)
	return f
}

func (f *Filter) Name(n string) *Filter {
	f.active |= flagName
	f.name = n
	return f
}

// HasQuery reports whether a non-empty query was set.
func (f *Filter) HasQuery() bool { return f.active&flagQuery != 0 && strings.TrimSpace(f.query) != "" }

// QueryString returns the raw query.
func (f *Filter) QueryString() string { return f.query }

func (f *Filter) has(flag filterFlag) bool { return f.active&flag != 0 }

// Accept reports whether b passes every configured predicate.
func (f *Filter) Accept(b *Book) bool {
	if f.has(flagLocal) && b.IsLocal() != f.local {
		return false
	}
	if f.has(flagRemote) && b.IsRemote() != f.remote {
		return false
	}
	if f.has(flagValid) && b.IsValid() != f.valid {
		return false
	}

	if f.has(flagAcceptTags) || f.has(flagRejectTags) {
		tags := foldedTags(b)
		if f.has(flagAcceptTags) {
			for _, t := range f.acceptTags {
				if _, ok := tags[t]; !ok {
					return false
				}
			}
		}
		if f.has(flagRejectTags) {
			for _, t := range f.rejectTags {
				if _, ok := tags[t]; ok {
					return false
				}
			}
		}
	}

	if f.has(flagCategory) && Fold(b.Category) != f.category {
		return false
	}
	if f.has(flagLang) && !sharesLanguage(b, f.lang) {
		return false
	}
	if f.has(flagPublisher) && Fold(b.Publisher) != f.publisher {
		return false
	}
	if f.has(flagCreator) && Fold(b.Creator) != f.creator {
		return false
	}
	if f.has(flagMaxSize) && f.maxSize != 0 && b.Size > f.maxSize {
		return false
	}
	if f.has(flagQuery) && !f.matchQuery(b) {
		return false
	}
	if f.has(flagName) && b.Name != f.name {
		return false
	}
	return true
}

func foldAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, Fold(s))
		}
	}
	return out
}

func foldedTags(b *Book) map[string]struct{} {
	tags := ConvertTags(b.Tags)
	set := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		set[Fold(t)] = struct{}{}
	}
	return set
}

func sharesLanguage(b *Book, langs []string) bool {
	for _, have := range b.Languages() {
		have = Fold(have)
		for _, want := range langs {
			if have == want {
				return true
			}
		}
	}
	return false
}

// queryTerm is one element of a parsed query: either free words or a
// field restriction.
type queryTerm struct {
	field  string
	value  string
	words  []string
	phrase bool
}

var queryFields = map[string]bool{
	"lang":        true,
	"creator":     true,
	"publisher":   true,
	"name":        true,
	"category":    true,
	"title":       true,
	"description": true,
	"tag":         true,
}

func parseQuery(q string) []queryTerm {
	var terms []queryTerm
	for _, tok := range tokenize(q) {
		t := queryTerm{field: tok.field, value: tok.text, words: words(tok.text), phrase: tok.quoted}
		if t.field == "" && len(t.words) == 0 {
			continue
		}
		terms = append(terms, t)
	}
	return terms
}

type token struct {
	field  string
	text   string
	quoted bool
}

// tokenize splits on whitespace, keeping quoted runs together and
// recognising "field:value" prefixes.
func tokenize(q string) []token {
	var (
		toks []token
		cur  strings.Builder
		tok  token
		inQ  bool
	)
	flush := func() {
		if cur.Len() > 0 || tok.quoted {
			tok.text = cur.String()
			toks = append(toks, tok)
		}
		cur.Reset()
		tok = token{}
	}
	for _, r := range q {
		switch {
		case r == '"':
			if inQ {
				inQ = false
				tok.quoted = true
			} else {
				inQ = true
			}
		case unicode.IsSpace(r) && !inQ:
			flush()
		case r == ':' && !inQ && tok.field == "" && queryFields[strings.ToLower(cur.String())]:
			tok.field = strings.ToLower(cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return toks
}

func (f *Filter) matchQuery(b *Book) bool {
	var haystack []string
	for _, t := range f.terms {
		switch t.field {
		case "":
			if haystack == nil {
				haystack = words(strings.Join([]string{b.Title, b.Description, b.Tags, b.Language}, " "))
			}
			if !matchWords(haystack, t.words, t.phrase, f.queryIsPartial) {
				return false
			}
		case "title":
			if !matchWords(words(b.Title), t.words, t.phrase, f.queryIsPartial) {
				return false
			}
		case "description":
			if !matchWords(words(b.Description), t.words, t.phrase, f.queryIsPartial) {
				return false
			}
		case "lang":
			if !sharesLanguage(b, []string{Fold(t.value)}) {
				return false
			}
		case "creator":
			if Fold(b.Creator) != Fold(t.value) {
				return false
			}
		case "publisher":
			if Fold(b.Publisher) != Fold(t.value) {
				return false
			}
		case "name":
			if b.Name != t.value {
				return false
			}
		case "category":
			if Fold(b.Category) != Fold(t.value) {
				return false
			}
		case "tag":
			if _, ok := foldedTags(b)[Fold(t.value)]; !ok {
				return false
			}
		}
	}
	return true
}

func wordMatches(have, want string, partial bool) bool {
	if partial {
		return strings.HasPrefix(have, want)
	}
	return have == want
}

// matchWords checks that every wanted word occurs in haystack, or for a
// phrase that they occur consecutively.
func matchWords(haystack, want []string, phrase, partial bool) bool {
	if len(want) == 0 {
		return true
	}
	if !phrase {
		for _, w := range want {
			found := false
			for _, h := range haystack {
				if wordMatches(h, w, partial) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	}
	for i := 0; i+len(want) <= len(haystack); i++ {
		ok := true
		for j, w := range want {
			if haystack[i+j] != w {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}
