package catalog

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// RemoveAccents strips combining marks, keeping letter case.
func RemoveAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Fold lower-cases and strips accents so comparisons ignore both.
func Fold(s string) string {
	return strings.ToLower(RemoveAccents(s))
}

// words splits folded text on anything that is not a letter or digit.
func words(s string) []string {
	return strings.FieldsFunc(Fold(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
}

var archiveExtRe = regexp.MustCompile(`\.(zim[a-z]*|zip)$`)

// HumanReadableName derives the URL name of the book from its path:
// accents removed, directory and extension stripped, spaces turned into
// "_" and "+" into "plus".
func (b *Book) HumanReadableName() string {
	if b.Path == "" {
		return ""
	}
	name := RemoveAccents(b.Path)
	if i := strings.LastIndexAny(name, `/\`); i != -1 {
		name = name[i+1:]
	}
	name = archiveExtRe.ReplaceAllString(name, "")
	name = strings.ReplaceAll(name, " ", "_")
	return strings.ReplaceAll(name, "+", "plus")
}
