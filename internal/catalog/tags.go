package catalog

import (
	"fmt"
	"strings"
)

// legacyTags maps old-style flags to their pseudo-tag equivalent.
var legacyTags = map[string]string{
	"nopic":    "_pictures:no",
	"novid":    "_videos:no",
	"nodet":    "_details:no",
	"_ftindex": "_ftindex:yes",
}

// ConvertTags splits a ";" separated tag list and rewrites legacy flags.
func ConvertTags(tags string) []string {
	var out []string
	for _, t := range strings.Split(tags, ";") {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if repl, ok := legacyTags[t]; ok {
			t = repl
		}
		out = append(out, t)
	}
	return out
}

// TagValue looks up "_name:value" in a converted tag list.
func TagValue(tags []string, name string) (string, bool) {
	prefix := "_" + name + ":"
	for _, t := range tags {
		if strings.HasPrefix(t, prefix) {
			return strings.TrimPrefix(t, prefix), true
		}
	}
	return "", false
}

// ParseBool accepts the "yes"/"no" values used in pseudo-tags.
func ParseBool(v string) (bool, error) {
	switch v {
	case "yes":
		return true, nil
	case "no":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean tag value %q", v)
	}
}

// TagStr returns the value of the "_name:" pseudo-tag.
func (b *Book) TagStr(name string) (string, bool) {
	return TagValue(ConvertTags(b.Tags), name)
}

// TagBool returns the boolean value of the "_name:" pseudo-tag. ErrNotFound
// is returned when the tag is absent.
func (b *Book) TagBool(name string) (bool, error) {
	v, ok := b.TagStr(name)
	if !ok {
		return false, fmt.Errorf("tag %q: %w", name, ErrNotFound)
	}
	return ParseBool(v)
}

func (b *Book) tagBoolDefault(name string, def bool) bool {
	v, err := b.TagBool(name)
	if err != nil {
		return def
	}
	return v
}

// HasPictures defaults to true.
func (b *Book) HasPictures() bool { return b.tagBoolDefault("pictures", true) }

// HasVideos defaults to true.
func (b *Book) HasVideos() bool { return b.tagBoolDefault("videos", true) }

// HasDetails defaults to true.
func (b *Book) HasDetails() bool { return b.tagBoolDefault("details", true) }

// HasFulltextIndex defaults to false.
func (b *Book) HasFulltextIndex() bool { return b.tagBoolDefault("ftindex", false) }

// CategoryFromTags returns the "_category:" pseudo-tag value or "".
func (b *Book) CategoryFromTags() string {
	v, _ := b.TagStr("category")
	return v
}
