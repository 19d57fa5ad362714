package catalog_test

import (
	"errors"
	"testing"

	"github.com/banux/nxt-zim/internal/catalog"
)

func TestUpdateMergesNonEmptyFields(t *testing.T) {
	b := catalog.Book{ID: "a", Title: "Old", Creator: "Kiwix", Size: 10}
	ok := b.Update(catalog.Book{ID: "a", Title: "New", Description: "desc"})
	if !ok {
		t.Fatal("Update returned false")
	}
	if b.Title != "New" {
		t.Errorf("Title: got %q, want %q", b.Title, "New")
	}
	if b.Creator != "Kiwix" {
		t.Errorf("Creator erased: got %q", b.Creator)
	}
	if b.Description != "desc" {
		t.Errorf("Description: got %q", b.Description)
	}
	if b.Size != 10 {
		t.Errorf("Size: got %d, want 10", b.Size)
	}
}

func TestUpdateRejectsOtherID(t *testing.T) {
	b := catalog.Book{ID: "a", Title: "Old"}
	if b.Update(catalog.Book{ID: "b", Title: "New"}) {
		t.Error("Update with other id returned true")
	}
	if b.Title != "Old" {
		t.Errorf("Title changed to %q", b.Title)
	}
}

func TestUpdateReadOnly(t *testing.T) {
	b := catalog.Book{ID: "a", Title: "Old", ReadOnly: true}
	if b.Update(catalog.Book{ID: "a", Title: "New"}) {
		t.Error("writable record overrode read-only book")
	}
	if !b.Update(catalog.Book{ID: "a", Title: "New", ReadOnly: true}) {
		t.Error("read-only record was refused")
	}
	if b.Title != "New" {
		t.Errorf("Title: got %q, want %q", b.Title, "New")
	}

	w := catalog.Book{ID: "c"}
	w.Update(catalog.Book{ID: "c", ReadOnly: true})
	if !w.ReadOnly {
		t.Error("ReadOnly was not upgraded")
	}
}

func TestUpdatePathValidity(t *testing.T) {
	b := catalog.Book{ID: "a", Path: "/old.zim", PathValid: false}
	b.Update(catalog.Book{ID: "a"})
	if b.Path != "/old.zim" {
		t.Errorf("Path erased: got %q", b.Path)
	}
	b.Update(catalog.Book{ID: "a", Path: "/new.zim", PathValid: true})
	if b.Path != "/new.zim" || !b.PathValid {
		t.Errorf("got path %q valid %v", b.Path, b.PathValid)
	}
}

func TestTags(t *testing.T) {
	b := catalog.Book{Tags: "wikipedia;nopic;_category:wikipedia;_ftindex"}

	if v, ok := b.TagStr("category"); !ok || v != "wikipedia" {
		t.Errorf("TagStr(category): got %q, %v", v, ok)
	}
	if b.HasPictures() {
		t.Error("HasPictures: got true for nopic")
	}
	if !b.HasVideos() {
		t.Error("HasVideos: default should be true")
	}
	if !b.HasFulltextIndex() {
		t.Error("HasFulltextIndex: got false for _ftindex")
	}
	if _, err := b.TagBool("details"); !errors.Is(err, catalog.ErrNotFound) {
		t.Errorf("TagBool(details): got %v, want ErrNotFound", err)
	}
	if got := b.CategoryFromTags(); got != "wikipedia" {
		t.Errorf("CategoryFromTags: got %q", got)
	}

	plain := catalog.Book{}
	if plain.HasFulltextIndex() {
		t.Error("HasFulltextIndex: default should be false")
	}
}

func TestIllustration(t *testing.T) {
	var empty catalog.Book
	if _, err := empty.Illustration(48); !errors.Is(err, catalog.ErrNotFound) {
		t.Errorf("no illustrations: got %v", err)
	}

	b := catalog.Book{Illustrations: []catalog.Illustration{
		{Width: 96, Height: 96, MimeType: "image/png"},
		{Width: 48, Height: 48, MimeType: "image/png"},
	}}
	for _, tc := range []struct {
		size, want uint
	}{
		{48, 48},
		{64, 96},
		{16, 48},
		{512, 96},
	} {
		ill, err := b.Illustration(tc.size)
		if err != nil {
			t.Fatalf("Illustration(%d): %v", tc.size, err)
		}
		if ill.Width != tc.want {
			t.Errorf("Illustration(%d): got %d, want %d", tc.size, ill.Width, tc.want)
		}
	}
}

func TestRemoveAccents(t *testing.T) {
	if got := catalog.RemoveAccents("Encyclopédie Ståck"); got != "Encyclopedie Stack" {
		t.Errorf("RemoveAccents: got %q", got)
	}
	if got := catalog.Fold("ÇÉ"); got != "ce" {
		t.Errorf("Fold: got %q", got)
	}
}

func TestNewBookmarkSnapshotsBook(t *testing.T) {
	b := catalog.Book{ID: "id", Title: "Title", Name: "name", Language: "eng", Date: "2021-10-01"}
	bm := catalog.NewBookmark(b, "Article", "A/Article")
	b.Title = "changed"
	if bm.BookTitle != "Title" || bm.BookID != "id" || bm.URL != "A/Article" {
		t.Errorf("bookmark: got %+v", bm)
	}
}
