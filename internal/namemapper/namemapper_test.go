package namemapper_test

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banux/nxt-zim/internal/catalog"
	"github.com/banux/nxt-zim/internal/library"
	"github.com/banux/nxt-zim/internal/namemapper"
)

func sampleLibrary() *library.Library {
	lib := library.New(nil)
	for _, b := range []struct{ id, path string }{
		{"01", "/data/zero_one.zim"},
		{"02", "/data/zero two.zim"},
		{"03", "/data/ZERO thrèë.zim"},
		{"04-2021-10", "/data/zero_four_2021-10.zim"},
		{"04-2021-11", "/data/zero_four_2021-11.zim"},
	} {
		lib.AddBook(catalog.Book{ID: b.id, Path: b.path, PathValid: true})
	}
	return lib
}

func TestNameFromPath(t *testing.T) {
	cases := map[string]string{
		"/data/zero_one.zim":           "zero_one",
		"/data/zero two.zim":           "zero_two",
		"/data/ZERO thrèë.zim":         "ZERO_three",
		"C:\\zims\\c++ docs.zimaa":     "cplusplus_docs",
		"relative/wikipedia_2021-10.zip": "wikipedia_2021-10",
		"":                             "",
	}
	for in, want := range cases {
		assert.Equal(t, want, namemapper.NameFromPath(in), in)
	}
	assert.Equal(t, "zero_four", namemapper.AliasFromName("zero_four_2021-10"))
	assert.Equal(t, "zero_four_2021", namemapper.AliasFromName("zero_four_2021"))
}

func TestHumanReadableWithoutAlias(t *testing.T) {
	m := namemapper.NewHumanReadable(sampleLibrary(), false, zerolog.Nop())

	name, err := m.NameForID("02")
	require.NoError(t, err)
	assert.Equal(t, "zero_two", name)

	for _, id := range []string{"01", "02", "03", "04-2021-10", "04-2021-11"} {
		name, err := m.NameForID(id)
		require.NoError(t, err)
		got, err := m.IDForName(name)
		require.NoError(t, err)
		assert.Equal(t, id, got)
	}

	_, err = m.IDForName("zero_four")
	assert.ErrorIs(t, err, catalog.ErrNotFound)
	_, err = m.NameForID("unknown")
	assert.ErrorIs(t, err, catalog.ErrNotFound)
	assert.Empty(t, m.Collisions())
}

func TestHumanReadableAliasCollision(t *testing.T) {
	m := namemapper.NewHumanReadable(sampleLibrary(), true, zerolog.Nop())

	id, err := m.IDForName("zero_four")
	require.NoError(t, err)
	assert.Equal(t, "04-2021-10", id, "first book keeps the alias")

	id, err = m.IDForName("zero_four_2021-10")
	require.NoError(t, err)
	assert.Equal(t, "04-2021-10", id)
	id, err = m.IDForName("zero_four_2021-11")
	require.NoError(t, err)
	assert.Equal(t, "04-2021-11", id)

	name, err := m.NameForID("04-2021-11")
	require.NoError(t, err)
	assert.Equal(t, "zero_four_2021-11", name)

	require.Len(t, m.Collisions(), 1)
	assert.Equal(t,
		"Path collision: '/data/zero_four_2021-10.zim' and '/data/zero_four_2021-11.zim' can't share the same URL path 'zero_four'. Therefore, only '/data/zero_four_2021-10.zim' will be served.",
		m.Collisions()[0])
}

func TestHumanReadableSkipsRemoteAndInvalid(t *testing.T) {
	lib := library.New(nil)
	lib.AddBook(catalog.Book{ID: "remote", URL: "http://example.com/remote.zim"})
	lib.AddBook(catalog.Book{ID: "broken", Path: "/data/broken.zim", PathValid: false})

	m := namemapper.NewHumanReadable(lib, true, zerolog.Nop())
	_, err := m.NameForID("remote")
	assert.ErrorIs(t, err, catalog.ErrNotFound)
	_, err = m.IDForName("broken")
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestUpdatable(t *testing.T) {
	lib := sampleLibrary()
	u := namemapper.NewUpdatable(lib, true, zerolog.Nop())

	id, err := u.IDForName("zero_four")
	require.NoError(t, err)
	assert.Equal(t, "04-2021-10", id)

	snapshot := u.Current()
	lib.RemoveBookByID("04-2021-10")

	id, err = u.IDForName("zero_four")
	require.NoError(t, err)
	assert.Equal(t, "04-2021-10", id, "mapping is unchanged until Update")

	u.Update()
	id, err = u.IDForName("zero_four")
	require.NoError(t, err)
	assert.Equal(t, "04-2021-11", id)

	_, err = u.IDForName("zero_four_2021-10")
	assert.ErrorIs(t, err, catalog.ErrNotFound)

	id, err = snapshot.IDForName("zero_four_2021-10")
	require.NoError(t, err, "old snapshots stay usable")
	assert.Equal(t, "04-2021-10", id)
}

func TestUpdatableConcurrentLookups(t *testing.T) {
	lib := sampleLibrary()
	u := namemapper.NewUpdatable(lib, true, zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, err := u.IDForName("zero_one")
				assert.NoError(t, err)
			}
		}()
		go func() {
			defer wg.Done()
			u.Update()
		}()
	}
	wg.Wait()
}

func TestIDMapper(t *testing.T) {
	var m namemapper.IDMapper
	name, err := m.NameForID("abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", name)
	id, err := m.IDForName("abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", id)
}
