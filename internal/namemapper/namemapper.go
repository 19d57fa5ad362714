// Package namemapper translates between opaque book ids and the short
// names used in URLs.
package namemapper

import (
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/banux/nxt-zim/internal/catalog"
	"github.com/banux/nxt-zim/internal/library"
)

// NameMapper maps book ids to URL names and back. Lookups of unknown keys
// return catalog.ErrNotFound.
type NameMapper interface {
	NameForID(id string) (string, error)
	IDForName(name string) (string, error)
}

// IDMapper uses the id itself as the name.
type IDMapper struct{}

func (IDMapper) NameForID(id string) (string, error)   { return id, nil }
func (IDMapper) IDForName(name string) (string, error) { return name, nil }

var dateAliasRe = regexp.MustCompile(`_[[:digit:]]{4}-[[:digit:]]{2}$`)

// NameFromPath is the URL name of the archive at path.
func NameFromPath(path string) string {
	b := catalog.Book{Path: path}
	return b.HumanReadableName()
}

// AliasFromName strips a trailing "_YYYY-MM" date suffix.
func AliasFromName(name string) string {
	return dateAliasRe.ReplaceAllString(name, "")
}

// HumanReadable is an immutable mapping built from a library snapshot.
type HumanReadable struct {
	idToName   map[string]string
	nameToID   map[string]string
	collisions []string
}

var _ NameMapper = (*HumanReadable)(nil)

// NewHumanReadable maps every local and valid book of lib. With withAlias
// each name ending in a date suffix also gets the undated alias. When two
// books claim the same name the first one keeps it and the collision is
// logged.
func NewHumanReadable(lib *library.Library, withAlias bool, logger zerolog.Logger) *HumanReadable {
	m := &HumanReadable{
		idToName: make(map[string]string),
		nameToID: make(map[string]string),
	}
	paths := make(map[string]string)

	for _, id := range lib.Filter(catalog.NewFilter().Local(true).Valid(true)) {
		b, err := lib.BookByID(id)
		if err != nil {
			continue
		}
		paths[id] = b.Path
		name := NameFromPath(b.Path)
		m.idToName[id] = name
		m.mapName(name, id, paths, logger)

		if !withAlias {
			continue
		}
		if alias := AliasFromName(name); alias != name {
			m.mapName(alias, id, paths, logger)
		}
	}
	return m
}

func (m *HumanReadable) mapName(name, id string, paths map[string]string, logger zerolog.Logger) {
	owner, taken := m.nameToID[name]
	if !taken {
		m.nameToID[name] = id
		return
	}
	msg := fmt.Sprintf("Path collision: '%s' and '%s' can't share the same URL path '%s'. Therefore, only '%s' will be served.",
		paths[owner], paths[id], name, paths[owner])
	m.collisions = append(m.collisions, msg)
	logger.Warn().Str("name", name).Str("kept", owner).Str("dropped", id).Msg(msg)
}

func (m *HumanReadable) NameForID(id string) (string, error) {
	name, ok := m.idToName[id]
	if !ok {
		return "", fmt.Errorf("book id %q: %w", id, catalog.ErrNotFound)
	}
	return name, nil
}

func (m *HumanReadable) IDForName(name string) (string, error) {
	id, ok := m.nameToID[name]
	if !ok {
		return "", fmt.Errorf("book name %q: %w", name, catalog.ErrNotFound)
	}
	return id, nil
}

// Collisions returns the diagnostics recorded while building.
func (m *HumanReadable) Collisions() []string {
	return append([]string(nil), m.collisions...)
}

// Updatable rebuilds its mapping on demand while lookups keep running
// against the previous snapshot.
type Updatable struct {
	lib       *library.Library
	withAlias bool
	logger    zerolog.Logger

	// mu serialises rebuilds; readers never take it.
	mu      sync.Mutex
	current atomic.Pointer[HumanReadable]
}

var _ NameMapper = (*Updatable)(nil)

// NewUpdatable builds the initial mapping.
func NewUpdatable(lib *library.Library, withAlias bool, logger zerolog.Logger) *Updatable {
	u := &Updatable{lib: lib, withAlias: withAlias, logger: logger}
	u.Update()
	return u
}

// Update rebuilds the mapping from the current library and swaps it in.
func (u *Updatable) Update() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.current.Store(NewHumanReadable(u.lib, u.withAlias, u.logger))
}

// Current returns the snapshot in use.
func (u *Updatable) Current() *HumanReadable { return u.current.Load() }

func (u *Updatable) NameForID(id string) (string, error) {
	return u.current.Load().NameForID(id)
}

func (u *Updatable) IDForName(name string) (string, error) {
	return u.current.Load().IDForName(name)
}
