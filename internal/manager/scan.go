package manager

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/banux/nxt-zim/internal/archive"
)

// AddBooksFromDirectory walks dir recursively and adds every archive it
// finds. Archives that fail to open are logged and skipped. It returns the
// number of books added or refreshed.
func (m *Manager) AddBooksFromDirectory(dir string) (int, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil // skip unreadable entries
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if archive.IsArchivePath(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scanning directory %q: %w", dir, err)
	}

	n := 0
	for _, p := range paths {
		if _, err := m.AddBookFromPathAndGetID(p, "", "", false); err != nil {
			if errors.Is(err, ErrNotWritable) {
				return n, err
			}
			m.logger.Warn().Err(err).Str("path", p).Msg("skipping archive")
			continue
		}
		n++
	}
	return n, nil
}
