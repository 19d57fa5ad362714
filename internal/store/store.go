// Package store keeps a SQLite snapshot of the library: every book with its
// illustrations, and the bookmarks. The snapshot lets books added at
// runtime and bookmarks survive a restart when no writable library file is
// configured.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver

	"github.com/banux/nxt-zim/internal/catalog"
	"github.com/banux/nxt-zim/internal/library"
)

// Store is an open snapshot database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the snapshot database at path and applies the
// schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", path, err)
	}
	// A single connection serialises writers; WAL keeps readers unblocked.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA foreign_keys=ON;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}

	s := &Store{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return s, nil
}

// Close releases database resources.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS books (
    id            TEXT PRIMARY KEY,
    position      INTEGER NOT NULL,
    path          TEXT NOT NULL DEFAULT '',
    read_only     INTEGER NOT NULL DEFAULT 0,
    title         TEXT NOT NULL DEFAULT '',
    description   TEXT NOT NULL DEFAULT '',
    language      TEXT NOT NULL DEFAULT '',
    creator       TEXT NOT NULL DEFAULT '',
    publisher     TEXT NOT NULL DEFAULT '',
    date          TEXT NOT NULL DEFAULT '',
    url           TEXT NOT NULL DEFAULT '',
    name          TEXT NOT NULL DEFAULT '',
    flavour       TEXT NOT NULL DEFAULT '',
    category      TEXT NOT NULL DEFAULT '',
    tags          TEXT NOT NULL DEFAULT '',
    orig_id       TEXT NOT NULL DEFAULT '',
    download_id   TEXT NOT NULL DEFAULT '',
    article_count INTEGER NOT NULL DEFAULT 0,
    media_count   INTEGER NOT NULL DEFAULT 0,
    size          INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS illustrations (
    book_id   TEXT NOT NULL REFERENCES books(id) ON DELETE CASCADE,
    width     INTEGER NOT NULL,
    height    INTEGER NOT NULL,
    mime_type TEXT NOT NULL DEFAULT '',
    url       TEXT NOT NULL DEFAULT '',
    data      BLOB,
    PRIMARY KEY (book_id, width, height)
);

CREATE TABLE IF NOT EXISTS bookmarks (
    position     INTEGER PRIMARY KEY,
    book_id      TEXT NOT NULL,
    book_title   TEXT NOT NULL DEFAULT '',
    book_name    TEXT NOT NULL DEFAULT '',
    book_flavour TEXT NOT NULL DEFAULT '',
    language     TEXT NOT NULL DEFAULT '',
    date         TEXT NOT NULL DEFAULT '',
    title        TEXT NOT NULL DEFAULT '',
    url          TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS snapshot (
    id       INTEGER PRIMARY KEY CHECK (id = 0),
    revision INTEGER NOT NULL,
    saved_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_books_position ON books(position);
`)
	return err
}

// Info describes the last saved snapshot.
type Info struct {
	Revision uint64
	SavedAt  time.Time
}

// Save replaces the snapshot with the current content of lib.
func (s *Store) Save(ctx context.Context, lib *library.Library) error {
	// The library lock is never held across database calls.
	rev := lib.Revision()
	books := lib.Books()
	bookmarks := lib.Bookmarks(false)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, stmt := range []string{`DELETE FROM illustrations`, `DELETE FROM books`, `DELETE FROM bookmarks`} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("clear snapshot: %w", err)
		}
	}

	for i, b := range books {
		if err := insertBook(ctx, tx, i, b); err != nil {
			return fmt.Errorf("save book %q: %w", b.ID, err)
		}
	}
	for i, bm := range bookmarks {
		_, err := tx.ExecContext(ctx, `
INSERT INTO bookmarks
    (position, book_id, book_title, book_name, book_flavour, language, date, title, url)
VALUES (?,?,?,?,?,?,?,?,?)`,
			i, bm.BookID, bm.BookTitle, bm.BookName, bm.BookFlavour, bm.Language, bm.Date, bm.Title, bm.URL)
		if err != nil {
			return fmt.Errorf("save bookmark %q: %w", bm.URL, err)
		}
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO snapshot (id, revision, saved_at) VALUES (0, ?, ?)
ON CONFLICT(id) DO UPDATE SET revision = excluded.revision, saved_at = excluded.saved_at`,
		int64(rev), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("save snapshot info: %w", err)
	}
	return tx.Commit()
}

func insertBook(ctx context.Context, tx *sql.Tx, position int, b catalog.Book) error {
	_, err := tx.ExecContext(ctx, `
INSERT INTO books
    (id, position, path, read_only, title, description, language, creator, publisher,
     date, url, name, flavour, category, tags, orig_id, download_id,
     article_count, media_count, size)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		b.ID, position, b.Path, boolToInt(b.ReadOnly), b.Title, b.Description, b.Language,
		b.Creator, b.Publisher, b.Date, b.URL, b.Name, b.Flavour, b.Category, b.Tags,
		b.OrigID, b.DownloadID, int64(b.ArticleCount), int64(b.MediaCount), int64(b.Size),
	)
	if err != nil {
		return err
	}
	for _, ill := range b.Illustrations {
		if _, err := tx.ExecContext(ctx, `
INSERT OR REPLACE INTO illustrations (book_id, width, height, mime_type, url, data)
VALUES (?,?,?,?,?,?)`,
			b.ID, ill.Width, ill.Height, ill.MimeType, ill.URL, ill.Data); err != nil {
			return err
		}
	}
	return nil
}

// Books returns the saved books in library order. PathValid is recomputed
// from the filesystem.
func (s *Store) Books(ctx context.Context) ([]catalog.Book, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, path, read_only, title, description, language, creator, publisher,
       date, url, name, flavour, category, tags, orig_id, download_id,
       article_count, media_count, size
FROM books ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("query books: %w", err)
	}
	defer rows.Close()

	var books []catalog.Book
	index := make(map[string]int)
	for rows.Next() {
		var (
			b                          catalog.Book
			readOnly                   int
			articles, media, sizeBytes int64
		)
		if err := rows.Scan(&b.ID, &b.Path, &readOnly, &b.Title, &b.Description, &b.Language,
			&b.Creator, &b.Publisher, &b.Date, &b.URL, &b.Name, &b.Flavour, &b.Category,
			&b.Tags, &b.OrigID, &b.DownloadID, &articles, &media, &sizeBytes); err != nil {
			return nil, fmt.Errorf("scan book: %w", err)
		}
		b.ReadOnly = readOnly != 0
		b.ArticleCount, b.MediaCount, b.Size = uint64(articles), uint64(media), uint64(sizeBytes)
		if b.Path != "" {
			_, statErr := os.Stat(b.Path)
			b.PathValid = statErr == nil
		}
		index[b.ID] = len(books)
		books = append(books, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	ills, err := s.db.QueryContext(ctx, `
SELECT book_id, width, height, mime_type, url, data FROM illustrations ORDER BY book_id, width`)
	if err != nil {
		return nil, fmt.Errorf("query illustrations: %w", err)
	}
	defer ills.Close()
	for ills.Next() {
		var (
			id  string
			ill catalog.Illustration
		)
		if err := ills.Scan(&id, &ill.Width, &ill.Height, &ill.MimeType, &ill.URL, &ill.Data); err != nil {
			return nil, fmt.Errorf("scan illustration: %w", err)
		}
		if i, ok := index[id]; ok {
			books[i].Illustrations = append(books[i].Illustrations, ill)
		}
	}
	return books, ills.Err()
}

// Bookmarks returns the saved bookmarks in their original order.
func (s *Store) Bookmarks(ctx context.Context) ([]catalog.Bookmark, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT book_id, book_title, book_name, book_flavour, language, date, title, url
FROM bookmarks ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("query bookmarks: %w", err)
	}
	defer rows.Close()

	var out []catalog.Bookmark
	for rows.Next() {
		var bm catalog.Bookmark
		if err := rows.Scan(&bm.BookID, &bm.BookTitle, &bm.BookName, &bm.BookFlavour,
			&bm.Language, &bm.Date, &bm.Title, &bm.URL); err != nil {
			return nil, fmt.Errorf("scan bookmark: %w", err)
		}
		out = append(out, bm)
	}
	return out, rows.Err()
}

// Info returns the revision and time of the last Save. ok is false when
// nothing was saved yet.
func (s *Store) Info(ctx context.Context) (info Info, ok bool, err error) {
	var rev, savedAt int64
	err = s.db.QueryRowContext(ctx, `SELECT revision, saved_at FROM snapshot WHERE id = 0`).Scan(&rev, &savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Info{}, false, nil
	}
	if err != nil {
		return Info{}, false, fmt.Errorf("query snapshot info: %w", err)
	}
	return Info{Revision: uint64(rev), SavedAt: time.Unix(savedAt, 0)}, true, nil
}

// Restore adds the saved books and bookmarks to lib and returns how many
// books were newly inserted. Books already in lib are merged by
// Library.AddBook rules.
func (s *Store) Restore(ctx context.Context, lib *library.Library) (int, error) {
	books, err := s.Books(ctx)
	if err != nil {
		return 0, err
	}
	bookmarks, err := s.Bookmarks(ctx)
	if err != nil {
		return 0, err
	}

	added := 0
	for _, b := range books {
		if lib.AddBook(b) {
			added++
		}
	}
	existing := make(map[[2]string]bool)
	for _, bm := range lib.Bookmarks(false) {
		existing[[2]string{bm.BookID, bm.URL}] = true
	}
	for _, bm := range bookmarks {
		if !existing[[2]string{bm.BookID, bm.URL}] {
			lib.AddBookmark(bm)
		}
	}
	return added, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
