package corpus

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when no corpus has the requested name.
	ErrNotFound = errors.New("corpus: not found")
	// ErrExists is returned when adding a corpus under a name already in use.
	ErrExists = errors.New("corpus: name already exists")
)

// Info holds the metadata for a stored corpus.
type Info struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Runes     int       `json:"runes"`
	Bytes     int       `json:"bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// SetupSchema initializes the corpus table in the provided database. It is
// idempotent and safe to call on an already-initialized database.
func SetupSchema(db *sql.DB) error {
	const schemaCorpora = `
CREATE TABLE IF NOT EXISTS corpora (
    corpus_id   TEXT    PRIMARY KEY,
    corpus_name TEXT    NOT NULL UNIQUE,
    content     TEXT    NOT NULL,
    rune_count  INTEGER NOT NULL,
    byte_size   INTEGER NOT NULL,
    created_at  TEXT    NOT NULL
);
`
	if _, err := db.Exec(schemaCorpora); err != nil {
		return fmt.Errorf("could not create corpora schema: %w", err)
	}
	return nil
}

// Library provides access to stored corpora. It holds prepared SQL
// statements for the common lookups.
type Library struct {
	db             *sql.DB
	stmtGetInfo    *sql.Stmt
	stmtGetContent *sql.Stmt
	stmtList       *sql.Stmt
	stmtRemove     *sql.Stmt
	logger         *slog.Logger
}

// NewLibrary creates a Library on a database that has already been set up
// with SetupSchema.
func NewLibrary(db *sql.DB) (*Library, error) {
	l := &Library{
		db:     db,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	var err error
	if l.stmtGetInfo, err = db.Prepare(`SELECT corpus_id, corpus_name, rune_count, byte_size, created_at FROM corpora WHERE corpus_name = ?;`); err != nil {
		l.Close()
		return nil, err
	}
	if l.stmtGetContent, err = db.Prepare(`SELECT content FROM corpora WHERE corpus_name = ?;`); err != nil {
		l.Close()
		return nil, err
	}
	if l.stmtList, err = db.Prepare(`SELECT corpus_id, corpus_name, rune_count, byte_size, created_at FROM corpora ORDER BY corpus_name;`); err != nil {
		l.Close()
		return nil, err
	}
	if l.stmtRemove, err = db.Prepare(`DELETE FROM corpora WHERE corpus_name = ?;`); err != nil {
		l.Close()
		return nil, err
	}
	return l, nil
}

// Close releases the prepared statements held by the Library. It is safe to
// call on a partially constructed Library.
func (l *Library) Close() {
	for _, stmt := range []*sql.Stmt{l.stmtGetInfo, l.stmtGetContent, l.stmtList, l.stmtRemove} {
		if stmt != nil {
			_ = stmt.Close()
		}
	}
}

// SetLogger sets the logger for the Library. By default, all logs are discarded.
func (l *Library) SetLogger(logger *slog.Logger) {
	if logger != nil {
		l.logger = logger
	}
}

// Add reads r to the end and stores it under name.
func (l *Library) Add(ctx context.Context, name string, r io.Reader) (Info, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Info{}, fmt.Errorf("could not read corpus %q: %w", name, err)
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return Info{}, fmt.Errorf("could not begin transaction: %w", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	var existing int
	if err = tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM corpora WHERE corpus_name = ?", name).Scan(&existing); err != nil {
		return Info{}, fmt.Errorf("could not check corpus %q: %w", name, err)
	}
	if existing > 0 {
		return Info{}, fmt.Errorf("%w: %q", ErrExists, name)
	}

	info := Info{
		ID:        uuid.New().String(),
		Name:      name,
		Runes:     utf8.RuneCount(data),
		Bytes:     len(data),
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO corpora (corpus_id, corpus_name, content, rune_count, byte_size, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		info.ID, info.Name, string(data), info.Runes, info.Bytes, info.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return Info{}, fmt.Errorf("could not insert corpus %q: %w", name, err)
	}

	if err = tx.Commit(); err != nil {
		return Info{}, fmt.Errorf("could not commit corpus %q: %w", name, err)
	}

	l.logger.InfoContext(ctx, "Corpus added",
		slog.String("corpus_name", info.Name),
		slog.String("corpus_id", info.ID),
		slog.Int("runes", info.Runes),
	)
	return info, nil
}

// Get returns the metadata for the named corpus.
func (l *Library) Get(ctx context.Context, name string) (Info, error) {
	info, err := scanInfo(l.stmtGetInfo.QueryRowContext(ctx, name))
	if errors.Is(err, sql.ErrNoRows) {
		return Info{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return info, err
}

// List returns the metadata of every stored corpus, sorted by name.
func (l *Library) List(ctx context.Context) ([]Info, error) {
	rows, err := l.stmtList.QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	infos := make([]Info, 0)
	for rows.Next() {
		info, err := scanInfo(rows)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return infos, nil
}

// Open returns a reader over the text of the named corpus.
func (l *Library) Open(ctx context.Context, name string) (io.Reader, error) {
	var content string
	err := l.stmtGetContent.QueryRowContext(ctx, name).Scan(&content)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
		}
		return nil, fmt.Errorf("could not load corpus %q: %w", name, err)
	}
	return strings.NewReader(content), nil
}

// Remove deletes the named corpus.
func (l *Library) Remove(ctx context.Context, name string) error {
	res, err := l.stmtRemove.ExecContext(ctx, name)
	if err != nil {
		return fmt.Errorf("could not remove corpus %q: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}

	l.logger.InfoContext(ctx, "Corpus removed", slog.String("corpus_name", name))
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInfo(row rowScanner) (Info, error) {
	var info Info
	var createdAt string
	if err := row.Scan(&info.ID, &info.Name, &info.Runes, &info.Bytes, &createdAt); err != nil {
		return Info{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Info{}, fmt.Errorf("invalid created_at for corpus %q: %w", info.Name, err)
	}
	info.CreatedAt = t
	return info, nil
}
