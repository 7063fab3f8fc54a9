// Package store implements HERMES's Metadata Store: a durable,
// crash-safe, journaled record of every indexed chunk, with secondary
// indexes on file_path and language supporting filter_ids.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite" // pure Go SQLite driver, no CGO

	hermeserrors "github.com/MayankTamakuwala/HERMES/internal/errors"
	"github.com/MayankTamakuwala/HERMES/internal/hermes"
)

// pragmas set up WAL mode: durability and concurrent read access without
// sacrificing write throughput during a bulk insert.
var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA cache_size = -65536",
	"PRAGMA temp_store = MEMORY",
}

const schema = `
CREATE TABLE IF NOT EXISTS chunks (
	chunk_id    INTEGER PRIMARY KEY,
	file_path   TEXT NOT NULL,
	language    TEXT NOT NULL,
	start_line  INTEGER NOT NULL,
	end_line    INTEGER NOT NULL,
	symbol_name TEXT NOT NULL DEFAULT '',
	code_text   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chunks_file_path ON chunks(file_path);
CREATE INDEX IF NOT EXISTS idx_chunks_language ON chunks(language);
`

// MetadataStore is a modernc.org/sqlite-backed implementation of
// hermes.MetadataStore.
type MetadataStore struct {
	db *sql.DB
}

// OpenMetadataStore opens (creating if absent) the chunk metadata database
// at path and applies the WAL pragmas and schema.
func OpenMetadataStore(path string) (*MetadataStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, hermeserrors.Wrap(hermeserrors.ErrCodeFilePermission, err)
	}
	db.SetMaxOpenConns(1) // single-writer embedded store

	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, hermeserrors.Wrap(hermeserrors.ErrCodeConfigInvalid, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, hermeserrors.Wrap(hermeserrors.ErrCodeConfigInvalid, err)
	}

	return &MetadataStore{db: db}, nil
}

// InsertMany bulk-inserts chunks inside one transaction, preserving the
// caller's order as chunk_id. This is the only way chunks enter the
// store: the orchestrator calls it once per build with the full ordered
// chunk list so chunk_id stays aligned with the dense and sparse indexes.
func (s *MetadataStore) InsertMany(ctx context.Context, chunks []hermes.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return hermeserrors.Wrap(hermeserrors.ErrCodeIndexFailed, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (chunk_id, file_path, language, start_line, end_line, symbol_name, code_text)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return hermeserrors.Wrap(hermeserrors.ErrCodeIndexFailed, err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx, c.ChunkID, c.FilePath, c.Language, c.StartLine, c.EndLine, c.SymbolName, c.CodeText); err != nil {
			return hermeserrors.Wrap(hermeserrors.ErrCodeIndexFailed, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return hermeserrors.Wrap(hermeserrors.ErrCodeIndexFailed, err)
	}
	return nil
}

// Get returns one chunk by id. ok is false if no row exists for chunkID.
func (s *MetadataStore) Get(ctx context.Context, chunkID int) (hermes.Chunk, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT chunk_id, file_path, language, start_line, end_line, symbol_name, code_text
		FROM chunks WHERE chunk_id = ?`, chunkID)

	var c hermes.Chunk
	if err := row.Scan(&c.ChunkID, &c.FilePath, &c.Language, &c.StartLine, &c.EndLine, &c.SymbolName, &c.CodeText); err != nil {
		if err == sql.ErrNoRows {
			return hermes.Chunk{}, false, nil
		}
		return hermes.Chunk{}, false, hermeserrors.Wrap(hermeserrors.ErrCodeSearchFailed, err)
	}
	return c, true, nil
}

// GetMany fetches chunks for chunkIDs, preserving input order. Any id with
// no corresponding row is a fatal integrity error: the dense/sparse
// indexes promised a chunk_id the metadata store does not have, and
// continuing would lie about results.
func (s *MetadataStore) GetMany(ctx context.Context, chunkIDs []int) ([]hermes.Chunk, error) {
	if len(chunkIDs) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(chunkIDs))
	args := make([]any, len(chunkIDs))
	for i, id := range chunkIDs {
		placeholders[i] = "?"
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT chunk_id, file_path, language, start_line, end_line, symbol_name, code_text
		FROM chunks WHERE chunk_id IN (%s)`, strings.Join(placeholders, ",")), args...)
	if err != nil {
		return nil, hermeserrors.Wrap(hermeserrors.ErrCodeSearchFailed, err)
	}
	defer rows.Close()

	byID := make(map[int]hermes.Chunk, len(chunkIDs))
	for rows.Next() {
		var c hermes.Chunk
		if err := rows.Scan(&c.ChunkID, &c.FilePath, &c.Language, &c.StartLine, &c.EndLine, &c.SymbolName, &c.CodeText); err != nil {
			return nil, hermeserrors.Wrap(hermeserrors.ErrCodeSearchFailed, err)
		}
		byID[c.ChunkID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, hermeserrors.Wrap(hermeserrors.ErrCodeSearchFailed, err)
	}

	result := make([]hermes.Chunk, len(chunkIDs))
	for i, id := range chunkIDs {
		c, ok := byID[id]
		if !ok {
			return nil, hermeserrors.IntegrityError(
				fmt.Sprintf("metadata store missing chunk_id %d requested by a retriever", id), nil)
		}
		result[i] = c
	}
	return result, nil
}

// Count returns the number of chunks currently stored.
func (s *MetadataStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks").Scan(&n); err != nil {
		return 0, hermeserrors.Wrap(hermeserrors.ErrCodeSearchFailed, err)
	}
	return n, nil
}

// FilterIDs returns the set of chunk_ids matching language AND pathPrefix
// (empty string means "no constraint on that field").
func (s *MetadataStore) FilterIDs(ctx context.Context, language, pathPrefix string) (map[int]struct{}, error) {
	query := "SELECT chunk_id FROM chunks WHERE 1=1"
	var args []any
	if language != "" {
		query += " AND language = ?"
		args = append(args, language)
	}
	if pathPrefix != "" {
		query += " AND file_path LIKE ? ESCAPE '\\'"
		args = append(args, escapeLikePrefix(pathPrefix)+"%")
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, hermeserrors.Wrap(hermeserrors.ErrCodeSearchFailed, err)
	}
	defer rows.Close()

	ids := make(map[int]struct{})
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, hermeserrors.Wrap(hermeserrors.ErrCodeSearchFailed, err)
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// Close closes the underlying database handle, checkpointing the WAL
// first so the main database file reflects all committed writes.
func (s *MetadataStore) Close() error {
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// escapeLikePrefix escapes LIKE metacharacters so path prefixes containing
// '%' or '_' are matched literally.
func escapeLikePrefix(prefix string) string {
	r := strings.NewReplacer("%", "\\%", "_", "\\_")
	return r.Replace(prefix)
}

var _ hermes.MetadataStore = (*MetadataStore)(nil)
