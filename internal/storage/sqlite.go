package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding documents, conversation messages,
// and settings.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (used by
// tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "voxidesk.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying database handle for components that need raw
// access (tests, diagnostics).
func (s *Store) DB() *sql.DB {
	return s.db
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// --- Documents ---

const documentColumns = `id, connector_id, source_type, source_id, title, content,
	content_hash, metadata, embedding, owner_user_id, created_at`

// InsertDocument stores a new document. Returns ErrConflict when a document
// with the same (connector, content hash, owner) already exists — two
// concurrent ingests of identical content race here, and the unique index
// makes sure only one wins.
func (s *Store) InsertDocument(ctx context.Context, doc Document) error {
	metadataJSON := "{}"
	if doc.Metadata != nil {
		b, err := json.Marshal(doc.Metadata)
		if err != nil {
			return fmt.Errorf("marshalling metadata: %w", err)
		}
		metadataJSON = string(b)
	}

	var blob []byte
	if doc.Embedding != nil {
		blob = encodeFloat32s(doc.Embedding)
	}

	createdAt := doc.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (`+documentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.ConnectorID, doc.SourceType, doc.SourceID, doc.Title, doc.Content,
		doc.ContentHash, metadataJSON, blob, doc.OwnerUserID,
		createdAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("inserting document: %w", err)
	}
	return nil
}

// ExistsByHash reports whether a document with the given content hash is
// already stored for the connector and owner partition. Owners never share a
// partition: two owners indexing identical content both get a copy.
func (s *Store) ExistsByHash(ctx context.Context, connectorID, contentHash, ownerUserID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM documents
		WHERE connector_id = ? AND content_hash = ? AND owner_user_id = ?`,
		connectorID, contentHash, ownerUserID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking document existence: %w", err)
	}
	return n > 0, nil
}

// DeleteByConnector removes every document for the connector. When
// ownerUserID is non-empty only that owner's documents are purged. Returns
// the number of deleted rows.
func (s *Store) DeleteByConnector(ctx context.Context, connectorID, ownerUserID string) (int64, error) {
	var res sql.Result
	var err error
	if ownerUserID == "" {
		res, err = s.db.ExecContext(ctx, `DELETE FROM documents WHERE connector_id = ?`, connectorID)
	} else {
		res, err = s.db.ExecContext(ctx, `DELETE FROM documents WHERE connector_id = ? AND owner_user_id = ?`,
			connectorID, ownerUserID)
	}
	if err != nil {
		return 0, fmt.Errorf("deleting documents for connector %s: %w", connectorID, err)
	}
	return res.RowsAffected()
}

// ListDocuments returns documents ordered by creation time descending.
func (s *Store) ListDocuments(ctx context.Context, limit, offset int) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+documentColumns+` FROM documents
		ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()
	return scanDocuments(rows)
}

// SearchDocumentsText is the administrative browse search: case-insensitive
// substring match over title, source type, and content.
func (s *Store) SearchDocumentsText(ctx context.Context, text string) ([]Document, error) {
	pattern := "%" + strings.ToLower(text) + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+documentColumns+` FROM documents
		WHERE lower(title) LIKE ? OR lower(source_type) LIKE ? OR lower(content) LIKE ?
		ORDER BY created_at DESC`, pattern, pattern, pattern)
	if err != nil {
		return nil, fmt.Errorf("searching documents: %w", err)
	}
	defer rows.Close()
	return scanDocuments(rows)
}

// CountDocuments returns the number of stored documents.
func (s *Store) CountDocuments(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents").Scan(&n)
	return n, err
}

// KeywordSearch runs full-text relevance ranking over title and content.
// Rank is the negated FTS5 bm25 score, so higher means more relevant.
// Scoping by connector and owner happens in the query itself, never
// client-side.
func (s *Store) KeywordSearch(ctx context.Context, query string, limit int, connectorID, ownerUserID string) ([]KeywordHit, error) {
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}

	q := `
		SELECT ` + prefixColumns("d", documentColumns) + `, -bm25(documents_fts) AS rank
		FROM documents_fts
		JOIN documents d ON d.rowid = documents_fts.rowid
		WHERE documents_fts MATCH ?`
	args := []any{match}

	if connectorID != "" {
		q += ` AND d.connector_id = ?`
		args = append(args, connectorID)
	}
	if ownerUserID != "" {
		q += ` AND (d.owner_user_id = ? OR d.owner_user_id = '')`
		args = append(args, ownerUserID)
	} else {
		q += ` AND d.owner_user_id = ''`
	}

	q += ` ORDER BY rank DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	defer rows.Close()

	var hits []KeywordHit
	for rows.Next() {
		var h KeywordHit
		if err := scanDocumentInto(rows, &h.Document, &h.Rank); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// EmbeddingCandidates returns the IDs and embeddings of every scoped
// document that has an embedding. Used by hybrid search for brute-force
// cosine scoring.
func (s *Store) EmbeddingCandidates(ctx context.Context, connectorID, ownerUserID string) ([]EmbeddingRef, error) {
	q := `SELECT id, embedding FROM documents WHERE embedding IS NOT NULL`
	var args []any
	if connectorID != "" {
		q += ` AND connector_id = ?`
		args = append(args, connectorID)
	}
	if ownerUserID != "" {
		q += ` AND (owner_user_id = ? OR owner_user_id = '')`
		args = append(args, ownerUserID)
	} else {
		q += ` AND owner_user_id = ''`
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying embeddings: %w", err)
	}
	defer rows.Close()

	var refs []EmbeddingRef
	for rows.Next() {
		var ref EmbeddingRef
		var blob []byte
		if err := rows.Scan(&ref.ID, &blob); err != nil {
			return nil, fmt.Errorf("scanning embedding row: %w", err)
		}
		vec, err := decodeFloat32s(blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", ref.ID, err)
		}
		ref.Embedding = vec
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// GetDocumentsByIDs returns the documents matching the given IDs, in no
// particular order.
func (s *Store) GetDocumentsByIDs(ctx context.Context, ids []string) ([]Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	q := `SELECT ` + documentColumns + ` FROM documents
		WHERE id IN (?` + strings.Repeat(",?", len(ids)-1) + `)`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying documents by IDs: %w", err)
	}
	defer rows.Close()
	return scanDocuments(rows)
}

// --- Messages ---

// SaveMessage appends a conversation turn.
func (s *Store) SaveMessage(ctx context.Context, m Message) error {
	createdAt := m.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.SessionID, m.Role, m.Content, createdAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving message: %w", err)
	}
	return nil
}

// MessagesBySession returns a session's messages in insertion order.
func (s *Store) MessagesBySession(ctx context.Context, sessionID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, created_at
		FROM messages WHERE session_id = ?
		ORDER BY created_at ASC, rowid ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		var createdAt string
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at for message %s: %w", m.ID, err)
		}
		m.CreatedAt = t
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// --- Settings ---

// SetSetting persists a settings key.
func (s *Store) SetSetting(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// GetSetting returns a settings value, or ErrNotFound.
func (s *Store) GetSetting(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return value, err
}

// AllSettings returns every settings key/value pair.
func (s *Store) AllSettings() (map[string]string, error) {
	rows, err := s.db.Query("SELECT key, value FROM settings")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		result[k] = v
	}
	return result, rows.Err()
}

// --- Helpers ---

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// ftsQuery converts free text into an FTS5 MATCH expression. Each token is
// double-quoted so user input can't inject FTS syntax; tokens are implicitly
// ANDed.
func ftsQuery(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = `"` + strings.ReplaceAll(f, `"`, `""`) + `"`
	}
	return strings.Join(quoted, " ")
}

// prefixColumns prefixes each column in a comma-separated list with a table
// alias.
func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanDocumentInto scans one document row. extra receives trailing columns
// (e.g. the rank in keyword search).
func scanDocumentInto(row rowScanner, d *Document, extra ...any) error {
	var metadataJSON, createdAt string
	var blob []byte
	dest := []any{
		&d.ID, &d.ConnectorID, &d.SourceType, &d.SourceID, &d.Title, &d.Content,
		&d.ContentHash, &metadataJSON, &blob, &d.OwnerUserID, &createdAt,
	}
	dest = append(dest, extra...)
	if err := row.Scan(dest...); err != nil {
		return fmt.Errorf("scanning document: %w", err)
	}

	if metadataJSON != "" && metadataJSON != "{}" {
		if err := json.Unmarshal([]byte(metadataJSON), &d.Metadata); err != nil {
			return fmt.Errorf("parsing metadata for %s: %w", d.ID, err)
		}
	}
	if len(blob) > 0 {
		vec, err := decodeFloat32s(blob)
		if err != nil {
			return fmt.Errorf("decoding embedding for %s: %w", d.ID, err)
		}
		d.Embedding = vec
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return fmt.Errorf("parsing created_at for %s: %w", d.ID, err)
	}
	d.CreatedAt = t
	return nil
}

func scanDocuments(rows *sql.Rows) ([]Document, error) {
	var docs []Document
	for rows.Next() {
		var d Document
		if err := scanDocumentInto(rows, &d); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32s deserializes little-endian bytes into a float32 slice.
// Returns an error if the byte slice length is not a multiple of 4.
func decodeFloat32s(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	v := make([]float32, n)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}
