package memory

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/nexus-core/internal/nexuserr"
	"github.com/haasonsaas/nexus-core/pkg/models"
)

// Store persists memory entries with their embeddings in sqlite.
// Embeddings are stored as little-endian float32 blobs.
type Store struct {
	db *sql.DB
}

// NewStore creates a memory store, creating its table if needed.
func NewStore(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS memory_entries (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			embedding BLOB,
			importance REAL NOT NULL DEFAULT 0.5,
			access_count INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			last_accessed_at TIMESTAMP NOT NULL,
			metadata TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_memory_project ON memory_entries(project_id, category)
	`); err != nil {
		return nil, nexuserr.Wrap(nexuserr.CodeInternal, "create memory_entries table", err)
	}
	return &Store{db: db}, nil
}

// Insert writes one entry, assigning id and timestamps when zero.
func (s *Store) Insert(ctx context.Context, entry models.MemoryEntry) (models.MemoryEntry, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	if entry.LastAccessedAt.IsZero() {
		entry.LastAccessedAt = now
	}

	var meta []byte
	if entry.Metadata != nil {
		meta, _ = json.Marshal(entry.Metadata)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memory_entries
			(id, project_id, category, content, embedding, importance, access_count, created_at, last_accessed_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, string(entry.ProjectID), entry.Category, entry.Content,
		encodeVector(entry.Embedding), entry.Importance, entry.AccessCount,
		entry.CreatedAt, entry.LastAccessedAt, nullableJSON(meta))
	if err != nil {
		return entry, nexuserr.Wrap(nexuserr.CodeInternal, "insert memory entry", err)
	}
	return entry, nil
}

// ListByProject returns entries for a project, optionally filtered by
// categories.
func (s *Store) ListByProject(ctx context.Context, projectID models.ProjectID, categories []string) ([]models.MemoryEntry, error) {
	query := `
		SELECT id, project_id, category, content, embedding, importance, access_count, created_at, last_accessed_at, metadata
		FROM memory_entries WHERE project_id = ?`
	args := []any{string(projectID)}
	if len(categories) > 0 {
		query += " AND category IN (?" + strings.Repeat(",?", len(categories)-1) + ")"
		for _, c := range categories {
			args = append(args, c)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nexuserr.Wrap(nexuserr.CodeInternal, "list memory entries", err)
	}
	defer rows.Close()

	var out []models.MemoryEntry
	for rows.Next() {
		var entry models.MemoryEntry
		var blob []byte
		var meta sql.NullString
		if err := rows.Scan(&entry.ID, &entry.ProjectID, &entry.Category, &entry.Content,
			&blob, &entry.Importance, &entry.AccessCount,
			&entry.CreatedAt, &entry.LastAccessedAt, &meta); err != nil {
			return nil, nexuserr.Wrap(nexuserr.CodeInternal, "scan memory entry", err)
		}
		entry.Embedding = decodeVector(blob)
		if meta.Valid && meta.String != "" {
			_ = json.Unmarshal([]byte(meta.String), &entry.Metadata)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// TouchAccess bumps access counters for the retrieved entries.
func (s *Store) TouchAccess(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for _, id := range ids {
		if _, err := s.db.ExecContext(ctx, `
			UPDATE memory_entries SET access_count = access_count + 1, last_accessed_at = ? WHERE id = ?
		`, now, id); err != nil {
			return nexuserr.Wrap(nexuserr.CodeInternal, "touch memory entry", err)
		}
	}
	return nil
}

// Delete removes one entry by id.
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM memory_entries WHERE id = ?`, id)
	if err != nil {
		return nexuserr.Wrap(nexuserr.CodeInternal, "delete memory entry", err)
	}
	return nil
}

func encodeVector(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := new(bytes.Buffer)
	for _, f := range v {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], math.Float32bits(f))
		buf.Write(b[:])
	}
	return buf.Bytes()
}

func decodeVector(b []byte) []float32 {
	if len(b) < 4 {
		return nil
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
