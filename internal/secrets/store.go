package secrets

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/nexus-core/internal/nexuserr"
	"github.com/haasonsaas/nexus-core/pkg/models"
)

// keyPattern is the allowed secret key shape: uppercase, digits, underscore.
var keyPattern = regexp.MustCompile(`^[A-Z0-9_]+$`)

const maxKeyLength = 128

// ValidateKey checks a secret key name against the allowed shape.
func ValidateKey(key string) error {
	if len(key) == 0 || len(key) > maxKeyLength {
		return nexuserr.Validation("secret key must be 1..128 characters", []nexuserr.FieldError{
			{Field: "key", Message: "length out of range"},
		})
	}
	if !keyPattern.MatchString(key) {
		return nexuserr.Validation("secret key must match ^[A-Z0-9_]+$", []nexuserr.FieldError{
			{Field: "key", Message: "invalid characters"},
		})
	}
	return nil
}

// Store is the encrypted per-project key/value vault. Get returns plaintext
// and must only be called by tools and channel adapters inside a single
// function scope; List never returns values.
type Store struct {
	db     *sql.DB
	cipher *Cipher
}

// NewStore creates a vault over the given database, creating its table if
// needed.
func NewStore(db *sql.DB, cipher *Cipher) (*Store, error) {
	if cipher == nil {
		return nil, nexuserr.New(nexuserr.CodeConfig, "secrets cipher is required")
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS secrets (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			key TEXT NOT NULL,
			encrypted_value TEXT NOT NULL,
			iv TEXT NOT NULL,
			auth_tag TEXT NOT NULL,
			description TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			UNIQUE(project_id, key)
		)
	`); err != nil {
		return nil, nexuserr.Wrap(nexuserr.CodeInternal, "create secrets table", err)
	}
	return &Store{db: db, cipher: cipher}, nil
}

// Set encrypts and upserts a secret value for (project, key).
func (s *Store) Set(ctx context.Context, projectID models.ProjectID, key, value string) error {
	return s.SetWithDescription(ctx, projectID, key, value, "")
}

// SetWithDescription is Set with an operator-facing description.
func (s *Store) SetWithDescription(ctx context.Context, projectID models.ProjectID, key, value, description string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	sealed, err := s.cipher.Encrypt(value)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO secrets (id, project_id, key, encrypted_value, iv, auth_tag, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, key) DO UPDATE SET
			encrypted_value = excluded.encrypted_value,
			iv = excluded.iv,
			auth_tag = excluded.auth_tag,
			description = CASE WHEN excluded.description != '' THEN excluded.description ELSE secrets.description END,
			updated_at = excluded.updated_at
	`, uuid.NewString(), string(projectID), key, sealed.Ciphertext, sealed.IV, sealed.AuthTag, description, now, now)
	if err != nil {
		return nexuserr.Wrap(nexuserr.CodeInternal, "store secret", err)
	}
	return nil
}

// Get decrypts and returns the plaintext value for (project, key).
func (s *Store) Get(ctx context.Context, projectID models.ProjectID, key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	var sealed Sealed
	err := s.db.QueryRowContext(ctx, `
		SELECT encrypted_value, iv, auth_tag FROM secrets WHERE project_id = ? AND key = ?
	`, string(projectID), key).Scan(&sealed.Ciphertext, &sealed.IV, &sealed.AuthTag)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nexuserr.Newf(nexuserr.CodeSecretNotFound, "secret %s not found", key)
	}
	if err != nil {
		return "", nexuserr.Wrap(nexuserr.CodeInternal, "load secret", err)
	}
	return s.cipher.Decrypt(sealed)
}

// Exists reports whether a secret is stored for (project, key) without
// decrypting it.
func (s *Store) Exists(ctx context.Context, projectID models.ProjectID, key string) (bool, error) {
	if err := ValidateKey(key); err != nil {
		return false, err
	}
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM secrets WHERE project_id = ? AND key = ?
	`, string(projectID), key).Scan(&n)
	if err != nil {
		return false, nexuserr.Wrap(nexuserr.CodeInternal, "check secret", err)
	}
	return n > 0, nil
}

// List returns secret metadata for a project. Values are never included.
func (s *Store) List(ctx context.Context, projectID models.ProjectID) ([]models.Secret, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, key, description, created_at, updated_at
		FROM secrets WHERE project_id = ? ORDER BY key
	`, string(projectID))
	if err != nil {
		return nil, nexuserr.Wrap(nexuserr.CodeInternal, "list secrets", err)
	}
	defer rows.Close()

	var out []models.Secret
	for rows.Next() {
		sec := models.Secret{ProjectID: projectID}
		var desc sql.NullString
		if err := rows.Scan(&sec.ID, &sec.Key, &desc, &sec.CreatedAt, &sec.UpdatedAt); err != nil {
			return nil, nexuserr.Wrap(nexuserr.CodeInternal, "scan secret", err)
		}
		sec.Description = desc.String
		out = append(out, sec)
	}
	return out, rows.Err()
}

// Delete removes a secret. Returns false (not an error) when the key is
// absent.
func (s *Store) Delete(ctx context.Context, projectID models.ProjectID, key string) (bool, error) {
	if err := ValidateKey(key); err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM secrets WHERE project_id = ? AND key = ?
	`, string(projectID), key)
	if err != nil {
		return false, nexuserr.Wrap(nexuserr.CodeInternal, "delete secret", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
