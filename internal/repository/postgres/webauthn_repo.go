package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/iamasit07/mydrop-auth/internal/domain"
)

type WebAuthnRepo struct {
	DB *sql.DB
}

func NewWebAuthnRepo(db *sql.DB) *WebAuthnRepo {
	return &WebAuthnRepo{DB: db}
}

const credentialSelectFields = `id, user_id, public_key_pem, sign_count, transports, created_at, updated_at`

func scanCredential(row interface{ Scan(dest ...any) error }) (*domain.WebAuthnCredential, error) {
	var c domain.WebAuthnCredential
	var signCount int64
	var transports pq.StringArray
	err := row.Scan(&c.ID, &c.UserID, &c.PublicKeyPEM, &signCount, &transports, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.SignCount = uint32(signCount)
	c.Transports = []string(transports)
	return &c, nil
}

func (r *WebAuthnRepo) CreateCredential(ctx context.Context, c *domain.WebAuthnCredential) error {
	query := `
	INSERT INTO webauthn_credentials (id, user_id, public_key_pem, sign_count, transports)
	VALUES ($1, $2, $3, $4, $5)
	RETURNING created_at, updated_at;
	`
	err := r.DB.QueryRowContext(ctx, query, c.ID, c.UserID, c.PublicKeyPEM, int64(c.SignCount), pq.StringArray(c.Transports)).
		Scan(&c.CreatedAt, &c.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: credential already registered", domain.ErrInvalidInput)
	}
	if err != nil {
		return fmt.Errorf("failed to create webauthn credential: %w", err)
	}
	return nil
}

// GetCredential returns nil, nil for an unknown id.
func (r *WebAuthnRepo) GetCredential(ctx context.Context, id string) (*domain.WebAuthnCredential, error) {
	query := `SELECT ` + credentialSelectFields + ` FROM webauthn_credentials WHERE id = $1;`
	c, err := scanCredential(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get webauthn credential: %w", err)
	}
	return c, nil
}

func (r *WebAuthnRepo) ListCredentials(ctx context.Context, userID int64) ([]domain.WebAuthnCredential, error) {
	query := `SELECT ` + credentialSelectFields + ` FROM webauthn_credentials WHERE user_id = $1 ORDER BY created_at;`
	rows, err := r.DB.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list webauthn credentials: %w", err)
	}
	defer rows.Close()

	creds := make([]domain.WebAuthnCredential, 0)
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan webauthn credential: %w", err)
		}
		creds = append(creds, *c)
	}
	return creds, rows.Err()
}

func (r *WebAuthnRepo) CountCredentials(ctx context.Context, userID int64) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM webauthn_credentials WHERE user_id = $1;`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count webauthn credentials: %w", err)
	}
	return n, nil
}

// UpdateSignCount only ever raises the stored counter.
func (r *WebAuthnRepo) UpdateSignCount(ctx context.Context, id string, signCount uint32) error {
	query := `UPDATE webauthn_credentials SET sign_count = $2, updated_at = NOW() WHERE id = $1 AND sign_count < $2;`
	if _, err := r.DB.ExecContext(ctx, query, id, int64(signCount)); err != nil {
		return fmt.Errorf("failed to update sign count: %w", err)
	}
	return nil
}

// DeleteCredential only removes credentials owned by userID.
func (r *WebAuthnRepo) DeleteCredential(ctx context.Context, userID int64, id string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM webauthn_credentials WHERE id = $1 AND user_id = $2;`, id, userID)
	if err != nil {
		return false, fmt.Errorf("failed to delete webauthn credential: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to delete webauthn credential: %w", err)
	}
	return n > 0, nil
}
