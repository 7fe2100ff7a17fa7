package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/iamasit07/mydrop-auth/internal/domain"
)

const uniqueViolation = "23505"

type UserRepo struct {
	DB *sql.DB
}

func NewUserRepo(db *sql.DB) *UserRepo {
	return &UserRepo{DB: db}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// scanUser is a helper that scans a row into a domain.User
func scanUser(row interface{ Scan(dest ...any) error }) (*domain.User, error) {
	var user domain.User
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.IsDefaultPassword,
		&user.TOTPSecret,
		&user.TOTPEnabled,
		&user.QRLoginEnabled,
		&user.TokenVersion,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

const userSelectFields = `id, username, password_hash, is_default_password, totp_secret, totp_enabled, qr_login_enabled, token_version, created_at, updated_at`

// CreateUser inserts a user and returns the stored row.
func (r *UserRepo) CreateUser(ctx context.Context, username, passwordHash string, isDefaultPassword bool) (*domain.User, error) {
	query := `
	INSERT INTO users (username, password_hash, is_default_password)
	VALUES ($1, $2, $3)
	RETURNING ` + userSelectFields + `;
	`
	user, err := scanUser(r.DB.QueryRowContext(ctx, query, username, passwordHash, isDefaultPassword))
	if isUniqueViolation(err) {
		return nil, domain.ErrUsernameTaken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

func (r *UserRepo) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM users;`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return n, nil
}

// GetUserByID returns nil, nil when the user does not exist.
func (r *UserRepo) GetUserByID(ctx context.Context, userID int64) (*domain.User, error) {
	query := `SELECT ` + userSelectFields + ` FROM users WHERE id = $1;`
	user, err := scanUser(r.DB.QueryRowContext(ctx, query, userID))
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetUserByUsername returns nil, nil when the user does not exist.
func (r *UserRepo) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	query := `SELECT ` + userSelectFields + ` FROM users WHERE username = $1;`
	user, err := scanUser(r.DB.QueryRowContext(ctx, query, username))
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// UpdateUserAuth applies a credential change in one statement. A new password
// hash bumps token_version in the same write, so tokens minted before the
// change stop validating as soon as the row commits.
func (r *UserRepo) UpdateUserAuth(ctx context.Context, userID int64, upd domain.AuthUpdate) (*domain.User, error) {
	if upd.Username == nil && upd.PasswordHash == nil && upd.IsDefaultPassword == nil {
		return nil, domain.ErrNothingToUpdate
	}

	query := `
	UPDATE users SET
		username = COALESCE($2, username),
		token_version = CASE
			WHEN $3::text IS NOT NULL AND $3::text <> password_hash THEN token_version + 1
			ELSE token_version
		END,
		password_hash = COALESCE($3, password_hash),
		is_default_password = COALESCE($4, is_default_password),
		updated_at = NOW()
	WHERE id = $1
	RETURNING ` + userSelectFields + `;
	`
	user, err := scanUser(r.DB.QueryRowContext(ctx, query, userID,
		nullString(upd.Username), nullString(upd.PasswordHash), nullBool(upd.IsDefaultPassword)))
	if isUniqueViolation(err) {
		return nil, domain.ErrUsernameTaken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update user credentials: %w", err)
	}
	if user == nil {
		return nil, domain.ErrNotFound
	}
	return user, nil
}

func (r *UserRepo) SetTOTP(ctx context.Context, userID int64, secret string, enabled bool) error {
	query := `UPDATE users SET totp_secret = $2, totp_enabled = $3, updated_at = NOW() WHERE id = $1;`
	return r.execOne(ctx, "failed to update totp", query, userID, secret, enabled)
}

func (r *UserRepo) SetQRLoginEnabled(ctx context.Context, userID int64, enabled bool) error {
	query := `UPDATE users SET qr_login_enabled = $2, updated_at = NOW() WHERE id = $1;`
	return r.execOne(ctx, "failed to update qr login setting", query, userID, enabled)
}

func (r *UserRepo) execOne(ctx context.Context, msg, query string, args ...any) error {
	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", msg, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", msg, err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullBool(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}
