package accounts

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"
)

// accounts テーブルの一意制約名（マイグレーションと一致させること）
const (
	usernameConstraint = "accounts_username_key"
	emailConstraint    = "accounts_email_key"
)

// pgxIface は PostgresStore が使う pgx の操作です。*pgxpool.Pool と pgxmock が満たします。
type pgxIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore はアカウントを PostgreSQL に保存します。
type PostgresStore struct {
	pool pgxIface
}

// NewPostgresStore は PostgresStore を作成します。
func NewPostgresStore(pool pgxIface) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// FindByUsername はユーザー名の完全一致でアカウントを取得します。
func (s *PostgresStore) FindByUsername(ctx context.Context, username string) (*Account, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, username, email, password_hash, created_at
		FROM accounts
		WHERE username = $1
	`, username)

	account, err := scanAccount(row)
	if isNoMatch(err) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").With("username", username).Wrap(ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_LOOKUP_FAILED").
			With("operation", "get account by username").
			With("username", username).
			Wrap(err)
	}
	return account, nil
}

// FindByID は ID でアカウントを取得します。
func (s *PostgresStore) FindByID(ctx context.Context, id string) (*Account, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, username, email, password_hash, created_at
		FROM accounts
		WHERE id = $1
	`, id)

	account, err := scanAccount(row)
	if isNoMatch(err) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").With("id", id).Wrap(ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_LOOKUP_FAILED").
			With("operation", "get account by id").
			With("id", id).
			Wrap(err)
	}
	return account, nil
}

// Insert はアカウントを追加します。
//
// 一意制約違反は制約名で判別します。PostgreSQL は索引の作成順に検査するため、
// ユーザー名とメールアドレスが同時に衝突した場合はユーザー名の違反が報告されます。
func (s *PostgresStore) Insert(ctx context.Context, account *Account) error {
	if account == nil {
		return oops.Code("ACCOUNT_INSERT_FAILED").Errorf("account is nil")
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO accounts (id, username, email, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`,
		account.ID,
		account.Username,
		account.Email,
		account.PasswordHash,
		account.CreatedAt,
	)
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		switch pgErr.ConstraintName {
		case usernameConstraint:
			return oops.Code("DUPLICATE_USERNAME").With("username", account.Username).Wrap(ErrDuplicateUsername)
		case emailConstraint:
			return oops.Code("DUPLICATE_EMAIL").With("email", account.Email).Wrap(ErrDuplicateEmail)
		}
	}
	return oops.Code("ACCOUNT_INSERT_FAILED").
		With("operation", "insert account").
		With("username", account.Username).
		Wrap(err)
}

// isNoMatch は検索キーに一致する行が存在し得ない場合に true を返します。
// UUID でない ID（22P02）や不正な UTF-8 のユーザー名（22021）は行なしと同じに扱います。
func isNoMatch(err error) bool {
	if errors.Is(err, pgx.ErrNoRows) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.InvalidTextRepresentation, pgerrcode.CharacterNotInRepertoire:
			return true
		}
	}
	return false
}

func scanAccount(row pgx.Row) (*Account, error) {
	var account Account
	if err := row.Scan(
		&account.ID,
		&account.Username,
		&account.Email,
		&account.PasswordHash,
		&account.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &account, nil
}
