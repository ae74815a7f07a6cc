// Package accounts はアカウント（ユーザー名・メールアドレス・パスワードハッシュ）の永続化を提供します。
package accounts

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ストアが返す分類済みエラー
var (
	ErrNotFound          = errors.New("account not found")
	ErrDuplicateUsername = errors.New("username already taken")
	ErrDuplicateEmail    = errors.New("email already registered")
)

// Account は永続化されたアカウントです。登録後に変更されることはありません。
type Account struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"passwordHash"`
	CreatedAt    time.Time `json:"createdAt"`
}

// New は新しい ID を払い出した Account を作成します。
func New(username, email, passwordHash string) *Account {
	return &Account{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
	}
}

// Store はアカウントの検索と追加を提供します。
//
// Insert はユーザー名の一意性をメールアドレスより先に検査します。
// 両方が衝突した場合は ErrDuplicateUsername を返します。
type Store interface {
	// FindByUsername は完全一致でアカウントを検索します。存在しない場合は ErrNotFound。
	FindByUsername(ctx context.Context, username string) (*Account, error)
	// FindByID はセッションに紐づく ID からアカウントを検索します。存在しない場合は ErrNotFound。
	FindByID(ctx context.Context, id string) (*Account, error)
	// Insert はアカウントを追加します。
	Insert(ctx context.Context, account *Account) error
}
