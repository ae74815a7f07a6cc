package accounts

import (
	"context"
	"sync"
	"time"

	"github.com/samber/oops"
)

// MemoryStore はプロセス内で完結するストアです。開発とテスト用。
type MemoryStore struct {
	mu         sync.RWMutex
	byID       map[string]*Account
	byUsername map[string]string
	byEmail    map[string]string
}

// NewMemoryStore は空の MemoryStore を作成します。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:       make(map[string]*Account),
		byUsername: make(map[string]string),
		byEmail:    make(map[string]string),
	}
}

// FindByUsername はユーザー名でアカウントを検索します。
func (s *MemoryStore) FindByUsername(_ context.Context, username string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byUsername[username]
	if !ok {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").With("username", username).Wrap(ErrNotFound)
	}
	return s.copyOf(id), nil
}

// FindByID は ID でアカウントを検索します。
func (s *MemoryStore) FindByID(_ context.Context, id string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.byID[id]; !ok {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").With("id", id).Wrap(ErrNotFound)
	}
	return s.copyOf(id), nil
}

// Insert はアカウントを追加します。
func (s *MemoryStore) Insert(_ context.Context, account *Account) error {
	if account == nil {
		return oops.Code("ACCOUNT_INSERT_FAILED").Errorf("account is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byUsername[account.Username]; taken {
		return oops.Code("DUPLICATE_USERNAME").With("username", account.Username).Wrap(ErrDuplicateUsername)
	}
	if _, taken := s.byEmail[account.Email]; taken {
		return oops.Code("DUPLICATE_EMAIL").With("email", account.Email).Wrap(ErrDuplicateEmail)
	}

	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}
	stored := *account
	s.byID[stored.ID] = &stored
	s.byUsername[stored.Username] = stored.ID
	s.byEmail[stored.Email] = stored.ID
	return nil
}

// Len は保存済みアカウント数を返します。
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func (s *MemoryStore) copyOf(id string) *Account {
	account := *s.byID[id]
	return &account
}
