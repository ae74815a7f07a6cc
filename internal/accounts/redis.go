package accounts

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
)

const (
	accountKeyPrefix  = "account:id:"
	usernameKeyPrefix = "account:username:"
	emailKeyPrefix    = "account:email:"
)

// RedisStore はアカウントを Redis に保存します。
//
// アカウント本体は JSON で account:id:<id> に置き、ユーザー名とメールアドレスの
// 索引キーを SETNX で確保することで一意性を保証します。
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore は RedisStore を作成します。
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

// FindByUsername はユーザー名索引を辿ってアカウントを取得します。
func (s *RedisStore) FindByUsername(ctx context.Context, username string) (*Account, error) {
	id, err := s.rdb.Get(ctx, usernameKey(username)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, oops.Code("ACCOUNT_NOT_FOUND").With("username", username).Wrap(ErrNotFound)
		}
		return nil, oops.Code("ACCOUNT_LOOKUP_FAILED").
			With("operation", "get username index").
			With("username", username).
			Wrap(err)
	}
	return s.FindByID(ctx, id)
}

// FindByID はアカウント本体を取得します。
func (s *RedisStore) FindByID(ctx context.Context, id string) (*Account, error) {
	data, err := s.rdb.Get(ctx, accountKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, oops.Code("ACCOUNT_NOT_FOUND").With("id", id).Wrap(ErrNotFound)
		}
		return nil, oops.Code("ACCOUNT_LOOKUP_FAILED").
			With("operation", "get account").
			With("id", id).
			Wrap(err)
	}
	var account Account
	if err := json.Unmarshal(data, &account); err != nil {
		return nil, oops.Code("ACCOUNT_DECODE_FAILED").With("id", id).Wrap(err)
	}
	return &account, nil
}

// Insert はユーザー名、メールアドレスの順に索引キーを確保してからアカウントを保存します。
// メールアドレスの確保に失敗した場合はユーザー名の索引を解放します。
func (s *RedisStore) Insert(ctx context.Context, account *Account) error {
	if account == nil {
		return oops.Code("ACCOUNT_INSERT_FAILED").Errorf("account is nil")
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(account)
	if err != nil {
		return oops.Code("ACCOUNT_INSERT_FAILED").With("operation", "marshal account").Wrap(err)
	}

	ok, err := s.rdb.SetNX(ctx, usernameKey(account.Username), account.ID, 0).Result()
	if err != nil {
		return oops.Code("ACCOUNT_INSERT_FAILED").
			With("operation", "claim username").
			With("username", account.Username).
			Wrap(err)
	}
	if !ok {
		return oops.Code("DUPLICATE_USERNAME").With("username", account.Username).Wrap(ErrDuplicateUsername)
	}

	ok, err = s.rdb.SetNX(ctx, emailKey(account.Email), account.ID, 0).Result()
	if err != nil || !ok {
		s.release(ctx, usernameKey(account.Username), account.ID)
		if err != nil {
			return oops.Code("ACCOUNT_INSERT_FAILED").
				With("operation", "claim email").
				With("email", account.Email).
				Wrap(err)
		}
		return oops.Code("DUPLICATE_EMAIL").With("email", account.Email).Wrap(ErrDuplicateEmail)
	}

	if err := s.rdb.Set(ctx, accountKey(account.ID), payload, 0).Err(); err != nil {
		s.release(ctx, emailKey(account.Email), account.ID)
		s.release(ctx, usernameKey(account.Username), account.ID)
		return oops.Code("ACCOUNT_INSERT_FAILED").
			With("operation", "store account").
			With("id", account.ID).
			Wrap(err)
	}
	return nil
}

// release は自分が確保した索引キーだけを削除します。
func (s *RedisStore) release(ctx context.Context, key, owner string) {
	for {
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			current, err := tx.Get(ctx, key).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					return nil
				}
				return err
			}
			if current != owner {
				return nil
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			return err
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return
	}
}

func accountKey(id string) string {
	return accountKeyPrefix + id
}

func usernameKey(username string) string {
	return usernameKeyPrefix + username
}

func emailKey(email string) string {
	return emailKeyPrefix + email
}
