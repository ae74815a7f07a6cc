package auth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/samber/oops"

	"github.com/yourusername/microblog/internal/accounts"
	"github.com/yourusername/microblog/internal/forms"
)

// LoginPath は登録完了後の遷移先です。
const LoginPath = "/login"

// SessionState は認証フローが必要とするセッション操作です。
type SessionState interface {
	CurrentAccountID() (string, bool)
	Start(accountID string, remember bool) error
	End() error
}

// Credentials はログインに使う資格情報です。
type Credentials struct {
	Username string
	Password string
}

// Service はログイン・ログアウト・登録を組み立てます。
type Service struct {
	store     accounts.Store
	hasher    Hasher
	metrics   *Metrics
	logger    *slog.Logger
	dummyHash string
}

// NewService は Service を作成します。metrics は nil でも構いません。
func NewService(store accounts.Store, hasher Hasher, metrics *Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	// 存在しないユーザーでも照合を 1 回行い、応答時間でユーザー名を推測されないようにする
	dummyHash, err := hasher.Hash("microblog-dummy-password")
	if err != nil {
		logger.Warn("failed to prepare dummy password hash", "error", err)
	}
	return &Service{
		store:     store,
		hasher:    hasher,
		metrics:   metrics,
		logger:    logger,
		dummyHash: dummyHash,
	}
}

// Login は資格情報を検証してセッションを開始し、遷移先を返します。
//
// ログイン済みなら何もせず HomePath を返します。ユーザーが存在しない場合と
// パスワードが違う場合はどちらも ErrInvalidCredentials です。
// next は同一オリジンの相対パスのときだけ採用し、それ以外は HomePath に置き換えます。
func (s *Service) Login(ctx context.Context, sess SessionState, creds Credentials, remember bool, next string) (string, error) {
	if _, ok := sess.CurrentAccountID(); ok {
		return HomePath, nil
	}

	account, err := s.store.FindByUsername(ctx, creds.Username)
	if err != nil {
		if errors.Is(err, accounts.ErrNotFound) {
			s.hasher.Verify(creds.Password, s.dummyHash)
			s.metrics.login(ResultInvalidCredentials)
			return "", oops.Code("INVALID_CREDENTIALS").Wrap(ErrInvalidCredentials)
		}
		s.metrics.login(ResultError)
		return "", oops.Code("INTERNAL_ERROR").
			With("operation", "find account").
			Wrap(err)
	}

	if !s.hasher.Verify(creds.Password, account.PasswordHash) {
		s.metrics.login(ResultInvalidCredentials)
		return "", oops.Code("INVALID_CREDENTIALS").Wrap(ErrInvalidCredentials)
	}

	if err := sess.Start(account.ID, remember); err != nil {
		s.metrics.login(ResultError)
		return "", oops.Code("INTERNAL_ERROR").
			With("operation", "start session").
			With("account_id", account.ID).
			Wrap(err)
	}
	s.metrics.login(ResultSuccess)

	dest, err := SafeRedirect(next)
	if err != nil {
		s.metrics.rejectedRedirect()
		s.logger.DebugContext(ctx, "discarded post-login redirect target", "next", next)
	}
	return dest, nil
}

// Logout はセッションを破棄して HomePath を返します。未ログインでも成功します。
func (s *Service) Logout(sess SessionState) (string, error) {
	if err := sess.End(); err != nil {
		return "", oops.Code("INTERNAL_ERROR").
			With("operation", "end session").
			Wrap(err)
	}
	s.metrics.logout()
	return HomePath, nil
}

// Register はアカウントを作成して LoginPath を返します。作成したアカウントではログインしません。
//
// 入力は forms.ValidateRegistration で検証済みであることを前提とします。
// 一意性違反は accounts.ErrDuplicateUsername か accounts.ErrDuplicateEmail です。
func (s *Service) Register(ctx context.Context, sess SessionState, in forms.RegistrationInput) (string, error) {
	if _, ok := sess.CurrentAccountID(); ok {
		return HomePath, nil
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		s.metrics.registration(ResultError)
		return "", oops.Code("INTERNAL_ERROR").
			With("operation", "hash password").
			Wrap(err)
	}

	account := accounts.New(in.Username, in.Email, hash)
	if err := s.store.Insert(ctx, account); err != nil {
		switch {
		case errors.Is(err, accounts.ErrDuplicateUsername):
			s.metrics.registration(ResultDuplicateUsername)
			return "", err
		case errors.Is(err, accounts.ErrDuplicateEmail):
			s.metrics.registration(ResultDuplicateEmail)
			return "", err
		}
		s.metrics.registration(ResultError)
		return "", oops.Code("INTERNAL_ERROR").
			With("operation", "insert account").
			With("username", in.Username).
			Wrap(err)
	}

	s.metrics.registration(ResultSuccess)
	s.logger.InfoContext(ctx, "account registered", "account_id", account.ID, "username", account.Username)
	return LoginPath, nil
}

// CurrentAccount はセッションに紐づくアカウントを読み込みます。
// 紐づくアカウントが存在しない場合はセッションを破棄して false を返します。
func (s *Service) CurrentAccount(ctx context.Context, sess SessionState) (*accounts.Account, bool, error) {
	id, ok := sess.CurrentAccountID()
	if !ok {
		return nil, false, nil
	}
	account, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, accounts.ErrNotFound) {
			if endErr := sess.End(); endErr != nil {
				return nil, false, oops.Code("INTERNAL_ERROR").With("operation", "end orphan session").Wrap(endErr)
			}
			return nil, false, nil
		}
		return nil, false, oops.Code("INTERNAL_ERROR").
			With("operation", "load current account").
			With("account_id", id).
			Wrap(err)
	}
	return account, true, nil
}
