// Package auth はログイン・ログアウト・登録のフローとセッション管理を提供します。
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/samber/oops"

	"github.com/yourusername/microblog/internal/config"
)

const (
	SessionCookieName  = "microblog_session"
	sessionKeyAccount  = "account_id"
	sessionKeyRemember = "remember"
	sessionKeyIssuedAt = "issued_at"
	sessionKeyCSRF     = "csrf_token"
)

// Manager はセッションの寿命とクッキー属性を管理します。
type Manager struct {
	sessionLifetime  time.Duration
	rememberDuration time.Duration
	// remember me でないセッションのクッキー寿命（秒）
	browserMaxAge int
	secure        bool
	now           func() time.Time
}

// NewManager はセッションマネージャーを作成します。
//
// Redis ストアは MaxAge 0 の保存をセッション削除として扱うため、
// remember me でないセッションも SESSION_LIFETIME の MaxAge で保存します。
func NewManager(cfg *config.Config) *Manager {
	m := &Manager{
		sessionLifetime:  cfg.SessionLifetime,
		rememberDuration: cfg.RememberDuration,
		secure:           cfg.GinMode == gin.ReleaseMode,
		now:              time.Now,
	}
	if cfg.SessionStore == config.SessionStoreRedis {
		m.browserMaxAge = m.SessionLifetimeSeconds()
	}
	return m
}

// CookieOptions は maxAge 秒のクッキー属性を返します。0 はブラウザセッション限りのクッキーです。
func (m *Manager) CookieOptions(maxAge int) sessions.Options {
	return sessions.Options{
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// SessionLifetimeSeconds はサーバー側で保持する通常セッションの秒数を返します。
func (m *Manager) SessionLifetimeSeconds() int {
	return int(m.sessionLifetime.Seconds())
}

// BrowserMaxAge は remember me でないセッションのクッキー寿命を返します。
// クッキーストアでは 0（ブラウザセッション限り）、Redis ストアでは SESSION_LIFETIME です。
func (m *Manager) BrowserMaxAge() int {
	return m.browserMaxAge
}

// Session はリクエストに紐づくセッションを返します。
func (m *Manager) Session(c *gin.Context) *Session {
	return &Session{s: sessions.Default(c), m: m}
}

// Session はブラウザ 1 つ分の認証状態です。同時に紐づくアカウントは高々 1 つです。
type Session struct {
	s sessions.Session
	m *Manager
}

// CurrentAccountID はログイン中のアカウント ID を返します。期限切れのセッションは破棄します。
func (s *Session) CurrentAccountID() (string, bool) {
	id, ok := s.s.Get(sessionKeyAccount).(string)
	if !ok || id == "" {
		return "", false
	}

	lifetime := s.m.sessionLifetime
	if remember, _ := s.s.Get(sessionKeyRemember).(bool); remember {
		lifetime = s.m.rememberDuration
	}
	issuedAt := readUnix(s.s.Get(sessionKeyIssuedAt))
	if issuedAt.IsZero() || s.m.now().Sub(issuedAt) > lifetime {
		_ = s.End()
		return "", false
	}
	return id, true
}

// Start はアカウントをセッションに紐づけます。
// remember が true ならクッキーを RememberDuration だけ永続化し、false なら BrowserMaxAge のクッキーにします。
// CSRF トークンはログインのたびに作り直します。
func (s *Session) Start(accountID string, remember bool) error {
	token, err := generateToken()
	if err != nil {
		return oops.Code("SESSION_TOKEN_FAILED").Wrap(err)
	}

	s.s.Clear()
	s.s.Set(sessionKeyAccount, accountID)
	s.s.Set(sessionKeyRemember, remember)
	s.s.Set(sessionKeyIssuedAt, s.m.now().Unix())
	s.s.Set(sessionKeyCSRF, token)
	return s.save("start session")
}

// End はセッションを破棄します。未ログインでも成功します。
func (s *Session) End() error {
	s.s.Clear()
	s.s.Options(s.m.CookieOptions(-1))
	if err := s.s.Save(); err != nil {
		return oops.Code("SESSION_SAVE_FAILED").With("operation", "end session").Wrap(err)
	}
	return nil
}

// Flash は次に表示するページ用のメッセージを保存します。
func (s *Session) Flash(message string) error {
	s.s.AddFlash(message)
	return s.save("add flash")
}

// Flashes は保存済みのメッセージを取り出します。取り出したメッセージは消えます。
func (s *Session) Flashes() []string {
	raw := s.s.Flashes()
	if len(raw) == 0 {
		return nil
	}
	messages := make([]string, 0, len(raw))
	for _, v := range raw {
		if msg, ok := v.(string); ok {
			messages = append(messages, msg)
		}
	}
	return messages
}

// CSRFToken はフォームに埋め込むトークンを返します。未発行なら発行します。
func (s *Session) CSRFToken() (string, error) {
	if token, ok := s.s.Get(sessionKeyCSRF).(string); ok && token != "" {
		return token, nil
	}
	token, err := generateToken()
	if err != nil {
		return "", oops.Code("SESSION_TOKEN_FAILED").Wrap(err)
	}
	s.s.Set(sessionKeyCSRF, token)
	return token, nil
}

// Save は Flashes や CSRFToken による変更を保存します。
func (s *Session) Save() error {
	return s.save("save session")
}

// save は remember の有無に応じたクッキー寿命を付け直してから保存します。
func (s *Session) save(operation string) error {
	maxAge := s.m.browserMaxAge
	if remember, _ := s.s.Get(sessionKeyRemember).(bool); remember {
		maxAge = int(s.m.rememberDuration.Seconds())
	}
	s.s.Options(s.m.CookieOptions(maxAge))
	if err := s.s.Save(); err != nil {
		return oops.Code("SESSION_SAVE_FAILED").With("operation", operation).Wrap(err)
	}
	return nil
}

func (s *Session) csrfToken() string {
	token, _ := s.s.Get(sessionKeyCSRF).(string)
	return token
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func readUnix(v interface{}) time.Time {
	switch t := v.(type) {
	case int64:
		return time.Unix(t, 0)
	case int:
		return time.Unix(int64(t), 0)
	case float64:
		return time.Unix(int64(t), 0)
	default:
		return time.Time{}
	}
}
