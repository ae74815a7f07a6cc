package auth

import (
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	redisstore "github.com/gin-contrib/sessions/redis"
	"github.com/samber/oops"

	"github.com/yourusername/microblog/internal/config"
)

// セッションを保存する Redis キーの接頭辞
const sessionKeyPrefix = "microblog_session_"

// cookieMaxAger は署名済みクッキーの有効期限を設定できるストアです。gorilla の CookieStore が満たします。
type cookieMaxAger interface {
	MaxAge(age int)
}

// NewSessionStore は SESSION_STORE に応じたセッションストアと、その後始末を返します。
//
// 署名の有効期限は remember me の期間に合わせます。
// クッキーの既定の寿命は m.BrowserMaxAge で、remember me のセッションは Session が保存のたびに付け直します。
func NewSessionStore(cfg *config.Config, m *Manager) (sessions.Store, func(), error) {
	rememberSeconds := int(cfg.RememberDuration.Seconds())

	if cfg.SessionStore == config.SessionStoreRedis {
		store, err := redisstore.NewStore(10, "tcp", cfg.SessionRedisAddr, "", cfg.SessionKey())
		if err != nil {
			return nil, nil, oops.Code("REDIS_CONNECT_FAILED").With("addr", cfg.SessionRedisAddr).Wrap(err)
		}
		err, rs := redisstore.GetRedisStore(store)
		if err != nil {
			return nil, nil, oops.Code("SESSION_STORE_FAILED").Wrap(err)
		}
		rs.SetMaxAge(rememberSeconds)
		rs.SetKeyPrefix(sessionKeyPrefix)
		store.Options(m.CookieOptions(m.BrowserMaxAge()))
		return store, func() { _ = rs.Close() }, nil
	}

	store := cookie.NewStore(cfg.SessionKey())
	if s, ok := store.(cookieMaxAger); ok {
		s.MaxAge(rememberSeconds)
	}
	store.Options(m.CookieOptions(m.BrowserMaxAge()))
	return store, func() {}, nil
}
