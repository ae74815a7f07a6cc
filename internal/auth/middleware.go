package auth

import (
	"crypto/subtle"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/microblog/internal/accounts"
	"github.com/yourusername/microblog/internal/logging"
)

const (
	// ContextAccountKey は RequireLogin が読み込んだアカウントを共有するためのキーです。
	ContextAccountKey = "auth.account"

	csrfHeader    = "X-CSRF-Token"
	csrfFormField = "csrf_token"

	msgLoginRequired = "Please log in to access this page."
)

// CurrentAccount は RequireLogin を通過したリクエストのアカウントを返します。
func CurrentAccount(c *gin.Context) (*accounts.Account, bool) {
	v, ok := c.Get(ContextAccountKey)
	if !ok {
		return nil, false
	}
	account, ok := v.(*accounts.Account)
	return account, ok && account != nil
}

// RequireLogin はログイン済みのアカウントを読み込むミドルウェアです。
// 未ログインなら元の URI を next に付けて /login へリダイレクトします。
func (h *Handler) RequireLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := h.sessions.Session(c)
		account, ok, err := h.service.CurrentAccount(c.Request.Context(), sess)
		if err != nil {
			logging.LogError(h.logger, "failed to load current account", err, "path", c.Request.URL.Path)
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		if !ok {
			if err := sess.Flash(msgLoginRequired); err != nil {
				logging.LogError(h.logger, "failed to save flash", err)
			}
			c.Redirect(http.StatusFound, loginURL(c.Request.URL.RequestURI()))
			c.Abort()
			return
		}

		c.Set(ContextAccountKey, account)
		c.Next()
	}
}

// VerifyCSRF はフォームの csrf_token か X-CSRF-Token ヘッダーを検証するミドルウェアです。
func (h *Handler) VerifyCSRF() gin.HandlerFunc {
	return func(c *gin.Context) {
		if isSafeMethod(c.Request.Method) {
			c.Next()
			return
		}

		expected := h.sessions.Session(c).csrfToken()
		if expected == "" {
			c.AbortWithStatus(http.StatusForbidden)
			return
		}

		received := c.PostForm(csrfFormField)
		if received == "" {
			received = c.GetHeader(csrfHeader)
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(received)) != 1 {
			c.AbortWithStatus(http.StatusForbidden)
			return
		}

		c.Next()
	}
}

// loginURL は next を付けたログインページの URL を返します。
func loginURL(next string) string {
	if next == "" {
		return LoginPath
	}
	return LoginPath + "?" + url.Values{"next": {next}}.Encode()
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	default:
		return false
	}
}
