package auth

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"github.com/yourusername/microblog/internal/accounts"
	"github.com/yourusername/microblog/internal/forms"
	"github.com/yourusername/microblog/internal/logging"
)

// 画面に表示するメッセージ
const (
	msgInvalidCredentials = "Invalid username or password"
	msgRegistered         = "Congratulations, you are now a registered user!"
	msgDuplicateUsername  = "Please use a different username."
	msgDuplicateEmail     = "Please use a different email address."
	msgInternalError      = "Something went wrong. Please try again."
)

// Handler は認証フローの HTTP ハンドラーです。
type Handler struct {
	service  *Service
	sessions *Manager
	logger   *slog.Logger
}

// NewHandler はハンドラーを作成します。
func NewHandler(service *Service, sessions *Manager, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		service:  service,
		sessions: sessions,
		logger:   logger,
	}
}

// Index は GET / と GET /index のハンドラーです。RequireLogin の後ろで使います。
func (h *Handler) Index(c *gin.Context) {
	account, _ := CurrentAccount(c)
	h.render(c, http.StatusOK, "index.html", gin.H{
		"Title":   "Home",
		"Account": account,
	})
}

// LoginPage は GET /login のハンドラーです。
func (h *Handler) LoginPage(c *gin.Context) {
	if h.authenticated(c) {
		c.Redirect(http.StatusFound, HomePath)
		return
	}
	h.renderLogin(c, http.StatusOK, forms.LoginInput{}, nil)
}

// Login は POST /login のハンドラーです。
func (h *Handler) Login(c *gin.Context) {
	sess := h.sessions.Session(c)
	if _, ok := sess.CurrentAccountID(); ok {
		c.Redirect(http.StatusFound, HomePath)
		return
	}

	var in forms.LoginInput
	if err := c.ShouldBindWith(&in, binding.Form); err != nil {
		h.service.metrics.login(ResultInvalidForm)
		h.renderLogin(c, http.StatusOK, in, forms.FieldErrors{"": {"Invalid form submission."}})
		return
	}
	if errs := forms.ValidateLogin(in); errs != nil {
		h.service.metrics.login(ResultInvalidForm)
		h.renderLogin(c, http.StatusOK, in, errs)
		return
	}

	next := c.Query("next")
	dest, err := h.service.Login(c.Request.Context(), sess, Credentials{
		Username: in.Username,
		Password: in.Password,
	}, in.RememberMe, next)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			h.flashAndRedirect(c, sess, msgInvalidCredentials, loginURL(next))
			return
		}
		logging.LogError(h.logger, "login failed", err, "username", in.Username)
		h.flashAndRedirect(c, sess, msgInternalError, loginURL(next))
		return
	}

	c.Redirect(http.StatusFound, dest)
}

// Logout は GET /logout のハンドラーです。
func (h *Handler) Logout(c *gin.Context) {
	dest, err := h.service.Logout(h.sessions.Session(c))
	if err != nil {
		logging.LogError(h.logger, "logout failed", err)
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	c.Redirect(http.StatusFound, dest)
}

// RegisterPage は GET /register のハンドラーです。
func (h *Handler) RegisterPage(c *gin.Context) {
	if h.authenticated(c) {
		c.Redirect(http.StatusFound, HomePath)
		return
	}
	h.renderRegister(c, http.StatusOK, forms.RegistrationInput{}, nil)
}

// Register は POST /register のハンドラーです。
func (h *Handler) Register(c *gin.Context) {
	sess := h.sessions.Session(c)
	if _, ok := sess.CurrentAccountID(); ok {
		c.Redirect(http.StatusFound, HomePath)
		return
	}

	var in forms.RegistrationInput
	if err := c.ShouldBindWith(&in, binding.Form); err != nil {
		h.service.metrics.registration(ResultInvalidForm)
		h.renderRegister(c, http.StatusOK, in, forms.FieldErrors{"": {"Invalid form submission."}})
		return
	}
	if errs := forms.ValidateRegistration(in); errs != nil {
		h.service.metrics.registration(ResultInvalidForm)
		h.renderRegister(c, http.StatusOK, in, errs)
		return
	}

	dest, err := h.service.Register(c.Request.Context(), sess, in)
	switch {
	case err == nil:
	case errors.Is(err, accounts.ErrDuplicateUsername):
		h.renderRegister(c, http.StatusOK, in, forms.FieldErrors{"username": {msgDuplicateUsername}})
		return
	case errors.Is(err, accounts.ErrDuplicateEmail):
		h.renderRegister(c, http.StatusOK, in, forms.FieldErrors{"email": {msgDuplicateEmail}})
		return
	default:
		logging.LogError(h.logger, "registration failed", err, "username", in.Username)
		h.flashAndRedirect(c, sess, msgInternalError, "/register")
		return
	}

	if dest == LoginPath {
		h.flashAndRedirect(c, sess, msgRegistered, dest)
		return
	}
	c.Redirect(http.StatusFound, dest)
}

func (h *Handler) renderLogin(c *gin.Context, status int, in forms.LoginInput, errs forms.FieldErrors) {
	// パスワードは再表示しない
	in.Password = ""
	h.render(c, status, "login.html", gin.H{
		"Title":  "Sign In",
		"Form":   in,
		"Errors": errs,
	})
}

func (h *Handler) renderRegister(c *gin.Context, status int, in forms.RegistrationInput, errs forms.FieldErrors) {
	in.Password = ""
	in.Password2 = ""
	h.render(c, status, "register.html", gin.H{
		"Title":  "Register",
		"Form":   in,
		"Errors": errs,
	})
}

// render はフラッシュと CSRF トークンを data に加え、セッションを保存してからテンプレートを描画します。
func (h *Handler) render(c *gin.Context, status int, name string, data gin.H) {
	sess := h.sessions.Session(c)
	_, authenticated := sess.CurrentAccountID()
	token, err := sess.CSRFToken()
	if err != nil {
		logging.LogError(h.logger, "failed to issue csrf token", err)
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	data["Flashes"] = sess.Flashes()
	data["CSRFToken"] = token
	data["Authenticated"] = authenticated

	// ヘッダー送信後はクッキーを書けないため描画前に保存する
	if err := sess.Save(); err != nil {
		logging.LogError(h.logger, "failed to save session", err)
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	c.HTML(status, name, data)
}

func (h *Handler) flashAndRedirect(c *gin.Context, sess *Session, message, location string) {
	if err := sess.Flash(message); err != nil {
		logging.LogError(h.logger, "failed to save flash", err)
	}
	c.Redirect(http.StatusFound, location)
}

func (h *Handler) authenticated(c *gin.Context) bool {
	_, ok := h.sessions.Session(c).CurrentAccountID()
	return ok
}
