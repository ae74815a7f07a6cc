package auth

import (
	"context"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/crypto/bcrypt"

	"github.com/yourusername/microblog/internal/accounts"
	"github.com/yourusername/microblog/internal/config"
	"github.com/yourusername/microblog/internal/web"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	goleak.VerifyTestMain(m)
}

var csrfPattern = regexp.MustCompile(`name="csrf_token" value="([^"]+)"`)

// フローのテストはすべてのセッションストアで実行する
var sessionBackends = []string{config.SessionStoreCookie, config.SessionStoreRedis}

type testApp struct {
	router  *gin.Engine
	store   *accounts.MemoryStore
	manager *Manager
	metrics *Metrics
	redis   *miniredis.Miniredis
}

func newTestApp(t *testing.T, backend string) *testApp {
	t.Helper()
	cfg := &config.Config{
		GinMode:          gin.TestMode,
		SessionStore:     backend,
		SessionSecret:    "0123456789abcdef0123456789abcdef",
		SessionLifetime:  12 * time.Hour,
		RememberDuration: 365 * 24 * time.Hour,
	}
	app := &testApp{store: accounts.NewMemoryStore()}
	if backend == config.SessionStoreRedis {
		app.redis = miniredis.RunT(t)
		cfg.SessionRedisAddr = app.redis.Addr()
	}

	app.manager = NewManager(cfg)
	app.metrics = NewMetrics(prometheus.NewRegistry())
	service := NewService(app.store, NewBcryptHasher(bcrypt.MinCost), app.metrics, discardLogger())
	handler := NewHandler(service, app.manager, discardLogger())

	sessionStore, closeSessions, err := NewSessionStore(cfg, app.manager)
	require.NoError(t, err)
	t.Cleanup(closeSessions)

	app.router = gin.New()
	app.router.SetHTMLTemplate(web.MustTemplates())
	app.router.Use(sessions.Sessions(SessionCookieName, sessionStore))
	handler.Routes(app.router)
	return app
}

// eachBackend はセッションストアごとに新しい testApp で fn を実行します。
func eachBackend(t *testing.T, fn func(t *testing.T, app *testApp)) {
	t.Helper()
	for _, backend := range sessionBackends {
		t.Run(backend, func(t *testing.T) {
			fn(t, newTestApp(t, backend))
		})
	}
}

// browser はクッキーを保持してリダイレクトを追わないクライアントです。
type browser struct {
	t    *testing.T
	app  *testApp
	jar  *cookiejar.Jar
	base *url.URL
}

func (a *testApp) browser(t *testing.T) *browser {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	base, err := url.Parse("http://microblog.test")
	require.NoError(t, err)
	return &browser{t: t, app: a, jar: jar, base: base}
}

func (b *browser) do(req *http.Request) *http.Response {
	b.t.Helper()
	u := b.base.ResolveReference(req.URL)
	for _, c := range b.jar.Cookies(u) {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	b.app.router.ServeHTTP(rec, req)
	resp := rec.Result()
	b.jar.SetCookies(u, resp.Cookies())
	return resp
}

func (b *browser) get(path string) (*http.Response, string) {
	b.t.Helper()
	resp := b.do(httptest.NewRequest(http.MethodGet, path, nil))
	return resp, readBody(b.t, resp)
}

func (b *browser) post(path string, form url.Values) (*http.Response, string) {
	b.t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp := b.do(req)
	return resp, readBody(b.t, resp)
}

// submit はフォームを表示して CSRF トークンを取り出し、値を付けて送信します。
func (b *browser) submit(path string, form url.Values) (*http.Response, string) {
	b.t.Helper()
	_, page := b.get(path)
	m := csrfPattern.FindStringSubmatch(page)
	require.Len(b.t, m, 2, "csrf token not found on %s", path)
	form.Set("csrf_token", m[1])
	return b.post(path, form)
}

func (b *browser) register(username, email, password string) (*http.Response, string) {
	b.t.Helper()
	return b.submit("/register", url.Values{
		"username":  {username},
		"email":     {email},
		"password":  {password},
		"password2": {password},
	})
}

func (b *browser) login(path, username, password string, remember bool) (*http.Response, string) {
	b.t.Helper()
	form := url.Values{"username": {username}, "password": {password}}
	if remember {
		form.Set("remember_me", "true")
	}
	return b.submit(path, form)
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func sessionCookie(resp *http.Response) *http.Cookie {
	var found *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == SessionCookieName {
			found = c
		}
	}
	return found
}

func TestAliceScenario(t *testing.T) {
	eachBackend(t, func(t *testing.T, app *testApp) {
		b := app.browser(t)

		resp, _ := b.register("alice", "alice@example.com", "secret1")
		assert.Equal(t, http.StatusFound, resp.StatusCode)
		assert.Equal(t, "/login", resp.Header.Get("Location"))
		assert.Equal(t, 1, app.store.Len())

		_, page := b.get("/login")
		assert.Contains(t, page, "Congratulations, you are now a registered user!")

		resp, _ = b.login("/login", "alice", "wrong", false)
		assert.Equal(t, http.StatusFound, resp.StatusCode)
		assert.Equal(t, "/login", resp.Header.Get("Location"))

		_, page = b.get("/login")
		assert.Contains(t, page, "Invalid username or password")

		resp, _ = b.get("/index")
		assert.Equal(t, http.StatusFound, resp.StatusCode, "failed login must stay anonymous")

		resp, _ = b.login("/login", "alice", "secret1", false)
		assert.Equal(t, http.StatusFound, resp.StatusCode)
		assert.Equal(t, "/index", resp.Header.Get("Location"))

		resp, page = b.get("/index")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, page, "Hi, alice!")
		assert.Contains(t, page, "<title>Home - Microblog</title>")
		assert.Contains(t, page, `href="/logout"`)
	})
}

func TestRedisSessionsLiveOnServer(t *testing.T) {
	app := newTestApp(t, config.SessionStoreRedis)
	b := app.browser(t)
	b.register("alice", "alice@example.com", "secret1")

	resp, _ := b.login("/login", "alice", "secret1", false)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	require.Equal(t, "/index", resp.Header.Get("Location"))

	c := sessionCookie(resp)
	require.NotNil(t, c)
	assert.NotEmpty(t, c.Value)
	assert.NotContains(t, c.Value, "alice", "the cookie carries only the session id")

	keys := app.redis.Keys()
	require.Len(t, keys, 1)
	assert.Equal(t, 12*time.Hour, app.redis.TTL(keys[0]))

	resp, page := b.get("/index")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, page, "Hi, alice!")

	b.get("/logout")
	resp, _ = b.get("/index")
	assert.Equal(t, http.StatusFound, resp.StatusCode)
}

func TestIndexRequiresLogin(t *testing.T) {
	eachBackend(t, func(t *testing.T, app *testApp) {
		b := app.browser(t)

		for _, path := range []string{"/", "/index"} {
			resp, _ := b.get(path)
			assert.Equal(t, http.StatusFound, resp.StatusCode, path)
			assert.Equal(t, "/login?next="+url.QueryEscape(path), resp.Header.Get("Location"), path)
		}

		_, page := b.get("/login")
		assert.Contains(t, page, "Please log in to access this page.")
	})
}

func TestLogoutThenIndexRedirectsToLogin(t *testing.T) {
	eachBackend(t, func(t *testing.T, app *testApp) {
		b := app.browser(t)
		b.register("alice", "alice@example.com", "secret1")
		b.login("/login", "alice", "secret1", false)

		resp, _ := b.get("/index")
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp, _ = b.get("/logout")
		assert.Equal(t, http.StatusFound, resp.StatusCode)
		assert.Equal(t, "/index", resp.Header.Get("Location"))

		resp, _ = b.get("/index")
		assert.Equal(t, http.StatusFound, resp.StatusCode)
		assert.Equal(t, "/login?next=%2Findex", resp.Header.Get("Location"))

		resp, _ = b.get("/logout")
		assert.Equal(t, http.StatusFound, resp.StatusCode, "logout while anonymous still succeeds")
	})
}

func TestLoginNextTarget(t *testing.T) {
	tests := []struct {
		name string
		next string
		want string
	}{
		{name: "relative path", next: "/profile", want: "/profile"},
		{name: "absolute url", next: "http://evil.example/phish", want: "/index"},
		{name: "protocol relative", next: "//evil.example/phish", want: "/index"},
		{name: "backslash", next: `/\evil.example`, want: "/index"},
	}

	eachBackend(t, func(t *testing.T, app *testApp) {
		b := app.browser(t)
		b.register("alice", "alice@example.com", "secret1")

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				b := app.browser(t)
				resp, _ := b.login("/login?next="+url.QueryEscape(tt.next), "alice", "secret1", false)
				assert.Equal(t, http.StatusFound, resp.StatusCode)
				assert.Equal(t, tt.want, resp.Header.Get("Location"))
			})
		}
	})
}

func TestLoginFailureKeepsNext(t *testing.T) {
	eachBackend(t, func(t *testing.T, app *testApp) {
		b := app.browser(t)

		resp, _ := b.login("/login?next=%2Fprofile", "nobody", "secret1", false)
		assert.Equal(t, http.StatusFound, resp.StatusCode)
		assert.Equal(t, "/login?next=%2Fprofile", resp.Header.Get("Location"))
	})
}

func TestLoginFormErrorsRerender(t *testing.T) {
	eachBackend(t, func(t *testing.T, app *testApp) {
		b := app.browser(t)

		resp, page := b.login("/login", "alice", "", false)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, page, "[This field is required.]")
		assert.Contains(t, page, `value="alice"`)
		assert.Equal(t, 1.0, testutil.ToFloat64(app.metrics.logins.WithLabelValues(ResultInvalidForm)))
		assert.Zero(t, testutil.ToFloat64(app.metrics.logins.WithLabelValues(ResultInvalidCredentials)))
	})
}

func TestRememberMeCookieLifetime(t *testing.T) {
	remember := int((365 * 24 * time.Hour).Seconds())

	eachBackend(t, func(t *testing.T, app *testApp) {
		b := app.browser(t)
		b.register("alice", "alice@example.com", "secret1")

		resp, _ := b.login("/login", "alice", "secret1", false)
		require.Equal(t, "/index", resp.Header.Get("Location"))
		c := sessionCookie(resp)
		require.NotNil(t, c)
		assert.Equal(t, app.manager.BrowserMaxAge(), c.MaxAge)
		assert.Less(t, c.MaxAge, remember)

		remembered := app.browser(t)
		resp, _ = remembered.login("/login", "alice", "secret1", true)
		require.Equal(t, "/index", resp.Header.Get("Location"))
		c = sessionCookie(resp)
		require.NotNil(t, c)
		assert.Equal(t, remember, c.MaxAge)

		// ページ表示で保存し直しても寿命は縮まない
		resp, _ = remembered.get("/index")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		c = sessionCookie(resp)
		require.NotNil(t, c)
		assert.Equal(t, remember, c.MaxAge)
	})
}

func TestSessionExpires(t *testing.T) {
	eachBackend(t, func(t *testing.T, app *testApp) {
		b := app.browser(t)
		b.register("alice", "alice@example.com", "secret1")
		b.login("/login", "alice", "secret1", false)

		resp, _ := b.get("/index")
		require.Equal(t, http.StatusOK, resp.StatusCode)

		app.manager.now = func() time.Time { return time.Now().Add(13 * time.Hour) }
		resp, _ = b.get("/index")
		assert.Equal(t, http.StatusFound, resp.StatusCode)
	})
}

func TestRegisterDuplicates(t *testing.T) {
	eachBackend(t, func(t *testing.T, app *testApp) {
		b := app.browser(t)
		b.register("alice", "alice@example.com", "secret1")
		original, err := app.store.FindByUsername(context.Background(), "alice")
		require.NoError(t, err)

		resp, page := b.register("alice", "other@example.com", "secret2")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, page, "Please use a different username.")
		assert.Contains(t, page, "<title>Register - Microblog</title>")

		resp, page = b.register("alice2", "alice@example.com", "secret2")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, page, "Please use a different email address.")

		assert.Equal(t, 1, app.store.Len())
		after, err := app.store.FindByUsername(context.Background(), "alice")
		require.NoError(t, err)
		assert.Equal(t, original, after)
	})
}

func TestRegisterValidation(t *testing.T) {
	eachBackend(t, func(t *testing.T, app *testApp) {
		b := app.browser(t)

		resp, page := b.submit("/register", url.Values{
			"username":  {"alice"},
			"email":     {"not-an-email"},
			"password":  {"secret1"},
			"password2": {"secret2"},
		})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, page, "Invalid email address.")
		assert.Contains(t, page, "Field must be equal to password.")
		assert.NotContains(t, page, "secret1")
		assert.Zero(t, app.store.Len())
		assert.Equal(t, 1.0, testutil.ToFloat64(app.metrics.registrations.WithLabelValues(ResultInvalidForm)))
	})
}

func TestAuthenticatedUserSkipsForms(t *testing.T) {
	eachBackend(t, func(t *testing.T, app *testApp) {
		b := app.browser(t)
		b.register("alice", "alice@example.com", "secret1")
		b.login("/login", "alice", "secret1", false)

		for _, path := range []string{"/login", "/register"} {
			resp, _ := b.get(path)
			assert.Equal(t, http.StatusFound, resp.StatusCode, path)
			assert.Equal(t, "/index", resp.Header.Get("Location"), path)
		}
	})
}

func TestPostWithoutCSRFTokenIsForbidden(t *testing.T) {
	eachBackend(t, func(t *testing.T, app *testApp) {
		b := app.browser(t)

		b.get("/login")
		resp, _ := b.post("/login", url.Values{"username": {"alice"}, "password": {"secret1"}})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)

		resp, _ = b.post("/register", url.Values{"username": {"alice"}, "csrf_token": {"forged"}})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		assert.Zero(t, app.store.Len())
	})
}
