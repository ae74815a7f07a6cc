package web

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplatesDefinePages(t *testing.T) {
	tmpl, err := Templates()
	require.NoError(t, err)

	for _, name := range []string{"index.html", "login.html", "register.html", "header", "footer"} {
		assert.NotNil(t, tmpl.Lookup(name), name)
	}
}

func TestLoginTemplateRendersFlashesAndErrors(t *testing.T) {
	tmpl := MustTemplates()

	type loginForm struct {
		Username   string
		RememberMe bool
	}
	var buf bytes.Buffer
	err := tmpl.ExecuteTemplate(&buf, "login.html", map[string]any{
		"Title":         "Sign In",
		"Flashes":       []string{"Invalid username or password"},
		"CSRFToken":     "tok",
		"Authenticated": false,
		"Form":          loginForm{Username: "<alice>", RememberMe: true},
		"Errors":        map[string][]string{"password": {"This field is required."}},
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "<title>Sign In - Microblog</title>")
	assert.Contains(t, out, "<li>Invalid username or password</li>")
	assert.Contains(t, out, `value="tok"`)
	assert.Contains(t, out, "&lt;alice&gt;")
	assert.Contains(t, out, "[This field is required.]")
	assert.Contains(t, out, " checked")
	assert.Contains(t, out, `href="/login"`)
	assert.NotContains(t, out, `href="/logout"`)
}
