package auth

import (
	"net/url"
	"strings"
)

// HomePath はログイン後とログアウト後の既定の遷移先です。
const HomePath = "/index"

// SafeRedirect は next が同一オリジンの相対パスであれば返し、それ以外は ErrOpenRedirectRejected を返します。
//
// スキームかホストを含むものは拒否します。// で始まるもの、バックスラッシュや制御文字を
// 含むものもブラウザがホストとして解釈しうるため拒否します。空文字は HomePath になります。
func SafeRedirect(next string) (string, error) {
	if next == "" {
		return HomePath, nil
	}
	if strings.Contains(next, `\`) || hasControlChar(next) || strings.TrimSpace(next) != next {
		return HomePath, ErrOpenRedirectRejected
	}
	if strings.HasPrefix(next, "//") {
		return HomePath, ErrOpenRedirectRejected
	}

	u, err := url.Parse(next)
	if err != nil {
		return HomePath, ErrOpenRedirectRejected
	}
	if u.Scheme != "" || u.Host != "" || u.User != nil || u.Opaque != "" {
		return HomePath, ErrOpenRedirectRejected
	}
	return next, nil
}

func hasControlChar(s string) bool {
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			return true
		}
	}
	return false
}
