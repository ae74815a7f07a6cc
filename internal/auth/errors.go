package auth

import "errors"

// 認証フローが返す分類済みエラー
var (
	// ErrInvalidCredentials はユーザーが存在しない場合とパスワード不一致の両方で返します。
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrOpenRedirectRejected は next が別オリジンを指していたことを表します。利用者には見せません。
	ErrOpenRedirectRejected = errors.New("redirect target rejected")
)
