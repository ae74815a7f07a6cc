// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// セッションストアの種類
const (
	SessionStoreCookie = "cookie"
	SessionStoreRedis  = "redis"
)

// アカウントストアの種類
const (
	AccountStorePostgres = "postgres"
	AccountStoreRedis    = "redis"
	AccountStoreMemory   = "memory"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// サーバー設定
	Port    string `env:"PORT" envDefault:"8080"`
	GinMode string `env:"GIN_MODE" envDefault:"debug"` // debug, release, test

	// セッション設定
	SessionSecret    string        `env:"SESSION_SECRET"`
	SessionStore     string        `env:"SESSION_STORE" envDefault:"cookie"`
	SessionRedisAddr string        `env:"SESSION_REDIS_ADDR" envDefault:"127.0.0.1:6379"`
	SessionLifetime  time.Duration `env:"SESSION_LIFETIME" envDefault:"12h"`
	RememberDuration time.Duration `env:"REMEMBER_DURATION" envDefault:"8760h"`

	// アカウントストア設定
	AccountStore    string `env:"ACCOUNT_STORE" envDefault:"postgres"`
	DatabaseURL     string `env:"DATABASE_URL" envDefault:"postgres://localhost:5432/microblog?sslmode=disable"`
	AccountRedisURL string `env:"ACCOUNT_REDIS_URL" envDefault:"redis://127.0.0.1:6379/1"`

	// パスワードハッシュ設定
	BcryptCost int `env:"BCRYPT_COST" envDefault:"10"`

	// ログ設定
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	// .env.local ファイルを読み込む（存在しない場合はスキップ）
	loadEnvFile()

	config := &Config{}
	if err := env.Parse(config); err != nil {
		return nil, fmt.Errorf("failed to parse env: %w", err)
	}

	// 必須設定のバリデーション
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	switch c.SessionStore {
	case SessionStoreCookie, SessionStoreRedis:
	default:
		return fmt.Errorf("SESSION_STORE must be %q or %q, got %q", SessionStoreCookie, SessionStoreRedis, c.SessionStore)
	}

	switch c.AccountStore {
	case AccountStorePostgres, AccountStoreRedis, AccountStoreMemory:
	default:
		return fmt.Errorf("ACCOUNT_STORE must be one of postgres, redis, memory, got %q", c.AccountStore)
	}

	if c.SessionLifetime <= 0 {
		return fmt.Errorf("SESSION_LIFETIME must be positive")
	}
	if c.RememberDuration < c.SessionLifetime {
		return fmt.Errorf("REMEMBER_DURATION must not be shorter than SESSION_LIFETIME")
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return fmt.Errorf("BCRYPT_COST must be between 4 and 31")
	}

	// ローカル開発ではセッション鍵は任意
	// 本番環境では厳格にチェックする
	if c.GinMode == "release" {
		if c.SessionSecret == "" {
			return fmt.Errorf("SESSION_SECRET is required in release mode")
		}
		if len(c.SessionSecret) < 32 {
			return fmt.Errorf("SESSION_SECRET must be at least 32 bytes in release mode")
		}
		if c.AccountStore == AccountStoreMemory {
			return fmt.Errorf("ACCOUNT_STORE=memory is not allowed in release mode")
		}
	}

	return nil
}

// SessionKey は署名鍵を返します。開発時に未設定なら固定の開発用鍵を使います。
func (c *Config) SessionKey() []byte {
	if c.SessionSecret == "" {
		return []byte("microblog-development-session-key")
	}
	return []byte(c.SessionSecret)
}
