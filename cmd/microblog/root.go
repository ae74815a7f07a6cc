package main

import (
	"github.com/spf13/cobra"
)

// NewRootCmd はルートコマンドを作成します。サブコマンドを省略すると serve を実行します。
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "microblog",
		Short: "microblog - ログイン・登録つきの小さな Web フロントエンド",
		Long: `microblog はユーザー登録、ログイン、ログアウトと
ログイン必須のホーム画面を提供する Web サーバーです。`,
		SilenceUsage: true,
		RunE:         runServe,
	}

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())

	return cmd
}

// NewServeCmd は serve サブコマンドを作成します。
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "HTTP サーバーを起動します",
		Long:  `環境変数（.env.local を含む）から設定を読み込み、HTTP サーバーを起動します。`,
		RunE:  runServe,
	}
}
