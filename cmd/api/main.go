// Package main はコミックライブラリサーバーのエントリーポイントです。
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newRootCmd はルートコマンドを作成します。サブコマンド無しで起動した場合は serve と同じ動作です。
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "comic-library",
		Short:         "ログイン必須の PDF コミックライブラリサーバー",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newMigrateCmd())

	return cmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "HTTP サーバーを起動する",
		RunE:  runServe,
	}
}
