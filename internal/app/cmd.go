package app

import (
	"io"

	"github.com/spf13/cobra"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandReconcile は購入済み集合を注文台帳から再構築することを示す。
	CommandReconcile Command = "reconcile"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// Version はビルド時に -ldflags で上書きされる。
var Version = "dev"

// NewRootCommand はvocabstoreのルートコマンドを生成する。
// サブコマンドなしで実行した場合はserveとして動作する。
func NewRootCommand(w io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "vocabstore",
		Short:         "VocabStore storefront API server",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return execute(w, CommandServe)
		},
	}
	root.SetOut(w)
	root.SetErr(w)

	root.AddCommand(
		newSubcommand(w, CommandServe, "Start the HTTP API server"),
		newSubcommand(w, CommandMigrate, "Apply all pending database migrations"),
		newSubcommand(w, CommandReconcile, "Rebuild purchased item sets from the order ledger"),
		newSubcommand(w, CommandHealthcheck, "Probe the local /health endpoint"),
	)
	return root
}

func newSubcommand(w io.Writer, c Command, short string) *cobra.Command {
	return &cobra.Command{
		Use:   string(c),
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return execute(w, c)
		},
	}
}
