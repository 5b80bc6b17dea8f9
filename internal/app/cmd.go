package app

import (
	"fmt"
	"strings"
)

// Command は socialwatch のサブコマンド。
type Command string

const (
	// CommandServe はAPIサーバーを起動する。既定のサブコマンド。
	CommandServe Command = "serve"
	// CommandWorker は定期取得とクリーンアップのみを実行する。
	CommandWorker Command = "worker"
	// CommandMigrate はアカウントストアのスキーマを適用して終了する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は稼働中のサーバーの /health を確認する。distrolessイメージのHEALTHCHECK用。
	CommandHealthcheck Command = "healthcheck"
	// CommandHelp は使い方を表示する。
	CommandHelp Command = "help"
)

// commands は表示順に並べたサブコマンドと説明。
var commands = []struct {
	cmd  Command
	desc string
}{
	{CommandServe, "APIサーバーを起動する（REFRESH_IN_SERVE=true の場合は定期取得も行う）"},
	{CommandWorker, "監視アカウントの定期取得と期限切れデータの掃除のみを行う"},
	{CommandMigrate, "ACCOUNT_STORE のスキーマを適用して終了する"},
	{CommandHealthcheck, "SERVER_PORT で稼働中のサーバーの /health を確認する"},
	{CommandHelp, "この使い方を表示する"},
}

// ParseCommand は os.Args[1:] の先頭からサブコマンドを解析する。
// 引数がない場合は CommandServe、未知のサブコマンドはエラーを返す。2番目以降の引数は無視する。
func ParseCommand(args []string) (Command, error) {
	if len(args) == 0 {
		return CommandServe, nil
	}
	name := strings.TrimSpace(args[0])
	switch name {
	case "-h", "--help":
		return CommandHelp, nil
	}
	for _, c := range commands {
		if string(c.cmd) == name {
			return c.cmd, nil
		}
	}
	return "", fmt.Errorf("unknown command: %q", name)
}

// Usage はサブコマンドの一覧を返す。
func Usage() string {
	var b strings.Builder
	b.WriteString("usage: socialwatch [command]\n\ncommands:\n")
	for _, c := range commands {
		fmt.Fprintf(&b, "  %-12s %s\n", c.cmd, c.desc)
	}
	return b.String()
}
