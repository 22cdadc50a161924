package app

import (
	"fmt"
	"io"
	"text/tabwriter"
)

// Command は umarket バイナリのサブコマンド。
type Command string

const (
	CommandServe       Command = "serve"
	CommandWorker      Command = "worker"
	CommandMigrate     Command = "migrate"
	CommandHealthcheck Command = "healthcheck"
	CommandHelp        Command = "help"
)

// commands は usage に表示する順序と説明。
var commands = []struct {
	cmd  Command
	desc string
}{
	{CommandServe, "serve the marketplace web pages (default)"},
	{CommandWorker, "purge stored sign-in sessions idle longer than SESSION_MAX_AGE"},
	{CommandMigrate, "apply database migrations for the session store"},
	{CommandHealthcheck, "check GET /health on SERVER_PORT (container health check)"},
	{CommandHelp, "show this help"},
}

// ParseCommand は先頭の引数をサブコマンドとして解釈する。
// 引数がなければ serve。未知のサブコマンドはエラーにする。
func ParseCommand(args []string) (Command, error) {
	if len(args) == 0 {
		return CommandServe, nil
	}
	switch name := args[0]; name {
	case "-h", "--help":
		return CommandHelp, nil
	default:
		for _, c := range commands {
			if string(c.cmd) == name {
				return c.cmd, nil
			}
		}
		return "", fmt.Errorf("unknown command %q", name)
	}
}

// Usage はサブコマンドの一覧を書き出す。
func Usage(w io.Writer) {
	fmt.Fprintln(w, "usage: umarket [command]")
	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, c := range commands {
		fmt.Fprintf(tw, "  %s\t%s\n", c.cmd, c.desc)
	}
	tw.Flush()
}
