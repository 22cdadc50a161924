// Command umarket はキャンパスマーケットプレイスのWebフロントエンドを起動する。
//
// サブコマンド: serve（デフォルト）, worker, migrate, healthcheck
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/umarket/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
