// Command socialwatch はSNSアカウント監視APIとワーカーを起動する。
//
//	socialwatch [serve|worker|migrate|healthcheck]
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/hitoshi/socialwatch/internal/app"
)

func main() {
	// .env がなければ環境変数のみを使う
	_ = godotenv.Load()

	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
