// Command mediahook はメディア更新通知を受信してトピックキャッシュを維持するサーバーを起動する。
//
// 使い方:
//
//	mediahook [serve|migrate|reset|healthcheck]
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/hitoshi/mediahook/internal/app"
)

func main() {
	// .envが存在する場合のみ読み込む。既存の環境変数は上書きしない。
	_ = godotenv.Load()

	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "mediahook: %v\n", err)
		os.Exit(1)
	}
}
