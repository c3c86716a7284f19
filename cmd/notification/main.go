// 通知サービスのエントリポイント。
// 投稿・クレームのイベントを受信し、対象ユーザーの登録デバイスへ
// プッシュ通知をファンアウト配信する。アプリ内通知の一覧・既読管理も行う。
package main

import (
	"log"
	"os"

	"github.com/lofy-app/lofy/internal/notification"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	server, err := notification.NewServer(port)
	if err != nil {
		log.Fatalf("通知サーバーの初期化に失敗: %v", err)
	}

	log.Printf("通知サービスを起動します: :%s", port)
	if err := server.Run(); err != nil {
		log.Fatalf("通知サービスの起動に失敗: %v", err)
	}
}
