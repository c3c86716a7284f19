package notification

import (
	"database/sql"
	"fmt"
)

// スキーマ定義。users / threads / posts / claims はコラボレータ側の
// サービスが書き込み、通知サービスは受信者の解決のために参照する。
const schema = `
CREATE TABLE IF NOT EXISTS users (
    -- ユーザーの一意識別子
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    -- ログイン用メールアドレス
    email TEXT NOT NULL UNIQUE,
    -- 表示名
    alias TEXT NOT NULL UNIQUE,
    -- 権限（'user' / 'admin'）
    role TEXT NOT NULL DEFAULT 'user',
    -- 登録日時
    created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS user_devices (
    -- デバイス登録の一意識別子
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    -- 所有ユーザーのID
    usr_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    -- プッシュ通知用のデバイストークン
    device_push_token TEXT NOT NULL UNIQUE,
    -- プラットフォーム（'ios' / 'android'）
    platform TEXT,
    -- 最終アクセス日時
    last_seen DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS threads (
    -- スレッド（建物）の一意識別子
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    -- 建物名
    thread_name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS follows (
    -- フォローしているユーザーのID
    usr_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    -- フォロー対象のスレッドID
    thread_id INTEGER NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
    PRIMARY KEY (usr_id, thread_id)
);

CREATE TABLE IF NOT EXISTS posts (
    -- 投稿の一意識別子
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    -- 投稿者のユーザーID
    usr_id INTEGER NOT NULL REFERENCES users(id),
    -- 投稿先のスレッドID
    thread_id INTEGER NOT NULL REFERENCES threads(id),
    -- 落とし物のタイトル
    title TEXT NOT NULL,
    -- 投稿の状態（'OPEN' / 'ARCHIVED'）
    post_status TEXT NOT NULL DEFAULT 'OPEN',
    -- 投稿日時
    created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS claims (
    -- クレームの一意識別子
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    -- クレームを提出したユーザーのID
    usr_id INTEGER NOT NULL REFERENCES users(id),
    -- 対象投稿のID
    post_id INTEGER NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
    -- クレームの状態（'PENDING' / 'ACCEPTED' / 'REJECTED'）
    claim_status TEXT NOT NULL DEFAULT 'PENDING',
    -- 提出日時
    created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS notifications (
    -- 通知の一意識別子（UUID）
    id TEXT PRIMARY KEY,
    -- 通知先のユーザーID
    usr_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    -- 通知のタイトル
    title TEXT NOT NULL,
    -- 通知メッセージ
    message TEXT NOT NULL,
    -- 通知の既読状態
    is_read INTEGER NOT NULL DEFAULT 0,
    -- 関連する投稿のID（投稿に紐付かない通知ではNULL）
    post_id INTEGER REFERENCES posts(id) ON DELETE CASCADE,
    -- 通知の作成日時
    created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

-- ユーザーIDでの通知検索を高速化するインデックス。
CREATE INDEX IF NOT EXISTS idx_notifications_usr_id
    ON notifications(usr_id);

-- 未読通知の検索を高速化するインデックス。
CREATE INDEX IF NOT EXISTS idx_notifications_unread
    ON notifications(usr_id, is_read) WHERE is_read = 0;

-- スレッドのフォロワー解決を高速化するインデックス。
CREATE INDEX IF NOT EXISTS idx_follows_thread_id
    ON follows(thread_id);

-- ユーザーの登録デバイス解決を高速化するインデックス。
CREATE INDEX IF NOT EXISTS idx_user_devices_usr_id
    ON user_devices(usr_id);
`

// initSchema はSQLiteデータベースにスキーマを適用する。
func initSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("スキーマの適用に失敗: %w", err)
	}
	return nil
}
