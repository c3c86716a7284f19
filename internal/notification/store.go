package notification

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound はイベントが参照する投稿・クレーム・スレッドが存在しないことを表す。
// トリガーはコミット後に発火するため通常は起こらない。発生した場合は
// データ不整合の兆候としてログに出力される。
var ErrNotFound = errors.New("対象のレコードが見つかりません")

// Queries は通知サービスのデータベースクエリをまとめた実行オブジェクト。
type Queries struct {
	// db はSQLiteデータベース接続。
	db *sql.DB
}

// NewQueries は新しいクエリ実行オブジェクトを生成する。
func NewQueries(db *sql.DB) *Queries {
	return &Queries{db: db}
}

// Recipient は1回のファンアウトにおける通知対象者を表す。
// Tokens は解決時点で登録されていたデバイストークンのスナップショット。
// デバイスを1台も登録していないユーザーはTokensが空になる。
type Recipient struct {
	// UserID は通知対象ユーザーのID。
	UserID int64
	// Tokens はユーザーの登録デバイスのプッシュトークン一覧。
	Tokens []string
}

// Post は受信者解決に必要な投稿の属性を表す。
type Post struct {
	// ID は投稿のID。
	ID int64
	// UserID は投稿者のユーザーID。
	UserID int64
	// ThreadID は投稿先スレッドのID。
	ThreadID int64
	// Title は落とし物のタイトル。
	Title string
}

// Claim は受信者解決に必要なクレームの属性を表す。
type Claim struct {
	// ID はクレームのID。
	ID int64
	// UserID はクレームを提出したユーザーのID。
	UserID int64
	// PostID は対象投稿のID。
	PostID int64
}

// Notification は永続化された通知レコードを表す。
type Notification struct {
	// ID は通知の一意識別子（UUID）。
	ID string
	// UserID は通知先のユーザーID。
	UserID int64
	// Title は通知のタイトル。
	Title string
	// Message は通知メッセージ。
	Message string
	// IsRead は通知の既読状態（0: 未読, 1: 既読）。
	IsRead int64
	// PostID は関連する投稿のID。
	PostID sql.NullInt64
	// CreatedAt は通知の作成日時。
	CreatedAt time.Time
}

// GetThreadName はスレッド名（建物名）を取得する。
func (q *Queries) GetThreadName(ctx context.Context, threadID int64) (string, error) {
	var name string
	err := q.db.QueryRowContext(ctx,
		"SELECT thread_name FROM threads WHERE id = ?", threadID,
	).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: thread_id=%d", ErrNotFound, threadID)
	}
	if err != nil {
		return "", fmt.Errorf("スレッドの取得に失敗: %w", err)
	}
	return name, nil
}

// GetPost は投稿を取得する。
func (q *Queries) GetPost(ctx context.Context, postID int64) (*Post, error) {
	var p Post
	err := q.db.QueryRowContext(ctx,
		"SELECT id, usr_id, thread_id, title FROM posts WHERE id = ?", postID,
	).Scan(&p.ID, &p.UserID, &p.ThreadID, &p.Title)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: post_id=%d", ErrNotFound, postID)
	}
	if err != nil {
		return nil, fmt.Errorf("投稿の取得に失敗: %w", err)
	}
	return &p, nil
}

// GetClaim はクレームを取得する。
func (q *Queries) GetClaim(ctx context.Context, claimID int64) (*Claim, error) {
	var c Claim
	err := q.db.QueryRowContext(ctx,
		"SELECT id, usr_id, post_id FROM claims WHERE id = ?", claimID,
	).Scan(&c.ID, &c.UserID, &c.PostID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: claim_id=%d", ErrNotFound, claimID)
	}
	if err != nil {
		return nil, fmt.Errorf("クレームの取得に失敗: %w", err)
	}
	return &c, nil
}

// ListFollowerRecipients はスレッドのフォロワーを通知対象者として解決する。
// excludeUserID（投稿者自身）は除外する。デバイス未登録のフォロワーも
// トークンなしの対象者として含める。
func (q *Queries) ListFollowerRecipients(ctx context.Context, threadID, excludeUserID int64) ([]Recipient, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT f.usr_id, d.device_push_token
		FROM follows f
		LEFT JOIN user_devices d ON d.usr_id = f.usr_id
		WHERE f.thread_id = ? AND f.usr_id != ?
		ORDER BY f.usr_id`,
		threadID, excludeUserID,
	)
	if err != nil {
		return nil, fmt.Errorf("フォロワーの解決に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var recipients []Recipient
	for rows.Next() {
		var userID int64
		var token sql.NullString
		if err := rows.Scan(&userID, &token); err != nil {
			return nil, fmt.Errorf("フォロワー行の読み取りに失敗: %w", err)
		}

		// usr_id順に並んでいるため、直前の対象者と同一ならトークンを追加する
		if n := len(recipients); n > 0 && recipients[n-1].UserID == userID {
			if token.Valid {
				recipients[n-1].Tokens = append(recipients[n-1].Tokens, token.String)
			}
			continue
		}

		r := Recipient{UserID: userID}
		if token.Valid {
			r.Tokens = append(r.Tokens, token.String)
		}
		recipients = append(recipients, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("フォロワーの読み取りに失敗: %w", err)
	}
	return recipients, nil
}

// ListDeviceTokens はユーザーの登録デバイスのプッシュトークン一覧を取得する。
func (q *Queries) ListDeviceTokens(ctx context.Context, userID int64) ([]string, error) {
	rows, err := q.db.QueryContext(ctx,
		"SELECT device_push_token FROM user_devices WHERE usr_id = ? ORDER BY id", userID,
	)
	if err != nil {
		return nil, fmt.Errorf("デバイストークンの取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tokens []string
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, fmt.Errorf("デバイストークン行の読み取りに失敗: %w", err)
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("デバイストークンの読み取りに失敗: %w", err)
	}
	return tokens, nil
}

// UpsertDevice はデバイストークンを登録する。登録済みのトークンの場合は
// 所有ユーザー・プラットフォーム・最終アクセス日時を更新する。
func (q *Queries) UpsertDevice(ctx context.Context, userID int64, token, platform string) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO user_devices (usr_id, device_push_token, platform)
		VALUES (?, ?, ?)
		ON CONFLICT(device_push_token) DO UPDATE SET
			usr_id = excluded.usr_id,
			platform = excluded.platform,
			last_seen = datetime('now')`,
		userID, token, platform,
	)
	if err != nil {
		return fmt.Errorf("デバイストークンの登録に失敗: %w", err)
	}
	return nil
}

// CreateNotificationParams は通知レコード作成のパラメータ。
type CreateNotificationParams struct {
	// ID は通知の一意識別子（UUID）。
	ID string
	// UserID は通知先のユーザーID。
	UserID int64
	// Title は通知のタイトル。
	Title string
	// Message は通知メッセージ。
	Message string
	// PostID は関連する投稿のID。
	PostID sql.NullInt64
}

// CreateNotifications は通知レコードのバッチを単一トランザクションで作成する。
// 全件成功するか全件失敗するかのいずれかになる。
func (q *Queries) CreateNotifications(ctx context.Context, params []CreateNotificationParams) error {
	if len(params) == 0 {
		return nil
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO notifications (id, usr_id, title, message, post_id)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("INSERT文の準備に失敗: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, p := range params {
		if _, err := stmt.ExecContext(ctx, p.ID, p.UserID, p.Title, p.Message, p.PostID); err != nil {
			return fmt.Errorf("通知レコードの挿入に失敗: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("トランザクションのコミットに失敗: %w", err)
	}
	return nil
}

// ListNotificationsByUserID はユーザーの通知一覧を新しい順にページ指定で取得する。
func (q *Queries) ListNotificationsByUserID(ctx context.Context, userID int64, limit, offset int) ([]Notification, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, usr_id, title, message, is_read, post_id, created_at
		FROM notifications
		WHERE usr_id = ?
		ORDER BY created_at DESC, id
		LIMIT ? OFFSET ?`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("通知一覧の取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanNotifications(rows)
}

// ListUnreadNotifications はユーザーの未読通知一覧を新しい順に取得する。
func (q *Queries) ListUnreadNotifications(ctx context.Context, userID int64) ([]Notification, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, usr_id, title, message, is_read, post_id, created_at
		FROM notifications
		WHERE usr_id = ? AND is_read = 0
		ORDER BY created_at DESC, id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("未読通知一覧の取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanNotifications(rows)
}

// scanNotifications は通知のクエリ結果をスライスに変換する。
func scanNotifications(rows *sql.Rows) ([]Notification, error) {
	var notifications []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &n.IsRead, &n.PostID, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("通知行の読み取りに失敗: %w", err)
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("通知の読み取りに失敗: %w", err)
	}
	return notifications, nil
}

// GetNotificationByID は通知を1件取得する。
func (q *Queries) GetNotificationByID(ctx context.Context, id string) (*Notification, error) {
	var n Notification
	err := q.db.QueryRowContext(ctx, `
		SELECT id, usr_id, title, message, is_read, post_id, created_at
		FROM notifications WHERE id = ?`, id,
	).Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &n.IsRead, &n.PostID, &n.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: notification_id=%s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("通知の取得に失敗: %w", err)
	}
	return &n, nil
}

// MarkAsRead は通知を既読にする。
func (q *Queries) MarkAsRead(ctx context.Context, id string) error {
	if _, err := q.db.ExecContext(ctx,
		"UPDATE notifications SET is_read = 1 WHERE id = ?", id,
	); err != nil {
		return fmt.Errorf("通知の既読化に失敗: %w", err)
	}
	return nil
}

// MarkAllAsRead はユーザーの全通知を既読にする。
func (q *Queries) MarkAllAsRead(ctx context.Context, userID int64) error {
	if _, err := q.db.ExecContext(ctx,
		"UPDATE notifications SET is_read = 1 WHERE usr_id = ?", userID,
	); err != nil {
		return fmt.Errorf("全通知の既読化に失敗: %w", err)
	}
	return nil
}
