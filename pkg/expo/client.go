package expo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// DefaultEndpoint はExpoプッシュ通知APIのエンドポイント。
const DefaultEndpoint = "https://exp.host/--/api/v2/push/send"

// tokenPrefix はExpoプッシュトークンの既知のプレフィックス。
const tokenPrefix = "ExponentPushToken"

// IsDispatchable はトークンがExpoプッシュトークンの形式に一致するか判定する。
// 形式に一致しないトークン（Webセッション等の無効な登録）には送信を試行しない。
// 副作用のない純粋な述語。
func IsDispatchable(token string) bool {
	return strings.HasPrefix(token, tokenPrefix)
}

// RejectedError はプロバイダがトークンへの送信を明示的に拒否したことを表す。
// 拒否は終了状態であり、リトライしても結果は変わらない。
type RejectedError struct {
	// Token は拒否されたプッシュトークン。
	Token string
	// Message はプロバイダが返した拒否理由。
	Message string
}

// Error はエラーメッセージを返す。
func (e *RejectedError) Error() string {
	return fmt.Sprintf("プロバイダがプッシュ送信を拒否: token=%s, message=%s", e.Token, e.Message)
}

// Client はExpoプッシュ通知APIへのHTTPクライアント。
type Client struct {
	// httpClient は内部で使用するHTTPクライアント。1回の送信試行ごとの固定タイムアウトを持つ。
	httpClient *http.Client
	// endpoint はプッシュ送信APIのURL。
	endpoint string
}

// New は新しいExpoプッシュクライアントを生成する。
// endpointが空文字列の場合はDefaultEndpointを使用する。
func New(endpoint string) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		endpoint: endpoint,
	}
}

// pushRequest はExpoプッシュAPIへのリクエストボディ。
type pushRequest struct {
	// To は送信先のプッシュトークン。
	To string `json:"to"`
	// Title は通知のタイトル。
	Title string `json:"title"`
	// Body は通知の本文。
	Body string `json:"body"`
	// Sound は通知音。常に"default"を指定する。
	Sound string `json:"sound"`
}

// pushResponse はExpoプッシュAPIのレスポンスボディ。
type pushResponse struct {
	// Status はプロバイダの処理結果。"error"は拒否を表す。
	Status string `json:"status"`
	// Message はエラー時の詳細メッセージ。
	Message string `json:"message"`
}

// Send は1件のプッシュ通知を1回だけ送信試行する。
// 戻り値は次の3通りに分類される。
//   - nil: プロバイダが送信を受理した
//   - *RejectedError: プロバイダが明示的に拒否した（リトライ不可）
//   - それ以外のerror: ネットワークレベルの失敗（リトライ可能）
func (c *Client) Send(ctx context.Context, token, title, body string) error {
	jsonBody, err := json.Marshal(pushRequest{
		To:    token,
		Title: title,
		Body:  body,
		Sound: "default",
	})
	if err != nil {
		return fmt.Errorf("リクエストボディのシリアライズに失敗: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("プッシュリクエストの送信に失敗: %w", err)
	}
	defer resp.Body.Close()

	// HTTPステータスに関わらずボディのstatusフィールドで拒否を判定する
	var result pushResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("レスポンスボディのデシリアライズに失敗: %w", err)
	}

	if result.Status == "error" {
		return &RejectedError{Token: token, Message: result.Message}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("プッシュAPIがHTTPエラーを返却: status=%d", resp.StatusCode)
	}
	return nil
}
