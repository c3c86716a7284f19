package notification

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lofy-app/lofy/pkg/event"
	"github.com/lofy-app/lofy/pkg/expo"
)

const (
	// defaultPushLimit はファンアウト1回あたりの同時プッシュ送信数の上限。
	// 対象者数に関わらずこの値を超える送信は同時に行われない。
	defaultPushLimit = 10
	// defaultMaxRetries はネットワークエラー時の最大送信試行回数。
	defaultMaxRetries = 3
	// defaultBackoffUnit はバックオフ時間の基準単位。試行nの後に 2^n 単位待機する。
	defaultBackoffUnit = time.Second
)

// deliveryOutcome は1トークンへの送信の終了状態を表す。
type deliveryOutcome int

const (
	// outcomeSuccess はプロバイダが送信を受理したことを表す。
	outcomeSuccess deliveryOutcome = iota
	// outcomeRejected はプロバイダが明示的に拒否したことを表す。リトライはしない。
	outcomeRejected
	// outcomeExhausted はリトライ回数を使い切って失敗したことを表す。
	outcomeExhausted
)

// Summary は1回のファンアウトの集計結果。ログ出力専用で、
// トリガー元のリクエストには返却されない。
type Summary struct {
	// Attempted は送信を試行したトークン数。
	Attempted int
	// Succeeded は送信に成功したトークン数。
	Succeeded int
	// Rejected はプロバイダに拒否されたトークン数。
	Rejected int
	// Exhausted はリトライを使い切ったトークン数。
	Exhausted int
	// RecipientsWithoutToken は送信可能なトークンを1つも持たない対象者数。
	RecipientsWithoutToken int
}

// Engine は通知のファンアウト配信エンジン。
// イベントから通知対象者を解決し、同時数を制限しながらプッシュ送信し、
// 送信の成否に関わらず対象者1人につき1件の通知レコードを永続化する。
type Engine struct {
	// queries は通知サービスのDBクエリ実行オブジェクト。
	queries *Queries
	// pusher はExpoプッシュAPIクライアント。
	pusher *expo.Client
	// limit は同時プッシュ送信数の上限。
	limit int
	// maxRetries はネットワークエラー時の最大送信試行回数。
	maxRetries int
	// backoffUnit はバックオフ時間の基準単位。
	backoffUnit time.Duration
}

// NewEngine は新しいファンアウトエンジンを生成する。
func NewEngine(queries *Queries, pusher *expo.Client) *Engine {
	return &Engine{
		queries:     queries,
		pusher:      pusher,
		limit:       defaultPushLimit,
		maxRetries:  defaultMaxRetries,
		backoffUnit: defaultBackoffUnit,
	}
}

// content は1回のファンアウトで全対象者に共通する通知内容。
type content struct {
	// title は通知のタイトル。
	title string
	// message は通知の本文。
	message string
	// postID は関連する投稿のID。
	postID int64
}

// Dispatch は1件のイベントに対するファンアウトを実行する。
// 処理順序は 解決 → 分類 → 並行送信 → 集計 → 永続化。通知レコードは
// 全トークンの送信が終了状態に達した後、単一トランザクションで書き込む。
// 対象が存在しない場合はErrNotFoundを返し、何も送信・永続化しない。
func (e *Engine) Dispatch(ctx context.Context, d event.Descriptor) (*Summary, error) {
	c, recipients, err := e.resolve(ctx, d)
	if err != nil {
		return nil, err
	}

	// 送信可能なトークンだけを送信対象に分類する。
	// 形式が不正なトークンには送信を試行しないが、所有者への
	// 通知レコードは他の対象者と同様に作成される。
	summary := &Summary{}
	var tokens []string
	for _, r := range recipients {
		dispatchable := false
		for _, token := range r.Tokens {
			if expo.IsDispatchable(token) {
				tokens = append(tokens, token)
				dispatchable = true
			}
		}
		if !dispatchable {
			summary.RecipientsWithoutToken++
		}
	}
	summary.Attempted = len(tokens)

	// 同時送信数をlimitに制限しながら全トークンへ並行送信する
	outcomes := make([]deliveryOutcome, len(tokens))
	sem := make(chan struct{}, e.limit)
	var wg sync.WaitGroup
	for i, token := range tokens {
		wg.Add(1)
		go func(i int, token string) {
			defer wg.Done()
			outcomes[i] = e.sendWithRetry(ctx, token, c.title, c.message, sem)
		}(i, token)
	}
	wg.Wait()

	for _, o := range outcomes {
		switch o {
		case outcomeSuccess:
			summary.Succeeded++
		case outcomeRejected:
			summary.Rejected++
		case outcomeExhausted:
			summary.Exhausted++
		}
	}

	// プッシュの成否に関わらず、対象者1人につき1件の通知レコードを作成する
	params := make([]CreateNotificationParams, 0, len(recipients))
	recipientIDs := make([]int64, 0, len(recipients))
	for _, r := range recipients {
		params = append(params, CreateNotificationParams{
			ID:      uuid.New().String(),
			UserID:  r.UserID,
			Title:   c.title,
			Message: c.message,
			PostID:  sql.NullInt64{Int64: c.postID, Valid: c.postID != 0},
		})
		recipientIDs = append(recipientIDs, r.UserID)
	}
	if err := e.queries.CreateNotifications(ctx, params); err != nil {
		// 自動リトライはしない。部分コミット後の再実行はレコードの重複を
		// 招くため、手動での突き合わせに必要な情報をログに残す。
		log.Printf("[Fanout] 通知レコードの永続化に失敗: event=%+v, recipients=%v: %v", d, recipientIDs, err)
		return summary, fmt.Errorf("通知レコードの永続化に失敗: %w", err)
	}

	return summary, nil
}

// resolve はイベントから通知内容と対象者を解決する。
// 対象者のトークンは解決時点のスナップショットであり、送信中の
// デバイス登録変更は反映されない。
func (e *Engine) resolve(ctx context.Context, d event.Descriptor) (*content, []Recipient, error) {
	switch d.Type {
	case event.TypePostCreated:
		// 対象者はスレッドのフォロワー全員。投稿者自身は除外する。
		post, err := e.queries.GetPost(ctx, d.PostID)
		if err != nil {
			return nil, nil, err
		}
		threadName, err := e.queries.GetThreadName(ctx, d.ThreadID)
		if err != nil {
			return nil, nil, err
		}
		recipients, err := e.queries.ListFollowerRecipients(ctx, d.ThreadID, post.UserID)
		if err != nil {
			return nil, nil, err
		}
		return &content{
			title:   fmt.Sprintf("New item posted in %s", threadName),
			message: fmt.Sprintf("Someone just posted a new lost item in %s", threadName),
			postID:  post.ID,
		}, recipients, nil

	case event.TypeClaimSubmitted:
		// 対象者は投稿の所有者のみ
		post, err := e.queries.GetPost(ctx, d.PostID)
		if err != nil {
			return nil, nil, err
		}
		tokens, err := e.queries.ListDeviceTokens(ctx, post.UserID)
		if err != nil {
			return nil, nil, err
		}
		return &content{
			title:   "New claimer!",
			message: fmt.Sprintf("Someone just submitted a claim for %s", post.Title),
			postID:  post.ID,
		}, []Recipient{{UserID: post.UserID, Tokens: tokens}}, nil

	case event.TypeClaimDecided:
		// 対象者はクレームの提出者のみ
		claim, err := e.queries.GetClaim(ctx, d.ClaimID)
		if err != nil {
			return nil, nil, err
		}
		post, err := e.queries.GetPost(ctx, d.PostID)
		if err != nil {
			return nil, nil, err
		}
		tokens, err := e.queries.ListDeviceTokens(ctx, claim.UserID)
		if err != nil {
			return nil, nil, err
		}
		return &content{
			title:   fmt.Sprintf("Claim %s!", d.Decision),
			message: fmt.Sprintf("Your claim for %s was %s. Contact support if you need more help.", post.Title, d.Decision),
			postID:  post.ID,
		}, []Recipient{{UserID: claim.UserID, Tokens: tokens}}, nil

	default:
		return nil, nil, fmt.Errorf("不明なイベント種類です: %q", d.Type)
	}
}

// sendWithRetry は1トークンへの送信を終了状態に達するまで試行する。
// 各試行の前にセマフォの許可を取得し、試行の終了後（バックオフ待機の前）に
// 必ず解放する。バックオフは試行回数に対して単調増加する。
func (e *Engine) sendWithRetry(ctx context.Context, token, title, message string, sem chan struct{}) deliveryOutcome {
	for attempt := 1; attempt <= e.maxRetries; attempt++ {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			log.Printf("[Fanout] ファンアウトが中断されたため送信を打ち切り: token=%s", token)
			return outcomeExhausted
		}

		err := e.pusher.Send(ctx, token, title, message)
		<-sem

		if err == nil {
			return outcomeSuccess
		}

		var rejected *expo.RejectedError
		if errors.As(err, &rejected) {
			log.Printf("[Fanout] %v", rejected)
			return outcomeRejected
		}

		log.Printf("[Fanout] 送信試行 %d/%d が失敗: token=%s: %v", attempt, e.maxRetries, token, err)
		if attempt < e.maxRetries {
			if !e.backoff(ctx, attempt) {
				return outcomeExhausted
			}
		}
	}

	log.Printf("[Fanout] リトライ回数を使い切ったため送信を断念: token=%s", token)
	return outcomeExhausted
}

// backoff は試行attemptの後のバックオフ待機を行う。待機時間は 2^attempt 単位。
// コンテキストが中断された場合はfalseを返す。
func (e *Engine) backoff(ctx context.Context, attempt int) bool {
	timer := time.NewTimer(time.Duration(1<<attempt) * e.backoffUnit)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
