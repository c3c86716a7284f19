// Package event は通知のトリガーとなるドメインイベントの定義を提供する。
//
// 投稿・クレームを扱うコラボレータ側のサービスが、自身のトランザクション
// コミット後にイベントを生成して通知サービスへ引き渡す。通知サービスは
// イベントをファンアウト配信のジョブとしてキューに積む。
package event

import "fmt"

// Type はイベントの種類を表す。
type Type string

const (
	// TypePostCreated は落とし物の投稿が新規作成されたことを表す。
	TypePostCreated Type = "PostCreated"
	// TypeClaimSubmitted は投稿に対するクレーム（所有権の申告）が提出されたことを表す。
	TypeClaimSubmitted Type = "ClaimSubmitted"
	// TypeClaimDecided はクレームの承認・却下が決定されたことを表す。
	TypeClaimDecided Type = "ClaimDecided"
)

// Decision はクレームに対する決定を表す。
type Decision string

const (
	// DecisionAccepted はクレームが承認されたことを表す。
	DecisionAccepted Decision = "accepted"
	// DecisionRejected はクレームが却下されたことを表す。
	DecisionRejected Decision = "rejected"
)

// Descriptor は1件の通知トリガーイベントを表す不変の値。
// 種類ごとに必要な対象IDのみが設定される。
type Descriptor struct {
	// Type はイベントの種類。
	Type Type `json:"type"`
	// ThreadID は投稿先スレッド（建物）のID。PostCreatedで必須。
	ThreadID int64 `json:"thread_id,omitempty"`
	// PostID は対象投稿のID。全イベントで必須。
	PostID int64 `json:"post_id,omitempty"`
	// ClaimID は対象クレームのID。ClaimSubmitted / ClaimDecidedで必須。
	ClaimID int64 `json:"claim_id,omitempty"`
	// Decision はクレームに対する決定。ClaimDecidedで必須。
	Decision Decision `json:"decision,omitempty"`
}

// Validate はイベントの種類に応じて必須フィールドが設定されているか検証する。
func (d Descriptor) Validate() error {
	switch d.Type {
	case TypePostCreated:
		if d.ThreadID == 0 || d.PostID == 0 {
			return fmt.Errorf("PostCreatedイベントにはthread_idとpost_idが必要です")
		}
	case TypeClaimSubmitted:
		if d.PostID == 0 || d.ClaimID == 0 {
			return fmt.Errorf("ClaimSubmittedイベントにはpost_idとclaim_idが必要です")
		}
	case TypeClaimDecided:
		if d.PostID == 0 || d.ClaimID == 0 {
			return fmt.Errorf("ClaimDecidedイベントにはpost_idとclaim_idが必要です")
		}
		if d.Decision != DecisionAccepted && d.Decision != DecisionRejected {
			return fmt.Errorf("ClaimDecidedイベントのdecisionが不正です: %q", d.Decision)
		}
	default:
		return fmt.Errorf("不明なイベント種類です: %q", d.Type)
	}
	return nil
}
