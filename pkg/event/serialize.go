package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Job はキュー経由で運搬されるファンアウトジョブを表す。
// イベント本体に加えて、追跡用のIDと投入日時を持つ。
type Job struct {
	// ID はジョブの一意識別子（UUID）。ログで1回のファンアウトを追跡するために使用する。
	ID string `json:"id"`
	// Descriptor はトリガーとなったイベント。
	Descriptor Descriptor `json:"descriptor"`
	// EnqueuedAt はジョブがキューに投入された日時。
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewJob はイベントを検証し、新しいファンアウトジョブを生成する。
func NewJob(d Descriptor) (*Job, error) {
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("イベントの検証に失敗: %w", err)
	}

	return &Job{
		ID:         uuid.New().String(),
		Descriptor: d,
		EnqueuedAt: time.Now().UTC(),
	}, nil
}

// Encode はジョブをキュー運搬用のJSONバイト列にシリアライズする。
func (j *Job) Encode() ([]byte, error) {
	data, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("ジョブのシリアライズに失敗: %w", err)
	}
	return data, nil
}

// DecodeJob はキューから取り出したJSONバイト列をジョブにデシリアライズする。
func DecodeJob(data []byte) (*Job, error) {
	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("ジョブのデシリアライズに失敗: %w", err)
	}
	return &j, nil
}
