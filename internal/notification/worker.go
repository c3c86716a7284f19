package notification

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/lofy-app/lofy/pkg/event"
)

// defaultJobTimeout は1件のファンアウトジョブに与える実行期限。
// 対象者数が異常に多いジョブがワーカーを占有し続けることを防ぐ。
const defaultJobTimeout = 5 * time.Minute

// Dispatcher はキューからファンアウトジョブを取り出して実行するワーカープール。
// トリガー元のHTTPリクエストから切り離されたバックグラウンド実行を担い、
// 失敗は所有するワーカーがログに記録する。
type Dispatcher struct {
	// workers は起動するワーカーの数。
	workers int
	// queue はジョブの取得元キュー。
	queue Queue
	// engine はファンアウトの実行エンジン。
	engine *Engine
	// jobTimeout は1ジョブあたりの実行期限。
	jobTimeout time.Duration
	// wg は起動中のワーカーを追跡する。
	wg sync.WaitGroup
}

// NewDispatcher は新しいワーカープールを生成する。
func NewDispatcher(workers int, queue Queue, engine *Engine) *Dispatcher {
	return &Dispatcher{
		workers:    workers,
		queue:      queue,
		engine:     engine,
		jobTimeout: defaultJobTimeout,
	}
}

// Start はワーカーを起動する。コンテキストの中断で全ワーカーが停止する。
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func(id int) {
			defer d.wg.Done()
			d.worker(ctx, id)
		}(i)
	}
	log.Printf("[Worker] ワーカーを%d個起動しました", d.workers)
}

// Wait は全ワーカーの停止を待つ。
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// worker はジョブの取得と実行を繰り返すワーカーループ。
func (d *Dispatcher) worker(ctx context.Context, id int) {
	for {
		job, err := d.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[Worker %d] ジョブの取得に失敗: %v", id, err)
			continue
		}
		d.run(ctx, id, job)
	}
}

// run は1件のファンアウトジョブを実行する。ジョブ内のパニックは
// 回復してログに残し、ワーカーは次のジョブへ進む。
func (d *Dispatcher) run(ctx context.Context, id int, job *event.Job) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Worker %d] ファンアウト中にパニックが発生: job=%s: %v", id, job.ID, r)
		}
	}()

	jobCtx, cancel := context.WithTimeout(ctx, d.jobTimeout)
	defer cancel()

	summary, err := d.engine.Dispatch(jobCtx, job.Descriptor)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// コミット後トリガーの規約の下では起こらないはず。
			// 発生した場合はレースの兆候として警告を残す。
			log.Printf("[Worker %d] イベントの対象が存在しないためファンアウトを中止: job=%s, event=%+v: %v",
				id, job.ID, job.Descriptor, err)
			return
		}
		log.Printf("[Worker %d] ファンアウトが失敗: job=%s: %v", id, job.ID, err)
		return
	}

	log.Printf("[Worker %d] ファンアウト完了: job=%s, attempted=%d, succeeded=%d, rejected=%d, exhausted=%d, no_token=%d",
		id, job.ID, summary.Attempted, summary.Succeeded, summary.Rejected, summary.Exhausted, summary.RecipientsWithoutToken)
}
