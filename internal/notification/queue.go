package notification

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lofy-app/lofy/pkg/event"
)

// ErrQueueFull はキューが満杯でジョブを受け付けられないことを表す。
// HTTPハンドラは503を返して呼び出し元にバックプレッシャーをかける。
var ErrQueueFull = errors.New("ディスパッチキューが満杯です")

// Queue はファンアウトジョブのディスパッチキューを表す。
// トリガーを受けたHTTPハンドラがEnqueueし、ワーカーがDequeueする。
type Queue interface {
	// Enqueue はジョブをキューに投入する。
	Enqueue(ctx context.Context, job *event.Job) error
	// Dequeue はジョブを1件取り出す。ジョブが到着するか
	// コンテキストが中断されるまでブロックする。
	Dequeue(ctx context.Context) (*event.Job, error)
}

// MemoryQueue はチャネルベースのインメモリキュー。
// 単一プロセス構成のデフォルト実装。プロセス停止でジョブは失われる。
type MemoryQueue struct {
	// ch はジョブを運搬するバッファ付きチャネル。
	ch chan *event.Job
}

// NewMemoryQueue は容量sizeの新しいインメモリキューを生成する。
func NewMemoryQueue(size int) *MemoryQueue {
	return &MemoryQueue{
		ch: make(chan *event.Job, size),
	}
}

// Enqueue はジョブをキューに投入する。満杯の場合はブロックせずErrQueueFullを返す。
func (q *MemoryQueue) Enqueue(_ context.Context, job *event.Job) error {
	select {
	case q.ch <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Dequeue はジョブを1件取り出す。
func (q *MemoryQueue) Dequeue(ctx context.Context) (*event.Job, error) {
	select {
	case job := <-q.ch:
		return job, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RedisQueue はRedisのリストをバックエンドとするキュー。
// 複数プロセス構成や、プロセス再起動を跨いだジョブの保持に使用する。
type RedisQueue struct {
	// client はRedisクライアント。
	client *redis.Client
	// key はジョブを格納するリストのキー。
	key string
}

// NewRedisQueue は新しいRedisキューを生成する。
// 接続確認に失敗しても起動は継続し、警告ログのみ出力する。
func NewRedisQueue(addr, password string, db int, key string) *RedisQueue {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Printf("[Queue] Redisへの接続確認に失敗: addr=%s: %v", addr, err)
	}

	return &RedisQueue{
		client: rdb,
		key:    key,
	}
}

// Enqueue はジョブをJSONにシリアライズしてリストの先頭に積む。
func (q *RedisQueue) Enqueue(ctx context.Context, job *event.Job) error {
	data, err := job.Encode()
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("Redisへのジョブ投入に失敗: %w", err)
	}
	return nil
}

// Dequeue はリストの末尾からジョブを1件取り出す。
// デシリアライズできないデータはログに残してスキップする。
func (q *RedisQueue) Dequeue(ctx context.Context) (*event.Job, error) {
	for {
		result, err := q.client.BRPop(ctx, 5*time.Second, q.key).Result()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			log.Printf("[Queue] Redisからのジョブ取得に失敗: %v（1秒後に再試行）", err)
			select {
			case <-time.After(1 * time.Second):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			continue
		}

		// resultは [キー, 値] のスライス
		if len(result) < 2 {
			continue
		}

		job, err := event.DecodeJob([]byte(result[1]))
		if err != nil {
			log.Printf("[Queue] ジョブのデシリアライズに失敗: %v, raw=%s", err, result[1])
			continue
		}
		return job, nil
	}
}
