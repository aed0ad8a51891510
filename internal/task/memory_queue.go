package task

import (
	"context"
	"log/slog"
	"sync"

	"FlowWallet-Chain/pkg/logger"
)

const defaultMemoryQueueCapacity = 64

// MemoryQueue 是单进程队列，适合开发环境与测试。重启后未处理的任务 ID 会丢失，
// 任务本身仍保存在 Store 中。
type MemoryQueue struct {
	ids       chan string
	done      chan struct{}
	closeOnce sync.Once
}

// NewMemoryQueue 创建容量为 capacity 的队列，capacity <= 0 时使用默认容量。
func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = defaultMemoryQueueCapacity
	}
	return &MemoryQueue{
		ids:  make(chan string, capacity),
		done: make(chan struct{}),
	}
}

// Publish 在队列满时阻塞，直到有空位、ctx 结束或队列关闭。
func (q *MemoryQueue) Publish(ctx context.Context, taskID string) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}
	select {
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	case q.ids <- taskID:
		observeQueue(QueueMemory, queuePublished)
		return nil
	}
}

// Len 返回等待处理的任务数。
func (q *MemoryQueue) Len() int {
	return len(q.ids)
}

// Consume 启动 workerCount 个协程，阻塞到 ctx 结束或队列关闭。
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-q.done:
					return
				case taskID := <-q.ids:
					if err := handler(ctx, taskID); err != nil {
						q.redeliver(taskID, err)
					}
				}
			}
		}()
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}
	return ErrQueueClosed
}

// redeliver 不阻塞：队列已满时丢弃并记录，任务仍可通过 API 查询与重新提交。
func (q *MemoryQueue) redeliver(taskID string, cause error) {
	select {
	case <-q.done:
		return
	case q.ids <- taskID:
		observeQueue(QueueMemory, queueRedelivered)
	default:
		observeQueue(QueueMemory, queueDropped)
		logger.L().Warn("内存队列已满，丢弃重投的任务",
			slog.String("task_id", taskID),
			slog.Any("error", cause),
		)
	}
}

// Close 停止投递与消费，可重复调用。
func (q *MemoryQueue) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return nil
}
