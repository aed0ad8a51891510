package task

import (
	"context"

	xerrors "FlowWallet-Chain/internal/errors"
	"FlowWallet-Chain/internal/observability/metrics"
)

// 队列驱动名称，与 task_queue.driver 配置一致。
const (
	QueueMemory   = "memory"
	QueueRedis    = "redis"
	QueueRabbitMQ = "rabbitmq"
)

// 队列事件，作为 walletd_task_queue_events_total 的 event 标签。
const (
	queuePublished   = "published"
	queueRedelivered = "redelivered"
	queueDropped     = "dropped"
)

// ErrQueueClosed 在队列关闭后投递时返回，API 层映射为 503。
var ErrQueueClosed = xerrors.New(CodeTaskPublish, "task queue is closed")

// Handler 处理一条任务 ID。返回错误表示基础设施故障，队列会重新投递该任务；
// 业务失败与可重试失败由 Processor 写入任务状态后返回 nil。
type Handler func(ctx context.Context, taskID string) error

// Producer 投递任务 ID。只有 ID 进入队列，变量保存在 Store 中。
type Producer interface {
	Publish(ctx context.Context, taskID string) error
	Close() error
}

// Consumer 以 workerCount 个协程调用 handler，直到 ctx 结束或出现不可恢复的错误。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 由 Service 投递、Processor 消费。
type Queue interface {
	Producer
	Consumer
}

func observeQueue(driver, event string) {
	metrics.ObserveQueueEvent(driver, event)
}
