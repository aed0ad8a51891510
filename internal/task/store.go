package task

import (
	"context"

	xerrors "FlowWallet-Chain/internal/errors"
)

// Store 抽象了任务状态的持久化接口。
type Store interface {
	Create(ctx context.Context, task *Task) error
	Get(ctx context.Context, id string) (*Task, error)
	Claim(ctx context.Context, id string) (*Task, error)
	MarkSucceeded(ctx context.Context, id string, output map[string]any) error
	// MarkBusinessError 记录业务结果，output 为处理器给出的输出变量。
	MarkBusinessError(ctx context.Context, id string, code xerrors.Code, message string, output map[string]any) error
	MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, terminal bool) error
	List(ctx context.Context, opts ListOptions) ([]*Task, error)
	Stats(ctx context.Context, opts ListOptions) (TaskStats, error)
	Close() error
}
