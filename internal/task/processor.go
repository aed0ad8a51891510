package task

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	xerrors "FlowWallet-Chain/internal/errors"
	"FlowWallet-Chain/internal/observability/alerting"
	"FlowWallet-Chain/internal/observability/metrics"
	"FlowWallet-Chain/pkg/logger"
)

// Executor 按主题执行任务并返回输出变量，由 operations.Router 实现。
type Executor interface {
	Execute(ctx context.Context, topic string, vars map[string]any) (map[string]any, error)
}

// 任务结果在指标中的取值。
const (
	outcomeSucceeded = "succeeded"
	outcomeBusiness  = "business_error"
	outcomeRetry     = "retry"
	outcomeFailed    = "failed"
)

// Processor 负责从队列消费任务并交给 Executor 执行。
type Processor struct {
	executor    Executor
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	timeout     time.Duration
	logger      *slog.Logger
	alerter     alerting.Dispatcher
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithTaskTimeout 限制单个任务的执行时长。托管钱包轮询最长约 60 秒，超时应大于该值。
func WithTaskTimeout(timeout time.Duration) ProcessorOption {
	return func(p *Processor) {
		p.timeout = timeout
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(executor Executor, store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor:    executor,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.workerCount <= 0 {
		p.workerCount = 1
	}
	return p
}

// Start 启动任务处理循环。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置任务消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, taskID string) error {
	if p.store == nil || p.executor == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	task, err := p.store.Claim(ctx, taskID)
	if err != nil {
		if stdErrors.Is(err, ErrTaskNotFound) || stdErrors.Is(err, ErrTaskCompleted) ||
			stdErrors.Is(err, ErrTaskExhausted) || stdErrors.Is(err, ErrTaskConflict) {
			p.logDebug("跳过任务", slog.String("task_id", taskID), slog.String("reason", err.Error()))
			return nil
		}
		logger.L().Error("领取任务失败", slog.Any("error", err), slog.String("task_id", taskID))
		p.emitAlert(ctx, &Task{ID: taskID}, xerrors.Wrap(CodeTaskProcessing, err, "claim"), "claim")
		return err
	}

	started := time.Now()
	execCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	output, execErr := p.executor.Execute(execCtx, task.Topic, cloneValues(task.Variables))
	elapsed := time.Since(started)

	switch {
	case execErr == nil:
		metrics.ObserveTask(task.Topic, outcomeSucceeded, elapsed)
		return p.recordSuccess(ctx, task, output)
	case xerrors.BusinessError(execErr):
		metrics.ObserveTask(task.Topic, outcomeBusiness, elapsed)
		return p.recordBusinessError(ctx, task, execErr)
	default:
		return p.handleExecutionFailure(ctx, task, execErr, elapsed)
	}
}

func (p *Processor) recordSuccess(ctx context.Context, task *Task, output map[string]any) error {
	if err := p.store.MarkSucceeded(ctx, task.ID, output); err != nil {
		// 交易已经广播，不能重新执行，只能告警人工核对。
		logger.L().Error("标记任务成功状态失败", slog.Any("error", err), slog.String("task_id", task.ID))
		p.emitAlert(ctx, task, xerrors.Wrap(xerrors.CodeStorageFailure, err, "record task output",
			xerrors.WithAlert(true), xerrors.WithMetadataMap(stringValues(output))), "record_success")
		return err
	}
	logger.Audit().Info("任务执行成功",
		slog.String("task_id", task.ID),
		slog.String("topic", task.Topic),
		slog.Any("output", output),
	)
	return nil
}

func (p *Processor) recordBusinessError(ctx context.Context, task *Task, execErr error) error {
	code := xerrors.CodeOf(execErr)
	output := businessOutput(execErr)
	if err := p.store.MarkBusinessError(ctx, task.ID, code, execErr.Error(), output); err != nil {
		logger.L().Error("记录业务结果失败", slog.Any("error", err), slog.String("task_id", task.ID))
		return err
	}
	logger.Audit().Warn("任务返回业务错误",
		slog.String("task_id", task.ID),
		slog.String("topic", task.Topic),
		slog.String("error_code", string(code)),
		slog.String("error", execErr.Error()),
	)
	if xerrors.ShouldAlert(execErr) {
		p.emitAlert(ctx, task, execErr, "business")
	}
	return nil
}

func (p *Processor) handleExecutionFailure(ctx context.Context, task *Task, execErr error, elapsed time.Duration) error {
	code := xerrors.CodeOf(execErr)
	if code == xerrors.CodeUnknown {
		code = CodeTaskProcessing
	}
	retryable := xerrors.RetryableError(execErr)
	terminal := task.Attempts >= task.MaxRetries || !retryable

	if storeErr := p.store.MarkFailed(ctx, task.ID, code, execErr.Error(), terminal); storeErr != nil {
		logger.L().Error("标记任务失败状态出错", slog.Any("error", storeErr), slog.String("task_id", task.ID))
		return storeErr
	}
	logger.Audit().Warn("任务执行失败",
		slog.String("task_id", task.ID),
		slog.String("topic", task.Topic),
		slog.Bool("terminal", terminal),
		slog.String("error", execErr.Error()),
		slog.String("error_code", string(code)),
		slog.Int("attempts", task.Attempts),
		slog.Int("max_retries", task.MaxRetries),
	)

	stage := "retry"
	outcome := outcomeRetry
	if terminal {
		stage = "terminal"
		outcome = outcomeFailed
		if retryable {
			stage = "exhausted"
		}
	}
	metrics.ObserveTask(task.Topic, outcome, elapsed)
	if terminal || xerrors.ShouldAlert(execErr) {
		p.emitAlert(ctx, task, execErr, stage)
	}

	if !terminal {
		if pubErr := p.producer.Publish(ctx, task.ID); pubErr != nil {
			return xerrors.Wrap(CodeTaskPublish, pubErr, fmt.Sprintf("任务 %s 重投失败", task.ID))
		}
		p.logDebug("任务已重新排队", slog.String("task_id", task.ID), slog.Int("attempts", task.Attempts))
	}
	return nil
}

func (p *Processor) logDebug(msg string, attrs ...slog.Attr) {
	if p.logger != nil {
		args := make([]any, len(attrs))
		for i, attr := range attrs {
			args[i] = attr
		}
		p.logger.Debug(msg, args...)
	}
}

func (p *Processor) emitAlert(ctx context.Context, task *Task, cause error, stage string) {
	if p == nil || p.alerter == nil || task == nil {
		return
	}
	event := alerting.EventFromError(cause, task.ID, task.Topic, task.Attempts, task.MaxRetries)
	if event.Code == xerrors.CodeUnknown {
		event.Code = CodeTaskProcessing
		event.Severity = xerrors.AttributesOf(CodeTaskProcessing).Severity
	}
	if event.Metadata == nil {
		event.Metadata = make(map[string]string, 1)
	}
	event.Metadata["stage"] = stage
	if err := p.alerter.Notify(ctx, event); err != nil {
		logger.L().Error("告警通知失败",
			slog.Any("error", err),
			slog.String("task_id", task.ID),
			slog.String("stage", stage),
		)
	}
}

// businessOutput 将业务错误的元数据转换为任务输出变量。
func businessOutput(err error) map[string]any {
	meta := xerrors.MetadataOf(err)
	output := make(map[string]any, len(meta)+1)
	for k, v := range meta {
		output[k] = v
	}
	if _, ok := output["error"]; !ok {
		output["error"] = err.Error()
	}
	return output
}

func stringValues(values map[string]any) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		out[k] = fmt.Sprint(v)
	}
	return out
}
