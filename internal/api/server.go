package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"FlowWallet-Chain/internal/auth"
	xerrors "FlowWallet-Chain/internal/errors"
	"FlowWallet-Chain/internal/observability/metrics"
	"FlowWallet-Chain/internal/task"
	"FlowWallet-Chain/internal/web3"
	"FlowWallet-Chain/pkg/logger"
)

// maxBodyBytes 限制提交任务的请求体大小。
const maxBodyBytes = 1 << 20

// ChainLister 返回对外可见的链路由表。
type ChainLister interface {
	Chains() []web3.ChainInfo
}

// Server 负责暴露 REST 接口，供流程引擎提交钱包任务并查询结果。
type Server struct {
	addr   string
	tasks  *task.Service
	chains ChainLister
	auth   *auth.Service
}

// Option 定义 Server 的可选配置。
type Option func(*Server)

// WithChains 启用 /api/v1/chains。
func WithChains(chains ChainLister) Option {
	return func(s *Server) { s.chains = chains }
}

// WithAuth 为任务与链接口启用 Bearer API key 校验。
func WithAuth(svc *auth.Service) Option {
	return func(s *Server) { s.auth = svc }
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, tasks *task.Service, opts ...Option) *Server {
	s := &Server{addr: addr, tasks: tasks}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回完整的路由，便于测试直接挂到 httptest.Server。
func (s *Server) Handler() http.Handler {
	read := s.protect(auth.MiddlewareConfig{
		RequiredPermissions: map[string][]string{"*": {auth.PermissionTaskRead}},
		AuditEvent:          "task_query",
	})
	submitOrRead := s.protect(auth.MiddlewareConfig{
		RequiredPermissions: map[string][]string{
			http.MethodPost: {auth.PermissionTaskSubmit},
			"*":             {auth.PermissionTaskRead},
		},
		AuditEvent: "task_submit",
	})

	mux := http.NewServeMux()
	mux.Handle("/api/v1/tasks", instrument("tasks", submitOrRead(http.HandlerFunc(s.handleTasks))))
	mux.Handle("/api/v1/tasks/", instrument("task_detail", read(http.HandlerFunc(s.handleTaskDetail))))
	mux.Handle("/api/v1/chains", instrument("chains", read(http.HandlerFunc(s.handleChains))))
	mux.Handle("/healthz", instrument("healthz", http.HandlerFunc(s.handleHealth)))
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.L().Info("API 服务已启动", slog.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) protect(cfg auth.MiddlewareConfig) func(http.Handler) http.Handler {
	if s.auth == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return s.auth.Middleware(cfg)
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateTask(w, r)
	case http.MethodGet:
		s.handleListTasks(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "仅支持 GET/POST", "")
	}
}

// handleCreateTask 处理任务提交，重复的 id 返回已有任务。
func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, http.StatusServiceUnavailable, "任务服务未初始化", "")
		return
	}
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	// 保留数值原文，wei 级别的金额不能经过 float64。
	decoder.UseNumber()
	var req task.SubmitRequest
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "请求体解析失败", string(task.CodeTaskValidation))
		return
	}

	submitted, err := s.tasks.Submit(r.Context(), req)
	if err != nil {
		writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, submitted)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, http.StatusServiceUnavailable, "任务服务未初始化", "")
		return
	}
	opts, err := parseListOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), string(task.CodeTaskValidation))
		return
	}
	tasks, err := s.tasks.List(r.Context(), opts...)
	if err != nil {
		writeTaskError(w, err)
		return
	}
	if tasks == nil {
		tasks = []*task.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

// handleTaskDetail 处理 /api/v1/tasks/{id} 与 /api/v1/tasks/stats。
func (s *Server) handleTaskDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "仅支持 GET", "")
		return
	}
	if s.tasks == nil {
		writeError(w, http.StatusServiceUnavailable, "任务服务未初始化", "")
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/tasks/"), "/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "缺少任务 ID", string(task.CodeTaskValidation))
		return
	}
	if id == "stats" {
		s.handleStats(w, r)
		return
	}

	found, err := s.tasks.Get(r.Context(), id)
	if err != nil {
		writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), string(task.CodeTaskValidation))
		return
	}
	stats, err := s.tasks.Stats(r.Context(), opts...)
	if err != nil {
		writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleChains(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "仅支持 GET", "")
		return
	}
	chains := []web3.ChainInfo{}
	if s.chains != nil {
		chains = append(chains, s.chains.Chains()...)
	}
	writeJSON(w, http.StatusOK, chains)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// parseListOptions 解析 limit、offset、status、topic、q、has_output、since、until 与 order。
func parseListOptions(r *http.Request) ([]task.ListOption, error) {
	query := r.URL.Query()
	var opts []task.ListOption

	for _, name := range []string{"limit", "offset"} {
		raw := strings.TrimSpace(query.Get(name))
		if raw == "" {
			continue
		}
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			return nil, fmt.Errorf("参数 %s 无效: %q", name, raw)
		}
		if name == "limit" {
			opts = append(opts, task.WithLimit(value))
		} else {
			opts = append(opts, task.WithOffset(value))
		}
	}

	if raw := strings.TrimSpace(query.Get("status")); raw != "" {
		var statuses []task.Status
		for _, part := range strings.Split(raw, ",") {
			status := task.Status(strings.ToLower(strings.TrimSpace(part)))
			if !task.IsValidStatus(status) {
				return nil, fmt.Errorf("未知的任务状态: %q", part)
			}
			statuses = append(statuses, status)
		}
		opts = append(opts, task.WithStatuses(statuses...))
	}
	if topic := strings.TrimSpace(query.Get("topic")); topic != "" {
		opts = append(opts, task.WithTopic(topic))
	}
	if q := strings.TrimSpace(query.Get("q")); q != "" {
		opts = append(opts, task.WithQuery(q))
	}
	if raw := strings.TrimSpace(query.Get("has_output")); raw != "" {
		hasOutput, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("参数 has_output 无效: %q", raw)
		}
		opts = append(opts, task.WithOutputPresence(hasOutput))
	}
	for _, name := range []string{"since", "until"} {
		raw := strings.TrimSpace(query.Get(name))
		if raw == "" {
			continue
		}
		ts, err := parseTimestamp(raw)
		if err != nil {
			return nil, fmt.Errorf("参数 %s 无效: %q", name, raw)
		}
		if name == "since" {
			opts = append(opts, task.WithUpdatedSince(ts))
		} else {
			opts = append(opts, task.WithUpdatedUntil(ts))
		}
	}
	switch strings.ToLower(strings.TrimSpace(query.Get("order"))) {
	case "", "desc":
	case "asc":
		opts = append(opts, task.WithSortOrder(task.SortByUpdatedAsc))
	default:
		return nil, fmt.Errorf("参数 order 只能是 asc 或 desc")
	}
	return opts, nil
}

// parseTimestamp 接受 Unix 秒或 RFC3339。
func parseTimestamp(raw string) (time.Time, error) {
	if seconds, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(seconds, 0), nil
	}
	return time.Parse(time.RFC3339, raw)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeTaskError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case task.CodeTaskNotFound:
		status = http.StatusNotFound
	case task.CodeTaskValidation:
		status = http.StatusBadRequest
	case task.CodeTaskConflict:
		status = http.StatusConflict
	case task.CodeTaskPublish:
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		logger.L().Error("API 请求失败", slog.Any("error", err))
	}
	writeError(w, status, err.Error(), string(code))
}

func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, errorResponse{Error: message, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// statusRecorder 记录响应状态码供指标使用。
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func instrument(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		metrics.ObserveHTTPRequest(name, r.Method, rec.status, time.Since(start))
	})
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
