package errors

// 通用错误码，业务包会在各自的 init 中注册领域错误码。
const (
	CodeUnknown               Code = "UNKNOWN"
	CodeInvalidArgument       Code = "INVALID_ARGUMENT"
	CodeNotFound              Code = "NOT_FOUND"
	CodeConflict              Code = "CONFLICT"
	CodeNotImplemented        Code = "NOT_IMPLEMENTED"
	CodeInitializationFailure Code = "INITIALIZATION_FAILURE"
	CodeStorageFailure        Code = "STORAGE_FAILURE"
	CodeQueueFailure          Code = "QUEUE_FAILURE"
	CodeUpstreamFailure       Code = "UPSTREAM_FAILURE"
	CodeTimeout               Code = "TIMEOUT"
)

func init() {
	Register(CodeUnknown, Attributes{
		Message:  "unknown error",
		Severity: SeverityCritical,
		Alert:    true,
	})
	Register(CodeInvalidArgument, Attributes{
		Message:  "invalid argument",
		Severity: SeverityInfo,
	})
	Register(CodeNotFound, Attributes{
		Message:  "resource not found",
		Severity: SeverityInfo,
	})
	Register(CodeConflict, Attributes{
		Message:  "resource conflict",
		Severity: SeverityWarning,
	})
	Register(CodeNotImplemented, Attributes{
		Message:  "operation not implemented",
		Severity: SeverityWarning,
	})
	Register(CodeInitializationFailure, Attributes{
		Message:   "service not initialized",
		Severity:  SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
	// 钱包存储服务不可用或身份未知都走这里，交给外部重试。
	Register(CodeStorageFailure, Attributes{
		Message:   "storage failure",
		Severity:  SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
	Register(CodeQueueFailure, Attributes{
		Message:   "queue failure",
		Severity:  SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
	Register(CodeUpstreamFailure, Attributes{
		Message:   "upstream service failure",
		Severity:  SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
	Register(CodeTimeout, Attributes{
		Message:   "operation timed out",
		Severity:  SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
}
