package operations

import (
	xerrors "FlowWallet-Chain/internal/errors"
)

// 业务错误码。业务错误不会重试，输出变量通过错误元数据携带。
const (
	CodeInvalidData        xerrors.Code = "INVALID_DATA"
	CodeInvalidAmount      xerrors.Code = "INVALID_AMOUNT"
	CodeUserExists         xerrors.Code = "USER_EXISTS"
	CodeUserNotFound       xerrors.Code = "USER_NOT_FOUND"
	CodePrivateKeyNotFound xerrors.Code = "PRIVATE_KEY_NOT_FOUND"
	CodeTransferFailed     xerrors.Code = "FAILED_TO_TRANSFER_REWARDS"
	CodeApproveTokenFailed xerrors.Code = "APPROVE_TOKEN_FAILED"
	CodeInvalidChainID     xerrors.Code = "INVALID_CHAIN_ID"
	CodeUnknownTopic       xerrors.Code = "UNKNOWN_TOPIC"
)

func init() {
	for code, msg := range map[xerrors.Code]string{
		CodeInvalidData:        "invalid task data",
		CodeInvalidAmount:      "invalid amount",
		CodeUserExists:         "user already exists",
		CodeUserNotFound:       "user not found",
		CodePrivateKeyNotFound: "private key not found",
		CodeTransferFailed:     "failed to transfer rewards",
		CodeApproveTokenFailed: "token approval failed",
	} {
		xerrors.Register(code, xerrors.Attributes{
			Message:  msg,
			Severity: xerrors.SeverityInfo,
			Business: true,
		})
	}
	// 配置错误：任务直接失败，不作为业务结果。
	xerrors.Register(CodeInvalidChainID, xerrors.Attributes{
		Message:  "no treasury token for chain",
		Severity: xerrors.SeverityWarning,
		Alert:    true,
	})
	xerrors.Register(CodeUnknownTopic, xerrors.Attributes{
		Message:  "unknown topic",
		Severity: xerrors.SeverityWarning,
	})
}

// businessError 构造业务错误；out 中的变量与 error 文本一起写入元数据。
func businessError(code xerrors.Code, message string, cause error, out map[string]string) error {
	meta := make(map[string]string, len(out)+1)
	for k, v := range out {
		meta[k] = v
	}
	if _, ok := meta["error"]; !ok {
		if cause != nil {
			meta["error"] = cause.Error()
		} else {
			meta["error"] = message
		}
	}
	opts := []xerrors.Option{xerrors.WithMetadataMap(meta)}
	if cause != nil && xerrors.ShouldAlert(cause) {
		opts = append(opts, xerrors.WithAlert(true))
	}
	if cause == nil {
		return xerrors.New(code, message, opts...)
	}
	return xerrors.Wrap(code, cause, message, opts...)
}

func invalidData(message string) error {
	return businessError(CodeInvalidData, message, nil, nil)
}
