package diag

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/nqmn/adddosdn-sub001/pkg/contract"
)

// Code 是最小错误分类代码。
// 仅用于日志/指标汇总，与退出码解耦。
type Code string

const (
	CodeUnknown   Code = "unknown"
	CodeIngest    Code = "ingest"
	CodeSchema    Code = "schema"
	CodeSentinel  Code = "sentinel"
	CodeInvariant Code = "invariant"
	CodeEmpty     Code = "empty"
	CodeIO        Code = "io"
	CodeCancel    Code = "cancel"
)

// Classify 将错误归为最小分类。
// 仅依赖哨兵错误与标准库错误类型，不做字符串匹配。
func Classify(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	// 取消/超时优先
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CodeCancel
	}
	switch {
	case errors.Is(err, contract.ErrSentinelCollision):
		return CodeSentinel
	case errors.Is(err, contract.ErrSchema):
		return CodeSchema
	case errors.Is(err, contract.ErrEmptyTable):
		return CodeEmpty
	case errors.Is(err, contract.ErrIngest), errors.Is(err, contract.ErrNoRuns):
		return CodeIngest
	case errors.Is(err, contract.ErrInvariantViolation), errors.Is(err, contract.ErrPathInvalid):
		return CodeInvariant
	}
	var perr *os.PathError
	if errors.As(err, &perr) {
		return CodeIO
	}
	var lerr *os.LinkError
	if errors.As(err, &lerr) {
		return CodeIO
	}
	return CodeUnknown
}

// NowUTC 返回 RFC3339 UTC 时间字符串（用于结构化日志字段 ts）。
func NowUTC() string { return time.Now().UTC().Format(time.RFC3339) }
