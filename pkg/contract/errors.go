package contract

import (
	"errors"
	"fmt"
)

// 最小错误分类（哨兵）。具体错误类型均可 errors.Is 到对应哨兵。
var (
	// ErrIngest: 单个 run 的 CSV 不可读/格式错误（可恢复：跳过该 run）。
	ErrIngest = errors.New("ingest failed")
	// ErrSchema: 期望列缺失或列名冲突（对该表类型致命）。
	ErrSchema = errors.New("schema mismatch")
	// ErrSentinelCollision: 哨兵值已是某列的合法取值（配置错误，任何变更前抛出）。
	ErrSentinelCollision = errors.New("sentinel collision")
	// ErrNoRuns: 没有任何 run 为该表类型提供数据。
	ErrNoRuns = errors.New("no runs contributed")
	// ErrEmptyTable: 阶段结束后行数为 0。
	ErrEmptyTable = errors.New("table has no rows")
	// ErrInvariantViolation: 领域不变量违例（通用哨兵）。
	ErrInvariantViolation = errors.New("invariant violation")
	// ErrPathInvalid: 目标路径无效/越界。
	ErrPathInvalid = errors.New("path invalid")
)

// IngestError 描述某个 run 的某张表读取失败。
type IngestError struct {
	Run  string
	Path string
	Err  error
}

func (e *IngestError) Error() string {
	return fmt.Sprintf("ingest %s (%s): %v", e.Run, e.Path, e.Err)
}

func (e *IngestError) Unwrap() []error { return []error{ErrIngest, e.Err} }

// SchemaError 描述表结构与期望不符。
type SchemaError struct {
	Kind   Kind
	Column string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema %s: column %q: %s", e.Kind, e.Column, e.Reason)
}

func (e *SchemaError) Unwrap() error { return ErrSchema }

// SentinelCollisionError: 列中已存在与哨兵相同的合法值。
type SentinelCollisionError struct {
	Column   string
	Sentinel string
	// Rows: 命中哨兵值的行数（诊断用）。
	Rows int
}

func (e *SentinelCollisionError) Error() string {
	return fmt.Sprintf("sentinel %q already observed in column %q (%d rows)", e.Sentinel, e.Column, e.Rows)
}

func (e *SentinelCollisionError) Unwrap() error { return ErrSentinelCollision }
