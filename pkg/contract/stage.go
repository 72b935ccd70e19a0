package contract

import "context"

// Store: 表的持久化介质。
// 约束：
//  1. Save 原子替换（失败/取消时原文件保持不变）；
//  2. Backup 仅在备份不存在时写入，已存在则复用；
//  3. 同一路径单写者。
type Store interface {
	Load(ctx context.Context, path string) (*Table, error)
	Save(ctx context.Context, path string, t *Table) error
	Backup(ctx context.Context, path, suffix string) (BackupInfo, error)
}

// Collector: 发现 run 目录并合并某表类型的全部 run。
type Collector interface {
	Discover(ctx context.Context, base string) ([]string, error)
	Collect(ctx context.Context, base string, kind Kind) (*Table, CollectResult, error)
}

// Resolver: 重复记录处理（仅删除完全重复）。
type Resolver interface {
	Resolve(ctx context.Context, t *Table) (*Table, DedupResult, error)
}

// Sanitizer: 按列角色处理缺失值。
// CheckSentinels 必须在任何变更前调用；Prune/Sanitize 内部也会先行调用。
type Sanitizer interface {
	CheckSentinels(t *Table) error
	Prune(ctx context.Context, t *Table) (*Table, PruneResult, error)
	Sanitize(ctx context.Context, t *Table) (*Table, SanitizeResult, error)
}

// Encoder: 低基数类别列独热编码。
type Encoder interface {
	Encode(ctx context.Context, t *Table) (*Table, EncodeResult, error)
}

// Validator: 泄漏校验，只读，不修改表。
type Validator interface {
	Validate(ctx context.Context, t *Table) (LeakageResult, error)
}
