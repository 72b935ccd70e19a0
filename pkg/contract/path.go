package contract

import (
	"path"
	"strings"
)

// NormalizePath 规范化路径，用于报告与日志中的稳定展示。
// 规则：
// - 使用正斜杠分隔符
// - 清理多余分隔符与路径片段（.、..）
// - 保留相对/绝对语义，不做隐式绝对化
func NormalizePath(p string) string {
	s := strings.ReplaceAll(p, "\\", "/")
	return path.Clean(s)
}

// BackupPath 返回 path 的备份文件名。
func BackupPath(p, suffix string) string { return p + suffix }

// 各阶段的备份后缀。
const (
	SuffixBeforeCleaning = ".backup_before_cleaning"
	SuffixDuplicates     = ".backup_duplicates"
	SuffixMissing        = ".backup_missing"
	SuffixBeforeEncoding = ".backup_before_encoding"
)
