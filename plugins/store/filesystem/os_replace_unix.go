//go:build !windows

package filesystem

import (
	"os"
)

// osReplace: POSIX rename 原子替换。
func osReplace(tmpPath, dest string) error {
	return os.Rename(tmpPath, dest)
}

// osPublishNew: 仅当 dest 不存在时发布 tmpPath（link 失败即 EEXIST）。
// 成功后删除 tmpPath。
func osPublishNew(tmpPath, dest string) error {
	if err := os.Link(tmpPath, dest); err != nil {
		return err
	}
	return os.Remove(tmpPath)
}

// syncDir: 最佳努力 fsync 父目录以持久化目录项。
func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
