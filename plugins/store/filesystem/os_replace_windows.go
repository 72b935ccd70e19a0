//go:build windows

package filesystem

import (
	"os"
	"syscall"
	"unsafe"
)

// MoveFileEx flags
const (
	movefileReplaceExisting = 0x1
	movefileWriteThrough    = 0x8
)

var (
	modkernel32     = syscall.NewLazyDLL("kernel32.dll")
	procMoveFileExW = modkernel32.NewProc("MoveFileExW")
)

func moveFileEx(from, to string, flags uintptr) error {
	fromp, err := syscall.UTF16PtrFromString(from)
	if err != nil {
		return err
	}
	top, err := syscall.UTF16PtrFromString(to)
	if err != nil {
		return err
	}
	r1, _, e1 := procMoveFileExW.Call(uintptr(unsafe.Pointer(fromp)), uintptr(unsafe.Pointer(top)), flags)
	if r1 == 0 {
		if e1 == syscall.ERROR_ALREADY_EXISTS || e1 == syscall.ERROR_FILE_EXISTS {
			return os.ErrExist
		}
		if e1 != nil && e1 != syscall.Errno(0) {
			return e1
		}
		return syscall.EINVAL
	}
	return nil
}

// osReplace: MoveFileExW(REPLACE_EXISTING|WRITE_THROUGH)。
func osReplace(tmpPath, dest string) error {
	return moveFileEx(tmpPath, dest, movefileReplaceExisting|movefileWriteThrough)
}

// osPublishNew: 不带 REPLACE_EXISTING，目标已存在时失败。
func osPublishNew(tmpPath, dest string) error {
	return moveFileEx(tmpPath, dest, movefileWriteThrough)
}

// syncDir: Windows 上目录 fsync 不可用。
func syncDir(dir string) error { return nil }
