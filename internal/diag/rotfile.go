package diag

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const (
	logPrefix = "adddosdn-"
	logExt    = ".jsonl"
	// defaultKeep: 目录内最多保留的归档文件数。
	defaultKeep = 20
)

// RotatingFile 按调用分文件写入日志行，并按大小轮转。
// - 当前文件：adddosdn-<corr_id>.jsonl，同一调用的全部事件（各表类型并发写入）都在其中；
// - 超过 maxBytes 时归档为 adddosdn-<corr_id>.<seq>.jsonl（seq 自 1 递增），再新建当前文件；
// - 目录内归档超过 keep 个时删除最旧的（只删归档，不删其他调用的当前文件）。
type RotatingFile struct {
	dir      string
	tag      string
	maxBytes int64
	keep     int

	mu   sync.Mutex
	f    *os.File
	size int64
	seq  int
}

// NewRotatingFile 创建 sink；maxBytes<=0 为 10 MiB，keep<=0 为 20。
func NewRotatingFile(dir, corrID string, maxBytes int64, keep int) *RotatingFile {
	if maxBytes <= 0 {
		maxBytes = 10 * 1024 * 1024
	}
	if keep <= 0 {
		keep = defaultKeep
	}
	return &RotatingFile{dir: dir, tag: fileTag(corrID), maxBytes: maxBytes, keep: keep}
}

// Path 返回当前文件路径。
func (w *RotatingFile) Path() string {
	return filepath.Join(w.dir, logPrefix+w.tag+logExt)
}

// WriteLine 追加一行（自动补换行）；单行整体写入，不会跨文件。
func (w *RotatingFile) WriteLine(b []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.ensureOpen(); err != nil {
		return err
	}
	line := int64(len(b) + 1)
	if w.size > 0 && w.size+line > w.maxBytes {
		if err := w.rotate(); err != nil {
			return err
		}
	}
	n, err := w.f.Write(append(b, '\n'))
	w.size += int64(n)
	return err
}

func (w *RotatingFile) ensureOpen() error {
	if w.f != nil {
		return nil
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.Path(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	w.f = f
	w.size = 0
	if st, err := f.Stat(); err == nil {
		w.size = st.Size()
	}
	return nil
}

// rotate 归档当前文件并重新打开；归档名已存在时顺延 seq。
func (w *RotatingFile) rotate() error {
	if w.f == nil {
		return w.ensureOpen()
	}
	_ = w.f.Close()
	w.f = nil
	var archived string
	for {
		w.seq++
		archived = filepath.Join(w.dir, fmt.Sprintf("%s%s.%d%s", logPrefix, w.tag, w.seq, logExt))
		if _, err := os.Lstat(archived); os.IsNotExist(err) {
			break
		}
	}
	if err := os.Rename(w.Path(), archived); err != nil {
		return fmt.Errorf("rename rotated file: %w", err)
	}
	if err := w.prune(); err != nil {
		return fmt.Errorf("prune rotated files: %w", err)
	}
	return w.ensureOpen()
}

// prune 仅保留最近 keep 个归档（按修改时间，其次按名称）。
func (w *RotatingFile) prune() error {
	ents, err := os.ReadDir(w.dir)
	if err != nil {
		return err
	}
	type archive struct {
		name string
		mod  int64
	}
	var olds []archive
	for _, e := range ents {
		if e.IsDir() || !isArchive(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		olds = append(olds, archive{e.Name(), info.ModTime().UnixNano()})
	}
	if len(olds) <= w.keep {
		return nil
	}
	sort.Slice(olds, func(i, j int) bool {
		if olds[i].mod != olds[j].mod {
			return olds[i].mod < olds[j].mod
		}
		return olds[i].name < olds[j].name
	})
	for _, a := range olds[:len(olds)-w.keep] {
		if err := os.Remove(filepath.Join(w.dir, a.name)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// isArchive: adddosdn-<tag>.<seq>.jsonl
func isArchive(name string) bool {
	if !strings.HasPrefix(name, logPrefix) || !strings.HasSuffix(name, logExt) {
		return false
	}
	stem := strings.TrimSuffix(name, logExt)
	i := strings.LastIndexByte(stem, '.')
	if i < 0 || i == len(stem)-1 {
		return false
	}
	for _, r := range stem[i+1:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// fileTag 将关联 ID 限制为文件名安全字符。
func fileTag(corrID string) string {
	if corrID == "" {
		return "current"
	}
	var b strings.Builder
	for _, r := range corrID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// Close 关闭当前打开的文件句柄。
func (w *RotatingFile) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}
