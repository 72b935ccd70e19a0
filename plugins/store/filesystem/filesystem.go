package filesystem

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/nqmn/adddosdn-sub001/pkg/contract"
)

// Options: 最小必要选项。
type Options struct {
	// Root: 可选根目录；非空时所有路径必须位于其下。
	Root string `json:"root,omitempty"`
	// Atomic: 是否使用原子替换（同目录临时文件 + rename）。
	// 默认值：true。未提供该字段时采用原子写；显式 false 可关闭。
	Atomic *bool `json:"atomic,omitempty"`
	// PermFile/PermDir: 可选权限；为 0 表示使用实现/平台默认。
	PermFile os.FileMode `json:"perm_file,omitempty"`
	PermDir  os.FileMode `json:"perm_dir,omitempty"`
	// BufSize: 读写缓冲区大小；<=0 使用实现默认。
	BufSize int `json:"buf_size,omitempty"`
}

// FS: 基于本地文件系统的表存储。
type FS struct {
	root    string
	atomic  bool
	permF   os.FileMode
	permD   os.FileMode
	bufSize int
}

// New 创建文件系统 Store 实现。nil 选项使用全部默认值。
func New(opts *Options) (*FS, error) {
	if opts == nil {
		opts = &Options{}
	}
	bsz := opts.BufSize
	if bsz <= 0 {
		bsz = 64 * 1024
	}
	pf := opts.PermFile
	if pf == 0 {
		pf = 0o644
	}
	pd := opts.PermDir
	if pd == 0 {
		pd = 0o755
	}
	atomic := true
	if opts.Atomic != nil {
		atomic = *opts.Atomic
	}
	root := strings.TrimSpace(opts.Root)
	if root != "" {
		root = filepath.Clean(root)
	}
	return &FS{root: root, atomic: atomic, permF: pf, permD: pd, bufSize: bsz}, nil
}

var _ contract.Store = (*FS)(nil)

// Load 读取 path 处的 CSV。Kind/Schema 由调用方设置。
func (s *FS) Load(ctx context.Context, path string) (*contract.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.mapPath(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(ctx, bufio.NewReaderSize(f, s.bufSize), "")
}

// Save 将 t 写入 path。原子模式下失败/取消均不影响原文件。
func (s *FS) Save(ctx context.Context, path string, t *contract.Table) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dest, err := s.mapPath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), s.permD); err != nil {
		return err
	}
	write := func(w io.Writer) error { return Encode(ctx, w, t) }
	if s.atomic {
		return s.writeAtomic(dest, write)
	}
	return s.writeOverwrite(dest, write)
}

// Backup 将 path 复制到 path+suffix（仅当备份不存在时）。
// 已存在的备份不重写，仅重新计算摘要并标记 Reused。
func (s *FS) Backup(ctx context.Context, path, suffix string) (contract.BackupInfo, error) {
	if err := ctx.Err(); err != nil {
		return contract.BackupInfo{}, err
	}
	if suffix == "" {
		return contract.BackupInfo{}, contract.ErrPathInvalid
	}
	src, err := s.mapPath(path)
	if err != nil {
		return contract.BackupInfo{}, err
	}
	dest := contract.BackupPath(src, suffix)
	if _, err := os.Stat(dest); err == nil {
		return s.digest(ctx, dest, true)
	} else if !errors.Is(err, os.ErrNotExist) {
		return contract.BackupInfo{}, err
	}

	in, err := os.Open(src)
	if err != nil {
		return contract.BackupInfo{}, err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".tmp-*")
	if err != nil {
		return contract.BackupInfo{}, err
	}
	tmpPath := tmp.Name()
	_ = os.Chmod(tmpPath, s.permF)
	h := blake3.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), readerWithCtx(ctx, bufio.NewReaderSize(in, s.bufSize)))
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return contract.BackupInfo{}, err
	}
	if err := osPublishNew(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		if errors.Is(err, os.ErrExist) {
			// 并发出现的备份：不覆盖
			return s.digest(ctx, dest, true)
		}
		return contract.BackupInfo{}, err
	}
	_ = syncDir(filepath.Dir(dest))
	return contract.BackupInfo{Path: contract.NormalizePath(dest), Size: n, Blake3: hex.EncodeToString(h.Sum(nil)), Reused: false}, nil
}

func (s *FS) digest(ctx context.Context, p string, reused bool) (contract.BackupInfo, error) {
	f, err := os.Open(p)
	if err != nil {
		return contract.BackupInfo{}, err
	}
	defer f.Close()
	h := blake3.New()
	n, err := io.Copy(h, readerWithCtx(ctx, bufio.NewReaderSize(f, s.bufSize)))
	if err != nil {
		return contract.BackupInfo{}, err
	}
	return contract.BackupInfo{Path: contract.NormalizePath(p), Size: n, Blake3: hex.EncodeToString(h.Sum(nil)), Reused: reused}, nil
}

// mapPath: Clean + 根目录越界校验。
func (s *FS) mapPath(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", contract.ErrPathInvalid
	}
	c := filepath.Clean(p)
	if s.root == "" {
		return c, nil
	}
	rel, err := filepath.Rel(s.root, c)
	if err != nil {
		return "", contract.ErrPathInvalid
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", contract.ErrPathInvalid
	}
	return c, nil
}

func (s *FS) writeOverwrite(dest string, write func(io.Writer) error) error {
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, s.permF)
	if err != nil {
		return err
	}
	defer f.Close()
	bw := bufio.NewWriterSize(f, s.bufSize)
	if err := write(bw); err != nil {
		return err
	}
	return bw.Flush()
}

func (s *FS) writeAtomic(dest string, write func(io.Writer) error) error {
	dir := filepath.Dir(dest)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	// 目标权限：尽量与期望一致
	_ = os.Chmod(tmpPath, s.permF)

	bw := bufio.NewWriterSize(tmp, s.bufSize)
	if err := write(bw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := bw.Flush(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := osReplace(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	// 最佳努力：同步父目录，提升崩溃安全性
	_ = syncDir(dir)
	return nil
}

// WriteFileAtomic 以原子方式写入任意字节（报告等非表工件）。
func (s *FS) WriteFileAtomic(ctx context.Context, path string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dest, err := s.mapPath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), s.permD); err != nil {
		return err
	}
	return s.writeAtomic(dest, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// readerWithCtx: 在每次 Read 前检查 ctx 是否已取消。
func readerWithCtx(ctx context.Context, r io.Reader) io.Reader {
	return &ctxReader{ctx: ctx, r: r}
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *ctxReader) Read(p []byte) (int, error) {
	select {
	case <-cr.ctx.Done():
		return 0, cr.ctx.Err()
	default:
	}
	return cr.r.Read(p)
}
