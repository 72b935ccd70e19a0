package filesystem

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nqmn/adddosdn-sub001/pkg/contract"
)

func sampleTable(t *testing.T) *contract.Table {
	t.Helper()
	tb, err := contract.NewTable(contract.KindPacket, "dataset_id", "tcp_flags", "note", "Label_multi")
	require.NoError(t, err)
	require.NoError(t, tb.AppendRow([]string{"250101-1", "SA", "a,b", "syn"}))
	require.NoError(t, tb.AppendRow([]string{"250101-1", "", "quote \"x\"", "normal"}))
	require.NoError(t, tb.AppendRow([]string{"250101-2", "NaN", " lead", "syn"}))
	return tb
}

func noTmp(t *testing.T, dir string) {
	t.Helper()
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), ".tmp-"), "tmp file not cleaned: %s", e.Name())
	}
}

// TestSaveLoadLossless 保存再读取应逐字节保留单元格文本。
func TestSaveLoadLossless(t *testing.T) {
	dir := t.TempDir()
	s, err := New(nil)
	require.NoError(t, err)
	p := filepath.Join(dir, "packet_dataset.csv")
	in := sampleTable(t)
	require.NoError(t, s.Save(context.Background(), p, in))
	out, err := s.Load(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, in.Names(), out.Names())
	for _, c := range in.Columns() {
		assert.Equal(t, c.Values, out.Column(c.Name).Values, c.Name)
	}
	noTmp(t, dir)
}

// TestSaveAtomicReplaceExisting 原子写应替换已有内容且不残留临时文件。
func TestSaveAtomicReplaceExisting(t *testing.T) {
	dir := t.TempDir()
	s, _ := New(&Options{})
	p := filepath.Join(dir, "t.csv")
	tb := sampleTable(t)
	require.NoError(t, s.Save(context.Background(), p, tb))
	tb.DropColumns("note")
	require.NoError(t, s.Save(context.Background(), p, tb))
	b, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(b), "dataset_id,tcp_flags,Label_multi\n"), string(b))
	noTmp(t, dir)
}

// TestSaveCanceledKeepsOriginal 取消的写入不得破坏原文件。
func TestSaveCanceledKeepsOriginal(t *testing.T) {
	dir := t.TempDir()
	s, _ := New(nil)
	p := filepath.Join(dir, "t.csv")
	require.NoError(t, os.WriteFile(p, []byte("a\n1\n"), 0o644))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Save(ctx, p, sampleTable(t))
	require.ErrorIs(t, err, context.Canceled)
	b, _ := os.ReadFile(p)
	assert.Equal(t, "a\n1\n", string(b))
	noTmp(t, dir)
}

func TestSaveNonAtomic(t *testing.T) {
	dir := t.TempDir()
	a := false
	s, _ := New(&Options{Atomic: &a})
	p := filepath.Join(dir, "sub", "t.csv")
	require.NoError(t, s.Save(context.Background(), p, sampleTable(t)))
	_, err := os.Stat(p)
	require.NoError(t, err)
}

// TestBackupOnce 备份只写一次；再次调用复用并给出相同摘要。
func TestBackupOnce(t *testing.T) {
	dir := t.TempDir()
	s, _ := New(&Options{Root: dir})
	p := filepath.Join(dir, "t.csv")
	require.NoError(t, os.WriteFile(p, []byte("v1"), 0o644))

	first, err := s.Backup(context.Background(), p, contract.SuffixDuplicates)
	require.NoError(t, err)
	assert.False(t, first.Reused)
	assert.EqualValues(t, 2, first.Size)
	assert.Len(t, first.Blake3, 64)

	require.NoError(t, os.WriteFile(p, []byte("v2-changed"), 0o644))
	second, err := s.Backup(context.Background(), p, contract.SuffixDuplicates)
	require.NoError(t, err)
	assert.True(t, second.Reused)
	assert.Equal(t, first.Blake3, second.Blake3)

	b, _ := os.ReadFile(p + contract.SuffixDuplicates)
	assert.Equal(t, "v1", string(b))
	noTmp(t, dir)
}

func TestBackupMissingSource(t *testing.T) {
	s, _ := New(nil)
	_, err := s.Backup(context.Background(), filepath.Join(t.TempDir(), "nope.csv"), contract.SuffixMissing)
	assert.True(t, errors.Is(err, os.ErrNotExist), "err=%v", err)
	_, err = s.Backup(context.Background(), "x.csv", "")
	assert.ErrorIs(t, err, contract.ErrPathInvalid)
}

// TestRootEscape 设置 Root 后禁止越界路径。
func TestRootEscape(t *testing.T) {
	dir := t.TempDir()
	s, _ := New(&Options{Root: dir})
	for _, p := range []string{filepath.Join(dir, "..", "x.csv"), dir, ""} {
		_, err := s.mapPath(p)
		assert.ErrorIs(t, err, contract.ErrPathInvalid, p)
	}
	_, err := s.mapPath(filepath.Join(dir, "packet", "x.csv"))
	assert.NoError(t, err)
}

// TestDecodeEdges 覆盖 BOM、空文件、字段数不一致与重名表头。
func TestDecodeEdges(t *testing.T) {
	ctx := context.Background()
	tb, err := Decode(ctx, strings.NewReader("\ufeffa,b\n1,2\n"), contract.KindFlow)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, tb.Names())
	assert.Equal(t, contract.KindFlow, tb.Kind)

	_, err = Decode(ctx, strings.NewReader(""), contract.KindFlow)
	assert.ErrorIs(t, err, ErrEmptyFile)

	_, err = Decode(ctx, strings.NewReader("a,b\n1,2,3\n"), contract.KindFlow)
	assert.Error(t, err)

	_, err = Decode(ctx, strings.NewReader("a,a\n1,2\n"), contract.KindFlow)
	assert.ErrorIs(t, err, contract.ErrSchema)

	hdr, err := Decode(ctx, strings.NewReader("a,b\n"), contract.KindFlow)
	require.NoError(t, err)
	assert.Equal(t, 0, hdr.NumRows())
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	s, _ := New(nil)
	p := filepath.Join(dir, "report.json")
	require.NoError(t, s.WriteFileAtomic(context.Background(), p, []byte(`{"ok":true}`)))
	b, _ := os.ReadFile(p)
	assert.True(t, bytes.Equal(b, []byte(`{"ok":true}`)))
}

// TestReaderWithCtxCancel reader 在读取前取消
func TestReaderWithCtxCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := readerWithCtx(ctx, strings.NewReader("data"))
	cancel()
	_, err := r.Read(make([]byte, 1))
	assert.ErrorIs(t, err, context.Canceled)
}
