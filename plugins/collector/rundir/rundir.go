package rundir

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/nqmn/adddosdn-sub001/pkg/contract"
	"github.com/nqmn/adddosdn-sub001/plugins/store/filesystem"
)

// DefaultRunPattern: <日期6位>-<序号>，例如 250101-3。
const DefaultRunPattern = `^\d{6}-\d+$`

// Options 为 run 目录收集器的可选配置。
type Options struct {
	// RunPattern: run 目录名正则。nil 使用默认；空串表示接受全部非隐藏目录。
	RunPattern *string `json:"run_pattern,omitempty"`
	// Files: 表类型 → 文件名覆盖（例如 {"flow":"flows.csv"}）。
	Files map[string]string `json:"files,omitempty"`
	// BufSize 为读缓冲区大小（字节）。默认 64KiB。
	BufSize int `json:"buf_size,omitempty"`
	// ExcludeDirNames: 跳过这些目录名（基名、大小写不敏感）。
	ExcludeDirNames []string `json:"exclude_dir_names,omitempty"`
}

// Collector 合并 base 下各 run 目录中同类型的 CSV。
type Collector struct {
	re         *regexp.Regexp
	files      map[contract.Kind]string
	bufSize    int
	excludeDir map[string]struct{}
}

// New 创建收集器。
func New(opts *Options) (*Collector, error) {
	if opts == nil {
		opts = &Options{}
	}
	pat := DefaultRunPattern
	if opts.RunPattern != nil {
		pat = *opts.RunPattern
	}
	var re *regexp.Regexp
	if strings.TrimSpace(pat) != "" {
		var err error
		re, err = regexp.Compile(pat)
		if err != nil {
			return nil, fmt.Errorf("run_pattern: %w", err)
		}
	}
	files := make(map[contract.Kind]string, len(opts.Files))
	for k, name := range opts.Files {
		kind, err := contract.ParseKind(k)
		if err != nil {
			return nil, fmt.Errorf("files: %w", err)
		}
		name = strings.TrimSpace(name)
		if name == "" || filepath.Base(name) != name {
			return nil, fmt.Errorf("files[%s]: invalid file name %q", k, name)
		}
		files[kind] = name
	}
	b := 64 * 1024
	if opts.BufSize > 0 {
		b = opts.BufSize
	}
	ex := make(map[string]struct{})
	for _, name := range opts.ExcludeDirNames {
		if name == "" {
			continue
		}
		ex[strings.ToLower(name)] = struct{}{}
	}
	return &Collector{re: re, files: files, bufSize: b, excludeDir: ex}, nil
}

var _ contract.Collector = (*Collector)(nil)

// FileFor 返回某表类型在 run 目录内的文件名。
func (c *Collector) FileFor(kind contract.Kind) string {
	if f, ok := c.files[kind]; ok {
		return f
	}
	return kind.InputFile()
}

// Discover 列出 base 下匹配的 run 目录名（字典序）。
func (c *Collector) Discover(ctx context.Context, base string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(base)
	if err != nil {
		return nil, err
	}
	// 稳定顺序：字典序
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	var runs []string
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		if _, skip := c.excludeDir[strings.ToLower(name)]; skip {
			continue
		}
		if c.re != nil && !c.re.MatchString(name) {
			continue
		}
		runs = append(runs, name)
	}
	return runs, nil
}

// Collect 读取每个 run 的该类型 CSV，前置 dataset_id 列并按 run 名顺序拼接。
// 缺文件或 CSV 损坏的 run 被跳过；无任何 run 贡献时返回 ErrNoRuns。
func (c *Collector) Collect(ctx context.Context, base string, kind contract.Kind) (*contract.Table, contract.CollectResult, error) {
	var res contract.CollectResult
	runs, err := c.Discover(ctx, base)
	if err != nil {
		return nil, res, err
	}
	file := c.FileFor(kind)
	var out *contract.Table
	for _, run := range runs {
		if err := ctx.Err(); err != nil {
			return nil, res, err
		}
		p := filepath.Join(base, run, file)
		rt, err := c.readRun(ctx, run, p, kind)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, res, err
			}
			reason := "missing"
			if !errors.Is(err, os.ErrNotExist) {
				reason = err.Error()
			}
			res.Skipped = append(res.Skipped, contract.RunSkip{Run: run, Reason: reason})
			res.Diagnostics = append(res.Diagnostics, contract.Diagnostic{
				Code: contract.DiagRunSkipped,
				Msg:  fmt.Sprintf("run %s skipped for %s: %s", run, kind, reason),
			})
			continue
		}
		if out == nil {
			out, err = contract.NewTable(kind, append([]string{contract.ColDatasetID}, rt.Names()...)...)
			if err != nil {
				return nil, res, err
			}
		}
		added, err := appendRun(out, rt, run)
		if err != nil {
			return nil, res, err
		}
		res.Unioned = append(res.Unioned, added...)
		res.Runs = append(res.Runs, contract.RunCount{Run: run, Rows: rt.NumRows()})
		res.Total += rt.NumRows()
	}
	if out == nil {
		return nil, res, fmt.Errorf("%w: %s (%d runs discovered)", contract.ErrNoRuns, kind, len(runs))
	}
	return out, res, nil
}

func (c *Collector) readRun(ctx context.Context, run, p string, kind contract.Kind) (*contract.Table, error) {
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		return nil, &contract.IngestError{Run: run, Path: contract.NormalizePath(p), Err: err}
	}
	defer f.Close()
	rt, err := filesystem.Decode(ctx, bufio.NewReaderSize(f, c.bufSize), kind)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, &contract.IngestError{Run: run, Path: contract.NormalizePath(p), Err: err}
	}
	if rt.Has(contract.ColDatasetID) {
		return nil, &contract.IngestError{Run: run, Path: contract.NormalizePath(p), Err: errors.New("input already carries dataset_id")}
	}
	return rt, nil
}

// appendRun 将 rt 的行追加到 out；rt 中的新列追加到末尾（既有行补空）。
// 返回新追加的列名。
func appendRun(out, rt *contract.Table, run string) ([]string, error) {
	var added []string
	for _, name := range rt.Names() {
		if out.Has(name) {
			continue
		}
		if err := out.AddColumn(&contract.Column{Name: name, Values: make([]string, out.NumRows())}); err != nil {
			return nil, err
		}
		added = append(added, name)
	}
	// src[j]: out 第 j 列在 rt 中的位置；-1 表示缺列。
	src := make([]int, out.NumCols())
	for j, name := range out.Names() {
		src[j] = rt.Index(name)
	}
	idCol := out.Index(contract.ColDatasetID)
	rtCols := rt.Columns()
	row := make([]string, out.NumCols())
	for i := 0; i < rt.NumRows(); i++ {
		for j := range row {
			switch {
			case j == idCol:
				row[j] = run
			case src[j] < 0:
				row[j] = ""
			default:
				row[j] = rtCols[src[j]].Values[i]
			}
		}
		if err := out.AppendRow(row); err != nil {
			return nil, err
		}
	}
	return added, nil
}
