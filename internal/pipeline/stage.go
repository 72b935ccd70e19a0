package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/nqmn/adddosdn-sub001/internal/diag"
	"github.com/nqmn/adddosdn-sub001/pkg/contract"
)

// colRule: 阶段允许的列数变化。
type colRule int

const (
	colsSame colRule = iota
	colsShrink
	colsExpand
)

// step: 单次状态迁移。apply 返回新表（只读阶段可返回 nil）、类型化详情与诊断。
type step struct {
	comp     string
	from, to contract.State
	// suffix: 变更前备份后缀；空表示不备份。
	suffix string
	// removesRows: 该阶段的目的包含删行（标签计数允许变化）。
	removesRows bool
	cols        colRule
	// readOnly: 只读阶段不落盘。
	readOnly bool
	apply    func(ctx context.Context, t *contract.Table) (*contract.Table, any, []contract.Diagnostic, error)
}

func (inv *invocation) steps() []step {
	c := inv.comp
	return []step{
		{
			comp: "resolver", from: contract.StateIngested, to: contract.StateDeduped,
			suffix: contract.SuffixDuplicates, removesRows: true, cols: colsSame,
			apply: func(ctx context.Context, t *contract.Table) (*contract.Table, any, []contract.Diagnostic, error) {
				out, res, err := c.Resolver.Resolve(ctx, t)
				return out, res, res.Diagnostics, err
			},
		},
		{
			comp: "sanitizer", from: contract.StateDeduped, to: contract.StateColumnPruned,
			suffix: contract.SuffixMissing, cols: colsShrink,
			apply: func(ctx context.Context, t *contract.Table) (*contract.Table, any, []contract.Diagnostic, error) {
				out, res, err := c.Sanitizer.Prune(ctx, t)
				if err == nil && out.NumCols() != t.NumCols()-len(res.Dropped) {
					err = fmt.Errorf("%w: pruned %d columns but reported %d", contract.ErrInvariantViolation, t.NumCols()-out.NumCols(), len(res.Dropped))
				}
				return out, res, res.Diagnostics, err
			},
		},
		{
			comp: "sanitizer", from: contract.StateColumnPruned, to: contract.StateValueSanitized,
			suffix: contract.SuffixMissing, removesRows: true, cols: colsSame,
			apply: func(ctx context.Context, t *contract.Table) (*contract.Table, any, []contract.Diagnostic, error) {
				out, res, err := c.Sanitizer.Sanitize(ctx, t)
				return out, res, res.Diagnostics, err
			},
		},
		{
			comp: "encoder", from: contract.StateValueSanitized, to: contract.StateEncoded,
			suffix: contract.SuffixBeforeEncoding, cols: colsExpand,
			apply: func(ctx context.Context, t *contract.Table) (*contract.Table, any, []contract.Diagnostic, error) {
				out, res, err := c.Encoder.Encode(ctx, t)
				if err == nil {
					if got, want := out.NumCols()-t.NumCols(), res.NewColumns-len(res.Groups)-len(res.Dropped); got != want {
						err = fmt.Errorf("%w: encoder column delta %d, expected %d", contract.ErrInvariantViolation, got, want)
					}
				}
				return out, res, res.Diagnostics, err
			},
		},
		{
			comp: "validator", from: contract.StateEncoded, to: contract.StateValidated,
			readOnly: true,
			apply: func(ctx context.Context, t *contract.Table) (*contract.Table, any, []contract.Diagnostic, error) {
				res, err := c.Validator.Validate(ctx, t)
				return nil, res, res.Diagnostics, err
			},
		},
	}
}

// runKind 执行单个表类型的完整状态机；错误只中止该表。
func (inv *invocation) runKind(ctx context.Context, kind contract.Kind) contract.TableReport {
	path := filepath.Join(inv.set.Output, kind.DatasetFile())
	tr := contract.TableReport{Kind: kind, Path: contract.NormalizePath(path), State: contract.StateNone, Stages: []contract.StageReport{}}
	t0 := time.Now()
	fail := func(comp string, err error) contract.TableReport {
		code := diag.Classify(err)
		tr.Error = err.Error()
		tr.ErrorCode = string(code)
		inv.logger.ErrorTable(comp, string(code), err.Error(), &t0, string(kind), tr.State)
		inv.metrics.IncOp(comp, "error", "error")
		inv.metrics.IncError(comp, string(code))
		inv.term.TableFinish(string(kind), tr.State, false, time.Since(t0))
		return tr
	}

	sr, diags, err := inv.ingest(ctx, kind, path)
	inv.addDiagnostics(&tr, "collector", diags)
	if err != nil {
		return fail("collector", err)
	}
	tr.Stages = append(tr.Stages, sr)
	tr.State = contract.StateIngested

	// groups: 编码阶段产生的指示列组，重新加载后补回表上供校验器还原源列。
	var groups []contract.EncodedGroup
	for _, s := range inv.steps() {
		if err := ctx.Err(); err != nil {
			return fail(s.comp, err)
		}
		sr, diags, err := inv.transition(ctx, kind, path, s, groups)
		inv.addDiagnostics(&tr, s.comp, diags)
		if err != nil {
			return fail(s.comp, fmt.Errorf("%s -> %s: %w", s.from, s.to, err))
		}
		if er, ok := sr.Detail.(contract.EncodeResult); ok {
			groups = er.Groups
		}
		tr.Stages = append(tr.Stages, sr)
		tr.State = s.to
	}
	inv.term.TableFinish(string(kind), tr.State, true, time.Since(t0))
	return tr
}

// ingest: 合并 run、写出数据集，并留存合并后的初始快照。
func (inv *invocation) ingest(ctx context.Context, kind contract.Kind, path string) (contract.StageReport, []contract.Diagnostic, error) {
	sr := contract.StageReport{From: contract.StateNone, To: contract.StateIngested}
	timer := inv.logger.StartTable("collector", "collect", string(kind), contract.StateIngested)
	t, res, err := inv.comp.Collector.Collect(ctx, inv.set.Base, kind)
	if err != nil {
		return sr, res.Diagnostics, fmt.Errorf("collect: %w", err)
	}
	bind(t, kind)
	if err := t.Schema.Check(t); err != nil {
		return sr, res.Diagnostics, err
	}
	if t.NumRows() == 0 {
		return sr, res.Diagnostics, fmt.Errorf("%w: no rows collected", contract.ErrEmptyTable)
	}
	if err := inv.comp.Store.Save(ctx, path, t); err != nil {
		return sr, res.Diagnostics, fmt.Errorf("save: %w", err)
	}
	bk, err := inv.comp.Store.Backup(ctx, path, contract.SuffixBeforeCleaning)
	if err != nil {
		return sr, res.Diagnostics, fmt.Errorf("backup: %w", err)
	}
	sr.RowsAfter, sr.ColsAfter = t.NumRows(), t.NumCols()
	sr.Labels = labelDelta(map[string]int{}, labelCounts(t))
	sr.Backup = &bk
	sr.Detail = res
	inv.finishStage(timer, "collector", kind, &sr, t)
	return sr, res.Diagnostics, nil
}

// transition: 加载 → 校验 → 备份 → 执行 → 不变量检查 → 原子保存 → 报告。
func (inv *invocation) transition(ctx context.Context, kind contract.Kind, path string, s step, groups []contract.EncodedGroup) (contract.StageReport, []contract.Diagnostic, error) {
	sr := contract.StageReport{From: s.from, To: s.to}
	timer := inv.logger.StartTable(s.comp, string(s.to), string(kind), s.to)

	in, err := inv.comp.Store.Load(ctx, path)
	if err != nil {
		return sr, nil, fmt.Errorf("load: %w", err)
	}
	bind(in, kind)
	in.Encoded = groups
	if err := checkSchema(in, s.from); err != nil {
		return sr, nil, err
	}
	sr.RowsBefore, sr.ColsBefore = in.NumRows(), in.NumCols()
	if s.suffix != "" {
		bk, err := inv.comp.Store.Backup(ctx, path, s.suffix)
		if err != nil {
			return sr, nil, fmt.Errorf("backup: %w", err)
		}
		sr.Backup = &bk
	}

	before := labelCounts(in)
	ids := append([]string(nil), in.Column(contract.ColDatasetID).Values...)
	out, detail, diags, err := s.apply(ctx, in)
	if err != nil {
		return sr, diags, err
	}
	sr.Detail = detail
	if s.readOnly {
		out = in
	}
	if err := checkInvariants(s, ids, before, sr.ColsBefore, out); err != nil {
		return sr, diags, err
	}
	if !s.readOnly {
		if err := inv.comp.Store.Save(ctx, path, out); err != nil {
			return sr, diags, fmt.Errorf("save: %w", err)
		}
	}
	sr.RowsAfter, sr.ColsAfter = out.NumRows(), out.NumCols()
	sr.Labels = labelDelta(before, labelCounts(out))
	inv.finishStage(timer, s.comp, kind, &sr, out)
	return sr, diags, nil
}

func (inv *invocation) finishStage(timer *diag.Timer, comp string, kind contract.Kind, sr *contract.StageReport, t *contract.Table) {
	sr.DurationMS = timer.Elapsed().Milliseconds()
	timer.FinishKV(string(sr.To), int64(sr.RowsAfter), map[string]string{
		"rows_before": fmt.Sprint(sr.RowsBefore),
		"cols_before": fmt.Sprint(sr.ColsBefore),
		"cols_after":  fmt.Sprint(sr.ColsAfter),
	})
	inv.metrics.IncOp(comp, string(sr.To), "success")
	inv.metrics.ObserveDuration(comp, string(sr.To), sr.DurationMS)
	inv.metrics.SetRows(string(kind), sr.To, t.NumRows())
	inv.term.Stage(string(kind), sr.To, sr.RowsAfter, sr.ColsAfter)
}

// addDiagnostics 记录诊断（不中止）。
func (inv *invocation) addDiagnostics(tr *contract.TableReport, comp string, ds []contract.Diagnostic) {
	for _, d := range ds {
		kv := map[string]string{}
		if d.Column != "" {
			kv["column"] = d.Column
		}
		if d.Value != 0 {
			kv["value"] = fmt.Sprintf("%.4f", d.Value)
		}
		inv.logger.Warn(comp, string(d.Code), d.Msg, string(tr.Kind), kv)
	}
	tr.Diagnostics = append(tr.Diagnostics, ds...)
}

// checkSchema: 编码前要求全部必需列；编码后必需列可能已展开，仅要求标识列与标签列。
func checkSchema(t *contract.Table, from contract.State) error {
	if from != contract.StateEncoded {
		return t.Schema.Check(t)
	}
	for _, n := range []string{contract.ColDatasetID, contract.ColLabelMulti, contract.ColLabelBinary} {
		if !t.Has(n) {
			return &contract.SchemaError{Kind: t.Kind, Column: n, Reason: "required column missing after encoding"}
		}
	}
	return nil
}

// checkInvariants: dataset_id 只能按序删行、不得改写；标签计数仅在删行阶段变化；列数变化方向受限。
func checkInvariants(s step, ids []string, before map[string]int, cols int, out *contract.Table) error {
	switch n := out.NumCols(); {
	case s.cols == colsSame && n != cols, s.cols == colsShrink && n > cols:
		return fmt.Errorf("%w: %s changed column count %d -> %d", contract.ErrInvariantViolation, s.to, cols, n)
	}
	c := out.Column(contract.ColDatasetID)
	if c == nil {
		return fmt.Errorf("%w: %s dropped %s", contract.ErrInvariantViolation, s.to, contract.ColDatasetID)
	}
	if !subsequence(c.Values, ids) {
		return fmt.Errorf("%w: %s altered %s", contract.ErrInvariantViolation, s.to, contract.ColDatasetID)
	}
	if !s.removesRows && len(c.Values) != len(ids) {
		return fmt.Errorf("%w: %s changed row count %d -> %d", contract.ErrInvariantViolation, s.to, len(ids), len(c.Values))
	}
	after := labelCounts(out)
	for label, n := range after {
		if n > before[label] || (!s.removesRows && n != before[label]) {
			return fmt.Errorf("%w: %s changed label %q count %d -> %d", contract.ErrInvariantViolation, s.to, label, before[label], n)
		}
	}
	if !s.removesRows {
		for label, n := range before {
			if after[label] != n {
				return fmt.Errorf("%w: %s changed label %q count %d -> %d", contract.ErrInvariantViolation, s.to, label, n, after[label])
			}
		}
	}
	return nil
}

// subsequence 报告 sub 是否为 full 的保序子序列。
func subsequence(sub, full []string) bool {
	j := 0
	for _, v := range sub {
		for j < len(full) && full[j] != v {
			j++
		}
		if j == len(full) {
			return false
		}
		j++
	}
	return true
}
