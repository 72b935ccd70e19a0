package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nqmn/adddosdn-sub001/internal/diag"
	"github.com/nqmn/adddosdn-sub001/pkg/contract"
	"github.com/nqmn/adddosdn-sub001/pkg/schema"
)

// - 单点并发：仅此层管理并发；组件均为同步实现，无内部并发。
// - 表间隔离：每个表类型独立走完状态机，某表失败不影响其他表。
// - 先备份后变更：每次变更前写入（或复用）不可变备份，落盘一律原子替换。

// ReportFile 为报告文件名（位于输出目录）。
const ReportFile = "report.json"

// Components 聚合运行所需的原子组件。
type Components struct {
	Store     contract.Store
	Collector contract.Collector
	Resolver  contract.Resolver
	Sanitizer contract.Sanitizer
	Encoder   contract.Encoder
	Validator contract.Validator
}

// Settings 运行期配置（最小必要）。
type Settings struct {
	// Base: run 子目录所在的根目录；Output: 数据集、备份与报告的输出目录。
	Base   string
	Output string
	// Kinds: 需要处理的表类型；为空时处理全部。
	Kinds       []contract.Kind
	Concurrency int
	// MetricsFile: 非空时在结束后写出 Prometheus textfile。
	MetricsFile string
	// Terminal: 可选的终端提示器。
	Terminal *diag.Terminal
}

// artifactWriter: 可原子写入任意字节的存储（报告使用）。
type artifactWriter interface {
	WriteFileAtomic(ctx context.Context, path string, data []byte) error
}

// invocation: 单次调用的上下文，显式传入每个阶段。
type invocation struct {
	comp    Components
	set     Settings
	logger  *diag.Logger
	term    *diag.Terminal
	metrics *diag.Metrics

	mu     sync.Mutex
	report *contract.Report
}

// Run 对每个表类型执行 INGESTED → DEDUPED → COLUMN-PRUNED → VALUE-SANITIZED → ENCODED → VALIDATED。
// 返回的报告总是非空（除非参数非法）；error 仅表示报告无法写出或调用被取消。
func Run(ctx context.Context, comp Components, set Settings, logger *diag.Logger) (*contract.Report, error) {
	if err := sanity(comp, &set); err != nil {
		return nil, fmt.Errorf("sanity: %w", err)
	}
	if logger == nil {
		logger = diag.NewStderrLogger("", "error")
	}
	inv := &invocation{
		comp:   comp,
		set:    set,
		logger:  logger,
		term:    set.Terminal,
		metrics: diag.NewMetrics(),
		report:  &contract.Report{CorrID: logger.CorrID(), StartedAt: time.Now().UTC()},
	}
	inv.report.Tables = make([]contract.TableReport, len(set.Kinds))

	kinds := make([]string, len(set.Kinds))
	for i, k := range set.Kinds {
		kinds[i] = string(k)
	}
	inv.term.RunStart(set.Concurrency, kinds)
	runTimer := logger.Start("pipeline", "run")

	var g errgroup.Group
	g.SetLimit(set.Concurrency)
	for i, kind := range set.Kinds {
		g.Go(func() error {
			tr := inv.runKind(ctx, kind)
			inv.mu.Lock()
			inv.report.Tables[i] = tr
			inv.mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	inv.report.FinishedAt = time.Now().UTC()
	inv.report.ExitCode = ExitCode(inv.report)
	runTimer.FinishKV("run", int64(len(set.Kinds)), map[string]string{"exit_code": fmt.Sprint(inv.report.ExitCode)})
	inv.term.RunFinish(inv.report.ExitCode, runTimer.Elapsed())

	var errs []error
	if err := inv.writeReport(context.WithoutCancel(ctx)); err != nil {
		logger.Error("pipeline", string(diag.Classify(err)), "write report failed: "+err.Error(), nil)
		errs = append(errs, fmt.Errorf("write report: %w", err))
	}
	if set.MetricsFile != "" {
		if err := inv.metrics.WriteTextfile(set.MetricsFile); err != nil {
			logger.Error("pipeline", string(diag.Classify(err)), "write metrics failed: "+err.Error(), nil)
			errs = append(errs, fmt.Errorf("write metrics: %w", err))
		}
	}
	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}
	return inv.report, errors.Join(errs...)
}

// ExitCode: 0 全部成功；1 完成但有诊断或部分表失败；2 全部表失败。
func ExitCode(r *contract.Report) int {
	if r == nil || len(r.Tables) == 0 {
		return 2
	}
	failed, diags := 0, 0
	for _, t := range r.Tables {
		if t.Failed() {
			failed++
		}
		diags += len(t.Diagnostics)
	}
	switch {
	case failed == len(r.Tables):
		return 2
	case failed > 0 || diags > 0:
		return 1
	default:
		return 0
	}
}

func (inv *invocation) writeReport(ctx context.Context) error {
	w, ok := inv.comp.Store.(artifactWriter)
	if !ok {
		return errors.New("store cannot write artifacts")
	}
	b, err := json.MarshalIndent(inv.report, "", "  ")
	if err != nil {
		return err
	}
	return w.WriteFileAtomic(ctx, filepath.Join(inv.set.Output, ReportFile), append(b, '\n'))
}

func sanity(c Components, s *Settings) error {
	if c.Store == nil || c.Collector == nil || c.Resolver == nil || c.Sanitizer == nil || c.Encoder == nil || c.Validator == nil {
		return errors.New("pipeline: missing components")
	}
	if s.Base == "" || s.Output == "" {
		return errors.New("pipeline: base and output directories are required")
	}
	if s.Concurrency < 1 {
		s.Concurrency = 1
	}
	if len(s.Kinds) == 0 {
		s.Kinds = contract.Kinds()
	}
	seen := make(map[contract.Kind]bool, len(s.Kinds))
	for _, k := range s.Kinds {
		if seen[k] {
			return fmt.Errorf("pipeline: duplicate kind %s", k)
		}
		seen[k] = true
	}
	return nil
}

// labelDelta: Label_multi 在阶段前后的分布。
func labelDelta(before, after map[string]int) []contract.LabelDelta {
	keys := make(map[string]struct{}, len(before))
	for k := range before {
		keys[k] = struct{}{}
	}
	for k := range after {
		keys[k] = struct{}{}
	}
	out := make([]contract.LabelDelta, 0, len(keys))
	for k := range keys {
		out = append(out, contract.LabelDelta{Label: k, Before: before[k], After: after[k]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}

func labelCounts(t *contract.Table) map[string]int {
	if t == nil || !t.Has(contract.ColLabelMulti) {
		return map[string]int{}
	}
	return t.Counts(contract.ColLabelMulti)
}

// bind 为加载后的表补齐 Kind 与 Schema。
func bind(t *contract.Table, kind contract.Kind) *contract.Table {
	t.Kind = kind
	t.Schema = schema.For(kind)
	return t
}
