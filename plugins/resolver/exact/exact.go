package exact

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/nqmn/adddosdn-sub001/pkg/contract"
)

// Options: 重复处理选项。
type Options struct {
	// LabelTolerance: 标签分布偏差容忍度（占该标签原行数比例），默认 0.01。
	LabelTolerance *float64 `json:"label_tolerance,omitempty"`
	// LabelColumn: 参与偏差检查的标签列，默认 Label_multi。
	LabelColumn string `json:"label_column,omitempty"`
}

// Resolver 仅删除完全重复（含 dataset_id）的行，保留首次出现。
type Resolver struct {
	tol   float64
	label string
}

// New 创建重复处理器。
func New(opts *Options) (*Resolver, error) {
	r := &Resolver{tol: 0.01, label: contract.ColLabelMulti}
	if opts == nil {
		return r, nil
	}
	if opts.LabelTolerance != nil {
		if *opts.LabelTolerance < 0 || *opts.LabelTolerance > 1 {
			return nil, fmt.Errorf("label_tolerance must be in [0,1], got %v", *opts.LabelTolerance)
		}
		r.tol = *opts.LabelTolerance
	}
	if opts.LabelColumn != "" {
		r.label = opts.LabelColumn
	}
	return r, nil
}

var _ contract.Resolver = (*Resolver)(nil)

// Resolve 计算完全/内容重复并删除完全重复。返回的表为新表，入参不被修改。
func (r *Resolver) Resolve(ctx context.Context, in *contract.Table) (*contract.Table, contract.DedupResult, error) {
	var res contract.DedupResult
	if err := ctx.Err(); err != nil {
		return nil, res, err
	}
	t := in.Clone()
	keep, exact := exactMask(t)
	res.Exact = exact

	content, groups := contentDuplicates(t)
	res.Content = content
	res.CrossRun = content - exact
	res.CrossRunGroups = groups
	if res.CrossRun > 0 {
		res.Diagnostics = append(res.Diagnostics, contract.Diagnostic{
			Code:  contract.DiagContentDuplicates,
			Msg:   fmt.Sprintf("%d rows repeat another run's content (%d groups); kept", res.CrossRun, groups),
			Value: float64(res.CrossRun),
		})
	}

	before := t.Counts(r.label)
	total := t.NumRows()
	removed, err := t.FilterRows(keep)
	if err != nil {
		return nil, res, err
	}
	res.Removed = removed

	// 幂等：删除后不应再有完全重复
	if _, again := exactMask(t); again != 0 {
		return nil, res, fmt.Errorf("%w: %d exact duplicates remain after removal", contract.ErrInvariantViolation, again)
	}
	if removed > 0 && before != nil {
		res.Diagnostics = append(res.Diagnostics, labelBias(before, t.Counts(r.label), float64(removed)/float64(total), r.tol)...)
	}
	return t, res, nil
}

// exactMask: keep[i]=false 表示第 i 行与更早的某行完全相同。
func exactMask(t *contract.Table) ([]bool, int) {
	n := t.NumRows()
	keep := make([]bool, n)
	seen := make(map[string]struct{}, n)
	dups := 0
	for i := 0; i < n; i++ {
		k := t.RowKey(i)
		if _, ok := seen[k]; ok {
			dups++
			continue
		}
		seen[k] = struct{}{}
		keep[i] = true
	}
	return keep, dups
}

// contentDuplicates: 忽略 dataset_id 后的重复行数，以及跨越多个 run 的组数。
func contentDuplicates(t *contract.Table) (int, int) {
	skip := t.Index(contract.ColDatasetID)
	var ids []string
	if c := t.Column(contract.ColDatasetID); c != nil {
		ids = c.Values
	}
	type group struct {
		first string
		multi bool
	}
	seen := make(map[string]*group, t.NumRows())
	dups := 0
	for i := 0; i < t.NumRows(); i++ {
		k := t.RowKey(i, skip)
		id := ""
		if ids != nil {
			id = ids[i]
		}
		g, ok := seen[k]
		if !ok {
			seen[k] = &group{first: id}
			continue
		}
		dups++
		if id != g.first {
			g.multi = true
		}
	}
	groups := 0
	for _, g := range seen {
		if g.multi {
			groups++
		}
	}
	return dups, groups
}

// labelBias: 以删除比例 r 推算每个标签的期望保留数，偏差超出 tol 的标签给出诊断。
func labelBias(before, after map[string]int, r, tol float64) []contract.Diagnostic {
	labels := make([]string, 0, len(before))
	for l := range before {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	var out []contract.Diagnostic
	for _, l := range labels {
		b := before[l]
		if b == 0 {
			continue
		}
		expected := float64(b) * (1 - r)
		dev := math.Abs(float64(after[l])-expected) / float64(b)
		if dev > tol {
			out = append(out, contract.Diagnostic{
				Code:   contract.DiagLabelBias,
				Column: l,
				Msg:    fmt.Sprintf("label %q kept %d of %d rows, expected %.1f under uniform duplication", l, after[l], b, expected),
				Value:  dev,
			})
		}
	}
	return out
}
