package protocol

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/montanaflynn/stats"

	"github.com/nqmn/adddosdn-sub001/pkg/contract"
	"github.com/nqmn/adddosdn-sub001/pkg/schema"
)

// Options: 缺失值处理选项。
type Options struct {
	// RowLossTolerance: 结构列删行比例的告警阈值，默认 0.05。
	RowLossTolerance *float64 `json:"row_loss_tolerance,omitempty"`
	// ProtocolTolerance: 期望存在的协议下允许的缺失比例，默认 0.05。
	ProtocolTolerance *float64 `json:"protocol_tolerance,omitempty"`
	// FlagOnly: 仅告警，不删除结构列缺失的行。
	FlagOnly bool `json:"flag_only,omitempty"`
}

// Sanitizer 按列角色处理缺失值。
type Sanitizer struct {
	rowTol   float64
	protoTol float64
	flagOnly bool
}

// New 创建缺失值处理器。
func New(opts *Options) (*Sanitizer, error) {
	s := &Sanitizer{rowTol: 0.05, protoTol: 0.05}
	if opts == nil {
		return s, nil
	}
	if opts.RowLossTolerance != nil {
		if err := checkRatio("row_loss_tolerance", *opts.RowLossTolerance); err != nil {
			return nil, err
		}
		s.rowTol = *opts.RowLossTolerance
	}
	if opts.ProtocolTolerance != nil {
		if err := checkRatio("protocol_tolerance", *opts.ProtocolTolerance); err != nil {
			return nil, err
		}
		s.protoTol = *opts.ProtocolTolerance
	}
	s.flagOnly = opts.FlagOnly
	return s, nil
}

func checkRatio(name string, v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return fmt.Errorf("%s must be in [0,1], got %v", name, v)
	}
	return nil
}

var _ contract.Sanitizer = (*Sanitizer)(nil)

// CheckSentinels 校验每个协议条件列的已有取值不含哨兵。
// 数值列先用取值范围快速排除；范围覆盖 -1 时再逐值确认。
func (s *Sanitizer) CheckSentinels(t *contract.Table) error {
	for _, c := range t.Columns() {
		spec, ok := t.Schema.Spec(c.Name)
		if !ok || spec.Role != contract.RoleProtocolConditioned {
			continue
		}
		if spec.Value == contract.Numeric {
			vals := make(stats.Float64Data, 0, len(c.Values))
			for _, v := range c.Values {
				if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && !math.IsNaN(f) {
					vals = append(vals, f)
				}
			}
			if len(vals) > 0 && len(vals) == countPresent(c.Values) {
				lo, _ := stats.Min(vals)
				hi, _ := stats.Max(vals)
				if lo > contract.SentinelNumeric || hi < contract.SentinelNumeric {
					continue
				}
			}
		}
		hits := 0
		for _, v := range c.Values {
			if !contract.IsMissing(v) && contract.IsSentinel(v) {
				hits++
			}
		}
		if hits > 0 {
			return &contract.SentinelCollisionError{Column: c.Name, Sentinel: spec.Value.Sentinel(), Rows: hits}
		}
	}
	return nil
}

func countPresent(vals []string) int {
	n := 0
	for _, v := range vals {
		if !contract.IsMissing(v) {
			n++
		}
	}
	return n
}

// Prune 删除 100% 缺失的列（Label/Identifier 除外）。行数不变。
func (s *Sanitizer) Prune(ctx context.Context, in *contract.Table) (*contract.Table, contract.PruneResult, error) {
	res := contract.PruneResult{Dropped: []string{}}
	if err := ctx.Err(); err != nil {
		return nil, res, err
	}
	if err := s.CheckSentinels(in); err != nil {
		return nil, res, err
	}
	t := in.Clone()
	if t.NumRows() == 0 {
		return t, res, nil
	}
	for _, c := range t.Columns() {
		switch t.RoleOf(c.Name) {
		case contract.RoleLabel, contract.RoleIdentifier:
			continue
		}
		if countPresent(c.Values) == 0 {
			res.Dropped = append(res.Dropped, c.Name)
		}
	}
	t.DropColumns(res.Dropped...)
	if t.NumRows() != in.NumRows() {
		return nil, res, fmt.Errorf("%w: prune changed row count %d -> %d", contract.ErrInvariantViolation, in.NumRows(), t.NumRows())
	}
	return t, res, nil
}

// transform: 单一角色的值级处理。cols 为该角色在表中的列（按列序）。
type transform func(s *Sanitizer, t *contract.Table, cols []string, res *contract.SanitizeResult) error

// policies: 角色 → 处理；按顺序执行（先删行，再填充，最后统计）。
var policies = []struct {
	role  contract.Role
	apply transform
}{
	{contract.RoleStructural, (*Sanitizer).structural},
	{contract.RoleProtocolConditioned, (*Sanitizer).conditioned},
	{contract.RoleContinuous, (*Sanitizer).unresolved},
	{contract.RoleGeneric, (*Sanitizer).unresolved},
}

// Sanitize 按列角色处理缺失值；Label/Identifier 列从不修改。
func (s *Sanitizer) Sanitize(ctx context.Context, in *contract.Table) (*contract.Table, contract.SanitizeResult, error) {
	var res contract.SanitizeResult
	if err := ctx.Err(); err != nil {
		return nil, res, err
	}
	if err := s.CheckSentinels(in); err != nil {
		return nil, res, err
	}
	t := in.Clone()
	byRole := make(map[contract.Role][]string)
	for _, name := range t.Names() {
		r := t.RoleOf(name)
		byRole[r] = append(byRole[r], name)
	}
	for _, p := range policies {
		if err := ctx.Err(); err != nil {
			return nil, res, err
		}
		if err := p.apply(s, t, byRole[p.role], &res); err != nil {
			return nil, res, err
		}
	}
	if t.NumRows() == 0 {
		return nil, res, fmt.Errorf("%w: no rows left after structural deletion", contract.ErrEmptyTable)
	}
	return t, res, nil
}

// structural: 删除任一结构列缺失的行。
func (s *Sanitizer) structural(t *contract.Table, cols []string, res *contract.SanitizeResult) error {
	total := t.NumRows()
	if len(cols) == 0 || total == 0 {
		return nil
	}
	keep := make([]bool, total)
	bad := 0
	for i := range keep {
		keep[i] = true
		for _, name := range cols {
			if contract.IsMissing(t.Column(name).Values[i]) {
				keep[i] = false
				bad++
				break
			}
		}
	}
	res.StructuralLoss = float64(bad) / float64(total)
	if bad > 0 && res.StructuralLoss > s.rowTol {
		res.Diagnostics = append(res.Diagnostics, contract.Diagnostic{
			Code:  contract.DiagRowLossWarning,
			Msg:   fmt.Sprintf("%d of %d rows (%.2f%%) miss structural values; manual review recommended", bad, total, 100*res.StructuralLoss),
			Value: res.StructuralLoss,
		})
	}
	if s.flagOnly {
		res.StructuralFlagged = bad > 0
		return nil
	}
	removed, err := t.FilterRows(keep)
	if err != nil {
		return err
	}
	res.StructuralRows = removed
	return nil
}

// conditioned: 先对全部协议条件列做缺失交叉表，再统一填充哨兵。
func (s *Sanitizer) conditioned(t *contract.Table, cols []string, res *contract.SanitizeResult) error {
	specs := make([]contract.ColumnSpec, 0, len(cols))
	for _, name := range cols {
		spec, _ := t.Schema.Spec(name)
		specs = append(specs, spec)
	}
	// 交叉表基于填充前的状态（条件列本身也可能是协议条件列）
	tabs := make([]contract.Crosstab, len(specs))
	for i, spec := range specs {
		tabs[i] = s.crosstab(t, spec)
		if tabs[i].LowConfidence {
			res.Diagnostics = append(res.Diagnostics, contract.Diagnostic{
				Code:   contract.DiagLowConfidence,
				Column: spec.Name,
				Msg:    fmt.Sprintf("column %s is missing for protocols expected to carry it (%s)", spec.Name, tabs[i].Condition),
				Value:  worstExpected(tabs[i]),
			})
		}
	}
	for i, spec := range specs {
		c := t.Column(spec.Name)
		sentinel := spec.Value.Sentinel()
		for j, v := range c.Values {
			switch {
			case contract.IsMissing(v):
				c.Values[j] = sentinel
				tabs[i].Filled++
			case spec.Value == contract.Numeric:
				c.Values[j] = canonInt(v)
			}
		}
	}
	// 条件列不在表中时没有可报告的分组，仅填充
	for _, ct := range tabs {
		if ct.Groups != nil {
			res.Crosstabs = append(res.Crosstabs, ct)
		}
	}
	return nil
}

func (s *Sanitizer) crosstab(t *contract.Table, spec contract.ColumnSpec) contract.Crosstab {
	ct := contract.Crosstab{Column: spec.Name}
	if spec.Condition == nil {
		return ct
	}
	ct.Condition = fmt.Sprintf("%s in {%s}", spec.Condition.Column, strings.Join(spec.Condition.Expect, ","))
	cond := t.Column(spec.Condition.Column)
	if cond == nil {
		return ct
	}
	vals := t.Column(spec.Name).Values
	groups := make(map[string]*contract.CrosstabGroup)
	for i, raw := range cond.Values {
		key := ""
		if !contract.IsMissing(raw) {
			key = canonInt(raw)
		}
		g, ok := groups[key]
		if !ok {
			name := "missing"
			if key != "" {
				name = schema.ProtocolName(spec.Condition.Column, key)
			}
			g = &contract.CrosstabGroup{Value: key, Name: name, Expected: key != "" && spec.Condition.Expected(key)}
			groups[key] = g
		}
		g.Rows++
		if contract.IsMissing(vals[i]) {
			g.Missing++
		}
	}
	for _, g := range groups {
		g.Fraction = float64(g.Missing) / float64(g.Rows)
		if g.Expected && g.Fraction > s.protoTol {
			ct.LowConfidence = true
		}
		ct.Groups = append(ct.Groups, *g)
	}
	sort.Slice(ct.Groups, func(i, j int) bool { return lessValue(ct.Groups[i].Value, ct.Groups[j].Value) })
	return ct
}

func worstExpected(ct contract.Crosstab) float64 {
	w := 0.0
	for _, g := range ct.Groups {
		if g.Expected && g.Fraction > w {
			w = g.Fraction
		}
	}
	return w
}

// unresolved: Continuous/Generic 列保持原样，仅统计剩余缺失。
func (s *Sanitizer) unresolved(t *contract.Table, cols []string, res *contract.SanitizeResult) error {
	for _, name := range cols {
		c := t.Column(name)
		if n := len(c.Values) - countPresent(c.Values); n > 0 {
			if res.UnresolvedMissing == nil {
				res.UnresolvedMissing = make(map[string]int)
			}
			res.UnresolvedMissing[name] = n
		}
	}
	return nil
}

// canonInt: 整数值的浮点写法规范为整数文本（"80.0" → "80"）；其余原样返回。
func canonInt(v string) string {
	s := strings.TrimSpace(v)
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return v
	}
	return strconv.FormatInt(int64(f), 10)
}

// lessValue: 数值优先按数值比较，否则按字典序；空值排最后。
func lessValue(a, b string) bool {
	if a == "" || b == "" {
		return b == "" && a != ""
	}
	fa, ea := strconv.ParseFloat(a, 64)
	fb, eb := strconv.ParseFloat(b, 64)
	if ea == nil && eb == nil {
		return fa < fb
	}
	if (ea == nil) != (eb == nil) {
		return ea == nil
	}
	return a < b
}
