package onehot

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/nqmn/adddosdn-sub001/pkg/contract"
)

// Options: 独热编码选项。
type Options struct {
	// CardinalityCutoff: 唯一值数上限，默认 20。
	CardinalityCutoff *int `json:"cardinality_cutoff,omitempty"`
	// RatioCutoff: 唯一值/行数 比例上限（严格小于），默认 0.05。
	RatioCutoff *float64 `json:"ratio_cutoff,omitempty"`
	// MaxGroupWidth: 单列最多展开的指示列数；0 表示不限。
	MaxGroupWidth int `json:"max_group_width,omitempty"`
	// Exclude: 从编码结果中移除的列（标签列与标识列除外）。
	Exclude []string `json:"exclude,omitempty"`
}

// Encoder 将低基数类别列展开为 1/0 指示列。
type Encoder struct {
	cutoff   int
	ratio    float64
	maxWidth int
	exclude  map[string]struct{}
}

// New 创建编码器。
func New(opts *Options) (*Encoder, error) {
	e := &Encoder{cutoff: 20, ratio: 0.05, exclude: map[string]struct{}{}}
	if opts == nil {
		return e, nil
	}
	if opts.CardinalityCutoff != nil {
		if *opts.CardinalityCutoff < 0 {
			return nil, fmt.Errorf("cardinality_cutoff must be >= 0, got %d", *opts.CardinalityCutoff)
		}
		e.cutoff = *opts.CardinalityCutoff
	}
	if opts.RatioCutoff != nil {
		r := *opts.RatioCutoff
		if math.IsNaN(r) || r < 0 || r > 1 {
			return nil, fmt.Errorf("ratio_cutoff must be in [0,1], got %v", r)
		}
		e.ratio = r
	}
	if opts.MaxGroupWidth < 0 {
		return nil, fmt.Errorf("max_group_width must be >= 0, got %d", opts.MaxGroupWidth)
	}
	e.maxWidth = opts.MaxGroupWidth
	for _, c := range opts.Exclude {
		if c = strings.TrimSpace(c); c != "" {
			e.exclude[c] = struct{}{}
		}
	}
	return e, nil
}

var _ contract.Encoder = (*Encoder)(nil)

// Encode 移除 exclude 列并展开候选列。指示列位于源列原位置，源列被删除；行序与标签列逐字节不变。
func (e *Encoder) Encode(ctx context.Context, in *contract.Table) (*contract.Table, contract.EncodeResult, error) {
	res := contract.EncodeResult{Groups: []contract.EncodedGroup{}}
	if err := ctx.Err(); err != nil {
		return nil, res, err
	}
	t := in.Clone()
	rows := t.NumRows()
	labels := snapshotLabels(t)
	colsBefore := t.NumCols()

	for _, name := range t.Names() {
		if err := ctx.Err(); err != nil {
			return nil, res, err
		}
		role := t.RoleOf(name)
		skip := func(reason string) { res.Skipped = append(res.Skipped, contract.SkippedColumn{Column: name, Reason: reason}) }
		_, excluded := e.exclude[name]
		if role == contract.RoleLabel || role == contract.RoleIdentifier {
			if excluded {
				skip("protected column cannot be excluded")
			}
			continue
		}
		if excluded {
			t.DropColumns(name)
			res.Dropped = append(res.Dropped, name)
			continue
		}
		col := t.Column(name)
		counts := t.Counts(name)
		if !e.candidate(len(counts), rows) {
			continue
		}
		if role == contract.RoleContinuous {
			skip("continuous role")
			continue
		}
		if nonIntegral(counts) {
			skip("non-integral numeric values")
			continue
		}
		if n := missingCount(col.Values); n > 0 {
			skip(fmt.Sprintf("%d missing values remain", n))
			continue
		}
		sentinel := role == contract.RoleProtocolConditioned
		values := distinctValues(counts, sentinel)
		if len(values) == 0 {
			skip("only sentinel values")
			continue
		}
		if e.maxWidth > 0 && len(values) > e.maxWidth {
			skip(fmt.Sprintf("%d values exceed max_group_width %d", len(values), e.maxWidth))
			continue
		}
		g, err := expand(t, name, values)
		if err != nil {
			return nil, res, err
		}
		res.Groups = append(res.Groups, g)
		res.NewColumns += len(g.Columns)
	}

	// 列数变化必须可枚举：Σ指示列 - 编码组数 - 移除列数
	if got, want := t.NumCols()-colsBefore, res.NewColumns-len(res.Groups)-len(res.Dropped); got != want {
		return nil, res, fmt.Errorf("%w: column delta %d, expected %d", contract.ErrInvariantViolation, got, want)
	}
	if t.NumRows() != rows {
		return nil, res, fmt.Errorf("%w: encoding changed row count %d -> %d", contract.ErrInvariantViolation, rows, t.NumRows())
	}
	if err := checkLabels(t, labels); err != nil {
		return nil, res, err
	}
	t.Encoded = append(t.Encoded, res.Groups...)
	return t, res, nil
}

func (e *Encoder) candidate(distinct, rows int) bool {
	if distinct <= e.cutoff {
		return true
	}
	return rows > 0 && float64(distinct)/float64(rows) < e.ratio
}

// expand 用指示列替换 name 列。
func expand(t *contract.Table, name string, values []string) (contract.EncodedGroup, error) {
	g := contract.EncodedGroup{Source: name, Values: values, Columns: make([]string, len(values))}
	src := t.Column(name).Values
	at := t.Index(name)
	pos := make(map[string]int, len(values))
	for i, v := range values {
		g.Columns[i] = name + "_" + v
		pos[v] = i
	}
	seen := make(map[string]struct{}, len(values))
	for _, c := range g.Columns {
		if _, dup := seen[c]; dup || t.Has(c) {
			return g, &contract.SchemaError{Kind: t.Kind, Column: c, Reason: "indicator column name collides"}
		}
		seen[c] = struct{}{}
	}
	ind := make([]*contract.Column, len(values))
	for i, c := range g.Columns {
		ind[i] = &contract.Column{Name: c, Values: make([]string, len(src))}
		for j := range ind[i].Values {
			ind[i].Values[j] = "0"
		}
	}
	for j, v := range src {
		if i, ok := pos[v]; ok {
			ind[i].Values[j] = "1"
		}
	}
	t.DropColumns(name)
	for i, c := range ind {
		if err := t.InsertColumn(at+i, c); err != nil {
			return g, err
		}
	}
	return g, nil
}

// Decode 由指示列组还原源列：取唯一为 1 的指示列，全 0 时为哨兵。
func Decode(t *contract.Table, g contract.EncodedGroup) ([]string, error) {
	cols := make([]*contract.Column, len(g.Columns))
	for i, name := range g.Columns {
		if cols[i] = t.Column(name); cols[i] == nil {
			return nil, &contract.SchemaError{Kind: t.Kind, Column: name, Reason: "indicator column missing"}
		}
	}
	out := make([]string, t.NumRows())
	for r := range out {
		out[r] = contract.SentinelSymbolic
		hot := 0
		for i, c := range cols {
			if c.Values[r] == "1" {
				out[r] = g.Values[i]
				hot++
			}
		}
		if hot > 1 {
			return nil, fmt.Errorf("%w: row %d has %d hot indicators in group %s", contract.ErrInvariantViolation, r, hot, g.Source)
		}
	}
	return out, nil
}

// distinctValues: 升序的真实取值（全部可解析为数值时按数值排序）。
// sentinel=true 时排除哨兵，哨兵不单独占一列。
func distinctValues(counts map[string]int, sentinel bool) []string {
	out := make([]string, 0, len(counts))
	for v := range counts {
		if sentinel && contract.IsSentinel(v) {
			continue
		}
		out = append(out, v)
	}
	nums := make(map[string]float64, len(out))
	numeric := true
	for _, v := range out {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			numeric = false
			break
		}
		nums[v] = f
	}
	sort.Slice(out, func(i, j int) bool {
		if numeric && nums[out[i]] != nums[out[j]] {
			return nums[out[i]] < nums[out[j]]
		}
		return out[i] < out[j]
	})
	return out
}

// nonIntegral: 存在可解析但非整数的数值即视为连续列。
func nonIntegral(counts map[string]int) bool {
	for v := range counts {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			continue
		}
		if f != math.Trunc(f) {
			return true
		}
	}
	return false
}

func missingCount(vals []string) int {
	n := 0
	for _, v := range vals {
		if contract.IsMissing(v) {
			n++
		}
	}
	return n
}

func snapshotLabels(t *contract.Table) map[string][]string {
	out := make(map[string][]string)
	for _, n := range []string{contract.ColLabelMulti, contract.ColLabelBinary} {
		if c := t.Column(n); c != nil {
			out[n] = append([]string(nil), c.Values...)
		}
	}
	return out
}

func checkLabels(t *contract.Table, before map[string][]string) error {
	for n, vals := range before {
		c := t.Column(n)
		if c == nil || len(c.Values) != len(vals) {
			return fmt.Errorf("%w: label column %s changed shape", contract.ErrInvariantViolation, n)
		}
		for i := range vals {
			if c.Values[i] != vals[i] {
				return fmt.Errorf("%w: label column %s changed at row %d", contract.ErrInvariantViolation, n, i)
			}
		}
	}
	return nil
}
