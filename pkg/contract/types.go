package contract

import (
	"fmt"
	"strconv"
	"strings"
)

// 保留列名。
const (
	ColDatasetID   = "dataset_id"
	ColLabelMulti  = "Label_multi"
	ColLabelBinary = "Label_binary"
)

// 哨兵值：表示“不适用”，必须与列的所有合法取值不相交。
const (
	SentinelNumeric  = -1
	SentinelSymbolic = "-1"
)

// Kind: 表类型（packet / flow / bidirectional-flow）。
type Kind string

const (
	KindPacket Kind = "packet"
	KindFlow   Kind = "flow"
	KindBiflow Kind = "biflow"
)

// Kinds 返回稳定顺序的全部表类型。
func Kinds() []Kind { return []Kind{KindPacket, KindFlow, KindBiflow} }

// ParseKind 解析表类型名（大小写不敏感）。
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindPacket:
		return KindPacket, nil
	case KindFlow:
		return KindFlow, nil
	case KindBiflow, "bidirectional-flow", "bidirectional_flow", "cicflow":
		return KindBiflow, nil
	}
	return "", fmt.Errorf("unknown table kind %q", s)
}

// InputFile: 每个 run 目录内该表类型的默认文件名。
func (k Kind) InputFile() string {
	switch k {
	case KindPacket:
		return "packet_features.csv"
	case KindFlow:
		return "ryu_flow_features.csv"
	case KindBiflow:
		return "cicflow_features_all.csv"
	}
	return string(k) + ".csv"
}

// DatasetFile: 合并后数据集的文件名。
func (k Kind) DatasetFile() string { return string(k) + "_dataset.csv" }

// Role: 列角色，决定各阶段的变换策略。
type Role int

const (
	// RoleGeneric: 未在 schema 中声明的普通列；仅参与列裁剪与编码。
	RoleGeneric Role = iota
	RoleLabel
	RoleIdentifier
	RoleProtocolConditioned
	RoleStructural
	RoleContinuous
)

func (r Role) String() string {
	switch r {
	case RoleLabel:
		return "label"
	case RoleIdentifier:
		return "identifier"
	case RoleProtocolConditioned:
		return "protocol_conditioned"
	case RoleStructural:
		return "structural"
	case RoleContinuous:
		return "continuous"
	default:
		return "generic"
	}
}

func (r Role) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

// State: 单表流水线状态机。
type State string

const (
	StateNone           State = ""
	StateIngested       State = "INGESTED"
	StateDeduped        State = "DEDUPED"
	StateColumnPruned   State = "COLUMN-PRUNED"
	StateValueSanitized State = "VALUE-SANITIZED"
	StateEncoded        State = "ENCODED"
	StateValidated      State = "VALIDATED"
)

// missingTokens: pandas 导出 CSV 中常见的缺失写法。
var missingTokens = map[string]struct{}{
	"": {}, "NA": {}, "N/A": {}, "NaN": {}, "nan": {}, "null": {}, "NULL": {}, "None": {},
}

// IsMissing 判定单元格是否为缺失值（各阶段共用的唯一判定）。
func IsMissing(v string) bool {
	_, ok := missingTokens[strings.TrimSpace(v)]
	return ok
}

// IsSentinel 判定单元格是否为哨兵（字符串 "-1" 或数值 -1）。
func IsSentinel(v string) bool {
	s := strings.TrimSpace(v)
	if s == SentinelSymbolic {
		return true
	}
	f, err := strconv.ParseFloat(s, 64)
	return err == nil && f == SentinelNumeric
}

// Column: 单列（列式存储），Values 与表行一一对应。
type Column struct {
	Name   string
	Values []string
}

// SourceOf 返回列所属指示列组的源列名；非指示列返回 name 本身。
func (t *Table) SourceOf(name string) string {
	for _, g := range t.Encoded {
		for _, c := range g.Columns {
			if c == name {
				return g.Source
			}
		}
	}
	return name
}

// Table: 列式（struct-of-arrays）表。
// 约束：
// - 所有列长度一致；
// - 列名唯一；
// - 任何变更不改变剩余行的相对顺序。
type Table struct {
	Kind   Kind
	Schema Schema
	// Encoded: 本表指示列组的来源（不落盘，由调用方在加载后补齐）。
	Encoded []EncodedGroup

	cols  []*Column
	index map[string]int
	rows  int
}

// NewTable 以给定列名创建空表。
func NewTable(kind Kind, names ...string) (*Table, error) {
	t := &Table{Kind: kind, index: make(map[string]int, len(names))}
	for _, n := range names {
		if _, dup := t.index[n]; dup {
			return nil, &SchemaError{Kind: kind, Column: n, Reason: "duplicate column name"}
		}
		t.index[n] = len(t.cols)
		t.cols = append(t.cols, &Column{Name: n})
	}
	return t, nil
}

// AppendRow 追加一行；长度必须等于列数。
func (t *Table) AppendRow(row []string) error {
	if len(row) != len(t.cols) {
		return fmt.Errorf("%w: row has %d fields, table has %d columns", ErrInvariantViolation, len(row), len(t.cols))
	}
	for i, c := range t.cols {
		c.Values = append(c.Values, row[i])
	}
	t.rows++
	return nil
}

func (t *Table) NumRows() int { return t.rows }

func (t *Table) NumCols() int { return len(t.cols) }

// Names 返回列名副本（按列序）。
func (t *Table) Names() []string {
	out := make([]string, len(t.cols))
	for i, c := range t.cols {
		out[i] = c.Name
	}
	return out
}

// Columns 返回列指针切片（只读使用；结构变更请用 Insert/Drop）。
func (t *Table) Columns() []*Column { return t.cols }

// Column 返回指定列；不存在时为 nil。
func (t *Table) Column(name string) *Column {
	if i, ok := t.index[name]; ok {
		return t.cols[i]
	}
	return nil
}

func (t *Table) Has(name string) bool { _, ok := t.index[name]; return ok }

// Index 返回列位置；不存在为 -1。
func (t *Table) Index(name string) int {
	if i, ok := t.index[name]; ok {
		return i
	}
	return -1
}

// RoleOf 返回列角色（委托 Schema）。
func (t *Table) RoleOf(name string) Role { return t.Schema.RoleOf(name) }

// InsertColumn 在 at 位置插入一列（at 越界时追加到末尾）。
func (t *Table) InsertColumn(at int, c *Column) error {
	if c == nil {
		return fmt.Errorf("%w: nil column", ErrInvariantViolation)
	}
	if _, dup := t.index[c.Name]; dup {
		return &SchemaError{Kind: t.Kind, Column: c.Name, Reason: "column already exists"}
	}
	if len(t.cols) > 0 && len(c.Values) != t.rows {
		return fmt.Errorf("%w: column %q has %d values, table has %d rows", ErrInvariantViolation, c.Name, len(c.Values), t.rows)
	}
	if len(t.cols) == 0 {
		t.rows = len(c.Values)
	}
	if at < 0 || at > len(t.cols) {
		at = len(t.cols)
	}
	t.cols = append(t.cols, nil)
	copy(t.cols[at+1:], t.cols[at:])
	t.cols[at] = c
	t.reindex()
	return nil
}

// AddColumn 追加一列。
func (t *Table) AddColumn(c *Column) error { return t.InsertColumn(len(t.cols), c) }

// DropColumns 删除指定列，返回实际删除数（不存在的列忽略）。
func (t *Table) DropColumns(names ...string) int {
	if len(names) == 0 {
		return 0
	}
	drop := make(map[string]struct{}, len(names))
	for _, n := range names {
		drop[n] = struct{}{}
	}
	kept := t.cols[:0]
	removed := 0
	for _, c := range t.cols {
		if _, ok := drop[c.Name]; ok {
			removed++
			continue
		}
		kept = append(kept, c)
	}
	for i := len(kept); i < len(t.cols); i++ {
		t.cols[i] = nil
	}
	t.cols = kept
	t.reindex()
	return removed
}

// FilterRows 仅保留 keep[i]==true 的行，返回删除行数。保持相对顺序。
func (t *Table) FilterRows(keep []bool) (int, error) {
	if len(keep) != t.rows {
		return 0, fmt.Errorf("%w: mask has %d entries, table has %d rows", ErrInvariantViolation, len(keep), t.rows)
	}
	n := 0
	for _, k := range keep {
		if k {
			n++
		}
	}
	if n == t.rows {
		return 0, nil
	}
	for _, c := range t.cols {
		out := make([]string, 0, n)
		for i, v := range c.Values {
			if keep[i] {
				out = append(out, v)
			}
		}
		c.Values = out
	}
	removed := t.rows - n
	t.rows = n
	return removed, nil
}

// Row 返回第 i 行的副本。
func (t *Table) Row(i int) []string {
	out := make([]string, len(t.cols))
	for j, c := range t.cols {
		out[j] = c.Values[i]
	}
	return out
}

// RowKey 生成第 i 行的分组键；skip 中的列位置不参与。
// 采用长度前缀拼接，避免单元格内容含分隔符时产生歧义。
func (t *Table) RowKey(i int, skip ...int) string {
	var b strings.Builder
	for j, c := range t.cols {
		if containsInt(skip, j) {
			continue
		}
		v := c.Values[i]
		b.WriteString(strconv.Itoa(len(v)))
		b.WriteByte(':')
		b.WriteString(v)
	}
	return b.String()
}

// Counts 对单列做分组计数（grouped reduce）。列不存在返回 nil。
func (t *Table) Counts(name string) map[string]int {
	c := t.Column(name)
	if c == nil {
		return nil
	}
	out := make(map[string]int)
	for _, v := range c.Values {
		out[v]++
	}
	return out
}

// Clone 深拷贝（列值切片独立）。
func (t *Table) Clone() *Table {
	out := &Table{Kind: t.Kind, Schema: t.Schema, rows: t.rows, index: make(map[string]int, len(t.cols))}
	out.Encoded = append([]EncodedGroup(nil), t.Encoded...)
	out.cols = make([]*Column, len(t.cols))
	for i, c := range t.cols {
		vals := make([]string, len(c.Values))
		copy(vals, c.Values)
		out.cols[i] = &Column{Name: c.Name, Values: vals}
		out.index[c.Name] = i
	}
	return out
}

func (t *Table) reindex() {
	t.index = make(map[string]int, len(t.cols))
	for i, c := range t.cols {
		t.index[c.Name] = i
	}
}

func containsInt(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}
