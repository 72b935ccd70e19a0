package contract

import "strconv"

// ValueKind: 列值类型，决定哨兵的写法。
type ValueKind int

const (
	// Numeric: 哨兵为整数 -1。
	Numeric ValueKind = iota
	// Symbolic: 哨兵为字符串 "-1"。
	Symbolic
)

// Sentinel 返回该值类型对应的哨兵文本。
func (v ValueKind) Sentinel() string {
	if v == Symbolic {
		return SentinelSymbolic
	}
	return strconv.Itoa(SentinelNumeric)
}

func (v ValueKind) String() string {
	if v == Symbolic {
		return "symbolic"
	}
	return "numeric"
}

// Condition: 协议条件——仅当 Column 的取值属于 Expect 时，该列“应当存在”。
type Condition struct {
	Column string
	Expect []string
}

// Expected 判定给定条件列取值下，该列是否应当存在。
func (c Condition) Expected(v string) bool {
	for _, e := range c.Expect {
		if e == v {
			return true
		}
	}
	return false
}

// ColumnSpec: 单列声明。
type ColumnSpec struct {
	Name     string
	Role     Role
	Value    ValueKind
	Required bool
	// Condition: 仅 ProtocolConditioned 有意义。
	Condition *Condition
}

// Schema: 某表类型的列角色声明；未声明列视为 RoleGeneric。
type Schema struct {
	Kind    Kind
	Columns []ColumnSpec

	byName map[string]int
}

// NewSchema 构建带名称索引的 Schema。
func NewSchema(kind Kind, cols ...ColumnSpec) Schema {
	s := Schema{Kind: kind, Columns: cols, byName: make(map[string]int, len(cols))}
	for i, c := range cols {
		s.byName[c.Name] = i
	}
	return s
}

// Spec 返回列声明；未声明返回 false。
func (s Schema) Spec(name string) (ColumnSpec, bool) {
	if s.byName == nil {
		for _, c := range s.Columns {
			if c.Name == name {
				return c, true
			}
		}
		return ColumnSpec{}, false
	}
	i, ok := s.byName[name]
	if !ok {
		return ColumnSpec{}, false
	}
	return s.Columns[i], true
}

// RoleOf 返回列角色；保留列名优先于声明。
func (s Schema) RoleOf(name string) Role {
	switch name {
	case ColDatasetID:
		return RoleIdentifier
	case ColLabelMulti, ColLabelBinary:
		return RoleLabel
	}
	if c, ok := s.Spec(name); ok {
		return c.Role
	}
	return RoleGeneric
}

// Required 返回必需列名（按声明顺序）。
func (s Schema) Required() []string {
	var out []string
	for _, c := range s.Columns {
		if c.Required {
			out = append(out, c.Name)
		}
	}
	return out
}

// Check 校验表包含全部必需列以及 dataset_id。
func (s Schema) Check(t *Table) error {
	if !t.Has(ColDatasetID) {
		return &SchemaError{Kind: s.Kind, Column: ColDatasetID, Reason: "missing identifier column"}
	}
	for _, n := range s.Required() {
		if !t.Has(n) {
			return &SchemaError{Kind: s.Kind, Column: n, Reason: "required column missing"}
		}
	}
	return nil
}
