package contract

import (
	"errors"
	"path/filepath"
	"reflect"
	"testing"
)

// TestNormalizePath 验证路径规范化逻辑。
func TestNormalizePath(t *testing.T) {
	wpath := filepath.Join("a", "b", "c")
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"本地分隔符", wpath, "a/b/c"},
		{"父目录", "./x/../y", "y"},
		{"空串", "", "."},
		{"Windows路径", "C:\\Users\\test\\file.txt", "C:/Users/test/file.txt"},
		{"清理多余斜杠", "out//packet///packet_dataset.csv", "out/packet/packet_dataset.csv"},
		{"混合分隔符", "base\\250101-1/./packet_features.csv", "base/250101-1/packet_features.csv"},
		{"Unix绝对路径", "/data/../runs/x.csv", "/runs/x.csv"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizePath(tt.input); got != tt.expected {
				t.Errorf("NormalizePath(%q) = %q, expected %q", tt.input, got, tt.expected)
			}
		})
	}
}

// TestIsMissing 覆盖缺失值集合与边界。
func TestIsMissing(t *testing.T) {
	for _, v := range []string{"", " ", "NA", "N/A", "NaN", "nan", "null", "NULL", "None", " NaN "} {
		if !IsMissing(v) {
			t.Fatalf("%q 应视为缺失", v)
		}
	}
	for _, v := range []string{"0", "-1", "none_", "n/a", "tcp"} {
		if IsMissing(v) {
			t.Fatalf("%q 不应视为缺失", v)
		}
	}
}

func TestIsSentinel(t *testing.T) {
	for _, v := range []string{"-1", "-1.0", " -1 "} {
		if !IsSentinel(v) {
			t.Fatalf("%q 应为哨兵", v)
		}
	}
	for _, v := range []string{"1", "-10", "", "x"} {
		if IsSentinel(v) {
			t.Fatalf("%q 不应为哨兵", v)
		}
	}
}

func mustTable(t *testing.T, names []string, rows ...[]string) *Table {
	t.Helper()
	tb, err := NewTable(KindPacket, names...)
	if err != nil {
		t.Fatalf("new table: %v", err)
	}
	for _, r := range rows {
		if err := tb.AppendRow(r); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	return tb
}

// TestTableBasics 验证列式表的结构操作与行顺序保持。
func TestTableBasics(t *testing.T) {
	tb := mustTable(t, []string{"a", "b", "c"},
		[]string{"1", "x", "p"},
		[]string{"2", "y", "q"},
		[]string{"3", "x", "r"},
	)
	if tb.NumRows() != 3 || tb.NumCols() != 3 {
		t.Fatalf("shape = %dx%d", tb.NumRows(), tb.NumCols())
	}
	if err := tb.AppendRow([]string{"short"}); !errors.Is(err, ErrInvariantViolation) {
		t.Fatalf("短行应报错: %v", err)
	}
	if err := tb.InsertColumn(1, &Column{Name: "n", Values: []string{"i", "j", "k"}}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if got := tb.Names(); !reflect.DeepEqual(got, []string{"a", "n", "b", "c"}) {
		t.Fatalf("names = %v", got)
	}
	if err := tb.InsertColumn(0, &Column{Name: "a", Values: []string{"", "", ""}}); !errors.Is(err, ErrSchema) {
		t.Fatalf("重名列应为 schema 错误: %v", err)
	}
	if err := tb.AddColumn(&Column{Name: "z", Values: []string{""}}); !errors.Is(err, ErrInvariantViolation) {
		t.Fatalf("长度不符应报错: %v", err)
	}
	if n := tb.DropColumns("b", "missing"); n != 1 {
		t.Fatalf("dropped = %d", n)
	}
	if tb.Index("c") != 2 || tb.Has("b") {
		t.Fatalf("索引未更新: %v", tb.Names())
	}
	removed, err := tb.FilterRows([]bool{true, false, true})
	if err != nil || removed != 1 {
		t.Fatalf("filter = %d, %v", removed, err)
	}
	if got := tb.Column("a").Values; !reflect.DeepEqual(got, []string{"1", "3"}) {
		t.Fatalf("行顺序被改变: %v", got)
	}
	if _, err := tb.FilterRows([]bool{true}); !errors.Is(err, ErrInvariantViolation) {
		t.Fatalf("mask 长度不符应报错")
	}
}

// TestRowKeyUnambiguous 单元格含分隔符时分组键仍应区分。
func TestRowKeyUnambiguous(t *testing.T) {
	tb := mustTable(t, []string{"a", "b"},
		[]string{"x:1", "y"},
		[]string{"x", "1:y"},
	)
	if tb.RowKey(0) == tb.RowKey(1) {
		t.Fatalf("分组键冲突")
	}
	if tb.RowKey(0, 0) == tb.RowKey(1, 0) {
		t.Fatalf("跳过首列后仍不应冲突")
	}
}

func TestCountsAndClone(t *testing.T) {
	tb := mustTable(t, []string{ColLabelMulti}, []string{"syn"}, []string{"normal"}, []string{"syn"})
	c := tb.Counts(ColLabelMulti)
	if c["syn"] != 2 || c["normal"] != 1 {
		t.Fatalf("counts = %v", c)
	}
	if tb.Counts("nope") != nil {
		t.Fatalf("不存在列应返回 nil")
	}
	cl := tb.Clone()
	cl.Column(ColLabelMulti).Values[0] = "x"
	if tb.Column(ColLabelMulti).Values[0] != "syn" {
		t.Fatalf("clone 未独立")
	}
}

// TestSchemaRoles 保留列名优先于声明，未声明列为 Generic。
func TestSchemaRoles(t *testing.T) {
	s := NewSchema(KindPacket,
		ColumnSpec{Name: "ip_proto", Role: RoleStructural, Required: true},
		ColumnSpec{Name: "src_port", Role: RoleProtocolConditioned, Condition: &Condition{Column: "ip_proto", Expect: []string{"6", "17"}}},
	)
	cases := map[string]Role{
		ColDatasetID:   RoleIdentifier,
		ColLabelMulti:  RoleLabel,
		ColLabelBinary: RoleLabel,
		"ip_proto":     RoleStructural,
		"src_port":     RoleProtocolConditioned,
		"other":        RoleGeneric,
	}
	for col, want := range cases {
		if got := s.RoleOf(col); got != want {
			t.Fatalf("RoleOf(%s) = %v, want %v", col, got, want)
		}
	}
	spec, _ := s.Spec("src_port")
	if !spec.Condition.Expected("17") || spec.Condition.Expected("1") {
		t.Fatalf("condition 判定错误")
	}
	tb := mustTable(t, []string{ColDatasetID, "src_port"})
	var se *SchemaError
	if err := s.Check(tb); !errors.As(err, &se) || se.Column != "ip_proto" {
		t.Fatalf("缺少必需列应报错: %v", err)
	}
}

// TestErrorsUnwrap 具体错误类型可 errors.Is 到哨兵。
func TestErrorsUnwrap(t *testing.T) {
	cause := errors.New("bad quote")
	ie := &IngestError{Run: "250101-1", Path: "p", Err: cause}
	if !errors.Is(ie, ErrIngest) || !errors.Is(ie, cause) {
		t.Fatalf("IngestError unwrap")
	}
	if !errors.Is(&SentinelCollisionError{Column: "c", Sentinel: "-1"}, ErrSentinelCollision) {
		t.Fatalf("SentinelCollisionError unwrap")
	}
	if !errors.Is(&SchemaError{Column: "c"}, ErrSchema) {
		t.Fatalf("SchemaError unwrap")
	}
}

func TestParseKind(t *testing.T) {
	for in, want := range map[string]Kind{"packet": KindPacket, "FLOW": KindFlow, "bidirectional-flow": KindBiflow} {
		got, err := ParseKind(in)
		if err != nil || got != want {
			t.Fatalf("ParseKind(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseKind("x"); err == nil {
		t.Fatalf("未知类型应报错")
	}
	if KindBiflow.DatasetFile() != "biflow_dataset.csv" || KindFlow.InputFile() != "ryu_flow_features.csv" {
		t.Fatalf("文件名不符")
	}
}
