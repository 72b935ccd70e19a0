package exact

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nqmn/adddosdn-sub001/pkg/contract"
)

func table(t *testing.T, rows ...[]string) *contract.Table {
	t.Helper()
	tb, err := contract.NewTable(contract.KindPacket, contract.ColDatasetID, "ip_proto", contract.ColLabelMulti)
	require.NoError(t, err)
	for _, r := range rows {
		require.NoError(t, tb.AppendRow(r))
	}
	return tb
}

// TestResolveExactVsContent 仅删除完全重复；跨 run 的内容重复只报告。
func TestResolveExactVsContent(t *testing.T) {
	in := table(t,
		[]string{"r1", "6", "syn"},
		[]string{"r1", "6", "syn"}, // 完全重复
		[]string{"r2", "6", "syn"}, // 内容重复（跨 run）
		[]string{"r1", "17", "udp"},
		[]string{"r1", "6", "syn"}, // 完全重复
	)
	r, err := New(nil)
	require.NoError(t, err)
	out, res, err := r.Resolve(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Exact)
	assert.Equal(t, 3, res.Content)
	assert.Equal(t, 1, res.CrossRun)
	assert.Equal(t, 1, res.CrossRunGroups)
	assert.Equal(t, 2, res.Removed)
	assert.Equal(t, 3, out.NumRows())
	assert.Equal(t, []string{"r1", "r2", "r1"}, out.Column(contract.ColDatasetID).Values)
	// 入参不被修改
	assert.Equal(t, 5, in.NumRows())

	var codes []contract.DiagCode
	for _, d := range res.Diagnostics {
		codes = append(codes, d.Code)
	}
	assert.Contains(t, codes, contract.DiagContentDuplicates)
}

// TestResolveIdempotent 第二次处理不再删除任何行，输出完全一致。
func TestResolveIdempotent(t *testing.T) {
	in := table(t,
		[]string{"r1", "6", "syn"},
		[]string{"r1", "6", "syn"},
		[]string{"r1", "1", "icmp"},
		[]string{"r2", "1", "icmp"},
	)
	r, _ := New(nil)
	once, _, err := r.Resolve(context.Background(), in)
	require.NoError(t, err)
	twice, res, err := r.Resolve(context.Background(), once)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Removed)
	assert.Equal(t, 0, res.Exact)
	for _, c := range once.Columns() {
		assert.Equal(t, c.Values, twice.Column(c.Name).Values)
	}
}

// TestResolveLabelBias 重复集中在某一标签时应给出偏差诊断。
func TestResolveLabelBias(t *testing.T) {
	var rows [][]string
	for i := 0; i < 10; i++ {
		rows = append(rows, []string{"r1", "6", "syn"}) // 9 个完全重复
	}
	for i := 0; i < 10; i++ {
		rows = append(rows, []string{"r1", string(rune('a' + i)), "normal"})
	}
	r, _ := New(nil)
	_, res, err := r.Resolve(context.Background(), table(t, rows...))
	require.NoError(t, err)
	assert.Equal(t, 9, res.Removed)
	biased := map[string]bool{}
	for _, d := range res.Diagnostics {
		if d.Code == contract.DiagLabelBias {
			biased[d.Column] = true
		}
	}
	assert.True(t, biased["syn"])
	assert.True(t, biased["normal"])
}

// TestResolveUniformNoBias 各标签按相同比例重复时不报偏差。
func TestResolveUniformNoBias(t *testing.T) {
	in := table(t,
		[]string{"r1", "6", "syn"},
		[]string{"r1", "6", "syn"},
		[]string{"r1", "1", "icmp"},
		[]string{"r1", "1", "icmp"},
	)
	r, _ := New(nil)
	_, res, err := r.Resolve(context.Background(), in)
	require.NoError(t, err)
	for _, d := range res.Diagnostics {
		assert.NotEqual(t, contract.DiagLabelBias, d.Code, d.Msg)
	}
}

func TestNewOptions(t *testing.T) {
	bad := 2.0
	_, err := New(&Options{LabelTolerance: &bad})
	assert.Error(t, err)
	ok := 0.1
	r, err := New(&Options{LabelTolerance: &ok, LabelColumn: contract.ColLabelBinary})
	require.NoError(t, err)
	assert.Equal(t, 0.1, r.tol)
	assert.Equal(t, contract.ColLabelBinary, r.label)
}

func TestResolveCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r, _ := New(nil)
	_, _, err := r.Resolve(ctx, table(t))
	assert.ErrorIs(t, err, context.Canceled)
}
