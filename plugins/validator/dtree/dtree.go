package dtree

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/stat"

	"github.com/nqmn/adddosdn-sub001/pkg/contract"
)

// Options: 泄漏校验选项。
type Options struct {
	// Label: 目标标签列，默认 Label_multi。
	Label string `json:"label,omitempty"`
	// TestRatio: 留出集比例，默认 0.3。
	TestRatio *float64 `json:"test_ratio,omitempty"`
	// MaxDepth: 树深上限，默认 4。
	MaxDepth *int `json:"max_depth,omitempty"`
	// MinSamplesLeaf: 叶子最少样本数，默认 1。
	MinSamplesLeaf *int `json:"min_samples_leaf,omitempty"`
	// AccuracyThreshold: 总准确率超过即判定泄漏，默认 0.95。
	AccuracyThreshold *float64 `json:"accuracy_threshold,omitempty"`
	// ClassThreshold: 任一类 F1 超过即判定泄漏，默认 0.98。
	ClassThreshold *float64 `json:"class_threshold,omitempty"`
	// TopFeatures: 报告的特征数，默认 10。
	TopFeatures *int `json:"top_features,omitempty"`
	// MaxRows: 训练前按种子抽样的行数上限，默认 50000；0 表示不抽样。
	MaxRows *int `json:"max_rows,omitempty"`
	// Seed: 抽样与切分的随机种子，默认 42。
	Seed *int64 `json:"seed,omitempty"`
}

// Validator 训练浅层决策树审计标签捷径。只读，不修改表。
type Validator struct {
	label     string
	testRatio float64
	maxDepth  int
	minLeaf   int
	accThr    float64
	classThr  float64
	top       int
	maxRows   int
	seed      int64
}

// New 创建泄漏校验器。
func New(opts *Options) (*Validator, error) {
	v := &Validator{
		label:     contract.ColLabelMulti,
		testRatio: 0.3,
		maxDepth:  4,
		minLeaf:   1,
		accThr:    0.95,
		classThr:  0.98,
		top:       10,
		maxRows:   50000,
		seed:      42,
	}
	if opts == nil {
		return v, nil
	}
	if opts.Label != "" {
		v.label = opts.Label
	}
	if opts.TestRatio != nil {
		r := *opts.TestRatio
		if math.IsNaN(r) || r <= 0 || r >= 1 {
			return nil, fmt.Errorf("test_ratio must be in (0,1), got %v", r)
		}
		v.testRatio = r
	}
	if opts.MaxDepth != nil {
		if *opts.MaxDepth < 1 {
			return nil, fmt.Errorf("max_depth must be >= 1, got %d", *opts.MaxDepth)
		}
		v.maxDepth = *opts.MaxDepth
	}
	if opts.MinSamplesLeaf != nil {
		if *opts.MinSamplesLeaf < 1 {
			return nil, fmt.Errorf("min_samples_leaf must be >= 1, got %d", *opts.MinSamplesLeaf)
		}
		v.minLeaf = *opts.MinSamplesLeaf
	}
	for _, p := range []struct {
		name string
		src  *float64
		dst  *float64
	}{
		{"accuracy_threshold", opts.AccuracyThreshold, &v.accThr},
		{"class_threshold", opts.ClassThreshold, &v.classThr},
	} {
		if p.src == nil {
			continue
		}
		if math.IsNaN(*p.src) || *p.src < 0 || *p.src > 1 {
			return nil, fmt.Errorf("%s must be in [0,1], got %v", p.name, *p.src)
		}
		*p.dst = *p.src
	}
	if opts.TopFeatures != nil {
		if *opts.TopFeatures < 0 {
			return nil, fmt.Errorf("top_features must be >= 0, got %d", *opts.TopFeatures)
		}
		v.top = *opts.TopFeatures
	}
	if opts.MaxRows != nil {
		if *opts.MaxRows < 0 {
			return nil, fmt.Errorf("max_rows must be >= 0, got %d", *opts.MaxRows)
		}
		v.maxRows = *opts.MaxRows
	}
	if opts.Seed != nil {
		v.seed = *opts.Seed
	}
	return v, nil
}

var _ contract.Validator = (*Validator)(nil)

// Validate 留出切分、训练并度量；Pass=false 时附带 leakage_warning 诊断。
func (v *Validator) Validate(ctx context.Context, t *contract.Table) (contract.LeakageResult, error) {
	res := contract.LeakageResult{Pass: true}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	lc := t.Column(v.label)
	if lc == nil {
		return res, &contract.SchemaError{Kind: t.Kind, Column: v.label, Reason: "label column absent"}
	}
	var feats []string
	for _, name := range t.Names() {
		switch t.RoleOf(name) {
		case contract.RoleLabel, contract.RoleIdentifier:
			continue
		}
		feats = append(feats, name)
	}
	switch {
	case t.NumRows() < 2:
		res.Skipped = fmt.Sprintf("%d rows, need at least 2", t.NumRows())
		return res, nil
	case len(feats) == 0:
		res.Skipped = "no feature columns"
		return res, nil
	}

	rng := rand.New(rand.NewSource(v.seed))
	rows := sample(rng, t.NumRows(), v.maxRows)
	classes, y := encodeLabels(lc.Values, rows)
	if len(classes) < 2 {
		res.Skipped = fmt.Sprintf("label %s has a single class", v.label)
		return res, nil
	}
	X := make([][]float64, len(feats))
	for f, name := range feats {
		X[f] = encodeFeature(t.Column(name).Values, rows)
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	train, test := holdout(rng, len(rows), v.testRatio)
	res.TrainRows, res.TestRows = len(train), len(test)
	clf := newClassifier(withMaxDepth(v.maxDepth), withMinSamplesLeaf(v.minLeaf))
	if err := clf.fit(X, y, train, len(classes)); err != nil {
		return res, fmt.Errorf("validator: %w", err)
	}

	// 混淆计数：tp/实际/预测
	tp := make([]int, len(classes))
	actual := make([]int, len(classes))
	predicted := make([]int, len(classes))
	correct := 0
	for _, i := range test {
		p := clf.predict(X, i)
		actual[y[i]]++
		predicted[p]++
		if p == y[i] {
			tp[p]++
			correct++
		}
	}
	res.Accuracy = float64(correct) / float64(len(test))
	recalls := make([]float64, 0, len(classes))
	leakClass := ""
	for k, label := range classes {
		if actual[k] == 0 {
			continue
		}
		cr := contract.ClassRecall{Label: label, Support: actual[k]}
		cr.Recall = float64(tp[k]) / float64(actual[k])
		if predicted[k] > 0 {
			cr.Precision = float64(tp[k]) / float64(predicted[k])
		}
		if cr.Recall+cr.Precision > 0 {
			cr.F1 = 2 * cr.Recall * cr.Precision / (cr.Recall + cr.Precision)
		}
		if cr.F1 > v.classThr && leakClass == "" {
			leakClass = label
		}
		recalls = append(recalls, cr.Recall)
		res.Recall = append(res.Recall, cr)
	}
	res.BalancedAccuracy = stat.Mean(recalls, nil)
	res.TopFeatures = v.rank(t, feats, X, y, len(classes), clf.importance)

	res.Pass = res.Accuracy <= v.accThr && leakClass == ""
	if res.Pass {
		res.Recommendation = "no label shortcut detected"
		return res, nil
	}
	res.Exclude = excludable(res.TopFeatures)
	res.Recommendation = recommend(res.Exclude)
	msg := fmt.Sprintf("held-out accuracy %.4f (threshold %.2f)", res.Accuracy, v.accThr)
	if leakClass != "" {
		msg += fmt.Sprintf("; class %q recovered above %.2f", leakClass, v.classThr)
	}
	res.Diagnostics = append(res.Diagnostics, contract.Diagnostic{
		Code:  contract.DiagLeakageWarning,
		Msg:   msg + "; " + res.Recommendation,
		Value: res.Accuracy,
	})
	return res, nil
}

// rank: 树重要度降序，其次不确定性系数，最后按名称。指示列附带其源列名。
func (v *Validator) rank(t *contract.Table, feats []string, X [][]float64, y []int, k int, imp []float64) []contract.FeatureScore {
	out := make([]contract.FeatureScore, len(feats))
	for f, name := range feats {
		out[f] = contract.FeatureScore{Feature: name, Source: t.SourceOf(name), Importance: imp[f], Uncertainty: uncertainty(X[f], y, k)}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Importance != out[j].Importance {
			return out[i].Importance > out[j].Importance
		}
		if out[i].Uncertainty != out[j].Uncertainty {
			return out[i].Uncertainty > out[j].Uncertainty
		}
		return out[i].Feature < out[j].Feature
	})
	if len(out) > v.top {
		out = out[:v.top]
	}
	return out
}

// excludable: 按排名去重后的前三个源列，可直接作为编码器的 exclude。
// 优先取树实际使用过的特征；树未切分时退回不确定性系数。
func excludable(top []contract.FeatureScore) []string {
	pick := func(score func(contract.FeatureScore) float64) []string {
		var names []string
		seen := make(map[string]struct{})
		for _, f := range top {
			if score(f) <= 0 {
				continue
			}
			src := f.Source
			if src == "" {
				src = f.Feature
			}
			if _, dup := seen[src]; dup {
				continue
			}
			seen[src] = struct{}{}
			names = append(names, src)
			if len(names) == 3 {
				break
			}
		}
		return names
	}
	if names := pick(func(f contract.FeatureScore) float64 { return f.Importance }); len(names) > 0 {
		return names
	}
	return pick(func(f contract.FeatureScore) float64 { return f.Uncertainty })
}

func recommend(names []string) string {
	if len(names) == 0 {
		return "inspect feature columns for protocol identifiers and re-run the encoder"
	}
	return fmt.Sprintf("exclude %s and re-run the encoder", strings.Join(names, ", "))
}

// sample: 行数超过 limit 时按种子无放回抽样，返回升序行号。
func sample(rng *rand.Rand, n, limit int) []int {
	if limit <= 0 || n <= limit {
		rows := make([]int, n)
		for i := range rows {
			rows[i] = i
		}
		return rows
	}
	rows := rng.Perm(n)[:limit]
	sort.Ints(rows)
	return rows
}

// holdout: 洗牌后切分；训练与测试集均至少 1 行。
func holdout(rng *rand.Rand, n int, ratio float64) (train, test []int) {
	perm := rng.Perm(n)
	nTest := int(math.Round(ratio * float64(n)))
	if nTest < 1 {
		nTest = 1
	}
	if nTest > n-1 {
		nTest = n - 1
	}
	return perm[nTest:], perm[:nTest]
}

// encodeLabels: 类别按字典序编号。
func encodeLabels(vals []string, rows []int) ([]string, []int) {
	idx := make(map[string]int)
	for _, r := range rows {
		idx[vals[r]] = 0
	}
	classes := make([]string, 0, len(idx))
	for c := range idx {
		classes = append(classes, c)
	}
	sort.Strings(classes)
	for i, c := range classes {
		idx[c] = i
	}
	y := make([]int, len(rows))
	for k, r := range rows {
		y[k] = idx[vals[r]]
	}
	return classes, y
}

// encodeFeature: 全部可解析为数值时取浮点，否则按排序后的唯一值编号；缺失为 NaN。
func encodeFeature(vals []string, rows []int) []float64 {
	out := make([]float64, len(rows))
	numeric := true
	for k, r := range rows {
		v := vals[r]
		if contract.IsMissing(v) {
			out[k] = math.NaN()
			continue
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			numeric = false
			break
		}
		out[k] = f
	}
	if numeric {
		return out
	}
	set := make(map[string]float64)
	for _, r := range rows {
		if !contract.IsMissing(vals[r]) {
			set[vals[r]] = 0
		}
	}
	levels := make([]string, 0, len(set))
	for s := range set {
		levels = append(levels, s)
	}
	sort.Strings(levels)
	for i, s := range levels {
		set[s] = float64(i)
	}
	for k, r := range rows {
		if contract.IsMissing(vals[r]) {
			out[k] = math.NaN()
		} else {
			out[k] = set[vals[r]]
		}
	}
	return out
}

const (
	maxExactLevels = 32
	quantileBins   = 16
)

// uncertainty: 单变量不确定性系数 (H(Y)-H(Y|X))/H(Y)。
// 唯一值较多的特征按分位数分箱，NaN 单独成箱。
func uncertainty(x []float64, y []int, k int) float64 {
	n := float64(len(y))
	if n == 0 {
		return 0
	}
	bins := discretize(x)
	py := make([]float64, k)
	joint := make(map[int][]float64)
	for i, b := range bins {
		py[y[i]]++
		row, ok := joint[b]
		if !ok {
			row = make([]float64, k)
			joint[b] = row
		}
		row[y[i]]++
	}
	for i := range py {
		py[i] /= n
	}
	hy := stat.Entropy(py)
	if hy <= 0 {
		return 0
	}
	var hyx float64
	for _, row := range joint {
		var nb float64
		for _, c := range row {
			nb += c
		}
		p := make([]float64, k)
		for i, c := range row {
			p[i] = c / nb
		}
		hyx += nb / n * stat.Entropy(p)
	}
	u := (hy - hyx) / hy
	if u < 0 {
		return 0
	}
	return u
}

func discretize(x []float64) []int {
	out := make([]int, len(x))
	levels := make(map[float64]int)
	var finite []float64
	for _, v := range x {
		if math.IsNaN(v) {
			continue
		}
		finite = append(finite, v)
		if len(levels) <= maxExactLevels {
			if _, ok := levels[v]; !ok {
				levels[v] = len(levels)
			}
		}
	}
	if len(levels) <= maxExactLevels {
		for i, v := range x {
			if math.IsNaN(v) {
				out[i] = -1
			} else {
				out[i] = levels[v]
			}
		}
		return out
	}
	sort.Float64s(finite)
	cuts := make([]float64, 0, quantileBins-1)
	for b := 1; b < quantileBins; b++ {
		cuts = append(cuts, stat.Quantile(float64(b)/quantileBins, stat.Empirical, finite, nil))
	}
	for i, v := range x {
		if math.IsNaN(v) {
			out[i] = -1
		} else {
			out[i] = sort.SearchFloat64s(cuts, v)
		}
	}
	return out
}
