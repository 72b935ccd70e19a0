package dtree

import (
	"errors"
	"math"
	"sort"
)

// classifier: 深度受限的 CART 分类树（gini）。
// 特征按列存储：X[f][i] 为第 i 个样本的第 f 个特征，缺失为 NaN。
// NaN 在训练与预测时一律进入右子树。
type classifier struct {
	MaxDepth       int
	MinSamplesLeaf int
	// MaxCatValues: 整数型特征唯一值不超过该数时尝试等值切分。
	MaxCatValues int

	nClasses   int
	root       *node
	importance []float64
}

type node struct {
	leaf      bool
	feature   int
	threshold float64
	isCat     bool
	left      *node
	right     *node
	pred      int
}

type option func(*classifier)

func withMaxDepth(d int) option       { return func(c *classifier) { c.MaxDepth = d } }
func withMinSamplesLeaf(n int) option { return func(c *classifier) { c.MinSamplesLeaf = n } }

func newClassifier(opts ...option) *classifier {
	c := &classifier{MaxDepth: 4, MinSamplesLeaf: 1, MaxCatValues: 30}
	for _, o := range opts {
		o(c)
	}
	if c.MinSamplesLeaf < 1 {
		c.MinSamplesLeaf = 1
	}
	return c
}

// fit 在 idx 指定的样本上训练。y 为类别下标 [0,nClasses)。
func (c *classifier) fit(X [][]float64, y []int, idx []int, nClasses int) error {
	if len(idx) == 0 {
		return errors.New("dtree: empty training set")
	}
	if nClasses < 1 {
		return errors.New("dtree: no classes")
	}
	c.nClasses = nClasses
	c.importance = make([]float64, len(X))
	c.root = c.build(X, y, idx, 0, float64(len(idx)))
	var tot float64
	for _, v := range c.importance {
		tot += v
	}
	if tot > 0 {
		for i := range c.importance {
			c.importance[i] /= tot
		}
	}
	return nil
}

type split struct {
	gain      float64
	feature   int
	threshold float64
	isCat     bool
}

func (c *classifier) build(X [][]float64, y []int, idx []int, depth int, total float64) *node {
	counts := classCounts(y, idx, c.nClasses)
	n := &node{leaf: true, pred: argmax(counts)}
	if isPure(counts) || len(idx) < 2*c.MinSamplesLeaf || (c.MaxDepth > 0 && depth >= c.MaxDepth) {
		return n
	}
	parent := gini(counts, len(idx))
	best := split{feature: -1}
	for f := range X {
		s := c.bestSplit(X[f], y, idx, counts, parent)
		if s.feature >= 0 && s.gain > best.gain {
			best = s
			best.feature = f
		}
	}
	if best.feature < 0 || best.gain <= 1e-12 {
		return n
	}
	left, right := partition(X[best.feature], idx, best)
	c.importance[best.feature] += float64(len(idx)) / total * best.gain
	n.leaf = false
	n.feature = best.feature
	n.threshold = best.threshold
	n.isCat = best.isCat
	n.left = c.build(X, y, left, depth+1, total)
	n.right = c.build(X, y, right, depth+1, total)
	return n
}

// bestSplit: 单特征最优切分。数值阈值切分通过一次排序后的增量计数扫描得到。
func (c *classifier) bestSplit(x []float64, y []int, idx []int, counts []int, parent float64) split {
	best := split{feature: -1}
	type pv struct {
		v float64
		c int
	}
	valid := make([]pv, 0, len(idx))
	for _, i := range idx {
		if !math.IsNaN(x[i]) {
			valid = append(valid, pv{x[i], y[i]})
		}
	}
	if len(valid) == 0 {
		return best
	}
	total := len(idx)

	// 等值切分：x == v 进左，其余（含 NaN）进右
	byVal := make(map[float64][]int)
	intLike := true
	for _, p := range valid {
		cc, ok := byVal[p.v]
		if !ok {
			if len(byVal) >= c.MaxCatValues {
				intLike = false
				break
			}
			if !almostInt(p.v) {
				intLike = false
				break
			}
			cc = make([]int, c.nClasses)
			byVal[p.v] = cc
		}
		cc[p.c]++
	}
	if intLike && len(byVal) > 1 {
		vals := make([]float64, 0, len(byVal))
		for v := range byVal {
			vals = append(vals, v)
		}
		sort.Float64s(vals)
		right := make([]int, c.nClasses)
		for _, v := range vals {
			left := byVal[v]
			nl := sum(left)
			nr := total - nl
			if nl < c.MinSamplesLeaf || nr < c.MinSamplesLeaf {
				continue
			}
			for k := range right {
				right[k] = counts[k] - left[k]
			}
			g := parent - (float64(nl)/float64(total))*gini(left, nl) - (float64(nr)/float64(total))*gini(right, nr)
			if g > best.gain {
				best = split{gain: g, feature: 0, threshold: v, isCat: true}
			}
		}
	}

	// 阈值切分：x <= thr 进左
	sort.Slice(valid, func(a, b int) bool { return valid[a].v < valid[b].v })
	left := make([]int, c.nClasses)
	right := make([]int, c.nClasses)
	for k := range right {
		right[k] = counts[k]
	}
	for s := 1; s < len(valid); s++ {
		left[valid[s-1].c]++
		right[valid[s-1].c]--
		if valid[s].v == valid[s-1].v {
			continue
		}
		nl := s
		nr := total - s
		if nl < c.MinSamplesLeaf || nr < c.MinSamplesLeaf {
			continue
		}
		g := parent - (float64(nl)/float64(total))*gini(left, nl) - (float64(nr)/float64(total))*gini(right, nr)
		if g > best.gain {
			best = split{gain: g, feature: 0, threshold: (valid[s-1].v + valid[s].v) / 2, isCat: false}
		}
	}
	return best
}

func partition(x []float64, idx []int, s split) (left, right []int) {
	for _, i := range idx {
		if goLeft(x[i], s.threshold, s.isCat) {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	return left, right
}

func goLeft(v, thr float64, isCat bool) bool {
	if math.IsNaN(v) {
		return false
	}
	if isCat {
		return v == thr
	}
	return v <= thr
}

// predict 返回样本 i 的类别下标。
func (c *classifier) predict(X [][]float64, i int) int {
	n := c.root
	for n != nil && !n.leaf {
		if goLeft(X[n.feature][i], n.threshold, n.isCat) {
			n = n.left
		} else {
			n = n.right
		}
	}
	if n == nil {
		return 0
	}
	return n.pred
}

func classCounts(y []int, idx []int, k int) []int {
	out := make([]int, k)
	for _, i := range idx {
		out[y[i]]++
	}
	return out
}

func gini(counts []int, n int) float64 {
	if n == 0 {
		return 0
	}
	res := 1.0
	for _, c := range counts {
		p := float64(c) / float64(n)
		res -= p * p
	}
	return res
}

func isPure(counts []int) bool {
	nonZero := 0
	for _, c := range counts {
		if c > 0 {
			nonZero++
		}
	}
	return nonZero <= 1
}

func argmax(counts []int) int {
	best := 0
	for i, c := range counts {
		if c > counts[best] {
			best = i
		}
	}
	return best
}

func sum(xs []int) int {
	s := 0
	for _, x := range xs {
		s += x
	}
	return s
}

func almostInt(v float64) bool {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return false
	}
	_, frac := math.Modf(math.Abs(v))
	return frac < 1e-9 || frac > 1-1e-9
}
