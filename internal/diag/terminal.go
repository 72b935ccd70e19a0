package diag

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/nqmn/adddosdn-sub001/pkg/contract"
)

// Terminal: 终端信息提示（非日志）。
// - 输出到提供的 io.Writer（默认建议 stderr）。
// - TTY: 阶段进度单行 \r 覆盖；非 TTY: 关键节点分行打印。
// - 并发安全；写失败后进入禁用态为 no-op。
type Terminal struct {
	w       io.Writer
	enabled bool
	isTTY   bool

	concurrency int
	tablesDone  int
	tablesFail  int
	runStart    time.Time

	lastLen   int
	lastFlush time.Time

	mu sync.Mutex
}

// NewTerminal 构造终端提示器。
// enabled=false 时总是 no-op。
func NewTerminal(w io.Writer, enabled bool) *Terminal {
	if w == nil {
		w = os.Stderr
	}
	t := &Terminal{w: w, enabled: enabled}
	// CI 环境视为非 TTY
	if os.Getenv("CI") != "" {
		t.isTTY = false
	} else if f, ok := w.(*os.File); ok {
		fd := f.Fd()
		t.isTTY = isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
	}
	return t
}

// RunStart: 记录运行上下文。
func (t *Terminal) RunStart(concurrency int, kinds []string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.concurrency = concurrency
	t.tablesDone = 0
	t.tablesFail = 0
	t.runStart = time.Now()
	t.println(fmt.Sprintf("[run] 并发=%d | 表=%s", concurrency, safe(strings.Join(kinds, ","))))
}

// Stage: 某表完成一次状态迁移。TTY 下节流（≥100ms）覆盖同一行。
func (t *Terminal) Stage(kind string, state contract.State, rows, cols int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	line := fmt.Sprintf("[%s] %s | 行 %d | 列 %d | 用时 %s", safe(kind), state, rows, cols, formatSince(t.runStart))
	if !t.isTTY {
		t.println(line)
		return
	}
	now := time.Now()
	if now.Sub(t.lastFlush) < 100*time.Millisecond {
		return
	}
	t.lastFlush = now
	t.printInline(line)
}

// TableFinish: 某表结束（立即换行）。
func (t *Terminal) TableFinish(kind string, state contract.State, ok bool, dur time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	status := "done"
	if ok {
		t.tablesDone++
	} else {
		status = "fail"
		t.tablesFail++
	}
	if t.isTTY && t.lastLen > 0 {
		t.printInline("")
	}
	t.println(fmt.Sprintf("[%s] %s | 状态 %s | 用时 %s", status, safe(kind), state, formatDur(dur)))
}

// RunFinish: 结束总览。
func (t *Terminal) RunFinish(exitCode int, dur time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	tag := "ok"
	switch exitCode {
	case 1:
		tag = "warn"
	case 2:
		tag = "fail"
	}
	t.println(fmt.Sprintf("[%s] 全部完成 | 成功 %d | 失败 %d | 退出码 %d | 总用时 %s",
		tag, t.tablesDone, t.tablesFail, exitCode, formatDur(dur)))
}

// 内部输出工具
func (t *Terminal) println(s string) {
	if t == nil || !t.enabled {
		return
	}
	if _, err := io.WriteString(t.w, s+"\n"); err != nil {
		// 写失败即禁用
		t.enabled = false
	}
	t.lastLen = 0
}

func (t *Terminal) printInline(s string) {
	if t == nil || !t.enabled {
		return
	}
	// 新行比旧行短时以空格覆盖行尾
	pad := 0
	if l := visLen(s); t.lastLen > l {
		pad = t.lastLen - l
	}
	var b strings.Builder
	b.WriteByte('\r')
	b.WriteString(s)
	if pad > 0 {
		b.WriteString(strings.Repeat(" ", pad))
	}
	if _, err := io.WriteString(t.w, b.String()); err != nil {
		t.enabled = false
		return
	}
	t.lastLen = visLen(s)
}

func visLen(s string) int { return len([]rune(s)) }

func safe(s string) string {
	// 避免换行等控制字符污染终端
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	return s
}

func formatSince(t0 time.Time) string {
	if t0.IsZero() {
		return formatDur(0)
	}
	return formatDur(time.Since(t0))
}

func formatDur(d time.Duration) string {
	if d < time.Second {
		ms := d.Milliseconds()
		if ms <= 0 {
			ms = 0
		}
		return fmt.Sprintf("%dms", ms)
	}
	// 秒，保留 1 位小数
	s := float64(d.Milliseconds()) / 1000.0
	return fmt.Sprintf("%.1fs", s)
}
