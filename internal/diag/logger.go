package diag

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nqmn/adddosdn-sub001/pkg/contract"
)

// 级别定义
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "debug"
	case Info:
		return "info"
	case Warn:
		return "warn"
	case Error:
		return "error"
	default:
		return "info"
	}
}

// DefaultLogDir 为默认日志目录。
const DefaultLogDir = "logs"

// Logger 为最小结构化日志器：单行 JSON 写入轮转文件，失败时回退 stderr。
type Logger struct {
	corrID string
	level  Level
	sink   *RotatingFile
	mu     sync.Mutex
}

// NewCorrID 生成一次调用的关联 ID。
func NewCorrID() string { return uuid.NewString() }

// NewLogger 通过配置的 level 初始化，日志写入 dir（空则 logs/）下以 corrID 命名的文件，10 MiB 轮转。
func NewLogger(corrID, level, dir string) *Logger {
	if strings.TrimSpace(dir) == "" {
		dir = DefaultLogDir
	}
	if corrID == "" {
		corrID = NewCorrID()
	}
	sink := NewRotatingFile(dir, corrID, 10*1024*1024, defaultKeep)
	return &Logger{corrID: corrID, level: parseLevel(strings.TrimSpace(level)), sink: sink}
}

// NewStderrLogger 直接写 stderr，不落盘。
func NewStderrLogger(corrID, level string) *Logger {
	if corrID == "" {
		corrID = NewCorrID()
	}
	return &Logger{corrID: corrID, level: parseLevel(strings.TrimSpace(level))}
}

// CorrID 返回关联 ID。
func (l *Logger) CorrID() string { return l.corrID }

// Close 关闭文件 sink。
func (l *Logger) Close() error {
	if l == nil || l.sink == nil {
		return nil
	}
	return l.sink.Close()
}

func parseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return Debug
	case "warn":
		return Warn
	case "error":
		return Error
	default:
		return Info
	}
}

// ValidLevel 报告 s 是否为合法级别名。
func ValidLevel(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}

// Event 为标准事件结构。
type Event struct {
	Level  string            `json:"level"`
	TS     string            `json:"ts"`
	CorrID string            `json:"corr_id"`
	Comp   string            `json:"comp"`
	Stage  string            `json:"stage"` // start|finish|warn|error
	Code   string            `json:"code,omitempty"`
	DurMS  int64             `json:"dur_ms,omitempty"`
	Count  int64             `json:"count,omitempty"`
	Table  string            `json:"table,omitempty"`
	State  string            `json:"state,omitempty"`
	Msg    string            `json:"msg"`
	KV     map[string]string `json:"kv,omitempty"`
}

func (l *Logger) log(lv Level, ev Event) {
	if l == nil || lv < l.level {
		return
	}
	ev.Level = lv.String()
	ev.TS = NowUTC()
	ev.CorrID = l.corrID
	b, _ := json.Marshal(ev)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sink == nil {
		// 后备：写 stderr
		_, _ = os.Stderr.Write(append(b, '\n'))
		return
	}
	if err := l.sink.WriteLine(b); err != nil {
		fmt.Fprintf(os.Stderr, "logger sink error: %v\n", err)
		_, _ = os.Stderr.Write(append(b, '\n'))
	}
}

// Start 记录 start 事件；返回计时器用于 Finish。
func (l *Logger) Start(comp, msg string) *Timer {
	l.log(Info, Event{Comp: comp, Stage: "start", Msg: msg})
	return &Timer{l: l, comp: comp, t0: time.Now()}
}

// StartTable 记录某表某状态迁移的 start。
func (l *Logger) StartTable(comp, msg, table string, state contract.State) *Timer {
	l.log(Info, Event{Comp: comp, Stage: "start", Table: table, State: string(state), Msg: msg})
	return &Timer{l: l, comp: comp, table: table, state: string(state), t0: time.Now()}
}

// Warn 记录非致命诊断。
func (l *Logger) Warn(comp, code, msg, table string, kv map[string]string) {
	l.log(Warn, Event{Comp: comp, Stage: "warn", Code: code, Table: table, Msg: msg, KV: kv})
}

// Error 记录 error 事件。
func (l *Logger) Error(comp, code, msg string, durSince *time.Time) {
	var dur int64
	if durSince != nil {
		dur = time.Since(*durSince).Milliseconds()
	}
	l.log(Error, Event{Comp: comp, Stage: "error", Code: code, DurMS: dur, Msg: msg})
}

// ErrorTable 附带表与状态。
func (l *Logger) ErrorTable(comp, code, msg string, durSince *time.Time, table string, state contract.State) {
	var dur int64
	if durSince != nil {
		dur = time.Since(*durSince).Milliseconds()
	}
	l.log(Error, Event{Comp: comp, Stage: "error", Code: code, DurMS: dur, Msg: msg, Table: table, State: string(state)})
}

// Debug 输出调试事件（仅在 level=debug 时生效）。
func (l *Logger) Debug(comp, msg, table string, kv map[string]string) {
	l.log(Debug, Event{Comp: comp, Stage: "debug", Table: table, Msg: msg, KV: kv})
}

// Timer 用于 start→finish 计时。
type Timer struct {
	l     *Logger
	comp  string
	table string
	state string
	t0    time.Time
}

// Elapsed 返回自 start 起的耗时。
func (t *Timer) Elapsed() time.Duration {
	if t == nil {
		return 0
	}
	return time.Since(t.t0)
}

// Finish 记录 finish；count 通常为行数。
func (t *Timer) Finish(msg string, count int64) {
	if t == nil || t.l == nil {
		return
	}
	t.l.log(Info, Event{Comp: t.comp, Stage: "finish", DurMS: time.Since(t.t0).Milliseconds(), Count: count, Table: t.table, State: t.state, Msg: msg})
}

// FinishKV 同 Finish 并附带键值。
func (t *Timer) FinishKV(msg string, count int64, kv map[string]string) {
	if t == nil || t.l == nil {
		return
	}
	t.l.log(Info, Event{Comp: t.comp, Stage: "finish", DurMS: time.Since(t.t0).Milliseconds(), Count: count, Table: t.table, State: t.state, Msg: msg, KV: kv})
}
