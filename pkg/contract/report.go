package contract

import "time"

// DiagCode: 非致命诊断代码（不中断流水线，仅影响退出码与报告）。
type DiagCode string

const (
	DiagLeakageWarning    DiagCode = "leakage_warning"
	DiagRowLossWarning    DiagCode = "row_loss_warning"
	DiagLowConfidence     DiagCode = "low_confidence"
	DiagRunSkipped        DiagCode = "run_skipped"
	DiagLabelBias         DiagCode = "label_bias"
	DiagContentDuplicates DiagCode = "content_duplicates"
)

// Diagnostic: 单条诊断。
type Diagnostic struct {
	Code   DiagCode `json:"code"`
	Column string   `json:"column,omitempty"`
	Msg    string   `json:"msg"`
	Value  float64  `json:"value,omitempty"`
}

// Report: 一次调用的总报告（写入 <output>/report.json）。
type Report struct {
	CorrID     string        `json:"corr_id"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	ExitCode   int           `json:"exit_code"`
	Tables     []TableReport `json:"tables"`
}

// TableReport: 单个表类型的处理轨迹。
type TableReport struct {
	Kind        Kind          `json:"kind"`
	Path        string        `json:"path"`
	State       State         `json:"state"`
	Error       string        `json:"error,omitempty"`
	ErrorCode   string        `json:"error_code,omitempty"`
	Stages      []StageReport `json:"stages"`
	Diagnostics []Diagnostic  `json:"diagnostics,omitempty"`
}

// Failed 表示该表类型被致命错误中止。
func (r TableReport) Failed() bool { return r.Error != "" }

// StageReport: 单次状态迁移的审计记录。
type StageReport struct {
	From       State        `json:"from"`
	To         State        `json:"to"`
	RowsBefore int          `json:"rows_before"`
	RowsAfter  int          `json:"rows_after"`
	ColsBefore int          `json:"cols_before"`
	ColsAfter  int          `json:"cols_after"`
	Labels     []LabelDelta `json:"labels,omitempty"`
	Backup     *BackupInfo  `json:"backup,omitempty"`
	DurationMS int64        `json:"dur_ms"`
	Detail     any          `json:"detail,omitempty"`
}

// LabelDelta: 单个标签值在阶段前后的行数。
type LabelDelta struct {
	Label  string `json:"label"`
	Before int    `json:"before"`
	After  int    `json:"after"`
}

// BackupInfo: 备份文件信息。Reused=true 表示备份已存在，未重写。
type BackupInfo struct {
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	Blake3 string `json:"blake3"`
	Reused bool   `json:"reused"`
}

// RunCount: 某 run 贡献的记录数。
type RunCount struct {
	Run  string `json:"run"`
	Rows int    `json:"rows"`
}

// RunSkip: 被跳过的 run 及原因。
type RunSkip struct {
	Run    string `json:"run"`
	Reason string `json:"reason"`
}

// CollectResult: RunCollector 的结果摘要。
type CollectResult struct {
	Runs    []RunCount `json:"runs"`
	Skipped []RunSkip  `json:"skipped,omitempty"`
	Total   int        `json:"total"`
	// Unioned: 因各 run 列集不同而追加的列。
	Unioned []string `json:"unioned,omitempty"`

	Diagnostics []Diagnostic `json:"-"`
}

// DedupResult: DuplicateResolver 的结果摘要。
type DedupResult struct {
	Exact   int `json:"exact"`
	Content int `json:"content"`
	// CrossRun = Content - Exact：仅 dataset_id 不同的重复。
	CrossRun int `json:"cross_run"`
	// CrossRunGroups: 跨越多个 run 的内容重复组数。
	CrossRunGroups int `json:"cross_run_groups"`
	Removed        int `json:"removed"`

	Diagnostics []Diagnostic `json:"-"`
}

// PruneResult: 全缺失列裁剪结果。
type PruneResult struct {
	Dropped []string `json:"dropped"`

	Diagnostics []Diagnostic `json:"-"`
}

// CrosstabGroup: 某协议取值下的缺失统计。
type CrosstabGroup struct {
	Value    string  `json:"value"`
	Name     string  `json:"name,omitempty"`
	Rows     int     `json:"rows"`
	Missing  int     `json:"missing"`
	Fraction float64 `json:"fraction"`
	Expected bool    `json:"expected"`
}

// Crosstab: 单个协议条件列的缺失交叉表。
type Crosstab struct {
	Column        string          `json:"column"`
	Condition     string          `json:"condition"`
	Groups        []CrosstabGroup `json:"groups"`
	Filled        int             `json:"filled"`
	LowConfidence bool            `json:"low_confidence"`
}

// SanitizeResult: 值级缺失处理结果。
type SanitizeResult struct {
	StructuralRows    int        `json:"structural_rows_removed"`
	StructuralLoss    float64    `json:"structural_loss"`
	StructuralFlagged bool       `json:"structural_flagged"`
	Crosstabs         []Crosstab `json:"crosstabs,omitempty"`
	// UnresolvedMissing: Continuous/Generic 列中保留的缺失数。
	UnresolvedMissing map[string]int `json:"unresolved_missing,omitempty"`

	Diagnostics []Diagnostic `json:"-"`
}

// EncodedGroup: 一个源列展开后的指示列组。
type EncodedGroup struct {
	Source  string   `json:"source"`
	Values  []string `json:"values"`
	Columns []string `json:"columns"`
}

// SkippedColumn: 未编码的候选列及原因。
type SkippedColumn struct {
	Column string `json:"column"`
	Reason string `json:"reason"`
}

// EncodeResult: 独热编码结果。
type EncodeResult struct {
	Groups  []EncodedGroup  `json:"groups"`
	Skipped []SkippedColumn `json:"skipped,omitempty"`
	// Dropped: 按 exclude 从表中移除的列。
	Dropped    []string `json:"dropped,omitempty"`
	NewColumns int      `json:"new_columns"`

	Diagnostics []Diagnostic `json:"-"`
}

// ClassRecall: 单类可恢复性。F1 同时要求召回与精确，恒预测单一类不会被视为可恢复。
type ClassRecall struct {
	Label     string  `json:"label"`
	Recall    float64 `json:"recall"`
	Precision float64 `json:"precision"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// FeatureScore: 特征排序项。
type FeatureScore struct {
	Feature     string  `json:"feature"`
	Source      string  `json:"source,omitempty"`
	Importance  float64 `json:"importance"`
	Uncertainty float64 `json:"uncertainty"`
}

// LeakageResult: 泄漏校验结果（仅诊断）。
type LeakageResult struct {
	Pass             bool           `json:"pass"`
	Skipped          string         `json:"skipped,omitempty"`
	Accuracy         float64        `json:"accuracy"`
	BalancedAccuracy float64        `json:"balanced_accuracy"`
	TrainRows        int            `json:"train_rows"`
	TestRows         int            `json:"test_rows"`
	Recall           []ClassRecall  `json:"recall,omitempty"`
	TopFeatures      []FeatureScore `json:"top_features,omitempty"`
	Recommendation   string         `json:"recommendation,omitempty"`
	// Exclude: 建议加入编码器 exclude 的源列（指示列已还原为源列名）。
	Exclude []string `json:"exclude,omitempty"`

	Diagnostics []Diagnostic `json:"-"`
}
