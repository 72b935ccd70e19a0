package testdata

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	cfgpkg "github.com/nqmn/adddosdn-sub001/internal/config"
	"github.com/nqmn/adddosdn-sub001/internal/diag"
	"github.com/nqmn/adddosdn-sub001/internal/pipeline"
	"github.com/nqmn/adddosdn-sub001/internal/synth"
	"github.com/nqmn/adddosdn-sub001/pkg/contract"
	sfs "github.com/nqmn/adddosdn-sub001/plugins/store/filesystem"
)

var scenarioRuns = []synth.Run{{Name: "010125-1", Rows: 100}, {Name: "010125-2", Rows: 50}, {Name: "010125-3", Rows: 30}}

func baseConfig(input, outDir string) cfgpkg.Config {
	cfg := cfgpkg.DefaultTemplateConfig()
	cfg.Input = input
	cfg.Output = outDir
	cfg.Logging.Level = "error"
	return cfg
}

func runPipeline(t *testing.T, cfg cfgpkg.Config) *contract.Report {
	t.Helper()
	comp, set, err := cfgpkg.Assemble(cfg)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	logger := diag.NewLogger("e2e", cfg.Logging.Level, t.TempDir())
	defer logger.Close()
	rep, err := pipeline.Run(context.Background(), comp, set, logger)
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	return rep
}

func tableReport(t *testing.T, rep *contract.Report, k contract.Kind) contract.TableReport {
	t.Helper()
	for _, tr := range rep.Tables {
		if tr.Kind == k {
			return tr
		}
	}
	t.Fatalf("缺少 %s 报告", k)
	return contract.TableReport{}
}

// TestE2ESuccess: 三类表全部走到 VALIDATED，且 run 合并顺序与来源可追溯。
func TestE2ESuccess(t *testing.T) {
	base, out := t.TempDir(), t.TempDir()
	if err := synth.Write(base, scenarioRuns); err != nil {
		t.Fatalf("synth: %v", err)
	}
	cfg := baseConfig(base, out)
	cfg.Components.Validator = "none"
	cfg.Options.Validator = nil
	rep := runPipeline(t, cfg)
	if rep.ExitCode != 0 {
		b, _ := json.MarshalIndent(rep, "", "  ")
		t.Fatalf("exit code=%d\n%s", rep.ExitCode, b)
	}
	store, _ := sfs.New(nil)
	for _, k := range contract.Kinds() {
		tr := tableReport(t, rep, k)
		if tr.State != contract.StateValidated {
			t.Fatalf("%s: state=%s err=%s", k, tr.State, tr.Error)
		}
		// 合并后的初始快照：180 行，dataset_id 按 run 名排序
		ingested, err := store.Load(context.Background(), filepath.Join(out, k.DatasetFile()+contract.SuffixBeforeCleaning))
		if err != nil {
			t.Fatalf("%s: load backup: %v", k, err)
		}
		if ingested.NumRows() != 180 || ingested.Names()[0] != contract.ColDatasetID {
			t.Fatalf("%s: 合并结果错误 rows=%d cols=%v", k, ingested.NumRows(), ingested.Names())
		}
		ids := ingested.Column(contract.ColDatasetID).Values
		if ids[0] != "010125-1" || ids[99] != "010125-1" || ids[100] != "010125-2" || ids[150] != "010125-3" || ids[179] != "010125-3" {
			t.Fatalf("%s: dataset_id 顺序错误", k)
		}
		// 最终数据集行数不变（无重复、无结构缺失），标签逐行不变
		final, err := store.Load(context.Background(), filepath.Join(out, k.DatasetFile()))
		if err != nil {
			t.Fatalf("%s: load final: %v", k, err)
		}
		if final.NumRows() != 180 {
			t.Fatalf("%s: rows=%d", k, final.NumRows())
		}
		before := ingested.Column(contract.ColLabelMulti).Values
		after := final.Column(contract.ColLabelMulti).Values
		for i := range before {
			if before[i] != after[i] {
				t.Fatalf("%s: 第 %d 行标签被改写", k, i)
			}
		}
		if len(tr.Diagnostics) != 0 {
			t.Fatalf("%s: 不应有诊断 %+v", k, tr.Diagnostics)
		}
	}

	// packet 的全缺失列被裁剪
	pkt := tableReport(t, rep, contract.KindPacket)
	pruned, ok := pkt.Stages[2].Detail.(contract.PruneResult)
	if !ok || len(pruned.Dropped) != 1 || pruned.Dropped[0] != "always_empty" {
		t.Fatalf("prune detail: %#v", pkt.Stages[2].Detail)
	}
	// tcp_flags 仅在 TCP 下出现，不应为低置信
	san, ok := pkt.Stages[3].Detail.(contract.SanitizeResult)
	if !ok {
		t.Fatalf("sanitize detail: %#v", pkt.Stages[3].Detail)
	}
	for _, ct := range san.Crosstabs {
		if ct.LowConfidence {
			t.Fatalf("%s 不应为低置信", ct.Column)
		}
		if ct.Column == "tcp_flags" && ct.Filled != 119 {
			t.Fatalf("tcp_flags 应填充 119 个哨兵，实得 %d", ct.Filled)
		}
	}
	if _, err := os.Stat(filepath.Join(out, pipeline.ReportFile)); err != nil {
		t.Fatalf("report: %v", err)
	}
}

// TestE2ELeakage: 标签由协议决定时报告泄漏并建议排除相关列。
func TestE2ELeakage(t *testing.T) {
	base, out := t.TempDir(), t.TempDir()
	if err := synth.Write(base, scenarioRuns, contract.KindPacket); err != nil {
		t.Fatalf("synth: %v", err)
	}
	cfg := baseConfig(base, out)
	cfg.Kinds = []string{"packet"}
	rep := runPipeline(t, cfg)
	if rep.ExitCode != 1 {
		t.Fatalf("exit code=%d", rep.ExitCode)
	}
	tr := tableReport(t, rep, contract.KindPacket)
	res, ok := tr.Stages[len(tr.Stages)-1].Detail.(contract.LeakageResult)
	if !ok || res.Pass || res.Accuracy < 0.95 {
		t.Fatalf("leakage: %#v", tr.Stages[len(tr.Stages)-1].Detail)
	}
	if !strings.HasPrefix(res.Recommendation, "exclude ") {
		t.Fatalf("recommendation: %q", res.Recommendation)
	}
	// 报告可被重新解析
	b, err := os.ReadFile(filepath.Join(out, pipeline.ReportFile))
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if !strings.Contains(string(b), string(contract.DiagLeakageWarning)) {
		t.Fatalf("报告缺少泄漏诊断")
	}
}

// TestE2ERerun: 重复运行复用备份，结果一致。
func TestE2ERerun(t *testing.T) {
	base, out := t.TempDir(), t.TempDir()
	if err := synth.Write(base, scenarioRuns[:2], contract.KindBiflow); err != nil {
		t.Fatalf("synth: %v", err)
	}
	cfg := baseConfig(base, out)
	cfg.Kinds = []string{"biflow"}
	cfg.Components.Validator = "none"
	cfg.Options.Validator = nil
	first := runPipeline(t, cfg)
	a, _ := os.ReadFile(filepath.Join(out, contract.KindBiflow.DatasetFile()))
	second := runPipeline(t, cfg)
	b, _ := os.ReadFile(filepath.Join(out, contract.KindBiflow.DatasetFile()))
	if first.ExitCode != 0 || second.ExitCode != 0 {
		t.Fatalf("exit codes %d %d", first.ExitCode, second.ExitCode)
	}
	if string(a) != string(b) {
		t.Fatalf("重复运行结果不一致")
	}
	for _, s := range tableReport(t, second, contract.KindBiflow).Stages {
		if s.Backup != nil && !s.Backup.Reused {
			t.Fatalf("%s 备份应被复用", s.To)
		}
	}
}
