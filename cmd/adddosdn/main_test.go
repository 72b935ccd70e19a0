package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	cfgpkg "github.com/nqmn/adddosdn-sub001/internal/config"
	"github.com/nqmn/adddosdn-sub001/internal/diag"
	"github.com/nqmn/adddosdn-sub001/internal/pipeline"
	"github.com/nqmn/adddosdn-sub001/pkg/contract"
)

func resetFlag(args []string) {
	flag.CommandLine = flag.NewFlagSet(args[0], flag.ContinueOnError)
	os.Args = args
}

// inTempDir 切换到临时目录，避免读取仓库内的 config/.env。
func inTempDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cwd, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(cwd) })
	return dir
}

// stubRun 替换 pipelineRun，记录收到的 Settings。
func stubRun(t *testing.T, exit int, err error) *pipeline.Settings {
	t.Helper()
	var got pipeline.Settings
	orig := pipelineRun
	pipelineRun = func(ctx context.Context, comp pipeline.Components, set pipeline.Settings, logger *diag.Logger) (*contract.Report, error) {
		got = set
		if comp.Store == nil || comp.Validator == nil {
			t.Errorf("组件未装配: %+v", comp)
		}
		return &contract.Report{ExitCode: exit}, err
	}
	t.Cleanup(func() { pipelineRun = orig })
	return &got
}

func TestRunInitConfig(t *testing.T) {
	dir := inTempDir(t)
	outDir := filepath.Join(dir, "out")
	resetFlag([]string{"adddosdn", "--init-config", outDir})
	if code := run(); code != 0 {
		t.Fatalf("run return %d", code)
	}
	b, err := os.ReadFile(filepath.Join(outDir, "config.json"))
	if err != nil {
		t.Fatalf("config not generated: %v", err)
	}
	if _, err := cfgpkg.LoadJSON("", b); err != nil {
		t.Fatalf("模板应可严格解析: %v", err)
	}
	env, err := os.ReadFile(filepath.Join(outDir, ".env"))
	if err != nil || !strings.Contains(string(env), "ADDDOSDN_OPTIONS_ENCODER_JSON=") {
		t.Fatalf(".env 模板错误: %v", err)
	}
}

// 已存在的配置不被覆盖
func TestRunInitConfigFileExists(t *testing.T) {
	dir := inTempDir(t)
	path := filepath.Join(dir, "config.json")
	_ = os.WriteFile(path, []byte("keep"), 0o644)
	resetFlag([]string{"adddosdn", "--init-config", dir})
	if code := run(); code != 2 {
		t.Fatalf("expect 2, got %d", code)
	}
	if b, _ := os.ReadFile(path); string(b) != "keep" {
		t.Fatalf("已有配置被覆盖")
	}
}

func TestRunInitConfigDefault(t *testing.T) {
	dir := inTempDir(t)
	resetFlag([]string{"adddosdn", "--init-config"})
	if code := run(); code != 0 {
		t.Fatalf("run return %d", code)
	}
	if _, err := os.Stat(filepath.Join(dir, "config.json")); err != nil {
		t.Fatalf("config not generated: %v", err)
	}
}

func TestRunSuccess(t *testing.T) {
	dir := inTempDir(t)
	got := stubRun(t, 0, nil)
	out := filepath.Join(dir, "out")
	resetFlag([]string{"adddosdn", "--kinds", "packet,cicflow", "--concurrency", "2", "--status=false", "runs", out})
	if code := run(); code != 0 {
		t.Fatalf("run return %d", code)
	}
	if got.Base != "runs" || got.Output != out || got.Concurrency != 2 {
		t.Fatalf("settings 错误: %+v", got)
	}
	if len(got.Kinds) != 2 || got.Kinds[1] != contract.KindBiflow {
		t.Fatalf("kinds 错误: %v", got.Kinds)
	}
	if _, err := os.Stat(out); err != nil {
		t.Fatalf("预检应创建输出目录: %v", err)
	}
}

// 报告的退出码原样返回；写报告失败至少为 1
func TestRunExitCodes(t *testing.T) {
	dir := inTempDir(t)
	stubRun(t, 1, nil)
	resetFlag([]string{"adddosdn", "--status=false", "runs", filepath.Join(dir, "out")})
	if code := run(); code != 1 {
		t.Fatalf("expect 1, got %d", code)
	}
	stubRun(t, 0, errors.New("write report: disk full"))
	resetFlag([]string{"adddosdn", "--status=false", "runs", filepath.Join(dir, "out")})
	if code := run(); code != 1 {
		t.Fatalf("expect 1, got %d", code)
	}

	orig := pipelineRun
	pipelineRun = func(context.Context, pipeline.Components, pipeline.Settings, *diag.Logger) (*contract.Report, error) {
		return nil, errors.New("sanity")
	}
	defer func() { pipelineRun = orig }()
	resetFlag([]string{"adddosdn", "--status=false", "runs", filepath.Join(dir, "out")})
	if code := run(); code != 2 {
		t.Fatalf("expect 2, got %d", code)
	}
}

func TestRunWithConfigFile(t *testing.T) {
	dir := inTempDir(t)
	got := stubRun(t, 0, nil)
	cfg := cfgpkg.DefaultTemplateConfig()
	cfg.Input = "from-file"
	cfg.Output = filepath.Join(dir, "out")
	b, _ := json.Marshal(cfg)
	path := filepath.Join(dir, "cfg.json")
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	resetFlag([]string{"adddosdn", "--status=false", "--config", path})
	if code := run(); code != 0 {
		t.Fatalf("run return %d", code)
	}
	if got.Base != "from-file" {
		t.Fatalf("配置文件未生效: %+v", got)
	}
}

func TestRunDefaultYAMLConfig(t *testing.T) {
	dir := inTempDir(t)
	got := stubRun(t, 0, nil)
	yml := "input: yaml-runs\noutput: " + filepath.ToSlash(filepath.Join(dir, "out")) + "\ncomponents:\n  validator: none\n"
	_ = os.WriteFile("config.yaml", []byte(yml), 0o644)
	resetFlag([]string{"adddosdn", "--status=false"})
	if code := run(); code != 0 {
		t.Fatalf("run return %d", code)
	}
	if got.Base != "yaml-runs" {
		t.Fatalf("默认 YAML 未生效: %+v", got)
	}
}

// ENV 覆盖配置文件，CLI 覆盖 ENV
func TestRunPrecedence(t *testing.T) {
	dir := inTempDir(t)
	got := stubRun(t, 0, nil)
	t.Setenv("ADDDOSDN_CONFIG_JSON", `{"input":"json","output":"`+filepath.ToSlash(filepath.Join(dir, "o1"))+`","concurrency":1}`)
	t.Setenv("ADDDOSDN_INPUT", "env")
	t.Setenv("ADDDOSDN_CONCURRENCY", "2")
	resetFlag([]string{"adddosdn", "--status=false", "--concurrency", "3"})
	if code := run(); code != 0 {
		t.Fatalf("run return %d", code)
	}
	if got.Base != "env" || got.Concurrency != 3 {
		t.Fatalf("优先级错误: %+v", got)
	}
}

func TestRunConfigErrors(t *testing.T) {
	dir := inTempDir(t)
	stubRun(t, 0, nil)
	out := filepath.Join(dir, "out")
	cases := []struct {
		name string
		args []string
		env  map[string]string
	}{
		{"missing file", []string{"--config", "missing.json"}, nil},
		{"no positional", nil, nil},
		{"too many args", []string{"a", "b", "c"}, nil},
		{"bad level", []string{"--log-level", "loud", "runs", out}, nil},
		{"bad kind", []string{"--kinds", "pcap", "runs", out}, nil},
		{"bad env json", []string{"runs", out}, map[string]string{"ADDDOSDN_CONFIG_JSON": `{"x":1}`}},
		{"bad env int", []string{"runs", out}, map[string]string{"ADDDOSDN_CONCURRENCY": "many"}},
		{"unknown option", []string{"runs", out}, map[string]string{"ADDDOSDN_OPTIONS_ENCODER_JSON": `{"unknown":1}`}},
		{"unknown flag", []string{"--nope"}, nil},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			for k, v := range c.env {
				t.Setenv(k, v)
			}
			resetFlag(append([]string{"adddosdn", "--status=false"}, c.args...))
			devnull, _ := os.Open(os.DevNull)
			old := os.Stderr
			os.Stderr = devnull
			code := run()
			os.Stderr = old
			devnull.Close()
			if code != 2 {
				t.Fatalf("expect 2, got %d", code)
			}
		})
	}
}

// 真实流水线：没有任何 run 时退出码为 2，报告仍写出
func TestRunNoRuns(t *testing.T) {
	dir := inTempDir(t)
	base := filepath.Join(dir, "runs")
	out := filepath.Join(dir, "out")
	_ = os.MkdirAll(base, 0o755)
	resetFlag([]string{"adddosdn", "--status=false", base, out})
	if code := run(); code != 2 {
		t.Fatalf("expect 2, got %d", code)
	}
	if _, err := os.Stat(filepath.Join(out, pipeline.ReportFile)); err != nil {
		t.Fatalf("report not written: %v", err)
	}
}

func TestCLIOverlay(t *testing.T) {
	all := map[string]bool{
		"cardinality-cutoff": true, "ratio-cutoff": true, "exclude": true, "row-loss-tolerance": true,
		"flag-only": true, "accuracy-threshold": true, "class-threshold": true,
	}
	over, err := cliOverlay([]string{"b", "o"}, cliFlags{
		cardinality: 12, ratio: 0.1, exclude: "ip_proto, tcp_flags",
		rowLoss: 0.2, flagOnly: true, accuracy: 0.9, class: 0.99, metrics: "m.prom", set: all,
	})
	if err != nil {
		t.Fatalf("cliOverlay: %v", err)
	}
	if over.Input != "b" || over.Output != "o" || over.Metrics.Textfile != "m.prom" {
		t.Fatalf("覆盖错误: %+v", over)
	}
	var enc struct {
		Cutoff  int      `json:"cardinality_cutoff"`
		Ratio   float64  `json:"ratio_cutoff"`
		Exclude []string `json:"exclude"`
	}
	if err := json.Unmarshal(over.Options.Encoder, &enc); err != nil || enc.Cutoff != 12 || enc.Ratio != 0.1 || len(enc.Exclude) != 2 {
		t.Fatalf("encoder 选项错误: %s", over.Options.Encoder)
	}
	if !strings.Contains(string(over.Options.Sanitizer), `"flag_only":true`) {
		t.Fatalf("sanitizer 选项错误: %s", over.Options.Sanitizer)
	}
	if !strings.Contains(string(over.Options.Validator), `"class_threshold":0.99`) {
		t.Fatalf("validator 选项错误: %s", over.Options.Validator)
	}
	// 未设置的调参不产生选项
	empty, _ := cliOverlay(nil, cliFlags{cardinality: 5})
	if len(empty.Options.Encoder) != 0 || len(empty.Options.Validator) != 0 {
		t.Fatalf("不应产生选项: %+v", empty.Options)
	}
}

// 显式给出的零值调参同样写入选项
func TestCLIOverlayExplicitZero(t *testing.T) {
	resetFlag([]string{"adddosdn"})
	fs := flag.CommandLine
	var f cliFlags
	fs.IntVar(&f.cardinality, "cardinality-cutoff", 0, "")
	fs.Float64Var(&f.ratio, "ratio-cutoff", 0, "")
	fs.Float64Var(&f.rowLoss, "row-loss-tolerance", 0, "")
	fs.Float64Var(&f.accuracy, "accuracy-threshold", 0, "")
	if err := fs.Parse([]string{"--row-loss-tolerance", "0", "--ratio-cutoff=0", "--cardinality-cutoff", "0"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	f.set = visited(fs)
	if f.set["accuracy-threshold"] {
		t.Fatalf("未给出的旗标不应被视为已设置")
	}
	over, err := cliOverlay(nil, f)
	if err != nil {
		t.Fatalf("cliOverlay: %v", err)
	}
	var enc map[string]any
	if err := json.Unmarshal(over.Options.Encoder, &enc); err != nil {
		t.Fatalf("encoder 选项: %v", err)
	}
	if v, ok := enc["cardinality_cutoff"]; !ok || v != float64(0) {
		t.Fatalf("cardinality_cutoff=0 应写入: %s", over.Options.Encoder)
	}
	if v, ok := enc["ratio_cutoff"]; !ok || v != float64(0) {
		t.Fatalf("ratio_cutoff=0 应写入: %s", over.Options.Encoder)
	}
	if !strings.Contains(string(over.Options.Sanitizer), `"row_loss_tolerance":0`) {
		t.Fatalf("row_loss_tolerance=0 应写入: %s", over.Options.Sanitizer)
	}
	if len(over.Options.Validator) != 0 {
		t.Fatalf("validator 不应有选项: %s", over.Options.Validator)
	}
	// 零值经组件校验后生效
	cfg := cfgpkg.Merge(cfgpkg.Defaults(), over)
	cfg.Input, cfg.Output = "in", "out"
	if _, _, err := cfgpkg.Assemble(cfg); err != nil {
		t.Fatalf("assemble: %v", err)
	}
}

func TestWriteConfig(t *testing.T) {
	file := filepath.Join(t.TempDir(), "c.json")
	if err := writeConfig(file, cfgpkg.Defaults()); err != nil {
		t.Fatalf("writeConfig file: %v", err)
	}
	if err := writeConfig(file, cfgpkg.Defaults()); err == nil {
		t.Fatalf("不应覆盖已存在文件")
	}
}

func TestLoadDotEnv(t *testing.T) {
	p := filepath.Join(t.TempDir(), ".env")
	content := "# c\nexport ADDDOSDN_TEST_A=\"x y\"\nADDDOSDN_TEST_B='z'\nbad\nADDDOSDN_TEST_KEEP=new\n"
	_ = os.WriteFile(p, []byte(content), 0o644)
	t.Setenv("ADDDOSDN_TEST_KEEP", "old")
	t.Setenv("ADDDOSDN_TEST_A", "")
	os.Unsetenv("ADDDOSDN_TEST_A")
	t.Setenv("ADDDOSDN_TEST_B", "")
	os.Unsetenv("ADDDOSDN_TEST_B")
	if err := loadDotEnv(p); err != nil {
		t.Fatalf("loadDotEnv: %v", err)
	}
	if os.Getenv("ADDDOSDN_TEST_A") != "x y" || os.Getenv("ADDDOSDN_TEST_B") != "z" {
		t.Fatalf("未注入")
	}
	if os.Getenv("ADDDOSDN_TEST_KEEP") != "old" {
		t.Fatalf("不应覆盖已有 ENV")
	}
	if err := loadDotEnv(filepath.Join(t.TempDir(), "missing")); err != nil {
		t.Fatalf("缺失文件应忽略: %v", err)
	}
}

func TestNormalizeInitArg(t *testing.T) {
	cases := []struct {
		in, want []string
	}{
		{[]string{"x", "--init-config"}, []string{"x", "--init-config", "."}},
		{[]string{"x", "--init-config", "--status=false"}, []string{"x", "--init-config", ".", "--status=false"}},
		{[]string{"x", "--init-config", "d"}, []string{"x", "--init-config", "d"}},
	}
	old := os.Args
	defer func() { os.Args = old }()
	for _, c := range cases {
		os.Args = c.in
		normalizeInitArg()
		if strings.Join(os.Args, " ") != strings.Join(c.want, " ") {
			t.Fatalf("got %v want %v", os.Args, c.want)
		}
	}
}

func TestPreflightCheckOutputDir(t *testing.T) {
	dir := t.TempDir()
	if err := preflightCheckOutputDir(filepath.Join(dir, "a", "b")); err != nil {
		t.Fatalf("应创建目录: %v", err)
	}
	file := filepath.Join(dir, "f")
	_ = os.WriteFile(file, nil, 0o644)
	if err := preflightCheckOutputDir(file); err == nil {
		t.Fatalf("文件路径应报错")
	}
}
