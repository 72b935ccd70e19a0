package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	cfgpkg "github.com/nqmn/adddosdn-sub001/internal/config"
	"github.com/nqmn/adddosdn-sub001/internal/diag"
	"github.com/nqmn/adddosdn-sub001/internal/pipeline"
)

var pipelineRun = pipeline.Run

const usageText = `用法: adddosdn [flags] <base-dir> <output-dir>

合并 <base-dir> 下各 run 子目录的 packet/flow/biflow 特征表，依次完成
去重、缺失列裁剪、协议感知缺失处理、独热编码与泄漏校验，结果写入 <output-dir>。

注意：不支持多个进程同时处理同一输出目录。

退出码：0 全部成功；1 完成但有诊断或部分表失败；2 无法完成（全部失败或用法/配置错误）。

flags:
`

// 位置参数依次为 base-dir 与 output-dir（均可由配置提供）。
func main() {
	os.Exit(run())
}

func run() int {
	start := time.Now()
	corrID := diag.NewCorrID()
	// 在任何 ENV 读取前，尝试加载工作目录下的 .env（不覆盖已有 ENV）。
	_ = loadDotEnv(".env")
	// 先以 stderr 占位，解析配置后按最终 level/dir 重建
	logger := diag.NewStderrLogger(corrID, "info")

	var (
		flagConfig      string
		flagInitDir     string
		flagConcurrency int
		flagLogLevel    string
		flagKinds       string
		flagCardinality int
		flagRatio       float64
		flagRowLoss     float64
		flagAccuracy    float64
		flagClass       float64
		flagFlagOnly    bool
		flagExclude     string
		flagMetrics     string
		flagStatus      bool
	)
	flag.StringVar(&flagConfig, "config", "", "配置文件路径（JSON 或 YAML）；缺省读取 ./config.json|yaml（若存在）")
	flag.StringVar(&flagInitDir, "init-config", "", "在指定目录生成默认配置 config.json 和 .env 模板（已存在则跳过，不覆盖）；不带值时默认当前目录")
	flag.IntVar(&flagConcurrency, "concurrency", 0, "并发处理的表类型数（覆盖配置）")
	flag.StringVar(&flagLogLevel, "log-level", "", "日志等级 debug|info|warn|error（覆盖配置）")
	flag.StringVar(&flagKinds, "kinds", "", "仅处理这些表类型，逗号分隔（packet,flow,biflow）")
	flag.IntVar(&flagCardinality, "cardinality-cutoff", 0, "独热编码的唯一值数上限（覆盖配置）")
	flag.Float64Var(&flagRatio, "ratio-cutoff", 0, "独热编码的唯一值/行数比例上限（覆盖配置）")
	flag.Float64Var(&flagRowLoss, "row-loss-tolerance", 0, "结构列删行比例的告警阈值（覆盖配置）")
	flag.Float64Var(&flagAccuracy, "accuracy-threshold", 0, "泄漏判定的总准确率阈值（覆盖配置）")
	flag.Float64Var(&flagClass, "class-threshold", 0, "泄漏判定的单类 F1 阈值（覆盖配置）")
	flag.BoolVar(&flagFlagOnly, "flag-only", false, "结构列缺失仅告警，不删除行")
	flag.StringVar(&flagExclude, "exclude", "", "从编码结果中移除的列，逗号分隔（可直接使用泄漏校验给出的 exclude）")
	flag.StringVar(&flagMetrics, "metrics-file", "", "结束后写出 Prometheus textfile 指标")
	flag.BoolVar(&flagStatus, "status", true, "终端状态提示（stderr）。TTY 动态刷新；非 TTY 逐行输出")
	flag.Usage = func() {
		out := flag.CommandLine.Output()
		_, _ = fmt.Fprint(out, usageText)
		flag.PrintDefaults()
	}
	normalizeInitArg()
	if err := flag.CommandLine.Parse(os.Args[1:]); err != nil {
		return 2
	}

	// --init-config: 生成模板并退出
	if initDir := strings.TrimSpace(flagInitDir); initDir != "" {
		if err := os.MkdirAll(initDir, 0o755); err != nil {
			fprintf(os.Stderr, "生成默认配置失败: %v\n", err)
			logger.Error("config", string(diag.Classify(err)), "init config failed", &start)
			return 2
		}
		if err := writeConfig(filepath.Join(initDir, "config.json"), cfgpkg.DefaultTemplateConfig()); err != nil {
			fprintf(os.Stderr, "生成默认配置失败: %v\n", err)
			logger.Error("config", string(diag.Classify(err)), "init config failed", &start)
			return 2
		}
		if err := writeDotEnv(filepath.Join(initDir, ".env")); err != nil {
			fprintf(os.Stderr, "提示：.env 生成失败（已跳过）：%v\n", err)
		}
		return 0
	}

	args := flag.Args()
	if len(args) > 2 {
		fprintf(os.Stderr, "参数过多: %v\n", args)
		flag.Usage()
		return 2
	}

	// 配置文件 → ADDDOSDN_CONFIG_JSON → ENV → CLI
	cfg := cfgpkg.Defaults()
	if path := cfgpkg.Locate(flagConfig, os.Getenv); path != "" {
		base, err := cfgpkg.LoadFile(path)
		if err != nil {
			fprintf(os.Stderr, "配置解析失败: %v\n", err)
			logger.Error("config", string(diag.Classify(err)), "load config failed", &start)
			return 2
		}
		cfg = cfgpkg.Merge(cfg, base)
	}
	if s := os.Getenv(cfgpkg.EnvPrefix + "CONFIG_JSON"); strings.TrimSpace(s) != "" {
		raw, err := cfgpkg.LoadJSON("", []byte(s))
		if err != nil {
			fprintf(os.Stderr, "配置解析失败（%sCONFIG_JSON）: %v\n", cfgpkg.EnvPrefix, err)
			logger.Error("config", string(diag.Classify(err)), "load config failed", &start)
			return 2
		}
		cfg = cfgpkg.Merge(cfg, raw)
	}
	overEnv, err := cfgpkg.EnvOverlay(os.Environ())
	if err != nil {
		fprintf(os.Stderr, "环境变量解析失败: %v\n", err)
		logger.Error("config", string(diag.Classify(err)), "env overlay failed", &start)
		return 2
	}
	cfg = cfgpkg.Merge(cfg, overEnv)

	overCLI, err := cliOverlay(args, cliFlags{
		concurrency: flagConcurrency,
		logLevel:    flagLogLevel,
		kinds:       flagKinds,
		cardinality: flagCardinality,
		ratio:       flagRatio,
		rowLoss:     flagRowLoss,
		accuracy:    flagAccuracy,
		class:       flagClass,
		flagOnly:    flagFlagOnly,
		exclude:     flagExclude,
		metrics:     flagMetrics,
		set:         visited(flag.CommandLine),
	})
	if err != nil {
		fprintf(os.Stderr, "参数解析失败: %v\n", err)
		return 2
	}
	cfg = cfgpkg.Merge(cfg, overCLI)

	if err := cfgpkg.Validate(cfg); err != nil {
		fprintf(os.Stderr, "配置校验失败: %v\n", err)
		// 提示打印有效配置，便于诊断
		_ = dumpConfig(cfg)
		flag.Usage()
		logger.Error("config", string(diag.Classify(err)), "validate config failed", &start)
		return 2
	}

	// 使用最终配置中的日志级别与目录重建 logger
	logger = diag.NewLogger(corrID, cfg.Logging.Level, cfg.Logging.Dir)
	defer logger.Close()

	if err := preflightCheckOutputDir(cfg.Output); err != nil {
		fprintf(os.Stderr, "输出目录不可写或无法创建: %v\n", err)
		logger.Error("config", string(diag.Classify(err)), "preflight failed", &start)
		return 2
	}

	comp, set, err := cfgpkg.Assemble(cfg)
	if err != nil {
		fprintf(os.Stderr, "装配失败: %v\n", err)
		logger.Error("config", string(diag.Classify(err)), "assemble failed", &start)
		return 2
	}
	set.Terminal = diag.NewTerminal(os.Stderr, flagStatus)

	logger.Debug("config", "effective", "", map[string]string{
		"input":       cfg.Input,
		"output":      cfg.Output,
		"concurrency": fmt.Sprint(cfg.Concurrency),
		"kinds":       strings.Join(cfg.Kinds, ","),
		"store":       cfg.Components.Store,
		"collector":   cfg.Components.Collector,
		"resolver":    cfg.Components.Resolver,
		"sanitizer":   cfg.Components.Sanitizer,
		"encoder":     cfg.Components.Encoder,
		"validator":   cfg.Components.Validator,
	})

	ctx, stop := signal.NotifyContext(context.Background(), shutdownSignals...)
	defer stop()
	rep, err := pipelineRun(ctx, comp, set, logger)
	if rep == nil {
		fprintf(os.Stderr, "运行失败: %v\n", err)
		logger.Error("pipeline", string(diag.Classify(err)), "run failed", &start)
		return 2
	}
	code := rep.ExitCode
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			fprintf(os.Stderr, "运行失败: %v\n", err)
		}
		if code < 1 {
			code = 1
		}
	}
	for _, t := range rep.Tables {
		if t.Failed() {
			fprintf(os.Stderr, "%s: %s\n", t.Kind, t.Error)
		}
	}
	return code
}

// cliFlags: 需要转入配置覆盖的 CLI 旗标（零值表示未设置）。
type cliFlags struct {
	concurrency int
	logLevel    string
	kinds       string
	cardinality int
	ratio       float64
	rowLoss     float64
	accuracy    float64
	class       float64
	flagOnly    bool
	exclude     string
	metrics     string
	// set: 命令行中显式给出的旗标名；调参旗标的零值也是合法取值。
	set map[string]bool
}

// visited 返回已解析 FlagSet 中显式设置过的旗标名。
func visited(fs *flag.FlagSet) map[string]bool {
	out := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { out[f.Name] = true })
	return out
}

// cliOverlay 将位置参数与调参旗标转为 Config 覆盖；调参写入对应组件 Options 的单个键。
func cliOverlay(args []string, f cliFlags) (cfgpkg.Config, error) {
	var over cfgpkg.Config
	if len(args) > 0 {
		over.Input = args[0]
	}
	if len(args) > 1 {
		over.Output = args[1]
	}
	if f.concurrency > 0 {
		over.Concurrency = f.concurrency
	}
	over.Logging.Level = strings.TrimSpace(f.logLevel)
	over.Metrics.Textfile = strings.TrimSpace(f.metrics)
	if s := strings.TrimSpace(f.kinds); s != "" {
		over.Kinds = splitComma(s)
	}

	var err error
	set := func(dst *json.RawMessage, key string, v any) {
		if err != nil {
			return
		}
		*dst, err = cfgpkg.SetOption(*dst, key, v)
	}
	if f.set["cardinality-cutoff"] {
		set(&over.Options.Encoder, "cardinality_cutoff", f.cardinality)
	}
	if f.set["ratio-cutoff"] {
		set(&over.Options.Encoder, "ratio_cutoff", f.ratio)
	}
	if f.set["exclude"] {
		set(&over.Options.Encoder, "exclude", append([]string{}, splitComma(f.exclude)...))
	}
	if f.set["row-loss-tolerance"] {
		set(&over.Options.Sanitizer, "row_loss_tolerance", f.rowLoss)
	}
	if f.set["flag-only"] {
		set(&over.Options.Sanitizer, "flag_only", f.flagOnly)
	}
	if f.set["accuracy-threshold"] {
		set(&over.Options.Validator, "accuracy_threshold", f.accuracy)
	}
	if f.set["class-threshold"] {
		set(&over.Options.Validator, "class_threshold", f.class)
	}
	return over, err
}

func fprintf(w *os.File, format string, a ...any) { _, _ = fmt.Fprintf(w, format, a...) }

func dumpConfig(c cfgpkg.Config) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	_, _ = os.Stderr.Write(append([]byte("有效配置:\n"), b...))
	_, _ = os.Stderr.Write([]byte("\n"))
	return nil
}

func writeConfig(path string, c cfgpkg.Config) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	if path == "-" {
		_, err = os.Stdout.Write(append(b, '\n'))
		return err
	}
	// 不覆盖已存在文件
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(b, '\n'))
	return err
}

func splitComma(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// loadDotEnv 读取简单的 .env 文件格式并注入进程环境。
// 规则：
// - 忽略不存在的文件；跳过空行与以 # 开头的行；支持可选的前缀 "export "。
// - 仅按首个 '=' 分割；成对的单/双引号被去除。
// - 不覆盖已存在的环境变量（保持系统/调用者优先）。
func loadDotEnv(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		eq := strings.IndexByte(line, '=')
		if eq <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		if len(val) >= 2 {
			if (val[0] == '\'' && val[len(val)-1] == '\'') || (val[0] == '"' && val[len(val)-1] == '"') {
				val = val[1 : len(val)-1]
			}
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		_ = os.Setenv(key, val)
	}
	return s.Err()
}

// normalizeInitArg: 允许 --init-config 在未提供路径值时采用当前目录 "."。
//
//	--init-config                => 等价于 --init-config .
//	--init-config=out
//	--init-config out
func normalizeInitArg() {
	args := os.Args
	if len(args) <= 1 {
		return
	}
	out := make([]string, 0, len(args)+1)
	out = append(out, args[0])
	for i := 1; i < len(args); i++ {
		a := args[i]
		out = append(out, a)
		if a == "--init-config" || a == "-init-config" {
			if i == len(args)-1 || strings.HasPrefix(args[i+1], "-") {
				out = append(out, ".")
			}
		}
	}
	os.Args = out
}

// writeDotEnv 生成 .env 模板（若文件已存在则跳过）。
func writeDotEnv(path string) error {
	var b strings.Builder
	b.WriteString("# adddosdn .env 模板（由 --init-config 生成）\n")
	b.WriteString("# 优先级：CLI > ENV(.env) > CONFIG_JSON > 配置文件\n")
	b.WriteString("# 空值表示未设置。\n\n")
	b.WriteString("# 配置来源\n")
	for _, k := range []string{"CONFIG_FILE", "CONFIG_JSON"} {
		b.WriteString(cfgpkg.EnvPrefix + k + "=\n")
	}
	b.WriteString("\n# 运行参数覆盖\n")
	for _, k := range []string{"INPUT", "OUTPUT", "CONCURRENCY", "KINDS", "LOG_LEVEL", "LOG_DIR", "METRICS_TEXTFILE"} {
		b.WriteString(cfgpkg.EnvPrefix + k + "=\n")
	}
	b.WriteString("\n# 组件选择与选项（OPTIONS_*_JSON 为原样 JSON，按键浅合并）\n")
	for _, c := range []string{"STORE", "COLLECTOR", "RESOLVER", "SANITIZER", "ENCODER", "VALIDATOR"} {
		b.WriteString(cfgpkg.EnvPrefix + "COMPONENTS_" + c + "=\n")
		b.WriteString(cfgpkg.EnvPrefix + "OPTIONS_" + c + "_JSON=\n")
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	_, err = f.WriteString(b.String())
	return err
}

// preflightCheckOutputDir: 启动前检查输出目录可写性（不存在时创建）。
func preflightCheckOutputDir(dir string) error {
	dir = strings.TrimSpace(dir)
	if st, err := os.Stat(dir); err == nil && !st.IsDir() {
		return fmt.Errorf("路径存在但不是目录: %s", dir)
	} else if err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".wcheck-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}
