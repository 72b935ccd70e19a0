package stress

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"
	"testing"
	"time"

	cfgpkg "github.com/nqmn/adddosdn-sub001/internal/config"
	"github.com/nqmn/adddosdn-sub001/internal/diag"
	"github.com/nqmn/adddosdn-sub001/internal/pipeline"
	"github.com/nqmn/adddosdn-sub001/internal/synth"
)

// baseConfig 构造可运行的最小配置。
func baseConfig(input, outDir string) cfgpkg.Config {
	cfg := cfgpkg.DefaultTemplateConfig()
	cfg.Input = input
	cfg.Output = outDir
	cfg.Logging.Level = "error"
	return cfg
}

// runPipeline 执行完整流水线并返回退出码。
func runPipeline(t *testing.T, cfg cfgpkg.Config) (int, error) {
	comp, set, err := cfgpkg.Assemble(cfg)
	if err != nil {
		return 2, err
	}
	logger := diag.NewLogger("", cfg.Logging.Level, t.TempDir())
	defer logger.Close()
	rep, err := pipeline.Run(context.Background(), comp, set, logger)
	if rep == nil {
		return 2, err
	}
	return rep.ExitCode, err
}

// TestStress 在不同并发度下对三类大表运行流水线并记录延迟统计。
// 设置 ADDDOSDN_STRESS_ROWS 可调整每个 run 的行数。
func TestStress(t *testing.T) {
	if testing.Short() {
		t.Skip("short 模式跳过压力测试")
	}
	rows := 20000
	if s := os.Getenv("ADDDOSDN_STRESS_ROWS"); s != "" {
		if _, err := fmt.Sscanf(s, "%d", &rows); err != nil {
			t.Fatalf("ADDDOSDN_STRESS_ROWS: %v", err)
		}
	}
	base := t.TempDir()
	runs := []synth.Run{{Name: "010125-1", Rows: rows}, {Name: "010125-2", Rows: rows}, {Name: "010125-3", Rows: rows}}
	if err := synth.Write(base, runs); err != nil {
		t.Fatalf("synth: %v", err)
	}
	for _, conc := range []int{1, 3} {
		t.Run(fmt.Sprintf("concurrency_%d", conc), func(t *testing.T) {
			const attempts = 3
			successes := 0
			latencies := make([]time.Duration, 0, attempts)
			for i := 0; i < attempts; i++ {
				cfg := baseConfig(base, t.TempDir())
				cfg.Concurrency = conc
				start := time.Now()
				code, err := runPipeline(t, cfg)
				dur := time.Since(start)
				if err != nil {
					t.Errorf("run %d: %v", i, err)
					continue
				}
				// 合成数据的标签由协议决定，泄漏诊断使退出码为 1
				if code != 1 {
					t.Errorf("run %d: exit code %d", i, code)
					continue
				}
				successes++
				latencies = append(latencies, dur)
			}
			if successes == 0 {
				t.Fatalf("全部运行失败")
			}
			sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
			var total time.Duration
			for _, d := range latencies {
				total += d
			}
			avg := total / time.Duration(len(latencies))
			idx := int(math.Ceil(float64(len(latencies))*0.95)) - 1
			if idx < 0 {
				idx = 0
			}
			t.Logf("并发%d 行数%d×3 成功率%.2f 平均%v 95%%延迟%v", conc, rows, float64(successes)/float64(attempts), avg, latencies[idx])
		})
	}
}
