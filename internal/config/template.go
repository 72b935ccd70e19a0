package config

import "encoding/json"

// DefaultTemplateConfig 返回一个“可运行”的默认配置模板：
// - input/output 为当前目录下的 runs 与 out；
// - 组件名采用仓库内置实现；
// - 选项给出全部键及其默认值，便于按需修改。
func DefaultTemplateConfig() Config {
	d := Defaults()
	cfg := Config{
		Input:       "runs",
		Output:      "out",
		Concurrency: d.Concurrency,
		Kinds:       []string{"packet", "flow", "biflow"},
		Logging:     d.Logging,
		Metrics:     Metrics{Textfile: ""},
		Components:  d.Components,
	}
	cfg.Options.Store = json.RawMessage(`{
  "root": "",
  "atomic": true,
  "buf_size": 65536
}`)
	cfg.Options.Collector = json.RawMessage(`{
  "run_pattern": "^\\d{6}-\\d+$",
  "files": {
    "packet": "packet_features.csv",
    "flow": "ryu_flow_features.csv",
    "biflow": "cicflow_features_all.csv"
  },
  "buf_size": 65536,
  "exclude_dir_names": [".git"]
}`)
	cfg.Options.Resolver = json.RawMessage(`{
  "label_tolerance": 0.01,
  "label_column": "Label_multi"
}`)
	cfg.Options.Sanitizer = json.RawMessage(`{
  "row_loss_tolerance": 0.05,
  "protocol_tolerance": 0.05,
  "flag_only": false
}`)
	cfg.Options.Encoder = json.RawMessage(`{
  "cardinality_cutoff": 20,
  "ratio_cutoff": 0.05,
  "max_group_width": 0,
  "exclude": []
}`)
	cfg.Options.Validator = json.RawMessage(`{
  "label": "Label_multi",
  "test_ratio": 0.3,
  "max_depth": 4,
  "min_samples_leaf": 1,
  "accuracy_threshold": 0.95,
  "class_threshold": 0.98,
  "top_features": 10,
  "max_rows": 50000,
  "seed": 42
}`)
	return cfg
}
