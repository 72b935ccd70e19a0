package config

import (
	"encoding/json"
)

// Config: 运行期只读配置（一次解析，运行期不变）。
// JSON 使用 snake_case；未知字段在解析期失败。YAML 先规整为 JSON 再按同一规则解析。
type Config struct {
	// Input: run 子目录所在的根目录；Output: 数据集、备份与报告的输出目录。
	Input       string `json:"input"`
	Output      string `json:"output"`
	Concurrency int    `json:"concurrency"`
	// Kinds: 处理的表类型（packet/flow/biflow）；为空表示全部。
	Kinds   []string `json:"kinds,omitempty"`
	Logging Logging  `json:"logging"`
	Metrics Metrics  `json:"metrics"`

	// 组件名选择（空则使用默认名）。
	Components Components `json:"components"`

	// 各组件 Options 子树，原样 JSON 传入工厂。
	Options Options `json:"options"`
}

// Logging: 日志等级与日志目录（轮转策略为固定默认）。
type Logging struct {
	Level string `json:"level"`
	Dir   string `json:"dir"`
}

// Metrics: Prometheus textfile 输出路径；空表示不输出。
type Metrics struct {
	Textfile string `json:"textfile"`
}

// Components: 组件名选择（注册表中的实现名）。
type Components struct {
	Store     string `json:"store"`
	Collector string `json:"collector"`
	Resolver  string `json:"resolver"`
	Sanitizer string `json:"sanitizer"`
	Encoder   string `json:"encoder"`
	Validator string `json:"validator"`
}

// Options: 各组件的原样 JSON Options。
type Options struct {
	Store     json.RawMessage `json:"store,omitempty"`
	Collector json.RawMessage `json:"collector,omitempty"`
	Resolver  json.RawMessage `json:"resolver,omitempty"`
	Sanitizer json.RawMessage `json:"sanitizer,omitempty"`
	Encoder   json.RawMessage `json:"encoder,omitempty"`
	Validator json.RawMessage `json:"validator,omitempty"`
}
