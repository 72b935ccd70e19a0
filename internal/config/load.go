package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nqmn/adddosdn-sub001/internal/diag"
)

// EnvPrefix: 环境变量覆盖前缀。
const EnvPrefix = "ADDDOSDN_"

// DefaultFiles: 未显式指定配置文件时在工作目录依次查找。
var DefaultFiles = []string{"config.json", "config.yaml", "config.yml"}

// Defaults 返回带有安全默认值的 Config 雏形。
// 注意：Input/Output 不设默认（必须由 JSON/ENV/CLI 提供）。
func Defaults() Config {
	return Config{
		Concurrency: 3,
		Logging:     Logging{Level: "info", Dir: diag.DefaultLogDir},
		Components: Components{
			Store:     "fs",
			Collector: "rundir",
			Resolver:  "exact",
			Sanitizer: "protocol",
			Encoder:   "onehot",
			Validator: "dtree",
		},
	}
}

// LoadJSON 从文件路径或原始 JSON 解析 Config（严格拒绝未知字段）。
func LoadJSON(path string, raw []byte) (Config, error) {
	var cfg Config
	var r io.Reader
	switch {
	case len(raw) > 0:
		r = bytes.NewReader(raw)
	case path != "":
		f, err := os.Open(path)
		if err != nil {
			return cfg, err
		}
		defer f.Close()
		r = f
	default:
		return cfg, errors.New("no config source provided")
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadFile 按扩展名解析配置文件：.yaml/.yml 走 YAML，其余按 JSON。
func LoadFile(path string) (Config, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		raw, err := YAMLToJSON(b)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", path, err)
		}
		return LoadJSON("", raw)
	default:
		return LoadJSON(path, nil)
	}
}

// YAMLToJSON 将 YAML 文档规整为 JSON（映射键一律转为字符串）。
func YAMLToJSON(b []byte) ([]byte, error) {
	var v any
	if err := yaml.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	if v == nil {
		return []byte("{}"), nil
	}
	n, err := normalize(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(n)
}

func normalize(v any) (any, error) {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			n, err := normalize(e)
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			n, err := normalize(e)
			if err != nil {
				return nil, err
			}
			out[fmt.Sprint(k)] = n
		}
		return out, nil
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			n, err := normalize(e)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	default:
		return v, nil
	}
}

// Locate 返回应加载的配置文件：显式路径 > ADDDOSDN_CONFIG_FILE > 工作目录默认文件。
// 均不存在时返回空串。
func Locate(explicit string, getenv func(string) string) string {
	if explicit != "" {
		return explicit
	}
	if getenv != nil {
		if s := strings.TrimSpace(getenv(EnvPrefix + "CONFIG_FILE")); s != "" {
			return s
		}
	}
	for _, f := range DefaultFiles {
		if st, err := os.Stat(f); err == nil && !st.IsDir() {
			return f
		}
	}
	return ""
}

// Merge 按优先级合并（后者覆盖前者）。
// 标量/字符串为“替换”；Options 为对象时按顶层键浅合并，使单个 CLI 调参不清空其余键。
func Merge(base, over Config) Config {
	out := base
	out.Kinds = cloneStrings(base.Kinds)
	if s := strings.TrimSpace(over.Input); s != "" {
		out.Input = s
	}
	if s := strings.TrimSpace(over.Output); s != "" {
		out.Output = s
	}
	if over.Concurrency != 0 {
		out.Concurrency = over.Concurrency
	}
	if len(over.Kinds) > 0 {
		out.Kinds = cloneStrings(over.Kinds)
	}
	if s := strings.TrimSpace(over.Logging.Level); s != "" {
		out.Logging.Level = s
	}
	if s := strings.TrimSpace(over.Logging.Dir); s != "" {
		out.Logging.Dir = s
	}
	if s := strings.TrimSpace(over.Metrics.Textfile); s != "" {
		out.Metrics.Textfile = s
	}

	// 组件名（空不覆盖）
	pick := func(dst *string, v string) {
		if s := strings.TrimSpace(v); s != "" {
			*dst = s
		}
	}
	pick(&out.Components.Store, over.Components.Store)
	pick(&out.Components.Collector, over.Components.Collector)
	pick(&out.Components.Resolver, over.Components.Resolver)
	pick(&out.Components.Sanitizer, over.Components.Sanitizer)
	pick(&out.Components.Encoder, over.Components.Encoder)
	pick(&out.Components.Validator, over.Components.Validator)

	out.Options.Store = mergeRaw(base.Options.Store, over.Options.Store)
	out.Options.Collector = mergeRaw(base.Options.Collector, over.Options.Collector)
	out.Options.Resolver = mergeRaw(base.Options.Resolver, over.Options.Resolver)
	out.Options.Sanitizer = mergeRaw(base.Options.Sanitizer, over.Options.Sanitizer)
	out.Options.Encoder = mergeRaw(base.Options.Encoder, over.Options.Encoder)
	out.Options.Validator = mergeRaw(base.Options.Validator, over.Options.Validator)
	return out
}

// mergeRaw: 两侧均为 JSON 对象时按键浅合并；否则 over 非空即替换。
func mergeRaw(base, over json.RawMessage) json.RawMessage {
	if len(bytes.TrimSpace(over)) == 0 {
		return cloneRaw(base)
	}
	if len(bytes.TrimSpace(base)) == 0 {
		return cloneRaw(over)
	}
	var b, o map[string]json.RawMessage
	if json.Unmarshal(base, &b) != nil || json.Unmarshal(over, &o) != nil || b == nil || o == nil {
		return cloneRaw(over)
	}
	for k, v := range o {
		b[k] = v
	}
	out, err := json.Marshal(b)
	if err != nil {
		return cloneRaw(over)
	}
	return out
}

// SetOption 在原样 JSON 对象上设置单个键（raw 为空时新建对象）。
func SetOption(raw json.RawMessage, key string, v any) (json.RawMessage, error) {
	m := map[string]json.RawMessage{}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("option %s: %w", key, err)
		}
		if m == nil {
			m = map[string]json.RawMessage{}
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("option %s: %w", key, err)
	}
	m[key] = b
	return json.Marshal(m)
}

// EnvOverlay 从环境变量构建一个 Config 覆盖（仅解析有限键集合）。
// 规则：前缀 ADDDOSDN_；集合之外的键忽略；数值键格式错误时报错。
// 支持：INPUT, OUTPUT, CONCURRENCY, KINDS, LOG_LEVEL, LOG_DIR, METRICS_TEXTFILE,
// COMPONENTS_<NAME> 以及 OPTIONS_<NAME>_JSON（原样 JSON）。
func EnvOverlay(environ []string) (Config, error) {
	var over Config
	for _, kv := range environ {
		if !strings.HasPrefix(kv, EnvPrefix) {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq <= len(EnvPrefix) {
			continue
		}
		key := strings.TrimPrefix(kv[:eq], EnvPrefix)
		val := strings.TrimSpace(kv[eq+1:])
		if val == "" {
			continue
		}
		switch key {
		case "INPUT":
			over.Input = val
		case "OUTPUT":
			over.Output = val
		case "CONCURRENCY":
			v, err := strconv.Atoi(val)
			if err != nil {
				return over, fmt.Errorf("%sCONCURRENCY: %w", EnvPrefix, err)
			}
			over.Concurrency = v
		case "KINDS":
			over.Kinds = splitComma(val)
		case "LOG_LEVEL":
			over.Logging.Level = val
		case "LOG_DIR":
			over.Logging.Dir = val
		case "METRICS_TEXTFILE":
			over.Metrics.Textfile = val
		case "COMPONENTS_STORE":
			over.Components.Store = val
		case "COMPONENTS_COLLECTOR":
			over.Components.Collector = val
		case "COMPONENTS_RESOLVER":
			over.Components.Resolver = val
		case "COMPONENTS_SANITIZER":
			over.Components.Sanitizer = val
		case "COMPONENTS_ENCODER":
			over.Components.Encoder = val
		case "COMPONENTS_VALIDATOR":
			over.Components.Validator = val
		case "OPTIONS_STORE_JSON":
			over.Options.Store = json.RawMessage(val)
		case "OPTIONS_COLLECTOR_JSON":
			over.Options.Collector = json.RawMessage(val)
		case "OPTIONS_RESOLVER_JSON":
			over.Options.Resolver = json.RawMessage(val)
		case "OPTIONS_SANITIZER_JSON":
			over.Options.Sanitizer = json.RawMessage(val)
		case "OPTIONS_ENCODER_JSON":
			over.Options.Encoder = json.RawMessage(val)
		case "OPTIONS_VALIDATOR_JSON":
			over.Options.Validator = json.RawMessage(val)
		}
	}
	return over, nil
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneRaw(in json.RawMessage) json.RawMessage {
	if len(in) == 0 {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}

func splitComma(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
