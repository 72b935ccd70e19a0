package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nqmn/adddosdn-sub001/internal/diag"
	"github.com/nqmn/adddosdn-sub001/internal/pipeline"
	"github.com/nqmn/adddosdn-sub001/pkg/contract"
	"github.com/nqmn/adddosdn-sub001/pkg/registry"
)

// Validate 对最小必要边界做静态校验。
func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Input) == "" {
		return errors.New("config: input directory not set")
	}
	if strings.TrimSpace(cfg.Output) == "" {
		return errors.New("config: output directory not set")
	}
	if cfg.Concurrency < 1 {
		return errors.New("config: concurrency must be >= 1")
	}
	if lv := strings.TrimSpace(cfg.Logging.Level); lv != "" && !diag.ValidLevel(lv) {
		return fmt.Errorf("config: unknown log level %q", lv)
	}
	if _, err := parseKinds(cfg.Kinds); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	d := Defaults().Components
	if name := effName(cfg.Components.Store, d.Store); registry.Store[name] == nil {
		return fmt.Errorf("config: store %q not registered", name)
	}
	if name := effName(cfg.Components.Collector, d.Collector); registry.Collector[name] == nil {
		return fmt.Errorf("config: collector %q not registered", name)
	}
	if name := effName(cfg.Components.Resolver, d.Resolver); registry.Resolver[name] == nil {
		return fmt.Errorf("config: resolver %q not registered", name)
	}
	if name := effName(cfg.Components.Sanitizer, d.Sanitizer); registry.Sanitizer[name] == nil {
		return fmt.Errorf("config: sanitizer %q not registered", name)
	}
	if name := effName(cfg.Components.Encoder, d.Encoder); registry.Encoder[name] == nil {
		return fmt.Errorf("config: encoder %q not registered", name)
	}
	if name := effName(cfg.Components.Validator, d.Validator); registry.Validator[name] == nil {
		return fmt.Errorf("config: validator %q not registered", name)
	}
	return nil
}

// Assemble 构造 Components 与 Settings。
// 严格 Options 解析在 registry （工厂）层进行；此处只传 raw JSON。
func Assemble(cfg Config) (pipeline.Components, pipeline.Settings, error) {
	if err := Validate(cfg); err != nil {
		return pipeline.Components{}, pipeline.Settings{}, err
	}
	d := Defaults().Components
	var comp pipeline.Components
	var err error
	wrap := func(kind, name string, err error) error {
		return fmt.Errorf("config: %s %q options: %w", kind, name, err)
	}

	name := effName(cfg.Components.Store, d.Store)
	if comp.Store, err = registry.Store[name](cfg.Options.Store); err != nil {
		return pipeline.Components{}, pipeline.Settings{}, wrap("store", name, err)
	}
	name = effName(cfg.Components.Collector, d.Collector)
	if comp.Collector, err = registry.Collector[name](cfg.Options.Collector); err != nil {
		return pipeline.Components{}, pipeline.Settings{}, wrap("collector", name, err)
	}
	name = effName(cfg.Components.Resolver, d.Resolver)
	if comp.Resolver, err = registry.Resolver[name](cfg.Options.Resolver); err != nil {
		return pipeline.Components{}, pipeline.Settings{}, wrap("resolver", name, err)
	}
	name = effName(cfg.Components.Sanitizer, d.Sanitizer)
	if comp.Sanitizer, err = registry.Sanitizer[name](cfg.Options.Sanitizer); err != nil {
		return pipeline.Components{}, pipeline.Settings{}, wrap("sanitizer", name, err)
	}
	name = effName(cfg.Components.Encoder, d.Encoder)
	if comp.Encoder, err = registry.Encoder[name](cfg.Options.Encoder); err != nil {
		return pipeline.Components{}, pipeline.Settings{}, wrap("encoder", name, err)
	}
	name = effName(cfg.Components.Validator, d.Validator)
	if comp.Validator, err = registry.Validator[name](cfg.Options.Validator); err != nil {
		return pipeline.Components{}, pipeline.Settings{}, wrap("validator", name, err)
	}

	kinds, _ := parseKinds(cfg.Kinds)
	set := pipeline.Settings{
		Base:        strings.TrimSpace(cfg.Input),
		Output:      strings.TrimSpace(cfg.Output),
		Kinds:       kinds,
		Concurrency: cfg.Concurrency,
		MetricsFile: strings.TrimSpace(cfg.Metrics.Textfile),
	}
	return comp, set, nil
}

// parseKinds 解析并去重表类型；空输入返回 nil（表示全部）。
func parseKinds(in []string) ([]contract.Kind, error) {
	if len(in) == 0 {
		return nil, nil
	}
	seen := make(map[contract.Kind]bool, len(in))
	out := make([]contract.Kind, 0, len(in))
	for _, s := range in {
		k, err := contract.ParseKind(s)
		if err != nil {
			return nil, err
		}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out, nil
}

func effName(got, def string) string {
	if got == "" {
		return def
	}
	return got
}
