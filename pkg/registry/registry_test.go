package registry

import (
	"encoding/json"
	"fmt"
	"testing"
)

// TestStrictUnmarshal 验证严格解码逻辑。
func TestStrictUnmarshal(t *testing.T) {
	type opt struct {
		A int `json:"a"`
	}
	var o opt
	if err := strictUnmarshal(nil, &o); err != nil || o.A != 0 {
		t.Fatalf("nil 输入失败: %v", err)
	}
	if err := strictUnmarshal(json.RawMessage(`null`), &o); err != nil || o.A != 0 {
		t.Fatalf("null 输入失败: %v", err)
	}
	if err := strictUnmarshal(json.RawMessage(`{"a":1}`), &o); err != nil || o.A != 1 {
		t.Fatalf("合法 JSON 解析失败: %v", err)
	}
	if err := strictUnmarshal(json.RawMessage(`{"a":1,"b":2}`), &o); err == nil {
		t.Fatalf("未知字段应报错")
	}
}

// TestFactories 遍历注册表入口：空选项可构造，未知字段报错。
func TestFactories(t *testing.T) {
	type factory func(json.RawMessage) (any, error)
	cases := map[string]factory{
		"store/fs":           func(r json.RawMessage) (any, error) { return Store["fs"](r) },
		"collector/rundir":   func(r json.RawMessage) (any, error) { return Collector["rundir"](r) },
		"resolver/exact":     func(r json.RawMessage) (any, error) { return Resolver["exact"](r) },
		"sanitizer/protocol": func(r json.RawMessage) (any, error) { return Sanitizer["protocol"](r) },
		"encoder/onehot":     func(r json.RawMessage) (any, error) { return Encoder["onehot"](r) },
		"validator/dtree":    func(r json.RawMessage) (any, error) { return Validator["dtree"](r) },
		"validator/none":     func(r json.RawMessage) (any, error) { return Validator["none"](r) },
	}
	for name, f := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := f(json.RawMessage(`{}`)); err != nil {
				t.Fatalf("%s: %v", name, err)
			}
			if _, err := f(nil); err != nil {
				t.Fatalf("%s 默认选项: %v", name, err)
			}
			if _, err := f(json.RawMessage(`{"x":1}`)); err == nil {
				t.Fatalf("%s 未对未知字段报错", name)
			}
		})
	}
}

// TestFactoryOptionErrors 选项校验错误透传。
func TestFactoryOptionErrors(t *testing.T) {
	bad := map[string]func() error{
		"collector": func() error {
			_, err := Collector["rundir"](json.RawMessage(`{"run_pattern":"("}`))
			return err
		},
		"resolver": func() error {
			_, err := Resolver["exact"](json.RawMessage(`{"label_tolerance":2}`))
			return err
		},
		"sanitizer": func() error {
			_, err := Sanitizer["protocol"](json.RawMessage(`{"row_loss_tolerance":-1}`))
			return err
		},
		"encoder": func() error {
			_, err := Encoder["onehot"](json.RawMessage(`{"ratio_cutoff":3}`))
			return err
		},
		"validator": func() error {
			_, err := Validator["dtree"](json.RawMessage(`{"test_ratio":0}`))
			return err
		},
	}
	for name, f := range bad {
		if err := f(); err == nil {
			t.Fatalf("%s 非法选项未报错", name)
		}
	}
	root := t.TempDir()
	if _, err := Store["fs"](json.RawMessage(fmt.Sprintf(`{"root":%q,"buf_size":1024}`, root))); err != nil {
		t.Fatalf("store: %v", err)
	}
}
