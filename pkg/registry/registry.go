package registry

import (
	"bytes"
	"encoding/json"

	"github.com/nqmn/adddosdn-sub001/pkg/contract"
	rundir "github.com/nqmn/adddosdn-sub001/plugins/collector/rundir"
	onehot "github.com/nqmn/adddosdn-sub001/plugins/encoder/onehot"
	exact "github.com/nqmn/adddosdn-sub001/plugins/resolver/exact"
	protocol "github.com/nqmn/adddosdn-sub001/plugins/sanitizer/protocol"
	sfs "github.com/nqmn/adddosdn-sub001/plugins/store/filesystem"
	dtree "github.com/nqmn/adddosdn-sub001/plugins/validator/dtree"
)

// strictUnmarshal: 使用 DisallowUnknownFields 严格解码，拒绝未知字段。
func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(bytes.TrimSpace(raw)) == "null" {
		// 保持零值（默认选项）
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// NewStore 工厂签名：接收原样 JSON Options。
type NewStore func(raw json.RawMessage) (contract.Store, error)

// NewCollector 工厂签名：接收原样 JSON Options。
type NewCollector func(raw json.RawMessage) (contract.Collector, error)

// NewResolver 工厂签名：接收原样 JSON Options。
type NewResolver func(raw json.RawMessage) (contract.Resolver, error)

// NewSanitizer 工厂签名：接收原样 JSON Options。
type NewSanitizer func(raw json.RawMessage) (contract.Sanitizer, error)

// NewEncoder 工厂签名：接收原样 JSON Options。
type NewEncoder func(raw json.RawMessage) (contract.Encoder, error)

// NewValidator 工厂签名：接收原样 JSON Options。
type NewValidator func(raw json.RawMessage) (contract.Validator, error)

// Store 工厂注册表（显式、零反射）。
var Store = map[string]NewStore{
	// fs: 文件系统 CSV 存储（原子替换可配置）
	"fs": func(raw json.RawMessage) (contract.Store, error) {
		var opts sfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return sfs.New(&opts)
	},
}

// Collector 工厂注册表。
var Collector = map[string]NewCollector{
	// rundir: 按运行子目录发现并合并
	"rundir": func(raw json.RawMessage) (contract.Collector, error) {
		var opts rundir.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return rundir.New(&opts)
	},
}

// Resolver 工厂注册表。
var Resolver = map[string]NewResolver{
	// exact: 仅删除含 dataset_id 的完全重复行
	"exact": func(raw json.RawMessage) (contract.Resolver, error) {
		var opts exact.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return exact.New(&opts)
	},
}

// Sanitizer 工厂注册表。
var Sanitizer = map[string]NewSanitizer{
	// protocol: 协议感知的缺失值处理
	"protocol": func(raw json.RawMessage) (contract.Sanitizer, error) {
		var opts protocol.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return protocol.New(&opts)
	},
}

// Encoder 工厂注册表。
var Encoder = map[string]NewEncoder{
	// onehot: 低基数类别列独热展开
	"onehot": func(raw json.RawMessage) (contract.Encoder, error) {
		var opts onehot.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return onehot.New(&opts)
	},
}

// Validator 工厂注册表。
var Validator = map[string]NewValidator{
	// dtree: 浅层决策树泄漏审计
	"dtree": func(raw json.RawMessage) (contract.Validator, error) {
		var opts dtree.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return dtree.New(&opts)
	},
	// none: 关闭校验
	"none": func(raw json.RawMessage) (contract.Validator, error) {
		var opts struct{}
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return dtree.Noop{}, nil
	},
}
