package dtree

import (
	"context"

	"github.com/nqmn/adddosdn-sub001/pkg/contract"
)

// Noop 关闭泄漏校验：总是通过。
type Noop struct{}

var _ contract.Validator = Noop{}

func (Noop) Validate(ctx context.Context, _ *contract.Table) (contract.LeakageResult, error) {
	if err := ctx.Err(); err != nil {
		return contract.LeakageResult{}, err
	}
	return contract.LeakageResult{Pass: true, Skipped: "disabled"}, nil
}
