package filesystem

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/nqmn/adddosdn-sub001/pkg/contract"
)

// ErrEmptyFile: CSV 无表头。
var ErrEmptyFile = errors.New("empty csv file")

const (
	bom = "\ufeff"
	// ctxEvery: 每处理多少行检查一次 ctx。
	ctxEvery = 4096
)

// Decode 读取 CSV 为 Table。
// 约束：
// - 首行为表头，去除 UTF-8 BOM；
// - 字段数严格一致（以表头为准）；
// - 单元格一律按文本保留，不做类型推断。
func Decode(ctx context.Context, r io.Reader, kind contract.Kind) (*contract.Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 0
	header, err := cr.Read()
	if err == io.EOF {
		return nil, ErrEmptyFile
	}
	if err != nil {
		return nil, fmt.Errorf("csv header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], bom)
	}
	t, err := contract.NewTable(kind, header...)
	if err != nil {
		return nil, err
	}
	for n := 0; ; n++ {
		if n%ctxEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv record: %w", err)
		}
		if err := t.AppendRow(rec); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Encode 将 Table 以 CSV 写出（表头 + 行，保持列序与行序）。
func Encode(ctx context.Context, w io.Writer, t *contract.Table) error {
	bw := bufio.NewWriter(w)
	cw := csv.NewWriter(bw)
	if err := cw.Write(t.Names()); err != nil {
		return err
	}
	cols := t.Columns()
	row := make([]string, len(cols))
	for i := 0; i < t.NumRows(); i++ {
		if i%ctxEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		for j, c := range cols {
			row[j] = c.Values[i]
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	return bw.Flush()
}
