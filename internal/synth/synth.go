// Package synth 生成合成的 run 目录（三类特征表），供端到端、压力测试与基准使用。
// 各行内容互不相同，标签由协议唯一决定。
package synth

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nqmn/adddosdn-sub001/pkg/contract"
)

// Run: 一个 run 目录及其每类表的行数。
type Run struct {
	Name string
	Rows int
}

// 各表类型的表头。
var headers = map[contract.Kind][]string{
	contract.KindPacket: {"timestamp", "eth_type", "ip_proto", "src_port", "dst_port", "tcp_flags", "icmp_type", "always_empty", "Label_multi", "Label_binary"},
	contract.KindFlow:   {"timestamp", "switch_id", "in_port", "eth_type", "ip_proto", "tp_src", "tp_dst", "icmp_type", "packet_count_per_second", "Label_multi", "Label_binary"},
	contract.KindBiflow: {"timestamp", "src_ip", "dst_ip", "protocol", "src_port", "dst_port", "syn_flag_count", "flow_duration", "Label_multi", "Label_binary"},
}

// Header 返回表类型的列名（不含 dataset_id）。
func Header(kind contract.Kind) []string { return append([]string(nil), headers[kind]...) }

// Labels: 协议轮换顺序下的 Label_multi 取值。
var Labels = []string{"syn", "udp", "icmp"}

// Row 生成第 r 个 run 的第 i 行。
func Row(kind contract.Kind, r, i int) []string {
	uniq := r*1_000_000 + i
	ts := fmt.Sprintf("%d.%03d", 1735689600+uniq/1000, uniq%1000)
	port := fmt.Sprint(1024 + uniq%60000)
	label := Labels[i%3]
	switch kind {
	case contract.KindPacket:
		switch i % 3 {
		case 0:
			return []string{ts, "2048", "6", port, "80", []string{"S", "PA"}[i%2], "", "", label, "1"}
		case 1:
			return []string{ts, "2048", "17", port, "53", "", "", "", label, "1"}
		default:
			return []string{ts, "2048", "1", "", "", "", "8", "", label, "1"}
		}
	case contract.KindFlow:
		sw := fmt.Sprint(1 + i%4)
		in := fmt.Sprint(1 + i%8)
		pps := fmt.Sprintf("%d.25", uniq)
		switch i % 3 {
		case 0:
			return []string{ts, sw, in, "2048", "6", port, "80", "", pps, label, "1"}
		case 1:
			return []string{ts, sw, in, "2048", "17", port, "53", "", pps, label, "1"}
		default:
			return []string{ts, sw, in, "2048", "1", "", "", "8", pps, label, "1"}
		}
	case contract.KindBiflow:
		src := fmt.Sprintf("10.0.%d.%d", (uniq/250)%250, 1+uniq%250)
		dur := fmt.Sprint(1000 + uniq)
		switch i % 3 {
		case 0:
			return []string{ts, src, "10.0.0.254", "6", port, "80", "1", dur, label, "1"}
		case 1:
			return []string{ts, src, "10.0.0.254", "17", port, "53", "", dur, label, "1"}
		default:
			return []string{ts, src, "10.0.0.254", "1", "", "", "", dur, label, "1"}
		}
	}
	return nil
}

// Write 在 base 下为每个 run 写出 kinds 对应的输入文件；kinds 为空表示全部。
func Write(base string, runs []Run, kinds ...contract.Kind) error {
	if len(kinds) == 0 {
		kinds = contract.Kinds()
	}
	for r, run := range runs {
		dir := filepath.Join(base, run.Name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		for _, k := range kinds {
			if err := writeTable(filepath.Join(dir, k.InputFile()), k, r, run.Rows); err != nil {
				return fmt.Errorf("%s/%s: %w", run.Name, k, err)
			}
		}
	}
	return nil
}

func writeTable(path string, kind contract.Kind, r, rows int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	_, _ = w.WriteString(strings.Join(headers[kind], ",") + "\n")
	for i := 0; i < rows; i++ {
		_, _ = w.WriteString(strings.Join(Row(kind, r, i), ",") + "\n")
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
