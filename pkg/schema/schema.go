// Package schema 声明三类表的内置列角色。
package schema

import (
	"strconv"

	"github.com/google/gopacket/layers"

	"github.com/nqmn/adddosdn-sub001/pkg/contract"
)

// 协议条件取值（文本形式，与 CSV 单元格一致）。
var (
	ProtoTCP  = strconv.Itoa(int(layers.IPProtocolTCP))
	ProtoUDP  = strconv.Itoa(int(layers.IPProtocolUDP))
	ProtoICMP = strconv.Itoa(int(layers.IPProtocolICMPv4))
	EtherIPv4 = strconv.Itoa(int(layers.EthernetTypeIPv4))
)

func label() []contract.ColumnSpec {
	return []contract.ColumnSpec{
		{Name: contract.ColLabelMulti, Role: contract.RoleLabel, Value: contract.Symbolic, Required: true},
		{Name: contract.ColLabelBinary, Role: contract.RoleLabel, Value: contract.Numeric, Required: true},
	}
}

func structural(names ...string) []contract.ColumnSpec {
	out := make([]contract.ColumnSpec, 0, len(names))
	for _, n := range names {
		out = append(out, contract.ColumnSpec{Name: n, Role: contract.RoleStructural})
	}
	return out
}

func continuous(names ...string) []contract.ColumnSpec {
	out := make([]contract.ColumnSpec, 0, len(names))
	for _, n := range names {
		out = append(out, contract.ColumnSpec{Name: n, Role: contract.RoleContinuous, Value: contract.Numeric})
	}
	return out
}

func conditioned(v contract.ValueKind, on string, expect []string, names ...string) []contract.ColumnSpec {
	out := make([]contract.ColumnSpec, 0, len(names))
	for _, n := range names {
		out = append(out, contract.ColumnSpec{
			Name:      n,
			Role:      contract.RoleProtocolConditioned,
			Value:     v,
			Condition: &contract.Condition{Column: on, Expect: expect},
		})
	}
	return out
}

func require(specs []contract.ColumnSpec, names ...string) []contract.ColumnSpec {
	for i := range specs {
		for _, n := range names {
			if specs[i].Name == n {
				specs[i].Required = true
			}
		}
	}
	return specs
}

func concat(parts ...[]contract.ColumnSpec) []contract.ColumnSpec {
	var out []contract.ColumnSpec
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// Packet: 逐包特征表。
func Packet() contract.Schema {
	tcpUDP := []string{ProtoTCP, ProtoUDP}
	tcp := []string{ProtoTCP}
	ipv4 := []string{EtherIPv4}
	return contract.NewSchema(contract.KindPacket, concat(
		[]contract.ColumnSpec{{Name: contract.ColDatasetID, Role: contract.RoleIdentifier, Value: contract.Symbolic}},
		continuous("timestamp"),
		require(structural("eth_type"), "eth_type"),
		// 非 IPv4 帧（如 ARP）不携带 IP 头字段
		conditioned(contract.Symbolic, "eth_type", ipv4, "ip_src", "ip_dst", "ip_flags"),
		require(conditioned(contract.Numeric, "eth_type", ipv4, "ip_proto", "ip_ttl", "ip_id", "ip_len"), "ip_proto"),
		conditioned(contract.Numeric, "ip_proto", tcpUDP, "src_port", "dst_port"),
		conditioned(contract.Symbolic, "ip_proto", tcp, "tcp_flags"),
		conditioned(contract.Numeric, "ip_proto", tcp, "tcp_seq", "tcp_ack", "tcp_window"),
		conditioned(contract.Numeric, "ip_proto", []string{ProtoICMP}, "icmp_type", "icmp_code"),
		label(),
	)...)
}

// Flow: 控制器导出的单向流表。
func Flow() contract.Schema {
	return contract.NewSchema(contract.KindFlow, concat(
		[]contract.ColumnSpec{{Name: contract.ColDatasetID, Role: contract.RoleIdentifier, Value: contract.Symbolic}},
		continuous("timestamp", "packet_count_per_second", "packet_count_per_nsecond", "byte_count_per_second", "byte_count_per_nsecond"),
		require(structural("switch_id", "in_port", "eth_src", "eth_dst", "eth_type"), "eth_type"),
		conditioned(contract.Symbolic, "eth_type", []string{EtherIPv4}, "ip_src", "ip_dst"),
		conditioned(contract.Numeric, "eth_type", []string{EtherIPv4}, "ip_proto"),
		conditioned(contract.Numeric, "ip_proto", []string{ProtoTCP, ProtoUDP}, "tp_src", "tp_dst"),
		conditioned(contract.Numeric, "ip_proto", []string{ProtoICMP}, "icmp_type", "icmp_code"),
		label(),
	)...)
}

// Biflow: 双向流特征表。
func Biflow() contract.Schema {
	return contract.NewSchema(contract.KindBiflow, concat(
		[]contract.ColumnSpec{{Name: contract.ColDatasetID, Role: contract.RoleIdentifier, Value: contract.Symbolic}},
		require(structural("src_ip", "dst_ip", "protocol"), "protocol"),
		conditioned(contract.Numeric, "protocol", []string{ProtoTCP, ProtoUDP}, "src_port", "dst_port"),
		conditioned(contract.Numeric, "protocol", []string{ProtoTCP},
			"fin_flag_count", "syn_flag_count", "rst_flag_count", "psh_flag_count",
			"ack_flag_count", "urg_flag_count", "ece_flag_count", "cwr_flag_count"),
		continuous("timestamp", "flow_duration", "flow_bytes_s", "flow_packets_s",
			"flow_iat_mean", "flow_iat_std", "flow_iat_max", "flow_iat_min",
			"fwd_iat_mean", "fwd_iat_std", "bwd_iat_mean", "bwd_iat_std",
			"fwd_packets_s", "bwd_packets_s", "packet_length_mean", "packet_length_std"),
		label(),
	)...)
}

// For 返回表类型的内置 schema；未知类型返回仅含保留列的 schema。
func For(kind contract.Kind) contract.Schema {
	switch kind {
	case contract.KindPacket:
		return Packet()
	case contract.KindFlow:
		return Flow()
	case contract.KindBiflow:
		return Biflow()
	}
	return contract.NewSchema(kind, label()...)
}

// ProtocolName 返回条件列取值的协议显示名（eth_type 按以太类型，其余按 IP 协议号）。
// 非数值取值原样返回。
func ProtocolName(column, value string) string {
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return value
	}
	if column == "eth_type" {
		if n > 0xffff {
			return value
		}
		return layers.EthernetType(n).String()
	}
	if n > 0xff {
		return value
	}
	return layers.IPProtocol(n).String()
}
