// Package exporters contains the record sinks of go-meter. Exporters
// consume flushed flow records from the merge stream; they never see
// in-flight flow state.
package exporters

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/CN-TU/go-meter/flow"
)

// Exporter writes flow records to some sink. Export may be called from a
// single goroutine only; implementations queue internally if their sink is
// slow. Finish writes outstanding data and waits for completion.
type Exporter interface {
	ID() string
	Init() error
	Export(*flow.Record)
	Finish()
}

// fieldNames is the flat column set shared by the tabular exporters.
var fieldNames = []string{
	"src_ip", "src_port", "dst_ip", "dst_port", "protocol", "vlan_id",
	"first_seen_ns", "last_seen_ns", "duration_ns",
	"packets", "bytes",
	"src2dst_packets", "src2dst_bytes", "dst2src_packets", "dst2src_bytes",
	"ps_min", "ps_mean", "ps_stddev", "ps_max",
	"src2dst_ps_min", "src2dst_ps_mean", "src2dst_ps_stddev", "src2dst_ps_max",
	"dst2src_ps_min", "dst2src_ps_mean", "dst2src_ps_stddev", "dst2src_ps_max",
	"piat_min", "piat_mean", "piat_stddev", "piat_max",
	"src2dst_piat_min", "src2dst_piat_mean", "src2dst_piat_stddev", "src2dst_piat_max",
	"dst2src_piat_min", "dst2src_piat_mean", "dst2src_piat_stddev", "dst2src_piat_max",
	"splt_ps", "splt_piat", "splt_direction",
	"app", "app_confidence", "end_reason", "user_state",
}

func statValues(s *flow.RunningStat) []string {
	return []string{
		formatFloat(s.Min()),
		formatFloat(s.Mean()),
		formatFloat(s.Stddev()),
		formatFloat(s.Max()),
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func joinUints(vs []uint64) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = strconv.FormatUint(v, 10)
	}
	return strings.Join(parts, " ")
}

func joinIATs(vs []flow.DateTimeNanoseconds) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = strconv.FormatInt(int64(v), 10)
	}
	return strings.Join(parts, " ")
}

func joinDirs(vs []flow.Direction) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = strconv.Itoa(int(v))
	}
	return strings.Join(parts, " ")
}

func userStateString(r *flow.Record) string {
	keys := r.UserStateKeys()
	if len(keys) == 0 {
		return ""
	}
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v, _ := r.UserState(k)
		parts = append(parts, fmt.Sprintf("%s=%v", k, v.GoValue()))
	}
	return strings.Join(parts, ";")
}

// fieldValues renders r into the fieldNames column order.
func fieldValues(r *flow.Record) []string {
	out := make([]string, 0, len(fieldNames))
	out = append(out,
		r.SrcIP.String(),
		strconv.Itoa(int(r.SrcPort)),
		r.DstIP.String(),
		strconv.Itoa(int(r.DstPort)),
		strconv.Itoa(int(r.Proto)),
		strconv.Itoa(int(r.VLAN)),
		strconv.FormatInt(int64(r.First), 10),
		strconv.FormatInt(int64(r.Last), 10),
		strconv.FormatInt(int64(r.Duration()), 10),
		strconv.FormatUint(r.Packets(), 10),
		strconv.FormatUint(r.Bytes(), 10),
		strconv.FormatUint(r.Counters[flow.DirForward].Packets, 10),
		strconv.FormatUint(r.Counters[flow.DirForward].Bytes, 10),
		strconv.FormatUint(r.Counters[flow.DirBackward].Packets, 10),
		strconv.FormatUint(r.Counters[flow.DirBackward].Bytes, 10),
	)
	out = append(out, statValues(&r.PS[flow.DirBoth])...)
	out = append(out, statValues(&r.PS[flow.DirForward])...)
	out = append(out, statValues(&r.PS[flow.DirBackward])...)
	out = append(out, statValues(&r.IAT[flow.DirBoth])...)
	out = append(out, statValues(&r.IAT[flow.DirForward])...)
	out = append(out, statValues(&r.IAT[flow.DirBackward])...)
	out = append(out,
		joinUints(r.SPLT.Sizes),
		joinIATs(r.SPLT.IATs),
		joinDirs(r.SPLT.Dirs),
		r.AppLabel(),
		formatFloat(r.AppConfidence),
		strconv.Itoa(int(r.EndReason)),
		userStateString(r),
	)
	return out
}

// recordMap renders r into a flat map for the binary exporters.
func recordMap(r *flow.Record) map[string]interface{} {
	user := make(map[string]interface{})
	for _, k := range r.UserStateKeys() {
		v, _ := r.UserState(k)
		user[k] = v.GoValue()
	}
	stat := func(s *flow.RunningStat) map[string]float64 {
		return map[string]float64{
			"min":    s.Min(),
			"mean":   s.Mean(),
			"stddev": s.Stddev(),
			"max":    s.Max(),
		}
	}
	return map[string]interface{}{
		"src_ip":          r.SrcIP.String(),
		"src_port":        r.SrcPort,
		"dst_ip":          r.DstIP.String(),
		"dst_port":        r.DstPort,
		"protocol":        r.Proto,
		"vlan_id":         r.VLAN,
		"first_seen_ns":   int64(r.First),
		"last_seen_ns":    int64(r.Last),
		"duration_ns":     int64(r.Duration()),
		"packets":         r.Packets(),
		"bytes":           r.Bytes(),
		"src2dst_packets": r.Counters[flow.DirForward].Packets,
		"src2dst_bytes":   r.Counters[flow.DirForward].Bytes,
		"dst2src_packets": r.Counters[flow.DirBackward].Packets,
		"dst2src_bytes":   r.Counters[flow.DirBackward].Bytes,
		"ps":              stat(&r.PS[flow.DirBoth]),
		"src2dst_ps":      stat(&r.PS[flow.DirForward]),
		"dst2src_ps":      stat(&r.PS[flow.DirBackward]),
		"piat":            stat(&r.IAT[flow.DirBoth]),
		"src2dst_piat":    stat(&r.IAT[flow.DirForward]),
		"dst2src_piat":    stat(&r.IAT[flow.DirBackward]),
		"splt_ps":         r.SPLT.Sizes,
		"splt_piat":       r.SPLT.IATs,
		"splt_direction":  r.SPLT.Dirs,
		"app":             r.AppLabel(),
		"app_confidence":  r.AppConfidence,
		"end_reason":      int(r.EndReason),
		"user_state":      user,
	}
}
