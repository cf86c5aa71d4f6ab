package internaldefs

import (
	"strconv"

	"github.com/MrEthical07/objperm"
)

// Series is one engine counter inside a Family, told apart by the value of
// the family label.
type Series struct {
	ID    objperm.MetricID
	Value string
}

// Family groups engine counters that describe one event split by a single
// label, e.g. mutations by op. A family with an empty Label has exactly one
// series.
type Family struct {
	Name   string
	Help   string
	Label  string
	Series []Series
}

// Families lists every exported counter family in output order. Each engine
// counter appears in exactly one family.
var Families = []Family{
	{
		Name:  "objperm_mutations_total",
		Help:  "Grant and revoke calls by operation. revoke_missing counts revokes that found no record.",
		Label: "op",
		Series: []Series{
			{ID: objperm.MetricGrant, Value: "grant"},
			{ID: objperm.MetricRevoke, Value: "revoke"},
			{ID: objperm.MetricRevokeAll, Value: "revoke_all"},
			{ID: objperm.MetricRevokeMissing, Value: "revoke_missing"},
		},
	},
	{
		Name:  "objperm_checks_total",
		Help:  "Permission checks by result.",
		Label: "result",
		Series: []Series{
			{ID: objperm.MetricCheckAllowed, Value: "allowed"},
			{ID: objperm.MetricCheckDenied, Value: "denied"},
		},
	},
	{
		Name:  "objperm_rejections_total",
		Help:  "Requests rejected before reaching the store.",
		Label: "reason",
		Series: []Series{
			{ID: objperm.MetricUnknownPermission, Value: "unknown_permission"},
			{ID: objperm.MetricNotRegistered, Value: "not_registered"},
		},
	},
	{
		Name:  "objperm_failures_total",
		Help:  "Failed record store calls and failed listener calls.",
		Label: "source",
		Series: []Series{
			{ID: objperm.MetricStoreFailure, Value: "store"},
			{ID: objperm.MetricListenerFailure, Value: "listener"},
		},
	},
	{
		Name:   "objperm_notifications_total",
		Help:   "Changes delivered to at least one listener.",
		Series: []Series{{ID: objperm.MetricNotify}},
	},
}

// AuditDroppedName is the counter for audit events lost to backpressure.
const (
	AuditDroppedName = "objperm_audit_dropped_total"
	AuditDroppedHelp = "Audit events dropped because the dispatcher buffer was full."
)

// CheckLatency describes the engine's check latency histogram.
var CheckLatency = struct {
	ID   objperm.MetricID
	Name string
	Help string
}{
	ID:   objperm.MetricCheckLatency,
	Name: "objperm_check_latency_seconds",
	Help: "Permission check latency, store reads included.",
}

// LatencyBounds are the finite upper bounds, in seconds, of the engine's
// latency buckets. The engine keeps one more bucket for +Inf.
var LatencyBounds = []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1}

// FormatBound renders a bound as a Prometheus le value.
func FormatBound(upper float64) string {
	return strconv.FormatFloat(upper, 'g', -1, 64)
}

// Cumulative turns the engine's per-bucket counts into running totals, one
// per finite bound, plus the total sample count. Missing buckets count as
// zero.
func Cumulative(raw []uint64) (buckets []uint64, count uint64) {
	buckets = make([]uint64, len(LatencyBounds))
	for i := 0; i <= len(LatencyBounds) && i < len(raw); i++ {
		count += raw[i]
		if i < len(LatencyBounds) {
			buckets[i] = count
		}
	}
	for i := len(raw); i < len(LatencyBounds); i++ {
		buckets[i] = count
	}
	return buckets, count
}
