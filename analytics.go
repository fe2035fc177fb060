package crust

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// EventMetrics tracks event-related metrics
var EventMetrics = struct {
	EventsTotal         *prometheus.CounterVec
	DecodeFailuresTotal *prometheus.CounterVec
	GatewayLatency      *prometheus.GaugeVec
}{
	EventsTotal: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crust_events_total",
			Help: "Total number of dispatch events received, split by identifier and event type",
		},
		[]string{"identifier", "event_type"},
	),
	DecodeFailuresTotal: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crust_decode_failures_total",
			Help: "Total number of gateway frames dropped because they could not be decoded",
		},
		[]string{"identifier"},
	),
	GatewayLatency: promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "crust_gateway_latency_milliseconds",
			Help: "Gateway latency in milliseconds, measured by heartbeat",
		},
		[]string{"identifier", "shard_id"},
	),
}

func RecordEvent(identifier, eventType string) {
	EventMetrics.EventsTotal.WithLabelValues(identifier, eventType).Inc()
}

func RecordDecodeFailure(identifier string) {
	EventMetrics.DecodeFailuresTotal.WithLabelValues(identifier).Inc()
}

func UpdateGatewayLatency(identifier string, shardID int32, latency float64) {
	EventMetrics.GatewayLatency.WithLabelValues(identifier, strconv.Itoa(int(shardID))).Set(latency)
}

// ShardMetrics tracks shard-related metrics
var ShardMetrics = struct {
	ShardStatus     *prometheus.GaugeVec
	Reconnects      *prometheus.CounterVec
	SessionsStarted *prometheus.GaugeVec
}{
	ShardStatus: promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "crust_shard_status",
			Help: "Session state of the shard",
		},
		[]string{"identifier", "shard_id"},
	),
	Reconnects: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crust_shard_reconnects_total",
			Help: "Total number of reconnects scheduled after a transport closed",
		},
		[]string{"identifier", "shard_id", "close_code"},
	),
	SessionsStarted: promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "crust_session_starts_remaining",
			Help: "Session starts left in the current gateway window",
		},
		[]string{"identifier"},
	),
}

func UpdateShardStatus(identifier string, shardID int32, state SessionState) {
	ShardMetrics.ShardStatus.WithLabelValues(identifier, strconv.Itoa(int(shardID))).Set(float64(state))
}

func RecordReconnect(identifier string, shardID int32, code int) {
	ShardMetrics.Reconnects.WithLabelValues(identifier, strconv.Itoa(int(shardID)), strconv.Itoa(code)).Inc()
}

func UpdateSessionStartsRemaining(identifier string, remaining int32) {
	ShardMetrics.SessionsStarted.WithLabelValues(identifier).Set(float64(remaining))
}
