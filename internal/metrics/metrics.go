// Package metrics exposes the daemon's Prometheus gauges/counters
// (link status, dbhook queue depth, service command counts), adapted
// from the teacher's echoprom package: a private registry plus
// promauto-registered collectors, served over HTTP via
// promhttp.HandlerFor rather than the default global registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is this daemon's private Prometheus registry (teacher's
// echoprom.Registry pattern: never register against the global
// DefaultRegisterer, so a library import can't silently double-count).
var Registry = prometheus.NewRegistry()

var (
	// LinkState is 1 when the uplink connection is Registered, 0 otherwise.
	LinkState = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Name: "ratbox_services_link_state",
		Help: "1 if the uplink connection has completed burst, 0 otherwise",
	})

	// DBHookQueueDepth tracks pending rows per mailbox hook.
	DBHookQueueDepth = promauto.With(Registry).NewGaugeVec(prometheus.GaugeOpts{
		Name: "ratbox_services_dbhook_queue_depth",
		Help: "Number of unprocessed rows in a dbhook mailbox table",
	}, []string{"table", "hook"})

	// ServiceCommandsTotal counts dispatched commands per service.
	ServiceCommandsTotal = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "ratbox_services_commands_total",
		Help: "Total service commands dispatched",
	}, []string{"service", "command"})

	// ServiceFloodIgnoresTotal counts users placed on a flood ignore.
	ServiceFloodIgnoresTotal = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "ratbox_services_flood_ignores_total",
		Help: "Total flood-triggered ignores issued",
	}, []string{"service"})

	// ChannelsRegistered is the live count of registered channels.
	ChannelsRegistered = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Name: "ratbox_services_channels_registered",
		Help: "Current number of registered channels",
	})

	// AccountsRegistered is the live count of registered accounts.
	AccountsRegistered = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Name: "ratbox_services_accounts_registered",
		Help: "Current number of registered accounts",
	})

	// OperBansActive is the live count of active klines/xlines/resvs.
	OperBansActive = promauto.With(Registry).NewGaugeVec(prometheus.GaugeOpts{
		Name: "ratbox_services_operbans_active",
		Help: "Current number of active operbans by type",
	}, []string{"type"})
)

// Handler returns the http.Handler to mount at /metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
