// Package metrics holds the prometheus collectors of the manager.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ClientsCreated counts provisioned peers, by protocol.
	ClientsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "awg_manager_clients_created_total",
			Help: "Total number of peers created.",
		},
		[]string{"protocol"},
	)
	// ClientsDeleted counts removed peers, by protocol.
	ClientsDeleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "awg_manager_clients_deleted_total",
			Help: "Total number of peers deleted.",
		},
		[]string{"protocol"},
	)
	// ClientsExpired counts table entries matched by the expiry cleanup, by protocol.
	ClientsExpired = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "awg_manager_clients_expired_total",
			Help: "Total number of expired peers disabled by the cleanup task.",
		},
		[]string{"protocol"},
	)
	// ConfigSyncs counts live-apply runs, tagged by result: ok or error.
	ConfigSyncs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "awg_manager_config_syncs_total",
			Help: "Total number of live configuration applies (tagged by result).",
		},
		[]string{"protocol", "result"},
	)
	// CommandFailures counts failed runtime commands by class.
	CommandFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "awg_manager_command_failures_total",
			Help: "Total number of failed runtime commands (tagged by class: transport, timeout, output, exec).",
		},
		[]string{"class"},
	)
)

func init() {
	prometheus.MustRegister(ClientsCreated, ClientsDeleted, ClientsExpired, ConfigSyncs, CommandFailures)
}

// Result converts an error to the result label.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
