package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Host PDR exchange collectors
var (
	// Fetch cycles

	FetchCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pldm_hostpdr_fetch_cycles_total",
			Help: "Total number of PDR fetch cycles by outcome",
		},
		[]string{"outcome"},
	)

	FetchCycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pldm_hostpdr_fetch_cycle_duration_seconds",
			Help:    "PDR fetch cycle duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	RecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pldm_hostpdr_records_total",
			Help: "Total number of host PDRs received by type",
		},
		[]string{"type"},
	)

	DecodeErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pldm_hostpdr_decode_errors_total",
			Help: "Total number of host PDRs skipped because they could not be used",
		},
		[]string{"reason"},
	)

	// Merge and indices

	EntitiesMergedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pldm_hostpdr_entities_merged_total",
			Help: "Total number of host entities merged into the BMC tree",
		},
	)

	TreeEntities = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pldm_hostpdr_tree_entities",
			Help: "Number of entities in the merged entity association tree",
		},
	)

	SensorsIndexed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pldm_hostpdr_sensors_indexed",
			Help: "Number of host state sensors in the lookup index",
		},
	)

	FRURecordSetsIndexed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pldm_hostpdr_fru_record_sets_indexed",
			Help: "Number of host FRU record sets in the lookup index",
		},
	)

	RepoRecords = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pldm_hostpdr_repo_records",
			Help: "Number of records in the PDR repository",
		},
		[]string{"origin"},
	)

	// Events

	SensorEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pldm_hostpdr_sensor_events_total",
			Help: "Total number of state sensor events handled by completion code",
		},
		[]string{"completion_code"},
	)

	ChangeEventsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pldm_hostpdr_change_events_sent_total",
			Help: "Total number of PDR repository change events sent to the host",
		},
		[]string{"status"},
	)

	// PLDM requests

	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pldm_requests_total",
			Help: "Total number of PLDM requests sent",
		},
		[]string{"command", "outcome"},
	)

	RequestRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pldm_request_retries_total",
			Help: "Total number of PLDM request retransmissions",
		},
		[]string{"command"},
	)

	HostUp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pldm_host_up",
			Help: "Host firmware status (0=down, 1=up)",
		},
	)

	// HTTP Metrics

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pldm_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pldm_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pldm_http_requests_in_flight",
			Help: "Number of status server requests being served",
		},
	)
)
