package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keithlinneman/toptalkers/internal/version"
)

type ServerMetrics struct {
	reg     *prometheus.Registry
	handler http.Handler

	inflight       prometheus.Gauge
	reqTotal       *prometheus.CounterVec
	reqDur         *prometheus.HistogramVec
	respBytes      *prometheus.HistogramVec
	httpPanicTotal prometheus.Counter
	buildInfo      *prometheus.GaugeVec

	ratelimitDeniedTotal   prometheus.Counter
	ratelimitCapacityTotal prometheus.Counter

	// tracker metrics
	recordsTotal    prometheus.Counter
	evictionsTotal  prometheus.Counter
	rankingCapacity prometheus.Gauge
	epochResets     prometheus.Counter
	epochStartTs    prometheus.Gauge

	// epoch report export metrics
	reportExportsTotal *prometheus.CounterVec
	reportDuration     prometheus.Histogram
}

// New returns a fresh registry + standard collectors + HTTP metrics
// safe labels only (method, route, code) to avoid path/cardinality explosions
func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &ServerMetrics{
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576},
		}, []string{"method", "route"}),
		httpPanicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered httpserver panics",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"}),
		ratelimitDeniedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_total",
			Help: "Total requests rejected by rate limiter",
		}),
		ratelimitCapacityTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_capacity_total",
			Help: "Total number of times rate limiter capacity reached",
		}),
		recordsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_records_total",
			Help: "Total request events recorded against the tracker",
		}),
		evictionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_ranking_evictions_total",
			Help: "Total addresses evicted from the bounded ranking",
		}),
		rankingCapacity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_ranking_capacity",
			Help: "Configured top-N ranking capacity",
		}),
		epochResets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_epoch_resets_total",
			Help: "Total epoch resets (scheduled and manual)",
		}),
		epochStartTs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_epoch_start_timestamp_seconds",
			Help: "Unix timestamp of when the current epoch began",
		}),
		reportExportsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "report_exports_total",
			Help: "Total epoch report export attempts by result",
		}, []string{"result"}),
		reportDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "report_export_duration_seconds",
			Help:    "Time to serialize and upload an epoch report",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
	}
	reg.MustRegister(
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.respBytes,
		m.httpPanicTotal,
		m.buildInfo,
		m.ratelimitDeniedTotal,
		m.ratelimitCapacityTotal,
		m.recordsTotal,
		m.evictionsTotal,
		m.rankingCapacity,
		m.epochResets,
		m.epochStartTs,
		m.reportExportsTotal,
		m.reportDuration,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	m.reg = reg
	return m
}

func (m *ServerMetrics) Handler() http.Handler {
	return m.handler
}

// RegisterTrackerGauges registers pull-style gauges that read the tracker
// directly at scrape time, so distinct/ranking sizes are never stale.
func (m *ServerMetrics) RegisterTrackerGauges(distinct, rankingSize func() float64) {
	m.reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "tracker_distinct_addresses",
			Help: "Distinct addresses seen since the current epoch began",
		}, distinct),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "tracker_ranking_size",
			Help: "Addresses currently held by the bounded ranking",
		}, rankingSize),
	)
}

// set once at startup.
func (m *ServerMetrics) SetBuildInfoFromVersion(app, component string, vi *version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":         app,
		"component":   component,
		"version":     vi.Version,
		"commit":      vi.Commit,
		"commit_date": vi.CommitDate,
		"build_id":    vi.BuildId,
		"build_date":  vi.BuildDate,
		"go_version":  vi.GoVersion,
		"vcs_dirty":   dirty,
	}).Set(1)
}

func (m *ServerMetrics) IncHttpPanic() { m.httpPanicTotal.Inc() }

func (m *ServerMetrics) IncRateLimitDenied() { m.ratelimitDeniedTotal.Inc() }

func (m *ServerMetrics) IncRateLimitCapacity() { m.ratelimitCapacityTotal.Inc() }

func (m *ServerMetrics) IncRecord() { m.recordsTotal.Inc() }

func (m *ServerMetrics) IncEviction() { m.evictionsTotal.Inc() }

func (m *ServerMetrics) SetRankingCapacity(n int) { m.rankingCapacity.Set(float64(n)) }

func (m *ServerMetrics) IncEpochReset() { m.epochResets.Inc() }

func (m *ServerMetrics) SetEpochStart(t time.Time) { m.epochStartTs.Set(float64(t.Unix())) }

func (m *ServerMetrics) IncReportExport(ok bool) {
	result := "success"
	if !ok {
		result = "error"
	}
	m.reportExportsTotal.WithLabelValues(result).Inc()
}

func (m *ServerMetrics) ObserveReportDuration(seconds float64) {
	m.reportDuration.Observe(seconds)
}
