package server

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mmrag/internal/domain"
)

// Metrics holds the Prometheus collectors exposed on /metrics.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	queriesTotal    *prometheus.CounterVec
	ingestDocuments *prometheus.CounterVec
	ingestRecords   *prometheus.CounterVec

	registry *prometheus.Registry
}

func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "mmrag"
	}

	m := &Metrics{registry: prometheus.NewRegistry()}

	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	m.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
	m.queriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Answered queries by result",
		},
		[]string{"result"},
	)
	m.ingestDocuments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_documents_total",
			Help:      "Ingested documents by outcome",
		},
		[]string{"status"},
	)
	m.ingestRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_records_total",
			Help:      "Records written by ingestion",
		},
		[]string{"type"},
	)

	m.registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.queriesTotal,
		m.ingestDocuments,
		m.ingestRecords,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		c.Next()

		m.requestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.requestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}

func (m *Metrics) ObserveQuery(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.queriesTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveIngest(report *domain.IngestReport) {
	for status, n := range report.Counts() {
		m.ingestDocuments.WithLabelValues(string(status)).Add(float64(n))
	}
	m.ingestRecords.WithLabelValues(string(domain.TypeArticle)).Add(float64(report.ChunksStored()))
	m.ingestRecords.WithLabelValues(string(domain.TypeImage)).Add(float64(report.ImagesStored()))
}
