package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cleanops"

var (
	jobTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "transitions_total",
			Help:      "Job status transitions that were committed.",
		},
		[]string{"from", "to"},
	)
	jobCASLost = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "cas_lost_total",
			Help:      "Conditional updates that matched zero rows.",
		},
		[]string{"operation"},
	)
	conflictsDetected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "conflicts_detected_total",
			Help:      "Completion conflicts by type.",
		},
		[]string{"type"},
	)
	overrides = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "overrides_total",
			Help:      "Manager overrides by kind.",
		},
		[]string{"kind"},
	)
	accruals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "invoice",
			Name:      "accruals_total",
			Help:      "Invoice accrual attempts by pay type and result.",
		},
		[]string{"pay_type", "result"},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"method", "route", "code"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	workerTasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "tasks_total",
			Help:      "Total worker tasks processed.",
		},
		[]string{"task", "result"},
	)
)

func init() {
	prometheus.MustRegister(
		jobTransitions,
		jobCASLost,
		conflictsDetected,
		overrides,
		accruals,
		httpRequestsTotal,
		httpRequestDuration,
		workerTasksTotal,
	)
}

func JobTransition(from, to string) {
	jobTransitions.WithLabelValues(from, to).Inc()
}

func CASLost(operation string) {
	jobCASLost.WithLabelValues(operation).Inc()
}

func ConflictDetected(conflictType string) {
	conflictsDetected.WithLabelValues(conflictType).Inc()
}

func Override(kind string) {
	overrides.WithLabelValues(kind).Inc()
}

// Accrual result is one of created, duplicate, skipped or error.
func Accrual(payType, result string) {
	accruals.WithLabelValues(payType, result).Inc()
}

func WorkerTask(task string, err error) {
	res := "ok"
	if err != nil {
		res = "error"
	}
	workerTasksTotal.WithLabelValues(task, res).Inc()
}

// HTTP records request count and latency, labelled by the matched route.
func HTTP() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
