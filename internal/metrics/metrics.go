// Package metrics registers corsmon's Prometheus collectors.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "corsmon_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	taskRuns     *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec

	samplesWritten prometheus.Counter
	transitions    *prometheus.CounterVec
	rowsPurged     prometheus.Counter
	notifyFailures prometheus.Counter
)

// Init registers the collectors with the default registry.
func Init() {
	registerOnce.Do(func() {
		taskRuns = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "task_runs_total",
				Help: "Total scheduled task runs by task and result",
			},
			[]string{"task", "result"},
		)
		taskDuration = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "task_duration_seconds",
				Help:    "Scheduled task run duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"task"},
		)
		samplesWritten = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "samples_written_total",
				Help: "Total station samples persisted",
			},
		)
		transitions = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "transitions_total",
				Help: "Total detected status transitions by new status",
			},
			[]string{"to"},
		)
		rowsPurged = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "retention_rows_purged_total",
				Help: "Total sample rows deleted by the retention job",
			},
		)
		notifyFailures = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "notify_failures_total",
				Help: "Total failed webhook deliveries",
			},
		)

		prometheus.MustRegister(
			taskRuns,
			taskDuration,
			samplesWritten,
			transitions,
			rowsPurged,
			notifyFailures,
		)
	})
}

// ObserveTaskRun records one completed run of a scheduled task.
func ObserveTaskRun(task string, err error, duration time.Duration) {
	result := resultSuccess
	if err != nil {
		result = resultError
	}
	if taskRuns != nil {
		taskRuns.WithLabelValues(task, result).Inc()
	}
	if taskDuration != nil {
		taskDuration.WithLabelValues(task).Observe(duration.Seconds())
	}
}

// AddSamplesWritten counts persisted samples.
func AddSamplesWritten(n int) {
	if samplesWritten != nil && n > 0 {
		samplesWritten.Add(float64(n))
	}
}

// IncTransition counts one detected transition.
func IncTransition(to string) {
	if transitions != nil {
		transitions.WithLabelValues(to).Inc()
	}
}

// AddRowsPurged counts rows removed by retention.
func AddRowsPurged(n int64) {
	if rowsPurged != nil && n > 0 {
		rowsPurged.Add(float64(n))
	}
}

// IncNotifyFailure counts one failed webhook delivery.
func IncNotifyFailure() {
	if notifyFailures != nil {
		notifyFailures.Inc()
	}
}
