// Package metrics 暴露 walletd 的 Prometheus 指标。
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "walletd"

var (
	httpRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests processed.",
		},
		[]string{"handler", "method", "code"},
	)

	httpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"handler", "method"},
	)

	taskOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_processed_total",
			Help:      "Tasks processed by topic and outcome.",
		},
		[]string{"topic", "outcome"},
	)

	taskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Handler execution time in seconds.",
			Buckets:   []float64{.1, .5, 1, 5, 15, 30, 60, 120, 240},
		},
		[]string{"topic"},
	)

	transactions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_total",
			Help:      "Sent transactions by wallet mode and outcome.",
		},
		[]string{"mode", "outcome"},
	)

	escalations = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fee_escalations_total",
			Help:      "Confirmation windows that expired and escalated the fee.",
		},
	)

	queueEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_queue_events_total",
			Help:      "Task queue publishes, redeliveries and drops by driver.",
		},
		[]string{"driver", "event"},
	)

	custodialPolls = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "custodial_status_polls",
			Help:      "Status polls needed before the custodial engine reported a result.",
			Buckets:   []float64{1, 2, 3, 5, 10, 20, 40, 60},
		},
	)
)

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// ObserveTask records one handler execution. outcome is the resulting task
// status or "retry".
func ObserveTask(topic, outcome string, duration time.Duration) {
	taskOutcomes.WithLabelValues(topic, outcome).Inc()
	taskDuration.WithLabelValues(topic).Observe(duration.Seconds())
}

// ObserveTransaction counts a finished send.
func ObserveTransaction(mode, outcome string) {
	transactions.WithLabelValues(mode, outcome).Inc()
}

// ObserveEscalation counts one expired confirmation window.
func ObserveEscalation() {
	escalations.Inc()
}

// ObserveQueueEvent counts one queue event for driver.
func ObserveQueueEvent(driver, event string) {
	queueEvents.WithLabelValues(driver, event).Inc()
}

// ObserveCustodialPolls records how many status polls a custodial job took.
func ObserveCustodialPolls(polls int) {
	custodialPolls.Observe(float64(polls))
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// StartServer 在独立端口暴露 /metrics，ctx 结束时优雅关闭。
func StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
