// Package monitoring holds the Prometheus collectors and the system
// resource monitor of the chat server.
package monitoring

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Prometheus metrics for the chat server. Scraped from the side HTTP
// listener (see Serve).
var (
	// Connection metrics
	connectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lm_connections_total",
		Help: "Total number of TLS connections accepted",
	})

	connectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lm_connections_active",
		Help: "Current number of live connections",
	})

	connectionsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lm_connections_rejected_total",
		Help: "Connections rejected before TLS by rate limiting, by scope",
	}, []string{"scope"})

	// Message metrics
	packagesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lm_packages_received_total",
		Help: "Total number of frames received from clients",
	})

	packagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lm_packages_sent_total",
		Help: "Total number of frames sent to clients",
	})

	bytesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lm_bytes_received_total",
		Help: "Total number of bytes received from clients",
	})

	bytesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lm_bytes_sent_total",
		Help: "Total number of bytes sent to clients",
	})

	// Command metrics
	commandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lm_commands_total",
		Help: "Commands processed, by function name and reply state",
	}, []string{"function", "state"})

	commandDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lm_command_duration_seconds",
		Help:    "Command handler duration",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"function"})

	// Room metrics
	roomMessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lm_room_messages_total",
		Help: "Messages appended to room logs, by room kind",
	}, []string{"kind"})

	roomsActive = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lm_rooms_active",
		Help: "Current number of rooms, by room kind",
	}, []string{"kind"})

	// System metrics (fed by SystemMonitor)
	cpuUsagePercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lm_cpu_usage_percent",
		Help: "Process host CPU usage percentage",
	})

	memoryUsageBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lm_memory_usage_bytes",
		Help: "Heap bytes currently allocated",
	})

	goroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lm_goroutines",
		Help: "Current goroutine count",
	})
)

func init() {
	prometheus.MustRegister(
		connectionsTotal,
		connectionsActive,
		connectionsRejected,
		packagesReceived,
		packagesSent,
		bytesReceived,
		bytesSent,
		commandsTotal,
		commandDuration,
		roomMessagesTotal,
		roomsActive,
		cpuUsagePercent,
		memoryUsageBytes,
		goroutineCount,
	)
}

// IncrementConnections records an accepted connection.
func IncrementConnections() {
	connectionsTotal.Inc()
	connectionsActive.Inc()
}

// DecrementConnections records a closed connection.
func DecrementConnections() {
	connectionsActive.Dec()
}

// IncrementRejectedConnections records a rate-limited connection attempt.
// scope is "per_addr" or "global".
func IncrementRejectedConnections(scope string) {
	connectionsRejected.WithLabelValues(scope).Inc()
}

// RecordInbound records a received frame.
func RecordInbound(bytes int) {
	packagesReceived.Inc()
	bytesReceived.Add(float64(bytes))
}

// RecordOutbound records a sent frame.
func RecordOutbound(bytes int) {
	packagesSent.Inc()
	bytesSent.Add(float64(bytes))
}

// RecordCommand records one processed command with its reply state.
func RecordCommand(function, state string, elapsed time.Duration) {
	commandsTotal.WithLabelValues(function, state).Inc()
	commandDuration.WithLabelValues(function).Observe(elapsed.Seconds())
}

// RecordRoomMessage records a message appended to a room log.
// kind is "private" or "group".
func RecordRoomMessage(kind string) {
	roomMessagesTotal.WithLabelValues(kind).Inc()
}

// SetActiveRooms sets the current room count for a kind.
func SetActiveRooms(kind string, n int) {
	roomsActive.WithLabelValues(kind).Set(float64(n))
}

// Serve runs the metrics/health HTTP listener until ctx is cancelled.
// It blocks; callers run it in its own goroutine.
func Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).Msg("Metrics listener started")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
