package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	// MessagesTotal counts stream payloads accepted per channel.
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collector", Subsystem: "ws", Name: "messages_total",
		Help: "Stream payloads received per channel",
	}, []string{"channel"})

	// ParseErrors counts payloads whose fields could not be extracted.
	ParseErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collector", Subsystem: "ws", Name: "parse_errors_total",
		Help: "Payloads that could not be parsed per channel",
	}, []string{"channel"})

	// DuplicateTrades counts trades skipped because their id was already seen.
	DuplicateTrades = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "collector", Subsystem: "buffer", Name: "duplicate_trades_total",
		Help: "Trades skipped by id deduplication",
	})

	// RecordsBuffered counts records appended to in-memory buffers.
	RecordsBuffered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collector", Subsystem: "buffer", Name: "records_total",
		Help: "Records appended to buffers per kind",
	}, []string{"kind"})

	// RecordsDropped counts records discarded because a buffer hit its cap.
	RecordsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collector", Subsystem: "buffer", Name: "dropped_total",
		Help: "Records discarded because a buffer reached its cap",
	}, []string{"kind"})

	// RecordsFlushed counts records written per kind and sink.
	RecordsFlushed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collector", Subsystem: "flush", Name: "records_total",
		Help: "Records written per kind and sink",
	}, []string{"kind", "sink"})

	// FlushErrors counts failed writes per kind and sink.
	FlushErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collector", Subsystem: "flush", Name: "errors_total",
		Help: "Failed writes per kind and sink",
	}, []string{"kind", "sink"})

	// Reconnects counts websocket reconnect attempts.
	Reconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "collector", Subsystem: "ws", Name: "reconnects_total",
		Help: "Websocket reconnect attempts",
	})

	// ConnectedClients is the number of currently subscribed connections.
	ConnectedClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "collector", Subsystem: "ws", Name: "connected_clients",
		Help: "Websocket connections currently subscribed",
	})
)

// Register registers every collector metric with reg. Metrics already
// registered there are skipped, so calling it again with the same
// registerer is harmless. A nil registerer means prometheus.DefaultRegisterer.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{
		MessagesTotal,
		ParseErrors,
		DuplicateTrades,
		RecordsBuffered,
		RecordsDropped,
		RecordsFlushed,
		FlushErrors,
		Reconnects,
		ConnectedClients,
	} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) && are.ExistingCollector == c {
				continue
			}
			return fmt.Errorf("register metric: %w", err)
		}
	}
	return nil
}

func IncMessage(channel string)    { MessagesTotal.WithLabelValues(channel).Inc() }
func IncParseError(channel string) { ParseErrors.WithLabelValues(channel).Inc() }
func IncDuplicate()                { DuplicateTrades.Inc() }
func IncReconnect()                { Reconnects.Inc() }

func AddBuffered(kind string, n int) { RecordsBuffered.WithLabelValues(kind).Add(float64(n)) }

func AddDropped(kind string, n int) {
	if n > 0 {
		RecordsDropped.WithLabelValues(kind).Add(float64(n))
	}
}

func AddFlushed(kind, sink string, n int) {
	RecordsFlushed.WithLabelValues(kind, sink).Add(float64(n))
}

func IncFlushError(kind, sink string) { FlushErrors.WithLabelValues(kind, sink).Inc() }

// SetConnected moves the connected-clients gauge on a state transition.
func SetConnected(connected bool) {
	if connected {
		ConnectedClients.Inc()
	} else {
		ConnectedClients.Dec()
	}
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer, logger *zap.Logger) error {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
