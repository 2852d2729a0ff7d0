// Package metrics exposes packet counters for one measurement run,
// labeled by a per-run session id.
package metrics

import (
	"encoding/json"
	"net/http"

	"github.com/gologme/log"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

var (
	PacketsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "udpmeter_packets_received_total",
			Help: "Datagrams received and logged",
		},
		[]string{"session"},
	)

	BytesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "udpmeter_bytes_received_total",
			Help: "Payload bytes received and logged",
		},
		[]string{"session"},
	)

	PacketsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "udpmeter_packets_dropped_total",
			Help: "Datagrams dropped without logging, by reason",
		},
		[]string{"session", "reason"},
	)

	EchoesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "udpmeter_echoes_sent_total",
			Help: "Datagrams echoed back to their sender",
		},
		[]string{"session"},
	)

	PacketsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "udpmeter_packets_sent_total",
			Help: "Datagrams transmitted by the pacing scheduler",
		},
		[]string{"session"},
	)

	SendErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "udpmeter_send_errors_total",
			Help: "Transmit failures, transient or fatal",
		},
		[]string{"session"},
	)
)

func init() {
	prometheus.MustRegister(PacketsReceived, BytesReceived, PacketsDropped, EchoesSent, PacketsSent, SendErrors)
}

// NewSession returns a fresh id labeling one run's metrics and logs.
func NewSession() string {
	return uuid.NewString()
}

// Serve exposes /metrics and /status on addr in the background. The
// returned server can be shut down by the caller.
func Serve(addr string, status func() string, logger *log.Logger) *http.Server {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(struct {
			Status string `json:"status"`
		}{Status: status()})
	})

	h2server := &http2.Server{}
	srv := &http.Server{
		Addr:    addr,
		Handler: h2c.NewHandler(r, h2server),
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorln("metrics server:", err)
		}
	}()
	return srv
}
