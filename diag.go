package main

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"i4.energy/across/wifigw/httpd"
	"i4.energy/across/wifigw/mqtt"
	"i4.energy/across/wifigw/wifi"
)

// Diagnostics serves the gateway's own observability endpoints over the
// host's network stack, separate from the traffic that rides the
// co-processor link.
type Diagnostics struct {
	Logger   *slog.Logger
	Registry *prometheus.Registry
	Device   *wifi.Device
	Web      *httpd.Server
	Session  *mqtt.Session // nil when MQTT is disabled
}

// ServeHTTP implements the http.Handler interface for the Diagnostics struct
func (d *Diagnostics) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(d.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", d.handleHealth)
	mux.HandleFunc("GET /status", d.handleStatus)
	mux.ServeHTTP(w, r)
}

func (d *Diagnostics) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !d.Device.LinkUp() {
		http.Error(w, "wifi link down", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleStatus reports the gateway's runtime state as JSON.
func (d *Diagnostics) handleStatus(w http.ResponseWriter, r *http.Request) {
	type StatusResponse struct {
		LinkUp       bool               `json:"link_up"`
		RingOverruns uint64             `json:"ring_overruns"`
		HTTP         httpd.Stats        `json:"http"`
		Connections  []httpd.Connection `json:"connections"`
		MQTT         *MQTTStatus        `json:"mqtt,omitempty"`
	}

	resp := StatusResponse{
		LinkUp:       d.Device.LinkUp(),
		RingOverruns: d.Device.Overruns(),
		HTTP:         d.Web.Stats(),
		Connections:  d.Web.Connections(),
	}
	if d.Session != nil {
		resp.MQTT = &MQTTStatus{
			Connected:         d.Session.Connected(),
			ClientID:          d.Session.ClientID(),
			AccumulatorResets: d.Session.AccumulatorResets(),
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		d.Logger.Error("Failed to encode status", "error", err)
	}
}

// MQTTStatus is the broker session slice of the status report.
type MQTTStatus struct {
	Connected         bool   `json:"connected"`
	ClientID          string `json:"client_id"`
	AccumulatorResets uint64 `json:"accumulator_resets"`
}
