// Package metrics — счётчики синхронизации для /metrics отладочного сервера.
// Nil *Metrics допустим: все методы становятся no-op.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/messenger/chansync/internal/model"
)

type Metrics struct {
	registry   *prometheus.Registry
	requests   *prometheus.CounterVec
	skipped    *prometheus.CounterVec
	failures   *prometheus.CounterVec
	fallbacks  prometheus.Counter
	created    *prometheus.CounterVec
	reused     prometheus.Counter
	encryption *prometheus.GaugeVec
	events     *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chansync", Name: "fetch_requests_total",
			Help: "Remote calls issued by resolution tasks.",
		}, []string{"task"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chansync", Name: "fetch_skipped_total",
			Help: "Tasks completed as no-op because a guard or claim refused them.",
		}, []string{"task"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chansync", Name: "fetch_failures_total",
			Help: "Resolution task failures.",
		}, []string{"task"}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chansync", Name: "encrypted_read_fallbacks_total",
			Help: "Single-channel reads that fell back from encrypted to plain.",
		}),
		created: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chansync", Name: "channels_created_total",
			Help: "Channels created by the conversation orchestrator.",
		}, []string{"mode"}),
		reused: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chansync", Name: "channels_reused_total",
			Help: "Conversation requests resolved to an existing channel.",
		}),
		encryption: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "chansync", Name: "encryption_status",
			Help: "1 for the current encryption status, 0 otherwise.",
		}, []string{"status"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chansync", Name: "realtime_events_total",
			Help: "Realtime events applied to the channel store.",
		}, []string{"type"}),
	}
	m.registry.MustRegister(m.requests, m.skipped, m.failures, m.fallbacks, m.created, m.reused, m.encryption, m.events)
	return m
}

func (m *Metrics) Request(task string) {
	if m != nil {
		m.requests.WithLabelValues(task).Inc()
	}
}

func (m *Metrics) Skipped(task string) {
	if m != nil {
		m.skipped.WithLabelValues(task).Inc()
	}
}

func (m *Metrics) Failed(task string) {
	if m != nil {
		m.failures.WithLabelValues(task).Inc()
	}
}

func (m *Metrics) EncryptedReadFallback() {
	if m != nil {
		m.fallbacks.Inc()
	}
}

// ChannelCreated: mode — "encrypted" или "plain".
func (m *Metrics) ChannelCreated(mode string) {
	if m != nil {
		m.created.WithLabelValues(mode).Inc()
	}
}

func (m *Metrics) ChannelReused() {
	if m != nil {
		m.reused.Inc()
	}
}

func (m *Metrics) EncryptionStatus(s model.EncryptionStatus) {
	if m == nil {
		return
	}
	for _, st := range []model.EncryptionStatus{
		model.EncryptionPending, model.EncryptionKeyManagerInitialized, model.EncryptionPolling,
		model.EncryptionEnabled, model.EncryptionDisabled,
	} {
		v := 0.0
		if st == s {
			v = 1
		}
		m.encryption.WithLabelValues(string(st)).Set(v)
	}
}

func (m *Metrics) Event(eventType string) {
	if m != nil {
		m.events.WithLabelValues(eventType).Inc()
	}
}

// Handler отдаёт метрики в формате Prometheus.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry нужен тестам для чтения значений.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
