// Package metrics exposes sync, threading and task counters over prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the counters of one process. A nil *Metrics records nothing.
type Metrics struct {
	registry      *prometheus.Registry
	downloaded    *prometheus.CounterVec
	skipped       *prometheus.CounterVec
	threadChanges *prometheus.CounterVec
	tasks         *prometheus.CounterVec
	folderErrors  *prometheus.CounterVec
}

// New registers the counters on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		downloaded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailsync_messages_downloaded_total",
				Help: "Messages downloaded into the mirror.",
			},
			[]string{"account"},
		),
		skipped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailsync_messages_skipped_total",
				Help: "Messages skipped during download.",
			},
			[]string{
				"account",
				"reason", // size_limit, transport, uid_mismatch, invalid
			},
		),
		threadChanges: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailsync_thread_changes_total",
				Help: "Messages whose thread id changed.",
			},
			[]string{"account"},
		),
		tasks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailsync_tasks_total",
				Help: "Tasks executed against the server, by outcome.",
			},
			[]string{"type", "status"},
		),
		folderErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailsync_folder_errors_total",
				Help: "Folders whose sync failed.",
			},
			[]string{"account"},
		),
	}
}

// MessageDownloaded counts one downloaded message
func (m *Metrics) MessageDownloaded(account string) {
	if m == nil {
		return
	}
	m.downloaded.WithLabelValues(account).Inc()
}

// MessageSkipped counts one skipped message
func (m *Metrics) MessageSkipped(account, reason string) {
	if m == nil {
		return
	}
	m.skipped.WithLabelValues(account, reason).Inc()
}

// FolderFailed counts one failed folder sync
func (m *Metrics) FolderFailed(account string) {
	if m == nil {
		return
	}
	m.folderErrors.WithLabelValues(account).Inc()
}

// TaskFinished counts one executed task by type and resulting status
func (m *Metrics) TaskFinished(taskType, status string) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(taskType, status).Inc()
}

// ThreadChanged implements the thread notifier
func (m *Metrics) ThreadChanged(account string, messageID, threadID int64) {
	if m == nil {
		return
	}
	m.threadChanges.WithLabelValues(account).Inc()
}

// Registry returns the registry the counters live in
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the counters in the prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
