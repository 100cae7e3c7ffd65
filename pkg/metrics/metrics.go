// Package metrics collects counters about workspace synchronization.
//
// A nil *Metrics is valid and records nothing, so components need not check
// whether metrics are enabled.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "vaultsync"

// Metrics groups the synchronization counters
type Metrics struct {
	SyncSteps       prometheus.Counter
	ManifestUploads *prometheus.CounterVec
	BlockUploads    prometheus.Counter
	BlockDownloads  prometheus.Counter
	UploadedBytes   prometheus.Counter
	Conflicts       *prometheus.CounterVec
	Reshapes        prometheus.Counter
}

// New builds the counters and registers them, when a registerer is provided
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		SyncSteps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_steps_total",
			Help:      "Number of synchronization steps run.",
		}),
		ManifestUploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "manifest_uploads_total",
			Help:      "Number of manifests uploaded, by outcome.",
		}, []string{"outcome"}),
		BlockUploads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "block_uploads_total",
			Help:      "Number of blocks uploaded.",
		}),
		BlockDownloads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "block_downloads_total",
			Help:      "Number of blocks downloaded.",
		}),
		UploadedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploaded_bytes_total",
			Help:      "Volume of block content uploaded.",
		}),
		Conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflicts_total",
			Help:      "Number of conflicts resolved, by kind.",
		}, []string{"kind"}),
		Reshapes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reshapes_total",
			Help:      "Number of file reshapes.",
		}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{
		m.SyncSteps, m.ManifestUploads, m.BlockUploads, m.BlockDownloads, m.UploadedBytes, m.Conflicts, m.Reshapes,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// MustNew builds the counters or panics
func MustNew(reg prometheus.Registerer) *Metrics {
	m, err := New(reg)
	if err != nil {
		panic(err)
	}
	return m
}

// SyncStep records a synchronization step
func (m *Metrics) SyncStep() {
	if m == nil {
		return
	}
	m.SyncSteps.Inc()
}

// ManifestUpload records an upload outcome: "ok" or "rejected"
func (m *Metrics) ManifestUpload(outcome string) {
	if m == nil {
		return
	}
	m.ManifestUploads.WithLabelValues(outcome).Inc()
}

// BlockUpload records an uploaded block
func (m *Metrics) BlockUpload(size int) {
	if m == nil {
		return
	}
	m.BlockUploads.Inc()
	m.UploadedBytes.Add(float64(size))
}

// BlockDownload records a downloaded block
func (m *Metrics) BlockDownload() {
	if m == nil {
		return
	}
	m.BlockDownloads.Inc()
}

// Conflict records a resolved conflict: "file" or "folder"
func (m *Metrics) Conflict(kind string) {
	if m == nil {
		return
	}
	m.Conflicts.WithLabelValues(kind).Inc()
}

// Reshape records a file reshape
func (m *Metrics) Reshape() {
	if m == nil {
		return
	}
	m.Reshapes.Inc()
}
