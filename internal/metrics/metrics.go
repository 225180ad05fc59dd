// Package metrics exposes Prometheus collectors for the reassembly service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counter metrics (monotonically increasing)
var (
	// ChunksReceivedTotal counts individual chunks stored
	ChunksReceivedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shardlift_chunks_received_total",
			Help: "Total number of file chunks received and stored",
		},
	)

	// FinalizesTotal counts finalize requests by status (success, failure)
	FinalizesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shardlift_finalizes_total",
			Help: "Total number of finalize requests",
		},
		[]string{"status"},
	)

	// ErrorsTotal counts application errors by type
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shardlift_errors_total",
			Help: "Total number of application errors",
		},
		[]string{"type"},
	)
)

// Histogram metrics (distributions)
var (
	// UploadSizeBytes tracks distribution of reassembled file sizes
	UploadSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "shardlift_upload_size_bytes",
			Help: "Distribution of reassembled file sizes in bytes",
			Buckets: []float64{
				1024,         // 1 KB
				102400,       // 100 KB
				1048576,      // 1 MB
				10485760,     // 10 MB
				104857600,    // 100 MB
				1073741824,   // 1 GB
				10737418240,  // 10 GB
			},
		},
	)
)
