/*
Package metrics provides Prometheus metrics collection for clouddrive.

# Overview

Every filesystem operation (info, list, create, upload, delete, download, move, search) and
every object store call is recorded with its duration, transferred bytes and outcome. Errors
are counted by their error code so dashboards can tell validation failures from storage
malfunctions.

	┌─────────────┐
	│  Collector  │  ← own Prometheus registry
	└──────┬──────┘
	       │
	┌──────▼───────┐         ┌─────────────────┐
	│  Counters    │ ──────▶ │  GET /metrics   │
	│  Histograms  │         │  (promhttp)     │
	└──────────────┘         └─────────────────┘

# Usage

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   true,
		Namespace: "clouddrive",
	})
	if err != nil {
		return err
	}
	mux.Handle("/metrics", collector.Handler())

	start := time.Now()
	err = doUpload()
	collector.RecordOperation("upload", time.Since(start), size, err == nil)
	collector.RecordError("upload", err)

# Exported Series

	clouddrive_operations_total{operation,status}
	clouddrive_operation_duration_seconds{operation}
	clouddrive_operation_size_bytes{operation}
	clouddrive_errors_total{operation,code}
	clouddrive_lock_wait_seconds{backend,result}

A disabled collector accepts every call and records nothing.
*/
package metrics
