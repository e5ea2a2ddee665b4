// Package worker provides the Worker type for batch message processing.
//
// This package includes:
//   - Worker: consumes queues and routes deliveries to the parallel or
//     chain processor configured for each queue
//   - WorkerOption: queue, concurrency, and cleanup configuration
//   - A cron-driven cleanup pass for old terminal batches
//
// Most users should import the root package github.com/tobren/batchq
// which provides NewWorker().
package worker
