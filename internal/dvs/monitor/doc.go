// Package monitor exposes a running estimator for inspection: Prometheus
// metrics, the latest confidence map per channel as an HTML heatmap or PNG,
// and the latest peaks as JSON.
//
// Everything here is an adapter. It observes the estimator through
// pipeline.PeakSink and pipeline.Stats and never touches estimator state.
package monitor
