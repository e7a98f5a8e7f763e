// Package pipeline provides the streaming frequency estimator that
// orchestrates the DVS layers from L1 Events through L5 Frequency channels.
//
// This package is the composition root: it imports from layer packages
// (l1events, l2grid, l3transitions, l4peaks, l5frequency) and none of
// them import pipeline/. Adapters (monitor, storage) receive results through
// the PeakSink interface and are never imported here.
package pipeline
