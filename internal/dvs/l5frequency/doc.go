// Package l5frequency owns Layer 5 (Frequency channels) of the DVS data
// model.
//
// Responsibilities: Gaussian interval weighting against a target period,
// per-channel confidence map accumulation, epoch timing, optional spatial
// smoothing and peak extraction.
// Key types: Channel, ChannelConfig, Filter, MapSnapshot.
//
// Dependency rule: L5 may depend on L1-L4, but never on the pipeline or
// any adapter package.
package l5frequency
