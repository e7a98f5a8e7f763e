// Package l4peaks owns Layer 4 (Peaks) of the DVS data model.
//
// Responsibilities: selecting the strongest, mutually separated maxima from
// a full scan of a confidence map.
// Key types: Peak, PeakSet, Finder.
//
// Dependency rule: L4 may depend on L1-L3, but never on L5+.
package l4peaks
