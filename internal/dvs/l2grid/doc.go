// Package l2grid owns Layer 2 (Grid) of the DVS data model.
//
// Responsibilities: fixed-size per-pixel storage with an explicit "never
// written" state, and coordinate validation.
// Key types: Grid.
//
// Dependency rule: L2 may depend on L1, but never on L3+.
package l2grid
