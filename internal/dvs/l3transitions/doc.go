// Package l3transitions owns Layer 3 (Transitions) of the DVS data model.
//
// Responsibilities: turning the raw event stream into per-pixel polarity
// transitions and same-polarity intervals.
// Key types: Transition, Interval, TransitionExtractor, IntervalExtractor.
//
// Dependency rule: L3 may depend on L1-L2, but never on L4+.
package l3transitions
