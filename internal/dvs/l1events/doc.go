// Package l1events owns Layer 1 (Events) of the DVS data model.
//
// Responsibilities: the Event value type, the single-producer/single-consumer
// EventQueue that decouples capture from processing, and the eDVS wire
// decoder that turns sensor bytes into events.
// Key types: Event, Polarity, EventQueue, Decoder.
//
// Dependency rule: L1 depends on nothing above it. Transport adapters
// (UDP, serial, pcap) live in the network subpackage.
package l1events
