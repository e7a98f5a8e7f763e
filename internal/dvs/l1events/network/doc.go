// Package network contains the event sources that feed an EventQueue: a UDP
// listener, a PCAP replayer and an eDVS serial reader. Each source decodes
// eDVS records with l1events.Decoder and is the single producer of its
// queue.
package network
