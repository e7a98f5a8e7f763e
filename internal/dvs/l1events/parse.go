package l1events

import (
	"encoding/binary"
	"time"
)

// eDVS 4337 "E4" record layout, 6 bytes per event:
//
//	byte 0: 1yyyyyyy   sync bit, 7-bit row
//	byte 1: pxxxxxxx   polarity (0 = on, 1 = off), 7-bit column
//	byte 2-5:          32-bit big-endian timestamp in microseconds
const (
	RecordSize = 6

	syncMask     = 0x80
	addrMask     = 0x7f
	polarityMask = 0x80
)

// DecoderStats counts decoder anomalies.
type DecoderStats struct {
	Records  uint64 // records decoded
	Resyncs  uint64 // bytes skipped looking for a sync bit
	Rollover uint64 // 32-bit timestamp wraps unwrapped
}

// Decoder turns an eDVS byte stream into events. Records may be split
// across calls to Decode; a partial trailing record is buffered until the
// rest arrives. A Decoder is not safe for concurrent use.
type Decoder struct {
	pending []byte
	lastRaw uint32
	epoch   uint64
	started bool
	stats   DecoderStats
}

// NewDecoder returns a Decoder starting at timestamp epoch zero.
func NewDecoder() *Decoder {
	return &Decoder{pending: make([]byte, 0, RecordSize)}
}

// Decode consumes data and calls emit for every complete record, in order.
// It returns the number of events emitted.
func (d *Decoder) Decode(data []byte, emit func(Event)) int {
	n := 0
	for len(data) > 0 {
		if len(d.pending) == 0 {
			// Fast path over whole records.
			for len(data) >= RecordSize && data[0]&syncMask != 0 {
				emit(d.record(data[:RecordSize]))
				data = data[RecordSize:]
				n++
			}
			if len(data) == 0 {
				break
			}
			if data[0]&syncMask == 0 {
				d.stats.Resyncs++
				data = data[1:]
				continue
			}
		}

		take := RecordSize - len(d.pending)
		if take > len(data) {
			take = len(data)
		}
		d.pending = append(d.pending, data[:take]...)
		data = data[take:]
		if len(d.pending) == RecordSize {
			emit(d.record(d.pending))
			d.pending = d.pending[:0]
			n++
		}
	}
	return n
}

// DiscardPartial drops any buffered partial record and returns how many
// bytes were discarded. Datagram sources call it after every packet so a
// truncated datagram cannot misalign the next one.
func (d *Decoder) DiscardPartial() int {
	n := len(d.pending)
	d.pending = d.pending[:0]
	return n
}

// Reset discards buffered bytes and timestamp history.
func (d *Decoder) Reset() {
	d.pending = d.pending[:0]
	d.lastRaw = 0
	d.epoch = 0
	d.started = false
}

// Stats returns a copy of the decoder counters.
func (d *Decoder) Stats() DecoderStats { return d.stats }

func (d *Decoder) record(b []byte) Event {
	raw := binary.BigEndian.Uint32(b[2:6])
	if d.started && raw < d.lastRaw && d.lastRaw-raw > 1<<31 {
		d.epoch += 1 << 32
		d.stats.Rollover++
	}
	d.started = true
	d.lastRaw = raw
	d.stats.Records++

	pol := PolarityOn
	if b[1]&polarityMask != 0 {
		pol = PolarityOff
	}
	return Event{
		X:         int(b[1] & addrMask),
		Y:         int(b[0] & addrMask),
		Timestamp: time.Duration(d.epoch+uint64(raw)) * time.Microsecond,
		Polarity:  pol,
	}
}

// AppendRecord encodes e in eDVS E4 format and appends it to dst.
// Coordinates are truncated to 7 bits and the timestamp to 32 bits of
// microseconds.
func AppendRecord(dst []byte, e Event) []byte {
	b1 := byte(e.X) & addrMask
	if e.Polarity == PolarityOff {
		b1 |= polarityMask
	}
	dst = append(dst, syncMask|byte(e.Y)&addrMask, b1)
	return binary.BigEndian.AppendUint32(dst, uint32(e.Timestamp/time.Microsecond))
}
