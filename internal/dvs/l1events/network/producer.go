package network

import (
	"context"
	"errors"
	"time"

	"github.com/eternallovelin/dvs-tracking/internal/dvs/l1events"
)

// EventQueue is the producer side of l1events.EventQueue.
type EventQueue interface {
	TryEnqueue(e l1events.Event) error
}

// producer decodes bytes into events and pushes them onto the queue. In
// blocking mode a full queue is retried until space frees up or ctx ends;
// otherwise the event is dropped and counted (reject-newest).
type producer struct {
	queue    EventQueue
	decoder  *l1events.Decoder
	stats    SourceStatsInterface
	blocking bool
	retry    time.Duration
}

func newProducer(q EventQueue, stats SourceStatsInterface, blocking bool) *producer {
	if stats == nil {
		stats = noopStats{}
	}
	return &producer{
		queue:    q,
		decoder:  l1events.NewDecoder(),
		stats:    stats,
		blocking: blocking,
		retry:    100 * time.Microsecond,
	}
}

// feed decodes data and enqueues every complete record.
func (p *producer) feed(ctx context.Context, data []byte) {
	p.stats.AddPacket(len(data))
	enqueued, dropped := 0, 0
	p.decoder.Decode(data, func(e l1events.Event) {
		if p.push(ctx, e) {
			enqueued++
		} else {
			dropped++
		}
	})
	if enqueued > 0 {
		p.stats.AddEvents(enqueued)
	}
	if dropped > 0 {
		p.stats.AddDropped(dropped)
	}
}

func (p *producer) push(ctx context.Context, e l1events.Event) bool {
	for {
		err := p.queue.TryEnqueue(e)
		if err == nil {
			return true
		}
		if !p.blocking || !errors.Is(err, l1events.ErrQueueFull) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(p.retry):
		}
	}
}
