// Package publish delivers battery state records to the battery_state channel.
package publish

import (
	"context"
	"errors"
	"sync"

	"github.com/TheCacophonyProject/ups-battery-monitor/batterystate"
	"github.com/sirupsen/logrus"
)

const (
	// Channel is the name records are published under.
	Channel = "battery_state"

	// DefaultQueueSize is how many records can be waiting for delivery.
	DefaultQueueSize = 5
)

var ErrQueueClosed = errors.New("publish queue closed")

// Sink delivers a record to subscribers.
type Sink interface {
	Name() string
	Send(ctx context.Context, record batterystate.Record) error
}

// Queue buffers records for delivery to sinks. When full the oldest waiting
// record is dropped, so Publish never blocks.
type Queue struct {
	sinks []Sink
	log   *logrus.Logger

	mu      sync.Mutex
	pending []batterystate.Record
	size    int
	closed  bool
	dropped int
	ready   chan struct{}
}

func NewQueue(size int, log *logrus.Logger, sinks ...Sink) *Queue {
	if size < 1 {
		size = 1
	}
	return &Queue{
		sinks:   sinks,
		log:     log,
		size:    size,
		pending: make([]batterystate.Record, 0, size),
		ready:   make(chan struct{}, 1),
	}
}

// Publish queues a record for delivery.
func (q *Queue) Publish(record batterystate.Record) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	if len(q.pending) == q.size {
		q.pending = q.pending[1:]
		q.dropped++
		q.log.Debugf("Publish queue full, dropped oldest record (%d dropped in total)", q.dropped)
	}
	q.pending = append(q.pending, record)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return nil
}

// Dropped returns how many records have been dropped because the queue was full.
func (q *Queue) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Run delivers queued records until ctx is cancelled. Records still waiting then are discarded.
func (q *Queue) Run(ctx context.Context) {
	defer q.close()
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.ready:
		}
		for {
			record, ok := q.pop()
			if !ok {
				break
			}
			q.deliver(ctx, record)
			if ctx.Err() != nil {
				return
			}
		}
	}
}

func (q *Queue) pop() (batterystate.Record, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return batterystate.Record{}, false
	}
	record := q.pending[0]
	q.pending = q.pending[1:]
	return record, true
}

func (q *Queue) deliver(ctx context.Context, record batterystate.Record) {
	for _, sink := range q.sinks {
		if err := sink.Send(ctx, record); err != nil {
			q.log.WithError(err).Warnf("Failed to send battery state to %s", sink.Name())
		}
	}
}

func (q *Queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.pending = nil
}
