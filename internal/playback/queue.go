package playback

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/voicectl/server/domain/entities"
)

// ErrQueueClosed is returned by Enqueue after the queue stopped.
var ErrQueueClosed = errors.New("playback queue closed")

const defaultQueueSize = 64

// Channel is a session's outbound side together with its ordered queue.
// Producers outside the connection speak to the device only through it.
type Channel interface {
	Sink
	Enqueue(ctx context.Context, item entities.PlaybackItem) error
}

// Queue serializes playback for one session. Producers enqueue items from
// any goroutine; a single worker plays them in order.
type Queue struct {
	sched *Scheduler
	sess  *entities.Session
	sink  Sink
	items chan entities.PlaybackItem
	done  chan struct{}
	once  sync.Once
}

// NewQueue creates the playback queue of a session. size <= 0 uses 64.
func (s *Scheduler) NewQueue(sess *entities.Session, sink Sink, size int) *Queue {
	if size <= 0 {
		size = defaultQueueSize
	}
	return &Queue{
		sched: s,
		sess:  sess,
		sink:  sink,
		items: make(chan entities.PlaybackItem, size),
		done:  make(chan struct{}),
	}
}

// Enqueue adds an item, waiting for room if the queue is full.
func (q *Queue) Enqueue(ctx context.Context, item entities.PlaybackItem) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}
	select {
	case q.items <- item:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run plays items until ctx is cancelled or Stop is called.
func (q *Queue) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.done:
			return
		case item := <-q.items:
			if err := q.sched.Play(ctx, q.sess, q.sink, item); err != nil {
				q.sched.logger.Warn("Playback item failed",
					zap.String("sessionID", q.sess.ID()),
					zap.Stringer("type", item.Type),
					zap.Error(err))
			}
		}
	}
}

// Stop ends the worker. Queued items are discarded.
func (q *Queue) Stop() {
	q.once.Do(func() { close(q.done) })
}
