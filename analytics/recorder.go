package analytics

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	defaultQueueSize = 1024
	writeTimeout     = 5 * time.Second
)

// Recorder writes page views in the background so request handling never
// waits on the database. When the queue is full, views are dropped.
type Recorder struct {
	store *Store
	log   *zap.Logger
	queue chan PageView

	mu     sync.RWMutex
	closed bool
	done   chan struct{}

	// inflight counts views accepted but not yet written.
	flushMu  sync.Mutex
	idle     *sync.Cond
	inflight int

	dropped atomic.Uint64
	failed  atomic.Uint64
}

// NewRecorder starts a recorder with a queue of size views (default 1024).
func NewRecorder(store *Store, size int, logger *zap.Logger) *Recorder {
	if size <= 0 {
		size = defaultQueueSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Recorder{
		store: store,
		log:   logger.Named("recorder"),
		queue: make(chan PageView, size),
		done:  make(chan struct{}),
	}
	r.idle = sync.NewCond(&r.flushMu)
	go r.run()
	return r
}

// Record enqueues v without blocking. The timestamp is taken now, not when
// the view is written.
func (r *Recorder) Record(v PageView) {
	if v.Timestamp.IsZero() {
		v.Timestamp = r.store.Now()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.dropped.Add(1)
		return
	}

	r.begin()
	select {
	case r.queue <- v:
	default:
		r.end()
		r.dropped.Add(1)
		r.log.Debug("page view dropped, queue full", zap.String("page", v.PageName))
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for v := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := r.store.Record(ctx, v); err != nil {
			r.failed.Add(1)
			r.log.Warn("record page view failed", zap.String("page", v.PageName), zap.Error(err))
		}
		cancel()
		r.end()
	}
}

func (r *Recorder) begin() {
	r.flushMu.Lock()
	r.inflight++
	r.flushMu.Unlock()
}

func (r *Recorder) end() {
	r.flushMu.Lock()
	r.inflight--
	if r.inflight == 0 {
		r.idle.Broadcast()
	}
	r.flushMu.Unlock()
}

// Flush blocks until no accepted view is waiting to be written. It may be
// called while other goroutines keep recording; it then returns the first
// time the queue runs empty.
func (r *Recorder) Flush() {
	r.flushMu.Lock()
	for r.inflight > 0 {
		r.idle.Wait()
	}
	r.flushMu.Unlock()
}

// Close stops accepting views, writes what is queued and stops the worker.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()
	<-r.done
}

// Pending returns the number of queued views.
func (r *Recorder) Pending() int {
	return len(r.queue)
}

// Dropped returns how many views were discarded.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// Failed returns how many views could not be written.
func (r *Recorder) Failed() uint64 {
	return r.failed.Load()
}
