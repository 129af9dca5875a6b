package distributed

import (
	"sync"
	"time"
)

// outboxConfig mirrors microbatch's BatcherConfig shape (MaxSize,
// FlushInterval, MaxConcurrency), adapted in-tree rather than imported
// directly: microbatch's Batcher[Job] flushes one batch through a single
// callback, whereas the outbox must fan a batch out per-destination peer
// and tolerate a peer connection being down without blocking the others.
type outboxConfig struct {
	MaxSize        int
	FlushInterval  time.Duration
	MaxConcurrency int
}

func defaultOutboxConfig() outboxConfig {
	return outboxConfig{MaxSize: 32, FlushInterval: 20 * time.Millisecond, MaxConcurrency: 4}
}

// outboundJob is one queued RCI call, channel delivery, or monitor signal
// addressed to a peer.
type outboundJob struct {
	kind    string
	payload any
}

// peerQueue buffers outboundJobs for one peer and flushes them in batches,
// either when MaxSize is reached or FlushInterval elapses, whichever comes
// first - the same two triggers microbatch.Batcher uses.
type peerQueue struct {
	mu      sync.Mutex
	pending []outboundJob
	timer   *time.Timer
	cfg     outboxConfig
	flush   func([]outboundJob)
}

func newPeerQueue(cfg outboxConfig, flush func([]outboundJob)) *peerQueue {
	return &peerQueue{cfg: cfg, flush: flush}
}

func (q *peerQueue) enqueue(job outboundJob) {
	q.mu.Lock()
	q.pending = append(q.pending, job)
	full := len(q.pending) >= q.cfg.MaxSize
	if !full && q.timer == nil {
		q.timer = time.AfterFunc(q.cfg.FlushInterval, q.flushNow)
	}
	q.mu.Unlock()
	if full {
		q.flushNow()
	}
}

func (q *peerQueue) flushNow() {
	q.mu.Lock()
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	batch := q.pending
	q.pending = nil
	q.mu.Unlock()
	if len(batch) > 0 {
		q.flush(batch)
	}
}

// outbox fans outboundJobs out to per-peer queues, bounding the number of
// peers flushing concurrently to cfg.MaxConcurrency.
type outbox struct {
	mu     sync.Mutex
	cfg    outboxConfig
	queues map[string]*peerQueue
	sem    chan struct{}
	send   func(peer string, batch []outboundJob)
}

func newOutbox(cfg outboxConfig, send func(peer string, batch []outboundJob)) *outbox {
	return &outbox{
		cfg:    cfg,
		queues: make(map[string]*peerQueue),
		sem:    make(chan struct{}, cfg.MaxConcurrency),
		send:   send,
	}
}

func (o *outbox) enqueue(peer string, job outboundJob) {
	o.mu.Lock()
	q, ok := o.queues[peer]
	if !ok {
		q = newPeerQueue(o.cfg, func(batch []outboundJob) {
			o.sem <- struct{}{}
			defer func() { <-o.sem }()
			o.send(peer, batch)
		})
		o.queues[peer] = q
	}
	o.mu.Unlock()
	q.enqueue(job)
}
