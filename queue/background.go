// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package queue

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

// NewBackground starts workers goroutines that decode submitted requests
// in submission order and pass uploads on to uploads.
func NewBackground(workers int, uploads Submitter, logger log.FieldLogger) *Background {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	q := &Background{
		uploads: uploads,
		logger:  logger,
	}
	q.cond = sync.NewCond(&q.mutex)

	q.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go q.worker()
	}
	return q
}

// Background is an unbounded FIFO of load requests served by a fixed
// set of workers. Submit never blocks.
type Background struct {
	mutex   sync.Mutex
	cond    *sync.Cond
	items   []LoadRequest
	closed  bool
	running int

	wg      sync.WaitGroup
	uploads Submitter
	logger  log.FieldLogger
}

// Submit moves the request's handle to PendingDecode and queues it.
func (q *Background) Submit(req LoadRequest) error {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if q.closed {
		return ErrClosed
	}
	if err := req.Handle.Submit(); err != nil {
		return err
	}
	q.items = append(q.items, req)
	q.cond.Signal()
	return nil
}

// Pending returns the number of requests queued or being decoded.
func (q *Background) Pending() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return len(q.items) + q.running
}

// Close stops accepting requests and waits until every queued one has
// been decoded. In-flight work is never cancelled.
func (q *Background) Close() {
	q.mutex.Lock()
	if q.closed {
		q.mutex.Unlock()
		return
	}
	q.closed = true
	q.cond.Broadcast()
	q.mutex.Unlock()

	q.wg.Wait()
}

func (q *Background) worker() {
	defer q.wg.Done()

	for {
		q.mutex.Lock()
		for len(q.items) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.items) == 0 {
			q.mutex.Unlock()
			return
		}
		req := q.items[0]
		q.items[0] = LoadRequest{}
		q.items = q.items[1:]
		q.running++
		q.mutex.Unlock()

		Decode(req, q.uploads, q.logger)

		q.mutex.Lock()
		q.running--
		q.mutex.Unlock()
	}
}
