// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package queue

import (
	"sync"
	"time"

	"github.com/devblok/korures/core"
	"github.com/devblok/korures/resource"
	log "github.com/sirupsen/logrus"
)

// Budget limits one Drain. Zero fields are unbounded.
type Budget struct {
	MaxItems int
	MaxTime  time.Duration
}

// NewBound creates an upload queue owned by the thread guard was bound on.
func NewBound(guard *core.Guard, logger log.FieldLogger) *Bound {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Bound{
		guard:  guard,
		logger: logger,
	}
}

// Bound is a FIFO of uploads that any goroutine may fill and only the
// owning thread may drain.
type Bound struct {
	guard *core.Guard

	mutex sync.Mutex
	items []UploadRequest

	onLoaded func(*resource.Handle)
	logger   log.FieldLogger
}

// Submit queues an upload. Safe from any goroutine.
func (q *Bound) Submit(req UploadRequest) {
	q.mutex.Lock()
	q.items = append(q.items, req)
	q.mutex.Unlock()
}

// Len returns the number of uploads waiting.
func (q *Bound) Len() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return len(q.items)
}

// OnLoaded registers fn to run on the owning thread after every
// successful upload.
func (q *Bound) OnLoaded(fn func(*resource.Handle)) {
	q.onLoaded = fn
}

// Drain executes queued uploads in order until the queue is empty or the
// budget runs out and returns how many ran. The rest wait for the next
// call. It never blocks waiting for work.
func (q *Bound) Drain(budget Budget) int {
	if err := q.guard.Enter("queue.Drain"); err != nil {
		return 0
	}

	start := time.Now()
	var n int
	for {
		if budget.MaxItems > 0 && n >= budget.MaxItems {
			break
		}
		if budget.MaxTime > 0 && n > 0 && time.Since(start) >= budget.MaxTime {
			break
		}
		req, ok := q.pop()
		if !ok {
			break
		}
		q.execute(req)
		n++
	}
	return n
}

// Execute runs a single upload right away. Owner thread only.
func (q *Bound) Execute(req UploadRequest) error {
	if err := q.guard.Enter("queue.Execute"); err != nil {
		return err
	}
	q.execute(req)
	return nil
}

func (q *Bound) pop() (UploadRequest, bool) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if len(q.items) == 0 {
		return UploadRequest{}, false
	}
	req := q.items[0]
	q.items[0] = UploadRequest{}
	q.items = q.items[1:]
	return req, true
}

func (q *Bound) execute(req UploadRequest) {
	h := req.Handle
	fields := log.Fields{"path": h.Key(), "kind": h.Kind()}

	if h.State() != resource.PendingUpload {
		logger := q.logger.WithFields(fields)
		logger.WithField("state", h.State()).Debug("upload skipped")
		return
	}

	out, err := safeUpload(req.Upload, req.Payload)
	if err != nil {
		if h.Fail(&resource.UploadError{Path: string(h.Key()), Err: err}) == nil {
			q.logger.WithFields(fields).WithError(err).Error("resource upload failed")
		}
		return
	}
	if err := h.Uploaded(out.IDs, out.Info); err != nil {
		q.logger.WithFields(fields).WithError(err).Warn("uploaded resource changed state")
		return
	}
	if q.onLoaded != nil {
		q.onLoaded(h)
	}
}
