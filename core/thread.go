// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"runtime"

	"github.com/devblok/korures/resource"
	log "github.com/sirupsen/logrus"
)

// ThreadID identifies an OS thread.
type ThreadID int64

// CurrentThread returns the id of the OS thread running the caller.
// It is only stable for goroutines locked with runtime.LockOSThread.
func CurrentThread() ThreadID {
	return currentThread()
}

// Guard records the thread that owns the graphics and audio contexts
// and checks every context bound call against it.
type Guard struct {
	owner  ThreadID
	strict bool
	logger log.FieldLogger
}

// BindOwner locks the calling goroutine to its OS thread and makes that
// thread the context owner. With strict set violations panic, otherwise
// they are logged and the call is refused.
func BindOwner(strict bool, logger log.FieldLogger) *Guard {
	runtime.LockOSThread()
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Guard{
		owner:  CurrentThread(),
		strict: strict,
		logger: logger,
	}
}

// Owner returns the owning thread.
func (g *Guard) Owner() ThreadID {
	return g.owner
}

// IsOwner reports whether the caller runs on the owning thread.
func (g *Guard) IsOwner() bool {
	return CurrentThread() == g.owner
}

// Enter checks that op runs on the owning thread.
func (g *Guard) Enter(op string) error {
	caller := CurrentThread()
	if caller == g.owner {
		return nil
	}
	violation := &resource.ThreadingViolation{
		Op:     op,
		Owner:  int64(g.owner),
		Caller: int64(caller),
	}
	if g.strict {
		panic(violation)
	}
	g.logger.WithFields(log.Fields{
		"op":     op,
		"owner":  g.owner,
		"caller": caller,
	}).Error("context call from foreign thread refused")
	return violation
}

// Release unlocks the owning goroutine from its thread. Must be called by the owner.
func (g *Guard) Release() {
	if g.IsOwner() {
		runtime.UnlockOSThread()
	}
}
