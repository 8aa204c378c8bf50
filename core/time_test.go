// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"testing"
	"time"
)

func TestNewTime(t *testing.T) {
	ts := NewTime(TimeConfiguration{FramesPerSecond: 50})
	defer ts.Stop()

	if ts.Fps() != 50 {
		t.Fatalf("fps not kept, got: %d", ts.Fps())
	}
	if ts.frameInterval != 20*time.Millisecond {
		t.Fatalf("bad frame interval: %s", ts.frameInterval)
	}
	if ts.eventPollDelay != ts.frameInterval {
		t.Fatalf("poll delay should default to the frame interval, got: %s", ts.eventPollDelay)
	}
	if got := ts.FrameBudget(0.25); got != 5*time.Millisecond {
		t.Fatalf("bad frame budget: %s", got)
	}
	if ts.Frame() != 1 || ts.Frame() != 2 {
		t.Fatal("frame counter does not advance")
	}
}

func TestUnlimitedTime(t *testing.T) {
	ts := NewTime(TimeConfiguration{EventPollDelay: Duration(time.Millisecond)})
	defer ts.Stop()

	if ts.FrameBudget(0.5) != 0 {
		t.Fatal("unlimited frame rate should not budget frames")
	}
	if ts.eventPollDelay != time.Millisecond {
		t.Fatalf("bad poll delay: %s", ts.eventPollDelay)
	}
}
