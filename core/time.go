// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"time"
)

// NewTime creates a new time service
func NewTime(cfg TimeConfiguration) *Time {
	var interval time.Duration
	if cfg.FramesPerSecond <= 0 {
		interval = time.Nanosecond
	} else {
		interval = time.Second / time.Duration(cfg.FramesPerSecond)
	}

	pollDelay := cfg.EventPollDelay.Std()
	if pollDelay <= 0 {
		pollDelay = interval
	}

	return &Time{
		fps:            cfg.FramesPerSecond,
		frameInterval:  interval,
		fpsTicker:      time.NewTicker(interval),
		eventPollDelay: pollDelay,
		eventTicker:    time.NewTicker(pollDelay),
		started:        time.Now(),
	}
}

// Time contains all the time services and tickers
type Time struct {
	fps           int
	frameInterval time.Duration
	fpsTicker     *time.Ticker

	eventPollDelay time.Duration
	eventTicker    *time.Ticker

	started time.Time
	frames  uint64
}

// Fps gets the set frames per second
func (t *Time) Fps() int {
	return t.fps
}

// FpsTicker gets the initialized fps ticker
func (t *Time) FpsTicker() *time.Ticker {
	return t.fpsTicker
}

// EventTicker gets the initialized event ticker for the event loop
func (t *Time) EventTicker() *time.Ticker {
	return t.eventTicker
}

// Frame marks the start of a frame and returns its sequence number.
// Only the frame loop calls it.
func (t *Time) Frame() uint64 {
	t.frames++
	return t.frames
}

// FrameBudget returns the share of one frame interval that per frame
// work such as uploads may spend, fraction is clamped to (0, 1].
func (t *Time) FrameBudget(fraction float64) time.Duration {
	if t.fps == 0 {
		return 0
	}
	if fraction <= 0 || fraction > 1 {
		fraction = 1
	}
	return time.Duration(float64(t.frameInterval) * fraction)
}

// Uptime returns the time since the service was created.
func (t *Time) Uptime() time.Duration {
	return time.Since(t.started)
}

// Stop releases the tickers.
func (t *Time) Stop() {
	t.fpsTicker.Stop()
	t.eventTicker.Stop()
}
