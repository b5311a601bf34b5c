package engine

import (
	"sync"
	"time"
)

// DefaultControlsHideDelay is how long after the last interaction the
// controls overlay stays visible during playback.
const DefaultControlsHideDelay = 3 * time.Second

// controlsTimer implements the controls auto-hide policy: every user
// interaction shows the controls and reschedules the hide timer, and
// hiding is suppressed entirely while paused.
type controlsTimer struct {
	paused func() bool
	delay  time.Duration

	mu      sync.Mutex
	shown   bool
	timer   *time.Timer
	stopped bool
}

func newControlsTimer(paused func() bool) *controlsTimer {
	return &controlsTimer{
		paused: paused,
		delay:  DefaultControlsHideDelay,
		shown:  true,
	}
}

// interact shows the controls and restarts the hide countdown. While
// paused no countdown is scheduled: controls stay up until playback
// resumes and another interaction arrives.
func (c *controlsTimer) interact() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.shown = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.paused() {
		return
	}
	c.timer = time.AfterFunc(c.delay, c.hide)
}

func (c *controlsTimer) hide() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped || c.paused() {
		return
	}
	c.shown = false
}

func (c *controlsTimer) visible() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shown
}

// stop invalidates any pending hide and freezes the timer.
func (c *controlsTimer) stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}
