// Package abr implements the adaptive bitrate controller.
//
// The controller mediates between user-selected quality and the
// runtime's own adaptive selection. It owns the quality inventory
// derived from the manifest, the auto/manual mode, and the switching
// policy: upgrades switch the current level immediately and restore the
// playback position once the new level reaches the buffer, downgrades
// wait for the next fragment boundary so the visible quality never
// drops mid-frame.
package abr

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/randomizedcoder/go-hls-playback/internal/runtime"
)

// AutoLabel is the synthetic quality entry meaning "runtime picks".
const AutoLabel = "auto"

// Mode is the quality-selection mode.
type Mode int

const (
	ModeAuto   Mode = iota // Runtime-driven selection
	ModeManual             // User pinned a level
)

// String returns a human-readable name for the mode.
func (m Mode) String() string {
	switch m {
	case ModeAuto:
		return "auto"
	case ModeManual:
		return "manual"
	default:
		return "unknown"
	}
}

// Quality is one selectable rendition. Index refers to the runtime's
// level inventory, not the sorted display order.
type Quality struct {
	Height int
	Index  int
	Label  string // "<height>p"
}

// Element is the slice of the media surface the controller needs for
// the upgrade position-restore dance.
type Element interface {
	Paused() bool
	CurrentTime() float64
	Seek(seconds float64)
	Play()
}

// Status is a point-in-time snapshot of the controller.
type Status struct {
	Mode           Mode
	SelectedLabel  string // "auto" or the pinned "<height>p"
	DisplayedLabel string // Rendition currently feeding the buffer, "" before the first switch
	LevelCount     int
}

// restore captures where playback was when an upgrade forced a buffer
// discontinuity, so it can be resumed once the new level lands.
type restore struct {
	position float64
	level    int
}

// Controller owns quality selection for one bound source. Construct a
// fresh controller per source; the engine rebinds on source change.
type Controller struct {
	rt      runtime.Runtime
	element Element
	logger  *slog.Logger

	mu             sync.Mutex
	mode           Mode
	qualities      []Quality // Sorted descending by height
	levels         []runtime.Level
	manualIndex    int // Runtime level index, AutoLevel when unpinned
	displayedIndex int // Runtime-reported level, AutoLevel before first switch
	pending        *restore
}

// NewController creates a controller bound to one runtime instance and
// one media element.
func NewController(rt runtime.Runtime, element Element, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		rt:             rt,
		element:        element,
		logger:         logger,
		mode:           ModeAuto,
		manualIndex:    runtime.AutoLevel,
		displayedIndex: runtime.AutoLevel,
	}
}

// HandleEvent consumes one runtime event. Only manifest, level-switch,
// and fragment-buffered events are meaningful here; everything else is
// ignored.
func (c *Controller) HandleEvent(ev runtime.Event) {
	switch ev.Kind {
	case runtime.EventManifestParsed:
		c.setInventory(ev.Levels)
	case runtime.EventLevelSwitched:
		c.mu.Lock()
		c.displayedIndex = ev.Level
		c.mu.Unlock()
	case runtime.EventFragmentBuffered:
		c.maybeRestore(ev.Level)
	}
}

// setInventory rebuilds the quality list from a fresh manifest parse
// and resets the controller to auto mode, leaving the runtime
// unconstrained.
func (c *Controller) setInventory(levels []runtime.Level) {
	qualities := make([]Quality, 0, len(levels))
	for _, level := range levels {
		if level.Height <= 0 {
			continue
		}
		qualities = append(qualities, Quality{
			Height: level.Height,
			Index:  level.Index,
			Label:  fmt.Sprintf("%dp", level.Height),
		})
	}
	sort.SliceStable(qualities, func(i, j int) bool {
		return qualities[i].Height > qualities[j].Height
	})

	c.mu.Lock()
	c.levels = append([]runtime.Level(nil), levels...)
	c.qualities = qualities
	c.mode = ModeAuto
	c.manualIndex = runtime.AutoLevel
	c.displayedIndex = runtime.AutoLevel
	c.pending = nil
	c.mu.Unlock()

	c.logger.Debug("quality_inventory_built", "levels", len(qualities))
}

// maybeRestore completes a pending upgrade: once the runtime reports a
// fragment of the target level buffered, playback resumes at the
// captured position.
func (c *Controller) maybeRestore(level int) {
	c.mu.Lock()
	pending := c.pending
	if pending == nil || pending.level != level {
		c.mu.Unlock()
		return
	}
	c.pending = nil
	c.mu.Unlock()

	c.element.Seek(pending.position)
	c.element.Play()
	c.logger.Debug("upgrade_position_restored", "level", level, "position", pending.position)
}

// AvailableQualities returns the selectable labels, highest first, with
// the synthetic auto entry prepended.
func (c *Controller) AvailableQualities() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	labels := make([]string, 0, len(c.qualities)+1)
	labels = append(labels, AutoLabel)
	for _, q := range c.qualities {
		labels = append(labels, q.Label)
	}
	return labels
}

// CurrentQualityLabel returns the user's selection: the pinned label in
// manual mode, the auto entry otherwise.
func (c *Controller) CurrentQualityLabel() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode == ModeManual {
		return c.labelForLocked(c.manualIndex)
	}
	return AutoLabel
}

// Stats returns a snapshot of the controller state.
func (c *Controller) Stats() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	selected := AutoLabel
	if c.mode == ModeManual {
		selected = c.labelForLocked(c.manualIndex)
	}
	return Status{
		Mode:           c.mode,
		SelectedLabel:  selected,
		DisplayedLabel: c.labelForLocked(c.displayedIndex),
		LevelCount:     len(c.qualities),
	}
}

// SetQuality applies a user quality selection. Unknown labels are a
// silent no-op: the caller may be asking for a level the manifest has
// not offered yet.
func (c *Controller) SetQuality(label string) {
	if label == AutoLabel {
		c.setAuto()
		return
	}

	c.mu.Lock()
	target, ok := c.resolveLocked(label)
	if !ok {
		c.mu.Unlock()
		c.logger.Debug("quality_switch_noop", "label", label)
		return
	}

	currentHeight := c.heightForLocked(c.displayedIndex)
	c.mode = ModeManual
	c.manualIndex = target.Index

	upgrade := target.Height > currentHeight && currentHeight > 0
	paused := c.element.Paused()

	if upgrade && !paused {
		// The immediate current-level switch discards the buffer, so
		// remember where we were and resume once the new level has
		// appended.
		c.pending = &restore{position: c.element.CurrentTime(), level: target.Index}
	} else {
		c.pending = nil
	}
	c.mu.Unlock()

	switch {
	case upgrade:
		c.rt.SetCurrentLevel(target.Index)
		c.rt.SetNextLevel(target.Index)
		c.rt.SetLoadLevel(target.Index)
	case paused:
		// Downgrade while paused: nothing visible to disrupt, so the
		// next play should start at the new level right away.
		c.rt.SetCurrentLevel(target.Index)
		c.rt.SetNextLevel(target.Index)
		c.rt.SetLoadLevel(target.Index)
	default:
		// Downgrade while playing: defer to the next fragment boundary
		// so the drop is not visible mid-frame.
		c.rt.SetNextLevel(target.Index)
		c.rt.SetLoadLevel(target.Index)
	}

	c.logger.Debug("quality_selected",
		"label", label,
		"level", target.Index,
		"upgrade", upgrade,
		"paused", paused)
}

// setAuto returns level selection to the runtime. Idempotent: repeated
// calls in auto mode do not touch the runtime again, so no second
// discontinuity can occur.
func (c *Controller) setAuto() {
	c.mu.Lock()
	if c.mode == ModeAuto {
		c.mu.Unlock()
		return
	}
	c.mode = ModeAuto
	c.manualIndex = runtime.AutoLevel
	c.pending = nil
	c.mu.Unlock()

	c.rt.SetNextLevel(runtime.AutoLevel)
	c.rt.SetLoadLevel(runtime.AutoLevel)
	c.logger.Debug("quality_selected", "label", AutoLabel)
}

// resolveLocked finds the level matching a "<height>p" label. Levels
// sharing a height resolve to the lowest runtime index.
func (c *Controller) resolveLocked(label string) (Quality, bool) {
	var height int
	if _, err := fmt.Sscanf(label, "%dp", &height); err != nil || height <= 0 {
		return Quality{}, false
	}
	best := Quality{Index: -1}
	for _, q := range c.qualities {
		if q.Height != height {
			continue
		}
		if best.Index < 0 || q.Index < best.Index {
			best = q
		}
	}
	if best.Index < 0 {
		return Quality{}, false
	}
	return best, true
}

func (c *Controller) labelForLocked(index int) string {
	for _, q := range c.qualities {
		if q.Index == index {
			return q.Label
		}
	}
	return ""
}

func (c *Controller) heightForLocked(index int) int {
	for _, level := range c.levels {
		if level.Index == index {
			return level.Height
		}
	}
	return 0
}
