package hwcam

import (
	"time"

	"github.com/e7canasta/vcam/internal/cammeta"
)

// Autofocus simulation: a triggered scan "hunts" for a fixed interval
// and then locks.
const (
	afScanDuration = 200 * time.Millisecond

	afFocusedDistance   = 1.0
	afUnfocusedDistance = 2.0
)

// AFStateMachine simulates autofocus for sources that have none. In
// auto mode a start trigger begins a scan; once the scan interval
// elapses the machine reports focused-locked until cancelled. The
// zero value is a machine in off mode.
//
// Thread-safety: none. Owned by one backend, driven from the capture
// loop.
type AFStateMachine struct {
	mode    int64
	scanEnd time.Time
	locked  bool
}

// SetMode switches between off and auto. Leaving auto mode abandons
// any scan in progress.
func (m *AFStateMachine) SetMode(mode int64) {
	if mode == m.mode {
		return
	}
	m.mode = mode
	m.scanEnd = time.Time{}
	m.locked = false
}

// Trigger applies an autofocus trigger. Ignored outside auto mode.
func (m *AFStateMachine) Trigger(trigger int64, now time.Time) {
	if m.mode != cammeta.AFModeAuto {
		return
	}
	switch trigger {
	case cammeta.AFTriggerStart:
		m.scanEnd = now.Add(afScanDuration)
		m.locked = false
	case cammeta.AFTriggerCancel:
		m.scanEnd = time.Time{}
		m.locked = false
	}
}

// State reports the autofocus state and the lens focus distance as of
// now.
func (m *AFStateMachine) State(now time.Time) (state int64, focusDistance float64) {
	if m.mode != cammeta.AFModeAuto {
		return cammeta.AFStateInactive, afUnfocusedDistance
	}
	switch {
	case m.locked:
		return cammeta.AFStateFocusedLocked, afFocusedDistance
	case m.scanEnd.IsZero():
		return cammeta.AFStateInactive, afUnfocusedDistance
	case now.Before(m.scanEnd):
		return cammeta.AFStateActiveScan, afUnfocusedDistance
	default:
		m.locked = true
		m.scanEnd = time.Time{}
		return cammeta.AFStateFocusedLocked, afFocusedDistance
	}
}
