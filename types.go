// Package chanscan implements the scheduling and channel-lifecycle engine
// of a multi-channel radio scanner: it turns a raw FFT power spectrum into
// a set of active baseband channels, reconciles that set against a fixed
// pool of demodulators under lockout/priority/hang-time policy, rotates
// the hardware center frequency through a configured range, and emits
// channel-state events to a pluggable logger.
//
// The SDR driver, DSP graph, audio classifier, and terminal UI are
// external collaborators: the core reaches them only through the
// Receiver and ChannelLogger interfaces, and consumes the classifier's
// verdict as the Classification field on an incoming ChannelMessage.
package chanscan

import "time"

// ChannelState is the lifecycle state carried by a ChannelMessage.
type ChannelState string

const (
	StateOn  ChannelState = "on"
	StateOff ChannelState = "off"
	StateAct ChannelState = "act"
)

// Classification is the audio classifier's verdict on a recording.
type Classification string

const (
	ClassVoice Classification = "V"
	ClassData  Classification = "D"
	ClassSkip  Classification = "S"
)

// ChannelMessage is the event emitted by a demodulator slot and enriched
// by the ActivityPipeline before being handed to a ChannelLogger.
type ChannelMessage struct {
	State          ChannelState
	RF             float64 // MHz
	BB             int64   // Hz, signed baseband offset
	Channel        int     // demodulator slot index, 1-based
	File           string
	Classification Classification
	Detail         string
	Label          string
	Priority       *int
}

// Channel is the Scheduler's per-cycle, per-baseband-offset runtime view
// built during the Enrich phase and handed out by Publish.
type Channel struct {
	BB       int64 // Hz, quantized to channel spacing
	RF       float64
	Locked   bool
	Active   bool
	Hanging  bool
	Priority *int
	Label    string
}

// DemodSlot is one entry of the fixed demodulator pool (C4). The core
// never constructs concrete slots; it is handed a []DemodSlot by a
// Receiver implementation and only reads/writes through this contract.
//
// Invariant: CenterFreq() == 0 iff the slot is idle.
type DemodSlot interface {
	// CenterFreq returns the slot's current baseband tuning in Hz, or 0
	// if idle.
	CenterFreq() int64
	// LastHeard returns the monotonic second-count of the last time this
	// slot's channel was confirmed active.
	LastHeard() float64
	// SetLastHeard records the monotonic time (seconds) of the last
	// confirmed-active observation.
	SetLastHeard(now float64)
	// TimeStamp returns the monotonic second-count (the same Clock as
	// LastHeard) at which the slot was last retuned (used against
	// MaxRecording).
	TimeStamp() float64
	// SetCenterFreq retunes the slot to bb (baseband Hz, 0 to idle),
	// using rfCenter (Hz) to compute the absolute RF for file naming and
	// logging. Implementations must: (a) if previously tuned and not
	// recording, emit an "off" ChannelMessage for the previous bb; (b) if
	// recording, finalize the recording and emit an enriched "off"
	// message; (c) retune and update TimeStamp; (d) if bb != 0, emit an
	// "on" message. Errors from the underlying hardware are returned;
	// log delivery errors are not (they are the logger's concern).
	SetCenterFreq(bb int64, rfCenter int64) error
}

// ChannelLogger is the sink for enriched ChannelMessage events (§6).
// Implementations must not let delivery failures propagate to callers;
// log and drop instead.
type ChannelLogger interface {
	Log(msg ChannelMessage)
}

// GainSetting is one named gain stage's current value in dB.
type GainSetting struct {
	Name  string
	Value float64
}

// Receiver is the SDR front-end capability the core drives. A driver
// talking to real hardware lives outside this package; the reference
// SimulatedReceiver in this package backs chanscand's --sim mode.
type Receiver interface {
	// SetCenterFreq tunes hardware to hz and returns the (possibly
	// rounded) actual center frequency.
	SetCenterFreq(hz int64) (int64, error)
	// SampleRate returns the hardware's instantaneous bandwidth in Hz.
	SampleRate() int64
	// ProbeSpectrum returns one linear-power FFT vector.
	ProbeSpectrum() ([]float32, error)
	// Demodulators returns the fixed demodulator pool.
	Demodulators() []DemodSlot
	SetSquelch(db float64)
	SetVolume(db float64)
	SetGains(gains []GainSetting) []GainSetting
	Start() error
	Stop() error
}

// Clock abstracts wall/monotonic time so tests can control both without
// sleeping. Production code uses realClock.
type Clock interface {
	Now() time.Time
	Monotonic() float64 // seconds, arbitrary epoch, strictly increasing
}

type realClock struct{ start time.Time }

// NewRealClock returns a Clock backed by the OS clock.
func NewRealClock() Clock {
	return &realClock{start: time.Now()}
}

func (c *realClock) Now() time.Time { return time.Now() }

func (c *realClock) Monotonic() float64 {
	return time.Since(c.start).Seconds()
}
