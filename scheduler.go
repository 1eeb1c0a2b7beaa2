package chanscan

import (
	"fmt"
	"log"
	"sort"
	"sync"
)

// SchedulerConfig bundles the tunables of §4.5 that are not already part
// of the registry or the estimator.
type SchedulerConfig struct {
	ThresholdDB  float64
	HangTime     float64 // seconds
	MaxRecording float64 // seconds, 0 disables
}

// Scheduler is the C5 component: the scan-cycle driver. It combines
// C1-C4, maintains per-slot hang-time, and issues tuning commands. It is
// not safe for concurrent use from more than one goroutine — per §5, all
// public mutation happens from the single scan-loop executor.
type Scheduler struct {
	Registry  *FrequencyRegistry
	Receiver  Receiver
	Estimator *ChannelEstimator
	Provider  *CenterFrequencyProvider
	Pipeline  *ActivityPipeline
	Clock     Clock
	Metrics   *Metrics // optional

	cfg SchedulerConfig

	mu       sync.RWMutex
	center   int64
	channels []Channel
}

// NewScheduler wires the six collaborators together. Provider's
// NotifyScanner callback should be set to call OnCenterChanged.
func NewScheduler(registry *FrequencyRegistry, receiver Receiver, estimator *ChannelEstimator, provider *CenterFrequencyProvider, pipeline *ActivityPipeline, clock Clock, cfg SchedulerConfig) *Scheduler {
	return &Scheduler{
		Registry:  registry,
		Receiver:  receiver,
		Estimator: estimator,
		Provider:  provider,
		Pipeline:  pipeline,
		Clock:     clock,
		cfg:       cfg,
	}
}

// ScanCycle executes one scan cycle: Estimate, Enrich, Release, Assign,
// Publish, in that order (§4.5, §5). Estimator/receiver errors are
// logged and the cycle aborts without mutating published state further
// than what already happened (RuntimeFault, §7).
func (s *Scheduler) ScanCycle() (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("chanscan: scan cycle panic recovered: %v", r)
		}
	}()

	return s.scanCycleLocked()
}

func (s *Scheduler) scanCycleLocked() error {
	centerHz := s.centerSnapshot()

	spectrum, err := s.Receiver.ProbeSpectrum()
	if err != nil {
		log.Printf("chanscan: probe spectrum failed: %v", err)
		return err
	}

	active := s.Estimator.Estimate(spectrum, s.cfg.ThresholdDB, centerHz)

	slots := s.Receiver.Demodulators()
	slotFreqs := make(map[int64]struct{}, len(slots))
	for _, sl := range slots {
		if sl.CenterFreq() != 0 {
			slotFreqs[sl.CenterFreq()] = struct{}{}
		}
	}

	channels := s.enrich(active, slotFreqs, centerHz)

	s.release(slots, channels, centerHz)

	s.assign(slots, channels, centerHz)

	s.publish(channels)

	if s.Metrics != nil {
		s.Metrics.ObserveScanCycle(channels, slots)
	}

	return nil
}

func (s *Scheduler) centerSnapshot() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.center
}

// enrich builds a Channel for every distinct bb in active ∪ slotFreqs,
// placing priority channels at the front of the list (§4.5 step 2).
func (s *Scheduler) enrich(active map[int64]struct{}, slotFreqs map[int64]struct{}, centerHz int64) []Channel {
	seen := make(map[int64]struct{}, len(active)+len(slotFreqs))
	var order []int64
	for bb := range active {
		if _, ok := seen[bb]; !ok {
			seen[bb] = struct{}{}
			order = append(order, bb)
		}
	}
	for bb := range slotFreqs {
		if _, ok := seen[bb]; !ok {
			seen[bb] = struct{}{}
			order = append(order, bb)
		}
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	priority := make([]Channel, 0, len(order))
	rest := make([]Channel, 0, len(order))
	for _, bb := range order {
		_, inActive := active[bb]
		_, inSlots := slotFreqs[bb]
		rf := basebandToFrequency(bb, centerHz)
		c := Channel{
			BB:       bb,
			RF:       rf,
			Active:   inActive && inSlots,
			Hanging:  inSlots && !inActive,
			Locked:   s.Registry.LockedOut(bb),
			Priority: s.Registry.PriorityAt(bb),
			Label:    s.Registry.LabelFor(rf),
		}
		if c.Priority != nil {
			priority = append(priority, c)
		} else {
			rest = append(rest, c)
		}
	}
	return append(priority, rest...)
}

// release implements §4.5 step 3, per-slot, in slot order.
func (s *Scheduler) release(slots []DemodSlot, channels []Channel, centerHz int64) {
	now := s.Clock.Monotonic()
	byBB := make(map[int64]Channel, len(channels))
	for _, c := range channels {
		byBB[c.BB] = c
	}

	for _, slot := range slots {
		bb := slot.CenterFreq()
		if bb == 0 {
			continue
		}

		if s.Registry.LockedOut(bb) {
			if err := slot.SetCenterFreq(0, centerHz); err != nil {
				log.Printf("chanscan: release (lockout) failed: %v", err)
			}
			continue
		}

		c := byBB[bb]
		if c.Hanging && now-slot.LastHeard() > s.cfg.HangTime {
			if err := slot.SetCenterFreq(0, centerHz); err != nil {
				log.Printf("chanscan: release (hang-time) failed: %v", err)
			}
		} else if c.Active {
			slot.SetLastHeard(now)
		}

		// Independent of the above: a slot that has been tuned too long
		// is force-released regardless of its hang/active state, so the
		// next cycle re-tunes it with a clean file boundary.
		if s.cfg.MaxRecording > 0 && now-slot.TimeStamp() >= s.cfg.MaxRecording {
			if err := slot.SetCenterFreq(0, centerHz); err != nil {
				log.Printf("chanscan: release (max-recording) failed: %v", err)
			}
		}
	}
}

// assign implements §4.5 step 4. Eligibility is NOT hanging and NOT
// locked, deliberately not c.Active: a channel freshly seen for the
// first time has Active=false (it isn't in any slot yet), and that is
// exactly the common case this step needs to capture.
func (s *Scheduler) assign(slots []DemodSlot, channels []Channel, centerHz int64) {
	slotFreqs := make(map[int64]struct{}, len(slots))
	for _, sl := range slots {
		if sl.CenterFreq() != 0 {
			slotFreqs[sl.CenterFreq()] = struct{}{}
		}
	}

	for _, c := range channels {
		if c.Hanging || c.Locked {
			continue
		}
		if _, occupied := slotFreqs[c.BB]; occupied {
			continue
		}

		for _, slot := range slots {
			if s.Registry.IsHigherPriority(c.BB, slot.CenterFreq()) {
				if err := slot.SetCenterFreq(c.BB, centerHz); err != nil {
					log.Printf("chanscan: assign failed: %v", err)
				} else {
					slotFreqs[c.BB] = struct{}{}
				}
				break
			}
		}
	}
}

func (s *Scheduler) publish(channels []Channel) {
	s.mu.Lock()
	s.channels = channels
	s.mu.Unlock()
}

// Channels returns a snapshot of the most recently published channel
// list.
func (s *Scheduler) Channels() []Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Channel, len(s.channels))
	copy(out, s.channels)
	return out
}

// OnCenterChanged is the callback the CenterFrequencyProvider invokes
// when it advances to a new step. It retunes the receiver, reads back
// the (possibly rounded) actual center, re-bases the registry, and
// refreshes the provider snapshot. In-flight demodulator slots are not
// retuned; they are re-examined next cycle (§4.5 "Center frequency
// change").
func (s *Scheduler) OnCenterChanged(requestedHz int64) {
	actual, err := s.Receiver.SetCenterFreq(requestedHz)
	if err != nil {
		log.Printf("chanscan: failed to retune to %d Hz: %v", requestedHz, err)
		return
	}

	s.mu.Lock()
	s.center = actual
	s.mu.Unlock()

	s.Registry.SetCenter(actual)
	if s.Metrics != nil {
		s.Metrics.ObserveCenterFrequency(actual)
	}
}

// Init performs the initial tune using the provider's first step and
// primes the registry's baseband fields.
func (s *Scheduler) Init() error {
	requested := s.Provider.Center()
	actual, err := s.Receiver.SetCenterFreq(requested)
	if err != nil {
		return &HardwareError{Op: "initial tune", Err: err}
	}
	s.mu.Lock()
	s.center = actual
	s.mu.Unlock()
	s.Registry.SetCenter(actual)
	if s.Metrics != nil {
		s.Metrics.ObserveCenterFrequency(actual)
	}
	return nil
}

// AddLockout resolves idx against the UI's active-or-hanging subset
// (exactly as ham2mon's Scanner.add_lockout indexes scanner.channels,
// not raw slot indices) and marks that channel's frequency locked.
func (s *Scheduler) AddLockout(idx int) error {
	subset := UIChannelPane(s.Channels())
	if idx < 0 || idx >= len(subset) {
		return fmt.Errorf("lockout index %d out of range (have %d visible channels)", idx, len(subset))
	}
	c := subset[idx]
	rf := c.RF

	want := FrequencyEntry{Single: &rf, Locked: true}
	if existing, ok := s.Registry.Find(FrequencyEntry{Single: &rf}); ok {
		want.Label = existing.Label
		want.Priority = existing.Priority
	}
	return s.Registry.Change(want, ChangeOptions{ModeAdd: true})
}
