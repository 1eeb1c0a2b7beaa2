package chanscan

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock gives tests direct control over Monotonic() without sleeping.
type fakeClock struct{ t float64 }

func (c *fakeClock) Now() time.Time      { return time.Time{} }
func (c *fakeClock) Monotonic() float64 { return c.t }

func newFakeClock() *fakeClock { return &fakeClock{} }

// fakeSlot is a DemodSlot test double.
type fakeSlot struct {
	bb        int64
	lastHeard float64
	timeStamp float64
}

func (s *fakeSlot) CenterFreq() int64        { return s.bb }
func (s *fakeSlot) LastHeard() float64       { return s.lastHeard }
func (s *fakeSlot) SetLastHeard(now float64) { s.lastHeard = now }
func (s *fakeSlot) TimeStamp() float64       { return s.timeStamp }
func (s *fakeSlot) SetCenterFreq(bb int64, rfCenter int64) error {
	s.bb = bb
	s.timeStamp = 0
	return nil
}

// fakeReceiver is a Receiver test double over a fixed spectrum and slot set.
type fakeReceiver struct {
	center   int64
	spectrum []float32
	slots    []DemodSlot
}

func (r *fakeReceiver) SetCenterFreq(hz int64) (int64, error) { r.center = hz; return hz, nil }
func (r *fakeReceiver) SampleRate() int64                     { return 4_000_000 }
func (r *fakeReceiver) ProbeSpectrum() ([]float32, error)     { return r.spectrum, nil }
func (r *fakeReceiver) Demodulators() []DemodSlot             { return r.slots }
func (r *fakeReceiver) SetSquelch(float64)                    {}
func (r *fakeReceiver) SetVolume(float64)                     {}
func (r *fakeReceiver) SetGains(g []GainSetting) []GainSetting { return g }
func (r *fakeReceiver) Start() error                          { return nil }
func (r *fakeReceiver) Stop() error                           { return nil }

func newScheduler(t *testing.T, spectrum []float32, slots []*fakeSlot) (*Scheduler, *fakeReceiver, *fakeClock) {
	t.Helper()
	demods := make([]DemodSlot, len(slots))
	for i, s := range slots {
		demods[i] = s
	}
	receiver := &fakeReceiver{center: 146_000_000, spectrum: spectrum, slots: demods}
	registry := NewFrequencyRegistry(5000)
	registry.SetCenter(146_000_000)
	estimator := &ChannelEstimator{SampleRate: 4_000_000, ChannelSpacing: 5000}
	provider := NewCenterFrequencyProvider(CenterFrequencyProviderConfig{
		Singles:    []FrequencySingle{{Freq: 146_000_000}},
		SampleRate: 4_000_000,
	})
	pipeline := NewActivityPipeline(registry, NoOpLogger{}, provider, 5000, false, false, 0)
	clock := newFakeClock()

	s := NewScheduler(registry, receiver, estimator, provider, pipeline, clock, SchedulerConfig{
		ThresholdDB: 10,
		HangTime:    1.0,
	})
	require.NoError(t, s.Init())
	return s, receiver, clock
}

func peakSpectrum(l int, peakBin int, peakVal float32) []float32 {
	out := flatSpectrum(l, 0.001)
	out[peakBin] = peakVal
	return out
}

func TestScheduler_QuietSpectrumLeavesEverythingIdle(t *testing.T) {
	spectrum := flatSpectrum(256, 0)
	s, _, _ := newScheduler(t, spectrum, []*fakeSlot{{}, {}})

	require.NoError(t, s.ScanCycle())

	assert.Empty(t, s.Channels())
}

func TestScheduler_CapturesAndTunesASingleChannel(t *testing.T) {
	spectrum := peakSpectrum(256, 150, 100)
	slot := &fakeSlot{}
	s, _, _ := newScheduler(t, spectrum, []*fakeSlot{slot})

	// The first cycle publishes the enrich snapshot taken before assign
	// runs, so the freshly-tuned channel is not yet flagged active; the
	// slot itself is tuned immediately.
	require.NoError(t, s.ScanCycle())
	require.NotZero(t, slot.CenterFreq(), "the lone idle slot must capture the only active channel")
	channels := s.Channels()
	require.Len(t, channels, 1)
	assert.False(t, channels[0].Active, "a channel is published pre-assign, so its first cycle shows active=false")

	// Once the slot shows up in slotFreqs on the next cycle's enrich, the
	// published flag catches up.
	require.NoError(t, s.ScanCycle())
	channels = s.Channels()
	require.Len(t, channels, 1)
	assert.True(t, channels[0].Active)
}

func TestScheduler_Idempotent(t *testing.T) {
	spectrum := peakSpectrum(256, 150, 100)
	s, _, _ := newScheduler(t, spectrum, []*fakeSlot{{}})

	// The first cycle captures the channel; its published Active flag
	// only catches up on the next one. Once the slot is in steady state
	// (tuned, spectrum unchanged), further cycles must be idempotent.
	require.NoError(t, s.ScanCycle())
	require.NoError(t, s.ScanCycle())
	first := s.Channels()

	require.NoError(t, s.ScanCycle())
	second := s.Channels()

	assert.Equal(t, first, second, "an unchanged spectrum and slot state must produce an unchanged published list")
}

func TestScheduler_LockoutReleasesOccupiedSlot(t *testing.T) {
	spectrum := peakSpectrum(256, 150, 100)
	slot := &fakeSlot{}
	s, _, _ := newScheduler(t, spectrum, []*fakeSlot{slot})

	require.NoError(t, s.ScanCycle())
	require.NotZero(t, slot.CenterFreq(), "slot should have captured the channel")

	bb := slot.CenterFreq()
	rf := basebandToFrequency(bb, 146_000_000)
	require.NoError(t, s.Registry.Add(FrequencyEntry{Single: &rf, Locked: true}))
	s.Registry.SetCenter(146_000_000)

	require.NoError(t, s.ScanCycle())
	assert.Zero(t, slot.CenterFreq(), "a newly locked-out slot must be released on the next cycle")

	channels := s.Channels()
	require.Len(t, channels, 1)
	assert.True(t, channels[0].Locked)
	assert.True(t, channels[0].Active, "enrich computes flags before release fires, so the cycle that releases it still shows active=true")
}

func TestScheduler_AddLockoutPreservesLabelAndPriority(t *testing.T) {
	spectrum := peakSpectrum(256, 150, 100)
	slot := &fakeSlot{}
	s, _, _ := newScheduler(t, spectrum, []*fakeSlot{slot})

	require.NoError(t, s.ScanCycle())
	require.NotZero(t, slot.CenterFreq())

	bb := slot.CenterFreq()
	rf := basebandToFrequency(bb, 146_000_000)
	require.NoError(t, s.Registry.Add(FrequencyEntry{Single: &rf, Label: "repeater", Priority: ptr(3)}))
	s.Registry.SetCenter(146_000_000)

	// The first cycle published its pre-assign snapshot (active=false), so
	// the channel only enters the active-or-hanging pane after a second one.
	require.NoError(t, s.ScanCycle())

	idx := -1
	for i, c := range UIChannelPane(s.Channels()) {
		if c.BB == bb {
			idx = i
		}
	}
	require.GreaterOrEqual(t, idx, 0, "the captured channel must be visible for AddLockout to index")

	require.NoError(t, s.AddLockout(idx))

	entry, ok := s.Registry.Find(FrequencyEntry{Single: &rf})
	require.True(t, ok)
	assert.True(t, entry.Locked)
	assert.Equal(t, "repeater", entry.Label, "locking out a channel must not wipe its existing label")
	require.NotNil(t, entry.Priority, "locking out a channel must not wipe its existing priority")
	assert.Equal(t, 3, *entry.Priority)
}

func TestScheduler_HangTimeKeepsThenReleasesSlot(t *testing.T) {
	spectrum := peakSpectrum(256, 150, 100)
	slot := &fakeSlot{}
	s, _, clock := newScheduler(t, spectrum, []*fakeSlot{slot})

	require.NoError(t, s.ScanCycle())
	require.NotZero(t, slot.CenterFreq())

	flat := flatSpectrum(256, 0)
	s.Receiver.(*fakeReceiver).spectrum = flat

	clock.t = 0.9
	require.NoError(t, s.ScanCycle())
	assert.NotZero(t, slot.CenterFreq(), "slot must still be held before hang_time elapses")

	clock.t = 1.1
	require.NoError(t, s.ScanCycle())
	assert.Zero(t, slot.CenterFreq(), "slot must release once hang_time has elapsed with no reappearance")
}

func TestScheduler_NeverReleasesWhileChannelReappears(t *testing.T) {
	spectrum := peakSpectrum(256, 150, 100)
	slot := &fakeSlot{}
	s, _, clock := newScheduler(t, spectrum, []*fakeSlot{slot})

	require.NoError(t, s.ScanCycle())
	require.NotZero(t, slot.CenterFreq())

	for i := 0; i < 5; i++ {
		clock.t += 10 // far exceeds hang_time, but spectrum keeps showing the channel
		require.NoError(t, s.ScanCycle())
		assert.NotZero(t, slot.CenterFreq(), "a slot whose channel keeps reappearing must never be released")
	}
}

func TestScheduler_PriorityPreemptsOccupiedSlot(t *testing.T) {
	const L = 256
	centerHz := int64(146_000_000)
	estimator := &ChannelEstimator{SampleRate: 4_000_000, ChannelSpacing: 5000}

	lowBin, highBin := 140, 170
	lowRaw := binToBaseband(lowBin, L, estimator.SampleRate)
	highRaw := binToBaseband(highBin, L, estimator.SampleRate)
	lowBB := quantize(lowRaw, centerHz, 5000)
	highBB := quantize(highRaw, centerHz, 5000)

	spectrum := flatSpectrum(L, 0.001)
	spectrum[lowBin] = 100
	spectrum[highBin] = 100

	slot := &fakeSlot{}
	receiver := &fakeReceiver{center: centerHz, spectrum: spectrum, slots: []DemodSlot{slot}}
	registry := NewFrequencyRegistry(5000)
	registry.SetCenter(centerHz)

	provider := NewCenterFrequencyProvider(CenterFrequencyProviderConfig{Singles: []FrequencySingle{{Freq: centerHz}}, SampleRate: 4_000_000})
	pipeline := NewActivityPipeline(registry, NoOpLogger{}, provider, 5000, false, false, 0)
	s := NewScheduler(registry, receiver, estimator, provider, pipeline, newFakeClock(), SchedulerConfig{ThresholdDB: 10, HangTime: 1.0})
	require.NoError(t, s.Init())

	// With no priority assigned yet, the only slot captures whichever
	// channel sorts first (ascending by bb).
	require.NoError(t, s.ScanCycle())
	require.Equal(t, lowBB, slot.CenterFreq())

	// Assigning priority to the other, still-active channel must preempt
	// the occupied slot on the next cycle.
	highRF := basebandToFrequency(highBB, centerHz)
	require.NoError(t, registry.Add(FrequencyEntry{Single: &highRF, Priority: ptr(1)}))
	registry.SetCenter(centerHz)

	require.NoError(t, s.ScanCycle())
	assert.Equal(t, highBB, slot.CenterFreq(), "the priority channel must preempt the occupied slot")
}

func quantize(raw, centerHz, spacing int64) int64 {
	rounded := int64(math.Round(float64(raw+centerHz)/float64(spacing)) * float64(spacing))
	return rounded - centerHz
}
