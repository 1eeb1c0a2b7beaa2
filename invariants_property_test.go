package chanscan

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// Invariant 1: locked_out(bb) is always false once DisableLockout is set.
func TestInvariant_DisableLockoutForcesUnlocked(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r := NewFrequencyRegistry(5000)
		rf := rapid.Float64Range(0, 2000).Draw(t, "rf")
		require.NoError(t, r.Add(FrequencyEntry{Single: &rf, Locked: true}))
		r.SetCenter(146_000_000)
		r.DisableLockout = true

		bb := rapid.Int64Range(-5_000_000, 5_000_000).Draw(t, "bb")
		assert.False(t, r.LockedOut(bb))
	})
}

// Invariant 2: a bb covered by no entry always resolves to nil priority.
func TestInvariant_UncoveredBBHasNoPriority(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r := NewFrequencyRegistry(5000)
		// A range entry far away from the bb space under test.
		lo, hi := 400.0, 401.0
		require.NoError(t, r.Add(FrequencyEntry{Lo: &lo, Hi: &hi, Priority: ptr(1)}))
		r.SetCenter(146_000_000)

		bb := rapid.Int64Range(-2_000_000, 2_000_000).Draw(t, "bb")

		assert.Nil(t, r.PriorityAt(bb))
	})
}

// Invariant 3: a matching single always dominates a matching range.
func TestInvariant_SingleDominatesRangeForPriority(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r := NewFrequencyRegistry(5000)
		singlePriority := rapid.IntRange(1, 20).Draw(t, "singlePriority")
		rangePriority := rapid.IntRange(1, 20).Draw(t, "rangePriority")

		lo, hi := 144.0, 148.0
		single := 146.0
		require.NoError(t, r.Add(FrequencyEntry{Lo: &lo, Hi: &hi, Priority: &rangePriority}))
		require.NoError(t, r.Add(FrequencyEntry{Single: &single, Priority: &singlePriority}))
		r.SetCenter(146_000_000)

		got := r.PriorityAt(0) // 146.0 MHz, bb=0
		require.NotNil(t, got)
		assert.Equal(t, singlePriority, *got)
	})
}

// Invariant 4: an idle slot (demodBB == 0) is always preemptable.
func TestInvariant_IdleSlotAlwaysPreemptable(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r := NewFrequencyRegistry(5000)
		r.SetCenter(146_000_000)
		if rapid.Bool().Draw(t, "disablePriority") {
			r.DisablePriority = true
		}

		candidate := rapid.Int64Range(-5_000_000, 5_000_000).Draw(t, "candidate")
		assert.True(t, r.IsHigherPriority(candidate, 0))
	})
}

// Invariant 5: after SetCenter(h), bb_single = round((rf*1e6-h)/spacing)*spacing.
func TestInvariant_SetCenterRecomputesBaseband(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		spacing := int64(5000)
		r := NewFrequencyRegistry(spacing)
		rf := rapid.Float64Range(30, 3000).Draw(t, "rf")
		require.NoError(t, r.Add(FrequencyEntry{Single: &rf}))

		centerHz := rapid.Int64Range(30_000_000, 3_000_000_000).Draw(t, "centerHz")
		r.SetCenter(centerHz)

		wantBB := frequencyToBaseband(rf, centerHz, spacing)
		entries := r.Entries()
		require.Len(t, entries, 1)
		assert.Equal(t, wantBB, entries[0].bbSingle)
	})
}

// Invariant 6: a wide single range's produced step centers have outer
// edges at lo+sr/2 and hi-sr/2, the half-sample-rate inset every step
// keeps so a demodulator at the edge step never looks past lo/hi —
// exact at the start (no accumulated division remainder yet), and
// within one sample rate's worth of integer truncation at the end, per
// spec.md's own "(within integer truncation)" qualifier.
func TestInvariant_WideRangeStepsCoverEdges(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		sr := rapid.Int64Range(1000, 100_000).Draw(t, "sampleRate")
		width := rapid.Int64Range(sr*3, sr*20).Draw(t, "width")
		lo := rapid.Int64Range(0, 1_000_000).Draw(t, "lo")
		hi := lo + width

		steps := generateSteps(nil, []FrequencyRange{{Lo: lo, Hi: hi}}, sr)
		require.NotEmpty(t, steps)
		assert.Equal(t, lo+sr/2, steps[0])
		assert.InDelta(t, float64(hi-sr/2), float64(steps[len(steps)-1]), float64(sr))
	})
}

// Invariant 7: scheduler idempotence once the slot table has settled
// (an unchanged spectrum/slot state across cycles must not change the
// published channel list).
func TestInvariant_SchedulerIdempotentOnceSettled(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		peakBin := rapid.IntRange(10, 245).
			Filter(func(v int) bool { return v != 128 }).
			Draw(t, "peakBin")

		spectrum := peakSpectrum(256, peakBin, 100)
		slot := &fakeSlot{}
		receiver := &fakeReceiver{center: 146_000_000, spectrum: spectrum, slots: []DemodSlot{slot}}
		registry := NewFrequencyRegistry(5000)
		registry.SetCenter(146_000_000)
		estimator := &ChannelEstimator{SampleRate: 4_000_000, ChannelSpacing: 5000}
		provider := NewCenterFrequencyProvider(CenterFrequencyProviderConfig{
			Singles: []FrequencySingle{{Freq: 146_000_000}}, SampleRate: 4_000_000,
		})
		pipeline := NewActivityPipeline(registry, NoOpLogger{}, provider, 5000, false, false, 0)
		s := NewScheduler(registry, receiver, estimator, provider, pipeline, newFakeClock(), SchedulerConfig{ThresholdDB: 10, HangTime: 1.0})
		require.NoError(t, s.Init())

		require.NoError(t, s.ScanCycle()) // captures
		require.NoError(t, s.ScanCycle()) // settles: published Active flag catches up
		first := s.Channels()
		firstBB := slot.CenterFreq()

		require.NoError(t, s.ScanCycle())
		assert.Equal(t, first, s.Channels())
		assert.Equal(t, firstBB, slot.CenterFreq())
	})
}

// Invariant 9: a slot is never released while its bb keeps reappearing
// in the estimator, no matter how much monotonic time elapses.
func TestInvariant_NeverReleasedWhileReappearing(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		peakBin := rapid.IntRange(10, 245).
			Filter(func(v int) bool { return v != 128 }).
			Draw(t, "peakBin")
		elapsed := rapid.Float64Range(1.0, 10_000.0).Draw(t, "elapsed")

		spectrum := peakSpectrum(256, peakBin, 100)
		slot := &fakeSlot{}
		s, _, clock := newScheduler(t, spectrum, []*fakeSlot{slot})

		require.NoError(t, s.ScanCycle())
		require.NotZero(t, slot.CenterFreq())

		clock.t += elapsed
		require.NoError(t, s.ScanCycle())
		assert.NotZero(t, slot.CenterFreq())
	})
}

// Invariant 10: two concurrent interesting_activity notifications cause at
// most one armed advance task. Racing callers must not panic on a doubly
// closed cancel channel, and the provider must still settle into exactly
// one live rearm afterward.
func TestInvariant_ConcurrentInterestingActivityArmsAtMostOneTask(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		callers := rapid.IntRange(2, 8).Draw(t, "callers")

		var mu sync.Mutex
		var notifyCount int
		p := NewCenterFrequencyProvider(CenterFrequencyProviderConfig{
			Singles:       []FrequencySingle{{Freq: 100}, {Freq: 200}},
			SampleRate:    1000,
			QuietTimeout:  5 * time.Millisecond,
			ActiveTimeout: time.Hour,
			NotifyScanner: func(int64) {
				mu.Lock()
				notifyCount++
				mu.Unlock()
			},
		})
		defer p.Stop()

		var wg sync.WaitGroup
		wg.Add(callers)
		assert.NotPanics(t, func() {
			for i := 0; i < callers; i++ {
				go func() {
					defer wg.Done()
					p.InterestingActivity()
				}()
			}
			wg.Wait()
		})

		// ActiveTimeout is an hour, so whichever caller's rearm won, no
		// further advance should fire on top of it.
		before := func() int {
			mu.Lock()
			defer mu.Unlock()
			return notifyCount
		}()
		time.Sleep(20 * time.Millisecond)
		after := func() int {
			mu.Lock()
			defer mu.Unlock()
			return notifyCount
		}()
		assert.Equal(t, before, after, "concurrent InterestingActivity calls must settle into a single armed task")
	})
}
