package chanscan

import (
	"math"
	"math/rand"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

// SimulatedReceiver is a reference Receiver implementation used by the
// chanscand --sim command line mode. It synthesizes a power spectrum from a
// handful of fixed carriers plus noise, computed through an actual FFT
// rather than faked bin values, so ChannelEstimator exercises the same
// code path it would against real hardware.
type SimulatedReceiver struct {
	mu         sync.Mutex
	center     int64
	sampleRate int64
	fftSize    int
	fft        *fourier.CmplxFFT
	carriers   []int64 // baseband offsets, Hz, relative to center at construction
	rng        *rand.Rand

	squelchDB float64
	volumeDB  float64
	gains     []GainSetting

	slots []*simDemodSlot
}

// NewSimulatedReceiver builds a receiver tuned to centerHz with the given
// sample rate, a demodulator pool of size numDemod, and carriers (Hz
// offsets from centerHz) that will show up as activity in ProbeSpectrum.
func NewSimulatedReceiver(centerHz, sampleRate int64, numDemod int, carriers []int64, pipeline *ActivityPipeline, clock Clock) *SimulatedReceiver {
	fftSize := 4096
	r := &SimulatedReceiver{
		center:     centerHz,
		sampleRate: sampleRate,
		fftSize:    fftSize,
		fft:        fourier.NewCmplxFFT(fftSize),
		carriers:   append([]int64(nil), carriers...),
		rng:        rand.New(rand.NewSource(1)),
		gains:      []GainSetting{{Name: "lna", Value: 20}, {Name: "mix", Value: 10}, {Name: "if", Value: 0}},
	}
	r.slots = make([]*simDemodSlot, numDemod)
	for i := range r.slots {
		r.slots[i] = &simDemodSlot{
			channel:  i + 1,
			pipeline: pipeline,
			clock:    clock,
		}
	}
	return r
}

func (r *SimulatedReceiver) SetCenterFreq(hz int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.center = hz
	return hz, nil
}

func (r *SimulatedReceiver) SampleRate() int64 { return r.sampleRate }

// ProbeSpectrum synthesizes complex time-domain samples for the configured
// carriers plus white noise, runs a complex FFT, and returns linear power
// per bin (|X[k]|^2), matching the convention ChannelEstimator's
// threshold comparison expects (index 0 = most negative frequency, as
// with an fftshift).
func (r *SimulatedReceiver) ProbeSpectrum() ([]float32, error) {
	r.mu.Lock()
	carriers := append([]int64(nil), r.carriers...)
	sampleRate := r.sampleRate
	fftSize := r.fftSize
	r.mu.Unlock()

	samples := make([]complex128, fftSize)
	for _, bb := range carriers {
		freqHz := float64(bb)
		for i := range samples {
			t := float64(i) / float64(sampleRate)
			phase := 2 * math.Pi * freqHz * t
			samples[i] += complex(math.Cos(phase), math.Sin(phase))
		}
	}
	for i := range samples {
		samples[i] += complex(0.01*(r.rng.Float64()*2-1), 0)
	}

	coeffs := r.fft.Coefficients(nil, samples)
	n := len(coeffs)
	power := make([]float32, n)
	for i, c := range coeffs {
		mag := math.Hypot(real(c), imag(c)) / float64(fftSize)
		power[i] = float32(mag * mag)
	}

	// fftshift so bin n/2 is DC, matching the ChannelEstimator's
	// bin-to-baseband convention.
	shifted := make([]float32, n)
	half := n / 2
	copy(shifted[:n-half], power[half:])
	copy(shifted[n-half:], power[:half])
	return shifted, nil
}

func (r *SimulatedReceiver) Demodulators() []DemodSlot {
	out := make([]DemodSlot, len(r.slots))
	for i, s := range r.slots {
		out[i] = s
	}
	return out
}

func (r *SimulatedReceiver) SetSquelch(db float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.squelchDB = db
}

func (r *SimulatedReceiver) SetVolume(db float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.volumeDB = db
}

func (r *SimulatedReceiver) SetGains(gains []GainSetting) []GainSetting {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, g := range gains {
		for i := range r.gains {
			if r.gains[i].Name == g.Name {
				r.gains[i].Value = g.Value
			}
		}
	}
	out := append([]GainSetting(nil), r.gains...)
	return out
}

func (r *SimulatedReceiver) Start() error { return nil }
func (r *SimulatedReceiver) Stop() error  { return nil }

// simDemodSlot implements DemodSlot, porting BaseTuner.set_center_freq's
// event-emission contract (original_source/apps/demodulators/BaseTuner.py):
// retuning away from a nonzero baseband emits an "off" event for the
// previous channel before retuning; retuning to a nonzero baseband emits
// an "on" event afterward.
type simDemodSlot struct {
	mu        sync.Mutex
	channel   int
	bb        int64
	lastHeard float64
	timeStamp float64
	pipeline  *ActivityPipeline
	clock     Clock
}

func (s *simDemodSlot) CenterFreq() int64 { s.mu.Lock(); defer s.mu.Unlock(); return s.bb }

func (s *simDemodSlot) LastHeard() float64 { s.mu.Lock(); defer s.mu.Unlock(); return s.lastHeard }

func (s *simDemodSlot) SetLastHeard(now float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastHeard = now
}

func (s *simDemodSlot) TimeStamp() float64 { s.mu.Lock(); defer s.mu.Unlock(); return s.timeStamp }

func (s *simDemodSlot) SetCenterFreq(bb int64, rfCenter int64) error {
	s.mu.Lock()
	prev := s.bb
	if prev != 0 {
		rf := basebandToFrequency(prev, rfCenter)
		s.emitLocked(ChannelMessage{State: StateOff, RF: rf, BB: prev, Channel: s.channel})
	}

	s.bb = bb
	if bb != 0 {
		s.timeStamp = s.clock.Monotonic()
	}
	s.mu.Unlock()

	if bb != 0 {
		rf := basebandToFrequency(bb, rfCenter)
		s.emitLocked(ChannelMessage{State: StateOn, RF: rf, BB: bb, Channel: s.channel})
	}
	return nil
}

// emitLocked dispatches msg to the pipeline. It does not need s.mu held
// (the pipeline has its own state), the name only marks that it is
// called from within SetCenterFreq's narrow bookkeeping section, mirroring
// BaseTuner.set_center_freq's single await point.
func (s *simDemodSlot) emitLocked(msg ChannelMessage) {
	if s.pipeline != nil {
		s.pipeline.Handle(msg)
	}
}
