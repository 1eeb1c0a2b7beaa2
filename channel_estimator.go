package chanscan

import "math"

// ChannelEstimator is the C3 component: it turns one FFT magnitude
// vector into a set of baseband channel offsets, quantized to channel
// spacing and relative to the current hardware center frequency.
type ChannelEstimator struct {
	SampleRate     int64
	ChannelSpacing int64
}

// Estimate implements spec.md §4.3: detect contiguous runs of bins above
// the linear threshold derived from thresholdDB, emit the bin index of
// each run's maximum, map to baseband Hz, quantize in RF-relative space
// against centerHz, and drop the bb==0 sentinel.
func (e *ChannelEstimator) Estimate(spectrum []float32, thresholdDB float64, centerHz int64) map[int64]struct{} {
	result := make(map[int64]struct{})
	if len(spectrum) == 0 {
		return result
	}

	threshold := math.Pow(10, thresholdDB/10)
	L := len(spectrum)

	runStart := -1
	var peakIdx int
	var peakVal float32

	flush := func(end int) {
		if runStart < 0 {
			return
		}
		bb := binToBaseband(peakIdx, L, e.SampleRate)
		real := math.Round((float64(bb)+float64(centerHz))/float64(e.ChannelSpacing)) * float64(e.ChannelSpacing)
		bb = int64(real) - centerHz
		if bb != 0 {
			result[bb] = struct{}{}
		}
		runStart = -1
	}

	for i := 0; i < L; i++ {
		if float64(spectrum[i]) > threshold {
			if runStart < 0 {
				runStart = i
				peakIdx = i
				peakVal = spectrum[i]
			} else if spectrum[i] > peakVal {
				peakIdx = i
				peakVal = spectrum[i]
			}
		} else {
			flush(i)
		}
	}
	flush(L)

	return result
}

func binToBaseband(bin, L int, sampleRate int64) int64 {
	return int64((float64(bin) - float64(L)/2) * float64(sampleRate) / float64(L))
}
