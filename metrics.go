package chanscan

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors the Scheduler updates once per
// scan cycle. Optional: a nil *Metrics on Scheduler disables collection
// entirely.
type Metrics struct {
	channelsActive  prometheus.Gauge
	channelsHanging prometheus.Gauge
	channelsLocked  prometheus.Gauge
	channelsTotal   prometheus.Gauge

	demodulatorsTotal prometheus.Gauge
	demodulatorsBusy  prometheus.Gauge

	centerFrequencyHz prometheus.Gauge

	scanCyclesTotal prometheus.Counter
}

// NewMetrics registers the channel-scheduler collectors against the
// default Prometheus registry.
func NewMetrics() *Metrics {
	return &Metrics{
		channelsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "chanscan_channels_active",
			Help: "Number of channels currently tuned and receiving activity.",
		}),
		channelsHanging: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "chanscan_channels_hanging",
			Help: "Number of channels tuned but holding through hang time with no current activity.",
		}),
		channelsLocked: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "chanscan_channels_locked_out",
			Help: "Number of published channels currently locked out.",
		}),
		channelsTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "chanscan_channels_total",
			Help: "Number of distinct baseband channels published in the last scan cycle.",
		}),
		demodulatorsTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "chanscan_demodulators_total",
			Help: "Size of the fixed demodulator pool.",
		}),
		demodulatorsBusy: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "chanscan_demodulators_busy",
			Help: "Number of demodulator slots currently tuned to a channel.",
		}),
		centerFrequencyHz: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "chanscan_center_frequency_hz",
			Help: "Current hardware center frequency in Hz.",
		}),
		scanCyclesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chanscan_scan_cycles_total",
			Help: "Total number of completed scan cycles.",
		}),
	}
}

// ObserveScanCycle updates every collector from one cycle's published
// channel list and demodulator pool.
func (m *Metrics) ObserveScanCycle(channels []Channel, slots []DemodSlot) {
	var active, hanging, locked int
	for _, c := range channels {
		if c.Active {
			active++
		}
		if c.Hanging {
			hanging++
		}
		if c.Locked {
			locked++
		}
	}

	var busy int
	for _, s := range slots {
		if s.CenterFreq() != 0 {
			busy++
		}
	}

	m.channelsActive.Set(float64(active))
	m.channelsHanging.Set(float64(hanging))
	m.channelsLocked.Set(float64(locked))
	m.channelsTotal.Set(float64(len(channels)))
	m.demodulatorsTotal.Set(float64(len(slots)))
	m.demodulatorsBusy.Set(float64(busy))
	m.scanCyclesTotal.Inc()
}

// ObserveCenterFrequency records the current hardware center frequency.
// Called from OnCenterChanged rather than every scan cycle since it only
// changes on a step advance.
func (m *Metrics) ObserveCenterFrequency(hz int64) {
	m.centerFrequencyHz.Set(float64(hz))
}
